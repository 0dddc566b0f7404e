package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/optionsd/internal/domain"
	"github.com/alanyoungcy/optionsd/internal/market"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAssets() *AssetService {
	dir := market.NewDirectory([]domain.Asset{
		{Symbol: "sUSD", DisplayName: "Synthetic USD", Sign: "$"},
		{Symbol: "sETH", DisplayName: "Synthetic Ether"},
		{Symbol: "sBTC", DisplayName: "Synthetic Bitcoin"},
		{Symbol: "iETH", DisplayName: "Inverse Ether", Inverted: true},
	})
	return NewAssetService(dir, discardLogger())
}

// --- stores ---

type fakeCreationStore struct {
	mu        sync.Mutex
	reqs      map[string]domain.CreationRequest
	createErr error
	confirmed chan string
}

func newFakeCreationStore() *fakeCreationStore {
	return &fakeCreationStore{reqs: make(map[string]domain.CreationRequest), confirmed: make(chan string, 4)}
}

func (f *fakeCreationStore) Create(ctx context.Context, r domain.CreationRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.reqs[r.ID] = r
	return nil
}

func (f *fakeCreationStore) UpdateStatus(ctx context.Context, id string, status domain.CreationStatus, txHash, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reqs[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.Status, r.TxHash, r.Error = status, txHash, errMsg
	f.reqs[id] = r
	return nil
}

func (f *fakeCreationStore) Confirm(ctx context.Context, id, txHash, marketAddress string) error {
	f.mu.Lock()
	r, ok := f.reqs[id]
	if ok {
		r.Status, r.TxHash, r.MarketAddress = domain.CreationStatusConfirmed, txHash, marketAddress
		f.reqs[id] = r
	}
	f.mu.Unlock()
	if !ok {
		return domain.ErrNotFound
	}
	f.confirmed <- id
	return nil
}

func (f *fakeCreationStore) GetByID(ctx context.Context, id string) (domain.CreationRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reqs[id]
	if !ok {
		return domain.CreationRequest{}, domain.ErrNotFound
	}
	return r, nil
}

func (f *fakeCreationStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.CreationRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.CreationRequest, 0, len(f.reqs))
	for _, r := range f.reqs {
		out = append(out, r)
	}
	return out, nil
}

type fakeMarketStore struct {
	mu      sync.Mutex
	markets map[string]domain.OptionsMarket
	upserts int
}

func newFakeMarketStore() *fakeMarketStore {
	return &fakeMarketStore{markets: make(map[string]domain.OptionsMarket)}
}

func (f *fakeMarketStore) Upsert(ctx context.Context, m domain.OptionsMarket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets[m.Address] = m
	f.upserts++
	return nil
}

func (f *fakeMarketStore) GetByAddress(ctx context.Context, address string) (domain.OptionsMarket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.markets[address]
	if !ok {
		return domain.OptionsMarket{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeMarketStore) ListByPhase(ctx context.Context, phase domain.Phase, opts domain.ListOpts) ([]domain.OptionsMarket, error) {
	return nil, nil
}

type fakeAudit struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAudit) Log(ctx context.Context, event string, detail map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (f *fakeAudit) has(event string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == event {
			return true
		}
	}
	return false
}

type fakeExerciseStore struct {
	mu       sync.Mutex
	attempts map[string]domain.ExerciseAttempt
}

func newFakeExerciseStore() *fakeExerciseStore {
	return &fakeExerciseStore{attempts: make(map[string]domain.ExerciseAttempt)}
}

func (f *fakeExerciseStore) Create(ctx context.Context, a domain.ExerciseAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[a.ID] = a
	return nil
}

func (f *fakeExerciseStore) Finish(ctx context.Context, id string, status domain.ExerciseStatus, txHash, errMsg string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Status, a.TxHash, a.Error, a.FinishedAt = status, txHash, errMsg, &at
	f.attempts[id] = a
	return nil
}

func (f *fakeExerciseStore) ListByAccount(ctx context.Context, account string, opts domain.ListOpts) ([]domain.ExerciseAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ExerciseAttempt
	for _, a := range f.attempts {
		if a.Account == account {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeExerciseStore) ListByMarket(ctx context.Context, market string, opts domain.ListOpts) ([]domain.ExerciseAttempt, error) {
	return nil, nil
}

func (f *fakeExerciseStore) only() (domain.ExerciseAttempt, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attempts {
		return a, len(f.attempts)
	}
	return domain.ExerciseAttempt{}, 0
}

// --- cache, locks, bus ---

type fakeSnapshots struct {
	mu          sync.Mutex
	data        map[string]domain.AccountMarketInfo
	invalidated int
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{data: make(map[string]domain.AccountMarketInfo)}
}

func (f *fakeSnapshots) key(market, account string) string {
	return strings.ToLower(market + ":" + account)
}

func (f *fakeSnapshots) Set(ctx context.Context, info domain.AccountMarketInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[f.key(info.Market, info.Account)] = info
	return nil
}

func (f *fakeSnapshots) Get(ctx context.Context, market, account string) (domain.AccountMarketInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.data[f.key(market, account)]
	if !ok {
		return domain.AccountMarketInfo{}, domain.ErrNotFound
	}
	return info, nil
}

func (f *fakeSnapshots) Invalidate(ctx context.Context, market, account string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, f.key(market, account))
	f.invalidated++
	return nil
}

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{held: make(map[string]bool)}
}

func (f *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.held[key] = true
	return func() {
		f.mu.Lock()
		delete(f.held, key)
		f.mu.Unlock()
	}, nil
}

type fakeBus struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
	notify   chan struct{}
}

func newFakeBus() *fakeBus {
	return &fakeBus{notify: make(chan struct{}, 64)}
}

func (f *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	f.channels = append(f.channels, channel)
	f.payloads = append(f.payloads, payload)
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (f *fakeBus) count(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.payloads {
		if strings.Contains(string(p), substr) {
			n++
		}
	}
	return n
}

// --- notifier ---

type recordSender struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordSender) Send(ctx context.Context, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordSender) Name() string { return "record" }

func (r *recordSender) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.titles...)
}

// --- chain ---

type fakeManager struct {
	creator    common.Address
	sendErr    error
	confirmErr error
	address    string
	// entered and release, when set, hold SendCreate until release closes.
	entered chan struct{}
	release chan struct{}

	mu   sync.Mutex
	sent []domain.CreationRequest
}

func (f *fakeManager) Creator() common.Address { return f.creator }

func (f *fakeManager) SendCreate(ctx context.Context, req domain.CreationRequest) (*types.Transaction, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	return types.NewTx(&types.LegacyTx{Nonce: uint64(len(f.sent)), Gas: 21000, GasPrice: big.NewInt(1)}), nil
}

func (f *fakeManager) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeManager) Confirm(ctx context.Context, tx *types.Transaction) (string, *domain.Receipt, error) {
	if f.confirmErr != nil {
		return "", nil, f.confirmErr
	}
	return f.address, &domain.Receipt{TxHash: tx.Hash().Hex(), BlockNumber: 7, GasUsed: 21000, Success: true}, nil
}

type fakeArchive struct {
	mu        sync.Mutex
	creations int
	exercises int
}

func (f *fakeArchive) ArchiveCreation(ctx context.Context, req domain.CreationRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creations++
	return "creations/" + req.ID + ".json", nil
}

func (f *fakeArchive) ArchiveExercise(ctx context.Context, attempt domain.ExerciseAttempt, receipt *domain.Receipt) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exercises++
	return "exercises/" + attempt.ID + ".json", nil
}

type fakeBinding struct {
	mu        sync.Mutex
	estimate  uint64
	estErr    error
	submitErr error
	// failReceipt is returned alongside submitErr.
	failReceipt *domain.Receipt
	// onSubmit runs after the transaction counts as sent.
	onSubmit  func()
	claimable decimal.Decimal
	snapshots int
	submits   int
	info      domain.OptionsMarket
}

func (f *fakeBinding) EstimateExercise(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.estimate, f.estErr
}

func (f *fakeBinding) SubmitExercise(ctx context.Context, gasLimit uint64) (*domain.Receipt, error) {
	f.mu.Lock()
	f.submits++
	hook := f.onSubmit
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err := ctx.Err(); err != nil {
		return &domain.Receipt{TxHash: "0xfeed"}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.failReceipt, f.submitErr
	}
	f.claimable = decimal.Zero
	return &domain.Receipt{TxHash: "0xfeed", BlockNumber: 9, GasUsed: gasLimit - 100, Success: true}, nil
}

func (f *fakeBinding) Snapshot(ctx context.Context) (domain.AccountMarketInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots++
	return domain.AccountMarketInfo{
		Claimable: domain.LongShort{Long: f.claimable, Short: decimal.Zero},
		Result:    domain.SideLong,
	}, nil
}

func (f *fakeBinding) Info(ctx context.Context) (domain.OptionsMarket, error) {
	return f.info, nil
}
