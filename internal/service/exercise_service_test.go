package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/optionsd/internal/domain"
	"github.com/alanyoungcy/optionsd/internal/exercise"
	"github.com/alanyoungcy/optionsd/internal/notify"
)

const (
	testMarket  = "0x00000000000000000000000000000000000000aa"
	testAccount = "0x00000000000000000000000000000000000000bb"
)

type exerciseFixture struct {
	svc       *ExerciseService
	binding   *fakeBinding
	snapshots *fakeSnapshots
	locks     *fakeLocks
	attempts  *fakeExerciseStore
	markets   *fakeMarketStore
	archive   *fakeArchive
	bus       *fakeBus
	sender    *recordSender
	binds     int
}

func newExerciseFixture(t *testing.T) *exerciseFixture {
	t.Helper()
	f := &exerciseFixture{
		binding:   &fakeBinding{estimate: 80000, claimable: decimal.NewFromInt(250)},
		snapshots: newFakeSnapshots(),
		locks:     newFakeLocks(),
		attempts:  newFakeExerciseStore(),
		markets:   newFakeMarketStore(),
		archive:   &fakeArchive{},
		bus:       newFakeBus(),
		sender:    &recordSender{},
	}
	f.svc = NewExerciseService(ExerciseDeps{
		Binder: BinderFunc(func(market, account string) (MarketBinding, error) {
			f.binds++
			return f.binding, nil
		}),
		Snapshots: f.snapshots,
		Locks:     f.locks,
		Attempts:  f.attempts,
		Markets:   f.markets,
		Archive:   f.archive,
		Bus:       f.bus,
		Notifier:  notify.NewNotifier([]notify.Sender{f.sender}, nil, discardLogger()),
	}, ExerciseConfig{PaySign: "$"}, discardLogger())
	t.Cleanup(f.svc.Close)
	return f
}

func TestExerciseServiceRejectsBadAddress(t *testing.T) {
	f := newExerciseFixture(t)
	if _, err := f.svc.View(context.Background(), "0x1", testAccount); !errors.Is(err, domain.ErrInvalidAddress) {
		t.Errorf("err = %v, want ErrInvalidAddress", err)
	}
	if _, err := f.svc.View(context.Background(), testMarket, "alice"); !errors.Is(err, domain.ErrInvalidAddress) {
		t.Errorf("err = %v, want ErrInvalidAddress", err)
	}
}

func TestExerciseServiceViewUsesCache(t *testing.T) {
	ctx := context.Background()
	f := newExerciseFixture(t)

	v, err := f.svc.View(ctx, testMarket, testAccount)
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if v.LoggedIn || v.CanExercise || v.Label != exercise.LabelExercise || v.Payout != "$250.00" {
		t.Errorf("view = %+v", v)
	}

	// Differently cased addresses share the cached snapshot and the workflow.
	if _, err := f.svc.View(ctx, common.HexToAddress(testMarket).Hex(), testAccount); err != nil {
		t.Fatalf("View: %v", err)
	}
	if f.binding.snapshots != 1 {
		t.Errorf("chain reads = %d, want 1", f.binding.snapshots)
	}
	if f.binds != 1 {
		t.Errorf("binds = %d, want 1", f.binds)
	}
}

func TestExerciseServiceSession(t *testing.T) {
	ctx := context.Background()
	f := newExerciseFixture(t)

	v, err := f.svc.SetSession(ctx, testMarket, testAccount, true)
	if err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	if v.GasLimit == nil || *v.GasLimit != 80000+exercise.DefaultGasBuffer || !v.CanExercise {
		t.Fatalf("view = %+v", v)
	}

	v, err = f.svc.SetSession(ctx, testMarket, testAccount, false)
	if err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	if v.GasLimit != nil || v.CanExercise {
		t.Errorf("logged-out view = %+v", v)
	}
}

func TestExerciseServiceEstimateFailureNotifies(t *testing.T) {
	ctx := context.Background()
	f := newExerciseFixture(t)
	f.binding.estErr = errors.New("execution reverted")

	v, err := f.svc.SetSession(ctx, testMarket, testAccount, true)
	if err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	if v.GasLimit != nil || v.LastError == "" {
		t.Errorf("view = %+v", v)
	}
	if titles := f.sender.sent(); len(titles) != 1 || titles[0] != "Exercise gas estimate failed" {
		t.Errorf("notifications = %v", titles)
	}

	f.binding.mu.Lock()
	f.binding.estErr = nil
	f.binding.mu.Unlock()
	v, err = f.svc.RetryEstimate(ctx, testMarket, testAccount)
	if err != nil {
		t.Fatalf("RetryEstimate: %v", err)
	}
	if v.GasLimit == nil || v.LastError != "" {
		t.Errorf("after retry = %+v", v)
	}
}

func TestExerciseServiceRetryRequiresLogin(t *testing.T) {
	f := newExerciseFixture(t)
	if _, err := f.svc.RetryEstimate(context.Background(), testMarket, testAccount); !errors.Is(err, domain.ErrNotLoggedIn) {
		t.Errorf("err = %v, want ErrNotLoggedIn", err)
	}
}

func TestExerciseServiceExercise(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newExerciseFixture(t)
	go f.svc.Run(ctx)

	if _, err := f.svc.SetSession(ctx, testMarket, testAccount, true); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	res, err := f.svc.Exercise(ctx, testMarket, testAccount)
	if err != nil {
		t.Fatalf("Exercise: %v", err)
	}
	if res.Receipt == nil || res.Receipt.TxHash != "0xfeed" {
		t.Errorf("receipt = %+v", res.Receipt)
	}
	if !res.View.NothingToClaim || res.View.Label != exercise.LabelNothingToClaim || res.View.Submitting {
		t.Errorf("post-exercise view = %+v", res.View)
	}

	a, n := f.attempts.only()
	if n != 1 || a.Status != domain.ExerciseStatusSucceeded || a.TxHash != "0xfeed" || a.FinishedAt == nil {
		t.Errorf("attempt = %+v (n=%d)", a, n)
	}
	if a.GasLimit != 80000+exercise.DefaultGasBuffer {
		t.Errorf("attempt gas = %d", a.GasLimit)
	}
	if f.archive.exercises != 1 || f.snapshots.invalidated != 1 {
		t.Errorf("archive=%d invalidated=%d", f.archive.exercises, f.snapshots.invalidated)
	}
	if len(f.locks.held) != 0 {
		t.Error("lock not released")
	}

	deadline := time.After(2 * time.Second)
	for f.bus.count(EventExerciseReceipt) == 0 {
		select {
		case <-f.bus.notify:
		case <-deadline:
			t.Fatal("receipt event never published")
		}
	}
	if f.bus.count(EventExerciseView) == 0 {
		t.Error("no view events published")
	}
}

func TestExerciseServiceUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newExerciseFixture(t)

	_, err := f.svc.Exercise(ctx, testMarket, testAccount)
	if !errors.Is(err, domain.ErrExerciseUnavailable) {
		t.Fatalf("err = %v, want ErrExerciseUnavailable", err)
	}
	if _, n := f.attempts.only(); n != 0 {
		t.Error("refused exercise was recorded")
	}
	if f.binding.submits != 0 {
		t.Error("refused exercise reached the chain")
	}
}

func TestExerciseServiceLockHeld(t *testing.T) {
	ctx := context.Background()
	f := newExerciseFixture(t)
	if _, err := f.svc.SetSession(ctx, testMarket, testAccount, true); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	m, a, _ := canonical(testMarket, testAccount)
	unlock, err := f.locks.Acquire(ctx, "exercise:"+m+":"+a, time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer unlock()

	if _, err := f.svc.Exercise(ctx, testMarket, testAccount); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("err = %v, want ErrLockHeld", err)
	}
	if f.binding.submits != 0 {
		t.Error("submitted while another instance held the lock")
	}
}

func TestExerciseServiceSubmitFailure(t *testing.T) {
	ctx := context.Background()
	f := newExerciseFixture(t)
	f.binding.submitErr = domain.ErrTxReverted
	f.binding.failReceipt = &domain.Receipt{TxHash: "0xdead"}
	if _, err := f.svc.SetSession(ctx, testMarket, testAccount, true); err != nil {
		t.Fatalf("SetSession: %v", err)
	}

	res, err := f.svc.Exercise(ctx, testMarket, testAccount)
	if !errors.Is(err, domain.ErrTxReverted) {
		t.Fatalf("err = %v, want ErrTxReverted", err)
	}
	if res.View.Submitting || res.View.LastError == "" {
		t.Errorf("view = %+v", res.View)
	}
	a, _ := f.attempts.only()
	if a.Status != domain.ExerciseStatusFailed || a.Error == "" || a.TxHash != "0xdead" {
		t.Errorf("attempt = %+v", a)
	}
	if titles := f.sender.sent(); len(titles) != 1 || titles[0] != "Exercise failed" {
		t.Errorf("notifications = %v", titles)
	}
	if f.snapshots.invalidated != 0 {
		t.Error("failed exercise invalidated the snapshot")
	}
}

func TestExerciseServiceOutlivesCaller(t *testing.T) {
	f := newExerciseFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := f.svc.SetSession(ctx, testMarket, testAccount, true); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	f.binding.onSubmit = cancel

	res, err := f.svc.Exercise(ctx, testMarket, testAccount)
	if err != nil {
		t.Fatalf("Exercise: %v", err)
	}
	if res.Receipt == nil || res.Receipt.TxHash != "0xfeed" {
		t.Errorf("receipt = %+v", res.Receipt)
	}
	a, _ := f.attempts.only()
	if a.Status != domain.ExerciseStatusSucceeded || a.TxHash != "0xfeed" {
		t.Errorf("attempt = %+v", a)
	}
	if titles := f.sender.sent(); len(titles) != 0 {
		t.Errorf("notifications = %v", titles)
	}
}

func TestExerciseServiceRefreshAll(t *testing.T) {
	ctx := context.Background()
	f := newExerciseFixture(t)
	f.binding.info = domain.OptionsMarket{Asset: "sETH", Phase: domain.PhaseMaturity}
	accounts := []string{testAccount, "0x00000000000000000000000000000000000000cc"}

	if err := f.svc.RefreshAll(ctx, []string{testMarket}, accounts); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	if f.markets.upserts != 1 {
		t.Errorf("market upserts = %d, want 1", f.markets.upserts)
	}
	m, err := f.markets.GetByAddress(ctx, common.HexToAddress(testMarket).Hex())
	if err != nil || m.Phase != domain.PhaseMaturity {
		t.Errorf("stored market = %+v, %v", m, err)
	}
	if f.binding.snapshots != 2 {
		t.Errorf("chain reads = %d, want 2", f.binding.snapshots)
	}

	if err := f.svc.RefreshAll(ctx, []string{"bogus"}, accounts); !errors.Is(err, domain.ErrInvalidAddress) {
		t.Errorf("err = %v, want ErrInvalidAddress", err)
	}
}

func TestExerciseServiceHistory(t *testing.T) {
	ctx := context.Background()
	f := newExerciseFixture(t)
	f.binding.submitErr = errors.New("nonce too low")
	_, _ = f.svc.SetSession(ctx, testMarket, testAccount, true)
	_, _ = f.svc.Exercise(ctx, testMarket, testAccount)

	got, err := f.svc.History(ctx, testAccount, domain.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("history = %+v", got)
	}
	if _, err := f.svc.History(ctx, "nope", domain.ListOpts{}); !errors.Is(err, domain.ErrInvalidAddress) {
		t.Errorf("err = %v", err)
	}
}

func TestExerciseChannel(t *testing.T) {
	got := ExerciseChannel("0xAbC", "0xDeF")
	if got != "optionsd:exercise:0xabc:0xdef" {
		t.Errorf("ExerciseChannel = %q", got)
	}
}
