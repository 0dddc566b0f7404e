package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/optionsd/internal/domain"
	"github.com/alanyoungcy/optionsd/internal/exercise"
	"github.com/alanyoungcy/optionsd/internal/notify"
)

// DefaultLockTTL bounds how long one instance may hold the submit lock for
// a market and account.
const DefaultLockTTL = 5 * time.Minute

const eventQueueSize = 256

// MarketBinding is one market seen by one account.
type MarketBinding interface {
	exercise.Binding
	exercise.SnapshotProvider
	Info(ctx context.Context) (domain.OptionsMarket, error)
}

// MarketBinder opens bindings.
type MarketBinder interface {
	Bind(market, account string) (MarketBinding, error)
}

// BinderFunc adapts a function to MarketBinder.
type BinderFunc func(market, account string) (MarketBinding, error)

// Bind calls f.
func (f BinderFunc) Bind(market, account string) (MarketBinding, error) {
	return f(market, account)
}

// ExerciseArchiver stores exercise receipts.
type ExerciseArchiver interface {
	ArchiveExercise(ctx context.Context, attempt domain.ExerciseAttempt, receipt *domain.Receipt) (string, error)
}

// ExerciseConfig tunes ExerciseService.
type ExerciseConfig struct {
	GasBuffer uint64
	LockTTL   time.Duration
	// PaySign prefixes payout amounts, normally the stable asset's sign.
	PaySign string
}

// ExerciseDeps groups the ExerciseService collaborators. Everything but
// Binder may be nil.
type ExerciseDeps struct {
	Binder    MarketBinder
	Snapshots domain.SnapshotCache
	Locks     domain.LockManager
	Attempts  domain.ExerciseStore
	Markets   domain.MarketStore
	Archive   ExerciseArchiver
	Bus       domain.SignalBus
	Notifier  *notify.Notifier
}

type flow struct {
	wf      *exercise.Workflow
	binding MarketBinding
}

type queuedEvent struct {
	channel string
	ev      Event
}

// ExerciseService runs one exercise workflow per (market, account) and
// surrounds it with caching, locking, persistence and notification.
type ExerciseService struct {
	deps   ExerciseDeps
	cfg    ExerciseConfig
	base   *slog.Logger
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	flows  map[string]*flow
	events chan queuedEvent
}

// NewExerciseService creates an ExerciseService. Run must be started for
// workflow events to reach the bus.
func NewExerciseService(deps ExerciseDeps, cfg ExerciseConfig, logger *slog.Logger) *ExerciseService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	return &ExerciseService{
		deps:   deps,
		cfg:    cfg,
		base:   logger,
		logger: logger.With(slog.String("component", "exercise_service")),
		now:    time.Now,
		flows:  make(map[string]*flow),
		events: make(chan queuedEvent, eventQueueSize),
	}
}

// ExerciseChannel is the bus channel carrying views for one pair.
func ExerciseChannel(market, account string) string {
	return "optionsd:exercise:" + strings.ToLower(market) + ":" + strings.ToLower(account)
}

// canonical checksums both addresses so different spellings share a flow.
func canonical(market, account string) (string, string, error) {
	if !common.IsHexAddress(market) {
		return "", "", fmt.Errorf("exercise_service: market %q: %w", market, domain.ErrInvalidAddress)
	}
	if !common.IsHexAddress(account) {
		return "", "", fmt.Errorf("exercise_service: account %q: %w", account, domain.ErrInvalidAddress)
	}
	return common.HexToAddress(market).Hex(), common.HexToAddress(account).Hex(), nil
}

func (s *ExerciseService) flow(market, account string) (*flow, error) {
	key := market + ":" + account

	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.flows[key]; ok {
		return f, nil
	}
	binding, err := s.deps.Binder.Bind(market, account)
	if err != nil {
		return nil, fmt.Errorf("exercise_service: bind %s: %w", key, err)
	}
	wf := exercise.New(exercise.Config{
		Market:    market,
		Account:   account,
		GasBuffer: s.cfg.GasBuffer,
		PaySign:   s.cfg.PaySign,
	}, binding, s.base)
	channel := ExerciseChannel(market, account)
	wf.Observe(func(v exercise.View) {
		s.enqueue(channel, Event{Type: EventExerciseView, Key: market + ":" + account, Data: v})
	})
	f := &flow{wf: wf, binding: binding}
	s.flows[key] = f
	return f, nil
}

func (s *ExerciseService) enqueue(channel string, ev Event) {
	if s.deps.Bus == nil {
		return
	}
	select {
	case s.events <- queuedEvent{channel: channel, ev: ev}:
	default:
		s.logger.Warn("exercise_service: event queue full, dropping",
			slog.String("channel", channel),
			slog.String("type", ev.Type),
		)
	}
}

// Run publishes queued workflow events until ctx is cancelled.
func (s *ExerciseService) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case q := <-s.events:
			publishEvent(ctx, s.deps.Bus, s.logger, q.channel, q.ev)
		}
	}
}

// Snapshot returns the cached snapshot for the pair, reading the chain on
// a miss.
func (s *ExerciseService) Snapshot(ctx context.Context, market, account string) (domain.AccountMarketInfo, error) {
	market, account, err := canonical(market, account)
	if err != nil {
		return domain.AccountMarketInfo{}, err
	}
	f, err := s.flow(market, account)
	if err != nil {
		return domain.AccountMarketInfo{}, err
	}
	return s.snapshot(ctx, f, market, account)
}

func (s *ExerciseService) snapshot(ctx context.Context, f *flow, market, account string) (domain.AccountMarketInfo, error) {
	if s.deps.Snapshots != nil {
		info, err := s.deps.Snapshots.Get(ctx, market, account)
		if err == nil {
			return info, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "exercise_service: snapshot cache read failed",
				slog.String("market", market),
				slog.String("error", err.Error()),
			)
		}
	}
	return s.fetch(ctx, f, market, account)
}

func (s *ExerciseService) fetch(ctx context.Context, f *flow, market, account string) (domain.AccountMarketInfo, error) {
	info, err := f.binding.Snapshot(ctx)
	if err != nil {
		return domain.AccountMarketInfo{}, fmt.Errorf("exercise_service: read snapshot: %w", err)
	}
	info.Market, info.Account = market, account
	if s.deps.Snapshots != nil {
		if err := s.deps.Snapshots.Set(ctx, info); err != nil {
			s.logger.WarnContext(ctx, "exercise_service: snapshot cache write failed",
				slog.String("market", market),
				slog.String("error", err.Error()),
			)
		}
	}
	return info, nil
}

// View returns the maturity card for the pair.
func (s *ExerciseService) View(ctx context.Context, market, account string) (exercise.View, error) {
	market, account, err := canonical(market, account)
	if err != nil {
		return exercise.View{}, err
	}
	f, err := s.flow(market, account)
	if err != nil {
		return exercise.View{}, err
	}
	info, err := s.snapshot(ctx, f, market, account)
	if err != nil {
		return exercise.View{}, err
	}
	return f.wf.View(info), nil
}

// SetSession feeds the account's login status to its workflow. Logging in
// estimates gas before returning.
func (s *ExerciseService) SetSession(ctx context.Context, market, account string, loggedIn bool) (exercise.View, error) {
	market, account, err := canonical(market, account)
	if err != nil {
		return exercise.View{}, err
	}
	f, err := s.flow(market, account)
	if err != nil {
		return exercise.View{}, err
	}
	info, err := s.snapshot(ctx, f, market, account)
	if err != nil {
		return exercise.View{}, err
	}
	f.wf.View(info)
	f.wf.SetLoggedIn(ctx, loggedIn)
	v := f.wf.Current()
	s.reportEstimate(ctx, v)
	return v, nil
}

// RetryEstimate re-runs gas estimation for a logged-in pair.
func (s *ExerciseService) RetryEstimate(ctx context.Context, market, account string) (exercise.View, error) {
	market, account, err := canonical(market, account)
	if err != nil {
		return exercise.View{}, err
	}
	f, err := s.flow(market, account)
	if err != nil {
		return exercise.View{}, err
	}
	if err := f.wf.RetryEstimate(ctx); err != nil {
		return f.wf.Current(), fmt.Errorf("exercise_service: retry estimate: %w", err)
	}
	v := f.wf.Current()
	s.reportEstimate(ctx, v)
	return v, nil
}

func (s *ExerciseService) reportEstimate(ctx context.Context, v exercise.View) {
	if !v.LoggedIn || v.GasLimit != nil || v.LastError == "" {
		return
	}
	if err := s.deps.Notifier.Notify(ctx, notify.EventEstimateFailed, "Exercise gas estimate failed",
		"market", v.Market,
		"account", v.Account,
		"error", v.LastError,
	); err != nil {
		s.logger.WarnContext(ctx, "exercise_service: notify failed", slog.String("error", err.Error()))
	}
}

// ExerciseResult is the outcome of a submission.
type ExerciseResult struct {
	View    exercise.View   `json:"view"`
	Receipt *domain.Receipt `json:"receipt,omitempty"`
}

// Exercise submits exerciseOptions for the pair. Only one submission per
// pair runs across all instances; a concurrent attempt gets
// domain.ErrLockHeld.
func (s *ExerciseService) Exercise(ctx context.Context, market, account string) (ExerciseResult, error) {
	market, account, err := canonical(market, account)
	if err != nil {
		return ExerciseResult{}, err
	}
	f, err := s.flow(market, account)
	if err != nil {
		return ExerciseResult{}, err
	}
	info, err := s.snapshot(ctx, f, market, account)
	if err != nil {
		return ExerciseResult{}, err
	}

	v := f.wf.View(info)
	if !v.CanExercise {
		_, err := f.wf.Exercise(ctx, info)
		return ExerciseResult{View: f.wf.Current()}, err
	}

	if s.deps.Locks != nil {
		unlock, err := s.deps.Locks.Acquire(ctx, "exercise:"+market+":"+account, s.cfg.LockTTL)
		if err != nil {
			return ExerciseResult{View: v}, fmt.Errorf("exercise_service: acquire lock: %w", err)
		}
		defer unlock()
	}

	attempt := domain.ExerciseAttempt{
		ID:        uuid.NewString(),
		Market:    market,
		Account:   account,
		Status:    domain.ExerciseStatusSubmitting,
		StartedAt: s.now().UTC(),
	}
	if v.GasLimit != nil {
		attempt.GasLimit = *v.GasLimit
	}
	// From here the outcome is recorded even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	s.recordStart(ctx, attempt)

	receipt, err := f.wf.Exercise(ctx, info)
	finished := s.now().UTC()
	attempt.FinishedAt = &finished
	if err != nil {
		attempt.Status = domain.ExerciseStatusFailed
		attempt.Error = err.Error()
		if receipt != nil {
			attempt.TxHash = receipt.TxHash
		}
		s.recordFinish(ctx, attempt)
		if !exercise.IsUnavailable(err) {
			s.notifyFailure(ctx, attempt)
		}
		return ExerciseResult{View: f.wf.Current()}, err
	}

	attempt.Status = domain.ExerciseStatusSucceeded
	attempt.TxHash = receipt.TxHash
	s.recordFinish(ctx, attempt)
	if s.deps.Archive != nil {
		if _, err := s.deps.Archive.ArchiveExercise(ctx, attempt, receipt); err != nil {
			s.logger.WarnContext(ctx, "exercise_service: archive failed",
				slog.String("attempt_id", attempt.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	s.enqueue(ExerciseChannel(market, account), Event{
		Type: EventExerciseReceipt,
		Key:  market + ":" + account,
		Data: receipt,
	})

	// The claimable balances changed on chain; drop the cached copy and
	// derive the view from a fresh read when possible.
	if s.deps.Snapshots != nil {
		if err := s.deps.Snapshots.Invalidate(ctx, market, account); err != nil {
			s.logger.WarnContext(ctx, "exercise_service: snapshot invalidate failed", slog.String("error", err.Error()))
		}
	}
	view := f.wf.Current()
	if fresh, err := s.fetch(ctx, f, market, account); err == nil {
		view = f.wf.View(fresh)
	} else {
		s.logger.WarnContext(ctx, "exercise_service: post-exercise refresh failed", slog.String("error", err.Error()))
	}
	return ExerciseResult{View: view, Receipt: receipt}, nil
}

func (s *ExerciseService) recordStart(ctx context.Context, a domain.ExerciseAttempt) {
	if s.deps.Attempts == nil {
		return
	}
	if err := s.deps.Attempts.Create(ctx, a); err != nil {
		s.logger.ErrorContext(ctx, "exercise_service: record attempt",
			slog.String("attempt_id", a.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ExerciseService) recordFinish(ctx context.Context, a domain.ExerciseAttempt) {
	if s.deps.Attempts == nil {
		return
	}
	if err := s.deps.Attempts.Finish(ctx, a.ID, a.Status, a.TxHash, a.Error, *a.FinishedAt); err != nil {
		s.logger.ErrorContext(ctx, "exercise_service: record attempt result",
			slog.String("attempt_id", a.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ExerciseService) notifyFailure(ctx context.Context, a domain.ExerciseAttempt) {
	if err := s.deps.Notifier.Notify(ctx, notify.EventExerciseFailed, "Exercise failed",
		"market", a.Market,
		"account", a.Account,
		"error", a.Error,
	); err != nil {
		s.logger.WarnContext(ctx, "exercise_service: notify failed", slog.String("error", err.Error()))
	}
}

// History lists exercise attempts for an account, newest first.
func (s *ExerciseService) History(ctx context.Context, account string, opts domain.ListOpts) ([]domain.ExerciseAttempt, error) {
	if !common.IsHexAddress(account) {
		return nil, fmt.Errorf("exercise_service: account %q: %w", account, domain.ErrInvalidAddress)
	}
	if s.deps.Attempts == nil {
		return nil, nil
	}
	out, err := s.deps.Attempts.ListByAccount(ctx, common.HexToAddress(account).Hex(), opts)
	if err != nil {
		return nil, fmt.Errorf("exercise_service: history: %w", err)
	}
	return out, nil
}

// Refresh reads the pair from the chain, stores the snapshot and publishes
// the resulting view. With refreshMarket set the market metadata is stored
// as well.
func (s *ExerciseService) Refresh(ctx context.Context, market, account string, refreshMarket bool) error {
	market, account, err := canonical(market, account)
	if err != nil {
		return err
	}
	f, err := s.flow(market, account)
	if err != nil {
		return err
	}
	info, err := s.fetch(ctx, f, market, account)
	if err != nil {
		return err
	}
	v := f.wf.View(info)
	s.enqueue(ExerciseChannel(market, account), Event{Type: EventExerciseView, Key: market + ":" + account, Data: v})

	if refreshMarket && s.deps.Markets != nil {
		m, err := f.binding.Info(ctx)
		if err != nil {
			return fmt.Errorf("exercise_service: read market info: %w", err)
		}
		m.Address = market
		m.UpdatedAt = s.now().UTC()
		if err := s.deps.Markets.Upsert(ctx, m); err != nil {
			return fmt.Errorf("exercise_service: store market: %w", err)
		}
	}
	return nil
}

// RefreshAll refreshes every market for every account. Failures are logged
// and counted; the first one is returned after all pairs were tried.
func (s *ExerciseService) RefreshAll(ctx context.Context, markets, accounts []string) error {
	var first error
	failed := 0
	for _, m := range markets {
		for i, a := range accounts {
			if err := s.Refresh(ctx, m, a, i == 0); err != nil {
				failed++
				if first == nil {
					first = err
				}
				s.logger.WarnContext(ctx, "exercise_service: refresh failed",
					slog.String("market", m),
					slog.String("account", a),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	if first != nil {
		return fmt.Errorf("exercise_service: %d refresh(es) failed: %w", failed, first)
	}
	return nil
}

// Close detaches every workflow.
func (s *ExerciseService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, f := range s.flows {
		f.wf.Close()
		delete(s.flows, key)
	}
}
