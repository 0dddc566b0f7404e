// Package exercise implements the maturity-phase exercise workflow: estimate
// the gas for exerciseOptions once the account is logged in, then submit the
// transaction on request while tracking in-flight state.
//
// States: idle -> estimating -> idle (ready | unready) -> submitting -> idle.
package exercise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/optionsd/internal/domain"
	"github.com/alanyoungcy/optionsd/internal/format"
)

// DefaultGasBuffer is added on top of every estimate.
const DefaultGasBuffer uint64 = 5000

// Labels for the action button.
const (
	LabelNothingToClaim = "nothing-to-claim"
	LabelSubmitting     = "submitting"
	LabelExercise       = "exercise"
)

// Binding is the contract capability the workflow needs. Implementations
// are scoped to one market and one signer.
type Binding interface {
	EstimateExercise(ctx context.Context) (uint64, error)
	SubmitExercise(ctx context.Context, gasLimit uint64) (*domain.Receipt, error)
}

// SnapshotProvider supplies the account's current view of the market.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (domain.AccountMarketInfo, error)
}

// SnapshotFunc adapts a function to SnapshotProvider.
type SnapshotFunc func(ctx context.Context) (domain.AccountMarketInfo, error)

// Snapshot calls f.
func (f SnapshotFunc) Snapshot(ctx context.Context) (domain.AccountMarketInfo, error) {
	return f(ctx)
}

// Observer is told about every state change. It must not block.
type Observer func(v View)

// View is the derived, read-only state of a workflow against a snapshot.
type View struct {
	Market         string      `json:"market"`
	Account        string      `json:"account"`
	LoggedIn       bool        `json:"logged_in"`
	Estimating     bool        `json:"estimating"`
	Submitting     bool        `json:"submitting"`
	GasLimit       *uint64     `json:"gas_limit"`
	NothingToClaim bool        `json:"nothing_to_claim"`
	CanExercise    bool        `json:"can_exercise"`
	Label          string      `json:"label"`
	Result         domain.Side `json:"result"`
	Payout         string      `json:"payout"`
	LastError      string      `json:"last_error,omitempty"`
}

// Config parameterises a Workflow.
type Config struct {
	Market    string
	Account   string
	GasBuffer uint64
	PaySign   string
}

// Workflow is the per-(market, account) exercise state. All methods are
// safe for concurrent use.
type Workflow struct {
	cfg     Config
	binding Binding
	logger  *slog.Logger

	mu         sync.Mutex
	loggedIn   bool
	seenLogin  bool
	gasLimit   *uint64
	estimating bool
	submitting bool
	lastError  string
	closed     bool
	generation uint64
	lastInfo   domain.AccountMarketInfo
	observers  []Observer
}

// New creates a Workflow. A zero GasBuffer uses DefaultGasBuffer.
func New(cfg Config, binding Binding, logger *slog.Logger) *Workflow {
	if cfg.GasBuffer == 0 {
		cfg.GasBuffer = DefaultGasBuffer
	}
	return &Workflow{
		cfg:     cfg,
		binding: binding,
		logger: logger.With(
			slog.String("component", "exercise"),
			slog.String("market", cfg.Market),
			slog.String("account", cfg.Account),
		),
		lastInfo: domain.AccountMarketInfo{Market: cfg.Market, Account: cfg.Account, Result: domain.SideLong},
	}
}

// NormalizeGasLimit adds the safety buffer to a raw estimate.
func NormalizeGasLimit(estimate, buffer uint64) uint64 {
	return estimate + buffer
}

// Observe registers fn for state-change notifications.
func (w *Workflow) Observe(fn Observer) {
	w.mu.Lock()
	w.observers = append(w.observers, fn)
	w.mu.Unlock()
}

// SetLoggedIn feeds the login-status signal. Estimation runs when the
// status becomes true (including the first report). Logging out drops the
// gas limit. Repeating the current value does nothing.
func (w *Workflow) SetLoggedIn(ctx context.Context, loggedIn bool) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	changed := !w.seenLogin || w.loggedIn != loggedIn
	w.seenLogin = true
	w.loggedIn = loggedIn
	if !changed {
		w.mu.Unlock()
		return
	}
	if !loggedIn {
		w.gasLimit = nil
		w.generation++
		w.estimating = false
		w.mu.Unlock()
		w.notify()
		return
	}
	w.mu.Unlock()

	w.estimate(ctx)
}

// RetryEstimate re-runs gas estimation for a logged-in account.
func (w *Workflow) RetryEstimate(ctx context.Context) error {
	w.mu.Lock()
	closed, loggedIn := w.closed, w.loggedIn
	w.mu.Unlock()
	if closed {
		return domain.ErrWorkflowClosed
	}
	if !loggedIn {
		return domain.ErrNotLoggedIn
	}
	w.estimate(ctx)
	return nil
}

func (w *Workflow) estimate(ctx context.Context) {
	w.mu.Lock()
	w.generation++
	gen := w.generation
	w.estimating = true
	w.mu.Unlock()
	w.notify()

	raw, err := w.binding.EstimateExercise(ctx)

	w.mu.Lock()
	if w.closed || gen != w.generation {
		w.mu.Unlock()
		return
	}
	w.estimating = false
	if err != nil {
		w.gasLimit = nil
		w.lastError = fmt.Sprintf("gas estimate failed: %v", err)
		w.mu.Unlock()
		w.logger.WarnContext(ctx, "exercise: gas estimate failed", slog.String("error", err.Error()))
		w.notify()
		return
	}
	limit := NormalizeGasLimit(raw, w.cfg.GasBuffer)
	w.gasLimit = &limit
	w.lastError = ""
	w.mu.Unlock()

	w.logger.DebugContext(ctx, "exercise: gas estimated",
		slog.Uint64("estimate", raw),
		slog.Uint64("gas_limit", limit),
	)
	w.notify()
}

// View derives the workflow state against info.
func (w *Workflow) View(info domain.AccountMarketInfo) View {
	w.mu.Lock()
	w.lastInfo = info
	v := w.viewLocked(info)
	w.mu.Unlock()
	return v
}

// Current derives the view against the most recent snapshot.
func (w *Workflow) Current() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewLocked(w.lastInfo)
}

func (w *Workflow) viewLocked(info domain.AccountMarketInfo) View {
	nothing := info.Claimable.IsZero()
	result := info.Result
	if result == "" {
		result = domain.SideLong
	}

	v := View{
		Market:         w.cfg.Market,
		Account:        w.cfg.Account,
		LoggedIn:       w.loggedIn,
		Estimating:     w.estimating,
		Submitting:     w.submitting,
		NothingToClaim: nothing,
		Result:         result,
		Payout:         format.Currency(w.cfg.PaySign, info.Claimable.Get(result)),
		LastError:      w.lastError,
	}
	if w.gasLimit != nil {
		g := *w.gasLimit
		v.GasLimit = &g
	}
	v.CanExercise = w.loggedIn && !w.submitting && !nothing && w.gasLimit != nil
	v.Label = label(nothing, w.submitting)
	return v
}

func label(nothingToClaim, submitting bool) string {
	switch {
	case nothingToClaim:
		return LabelNothingToClaim
	case submitting:
		return LabelSubmitting
	default:
		return LabelExercise
	}
}

// Exercise submits exerciseOptions when the view allows it. The submitting
// flag is set for the duration of the call and cleared on every outcome.
// info is not mutated; the caller refreshes snapshots from the chain. A
// failed submission still returns the receipt when the binding produced one.
func (w *Workflow) Exercise(ctx context.Context, info domain.AccountMarketInfo) (*domain.Receipt, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, domain.ErrWorkflowClosed
	}
	if w.submitting {
		w.mu.Unlock()
		return nil, domain.ErrSubmitInFlight
	}
	v := w.viewLocked(info)
	if !v.CanExercise {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrExerciseUnavailable, unavailableReason(v))
	}
	w.lastInfo = info
	w.submitting = true
	w.lastError = ""
	gas := *w.gasLimit
	w.mu.Unlock()
	w.notify()

	receipt, err := w.binding.SubmitExercise(ctx, gas)

	w.mu.Lock()
	w.submitting = false
	if err != nil {
		w.lastError = fmt.Sprintf("exercise failed: %v", err)
	}
	closed := w.closed
	w.mu.Unlock()

	if err != nil {
		w.logger.ErrorContext(ctx, "exercise: submit failed", slog.String("error", err.Error()))
	} else {
		w.logger.InfoContext(ctx, "exercise: submitted",
			slog.String("tx", receipt.TxHash),
			slog.Uint64("gas_used", receipt.GasUsed),
		)
	}
	if !closed {
		w.notify()
	}
	if err != nil {
		return receipt, fmt.Errorf("exercise: submit: %w", err)
	}
	return receipt, nil
}

func unavailableReason(v View) string {
	switch {
	case !v.LoggedIn:
		return domain.ErrNotLoggedIn.Error()
	case v.NothingToClaim:
		return domain.ErrNothingToClaim.Error()
	case v.GasLimit == nil:
		return domain.ErrGasUnknown.Error()
	default:
		return "busy"
	}
}

// Submitting reports whether a submission is in flight.
func (w *Workflow) Submitting() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.submitting
}

// Close detaches the workflow. Results of in-flight estimates are dropped
// and observers are no longer called.
func (w *Workflow) Close() {
	w.mu.Lock()
	w.closed = true
	w.generation++
	w.observers = nil
	w.mu.Unlock()
}

// IsUnavailable reports whether err is a gating refusal rather than a
// submission failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, domain.ErrExerciseUnavailable) ||
		errors.Is(err, domain.ErrSubmitInFlight) ||
		errors.Is(err, domain.ErrWorkflowClosed)
}

func (w *Workflow) notify() {
	w.mu.Lock()
	if w.closed || len(w.observers) == 0 {
		w.mu.Unlock()
		return
	}
	v := w.viewLocked(w.lastInfo)
	obs := make([]Observer, len(w.observers))
	copy(obs, w.observers)
	w.mu.Unlock()

	for _, fn := range obs {
		fn(v)
	}
}
