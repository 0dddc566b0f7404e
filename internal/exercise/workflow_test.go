package exercise

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/optionsd/internal/domain"
)

type fakeBinding struct {
	mu          sync.Mutex
	estimate    uint64
	estimateErr error
	submitErr   error
	failReceipt *domain.Receipt
	estimates   int
	submits     []uint64

	// duringSubmit runs inside SubmitExercise before it returns.
	duringSubmit func()
}

func (f *fakeBinding) EstimateExercise(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimates++
	return f.estimate, f.estimateErr
}

func (f *fakeBinding) SubmitExercise(ctx context.Context, gasLimit uint64) (*domain.Receipt, error) {
	f.mu.Lock()
	f.submits = append(f.submits, gasLimit)
	during, err, failed := f.duringSubmit, f.submitErr, f.failReceipt
	f.mu.Unlock()
	if during != nil {
		during()
	}
	if err != nil {
		return failed, err
	}
	return &domain.Receipt{TxHash: "0xfeed", GasUsed: 21000, Success: true}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newWorkflow(b Binding) *Workflow {
	return New(Config{Market: "0xmarket", Account: "0xacct", PaySign: "$"}, b, discardLogger())
}

func claimable(long, short int64) domain.AccountMarketInfo {
	return domain.AccountMarketInfo{
		Market:  "0xmarket",
		Account: "0xacct",
		Claimable: domain.LongShort{
			Long:  decimal.NewFromInt(long),
			Short: decimal.NewFromInt(short),
		},
		Result: domain.SideLong,
	}
}

func TestNormalizeGasLimit(t *testing.T) {
	if got := NormalizeGasLimit(100000, DefaultGasBuffer); got != 105000 {
		t.Fatalf("NormalizeGasLimit = %d", got)
	}
}

func TestLoggedOutNeverEstimates(t *testing.T) {
	b := &fakeBinding{estimate: 50000}
	w := newWorkflow(b)
	ctx := context.Background()

	w.SetLoggedIn(ctx, false)
	w.SetLoggedIn(ctx, false)

	v := w.View(claimable(10, 0))
	if v.GasLimit != nil {
		t.Fatalf("GasLimit = %d while logged out", *v.GasLimit)
	}
	if b.estimates != 0 {
		t.Fatalf("estimates = %d while logged out", b.estimates)
	}
	if v.CanExercise {
		t.Fatal("CanExercise while logged out")
	}
	if err := w.RetryEstimate(ctx); !errors.Is(err, domain.ErrNotLoggedIn) {
		t.Fatalf("RetryEstimate logged out: err = %v", err)
	}
}

func TestLoginTriggersEstimateOnce(t *testing.T) {
	b := &fakeBinding{estimate: 50000}
	w := newWorkflow(b)
	ctx := context.Background()

	w.SetLoggedIn(ctx, true)
	w.SetLoggedIn(ctx, true)

	if b.estimates != 1 {
		t.Fatalf("estimates = %d, want 1", b.estimates)
	}
	v := w.View(claimable(10, 0))
	if v.GasLimit == nil || *v.GasLimit != 55000 {
		t.Fatalf("GasLimit = %v, want 55000", v.GasLimit)
	}
	if !v.CanExercise || v.Label != LabelExercise {
		t.Fatalf("view = %+v", v)
	}
	if v.Payout != "$10.00" {
		t.Fatalf("Payout = %q", v.Payout)
	}

	w.SetLoggedIn(ctx, false)
	if v := w.View(claimable(10, 0)); v.GasLimit != nil {
		t.Fatal("logout kept gas limit")
	}
	w.SetLoggedIn(ctx, true)
	if b.estimates != 2 {
		t.Fatalf("re-login estimates = %d, want 2", b.estimates)
	}
}

func TestEstimateFailureDegradesToUnready(t *testing.T) {
	b := &fakeBinding{estimateErr: errors.New("execution reverted")}
	w := newWorkflow(b)
	ctx := context.Background()

	w.SetLoggedIn(ctx, true)
	v := w.View(claimable(10, 0))
	if v.GasLimit != nil || v.CanExercise {
		t.Fatalf("view after failed estimate = %+v", v)
	}
	if v.LastError == "" {
		t.Fatal("estimate failure not recorded")
	}
	if b.estimates != 1 {
		t.Fatalf("estimate retried automatically: %d calls", b.estimates)
	}

	b.mu.Lock()
	b.estimateErr = nil
	b.estimate = 1000
	b.mu.Unlock()
	if err := w.RetryEstimate(ctx); err != nil {
		t.Fatalf("RetryEstimate: %v", err)
	}
	v = w.View(claimable(10, 0))
	if v.GasLimit == nil || *v.GasLimit != 6000 || v.LastError != "" {
		t.Fatalf("view after retry = %+v", v)
	}
}

func TestNothingToClaim(t *testing.T) {
	b := &fakeBinding{estimate: 50000}
	w := newWorkflow(b)
	ctx := context.Background()
	w.SetLoggedIn(ctx, true)

	v := w.View(claimable(0, 0))
	if v.CanExercise {
		t.Fatal("CanExercise with nothing to claim")
	}
	if v.Label != LabelNothingToClaim {
		t.Fatalf("Label = %q", v.Label)
	}
	if _, err := w.Exercise(ctx, claimable(0, 0)); !errors.Is(err, domain.ErrExerciseUnavailable) {
		t.Fatalf("Exercise with nothing to claim: err = %v", err)
	}
	if len(b.submits) != 0 {
		t.Fatal("submitted with nothing to claim")
	}
}

func TestNothingToClaimLabelWinsWhileSubmitting(t *testing.T) {
	b := &fakeBinding{estimate: 50000}
	w := newWorkflow(b)
	ctx := context.Background()
	w.SetLoggedIn(ctx, true)

	var during View
	b.duringSubmit = func() { during = w.View(claimable(0, 0)) }
	if _, err := w.Exercise(ctx, claimable(5, 0)); err != nil {
		t.Fatalf("Exercise: %v", err)
	}
	if !during.Submitting {
		t.Fatal("not submitting during call")
	}
	if during.Label != LabelNothingToClaim || during.CanExercise {
		t.Fatalf("view during submit with zero claimable = %+v", during)
	}
}

func TestExerciseClearsSubmittingOnEveryOutcome(t *testing.T) {
	for _, submitErr := range []error{nil, errors.New("nonce too low")} {
		name := "success"
		if submitErr != nil {
			name = "failure"
		}
		t.Run(name, func(t *testing.T) {
			b := &fakeBinding{estimate: 50000, submitErr: submitErr}
			w := newWorkflow(b)
			ctx := context.Background()
			w.SetLoggedIn(ctx, true)

			var sawSubmitting bool
			var label string
			b.duringSubmit = func() {
				sawSubmitting = w.Submitting()
				label = w.View(claimable(5, 0)).Label
			}

			receipt, err := w.Exercise(ctx, claimable(5, 0))
			if !sawSubmitting || label != LabelSubmitting {
				t.Fatalf("during call: submitting=%v label=%q", sawSubmitting, label)
			}
			if w.Submitting() {
				t.Fatal("still submitting after call")
			}
			if submitErr == nil {
				if err != nil || receipt == nil || receipt.TxHash != "0xfeed" {
					t.Fatalf("Exercise = %+v, %v", receipt, err)
				}
			} else if err == nil || IsUnavailable(err) {
				t.Fatalf("Exercise failure err = %v", err)
			}
			if len(b.submits) != 1 || b.submits[0] != 55000 {
				t.Fatalf("submits = %v", b.submits)
			}
		})
	}
}

func TestRevertedExerciseKeepsReceipt(t *testing.T) {
	b := &fakeBinding{
		estimate:    50000,
		submitErr:   domain.ErrTxReverted,
		failReceipt: &domain.Receipt{TxHash: "0xdead", GasUsed: 48000},
	}
	w := newWorkflow(b)
	ctx := context.Background()
	w.SetLoggedIn(ctx, true)

	receipt, err := w.Exercise(ctx, claimable(5, 0))
	if !errors.Is(err, domain.ErrTxReverted) {
		t.Fatalf("err = %v, want ErrTxReverted", err)
	}
	if receipt == nil || receipt.TxHash != "0xdead" {
		t.Fatalf("receipt = %+v", receipt)
	}
	if v := w.Current(); v.LastError == "" || v.Submitting {
		t.Errorf("view = %+v", v)
	}
}

func TestSecondSubmitRefusedWhileInFlight(t *testing.T) {
	b := &fakeBinding{estimate: 50000}
	w := newWorkflow(b)
	ctx := context.Background()
	w.SetLoggedIn(ctx, true)

	var inner error
	b.duringSubmit = func() {
		_, inner = w.Exercise(ctx, claimable(5, 0))
	}
	if _, err := w.Exercise(ctx, claimable(5, 0)); err != nil {
		t.Fatalf("Exercise: %v", err)
	}
	if !errors.Is(inner, domain.ErrSubmitInFlight) {
		t.Fatalf("nested Exercise err = %v", inner)
	}
	if len(b.submits) != 1 {
		t.Fatalf("submits = %d", len(b.submits))
	}
}

func TestClosedWorkflowDropsResults(t *testing.T) {
	b := &fakeBinding{estimate: 50000}
	w := newWorkflow(b)
	ctx := context.Background()

	var events int
	w.Observe(func(View) { events++ })
	w.Close()
	w.SetLoggedIn(ctx, true)

	if b.estimates != 0 {
		t.Fatal("closed workflow estimated")
	}
	if events != 0 {
		t.Fatalf("observer called %d times after close", events)
	}
	if _, err := w.Exercise(ctx, claimable(5, 0)); !errors.Is(err, domain.ErrWorkflowClosed) {
		t.Fatalf("Exercise after close: err = %v", err)
	}
}

func TestObserverSeesTransitions(t *testing.T) {
	b := &fakeBinding{estimate: 50000}
	w := newWorkflow(b)
	ctx := context.Background()

	var labels []string
	var estimating []bool
	w.Observe(func(v View) {
		labels = append(labels, v.Label)
		estimating = append(estimating, v.Estimating)
	})
	w.View(claimable(5, 0))
	w.SetLoggedIn(ctx, true)
	if len(estimating) != 2 || !estimating[0] || estimating[1] {
		t.Fatalf("estimating transitions = %v", estimating)
	}
	if _, err := w.Exercise(ctx, claimable(5, 0)); err != nil {
		t.Fatal(err)
	}
	want := []string{LabelExercise, LabelExercise, LabelSubmitting, LabelExercise}
	if len(labels) != len(want) {
		t.Fatalf("labels = %v, want %v", labels, want)
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Fatalf("labels = %v, want %v", labels, want)
		}
	}
}
