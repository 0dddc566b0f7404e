package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists options market metadata.
type MarketStore interface {
	Upsert(ctx context.Context, market OptionsMarket) error
	GetByAddress(ctx context.Context, address string) (OptionsMarket, error)
	ListByPhase(ctx context.Context, phase Phase, opts ListOpts) ([]OptionsMarket, error)
}

// CreationStore persists market-creation requests.
type CreationStore interface {
	Create(ctx context.Context, req CreationRequest) error
	UpdateStatus(ctx context.Context, id string, status CreationStatus, txHash, errMsg string) error
	Confirm(ctx context.Context, id, txHash, marketAddress string) error
	GetByID(ctx context.Context, id string) (CreationRequest, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]CreationRequest, error)
}

// ExerciseStore persists exercise attempts.
type ExerciseStore interface {
	Create(ctx context.Context, attempt ExerciseAttempt) error
	Finish(ctx context.Context, id string, status ExerciseStatus, txHash, errMsg string, at time.Time) error
	ListByAccount(ctx context.Context, account string, opts ListOpts) ([]ExerciseAttempt, error)
	ListByMarket(ctx context.Context, market string, opts ListOpts) ([]ExerciseAttempt, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
