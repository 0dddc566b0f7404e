package domain

import (
	"context"
	"time"
)

// SnapshotCache holds the latest per-account market snapshots, refreshed by
// the watcher on its own cadence.
type SnapshotCache interface {
	Set(ctx context.Context, info AccountMarketInfo) error
	Get(ctx context.Context, market, account string) (AccountMarketInfo, error)
	Invalidate(ctx context.Context, market, account string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub for workflow events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
