package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/optionsd/internal/domain"
)

// DefaultSnapshotTTL applies when NewSnapshotCache is given a zero TTL.
const DefaultSnapshotTTL = 5 * time.Minute

// SnapshotCache implements domain.SnapshotCache with one JSON string per
// (market, account):
//
//	snapshot:{market}:{account}
//
// Addresses are lower-cased so checksum and plain hex forms share a key.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache backed by c.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &SnapshotCache{rdb: c.Underlying(), ttl: ttl}
}

func snapshotKey(market, account string) string {
	return "snapshot:" + strings.ToLower(market) + ":" + strings.ToLower(account)
}

// Set stores info under its market and account.
func (sc *SnapshotCache) Set(ctx context.Context, info domain.AccountMarketInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s/%s: %w", info.Market, info.Account, err)
	}
	if err := sc.rdb.Set(ctx, snapshotKey(info.Market, info.Account), data, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s/%s: %w", info.Market, info.Account, err)
	}
	return nil
}

// Get returns the cached snapshot or domain.ErrNotFound.
func (sc *SnapshotCache) Get(ctx context.Context, market, account string) (domain.AccountMarketInfo, error) {
	var info domain.AccountMarketInfo
	data, err := sc.rdb.Get(ctx, snapshotKey(market, account)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return info, fmt.Errorf("redis: snapshot %s/%s: %w", market, account, domain.ErrNotFound)
		}
		return info, fmt.Errorf("redis: get snapshot %s/%s: %w", market, account, err)
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("redis: unmarshal snapshot %s/%s: %w", market, account, err)
	}
	return info, nil
}

// Invalidate drops the cached snapshot so the next read goes to the chain.
func (sc *SnapshotCache) Invalidate(ctx context.Context, market, account string) error {
	if err := sc.rdb.Del(ctx, snapshotKey(market, account)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate snapshot %s/%s: %w", market, account, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
