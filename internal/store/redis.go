package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fleetingbytes/cryptoworth/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the latest valuation of each wallet. Writes go to the primary
// store first; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through ---

func (s *CachedStore) SaveValuation(ctx context.Context, v *model.Valuation) error {
	if err := s.primary.SaveValuation(ctx, v); err != nil {
		return err
	}
	// The new valuation is the latest; overwrite rather than invalidate.
	s.cacheValuation(ctx, v)
	return nil
}

// --- Read-through ---

func (s *CachedStore) LatestValuation(ctx context.Context, wallet string) (*model.Valuation, error) {
	data, err := s.rdb.Get(ctx, valuationKey(wallet)).Bytes()
	if err == nil {
		var v model.Valuation
		if json.Unmarshal(data, &v) == nil {
			return &v, nil
		}
	}

	v, err := s.primary.LatestValuation(ctx, wallet)
	if err != nil {
		return nil, err
	}
	s.cacheValuation(ctx, v)
	return v, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) AppendMessage(ctx context.Context, msg *model.RawMessage) error {
	return s.primary.AppendMessage(ctx, msg)
}

func (s *CachedStore) ListMessages(ctx context.Context, channel string, limit int) ([]model.RawMessage, error) {
	return s.primary.ListMessages(ctx, channel, limit)
}

// --- Cache helpers ---

func (s *CachedStore) cacheValuation(ctx context.Context, v *model.Valuation) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, valuationKey(v.Wallet), data, s.ttl)
	}
}

func valuationKey(wallet string) string { return fmt.Sprintf("valuation:latest:%s", wallet) }
