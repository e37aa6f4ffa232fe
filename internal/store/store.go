// Package store defines the persistence interface for cryptoworth.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Only raw feed frames and valuation results are persisted. Order book state
// is rebuilt from the feed and never stored.
package store

import (
	"context"
	"errors"

	"github.com/fleetingbytes/cryptoworth/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// DefaultListLimit caps ListMessages when the caller passes limit <= 0.
const DefaultListLimit = 100

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Raw message journal ---

	// AppendMessage records one raw frame.
	AppendMessage(ctx context.Context, msg *model.RawMessage) error

	// ListMessages returns the latest limit frames of channel, oldest first.
	// An empty channel matches every channel.
	ListMessages(ctx context.Context, channel string, limit int) ([]model.RawMessage, error)

	// --- Valuations ---

	// SaveValuation persists a computed valuation.
	SaveValuation(ctx context.Context, v *model.Valuation) error

	// LatestValuation returns the most recent valuation of wallet, or
	// ErrNotFound.
	LatestValuation(ctx context.Context, wallet string) (*model.Valuation, error)
}

func normLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
