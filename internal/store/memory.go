package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/fleetingbytes/cryptoworth/internal/model"
)

// defaultRetain bounds the frames a MemoryStore keeps.
const defaultRetain = 10000

// MemoryStore implements Store with in-memory slices and maps. Used for
// testing and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	retain     int
	messages   []model.RawMessage
	valuations map[string]*model.Valuation // latest per wallet
}

// NewMemoryStore creates a new in-memory store that keeps the latest
// retain frames. retain <= 0 uses a default of 10000.
func NewMemoryStore(retain int) *MemoryStore {
	if retain <= 0 {
		retain = defaultRetain
	}
	return &MemoryStore{
		retain:     retain,
		valuations: make(map[string]*model.Valuation),
	}
}

func (s *MemoryStore) AppendMessage(_ context.Context, msg *model.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	m := *msg
	m.Payload = append([]byte(nil), msg.Payload...)
	s.messages = append(s.messages, m)
	if over := len(s.messages) - s.retain; over > 0 {
		s.messages = append(s.messages[:0:0], s.messages[over:]...)
	}
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, channel string, limit int) ([]model.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = normLimit(limit)
	var result []model.RawMessage
	// Walk back from the newest, then restore receipt order.
	for i := len(s.messages) - 1; i >= 0 && len(result) < limit; i-- {
		if channel == "" || s.messages[i].Channel == channel {
			result = append(result, s.messages[i])
		}
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

func (s *MemoryStore) SaveValuation(_ context.Context, v *model.Valuation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.valuations[v.Wallet]; ok && prev.ComputedAt.After(v.ComputedAt) {
		return nil
	}
	copy := *v
	copy.Legs = append([]model.Leg(nil), v.Legs...)
	s.valuations[v.Wallet] = &copy
	return nil
}

func (s *MemoryStore) LatestValuation(_ context.Context, wallet string) (*model.Valuation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.valuations[wallet]
	if !ok {
		return nil, fmt.Errorf("%w: valuation of wallet %s", ErrNotFound, wallet)
	}
	copy := *v
	copy.Legs = append([]model.Leg(nil), v.Legs...)
	return &copy, nil
}
