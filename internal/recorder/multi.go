package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fleetingbytes/cryptoworth/internal/model"
)

// MessageStore is the part of the store the recorder writes to.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *model.RawMessage) error
}

// StoreSink appends each frame to a MessageStore.
type StoreSink struct {
	store MessageStore
}

// NewStoreSink wraps s as a Sink.
func NewStoreSink(s MessageStore) *StoreSink {
	return &StoreSink{store: s}
}

func (s *StoreSink) Record(ctx context.Context, msg model.RawMessage) error {
	if err := s.store.AppendMessage(ctx, &msg); err != nil {
		return fmt.Errorf("recorder: append message: %w", err)
	}
	return nil
}

// Multi records each frame in every sink, in order. A failing sink does not
// stop the others; their errors are joined.
type Multi []Sink

func (m Multi) Record(ctx context.Context, msg model.RawMessage) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that implements io.Closer.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
