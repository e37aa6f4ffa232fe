// Package normalizer routes decoded feed messages to the order book they
// belong to and applies their per-order changes.
package normalizer

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/fleetingbytes/cryptoworth/internal/book"
	"github.com/fleetingbytes/cryptoworth/internal/model"
	"github.com/fleetingbytes/cryptoworth/internal/registry"
)

// ErrUnknownUpdateKind is returned for messages whose kind is not handled.
// Such messages mutate nothing.
var ErrUnknownUpdateKind = errors.New("normalizer: unknown update kind")

// Options tunes how messages are applied.
type Options struct {
	// ResetOnSnapshot clears both sides of a book before applying every
	// snapshot. Without it only the first snapshot after a subscription
	// acknowledgement clears the book.
	ResetOnSnapshot bool
}

// Result describes what one Apply call did.
type Result struct {
	Kind     model.Kind `json:"kind"`
	Symbol   string     `json:"symbol,omitempty"`
	Applied  int        `json:"applied"`  // changes written to the book
	Rejected int        `json:"rejected"` // malformed changes skipped
}

// Normalizer applies update messages to a registry's books. It is not safe
// for concurrent use.
type Normalizer struct {
	reg    *registry.Registry
	opts   Options
	logger *slog.Logger

	// resync holds symbols acknowledged since their last snapshot.
	resync map[string]bool
}

// New creates a normalizer over reg.
func New(reg *registry.Registry, opts Options, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{
		reg:    reg,
		opts:   opts,
		logger: logger.With(slog.String("component", "normalizer")),
		resync: make(map[string]bool),
	}
}

// Apply dispatches msg by kind.
//
// Snapshots and incremental updates apply every bid change, then every ask
// change, in message order. A subscription acknowledgement changes no book
// but marks its symbol, so the snapshot that follows a (re)subscription
// replaces the book instead of merging into it. Unrecognized kinds return ErrUnknownUpdateKind. A symbol
// with no registered book returns registry.ErrPairNotFound and the message is
// skipped.
func (n *Normalizer) Apply(msg *model.UpdateMessage) (Result, error) {
	res := Result{Kind: msg.Kind, Symbol: msg.Symbol}

	switch msg.Kind {
	case model.KindSnapshot, model.KindIncremental:
		b, err := n.reg.Lookup(msg.Symbol)
		if err != nil {
			return res, err
		}
		if msg.Kind == model.KindSnapshot && (n.opts.ResetOnSnapshot || n.resync[msg.Symbol]) {
			delete(n.resync, msg.Symbol)
			b.Reset()
			n.logger.Debug("book reset for snapshot",
				slog.String("symbol", msg.Symbol),
				slog.String("seqnum", msg.Sequence),
			)
		}
		n.applySide(b, model.Bids, msg, &res)
		n.applySide(b, model.Asks, msg, &res)
		return res, nil

	case model.KindSubscriptionAck:
		if msg.Symbol != "" {
			n.resync[msg.Symbol] = true
		}
		n.logger.Info("subscription acknowledged",
			slog.String("channel", msg.Channel),
			slog.String("symbol", msg.Symbol),
			slog.String("seqnum", msg.Sequence),
		)
		return res, nil

	case model.KindUnrecognized:
		return res, fmt.Errorf("%w: %q", ErrUnknownUpdateKind, msg.Event)
	}
	return res, fmt.Errorf("%w: kind %d", ErrUnknownUpdateKind, int(msg.Kind))
}

func (n *Normalizer) applySide(b *book.OrderBook, s model.Side, msg *model.UpdateMessage, res *Result) {
	changes := msg.Bids
	if s == model.Asks {
		changes = msg.Asks
	}
	for _, c := range changes {
		if c.Invalid != "" || c.ID == "" || c.Quantity.IsNegative() {
			res.Rejected++
			n.logger.Warn("malformed change skipped",
				slog.String("symbol", msg.Symbol),
				slog.String("side", s.String()),
				slog.String("id", c.ID),
				slog.String("qty", c.Quantity.String()),
				slog.String("reason", c.Invalid),
				slog.String("seqnum", msg.Sequence),
			)
			continue
		}
		b.Apply(s, c.ID, c.Price, c.Quantity)
		res.Applied++
	}
}
