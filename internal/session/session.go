// Package session runs the feed processing loop and serves the reconstructed
// books and on-demand wallet valuations over HTTP.
//
// One goroutine applies messages; HTTP handlers read from others. A single
// mutex is held for the whole of each message and for each read, so a reader
// never observes a half-applied message.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/fleetingbytes/cryptoworth/internal/book"
	"github.com/fleetingbytes/cryptoworth/internal/feed"
	"github.com/fleetingbytes/cryptoworth/internal/metrics"
	"github.com/fleetingbytes/cryptoworth/internal/model"
	"github.com/fleetingbytes/cryptoworth/internal/normalizer"
	"github.com/fleetingbytes/cryptoworth/internal/pair"
	"github.com/fleetingbytes/cryptoworth/internal/registry"
	"github.com/fleetingbytes/cryptoworth/internal/store"
	"github.com/fleetingbytes/cryptoworth/internal/wallet"
)

// ErrWalletNotFound is returned for a wallet name that is not configured.
var ErrWalletNotFound = errors.New("session: wallet not found")

// Source yields raw frames one at a time. io.EOF ends a finite source.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
}

// Sink receives every raw frame, unmodified, before it is decoded.
type Sink interface {
	Record(ctx context.Context, msg model.RawMessage) error
}

// Config wires a Session.
type Config struct {
	Registry *registry.Registry
	Options  normalizer.Options
	Store    store.Store
	Sink     Sink   // optional
	Hub      *WSHub // optional
	Wallets  []*wallet.Wallet
	Logger   *slog.Logger
}

// Session owns the books and applies the feed to them.
type Session struct {
	mu        sync.Mutex
	reg       *registry.Registry
	norm      *normalizer.Normalizer
	processed uint64
	lastSeq   string

	store   store.Store
	sink    Sink
	hub     *WSHub
	wallets map[string]*wallet.Wallet
	names   []string
	logger  *slog.Logger
	started time.Time
}

// New creates a session from cfg.
func New(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		reg:     cfg.Registry,
		norm:    normalizer.New(cfg.Registry, cfg.Options, logger),
		store:   cfg.Store,
		sink:    cfg.Sink,
		hub:     cfg.Hub,
		wallets: make(map[string]*wallet.Wallet, len(cfg.Wallets)),
		logger:  logger.With(slog.String("component", "session")),
		started: time.Now().UTC(),
	}
	for _, w := range cfg.Wallets {
		if _, dup := s.wallets[w.Name()]; !dup {
			s.names = append(s.names, w.Name())
		}
		s.wallets[w.Name()] = w
	}
	return s
}

// Run pulls frames from src and processes each one to completion before
// pulling the next. It returns nil when src is exhausted, and ctx's error
// when ctx is done. Cancellation is observed only between messages.
func (s *Session) Run(ctx context.Context, src Source) error {
	s.logger.Info("session started", slog.Any("pairs", s.reg.Pairs()))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			s.logger.Info("source exhausted", slog.Uint64("processed", s.Processed()))
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("session: next frame: %w", err)
		}
		s.Process(context.WithoutCancel(ctx), frame, time.Now())
	}
}

// Process records, decodes and applies one frame. No condition here is
// fatal: failures are logged and counted, and the frame is skipped.
func (s *Session) Process(ctx context.Context, frame []byte, receivedAt time.Time) {
	start := time.Now()
	raw := feed.Envelope(frame, receivedAt)

	if s.sink != nil {
		if err := s.sink.Record(ctx, raw); err != nil {
			metrics.RecordErrors.Inc()
			s.logger.Error("record frame failed",
				slog.String("channel", raw.Channel),
				slog.String("seqnum", raw.Sequence),
				slog.String("error", err.Error()),
			)
		}
	}

	msg, err := feed.Decode(frame)
	if err != nil {
		metrics.MalformedFrames.Inc()
		metrics.MessagesTotal.WithLabelValues(raw.Channel, "malformed").Inc()
		s.logger.Warn("malformed frame",
			slog.String("channel", raw.Channel),
			slog.String("id", raw.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	metrics.MessagesTotal.WithLabelValues(msg.Channel, msg.Kind.String()).Inc()

	// Only order book frames reach the books. Other channels are recorded
	// above and otherwise ignored.
	if msg.Channel != "" && msg.Channel != "l3" {
		return
	}

	s.mu.Lock()
	res, err := s.norm.Apply(msg)
	s.processed++
	if msg.Sequence != "" {
		s.lastSeq = msg.Sequence
	}
	var ev *BookEvent
	if err == nil && res.Applied > 0 {
		b, _ := s.reg.Lookup(msg.Symbol)
		ev = bookEvent(b, msg.Sequence, res.Applied)
	}
	s.mu.Unlock()
	metrics.ApplyLatency.Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, registry.ErrPairNotFound):
		metrics.PairNotFound.WithLabelValues("feed").Inc()
		s.logger.Warn("message for unknown pair skipped",
			slog.String("symbol", msg.Symbol),
			slog.String("seqnum", msg.Sequence),
		)
	case errors.Is(err, normalizer.ErrUnknownUpdateKind):
		metrics.UnknownKind.Inc()
		s.logger.Debug("message of unknown kind discarded",
			slog.String("event", msg.Event),
			slog.String("seqnum", msg.Sequence),
		)
	case err != nil:
		s.logger.Error("apply failed", slog.String("error", err.Error()))
	}

	if ev != nil {
		metrics.RestingOrders.WithLabelValues(ev.Symbol, "bids").Set(float64(ev.Bids))
		metrics.RestingOrders.WithLabelValues(ev.Symbol, "asks").Set(float64(ev.Asks))
		if s.hub != nil {
			s.hub.Broadcast(*ev)
		}
	}
}

// Processed returns the number of decoded order book messages handled.
func (s *Session) Processed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed
}

// BookSummary describes one book without its levels.
type BookSummary struct {
	Symbol  string       `json:"symbol"`
	Bids    int          `json:"bids"`
	Asks    int          `json:"asks"`
	BestBid *model.Level `json:"best_bid,omitempty"`
	BestAsk *model.Level `json:"best_ask,omitempty"`
}

func summarize(b *book.OrderBook) BookSummary {
	sum := BookSummary{
		Symbol: b.Symbol().String(),
		Bids:   b.Len(model.Bids),
		Asks:   b.Len(model.Asks),
	}
	if l, ok := b.Best(model.Bids); ok {
		sum.BestBid = &l
	}
	if l, ok := b.Best(model.Asks); ok {
		sum.BestAsk = &l
	}
	return sum
}

// Books summarizes every registered book, sorted by symbol.
func (s *Session) Books() []BookSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	pairs := s.reg.Pairs()
	out := make([]BookSummary, 0, len(pairs))
	for _, p := range pairs {
		b, _ := s.reg.Book(p)
		out = append(out, summarize(b))
	}
	return out
}

// Level2 returns the aggregated view of one side of p's book, truncated to
// depth levels when depth > 0.
func (s *Session) Level2(p pair.Pair, side model.Side, depth int) ([]model.Level, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.reg.Book(p)
	if !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrPairNotFound, p)
	}
	levels := b.Level2(side)
	if depth > 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	return levels, nil
}

// Wallets returns the configured wallets in configuration order.
func (s *Session) Wallets() []*wallet.Wallet {
	out := make([]*wallet.Wallet, 0, len(s.names))
	for _, n := range s.names {
		out = append(out, s.wallets[n])
	}
	return out
}

// Valuate values the named wallet against the current books and saves the
// result.
func (s *Session) Valuate(ctx context.Context, name string) (*model.Valuation, error) {
	w, ok := s.wallets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, name)
	}

	start := time.Now()
	s.mu.Lock()
	v := w.Valuate(s.reg)
	s.mu.Unlock()
	metrics.ValuationLatency.Observe(time.Since(start).Seconds())

	for _, leg := range v.Legs {
		switch leg.Status {
		case model.LegUnpriced:
			metrics.PairNotFound.WithLabelValues("valuation").Inc()
			s.logger.Warn("valuation leg unpriced",
				slog.String("wallet", name),
				slog.String("currency", leg.Currency),
				slog.String("error", leg.Error),
			)
		case model.LegPartial:
			metrics.PartialFills.WithLabelValues(leg.Currency).Inc()
			s.logger.Warn("valuation leg ran out of liquidity",
				slog.String("wallet", name),
				slog.String("currency", leg.Currency),
				slog.String("pair", leg.Pair),
				slog.String("remaining", leg.Remaining.String()),
			)
		}
	}
	metrics.ValuationTotal.WithLabelValues(name, v.Quote).Set(v.Total.InexactFloat64())

	if err := s.store.SaveValuation(ctx, v); err != nil {
		return v, fmt.Errorf("session: save valuation: %w", err)
	}

	s.logger.Info("wallet valued",
		slog.String("wallet", name),
		slog.String("id", v.ID),
		slog.String("total", w.Round(v.Quote, v.Total).String()),
		slog.String("quote", v.Quote),
		slog.Bool("complete", v.Complete),
	)
	return v, nil
}

// LatestValuation returns the last saved valuation of the named wallet.
func (s *Session) LatestValuation(ctx context.Context, name string) (*model.Valuation, error) {
	if _, ok := s.wallets[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, name)
	}
	return s.store.LatestValuation(ctx, name)
}
