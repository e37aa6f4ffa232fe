package normalizer

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/fleetingbytes/cryptoworth/internal/model"
	"github.com/fleetingbytes/cryptoworth/internal/pair"
	"github.com/fleetingbytes/cryptoworth/internal/registry"
)

// d is a test helper for creating decimals from strings.
func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func change(id, px, qty string) model.Change {
	return model.Change{ID: id, Price: d(px), Quantity: d(qty)}
}

func setup(opts Options) (*Normalizer, *registry.Registry) {
	reg := registry.New(pair.MustParse("BTC-EUR"))
	return New(reg, opts, quiet()), reg
}

func TestApply_Snapshot(t *testing.T) {
	n, reg := setup(Options{})
	res, err := n.Apply(&model.UpdateMessage{
		Kind:   model.KindSnapshot,
		Event:  "snapshot",
		Symbol: "BTC-EUR",
		Bids:   []model.Change{change("1", "100", "2"), change("2", "100", "3"), change("3", "99", "5")},
		Asks:   []model.Change{change("4", "101", "1")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Applied != 4 || res.Kind != model.KindSnapshot {
		t.Errorf("expected 4 applied snapshot changes, got %+v", res)
	}

	b, _ := reg.Lookup("BTC-EUR")
	if b.Len(model.Bids) != 3 || b.Len(model.Asks) != 1 {
		t.Errorf("expected 3 bids 1 ask, got %d %d", b.Len(model.Bids), b.Len(model.Asks))
	}
}

func TestApply_IncrementalInOrder(t *testing.T) {
	n, reg := setup(Options{})
	_, err := n.Apply(&model.UpdateMessage{
		Kind:   model.KindIncremental,
		Symbol: "BTC-EUR",
		Bids:   []model.Change{change("1", "100", "2"), change("1", "100", "0"), change("1", "98", "7")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b, _ := reg.Lookup("BTC-EUR")
	o, ok := b.Order(model.Bids, "1")
	if !ok || !o.Price.Equal(d("98")) || !o.Quantity.Equal(d("7")) {
		t.Errorf("expected last change (98,7) to win, got %+v ok=%v", o, ok)
	}
}

func TestApply_SubscriptionAckMutatesNothing(t *testing.T) {
	n, reg := setup(Options{})
	res, err := n.Apply(&model.UpdateMessage{
		Kind:    model.KindSubscriptionAck,
		Event:   "subscribed",
		Channel: "l3",
		Symbol:  "BTC-EUR",
		Bids:    []model.Change{change("1", "100", "2")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Applied != 0 {
		t.Errorf("expected nothing applied, got %d", res.Applied)
	}
	b, _ := reg.Lookup("BTC-EUR")
	if b.Len(model.Bids) != 0 {
		t.Error("ack should not touch the book")
	}
}

func TestApply_Unrecognized(t *testing.T) {
	n, reg := setup(Options{})
	_, err := n.Apply(&model.UpdateMessage{
		Kind:   model.KindUnrecognized,
		Event:  "rejected",
		Symbol: "BTC-EUR",
		Bids:   []model.Change{change("1", "100", "2")},
	})
	if !errors.Is(err, ErrUnknownUpdateKind) {
		t.Fatalf("expected ErrUnknownUpdateKind, got %v", err)
	}
	b, _ := reg.Lookup("BTC-EUR")
	if b.Len(model.Bids) != 0 {
		t.Error("unknown kind should not touch the book")
	}
}

func TestApply_UnknownSymbol(t *testing.T) {
	n, _ := setup(Options{})
	_, err := n.Apply(&model.UpdateMessage{
		Kind:   model.KindIncremental,
		Symbol: "DOGE-EUR",
		Bids:   []model.Change{change("1", "0.1", "2")},
	})
	if !errors.Is(err, registry.ErrPairNotFound) {
		t.Errorf("expected ErrPairNotFound, got %v", err)
	}
}

func TestApply_RejectsMalformedChanges(t *testing.T) {
	n, reg := setup(Options{})
	res, err := n.Apply(&model.UpdateMessage{
		Kind:   model.KindIncremental,
		Symbol: "BTC-EUR",
		Bids:   []model.Change{change("1", "100", "-1"), change("", "100", "1"), change("2", "99", "1")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Applied != 1 || res.Rejected != 2 {
		t.Errorf("expected 1 applied 2 rejected, got %+v", res)
	}
	b, _ := reg.Lookup("BTC-EUR")
	if _, ok := b.Order(model.Bids, "1"); ok {
		t.Error("negative quantity should never reach the book")
	}
}

func TestApply_SnapshotReset(t *testing.T) {
	stale := &model.UpdateMessage{
		Kind:   model.KindIncremental,
		Symbol: "BTC-EUR",
		Bids:   []model.Change{change("old", "90", "1")},
	}
	snap := &model.UpdateMessage{
		Kind:   model.KindSnapshot,
		Symbol: "BTC-EUR",
		Bids:   []model.Change{change("new", "95", "1")},
	}

	tests := []struct {
		name      string
		reset     bool
		wantStale bool
	}{
		{"plain apply keeps stale orders", false, true},
		{"reset clears stale orders", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, reg := setup(Options{ResetOnSnapshot: tt.reset})
			if _, err := n.Apply(stale); err != nil {
				t.Fatal(err)
			}
			if _, err := n.Apply(snap); err != nil {
				t.Fatal(err)
			}
			b, _ := reg.Lookup("BTC-EUR")
			if _, ok := b.Order(model.Bids, "old"); ok != tt.wantStale {
				t.Errorf("stale order present=%v, want %v", ok, tt.wantStale)
			}
			if _, ok := b.Order(model.Bids, "new"); !ok {
				t.Error("snapshot order should be resting")
			}
		})
	}
}

func TestApply_RejectsUndecodableChanges(t *testing.T) {
	n, reg := setup(Options{})
	b, _ := reg.Lookup("BTC-EUR")
	b.Apply(model.Bids, "1", d("100"), d("2"))

	res, err := n.Apply(&model.UpdateMessage{
		Kind:   model.KindIncremental,
		Symbol: "BTC-EUR",
		Bids: []model.Change{
			{ID: "1", Invalid: "qty missing"},
			change("2", "99", "3"),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Applied != 1 || res.Rejected != 1 {
		t.Errorf("expected 1 applied 1 rejected, got %+v", res)
	}
	if o, ok := b.Order(model.Bids, "1"); !ok || !o.Quantity.Equal(d("2")) {
		t.Errorf("undecodable change must not remove order 1, got %+v ok=%v", o, ok)
	}
	if _, ok := b.Order(model.Bids, "2"); !ok {
		t.Error("valid sibling change should be applied")
	}
}

func TestApply_ResubscriptionReplacesBook(t *testing.T) {
	n, reg := setup(Options{})
	ack := &model.UpdateMessage{Kind: model.KindSubscriptionAck, Channel: "l3", Symbol: "BTC-EUR"}
	first := &model.UpdateMessage{
		Kind:   model.KindSnapshot,
		Symbol: "BTC-EUR",
		Bids:   []model.Change{change("1", "100", "5"), change("2", "99", "5")},
	}
	again := &model.UpdateMessage{
		Kind:   model.KindSnapshot,
		Symbol: "BTC-EUR",
		Bids:   []model.Change{change("2", "99", "5")},
	}
	extra := &model.UpdateMessage{
		Kind:   model.KindSnapshot,
		Symbol: "BTC-EUR",
		Bids:   []model.Change{change("3", "98", "1")},
	}

	for _, msg := range []*model.UpdateMessage{ack, first, ack, again} {
		if _, err := n.Apply(msg); err != nil {
			t.Fatal(err)
		}
	}
	b, _ := reg.Lookup("BTC-EUR")
	if _, ok := b.Order(model.Bids, "1"); ok {
		t.Error("order cancelled while disconnected is still resting")
	}
	if lv := b.Level2(model.Bids); len(lv) != 1 || !lv[0].Price.Equal(d("99")) {
		t.Errorf("expected only the 99 level, got %v", lv)
	}

	// Without a new acknowledgement a snapshot merges again.
	if _, err := n.Apply(extra); err != nil {
		t.Fatal(err)
	}
	if b.Len(model.Bids) != 2 {
		t.Errorf("expected 2 resting bids, got %d", b.Len(model.Bids))
	}
}
