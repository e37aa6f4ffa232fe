package book

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/fleetingbytes/cryptoworth/internal/model"
	"github.com/fleetingbytes/cryptoworth/internal/pair"
)

// d is a test helper for creating decimals from strings.
func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// sampleBook builds bids {1:(100,2), 2:(100,3), 3:(99,5)}.
func sampleBook() *OrderBook {
	b := New(pair.MustParse("BTC-EUR"))
	b.Apply(model.Bids, "1", d("100"), d("2"))
	b.Apply(model.Bids, "2", d("100"), d("3"))
	b.Apply(model.Bids, "3", d("99"), d("5"))
	return b
}

func assertLevels(t *testing.T, got []model.Level, want [][2]string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d levels, got %d: %v", len(want), len(got), got)
	}
	for i, w := range want {
		if !got[i].Price.Equal(d(w[0])) || !got[i].Quantity.Equal(d(w[1])) {
			t.Errorf("level %d: expected (%s,%s), got (%s,%s)",
				i, w[0], w[1], got[i].Price, got[i].Quantity)
		}
	}
}

// --- Apply tests ---

func TestLevel2_FoldsByPrice(t *testing.T) {
	b := sampleBook()
	assertLevels(t, b.Level2(model.Bids), [][2]string{{"100", "5"}, {"99", "5"}})
}

func TestApply_ZeroQuantityRemoves(t *testing.T) {
	b := sampleBook()
	b.Apply(model.Bids, "1", d("100"), d("0"))

	if _, ok := b.Order(model.Bids, "1"); ok {
		t.Error("order 1 should have been removed")
	}
	assertLevels(t, b.Level2(model.Bids), [][2]string{{"100", "3"}, {"99", "5"}})
}

func TestApply_RemovalOfAbsentOrderIsNoop(t *testing.T) {
	b := sampleBook()
	b.Apply(model.Bids, "42", d("100"), d("0"))
	b.Apply(model.Asks, "1", d("100"), d("0")) // id 1 exists only on the bid side

	if b.Len(model.Bids) != 3 {
		t.Errorf("expected 3 bids, got %d", b.Len(model.Bids))
	}
	if b.Len(model.Asks) != 0 {
		t.Errorf("expected 0 asks, got %d", b.Len(model.Asks))
	}
	assertLevels(t, b.Level2(model.Bids), [][2]string{{"100", "5"}, {"99", "5"}})
}

func TestApply_NegativeQuantityIgnored(t *testing.T) {
	b := sampleBook()
	b.Apply(model.Bids, "1", d("100"), d("-2"))
	b.Apply(model.Bids, "9", d("98"), d("-1"))

	if o, ok := b.Order(model.Bids, "1"); !ok || !o.Quantity.Equal(d("2")) {
		t.Errorf("order 1 should be unchanged, got %+v ok=%v", o, ok)
	}
	if _, ok := b.Order(model.Bids, "9"); ok {
		t.Error("negative quantity should not create an order")
	}
	if b.Len(model.Bids) != 3 {
		t.Errorf("expected 3 bids, got %d", b.Len(model.Bids))
	}
}

func TestApply_Idempotent(t *testing.T) {
	once := New(pair.MustParse("BTC-EUR"))
	once.Apply(model.Asks, "7", d("101.5"), d("0.25"))

	twice := New(pair.MustParse("BTC-EUR"))
	twice.Apply(model.Asks, "7", d("101.5"), d("0.25"))
	twice.Apply(model.Asks, "7", d("101.5"), d("0.25"))

	a, _ := once.Order(model.Asks, "7")
	b, ok := twice.Order(model.Asks, "7")
	if !ok {
		t.Fatal("order 7 should be resting")
	}
	if a.ID != b.ID || !a.Price.Equal(b.Price) || !a.Quantity.Equal(b.Quantity) {
		t.Errorf("expected %+v, got %+v", a, b)
	}
	if once.Len(model.Asks) != twice.Len(model.Asks) {
		t.Errorf("order counts differ: %d vs %d", once.Len(model.Asks), twice.Len(model.Asks))
	}
}

func TestApply_LastWriteWins(t *testing.T) {
	tests := []struct {
		name    string
		updates [][2]string // price, qty
		want    *[2]string  // nil = absent
	}{
		{"single insert", [][2]string{{"10", "1"}}, &[2]string{"10", "1"}},
		{"overwrite price and qty", [][2]string{{"10", "1"}, {"11", "4"}}, &[2]string{"11", "4"}},
		{"insert then remove", [][2]string{{"10", "1"}, {"10", "0"}}, nil},
		{"remove then reinsert", [][2]string{{"10", "1"}, {"10", "0"}, {"12", "2"}}, &[2]string{"12", "2"}},
		{"remove only", [][2]string{{"10", "0"}}, nil},
		{"repeat", [][2]string{{"10", "1"}, {"10", "1"}, {"10", "1"}}, &[2]string{"10", "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(pair.MustParse("ETH-EUR"))
			for _, u := range tt.updates {
				b.Apply(model.Bids, "x", d(u[0]), d(u[1]))
			}
			o, ok := b.Order(model.Bids, "x")
			if tt.want == nil {
				if ok {
					t.Errorf("expected no order, got %+v", o)
				}
				return
			}
			if !ok {
				t.Fatal("expected order to be resting")
			}
			if !o.Price.Equal(d(tt.want[0])) || !o.Quantity.Equal(d(tt.want[1])) {
				t.Errorf("expected (%s,%s), got (%s,%s)", tt.want[0], tt.want[1], o.Price, o.Quantity)
			}
		})
	}
}

// --- Level-2 tests ---

func TestLevel2_AsksAscending(t *testing.T) {
	b := New(pair.MustParse("BTC-EUR"))
	b.Apply(model.Asks, "a", d("102"), d("1"))
	b.Apply(model.Asks, "b", d("101"), d("2"))
	b.Apply(model.Asks, "c", d("103"), d("3"))
	b.Apply(model.Asks, "d", d("101"), d("0.5"))

	assertLevels(t, b.Level2(model.Asks), [][2]string{
		{"101", "2.5"}, {"102", "1"}, {"103", "3"},
	})
}

func TestLevel2_StrictOrdering(t *testing.T) {
	b := New(pair.MustParse("BTC-EUR"))
	prices := []string{"5", "1.5", "3", "3", "9.75", "0.01", "1.50", "7"}
	for i, p := range prices {
		id := string(rune('a' + i))
		b.Apply(model.Bids, id, d(p), d("1"))
		b.Apply(model.Asks, id, d(p), d("1"))
	}

	bids := b.Level2(model.Bids)
	for i := 1; i < len(bids); i++ {
		if !bids[i-1].Price.GreaterThan(bids[i].Price) {
			t.Errorf("bids not strictly descending at %d: %s then %s", i, bids[i-1].Price, bids[i].Price)
		}
	}
	asks := b.Level2(model.Asks)
	for i := 1; i < len(asks); i++ {
		if !asks[i-1].Price.LessThan(asks[i].Price) {
			t.Errorf("asks not strictly ascending at %d: %s then %s", i, asks[i-1].Price, asks[i].Price)
		}
	}
	if len(bids) != 6 {
		t.Errorf("expected 6 distinct prices, got %d", len(bids))
	}
}

func TestLevel2_ExactPriceGrouping(t *testing.T) {
	// 0.1+0.2 style float drift must not split a level.
	b := New(pair.MustParse("BTC-EUR"))
	b.Apply(model.Bids, "1", d("0.3"), d("1"))
	b.Apply(model.Bids, "2", d("0.30"), d("1"))
	b.Apply(model.Bids, "3", d("0.1").Add(d("0.2")), d("1"))
	b.Apply(model.Bids, "4", d("3e-1"), d("1"))

	assertLevels(t, b.Level2(model.Bids), [][2]string{{"0.3", "4"}})
}

func TestLevel2_Conservation(t *testing.T) {
	b := sampleBook()
	b.Apply(model.Bids, "4", d("98.5"), d("0.125"))
	b.Apply(model.Bids, "5", d("99"), d("1.875"))
	b.Apply(model.Asks, "6", d("101"), d("3"))
	b.Apply(model.Asks, "7", d("101"), d("4"))

	for _, s := range []model.Side{model.Bids, model.Asks} {
		sum := decimal.Zero
		for _, l := range b.Level2(s) {
			sum = sum.Add(l.Quantity)
		}
		if !sum.Equal(b.Depth(s)) {
			t.Errorf("%s: level-2 sum %s != resting sum %s", s, sum, b.Depth(s))
		}
	}
}

func TestLevel2_Empty(t *testing.T) {
	b := New(pair.MustParse("BTC-EUR"))
	if l := b.Level2(model.Asks); len(l) != 0 {
		t.Errorf("expected empty view, got %v", l)
	}
	if _, ok := b.Best(model.Asks); ok {
		t.Error("empty side should have no best level")
	}
}

func TestBest(t *testing.T) {
	b := sampleBook()
	b.Apply(model.Asks, "a", d("101"), d("1"))
	b.Apply(model.Asks, "b", d("100.5"), d("2"))

	bid, ok := b.Best(model.Bids)
	if !ok || !bid.Price.Equal(d("100")) || !bid.Quantity.Equal(d("5")) {
		t.Errorf("expected best bid (100,5), got (%s,%s)", bid.Price, bid.Quantity)
	}
	ask, ok := b.Best(model.Asks)
	if !ok || !ask.Price.Equal(d("100.5")) || !ask.Quantity.Equal(d("2")) {
		t.Errorf("expected best ask (100.5,2), got (%s,%s)", ask.Price, ask.Quantity)
	}
}

func TestReset(t *testing.T) {
	b := sampleBook()
	b.Apply(model.Asks, "a", d("101"), d("1"))
	b.Reset()
	if b.Len(model.Bids) != 0 || b.Len(model.Asks) != 0 {
		t.Errorf("expected empty book after reset, got %d bids %d asks",
			b.Len(model.Bids), b.Len(model.Asks))
	}
}
