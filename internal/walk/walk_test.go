package walk

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/fleetingbytes/cryptoworth/internal/model"
)

// d is a test helper for creating decimals from strings.
func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func levels(pq ...string) []model.Level {
	out := make([]model.Level, 0, len(pq)/2)
	for i := 0; i+1 < len(pq); i += 2 {
		out = append(out, model.Level{Price: d(pq[i]), Quantity: d(pq[i+1])})
	}
	return out
}

// sampleBids is level2(bids) of bids {1:(100,2), 2:(100,3), 3:(99,5)}.
func sampleBids() []model.Level {
	return levels("100", "5", "99", "5")
}

// --- Forward direction ---

func TestWalk_FullFill(t *testing.T) {
	f, err := Walk(d("6"), sampleBids(), model.Forward)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.Realized.Equal(d("599")) {
		t.Errorf("expected realized=599, got %s", f.Realized)
	}
	if !f.Remaining.IsZero() {
		t.Errorf("expected remaining=0, got %s", f.Remaining)
	}
	if f.Levels != 2 {
		t.Errorf("expected 2 levels touched, got %d", f.Levels)
	}
	if f.Partial() {
		t.Error("fill should not be partial")
	}
}

func TestWalk_LiquidityExhausted(t *testing.T) {
	f, err := Walk(d("20"), sampleBids(), model.Forward)
	if !errors.Is(err, ErrLiquidityExhausted) {
		t.Fatalf("expected ErrLiquidityExhausted, got %v", err)
	}
	if !f.Realized.Equal(d("995")) {
		t.Errorf("expected realized=995, got %s", f.Realized)
	}
	if !f.Remaining.Equal(d("10")) {
		t.Errorf("expected remaining=10, got %s", f.Remaining)
	}
	if !f.Consumed.Equal(d("10")) {
		t.Errorf("expected consumed=10, got %s", f.Consumed)
	}
	if !f.Partial() {
		t.Error("fill should be partial")
	}
}

func TestWalk_ExactlyAllLiquidity(t *testing.T) {
	f, err := Walk(d("10"), sampleBids(), model.Forward)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.Realized.Equal(d("995")) || !f.Remaining.IsZero() {
		t.Errorf("expected (995, 0), got (%s, %s)", f.Realized, f.Remaining)
	}
}

func TestWalk_FullFillProperty(t *testing.T) {
	lv := levels("0.0734", "1.5", "0.0733", "0.25", "0.0731", "12.125", "0.07", "3")
	total := TotalLiquidity(lv, model.Forward)

	amounts := []string{"0.1", "1.5", "1.6", "1.75", "10", "16.875"}
	for _, a := range amounts {
		amount := d(a)
		if amount.GreaterThan(total) {
			t.Fatalf("test amount %s exceeds liquidity %s", a, total)
		}
		f, err := Walk(amount, lv, model.Forward)
		if err != nil {
			t.Errorf("amount %s: unexpected error: %v", a, err)
			continue
		}
		if !f.Remaining.IsZero() {
			t.Errorf("amount %s: expected remaining=0, got %s", a, f.Remaining)
		}

		// Recompute sum(price * take) independently.
		want := decimal.Zero
		left := amount
		for _, l := range lv {
			take := decimal.Min(left, l.Quantity)
			want = want.Add(take.Mul(l.Price))
			left = left.Sub(take)
		}
		if !f.Realized.Equal(want) {
			t.Errorf("amount %s: expected realized=%s, got %s", a, want, f.Realized)
		}
	}
}

func TestWalk_PartialFillProperty(t *testing.T) {
	lv := levels("2", "1", "1.5", "2", "1", "0.5")
	total := TotalLiquidity(lv, model.Forward) // 3.5
	amount := d("9.25")

	f, err := Walk(amount, lv, model.Forward)
	if !errors.Is(err, ErrLiquidityExhausted) {
		t.Fatalf("expected ErrLiquidityExhausted, got %v", err)
	}
	if !f.Remaining.Equal(amount.Sub(total)) {
		t.Errorf("expected remaining=%s, got %s", amount.Sub(total), f.Remaining)
	}
	if !f.Realized.Equal(d("5.5")) { // 2 + 3 + 0.5
		t.Errorf("expected realized=5.5, got %s", f.Realized)
	}
}

// --- Inverted direction ---

// EUR-BTC asks priced in BTC per EUR. Spending BTC acquires EUR.
func eurBtcAsks() []model.Level {
	return levels("0.00002", "1000", "0.000025", "1000")
}

func TestWalk_Inverted_WorkedExample(t *testing.T) {
	// 0.02 BTC clears the first level (1000 EUR); the remaining 0.01 BTC buys
	// 0.01 / 0.000025 = 400 EUR at the second.
	f, err := Walk(d("0.03"), eurBtcAsks(), model.Inverted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.Realized.Equal(d("1400")) {
		t.Errorf("expected realized=1400 EUR, got %s", f.Realized)
	}
	if !f.Remaining.IsZero() {
		t.Errorf("expected remaining=0, got %s", f.Remaining)
	}
	if !f.Consumed.Equal(d("0.03")) {
		t.Errorf("expected consumed=0.03 BTC, got %s", f.Consumed)
	}
}

func TestWalk_Inverted_WithinFirstLevel(t *testing.T) {
	f, err := Walk(d("0.005"), eurBtcAsks(), model.Inverted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.Realized.Equal(d("250")) {
		t.Errorf("expected realized=250 EUR, got %s", f.Realized)
	}
	if f.Levels != 1 {
		t.Errorf("expected 1 level touched, got %d", f.Levels)
	}
}

func TestWalk_Inverted_LiquidityExhausted(t *testing.T) {
	f, err := Walk(d("1"), eurBtcAsks(), model.Inverted)
	if !errors.Is(err, ErrLiquidityExhausted) {
		t.Fatalf("expected ErrLiquidityExhausted, got %v", err)
	}
	if !f.Realized.Equal(d("2000")) {
		t.Errorf("expected realized=2000, got %s", f.Realized)
	}
	// 1 - (0.02 + 0.025)
	if !f.Remaining.Equal(d("0.955")) {
		t.Errorf("expected remaining=0.955, got %s", f.Remaining)
	}
	if !f.Remaining.Equal(d("1").Sub(TotalLiquidity(eurBtcAsks(), model.Inverted))) {
		t.Errorf("remaining should equal amount minus total consumed")
	}
}

// --- Edge cases ---

func TestWalk_NonPositiveAmount(t *testing.T) {
	for _, a := range []string{"0", "-3"} {
		f, err := Walk(d(a), sampleBids(), model.Forward)
		if err != nil {
			t.Errorf("amount %s: unexpected error: %v", a, err)
		}
		if !f.Realized.IsZero() || !f.Remaining.IsZero() || f.Levels != 0 {
			t.Errorf("amount %s: expected empty fill, got %+v", a, f)
		}
	}
}

func TestWalk_EmptyBook(t *testing.T) {
	f, err := Walk(d("1"), nil, model.Forward)
	if !errors.Is(err, ErrLiquidityExhausted) {
		t.Errorf("expected ErrLiquidityExhausted, got %v", err)
	}
	if !f.Remaining.Equal(d("1")) || !f.Realized.IsZero() {
		t.Errorf("expected nothing realized, got %+v", f)
	}
}

func TestWalk_SkipsDeadLevels(t *testing.T) {
	lv := levels("100", "0", "0", "5", "99", "2")
	f, err := Walk(d("1"), lv, model.Forward)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.Realized.Equal(d("99")) {
		t.Errorf("expected realized=99, got %s", f.Realized)
	}
	if f.Levels != 1 {
		t.Errorf("expected 1 level touched, got %d", f.Levels)
	}
}

func TestWalk_DoesNotMutateLevels(t *testing.T) {
	lv := sampleBids()
	if _, err := Walk(d("7"), lv, model.Forward); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !lv[0].Quantity.Equal(d("5")) || !lv[1].Quantity.Equal(d("5")) {
		t.Errorf("levels were mutated: %v", lv)
	}
}
