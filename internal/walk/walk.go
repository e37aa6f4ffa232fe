// Package walk implements the cascaded-trade liquidity walk: it simulates
// selling a quantity into resting liquidity, best price level first, and
// reports what that sale would realize.
//
// The walk is a single greedy pass with no backtracking. It is stateless and
// never mutates the levels it is given.
//
// All quantities use shopspring/decimal, never float64 for money.
package walk

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/fleetingbytes/cryptoworth/internal/model"
)

// ErrLiquidityExhausted is returned together with a valid partial Fill when
// the levels ran out before the amount was fully realized.
var ErrLiquidityExhausted = errors.New("walk: liquidity exhausted")

// Fill is the outcome of one walk.
//
// Forward: Realized is in the book's quote currency; Remaining and Consumed
// are in its base currency.
// Inverted: Realized is in the book's base currency; Remaining and Consumed
// are in its quote currency.
type Fill struct {
	Realized  decimal.Decimal `json:"realized"`
	Remaining decimal.Decimal `json:"remaining"`
	Consumed  decimal.Decimal `json:"consumed"`
	Levels    int             `json:"levels"` // number of levels touched
}

// Partial reports whether some of the amount could not be sold.
func (f Fill) Partial() bool {
	return f.Remaining.IsPositive()
}

// Walk sells amount into levels, which must already be ordered best price
// first (bids descending for Forward, asks ascending for Inverted).
//
// Forward, consuming bids with amount in base units:
//
//	take = min(remaining, available)
//	realized += take * price
//	remaining -= take
//
// Inverted, consuming asks with amount in quote units:
//
//	take = min(available, remaining / price)
//	realized += take
//	remaining -= take * price
//
// A non-positive amount yields an empty fill. Levels with a non-positive
// price or quantity carry no liquidity and are skipped.
func Walk(amount decimal.Decimal, levels []model.Level, dir model.Direction) (Fill, error) {
	f := Fill{
		Realized:  decimal.Zero,
		Remaining: amount,
		Consumed:  decimal.Zero,
	}
	if !amount.IsPositive() {
		f.Remaining = decimal.Zero
		return f, nil
	}

	for _, lvl := range levels {
		if !f.Remaining.IsPositive() {
			break
		}
		if !lvl.Price.IsPositive() || !lvl.Quantity.IsPositive() {
			continue
		}
		if dir == model.Inverted {
			consumeAsk(&f, lvl)
		} else {
			consumeBid(&f, lvl)
		}
		f.Levels++
	}

	if f.Remaining.IsPositive() {
		return f, ErrLiquidityExhausted
	}
	return f, nil
}

func consumeBid(f *Fill, lvl model.Level) {
	take := decimal.Min(f.Remaining, lvl.Quantity)
	f.Realized = f.Realized.Add(take.Mul(lvl.Price))
	f.Remaining = f.Remaining.Sub(take)
	f.Consumed = f.Consumed.Add(take)
}

func consumeAsk(f *Fill, lvl model.Level) {
	cost := lvl.Quantity.Mul(lvl.Price) // quote needed to clear the level
	if cost.LessThanOrEqual(f.Remaining) {
		f.Realized = f.Realized.Add(lvl.Quantity)
		f.Remaining = f.Remaining.Sub(cost)
		f.Consumed = f.Consumed.Add(cost)
		return
	}
	// The level absorbs everything left. Zero the remainder exactly instead
	// of subtracting a rounded take*price.
	f.Realized = f.Realized.Add(f.Remaining.Div(lvl.Price))
	f.Consumed = f.Consumed.Add(f.Remaining)
	f.Remaining = decimal.Zero
}

// TotalLiquidity returns the summed quantity of levels, in the units Walk
// consumes for dir: base units for Forward, quote units (price*qty) for
// Inverted.
func TotalLiquidity(levels []model.Level, dir model.Direction) decimal.Decimal {
	total := decimal.Zero
	for _, lvl := range levels {
		if !lvl.Price.IsPositive() || !lvl.Quantity.IsPositive() {
			continue
		}
		if dir == model.Inverted {
			total = total.Add(lvl.Quantity.Mul(lvl.Price))
		} else {
			total = total.Add(lvl.Quantity)
		}
	}
	return total
}
