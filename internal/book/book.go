// Package book reconstructs a level-3 order book from absolute per-order
// updates and derives its level-2 (price-aggregated) view.
//
// An OrderBook has exactly one writer. It carries no lock: callers serialize
// Apply against reads (see session.Session).
package book

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/fleetingbytes/cryptoworth/internal/model"
	"github.com/fleetingbytes/cryptoworth/internal/pair"
)

// OrderRecord is one resting order. It is a value: updates replace or remove
// the record keyed by ID, they never mutate it.
type OrderRecord struct {
	ID       string          `json:"id"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// OrderBook holds the resting bids and asks of one market.
type OrderBook struct {
	symbol pair.Pair
	bids   map[string]OrderRecord
	asks   map[string]OrderRecord
}

// New creates an empty book for symbol.
func New(symbol pair.Pair) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		bids:   make(map[string]OrderRecord),
		asks:   make(map[string]OrderRecord),
	}
}

// Symbol returns the pair this book belongs to.
func (b *OrderBook) Symbol() pair.Pair {
	return b.symbol
}

func (b *OrderBook) side(s model.Side) map[string]OrderRecord {
	if s == model.Asks {
		return b.asks
	}
	return b.bids
}

// Apply sets the order id on the given side to (price, qty). A zero qty
// removes the order; removing an order that is not resting is a no-op.
// A negative qty is ignored and leaves the book unchanged, so every resting
// quantity stays positive. Applying the same update twice leaves the book as
// applying it once.
func (b *OrderBook) Apply(s model.Side, id string, price, qty decimal.Decimal) {
	if qty.IsNegative() {
		return
	}
	orders := b.side(s)
	if qty.IsZero() {
		delete(orders, id)
		return
	}
	orders[id] = OrderRecord{ID: id, Price: price, Quantity: qty}
}

// Reset drops every resting order on both sides.
func (b *OrderBook) Reset() {
	clear(b.bids)
	clear(b.asks)
}

// Len returns the number of resting orders on one side.
func (b *OrderBook) Len(s model.Side) int {
	return len(b.side(s))
}

// Order returns the resting order id on side s.
func (b *OrderBook) Order(s model.Side, id string) (OrderRecord, bool) {
	o, ok := b.side(s)[id]
	return o, ok
}

// Depth returns the total resting quantity on one side.
func (b *OrderBook) Depth(s model.Side) decimal.Decimal {
	total := decimal.Zero
	for _, o := range b.side(s) {
		total = total.Add(o.Quantity)
	}
	return total
}

// Level2 aggregates one side by exact price. Bids come back best (highest)
// first in strictly descending order, asks best (lowest) first in strictly
// ascending order. Quantities of orders sharing a price are summed.
func (b *OrderBook) Level2(s model.Side) []model.Level {
	orders := b.side(s)
	if len(orders) == 0 {
		return []model.Level{}
	}

	records := make([]OrderRecord, 0, len(orders))
	for _, o := range orders {
		records = append(records, o)
	}
	sort.Slice(records, func(i, j int) bool {
		if s == model.Asks {
			return records[i].Price.LessThan(records[j].Price)
		}
		return records[i].Price.GreaterThan(records[j].Price)
	})

	levels := make([]model.Level, 0, len(records))
	for _, o := range records {
		last := len(levels) - 1
		if last >= 0 && levels[last].Price.Equal(o.Price) {
			levels[last].Quantity = levels[last].Quantity.Add(o.Quantity)
			continue
		}
		levels = append(levels, model.Level{Price: o.Price, Quantity: o.Quantity})
	}
	return levels
}

// Best returns the best level of one side, if any.
func (b *OrderBook) Best(s model.Side) (model.Level, bool) {
	orders := b.side(s)
	if len(orders) == 0 {
		return model.Level{}, false
	}

	var best model.Level
	first := true
	for _, o := range orders {
		switch {
		case first:
			best = model.Level{Price: o.Price, Quantity: o.Quantity}
			first = false
		case o.Price.Equal(best.Price):
			best.Quantity = best.Quantity.Add(o.Quantity)
		case s == model.Bids && o.Price.GreaterThan(best.Price),
			s == model.Asks && o.Price.LessThan(best.Price):
			best = model.Level{Price: o.Price, Quantity: o.Quantity}
		}
	}
	return best, true
}
