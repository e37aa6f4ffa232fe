// Package wallet values a multi-currency holding in a single quote currency by
// liquidating each balance, leg by leg, against the current order books.
package wallet

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fleetingbytes/cryptoworth/internal/model"
	"github.com/fleetingbytes/cryptoworth/internal/registry"
	"github.com/fleetingbytes/cryptoworth/internal/walk"
)

// ErrUnsupportedCurrency is reported for a balance whose currency code is not
// in the supported set. The entry is dropped; the wallet is still built.
var ErrUnsupportedCurrency = errors.New("wallet: unsupported currency")

// CurrencyInfo describes one supported currency.
type CurrencyInfo struct {
	Name  string `toml:"name" json:"name"`
	Scale int32  `toml:"scale" json:"scale"` // display decimals
}

// Currencies is the set of currencies a wallet may hold, plus the quote
// currency every valuation is expressed in.
type Currencies struct {
	Quote     string                  `toml:"quote" json:"quote"`
	Supported map[string]CurrencyInfo `toml:"supported" json:"supported"`
}

// Supports reports whether code is a supported currency.
func (c Currencies) Supports(code string) bool {
	_, ok := c.Supported[code]
	return ok
}

// Wallet holds balances per currency. It is immutable after New; every call
// to Valuate recomputes the realized values from scratch.
type Wallet struct {
	name     string
	quote    string
	balances map[string]decimal.Decimal
	scales   map[string]int32
}

// New builds a wallet from balances. Entries for unsupported currencies are
// dropped and reported, one wrapped ErrUnsupportedCurrency per entry; the
// returned wallet is always usable. Zero balances are kept.
func New(name string, balances map[string]decimal.Decimal, cur Currencies) (*Wallet, []error) {
	w := &Wallet{
		name:     name,
		quote:    cur.Quote,
		balances: make(map[string]decimal.Decimal, len(balances)),
		scales:   make(map[string]int32, len(cur.Supported)),
	}
	for code, info := range cur.Supported {
		w.scales[code] = info.Scale
	}

	var errs []error
	for _, code := range sortedKeys(balances) {
		if !cur.Supports(code) {
			errs = append(errs, fmt.Errorf("%w: %s in wallet %s", ErrUnsupportedCurrency, code, name))
			continue
		}
		w.balances[code] = balances[code]
	}
	return w, errs
}

// Name returns the wallet name.
func (w *Wallet) Name() string { return w.name }

// Quote returns the currency valuations are expressed in.
func (w *Wallet) Quote() string { return w.quote }

// Balance returns the held balance of code, zero if not held.
func (w *Wallet) Balance(code string) decimal.Decimal {
	return w.balances[code]
}

// Balances returns a copy of the held balances.
func (w *Wallet) Balances() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(w.balances))
	for k, v := range w.balances {
		out[k] = v
	}
	return out
}

// Currencies returns the held currency codes, sorted.
func (w *Wallet) Currencies() []string {
	return sortedKeys(w.balances)
}

// Valuate liquidates every non-quote balance against the registry's books and
// sums the realized quote amounts with the quote balance.
//
// A leg that cannot be resolved is marked unpriced and contributes zero. A leg
// that exhausts its book is marked partial and contributes what it realized.
// Neither stops the other legs. The caller must keep the books still for the
// duration of the call.
func (w *Wallet) Valuate(reg *registry.Registry) *model.Valuation {
	v := &model.Valuation{
		ID:           uuid.New().String(),
		Wallet:       w.name,
		Quote:        w.quote,
		QuoteBalance: w.Balance(w.quote),
		Legs:         make([]model.Leg, 0, len(w.balances)),
		Complete:     true,
		ComputedAt:   time.Now().UTC(),
	}
	total := v.QuoteBalance

	for _, code := range w.Currencies() {
		if code == w.quote {
			continue
		}
		leg := w.valuateLeg(reg, code)
		if leg.Status != model.LegFilled {
			v.Complete = false
		}
		total = total.Add(leg.Realized)
		v.Legs = append(v.Legs, leg)
	}

	v.Total = total
	return v
}

func (w *Wallet) valuateLeg(reg *registry.Registry, code string) model.Leg {
	leg := model.Leg{
		Currency:  code,
		Balance:   w.Balance(code),
		Realized:  decimal.Zero,
		Remaining: w.Balance(code),
	}

	b, dir, err := reg.Resolve(code, w.quote)
	if err != nil {
		leg.Status = model.LegUnpriced
		leg.Error = err.Error()
		return leg
	}
	leg.Pair = b.Symbol().String()
	leg.Direction = dir

	side := model.Bids
	if dir == model.Inverted {
		side = model.Asks
	}
	fill, err := walk.Walk(leg.Balance, b.Level2(side), dir)
	leg.Realized = fill.Realized
	leg.Remaining = fill.Remaining
	leg.Levels = fill.Levels
	leg.Status = model.LegFilled
	if err != nil {
		leg.Status = model.LegPartial
		leg.Error = err.Error()
	}
	return leg
}

// Round returns amount rounded to the display scale of code. Unknown codes
// are returned unchanged.
func (w *Wallet) Round(code string, amount decimal.Decimal) decimal.Decimal {
	scale, ok := w.scales[code]
	if !ok {
		return amount
	}
	return amount.Round(scale)
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
