// Package pair handles currency-pair identifiers of the form BASE-QUOTE.
//
// A pair is directed: in BTC-EUR the base is BTC (the thing being priced) and
// the quote is EUR (the unit of price).
package pair

import (
	"errors"
	"fmt"
	"regexp"
)

// pairRegex matches: {BASE}-{QUOTE}, uppercase alphanumeric currency codes.
// Example: BTC-EUR, USDT-USD, 1INCH-EUR
var pairRegex = regexp.MustCompile(`^([A-Z0-9]{2,10})-([A-Z0-9]{2,10})$`)

var (
	ErrInvalidPair = errors.New("pair: invalid pair format")
	ErrSameLegs    = errors.New("pair: base and quote must differ")
)

// Pair is a parsed BASE-QUOTE identifier. It is comparable and usable as a
// map key.
type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// Parse parses and validates a pair identifier string.
func Parse(s string) (Pair, error) {
	m := pairRegex.FindStringSubmatch(s)
	if m == nil {
		return Pair{}, fmt.Errorf("%w: %q (expected BASE-QUOTE)", ErrInvalidPair, s)
	}
	if m[1] == m[2] {
		return Pair{}, fmt.Errorf("%w: %s", ErrSameLegs, s)
	}
	return Pair{Base: m[1], Quote: m[2]}, nil
}

// MustParse is like Parse but panics on error. For tests and constants.
func MustParse(s string) Pair {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// New builds the pair base-quote without validation.
func New(base, quote string) Pair {
	return Pair{Base: base, Quote: quote}
}

// String returns the BASE-QUOTE form.
func (p Pair) String() string {
	return p.Base + "-" + p.Quote
}

// Inverse returns QUOTE-BASE.
func (p Pair) Inverse() Pair {
	return Pair{Base: p.Quote, Quote: p.Base}
}

// MarshalText implements encoding.TextMarshaler.
func (p Pair) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pair) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
