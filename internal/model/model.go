// Package model defines the core domain types shared across cryptoworth.
// All prices, quantities and balances use shopspring/decimal, never float64.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side selects one half of an order book.
type Side int

const (
	Bids Side = iota // resting buy orders, best = highest price
	Asks             // resting sell orders, best = lowest price
)

func (s Side) String() string {
	switch s {
	case Bids:
		return "bids"
	case Asks:
		return "asks"
	default:
		return fmt.Sprintf("side(%d)", int(s))
	}
}

// ParseSide accepts "bids"/"bid"/"buy" and "asks"/"ask"/"sell".
func ParseSide(s string) (Side, error) {
	switch s {
	case "bids", "bid", "buy":
		return Bids, nil
	case "asks", "ask", "sell":
		return Asks, nil
	}
	return 0, fmt.Errorf("model: unknown side %q", s)
}

// Direction tells the walker which way a conversion crosses a book.
type Direction int

const (
	// Forward sells the book's base into its bids, receiving quote.
	Forward Direction = iota
	// Inverted sells the book's quote into its asks, receiving base.
	Inverted
)

func (d Direction) String() string {
	if d == Inverted {
		return "inverted"
	}
	return "forward"
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(text []byte) error {
	switch string(text) {
	case "forward":
		*d = Forward
	case "inverted":
		*d = Inverted
	default:
		return fmt.Errorf("model: unknown direction %q", text)
	}
	return nil
}

// Kind is the closed set of inbound message kinds the normalizer handles.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindSnapshot
	KindIncremental
	KindSubscriptionAck
)

// ParseKind maps a feed event name onto a Kind. Anything not listed is
// KindUnrecognized.
func ParseKind(event string) Kind {
	switch event {
	case "snapshot":
		return KindSnapshot
	case "updated":
		return KindIncremental
	case "subscribed":
		return KindSubscriptionAck
	default:
		return KindUnrecognized
	}
}

func (k Kind) String() string {
	switch k {
	case KindSnapshot:
		return "snapshot"
	case KindIncremental:
		return "incremental"
	case KindSubscriptionAck:
		return "subscription_ack"
	default:
		return "unrecognized"
	}
}

// Change is one absolute per-order entry of an update. Quantity zero means
// the order identified by ID is gone.
type Change struct {
	ID       string          `json:"id"`
	Price    decimal.Decimal `json:"px"`
	Quantity decimal.Decimal `json:"qty"`
	// Invalid is set by the decoder when a field is missing or does not
	// parse. Such a change must not touch the book.
	Invalid string `json:"-"`
}

// UpdateMessage is the normalized shape of one inbound feed message.
// It is consumed once and not retained.
type UpdateMessage struct {
	Sequence  string   `json:"seqnum"`
	Kind      Kind     `json:"-"`
	Event     string   `json:"event"`
	Channel   string   `json:"channel"`
	Symbol    string   `json:"symbol"`
	Timestamp string   `json:"timestamp"`
	Bids      []Change `json:"bids"`
	Asks      []Change `json:"asks"`
}

// RawMessage is an inbound frame as received, plus the envelope fields
// needed to route it to storage. Payload holds the frame bytes unchanged,
// except that a frame which is not valid JSON is held as a JSON string.
type RawMessage struct {
	ID         string          `json:"id" db:"id"`
	Channel    string          `json:"channel" db:"channel"`
	Event      string          `json:"event" db:"event"`
	Sequence   string          `json:"seqnum" db:"seqnum"`
	Symbol     string          `json:"symbol,omitempty" db:"symbol"`
	Payload    json.RawMessage `json:"payload" db:"payload"`
	ReceivedAt time.Time       `json:"received_at" db:"received_at"`
}

// Level is one price level of a level-2 view.
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Leg status values.
const (
	LegFilled   = "filled"
	LegPartial  = "partial"
	LegUnpriced = "unpriced"
)

// Leg is the valuation of one held currency against the quote currency.
type Leg struct {
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	Pair      string          `json:"pair,omitempty"`
	Direction Direction       `json:"direction"`
	Realized  decimal.Decimal `json:"realized"`  // in quote currency
	Remaining decimal.Decimal `json:"remaining"` // unsold, in Currency
	Levels    int             `json:"levels"`    // price levels touched
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
}

// Valuation is the read-only result of one valuation pass over a wallet.
type Valuation struct {
	ID           string          `json:"id" db:"id"`
	Wallet       string          `json:"wallet" db:"wallet"`
	Quote        string          `json:"quote" db:"quote"`
	QuoteBalance decimal.Decimal `json:"quote_balance" db:"quote_balance"`
	Legs         []Leg           `json:"legs" db:"legs"`
	Total        decimal.Decimal `json:"total" db:"total"`
	Complete     bool            `json:"complete" db:"complete"` // every leg fully filled
	ComputedAt   time.Time       `json:"computed_at" db:"computed_at"`
}

// Realized returns the realized quote value per currency.
func (v *Valuation) Realized() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(v.Legs))
	for _, l := range v.Legs {
		out[l.Currency] = l.Realized
	}
	return out
}
