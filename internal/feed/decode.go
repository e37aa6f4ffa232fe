// Package feed reads exchange frames from a live websocket or a recorded
// journal and decodes them into update messages.
package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fleetingbytes/cryptoworth/internal/model"
)

// ErrMalformedFrame is returned for frames that are not a JSON object or
// whose fields do not have the expected types.
var ErrMalformedFrame = errors.New("feed: malformed frame")

// text accepts a JSON string or a bare JSON number. The venue sends seqnum
// and order ids as numbers on some channels and strings on others.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*t = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = text(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*t = text(n.String())
	}
	return nil
}

type wireChange struct {
	ID  text            `json:"id"`
	Px  json.RawMessage `json:"px"`
	Qty json.RawMessage `json:"qty"`
}

type wireFrame struct {
	Seqnum    text         `json:"seqnum"`
	Event     string       `json:"event"`
	Channel   string       `json:"channel"`
	Symbol    string       `json:"symbol"`
	Timestamp string       `json:"timestamp"`
	Bids      []wireChange `json:"bids"`
	Asks      []wireChange `json:"asks"`
}

// Decode parses one raw frame into an UpdateMessage. Fields absent from the
// frame stay empty; Kind is derived from the event name. Only a frame whose
// structure is wrong is malformed; a bad change is marked Invalid instead.
func Decode(raw []byte) (*model.UpdateMessage, error) {
	var f wireFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	msg := &model.UpdateMessage{
		Sequence:  string(f.Seqnum),
		Kind:      model.ParseKind(f.Event),
		Event:     f.Event,
		Channel:   f.Channel,
		Symbol:    f.Symbol,
		Timestamp: f.Timestamp,
	}
	msg.Bids = decodeChanges(f.Bids)
	msg.Asks = decodeChanges(f.Asks)
	return msg, nil
}

// decodeChanges never fails the frame for one bad entry: a change with a
// missing or unparseable field is kept with Invalid set so the normalizer can
// count and skip it. A removal (qty 0) needs no px.
func decodeChanges(in []wireChange) []model.Change {
	if len(in) == 0 {
		return nil
	}
	out := make([]model.Change, 0, len(in))
	for _, c := range in {
		ch := model.Change{ID: string(c.ID)}
		ch.Quantity, ch.Invalid = decodeDecimal("qty", c.Qty)
		if ch.Invalid == "" && !(ch.Quantity.IsZero() && absent(c.Px)) {
			ch.Price, ch.Invalid = decodeDecimal("px", c.Px)
		}
		out = append(out, ch)
	}
	return out
}

func decodeDecimal(field string, raw json.RawMessage) (decimal.Decimal, string) {
	if absent(raw) {
		return decimal.Zero, field + " missing"
	}
	var v decimal.Decimal
	if err := v.UnmarshalJSON(raw); err != nil {
		return decimal.Zero, fmt.Sprintf("%s: %v", field, err)
	}
	return v, ""
}

// absent reports whether a field was left out of the frame or sent as null.
func absent(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// Envelope wraps a frame as a RawMessage for recording. The routing fields
// are read on a best-effort basis: a frame that is not valid JSON still
// yields a RawMessage, with empty channel and event.
func Envelope(raw []byte, receivedAt time.Time) model.RawMessage {
	var head struct {
		Seqnum  text   `json:"seqnum"`
		Event   string `json:"event"`
		Channel string `json:"channel"`
		Symbol  string `json:"symbol"`
	}
	_ = json.Unmarshal(raw, &head)

	payload := raw
	if !json.Valid(raw) {
		// Keep the journal line valid JSON.
		payload, _ = json.Marshal(string(raw))
	}
	return model.RawMessage{
		ID:         uuid.New().String(),
		Channel:    head.Channel,
		Event:      head.Event,
		Sequence:   string(head.Seqnum),
		Symbol:     head.Symbol,
		Payload:    json.RawMessage(payload),
		ReceivedAt: receivedAt.UTC(),
	}
}
