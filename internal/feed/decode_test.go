package feed

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fleetingbytes/cryptoworth/internal/model"
)

// d is a test helper for creating decimals from strings.
func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

const snapshotFrame = `{
  "seqnum": 2,
  "event": "snapshot",
  "channel": "l3",
  "symbol": "BTC-EUR",
  "bids": [
    {"id": "2914913437", "px": 28107.51, "qty": 0.08},
    {"id": 2914913440, "px": "28107.50", "qty": "1.5"}
  ],
  "asks": [
    {"id": "2914913501", "px": 28120.0, "qty": 0.002}
  ]
}`

func TestDecode_Snapshot(t *testing.T) {
	msg, err := Decode([]byte(snapshotFrame))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind != model.KindSnapshot || msg.Sequence != "2" || msg.Symbol != "BTC-EUR" || msg.Channel != "l3" {
		t.Errorf("unexpected header: %+v", msg)
	}
	if len(msg.Bids) != 2 || len(msg.Asks) != 1 {
		t.Fatalf("expected 2 bids 1 ask, got %d %d", len(msg.Bids), len(msg.Asks))
	}
	if msg.Bids[1].ID != "2914913440" {
		t.Errorf("numeric id should decode as text, got %q", msg.Bids[1].ID)
	}
	if !msg.Bids[0].Price.Equal(d("28107.51")) || !msg.Bids[1].Quantity.Equal(d("1.5")) {
		t.Errorf("unexpected bid values: %+v", msg.Bids)
	}
	if !msg.Asks[0].Quantity.Equal(d("0.002")) {
		t.Errorf("expected ask qty 0.002, got %s", msg.Asks[0].Quantity)
	}
}

func TestDecode_Kinds(t *testing.T) {
	tests := []struct {
		frame string
		want  model.Kind
	}{
		{`{"seqnum":1,"event":"subscribed","channel":"l3","symbol":"BTC-EUR"}`, model.KindSubscriptionAck},
		{`{"seqnum":3,"event":"updated","channel":"l3","symbol":"BTC-EUR","bids":[],"asks":[]}`, model.KindIncremental},
		{`{"seqnum":4,"event":"rejected","channel":"l3","text":"bad symbol"}`, model.KindUnrecognized},
		{`{"seqnum":5,"event":"updated","channel":"heartbeat","timestamp":"2021-01-01T00:00:00Z"}`, model.KindIncremental},
		{`{}`, model.KindUnrecognized},
	}
	for _, tt := range tests {
		msg, err := Decode([]byte(tt.frame))
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.frame, err)
			continue
		}
		if msg.Kind != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.frame, tt.want, msg.Kind)
		}
	}
}

func TestDecode_Malformed(t *testing.T) {
	frames := []string{
		`not json`,
		`[1,2,3]`,
		`{"event":"updated","bids":{"id":"1"}}`,
	}
	for _, f := range frames {
		if _, err := Decode([]byte(f)); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("%s: expected ErrMalformedFrame, got %v", f, err)
		}
	}
}

func TestDecode_BadChangeKeepsSiblings(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		invalid []bool
	}{
		{"null qty", `{"event":"updated","bids":[{"id":"1","px":100,"qty":null},{"id":"2","px":100,"qty":3}]}`, []bool{true, false}},
		{"missing qty", `{"event":"updated","bids":[{"id":"1","px":1},{"id":"2","px":100,"qty":3}]}`, []bool{true, false}},
		{"bad px", `{"event":"updated","bids":[{"id":"1","px":"abc","qty":1},{"id":"2","px":100,"qty":3}]}`, []bool{true, false}},
		{"missing px on an order", `{"event":"updated","bids":[{"id":"1","qty":2},{"id":"2","px":100,"qty":3}]}`, []bool{true, false}},
		{"removal without px", `{"event":"updated","bids":[{"id":"1","qty":0},{"id":"2","px":100,"qty":3}]}`, []bool{false, false}},
		{"removal with null px", `{"event":"updated","bids":[{"id":"1","px":null,"qty":"0"}]}`, []bool{false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.frame))
			if err != nil {
				t.Fatalf("a bad change should not fail the frame: %v", err)
			}
			if len(msg.Bids) != len(tt.invalid) {
				t.Fatalf("expected %d changes, got %d", len(tt.invalid), len(msg.Bids))
			}
			for i, want := range tt.invalid {
				if got := msg.Bids[i].Invalid != ""; got != want {
					t.Errorf("change %d: invalid=%v (%q), want %v", i, got, msg.Bids[i].Invalid, want)
				}
			}
			last := msg.Bids[len(msg.Bids)-1]
			if last.Invalid == "" && last.ID == "2" && !last.Quantity.Equal(d("3")) {
				t.Errorf("sibling change lost its quantity: %+v", last)
			}
		})
	}
}

func TestEnvelope(t *testing.T) {
	at := time.Date(2021, 3, 7, 12, 30, 0, 0, time.UTC)
	raw := Envelope([]byte(snapshotFrame), at)

	if raw.ID == "" || raw.Channel != "l3" || raw.Event != "snapshot" || raw.Sequence != "2" || raw.Symbol != "BTC-EUR" {
		t.Errorf("unexpected envelope: %+v", raw)
	}
	if string(raw.Payload) != snapshotFrame {
		t.Error("payload should be the frame unchanged")
	}
	if !raw.ReceivedAt.Equal(at) {
		t.Errorf("expected received_at %s, got %s", at, raw.ReceivedAt)
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	raw := Envelope([]byte("garbage{"), time.Now())
	if raw.Channel != "" {
		t.Errorf("expected empty channel, got %q", raw.Channel)
	}
	var s string
	if err := json.Unmarshal(raw.Payload, &s); err != nil || s != "garbage{" {
		t.Errorf("expected payload held as JSON string, got %s (%v)", raw.Payload, err)
	}
}
