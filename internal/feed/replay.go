package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// maxLine bounds one journal line. Snapshots of deep books are large.
const maxLine = 16 << 20

// JournalLine is one record of a raw message journal.
type JournalLine struct {
	ReceivedAt time.Time       `json:"received_at"`
	Frame      json.RawMessage `json:"frame"`
}

// Replay yields the frames of a journal in file order. Lines that are a bare
// frame rather than a JournalLine are yielded as they are. Blank lines are
// skipped.
type Replay struct {
	closer  io.Closer
	scanner *bufio.Scanner
	line    int
}

// NewReplay reads journal lines from r.
func NewReplay(r io.Reader) *Replay {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	return &Replay{scanner: sc}
}

// OpenReplay opens a journal file for replay.
func OpenReplay(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("feed: open replay: %w", err)
	}
	rp := NewReplay(f)
	rp.closer = f
	return rp, nil
}

// Next returns the next frame, or io.EOF when the journal is exhausted.
func (rp *Replay) Next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !rp.scanner.Scan() {
			if err := rp.scanner.Err(); err != nil {
				return nil, fmt.Errorf("feed: replay line %d: %w", rp.line+1, err)
			}
			return nil, io.EOF
		}
		rp.line++

		line := bytes.TrimSpace(rp.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var jl JournalLine
		if err := json.Unmarshal(line, &jl); err == nil && len(jl.Frame) > 0 {
			return append([]byte(nil), jl.Frame...), nil
		}
		return append([]byte(nil), line...), nil
	}
}

// Close closes the underlying file, if Replay opened it.
func (rp *Replay) Close() error {
	if rp.closer == nil {
		return nil
	}
	return rp.closer.Close()
}
