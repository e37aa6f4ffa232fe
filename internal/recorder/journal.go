// Package recorder persists every raw feed frame, unmodified and in receipt
// order, before it is decoded. Sinks write to local journal files, the store,
// or Kafka; Multi fans one frame out to several sinks.
package recorder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fleetingbytes/cryptoworth/internal/model"
)

// Sink receives raw frames.
type Sink interface {
	Record(ctx context.Context, msg model.RawMessage) error
}

// ErrJournalClosed is returned by Record after Close.
var ErrJournalClosed = errors.New("recorder: journal closed")

// countEvery is how often the journal logs its message count.
const countEvery = 1000

// channelFile names the directory and file extension for one feed channel.
type channelFile struct {
	Dir string
	Ext string
}

// channelFiles maps feed channels to their journal directory and extension.
var channelFiles = map[string]channelFile{
	"heartbeat": {"heartbeats", "hb"},
	"l3":        {"orders", "or"},
	"prices":    {"prices", "px"},
	"symbols":   {"symbols", "sy"},
	"ticker":    {"ticker", "tk"},
	"trades":    {"trades", "tr"},
}

// otherFile receives frames of channels not listed in channelFiles.
var otherFile = channelFile{"other", "ot"}

var weekdays = [7]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// FileStem formats t as YYYYMMDD, a two-letter weekday, then HHMMSS, in UTC.
// For example 2021-03-07 12:30:00 is "20210307SU123000".
func FileStem(t time.Time) string {
	t = t.UTC()
	return t.Format("20060102") + weekdays[t.Weekday()] + t.Format("150405")
}

type journalFile struct {
	f    *os.File
	w    *bufio.Writer
	path string
}

// Journal writes each frame as one JSON line into a per-channel file under
// dir. All files of one journal share the stem of its start time. Files are
// created on the first frame of their channel.
type Journal struct {
	dir    string
	stem   string
	logger *slog.Logger
	mu     sync.Mutex
	files  map[string]*journalFile // keyed by channel dir
	order  []string
	count  uint64
	closed bool
}

// NewJournal creates dir if needed and returns a journal whose files are
// stamped with started.
func NewJournal(dir string, started time.Time, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: create journal dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		dir:    dir,
		stem:   FileStem(started),
		logger: logger.With(slog.String("component", "journal")),
		files:  make(map[string]*journalFile),
	}, nil
}

// Dir returns the journal root directory.
func (j *Journal) Dir() string { return j.dir }

// Record appends msg to its channel's file.
func (j *Journal) Record(_ context.Context, msg model.RawMessage) error {
	line, err := journalLine(msg)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrJournalClosed
	}
	jf, err := j.file(msg.Channel)
	if err != nil {
		return err
	}
	if _, err := jf.w.Write(line); err != nil {
		return fmt.Errorf("recorder: write %s: %w", jf.path, err)
	}

	j.count++
	if j.count%countEvery == 0 {
		j.logger.Info("message count",
			slog.Uint64("count", j.count),
			slog.String("seqnum", msg.Sequence),
		)
	}
	return nil
}

// journalLine encodes msg in the feed.JournalLine layout, terminated by a
// newline. Single-line frames are copied verbatim; a frame spanning several
// lines is compacted so the journal stays one record per line.
func journalLine(msg model.RawMessage) ([]byte, error) {
	at, err := json.Marshal(msg.ReceivedAt)
	if err != nil {
		return nil, fmt.Errorf("recorder: encode journal line: %w", err)
	}
	frame := bytes.TrimSpace(msg.Payload)
	if len(frame) == 0 {
		frame = []byte("null")
	}
	if bytes.ContainsAny(frame, "\r\n") {
		var buf bytes.Buffer
		if err := json.Compact(&buf, frame); err != nil {
			return nil, fmt.Errorf("recorder: compact frame: %w", err)
		}
		frame = buf.Bytes()
	}
	line := make([]byte, 0, len(at)+len(frame)+32)
	line = append(line, `{"received_at":`...)
	line = append(line, at...)
	line = append(line, `,"frame":`...)
	line = append(line, frame...)
	line = append(line, "}\n"...)
	return line, nil
}

// file returns the open file for channel, creating it on first use. Caller
// must hold j.mu.
func (j *Journal) file(channel string) (*journalFile, error) {
	cf, ok := channelFiles[channel]
	if !ok {
		cf = otherFile
	}
	if jf, ok := j.files[cf.Dir]; ok {
		return jf, nil
	}

	dir := filepath.Join(j.dir, cf.Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, j.stem+"."+cf.Ext)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recorder: open journal file: %w", err)
	}
	jf := &journalFile{f: f, w: bufio.NewWriter(f), path: path}
	j.files[cf.Dir] = jf
	j.order = append(j.order, cf.Dir)
	j.logger.Debug("opened journal file", slog.String("path", path))
	return jf, nil
}

// Count returns the number of frames recorded so far.
func (j *Journal) Count() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.count
}

// Flush writes buffered lines to disk.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var errs []error
	for _, dir := range j.order {
		if err := j.files[dir].w.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close flushes and closes every file. It is safe to call more than once.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	var errs []error
	for _, dir := range j.order {
		jf := j.files[dir]
		if err := jf.w.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", jf.path, err))
		}
		if err := jf.f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", jf.path, err))
		}
		j.logger.Debug("saved journal file", slog.String("path", jf.path))
	}
	j.logger.Info("journal closed",
		slog.Uint64("messages", j.count),
		slog.Int("files", len(j.order)),
	)
	return errors.Join(errs...)
}

// Files returns the paths of every file written so far, in creation order.
func (j *Journal) Files() []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]string, 0, len(j.order))
	for _, dir := range j.order {
		out = append(out, j.files[dir].path)
	}
	return out
}
