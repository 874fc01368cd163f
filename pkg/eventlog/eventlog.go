// Package eventlog appends one JSON line per post cycle to a journal file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cpunion/quote-bot/pkg/types"
)

// Event is one journal line.
type Event struct {
	Timestamp  time.Time             `json:"timestamp"`
	CycleID    string                `json:"cycle_id"`
	DurationMS int64                 `json:"duration_ms"`
	Text       string                `json:"text"`
	Source     types.QuoteSource     `json:"source"`
	Attempts   int                   `json:"attempts"`
	Duplicates int                   `json:"duplicates"`
	Truncated  bool                  `json:"truncated,omitempty"`
	Results    []types.PublishResult `json:"results"`
	Recorded   bool                  `json:"recorded"`
}

// FromReport flattens a cycle report into an event.
func FromReport(r *types.CycleReport) Event {
	return Event{
		Timestamp:  r.StartedAt,
		CycleID:    r.CycleID,
		DurationMS: r.Duration.Milliseconds(),
		Text:       r.Quote.Text,
		Source:     r.Quote.Source,
		Attempts:   r.Quote.Attempts,
		Duplicates: r.Quote.Duplicates,
		Truncated:  r.Quote.Truncated,
		Results:    r.Results,
		Recorded:   r.Recorded,
	}
}

// Logger records cycle events.
type Logger interface {
	LogEvent(Event) error
	Close() error
}

// JSONL writes each event as a JSON line.
type JSONL struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

var _ Logger = (*JSONL)(nil)

// Open opens path for appending, creating parent directories.
func Open(path string) (*JSONL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &JSONL{file: file, writer: bufio.NewWriter(file)}, nil
}

// LogEvent writes and flushes one event. A nil logger discards it.
func (l *JSONL) LogEvent(ev Event) error {
	if l == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return l.writer.Flush()
}

func (l *JSONL) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.writer.Flush()
	return l.file.Close()
}
