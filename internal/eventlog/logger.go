package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// logSuffix marks event log files written by DefaultLogPath.
const logSuffix = "-swarm.jsonl"

// ErrClosed is returned when logging to a closed JSONLogger.
var ErrClosed = errors.New("event log is closed")

// Logger receives swarm events. Implementations must be safe for concurrent
// use; swarm sessions log in parallel.
type Logger interface {
	Log(event Event) error
	Close() error
}

// JSONLogger appends events to a file, one JSON object per line. Every event
// gets the next sequence number, so a log written by parallel sessions can be
// replayed in the order the events were accepted.
type JSONLogger struct {
	path string

	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	seq    int64
	closed bool
}

// NewJSONLogger opens path for appending, creating parent directories.
func NewJSONLogger(path string) (*JSONLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating event log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}

	return &JSONLogger{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

// Log stamps the event with a sequence number and writes it. The line is
// flushed immediately so the log can be followed while a swarm runs.
func (l *JSONLogger) Log(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	l.seq++
	event.Seq = l.seq

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event.Type, err)
	}
	line = append(line, '\n')
	if _, err := l.w.Write(line); err != nil {
		return err
	}
	return l.w.Flush()
}

// Close flushes pending output and closes the file. Closing twice is a no-op.
func (l *JSONLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return errors.Join(l.w.Flush(), l.f.Close())
}

// Path is where the log is written.
func (l *JSONLogger) Path() string {
	return l.path
}

// NopLogger discards all events.
type NopLogger struct{}

func (NopLogger) Log(Event) error { return nil }

func (NopLogger) Close() error { return nil }

// DefaultLogPath returns a timestamped log file name inside dir.
func DefaultLogPath(dir string) string {
	return filepath.Join(dir, time.Now().UTC().Format("20060102T150405Z")+logSuffix)
}
