// Package transcript persists per-session negotiation transcripts.
package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/callpilot/callpilot/internal/models"
	"github.com/callpilot/callpilot/internal/negotiation"
	"github.com/klauspost/compress/gzip"
)

// Record is the persisted form of one negotiation session.
type Record struct {
	TaskID       string                    `json:"task_id,omitempty"`
	ProviderID   string                    `json:"provider_id"`
	ProviderName string                    `json:"provider_name"`
	State        models.SessionState       `json:"state"`
	DualChannel  bool                      `json:"dual_channel"`
	StartedAt    time.Time                 `json:"started_at"`
	CompletedAt  time.Time                 `json:"completed_at"`
	DurationMs   int64                     `json:"duration_ms"`
	Turns        []models.TranscriptTurn   `json:"turns"`
	ToolLog      []models.ToolInvocation   `json:"tool_log"`
	Outcome      models.NegotiationOutcome `json:"outcome"`
	Error        string                    `json:"error,omitempty"`
}

// Build assembles a Record from a finished session.
func Build(taskID string, p models.Provider, res *negotiation.Result, outcome models.NegotiationOutcome, started, completed time.Time) *Record {
	// The turns are stored once, at the top level.
	outcome.Transcript = nil

	return &Record{
		TaskID:       taskID,
		ProviderID:   p.ID,
		ProviderName: p.Name,
		State:        res.State,
		DualChannel:  res.DualChannel,
		StartedAt:    started,
		CompletedAt:  completed,
		DurationMs:   completed.Sub(started).Milliseconds(),
		Turns:        res.Transcript,
		ToolLog:      res.ToolInvocations,
		Outcome:      outcome,
		Error:        res.Error,
	}
}

// sanitize replaces characters that are unsafe in filenames.
var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

func sanitizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "-")
	s = unsafeChars.ReplaceAllString(s, "")
	if s == "" {
		s = "unnamed"
	}
	return s
}

// Filename returns the transcript filename for a record. Records of a task
// share the task's prefix.
func Filename(r *Record, compressed bool) string {
	name := sanitizeName(r.ProviderID) + "-" + r.StartedAt.UTC().Format("20060102-150405.000")
	if r.TaskID != "" {
		name = sanitizeName(r.TaskID) + "-" + name
	}
	name += ".json"
	if compressed {
		name += ".gz"
	}
	return name
}

// Encode writes r as indented JSON, gzip compressed when compress is set.
func Encode(w io.Writer, r *Record, compress bool) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	if !compress {
		_, err := w.Write(data)
		return err
	}

	zw := gzip.NewWriter(w)
	if _, err := zw.Write(data); err != nil {
		_ = zw.Close()
		return fmt.Errorf("compress transcript: %w", err)
	}
	return zw.Close()
}

// Decode reads a record written by Encode. Compression is detected from the
// gzip magic bytes.
func Decode(r io.Reader) (*Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open compressed transcript: %w", err)
		}
		defer zr.Close()

		if data, err = io.ReadAll(zr); err != nil {
			return nil, fmt.Errorf("decompress transcript: %w", err)
		}
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse transcript: %w", err)
	}
	return &rec, nil
}

// Read loads a transcript file.
func Read(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}
