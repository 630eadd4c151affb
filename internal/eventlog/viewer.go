package eventlog

import (
	"bufio"
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// LogFile describes an event log on disk.
type LogFile struct {
	Path      string
	Name      string
	Size      int64
	ModTime   time.Time
	NumEvents int
}

// ListLogs returns the event logs in dir, most recently modified first. A
// missing dir is an error; a dir without logs is not.
func ListLogs(dir string) ([]LogFile, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("reading event log directory: %w", err)
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*"+logSuffix))
	if err != nil {
		return nil, err
	}

	files := make([]LogFile, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, LogFile{
			Path:      p,
			Name:      filepath.Base(p),
			Size:      info.Size(),
			ModTime:   info.ModTime(),
			NumEvents: bytes.Count(data, []byte{'\n'}),
		})
	}

	slices.SortStableFunc(files, func(a, b LogFile) int {
		return b.ModTime.Compare(a.ModTime)
	})
	return files, nil
}

// ReadEvents parses an event log. Lines that are not valid events are
// skipped. Events are returned in sequence order when every event carries a
// sequence number, and in file order otherwise.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close() //nolint:errcheck

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if json.Unmarshal(scanner.Bytes(), &ev) != nil || ev.Type == "" {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading event log: %w", err)
	}

	if !slices.ContainsFunc(events, func(ev Event) bool { return ev.Seq == 0 }) {
		slices.SortFunc(events, func(a, b Event) int { return cmp.Compare(a.Seq, b.Seq) })
	}
	return events, nil
}

// RenderTimeline writes a human-readable swarm timeline to w.
//
//nolint:errcheck // display-only writes; errors are not actionable
func RenderTimeline(w io.Writer, events []Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No events found.")
		return
	}

	fmt.Fprintln(w, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(w, " SWARM TIMELINE")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(w)

	start := events[0].Timestamp
	for _, ev := range events {
		ts := formatDuration(ev.Timestamp.Sub(start))

		switch ev.Type {
		case EventSwarmStart:
			mode, _ := ev.Data["mode"].(string) //nolint:errcheck
			n := jsonNumber(ev.Data["provider_count"])
			fmt.Fprintf(w, "[%s] 🚀 Swarm started  mode=%s  providers=%d\n", ts, mode, n)

		case EventSessionStart:
			id, _ := ev.Data["provider_id"].(string) //nolint:errcheck
			num := jsonNumber(ev.Data["session_num"])
			total := jsonNumber(ev.Data["total_sessions"])
			fmt.Fprintf(w, "[%s] ▶  Session %d/%d: %s\n", ts, num, total, id)

		case EventSessionComplete:
			id, _ := ev.Data["provider_id"].(string) //nolint:errcheck
			state, _ := ev.Data["state"].(string)    //nolint:errcheck
			slot, _ := ev.Data["slot"].(string)      //nolint:errcheck
			dur := jsonNumber(ev.Data["duration_ms"])
			icon := "✓"
			if slot == "" {
				slot = "no slot"
				icon = "✗"
			}
			fmt.Fprintf(w, "[%s] %s  %s [%s] %s  confidence=%.2f (%dms)\n",
				ts, icon, id, state, slot, jsonFloat(ev.Data["confidence"]), dur)

		case EventError:
			msg, _ := ev.Data["message"].(string) //nolint:errcheck
			fmt.Fprintf(w, "[%s] ❌ Error: %s\n", ts, msg)

		case EventSwarmComplete:
			sessions := jsonNumber(ev.Data["sessions"])
			skipped := jsonNumber(ev.Data["skipped"])
			shortlisted := jsonNumber(ev.Data["shortlisted"])
			dur := jsonNumber(ev.Data["duration_ms"])
			fmt.Fprintf(w, "[%s] 🏁 Swarm complete  %d sessions  %d skipped  %d shortlisted  (%dms)\n",
				ts, sessions, skipped, shortlisted, dur)

		default:
			fmt.Fprintf(w, "[%s] %s %v\n", ts, ev.Type, ev.Data)
		}
	}
	fmt.Fprintln(w)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%6dms", d.Milliseconds())
	}
	return fmt.Sprintf("%6.1fs", d.Seconds())
}

// jsonNumber extracts a number from a JSON-decoded value.
func jsonNumber(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		i, _ := n.Int64() //nolint:errcheck
		return int(i)
	}
	return 0
}

func jsonFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case json.Number:
		f, _ := n.Float64() //nolint:errcheck
		return f
	}
	return 0
}
