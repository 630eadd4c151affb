// Package eventlog records swarm and session lifecycle events as NDJSON.
package eventlog

import "time"

// EventType identifies the kind of event.
type EventType string

const (
	EventSwarmStart      EventType = "swarm_start"
	EventSwarmComplete   EventType = "swarm_complete"
	EventSessionStart    EventType = "session_start"
	EventSessionComplete EventType = "session_complete"
	EventError           EventType = "error"
)

// Event is a single timestamped entry in an event log. Seq is assigned by
// the logger that writes it.
type Event struct {
	Seq       int64          `json:"seq,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent creates an event with the current timestamp.
func NewEvent(t EventType, data map[string]any) Event {
	return Event{
		Timestamp: time.Now().UTC(),
		Type:      t,
		Data:      data,
	}
}

func SwarmStartData(taskID, mode string, providerCount int) map[string]any {
	return map[string]any{
		"task_id":        taskID,
		"mode":           mode,
		"provider_count": providerCount,
	}
}

func SwarmCompleteData(taskID string, sessions, skipped, shortlisted int, durationMs int64) map[string]any {
	return map[string]any{
		"task_id":     taskID,
		"sessions":    sessions,
		"skipped":     skipped,
		"shortlisted": shortlisted,
		"duration_ms": durationMs,
	}
}

func SessionStartData(providerID string, num, total int) map[string]any {
	return map[string]any{
		"provider_id":    providerID,
		"session_num":    num,
		"total_sessions": total,
	}
}

// SessionCompleteData describes a finished session. slot is empty when no
// slot was agreed.
func SessionCompleteData(providerID, state, slot string, confidence float64, turns int, durationMs int64) map[string]any {
	return map[string]any{
		"provider_id": providerID,
		"state":       state,
		"slot":        slot,
		"confidence":  confidence,
		"turns":       turns,
		"duration_ms": durationMs,
	}
}

// ErrorData returns event data for an error.
func ErrorData(message string, details map[string]any) map[string]any {
	d := map[string]any{
		"message": message,
	}
	for k, v := range details {
		d[k] = v
	}
	return d
}
