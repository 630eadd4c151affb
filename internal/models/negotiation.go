package models

import "time"

// Role identifies who produced a transcript turn.
type Role string

const (
	RoleAgent       Role = "agent"
	RoleCounterpart Role = "counterpart"
)

// TranscriptTurn is one message in a negotiation transcript.
type TranscriptTurn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// ToolInvocation records a single tool call made during a session. Result is
// always a structured map carrying at least "ok" (and "error" when ok is false).
type ToolInvocation struct {
	ToolName string         `json:"tool_name"`
	Params   map[string]any `json:"params"`
	Result   map[string]any `json:"result"`
}

// SessionState is the terminal (or current) state of one negotiation session.
type SessionState string

const (
	SessionNotStarted SessionState = "not_started"
	SessionActive     SessionState = "active"
	SessionCompleted  SessionState = "completed"
	SessionTimedOut   SessionState = "timed_out"
	SessionFailed     SessionState = "failed"
)

// MaxRejectionReasons bounds NegotiationOutcome.RejectionReasons.
const MaxRejectionReasons = 5

// NegotiationOutcome is the structured result extracted from one session.
type NegotiationOutcome struct {
	ProviderID       string           `json:"provider_id"`
	ProposedSlot     *time.Time       `json:"proposed_slot,omitempty"`
	Confidence       float64          `json:"confidence"`
	RejectionReasons []string         `json:"rejection_reasons"`
	Transcript       []TranscriptTurn `json:"transcript,omitempty"`
	Metadata         map[string]any   `json:"raw_metadata,omitempty"`
}

// HasSlot reports whether the outcome carries a bookable slot.
func (o NegotiationOutcome) HasSlot() bool {
	return o.ProposedSlot != nil
}
