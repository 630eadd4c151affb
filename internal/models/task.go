package models

import (
	"fmt"
	"time"
)

// Mode selects between negotiating with one provider or a swarm of them.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeSwarm  Mode = "swarm"
)

// UserRequest is what the user asked for. Preferences are optional; nil means
// [DefaultPreferenceWeights].
type UserRequest struct {
	Message     string             `json:"message"`
	Mode        Mode               `json:"mode"`
	ProviderID  string             `json:"provider_id,omitempty"`
	Preferences *PreferenceWeights `json:"preferences,omitempty"`
}

// Weights returns the request's preferences, or the defaults.
func (r UserRequest) Weights() PreferenceWeights {
	if r.Preferences == nil {
		return DefaultPreferenceWeights()
	}
	return *r.Preferences
}

// Validate checks the request shape. It does not look at the catalog.
func (r UserRequest) Validate() error {
	if r.Message == "" {
		return fmt.Errorf("message is required")
	}

	switch r.Mode {
	case "", ModeSingle, ModeSwarm:
	default:
		return fmt.Errorf("unknown mode %q", r.Mode)
	}

	if p := r.Preferences; p != nil {
		for name, w := range map[string]float64{
			"availability_weight": p.AvailabilityWeight,
			"rating_weight":       p.RatingWeight,
			"distance_weight":     p.DistanceWeight,
		} {
			if w < 0 || w > 1 {
				return fmt.Errorf("%s must be within [0, 1], got %v", name, w)
			}
		}
	}

	return nil
}

// TaskStatus is the lifecycle state of an orchestration task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// TaskState is the full record of an orchestration task.
type TaskState struct {
	TaskID    string               `json:"task_id"`
	Status    TaskStatus           `json:"status"`
	Mode      Mode                 `json:"mode"`
	Request   UserRequest          `json:"request"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
	Outcomes  []NegotiationOutcome `json:"outcomes,omitempty"`
	Shortlist []RankedSlot         `json:"shortlist,omitempty"`
	ToolLog   []ToolInvocation     `json:"tool_log,omitempty"`
	Booking   *BookedAppointment   `json:"booking,omitempty"`
	FollowUps []string             `json:"follow_ups,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// TaskSummary is the list view of a task.
type TaskSummary struct {
	TaskID         string     `json:"task_id"`
	Status         TaskStatus `json:"status"`
	Mode           Mode       `json:"mode"`
	CreatedAt      time.Time  `json:"created_at"`
	ShortlistCount int        `json:"shortlist_count"`
}

// Summary returns the list view of the task.
func (t *TaskState) Summary() TaskSummary {
	return TaskSummary{
		TaskID:         t.TaskID,
		Status:         t.Status,
		Mode:           t.Mode,
		CreatedAt:      t.CreatedAt,
		ShortlistCount: len(t.Shortlist),
	}
}

// BookedAppointment records a confirmed booking for a shortlisted slot.
type BookedAppointment struct {
	TaskID         string    `json:"task_id"`
	ProviderID     string    `json:"provider_id"`
	Slot           time.Time `json:"slot"`
	ConfirmationID string    `json:"confirmation_id"`
	Message        string    `json:"message"`

	// Set when the booking was also added to the user's calendar.
	CalendarEventID string `json:"calendar_event_id,omitempty"`
	CalendarLink    string `json:"calendar_link,omitempty"`
}
