package webapi

import "github.com/callpilot/callpilot/internal/models"

// TaskCreateResponse is returned when a task is accepted.
type TaskCreateResponse struct {
	TaskID  string            `json:"task_id"`
	Status  models.TaskStatus `json:"status"`
	Message string            `json:"message"`
}

// TaskListResponse is the task list view.
type TaskListResponse struct {
	Tasks []models.TaskSummary `json:"tasks"`
}

// ConfirmRequest is the body of an appointment confirmation. Slot is an
// ISO-8601 timestamp; a value without an offset is read as UTC.
type ConfirmRequest struct {
	TaskID     string `json:"task_id"`
	ProviderID string `json:"provider_id"`
	Slot       string `json:"slot"`
}

// ConfirmResponse is the result of an appointment confirmation.
type ConfirmResponse struct {
	OK          bool                      `json:"ok"`
	Appointment *models.BookedAppointment `json:"appointment,omitempty"`
	Error       string                    `json:"error,omitempty"`
}

// MessageRequest is a follow-up message from the user.
type MessageRequest struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

type MessageResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse is returned for errors.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Code    int      `json:"code"`
	Details []string `json:"details,omitempty"`
}
