// Package webapi exposes the task, appointment and message endpoints over
// HTTP.
package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/callpilot/callpilot/internal/models"
	"github.com/callpilot/callpilot/internal/swarm"
	"github.com/callpilot/callpilot/internal/tasks"
	"github.com/callpilot/callpilot/internal/validation"
)

// Version is set at build time or defaults to dev.
var Version = "dev"

const maxBodyBytes = 1 << 20

// TaskService is the task backend. *tasks.Service implements it.
type TaskService interface {
	Create(ctx context.Context, req models.UserRequest) (*models.TaskState, error)
	Get(ctx context.Context, taskID string) (*models.TaskState, error)
	List(ctx context.Context) ([]models.TaskSummary, error)
	Confirm(ctx context.Context, req tasks.ConfirmRequest) (*models.BookedAppointment, error)
	PostMessage(ctx context.Context, taskID, text string) error
}

// Handlers holds the HTTP handler methods for the web API.
type Handlers struct {
	svc TaskService
}

func NewHandlers(svc TaskService) *Handlers {
	return &Handlers{svc: svc}
}

// HandleHealth returns a simple health check response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: Version,
	})
}

// HandleCreateTask starts a task and returns its id immediately.
func (h *Handlers) HandleCreateTask(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, validation.ValidateTaskRequest)
	if !ok {
		return
	}

	var req models.UserRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	state, err := h.svc.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, TaskCreateResponse{
		TaskID:  state.TaskID,
		Status:  state.Status,
		Message: fmt.Sprintf("Task started. Poll GET /api/v1/tasks/%s for status and results.", state.TaskID),
	})
}

func (h *Handlers) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, TaskListResponse{Tasks: list})
}

func (h *Handlers) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "task id is required")
		return
	}

	state, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// HandleConfirm books one of a completed task's shortlisted slots.
func (h *Handlers) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, validation.ValidateConfirmRequest)
	if !ok {
		return
	}

	var req ConfirmRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	slot, err := models.ParseSlotTime(req.Slot, time.UTC)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid slot %q", req.Slot))
		return
	}

	booking, err := h.svc.Confirm(r.Context(), tasks.ConfirmRequest{
		TaskID:     req.TaskID,
		ProviderID: req.ProviderID,
		Slot:       slot,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ConfirmResponse{OK: true, Appointment: booking})
}

// HandleMessage records a follow-up message on a task.
func (h *Handlers) HandleMessage(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, validation.ValidateMessageRequest)
	if !ok {
		return
	}

	var req MessageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if err := h.svc.PostMessage(r.Context(), req.TaskID, req.Message); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		OK:      true,
		Message: "Message recorded on the task.",
	})
}

// RegisterRoutes registers all web API routes on the given mux.
func RegisterRoutes(mux *http.ServeMux, svc TaskService) {
	h := NewHandlers(svc)
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("POST /api/v1/tasks", h.HandleCreateTask)
	mux.HandleFunc("GET /api/v1/tasks", h.HandleListTasks)
	mux.HandleFunc("GET /api/v1/tasks/{id}", h.HandleGetTask)
	mux.HandleFunc("POST /api/v1/appointments/confirm", h.HandleConfirm)
	mux.HandleFunc("POST /api/v1/messages", h.HandleMessage)
}

// CORSMiddleware wraps a handler with CORS headers.
// If allowedOrigins is empty, no CORS header is set (same-origin only).
// Otherwise, the request Origin is checked against the allowed list; "*"
// allows any origin.
func CORSMiddleware(next http.Handler, allowedOrigins ...string) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowed[origin] || allowed["*"]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// readBody reads and schema-validates the request body. On failure the error
// response has been written.
func readBody(w http.ResponseWriter, r *http.Request, validate func([]byte) []string) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return nil, false
	}

	if errs := validate(body); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "request failed validation",
			Code:    http.StatusBadRequest,
			Details: errs,
		})
		return nil, false
	}
	return body, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tasks.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "Task not found")
	case errors.Is(err, swarm.ErrInvalidRequest),
		errors.Is(err, tasks.ErrNotCompleted),
		errors.Is(err, tasks.ErrSlotNotShortlisted):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tasks.ErrAlreadyConfirmed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, tasks.ErrBookingRejected):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg, Code: code})
}
