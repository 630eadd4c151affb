// Package tasks runs user requests as asynchronous orchestration tasks and
// books confirmed slots.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/callpilot/callpilot/internal/models"
	"github.com/callpilot/callpilot/internal/swarm"
	"github.com/callpilot/callpilot/internal/tools"
	"github.com/google/uuid"
)

var (
	ErrTaskNotFound       = errors.New("task not found")
	ErrNotCompleted       = errors.New("task must be completed before confirming an appointment")
	ErrSlotNotShortlisted = errors.New("selected provider_id and slot are not in the task shortlist")
	ErrAlreadyConfirmed   = errors.New("task already has a confirmed appointment")
	ErrNoProviders        = errors.New("no providers configured")
	ErrBookingRejected    = errors.New("booking rejected")
	ErrNoResult           = errors.New("coordinator returned no result")
)

// Coordinator runs negotiations. *swarm.Coordinator implements it.
type Coordinator interface {
	RunSwarm(ctx context.Context, req models.UserRequest, maxConcurrent int) (*swarm.SwarmResult, error)
	RunSingle(ctx context.Context, providerID string, req models.UserRequest) (*swarm.SingleResult, error)
}

// ConfirmRequest picks one shortlisted slot of a completed task.
type ConfirmRequest struct {
	TaskID     string    `json:"task_id"`
	ProviderID string    `json:"provider_id"`
	Slot       time.Time `json:"slot"`
}

// Service owns the task lifecycle: pending, running, then completed or
// failed.
type Service struct {
	store     Store
	coord     Coordinator
	directory tools.Directory
	calendar  tools.CalendarSource
	maxAgents int
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger

	// mu serializes read-modify-write cycles on the store.
	mu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type ServiceOption func(*Service)

// WithMaxAgents bounds the swarm size of every task.
func WithMaxAgents(n int) ServiceOption {
	return func(s *Service) { s.maxAgents = n }
}

// WithCalendar checks confirmations against the user's calendar. When the
// calendar is also a tools.EventCreator, each booking is added to it.
func WithCalendar(c tools.CalendarSource) ServiceOption {
	return func(s *Service) { s.calendar = c }
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(newID func() string) ServiceOption {
	return func(s *Service) { s.newID = newID }
}

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService returns a service running tasks through coord. directory picks
// the provider of single mode tasks that do not name one, and backs
// confirmation checks.
func NewService(store Store, coord Coordinator, directory tools.Directory, opts ...ServiceOption) *Service {
	s := &Service{
		store:     store,
		coord:     coord,
		directory: directory,
		maxAgents: swarm.DefaultMaxAgents,
		now:       time.Now,
		newID:     uuid.NewString,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Create records a pending task and starts it in the background. The
// returned state is a snapshot; poll Get for progress.
func (s *Service) Create(_ context.Context, req models.UserRequest) (*models.TaskState, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", swarm.ErrInvalidRequest, err)
	}
	if req.Mode == "" {
		req.Mode = models.ModeSwarm
	}

	now := s.now()
	state := &models.TaskState{
		TaskID:    s.newID(),
		Status:    models.TaskPending,
		Mode:      req.Mode,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Put(state); err != nil {
		return nil, fmt.Errorf("storing task: %w", err)
	}

	s.logger.Info("Task created", "task", state.TaskID, "mode", state.Mode)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(state.TaskID, req)
	}()

	return state, nil
}

func (s *Service) run(taskID string, req models.UserRequest) {
	logger := s.logger.With("task", taskID)

	if err := s.update(taskID, func(t *models.TaskState) error {
		t.Status = models.TaskRunning
		return nil
	}); err != nil {
		logger.Error("Task vanished before it started", "error", err)
		return
	}

	ctx := swarm.WithTaskID(s.ctx, taskID)

	apply, runErr := s.execute(ctx, req)
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}

	err := s.update(taskID, func(t *models.TaskState) error {
		switch {
		case errors.Is(runErr, context.Canceled):
			t.Status = models.TaskCancelled
			t.Error = runErr.Error()
		case runErr != nil:
			t.Status = models.TaskFailed
			t.Error = runErr.Error()
		default:
			apply(t)
			t.Status = models.TaskCompleted
		}
		return nil
	})
	switch {
	case err != nil:
		logger.Error("Failed to store task result", "error", err)
	case runErr != nil:
		logger.Warn("Task failed", "error", runErr)
	default:
		logger.Info("Task completed")
	}
}

// execute runs the negotiation and returns how to fold its result into the
// task.
func (s *Service) execute(ctx context.Context, req models.UserRequest) (apply func(*models.TaskState), err error) {
	defer func() {
		if r := recover(); r != nil {
			apply, err = nil, fmt.Errorf("task panicked: %v", r)
		}
	}()

	if req.Mode == models.ModeSingle {
		providerID := req.ProviderID
		if providerID == "" {
			providers := s.directory.Providers()
			if len(providers) == 0 {
				return nil, ErrNoProviders
			}
			providerID = providers[0].ID
		}

		res, err := s.coord.RunSingle(ctx, providerID, req)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, ErrNoResult
		}
		return func(t *models.TaskState) {
			t.Outcomes = []models.NegotiationOutcome{res.Outcome}
			t.Shortlist = res.Shortlist
			t.ToolLog = res.ToolLog
		}, nil
	}

	res, err := s.coord.RunSwarm(ctx, req, s.maxAgents)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrNoResult
	}
	return func(t *models.TaskState) {
		t.Outcomes = res.Outcomes
		t.Shortlist = res.Shortlist
		t.ToolLog = res.ToolLog
	}, nil
}

// update applies fn to the stored task under the service lock and stamps
// UpdatedAt.
func (s *Service) update(taskID string, fn func(*models.TaskState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.Get(taskID)
	if err != nil {
		return err
	}
	if err := fn(t); err != nil {
		return err
	}
	t.UpdatedAt = s.now()
	return s.store.Put(t)
}

func (s *Service) Get(_ context.Context, taskID string) (*models.TaskState, error) {
	return s.store.Get(taskID)
}

func (s *Service) List(_ context.Context) ([]models.TaskSummary, error) {
	return s.store.List()
}

// Confirm books one of a completed task's shortlisted slots. Confirming the
// already booked slot again returns the existing booking.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (*models.BookedAppointment, error) {
	var booking *models.BookedAppointment

	err := s.update(req.TaskID, func(t *models.TaskState) error {
		if t.Status != models.TaskCompleted {
			return ErrNotCompleted
		}

		if !shortlisted(t.Shortlist, req.ProviderID, req.Slot) {
			return ErrSlotNotShortlisted
		}

		if b := t.Booking; b != nil {
			if b.ProviderID == req.ProviderID && b.Slot.Equal(req.Slot) {
				booking = b
				return nil
			}
			return ErrAlreadyConfirmed
		}

		toolOpts := []tools.Option{tools.WithClock(s.now), tools.WithLogger(s.logger)}
		if s.calendar != nil {
			toolOpts = append(toolOpts, tools.WithCalendar(s.calendar))
		}
		registry := tools.NewRegistry(s.directory, toolOpts...)
		result := registry.Invoke(ctx, string(tools.ConfirmSlot), map[string]any{
			"provider_id": req.ProviderID,
			"slot_iso":    models.FormatSlotTime(req.Slot),
		})
		if ok, _ := result["ok"].(bool); !ok {
			return fmt.Errorf("%w: %v", ErrBookingRejected, result["error"])
		}

		confirmationID, _ := result["confirmation_id"].(string)
		message, _ := result["message"].(string)
		booking = &models.BookedAppointment{
			TaskID:         t.TaskID,
			ProviderID:     req.ProviderID,
			Slot:           req.Slot,
			ConfirmationID: confirmationID,
			Message:        message,
		}
		s.addToCalendar(ctx, booking)
		t.Booking = booking
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Appointment confirmed", "task", req.TaskID, "provider", req.ProviderID, "slot", models.FormatSlotTime(req.Slot))
	return booking, nil
}

// appointmentLength is the calendar event length of a booking.
const appointmentLength = 30 * time.Minute

// addToCalendar records b in the calendar when it supports event creation.
// A calendar failure does not undo the booking.
func (s *Service) addToCalendar(ctx context.Context, b *models.BookedAppointment) {
	creator, ok := s.calendar.(tools.EventCreator)
	if !ok {
		return
	}

	name := b.ProviderID
	if p, found := s.directory.Get(b.ProviderID); found && p.Name != "" {
		name = p.Name
	}

	ev, err := creator.CreateEvent(ctx, b.Slot, b.Slot.Add(appointmentLength), "Appointment with "+name)
	if err != nil {
		s.logger.Warn("Could not add booking to calendar", "task", b.TaskID, "provider", b.ProviderID, "error", err)
		return
	}
	b.CalendarEventID = ev.ID
	b.CalendarLink = ev.Link
}

func shortlisted(shortlist []models.RankedSlot, providerID string, slot time.Time) bool {
	for _, r := range shortlist {
		if r.ProviderID == providerID && r.Slot.Equal(slot) {
			return true
		}
	}
	return false
}

// PostMessage attaches a follow-up message from the user to a task. Messages
// are recorded only; running sessions do not see them.
func (s *Service) PostMessage(_ context.Context, taskID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: message is required", swarm.ErrInvalidRequest)
	}

	return s.update(taskID, func(t *models.TaskState) error {
		t.FollowUps = append(t.FollowUps, text)
		return nil
	})
}

// Wait blocks until every started task has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown cancels running tasks and waits for them, or for ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
