package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/callpilot/callpilot/internal/catalog"
	"github.com/callpilot/callpilot/internal/channel"
	"github.com/callpilot/callpilot/internal/models"
	"github.com/callpilot/callpilot/internal/negotiation"
	"github.com/callpilot/callpilot/internal/swarm"
	"github.com/callpilot/callpilot/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2026-10-19 is a Monday.
var now = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

var slot9 = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func testCatalog() *catalog.Catalog {
	return catalog.New([]models.Provider{
		{ID: "dent-001", Name: "Bright Smiles", Rating: 4.8, DistanceKM: 1.2, AvailabilityProfile: models.DefaultAvailabilityProfile()},
		{ID: "dent-002", Name: "Gentle Care", Rating: 4.1, DistanceKM: 3.4, AvailabilityProfile: models.DefaultAvailabilityProfile()},
	})
}

// fakeCoordinator returns canned results. block, when set, holds runs until
// it is closed or the context ends.
type fakeCoordinator struct {
	swarmResult  *swarm.SwarmResult
	singleResult *swarm.SingleResult
	err          error
	panicMsg     string
	block        chan struct{}

	mu             sync.Mutex
	singleProvider string
	maxConcurrent  int
	taskIDs        []string
}

func (f *fakeCoordinator) wait(ctx context.Context) error {
	if f.block == nil {
		return nil
	}
	select {
	case <-f.block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeCoordinator) RunSwarm(ctx context.Context, _ models.UserRequest, maxConcurrent int) (*swarm.SwarmResult, error) {
	f.mu.Lock()
	f.maxConcurrent = maxConcurrent
	f.mu.Unlock()

	if err := f.wait(ctx); err != nil {
		return &swarm.SwarmResult{}, nil
	}
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.swarmResult, f.err
}

func (f *fakeCoordinator) RunSingle(ctx context.Context, providerID string, _ models.UserRequest) (*swarm.SingleResult, error) {
	f.mu.Lock()
	f.singleProvider = providerID
	f.mu.Unlock()

	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.singleResult, f.err
}

func swarmResult() *swarm.SwarmResult {
	return &swarm.SwarmResult{
		Outcomes: []models.NegotiationOutcome{{ProviderID: "dent-001", ProposedSlot: &slot9, Confidence: 1, RejectionReasons: []string{}}},
		Shortlist: []models.RankedSlot{
			{ProviderID: "dent-001", ProviderName: "Bright Smiles", Slot: slot9, Score: 1, Rank: 1},
		},
		ToolLog: []models.ToolInvocation{{ToolName: "confirm_slot", Result: map[string]any{"ok": true}}},
	}
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("task-%d", n)
	}
}

func newService(coord Coordinator, opts ...ServiceOption) *Service {
	opts = append([]ServiceOption{WithClock(clock), WithIDGenerator(sequentialIDs())}, opts...)
	return NewService(NewMemoryStore(), coord, testCatalog(), opts...)
}

func TestCreate_SwarmCompletes(t *testing.T) {
	coord := &fakeCoordinator{swarmResult: swarmResult()}
	svc := newService(coord, WithMaxAgents(7))

	state, err := svc.Create(context.Background(), models.UserRequest{Message: "cleaning"})
	require.NoError(t, err)
	assert.Equal(t, "task-1", state.TaskID)
	assert.Equal(t, models.TaskPending, state.Status)
	assert.Equal(t, models.ModeSwarm, state.Mode, "mode defaults to swarm")

	svc.Wait()

	got, err := svc.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, got.Status)
	assert.Len(t, got.Outcomes, 1)
	assert.Len(t, got.Shortlist, 1)
	assert.Len(t, got.ToolLog, 1)
	assert.Empty(t, got.Error)
	assert.Equal(t, 7, coord.maxConcurrent)
}

func TestCreate_SingleUsesFirstProvider(t *testing.T) {
	coord := &fakeCoordinator{singleResult: &swarm.SingleResult{
		Outcome:   models.NegotiationOutcome{ProviderID: "dent-001", RejectionReasons: []string{}},
		Shortlist: []models.RankedSlot{{ProviderID: "dent-001", Slot: slot9, Score: 0.5, Rank: 1}},
	}}
	svc := newService(coord)

	_, err := svc.Create(context.Background(), models.UserRequest{Message: "cleaning", Mode: models.ModeSingle})
	require.NoError(t, err)
	svc.Wait()

	got, err := svc.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, got.Status)
	assert.Equal(t, "dent-001", coord.singleProvider)
	assert.Len(t, got.Outcomes, 1)
	assert.Equal(t, 0.5, got.Shortlist[0].Score)
}

func TestCreate_SingleWithExplicitProvider(t *testing.T) {
	coord := &fakeCoordinator{singleResult: &swarm.SingleResult{}}
	svc := newService(coord)

	_, err := svc.Create(context.Background(), models.UserRequest{Message: "x", Mode: models.ModeSingle, ProviderID: "dent-002"})
	require.NoError(t, err)
	svc.Wait()
	assert.Equal(t, "dent-002", coord.singleProvider)
}

func TestCreate_SingleWithoutProviders(t *testing.T) {
	svc := NewService(NewMemoryStore(), &fakeCoordinator{}, catalog.New(nil), WithIDGenerator(sequentialIDs()))

	_, err := svc.Create(context.Background(), models.UserRequest{Message: "x", Mode: models.ModeSingle})
	require.NoError(t, err)
	svc.Wait()

	got, err := svc.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, got.Status)
	assert.Equal(t, ErrNoProviders.Error(), got.Error)
}

func TestCreate_Failures(t *testing.T) {
	tests := []struct {
		name  string
		mode  models.Mode
		coord *fakeCoordinator
		want  string
	}{
		{"coordinator error", models.ModeSwarm, &fakeCoordinator{err: errors.New("catalog exploded")}, "catalog exploded"},
		{"panic", models.ModeSwarm, &fakeCoordinator{panicMsg: "boom"}, "task panicked: boom"},
		{"no swarm result", models.ModeSwarm, &fakeCoordinator{}, ErrNoResult.Error()},
		{"no single result", models.ModeSingle, &fakeCoordinator{}, ErrNoResult.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(tt.coord)
			_, err := svc.Create(context.Background(), models.UserRequest{Message: "x", Mode: tt.mode})
			require.NoError(t, err)
			svc.Wait()

			got, err := svc.Get(context.Background(), "task-1")
			require.NoError(t, err)
			assert.Equal(t, models.TaskFailed, got.Status)
			assert.Equal(t, tt.want, got.Error)
		})
	}
}

func TestCreate_InvalidRequest(t *testing.T) {
	svc := newService(&fakeCoordinator{})

	_, err := svc.Create(context.Background(), models.UserRequest{Mode: models.ModeSwarm})
	require.ErrorIs(t, err, swarm.ErrInvalidRequest)

	list, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestShutdownCancelsRunningTasks(t *testing.T) {
	coord := &fakeCoordinator{block: make(chan struct{})}
	svc := newService(coord)

	_, err := svc.Create(context.Background(), models.UserRequest{Message: "x"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := svc.Get(context.Background(), "task-1")
		return err == nil && got.Status == models.TaskRunning
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))

	got, err := svc.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCancelled, got.Status)
}

func completedService(t *testing.T) *Service {
	t.Helper()
	svc := newService(&fakeCoordinator{swarmResult: swarmResult()})
	_, err := svc.Create(context.Background(), models.UserRequest{Message: "cleaning"})
	require.NoError(t, err)
	svc.Wait()
	return svc
}

func TestConfirm(t *testing.T) {
	svc := completedService(t)

	booking, err := svc.Confirm(context.Background(), ConfirmRequest{TaskID: "task-1", ProviderID: "dent-001", Slot: slot9})
	require.NoError(t, err)
	assert.Equal(t, "book-dent-001-2026-10-19", booking.ConfirmationID)
	assert.Equal(t, "Booking confirmed (mock).", booking.Message)
	assert.Equal(t, "task-1", booking.TaskID)

	got, err := svc.Get(context.Background(), "task-1")
	require.NoError(t, err)
	require.NotNil(t, got.Booking)
	assert.Equal(t, booking.ConfirmationID, got.Booking.ConfirmationID)

	// Same slot again is idempotent.
	again, err := svc.Confirm(context.Background(), ConfirmRequest{TaskID: "task-1", ProviderID: "dent-001", Slot: slot9.In(time.FixedZone("CEST", 2*3600))})
	require.NoError(t, err)
	assert.Equal(t, booking.ConfirmationID, again.ConfirmationID)
}

// recordingCalendar has no busy windows and records created events.
type recordingCalendar struct {
	err    error
	events []string
}

func (c *recordingCalendar) BusyWindows(context.Context, time.Time, time.Time) ([]tools.BusyWindow, error) {
	return nil, nil
}

func (c *recordingCalendar) CreateEvent(_ context.Context, start, end time.Time, summary string) (tools.CalendarEvent, error) {
	if c.err != nil {
		return tools.CalendarEvent{}, c.err
	}
	c.events = append(c.events, fmt.Sprintf("%s %s-%s", summary, start.Format("15:04"), end.Format("15:04")))
	return tools.CalendarEvent{ID: "evt-1", Link: "https://calendar.example/evt-1"}, nil
}

func TestConfirm_AddsBookingToCalendar(t *testing.T) {
	cal := &recordingCalendar{}
	svc := newService(&fakeCoordinator{swarmResult: swarmResult()}, WithCalendar(cal))
	_, err := svc.Create(context.Background(), models.UserRequest{Message: "cleaning"})
	require.NoError(t, err)
	svc.Wait()

	booking, err := svc.Confirm(context.Background(), ConfirmRequest{TaskID: "task-1", ProviderID: "dent-001", Slot: slot9})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", booking.CalendarEventID)
	assert.Equal(t, "https://calendar.example/evt-1", booking.CalendarLink)
	assert.Equal(t, []string{"Appointment with Bright Smiles 09:00-09:30"}, cal.events)

	// Confirming again returns the stored booking without a second event.
	_, err = svc.Confirm(context.Background(), ConfirmRequest{TaskID: "task-1", ProviderID: "dent-001", Slot: slot9})
	require.NoError(t, err)
	assert.Len(t, cal.events, 1)
}

func TestConfirm_CalendarFailureKeepsBooking(t *testing.T) {
	cal := &recordingCalendar{err: errors.New("calendar offline")}
	svc := newService(&fakeCoordinator{swarmResult: swarmResult()}, WithCalendar(cal))
	_, err := svc.Create(context.Background(), models.UserRequest{Message: "cleaning"})
	require.NoError(t, err)
	svc.Wait()

	booking, err := svc.Confirm(context.Background(), ConfirmRequest{TaskID: "task-1", ProviderID: "dent-001", Slot: slot9})
	require.NoError(t, err)
	assert.Equal(t, "book-dent-001-2026-10-19", booking.ConfirmationID)
	assert.Empty(t, booking.CalendarEventID)
	assert.Empty(t, booking.CalendarLink)
}

func TestConfirm_Errors(t *testing.T) {
	svc := completedService(t)

	_, err := svc.Confirm(context.Background(), ConfirmRequest{TaskID: "nope", ProviderID: "dent-001", Slot: slot9})
	require.ErrorIs(t, err, ErrTaskNotFound)

	_, err = svc.Confirm(context.Background(), ConfirmRequest{TaskID: "task-1", ProviderID: "dent-002", Slot: slot9})
	require.ErrorIs(t, err, ErrSlotNotShortlisted)

	_, err = svc.Confirm(context.Background(), ConfirmRequest{TaskID: "task-1", ProviderID: "dent-001", Slot: slot9.Add(time.Hour)})
	require.ErrorIs(t, err, ErrSlotNotShortlisted)
}

func TestConfirm_NotCompleted(t *testing.T) {
	coord := &fakeCoordinator{swarmResult: swarmResult(), block: make(chan struct{})}
	svc := newService(coord)

	_, err := svc.Create(context.Background(), models.UserRequest{Message: "x"})
	require.NoError(t, err)

	_, err = svc.Confirm(context.Background(), ConfirmRequest{TaskID: "task-1", ProviderID: "dent-001", Slot: slot9})
	require.ErrorIs(t, err, ErrNotCompleted)

	close(coord.block)
	svc.Wait()
}

func TestConfirm_RejectedByProvider(t *testing.T) {
	saturday := time.Date(2026, 10, 24, 9, 0, 0, 0, time.UTC)
	res := swarmResult()
	res.Shortlist = []models.RankedSlot{{ProviderID: "dent-001", Slot: saturday, Rank: 1}}

	svc := newService(&fakeCoordinator{swarmResult: res})
	_, err := svc.Create(context.Background(), models.UserRequest{Message: "x"})
	require.NoError(t, err)
	svc.Wait()

	_, err = svc.Confirm(context.Background(), ConfirmRequest{TaskID: "task-1", ProviderID: "dent-001", Slot: saturday})
	require.ErrorIs(t, err, ErrBookingRejected)
	require.ErrorContains(t, err, "Slot 2026-10-24T09:00:00Z is not available")
}

func TestPostMessage(t *testing.T) {
	svc := completedService(t)

	require.NoError(t, svc.PostMessage(context.Background(), "task-1", "  Can it be later?  "))
	require.NoError(t, svc.PostMessage(context.Background(), "task-1", "Thanks"))

	got, err := svc.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Can it be later?", "Thanks"}, got.FollowUps)

	require.ErrorIs(t, svc.PostMessage(context.Background(), "missing", "hi"), ErrTaskNotFound)
	require.ErrorIs(t, svc.PostMessage(context.Background(), "task-1", "   "), swarm.ErrInvalidRequest)
}

func TestEndToEnd_WithLocalAgents(t *testing.T) {
	cat := testCatalog()
	runner := negotiation.NewRunner(negotiation.Config{
		TurnTimeout:  500 * time.Millisecond,
		PollInterval: 2 * time.Millisecond,
		Now:          clock,
	})
	coord := swarm.New(cat, channel.LocalFactory{}, swarm.WithRunner(runner))
	svc := NewService(NewMemoryStore(), coord, cat, WithClock(clock))

	state, err := svc.Create(context.Background(), models.UserRequest{Message: "I need a checkup"})
	require.NoError(t, err)
	svc.Wait()

	got, err := svc.Get(context.Background(), state.TaskID)
	require.NoError(t, err)
	require.Equal(t, models.TaskCompleted, got.Status, got.Error)
	require.Len(t, got.Shortlist, 2)
	assert.Equal(t, "dent-001", got.Shortlist[0].ProviderID)

	booking, err := svc.Confirm(context.Background(), ConfirmRequest{
		TaskID:     state.TaskID,
		ProviderID: got.Shortlist[0].ProviderID,
		Slot:       got.Shortlist[0].Slot,
	})
	require.NoError(t, err)
	assert.Equal(t, "book-dent-001-2026-10-19", booking.ConfirmationID)
}
