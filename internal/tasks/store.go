package tasks

import (
	"cmp"
	"slices"
	"sync"

	"github.com/callpilot/callpilot/internal/models"
)

// Store persists task state. Implementations return copies; callers never
// share a *TaskState with the store.
type Store interface {
	Get(id string) (*models.TaskState, error)
	Put(t *models.TaskState) error
	// List returns all tasks, oldest first.
	List() ([]models.TaskSummary, error)
}

// MemoryStore keeps tasks in process memory. Tasks are lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*models.TaskState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*models.TaskState)}
}

func (s *MemoryStore) Get(id string) (*models.TaskState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return clone(t), nil
}

func (s *MemoryStore) Put(t *models.TaskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.TaskID] = clone(t)
	return nil
}

func (s *MemoryStore) List() ([]models.TaskSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.TaskSummary, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Summary())
	}

	slices.SortFunc(out, func(a, b models.TaskSummary) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.TaskID, b.TaskID)
	})
	return out, nil
}

// clone copies t deep enough that the copy's slices and booking can be
// modified without touching t. Outcome transcripts and tool params are
// shared; nothing mutates them after a session ends.
func clone(t *models.TaskState) *models.TaskState {
	c := *t
	c.Outcomes = slices.Clone(t.Outcomes)
	c.Shortlist = slices.Clone(t.Shortlist)
	c.ToolLog = slices.Clone(t.ToolLog)
	c.FollowUps = slices.Clone(t.FollowUps)
	if t.Request.Preferences != nil {
		p := *t.Request.Preferences
		c.Request.Preferences = &p
	}
	if t.Booking != nil {
		b := *t.Booking
		c.Booking = &b
	}
	return &c
}
