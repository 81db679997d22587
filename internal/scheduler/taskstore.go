package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fentz26/taskhive/internal/models"
	"github.com/google/uuid"
)

// NewTask describes a task to create. ID may be empty to have one assigned.
type NewTask struct {
	ID       string
	Type     string
	Payload  json.RawMessage
	Priority int
}

// TransitionFields carries the data recorded alongside a state change.
type TransitionFields struct {
	Worker string
	At     time.Time
	Result json.RawMessage
}

// TaskFilter narrows SnapshotAll. Zero values match everything.
type TaskFilter struct {
	State  models.TaskState
	Type   string
	Worker string
	Limit  int
}

func (f TaskFilter) match(t *models.Task) bool {
	if f.State != "" && t.State != f.State {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Worker != "" && t.AssignedWorker != f.Worker {
		return false
	}
	return true
}

// TaskStore owns task records and enforces the task state machine.
type TaskStore struct {
	tasks map[string]*models.Task
	order []string // creation order
	newID func() string
}

// NewTaskStore creates an empty store that assigns uuid task ids.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[string]*models.Task),
		newID: func() string { return uuid.New().String() },
	}
}

// Create inserts a new Queued task.
func (s *TaskStore) Create(nt NewTask, now time.Time) (models.Task, error) {
	id := nt.ID
	if id == "" {
		id = s.newID()
		for s.tasks[id] != nil {
			id = s.newID()
		}
	} else if _, exists := s.tasks[id]; exists {
		return models.Task{}, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	task := &models.Task{
		ID:        id,
		Type:      nt.Type,
		Payload:   append(json.RawMessage(nil), nt.Payload...),
		Priority:  nt.Priority,
		State:     models.TaskStateQueued,
		CreatedAt: now,
	}
	s.tasks[id] = task
	s.order = append(s.order, id)
	return task.Clone(), nil
}

// Get returns a copy of the task.
func (s *TaskStore) Get(id string) (models.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return models.Task{}, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	return t.Clone(), nil
}

// Transition applies one of the public transitions:
// queued -> leased, leased -> done, leased -> failed.
func (s *TaskStore) Transition(id string, to models.TaskState, f TransitionFields) (models.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return models.Task{}, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if !t.State.CanTransitionTo(to) {
		return models.Task{}, fmt.Errorf("%w: task %s %s -> %s", ErrInvalidTransition, id, t.State, to)
	}

	at := f.At
	switch to {
	case models.TaskStateLeased:
		if f.Worker == "" {
			return models.Task{}, fmt.Errorf("%w: task %s leased without a worker", ErrInvalidTransition, id)
		}
		t.AssignedWorker = f.Worker
		t.LeaseStartedAt = &at
		t.Attempts++
	case models.TaskStateDone, models.TaskStateFailed:
		t.CompletedAt = &at
		t.Result = append(json.RawMessage(nil), f.Result...)
	}
	t.State = to
	return t.Clone(), nil
}

// Requeue moves a leased task back to queued, discarding its lease fields.
// It is the only way back into the queue.
func (s *TaskStore) Requeue(id string) (models.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return models.Task{}, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if t.State != models.TaskStateLeased {
		return models.Task{}, fmt.Errorf("%w: task %s %s -> %s", ErrInvalidTransition, id, t.State, models.TaskStateQueued)
	}
	t.State = models.TaskStateQueued
	t.AssignedWorker = ""
	t.LeaseStartedAt = nil
	return t.Clone(), nil
}

// SnapshotAll returns copies of matching tasks, newest first.
func (s *TaskStore) SnapshotAll(f TaskFilter) []models.Task {
	out := make([]models.Task, 0)
	for i := len(s.order) - 1; i >= 0; i-- {
		t := s.tasks[s.order[i]]
		if !f.match(t) {
			continue
		}
		out = append(out, t.Clone())
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Counts returns the number of tasks in each state.
func (s *TaskStore) Counts() map[models.TaskState]int {
	counts := make(map[models.TaskState]int, len(models.AllTaskStates))
	for _, t := range s.tasks {
		counts[t.State]++
	}
	return counts
}

// Len returns the number of tasks ever created since the last Clear.
func (s *TaskStore) Len() int {
	return len(s.tasks)
}

// each calls fn for every task in creation order. fn must not mutate the task.
func (s *TaskStore) each(fn func(t *models.Task)) {
	for _, id := range s.order {
		fn(s.tasks[id])
	}
}

// Clear deletes every task.
func (s *TaskStore) Clear() {
	s.tasks = make(map[string]*models.Task)
	s.order = nil
}
