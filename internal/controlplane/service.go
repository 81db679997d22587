// Package controlplane provides the HTTP API and service layer for taskhive.
package controlplane

import (
	"context"
	"encoding/json"

	"github.com/fentz26/taskhive/internal/models"
	"github.com/fentz26/taskhive/internal/scheduler"
	"github.com/fentz26/taskhive/internal/store"
)

// Journal is the read side of the event journal.
type Journal interface {
	ListEvents(ctx context.Context, f store.EventFilter) ([]models.Event, error)
	Ping(ctx context.Context) error
}

// Service provides the control plane business logic.
type Service struct {
	sched   *scheduler.Scheduler
	journal Journal
}

// NewService creates a service over sched. journal may be nil when the
// event journal is disabled.
func NewService(sched *scheduler.Scheduler, journal Journal) *Service {
	return &Service{sched: sched, journal: journal}
}

// --- Task Operations ---

// SubmitTask validates and enqueues a task.
func (s *Service) SubmitTask(id, taskType string, payload json.RawMessage, priority *int) (string, error) {
	return s.sched.Submit(scheduler.SubmitRequest{
		ID:       id,
		Type:     taskType,
		Payload:  payload,
		Priority: priority,
	})
}

// GetTask returns one task.
func (s *Service) GetTask(id string) (models.Task, error) {
	return s.sched.Task(id)
}

// ListTasks returns tasks matching f, newest first.
func (s *Service) ListTasks(f scheduler.TaskFilter) []models.Task {
	return s.sched.Tasks(f)
}

// ReportResult applies a worker's report. applied is false for duplicate or
// stale reports.
func (s *Service) ReportResult(taskID string, status models.CompletionStatus, result json.RawMessage, attempt int) (bool, error) {
	return s.sched.Complete(scheduler.CompleteRequest{
		TaskID:  taskID,
		Status:  status,
		Result:  result,
		Attempt: attempt,
	})
}

// --- Worker Operations ---

// RegisterWorker registers a worker, generating an id when empty.
func (s *Service) RegisterWorker(id string) (string, error) {
	return s.sched.Register(id)
}

// Heartbeat records a worker heartbeat.
func (s *Service) Heartbeat(workerID string) error {
	return s.sched.Heartbeat(workerID)
}

// LeaseNext grants the next task to workerID, or nil when none is queued.
func (s *Service) LeaseNext(workerID string) (*models.Task, error) {
	return s.sched.LeaseNext(workerID)
}

// DeregisterWorker removes a worker and requeues its tasks.
func (s *Service) DeregisterWorker(workerID string) ([]string, error) {
	return s.sched.Deregister(workerID)
}

// ListWorkers returns every registered worker.
func (s *Service) ListWorkers() []models.WorkerInfo {
	return s.sched.Workers()
}

// --- Admin Operations ---

// Status returns the status summary.
func (s *Service) Status() models.StatusSummary {
	return s.sched.StatusSummary()
}

// Reset clears all scheduler state. The journal is kept.
func (s *Service) Reset() {
	s.sched.Reset()
}

// ListEvents queries the event journal.
func (s *Service) ListEvents(ctx context.Context, f store.EventFilter) ([]models.Event, error) {
	if s.journal == nil {
		return nil, ErrJournalDisabled
	}
	return s.journal.ListEvents(ctx, f)
}

// PingJournal reports the journal's health. ok is true and status "disabled"
// when no journal is configured.
func (s *Service) PingJournal(ctx context.Context) (status string, ok bool) {
	if s.journal == nil {
		return "disabled", true
	}
	if err := s.journal.Ping(ctx); err != nil {
		return "error: " + err.Error(), false
	}
	return "ok", true
}
