package scheduler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/taskhive/internal/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Requeue reasons reported by Tick and Deregister.
const (
	ReasonWorkerDead   = "worker_dead"
	ReasonLeaseExpired = "lease_expired"
	ReasonWorkerLeft   = "worker_left"
)

// EventSink receives the events produced by state-mutating operations.
// Publish is called outside the scheduler lock once per operation, with that
// operation's events in order. Batches from concurrent operations may arrive
// out of order; each event's Timestamp is taken under the lock and gives the
// true sequence.
type EventSink interface {
	Publish(events []models.Event)
}

// SubmitRequest describes a task submission. A nil Priority selects the
// configured default.
type SubmitRequest struct {
	ID       string
	Type     string
	Payload  json.RawMessage
	Priority *int
}

// CompleteRequest is a worker's report for a leased task. A positive Attempt
// must match the task's current lease attempt for the report to apply.
type CompleteRequest struct {
	TaskID  string
	Status  models.CompletionStatus
	Result  json.RawMessage
	Attempt int
}

// Requeue records one task returned to the queue by the scheduler.
type Requeue struct {
	TaskID   string `json:"task_id"`
	WorkerID string `json:"worker_id"`
	Reason   string `json:"reason"`
}

// TickReport summarizes one failure-monitor pass.
type TickReport struct {
	EvictedWorkers []string  `json:"evicted_workers"`
	Requeued       []Requeue `json:"requeued"`
}

// Empty reports whether the tick changed nothing.
func (r TickReport) Empty() bool {
	return len(r.EvictedWorkers) == 0 && len(r.Requeued) == 0
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock used for every timestamp and timeout check.
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithEventSink sets where scheduler events are published.
func WithEventSink(sink EventSink) Option {
	return func(s *Scheduler) { s.sink = sink }
}

// Scheduler is the single owner of task, queue, worker and lease state.
// Every operation runs under one lock so no caller observes a partially
// applied transition.
type Scheduler struct {
	mu      sync.RWMutex
	tasks   *TaskStore
	queue   *PriorityQueue
	workers *WorkerRegistry
	leases  *LeaseTracker

	firstLeaseAt     time.Time
	lastCompletionAt time.Time
	requeues         int

	config *Config
	clock  clockwork.Clock
	logger *zap.Logger
	sink   EventSink
}

// New creates a scheduler. A nil cfg selects DefaultConfig.
func New(cfg *Config, opts ...Option) (*Scheduler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}

	s := &Scheduler{
		tasks:   NewTaskStore(),
		queue:   NewPriorityQueue(),
		workers: NewWorkerRegistry(),
		leases:  NewLeaseTracker(),
		config:  cfg,
		clock:   clockwork.NewRealClock(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("scheduler")
	return s, nil
}

// Config returns the scheduler configuration.
func (s *Scheduler) Config() Config {
	return *s.config
}

// recorder collects the events of one locked operation.
type recorder struct {
	now    time.Time
	events []models.Event
}

func (r *recorder) add(action, taskID, workerID, outcome, details string) {
	r.events = append(r.events, models.Event{
		Action:    action,
		TaskID:    taskID,
		WorkerID:  workerID,
		Outcome:   outcome,
		Details:   details,
		Timestamp: r.now,
	})
}

// update runs fn under the write lock and publishes its events afterwards.
func (s *Scheduler) update(fn func(rec *recorder) error) error {
	s.mu.Lock()
	rec := &recorder{now: s.clock.Now()}
	err := fn(rec)
	s.mu.Unlock()

	if s.sink != nil && len(rec.events) > 0 {
		s.sink.Publish(rec.events)
	}
	return err
}

// Submit validates and enqueues a new task, returning its id.
func (s *Scheduler) Submit(req SubmitRequest) (string, error) {
	if strings.TrimSpace(req.Type) == "" {
		return "", fmt.Errorf("%w: task type is required", ErrInvalidArgument)
	}
	payload := bytes.TrimSpace(req.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return "", fmt.Errorf("%w: task payload is required", ErrInvalidArgument)
	}
	if !json.Valid(payload) {
		return "", fmt.Errorf("%w: task payload is not valid JSON", ErrInvalidArgument)
	}

	priority := s.config.DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	var id string
	err := s.update(func(rec *recorder) error {
		task, err := s.tasks.Create(NewTask{
			ID:       req.ID,
			Type:     req.Type,
			Payload:  payload,
			Priority: priority,
		}, rec.now)
		if err != nil {
			return err
		}
		s.queue.Push(task.ID, task.Priority)
		id = task.ID
		rec.add(models.ActionTaskSubmit, task.ID, "", string(models.TaskStateQueued),
			fmt.Sprintf("type=%s priority=%d", task.Type, task.Priority))
		return nil
	})
	if err != nil {
		return "", err
	}

	s.logger.Debug("task submitted", zap.String("task_id", id), zap.String("type", req.Type), zap.Int("priority", priority))
	return id, nil
}

// LeaseNext grants the most urgent queued task to workerID and refreshes the
// worker's heartbeat. It returns nil when nothing is queued; it never blocks.
func (s *Scheduler) LeaseNext(workerID string) (*models.Task, error) {
	if workerID == "" {
		return nil, fmt.Errorf("%w: worker id is required", ErrInvalidArgument)
	}

	var leased *models.Task
	err := s.update(func(rec *recorder) error {
		if s.workers.Heartbeat(workerID, rec.now) {
			s.logger.Info("worker registered implicitly", zap.String("worker_id", workerID))
			rec.add(models.ActionWorkerJoin, "", workerID, "implicit", "")
		}

		id, ok := s.queue.PopMin()
		if !ok {
			return nil
		}
		if l, held := s.leases.Get(id); held {
			s.logger.Error("queued task already holds a lease",
				zap.String("task_id", id), zap.String("holder", l.WorkerID))
			return fmt.Errorf("%w: task %s held by %s", ErrAlreadyLeased, id, l.WorkerID)
		}
		task, err := s.tasks.Transition(id, models.TaskStateLeased, TransitionFields{Worker: workerID, At: rec.now})
		if err != nil {
			s.logger.Error("dequeued task cannot be leased", zap.String("task_id", id), zap.Error(err))
			return err
		}
		if err := s.leases.Grant(id, workerID, rec.now, task.Attempts); err != nil {
			s.logger.Error("lease grant failed", zap.String("task_id", id), zap.Error(err))
			return err
		}
		if s.firstLeaseAt.IsZero() {
			s.firstLeaseAt = rec.now
		}
		leased = &task
		rec.add(models.ActionTaskLease, id, workerID, string(models.TaskStateLeased),
			fmt.Sprintf("attempt=%d", task.Attempts))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if leased != nil {
		s.logger.Debug("task leased",
			zap.String("task_id", leased.ID), zap.String("worker_id", workerID), zap.Int("attempt", leased.Attempts))
	}
	return leased, nil
}

// Complete records a worker's terminal report. Reports for unknown tasks,
// tasks not currently leased, or a stale attempt are ignored and return
// applied=false; the first accepted report wins.
func (s *Scheduler) Complete(req CompleteRequest) (applied bool, err error) {
	to, ok := req.Status.TaskState()
	if !ok {
		return false, fmt.Errorf("%w: status must be done or failed, got %q", ErrInvalidArgument, req.Status)
	}

	err = s.update(func(rec *recorder) error {
		task, err := s.tasks.Get(req.TaskID)
		if err != nil {
			s.logger.Debug("ignoring report for unknown task", zap.String("task_id", req.TaskID))
			return nil
		}
		if task.State != models.TaskStateLeased {
			s.logger.Debug("ignoring report for task not leased",
				zap.String("task_id", req.TaskID), zap.String("state", task.State.String()))
			return nil
		}
		if req.Attempt > 0 && req.Attempt != task.Attempts {
			s.logger.Debug("ignoring stale report",
				zap.String("task_id", req.TaskID), zap.Int("attempt", req.Attempt), zap.Int("current", task.Attempts))
			return nil
		}

		if _, err := s.tasks.Transition(task.ID, to, TransitionFields{At: rec.now, Result: req.Result}); err != nil {
			s.logger.Error("completion transition failed", zap.String("task_id", task.ID), zap.Error(err))
			return err
		}
		s.leases.Release(task.ID)
		s.lastCompletionAt = rec.now
		applied = true
		rec.add(models.ActionTaskComplete, task.ID, task.AssignedWorker, string(to), "")
		return nil
	})
	return applied, err
}

// Heartbeat records that a worker is alive. Unknown workers are registered.
func (s *Scheduler) Heartbeat(workerID string) error {
	if workerID == "" {
		return fmt.Errorf("%w: worker id is required", ErrInvalidArgument)
	}
	return s.update(func(rec *recorder) error {
		if s.workers.Heartbeat(workerID, rec.now) {
			s.logger.Info("worker registered implicitly", zap.String("worker_id", workerID))
			rec.add(models.ActionWorkerJoin, "", workerID, "implicit", "")
		}
		return nil
	})
}

// Register upserts a worker and returns its id, generating one when empty.
func (s *Scheduler) Register(workerID string) (string, error) {
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:6]
	}
	err := s.update(func(rec *recorder) error {
		if s.workers.Register(workerID, rec.now) {
			rec.add(models.ActionWorkerJoin, "", workerID, "registered", "")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	s.logger.Info("worker registered", zap.String("worker_id", workerID))
	return workerID, nil
}

// Deregister removes a worker that is shutting down and requeues every task
// it still holds. It returns the requeued task ids.
func (s *Scheduler) Deregister(workerID string) ([]string, error) {
	if workerID == "" {
		return nil, fmt.Errorf("%w: worker id is required", ErrInvalidArgument)
	}
	var requeued []string
	err := s.update(func(rec *recorder) error {
		if !s.workers.Known(workerID) {
			return nil
		}
		for _, id := range s.leases.LeasesOf(workerID) {
			if rq, ok := s.requeueLocked(rec, id, workerID, ReasonWorkerLeft); ok {
				requeued = append(requeued, rq.TaskID)
			}
		}
		s.workers.Evict(workerID)
		rec.add(models.ActionWorkerLeave, "", workerID, "evicted", fmt.Sprintf("requeued=%d", len(requeued)))
		return nil
	})
	return requeued, err
}

// Tick runs one failure-monitor pass: workers silent beyond HeartbeatTimeout
// lose their leases and are evicted, then every lease older than
// LeaseTimeout is requeued regardless of its holder's liveness.
func (s *Scheduler) Tick() TickReport {
	var report TickReport
	_ = s.update(func(rec *recorder) error {
		for _, workerID := range s.workers.Stale(rec.now, s.config.HeartbeatTimeout) {
			for _, id := range s.leases.LeasesOf(workerID) {
				if rq, ok := s.requeueLocked(rec, id, workerID, ReasonWorkerDead); ok {
					report.Requeued = append(report.Requeued, rq)
				}
			}
			s.workers.Evict(workerID)
			report.EvictedWorkers = append(report.EvictedWorkers, workerID)
			rec.add(models.ActionWorkerEvict, "", workerID, "evicted", "heartbeat timeout")
			s.logger.Warn("worker evicted", zap.String("worker_id", workerID))
		}

		for _, id := range s.leases.Expired(rec.now, s.config.LeaseTimeout) {
			l, _ := s.leases.Get(id)
			if rq, ok := s.requeueLocked(rec, id, l.WorkerID, ReasonLeaseExpired); ok {
				report.Requeued = append(report.Requeued, rq)
			}
		}
		return nil
	})
	return report
}

// requeueLocked returns a leased task to the queue at its original priority.
// Caller must hold the write lock.
func (s *Scheduler) requeueLocked(rec *recorder, taskID, workerID, reason string) (Requeue, bool) {
	s.leases.Release(taskID)
	task, err := s.tasks.Requeue(taskID)
	if err != nil {
		s.logger.Error("requeue failed", zap.String("task_id", taskID), zap.Error(err))
		return Requeue{}, false
	}
	s.queue.Push(task.ID, task.Priority)
	s.requeues++

	rec.add(models.ActionTaskRequeue, taskID, workerID, string(models.TaskStateQueued), reason)
	s.logger.Warn("task requeued",
		zap.String("task_id", taskID), zap.String("worker_id", workerID), zap.String("reason", reason))
	return Requeue{TaskID: taskID, WorkerID: workerID, Reason: reason}, true
}

// Task returns a snapshot of one task.
func (s *Scheduler) Task(id string) (models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks.Get(id)
}

// Tasks returns snapshots of the tasks matching f, newest first.
func (s *Scheduler) Tasks(f TaskFilter) []models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks.SnapshotAll(f)
}

// Workers returns every registered worker, sorted by id.
func (s *Scheduler) Workers() []models.WorkerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workersLocked()
}

func (s *Scheduler) workersLocked() []models.WorkerInfo {
	now := s.clock.Now()
	ids := s.workers.ListAlive()
	out := make([]models.WorkerInfo, 0, len(ids))
	for _, id := range ids {
		info, _ := s.workers.Get(id)
		info.ActiveLeases = s.leases.CountOf(id)
		info.Alive = s.workers.IsAlive(id, now, s.config.HeartbeatTimeout)
		out = append(out, info)
	}
	return out
}

// QueueLen returns the number of queued tasks.
func (s *Scheduler) QueueLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queue.Len()
}

// Reset clears every task, worker, lease and timer.
func (s *Scheduler) Reset() {
	_ = s.update(func(rec *recorder) error {
		s.tasks.Clear()
		s.queue.Clear()
		s.workers.Clear()
		s.leases.Clear()
		s.firstLeaseAt = time.Time{}
		s.lastCompletionAt = time.Time{}
		s.requeues = 0
		rec.add(models.ActionSystemReset, "", "", "cleared", "")
		return nil
	})
	s.logger.Info("scheduler state reset")
}
