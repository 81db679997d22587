// Package models defines the core domain types for taskhive.
package models

import (
	"encoding/json"
	"time"
)

// TaskState represents the current state of a task.
type TaskState string

const (
	TaskStateQueued TaskState = "queued"
	TaskStateLeased TaskState = "leased"
	TaskStateDone   TaskState = "done"
	TaskStateFailed TaskState = "failed"
)

// AllTaskStates lists every task state in lifecycle order.
var AllTaskStates = []TaskState{TaskStateQueued, TaskStateLeased, TaskStateDone, TaskStateFailed}

// String returns the string representation of the task state.
func (s TaskState) String() string {
	return string(s)
}

// IsTerminal returns true if the task is in a final state.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateDone || s == TaskStateFailed
}

// Valid reports whether s is one of the known task states.
func (s TaskState) Valid() bool {
	for _, known := range AllTaskStates {
		if s == known {
			return true
		}
	}
	return false
}

// ValidTaskTransitions defines the transitions callers may request.
// Leased -> Queued is deliberately absent: only the requeue path may do it.
var ValidTaskTransitions = map[TaskState][]TaskState{
	TaskStateQueued: {TaskStateLeased},
	TaskStateLeased: {TaskStateDone, TaskStateFailed},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s TaskState) CanTransitionTo(next TaskState) bool {
	for _, allowed := range ValidTaskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CompletionStatus is the outcome a worker reports for a leased task.
type CompletionStatus string

const (
	CompletionDone   CompletionStatus = "done"
	CompletionFailed CompletionStatus = "failed"
)

// TaskState maps a completion status onto the terminal task state.
func (c CompletionStatus) TaskState() (TaskState, bool) {
	switch c {
	case CompletionDone:
		return TaskStateDone, true
	case CompletionFailed:
		return TaskStateFailed, true
	}
	return "", false
}

// Task represents a unit of work submitted for execution.
type Task struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	Priority       int             `json:"priority"`
	State          TaskState       `json:"state"`
	CreatedAt      time.Time       `json:"created_at"`
	LeaseStartedAt *time.Time      `json:"lease_started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	AssignedWorker string          `json:"assigned_worker,omitempty"`
	// Attempts counts lease grants. The current value is the lease epoch a
	// worker may echo back when reporting.
	Attempts int `json:"attempts"`
}

// Clone returns a deep copy that shares no memory with t.
func (t *Task) Clone() Task {
	c := *t
	c.Payload = cloneRaw(t.Payload)
	c.Result = cloneRaw(t.Result)
	if t.LeaseStartedAt != nil {
		v := *t.LeaseStartedAt
		c.LeaseStartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	return c
}

// Latency returns the time from the final lease grant to completion.
// ok is false for tasks that never finished a lease.
func (t *Task) Latency() (d time.Duration, ok bool) {
	if t.LeaseStartedAt == nil || t.CompletedAt == nil {
		return 0, false
	}
	return t.CompletedAt.Sub(*t.LeaseStartedAt), true
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}

// Lease represents a temporary grant of a task to one worker.
type Lease struct {
	TaskID    string    `json:"task_id"`
	WorkerID  string    `json:"worker_id"`
	GrantedAt time.Time `json:"granted_at"`
	Attempt   int       `json:"attempt"`
}

// WorkerInfo is a read-only view of a known worker.
type WorkerInfo struct {
	ID              string    `json:"id"`
	RegisteredAt    time.Time `json:"registered_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	ActiveLeases    int       `json:"active_leases"`
	// Alive is false once the worker has been silent past the heartbeat
	// timeout but has not been evicted yet.
	Alive bool `json:"alive"`
}

// StatusSummary aggregates scheduler state for dashboards and clients.
type StatusSummary struct {
	Total         int          `json:"total"`
	Queued        int          `json:"queued"`
	Leased        int          `json:"leased"`
	Done          int          `json:"done"`
	Failed        int          `json:"failed"`
	AliveWorkers  int          `json:"alive_workers"`
	Workers       []WorkerInfo `json:"workers"`
	AvgLatencySec float64      `json:"avg_latency_sec"`
	LatencyP50Sec float64      `json:"latency_p50_sec"`
	LatencyP95Sec float64      `json:"latency_p95_sec"`
	LatencyMaxSec float64      `json:"latency_max_sec"`
	MakespanSec   float64      `json:"makespan_sec"`
	SuccessRate   float64      `json:"success_rate"`
	FailureRate   float64      `json:"failure_rate"`
	Requeues      int          `json:"requeues"`
}

// Event is an audit journal record for a state-mutating scheduler decision.
type Event struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	TaskID     string    `json:"task_id,omitempty"`
	WorkerID   string    `json:"worker_id,omitempty"`
	Outcome    string    `json:"outcome"`
	InputsHash string    `json:"inputs_hash,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Event actions recorded by the scheduler.
const (
	ActionTaskSubmit   = "task.submit"
	ActionTaskLease    = "task.lease"
	ActionTaskComplete = "task.complete"
	ActionTaskRequeue  = "task.requeue"
	ActionWorkerJoin   = "worker.register"
	ActionWorkerEvict  = "worker.evict"
	ActionWorkerLeave  = "worker.deregister"
	ActionSystemReset  = "system.reset"
)
