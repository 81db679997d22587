package scheduler

import (
	"sort"
	"time"

	"github.com/fentz26/taskhive/internal/models"
)

type workerRecord struct {
	registeredAt time.Time
	lastSeen     time.Time
}

// WorkerRegistry tracks known workers and their last heartbeat. Liveness is
// purely a function of Register/Heartbeat calls; nothing is probed.
type WorkerRegistry struct {
	workers map[string]*workerRecord
}

// NewWorkerRegistry creates an empty registry.
func NewWorkerRegistry() *WorkerRegistry {
	return &WorkerRegistry{workers: make(map[string]*workerRecord)}
}

// Register upserts a worker. Registering a known worker refreshes it.
// created reports whether the worker was previously unknown.
func (r *WorkerRegistry) Register(id string, now time.Time) (created bool) {
	return r.Heartbeat(id, now)
}

// Heartbeat records that the worker was seen at observedAt. An unknown
// worker is registered implicitly.
func (r *WorkerRegistry) Heartbeat(id string, observedAt time.Time) (created bool) {
	w, ok := r.workers[id]
	if !ok {
		r.workers[id] = &workerRecord{registeredAt: observedAt, lastSeen: observedAt}
		return true
	}
	if observedAt.After(w.lastSeen) {
		w.lastSeen = observedAt
	}
	return false
}

// Evict forgets a worker.
func (r *WorkerRegistry) Evict(id string) {
	delete(r.workers, id)
}

// Known reports whether the worker is registered.
func (r *WorkerRegistry) Known(id string) bool {
	_, ok := r.workers[id]
	return ok
}

// IsAlive reports whether the worker was seen within timeout of now.
func (r *WorkerRegistry) IsAlive(id string, now time.Time, timeout time.Duration) bool {
	w, ok := r.workers[id]
	if !ok {
		return false
	}
	return now.Sub(w.lastSeen) <= timeout
}

// ListAlive returns the ids of every registered worker, sorted.
func (r *WorkerRegistry) ListAlive() []string {
	ids := make([]string, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stale returns the ids of workers silent for longer than timeout, sorted.
func (r *WorkerRegistry) Stale(now time.Time, timeout time.Duration) []string {
	var dead []string
	for id, w := range r.workers {
		if now.Sub(w.lastSeen) > timeout {
			dead = append(dead, id)
		}
	}
	sort.Strings(dead)
	return dead
}

// Get returns a view of one worker. ActiveLeases is left for the caller.
func (r *WorkerRegistry) Get(id string) (models.WorkerInfo, bool) {
	w, ok := r.workers[id]
	if !ok {
		return models.WorkerInfo{}, false
	}
	return models.WorkerInfo{ID: id, RegisteredAt: w.registeredAt, LastHeartbeatAt: w.lastSeen}, true
}

// Len returns the number of registered workers.
func (r *WorkerRegistry) Len() int {
	return len(r.workers)
}

// Clear forgets every worker.
func (r *WorkerRegistry) Clear() {
	r.workers = make(map[string]*workerRecord)
}
