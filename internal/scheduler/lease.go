package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/fentz26/taskhive/internal/models"
)

// LeaseTracker associates in-flight tasks with their holding worker.
// A task holds at most one lease.
type LeaseTracker struct {
	byTask   map[string]models.Lease
	byWorker map[string]map[string]struct{}
}

// NewLeaseTracker creates an empty tracker.
func NewLeaseTracker() *LeaseTracker {
	return &LeaseTracker{
		byTask:   make(map[string]models.Lease),
		byWorker: make(map[string]map[string]struct{}),
	}
}

// Grant records a lease. A second grant for the same task is an invariant
// violation and fails with ErrAlreadyLeased.
func (lt *LeaseTracker) Grant(taskID, workerID string, now time.Time, attempt int) error {
	if existing, ok := lt.byTask[taskID]; ok {
		return fmt.Errorf("%w: task %s held by %s", ErrAlreadyLeased, taskID, existing.WorkerID)
	}
	lt.byTask[taskID] = models.Lease{TaskID: taskID, WorkerID: workerID, GrantedAt: now, Attempt: attempt}
	held, ok := lt.byWorker[workerID]
	if !ok {
		held = make(map[string]struct{})
		lt.byWorker[workerID] = held
	}
	held[taskID] = struct{}{}
	return nil
}

// Release drops the lease on a task. Releasing an unleased task is a no-op.
func (lt *LeaseTracker) Release(taskID string) {
	l, ok := lt.byTask[taskID]
	if !ok {
		return
	}
	delete(lt.byTask, taskID)
	if held := lt.byWorker[l.WorkerID]; held != nil {
		delete(held, taskID)
		if len(held) == 0 {
			delete(lt.byWorker, l.WorkerID)
		}
	}
}

// Get returns the lease on a task, if any.
func (lt *LeaseTracker) Get(taskID string) (models.Lease, bool) {
	l, ok := lt.byTask[taskID]
	return l, ok
}

// LeasesOf returns the task ids leased to a worker, oldest grant first.
func (lt *LeaseTracker) LeasesOf(workerID string) []string {
	held := lt.byWorker[workerID]
	ids := make([]string, 0, len(held))
	for id := range held {
		ids = append(ids, id)
	}
	lt.sortByGrant(ids)
	return ids
}

// CountOf returns the number of leases a worker holds.
func (lt *LeaseTracker) CountOf(workerID string) int {
	return len(lt.byWorker[workerID])
}

// Expired returns the task ids whose grant age exceeds timeout, oldest first.
func (lt *LeaseTracker) Expired(now time.Time, timeout time.Duration) []string {
	var ids []string
	for id, l := range lt.byTask {
		if now.Sub(l.GrantedAt) > timeout {
			ids = append(ids, id)
		}
	}
	lt.sortByGrant(ids)
	return ids
}

// Len returns the number of active leases.
func (lt *LeaseTracker) Len() int {
	return len(lt.byTask)
}

// Clear drops every lease.
func (lt *LeaseTracker) Clear() {
	lt.byTask = make(map[string]models.Lease)
	lt.byWorker = make(map[string]map[string]struct{})
}

func (lt *LeaseTracker) sortByGrant(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := lt.byTask[ids[i]], lt.byTask[ids[j]]
		if !a.GrantedAt.Equal(b.GrantedAt) {
			return a.GrantedAt.Before(b.GrantedAt)
		}
		return ids[i] < ids[j]
	})
}
