package scheduler

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/fentz26/taskhive/internal/models"
	"github.com/jonboulle/clockwork"
	"pgregory.net/rapid"
)

// checkInvariants verifies the cross-component invariants. It reads internal
// state directly and must not race with other operations.
func checkInvariants(t *rapid.T, s *Scheduler) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	queued := 0
	s.tasks.each(func(task *models.Task) {
		if !task.State.Valid() {
			t.Fatalf("task %s has unknown state %q", task.ID, task.State)
		}
		lease, held := s.leases.Get(task.ID)
		switch task.State {
		case models.TaskStateQueued:
			queued++
			if held {
				t.Fatalf("queued task %s holds a lease", task.ID)
			}
		case models.TaskStateLeased:
			if !held {
				t.Fatalf("leased task %s has no lease", task.ID)
			}
			if task.AssignedWorker == "" || task.LeaseStartedAt == nil {
				t.Fatalf("leased task %s missing worker or lease time", task.ID)
			}
			if lease.WorkerID != task.AssignedWorker {
				t.Fatalf("task %s assigned to %s but leased to %s", task.ID, task.AssignedWorker, lease.WorkerID)
			}
		case models.TaskStateDone, models.TaskStateFailed:
			if held {
				t.Fatalf("terminal task %s holds a lease", task.ID)
			}
			if task.CompletedAt == nil {
				t.Fatalf("terminal task %s has no completion time", task.ID)
			}
		}
	})
	if queued != s.queue.Len() {
		t.Fatalf("queue holds %d entries for %d queued tasks", s.queue.Len(), queued)
	}
}

func TestSchedulerInvariantsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		clock := clockwork.NewFakeClock()
		s, err := New(testConfig(), WithClock(clock))
		if err != nil {
			t.Fatalf("new scheduler: %v", err)
		}
		workers := []string{"w1", "w2", "w3"}
		var ids []string
		terminal := make(map[string]models.TaskState)

		t.Repeat(map[string]func(*rapid.T){
			"submit": func(t *rapid.T) {
				p := rapid.IntRange(0, 3).Draw(t, "priority")
				id, err := s.Submit(SubmitRequest{Type: "sum", Payload: json.RawMessage(`[1]`), Priority: &p})
				if err != nil {
					t.Fatalf("submit: %v", err)
				}
				ids = append(ids, id)
			},
			"lease": func(t *rapid.T) {
				w := rapid.SampledFrom(workers).Draw(t, "worker")
				if _, err := s.LeaseNext(w); err != nil {
					t.Fatalf("lease: %v", err)
				}
			},
			"complete": func(t *rapid.T) {
				if len(ids) == 0 {
					t.Skip("no tasks")
				}
				id := rapid.SampledFrom(ids).Draw(t, "task")
				status := rapid.SampledFrom([]models.CompletionStatus{models.CompletionDone, models.CompletionFailed}).Draw(t, "status")
				before, _ := s.Task(id)
				applied, err := s.Complete(CompleteRequest{TaskID: id, Status: status})
				if err != nil {
					t.Fatalf("complete: %v", err)
				}
				if applied != (before.State == models.TaskStateLeased) {
					t.Fatalf("complete on %s task applied=%v", before.State, applied)
				}
				if applied {
					terminal[id], _ = status.TaskState()
				}
			},
			"heartbeat": func(t *rapid.T) {
				w := rapid.SampledFrom(workers).Draw(t, "worker")
				if err := s.Heartbeat(w); err != nil {
					t.Fatalf("heartbeat: %v", err)
				}
			},
			"advance": func(t *rapid.T) {
				secs := rapid.IntRange(1, 30).Draw(t, "seconds")
				clock.Advance(time.Duration(secs) * time.Second)
			},
			"tick": func(t *rapid.T) {
				s.Tick()
			},
			"": func(t *rapid.T) {
				checkInvariants(t, s)
				for id, want := range terminal {
					got, err := s.Task(id)
					if err != nil || got.State != want {
						t.Fatalf("terminal task %s changed: %v %v", id, got.State, err)
					}
				}
			},
		})
	})
}

func TestLeaseOrderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s, err := New(testConfig(), WithClock(clockwork.NewFakeClock()))
		if err != nil {
			t.Fatalf("new scheduler: %v", err)
		}
		prios := rapid.SliceOfN(rapid.IntRange(0, 4), 1, 40).Draw(t, "priorities")
		index := make(map[string]int, len(prios))
		for i, p := range prios {
			p := p
			id, err := s.Submit(SubmitRequest{ID: fmt.Sprintf("t%03d", i), Type: "sum", Payload: json.RawMessage(`1`), Priority: &p})
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			index[id] = i
		}

		lastPrio, lastIndex := -1, -1
		for range prios {
			task, err := s.LeaseNext("w1")
			if err != nil || task == nil {
				t.Fatalf("lease: %v %v", task, err)
			}
			i := index[task.ID]
			if task.Priority < lastPrio {
				t.Fatalf("priority went down: %d after %d", task.Priority, lastPrio)
			}
			if task.Priority == lastPrio && i < lastIndex {
				t.Fatalf("equal priority %d served out of submission order", task.Priority)
			}
			lastPrio, lastIndex = task.Priority, i
		}
		if task, _ := s.LeaseNext("w1"); task != nil {
			t.Fatalf("queue should be empty, got %s", task.ID)
		}
	})
}
