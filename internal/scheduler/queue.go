package scheduler

import "container/heap"

// queueEntry orders pending tasks by priority, then by enqueue sequence.
type queueEntry struct {
	priority int
	seq      uint64
	taskID   string
}

type entryHeap []queueEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(queueEntry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// PriorityQueue is a min-queue of pending task ids. Lower priority values are
// served first; equal priorities are served in enqueue order.
//
// Every Push, including a requeue, takes a fresh sequence number, so a
// requeued task competes by its priority but not by its original arrival.
type PriorityQueue struct {
	entries entryHeap
	nextSeq uint64
}

// NewPriorityQueue creates an empty queue.
func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{}
}

// Push enqueues a task id with the given priority.
func (q *PriorityQueue) Push(taskID string, priority int) {
	q.nextSeq++
	heap.Push(&q.entries, queueEntry{priority: priority, seq: q.nextSeq, taskID: taskID})
}

// PopMin removes and returns the most urgent task id.
func (q *PriorityQueue) PopMin() (string, bool) {
	if len(q.entries) == 0 {
		return "", false
	}
	e := heap.Pop(&q.entries).(queueEntry)
	return e.taskID, true
}

// Len returns the number of pending entries.
func (q *PriorityQueue) Len() int {
	return len(q.entries)
}

// Clear drops every entry. Sequence numbers keep increasing.
func (q *PriorityQueue) Clear() {
	q.entries = nil
}
