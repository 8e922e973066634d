// Package memory provides the in-process work queue of pending show IDs.
package memory

import (
	"sync"

	"github.com/JakeFAU/show-catalog-crawler/internal/metrics"
)

// WorkQueue is a FIFO of show IDs in which every ID appears at most once.
// All operations are safe for concurrent use.
type WorkQueue struct {
	mu      sync.Mutex
	items   []int
	pending map[int]struct{}
}

// NewWorkQueue constructs an empty queue.
func NewWorkQueue() *WorkQueue {
	return &WorkQueue{pending: make(map[int]struct{})}
}

// EnqueueRange appends start..start+count-1 in order, skipping IDs that are
// already pending. It returns how many IDs were inserted.
func (q *WorkQueue) EnqueueRange(start, count int) int {
	if count <= 0 {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	inserted := 0
	for id := start; id < start+count; id++ {
		if q.pushLocked(id) {
			inserted++
		}
	}
	metrics.SetQueueDepth(len(q.items))
	return inserted
}

// Requeue appends id at the tail unless it is already pending.
func (q *WorkQueue) Requeue(id int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	ok := q.pushLocked(id)
	metrics.SetQueueDepth(len(q.items))
	return ok
}

// DequeueOne removes and returns the head of the queue.
func (q *WorkQueue) DequeueOne() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return 0, false
	}
	id := q.items[0]
	q.items[0] = 0
	q.items = q.items[1:]
	delete(q.pending, id)
	metrics.SetQueueDepth(len(q.items))
	return id, true
}

// Clear drops every pending ID.
func (q *WorkQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.pending = make(map[int]struct{})
	metrics.SetQueueDepth(0)
}

// Len returns the number of pending IDs.
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns the pending IDs in dequeue order.
func (q *WorkQueue) Snapshot() []int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int(nil), q.items...)
}

func (q *WorkQueue) pushLocked(id int) bool {
	if _, ok := q.pending[id]; ok {
		return false
	}
	q.pending[id] = struct{}{}
	q.items = append(q.items, id)
	return true
}
