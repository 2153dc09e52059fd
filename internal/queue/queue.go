// Package queue implements the BCP packet queue: a bounded, LIFO sequence
// of in-flight data items. Scheduling is LIFO (bcp_queue_lifo.c in the
// original Contiki implementation) so the most recently enqueued item is
// always the next one attempted.
package queue

import (
	"errors"
	"sync"

	"github.com/bcpnet/gobcp/internal/wire"
)

// ErrFull is returned by Push when the queue is already at capacity.
var ErrFull = errors.New("queue: capacity exceeded")

// Item is one entry in the packet queue: a data item plus the bookkeeping
// fields the BCP connection needs that are not part of the wire header.
type Item struct {
	wire.Header
	Payload         []byte
	Fused           bool
	CID             uint16
	consumedFusionTotal uint16 // payload interpretation when Fused: count of originals represented
}

// ConsumedTotal returns the number of original items a fused entry
// represents. Meaningless when Fused is false.
func (it *Item) ConsumedTotal() uint16 { return it.consumedFusionTotal }

// SetConsumedTotal stamps the fused-item running total (fusion.c's payload
// reuse: a fusion packet's "payload" is the count of packets it represents).
func (it *Item) SetConsumedTotal(n uint16) { it.consumedFusionTotal = n }

// Queue is a fixed-capacity, LIFO packet queue. Safe for concurrent use,
// though the BCP connection's single-goroutine model means contention is
// not expected in practice.
type Queue struct {
	mu       sync.Mutex
	capacity int
	items    []*Item // items[len-1] is the top (most recently pushed)
}

// New creates a Queue with the given capacity (MAX_PACKET_QUEUE_SIZE).
func New(capacity int) *Queue {
	return &Queue{capacity: capacity}
}

// Push adds a new item to the top of the queue. Returns ErrFull if the
// queue is already at capacity, in which case the caller drops the item.
func (q *Queue) Push(it *Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return ErrFull
	}
	q.items = append(q.items, it)
	return nil
}

// Top returns the most recently pushed item without removing it, or nil if
// the queue is empty.
func (q *Queue) Top() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	return q.items[len(q.items)-1]
}

// Pop removes and discards the top item.
func (q *Queue) Pop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return
	}
	q.items = q.items[:len(q.items)-1]
}

// Remove deletes an arbitrary item from the queue by identity.
func (q *Queue) Remove(it *Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, cur := range q.items {
		if cur == it {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

// Len returns the current number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// At returns the item at the given index counting down from the top
// (index 0 == Top()), or nil if out of range. Used by fusion's top-down scan.
func (q *Queue) At(index int) *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	pos := len(q.items) - 1 - index
	if pos < 0 || pos >= len(q.items) {
		return nil
	}
	return q.items[pos]
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// Snapshot returns a shallow copy of the queue contents, top-first, for
// diagnostics and tests.
func (q *Queue) Snapshot() []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Item, len(q.items))
	for i, it := range q.items {
		out[len(q.items)-1-i] = it
	}
	return out
}
