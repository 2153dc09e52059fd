// Package routing implements the BCP neighbor table and the per-connection
// send/receive state machine: the queue-differential ("backpressure")
// routing core described in bcp.c and bcp_routing_table.c.
package routing

import (
	"sync"

	"github.com/bcpnet/gobcp/internal/wire"
)

// Neighbor holds everything the routing table tracks about one neighbor
// heard over the broadcast medium: its last-advertised queue length
// ("backpressure" in bcp_routing_table.c — the two names refer to the same
// value), whether it is currently eligible to receive forwarded traffic,
// and its distance from the sink. Backpressure relative to this node is
// not stored: it depends on our own queue length at the moment a routing
// decision is made, so it is always recomputed live (see WeightEstimator).
type Neighbor struct {
	Addr        wire.NodeAddr
	QueueLog    int // last advertised queue length
	Forwardable int // decaying eligibility counter; 0 means "do not forward here"
	HopCount    int // hop distance to sink, 0 if unknown
}

// forwardableFresh is the value a neighbor's Forwardable counter is reset to
// whenever a data beacon is heard from it (routing_table_update_queuelog's
// isData branch sets forwardable to 11; TickForwardable decrements once per
// period, giving roughly ten periods of eligibility after the last data
// sighting).
const forwardableFresh = 11

// Table is the set of known neighbors. Safe for concurrent use: the owning
// Connection's goroutine mutates it on packet receipt while diagnostics
// (bcpnode) read snapshots concurrently.
type Table struct {
	mu       sync.Mutex
	capacity int
	byAddr   map[wire.NodeAddr]*Neighbor
	order    []wire.NodeAddr // insertion order, for capacity eviction
}

// NewTable creates a Table bounded to capacity entries
// (MAX_ROUTING_TABLE_SIZE).
func NewTable(capacity int) *Table {
	return &Table{
		capacity: capacity,
		byAddr:   make(map[wire.NodeAddr]*Neighbor),
	}
}

// Find returns the neighbor entry for addr, or nil if unknown.
func (t *Table) Find(addr wire.NodeAddr) *Neighbor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.find(addr)
}

func (t *Table) find(addr wire.NodeAddr) *Neighbor {
	n, ok := t.byAddr[addr]
	if !ok {
		return nil
	}
	cp := *n
	return &cp
}

// UpdateQueueLog records a neighbor's advertised queue length, creating the
// entry if this is the first time addr has been heard from. isData marks
// that the observation came from a data-bearing beacon rather than a plain
// beacon, which refreshes the neighbor's forwarding eligibility
// (routing_table_update_queuelog in bcp_routing_table.c).
func (t *Table) UpdateQueueLog(addr wire.NodeAddr, queueLog int, isData bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.byAddr[addr]
	if !ok {
		if t.capacity > 0 && len(t.order) >= t.capacity {
			t.evictOldest()
		}
		n = &Neighbor{Addr: addr}
		t.byAddr[addr] = n
		t.order = append(t.order, addr)
	}

	n.QueueLog = clamp(queueLog, 0, maxQueueLogClamp)
	if isData {
		n.Forwardable = forwardableFresh
	}
}

// maxQueueLogClamp bounds the stored queue log the way
// routing_table_update_queuelog clamps to [0, MAX_PACKET_QUEUE_SIZE]; 255
// safely exceeds any realistic configured queue capacity.
const maxQueueLogClamp = 255

// UpdateHopCount records a neighbor's advertised hop count toward the sink
// (routing_table_update_hopCount).
func (t *Table) UpdateHopCount(addr wire.NodeAddr, hopCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.byAddr[addr]
	if !ok {
		if t.capacity > 0 && len(t.order) >= t.capacity {
			t.evictOldest()
		}
		n = &Neighbor{Addr: addr}
		t.byAddr[addr] = n
		t.order = append(t.order, addr)
	}
	n.HopCount = hopCount
}

func (t *Table) evictOldest() {
	if len(t.order) == 0 {
		return
	}
	oldest := t.order[0]
	t.order = t.order[1:]
	delete(t.byAddr, oldest)
}

// Length returns the number of known neighbors (routingtable_length).
func (t *Table) Length() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byAddr)
}

// Clear removes every neighbor (routingtable_clear).
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byAddr = make(map[wire.NodeAddr]*Neighbor)
	t.order = nil
}

// TickForwardable moves every neighbor's Forwardable counter one step
// toward 1 and leaves it there (updateForwardable). A counter at 1 is not
// touched, and a counter under 1 is first treated as 2, so it becomes 1 on
// this tick; no counter ever decays to 0.
func (t *Table) TickForwardable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range t.byAddr {
		if n.Forwardable == 1 {
			continue
		}
		if n.Forwardable < 1 {
			n.Forwardable = 2
		}
		n.Forwardable--
	}
}

// WeightEstimator scores how good a candidate next hop is for a packet,
// given the current connection's own queue length at the moment the score
// is needed (weight_estimator_getWeight recomputes w = bcp_queue_length(c)
// - i->backpressure fresh on every call, never caching it). Higher is
// better; a weight below 1 means "do not use this neighbor". The basic
// estimator in this package scores purely on backpressure; the
// energy-aware fusion estimator (internal/fusion) overrides this to also
// account for remaining sensing/forwarding energy budget.
type WeightEstimator interface {
	Weight(n *Neighbor, ownQueueLen int) int
}

// FindRouting returns the forwardable neighbor with the largest weight, as
// scored by estimator against the caller's current queue length
// (routingtable_find_routing). Returns ok=false if no neighbor scores at
// least 1.
func (t *Table) FindRouting(estimator WeightEstimator, ownQueueLen int) (wire.NodeAddr, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var best *Neighbor
	bestWeight := 0
	for _, n := range t.byAddr {
		if n.Forwardable < 1 {
			continue
		}
		w := estimator.Weight(n, ownQueueLen)
		if w > bestWeight {
			bestWeight = w
			best = n
		}
	}
	if best == nil || bestWeight < 1 {
		return wire.NodeAddr{}, false
	}
	return best.Addr, true
}

// FindShortestPath returns the neighbor with the smallest nonzero hop
// count, used by the bootstrap hop-count flood to pick its own advertised
// distance (routing_table_find_shortestPath).
func (t *Table) FindShortestPath() (addr wire.NodeAddr, hopCount int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	best := 0
	for _, n := range t.byAddr {
		if n.HopCount <= 0 {
			continue
		}
		if best == 0 || n.HopCount < best {
			best = n.HopCount
			addr = n.Addr
			ok = true
		}
	}
	return addr, best, ok
}

// Snapshot returns a copy of every known neighbor, for diagnostics.
func (t *Table) Snapshot() []Neighbor {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Neighbor, 0, len(t.byAddr))
	for _, n := range t.byAddr {
		out = append(out, *n)
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
