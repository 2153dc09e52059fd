// Package sim provides an in-memory broadcast medium and a multi-node
// harness for running a small BCP network entirely inside one process: no
// radio driver, no sockets, just Go channels standing in for the shared
// wireless channel (spec.md's Non-goals explicitly exclude a real link
// layer; this is the in-memory substitute used by end-to-end tests and the
// `bcpnode shell` demo mode).
package sim

import (
	"context"
	"sync"

	"github.com/bcpnet/gobcp/internal/wire"
)

// Receiver is anything that can accept a frame overheard on the medium,
// matching routing.Connection's DeliverBroadcast. hopcount.Runner does not
// implement it; its Deliver method takes the hop-count body instead.
type Receiver interface {
	DeliverBroadcast(frame []byte, from wire.NodeAddr)
}

// UnicastReceiver additionally accepts frames addressed directly to it
// (acks).
type UnicastReceiver interface {
	Receiver
	DeliverUnicast(frame []byte, from wire.NodeAddr)
}

// linkFilter reports whether a frame from one node can reach another,
// letting tests model a non-fully-connected topology (multi-hop chains,
// islands) instead of every node hearing every other node directly.
type linkFilter func(from, to wire.NodeAddr) bool

// Medium is a shared in-memory broadcast channel connecting any number of
// nodes. Every node registers under its own address; Broadcast fans a frame
// out to every other registered peer reachable per the link filter, and
// Unicast delivers to exactly one.
type Medium struct {
	mu     sync.RWMutex
	peers  map[wire.NodeAddr]UnicastReceiver
	reach  linkFilter
	drops  map[wire.NodeAddr]int // unicast frames dropped: peer not (yet) registered or not reachable
}

// NewMedium creates a fully-connected medium: every registered node hears
// every other one.
func NewMedium() *Medium {
	return &Medium{
		peers: make(map[wire.NodeAddr]UnicastReceiver),
		reach: func(wire.NodeAddr, wire.NodeAddr) bool { return true },
		drops: make(map[wire.NodeAddr]int),
	}
}

// NewMediumWithTopology creates a medium whose reachability is restricted
// to the given adjacency list: node a can reach node b only if b appears in
// adjacency[a] (or vice versa — reachability is treated as symmetric, as
// BCP assumes a shared broadcast channel rather than directional links).
func NewMediumWithTopology(adjacency map[wire.NodeAddr][]wire.NodeAddr) *Medium {
	m := NewMedium()
	m.reach = func(from, to wire.NodeAddr) bool {
		for _, n := range adjacency[from] {
			if n == to {
				return true
			}
		}
		for _, n := range adjacency[to] {
			if n == from {
				return true
			}
		}
		return false
	}
	return m
}

// Register attaches a node to the medium under addr. A node registered
// under an address already in use replaces the previous registration.
func (m *Medium) Register(addr wire.NodeAddr, r UnicastReceiver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[addr] = r
}

// Unregister detaches a node, e.g. when simulating a node going offline.
func (m *Medium) Unregister(addr wire.NodeAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, addr)
}

// NewLink returns a routing.Medium-shaped handle bound to one node address,
// for handing to routing.NewConnection or hopcount.NewRunner.
func (m *Medium) NewLink(self wire.NodeAddr) *Link {
	return &Link{medium: m, self: self}
}

// DroppedFor reports how many unicast frames addressed to addr were
// discarded because no peer was registered under that address at delivery
// time or the link filter did not let the sender reach it.
func (m *Medium) DroppedFor(addr wire.NodeAddr) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.drops[addr]
}

func (m *Medium) broadcast(from wire.NodeAddr, frame []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for addr, r := range m.peers {
		if addr == from || !m.reach(from, addr) {
			continue
		}
		r.DeliverBroadcast(append([]byte(nil), frame...), from)
	}
}

func (m *Medium) unicast(from, to wire.NodeAddr, frame []byte) {
	m.mu.RLock()
	r, ok := m.peers[to]
	m.mu.RUnlock()
	if !ok || !m.reach(from, to) {
		m.mu.Lock()
		m.drops[to]++
		m.mu.Unlock()
		return
	}
	r.DeliverUnicast(append([]byte(nil), frame...), from)
}

// Link is a per-node view of a Medium implementing routing.Medium and
// hopcount.Broadcaster.
type Link struct {
	medium *Medium
	self   wire.NodeAddr
}

func (l *Link) Broadcast(_ context.Context, frame []byte) error {
	l.medium.broadcast(l.self, frame)
	return nil
}

func (l *Link) Unicast(_ context.Context, to wire.NodeAddr, frame []byte) error {
	l.medium.unicast(l.self, to, frame)
	return nil
}
