package routing

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bcpnet/gobcp/internal/queue"
	"github.com/bcpnet/gobcp/internal/wire"
)

// fakeMedium wires a set of connections together in memory: Broadcast
// delivers to every other registered connection, Unicast delivers only to
// the addressed one. Used in place of a real radio for deterministic
// tests, the same role PacketSender plays for BFD.
type fakeMedium struct {
	mu    sync.Mutex
	peers map[wire.NodeAddr]*Connection
	self  wire.NodeAddr
}

func newFakeNetwork() map[wire.NodeAddr]*Connection {
	return make(map[wire.NodeAddr]*Connection)
}

func (m *fakeMedium) Broadcast(_ context.Context, frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for addr, c := range m.peers {
		if addr == m.self {
			continue
		}
		c.DeliverBroadcast(append([]byte(nil), frame...), m.self)
	}
	return nil
}

func (m *fakeMedium) Unicast(_ context.Context, to wire.NodeAddr, frame []byte) error {
	m.mu.Lock()
	c, ok := m.peers[to]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	c.DeliverUnicast(append([]byte(nil), frame...), m.self)
	return nil
}

func testConfig(self wire.NodeAddr, sink bool) Config {
	return Config{
		Self:              self,
		Sink:              sink,
		MaxUserPacketSize: 8,
		SlotDuration:      10 * time.Millisecond,
		BeaconTime:        15 * time.Millisecond,
		SendTimeDelay:     10 * time.Millisecond,
		RetxTime:          20 * time.Millisecond,
		CheckInterval:     50 * time.Millisecond,
		ForwardablePeriod: 25 * time.Millisecond,
	}
}

func newTestNode(t *testing.T, peers map[wire.NodeAddr]*Connection, addr wire.NodeAddr, sink bool, opts ...Option) *Connection {
	t.Helper()
	medium := &fakeMedium{peers: peers, self: addr}
	table := NewTable(40)
	q := queue.New(70)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := NewConnection(testConfig(addr, sink), q, table, medium, logger, opts...)
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	peers[addr] = c
	return c
}

// TestTwoNodeDelivery reproduces the simplest end-to-end scenario: a
// two-node topology where node A sends to sink node B and the payload is
// observed at B's receive callback, then A's send callback fires once B's
// ack comes back.
func TestTwoNodeDelivery(t *testing.T) {
	peers := newFakeNetwork()

	received := make(chan []byte, 1)
	sink := newTestNode(t, peers, wire.NodeAddr{2, 0}, true,
		WithReceiveCallback(func(_ wire.NodeAddr, payload []byte) {
			received <- payload
		}))

	sent := make(chan struct{}, 1)
	source := newTestNode(t, peers, wire.NodeAddr{1, 0}, false,
		WithSentCallback(func(*queue.Item) { sent <- struct{}{} }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.Run(ctx)
	go source.Run(ctx)

	// Let beacons establish mutual routing before sending.
	time.Sleep(60 * time.Millisecond)

	if err := source.Send(ctx, []byte("hi")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case payload := <-received:
		if string(payload) != "hi" {
			t.Fatalf("got payload %q, want %q", payload, "hi")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sink to receive payload")
	}

	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sent callback")
	}

	if source.PacketsDropped() != 0 {
		t.Fatalf("expected zero drops, got %d", source.PacketsDropped())
	}
}

// TestSendRejectsOversizedPayload checks the boundary validation that
// guards MaxUserPacketSize before a payload ever reaches the queue.
func TestSendRejectsOversizedPayload(t *testing.T) {
	peers := newFakeNetwork()
	node := newTestNode(t, peers, wire.NodeAddr{1, 0}, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go node.Run(ctx)

	err := node.Send(ctx, []byte("too long for eight bytes"))
	if err == nil {
		t.Fatal("expected error for oversized payload")
	}
}

func TestQueueFullRejectsSend(t *testing.T) {
	peers := newFakeNetwork()
	// No sink reachable: queue fills up since nothing ever gets forwarded.
	node := newTestNode(t, peers, wire.NodeAddr{1, 0}, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go node.Run(ctx)

	var lastErr error
	for i := 0; i < 100; i++ {
		lastErr = node.Send(ctx, []byte{byte(i)})
		if lastErr != nil {
			break
		}
	}
	if lastErr == nil {
		t.Fatal("expected queue to eventually reject sends")
	}
}
