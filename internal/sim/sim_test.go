package sim

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bcpnet/gobcp/internal/fusion"
	"github.com/bcpnet/gobcp/internal/hopcount"
	"github.com/bcpnet/gobcp/internal/lpm"
	"github.com/bcpnet/gobcp/internal/routing"
	"github.com/bcpnet/gobcp/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testNodeConfig(self wire.NodeAddr, sink bool) NodeConfig {
	return NodeConfig{
		Self:                self,
		Sink:                sink,
		MaxPacketQueueSize:  20,
		MaxRoutingTableSize: 10,
		MaxUserPacketSize:   8,
		Conn: routing.Config{
			SlotDuration:      20 * time.Millisecond,
			BeaconTime:        10 * time.Millisecond,
			SendTimeDelay:     8 * time.Millisecond,
			RetxTime:          20 * time.Millisecond,
			CheckInterval:     50 * time.Millisecond,
			ForwardablePeriod: 25 * time.Millisecond,
		},
		Hop: hopcount.Config{
			MaxSettleDelay:      5 * time.Millisecond,
			Window:              40 * time.Millisecond,
			RebroadcastInterval: 10 * time.Millisecond,
		},
		LPM: lpm.Config{
			BatteryMax:           6_000_000,
			MinConsumption:       50,
			MaxConsumption:       125,
			RechargingEfficiency: 0.74,
			ExtraPhi:             1_000_000,
			DayThreshold:         1,
			DebounceSlots:        3,
		},
		Fuse: fusion.Config{
			NumCID:           2,
			FuseCostMin:      1,
			FuseCostMax:      2,
			SendCostMin:      5,
			SendCostMax:      15,
			FuseFirstTwoCost: 2,
			FuseRestCost:     1,
		},
		SensingV:       100,
		SensingRateMax: 50,
	}
}

func parseTestAddr(t *testing.T, s string) wire.NodeAddr {
	t.Helper()
	var hi, lo int
	if _, err := fmt.Sscanf(s, "%d.%d", &hi, &lo); err != nil {
		t.Fatalf("parse addr %q: %v", s, err)
	}
	return wire.NodeAddr{byte(hi), byte(lo)}
}

// TestChainDelivery loads a 3-node chain topology (1.0 - 2.0 - 3.0, sink)
// from a YAML fixture and checks that a payload originated at the far end
// is forwarded through the middle node and reaches the sink.
func TestChainDelivery(t *testing.T) {
	topo, err := LoadTopology("testdata/chain.yaml")
	if err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}
	adjacency, err := topo.Adjacency()
	if err != nil {
		t.Fatalf("Adjacency: %v", err)
	}

	net := NewNetworkWithTopology(adjacency)
	logger := testLogger()
	received := make(chan []byte, 1)

	for _, tn := range topo.Nodes {
		addr := parseTestAddr(t, tn.Addr)
		cfg := testNodeConfig(addr, tn.Sink)

		var opts []routing.Option
		if tn.Sink {
			opts = append(opts, routing.WithReceiveCallback(func(_ wire.NodeAddr, payload []byte) {
				received <- payload
			}))
		}

		n, err := NewNode(cfg, net.Medium, logger, opts...)
		if err != nil {
			t.Fatalf("NewNode(%s): %v", tn.Addr, err)
		}
		net.Nodes[addr] = n
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = net.Run(ctx) }()

	// Let the bootstrap hop-count flood and a few beacon rounds settle the
	// routing tables before sending.
	time.Sleep(150 * time.Millisecond)

	source := net.Node(wire.NodeAddr{1, 0})
	if err := source.Send(ctx, []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case payload := <-received:
		if string(payload) != "hello" {
			t.Fatalf("got payload %q, want %q", payload, "hello")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for multi-hop delivery")
	}
}

// TestIslandNodeNeverDelivers checks that a node with no path to any sink
// in a restricted topology eventually rejects sends once its queue fills,
// rather than silently discarding payloads forever.
func TestIslandNodeNeverDelivers(t *testing.T) {
	adjacency := map[wire.NodeAddr][]wire.NodeAddr{
		{9, 0}: {}, // isolated: no neighbors at all
	}
	net := NewNetworkWithTopology(adjacency)
	logger := testLogger()

	cfg := testNodeConfig(wire.NodeAddr{9, 0}, false)
	cfg.MaxPacketQueueSize = 5
	if _, err := net.AddNode(cfg, logger); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = net.Run(ctx) }()

	node := net.Node(wire.NodeAddr{9, 0})
	var lastErr error
	for i := 0; i < 50; i++ {
		lastErr = node.Send(ctx, []byte{byte(i)})
		if lastErr != nil {
			break
		}
	}
	if lastErr == nil {
		t.Fatal("expected the isolated node's queue to eventually reject sends")
	}
}
