package fusion

import (
	"testing"

	"github.com/bcpnet/gobcp/internal/lpm"
	"github.com/bcpnet/gobcp/internal/queue"
	"github.com/bcpnet/gobcp/internal/routing"
	"github.com/bcpnet/gobcp/internal/sensing"
	"github.com/bcpnet/gobcp/internal/wire"
)

func testCoordinator() *Coordinator {
	pm := lpm.NewManager(lpm.Config{
		BatteryMax:           6_000_000,
		MinConsumption:       50,
		MaxConsumption:       125,
		RechargingEfficiency: 0.74,
		ExtraPhi:             1_000_000,
		DayThreshold:         1,
		DebounceSlots:        3,
	})
	sc := sensing.NewController(100, 50)
	cfg := Config{
		NumCID:           2,
		FuseCostMin:      1,
		FuseCostMax:      2,
		SendCostMin:      5,
		SendCostMax:      15,
		FuseFirstTwoCost: 2,
		FuseRestCost:     1,
	}
	return NewCoordinator(cfg, pm, sc)
}

func TestOnUserRequestAssignsCID(t *testing.T) {
	c := testCoordinator()
	item := &queue.Item{}
	c.OnUserRequest(item)
	if item.CID < 1 || item.CID > 2 {
		t.Fatalf("CID %d out of range [1,2]", item.CID)
	}
}

func TestOnUserRequestDoesNotReassignExistingCID(t *testing.T) {
	c := testCoordinator()
	item := &queue.Item{CID: 1}
	c.OnUserRequest(item)
	if item.CID != 1 {
		t.Fatalf("expected CID to stay 1, got %d", item.CID)
	}
}

func TestOnReceivingClearsFused(t *testing.T) {
	c := testCoordinator()
	item := &queue.Item{Fused: true}
	c.OnReceiving(item)
	if item.Fused {
		t.Fatal("expected fused flag cleared")
	}
}

func TestPrepareDataPacketFusesSameCID(t *testing.T) {
	c := testCoordinator()
	q := queue.New(10)
	_ = q.Push(&queue.Item{Header: wire.Header{Origin: wire.NodeAddr{1, 0}}, CID: 1})
	_ = q.Push(&queue.Item{Header: wire.Header{Origin: wire.NodeAddr{2, 0}}, CID: 1})
	_ = q.Push(&queue.Item{Header: wire.Header{Origin: wire.NodeAddr{3, 0}}, CID: 2})

	c.pm.SetInput(1_000_000) // charge up a large energy budget so fusion is never budget-starved
	c.PrepareDataPacket(q)

	snap := q.Snapshot()
	var fused int
	for _, it := range snap {
		if it.Fused {
			fused++
			if it.Origin != wire.FusionOrigin {
				t.Fatalf("fused item has origin %v, want FusionOrigin", it.Origin)
			}
		}
	}
	if fused != 1 {
		t.Fatalf("expected exactly one fused item, got %d (queue: %+v)", fused, snap)
	}
}

func TestWeightReturnsOneForNonBestNeighbor(t *testing.T) {
	c := testCoordinator()
	c.bestNeighbor = wire.NodeAddr{9, 0}
	c.bestWeight = 42
	other := &routing.Neighbor{Addr: wire.NodeAddr{1, 0}}
	if got := c.Weight(other, 0); got != 1 {
		t.Fatalf("got %d, want 1 for non-best neighbor", got)
	}
	best := &routing.Neighbor{Addr: wire.NodeAddr{9, 0}}
	if got := c.Weight(best, 0); got != 42 {
		t.Fatalf("got %d, want cached weight 42 for best neighbor", got)
	}
}
