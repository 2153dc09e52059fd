// Package fusion implements the energy-aware in-network aggregation
// extension (fusion.c, fusion_weight_estimator.c): a routing.Extender and
// routing.WeightEstimator pair that groups same-correlation-ID queue items
// into single synthetic packets when the local power manager's energy
// budget favors fusing over forwarding everything individually.
package fusion

import (
	"math/rand/v2"
	"sync"

	"github.com/bcpnet/gobcp/internal/lpm"
	"github.com/bcpnet/gobcp/internal/queue"
	"github.com/bcpnet/gobcp/internal/routing"
	"github.com/bcpnet/gobcp/internal/sensing"
	"github.com/bcpnet/gobcp/internal/wire"
)

// Config bounds the per-item energy costs and the number of correlation-ID
// groups items are bucketed into (fusion_config.h / fusion_energy_control.h).
type Config struct {
	NumCID int

	FuseCostMin, FuseCostMax int
	SendCostMin, SendCostMax int

	// FuseFirstTwoCost is the energy debited for each of the first two
	// items folded into a fusion group; items beyond the second cost
	// FuseRestCost each (performFusion's "debits 2 for first 2 then 1
	// each" rule).
	FuseFirstTwoCost int
	FuseRestCost     int
}

// Coordinator implements both routing.Extender and routing.WeightEstimator,
// layering energy-aware fusion on top of a plain Connection without the
// connection needing to know fusion exists.
type Coordinator struct {
	mu  sync.Mutex
	cfg Config
	pm  *lpm.Manager
	sc  *sensing.Controller

	consumedSend float64
	consumedFuse float64

	// bestNeighbor/bestWeight cache the winner of the last slot-boundary
	// recompute; outside of that recompute window weight_estimator_getWeight
	// returns this cached winner's weight and 1 for everyone else, so the
	// routing decision stays stable for the rest of the slot instead of
	// flapping between neighbors as queue lengths change mid-slot.
	bestNeighbor wire.NodeAddr
	bestWeight   int
	slotLive     bool
}

// NewCoordinator creates a Coordinator backed by the given power manager
// and sensing controller.
func NewCoordinator(cfg Config, pm *lpm.Manager, sc *sensing.Controller) *Coordinator {
	return &Coordinator{cfg: cfg, pm: pm, sc: sc}
}

// NewSlot runs the per-slot energy accounting and neighbor re-ranking
// (newTimeSlot): resets this slot's consumed budgets, recomputes the
// sensing controller's cost/backlog line from the current queue, and picks
// the best-weighted forwardable neighbor using live backpressure.
func (c *Coordinator) NewSlot(table *routing.Table, ownQueueLen int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consumedSend = 0
	c.consumedFuse = 0

	sendCost := randRange(c.cfg.SendCostMin, c.cfg.SendCostMax)
	c.sc.SetBigerLine(int32(ownQueueLen)) //nolint:gosec // G115: queue length bounded well under int32 range
	c.sc.SetCost(float64(sendCost), c.pm.GetEnergyBudget())

	c.slotLive = true
	var best *routing.Neighbor
	bestWeight := 0
	for _, n := range table.Snapshot() {
		n := n
		if n.Forwardable < 1 {
			continue
		}
		w := c.liveWeight(&n, ownQueueLen, sendCost)
		if w > bestWeight {
			bestWeight = w
			best = &n
		}
	}
	c.slotLive = false

	if best != nil && bestWeight >= 1 {
		c.bestNeighbor = best.Addr
		c.bestWeight = bestWeight
	} else {
		c.bestNeighbor = wire.NodeAddr{}
		c.bestWeight = 0
	}
}

// liveWeight is the per-slot recompute: w = (queueLen - neighbor's last
// advertised queue length) / sendCost, i.e. how much of our backlog we can
// relieve per unit of sending energy by routing through this neighbor.
// ownQueueLen is always the caller's current queue length, never a value
// cached from when the neighbor's queue log was last advertised.
func (c *Coordinator) liveWeight(n *routing.Neighbor, ownQueueLen, sendCost int) int {
	if sendCost <= 0 {
		sendCost = 1
	}
	numerator := ownQueueLen - n.QueueLog
	if numerator < 0 {
		return 0
	}
	return numerator / sendCost
}

// Weight implements routing.WeightEstimator. Outside of NewSlot's
// recompute window it returns the cached winner's weight for that one
// neighbor and 1 for everyone else (weight_estimator_getWeight).
func (c *Coordinator) Weight(n *routing.Neighbor, _ int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slotLive {
		return 0 // NewSlot computes live weights itself; FindRouting is not used mid-recompute
	}
	if n.Addr == c.bestNeighbor {
		return c.bestWeight
	}
	return 1
}

// canFuse reports whether this slot's fusion energy budget has room for
// one more item at the given cost.
func (c *Coordinator) canFuse(cost float64) bool {
	return c.consumedFuse+cost <= c.pm.GetEnergyBudget()
}

// canSend reports whether this slot's sending energy budget has room.
func (c *Coordinator) canSend(cost float64) bool {
	return c.consumedSend+cost <= c.pm.GetEnergyBudget()
}

// OnUserRequest implements routing.Extender: lazily assigns a correlation
// ID to a freshly originated item (getCID), grouping it with other items
// the network may later choose to fuse.
func (c *Coordinator) OnUserRequest(item *queue.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if item.CID != 0 {
		return
	}
	item.CID = uint16(1 + rand.IntN(max(c.cfg.NumCID, 1))) //nolint:gosec // G404: CID grouping is not security-sensitive
	item.Fused = false
}

// OnReceiving implements routing.Extender: a fusion packet arriving from
// upstream has its fused flag cleared so it is eligible to be folded into
// a further fusion group downstream instead of only ever traveling alone
// (onReceiving).
func (c *Coordinator) OnReceiving(item *queue.Item) {
	if item.Fused {
		item.Fused = false
	}
}

// BeforeSending implements routing.Extender: vetoes the send if this
// slot's sending energy budget is exhausted, otherwise debits it
// (beforeSending).
func (c *Coordinator) BeforeSending(item *queue.Item) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cost := float64(randRange(c.cfg.SendCostMin, c.cfg.SendCostMax))
	if !c.canSend(cost) {
		return false
	}
	c.consumedSend += cost
	return true
}

// AfterSending implements routing.Extender. No further bookkeeping is
// needed once a send has been allowed and debited.
func (c *Coordinator) AfterSending(*queue.Item) {}

// PrepareDataPacket implements routing.Extender: runs one fusion pass over
// the queue (performFusion), folding same-CID items into a single
// synthetic item when there are at least two and the fusion energy budget
// allows it.
func (c *Coordinator) PrepareDataPacket(q *queue.Queue) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for cid := 1; cid <= max(c.cfg.NumCID, 1); cid++ {
		c.fuseGroup(q, uint16(cid)) //nolint:gosec // G115: NumCID stays far under 65535
	}
}

func (c *Coordinator) fuseGroup(q *queue.Queue, cid uint16) {
	var group []*queue.Item
	var totalDelay uint32
	var represented uint16

	for i := 0; ; i++ {
		item := q.At(i)
		if item == nil {
			break
		}
		if item.CID != cid || item.Fused {
			continue
		}
		cost := c.fuseCost(len(group))
		if !c.canFuse(cost) {
			break
		}
		c.consumedFuse += cost
		group = append(group, item)
		totalDelay += item.Delay
		// A received fusion packet counts as the originals its payload says
		// it stands for; any other item counts as one.
		if item.Origin == wire.FusionOrigin && len(item.Payload) > 0 {
			represented += uint16(item.Payload[0])
		} else {
			represented++
		}
	}

	if len(group) <= 1 {
		return
	}

	for _, item := range group {
		q.Remove(item)
	}

	merged := &queue.Item{
		Header: wire.Header{
			Origin: wire.FusionOrigin,
			Delay:  totalDelay / uint32(len(group)), //nolint:gosec // G115: len(group) always > 0 here
		},
		Fused:   true,
		CID:     cid,
		Payload: []byte{byte(represented)},
	}
	merged.SetConsumedTotal(represented)
	_ = q.Push(merged)
}

// fuseCost mirrors performFusion's "2 for each of the first two items,
// then 1 each" debit schedule.
func (c *Coordinator) fuseCost(alreadyInGroup int) float64 {
	if alreadyInGroup < 2 {
		return float64(c.cfg.FuseFirstTwoCost)
	}
	return float64(c.cfg.FuseRestCost)
}

func randRange(minV, maxV int) int {
	if maxV <= minV {
		return minV
	}
	return minV + rand.IntN(maxV-minV+1) //nolint:gosec // G404: energy-cost sampling is not security-sensitive
}
