// Package sensing implements the Lyapunov-optimized sensing-rate
// controller (sensing_control.c): given the current queue backlog and the
// energy budget the local power manager hands it for this slot, it picks
// how fast the node should sample its sensor this slot.
package sensing

import "sync"

// Controller holds the tunable Lyapunov parameters and the per-slot
// working values fed in by the fusion weight estimator each time it runs a
// new slot.
type Controller struct {
	mu sync.Mutex

	v    int32 // SENSING_V: trades off queue backlog against sensing rate
	rMax int32 // SENSING_rMax: hardware ceiling on the sensing rate

	bigerLine int32 // reference backlog line the controller balances against
	cost      float64
	rEnergyMax float64
}

// NewController creates a Controller with the given Lyapunov weight and
// maximum achievable sensing rate.
func NewController(v, rMax int32) *Controller {
	return &Controller{v: v, rMax: rMax}
}

// SetBigerLine sets the reference backlog line for the next Rate
// computation (sensing_setBigerLine).
func (c *Controller) SetBigerLine(line int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bigerLine = line
}

// SetCost records this slot's per-sample sensing energy cost and the
// energy budget available, deriving the energy-limited rate ceiling
// (sensing_setCost: rEnergyMax = min(rMax, energy_budget/cost)).
func (c *Controller) SetCost(cost, energyBudget float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cost = cost
	limit := float64(c.rMax)
	if cost > 0 {
		if byEnergy := energyBudget / cost; byEnergy < limit {
			limit = byEnergy
		}
	}
	if limit < 0 {
		limit = 0
	}
	c.rEnergyMax = limit
}

// Rate returns this slot's sensing rate given the current queue length,
// via the Lyapunov drift-plus-penalty formula (sensing_rate):
//
//	comp = V/(bigerLine*cost + queueLen) - 1
//
// clamped to [0, rEnergyMax]. A deeper queue or higher sensing cost pushes
// comp down, throttling sensing when the network is already backlogged or
// energy-constrained.
func (c *Controller) Rate(queueLen int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	denom := float64(c.bigerLine)*c.cost + float64(queueLen)
	var comp float64
	if denom > 0 {
		comp = float64(c.v)/denom - 1
	}
	if comp < 0 {
		comp = 0
	}
	if comp > c.rEnergyMax {
		comp = c.rEnergyMax
	}
	return comp
}
