// Package lpm implements the local power manager: a per-node model of a
// solar-harvesting battery that tracks day/night transitions and hands the
// routing and sensing layers an energy budget for the current slot
// (lpm_jsac.c). Every C-level static global becomes a Manager field so
// multiple simulated nodes can each run their own independent LPM.
package lpm

import (
	"sync"
)

// SlotType distinguishes a harvesting slot from a non-harvesting one.
type SlotType int

const (
	SlotUnknown SlotType = iota
	SlotDay
	SlotNight
)

func (s SlotType) String() string {
	switch s {
	case SlotDay:
		return "day"
	case SlotNight:
		return "night"
	default:
		return "unknown"
	}
}

// Config bounds the battery model (mirrors lpm_jsac.c's compile-time
// constants, now per-instance so the simulator can run many nodes with
// independent or heterogeneous power profiles).
type Config struct {
	BatteryMax           uint32
	MinConsumption       float64
	MaxConsumption       int32
	RechargingEfficiency float64
	ExtraPhi             int32
	// DayThreshold is the solar reading above which a slot counts as
	// daytime (isDayTime's "solar_energy > 1" check).
	DayThreshold float64
	// DebounceSlots is how many consecutive slots on the other side of
	// DayThreshold are required before a day/night transition is
	// accepted, damping noisy solar readings (the 20-sample debounce in
	// isDayTime).
	DebounceSlots int
}

// Manager is one node's local power manager.
type Manager struct {
	mu sync.Mutex

	cfg Config

	batteryLevel float64
	consumption  int32

	phase           SlotType
	changingCounter int
	slotCounter     int

	dayFirstSlot   int
	nightFirstSlot int
	dayDuration    int // M: observed length of the most recently completed day

	eno      float64 // energy no-outage budget for the current/next phase
	phi      float64 // within-phase progress budget
	preSolar float64

	unusedEnergy float64
	initialized  bool
}

// NewManager creates a Manager with a full battery.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:          cfg,
		batteryLevel: float64(cfg.BatteryMax),
		consumption:  cfg.MaxConsumption,
		phase:        SlotUnknown,
	}
}

// SetInput feeds one slot's solar harvest reading (lpm_set_input /
// isDayTime / slotUpdate / calcPhi, run in sequence each slot). solar is an
// arbitrary-unit instantaneous harvest reading; the simulator or
// bcpnode's "solar" console command is the source of this value.
func (m *Manager) SetInput(solar float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.slotCounter++
	observedDay := solar > m.cfg.DayThreshold
	m.updatePhase(observedDay)
	m.recharge(solar)
	m.calcPhi()
	m.checkConsumption()
	m.checkBatteryLevel()
	m.preSolar = solar
}

// updatePhase applies the debounced day/night transition and, on a
// transition into night, recomputes Eno (the energy budget that must last
// until the battery can recharge again) and the observed day duration.
func (m *Manager) updatePhase(observedDay bool) {
	want := SlotNight
	if observedDay {
		want = SlotDay
	}

	if !m.initialized {
		m.phase = want
		m.dayFirstSlot = m.slotCounter
		m.initialized = true
		return
	}

	if want == m.phase {
		m.changingCounter = 0
		return
	}

	m.changingCounter++
	if m.changingCounter < m.cfg.DebounceSlots {
		return
	}
	m.changingCounter = 0

	switch want {
	case SlotNight:
		m.dayDuration = m.slotCounter - m.dayFirstSlot
		m.nightFirstSlot = m.slotCounter
		m.eno = m.remainingBatteryEnergy()
	case SlotDay:
		m.dayFirstSlot = m.slotCounter
	}
	m.phase = want
}

// remainingBatteryEnergy is the battery's usable reserve beyond the
// always-on minimum consumption floor, the basis for Eno.
func (m *Manager) remainingBatteryEnergy() float64 {
	reserve := m.batteryLevel - m.cfg.MinConsumption
	if reserve < 0 {
		return 0
	}
	return reserve
}

// recharge applies the harvested solar energy to the battery at the
// configured recharging efficiency, net of this slot's consumption, then
// clamps to [0, BatteryMax] (checkBatteryLevel).
func (m *Manager) recharge(solar float64) {
	gained := solar * m.cfg.RechargingEfficiency
	m.batteryLevel += gained - float64(m.consumption)
}

// calcPhi computes the within-phase progress budget: the fraction of the
// current phase elapsed, scaled by Eno and a fixed per-slot allotment
// (calcPhi: phi = (progress/100) * Eno * 300, here normalized to a 0..1
// progress fraction instead of a percentage).
func (m *Manager) calcPhi() {
	if m.phase != SlotNight || m.dayDuration <= 0 {
		m.phi = float64(m.cfg.ExtraPhi)
		return
	}
	elapsed := m.slotCounter - m.nightFirstSlot
	progress := float64(elapsed) / float64(m.dayDuration)
	if progress > 1 {
		progress = 1
	}
	m.phi = progress * m.eno * 300
}

// checkConsumption clamps the tracked per-slot consumption estimate to
// [MinConsumption, MaxConsumption].
func (m *Manager) checkConsumption() {
	if float64(m.consumption) < m.cfg.MinConsumption {
		m.consumption = int32(m.cfg.MinConsumption)
	}
	if m.consumption > m.cfg.MaxConsumption {
		m.consumption = m.cfg.MaxConsumption
	}
}

// checkBatteryLevel clamps the battery to [0, BatteryMax].
func (m *Manager) checkBatteryLevel() {
	if m.batteryLevel < 0 {
		m.batteryLevel = 0
	}
	if m.batteryLevel > float64(m.cfg.BatteryMax) {
		m.batteryLevel = float64(m.cfg.BatteryMax)
	}
}

// SetUnusedEnergy reports energy the sensing/fusion/routing layers did not
// spend this slot, letting it roll forward into the next slot's budget
// (lpm_set_unusedEnergy).
func (m *Manager) SetUnusedEnergy(e float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unusedEnergy = e
}

// GetEnergyBudget returns the energy available to spend this slot: the
// within-phase phi allotment plus anything rolled forward
// (lpm_get_energy_budget).
func (m *Manager) GetEnergyBudget() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phi + m.unusedEnergy
}

// GetBatteryLevel returns the current battery charge.
func (m *Manager) GetBatteryLevel() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batteryLevel
}

// Phase returns the last-observed day/night phase, for diagnostics.
func (m *Manager) Phase() SlotType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// DayDuration returns the most recently observed day length in slots
// (M in the original notation), for diagnostics.
func (m *Manager) DayDuration() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dayDuration
}
