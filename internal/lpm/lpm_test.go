package lpm

import "testing"

func testConfig() Config {
	return Config{
		BatteryMax:           6_000_000,
		MinConsumption:       50,
		MaxConsumption:       125,
		RechargingEfficiency: 0.74,
		ExtraPhi:             1_000_000,
		DayThreshold:         1,
		DebounceSlots:        3,
	}
}

func TestNewManagerStartsFull(t *testing.T) {
	m := NewManager(testConfig())
	if m.GetBatteryLevel() != float64(testConfig().BatteryMax) {
		t.Fatalf("expected full battery, got %v", m.GetBatteryLevel())
	}
}

func TestBatteryClampsToMax(t *testing.T) {
	m := NewManager(testConfig())
	for i := 0; i < 10; i++ {
		m.SetInput(1_000_000)
	}
	if m.GetBatteryLevel() > float64(testConfig().BatteryMax) {
		t.Fatalf("battery exceeded max: %v", m.GetBatteryLevel())
	}
}

func TestBatteryDoesNotGoNegative(t *testing.T) {
	m := NewManager(testConfig())
	for i := 0; i < 200_000; i++ {
		m.SetInput(0)
	}
	if m.GetBatteryLevel() < 0 {
		t.Fatalf("battery went negative: %v", m.GetBatteryLevel())
	}
}

func TestDayNightDebounce(t *testing.T) {
	m := NewManager(testConfig())
	m.SetInput(10) // establishes initial phase as day

	// A single noisy low reading should not flip the phase immediately.
	m.SetInput(0)
	if m.Phase() != SlotDay {
		t.Fatalf("single low reading flipped phase early: %v", m.Phase())
	}

	// Enough consecutive low readings should flip it to night.
	for i := 0; i < testConfig().DebounceSlots; i++ {
		m.SetInput(0)
	}
	if m.Phase() != SlotNight {
		t.Fatalf("expected night after debounce, got %v", m.Phase())
	}
}

func TestUnusedEnergyRollsForward(t *testing.T) {
	m := NewManager(testConfig())
	m.SetInput(5)
	before := m.GetEnergyBudget()
	m.SetUnusedEnergy(42)
	after := m.GetEnergyBudget()
	if after != before+42 {
		t.Fatalf("got budget %v, want %v", after, before+42)
	}
}
