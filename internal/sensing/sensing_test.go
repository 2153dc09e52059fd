package sensing

import "testing"

func TestRateClampedToEnergyLimit(t *testing.T) {
	c := NewController(100, 50)
	c.SetBigerLine(1)
	c.SetCost(1, 10) // rEnergyMax = min(50, 10/1) = 10
	if got := c.Rate(0); got > 10 {
		t.Fatalf("rate %v exceeds energy-limited ceiling 10", got)
	}
}

func TestRateNeverNegative(t *testing.T) {
	c := NewController(10, 50)
	c.SetBigerLine(100)
	c.SetCost(5, 1000)
	if got := c.Rate(1000); got < 0 {
		t.Fatalf("rate %v went negative", got)
	}
}

func TestRateDropsWithQueueLength(t *testing.T) {
	c := NewController(1000, 50)
	c.SetBigerLine(2)
	c.SetCost(1, 1000)
	shallow := c.Rate(0)
	deep := c.Rate(500)
	if deep >= shallow {
		t.Fatalf("expected rate to drop as queue deepens: shallow=%v deep=%v", shallow, deep)
	}
}

func TestZeroCostDoesNotPanic(t *testing.T) {
	c := NewController(10, 50)
	c.SetCost(0, 10)
	_ = c.Rate(0)
}
