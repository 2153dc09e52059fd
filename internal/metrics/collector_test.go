package bcpmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	bcpmetrics "github.com/bcpnet/gobcp/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := bcpmetrics.NewCollector(reg)

	if c.QueueLength == nil {
		t.Error("QueueLength is nil")
	}
	if c.ForwardableNeighbors == nil {
		t.Error("ForwardableNeighbors is nil")
	}
	if c.PacketsSent == nil {
		t.Error("PacketsSent is nil")
	}
	if c.PacketsReceived == nil {
		t.Error("PacketsReceived is nil")
	}
	if c.PacketsDropped == nil {
		t.Error("PacketsDropped is nil")
	}
	if c.AcksReceived == nil {
		t.Error("AcksReceived is nil")
	}
	if c.BatteryGauge == nil {
		t.Error("BatteryGauge is nil")
	}
	if c.EnergyBudget == nil {
		t.Error("EnergyBudget is nil")
	}
	if c.FusionGroupsFormed == nil {
		t.Error("FusionGroupsFormed is nil")
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestNodeReporterPacketCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := bcpmetrics.NewCollector(reg)
	r := bcpmetrics.NewNodeReporter(c, "1.0")

	r.IncPacketsSent()
	r.IncPacketsSent()
	r.IncPacketsReceived()
	r.IncAcksReceived()
	r.IncPacketsDropped()

	if got := counterValue(t, c.PacketsSent, "1.0"); got != 2 {
		t.Errorf("PacketsSent = %v, want 2", got)
	}
	if got := counterValue(t, c.PacketsReceived, "1.0"); got != 1 {
		t.Errorf("PacketsReceived = %v, want 1", got)
	}
	if got := counterValue(t, c.AcksReceived, "1.0"); got != 1 {
		t.Errorf("AcksReceived = %v, want 1", got)
	}
	if got := counterValue(t, c.PacketsDropped, "1.0"); got != 1 {
		t.Errorf("PacketsDropped = %v, want 1", got)
	}
}

func TestNodeReporterGauges(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := bcpmetrics.NewCollector(reg)
	r := bcpmetrics.NewNodeReporter(c, "2.0")

	r.SetQueueLength(7)
	r.SetForwardableNeighbors(3)
	r.SetBatteryLevel(4_500_000)
	r.SetEnergyBudget(1_200)

	if got := gaugeValue(t, c.QueueLength, "2.0"); got != 7 {
		t.Errorf("QueueLength = %v, want 7", got)
	}
	if got := gaugeValue(t, c.ForwardableNeighbors, "2.0"); got != 3 {
		t.Errorf("ForwardableNeighbors = %v, want 3", got)
	}
	if got := gaugeValue(t, c.BatteryGauge, "2.0"); got != 4_500_000 {
		t.Errorf("BatteryGauge = %v, want 4500000", got)
	}
	if got := gaugeValue(t, c.EnergyBudget, "2.0"); got != 1_200 {
		t.Errorf("EnergyBudget = %v, want 1200", got)
	}
}

func TestNodeReporterFusionCounter(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := bcpmetrics.NewCollector(reg)
	r := bcpmetrics.NewNodeReporter(c, "3.0")

	r.IncFusionGroupsFormed()
	r.IncFusionGroupsFormed()

	if got := counterValue(t, c.FusionGroupsFormed, "3.0"); got != 2 {
		t.Errorf("FusionGroupsFormed = %v, want 2", got)
	}
}

func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
