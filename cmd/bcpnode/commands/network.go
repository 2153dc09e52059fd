package commands

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bcpnet/gobcp/internal/config"
	"github.com/bcpnet/gobcp/internal/fusion"
	"github.com/bcpnet/gobcp/internal/hopcount"
	"github.com/bcpnet/gobcp/internal/lpm"
	bcpmetrics "github.com/bcpnet/gobcp/internal/metrics"
	"github.com/bcpnet/gobcp/internal/routing"
	"github.com/bcpnet/gobcp/internal/sim"
	"github.com/bcpnet/gobcp/internal/wire"
)

var errMissingTopology = errors.New("--topology is required")

// buildNetwork constructs a sim.Network from a topology fixture, applying
// cfg's queue/timer/energy/fusion sections uniformly to every node and
// wiring a per-node metrics reporter into each connection.
func buildNetwork(cfg *config.Config, topo *sim.Topology, mcoll *bcpmetrics.Collector, logger *slog.Logger) (*sim.Network, error) {
	adjacency, err := topo.Adjacency()
	if err != nil {
		return nil, err
	}
	net := sim.NewNetworkWithTopology(adjacency)

	for _, tn := range topo.Nodes {
		addr, err := parseTopoAddr(tn.Addr)
		if err != nil {
			return nil, err
		}

		nodeCfg := sim.NodeConfig{
			Self: addr,
			Sink: tn.Sink,

			MaxPacketQueueSize:  cfg.Queue.MaxPacketQueueSize,
			MaxRoutingTableSize: cfg.Queue.MaxRoutingTableSize,
			MaxUserPacketSize:   cfg.Queue.MaxUserPacketSize,

			Conn: routing.Config{
				SlotDuration:      cfg.Timers.SlotDuration,
				BeaconTime:        cfg.Timers.BeaconTime,
				SendTimeDelay:     cfg.Timers.SendTimeDelay,
				RetxTime:          cfg.Timers.RetxTime,
				CheckInterval:     cfg.Timers.CheckInterval,
				ForwardablePeriod: cfg.Timers.ForwardablePeriod,
			},
			Hop: hopcount.Config{
				MaxSettleDelay:      cfg.Hop.MaxSettleDelay,
				Window:              cfg.Hop.Window,
				RebroadcastInterval: cfg.Hop.RebroadcastInterval,
			},
			LPM: lpm.Config{
				BatteryMax:           cfg.Energy.BatteryMax,
				MinConsumption:       cfg.Energy.MinConsumption,
				MaxConsumption:       cfg.Energy.MaxConsumption,
				RechargingEfficiency: cfg.Energy.RechargingEfficiency,
				ExtraPhi:             cfg.Energy.ExtraPhi,
				DayThreshold:         1,
				DebounceSlots:        cfg.Energy.DayNightDebounce,
			},
			Fuse: fusion.Config{
				NumCID:           cfg.Fusion.NumCID,
				FuseCostMin:      cfg.Energy.FuseCostMin,
				FuseCostMax:      cfg.Energy.FuseCostMax,
				SendCostMin:      cfg.Energy.SendCostMin,
				SendCostMax:      cfg.Energy.SendCostMax,
				FuseFirstTwoCost: cfg.Energy.FuseCostMax,
				FuseRestCost:     cfg.Energy.FuseCostMin,
			},
			SensingV:       cfg.Fusion.SensingV,
			SensingRateMax: cfg.Fusion.SensingRateMax,
		}

		reporter := bcpmetrics.NewNodeReporter(mcoll, tn.Addr)
		opts := []routing.Option{routing.WithMetrics(reporter)}
		if tn.Sink {
			opts = append(opts, routing.WithReceiveCallback(func(origin wire.NodeAddr, payload []byte) {
				logger.Info("data delivered at sink",
					slog.String("origin", origin.String()),
					slog.String("sink", addr.String()),
					slog.Int("bytes", len(payload)),
				)
			}))
		}

		n, err := sim.NewNode(nodeCfg, net.Medium, logger, opts...)
		if err != nil {
			return nil, fmt.Errorf("build node %s: %w", tn.Addr, err)
		}
		net.Nodes[addr] = n
	}

	return net, nil
}

func parseTopoAddr(s string) (wire.NodeAddr, error) {
	var hi, lo int
	if _, err := fmt.Sscanf(s, "%d.%d", &hi, &lo); err != nil {
		return wire.NodeAddr{}, fmt.Errorf("parse node address %q: %w", s, err)
	}
	return wire.NodeAddr{byte(hi), byte(lo)}, nil
}
