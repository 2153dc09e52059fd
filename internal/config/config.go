// Package config manages BCP node configuration using koanf/v2.
//
// Supports YAML files, environment variables, and the layered
// defaults-then-file-then-env precedence used throughout this codebase.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/bcpnet/gobcp/internal/wire"
)

// Config holds the complete node configuration: addressing, queue/table
// capacities, timer periods, energy-cost bounds, and ambient concerns
// (logging, metrics).
type Config struct {
	Node    NodeConfig    `koanf:"node"`
	Queue   QueueConfig   `koanf:"queue"`
	Timers  TimersConfig  `koanf:"timers"`
	Hop     HopConfig     `koanf:"hop"`
	Energy  EnergyConfig  `koanf:"energy"`
	Fusion  FusionConfig  `koanf:"fusion"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
}

// NodeConfig identifies this node and its role in the topology.
type NodeConfig struct {
	// Addr is this node's two-byte address, given as "hi.lo" (e.g. "3.0").
	Addr string `koanf:"addr"`
	// SinkAddresses lists addresses that should be treated as sinks. A node
	// whose own Addr appears here runs in sink mode (generalizes spec.md's
	// single-sink flag to mainTwoSink.c's multi-sink convention).
	SinkAddresses []string `koanf:"sink_addresses"`
}

// QueueConfig bounds the packet queue, routing table, and user payload.
type QueueConfig struct {
	MaxPacketQueueSize  int `koanf:"max_packet_queue_size"`
	MaxRoutingTableSize int `koanf:"max_routing_table_size"`
	MaxUserPacketSize   int `koanf:"max_user_packet_size"`
}

// TimersConfig holds the per-connection timer periods (bcp-config.h's
// BEACON_TIME/SEND_TIME_DELAY/RETX_TIME). Each period is set on its own;
// none is derived from SlotDuration.
type TimersConfig struct {
	SlotDuration      time.Duration `koanf:"slot_duration"`
	BeaconTime        time.Duration `koanf:"beacon_time"`
	SendTimeDelay     time.Duration `koanf:"send_time_delay"`
	RetxTime          time.Duration `koanf:"retx_time"`
	CheckInterval     time.Duration `koanf:"check_interval"`
	ForwardablePeriod time.Duration `koanf:"forwardable_period"`
}

// HopConfig bounds the bootstrap hop-count flood's settle delay and
// rebroadcast cadence (the random-delay/rebroadcast constants mainSink.c /
// mainTwoSink.c use to seed the hop-count tree on startup).
type HopConfig struct {
	MaxSettleDelay      time.Duration `koanf:"max_settle_delay"`
	Window              time.Duration `koanf:"window"`
	RebroadcastInterval time.Duration `koanf:"rebroadcast_interval"`
}

// EnergyConfig bounds the per-node random energy-cost draws and the LPM's
// battery model (fusion_config.h / lpm_jsac.c constants).
type EnergyConfig struct {
	FuseCostMin    int     `koanf:"fuse_cost_min"`
	FuseCostMax    int     `koanf:"fuse_cost_max"`
	SensingCostMin int     `koanf:"sensing_cost_min"`
	SensingCostMax int     `koanf:"sensing_cost_max"`
	SendCostMin    int     `koanf:"send_cost_min"`
	SendCostMax    int     `koanf:"send_cost_max"`

	BatteryMax          uint32  `koanf:"battery_max"`
	MinConsumption      float64 `koanf:"min_consumption"`
	MaxConsumption      int32   `koanf:"max_consumption"`
	RechargingEfficiency float64 `koanf:"recharging_efficiency"`
	ExtraPhi            int32   `koanf:"extra_phi"`
	DayNightDebounce    int     `koanf:"day_night_debounce"`
}

// FusionConfig bounds the correlation-ID grouping and sensing-rate tuning.
type FusionConfig struct {
	NumCID        int     `koanf:"num_cid"`
	SensingV      int32   `koanf:"sensing_v"`
	SensingRateMax int32  `koanf:"sensing_rate_max"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ParsedAddr parses NodeConfig.Addr into a wire.NodeAddr.
func (nc NodeConfig) ParsedAddr() (wire.NodeAddr, error) {
	return parseNodeAddr(nc.Addr)
}

// IsSink reports whether this node's own address is one of its configured
// sink addresses.
func (nc NodeConfig) IsSink() (bool, error) {
	self, err := nc.ParsedAddr()
	if err != nil {
		return false, err
	}
	for _, s := range nc.SinkAddresses {
		addr, err := parseNodeAddr(s)
		if err != nil {
			return false, fmt.Errorf("sink_addresses: %w", err)
		}
		if addr == self {
			return true, nil
		}
	}
	return false, nil
}

func parseNodeAddr(s string) (wire.NodeAddr, error) {
	var hi, lo int
	if _, err := fmt.Sscanf(s, "%d.%d", &hi, &lo); err != nil {
		return wire.NodeAddr{}, fmt.Errorf("parse node address %q: %w", s, err)
	}
	if hi < 0 || hi > 255 || lo < 0 || lo > 255 {
		return wire.NodeAddr{}, fmt.Errorf("%w: %q", ErrNodeAddrOutOfRange, s)
	}
	return wire.NodeAddr{byte(hi), byte(lo)}, nil
}

// DefaultConfig returns a Config populated with the constants spec.md §6
// names (mirrored 1:1 from bcp-config.h / fusion_config.h / lpm_jsac.c).
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{Addr: "0.0"},
		Queue: QueueConfig{
			MaxPacketQueueSize:  70,
			MaxRoutingTableSize: 40,
			MaxUserPacketSize:   2,
		},
		Timers: TimersConfig{
			SlotDuration:      1 * time.Second,
			BeaconTime:        100 * time.Millisecond,
			SendTimeDelay:     100 * time.Millisecond,
			RetxTime:          140 * time.Millisecond,
			CheckInterval:     10 * time.Second,
			ForwardablePeriod: 1 * time.Second,
		},
		Hop: HopConfig{
			MaxSettleDelay:      2 * time.Second,
			Window:              30 * time.Second,
			RebroadcastInterval: 5 * time.Second,
		},
		Energy: EnergyConfig{
			FuseCostMin:          1,
			FuseCostMax:          2,
			SensingCostMin:       1,
			SensingCostMax:       2,
			SendCostMin:          5,
			SendCostMax:          15,
			BatteryMax:           6_000_000,
			MinConsumption:       50,
			MaxConsumption:       125,
			RechargingEfficiency: 0.74,
			ExtraPhi:             1_000_000,
			DayNightDebounce:     20,
		},
		Fusion: FusionConfig{
			NumCID:         2,
			SensingV:       100,
			SensingRateMax: 50,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// envPrefix is the environment variable prefix for node configuration.
// Variables are named BCP_<section>_<key>, e.g. BCP_NODE_ADDR.
const envPrefix = "BCP_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (BCP_ prefix), and merges on top of DefaultConfig().
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	// Only the first underscore separates section from key; keys such as
	// sink_addresses keep their own underscores.
	return strings.Replace(s, "_", ".", 1)
}

func loadDefaults(k *koanf.Koanf, d *Config) error {
	defaultMap := map[string]any{
		"node.addr":                     d.Node.Addr,
		"queue.max_packet_queue_size":   d.Queue.MaxPacketQueueSize,
		"queue.max_routing_table_size":  d.Queue.MaxRoutingTableSize,
		"queue.max_user_packet_size":    d.Queue.MaxUserPacketSize,
		"timers.slot_duration":          d.Timers.SlotDuration.String(),
		"timers.beacon_time":            d.Timers.BeaconTime.String(),
		"timers.send_time_delay":        d.Timers.SendTimeDelay.String(),
		"timers.retx_time":              d.Timers.RetxTime.String(),
		"timers.check_interval":         d.Timers.CheckInterval.String(),
		"timers.forwardable_period":     d.Timers.ForwardablePeriod.String(),
		"hop.max_settle_delay":          d.Hop.MaxSettleDelay.String(),
		"hop.window":                    d.Hop.Window.String(),
		"hop.rebroadcast_interval":      d.Hop.RebroadcastInterval.String(),
		"energy.fuse_cost_min":          d.Energy.FuseCostMin,
		"energy.fuse_cost_max":          d.Energy.FuseCostMax,
		"energy.sensing_cost_min":       d.Energy.SensingCostMin,
		"energy.sensing_cost_max":       d.Energy.SensingCostMax,
		"energy.send_cost_min":          d.Energy.SendCostMin,
		"energy.send_cost_max":          d.Energy.SendCostMax,
		"energy.battery_max":            d.Energy.BatteryMax,
		"energy.min_consumption":        d.Energy.MinConsumption,
		"energy.max_consumption":        d.Energy.MaxConsumption,
		"energy.recharging_efficiency":  d.Energy.RechargingEfficiency,
		"energy.extra_phi":              d.Energy.ExtraPhi,
		"energy.day_night_debounce":     d.Energy.DayNightDebounce,
		"fusion.num_cid":                d.Fusion.NumCID,
		"fusion.sensing_v":              d.Fusion.SensingV,
		"fusion.sensing_rate_max":       d.Fusion.SensingRateMax,
		"metrics.addr":                  d.Metrics.Addr,
		"metrics.path":                  d.Metrics.Path,
		"log.level":                     d.Log.Level,
		"log.format":                    d.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

// Validation errors.
var (
	ErrNodeAddrOutOfRange  = errors.New("node address components must be in [0,255]")
	ErrEmptyNodeAddr       = errors.New("node.addr must not be empty")
	ErrInvalidQueueSize    = errors.New("queue.max_packet_queue_size must be > 0")
	ErrInvalidRoutingSize  = errors.New("queue.max_routing_table_size must be > 0")
	ErrInvalidUserPacket   = errors.New("queue.max_user_packet_size must be > 0")
	ErrInvalidSlotDuration = errors.New("timers.slot_duration must be > 0")
	ErrInvalidNumCID       = errors.New("fusion.num_cid must be >= 1")
)

// Validate checks the configuration for logical errors.
func Validate(cfg *Config) error {
	if cfg.Node.Addr == "" {
		return ErrEmptyNodeAddr
	}
	if _, err := cfg.Node.ParsedAddr(); err != nil {
		return err
	}
	if cfg.Queue.MaxPacketQueueSize <= 0 {
		return ErrInvalidQueueSize
	}
	if cfg.Queue.MaxRoutingTableSize <= 0 {
		return ErrInvalidRoutingSize
	}
	if cfg.Queue.MaxUserPacketSize <= 0 {
		return ErrInvalidUserPacket
	}
	if cfg.Timers.SlotDuration <= 0 {
		return ErrInvalidSlotDuration
	}
	if cfg.Fusion.NumCID < 1 {
		return ErrInvalidNumCID
	}
	return nil
}

// ParseLogLevel maps a configuration log level string to slog.Level.
// Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
