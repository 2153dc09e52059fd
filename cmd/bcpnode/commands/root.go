// Package commands implements the bcpnode CLI: a daemon and operator shell
// for a simulated backpressure collection network, in the same spirit as
// gobfdctl's cobra command tree but operating directly on in-process node
// state rather than over an RPC client, since BCP has no out-of-process
// session to manage remotely.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/bcpnet/gobcp/internal/config"
	bcpmetrics "github.com/bcpnet/gobcp/internal/metrics"
	"github.com/bcpnet/gobcp/internal/sim"
)

var (
	// configPath is the node defaults file (queue sizes, timers, energy
	// model, logging, metrics) applied uniformly to every simulated node.
	configPath string
	// topologyPath is the static node/neighbor-list fixture (internal/sim.Topology).
	topologyPath string

	// outputFormat controls status/routes output: table or json.
	outputFormat string

	// cfg, topo, network, and metrics registry are built once in
	// PersistentPreRunE and shared by every subcommand.
	cfg     *config.Config
	topo    *sim.Topology
	network *sim.Network
	logger  *slog.Logger
	reg     *prometheus.Registry
	mcoll   *bcpmetrics.Collector
)

var rootCmd = &cobra.Command{
	Use:   "bcpnode",
	Short: "Run and operate a backpressure collection network",
	Long: "bcpnode builds a simulated multi-hop sensor network from a topology " +
		"fixture and a node configuration, then runs it as a daemon (run), an " +
		"interactive operator shell (shell), or serves one-shot diagnostic " +
		"commands (status, routes) against it.",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		return bootstrap()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to node configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&topologyPath, "topology", "", "path to topology fixture (YAML)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format: table, json")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(shellCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(solarCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(versionCmd())
}

// bootstrap loads configuration and topology and builds (but does not
// start) the network, the logger, and the metrics registry. Idempotent:
// later calls (e.g. from the shell's re-dispatch of rootCmd.Execute) are
// no-ops once network is non-nil.
func bootstrap() error {
	if network != nil {
		return nil
	}

	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg = config.DefaultConfig()
		err = config.Validate(cfg)
	}
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger = newLogger(cfg.Log, logLevel)

	if topologyPath == "" {
		return errMissingTopology
	}
	topo, err = sim.LoadTopology(topologyPath)
	if err != nil {
		return fmt.Errorf("load topology: %w", err)
	}

	reg = prometheus.NewRegistry()
	mcoll = bcpmetrics.NewCollector(reg)

	network, err = buildNetwork(cfg, topo, mcoll, logger)
	if err != nil {
		return fmt.Errorf("build network: %w", err)
	}

	return nil
}

func newLogger(lcfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch lcfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
