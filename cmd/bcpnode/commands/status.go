package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bcpnet/gobcp/internal/sim"
	"github.com/bcpnet/gobcp/internal/wire"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show every node's queue, battery, and packet counters",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			rows := collectStatus(network)
			out, err := formatStatus(rows, outputFormat)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

// statusRow is one node's diagnostic snapshot for the status command.
type statusRow struct {
	Addr           wire.NodeAddr
	Sink           bool
	QueueLen       int
	Neighbors      int
	BatteryLevel   float64
	EnergyBudget   float64
	Phase          string
	PacketsSent    uint64
	PacketsRecv    uint64
	PacketsDropped uint64
	AcksReceived   uint64
}

func collectStatus(net *sim.Network) []statusRow {
	addrs := make([]wire.NodeAddr, 0, len(net.Nodes))
	for addr := range net.Nodes {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].String() < addrs[j].String() })

	rows := make([]statusRow, 0, len(addrs))
	for _, addr := range addrs {
		n := net.Nodes[addr]
		rows = append(rows, statusRow{
			Addr:           addr,
			Sink:           n.Conn.Self() == addr && isSink(net, addr),
			QueueLen:       n.Queue.Len(),
			Neighbors:      n.Table.Length(),
			BatteryLevel:   n.LPM.GetBatteryLevel(),
			EnergyBudget:   n.LPM.GetEnergyBudget(),
			Phase:          n.LPM.Phase().String(),
			PacketsSent:    n.Conn.PacketsSent(),
			PacketsRecv:    n.Conn.PacketsReceived(),
			PacketsDropped: n.Conn.PacketsDropped(),
			AcksReceived:   n.Conn.AcksReceived(),
		})
	}
	return rows
}

func isSink(net *sim.Network, addr wire.NodeAddr) bool {
	for _, tn := range topo.Nodes {
		a, err := parseTopoAddr(tn.Addr)
		if err == nil && a == addr {
			return tn.Sink
		}
	}
	return false
}
