package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func solarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "solar <addr> <value>",
		Short: "Feed a solar reading into a node's local power manager",
		Long:  "Replaces the Contiki serial console's 'solar <value>' injection: feeds an instantaneous harvest reading to one node's LPM for the current slot.",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			addr, err := parseTopoAddr(args[0])
			if err != nil {
				return err
			}
			n := network.Node(addr)
			if n == nil {
				return fmt.Errorf("%w: %s", errUnknownNode, args[0])
			}
			value, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("parse solar value %q: %w", args[1], err)
			}
			n.LPM.SetInput(value)
			fmt.Printf("%s: battery=%.0f budget=%.1f phase=%s\n",
				args[0], n.LPM.GetBatteryLevel(), n.LPM.GetEnergyBudget(), n.LPM.Phase())
			return nil
		},
	}
}
