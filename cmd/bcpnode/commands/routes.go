package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes <addr>",
		Short: "Show one node's routing table",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			addr, err := parseTopoAddr(args[0])
			if err != nil {
				return err
			}
			n := network.Node(addr)
			if n == nil {
				return fmt.Errorf("%w: %s", errUnknownNode, args[0])
			}
			out, err := formatRoutes(n.Table.Snapshot(), n.Queue.Len(), outputFormat)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}
