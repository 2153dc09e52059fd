package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var errUnknownNode = errors.New("unknown node address")

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <addr> <payload>",
		Short: "Originate a payload at a node",
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
			if err := n.Send(context.Background(), []byte(args[1])); err != nil {
				return fmt.Errorf("send from %s: %w", args[0], err)
			}
			fmt.Printf("queued %d bytes at %s\n", len(args[1]), args[0])
			return nil
		},
	}
}
