package sim

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/bcpnet/gobcp/internal/wire"
)

// Network runs a fixed set of simulated nodes over a shared Medium, the
// generalization of bfd.Manager's multi-session registry to multiple
// independent node goroutines (spec.md §5's concurrency model: one
// goroutine per node, no shared mutable state between them besides the
// medium itself).
type Network struct {
	Medium *Medium
	Nodes  map[wire.NodeAddr]*Node
}

// NewNetwork creates an empty fully-connected Network. Use
// NewNetworkWithTopology for a restricted adjacency.
func NewNetwork() *Network {
	return &Network{Medium: NewMedium(), Nodes: make(map[wire.NodeAddr]*Node)}
}

// NewNetworkWithTopology creates a Network whose medium only delivers
// between adjacent nodes per the given adjacency list.
func NewNetworkWithTopology(adjacency map[wire.NodeAddr][]wire.NodeAddr) *Network {
	return &Network{Medium: NewMediumWithTopology(adjacency), Nodes: make(map[wire.NodeAddr]*Node)}
}

// AddNode builds and registers a node on this network.
func (net *Network) AddNode(cfg NodeConfig, logger *slog.Logger) (*Node, error) {
	n, err := NewNode(cfg, net.Medium, logger)
	if err != nil {
		return nil, err
	}
	net.Nodes[cfg.Self] = n
	return n, nil
}

// Node looks up a previously added node by address.
func (net *Network) Node(addr wire.NodeAddr) *Node {
	return net.Nodes[addr]
}

// Run starts every node's goroutine via an errgroup.Group and blocks until
// ctx is cancelled or a node's goroutine returns an error. Node.Run never
// returns an error on its own (it only stops on context cancellation), so
// in practice Run blocks until ctx.Done and then returns the group's
// (always nil) wait result.
func (net *Network) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, n := range net.Nodes {
		n := n
		g.Go(func() error {
			n.Run(gctx)
			return nil
		})
	}
	return g.Wait()
}
