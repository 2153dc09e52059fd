package sim

import (
	"context"
	"log/slog"
	"time"

	"github.com/bcpnet/gobcp/internal/fusion"
	"github.com/bcpnet/gobcp/internal/hopcount"
	"github.com/bcpnet/gobcp/internal/lpm"
	"github.com/bcpnet/gobcp/internal/queue"
	"github.com/bcpnet/gobcp/internal/routing"
	"github.com/bcpnet/gobcp/internal/sensing"
	"github.com/bcpnet/gobcp/internal/wire"
)

// NodeConfig bundles everything needed to stand up one simulated node:
// identity, sizing, timer periods, and the energy model's tuning. It
// mirrors the shape of config.Config but stays independent of the koanf
// tags so callers can build it directly in code (tests) or translate it
// from a loaded config.Config (the daemon).
type NodeConfig struct {
	Self wire.NodeAddr
	Sink bool

	MaxPacketQueueSize  int
	MaxRoutingTableSize int
	MaxUserPacketSize   int

	Conn routing.Config
	Hop  hopcount.Config
	LPM  lpm.Config
	Fuse fusion.Config

	SensingV      int32
	SensingRateMax int32
}

// Node wires together one node's full stack: connection, routing table,
// hop-count bootstrap runner, energy-aware fusion coordinator, local power
// manager, and sensing-rate controller. All state lives on this struct, not
// in package globals, so a sim.Network can run any number of these
// concurrently without interference.
type Node struct {
	cfg NodeConfig

	Queue   *queue.Queue
	Table   *routing.Table
	Conn    *routing.Connection
	LPM     *lpm.Manager
	Sensing *sensing.Controller
	Fusion  *fusion.Coordinator
	Hop     *hopcount.Runner

	link *Link
}

// NewNode builds a Node and registers it on medium under cfg.Self. The node
// does nothing until Run is called.
func NewNode(cfg NodeConfig, medium *Medium, logger *slog.Logger, opts ...routing.Option) (*Node, error) {
	link := medium.NewLink(cfg.Self)

	q := queue.New(cfg.MaxPacketQueueSize)
	table := routing.NewTable(cfg.MaxRoutingTableSize)

	pm := lpm.NewManager(cfg.LPM)
	sc := sensing.NewController(cfg.SensingV, cfg.SensingRateMax)
	coordinator := fusion.NewCoordinator(cfg.Fuse, pm, sc)

	connCfg := cfg.Conn
	connCfg.Self = cfg.Self
	connCfg.Sink = cfg.Sink
	connCfg.MaxUserPacketSize = cfg.MaxUserPacketSize

	allOpts := append([]routing.Option{
		routing.WithExtender(coordinator),
		routing.WithEstimator(coordinator),
	}, opts...)

	conn, err := routing.NewConnection(connCfg, q, table, link, logger, allOpts...)
	if err != nil {
		return nil, err
	}

	hopRunner := hopcount.NewRunner(cfg.Self, cfg.Sink, table, link, cfg.Hop, logger)

	n := &Node{
		cfg:     cfg,
		Queue:   q,
		Table:   table,
		Conn:    conn,
		LPM:     pm,
		Sensing: sc,
		Fusion:  coordinator,
		Hop:     hopRunner,
		link:    link,
	}
	medium.Register(cfg.Self, n)
	return n, nil
}

// DeliverBroadcast implements sim.UnicastReceiver, demultiplexing
// hop-counter frames to the bootstrap runner and everything else to the
// connection.
func (n *Node) DeliverBroadcast(frame []byte, from wire.NodeAddr) {
	if len(frame) < 1 {
		return
	}
	if wire.PacketType(frame[0]) == wire.PacketTypeHopCounter {
		n.Hop.Deliver(frame[1:], from)
		return
	}
	n.Conn.DeliverBroadcast(frame, from)
}

// DeliverUnicast implements sim.UnicastReceiver; only the connection
// receives unicast traffic (acks).
func (n *Node) DeliverUnicast(frame []byte, from wire.NodeAddr) {
	n.Conn.DeliverUnicast(frame, from)
}

// Run starts the bootstrap hop-count flood, then the connection's event
// loop and this node's per-slot energy accounting, blocking until ctx is
// cancelled.
func (n *Node) Run(ctx context.Context) {
	n.Hop.Run(ctx)

	slotTicker := time.NewTicker(n.cfg.Conn.SlotDuration)
	defer slotTicker.Stop()

	connDone := make(chan struct{})
	go func() {
		defer close(connDone)
		n.Conn.Run(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			<-connDone
			return
		case <-slotTicker.C:
			n.Fusion.NewSlot(n.Table, n.Queue.Len())
		}
	}
}

// Send originates a new application payload at this node.
func (n *Node) Send(ctx context.Context, payload []byte) error {
	return n.Conn.Send(ctx, payload)
}
