// Package hopcount implements the bootstrap hop-count flood
// (hop_counter.c): the sink advertises hop_count=1 after a random settle
// delay, and every other node rebroadcasts one more than the shortest hop
// count it has heard from a neighbor, so the whole network learns its
// distance to the sink before steady-state forwarding begins.
package hopcount

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/bcpnet/gobcp/internal/routing"
	"github.com/bcpnet/gobcp/internal/wire"
)

// Broadcaster is the minimal medium capability the flood needs.
type Broadcaster interface {
	Broadcast(ctx context.Context, frame []byte) error
}

// Config controls the bootstrap flood's timing.
type Config struct {
	// MaxSettleDelay bounds the random jitter before a node's first
	// advertisement, spreading the flood's initial burst across the
	// network instead of every node transmitting at once.
	MaxSettleDelay time.Duration
	// Window is how long after its first send a node keeps
	// rebroadcasting improved hop counts before the bootstrap phase
	// closes (close_phase in hop_counter.c).
	Window time.Duration
	// RebroadcastInterval is how often a non-sink node re-checks its
	// table for an improved shortest path while the flood is open.
	RebroadcastInterval time.Duration
}

// Runner drives one node's participation in the bootstrap flood.
type Runner struct {
	self   wire.NodeAddr
	sink   bool
	table  *routing.Table
	medium Broadcaster
	cfg    Config
	logger *slog.Logger

	recvCh chan hopFrame
}

type hopFrame struct {
	hopCount int
	from     wire.NodeAddr
}

// NewRunner creates a bootstrap flood runner for one node.
func NewRunner(self wire.NodeAddr, sink bool, table *routing.Table, medium Broadcaster, cfg Config, logger *slog.Logger) *Runner {
	return &Runner{
		self:   self,
		sink:   sink,
		table:  table,
		medium: medium,
		cfg:    cfg,
		logger: logger.With(slog.String("node", self.String())),
		recvCh: make(chan hopFrame, 32),
	}
}

// Deliver hands a hop-count frame overheard on the broadcast medium to the
// runner. Safe to call from any goroutine; frames are dropped if the
// runner's buffer is full.
func (r *Runner) Deliver(body []byte, from wire.NodeAddr) {
	m, err := wire.UnmarshalHopCounter(body)
	if err != nil {
		return
	}
	select {
	case r.recvCh <- hopFrame{hopCount: int(m.HopCount), from: from}:
	default:
	}
}

// Run executes the bootstrap flood and returns once its window has
// closed. Until then it records every hop count it hears in the node's
// routing table; frames delivered after Run returns are not read.
func (r *Runner) Run(ctx context.Context) {
	delay := time.Duration(rand.Int64N(int64(r.cfg.MaxSettleDelay) + 1)) //nolint:gosec // G404: bootstrap jitter is not security-sensitive
	settleTimer := time.NewTimer(delay)
	defer settleTimer.Stop()

	var closeTimer *time.Timer
	var rebroadcastTimer *time.Timer
	sentOnce := false

	for {
		select {
		case <-ctx.Done():
			return

		case hf := <-r.recvCh:
			r.table.UpdateHopCount(hf.from, hf.hopCount)

		case <-settleTimer.C:
			r.sendInitial()
			sentOnce = true
			closeTimer = time.NewTimer(r.cfg.Window)
			defer closeTimer.Stop()
			if !r.sink {
				rebroadcastTimer = time.NewTimer(r.cfg.RebroadcastInterval)
				defer rebroadcastTimer.Stop()
			}

		case <-timerChan(closeTimer):
			r.logger.Debug("bootstrap flood window closed")
			return

		case <-timerChan(rebroadcastTimer):
			if sentOnce && !r.sink {
				r.sendRebroadcast()
				rebroadcastTimer.Reset(r.cfg.RebroadcastInterval)
			}
		}
	}
}

// timerChan returns t.C, or a nil channel (which blocks forever in a
// select) if t has not been created yet.
func timerChan(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (r *Runner) sendInitial() {
	hop := 1
	if !r.sink {
		if _, found, ok := r.table.FindShortestPath(); ok {
			hop = found + 1
		}
	}
	r.broadcast(hop)
}

func (r *Runner) sendRebroadcast() {
	_, hop, ok := r.table.FindShortestPath()
	if !ok {
		return
	}
	r.broadcast(hop + 1)
}

func (r *Runner) broadcast(hop int) {
	buf := make([]byte, 1+2)
	buf[0] = byte(wire.PacketTypeHopCounter)
	if _, err := wire.MarshalHopCounter(wire.HopCounterMsg{HopCount: uint16(hop)}, buf[1:]); err != nil { //nolint:gosec // G115: hop counts stay well under 65535
		r.logger.Error("marshal hop counter failed", slog.String("error", err.Error()))
		return
	}
	if err := r.medium.Broadcast(context.Background(), buf); err != nil {
		r.logger.Warn("hop counter broadcast failed", slog.String("error", err.Error()))
	}
}
