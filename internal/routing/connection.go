package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bcpnet/gobcp/internal/queue"
	"github.com/bcpnet/gobcp/internal/wire"
)

// Config holds the parameters a Connection needs that are not already
// captured by its Queue, Table, or Medium: this node's own identity and
// the timer periods that drive its send/retransmit/beacon cadence
// (bcp-config.h's SLOT_DURATION/BEACON_TIME/SEND_TIME_DELAY/RETX_TIME).
type Config struct {
	Self              wire.NodeAddr
	Sink              bool
	MaxUserPacketSize int

	SlotDuration      time.Duration
	BeaconTime        time.Duration
	SendTimeDelay     time.Duration
	RetxTime          time.Duration
	CheckInterval     time.Duration
	ForwardablePeriod time.Duration
}

// ReceiveCallback is invoked when a data item reaches its final
// destination (this connection is in Sink mode and the item is not a
// pass-through forward).
type ReceiveCallback func(origin wire.NodeAddr, payload []byte)

// SentCallback is invoked each time the item at the top of the queue has
// been acknowledged by its next hop, whether this connection originated it
// or is forwarding it.
type SentCallback func(item *queue.Item)

// MetricsReporter receives counters from a running Connection. A nil
// reporter is replaced with a no-op implementation, matching the optional
// MetricsReporter wiring pattern used elsewhere in this codebase.
type MetricsReporter interface {
	IncPacketsSent()
	IncPacketsReceived()
	IncAcksReceived()
	IncPacketsDropped()
	SetQueueLength(n int)
	SetForwardableNeighbors(n int)
}

type noopMetrics struct{}

func (noopMetrics) IncPacketsSent()             {}
func (noopMetrics) IncPacketsReceived()         {}
func (noopMetrics) IncAcksReceived()            {}
func (noopMetrics) IncPacketsDropped()          {}
func (noopMetrics) SetQueueLength(int)          {}
func (noopMetrics) SetForwardableNeighbors(int) {}

// Sentinel errors.
var (
	ErrPayloadTooLarge = errors.New("routing: payload exceeds configured maximum")
	ErrQueueFull       = errors.New("routing: send queue is full")
	ErrClosed          = errors.New("routing: connection is closed")
)

// Option configures optional Connection parameters.
type Option func(*Connection)

// WithExtender attaches an Extender (e.g. the fusion coordinator).
func WithExtender(e Extender) Option {
	return func(c *Connection) {
		if e != nil {
			c.extender = e
		}
	}
}

// WithEstimator overrides the default backpressure-only WeightEstimator.
func WithEstimator(w WeightEstimator) Option {
	return func(c *Connection) {
		if w != nil {
			c.estimator = w
		}
	}
}

// WithReceiveCallback registers the callback invoked when this (sink) node
// accepts a data item addressed to it.
func WithReceiveCallback(cb ReceiveCallback) Option {
	return func(c *Connection) { c.onReceive = cb }
}

// WithSentCallback registers the callback invoked when a queued item,
// locally originated or forwarded, is acknowledged by its next hop.
func WithSentCallback(cb SentCallback) Option {
	return func(c *Connection) { c.onSent = cb }
}

// WithMetrics attaches a MetricsReporter.
func WithMetrics(m MetricsReporter) Option {
	return func(c *Connection) {
		if m != nil {
			c.metrics = m
		}
	}
}

// recvFrame carries a received wire frame and the neighbor it was heard
// from, tagged with whether it arrived on the broadcast or unicast
// channel (only acks travel unicast).
type recvFrame struct {
	frame     []byte
	from      wire.NodeAddr
	broadcast bool
}

// sendRequest carries a locally originated payload into the connection
// goroutine, with a channel to report back whether it was accepted onto
// the send queue.
type sendRequest struct {
	payload []byte
	result  chan error
}

// Connection is one node's BCP forwarding engine: a single goroutine that
// owns a packet queue and a neighbor table, periodically beacons its queue
// length, forwards the queue's top item toward the neighbor with the
// highest backpressure weight, retransmits on a timer until acknowledged,
// and answers broadcast traffic overheard from neighbors. It is the direct
// analogue of bcp.c's connection object and send-timer state machine.
//
// All mutable send-path state belongs to the connection goroutine started
// by Run; external callers only ever go through Send, recv delivery
// methods, and the table/queue snapshot accessors, all of which are safe
// for concurrent use.
type Connection struct {
	cfg       Config
	q         *queue.Queue
	table     *Table
	estimator WeightEstimator
	extender  Extender
	medium    Medium
	logger    *slog.Logger
	metrics   MetricsReporter

	onReceive ReceiveCallback
	onSent    SentCallback

	recvCh chan recvFrame
	sendCh chan sendRequest
	doneCh chan struct{}

	busy       bool
	txAttempts int
	nextHop    wire.NodeAddr

	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	acksReceived    atomic.Uint64
	packetsDropped  atomic.Uint64
}

const (
	recvChSize = 32
	sendChSize = 8
)

// NewConnection builds a Connection. The returned connection does nothing
// until Run is called.
func NewConnection(cfg Config, q *queue.Queue, table *Table, medium Medium, logger *slog.Logger, opts ...Option) (*Connection, error) {
	if cfg.MaxUserPacketSize <= 0 {
		return nil, fmt.Errorf("routing: max user packet size must be > 0")
	}
	if medium == nil {
		return nil, fmt.Errorf("routing: medium must not be nil")
	}

	c := &Connection{
		cfg:       cfg,
		q:         q,
		table:     table,
		estimator: BasicEstimator{},
		extender:  NopExtender{},
		medium:    medium,
		metrics:   noopMetrics{},
		logger:    logger.With(slog.String("node", cfg.Self.String())),
		recvCh:    make(chan recvFrame, recvChSize),
		sendCh:    make(chan sendRequest, sendChSize),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Self returns this connection's own address.
func (c *Connection) Self() wire.NodeAddr { return c.cfg.Self }

// Table returns the neighbor table backing this connection, for
// diagnostics (bcpnode routes).
func (c *Connection) Table() *Table { return c.table }

// Queue returns the send queue backing this connection, for diagnostics.
func (c *Connection) Queue() *queue.Queue { return c.q }

// PacketsSent, PacketsReceived, AcksReceived, and PacketsDropped report
// running counters. Safe for concurrent use.
func (c *Connection) PacketsSent() uint64     { return c.packetsSent.Load() }
func (c *Connection) PacketsReceived() uint64 { return c.packetsReceived.Load() }
func (c *Connection) AcksReceived() uint64    { return c.acksReceived.Load() }
func (c *Connection) PacketsDropped() uint64  { return c.packetsDropped.Load() }

// DeliverBroadcast hands a frame overheard on the broadcast medium to the
// connection. Safe to call from any goroutine (e.g. the transport's
// receive loop). Frames are dropped if the connection's receive buffer is
// full rather than blocking the caller.
func (c *Connection) DeliverBroadcast(frame []byte, from wire.NodeAddr) {
	c.deliver(recvFrame{frame: frame, from: from, broadcast: true})
}

// DeliverUnicast hands a frame addressed directly to this node (an ack) to
// the connection.
func (c *Connection) DeliverUnicast(frame []byte, from wire.NodeAddr) {
	c.deliver(recvFrame{frame: frame, from: from, broadcast: false})
}

func (c *Connection) deliver(rf recvFrame) {
	select {
	case c.recvCh <- rf:
	default:
		c.logger.Debug("recv channel full, dropping frame")
	}
}

// Send hands a new application payload to the connection for transmission.
// It blocks until the payload has been accepted onto the send queue or
// rejected (oversized, queue full, or connection closed).
func (c *Connection) Send(ctx context.Context, payload []byte) error {
	if len(payload) > c.cfg.MaxUserPacketSize {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), c.cfg.MaxUserPacketSize)
	}
	req := sendRequest{payload: payload, result: make(chan error, 1)}
	select {
	case c.sendCh <- req:
	case <-c.doneCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.result:
		return err
	case <-c.doneCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the connection goroutine. Run returns once the underlying
// context is cancelled; Close only unblocks callers waiting in Send.
func (c *Connection) Close() {
	select {
	case <-c.doneCh:
	default:
		close(c.doneCh)
	}
}

// Run is the connection's event loop. It blocks until ctx is cancelled.
func (c *Connection) Run(ctx context.Context) {
	beaconTimer := time.NewTimer(c.cfg.BeaconTime)
	defer beaconTimer.Stop()
	sendTimer := time.NewTimer(c.cfg.SendTimeDelay)
	defer sendTimer.Stop()
	checkTimer := time.NewTimer(c.cfg.CheckInterval)
	defer checkTimer.Stop()
	forwardableTimer := time.NewTimer(c.cfg.ForwardablePeriod)
	defer forwardableTimer.Stop()

	// retxTimer only runs while busy; parked (stopped, drained) otherwise.
	retxTimer := time.NewTimer(c.cfg.RetxTime)
	retxTimer.Stop()
	defer retxTimer.Stop()

	c.logger.Info("connection started", slog.Bool("sink", c.cfg.Sink))
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("connection stopped")
			return

		case req := <-c.sendCh:
			req.result <- c.handleSendRequest(req.payload)

		case rf := <-c.recvCh:
			if rf.broadcast {
				c.handleBroadcastFrame(rf.frame, rf.from)
			} else {
				c.handleUnicastFrame(rf.frame, rf.from, retxTimer)
			}

		case <-beaconTimer.C:
			c.handleBeaconTimer()
			beaconTimer.Reset(c.cfg.BeaconTime)

		case <-sendTimer.C:
			c.handleSendTimer(retxTimer)
			sendTimer.Reset(c.cfg.SendTimeDelay)

		case <-retxTimer.C:
			c.handleRetxTimer(retxTimer)

		case <-checkTimer.C:
			c.handleCheckTimer()
			checkTimer.Reset(c.cfg.CheckInterval)

		case <-forwardableTimer.C:
			c.table.TickForwardable()
			c.metrics.SetForwardableNeighbors(c.countForwardable())
			forwardableTimer.Reset(c.cfg.ForwardablePeriod)
		}
	}
}

func (c *Connection) countForwardable() int {
	n := 0
	for _, nb := range c.table.Snapshot() {
		if nb.Forwardable >= 1 {
			n++
		}
	}
	return n
}

// handleSendRequest stamps a new local item and pushes it onto the queue
// (push_packet_to_queue, preceded by the extender's onUserRequest hook so
// fusion can assign a correlation ID before the item ever reaches the
// queue).
func (c *Connection) handleSendRequest(payload []byte) error {
	item := &queue.Item{
		Header: wire.Header{
			Origin:          c.cfg.Self,
			LastProcessTime: uint32(time.Now().Unix()), //nolint:gosec // G115: wraps in ~2106, acceptable for a relative delay timestamp
		},
		Payload: append([]byte(nil), payload...),
	}
	c.extender.OnUserRequest(item)
	if err := c.q.Push(item); err != nil {
		c.metrics.IncPacketsDropped()
		c.packetsDropped.Add(1)
		return fmt.Errorf("%w", ErrQueueFull)
	}
	c.metrics.SetQueueLength(c.q.Len())
	return nil
}

// handleBeaconTimer advertises this node's queue length when it has
// nothing pending to send. A node with queued data piggybacks its queue
// length on the data frame itself instead (handleSendTimer), so a
// standalone beacon is only needed while idle.
func (c *Connection) handleBeaconTimer() {
	if c.q.Len() > 0 {
		return
	}
	buf := make([]byte, 1+2)
	buf[0] = byte(wire.PacketTypeBeacon)
	if _, err := wire.MarshalBeacon(wire.BeaconMsg{QueueLog: uint16(c.q.Len())}, buf[1:]); err != nil { //nolint:gosec // G115: queue length bounded well under 65535
		c.logger.Error("marshal beacon failed", slog.String("error", err.Error()))
		return
	}
	if err := c.medium.Broadcast(context.Background(), buf); err != nil {
		c.logger.Warn("beacon broadcast failed", slog.String("error", err.Error()))
	}
}

// handleSendTimer is the core forwarding decision, made once per
// SendTimeDelay tick: ask the extender to run any pending aggregation,
// then try to move the top of the queue toward the best-weighted
// forwardable neighbor (send_packet in bcp.c). A sink never forwards, so
// on a sink this tick does nothing.
func (c *Connection) handleSendTimer(retxTimer *time.Timer) {
	if c.cfg.Sink {
		return
	}
	if c.busy {
		return // a send is already outstanding; the retx timer owns retries
	}

	c.extender.PrepareDataPacket(c.q)

	top := c.q.Top()
	if top == nil {
		return
	}

	next, ok := c.table.FindRouting(c.estimator, c.q.Len())
	if !ok {
		return // no usable neighbor yet; wait for beacons to populate the table
	}

	if !c.extender.BeforeSending(top) {
		return // vetoed this tick, e.g. energy budget exhausted
	}

	c.transmit(top, next, retxTimer)
}

func (c *Connection) transmit(item *queue.Item, next wire.NodeAddr, retxTimer *time.Timer) {
	item.Header.NextHop = next
	item.Header.BackpressureDiff = uint16(c.q.Len()) //nolint:gosec // G115: queue length bounded well under 65535
	item.Header.PacketLength = uint16(len(item.Payload)) //nolint:gosec // G115: bounded by MaxUserPacketSize well under 65535

	frame, err := c.marshalData(item)
	if err != nil {
		c.logger.Error("marshal data item failed", slog.String("error", err.Error()))
		return
	}

	if err := c.medium.Broadcast(context.Background(), frame); err != nil {
		c.logger.Warn("data broadcast failed", slog.String("error", err.Error()))
		return
	}
	c.penalizeNextHop(next)

	c.extender.AfterSending(item)
	c.packetsSent.Add(1)
	c.metrics.IncPacketsSent()

	c.busy = true
	c.nextHop = next
	c.txAttempts = 1
	resetRetx(retxTimer, c.cfg.RetxTime)
}

// marshalData encodes item as a fixed-size wire frame: the payload is
// zero-padded out to MaxUserPacketSize bytes (spec.md §6's
// payload[MAX_USER_PACKET_SIZE], mirroring the original's fixed-size
// `char pk[dm->hdr.packet_length]` copy), since UnmarshalFusionDataItem on
// the receiving end always decodes exactly that many payload bytes.
// item.Header.PacketLength carries the real (unpadded) length so the
// receiver can trim back to it.
func (c *Connection) marshalData(item *queue.Item) ([]byte, error) {
	if len(item.Payload) > c.cfg.MaxUserPacketSize {
		return nil, fmt.Errorf("%w: payload %d bytes exceeds max %d", ErrPayloadTooLarge, len(item.Payload), c.cfg.MaxUserPacketSize)
	}

	fh := wire.FusionHeader{Header: item.Header, Fused: item.Fused, CID: item.CID}
	padded := make([]byte, c.cfg.MaxUserPacketSize)
	copy(padded, item.Payload)

	buf := make([]byte, 1+wire.FusionHeaderSize+len(padded))
	buf[0] = byte(wire.PacketTypeData)
	if _, err := wire.MarshalFusionDataItem(wire.FusionDataItem{FusionHeader: fh, Payload: padded}, buf[1:]); err != nil {
		return nil, err
	}
	return buf, nil
}

// handleRetxTimer retransmits the outstanding top item (retransmit_callback
// in bcp.c: RETX_TIME * (tx_attempts+1), an additive backoff). Each retry
// re-runs FindRouting, and every attempt raises the chosen neighbor's
// stored queue log by 5, so a neighbor that keeps failing to ack loses
// weight and the item can move to an alternative next hop. Retries are
// unbounded: there is no max-retries cap and no dead-letter path.
func (c *Connection) handleRetxTimer(retxTimer *time.Timer) {
	if !c.busy {
		return
	}
	top := c.q.Top()
	if top == nil {
		c.busy = false
		return
	}

	if next, ok := c.table.FindRouting(c.estimator, c.q.Len()); ok {
		top.Header.NextHop = next
		c.nextHop = next
	}

	frame, err := c.marshalData(top)
	if err != nil {
		c.logger.Error("marshal retx failed", slog.String("error", err.Error()))
		return
	}
	if err := c.medium.Broadcast(context.Background(), frame); err != nil {
		c.logger.Warn("retx broadcast failed", slog.String("error", err.Error()))
	} else {
		c.penalizeNextHop(c.nextHop)
	}
	c.txAttempts++
	backoff := time.Duration(c.txAttempts) * c.cfg.RetxTime
	resetRetx(retxTimer, backoff)
}

// handleCheckTimer is the periodic watchdog (check_bcp): if there is no
// forwardable neighbor, solicit one with a beacon request.
func (c *Connection) handleCheckTimer() {
	if c.countForwardable() > 0 {
		return
	}
	frame := []byte{byte(wire.PacketTypeBeaconRequest)}
	if err := c.medium.Broadcast(context.Background(), frame); err != nil {
		c.logger.Warn("beacon request broadcast failed", slog.String("error", err.Error()))
	}
}

// handleUnicastFrame processes an ack addressed directly to this node
// (recv_from_unicast).
func (c *Connection) handleUnicastFrame(frame []byte, from wire.NodeAddr, retxTimer *time.Timer) {
	if len(frame) < 1 || wire.PacketType(frame[0]) != wire.PacketTypeAck {
		return
	}
	ack, err := wire.UnmarshalAck(frame[1:])
	if err != nil {
		c.logger.Debug("malformed ack", slog.String("error", err.Error()))
		return
	}

	c.packetsReceived.Add(1)
	c.metrics.IncPacketsReceived()
	c.acksReceived.Add(1)
	c.metrics.IncAcksReceived()

	if !c.busy {
		return
	}
	top := c.q.Top()
	if top == nil || top.Origin != ack.Origin || top.LastProcessTime != ack.LastProcessTime {
		return // stale or mismatched ack
	}

	stopRetx(retxTimer)
	c.busy = false
	c.txAttempts = 0
	c.q.Pop()
	c.metrics.SetQueueLength(c.q.Len())

	// recv_from_unicast's "credit neighbor backpressure" correction
	// (bcp.c:138-139): a successful ack is read as evidence the neighbor
	// processed the item, so its assumed queue log is nudged down,
	// making it look more attractive for the next routing decision.
	if cur := c.table.Find(from); cur != nil && cur.QueueLog > 5 {
		c.table.UpdateQueueLog(from, cur.QueueLog-5, false)
	}

	if c.onSent != nil {
		c.onSent(top)
	}
}

// handleBroadcastFrame processes a frame overheard on the shared medium
// (recv_from_broadcast): beacons refresh the neighbor table; a beacon
// request is answered through handleBeaconTimer, which beacons only while
// this node's queue is empty; data frames are accepted only by their
// addressed NextHop, which then either delivers locally (sink) or
// re-queues for forwarding and acks the sender.
func (c *Connection) handleBroadcastFrame(frame []byte, from wire.NodeAddr) {
	if len(frame) < 1 {
		return
	}
	ptype := wire.PacketType(frame[0])
	body := frame[1:]

	switch ptype {
	case wire.PacketTypeBeacon:
		c.handleBeaconFrame(body, from)
	case wire.PacketTypeBeaconRequest:
		c.handleBeaconTimer() // answer with our own beacon if our queue is empty
	case wire.PacketTypeData:
		c.handleDataFrame(body, from)
	default:
		c.logger.Debug("ignoring frame of unexpected type on broadcast channel",
			slog.String("type", ptype.String()))
	}
}

func (c *Connection) handleBeaconFrame(body []byte, from wire.NodeAddr) {
	m, err := wire.UnmarshalBeacon(body)
	if err != nil {
		c.logger.Debug("malformed beacon", slog.String("error", err.Error()))
		return
	}
	c.packetsReceived.Add(1)
	c.metrics.IncPacketsReceived()
	c.table.UpdateQueueLog(from, int(m.QueueLog), false)
}

// handleDataFrame mirrors recv_from_broadcast's data branch (bcp.c:216-291):
// the isData-true queue-log update and the unicast ack are only emitted
// after a successful bcp_queue_push (bcp.c:236, inside if(itm != NULL));
// the sink-delivery and overheard branches both update with isData=false
// (bcp.c:272, bcp.c:291) and never withhold the ack on the sink path, since
// a sink has no forwarding queue to fill.
func (c *Connection) handleDataFrame(body []byte, from wire.NodeAddr) {
	item, err := wire.UnmarshalFusionDataItem(body, c.cfg.MaxUserPacketSize)
	if err != nil {
		c.logger.Debug("malformed data frame", slog.String("error", err.Error()))
		return
	}
	if int(item.PacketLength) <= len(item.Payload) {
		item.Payload = item.Payload[:item.PacketLength]
	}

	c.packetsReceived.Add(1)
	c.metrics.IncPacketsReceived()

	if item.NextHop != c.cfg.Self {
		c.table.UpdateQueueLog(from, int(item.BackpressureDiff), false)
		return // overheard, not addressed to us
	}

	qItem := &queue.Item{Header: item.Header, Payload: item.Payload, Fused: item.Fused, CID: item.CID}
	qItem.Header.NextHop = wire.NodeAddr{}
	c.extender.OnReceiving(qItem)

	if c.cfg.Sink {
		c.table.UpdateQueueLog(from, int(item.BackpressureDiff), false)
		c.ack(from, item.Header)
		if c.onReceive != nil {
			c.onReceive(qItem.Origin, qItem.Payload)
		}
		return
	}

	if err := c.q.Push(qItem); err != nil {
		c.packetsDropped.Add(1)
		c.metrics.IncPacketsDropped()
		c.logger.Warn("forwarding queue full, dropping forwarded item")
		return // queue full: no ack, no table update — sender must retry and may reroute
	}
	c.metrics.SetQueueLength(c.q.Len())
	c.table.UpdateQueueLog(from, int(item.BackpressureDiff), true)
	c.ack(from, item.Header)
}

// penalizeNextHop is send_packet's optimistic correction: every attempt
// raises the chosen neighbor's stored queue log by 5 ahead of its ack,
// which handleUnicastFrame credits back.
func (c *Connection) penalizeNextHop(next wire.NodeAddr) {
	if cur := c.table.Find(next); cur != nil {
		c.table.UpdateQueueLog(next, cur.QueueLog+5, false)
	}
}

func (c *Connection) ack(to wire.NodeAddr, h wire.Header) {
	buf := make([]byte, 1+wire.AckMsgSize)
	buf[0] = byte(wire.PacketTypeAck)
	if _, err := wire.MarshalAck(wire.AckMsg{Origin: h.Origin, LastProcessTime: h.LastProcessTime}, buf[1:]); err != nil {
		c.logger.Error("marshal ack failed", slog.String("error", err.Error()))
		return
	}
	if err := c.medium.Unicast(context.Background(), to, buf); err != nil {
		c.logger.Warn("ack unicast failed", slog.String("error", err.Error()))
	}
}

func resetRetx(t *time.Timer, d time.Duration) {
	stopRetx(t)
	t.Reset(d)
}

func stopRetx(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
