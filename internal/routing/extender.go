package routing

import "github.com/bcpnet/gobcp/internal/queue"

// Extender lets a side feature observe and veto a Connection's queue
// traffic without the core connection needing to know about it. It mirrors
// the five-hook bcp_extender struct in bcp_extend.h/fusion.c, which is how
// the energy-aware fusion feature is layered on top of plain BCP forwarding
// without modifying bcp.c itself.
//
// A Connection with no Extender configured behaves like plain BCP: every
// hook is a no-op, BeforeSending always allows the send.
type Extender interface {
	// OnUserRequest is called when the local application hands a new
	// packet to the connection, before it is pushed onto the send queue.
	// Implementations may stamp bookkeeping fields (fusion.c's
	// onUserRequest stamps a correlation ID and clears the fused flag).
	OnUserRequest(item *queue.Item)

	// PrepareDataPacket is called on each send-timer tick of a non-sink
	// connection that has no send outstanding, before the top-of-queue
	// item (if any) is considered for transmission. Fusion
	// uses this hook to run its per-slot aggregation pass
	// (performFusion) so coalesced items are already queued by the time
	// BeforeSending is asked about them.
	PrepareDataPacket(q *queue.Queue)

	// BeforeSending is asked to approve sending item. Returning false
	// vetoes the send for this tick (fusion.c's beforeSending refuses
	// when the per-slot sending energy budget is exhausted).
	BeforeSending(item *queue.Item) bool

	// AfterSending is called once a send attempt has gone out on the
	// medium, whether or not it is later acknowledged.
	AfterSending(item *queue.Item)

	// OnReceiving is called for every data item the connection accepts
	// off the broadcast medium, before it is queued for forwarding or
	// delivered locally. Fusion uses this to reset the fused flag on
	// freshly-received fusion packets (onReceiving).
	OnReceiving(item *queue.Item)
}

// NopExtender is the zero-value Extender: every hook is a no-op and
// BeforeSending always approves. Connections use this when no extension
// is configured.
type NopExtender struct{}

func (NopExtender) OnUserRequest(*queue.Item)      {}
func (NopExtender) PrepareDataPacket(*queue.Queue) {}
func (NopExtender) BeforeSending(*queue.Item) bool { return true }
func (NopExtender) AfterSending(*queue.Item)       {}
func (NopExtender) OnReceiving(*queue.Item)        {}
