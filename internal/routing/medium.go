package routing

import (
	"context"

	"github.com/bcpnet/gobcp/internal/wire"
)

// Medium abstracts the shared wireless channel a Connection transmits on.
// Broadcast frames are overheard by every neighbor (used for beacons, data,
// beacon requests, hop-count advertisements); Unicast is reserved for acks,
// which do not need to be overheard. This mirrors PacketSender's role in
// decoupling the connection state machine from real radio I/O so it can be
// driven by an in-memory medium in tests.
type Medium interface {
	Broadcast(ctx context.Context, frame []byte) error
	Unicast(ctx context.Context, to wire.NodeAddr, frame []byte) error
}
