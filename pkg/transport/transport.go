// Package transport defines the byte-moving boundary of the mesh. A
// transport delivers opaque serialized packets between named endpoints
// and reports link-level connectivity; parsing, routing and retrying
// all live above it.
//
// Endpoint strings are scheme-prefixed: "mem://name" for the in-process
// hub, "tcp://host:port" and "udp://host:port" for plain sockets, and
// multiaddrs ending in /p2p/<id> for the libp2p swarm.
package transport

import "context"

// PacketHandler receives one serialized packet and the endpoint it
// arrived from. Handlers run on transport goroutines and must not
// block for long.
type PacketHandler func(data []byte, from string)

// ConnHandler observes link-level connectivity. Connected fires when a
// transport can name a live remote endpoint, Disconnected when that
// endpoint is gone. Datagram transports may only ever report Connected.
type ConnHandler interface {
	PeerConnected(endpoint string)
	PeerDisconnected(endpoint string)
}

// Transport moves serialized packets. Implementations are safe for
// concurrent Send calls once Start has returned.
type Transport interface {
	// Start binds sockets and begins delivering inbound packets to the
	// registered handler. The context bounds startup work only.
	Start(ctx context.Context) error

	// Close tears down all links and stops delivery. Idempotent.
	Close() error

	// Send delivers one serialized packet to the named endpoint. It is
	// best-effort: a nil return means the bytes were handed to the
	// network, not that the remote node got them.
	Send(ctx context.Context, data []byte, endpoint string) error

	// LocalEndpoints returns the endpoints remote nodes can use to
	// reach this transport, most useful first.
	LocalEndpoints() []string

	// SetPacketHandler registers the inbound packet callback. Call
	// before Start.
	SetPacketHandler(h PacketHandler)

	// SetConnHandler registers the connectivity callback. Call before
	// Start.
	SetConnHandler(h ConnHandler)
}

// MaxFrameSize bounds a single packet frame on every transport. It
// matches the largest serialized packet the codec will produce.
const MaxFrameSize = 65535
