// Package packet implements the fixed 64-byte mesh packet header, typed
// extensions and payload conventions shared by every node and transport.
package packet

import (
	"encoding/binary"
	"time"

	"github.com/ipv7net/mesh/pkg/address"
)

// Type identifies what a packet carries.
type Type uint8

const (
	TypeData         Type = 0x01
	TypeControl      Type = 0x02
	TypeRouteRequest Type = 0x03
	TypeRouteReply   Type = 0x04
	TypeAnnounce     Type = 0x05
	TypeHeartbeat    Type = 0x06
	TypeError        Type = 0x07
	TypeAck          Type = 0x08
)

// String returns the type name for logs.
func (t Type) String() string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeControl:
		return "CONTROL"
	case TypeRouteRequest:
		return "ROUTE_REQUEST"
	case TypeRouteReply:
		return "ROUTE_REPLY"
	case TypeAnnounce:
		return "ANNOUNCE"
	case TypeHeartbeat:
		return "HEARTBEAT"
	case TypeError:
		return "ERROR"
	case TypeAck:
		return "ACK"
	default:
		return "UNKNOWN"
	}
}

const (
	// ProtocolVersion is the only header version this codec accepts.
	ProtocolVersion = 1

	// HeaderSize is the fixed header length in bytes.
	HeaderSize = 64

	// MaxPacketSize bounds the full serialized packet.
	MaxPacketSize = 65535

	// MaxPayloadSize is what fits next to a bare header.
	MaxPayloadSize = MaxPacketSize - HeaderSize
)

// TTL defaults per packet class.
const (
	DefaultTTL   = 32
	MaxTTL       = 64
	AnnounceTTL  = 4
	HeartbeatTTL = 1
)

// Header flags.
const (
	// FlagAckRequested asks the receiver to acknowledge a DATA packet.
	FlagAckRequested uint16 = 0x0001
	// FlagRelayed is set by the first forwarder.
	FlagRelayed uint16 = 0x0002
)

// ERROR payload codes.
const (
	ErrCodeNoRoute     uint16 = 0x0001
	ErrCodeTTLExceeded uint16 = 0x0002
	ErrCodeMalformed   uint16 = 0x0003
)

// Extension is one typed header extension.
type Extension struct {
	Type  uint8
	Value []byte
}

// Packet is the in-memory form of one mesh packet. Once a packet is in
// flight the only legal header mutation is DecrementTTL; forwarders may
// additionally set FlagRelayed before the first hop out.
type Packet struct {
	Version     uint8
	Type        Type
	Flags       uint16
	TTL         uint8
	FlowLabel   uint32 // 24-bit on the wire
	Source      address.Address
	Destination address.Address
	Sequence    uint32
	Timestamp   time.Time
	Extensions  []Extension
	Payload     []byte
}

// Options tunes New beyond the required fields. Zero values pick the
// defaults: TypeData, DefaultTTL, a fresh timestamp.
type Options struct {
	Type       Type
	TTL        uint8
	FlowLabel  uint32
	Flags      uint16
	Sequence   uint32
	Timestamp  time.Time
	Extensions []Extension
}

// New builds a packet, clamping TTL to MaxTTL and filling defaults.
func New(src, dst address.Address, payload []byte, opts Options) *Packet {
	ttl := opts.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}

	typ := opts.Type
	if typ == 0 {
		typ = TypeData
	}

	ts := opts.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return &Packet{
		Version:     ProtocolVersion,
		Type:        typ,
		Flags:       opts.Flags,
		TTL:         ttl,
		FlowLabel:   opts.FlowLabel & 0xFFFFFF,
		Source:      src,
		Destination: dst,
		Sequence:    opts.Sequence,
		Timestamp:   ts,
		Extensions:  opts.Extensions,
		Payload:     payload,
	}
}

// NewData builds a DATA packet with the default TTL.
func NewData(src, dst address.Address, payload []byte, seq uint32) *Packet {
	return New(src, dst, payload, Options{Type: TypeData, Sequence: seq})
}

// NewControl builds a CONTROL packet.
func NewControl(src, dst address.Address, payload []byte, seq uint32) *Packet {
	return New(src, dst, payload, Options{Type: TypeControl, Sequence: seq})
}

// NewRouteRequest builds an empty-payload discovery packet flooded toward
// target with the maximum TTL.
func NewRouteRequest(src, target address.Address, seq uint32) *Packet {
	return New(src, target, nil, Options{Type: TypeRouteRequest, TTL: MaxTTL, Sequence: seq})
}

// NewRouteReply builds a reply whose payload is the hop list serialized
// destination-first.
func NewRouteReply(src, dst address.Address, hops []address.Address, seq uint32) *Packet {
	payload := make([]byte, 0, len(hops)*address.Size)
	for _, hop := range hops {
		buf := hop.Serialize()
		payload = append(payload, buf[:]...)
	}
	return New(src, dst, payload, Options{Type: TypeRouteReply, Sequence: seq})
}

// NewAnnounce builds a broadcast presence packet. Capabilities travel as a
// one-byte payload; endpoints and the full-precision geohash ride in
// extensions.
func NewAnnounce(src address.Address, capabilities byte, endpoints []string, geohash string, seq uint32) (*Packet, error) {
	p := New(src, address.Broadcast(), []byte{capabilities}, Options{
		Type:     TypeAnnounce,
		TTL:      AnnounceTTL,
		Sequence: seq,
	})
	if len(endpoints) > 0 {
		if err := p.SetEndpoints(endpoints); err != nil {
			return nil, err
		}
	}
	if geohash != "" {
		p.SetGeohash(geohash)
	}
	return p, nil
}

// NewHeartbeat builds a single-hop liveness packet.
func NewHeartbeat(src, dst address.Address, seq uint32) *Packet {
	return New(src, dst, nil, Options{Type: TypeHeartbeat, TTL: HeartbeatTTL, Sequence: seq})
}

// NewAck acknowledges the given sequence number.
func NewAck(src, dst address.Address, ackedSeq, seq uint32) *Packet {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, ackedSeq)
	return New(src, dst, payload, Options{Type: TypeAck, Sequence: seq})
}

// NewError builds an ERROR packet carrying a protocol error code and
// optional detail bytes.
func NewError(src, dst address.Address, code uint16, detail []byte, seq uint32) *Packet {
	payload := make([]byte, 2+len(detail))
	binary.BigEndian.PutUint16(payload, code)
	copy(payload[2:], detail)
	return New(src, dst, payload, Options{Type: TypeError, Sequence: seq})
}

// DecrementTTL consumes one hop. It returns false, leaving the packet
// unchanged, when no hops remain.
func (p *Packet) DecrementTTL() bool {
	if p.TTL <= 1 {
		return false
	}
	p.TTL--
	return true
}

// IsExpired reports whether the packet was created more than maxAge ago.
func (p *Packet) IsExpired(maxAge time.Duration) bool {
	return time.Since(p.Timestamp) > maxAge
}
