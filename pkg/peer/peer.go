// Package peer maintains the table of known mesh peers: who they are,
// how to reach them, when they were last heard from and how well they
// have behaved.
package peer

import (
	"strings"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/ipv7net/mesh/pkg/address"
)

// Capability is the bitset a node advertises in its announcements.
type Capability uint8

const (
	// CapRelay marks a node willing to forward packets for others.
	CapRelay Capability = 0x01
	// CapMultipath marks a node that accepts traffic over several paths.
	CapMultipath Capability = 0x02
	// CapStorage marks a node offering content storage to the mesh.
	CapStorage Capability = 0x04
	// CapGateway marks a node bridging to external networks.
	CapGateway Capability = 0x08
)

// Has reports whether all bits of c are set.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// String renders the set bits for logs, "none" when empty.
func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	var names []string
	if c.Has(CapRelay) {
		names = append(names, "relay")
	}
	if c.Has(CapMultipath) {
		names = append(names, "multipath")
	}
	if c.Has(CapStorage) {
		names = append(names, "storage")
	}
	if c.Has(CapGateway) {
		names = append(names, "gateway")
	}
	return strings.Join(names, "|")
}

// Reputation bounds. New peers start in the middle and move with
// observed behavior; the score never leaves the range.
const (
	MinReputation     = 0
	MaxReputation     = 100
	InitialReputation = 50
)

// Info is everything the table knows about one peer.
type Info struct {
	// Address is the peer's mesh address and table key.
	Address address.Address
	// PublicKey verifies the address digest when the peer shared it.
	// Nil for peers learned only from relayed traffic.
	PublicKey crypto.PubKey
	// LastSeen is the last time any packet arrived from this peer.
	LastSeen time.Time
	// Capabilities is the bitset from the peer's latest announcement.
	Capabilities Capability
	// Endpoints lists transport endpoints in the peer's preferred order.
	Endpoints []string
	// Reputation is the local behavior score in [MinReputation, MaxReputation].
	Reputation int
	// Geohash is the peer's full-precision location, "" when withheld.
	Geohash string
}

// Observer receives table membership changes. Callbacks fire
// synchronously on the goroutine that mutated the table, before the
// mutating call returns.
type Observer interface {
	PeerAdded(info Info)
	PeerRemoved(info Info)
}
