package node

import (
	"time"

	"go.uber.org/zap"

	"github.com/ipv7net/mesh/pkg/logging"
	"github.com/ipv7net/mesh/pkg/peer"
)

// EventKind names an observable node occurrence.
type EventKind string

const (
	EventPeerAdded      EventKind = "peer_added"
	EventPeerRemoved    EventKind = "peer_removed"
	EventPacketSent     EventKind = "packet_sent"
	EventPacketReceived EventKind = "packet_received"
)

// Event is one observable occurrence, shaped for the gateway's websocket
// stream. Fields that do not apply to a kind are omitted.
type Event struct {
	Kind       EventKind `json:"kind"`
	Timestamp  time.Time `json:"timestamp"`
	Peer       string    `json:"peer,omitempty"`
	PacketType string    `json:"packet_type,omitempty"`
	Endpoint   string    `json:"endpoint,omitempty"`
}

// OnEvent registers a subscriber for node events. Subscribers run
// synchronously on the emitting goroutine and must not block.
func (n *Node) OnEvent(fn func(Event)) {
	n.mu.Lock()
	n.subscribers = append(n.subscribers, fn)
	n.mu.Unlock()
}

func (n *Node) publish(ev Event) {
	n.mu.RLock()
	subs := n.subscribers
	n.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// peerEvents bridges peer table membership changes onto the node's event
// stream and keeps link bindings in step with the table.
type peerEvents struct{ n *Node }

func (pe peerEvents) PeerAdded(info peer.Info) {
	pe.n.publish(Event{
		Kind:      EventPeerAdded,
		Timestamp: pe.n.clock.Now(),
		Peer:      info.Address.ShortString(),
	})
}

func (pe peerEvents) PeerRemoved(info peer.Info) {
	pe.n.forgetNeighbor(info.Address)
	pe.n.publish(Event{
		Kind:      EventPeerRemoved,
		Timestamp: pe.n.clock.Now(),
		Peer:      info.Address.ShortString(),
	})
	pe.n.logger.ComponentDebug(logging.ComponentPeer, "Peer removed from table",
		zap.String("peer", info.Address.ShortString()))
}
