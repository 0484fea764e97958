package node

import (
	"sync/atomic"
	"time"
)

// counters holds the hot-path tallies. Atomics keep the packet pipeline
// free of the node mutex.
type counters struct {
	packetsSent      atomic.Uint64
	packetsReceived  atomic.Uint64
	packetsForwarded atomic.Uint64
	packetsDropped   atomic.Uint64
	bytesSent        atomic.Uint64
	bytesReceived    atomic.Uint64
}

// Stats is a point-in-time snapshot of node activity, shaped for the
// gateway's status endpoint.
type Stats struct {
	State            string    `json:"state"`
	Address          string    `json:"address"`
	PacketsSent      uint64    `json:"packets_sent"`
	PacketsReceived  uint64    `json:"packets_received"`
	PacketsForwarded uint64    `json:"packets_forwarded"`
	PacketsDropped   uint64    `json:"packets_dropped"`
	BytesSent        uint64    `json:"bytes_sent"`
	BytesReceived    uint64    `json:"bytes_received"`
	Peers            int       `json:"peers"`
	Routes           int       `json:"routes"`
	StartedAt        time.Time `json:"started_at"`
	UptimeSeconds    float64   `json:"uptime_seconds"`
}

// GetStats snapshots the counters and gauges. Safe to call in any state;
// a stopped node reports zero uptime.
func (n *Node) GetStats() Stats {
	n.mu.RLock()
	startedAt := n.startedAt
	n.mu.RUnlock()

	state := n.State()
	s := Stats{
		State:            state.String(),
		Address:          n.addr.String(),
		PacketsSent:      n.stats.packetsSent.Load(),
		PacketsReceived:  n.stats.packetsReceived.Load(),
		PacketsForwarded: n.stats.packetsForwarded.Load(),
		PacketsDropped:   n.stats.packetsDropped.Load(),
		BytesSent:        n.stats.bytesSent.Load(),
		BytesReceived:    n.stats.bytesReceived.Load(),
		Peers:            n.peers.Count(),
		Routes:           n.router.Len(),
	}
	if state == StateRunning {
		s.StartedAt = time.UnixMilli(startedAt).UTC()
		s.UptimeSeconds = n.clock.Now().Sub(s.StartedAt).Seconds()
	}
	return s
}
