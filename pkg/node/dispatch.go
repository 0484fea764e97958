package node

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ipv7net/mesh/pkg/address"
	"github.com/ipv7net/mesh/pkg/config"
	"github.com/ipv7net/mesh/pkg/logging"
	"github.com/ipv7net/mesh/pkg/packet"
	"github.com/ipv7net/mesh/pkg/peer"
)

// enqueueFrame hands an inbound frame to the processing loop without
// blocking the transport's read goroutine. Overflow is counted and
// dropped; a mesh node sheds load before it stalls a socket.
func (n *Node) enqueueFrame(data []byte, from string) {
	select {
	case n.inbox <- frame{data: data, from: from}:
	default:
		n.stats.packetsDropped.Add(1)
	}
}

// connEvents adapts transport connectivity callbacks onto the loop.
type connEvents struct{ n *Node }

func (c connEvents) PeerConnected(endpoint string) {
	select {
	case c.n.connCh <- connEvent{endpoint: endpoint, up: true}:
	default:
	}
}

func (c connEvents) PeerDisconnected(endpoint string) {
	select {
	case c.n.connCh <- connEvent{endpoint: endpoint, up: false}:
	default:
	}
}

// run is the processing loop. All protocol state changes happen here, one
// event at a time.
func (n *Node) run(stopCh chan struct{}) {
	defer n.wg.Done()

	heartbeat := n.clock.Ticker(n.cfg.Mesh.HeartbeatInterval)
	defer heartbeat.Stop()
	announce := n.clock.Ticker(n.cfg.Mesh.AnnounceInterval)
	defer announce.Stop()

	// One immediate announcement so freshly bootstrapped peers hear us
	// before the first tick.
	n.announceTick()

	for {
		select {
		case <-stopCh:
			return
		case f := <-n.inbox:
			n.handleFrame(f)
		case ev := <-n.connCh:
			n.handleConnEvent(ev)
		case <-heartbeat.C:
			n.heartbeatTick()
		case <-announce.C:
			n.announceTick()
		}
	}
}

// handleFrame runs the inbound pipeline: stats, neighbor binding, passive
// route learning, liveness refresh, duplicate suppression, then local
// dispatch or relay.
func (n *Node) handleFrame(f frame) {
	n.stats.packetsReceived.Add(1)
	n.stats.bytesReceived.Add(uint64(len(f.data)))

	p, err := packet.Deserialize(f.data)
	if err != nil {
		n.stats.packetsDropped.Add(1)
		n.logger.ComponentDebug(logging.ComponentPacket, "Dropping malformed frame",
			zap.String("from", f.from), zap.Error(err))
		return
	}

	// Flood copies of our own packets come back; never process them.
	if p.Source.Equal(n.addr) {
		n.stats.packetsDropped.Add(1)
		return
	}

	n.publish(Event{
		Kind:       EventPacketReceived,
		Timestamp:  n.clock.Now(),
		Peer:       p.Source.ShortString(),
		PacketType: p.Type.String(),
		Endpoint:   f.from,
	})

	// A packet nobody relayed yet came straight from its source, which
	// pins the source to this link.
	if p.Flags&packet.FlagRelayed == 0 {
		n.bindNeighbor(f.from, p.Source)
	}

	// Reverse path: the source is reachable via whichever neighbor owns
	// the arrival link.
	if neighbor, ok := n.neighborFor(f.from); ok {
		n.router.LearnRoute(p, neighbor)
	}

	n.peers.UpdatePeer(p.Source)

	// Duplicates refresh liveness above but are never dispatched or
	// relayed twice.
	key := dedupKey{id: p.Source.NodeID(), seq: p.Sequence}
	if _, seen := n.dedup.Get(key); seen {
		n.stats.packetsDropped.Add(1)
		return
	}
	n.dedup.Add(key, n.clock.Now().UnixMilli())

	// Discovery has its own path: a node that knows the target answers,
	// everyone else floods the request on.
	if p.Type == packet.TypeRouteRequest {
		n.handleRouteRequest(p, f)
		return
	}

	forUs := p.Destination.Equal(n.addr)
	broadcast := p.Destination.IsBroadcast()

	if forUs || broadcast {
		n.dispatchLocal(p, f)
	}
	if forUs {
		return
	}

	if !n.cfg.Mesh.EnableRelay {
		if !broadcast {
			n.stats.packetsDropped.Add(1)
		}
		return
	}

	if broadcast {
		n.reflood(p, f.from)
		return
	}
	n.relay(p, f)
}

// dispatchLocal handles a packet addressed to this node (or broadcast) by
// type.
func (n *Node) dispatchLocal(p *packet.Packet, f frame) {
	switch p.Type {
	case packet.TypeData:
		n.mu.RLock()
		deliver := n.onMessage
		n.mu.RUnlock()
		if deliver != nil {
			deliver(p.Source, p.Payload)
		}
		if p.Flags&packet.FlagAckRequested != 0 {
			n.acknowledge(p, f)
		}

	case packet.TypeAnnounce:
		n.handleAnnounce(p, f)

	case packet.TypeHeartbeat:
		// Liveness refresh already happened in the pipeline.

	case packet.TypeRouteReply:
		via, ok := n.neighborFor(f.from)
		if !ok {
			via = p.Source
		}
		if err := n.router.ProcessRouteReply(p, via); err != nil {
			n.stats.packetsDropped.Add(1)
			n.logger.ComponentDebug(logging.ComponentRouter, "Discarding malformed route reply",
				zap.String("from", p.Source.ShortString()), zap.Error(err))
			return
		}
		n.logger.ComponentDebug(logging.ComponentRouter, "Route reply processed",
			zap.String("from", p.Source.ShortString()), zap.Int("routes", n.router.Len()))

	case packet.TypeAck:
		acked, err := packet.ParseAck(p.Payload)
		if err != nil {
			n.stats.packetsDropped.Add(1)
			return
		}
		n.mu.RLock()
		onAck := n.onAck
		n.mu.RUnlock()
		if onAck != nil {
			onAck(p.Source, acked)
		}

	case packet.TypeError:
		if code, _, err := packet.ParseError(p.Payload); err == nil {
			n.logger.ComponentWarn(logging.ComponentNode, "Peer reported error",
				zap.String("peer", p.Source.ShortString()), zap.Uint16("code", code))
		}

	case packet.TypeControl:
		// Reserved for future control exchanges.

	default:
		// Unrecognized types are ignored, not faulted.
		n.stats.packetsDropped.Add(1)
	}
}

// handleAnnounce folds an announcement into the peer table: capability
// bitset from the payload, endpoints and fine-grained geohash from the
// extensions. A first direct contact is answered with our own
// announcement so both tables converge.
func (n *Node) handleAnnounce(p *packet.Packet, f frame) {
	endpoints, err := p.Endpoints()
	if err != nil {
		n.stats.packetsDropped.Add(1)
		n.logger.ComponentDebug(logging.ComponentPeer, "Discarding malformed announce",
			zap.String("from", p.Source.ShortString()), zap.Error(err))
		return
	}

	relayed := p.Flags&packet.FlagRelayed != 0
	if !relayed {
		// The link we heard the peer on outranks whatever it advertises.
		endpoints = prependEndpoint(endpoints, f.from)
	}

	var caps peer.Capability
	if len(p.Payload) > 0 {
		caps = peer.Capability(p.Payload[0])
	}
	hash, _ := p.Geohash()

	isNew := n.peers.AddPeer(peer.Info{
		Address:      p.Source,
		LastSeen:     n.clock.Now(),
		Capabilities: caps,
		Endpoints:    endpoints,
		Geohash:      hash,
	})
	if !isNew {
		return
	}

	n.logger.ComponentInfo(logging.ComponentPeer, "Peer discovered",
		zap.String("peer", p.Source.ShortString()),
		zap.String("capabilities", caps.String()),
		zap.Strings("endpoints", endpoints),
	)

	if !relayed {
		if reply, err := n.newAnnounce(); err == nil {
			_ = n.sendPacket(context.Background(), reply, f.from)
		}
	}
}

// handleRouteRequest answers discovery when this node can, otherwise
// floods the request onward within its TTL budget.
func (n *Node) handleRouteRequest(p *packet.Packet, f frame) {
	if reply := n.router.ProcessRouteRequest(p, n.nextSeq()); reply != nil {
		reply.Timestamp = n.clock.Now()
		endpoint, ok := n.resolveEndpoint(p.Source)
		if !ok {
			endpoint = f.from
		}
		_ = n.sendPacket(context.Background(), reply, endpoint)
		return
	}

	if !n.cfg.Mesh.EnableRelay {
		n.stats.packetsDropped.Add(1)
		return
	}
	n.reflood(p, f.from)
}

// acknowledge answers a DATA packet that asked for one.
func (n *Node) acknowledge(p *packet.Packet, f frame) {
	ack := packet.NewAck(n.addr, p.Source, p.Sequence, n.nextSeq())
	ack.Timestamp = n.clock.Now()

	endpoint, ok := n.resolveEndpoint(p.Source)
	if !ok {
		endpoint = f.from
	}
	_ = n.sendPacket(context.Background(), ack, endpoint)
}

// relay forwards a transit packet toward its destination. TTL exhaustion
// and missing routes are silent drops; buffering for delayed delivery is
// not this protocol's job.
func (n *Node) relay(p *packet.Packet, f frame) {
	if !p.DecrementTTL() {
		n.stats.packetsDropped.Add(1)
		n.logger.ComponentDebug(logging.ComponentRouter, "TTL expired in transit",
			zap.String("source", p.Source.ShortString()),
			zap.String("destination", p.Destination.ShortString()),
		)
		return
	}

	endpoint, ok := n.resolveEndpoint(p.Destination)
	if !ok {
		n.stats.packetsDropped.Add(1)
		n.logger.ComponentDebug(logging.ComponentRouter, "No route for transit packet",
			zap.String("destination", p.Destination.ShortString()))
		return
	}

	p.Flags |= packet.FlagRelayed
	if err := n.sendPacket(context.Background(), p, endpoint); err == nil {
		n.stats.packetsForwarded.Add(1)
	}
}

// reflood re-floods a broadcast or discovery packet to every neighbor
// except the link it arrived on.
func (n *Node) reflood(p *packet.Packet, origin string) {
	if !p.DecrementTTL() {
		n.stats.packetsDropped.Add(1)
		return
	}

	p.Flags |= packet.FlagRelayed
	if err := n.flood(context.Background(), p, origin); err == nil {
		n.stats.packetsForwarded.Add(1)
	}
}

// flood serializes p once and sends it to every known neighbor endpoint
// except exclude. Failures are aggregated but do not stop the fan-out.
func (n *Node) flood(ctx context.Context, p *packet.Packet, exclude string) error {
	data, err := p.Serialize()
	if err != nil {
		return err
	}

	var errs error
	sent := 0
	for _, endpoint := range n.neighborEndpoints() {
		if endpoint == exclude {
			continue
		}
		if err := n.transport.Send(ctx, data, endpoint); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		sent++
		n.stats.packetsSent.Add(1)
		n.stats.bytesSent.Add(uint64(len(data)))
	}

	if sent > 0 {
		n.publish(Event{
			Kind:       EventPacketSent,
			Timestamp:  n.clock.Now(),
			Peer:       p.Destination.ShortString(),
			PacketType: p.Type.String(),
		})
	}
	return errs
}

// requestRoute floods a bounded ROUTE_REQUEST toward the peers closest to
// dst. The reply, if any, installs a route for a later retry.
func (n *Node) requestRoute(ctx context.Context, dst address.Address) {
	req := packet.NewRouteRequest(n.addr, dst, n.nextSeq())
	req.Timestamp = n.clock.Now()

	data, err := req.Serialize()
	if err != nil {
		return
	}

	for _, info := range n.peers.FindClosest(dst, discoveryFanout) {
		if len(info.Endpoints) == 0 {
			continue
		}
		if err := n.transport.Send(ctx, data, info.Endpoints[0]); err != nil {
			continue
		}
		n.stats.packetsSent.Add(1)
		n.stats.bytesSent.Add(uint64(len(data)))
	}

	n.logger.ComponentDebug(logging.ComponentRouter, "Route discovery fired",
		zap.String("destination", dst.ShortString()))
}

// heartbeatTick evicts peers past the timeout, expires stale routes and
// dedup entries, then heartbeats the survivors.
func (n *Node) heartbeatTick() {
	for _, info := range n.peers.EvictExpired(n.cfg.Mesh.PeerTimeout) {
		n.logger.ComponentInfo(logging.ComponentPeer, "Peer timed out",
			zap.String("peer", info.Address.ShortString()),
			zap.Time("last_seen", info.LastSeen),
		)
	}

	for _, route := range n.router.EvictStale(n.cfg.Mesh.RouteTTL) {
		n.logger.ComponentDebug(logging.ComponentRouter, "Route expired",
			zap.String("destination", route.Destination.ShortString()))
	}

	n.pruneDedup()

	for _, info := range n.peers.All() {
		if len(info.Endpoints) == 0 {
			continue
		}
		hb := packet.NewHeartbeat(n.addr, info.Address, n.nextSeq())
		hb.Timestamp = n.clock.Now()
		_ = n.sendPacket(context.Background(), hb, info.Endpoints[0])
	}
}

// announceTick floods this node's announcement to the current neighbors.
func (n *Node) announceTick() {
	if n.peers.Count() == 0 {
		return
	}

	p, err := n.newAnnounce()
	if err != nil {
		n.logger.ComponentWarn(logging.ComponentNode, "Skipping announcement", zap.Error(err))
		return
	}
	if err := n.flood(context.Background(), p, ""); err != nil {
		n.logger.ComponentDebug(logging.ComponentNode, "Announce flood incomplete", zap.Error(err))
	}
}

// handleConnEvent reacts to link-level connectivity. A lost link removes
// the peer bound to it; the table observer purges its routes.
func (n *Node) handleConnEvent(ev connEvent) {
	if ev.up {
		n.logger.ComponentDebug(logging.ComponentTransport, "Link up", zap.String("endpoint", ev.endpoint))
		return
	}

	n.mu.Lock()
	bound, ok := n.neighbors[ev.endpoint]
	delete(n.neighbors, ev.endpoint)
	n.mu.Unlock()

	n.logger.ComponentDebug(logging.ComponentTransport, "Link down", zap.String("endpoint", ev.endpoint))
	if !ok {
		return
	}

	if n.peers.RemovePeer(bound) {
		n.logger.ComponentInfo(logging.ComponentPeer, "Peer disconnected",
			zap.String("peer", bound.ShortString()),
			zap.String("endpoint", ev.endpoint),
		)
	}
}

// pruneDedup forgets suppression entries older than the route TTL; a
// sequence that old can no longer loop.
func (n *Node) pruneDedup() {
	cutoff := n.clock.Now().Add(-n.cfg.Mesh.RouteTTL).UnixMilli()
	for _, key := range n.dedup.Keys() {
		if at, ok := n.dedup.Peek(key); ok && at < cutoff {
			n.dedup.Remove(key)
		}
	}
}

// bindNeighbor pins a direct peer to the link it was heard on.
func (n *Node) bindNeighbor(endpoint string, addr address.Address) {
	if addr.IsBroadcast() {
		return
	}
	n.mu.Lock()
	n.neighbors[endpoint] = addr
	n.mu.Unlock()
}

// neighborFor returns the peer bound to a link endpoint.
func (n *Node) neighborFor(endpoint string) (address.Address, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	addr, ok := n.neighbors[endpoint]
	return addr, ok
}

// forgetNeighbor drops any link bindings for a departed peer.
func (n *Node) forgetNeighbor(addr address.Address) {
	n.mu.Lock()
	for endpoint, bound := range n.neighbors {
		if bound.Equal(addr) {
			delete(n.neighbors, endpoint)
		}
	}
	n.mu.Unlock()
}

// neighborEndpoints returns every endpoint a flood should reach: the
// preferred endpoint of each table peer plus any bound links that have
// not announced yet.
func (n *Node) neighborEndpoints() []string {
	seen := make(map[string]struct{})
	var out []string

	for _, info := range n.peers.All() {
		if len(info.Endpoints) == 0 {
			continue
		}
		if _, dup := seen[info.Endpoints[0]]; dup {
			continue
		}
		seen[info.Endpoints[0]] = struct{}{}
		out = append(out, info.Endpoints[0])
	}

	n.mu.RLock()
	for endpoint := range n.neighbors {
		if _, dup := seen[endpoint]; dup {
			continue
		}
		seen[endpoint] = struct{}{}
		out = append(out, endpoint)
	}
	n.mu.RUnlock()

	return out
}

// prependEndpoint puts endpoint first, dropping a duplicate further down.
func prependEndpoint(endpoints []string, endpoint string) []string {
	out := make([]string, 0, len(endpoints)+1)
	out = append(out, endpoint)
	for _, ep := range endpoints {
		if ep != endpoint {
			out = append(out, ep)
		}
	}
	return out
}

// capabilitiesFromConfig packs the configured capability switches into
// the wire bitset.
func capabilitiesFromConfig(c config.CapabilityConfig) peer.Capability {
	var caps peer.Capability
	if c.Relay {
		caps |= peer.CapRelay
	}
	if c.Multipath {
		caps |= peer.CapMultipath
	}
	if c.Storage {
		caps |= peer.CapStorage
	}
	if c.Gateway {
		caps |= peer.CapGateway
	}
	return caps
}
