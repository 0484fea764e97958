// Package router keeps the forwarding table and answers the flooding
// route discovery exchange. It decides where packets go next; moving
// them is the transport's job.
package router

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ipv7net/mesh/pkg/address"
	"github.com/ipv7net/mesh/pkg/packet"
	"github.com/ipv7net/mesh/pkg/peer"
)

// Route is one forwarding entry: to reach Destination, hand the packet
// to the NextHop neighbor. Metric counts hops to the destination.
type Route struct {
	Destination address.Address `json:"destination"`
	NextHop     address.Address `json:"next_hop"`
	Metric      int             `json:"metric"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Router holds routes keyed by destination identifier. One route per
// destination: lower metric wins, equal metric prefers the fresher
// entry. Safe for concurrent use.
type Router struct {
	mu     sync.RWMutex
	self   address.Address
	routes map[address.NodeID]Route
	peers  *peer.Table
	clock  clock.Clock
}

// NewRouter builds an empty forwarding table for the node at self.
// Direct peers from the table answer discovery even before any route is
// learned. A nil clk falls back to the wall clock.
func NewRouter(self address.Address, peers *peer.Table, clk clock.Clock) *Router {
	if clk == nil {
		clk = clock.New()
	}
	return &Router{
		self:   self,
		routes: make(map[address.NodeID]Route),
		peers:  peers,
		clock:  clk,
	}
}

// Install offers a route. It wins over an existing entry on lower
// metric, or on equal metric because it is fresher. Routes to self, to
// the broadcast sentinel or with an unusable next hop are rejected.
func (r *Router) Install(route Route) bool {
	if route.Destination.Equal(r.self) || route.Destination.IsBroadcast() {
		return false
	}
	if route.NextHop.IsBroadcast() || route.Metric < 1 {
		return false
	}
	if route.UpdatedAt.IsZero() {
		route.UpdatedAt = r.clock.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.routes[route.Destination.NodeID()]
	if ok && route.Metric > existing.Metric {
		return false
	}
	r.routes[route.Destination.NodeID()] = route
	return true
}

// LearnRoute records passively that p's source is reachable via the
// neighbor the packet arrived from. Install's metric policy keeps a
// better existing route in place.
func (r *Router) LearnRoute(p *packet.Packet, from address.Address) bool {
	if p.Source.Equal(r.self) || p.Source.IsBroadcast() || from.IsBroadcast() {
		return false
	}
	return r.Install(Route{
		Destination: p.Source,
		NextHop:     from,
		Metric:      1,
		UpdatedAt:   r.clock.Now(),
	})
}

// FindRoute returns the entry for dst, if any.
func (r *Router) FindRoute(dst address.Address) (Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[dst.NodeID()]
	return route, ok
}

// ProcessRouteRequest answers a discovery packet when this node is the
// target, has a route to it, or counts it as a direct peer. Returns the
// ROUTE_REPLY to send back to the requester, or nil when this node
// cannot help and the request should flood on.
func (r *Router) ProcessRouteRequest(p *packet.Packet, seq uint32) *packet.Packet {
	target := p.Destination
	if target.IsBroadcast() || p.Source.Equal(r.self) {
		return nil
	}

	if target.Equal(r.self) {
		return packet.NewRouteReply(r.self, p.Source, []address.Address{r.self}, seq)
	}

	_, known := r.FindRoute(target)
	if !known && r.peers != nil {
		_, known = r.peers.Get(target)
	}
	if !known {
		return nil
	}
	return packet.NewRouteReply(r.self, p.Source, []address.Address{target, r.self}, seq)
}

// ProcessRouteReply installs one route per hop in the reply. Hops come
// destination-first, so hop i of n is n-i hops away, all reached via
// the neighbor that delivered the reply.
func (r *Router) ProcessRouteReply(p *packet.Packet, from address.Address) error {
	hops, err := packet.ParseRouteReplyHops(p.Payload)
	if err != nil {
		return err
	}

	now := r.clock.Now()
	n := len(hops)
	for i, hop := range hops {
		if hop.Equal(r.self) || hop.IsBroadcast() {
			continue
		}
		r.Install(Route{
			Destination: hop,
			NextHop:     from,
			Metric:      n - i,
			UpdatedAt:   now,
		})
	}
	return nil
}

// HandlePeerDisconnect purges every route through the lost neighbor and
// returns how many were dropped. Destinations become unreachable until
// rediscovered.
func (r *Router) HandlePeerDisconnect(addr address.Address) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for id, route := range r.routes {
		if route.NextHop.Equal(addr) {
			delete(r.routes, id)
			dropped++
		}
	}
	return dropped
}

// EvictStale drops routes not refreshed within maxAge and returns them.
func (r *Router) EvictStale(maxAge time.Duration) []Route {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []Route
	for id, route := range r.routes {
		if now.Sub(route.UpdatedAt) > maxAge {
			evicted = append(evicted, route)
			delete(r.routes, id)
		}
	}
	return evicted
}

// AllRoutes returns every entry ordered by destination identifier.
func (r *Router) AllRoutes() []Route {
	r.mu.RLock()
	out := make([]Route, 0, len(r.routes))
	for _, route := range r.routes {
		out = append(out, route)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Destination.NodeID(), out[j].Destination.NodeID()
		return bytes.Compare(a[:], b[:]) < 0
	})
	return out
}

// Len returns the number of installed routes.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// PeerAdded implements peer.Observer; membership gains need no routing
// action.
func (r *Router) PeerAdded(peer.Info) {}

// PeerRemoved implements peer.Observer by purging routes through the
// departed peer, keeping both tables consistent.
func (r *Router) PeerRemoved(info peer.Info) {
	r.HandlePeerDisconnect(info.Address)
}
