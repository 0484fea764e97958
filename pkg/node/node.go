// Package node wires the address, packet, peer and routing layers into a
// running mesh participant. One Node owns one transport, one peer table
// and one forwarding table; every inbound frame and timer tick is handled
// by a single processing loop so the protocol state never needs caller
// locking.
package node

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ipv7net/mesh/pkg/address"
	"github.com/ipv7net/mesh/pkg/config"
	"github.com/ipv7net/mesh/pkg/errors"
	"github.com/ipv7net/mesh/pkg/geo"
	"github.com/ipv7net/mesh/pkg/identity"
	"github.com/ipv7net/mesh/pkg/logging"
	"github.com/ipv7net/mesh/pkg/packet"
	"github.com/ipv7net/mesh/pkg/peer"
	"github.com/ipv7net/mesh/pkg/router"
	"github.com/ipv7net/mesh/pkg/transport"
)

// State is the node lifecycle phase.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

const (
	// inboxDepth bounds frames waiting for the processing loop. Overflow
	// frames are dropped and counted, never blocking the transport.
	inboxDepth = 1024

	// connEventDepth bounds pending connectivity callbacks.
	connEventDepth = 64

	// dedupWindow is how many (source, sequence) pairs the duplicate
	// filter remembers.
	dedupWindow = 4096

	// discoveryFanout is how many closest peers receive a ROUTE_REQUEST
	// when a send finds no route.
	discoveryFanout = 3

	// announceGeohashPrecision is the location detail disclosed in
	// ANNOUNCE extensions, finer than the 4 characters an address packs.
	announceGeohashPrecision = 8
)

type frame struct {
	data []byte
	from string
}

type connEvent struct {
	endpoint string
	up       bool
}

type dedupKey struct {
	id  address.NodeID
	seq uint32
}

// Node is a mesh participant.
type Node struct {
	cfg      *config.Config
	logger   *logging.ColoredLogger
	clock    clock.Clock
	identity *identity.Identity
	addr     address.Address
	geohash  string // full-precision location, "" when withheld

	transport transport.Transport
	peers     *peer.Table
	router    *router.Router

	state atomic.Int32
	seq   atomic.Uint32
	stats counters

	dedup *lru.Cache[dedupKey, int64]

	inbox  chan frame
	connCh chan connEvent

	mu          sync.RWMutex
	neighbors   map[string]address.Address // endpoint -> directly connected peer
	startedAt   int64                      // unix ms, 0 when not running
	onMessage   func(from address.Address, payload []byte)
	onAck       func(from address.Address, ackedSeq uint32)
	subscribers []func(Event)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a node from its configuration, identity and transport. The
// transport must not be started; the node starts and closes it.
func New(cfg *config.Config, ident *identity.Identity, tr transport.Transport) (*Node, error) {
	return newNode(cfg, ident, tr, clock.New())
}

func newNode(cfg *config.Config, ident *identity.Identity, tr transport.Transport, clk clock.Clock) (*Node, error) {
	logger, err := logging.NewDefaultLogger(logging.ComponentNode)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	var coord *address.Coordinate
	var fullHash string
	if cfg.Node.Location.Enabled {
		coord = &address.Coordinate{
			Latitude:  cfg.Node.Location.Latitude,
			Longitude: cfg.Node.Location.Longitude,
		}
		fullHash, err = geo.Encode(cfg.Node.Location.Latitude, cfg.Node.Location.Longitude, announceGeohashPrecision)
		if err != nil {
			return nil, fmt.Errorf("failed to encode node location: %w", err)
		}
	}

	addr, err := ident.Address(coord)
	if err != nil {
		return nil, fmt.Errorf("failed to derive node address: %w", err)
	}

	dedup, err := lru.New[dedupKey, int64](dedupWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}

	peers := peer.NewTable(cfg.Mesh.MaxPeers, clk)
	rt := router.NewRouter(addr, peers, clk)

	n := &Node{
		cfg:       cfg,
		logger:    logger,
		clock:     clk,
		identity:  ident,
		addr:      addr,
		geohash:   fullHash,
		transport: tr,
		peers:     peers,
		router:    rt,
		dedup:     dedup,
		inbox:     make(chan frame, inboxDepth),
		connCh:    make(chan connEvent, connEventDepth),
		neighbors: make(map[string]address.Address),
	}

	// Route purging and event fan-out ride on table membership changes.
	peers.AddObserver(rt)
	peers.AddObserver(peerEvents{n})

	return n, nil
}

// Start brings the node up: transport first, then the processing loop and
// its timers, then background bootstrap dialing. Only an idle node starts.
func (n *Node) Start(ctx context.Context) error {
	if !n.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		return errors.NewAlreadyRunningError(n.State().String())
	}

	n.logger.ComponentInfo(logging.ComponentNode, "Starting mesh node",
		zap.String("address", n.addr.ShortString()),
		zap.String("data_dir", n.cfg.Node.DataDir),
	)

	if err := os.MkdirAll(n.cfg.Node.DataDir, 0755); err != nil {
		n.state.Store(int32(StateIdle))
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	n.transport.SetPacketHandler(n.enqueueFrame)
	n.transport.SetConnHandler(connEvents{n})

	if err := n.transport.Start(ctx); err != nil {
		n.state.Store(int32(StateIdle))
		return fmt.Errorf("failed to start transport: %w", err)
	}

	// Frames a previous run left behind must not leak into this one.
	for {
		select {
		case <-n.inbox:
			continue
		case <-n.connCh:
			continue
		default:
		}
		break
	}

	n.mu.Lock()
	n.startedAt = n.clock.Now().UnixMilli()
	n.stopCh = make(chan struct{})
	stopCh := n.stopCh
	n.mu.Unlock()

	n.wg.Add(1)
	go n.run(stopCh)

	if len(n.cfg.Transport.Bootstrap) > 0 {
		n.wg.Add(1)
		go n.bootstrap(stopCh, n.cfg.Transport.Bootstrap)
	}

	n.state.Store(int32(StateRunning))
	n.logger.ComponentInfo(logging.ComponentNode, "Mesh node started",
		zap.String("address", n.addr.String()),
		zap.Strings("endpoints", n.transport.LocalEndpoints()),
	)
	return nil
}

// Stop halts both periodic timers synchronously, then closes the
// transport. After Stop returns no further sends are attempted and the
// node is idle again.
func (n *Node) Stop() error {
	if !n.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return errors.NewNotRunningError("stop")
	}

	n.logger.ComponentInfo(logging.ComponentNode, "Stopping mesh node")

	n.mu.Lock()
	stopCh := n.stopCh
	n.startedAt = 0
	n.mu.Unlock()

	close(stopCh)
	n.wg.Wait()

	var errs error
	if err := n.transport.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("transport close: %w", err))
	}

	n.mu.Lock()
	n.neighbors = make(map[string]address.Address)
	n.mu.Unlock()

	n.state.Store(int32(StateIdle))
	n.logger.ComponentInfo(logging.ComponentNode, "Mesh node stopped")
	return errs
}

// State returns the current lifecycle phase.
func (n *Node) State() State {
	return State(n.state.Load())
}

// Address returns this node's mesh address.
func (n *Node) Address() address.Address {
	return n.addr
}

// LocalEndpoints returns the transport endpoints remote peers can dial.
func (n *Node) LocalEndpoints() []string {
	return n.transport.LocalEndpoints()
}

// GetPeers returns a snapshot of the peer table.
func (n *Node) GetPeers() []peer.Info {
	return n.peers.All()
}

// GetRoutes returns a snapshot of the forwarding table.
func (n *Node) GetRoutes() []router.Route {
	return n.router.AllRoutes()
}

// OnMessage registers the application callback for delivered DATA
// payloads. The callback runs on the processing loop; it must not block.
func (n *Node) OnMessage(fn func(from address.Address, payload []byte)) {
	n.mu.Lock()
	n.onMessage = fn
	n.mu.Unlock()
}

// OnAck registers the callback for received acknowledgments.
func (n *Node) OnAck(fn func(from address.Address, ackedSeq uint32)) {
	n.mu.Lock()
	n.onAck = fn
	n.mu.Unlock()
}

// SendOptions tunes SendWithOptions. Zero values mean DefaultTTL, no flow
// label and no acknowledgment request.
type SendOptions struct {
	TTL        uint8
	FlowLabel  uint32
	RequestAck bool
}

// Send delivers payload to dst as a DATA packet, best effort. It fails
// with NoRoute when the destination is neither routed nor a direct peer;
// when other peers are known a bounded route discovery is fired so a
// retry can succeed.
func (n *Node) Send(ctx context.Context, dst address.Address, payload []byte) error {
	return n.SendWithOptions(ctx, dst, payload, SendOptions{})
}

// SendWithOptions is Send with explicit TTL, flow label and ack control.
func (n *Node) SendWithOptions(ctx context.Context, dst address.Address, payload []byte, opts SendOptions) error {
	if n.State() != StateRunning {
		return errors.NewNotRunningError("send")
	}
	if dst.IsBroadcast() {
		return n.Broadcast(ctx, payload)
	}
	if dst.Equal(n.addr) {
		return errors.NewMalformedAddressError("destination is this node")
	}

	var flags uint16
	if opts.RequestAck {
		flags |= packet.FlagAckRequested
	}
	p := packet.New(n.addr, dst, payload, packet.Options{
		Type:      packet.TypeData,
		TTL:       opts.TTL,
		FlowLabel: opts.FlowLabel,
		Flags:     flags,
		Sequence:  n.nextSeq(),
		Timestamp: n.clock.Now(),
	})

	endpoint, ok := n.resolveEndpoint(dst)
	if !ok {
		if n.peers.Count() > 0 {
			n.requestRoute(ctx, dst)
		}
		return errors.NewNoRouteError(dst.String())
	}

	return n.sendPacket(ctx, p, endpoint)
}

// Broadcast floods payload as a DATA packet to the broadcast sentinel.
// Every reachable node delivers it once; relays re-flood within the TTL
// budget.
func (n *Node) Broadcast(ctx context.Context, payload []byte) error {
	if n.State() != StateRunning {
		return errors.NewNotRunningError("broadcast")
	}

	p := packet.New(n.addr, address.Broadcast(), payload, packet.Options{
		Type:      packet.TypeData,
		Sequence:  n.nextSeq(),
		Timestamp: n.clock.Now(),
	})
	return n.flood(ctx, p, "")
}

// ConnectToPeer introduces this node to the peer at endpoint by sending a
// unicast ANNOUNCE. The remote answers with its own announcement, at
// which point both peer tables know each other. No delivery guarantee.
func (n *Node) ConnectToPeer(ctx context.Context, endpoint string) error {
	if n.State() != StateRunning {
		return errors.NewNotRunningError("connect")
	}

	p, err := n.newAnnounce()
	if err != nil {
		return err
	}
	return n.sendPacket(ctx, p, endpoint)
}

// AddPeer inserts a peer directly, bypassing discovery. Meant for manual
// bootstrap and tests.
func (n *Node) AddPeer(info peer.Info) error {
	if info.Address.IsBroadcast() {
		return errors.NewMalformedAddressError("cannot add the broadcast sentinel as a peer")
	}
	n.peers.AddPeer(info)
	return nil
}

// nextSeq returns a fresh per-node sequence number. The counter belongs
// to this instance; nodes sharing a process never share sequences.
func (n *Node) nextSeq() uint32 {
	return n.seq.Add(1)
}

// newAnnounce builds this node's ANNOUNCE packet: capability bitset as
// payload, reachable endpoints and the fine-grained geohash as
// extensions.
func (n *Node) newAnnounce() (*packet.Packet, error) {
	p, err := packet.NewAnnounce(
		n.addr,
		byte(capabilitiesFromConfig(n.cfg.Mesh.Capabilities)),
		n.transport.LocalEndpoints(),
		n.geohash,
		n.nextSeq(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build announce: %w", err)
	}
	p.Timestamp = n.clock.Now()
	return p, nil
}

// resolveEndpoint maps a destination to the transport endpoint of the
// neighbor that should carry the packet: the installed route's next hop
// when present, otherwise the destination itself as a direct peer.
func (n *Node) resolveEndpoint(dst address.Address) (string, bool) {
	if route, ok := n.router.FindRoute(dst); ok {
		if ep, ok := n.endpointFor(route.NextHop); ok {
			return ep, true
		}
	}
	return n.endpointFor(dst)
}

// endpointFor returns a dialable endpoint for a directly known peer.
func (n *Node) endpointFor(addr address.Address) (string, bool) {
	if info, ok := n.peers.Get(addr); ok && len(info.Endpoints) > 0 {
		return info.Endpoints[0], true
	}

	// A neighbor bound to a live link may not have announced yet.
	n.mu.RLock()
	defer n.mu.RUnlock()
	for endpoint, bound := range n.neighbors {
		if bound.Equal(addr) {
			return endpoint, true
		}
	}
	return "", false
}

// sendPacket serializes p and hands it to the transport. Transport
// failures fail this send only; peer and route state stay for the next
// heartbeat cycle to reconcile.
func (n *Node) sendPacket(ctx context.Context, p *packet.Packet, endpoint string) error {
	data, err := p.Serialize()
	if err != nil {
		return err
	}

	if err := n.transport.Send(ctx, data, endpoint); err != nil {
		n.stats.packetsDropped.Add(1)
		n.logger.ComponentDebug(logging.ComponentNode, "Send failed",
			zap.String("endpoint", endpoint),
			zap.String("type", p.Type.String()),
			zap.Error(err),
		)
		return err
	}

	n.stats.packetsSent.Add(1)
	n.stats.bytesSent.Add(uint64(len(data)))
	n.publish(Event{
		Kind:       EventPacketSent,
		Timestamp:  n.clock.Now(),
		Peer:       p.Destination.ShortString(),
		PacketType: p.Type.String(),
		Endpoint:   endpoint,
	})
	return nil
}
