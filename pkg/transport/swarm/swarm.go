// Package swarm moves packets over a libp2p host: Noise-secured TCP
// and QUIC links, one persistent packet stream per peer. Endpoints are
// multiaddrs; the canonical observed form is "/p2p/<id>", with dialable
// transport addresses accepted and remembered on Send.
package swarm

import (
	"context"
	"encoding/binary"
	"io"
	"strings"
	"sync"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	noise "github.com/libp2p/go-libp2p/p2p/security/noise"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/ipv7net/mesh/pkg/errors"
	"github.com/ipv7net/mesh/pkg/logging"
	"github.com/ipv7net/mesh/pkg/transport"
)

// ProtocolID names the packet exchange protocol on the wire.
const ProtocolID = protocol.ID("/ipv7/packets/1.0.0")

const (
	frameHeaderSize = 4
	outboxDepth     = 256
)

// Config tunes the host.
type Config struct {
	// ListenAddrs are the multiaddrs to listen on. Empty means
	// loopback TCP on an ephemeral port.
	ListenAddrs []string
	// Bootstrap lists multiaddrs dialed at startup, best-effort.
	Bootstrap []string
}

// Transport is the libp2p implementation of transport.Transport.
type Transport struct {
	cfg    Config
	key    crypto.PrivKey
	logger *logging.ColoredLogger

	mu      sync.RWMutex
	host    host.Host
	links   map[peer.ID]*link
	alive   map[peer.ID]int
	handler transport.PacketHandler
	connH   transport.ConnHandler
	started bool
	closed  bool

	wg sync.WaitGroup
}

var _ transport.Transport = (*Transport)(nil)

type link struct {
	s      network.Stream
	outbox chan []byte
	done   chan struct{}
	once   sync.Once
}

func (l *link) shutdown() {
	l.once.Do(func() {
		close(l.done)
		l.s.Reset()
	})
}

// New builds an unstarted transport around the node's identity key.
func New(key crypto.PrivKey, cfg Config, logger *logging.ColoredLogger) *Transport {
	if len(cfg.ListenAddrs) == 0 {
		cfg.ListenAddrs = []string{"/ip4/127.0.0.1/tcp/0"}
	}
	return &Transport{
		cfg:    cfg,
		key:    key,
		logger: logger,
		links:  make(map[peer.ID]*link),
		alive:  make(map[peer.ID]int),
	}
}

// Start brings up the host, registers the stream handler and dials the
// bootstrap peers. A closed transport can start again on a fresh host.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return errors.NewTransportError("swarm", "already started", nil)
	}
	t.started = true
	t.closed = false
	t.links = make(map[peer.ID]*link)
	t.alive = make(map[peer.ID]int)
	t.mu.Unlock()

	h, err := libp2p.New(
		libp2p.Identity(t.key),
		libp2p.ListenAddrStrings(t.cfg.ListenAddrs...),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Transport(libp2pquic.NewTransport),
		libp2p.DefaultMuxers,
	)
	if err != nil {
		t.mu.Lock()
		t.started = false
		t.mu.Unlock()
		return errors.NewTransportError("swarm", "create host", err)
	}

	t.mu.Lock()
	t.host = h
	t.mu.Unlock()

	h.SetStreamHandler(ProtocolID, t.handleStream)
	h.Network().Notify(&network.NotifyBundle{
		ConnectedF:    t.onConnected,
		DisconnectedF: t.onDisconnected,
	})

	t.logger.ComponentInfo(logging.ComponentSwarm, "Swarm transport up",
		zap.String("peer_id", h.ID().String()),
		zap.Int("listen_addrs", len(h.Addrs())))

	for _, addr := range t.cfg.Bootstrap {
		if err := t.connectBootstrap(ctx, addr); err != nil {
			t.logger.ComponentWarn(logging.ComponentSwarm, "Bootstrap dial failed",
				zap.String("addr", addr),
				zap.Error(err))
		}
	}
	return nil
}

// Close shuts the host down.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed || !t.started {
		t.closed = true
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.started = false
	h := t.host
	links := make([]*link, 0, len(t.links))
	for _, l := range t.links {
		links = append(links, l)
	}
	t.mu.Unlock()

	for _, l := range links {
		l.shutdown()
	}
	var err error
	if h != nil {
		err = h.Close()
	}
	t.wg.Wait()
	if err != nil {
		return errors.NewTransportError("swarm", "close host", err)
	}
	return nil
}

// Send frames one packet onto the stream for the endpoint's peer,
// opening the stream when needed.
func (t *Transport) Send(ctx context.Context, data []byte, endpoint string) error {
	if len(data) > transport.MaxFrameSize {
		return errors.NewTransportError("swarm", "frame exceeds limit", nil)
	}

	info, err := resolveEndpoint(endpoint)
	if err != nil {
		return err
	}

	t.mu.RLock()
	h := t.host
	closed := t.closed
	t.mu.RUnlock()
	if closed || h == nil {
		return errors.NewTransportError("swarm", "transport closed", nil)
	}
	if len(info.Addrs) > 0 {
		h.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)
	}

	l, err := t.linkFor(ctx, h, info.ID)
	if err != nil {
		return err
	}

	frame := append([]byte(nil), data...)
	select {
	case l.outbox <- frame:
		return nil
	case <-l.done:
		return errors.NewPeerUnreachableError(endpoint, nil)
	case <-ctx.Done():
		return errors.NewTransportError("swarm", "send canceled", ctx.Err())
	}
}

// LocalEndpoints returns every listen multiaddr with the peer identity
// appended.
func (t *Transport) LocalEndpoints() []string {
	t.mu.RLock()
	h := t.host
	t.mu.RUnlock()
	if h == nil {
		return nil
	}

	suffix := "/p2p/" + h.ID().String()
	addrs := h.Addrs()
	eps := make([]string, 0, len(addrs))
	for _, a := range addrs {
		eps = append(eps, a.String()+suffix)
	}
	return eps
}

// SetPacketHandler registers the inbound packet callback.
func (t *Transport) SetPacketHandler(h transport.PacketHandler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// SetConnHandler registers the connectivity callback.
func (t *Transport) SetConnHandler(h transport.ConnHandler) {
	t.mu.Lock()
	t.connH = h
	t.mu.Unlock()
}

// resolveEndpoint turns an endpoint multiaddr into dialing info. Both
// bare "/p2p/<id>" and full transport multiaddrs are accepted.
func resolveEndpoint(endpoint string) (*peer.AddrInfo, error) {
	if !strings.Contains(endpoint, "/p2p/") {
		return nil, errors.NewTransportError("swarm", "endpoint lacks /p2p/ id: "+endpoint, nil)
	}
	maddr, err := multiaddr.NewMultiaddr(endpoint)
	if err != nil {
		return nil, errors.NewTransportError("swarm", "bad multiaddr: "+endpoint, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return nil, errors.NewTransportError("swarm", "bad endpoint: "+endpoint, err)
	}
	return info, nil
}

func endpointForPeer(id peer.ID) string {
	return "/p2p/" + id.String()
}

func (t *Transport) linkFor(ctx context.Context, h host.Host, id peer.ID) (*link, error) {
	t.mu.RLock()
	l, ok := t.links[id]
	t.mu.RUnlock()
	if ok {
		return l, nil
	}

	s, err := h.NewStream(ctx, id, ProtocolID)
	if err != nil {
		return nil, errors.NewPeerUnreachableError(endpointForPeer(id), err)
	}
	return t.adopt(s), nil
}

// adopt registers a stream for writing and spawns its IO loops. A
// racing stream to the same peer defers to the first one.
func (t *Transport) adopt(s network.Stream) *link {
	id := s.Conn().RemotePeer()
	l := &link{
		s:      s,
		outbox: make(chan []byte, outboxDepth),
		done:   make(chan struct{}),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		s.Reset()
		return nil
	}
	if existing, ok := t.links[id]; ok {
		t.mu.Unlock()
		s.Reset()
		return existing
	}
	t.links[id] = l
	t.mu.Unlock()

	t.wg.Add(2)
	go t.readLoop(l, id)
	go t.writeLoop(l, id)
	return l
}

func (t *Transport) dropLink(l *link, id peer.ID) {
	l.shutdown()

	t.mu.Lock()
	if current, ok := t.links[id]; ok && current == l {
		delete(t.links, id)
	}
	t.mu.Unlock()
}

// handleStream adopts inbound streams so replies reuse them instead of
// opening a second stream back.
func (t *Transport) handleStream(s network.Stream) {
	t.logger.ComponentDebug(logging.ComponentSwarm, "Inbound packet stream",
		zap.String("peer", s.Conn().RemotePeer().String()))
	t.adopt(s)
}

func (t *Transport) readLoop(l *link, id peer.ID) {
	defer t.wg.Done()
	defer t.dropLink(l, id)

	endpoint := endpointForPeer(id)
	var header [frameHeaderSize]byte
	for {
		if _, err := io.ReadFull(l.s, header[:]); err != nil {
			return
		}
		size := binary.BigEndian.Uint32(header[:])
		if size == 0 || size > transport.MaxFrameSize {
			t.logger.ComponentWarn(logging.ComponentSwarm, "Bad frame length, resetting stream",
				zap.String("peer", id.String()),
				zap.Uint32("length", size))
			return
		}

		frame := make([]byte, size)
		if _, err := io.ReadFull(l.s, frame); err != nil {
			return
		}

		t.mu.RLock()
		handler := t.handler
		t.mu.RUnlock()
		if handler != nil {
			handler(frame, endpoint)
		}
	}
}

func (t *Transport) writeLoop(l *link, id peer.ID) {
	defer t.wg.Done()
	defer t.dropLink(l, id)

	var header [frameHeaderSize]byte
	for {
		select {
		case frame := <-l.outbox:
			binary.BigEndian.PutUint32(header[:], uint32(len(frame)))
			if _, err := l.s.Write(header[:]); err != nil {
				return
			}
			if _, err := l.s.Write(frame); err != nil {
				return
			}
		case <-l.done:
			return
		}
	}
}

// onConnected fires once per peer even when several connections come
// up.
func (t *Transport) onConnected(_ network.Network, c network.Conn) {
	id := c.RemotePeer()

	t.mu.Lock()
	t.alive[id]++
	first := t.alive[id] == 1
	connH := t.connH
	t.mu.Unlock()

	if first && connH != nil {
		connH.PeerConnected(endpointForPeer(id))
	}
}

func (t *Transport) onDisconnected(_ network.Network, c network.Conn) {
	id := c.RemotePeer()

	t.mu.Lock()
	t.alive[id]--
	last := t.alive[id] <= 0
	if last {
		delete(t.alive, id)
	}
	connH := t.connH
	closed := t.closed
	t.mu.Unlock()

	if last && !closed && connH != nil {
		connH.PeerDisconnected(endpointForPeer(id))
	}
}

func (t *Transport) connectBootstrap(ctx context.Context, addr string) error {
	info, err := resolveEndpoint(addr)
	if err != nil {
		return err
	}

	t.mu.RLock()
	h := t.host
	t.mu.RUnlock()

	if err := h.Connect(ctx, *info); err != nil {
		return errors.NewPeerUnreachableError(addr, err)
	}
	t.logger.ComponentInfo(logging.ComponentSwarm, "Bootstrap peer connected",
		zap.String("peer", info.ID.String()))
	return nil
}
