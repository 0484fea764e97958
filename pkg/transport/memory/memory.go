// Package memory is the in-process transport: a hub wires named
// transports together so multi-node behavior runs inside one test
// binary, with no sockets involved.
package memory

import (
	"context"
	"sync"

	"github.com/ipv7net/mesh/pkg/errors"
	"github.com/ipv7net/mesh/pkg/transport"
)

const inboxDepth = 256

// Hub links memory transports by name. Every transport attached to the
// same hub can reach every other one.
type Hub struct {
	mu    sync.RWMutex
	nodes map[string]*Transport
}

// NewHub builds an empty hub.
func NewHub() *Hub {
	return &Hub{nodes: make(map[string]*Transport)}
}

// Transport creates a transport that will attach to the hub as
// "mem://name" once started.
func (h *Hub) Transport(name string) *Transport {
	return &Transport{
		hub:      h,
		endpoint: "mem://" + name,
		inbox:    make(chan frame, inboxDepth),
		done:     make(chan struct{}),
	}
}

func (h *Hub) attach(t *Transport) error {
	h.mu.Lock()
	if _, taken := h.nodes[t.endpoint]; taken {
		h.mu.Unlock()
		return errors.NewTransportError("memory", "endpoint already attached: "+t.endpoint, nil)
	}
	h.nodes[t.endpoint] = t
	others := make([]*Transport, 0, len(h.nodes)-1)
	for _, o := range h.nodes {
		if o != t {
			others = append(others, o)
		}
	}
	h.mu.Unlock()

	for _, o := range others {
		o.notifyConnected(t.endpoint)
		t.notifyConnected(o.endpoint)
	}
	return nil
}

func (h *Hub) detach(t *Transport) {
	h.mu.Lock()
	delete(h.nodes, t.endpoint)
	others := make([]*Transport, 0, len(h.nodes))
	for _, o := range h.nodes {
		others = append(others, o)
	}
	h.mu.Unlock()

	for _, o := range others {
		o.notifyDisconnected(t.endpoint)
	}
}

func (h *Hub) lookup(endpoint string) (*Transport, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.nodes[endpoint]
	return t, ok
}

type frame struct {
	data []byte
	from string
}

// Transport is one hub attachment. Delivery is asynchronous through a
// bounded inbox; Send applies backpressure through its context when the
// receiver falls behind.
type Transport struct {
	hub      *Hub
	endpoint string

	mu      sync.RWMutex
	handler transport.PacketHandler
	connH   transport.ConnHandler
	started bool
	closed  bool

	inbox chan frame
	done  chan struct{}
	wg    sync.WaitGroup
}

var _ transport.Transport = (*Transport)(nil)

// Start attaches to the hub and begins pumping inbound frames to the
// packet handler. A closed transport can start again with a fresh inbox.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return errors.NewTransportError("memory", "already started", nil)
	}
	t.started = true
	t.closed = false
	t.inbox = make(chan frame, inboxDepth)
	t.done = make(chan struct{})
	inbox, done := t.inbox, t.done
	t.mu.Unlock()

	if err := t.hub.attach(t); err != nil {
		t.mu.Lock()
		t.started = false
		t.mu.Unlock()
		return err
	}

	t.wg.Add(1)
	go t.pump(inbox, done)
	return nil
}

// Close detaches from the hub and stops delivery.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed || !t.started {
		t.closed = true
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.started = false
	done := t.done
	t.mu.Unlock()

	t.hub.detach(t)
	close(done)
	t.wg.Wait()
	return nil
}

// Send hands one frame to the named endpoint's inbox.
func (t *Transport) Send(ctx context.Context, data []byte, endpoint string) error {
	if len(data) > transport.MaxFrameSize {
		return errors.NewTransportError("memory", "frame exceeds limit", nil)
	}

	target, ok := t.hub.lookup(endpoint)
	if !ok {
		return errors.NewPeerUnreachableError(endpoint, nil)
	}

	target.mu.RLock()
	inbox, done := target.inbox, target.done
	target.mu.RUnlock()

	f := frame{data: append([]byte(nil), data...), from: t.endpoint}
	select {
	case inbox <- f:
		return nil
	case <-done:
		return errors.NewPeerUnreachableError(endpoint, nil)
	case <-ctx.Done():
		return errors.NewTransportError("memory", "send canceled", ctx.Err())
	}
}

// LocalEndpoints returns the hub name of this transport.
func (t *Transport) LocalEndpoints() []string {
	return []string{t.endpoint}
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

func (t *Transport) pump(inbox chan frame, done chan struct{}) {
	defer t.wg.Done()
	for {
		select {
		case f := <-inbox:
			t.mu.RLock()
			handler := t.handler
			t.mu.RUnlock()
			if handler != nil {
				handler(f.data, f.from)
			}
		case <-done:
			return
		}
	}
}

func (t *Transport) notifyConnected(endpoint string) {
	t.mu.RLock()
	h := t.connH
	t.mu.RUnlock()
	if h != nil {
		h.PeerConnected(endpoint)
	}
}

func (t *Transport) notifyDisconnected(endpoint string) {
	t.mu.RLock()
	h := t.connH
	t.mu.RUnlock()
	if h != nil {
		h.PeerDisconnected(endpoint)
	}
}
