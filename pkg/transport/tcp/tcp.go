// Package tcp moves packets over plain TCP links. Each packet travels
// as a 4-byte big-endian length prefix followed by the frame; one
// connection is kept per remote endpoint and written to through a
// bounded queue so a slow peer cannot stall the node.
package tcp

import (
	"bufio"
	"context"
	"encoding/binary"
	stderrors "errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/ipv7net/mesh/pkg/errors"
	"github.com/ipv7net/mesh/pkg/logging"
	"github.com/ipv7net/mesh/pkg/transport"
)

const (
	frameHeaderSize    = 4
	outboxDepth        = 256
	defaultMaxConns    = 256
	defaultDialTimeout = 5 * time.Second
	writeTimeout       = 10 * time.Second
)

// Config tunes the listener and dialer.
type Config struct {
	// ListenAddr is the host:port to bind, ":0" for an ephemeral port.
	ListenAddr string
	// MaxConns caps simultaneous inbound connections. 0 means the
	// default cap.
	MaxConns int
	// DialTimeout bounds outbound connection setup. 0 means the
	// default.
	DialTimeout time.Duration
}

// Transport is the TCP implementation of transport.Transport.
type Transport struct {
	cfg    Config
	logger *logging.ColoredLogger

	mu      sync.RWMutex
	ln      net.Listener
	conns   map[string]*link
	handler transport.PacketHandler
	connH   transport.ConnHandler
	started bool
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

var _ transport.Transport = (*Transport)(nil)

// link is one live connection with its write queue.
type link struct {
	c        net.Conn
	endpoint string
	outbox   chan []byte
	done     chan struct{}
	once     sync.Once
}

func (l *link) shutdown() {
	l.once.Do(func() {
		close(l.done)
		l.c.Close()
	})
}

// New builds an unstarted transport.
func New(cfg Config, logger *logging.ColoredLogger) *Transport {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = defaultMaxConns
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	return &Transport{
		cfg:    cfg,
		logger: logger,
		conns:  make(map[string]*link),
		done:   make(chan struct{}),
	}
}

// Start binds the listener and begins accepting connections. A closed
// transport can start again on a fresh listener.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return errors.NewTransportError("tcp", "already started", nil)
	}
	t.started = true
	t.closed = false
	t.conns = make(map[string]*link)
	t.done = make(chan struct{})
	done := t.done
	t.mu.Unlock()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", t.cfg.ListenAddr)
	if err != nil {
		t.mu.Lock()
		t.started = false
		t.mu.Unlock()
		return errors.NewTransportError("tcp", "listen "+t.cfg.ListenAddr, err)
	}
	ln = netutil.LimitListener(ln, t.cfg.MaxConns)

	t.mu.Lock()
	t.ln = ln
	t.mu.Unlock()

	t.logger.ComponentInfo(logging.ComponentTransport, "TCP transport listening",
		zap.String("addr", ln.Addr().String()))

	t.wg.Add(1)
	go t.acceptLoop(ln, done)
	return nil
}

// Close stops the listener and drops every connection.
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
	ln := t.ln
	links := make([]*link, 0, len(t.conns))
	for _, l := range t.conns {
		links = append(links, l)
	}
	t.mu.Unlock()

	close(done)
	if ln != nil {
		ln.Close()
	}
	for _, l := range links {
		l.shutdown()
	}
	t.wg.Wait()
	return nil
}

// Send writes one frame to the endpoint, dialing a connection if none
// is live yet.
func (t *Transport) Send(ctx context.Context, data []byte, endpoint string) error {
	if len(data) > transport.MaxFrameSize {
		return errors.NewTransportError("tcp", "frame exceeds limit", nil)
	}
	hostport, ok := strings.CutPrefix(endpoint, "tcp://")
	if !ok {
		return errors.NewTransportError("tcp", "not a tcp endpoint: "+endpoint, nil)
	}

	l, err := t.linkFor(ctx, endpoint, hostport)
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
		return errors.NewTransportError("tcp", "send canceled", ctx.Err())
	}
}

// LocalEndpoints returns the bound listen address.
func (t *Transport) LocalEndpoints() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.ln != nil {
		return []string{"tcp://" + t.ln.Addr().String()}
	}
	return []string{"tcp://" + t.cfg.ListenAddr}
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

func (t *Transport) acceptLoop(ln net.Listener, done chan struct{}) {
	defer t.wg.Done()
	for {
		c, err := ln.Accept()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			if stderrors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.ComponentWarn(logging.ComponentTransport, "Accept failed",
				zap.Error(err))
			time.Sleep(100 * time.Millisecond)
			continue
		}
		t.adopt(c, "tcp://"+c.RemoteAddr().String())
	}
}

// linkFor returns the live link for endpoint, dialing when absent.
func (t *Transport) linkFor(ctx context.Context, endpoint, hostport string) (*link, error) {
	t.mu.RLock()
	l, ok := t.conns[endpoint]
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return nil, errors.NewTransportError("tcp", "transport closed", nil)
	}
	if ok {
		return l, nil
	}

	d := net.Dialer{Timeout: t.cfg.DialTimeout}
	c, err := d.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, errors.NewPeerUnreachableError(endpoint, err)
	}

	l = t.adopt(c, endpoint)
	if l == nil {
		c.Close()
		return nil, errors.NewTransportError("tcp", "transport closed", nil)
	}
	return l, nil
}

// adopt registers a connection under its endpoint and spawns its IO
// loops. A concurrent dial to the same endpoint keeps the first link.
func (t *Transport) adopt(c net.Conn, endpoint string) *link {
	l := &link{
		c:        c,
		endpoint: endpoint,
		outbox:   make(chan []byte, outboxDepth),
		done:     make(chan struct{}),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		c.Close()
		return nil
	}
	if existing, ok := t.conns[endpoint]; ok {
		t.mu.Unlock()
		c.Close()
		return existing
	}
	t.conns[endpoint] = l
	connH := t.connH
	t.mu.Unlock()

	t.logger.ComponentDebug(logging.ComponentTransport, "Connection up",
		zap.String("endpoint", endpoint))

	t.wg.Add(2)
	go t.readLoop(l)
	go t.writeLoop(l)

	if connH != nil {
		connH.PeerConnected(endpoint)
	}
	return l
}

func (t *Transport) drop(l *link) {
	l.shutdown()

	t.mu.Lock()
	current, ok := t.conns[l.endpoint]
	if ok && current == l {
		delete(t.conns, l.endpoint)
	}
	connH := t.connH
	closed := t.closed
	t.mu.Unlock()

	if ok && current == l && !closed && connH != nil {
		t.logger.ComponentDebug(logging.ComponentTransport, "Connection down",
			zap.String("endpoint", l.endpoint))
		connH.PeerDisconnected(l.endpoint)
	}
}

func (t *Transport) readLoop(l *link) {
	defer t.wg.Done()
	defer t.drop(l)

	r := bufio.NewReader(l.c)
	var header [frameHeaderSize]byte
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return
		}
		size := binary.BigEndian.Uint32(header[:])
		if size == 0 || size > transport.MaxFrameSize {
			t.logger.ComponentWarn(logging.ComponentTransport, "Bad frame length, dropping connection",
				zap.String("endpoint", l.endpoint),
				zap.Uint32("length", size))
			return
		}

		frame := make([]byte, size)
		if _, err := io.ReadFull(r, frame); err != nil {
			return
		}

		t.mu.RLock()
		handler := t.handler
		t.mu.RUnlock()
		if handler != nil {
			handler(frame, l.endpoint)
		}
	}
}

func (t *Transport) writeLoop(l *link) {
	defer t.wg.Done()
	defer t.drop(l)

	var header [frameHeaderSize]byte
	for {
		select {
		case frame := <-l.outbox:
			binary.BigEndian.PutUint32(header[:], uint32(len(frame)))
			l.c.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := l.c.Write(header[:]); err != nil {
				return
			}
			if _, err := l.c.Write(frame); err != nil {
				return
			}
		case <-l.done:
			return
		}
	}
}
