// Package udp moves packets as single datagrams, one packet per
// datagram, nothing framed and nothing retried. An optional STUN probe
// at startup learns the public mapped address so nodes behind NAT can
// announce an endpoint that is actually reachable.
package udp

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pion/stun/v3"
	"go.uber.org/zap"

	"github.com/ipv7net/mesh/pkg/errors"
	"github.com/ipv7net/mesh/pkg/logging"
	"github.com/ipv7net/mesh/pkg/transport"
)

const defaultProbeTimeout = 5 * time.Second

// Config tunes the socket and the optional NAT probe.
type Config struct {
	// ListenAddr is the host:port to bind, ":0" for an ephemeral port.
	ListenAddr string
	// STUNServers lists servers to query for the public mapped
	// address, "host:port" or "stun:host:port". Empty disables the
	// probe.
	STUNServers []string
	// ProbeTimeout bounds each STUN query. 0 means the default.
	ProbeTimeout time.Duration
}

// Transport is the UDP implementation of transport.Transport.
type Transport struct {
	cfg    Config
	logger *logging.ColoredLogger

	mu      sync.RWMutex
	pc      *net.UDPConn
	handler transport.PacketHandler
	connH   transport.ConnHandler
	seen    map[string]struct{}
	mapped  string
	started bool
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

var _ transport.Transport = (*Transport)(nil)

// New builds an unstarted transport.
func New(cfg Config, logger *logging.ColoredLogger) *Transport {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	return &Transport{
		cfg:    cfg,
		logger: logger,
		seen:   make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

// Start binds the socket, begins reading datagrams and kicks off the
// STUN probe when servers are configured. A closed transport can start
// again on a fresh socket.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return errors.NewTransportError("udp", "already started", nil)
	}
	t.started = true
	t.closed = false
	t.seen = make(map[string]struct{})
	t.mapped = ""
	t.done = make(chan struct{})
	done := t.done
	t.mu.Unlock()

	laddr, err := net.ResolveUDPAddr("udp", t.cfg.ListenAddr)
	if err != nil {
		t.mu.Lock()
		t.started = false
		t.mu.Unlock()
		return errors.NewTransportError("udp", "resolve "+t.cfg.ListenAddr, err)
	}
	pc, err := net.ListenUDP("udp", laddr)
	if err != nil {
		t.mu.Lock()
		t.started = false
		t.mu.Unlock()
		return errors.NewTransportError("udp", "listen "+t.cfg.ListenAddr, err)
	}

	t.mu.Lock()
	t.pc = pc
	t.mu.Unlock()

	t.logger.ComponentInfo(logging.ComponentTransport, "UDP transport listening",
		zap.String("addr", pc.LocalAddr().String()))

	t.wg.Add(1)
	go t.readLoop(pc, done)

	if len(t.cfg.STUNServers) > 0 {
		t.wg.Add(1)
		go t.probe(ctx, done)
	}
	return nil
}

// Close stops the socket and delivery.
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
	pc := t.pc
	t.mu.Unlock()

	close(done)
	if pc != nil {
		pc.Close()
	}
	t.wg.Wait()
	return nil
}

// Send writes one datagram to the endpoint.
func (t *Transport) Send(ctx context.Context, data []byte, endpoint string) error {
	if len(data) > transport.MaxFrameSize {
		return errors.NewTransportError("udp", "frame exceeds limit", nil)
	}
	hostport, ok := strings.CutPrefix(endpoint, "udp://")
	if !ok {
		return errors.NewTransportError("udp", "not a udp endpoint: "+endpoint, nil)
	}

	t.mu.RLock()
	pc := t.pc
	closed := t.closed
	t.mu.RUnlock()
	if closed || pc == nil {
		return errors.NewTransportError("udp", "transport closed", nil)
	}

	raddr, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		return errors.NewPeerUnreachableError(endpoint, err)
	}
	if _, err := pc.WriteToUDP(data, raddr); err != nil {
		return errors.NewPeerUnreachableError(endpoint, err)
	}
	return nil
}

// LocalEndpoints returns the bound address, then the STUN-mapped public
// address once the probe has answered.
func (t *Transport) LocalEndpoints() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var eps []string
	if t.pc != nil {
		eps = append(eps, "udp://"+t.pc.LocalAddr().String())
	} else {
		eps = append(eps, "udp://"+t.cfg.ListenAddr)
	}
	if t.mapped != "" && t.mapped != eps[0] {
		eps = append(eps, t.mapped)
	}
	return eps
}

// SetPacketHandler registers the inbound packet callback.
func (t *Transport) SetPacketHandler(h transport.PacketHandler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// SetConnHandler registers the connectivity callback. UDP has no link
// teardown to observe, so only PeerConnected ever fires, once per new
// source endpoint.
func (t *Transport) SetConnHandler(h transport.ConnHandler) {
	t.mu.Lock()
	t.connH = h
	t.mu.Unlock()
}

func (t *Transport) readLoop(pc *net.UDPConn, done chan struct{}) {
	defer t.wg.Done()

	buf := make([]byte, transport.MaxFrameSize+1)
	for {
		n, raddr, err := pc.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-done:
			default:
				t.logger.ComponentWarn(logging.ComponentTransport, "UDP read failed",
					zap.Error(err))
			}
			return
		}
		if n == 0 || n > transport.MaxFrameSize {
			continue
		}

		endpoint := "udp://" + raddr.String()

		t.mu.Lock()
		_, known := t.seen[endpoint]
		if !known {
			t.seen[endpoint] = struct{}{}
		}
		handler := t.handler
		connH := t.connH
		t.mu.Unlock()

		if !known && connH != nil {
			connH.PeerConnected(endpoint)
		}
		if handler != nil {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			handler(frame, endpoint)
		}
	}
}

// probe queries the configured STUN servers and records the first
// mapped address. The mapped address belongs to the probe socket; with
// well-behaved NATs it still names the right public IP for announcing.
func (t *Transport) probe(ctx context.Context, done chan struct{}) {
	defer t.wg.Done()

	for _, server := range t.cfg.STUNServers {
		select {
		case <-done:
			return
		default:
		}

		addr, err := t.probeServer(ctx, server, done)
		if err != nil {
			t.logger.ComponentDebug(logging.ComponentTransport, "STUN probe failed",
				zap.String("server", server),
				zap.Error(err))
			continue
		}

		t.mu.Lock()
		t.mapped = "udp://" + addr
		t.mu.Unlock()

		t.logger.ComponentInfo(logging.ComponentTransport, "STUN mapped address discovered",
			zap.String("server", server),
			zap.String("mapped", addr))
		return
	}
}

func (t *Transport) probeServer(ctx context.Context, server string, done chan struct{}) (string, error) {
	uriStr := strings.TrimSpace(server)
	if uriStr == "" {
		return "", errors.NewTransportError("udp", "empty STUN server", nil)
	}
	if !strings.HasPrefix(uriStr, "stun:") {
		uriStr = "stun:" + uriStr
	}

	uri, err := stun.ParseURI(uriStr)
	if err != nil {
		return "", err
	}

	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return "", err
	}
	defer client.Close()

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	result := make(chan stun.XORMappedAddress, 1)
	fail := make(chan error, 1)

	go func() {
		var addr stun.XORMappedAddress
		err := client.Do(msg, func(res stun.Event) {
			if res.Error != nil {
				fail <- res.Error
				return
			}
			if err := addr.GetFrom(res.Message); err != nil {
				fail <- err
				return
			}
			result <- addr
		})
		if err != nil {
			fail <- err
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, t.cfg.ProbeTimeout)
	defer cancel()

	select {
	case addr := <-result:
		return addr.String(), nil
	case err := <-fail:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-done:
		return "", errors.NewTransportError("udp", "transport closed", nil)
	}
}
