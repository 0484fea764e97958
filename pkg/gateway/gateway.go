// Package gateway exposes a node's diagnostics API over HTTP: liveness,
// statistics, the peer and route tables, packet injection, and a websocket
// stream of mesh events.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ipv7net/mesh/pkg/config"
	"github.com/ipv7net/mesh/pkg/errors"
	"github.com/ipv7net/mesh/pkg/logging"
	"github.com/ipv7net/mesh/pkg/node"
)

// Gateway serves the HTTP diagnostics API for one node.
type Gateway struct {
	logger    *logging.ColoredLogger
	cfg       *config.GatewayConfig
	node      *node.Node
	hub       *eventHub
	sys       *sysSampler
	server    *http.Server
	startedAt time.Time
}

// New creates a gateway bound to a node. Returns (nil, nil) when the
// gateway is disabled; nil-receiver methods are safe so callers need no
// guard. The node's event stream feeds websocket subscribers from this
// point on; the HTTP listener opens on Start.
func New(logger *logging.ColoredLogger, cfg *config.GatewayConfig, n *node.Node) (*Gateway, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if logger == nil {
		var err error
		logger, err = logging.NewColoredLogger(logging.ComponentGateway, true)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	gw := &Gateway{
		logger:    logger,
		cfg:       cfg,
		node:      n,
		hub:       newEventHub(),
		sys:       newSysSampler(),
		startedAt: time.Now(),
	}

	n.OnEvent(gw.hub.broadcast)

	logger.ComponentInfo(logging.ComponentGateway, "Gateway initialized",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("node", n.Address().ShortString()),
	)
	return gw, nil
}

// Start opens the listener and serves until ctx is cancelled, then shuts
// down gracefully. The system usage sampler runs for the same window.
func (g *Gateway) Start(ctx context.Context) error {
	if g == nil {
		return nil
	}

	g.server = &http.Server{
		Addr:    g.cfg.ListenAddr,
		Handler: g.Routes(),
	}

	listener, err := net.Listen("tcp", g.cfg.ListenAddr)
	if err != nil {
		return errors.NewTransportError("gateway",
			fmt.Sprintf("listen on %s", g.cfg.ListenAddr), err)
	}

	g.logger.ComponentInfo(logging.ComponentGateway, "Gateway listening",
		zap.String("listen_addr", listener.Addr().String()),
		zap.String("node", g.node.Address().ShortString()),
	)

	go g.sys.run(ctx)

	go func() {
		if err := g.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			g.logger.ComponentError(logging.ComponentGateway, "Gateway server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	return g.Stop()
}

// Stop gracefully stops the HTTP server and detaches websocket
// subscribers. Safe to call more than once.
func (g *Gateway) Stop() error {
	if g == nil || g.server == nil {
		return nil
	}

	g.hub.close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g.logger.ComponentInfo(logging.ComponentGateway, "Gateway shutting down")
	if err := g.server.Shutdown(ctx); err != nil {
		g.logger.ComponentError(logging.ComponentGateway, "Gateway shutdown error", zap.Error(err))
		return err
	}
	g.logger.ComponentInfo(logging.ComponentGateway, "Gateway shutdown complete")
	return nil
}
