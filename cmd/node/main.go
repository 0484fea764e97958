package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ipv7net/mesh/pkg/config"
	"github.com/ipv7net/mesh/pkg/gateway"
	"github.com/ipv7net/mesh/pkg/identity"
	"github.com/ipv7net/mesh/pkg/logging"
	"github.com/ipv7net/mesh/pkg/node"
	"github.com/ipv7net/mesh/pkg/transport"
	"github.com/ipv7net/mesh/pkg/transport/memory"
	"github.com/ipv7net/mesh/pkg/transport/swarm"
	"github.com/ipv7net/mesh/pkg/transport/tcp"
	"github.com/ipv7net/mesh/pkg/transport/udp"
)

// setup_logger initializes a logger for the given component.
func setup_logger(component logging.Component) (logger *logging.ColoredLogger) {
	var err error

	logger, err = logging.NewColoredLogger(component, true)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	return logger
}

// setup_logger_from_config builds the runtime logger from the logging
// section: level filter, console colors only for the console format, and an
// optional log file instead of stdout.
func setup_logger_from_config(lc config.LoggingConfig) *logging.ColoredLogger {
	level, err := zapcore.ParseLevel(lc.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var logger *logging.ColoredLogger
	if lc.OutputFile != "" {
		logger, err = logging.NewFileLogger(logging.ComponentNode, lc.OutputFile, false)
	} else {
		logger, err = logging.NewColoredLoggerWithLevel(logging.ComponentNode, lc.Format == "console", level)
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	return logger
}

// parse_and_return_mesh_flags initializes all the node flags and parses the command line
func parse_and_return_mesh_flags() (configPath, dataDir, transportKind, listenAddr, gatewayAddr, bootstrap *string, help *bool) {
	configPath = flag.String("config", "", "Path to config YAML file (overrides ~/.ipv7/node.yaml)")
	dataDir = flag.String("data", "", "Data directory holding identity.key (overrides config)")
	transportKind = flag.String("transport", "", "Transport kind: memory, tcp, udp or swarm (overrides config)")
	listenAddr = flag.String("listen", "", "Listen address for the tcp/udp transports (host:port)")
	gatewayAddr = flag.String("gateway", "", "Enable the HTTP diagnostics gateway on this address (host:port)")
	bootstrap = flag.String("bootstrap", "", "Comma-separated endpoints to dial at startup")
	help = flag.Bool("help", false, "Show help")
	flag.Parse()

	return
}

// check_if_should_open_help checks if the help flag is set and opens the help if it is
func check_if_should_open_help(help *bool) {
	if *help {
		flag.Usage()
		os.Exit(0)
	}
}

// resolveConfig loads the node configuration: an explicit -config path wins,
// then ~/.ipv7/node.yaml when present, then the built-in defaults.
func resolveConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromYAML(configPath)
	}

	path, err := config.DefaultPath("node.yaml")
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return config.LoadFromYAML(path)
		}
	}

	return config.DefaultConfig(), nil
}

// load_args_into_config applies command line argument overrides to the config
func load_args_into_config(cfg *config.Config, dataDir, transportKind, listenAddr, gatewayAddr, bootstrap *string) {
	logger := setup_logger(logging.ComponentNode)

	if *dataDir != "" {
		cfg.Node.DataDir = *dataDir
		logger.ComponentInfo(logging.ComponentNode, "Overriding data directory", zap.String("data_dir", *dataDir))
	}

	if *transportKind != "" {
		cfg.Transport.Kind = *transportKind
		logger.ComponentInfo(logging.ComponentNode, "Overriding transport kind", zap.String("kind", *transportKind))
	}

	// The tcp and udp transports share the flag; only the selected one binds.
	if *listenAddr != "" {
		cfg.Transport.TCP.ListenAddr = *listenAddr
		cfg.Transport.UDP.ListenAddr = *listenAddr
		logger.ComponentInfo(logging.ComponentNode, "Overriding listen address", zap.String("listen_addr", *listenAddr))
	}

	if *gatewayAddr != "" {
		cfg.Gateway.Enabled = true
		cfg.Gateway.ListenAddr = *gatewayAddr
		logger.ComponentInfo(logging.ComponentNode, "Enabling HTTP gateway", zap.String("listen_addr", *gatewayAddr))
	}

	if *bootstrap != "" {
		cfg.Transport.Bootstrap = strings.Split(*bootstrap, ",")
		logger.ComponentInfo(logging.ComponentNode, "Overriding bootstrap endpoints", zap.Strings("endpoints", cfg.Transport.Bootstrap))
	}
}

// validate_config validates the assembled config and prints every problem
// at once before exiting, so a broken file is fixed in one pass.
func validate_config(cfg *config.Config) {
	logger := setup_logger(logging.ComponentNode)

	errs := cfg.Validate()
	if len(errs) == 0 {
		return
	}

	for _, err := range errs {
		logger.ComponentError(logging.ComponentNode, "Invalid configuration", zap.Error(err))
	}
	os.Exit(1)
}

// buildTransport constructs the packet transport selected by the config.
// The swarm transport reuses the node identity key so the libp2p peer ID
// stays tied to the mesh address.
func buildTransport(cfg *config.Config, ident *identity.Identity, logger *logging.ColoredLogger) (transport.Transport, error) {
	switch cfg.Transport.Kind {
	case "memory":
		// Process-local hub; a single node on it is alone, which is
		// exactly what a smoke-test run wants.
		return memory.NewHub().Transport("local"), nil
	case "tcp":
		return tcp.New(tcp.Config{
			ListenAddr: cfg.Transport.TCP.ListenAddr,
			MaxConns:   cfg.Transport.TCP.MaxConns,
		}, logger), nil
	case "udp":
		return udp.New(udp.Config{
			ListenAddr:   cfg.Transport.UDP.ListenAddr,
			STUNServers:  cfg.Transport.UDP.STUNServers,
			ProbeTimeout: cfg.Transport.UDP.ProbeTimeout,
		}, logger), nil
	case "swarm":
		return swarm.New(ident.PrivateKey, swarm.Config{
			ListenAddrs: cfg.Transport.Swarm.ListenAddrs,
			Bootstrap:   cfg.Transport.Swarm.BootstrapPeers,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}

// startNode runs the node until the context is cancelled, then stops it
func startNode(ctx context.Context, cfg *config.Config, logger *logging.ColoredLogger) error {
	ident, created, err := identity.LoadOrCreate(cfg.Node.DataDir)
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}
	if created {
		logger.ComponentInfo(logging.ComponentIdentity, "Generated new identity",
			zap.String("path", identity.Path(cfg.Node.DataDir)))
	} else {
		logger.ComponentInfo(logging.ComponentIdentity, "Loaded identity",
			zap.String("path", identity.Path(cfg.Node.DataDir)))
	}

	tr, err := buildTransport(cfg, ident, logger)
	if err != nil {
		return err
	}

	n, err := node.New(cfg, ident, tr)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}

	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}

	// Save the dialable endpoints to a file so other nodes can be pointed
	// at this one without scraping logs.
	endpointsFile := filepath.Join(cfg.Node.DataDir, "endpoints.info")
	endpoints := n.LocalEndpoints()
	if err := os.WriteFile(endpointsFile, []byte(strings.Join(endpoints, "\n")+"\n"), 0644); err != nil {
		logger.ComponentWarn(logging.ComponentNode, "Failed to save endpoints file", zap.Error(err))
	} else {
		logger.ComponentInfo(logging.ComponentNode, "Endpoints saved",
			zap.String("path", endpointsFile),
			zap.Strings("endpoints", endpoints))
	}

	gw, err := gateway.New(logger, &cfg.Gateway, n)
	if err != nil {
		stopErr := n.Stop()
		if stopErr != nil {
			logger.ComponentError(logging.ComponentNode, "Failed to stop node", zap.Error(stopErr))
		}
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	if gw != nil {
		// Start blocks until ctx is cancelled and shuts the server down
		// itself; the node below owns the main lifecycle.
		go func() {
			if err := gw.Start(ctx); err != nil {
				logger.ComponentError(logging.ComponentGateway, "Gateway terminated", zap.Error(err))
			}
		}()
	}

	logger.ComponentInfo(logging.ComponentNode, "Node started successfully",
		zap.String("address", n.Address().String()))

	// Wait for context cancellation
	<-ctx.Done()

	// Stop node
	return n.Stop()
}

func main() {
	configPath, dataDir, transportKind, listenAddr, gatewayAddr, bootstrap, help := parse_and_return_mesh_flags()

	check_if_should_open_help(help)

	bootLogger := setup_logger(logging.ComponentNode)

	cfg, err := resolveConfig(*configPath)
	if err != nil {
		bootLogger.ComponentError(logging.ComponentNode, "Failed to load config", zap.Error(err))
		os.Exit(1)
	}
	if *configPath != "" {
		bootLogger.ComponentInfo(logging.ComponentNode, "Configuration loaded from YAML file", zap.String("path", *configPath))
	}

	// Apply command line argument overrides
	load_args_into_config(cfg, dataDir, transportKind, listenAddr, gatewayAddr, bootstrap)

	validate_config(cfg)

	logger := setup_logger_from_config(cfg.Logging)

	logger.ComponentInfo(logging.ComponentNode, "Node configuration summary",
		zap.String("data_dir", cfg.Node.DataDir),
		zap.String("transport", cfg.Transport.Kind),
		zap.Bool("relay", cfg.Mesh.EnableRelay),
		zap.Bool("gateway", cfg.Gateway.Enabled),
		zap.Strings("bootstrap", cfg.Transport.Bootstrap))

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start node in a goroutine
	errChan := make(chan error, 1)
	doneChan := make(chan struct{})
	go func() {
		if err := startNode(ctx, cfg, logger); err != nil {
			errChan <- err
		}
		close(doneChan)
	}()

	// Wait for interrupt signal or error
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		logger.ComponentError(logging.ComponentNode, "Failed to start node", zap.Error(err))
		os.Exit(1)
	case <-c:
		logger.ComponentInfo(logging.ComponentNode, "Shutting down node...")
		cancel()
		// Wait for node goroutine to finish cleanly
		<-doneChan
		logger.ComponentInfo(logging.ComponentNode, "Node shutdown complete")
	}
}
