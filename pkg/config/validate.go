package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/multiformats/go-multiaddr"

	"github.com/ipv7net/mesh/pkg/geo"
)

// ValidationError represents a single validation error with context.
type ValidationError struct {
	Path    string // e.g., "transport.bootstrap[0]" or "mesh.peer_timeout"
	Message string // e.g., "invalid endpoint"
	Hint    string // e.g., "expected tcp://host:port"
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s; %s", e.Path, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate performs comprehensive validation of the entire config.
// It aggregates all errors and returns them, allowing the caller to print all issues at once.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateNode()...)
	errs = append(errs, c.validateMesh()...)
	errs = append(errs, c.validateTransport()...)
	errs = append(errs, c.validateGateway()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

func (c *Config) validateNode() []error {
	var errs []error
	nc := c.Node

	if nc.DataDir == "" {
		errs = append(errs, ValidationError{
			Path:    "node.data_dir",
			Message: "must not be empty",
		})
	} else {
		if err := validateDataDir(nc.DataDir); err != nil {
			errs = append(errs, ValidationError{
				Path:    "node.data_dir",
				Message: err.Error(),
			})
		}
	}

	// Coordinates only matter when the node claims a location
	if nc.Location.Enabled {
		if err := geo.ValidateCoordinates(nc.Location.Latitude, nc.Location.Longitude); err != nil {
			errs = append(errs, ValidationError{
				Path:    "node.location",
				Message: err.Error(),
				Hint:    "latitude in [-90, 90], longitude in [-180, 180]",
			})
		}
	}

	return errs
}

func (c *Config) validateMesh() []error {
	var errs []error
	mc := c.Mesh

	if mc.HeartbeatInterval <= 0 {
		errs = append(errs, ValidationError{
			Path:    "mesh.heartbeat_interval",
			Message: fmt.Sprintf("must be > 0; got %v", mc.HeartbeatInterval),
		})
	}

	if mc.AnnounceInterval <= 0 {
		errs = append(errs, ValidationError{
			Path:    "mesh.announce_interval",
			Message: fmt.Sprintf("must be > 0; got %v", mc.AnnounceInterval),
		})
	}

	if mc.PeerTimeout <= 0 {
		errs = append(errs, ValidationError{
			Path:    "mesh.peer_timeout",
			Message: fmt.Sprintf("must be > 0; got %v", mc.PeerTimeout),
		})
	} else if mc.HeartbeatInterval > 0 && mc.PeerTimeout <= mc.HeartbeatInterval {
		// A timeout at or below the heartbeat cadence evicts healthy peers
		errs = append(errs, ValidationError{
			Path:    "mesh.peer_timeout",
			Message: fmt.Sprintf("must be > mesh.heartbeat_interval (%v); got %v", mc.HeartbeatInterval, mc.PeerTimeout),
			Hint:    "recommended: 3x the heartbeat interval",
		})
	}

	if mc.RouteTTL <= 0 {
		errs = append(errs, ValidationError{
			Path:    "mesh.route_ttl",
			Message: fmt.Sprintf("must be > 0; got %v", mc.RouteTTL),
		})
	}

	if mc.MaxPeers <= 0 {
		errs = append(errs, ValidationError{
			Path:    "mesh.max_peers",
			Message: fmt.Sprintf("must be > 0; got %d", mc.MaxPeers),
		})
	}

	return errs
}

func (c *Config) validateTransport() []error {
	var errs []error
	tc := c.Transport

	switch tc.Kind {
	case "memory":
		// No listen configuration; endpoints are process-local names
	case "tcp":
		if err := validateHostPort(tc.TCP.ListenAddr); err != nil {
			errs = append(errs, ValidationError{
				Path:    "transport.tcp.listen_addr",
				Message: err.Error(),
				Hint:    "expected format: host:port",
			})
		}
		if tc.TCP.MaxConns <= 0 {
			errs = append(errs, ValidationError{
				Path:    "transport.tcp.max_conns",
				Message: fmt.Sprintf("must be > 0; got %d", tc.TCP.MaxConns),
			})
		}
	case "udp":
		if err := validateHostPort(tc.UDP.ListenAddr); err != nil {
			errs = append(errs, ValidationError{
				Path:    "transport.udp.listen_addr",
				Message: err.Error(),
				Hint:    "expected format: host:port",
			})
		}
		if tc.UDP.ProbeTimeout <= 0 {
			errs = append(errs, ValidationError{
				Path:    "transport.udp.probe_timeout",
				Message: fmt.Sprintf("must be > 0; got %v", tc.UDP.ProbeTimeout),
			})
		}
		for i, srv := range tc.UDP.STUNServers {
			if strings.TrimSpace(srv) == "" {
				errs = append(errs, ValidationError{
					Path:    fmt.Sprintf("transport.udp.stun_servers[%d]", i),
					Message: "must not be empty",
					Hint:    "expected stun:host:port or host:port",
				})
			}
		}
	case "swarm":
		if len(tc.Swarm.ListenAddrs) == 0 {
			errs = append(errs, ValidationError{
				Path:    "transport.swarm.listen_addrs",
				Message: "must not be empty",
			})
		}
		seen := make(map[string]bool)
		for i, addr := range tc.Swarm.ListenAddrs {
			path := fmt.Sprintf("transport.swarm.listen_addrs[%d]", i)
			if _, err := multiaddr.NewMultiaddr(addr); err != nil {
				errs = append(errs, ValidationError{
					Path:    path,
					Message: fmt.Sprintf("invalid multiaddr: %v", err),
					Hint:    "expected /ip{4,6}/.../tcp/<port> or /ip{4,6}/.../udp/<port>/quic-v1",
				})
				continue
			}
			if seen[addr] {
				errs = append(errs, ValidationError{
					Path:    path,
					Message: "duplicate listen address",
				})
			}
			seen[addr] = true
		}
		for i, peerAddr := range tc.Swarm.BootstrapPeers {
			path := fmt.Sprintf("transport.swarm.bootstrap_peers[%d]", i)
			if _, err := multiaddr.NewMultiaddr(peerAddr); err != nil {
				errs = append(errs, ValidationError{
					Path:    path,
					Message: fmt.Sprintf("invalid multiaddr: %v", err),
					Hint:    "expected /ip{4,6}/.../tcp/<port>/p2p/<peerID>",
				})
				continue
			}
			if !strings.Contains(peerAddr, "/p2p/") {
				errs = append(errs, ValidationError{
					Path:    path,
					Message: "missing /p2p/<peerID> component",
					Hint:    "expected /ip{4,6}/.../tcp/<port>/p2p/<peerID>",
				})
			}
		}
	default:
		errs = append(errs, ValidationError{
			Path:    "transport.kind",
			Message: fmt.Sprintf("unknown transport kind %q", tc.Kind),
			Hint:    "allowed values: memory, tcp, udp, swarm",
		})
	}

	for i, ep := range tc.Bootstrap {
		path := fmt.Sprintf("transport.bootstrap[%d]", i)
		if err := validateEndpoint(ep); err != nil {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: err.Error(),
				Hint:    "expected mem://name, tcp://host:port, udp://host:port or a /p2p/ multiaddr",
			})
		}
	}

	return errs
}

func (c *Config) validateGateway() []error {
	var errs []error
	gc := c.Gateway

	if !gc.Enabled {
		return errs
	}

	if err := validateHostPort(gc.ListenAddr); err != nil {
		errs = append(errs, ValidationError{
			Path:    "gateway.listen_addr",
			Message: err.Error(),
			Hint:    "expected format: host:port",
		})
	}

	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error
	log := c.Logging

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[log.Level] {
		errs = append(errs, ValidationError{
			Path:    "logging.level",
			Message: fmt.Sprintf("invalid value %q", log.Level),
			Hint:    "allowed values: debug, info, warn, error",
		})
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[log.Format] {
		errs = append(errs, ValidationError{
			Path:    "logging.format",
			Message: fmt.Sprintf("invalid value %q", log.Format),
			Hint:    "allowed values: json, console",
		})
	}

	if log.OutputFile != "" {
		dir := filepath.Dir(log.OutputFile)
		if dir != "" && dir != "." {
			if err := validateDirWritable(dir); err != nil {
				errs = append(errs, ValidationError{
					Path:    "logging.output_file",
					Message: fmt.Sprintf("parent directory not writable: %v", err),
				})
			}
		}
	}

	return errs
}

// Helper validation functions

func validateDataDir(path string) error {
	if path == "" {
		return fmt.Errorf("must not be empty")
	}

	// Expand ~ to home directory
	expandedPath := os.ExpandEnv(path)
	if strings.HasPrefix(expandedPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("cannot determine home directory: %v", err)
		}
		expandedPath = filepath.Join(home, expandedPath[1:])
	}

	if info, err := os.Stat(expandedPath); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("path exists but is not a directory")
		}
		testFile := filepath.Join(expandedPath, ".write_test")
		if err := os.WriteFile(testFile, []byte(""), 0644); err != nil {
			return fmt.Errorf("directory not writable: %v", err)
		}
		os.Remove(testFile)
	} else if os.IsNotExist(err) {
		// Directory doesn't exist; it will be created at runtime, so only
		// reject when an existing parent is unusable
		parent := filepath.Dir(expandedPath)
		if parent == "" || parent == "." {
			parent = "."
		}
		if info, err := os.Stat(parent); err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("parent directory not accessible: %v", err)
			}
		} else if !info.IsDir() {
			return fmt.Errorf("parent path is not a directory")
		} else {
			if err := validateDirWritable(parent); err != nil {
				return fmt.Errorf("parent directory not writable: %v", err)
			}
		}
	} else {
		return fmt.Errorf("cannot access path: %v", err)
	}

	return nil
}

func validateDirWritable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot access directory: %v", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory")
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte(""), 0644); err != nil {
		return fmt.Errorf("directory not writable: %v", err)
	}
	os.Remove(testFile)

	return nil
}

func validateHostPort(hostPort string) error {
	parts := strings.Split(hostPort, ":")
	if len(parts) != 2 {
		return fmt.Errorf("expected format host:port")
	}

	host := parts[0]
	port := parts[1]

	if host == "" {
		return fmt.Errorf("host must not be empty")
	}

	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("port must be a number between 0 and 65535; got %q", port)
	}

	return nil
}

func validateEndpoint(endpoint string) error {
	switch {
	case strings.HasPrefix(endpoint, "mem://"):
		if strings.TrimPrefix(endpoint, "mem://") == "" {
			return fmt.Errorf("memory endpoint name must not be empty")
		}
	case strings.HasPrefix(endpoint, "tcp://"):
		return validateHostPort(strings.TrimPrefix(endpoint, "tcp://"))
	case strings.HasPrefix(endpoint, "udp://"):
		return validateHostPort(strings.TrimPrefix(endpoint, "udp://"))
	case strings.HasPrefix(endpoint, "/"):
		if _, err := multiaddr.NewMultiaddr(endpoint); err != nil {
			return fmt.Errorf("invalid multiaddr: %v", err)
		}
		if !strings.Contains(endpoint, "/p2p/") {
			return fmt.Errorf("missing /p2p/<peerID> component")
		}
	default:
		return fmt.Errorf("unknown endpoint scheme %q", endpoint)
	}
	return nil
}
