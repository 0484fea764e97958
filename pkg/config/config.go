package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration for a mesh node
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Mesh      MeshConfig      `yaml:"mesh"`
	Transport TransportConfig `yaml:"transport"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// NodeConfig contains node-specific configuration
type NodeConfig struct {
	DataDir  string         `yaml:"data_dir"` // Holds identity.key and runtime state
	Location LocationConfig `yaml:"location"` // Physical position embedded in the address
}

// LocationConfig pins the node to a physical position. When disabled the
// node address carries the unknown-location sentinel instead of a geohash.
type LocationConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// MeshConfig contains protocol-level tunables
type MeshConfig struct {
	EnableRelay       bool             `yaml:"enable_relay"`       // Forward packets addressed to other nodes
	Capabilities      CapabilityConfig `yaml:"capabilities"`       // Advertised in ANNOUNCE packets
	HeartbeatInterval time.Duration    `yaml:"heartbeat_interval"` // HEARTBEAT cadence to direct neighbors
	AnnounceInterval  time.Duration    `yaml:"announce_interval"`  // ANNOUNCE flood cadence
	PeerTimeout       time.Duration    `yaml:"peer_timeout"`       // Silence before a peer is evicted
	RouteTTL          time.Duration    `yaml:"route_ttl"`          // Staleness bound for installed routes
	MaxPeers          int              `yaml:"max_peers"`          // Peer table capacity
}

// CapabilityConfig selects the capability bits advertised to the mesh
type CapabilityConfig struct {
	Relay     bool `yaml:"relay"`
	Multipath bool `yaml:"multipath"`
	Storage   bool `yaml:"storage"`
	Gateway   bool `yaml:"gateway"`
}

// TransportConfig selects and configures the packet transport
type TransportConfig struct {
	Kind      string      `yaml:"kind"` // memory | tcp | udp | swarm
	TCP       TCPConfig   `yaml:"tcp"`
	UDP       UDPConfig   `yaml:"udp"`
	Swarm     SwarmConfig `yaml:"swarm"`
	Bootstrap []string    `yaml:"bootstrap"` // Endpoints dialed once at startup
}

// TCPConfig configures the length-prefixed TCP transport
type TCPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	MaxConns   int    `yaml:"max_conns"`
}

// UDPConfig configures the datagram transport
type UDPConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	STUNServers  []string      `yaml:"stun_servers"`  // Public-endpoint discovery, optional
	ProbeTimeout time.Duration `yaml:"probe_timeout"` // Per-server STUN probe deadline
}

// SwarmConfig configures the libp2p transport
type SwarmConfig struct {
	ListenAddrs    []string `yaml:"listen_addrs"`    // Multiaddrs to listen on
	BootstrapPeers []string `yaml:"bootstrap_peers"` // Multiaddrs dialed at host start
}

// GatewayConfig contains the HTTP diagnostics API configuration
type GatewayConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // json or console
	OutputFile string `yaml:"output_file"` // Empty = stdout only
}

// DefaultConfig returns a configuration with protocol defaults. The result
// validates cleanly and runs a single-node mesh on the in-memory transport.
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			DataDir: "./data",
		},
		Mesh: MeshConfig{
			EnableRelay: true,
			Capabilities: CapabilityConfig{
				Relay: true,
			},
			HeartbeatInterval: 30 * time.Second,
			AnnounceInterval:  60 * time.Second,
			PeerTimeout:       90 * time.Second,
			RouteTTL:          5 * time.Minute,
			MaxPeers:          128,
		},
		Transport: TransportConfig{
			Kind: "memory",
			TCP: TCPConfig{
				ListenAddr: "0.0.0.0:4470",
				MaxConns:   256,
			},
			UDP: UDPConfig{
				ListenAddr:   "0.0.0.0:4470",
				ProbeTimeout: 5 * time.Second,
			},
			Swarm: SwarmConfig{
				ListenAddrs: []string{"/ip4/0.0.0.0/tcp/4471", "/ip4/0.0.0.0/udp/4471/quic-v1"},
			},
		},
		Gateway: GatewayConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:8470",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadFromYAML loads a config from a YAML file. Decoding is strict: unknown
// keys are rejected rather than silently ignored, so a typo in a tunable
// cannot masquerade as a default. Fields absent from the file keep their
// defaults.
func LoadFromYAML(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
