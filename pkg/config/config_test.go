package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()

	tmp := t.TempDir()
	cfg.Node.DataDir = tmp

	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("Expected default config to validate, got %d errors: %v", len(errs), errs)
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Mesh.HeartbeatInterval != 30*time.Second {
		t.Errorf("Expected heartbeat interval 30s, got %v", cfg.Mesh.HeartbeatInterval)
	}
	if cfg.Mesh.AnnounceInterval != 60*time.Second {
		t.Errorf("Expected announce interval 60s, got %v", cfg.Mesh.AnnounceInterval)
	}
	if cfg.Mesh.PeerTimeout != 90*time.Second {
		t.Errorf("Expected peer timeout 90s, got %v", cfg.Mesh.PeerTimeout)
	}
	if cfg.Mesh.RouteTTL != 5*time.Minute {
		t.Errorf("Expected route TTL 5m, got %v", cfg.Mesh.RouteTTL)
	}
	if cfg.Transport.Kind != "memory" {
		t.Errorf("Expected default transport kind memory, got %q", cfg.Transport.Kind)
	}
	if cfg.Gateway.Enabled {
		t.Error("Expected gateway disabled by default")
	}
}

func TestLoadFromYAML(t *testing.T) {
	yamlContent := `
node:
  data_dir: /tmp/mesh-test
  location:
    enabled: true
    latitude: 52.52
    longitude: 13.405
mesh:
  heartbeat_interval: 10s
  peer_timeout: 45s
transport:
  kind: tcp
  tcp:
    listen_addr: 127.0.0.1:4470
  bootstrap:
    - tcp://10.0.0.1:4470
gateway:
  enabled: true
  listen_addr: 127.0.0.1:8470
`
	path := filepath.Join(t.TempDir(), "node.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := LoadFromYAML(path)
	if err != nil {
		t.Fatalf("LoadFromYAML failed: %v", err)
	}

	if cfg.Node.DataDir != "/tmp/mesh-test" {
		t.Errorf("Expected data_dir /tmp/mesh-test, got %q", cfg.Node.DataDir)
	}
	if !cfg.Node.Location.Enabled {
		t.Error("Expected location enabled")
	}
	if cfg.Node.Location.Latitude != 52.52 {
		t.Errorf("Expected latitude 52.52, got %v", cfg.Node.Location.Latitude)
	}
	if cfg.Mesh.HeartbeatInterval != 10*time.Second {
		t.Errorf("Expected heartbeat interval 10s, got %v", cfg.Mesh.HeartbeatInterval)
	}
	if cfg.Mesh.PeerTimeout != 45*time.Second {
		t.Errorf("Expected peer timeout 45s, got %v", cfg.Mesh.PeerTimeout)
	}
	if cfg.Transport.Kind != "tcp" {
		t.Errorf("Expected transport kind tcp, got %q", cfg.Transport.Kind)
	}
	if len(cfg.Transport.Bootstrap) != 1 || cfg.Transport.Bootstrap[0] != "tcp://10.0.0.1:4470" {
		t.Errorf("Expected one bootstrap endpoint, got %v", cfg.Transport.Bootstrap)
	}
	if !cfg.Gateway.Enabled {
		t.Error("Expected gateway enabled")
	}

	// Fields absent from the file keep their defaults
	if cfg.Mesh.AnnounceInterval != 60*time.Second {
		t.Errorf("Expected default announce interval to survive partial config, got %v", cfg.Mesh.AnnounceInterval)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected default logging level to survive partial config, got %q", cfg.Logging.Level)
	}
}

func TestLoadFromYAMLRejectsUnknownFields(t *testing.T) {
	yamlContent := `
node:
  data_dir: /tmp/mesh-test
  bogus_field: true
`
	path := filepath.Join(t.TempDir(), "node.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := LoadFromYAML(path); err == nil {
		t.Fatal("Expected error for unknown config field, got nil")
	}
}

func TestLoadFromYAMLMissingFile(t *testing.T) {
	if _, err := LoadFromYAML(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Expected error for missing config file, got nil")
	}
}
