// Package identity manages the node's long-lived key pair. The key is the
// stable part of a node's mesh address: the address embeds a digest of the
// public key, so losing the key means losing the address.
package identity

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/ipv7net/mesh/pkg/address"
)

// KeyFileName is the identity file stored inside the node data directory.
const KeyFileName = "identity.key"

// Identity holds a node's Ed25519 key pair.
type Identity struct {
	PrivateKey crypto.PrivKey
	PublicKey  crypto.PubKey
}

// Generate creates a fresh Ed25519 identity.
func Generate() (*Identity, error) {
	priv, pub, err := crypto.GenerateKeyPairWithReader(crypto.Ed25519, 2048, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	return &Identity{
		PrivateKey: priv,
		PublicKey:  pub,
	}, nil
}

// Load reads a marshaled private key from path.
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}

	priv, err := crypto.UnmarshalPrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal private key: %w", err)
	}

	return &Identity{
		PrivateKey: priv,
		PublicKey:  priv.GetPublic(),
	}, nil
}

// Save writes the marshaled private key to path with owner-only permissions.
func (id *Identity) Save(path string) error {
	data, err := crypto.MarshalPrivateKey(id.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create identity directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}

	return nil
}

// Path returns the identity file location for a data directory.
func Path(dataDir string) string {
	return filepath.Join(dataDir, KeyFileName)
}

// LoadOrCreate loads the identity from <dataDir>/identity.key, generating
// and persisting a new one when the file does not exist. A file that exists
// but cannot be parsed is an error rather than a silent regeneration: a new
// key would change the node's address and orphan every installed route.
// The returned bool reports whether a new identity was created.
func LoadOrCreate(dataDir string) (*Identity, bool, error) {
	path := Path(dataDir)

	if _, err := os.Stat(path); err == nil {
		id, err := Load(path)
		if err != nil {
			return nil, false, err
		}
		return id, false, nil
	} else if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("failed to stat identity file: %w", err)
	}

	id, err := Generate()
	if err != nil {
		return nil, false, err
	}

	if err := id.Save(path); err != nil {
		return nil, false, err
	}

	return id, true, nil
}

// Address derives the node's mesh address from the public key. coord may be
// nil for a node that does not disclose its location.
func (id *Identity) Address(coord *address.Coordinate) (address.Address, error) {
	return address.FromPublicKey(id.PublicKey, coord)
}

// PeerID returns the libp2p peer ID for this identity, used by the swarm
// transport and printed alongside the mesh address for bootstrap wiring.
func (id *Identity) PeerID() (peer.ID, error) {
	return peer.IDFromPublicKey(id.PublicKey)
}
