// Package identity provides the node identity for the callme layer.
//
// A node is identified by a Curve25519 public key plus a short checksum,
// rendered as a hex string. The keypair doubles as the static key for the
// Noise handshake securing the signaling channel.
//
// Example:
//
//	id, err := identity.Generate()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Node ID:", id.NodeID())
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// nodeIDLen is the byte length of a node identifier: a 32-byte public key
// followed by a 2-byte checksum.
const nodeIDLen = 34

// KeyPair holds the node's long-term Curve25519 keys.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a new random keypair.
func GenerateKeyPair() (*KeyPair, error) {
	publicKey, privateKey, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: *publicKey, Private: *privateKey}, nil
}

// FromSecretKey derives the keypair for an existing private key.
func FromSecretKey(secretKey [32]byte) (*KeyPair, error) {
	if secretKey == ([32]byte{}) {
		return nil, errors.New("invalid secret key: all zeros")
	}

	publicKey, err := curve25519.X25519(secretKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}

	keyPair := &KeyPair{Private: secretKey}
	copy(keyPair.Public[:], publicKey)
	return keyPair, nil
}

// Identity is a node identity: the keypair plus its derived node ID.
type Identity struct {
	keyPair *KeyPair
	nodeID  string
}

// Generate creates a fresh node identity.
func Generate() (*Identity, error) {
	keyPair, err := GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return FromKeyPair(keyPair)
}

// FromKeyPair builds an identity around an existing keypair.
func FromKeyPair(keyPair *KeyPair) (*Identity, error) {
	if keyPair == nil {
		return nil, errors.New("keypair cannot be nil")
	}
	return &Identity{
		keyPair: keyPair,
		nodeID:  encodeNodeID(keyPair.Public),
	}, nil
}

// NodeID returns the node's stable identifier.
func (id *Identity) NodeID() string {
	return id.nodeID
}

// PublicKey returns the node's long-term public key.
func (id *Identity) PublicKey() [32]byte {
	return id.keyPair.Public
}

// PrivateKey returns the node's long-term private key for handshake use.
func (id *Identity) PrivateKey() [32]byte {
	return id.keyPair.Private
}

// encodeNodeID renders a public key as a checksummed hex identifier.
func encodeNodeID(publicKey [32]byte) string {
	data := make([]byte, nodeIDLen)
	copy(data[:32], publicKey[:])
	checksum := keyChecksum(publicKey)
	copy(data[32:], checksum[:])
	return hex.EncodeToString(data)
}

// ParseNodeID validates a node identifier string and returns the public
// key it encodes.
func ParseNodeID(s string) ([32]byte, error) {
	var publicKey [32]byte

	if len(s) != nodeIDLen*2 {
		return publicKey, fmt.Errorf("invalid node ID length %d", len(s))
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return publicKey, fmt.Errorf("invalid node ID encoding: %w", err)
	}

	copy(publicKey[:], data[:32])
	checksum := keyChecksum(publicKey)
	if data[32] != checksum[0] || data[33] != checksum[1] {
		return publicKey, errors.New("invalid node ID checksum")
	}
	return publicKey, nil
}

// keyChecksum XOR-folds a public key into two bytes.
func keyChecksum(publicKey [32]byte) [2]byte {
	var checksum [2]byte
	for i, b := range publicKey {
		checksum[i%2] ^= b
	}
	return checksum
}
