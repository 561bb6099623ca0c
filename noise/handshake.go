// Package noise secures the callme signaling channel with the Noise
// Protocol Framework. It implements the IK pattern: the initiator already
// knows the responder's static public key (learned from its node ID), and
// both sides end up mutually authenticated with forward secrecy.
package noise

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/flynn/noise"

	"github.com/opd-ai/callme/identity"
)

var (
	// ErrHandshakeNotComplete indicates the handshake is still in progress.
	ErrHandshakeNotComplete = errors.New("handshake not complete")
	// ErrHandshakeComplete indicates the handshake already finished.
	ErrHandshakeComplete = errors.New("handshake already complete")
)

// Role defines whether we initiate or respond to a handshake.
type Role uint8

const (
	// Initiator starts the handshake and must know the peer's static key.
	Initiator Role = iota
	// Responder answers a handshake initiation.
	Responder
)

// Handshake is one IK handshake in progress. After completion it carries
// the transport cipher states; Encrypt and Decrypt are safe for concurrent
// use.
type Handshake struct {
	role     Role
	state    *noise.HandshakeState
	complete bool

	send *noise.CipherState
	recv *noise.CipherState

	mu sync.Mutex
}

// NewHandshake creates an IK handshake. staticPriv is our long-term
// private key; peerPub is the peer's static public key, required for the
// initiator and ignored for the responder.
func NewHandshake(role Role, staticPriv [32]byte, peerPub []byte) (*Handshake, error) {
	if role == Initiator && len(peerPub) != 32 {
		return nil, fmt.Errorf("initiator requires a 32-byte peer public key, got %d", len(peerPub))
	}

	keyPair, err := identity.FromSecretKey(staticPriv)
	if err != nil {
		return nil, fmt.Errorf("derive static keypair: %w", err)
	}

	staticKey := noise.DHKey{
		Private: make([]byte, 32),
		Public:  make([]byte, 32),
	}
	copy(staticKey.Private, keyPair.Private[:])
	copy(staticKey.Public, keyPair.Public[:])

	config := noise.Config{
		CipherSuite:   noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256),
		Random:        rand.Reader,
		Pattern:       noise.HandshakeIK,
		Initiator:     role == Initiator,
		StaticKeypair: staticKey,
	}
	if role == Initiator {
		config.PeerStatic = make([]byte, 32)
		copy(config.PeerStatic, peerPub)
	}

	state, err := noise.NewHandshakeState(config)
	if err != nil {
		return nil, fmt.Errorf("create handshake state: %w", err)
	}

	return &Handshake{role: role, state: state}, nil
}

// WriteInitiation produces the initiator's opening message.
func (h *Handshake) WriteInitiation() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.complete {
		return nil, ErrHandshakeComplete
	}
	if h.role != Initiator {
		return nil, errors.New("only the initiator writes the opening message")
	}

	message, _, _, err := h.state.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("write initiation: %w", err)
	}
	return message, nil
}

// ReadInitiationAndRespond consumes the initiator's opening message and
// produces the responder's reply, completing the responder side.
func (h *Handshake) ReadInitiationAndRespond(received []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.complete {
		return nil, ErrHandshakeComplete
	}
	if h.role != Responder {
		return nil, errors.New("only the responder answers an initiation")
	}

	if _, _, _, err := h.state.ReadMessage(nil, received); err != nil {
		return nil, fmt.Errorf("read initiation: %w", err)
	}

	message, initToResp, respToInit, err := h.state.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("write response: %w", err)
	}

	// The first cipher state carries initiator-to-responder traffic.
	h.recv = initToResp
	h.send = respToInit
	h.complete = true
	return message, nil
}

// ReadResponse consumes the responder's reply, completing the initiator
// side.
func (h *Handshake) ReadResponse(received []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.complete {
		return ErrHandshakeComplete
	}
	if h.role != Initiator {
		return errors.New("only the initiator reads the response message")
	}

	_, initToResp, respToInit, err := h.state.ReadMessage(nil, received)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	h.send = initToResp
	h.recv = respToInit
	h.complete = true
	return nil
}

// Complete reports whether transport encryption is available.
func (h *Handshake) Complete() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.complete
}

// PeerStatic returns the peer's authenticated static public key.
func (h *Handshake) PeerStatic() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.complete {
		return nil, ErrHandshakeNotComplete
	}
	remote := h.state.PeerStatic()
	key := make([]byte, len(remote))
	copy(key, remote)
	return key, nil
}

// Encrypt protects a transport message after handshake completion.
func (h *Handshake) Encrypt(plaintext []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.complete {
		return nil, ErrHandshakeNotComplete
	}
	return h.send.Encrypt(nil, nil, plaintext)
}

// Decrypt opens a transport message after handshake completion.
func (h *Handshake) Decrypt(ciphertext []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.complete {
		return nil, ErrHandshakeNotComplete
	}
	return h.recv.Decrypt(nil, nil, ciphertext)
}
