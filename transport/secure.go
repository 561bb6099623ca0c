package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	cnoise "github.com/opd-ai/callme/noise"
)

var (
	// ErrPeerKeyUnknown indicates no static key is registered for the peer,
	// so a Noise handshake cannot be initiated.
	ErrPeerKeyUnknown = errors.New("no static key known for peer")

	// ErrHandshakeTimeout indicates the peer did not complete the Noise
	// handshake in time.
	ErrHandshakeTimeout = errors.New("noise handshake timed out")
)

// HandshakeTimeout is the maximum time Send waits for an in-flight Noise
// handshake before reporting the peer unreachable.
const HandshakeTimeout = 5 * time.Second

// secureSession tracks the handshake state for one remote address.
type secureSession struct {
	handshake *cnoise.Handshake
	role      cnoise.Role
	ready     chan struct{} // closed once the handshake completes
}

// SecureTransport wraps a Transport with Noise-IK encryption. Outbound
// packets to a peer with a registered static key are encrypted after an
// automatic two-message handshake; inbound encrypted packets are decrypted
// and dispatched to the registered handlers.
type SecureTransport struct {
	underlying Transport
	staticPriv [32]byte

	sessions map[string]*secureSession // keyed by addr.String()
	peerKeys map[string][32]byte
	handlers map[PacketType]PacketHandler

	mu sync.RWMutex
}

// NewSecureTransport creates a Noise wrapper around an existing transport.
// staticPriv is the node's long-term private key.
func NewSecureTransport(underlying Transport, staticPriv [32]byte) (*SecureTransport, error) {
	if underlying == nil {
		return nil, errors.New("underlying transport cannot be nil")
	}

	t := &SecureTransport{
		underlying: underlying,
		staticPriv: staticPriv,
		sessions:   make(map[string]*secureSession),
		peerKeys:   make(map[string][32]byte),
		handlers:   make(map[PacketType]PacketHandler),
	}

	underlying.RegisterHandler(PacketNoiseHandshake, t.handleNoiseHandshake)
	underlying.RegisterHandler(PacketNoiseMessage, t.handleNoiseMessage)

	logrus.WithFields(logrus.Fields{
		"function":   "NewSecureTransport",
		"local_addr": underlying.LocalAddr().String(),
	}).Info("Noise transport wrapper created")

	return t, nil
}

// SetPeerKey registers the static public key for a peer address, enabling
// handshake initiation toward it.
func (t *SecureTransport) SetPeerKey(addr net.Addr, publicKey [32]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peerKeys[addr.String()] = publicKey
}

// RegisterHandler registers a handler for a decrypted packet type.
func (t *SecureTransport) RegisterHandler(packetType PacketType, handler PacketHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[packetType] = handler
}

// LocalAddr returns the local address of the underlying transport.
func (t *SecureTransport) LocalAddr() net.Addr {
	return t.underlying.LocalAddr()
}

// Close shuts down the underlying transport.
func (t *SecureTransport) Close() error {
	return t.underlying.Close()
}

// Send encrypts and sends a packet, performing the Noise handshake first
// when no session exists with the destination. It may block up to
// HandshakeTimeout while the handshake is in flight.
func (t *SecureTransport) Send(packet *Packet, addr net.Addr) error {
	session, err := t.sessionFor(addr)
	if err != nil {
		return err
	}

	select {
	case <-session.ready:
	case <-time.After(HandshakeTimeout):
		return fmt.Errorf("%w: %s", ErrHandshakeTimeout, addr)
	}

	plaintext, err := packet.Serialize()
	if err != nil {
		return err
	}
	ciphertext, err := session.handshake.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("encrypt packet: %w", err)
	}

	return t.underlying.Send(&Packet{
		PacketType: PacketNoiseMessage,
		Data:       ciphertext,
	}, addr)
}

// sessionFor returns the session with the given address, initiating a
// handshake when none exists yet.
func (t *SecureTransport) sessionFor(addr net.Addr) (*secureSession, error) {
	key := addr.String()

	t.mu.Lock()
	if session, exists := t.sessions[key]; exists {
		t.mu.Unlock()
		return session, nil
	}

	peerKey, known := t.peerKeys[key]
	if !known {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrPeerKeyUnknown, key)
	}

	handshake, err := cnoise.NewHandshake(cnoise.Initiator, t.staticPriv, peerKey[:])
	if err != nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("create handshake: %w", err)
	}
	session := &secureSession{
		handshake: handshake,
		role:      cnoise.Initiator,
		ready:     make(chan struct{}),
	}
	t.sessions[key] = session
	t.mu.Unlock()

	initiation, err := handshake.WriteInitiation()
	if err != nil {
		t.dropSession(key)
		return nil, err
	}
	if err := t.underlying.Send(&Packet{
		PacketType: PacketNoiseHandshake,
		Data:       initiation,
	}, addr); err != nil {
		t.dropSession(key)
		return nil, fmt.Errorf("send handshake initiation: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "sessionFor",
		"peer":     key,
	}).Debug("Noise handshake initiated")

	return session, nil
}

func (t *SecureTransport) dropSession(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, key)
}

// handleNoiseHandshake processes handshake packets for both roles.
func (t *SecureTransport) handleNoiseHandshake(packet *Packet, addr net.Addr) error {
	key := addr.String()

	t.mu.RLock()
	session, exists := t.sessions[key]
	t.mu.RUnlock()

	// Initiator side: this is the responder's reply.
	if exists && session.role == cnoise.Initiator && !session.handshake.Complete() {
		if err := session.handshake.ReadResponse(packet.Data); err != nil {
			t.dropSession(key)
			return fmt.Errorf("read handshake response from %s: %w", key, err)
		}
		close(session.ready)

		logrus.WithFields(logrus.Fields{
			"function": "handleNoiseHandshake",
			"peer":     key,
		}).Debug("Noise handshake completed as initiator")
		return nil
	}

	// Responder side: a fresh initiation, possibly replacing a stale session.
	handshake, err := cnoise.NewHandshake(cnoise.Responder, t.staticPriv, nil)
	if err != nil {
		return fmt.Errorf("create responder handshake: %w", err)
	}
	response, err := handshake.ReadInitiationAndRespond(packet.Data)
	if err != nil {
		return fmt.Errorf("read handshake initiation from %s: %w", key, err)
	}

	session = &secureSession{
		handshake: handshake,
		role:      cnoise.Responder,
		ready:     make(chan struct{}),
	}
	close(session.ready)

	t.mu.Lock()
	t.sessions[key] = session
	t.mu.Unlock()

	if err := t.underlying.Send(&Packet{
		PacketType: PacketNoiseHandshake,
		Data:       response,
	}, addr); err != nil {
		t.dropSession(key)
		return fmt.Errorf("send handshake response: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "handleNoiseHandshake",
		"peer":     key,
	}).Debug("Noise handshake completed as responder")

	return nil
}

// handleNoiseMessage decrypts an encrypted packet and dispatches the inner
// packet to its registered handler.
func (t *SecureTransport) handleNoiseMessage(packet *Packet, addr net.Addr) error {
	key := addr.String()

	t.mu.RLock()
	session, exists := t.sessions[key]
	t.mu.RUnlock()

	if !exists || !session.handshake.Complete() {
		return fmt.Errorf("encrypted packet from %s without a completed session", key)
	}

	plaintext, err := session.handshake.Decrypt(packet.Data)
	if err != nil {
		return fmt.Errorf("decrypt packet from %s: %w", key, err)
	}

	inner, err := ParsePacket(plaintext)
	if err != nil {
		return fmt.Errorf("parse decrypted packet from %s: %w", key, err)
	}

	t.mu.RLock()
	handler, registered := t.handlers[inner.PacketType]
	t.mu.RUnlock()

	if !registered {
		logrus.WithFields(logrus.Fields{
			"function":    "handleNoiseMessage",
			"packet_type": inner.PacketType,
			"from":        key,
		}).Debug("No handler for decrypted packet type")
		return nil
	}
	return handler(inner, addr)
}
