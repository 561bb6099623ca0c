package voice

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultRingTimeout is the interval after which an unanswered dialing or
// ringing session auto-transitions to ended.
const DefaultRingTimeout = 30 * time.Second

// IdentityProvider exposes the stable identifier of the local node, usable
// for addressing incoming connections. It is owned by the transport layer.
type IdentityProvider interface {
	NodeID() string
}

// Manager orchestrates voice call sessions between the RPC dispatch layer
// and the signaling adapter. It owns session creation, validation and
// lifecycle transitions through the Store, and translates transport events
// into state changes and vice versa.
//
// The manager supports concurrent invocation from multiple RPC requests,
// timers and inbound network events. No outbound signaling call is made
// while holding store or manager locks, so transport latency never stalls
// unrelated sessions.
type Manager struct {
	store    *Store
	signaler Signaler
	identity IdentityProvider

	initialized bool
	ringTimeout time.Duration

	// Pending ring/dial timeout tasks, cancelled on any transition out of
	// the waiting state. Cancelling after the timer has fired is a no-op.
	timers map[CallID]*time.Timer

	eventCallback EventCallback

	mu sync.RWMutex
}

// NewManager creates a voice call manager with the given signaling adapter
// and node identity provider. Initialize must be called before any session
// operation.
func NewManager(signaler Signaler, identity IdentityProvider) (*Manager, error) {
	logrus.WithFields(logrus.Fields{
		"function": "NewManager",
	}).Info("Creating voice call manager")

	if signaler == nil {
		return nil, errors.New("signaler cannot be nil")
	}
	if identity == nil {
		return nil, errors.New("identity provider cannot be nil")
	}

	return &Manager{
		store:       NewStore(),
		signaler:    signaler,
		identity:    identity,
		ringTimeout: DefaultRingTimeout,
		timers:      make(map[CallID]*time.Timer),
	}, nil
}

// SetEventCallback registers a callback for lifecycle notifications, or
// unregisters it when callback is nil.
func (m *Manager) SetEventCallback(callback EventCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventCallback = callback
}

// SetRingTimeout configures how long dialing and ringing sessions wait for
// a peer response before auto-ending. Already-scheduled timers keep their
// previous interval.
func (m *Manager) SetRingTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("ring timeout must be positive, got %v", timeout)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ringTimeout = timeout
	return nil
}

// RingTimeout returns the configured ring/dial timeout.
func (m *Manager) RingTimeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ringTimeout
}

// Store exposes the session store for read-only inspection in tests and
// monitoring code.
func (m *Manager) Store() *Store {
	return m.store
}

// Initialize performs the one-time setup of the manager. It is idempotent:
// subsequent calls return success without side effects. All other
// operations fail with ErrNotInitialized until Initialize succeeds.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		logrus.WithFields(logrus.Fields{
			"function": "Initialize",
		}).Debug("Voice call manager already initialized")
		return nil
	}

	m.initialized = true

	logrus.WithFields(logrus.Fields{
		"function": "Initialize",
		"node_id":  m.identity.NodeID(),
	}).Info("Voice call manager initialized")

	return nil
}

// Initialized reports whether Initialize has completed.
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// checkInitialized gates every session operation on completed setup.
func (m *Manager) checkInitialized() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return ErrNotInitialized
	}
	return nil
}

// NodeID returns the local node identity. It is a pure read with no
// session interaction.
func (m *Manager) NodeID() (PeerAddress, error) {
	if err := m.checkInitialized(); err != nil {
		return "", err
	}
	return PeerAddress(m.identity.NodeID()), nil
}

// StartCall creates an outgoing session in the dialing state and issues a
// dial intent to the signaling adapter.
//
// When the adapter cannot deliver the request the operation fails with
// ErrTransportUnavailable and the session is not left queryable: it is
// created, moved to failed and removed under the immediate-removal
// retention policy, so no half-dialed record lingers.
func (m *Manager) StartCall(peer PeerAddress) (CallID, error) {
	if err := m.checkInitialized(); err != nil {
		return "", err
	}
	if err := ValidatePeer(peer); err != nil {
		return "", err
	}

	session, err := m.store.Create(DirectionOutgoing, peer)
	if err != nil {
		return "", err
	}
	id := session.ID()

	logrus.WithFields(logrus.Fields{
		"function": "StartCall",
		"call_id":  id,
		"peer":     peer,
	}).Info("Starting outgoing call")

	// Signaling happens outside all locks.
	if err := m.signaler.CallRequest(peer, id); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "StartCall",
			"call_id":  id,
			"error":    err.Error(),
		}).Error("Failed to send call request")

		_, _ = m.store.Transition(id, EventTransportError)
		m.store.Remove(id)
		m.emit(CallEvent{CallID: id, Type: EventCallFailed, Peer: peer})
		return "", fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}

	m.scheduleTimeout(id)
	return id, nil
}

// AcceptCall answers an incoming call. It is valid only while the session
// is ringing; it transitions the session to connected and signals the
// acceptance outward.
func (m *Manager) AcceptCall(id CallID) error {
	if err := m.checkInitialized(); err != nil {
		return err
	}

	snapshot, err := m.store.Get(id)
	if err != nil {
		return err
	}

	state, err := m.store.Transition(id, EventLocalAccept)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return fmt.Errorf("%w: cannot accept call in state %v", ErrInvalidState, state)
		}
		return err
	}
	m.cancelTimeout(id)

	logrus.WithFields(logrus.Fields{
		"function": "AcceptCall",
		"call_id":  id,
		"peer":     snapshot.Peer,
	}).Info("Call accepted")

	if err := m.signaler.CallResponse(snapshot.Peer, id, true); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "AcceptCall",
			"call_id":  id,
			"error":    err.Error(),
		}).Error("Failed to send call response")

		// Connected sessions define a transport-error transition, so the
		// session moves to failed and the error is still surfaced.
		_, _ = m.store.Transition(id, EventTransportError)
		m.store.Remove(id)
		m.emit(CallEvent{CallID: id, Type: EventCallFailed, Peer: snapshot.Peer})
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}

	m.emit(CallEvent{CallID: id, Type: EventCallConnected, Peer: snapshot.Peer})
	return nil
}

// EndCall terminates a session from the dialing, ringing or connected
// state, signals the termination outward and removes the session from the
// active set.
//
// Ending an already-terminal session fails: the state machine is strict,
// so callers that want idempotent hangup must check CallStatus first. Under
// the immediate-removal policy a finished call usually surfaces as
// ErrCallNotFound rather than ErrInvalidState.
func (m *Manager) EndCall(id CallID) error {
	if err := m.checkInitialized(); err != nil {
		return err
	}

	snapshot, err := m.store.Get(id)
	if err != nil {
		return err
	}

	_, event, err := m.store.TransitionLocalEnd(id)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return fmt.Errorf("%w: call already terminated", ErrInvalidState)
		}
		return err
	}
	m.cancelTimeout(id)
	m.store.Remove(id)

	logrus.WithFields(logrus.Fields{
		"function": "EndCall",
		"call_id":  id,
		"peer":     snapshot.Peer,
		"event":    event.String(),
	}).Info("Call ended locally")

	// The hangup goes out before the terminal event so adapters still hold
	// their wire bookkeeping for the session while addressing the peer.
	hangupErr := m.signaler.Hangup(snapshot.Peer, id)
	m.emit(CallEvent{CallID: id, Type: EventCallEnded, Peer: snapshot.Peer})

	// The session is already terminated locally; a lost hangup message is
	// still reported so callers can retry signaling by other means.
	if hangupErr != nil {
		logrus.WithFields(logrus.Fields{
			"function": "EndCall",
			"call_id":  id,
			"error":    hangupErr.Error(),
		}).Warn("Failed to send hangup")
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, hangupErr)
	}
	return nil
}

// CallStatus returns the session's current lifecycle state.
func (m *Manager) CallStatus(id CallID) (CallState, error) {
	if err := m.checkInitialized(); err != nil {
		return 0, err
	}
	snapshot, err := m.store.Get(id)
	if err != nil {
		return 0, err
	}
	return snapshot.State, nil
}

// ActiveCalls returns the identifiers of all non-terminal sessions in
// creation order.
func (m *Manager) ActiveCalls() ([]CallID, error) {
	if err := m.checkInitialized(); err != nil {
		return nil, err
	}
	return m.store.ActiveCalls(), nil
}

// HandleIncomingCall creates an incoming session in the ringing state. It
// is invoked by the signaling adapter when a peer initiates a call, or
// synthesized directly for testing; the two are indistinguishable in
// state-machine terms.
func (m *Manager) HandleIncomingCall(peer PeerAddress) (CallID, error) {
	if err := m.checkInitialized(); err != nil {
		return "", err
	}
	if err := ValidatePeer(peer); err != nil {
		return "", err
	}

	session, err := m.store.Create(DirectionIncoming, peer)
	if err != nil {
		return "", err
	}
	id := session.ID()

	logrus.WithFields(logrus.Fields{
		"function": "HandleIncomingCall",
		"call_id":  id,
		"peer":     peer,
	}).Info("Incoming call")

	m.scheduleTimeout(id)
	m.emit(CallEvent{CallID: id, Type: EventIncomingCall, Peer: peer})
	return id, nil
}

// HandlePeerAccepted records that the remote peer answered our outgoing
// call, transitioning the session to connected.
func (m *Manager) HandlePeerAccepted(id CallID) error {
	if err := m.checkInitialized(); err != nil {
		return err
	}

	snapshot, err := m.store.Get(id)
	if err != nil {
		return err
	}
	if _, err := m.store.Transition(id, EventPeerAccepted); err != nil {
		return err
	}
	m.cancelTimeout(id)

	logrus.WithFields(logrus.Fields{
		"function": "HandlePeerAccepted",
		"call_id":  id,
		"peer":     snapshot.Peer,
	}).Info("Peer accepted call")

	m.emit(CallEvent{CallID: id, Type: EventCallConnected, Peer: snapshot.Peer})
	return nil
}

// HandlePeerHangup records a peer-originated termination: a rejection
// while dialing, a cancellation while ringing or a hangup while connected.
func (m *Manager) HandlePeerHangup(id CallID) error {
	if err := m.checkInitialized(); err != nil {
		return err
	}

	snapshot, err := m.store.Get(id)
	if err != nil {
		return err
	}
	_, event, err := m.store.TransitionPeerHangup(id)
	if err != nil {
		return err
	}
	m.cancelTimeout(id)
	m.store.Remove(id)

	logrus.WithFields(logrus.Fields{
		"function": "HandlePeerHangup",
		"call_id":  id,
		"peer":     snapshot.Peer,
		"event":    event.String(),
	}).Info("Peer terminated call")

	m.emit(CallEvent{CallID: id, Type: EventCallEnded, Peer: snapshot.Peer})
	return nil
}

// HandleTransportError records an unrecoverable transport fault for the
// session, moving it to the failed terminal state.
func (m *Manager) HandleTransportError(id CallID) error {
	if err := m.checkInitialized(); err != nil {
		return err
	}

	snapshot, err := m.store.Get(id)
	if err != nil {
		return err
	}
	if _, err := m.store.Transition(id, EventTransportError); err != nil {
		return err
	}
	m.cancelTimeout(id)
	m.store.Remove(id)

	logrus.WithFields(logrus.Fields{
		"function": "HandleTransportError",
		"call_id":  id,
		"peer":     snapshot.Peer,
	}).Warn("Call failed on transport error")

	m.emit(CallEvent{CallID: id, Type: EventCallFailed, Peer: snapshot.Peer})
	return nil
}

// Shutdown ends all active sessions and returns the manager to the
// uninitialized state. It is safe to call on an uninitialized manager.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.initialized = false
	for id, timer := range m.timers {
		timer.Stop()
		delete(m.timers, id)
	}
	m.mu.Unlock()

	active := m.store.ActiveCalls()
	logrus.WithFields(logrus.Fields{
		"function":     "Shutdown",
		"active_calls": len(active),
	}).Info("Shutting down voice call manager")

	for _, id := range active {
		snapshot, err := m.store.Get(id)
		if err != nil {
			continue
		}
		if _, _, err := m.store.TransitionLocalEnd(id); err != nil {
			continue
		}
		m.store.Remove(id)
		// Best effort: the process is going away either way.
		_ = m.signaler.Hangup(snapshot.Peer, id)
		m.emit(CallEvent{CallID: id, Type: EventCallEnded, Peer: snapshot.Peer})
	}
	return nil
}

// scheduleTimeout arms the per-session ring/dial timer.
func (m *Manager) scheduleTimeout(id CallID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return
	}
	m.timers[id] = time.AfterFunc(m.ringTimeout, func() {
		m.handleTimeout(id)
	})
}

// cancelTimeout disarms a pending ring/dial timer. Cancelling after the
// state has already moved on is a no-op, never an error.
func (m *Manager) cancelTimeout(id CallID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timer, exists := m.timers[id]; exists {
		timer.Stop()
		delete(m.timers, id)
	}
}

// handleTimeout fires when a dialing or ringing session got no peer
// response in time. If the session has already transitioned the timeout
// event is rejected by the state machine and silently dropped here.
func (m *Manager) handleTimeout(id CallID) {
	snapshot, err := m.store.Get(id)
	if err != nil {
		return
	}
	if _, err := m.store.Transition(id, EventTimeout); err != nil {
		return
	}
	m.cancelTimeout(id)
	m.store.Remove(id)

	logrus.WithFields(logrus.Fields{
		"function": "handleTimeout",
		"call_id":  id,
		"peer":     snapshot.Peer,
	}).Info("Unanswered call timed out")

	m.emit(CallEvent{CallID: id, Type: EventCallEnded, Peer: snapshot.Peer})
}

// emit publishes a lifecycle notification outside all store locks.
func (m *Manager) emit(event CallEvent) {
	m.mu.RLock()
	callback := m.eventCallback
	m.mu.RUnlock()
	if callback != nil {
		callback(event)
	}
}
