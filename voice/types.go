package voice

import (
	"fmt"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// CallID is an opaque, globally unique identifier for one call session.
// It is assigned when the session is created and never reused within a
// process lifetime.
type CallID string

// NewCallID allocates a fresh call identifier.
func NewCallID() CallID {
	return CallID("call_" + uuid.NewString())
}

// PeerAddress is an opaque identifier addressing a remote call participant.
// The voice package treats it as a routing token; resolution to a network
// address is the signaling adapter's concern.
type PeerAddress string

// MaxPeerAddressLen bounds peer addresses so malformed RPC input cannot
// inflate session records.
const MaxPeerAddressLen = 256

// ValidatePeer checks that a peer address is usable as a routing token.
func ValidatePeer(peer PeerAddress) error {
	if len(peer) == 0 {
		return fmt.Errorf("%w: empty address", ErrInvalidPeer)
	}
	if len(peer) > MaxPeerAddressLen {
		return fmt.Errorf("%w: address exceeds %d bytes", ErrInvalidPeer, MaxPeerAddressLen)
	}
	for _, r := range peer {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: address contains whitespace or control characters", ErrInvalidPeer)
		}
	}
	return nil
}

// CallDirection records which side initiated the session. It is fixed at
// creation and never changes.
type CallDirection uint8

const (
	// DirectionOutgoing indicates the local side dialed the peer.
	DirectionOutgoing CallDirection = iota
	// DirectionIncoming indicates the peer dialed the local side.
	DirectionIncoming
)

// String returns a human-readable direction name.
func (d CallDirection) String() string {
	switch d {
	case DirectionOutgoing:
		return "outgoing"
	case DirectionIncoming:
		return "incoming"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// CallState describes a session's position in the call lifecycle.
type CallState uint8

const (
	// StateDialing is the initial state of an outgoing session that has not
	// been answered yet.
	StateDialing CallState = iota
	// StateRinging is the initial state of an incoming session that has not
	// been answered yet.
	StateRinging
	// StateConnected indicates signaling is established in either direction.
	StateConnected
	// StateEnded is the graceful terminal state.
	StateEnded
	// StateFailed is the terminal state reached through a transport or
	// protocol fault.
	StateFailed
)

// String returns a human-readable state name.
func (s CallState) String() string {
	switch s {
	case StateDialing:
		return "dialing"
	case StateRinging:
		return "ringing"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Terminal reports whether no further lifecycle events are permitted.
func (s CallState) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

// Session is the mutable record of one call's lifecycle. It is owned by the
// Store; all field access goes through mutex-guarded methods so a reader
// never observes a session mid-transition.
type Session struct {
	id        CallID
	peer      PeerAddress
	direction CallDirection

	state          CallState
	createdAt      time.Time
	transitionedAt time.Time

	mu sync.RWMutex
}

// newSession creates a session in the initial state for its direction.
func newSession(id CallID, peer PeerAddress, direction CallDirection, now time.Time) *Session {
	state := StateDialing
	if direction == DirectionIncoming {
		state = StateRinging
	}
	return &Session{
		id:             id,
		peer:           peer,
		direction:      direction,
		state:          state,
		createdAt:      now,
		transitionedAt: now,
	}
}

// ID returns the session's call identifier.
func (s *Session) ID() CallID {
	return s.id
}

// Peer returns the remote participant's address.
func (s *Session) Peer() PeerAddress {
	return s.peer
}

// Direction returns which side initiated the session.
func (s *Session) Direction() CallDirection {
	return s.direction
}

// State returns the current lifecycle state.
func (s *Session) State() CallState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot is a read-only copy of a session at one point in time.
type Snapshot struct {
	ID             CallID
	Peer           PeerAddress
	Direction      CallDirection
	State          CallState
	CreatedAt      time.Time
	TransitionedAt time.Time
}

// Snapshot returns a consistent copy of the session's fields.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:             s.id,
		Peer:           s.peer,
		Direction:      s.direction,
		State:          s.state,
		CreatedAt:      s.createdAt,
		TransitionedAt: s.transitionedAt,
	}
}

// apply performs an atomic check-and-transition for the given event.
// The session's current state is returned alongside any error so callers
// can report both.
func (s *Session) apply(event Event, now time.Time) (CallState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := nextState(s.state, event)
	if err != nil {
		return s.state, err
	}
	s.state = next
	s.transitionedAt = now
	return next, nil
}

// applyLocalEnd terminates the session with the local-end event matching its
// current state, atomically. The event actually applied is returned so the
// caller can report cause.
func (s *Session) applyLocalEnd(now time.Time) (CallState, Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var event Event
	switch s.state {
	case StateDialing:
		event = EventLocalCancel
	case StateRinging:
		event = EventLocalReject
	case StateConnected:
		event = EventLocalEnd
	default:
		return s.state, 0, ErrInvalidTransition
	}

	next, err := nextState(s.state, event)
	if err != nil {
		return s.state, event, err
	}
	s.state = next
	s.transitionedAt = now
	return next, event, nil
}

// applyPeerHangup terminates the session with the peer-originated event
// matching its current state, atomically. A single wire-level hangup maps to
// peer-cancel while ringing and peer-end while connected.
func (s *Session) applyPeerHangup(now time.Time) (CallState, Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var event Event
	switch s.state {
	case StateDialing:
		event = EventPeerReject
	case StateRinging:
		event = EventPeerCancel
	case StateConnected:
		event = EventPeerEnd
	default:
		return s.state, 0, ErrInvalidTransition
	}

	next, err := nextState(s.state, event)
	if err != nil {
		return s.state, event, err
	}
	s.state = next
	s.transitionedAt = now
	return next, event, nil
}
