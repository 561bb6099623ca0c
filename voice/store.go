package voice

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Store is the authoritative in-memory table of call sessions, keyed by
// call identifier. It owns session records and performs all state
// transitions; it does no I/O and never blocks on the signaling adapter.
//
// All operations are atomic with respect to each other. Two concurrent
// operations on the same CallID serialize on the session's own lock, so a
// check-and-transition never interleaves with another transition and reads
// always observe a consistent snapshot.
type Store struct {
	sessions map[CallID]*Session
	order    []CallID

	timeProvider TimeProvider

	mu sync.RWMutex
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions:     make(map[CallID]*Session),
		timeProvider: DefaultTimeProvider{},
	}
}

// SetTimeProvider sets the time provider for deterministic testing.
// If tp is nil, DefaultTimeProvider is used.
func (s *Store) SetTimeProvider(tp TimeProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	s.timeProvider = tp
}

// Create allocates a fresh CallID and inserts a session in the initial
// state for the given direction. The only failure mode is identifier
// collision, which is reported as ErrInternalFault.
func (s *Store) Create(direction CallDirection, peer PeerAddress) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := NewCallID()
	if _, exists := s.sessions[id]; exists {
		logrus.WithFields(logrus.Fields{
			"function": "Create",
			"call_id":  id,
		}).Error("Call identifier collision")
		return nil, fmt.Errorf("%w: call identifier collision", ErrInternalFault)
	}

	session := newSession(id, peer, direction, s.timeProvider.Now())
	s.sessions[id] = session
	s.order = append(s.order, id)

	logrus.WithFields(logrus.Fields{
		"function":  "Create",
		"call_id":   id,
		"peer":      peer,
		"direction": direction.String(),
		"state":     session.State().String(),
	}).Debug("Call session created")

	return session, nil
}

// Get returns a read-only snapshot of the session, or ErrCallNotFound.
func (s *Store) Get(id CallID) (Snapshot, error) {
	s.mu.RLock()
	session, exists := s.sessions[id]
	s.mu.RUnlock()

	if !exists {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrCallNotFound, id)
	}
	return session.Snapshot(), nil
}

// get returns the live session record for in-package use.
func (s *Store) get(id CallID) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, exists := s.sessions[id]
	return session, exists
}

// Transition applies a lifecycle event to the session. It returns the
// resulting state, ErrCallNotFound for unknown sessions, or
// ErrInvalidTransition when the event is illegal for the current state.
func (s *Store) Transition(id CallID, event Event) (CallState, error) {
	session, exists := s.get(id)
	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrCallNotFound, id)
	}

	state, err := session.apply(event, s.now())
	if err != nil {
		return state, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Transition",
		"call_id":  id,
		"event":    event.String(),
		"state":    state.String(),
	}).Debug("Call session transitioned")

	return state, nil
}

// TransitionLocalEnd terminates the session with the local-end event
// matching its current state (cancel while dialing, reject while ringing,
// end while connected). The applied event is returned for event reporting.
func (s *Store) TransitionLocalEnd(id CallID) (CallState, Event, error) {
	session, exists := s.get(id)
	if !exists {
		return 0, 0, fmt.Errorf("%w: %s", ErrCallNotFound, id)
	}
	return session.applyLocalEnd(s.now())
}

// TransitionPeerHangup terminates the session with the peer-originated
// event matching its current state. A single wire-level hangup control maps
// to reject while dialing, cancel while ringing and end while connected.
func (s *Store) TransitionPeerHangup(id CallID) (CallState, Event, error) {
	session, exists := s.get(id)
	if !exists {
		return 0, 0, fmt.Errorf("%w: %s", ErrCallNotFound, id)
	}
	return session.applyPeerHangup(s.now())
}

// Remove deletes a session and reports whether it existed.
func (s *Store) Remove(id CallID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; !exists {
		return false
	}
	delete(s.sessions, id)
	for i, other := range s.order {
		if other == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Remove",
		"call_id":  id,
	}).Debug("Call session removed")

	return true
}

// ActiveCalls returns the identifiers of all sessions not in a terminal
// state, in insertion order.
func (s *Store) ActiveCalls() []CallID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]CallID, 0, len(s.order))
	for _, id := range s.order {
		if session, exists := s.sessions[id]; exists && !session.State().Terminal() {
			active = append(active, id)
		}
	}
	return active
}

// Len returns the number of stored sessions, terminal or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// now reads the configured time provider under the store lock.
func (s *Store) now() time.Time {
	s.mu.RLock()
	tp := s.timeProvider
	s.mu.RUnlock()
	return tp.Now()
}
