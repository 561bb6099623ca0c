package voice

import "errors"

// Sentinel errors for voice package operations.
// These errors enable reliable error classification using errors.Is().

// Manager state errors.
var (
	// ErrNotInitialized indicates Initialize has not been called or has not
	// succeeded yet.
	ErrNotInitialized = errors.New("voice call manager is not initialized")

	// ErrAlreadyInitialized is unused by Initialize (which is idempotent) but
	// kept for callers that need to distinguish re-initialization attempts
	// with different wiring.
	ErrAlreadyInitialized = errors.New("voice call manager is already initialized")
)

// Session operation errors.
var (
	// ErrInvalidPeer indicates the peer address is malformed.
	ErrInvalidPeer = errors.New("invalid peer address")

	// ErrCallNotFound indicates the call ID is not known.
	ErrCallNotFound = errors.New("call not found")

	// ErrInvalidState indicates the operation is not legal for the session's
	// current state.
	ErrInvalidState = errors.New("operation invalid for current call state")

	// ErrInvalidTransition indicates a lifecycle event is not legal for the
	// session's current state. Terminal states reject all further events.
	ErrInvalidTransition = errors.New("invalid call state transition")
)

// Transport boundary errors.
var (
	// ErrTransportUnavailable indicates the signaling adapter could not be
	// reached or refused the outbound message.
	ErrTransportUnavailable = errors.New("signaling transport unavailable")

	// ErrInternalFault indicates an unexpected, unrecoverable condition such
	// as call identifier collision.
	ErrInternalFault = errors.New("internal fault")
)
