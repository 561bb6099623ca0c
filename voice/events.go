package voice

import "fmt"

// EventType classifies lifecycle notifications published by the manager.
type EventType uint8

const (
	// EventIncomingCall: a peer initiated a call; the session is ringing.
	EventIncomingCall EventType = iota
	// EventCallConnected: the session reached the connected state.
	EventCallConnected
	// EventCallEnded: the session terminated gracefully.
	EventCallEnded
	// EventCallFailed: the session terminated through a transport fault.
	EventCallFailed
)

// String returns a human-readable event type name.
func (t EventType) String() string {
	switch t {
	case EventIncomingCall:
		return "incoming-call"
	case EventCallConnected:
		return "call-connected"
	case EventCallEnded:
		return "call-ended"
	case EventCallFailed:
		return "call-failed"
	default:
		return fmt.Sprintf("event-type(%d)", uint8(t))
	}
}

// CallEvent is a lifecycle notification published on every state-mutating
// operation. It is a side channel for observability collaborators, not part
// of any operation's return value.
type CallEvent struct {
	CallID CallID
	Type   EventType
	Peer   PeerAddress
}

// EventCallback receives lifecycle notifications. Callbacks are invoked
// after store locks are released and must not block for long; slow
// consumers should hand off to their own goroutine.
type EventCallback func(event CallEvent)
