package voice

import "fmt"

// Event is a lifecycle event applied to a call session. Events originate
// either from local operations (accept, end) or from the signaling adapter
// (peer accepted, peer hung up, transport error, timeout).
type Event uint8

const (
	// EventPeerAccepted: the remote peer answered our outgoing call.
	EventPeerAccepted Event = iota
	// EventLocalAccept: the local side answered an incoming call.
	EventLocalAccept
	// EventLocalCancel: the local side abandoned an outgoing call before answer.
	EventLocalCancel
	// EventLocalReject: the local side declined an incoming call.
	EventLocalReject
	// EventPeerReject: the remote peer declined our outgoing call.
	EventPeerReject
	// EventPeerCancel: the remote peer abandoned their call before we answered.
	EventPeerCancel
	// EventLocalEnd: the local side hung up an established call.
	EventLocalEnd
	// EventPeerEnd: the remote peer hung up an established call.
	EventPeerEnd
	// EventTimeout: no peer response arrived within the configured interval.
	EventTimeout
	// EventTransportError: the transport reported an unrecoverable fault.
	EventTransportError
)

// String returns a human-readable event name.
func (e Event) String() string {
	switch e {
	case EventPeerAccepted:
		return "peer-accepted"
	case EventLocalAccept:
		return "local-accept"
	case EventLocalCancel:
		return "local-cancel"
	case EventLocalReject:
		return "local-reject"
	case EventPeerReject:
		return "peer-reject"
	case EventPeerCancel:
		return "peer-cancel"
	case EventLocalEnd:
		return "local-end"
	case EventPeerEnd:
		return "peer-end"
	case EventTimeout:
		return "timeout"
	case EventTransportError:
		return "transport-error"
	default:
		return fmt.Sprintf("event(%d)", uint8(e))
	}
}

// nextState returns the state reached by applying event to from, or
// ErrInvalidTransition when the event is not legal there. Terminal states
// reject every event rather than ignoring it, so double-hangup races surface
// as explicit errors.
func nextState(from CallState, event Event) (CallState, error) {
	switch from {
	case StateDialing:
		switch event {
		case EventPeerAccepted:
			return StateConnected, nil
		case EventLocalCancel, EventPeerReject, EventTimeout:
			return StateEnded, nil
		case EventTransportError:
			return StateFailed, nil
		}
	case StateRinging:
		switch event {
		case EventLocalAccept:
			return StateConnected, nil
		case EventLocalReject, EventPeerCancel, EventTimeout:
			return StateEnded, nil
		case EventTransportError:
			return StateFailed, nil
		}
	case StateConnected:
		switch event {
		case EventLocalEnd, EventPeerEnd:
			return StateEnded, nil
		case EventTransportError:
			return StateFailed, nil
		}
	}
	return from, fmt.Errorf("%w: %v in state %v", ErrInvalidTransition, event, from)
}
