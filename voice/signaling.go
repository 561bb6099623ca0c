package voice

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Signaling defines the call signaling messages exchanged between peers
// over the callme transport layer.
//
// The formats follow the codebase conventions: simple binary packets with
// big-endian integers and length-prefixed strings, small enough to fit a
// single datagram.

// Signaler is the outbound half of the signaling adapter boundary. The
// manager calls it to translate session intents into wire messages; the
// inbound half delivers transport events back through the manager's
// Handle* methods.
//
// Implementations must not be called while holding store locks, and may
// block on network I/O.
type Signaler interface {
	// CallRequest asks the peer to start a call identified by callID.
	CallRequest(peer PeerAddress, callID CallID) error

	// CallResponse answers the peer's call request, accepting or rejecting.
	CallResponse(peer PeerAddress, callID CallID, accepted bool) error

	// Hangup tells the peer the call is over, in any non-terminal state.
	Hangup(peer PeerAddress, callID CallID) error
}

// ControlType identifies a call control action carried in a
// CallControlPacket.
type ControlType uint8

const (
	// ControlHangup terminates the call from any non-terminal state.
	ControlHangup ControlType = iota
)

// CallRequestPacket represents a call initiation request.
//
// Wire format:
//
//	[CALL_ID_LEN(1)][CALL_ID][CALLER_LEN(2)][CALLER][TIMESTAMP(8)]
type CallRequestPacket struct {
	CallID    CallID      // Unique call identifier assigned by the caller
	Caller    PeerAddress // Node identity of the calling side
	Timestamp time.Time   // Call initiation timestamp
}

// CallResponsePacket represents a call answer.
//
// Wire format:
//
//	[CALL_ID_LEN(1)][CALL_ID][ACCEPTED(1)][TIMESTAMP(8)]
type CallResponsePacket struct {
	CallID    CallID    // Call identifier from the request
	Accepted  bool      // Whether the call was accepted
	Timestamp time.Time // Response timestamp
}

// CallControlPacket represents call control messages.
//
// Wire format:
//
//	[CALL_ID_LEN(1)][CALL_ID][CONTROL_TYPE(1)][TIMESTAMP(8)]
type CallControlPacket struct {
	CallID      CallID      // Call identifier
	ControlType ControlType // Control action to perform
	Timestamp   time.Time   // Control message timestamp
}

// maxCallIDWireLen bounds call identifiers on the wire. Locally generated
// IDs are 41 bytes; the bound leaves room without admitting junk.
const maxCallIDWireLen = 64

func appendCallID(data []byte, id CallID) ([]byte, error) {
	if len(id) == 0 || len(id) > maxCallIDWireLen {
		return nil, fmt.Errorf("call ID length %d out of range", len(id))
	}
	data = append(data, byte(len(id)))
	return append(data, id...), nil
}

func readCallID(data []byte) (CallID, []byte, error) {
	if len(data) < 1 {
		return "", nil, errors.New("packet too short for call ID length")
	}
	n := int(data[0])
	if n == 0 || n > maxCallIDWireLen || len(data) < 1+n {
		return "", nil, errors.New("packet too short for call ID")
	}
	return CallID(data[1 : 1+n]), data[1+n:], nil
}

func appendTimestamp(data []byte, t time.Time) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(t.UnixNano()))
	return append(data, buf[:]...)
}

func readTimestamp(data []byte) (time.Time, []byte, error) {
	if len(data) < 8 {
		return time.Time{}, nil, errors.New("packet too short for timestamp")
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(data[:8]))), data[8:], nil
}

// SerializeCallRequest converts a CallRequestPacket to bytes for transmission.
func SerializeCallRequest(req *CallRequestPacket) ([]byte, error) {
	if req == nil {
		return nil, errors.New("call request packet is nil")
	}
	if err := ValidatePeer(req.Caller); err != nil {
		return nil, fmt.Errorf("call request caller: %w", err)
	}

	data := make([]byte, 0, 1+len(req.CallID)+2+len(req.Caller)+8)
	data, err := appendCallID(data, req.CallID)
	if err != nil {
		return nil, err
	}

	var callerLen [2]byte
	binary.BigEndian.PutUint16(callerLen[:], uint16(len(req.Caller)))
	data = append(data, callerLen[:]...)
	data = append(data, req.Caller...)

	return appendTimestamp(data, req.Timestamp), nil
}

// DeserializeCallRequest converts bytes to a CallRequestPacket.
func DeserializeCallRequest(data []byte) (*CallRequestPacket, error) {
	id, rest, err := readCallID(data)
	if err != nil {
		return nil, fmt.Errorf("call request: %w", err)
	}

	if len(rest) < 2 {
		return nil, errors.New("call request packet too short for caller length")
	}
	callerLen := int(binary.BigEndian.Uint16(rest[:2]))
	rest = rest[2:]
	if callerLen == 0 || callerLen > MaxPeerAddressLen || len(rest) < callerLen {
		return nil, errors.New("call request packet too short for caller")
	}
	caller := PeerAddress(rest[:callerLen])
	rest = rest[callerLen:]

	ts, _, err := readTimestamp(rest)
	if err != nil {
		return nil, fmt.Errorf("call request: %w", err)
	}

	if err := ValidatePeer(caller); err != nil {
		return nil, fmt.Errorf("call request caller: %w", err)
	}

	return &CallRequestPacket{CallID: id, Caller: caller, Timestamp: ts}, nil
}

// SerializeCallResponse converts a CallResponsePacket to bytes for transmission.
func SerializeCallResponse(resp *CallResponsePacket) ([]byte, error) {
	if resp == nil {
		return nil, errors.New("call response packet is nil")
	}

	data := make([]byte, 0, 1+len(resp.CallID)+1+8)
	data, err := appendCallID(data, resp.CallID)
	if err != nil {
		return nil, err
	}

	if resp.Accepted {
		data = append(data, 1)
	} else {
		data = append(data, 0)
	}

	return appendTimestamp(data, resp.Timestamp), nil
}

// DeserializeCallResponse converts bytes to a CallResponsePacket.
func DeserializeCallResponse(data []byte) (*CallResponsePacket, error) {
	id, rest, err := readCallID(data)
	if err != nil {
		return nil, fmt.Errorf("call response: %w", err)
	}

	if len(rest) < 1 {
		return nil, errors.New("call response packet too short")
	}
	accepted := rest[0] != 0

	ts, _, err := readTimestamp(rest[1:])
	if err != nil {
		return nil, fmt.Errorf("call response: %w", err)
	}

	return &CallResponsePacket{CallID: id, Accepted: accepted, Timestamp: ts}, nil
}

// SerializeCallControl converts a CallControlPacket to bytes for transmission.
func SerializeCallControl(ctrl *CallControlPacket) ([]byte, error) {
	if ctrl == nil {
		return nil, errors.New("call control packet is nil")
	}

	data := make([]byte, 0, 1+len(ctrl.CallID)+1+8)
	data, err := appendCallID(data, ctrl.CallID)
	if err != nil {
		return nil, err
	}

	data = append(data, byte(ctrl.ControlType))
	return appendTimestamp(data, ctrl.Timestamp), nil
}

// DeserializeCallControl converts bytes to a CallControlPacket.
func DeserializeCallControl(data []byte) (*CallControlPacket, error) {
	id, rest, err := readCallID(data)
	if err != nil {
		return nil, fmt.Errorf("call control: %w", err)
	}

	if len(rest) < 1 {
		return nil, errors.New("call control packet too short")
	}
	control := ControlType(rest[0])

	ts, _, err := readTimestamp(rest[1:])
	if err != nil {
		return nil, fmt.Errorf("call control: %w", err)
	}

	return &CallControlPacket{CallID: id, ControlType: control, Timestamp: ts}, nil
}
