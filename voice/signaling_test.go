package voice

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallRequestRoundTrip(t *testing.T) {
	ts := time.Unix(0, time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC).UnixNano())
	original := &CallRequestPacket{
		CallID:    NewCallID(),
		Caller:    "node-abc123",
		Timestamp: ts,
	}

	data, err := SerializeCallRequest(original)
	require.NoError(t, err)

	parsed, err := DeserializeCallRequest(data)
	require.NoError(t, err)
	assert.Equal(t, original.CallID, parsed.CallID)
	assert.Equal(t, original.Caller, parsed.Caller)
	assert.True(t, original.Timestamp.Equal(parsed.Timestamp))
}

func TestCallRequestRejectsInvalidCaller(t *testing.T) {
	_, err := SerializeCallRequest(&CallRequestPacket{
		CallID: NewCallID(),
		Caller: "has spaces",
	})
	assert.ErrorIs(t, err, ErrInvalidPeer)

	_, err = SerializeCallRequest(&CallRequestPacket{
		CallID: NewCallID(),
		Caller: "",
	})
	assert.ErrorIs(t, err, ErrInvalidPeer)
}

func TestCallRequestRejectsOversizedCallID(t *testing.T) {
	_, err := SerializeCallRequest(&CallRequestPacket{
		CallID: CallID(strings.Repeat("x", 65)),
		Caller: "node-abc",
	})
	assert.Error(t, err)
}

func TestCallResponseRoundTrip(t *testing.T) {
	for _, accepted := range []bool{true, false} {
		original := &CallResponsePacket{
			CallID:    NewCallID(),
			Accepted:  accepted,
			Timestamp: time.Unix(0, time.Now().UnixNano()),
		}

		data, err := SerializeCallResponse(original)
		require.NoError(t, err)

		parsed, err := DeserializeCallResponse(data)
		require.NoError(t, err)
		assert.Equal(t, original.CallID, parsed.CallID)
		assert.Equal(t, accepted, parsed.Accepted)
	}
}

func TestCallControlRoundTrip(t *testing.T) {
	original := &CallControlPacket{
		CallID:      NewCallID(),
		ControlType: ControlHangup,
		Timestamp:   time.Unix(0, time.Now().UnixNano()),
	}

	data, err := SerializeCallControl(original)
	require.NoError(t, err)

	parsed, err := DeserializeCallControl(data)
	require.NoError(t, err)
	assert.Equal(t, original.CallID, parsed.CallID)
	assert.Equal(t, ControlHangup, parsed.ControlType)
}

func TestDeserializeMalformedPackets(t *testing.T) {
	id := NewCallID()
	valid, err := SerializeCallRequest(&CallRequestPacket{
		CallID:    id,
		Caller:    "node-abc",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"length byte only", []byte{10}},
		{"zero id length", []byte{0, 1, 2, 3}},
		{"truncated after id", append([]byte{byte(len(id))}, id...)},
		{"truncated timestamp", valid[:len(valid)-4]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeserializeCallRequest(tt.data)
			assert.Error(t, err)
		})
	}

	_, err = DeserializeCallResponse([]byte{3, 'a', 'b', 'c', 1})
	assert.Error(t, err, "response missing timestamp")

	_, err = DeserializeCallControl([]byte{3, 'a', 'b', 'c'})
	assert.Error(t, err, "control missing type and timestamp")
}

func TestDeserializeCallRequestRejectsInvalidCaller(t *testing.T) {
	// Hand-build a packet whose caller contains whitespace.
	id := NewCallID()
	data := []byte{byte(len(id))}
	data = append(data, id...)
	caller := "bad caller"
	data = append(data, 0, byte(len(caller)))
	data = append(data, caller...)
	data = append(data, make([]byte, 8)...)

	_, err := DeserializeCallRequest(data)
	assert.ErrorIs(t, err, ErrInvalidPeer)
}
