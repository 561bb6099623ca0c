package voice

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/callme/transport"
)

// mockTransport captures sent packets and lets tests inject inbound ones.
type mockTransport struct {
	mu       sync.Mutex
	sent     []sentPacket
	handlers map[transport.PacketType]transport.PacketHandler
	sendErr  error
}

type sentPacket struct {
	packet *transport.Packet
	addr   net.Addr
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		handlers: make(map[transport.PacketType]transport.PacketHandler),
	}
}

func (m *mockTransport) Send(packet *transport.Packet, addr net.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentPacket{packet: packet, addr: addr})
	return nil
}

func (m *mockTransport) Close() error { return nil }

func (m *mockTransport) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 33500}
}

func (m *mockTransport) RegisterHandler(pt transport.PacketType, h transport.PacketHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[pt] = h
}

// inject delivers a packet as if it arrived from the network.
func (m *mockTransport) inject(t *testing.T, pt transport.PacketType, data []byte, addr net.Addr) error {
	t.Helper()
	m.mu.Lock()
	handler, exists := m.handlers[pt]
	m.mu.Unlock()
	require.True(t, exists, "no handler registered for packet type %d", pt)
	return handler(&transport.Packet{PacketType: pt, Data: data}, addr)
}

func (m *mockTransport) lastSent(t *testing.T) sentPacket {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	return m.sent[len(m.sent)-1]
}

func testResolver(peer PeerAddress) (net.Addr, error) {
	return &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 40000}, nil
}

func newBoundAdapter(t *testing.T) (*Adapter, *Manager, *mockTransport) {
	t.Helper()
	tr := newMockTransport()
	adapter, err := NewAdapter(tr, testResolver, &mockIdentity{id: "node-local"})
	require.NoError(t, err)

	manager, err := NewManager(adapter, &mockIdentity{id: "node-local"})
	require.NoError(t, err)
	require.NoError(t, manager.Initialize())
	require.NoError(t, adapter.Bind(manager))
	manager.SetEventCallback(adapter.HandleEvent)
	return adapter, manager, tr
}

func TestNewAdapterValidation(t *testing.T) {
	tr := newMockTransport()

	_, err := NewAdapter(nil, testResolver, &mockIdentity{id: "n"})
	assert.Error(t, err)

	_, err = NewAdapter(tr, nil, &mockIdentity{id: "n"})
	assert.Error(t, err)

	_, err = NewAdapter(tr, testResolver, nil)
	assert.Error(t, err)
}

func TestAdapterBindOnce(t *testing.T) {
	adapter, manager, _ := newBoundAdapter(t)
	assert.Error(t, adapter.Bind(manager), "second bind must fail")
	assert.Error(t, adapter.Bind(nil))
}

func TestAdapterOutgoingCallRequestOnWire(t *testing.T) {
	_, manager, tr := newBoundAdapter(t)

	id, err := manager.StartCall("peer-remote")
	require.NoError(t, err)

	sent := tr.lastSent(t)
	assert.Equal(t, transport.PacketCallRequest, sent.packet.PacketType)

	req, err := DeserializeCallRequest(sent.packet.Data)
	require.NoError(t, err)
	assert.Equal(t, id, req.CallID, "outgoing calls travel under the local ID")
	assert.Equal(t, PeerAddress("node-local"), req.Caller)
}

func TestAdapterInboundCallRequestCreatesRingingSession(t *testing.T) {
	_, manager, tr := newBoundAdapter(t)

	data, err := SerializeCallRequest(&CallRequestPacket{
		CallID:    "call_remote-wire-id",
		Caller:    "node-remote",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)

	from := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 41000}
	require.NoError(t, tr.inject(t, transport.PacketCallRequest, data, from))

	active, err := manager.ActiveCalls()
	require.NoError(t, err)
	require.Len(t, active, 1)

	state, err := manager.CallStatus(active[0])
	require.NoError(t, err)
	assert.Equal(t, StateRinging, state)
	assert.NotEqual(t, CallID("call_remote-wire-id"), active[0],
		"the local session gets its own identifier")
}

func TestAdapterAcceptTranslatesWireIDAndOrigin(t *testing.T) {
	_, manager, tr := newBoundAdapter(t)

	data, err := SerializeCallRequest(&CallRequestPacket{
		CallID:    "call_remote-wire-id",
		Caller:    "node-remote",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	from := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 41000}
	require.NoError(t, tr.inject(t, transport.PacketCallRequest, data, from))

	active, err := manager.ActiveCalls()
	require.NoError(t, err)
	require.NoError(t, manager.AcceptCall(active[0]))

	sent := tr.lastSent(t)
	assert.Equal(t, transport.PacketCallResponse, sent.packet.PacketType)
	assert.Equal(t, from.String(), sent.addr.String(),
		"responses go back to the request's origin, not through the resolver")

	resp, err := DeserializeCallResponse(sent.packet.Data)
	require.NoError(t, err)
	assert.Equal(t, CallID("call_remote-wire-id"), resp.CallID,
		"the caller's wire ID is echoed back")
	assert.True(t, resp.Accepted)
}

func TestAdapterInboundResponseConnectsOutgoingCall(t *testing.T) {
	_, manager, tr := newBoundAdapter(t)

	id, err := manager.StartCall("peer-remote")
	require.NoError(t, err)

	data, err := SerializeCallResponse(&CallResponsePacket{
		CallID:    id,
		Accepted:  true,
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, tr.inject(t, transport.PacketCallResponse, data, nil))

	state, err := manager.CallStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StateConnected, state)
}

func TestAdapterInboundRejectionEndsOutgoingCall(t *testing.T) {
	_, manager, tr := newBoundAdapter(t)

	id, err := manager.StartCall("peer-remote")
	require.NoError(t, err)

	data, err := SerializeCallResponse(&CallResponsePacket{
		CallID:    id,
		Accepted:  false,
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, tr.inject(t, transport.PacketCallResponse, data, nil))

	_, err = manager.CallStatus(id)
	assert.ErrorIs(t, err, ErrCallNotFound)
}

func TestAdapterInboundHangupMapsWireID(t *testing.T) {
	_, manager, tr := newBoundAdapter(t)

	reqData, err := SerializeCallRequest(&CallRequestPacket{
		CallID:    "call_remote-wire-id",
		Caller:    "node-remote",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	from := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 41000}
	require.NoError(t, tr.inject(t, transport.PacketCallRequest, reqData, from))

	// The remote side hangs up under its own identifier.
	ctrlData, err := SerializeCallControl(&CallControlPacket{
		CallID:      "call_remote-wire-id",
		ControlType: ControlHangup,
		Timestamp:   time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, tr.inject(t, transport.PacketCallControl, ctrlData, from))

	active, err := manager.ActiveCalls()
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestAdapterMalformedPacketsAreRejected(t *testing.T) {
	_, manager, tr := newBoundAdapter(t)

	assert.Error(t, tr.inject(t, transport.PacketCallRequest, []byte{0xFF}, nil))
	assert.Error(t, tr.inject(t, transport.PacketCallResponse, nil, nil))
	assert.Error(t, tr.inject(t, transport.PacketCallControl, []byte{1, 'x'}, nil))

	active, err := manager.ActiveCalls()
	require.NoError(t, err)
	assert.Empty(t, active, "malformed packets must not create sessions")
}

func TestAdapterSendFailureSurfacesAsTransportUnavailable(t *testing.T) {
	_, manager, tr := newBoundAdapter(t)

	tr.mu.Lock()
	tr.sendErr = errors.New("socket closed")
	tr.mu.Unlock()

	_, err := manager.StartCall("peer-remote")
	assert.ErrorIs(t, err, ErrTransportUnavailable)
}

func TestAdapterReleasesMappingsOnTerminalEvents(t *testing.T) {
	adapter, manager, tr := newBoundAdapter(t)

	reqData, err := SerializeCallRequest(&CallRequestPacket{
		CallID:    "call_remote-wire-id",
		Caller:    "node-remote",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	from := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 41000}
	require.NoError(t, tr.inject(t, transport.PacketCallRequest, reqData, from))

	active, err := manager.ActiveCalls()
	require.NoError(t, err)
	require.NoError(t, manager.EndCall(active[0]))

	adapter.mu.Lock()
	assert.Empty(t, adapter.inbound)
	assert.Empty(t, adapter.wireIDs)
	adapter.mu.Unlock()
}
