package transport

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectPackets registers a handler that records every received packet.
func collectPackets(tr Transport, pt PacketType) (*sync.Mutex, *[]*Packet, chan struct{}) {
	var mu sync.Mutex
	var received []*Packet
	notify := make(chan struct{}, 16)

	tr.RegisterHandler(pt, func(packet *Packet, addr net.Addr) error {
		mu.Lock()
		received = append(received, packet)
		mu.Unlock()
		notify <- struct{}{}
		return nil
	})
	return &mu, &received, notify
}

func TestUDPTransportLoopback(t *testing.T) {
	receiver, err := NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer receiver.Close()

	sender, err := NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer sender.Close()

	mu, received, notify := collectPackets(receiver, PacketCallRequest)

	err = sender.Send(&Packet{
		PacketType: PacketCallRequest,
		Data:       []byte("hello"),
	}, receiver.LocalAddr())
	require.NoError(t, err)

	select {
	case <-notify:
	case <-time.After(2 * time.Second):
		t.Fatal("packet was not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *received, 1)
	assert.Equal(t, []byte("hello"), (*received)[0].Data)
}

func TestUDPTransportRoutesByPacketType(t *testing.T) {
	receiver, err := NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer receiver.Close()

	sender, err := NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer sender.Close()

	_, requests, requestNotify := collectPackets(receiver, PacketCallRequest)
	_, controls, controlNotify := collectPackets(receiver, PacketCallControl)

	require.NoError(t, sender.Send(&Packet{
		PacketType: PacketCallControl,
		Data:       []byte("bye"),
	}, receiver.LocalAddr()))

	select {
	case <-controlNotify:
	case <-time.After(2 * time.Second):
		t.Fatal("control packet was not delivered")
	}

	select {
	case <-requestNotify:
		t.Fatal("control packet reached the request handler")
	default:
	}
	assert.Len(t, *requests, 0)
	assert.Len(t, *controls, 1)
}

func TestUDPTransportUnhandledTypeIsDropped(t *testing.T) {
	receiver, err := NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer receiver.Close()

	sender, err := NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer sender.Close()

	// No handler registered; delivery must be silently dropped, and the
	// transport must stay healthy afterwards.
	require.NoError(t, sender.Send(&Packet{
		PacketType: PacketCallResponse,
		Data:       []byte("ignored"),
	}, receiver.LocalAddr()))

	_, _, notify := collectPackets(receiver, PacketCallRequest)
	require.NoError(t, sender.Send(&Packet{
		PacketType: PacketCallRequest,
		Data:       []byte("handled"),
	}, receiver.LocalAddr()))

	select {
	case <-notify:
	case <-time.After(2 * time.Second):
		t.Fatal("transport stopped delivering after an unhandled packet")
	}
}

func TestUDPTransportClose(t *testing.T) {
	tr, err := NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, tr.Close())

	err = tr.Send(&Packet{
		PacketType: PacketCallRequest,
		Data:       []byte("after close"),
	}, tr.LocalAddr())
	assert.Error(t, err)
}

func TestUDPTransportInvalidListenAddr(t *testing.T) {
	_, err := NewUDPTransport("not-an-address")
	assert.Error(t, err)
}
