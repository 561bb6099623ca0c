package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// readDeadline bounds each blocking read so the processing loop can notice
// shutdown promptly.
const readDeadline = 100 * time.Millisecond

// UDPTransport implements UDP-based communication for the callme protocol.
// It satisfies the Transport interface.
type UDPTransport struct {
	conn       net.PacketConn
	listenAddr net.Addr
	handlers   map[PacketType]PacketHandler
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewUDPTransport creates a UDP transport listening on the given address
// and starts its packet processing loop.
func NewUDPTransport(listenAddr string) (Transport, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &UDPTransport{
		conn:       conn,
		listenAddr: conn.LocalAddr(),
		handlers:   make(map[PacketType]PacketHandler),
		ctx:        ctx,
		cancel:     cancel,
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewUDPTransport",
		"listen_addr": t.listenAddr.String(),
	}).Info("UDP transport listening")

	go t.processPackets()

	return t, nil
}

// RegisterHandler registers a handler for a specific packet type.
func (t *UDPTransport) RegisterHandler(packetType PacketType, handler PacketHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[packetType] = handler
}

// Send sends a packet to the specified address.
func (t *UDPTransport) Send(packet *Packet, addr net.Addr) error {
	data, err := packet.Serialize()
	if err != nil {
		return err
	}

	_, err = t.conn.WriteTo(data, addr)
	return err
}

// Close shuts down the transport.
func (t *UDPTransport) Close() error {
	t.cancel()
	return t.conn.Close()
}

// LocalAddr returns the local address the transport is listening on.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.listenAddr
}

// processPackets reads and dispatches incoming packets until Close.
func (t *UDPTransport) processPackets() {
	buffer := make([]byte, 2048)

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
			t.processIncomingPacket(buffer)
		}
	}
}

// processIncomingPacket reads and processes a single incoming packet.
func (t *UDPTransport) processIncomingPacket(buffer []byte) {
	_ = t.conn.SetReadDeadline(time.Now().Add(readDeadline))

	n, addr, err := t.conn.ReadFrom(buffer)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		logrus.WithFields(logrus.Fields{
			"function": "processIncomingPacket",
			"error":    err.Error(),
		}).Debug("UDP read failed")
		return
	}

	packet, err := ParsePacket(buffer[:n])
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "processIncomingPacket",
			"from":     addr.String(),
			"error":    err.Error(),
		}).Debug("Dropping unparseable packet")
		return
	}

	t.dispatch(packet, addr)
}

// dispatch finds and executes the handler for a packet type. Each handler
// runs in its own goroutine so a slow consumer cannot stall the read loop.
func (t *UDPTransport) dispatch(packet *Packet, addr net.Addr) {
	t.mu.RLock()
	handler, exists := t.handlers[packet.PacketType]
	t.mu.RUnlock()

	if !exists {
		logrus.WithFields(logrus.Fields{
			"function":    "dispatch",
			"packet_type": packet.PacketType,
			"from":        addr.String(),
		}).Debug("No handler for packet type")
		return
	}

	go func() {
		if err := handler(packet, addr); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "dispatch",
				"packet_type": packet.PacketType,
				"from":        addr.String(),
				"error":       err.Error(),
			}).Debug("Packet handler failed")
		}
	}()
}
