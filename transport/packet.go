// Package transport implements the network transport layer for the callme
// protocol.
//
// It handles packet framing, UDP communication and optional Noise
// encryption of the signaling channel.
//
// Example:
//
//	tr, err := transport.NewUDPTransport(":0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	packet := &transport.Packet{
//	    PacketType: transport.PacketCallRequest,
//	    Data:       []byte{...},
//	}
//
//	err = tr.Send(packet, remoteAddr)
package transport

import (
	"errors"
)

// PacketType identifies the type of a callme packet.
type PacketType byte

const (
	// Voice signaling packet types
	PacketCallRequest PacketType = iota + 1
	PacketCallResponse
	PacketCallControl

	// Noise Protocol Framework packet types
	PacketNoiseHandshake PacketType = 250
	PacketNoiseMessage   PacketType = 251
)

// Packet represents a callme protocol packet.
type Packet struct {
	PacketType PacketType
	Data       []byte
}

// Serialize converts a packet to a byte slice for transmission.
// Format: [packet type (1 byte)][data (variable length)]
func (p *Packet) Serialize() ([]byte, error) {
	if p.Data == nil {
		return nil, errors.New("packet data is nil")
	}

	result := make([]byte, 1+len(p.Data))
	result[0] = byte(p.PacketType)
	copy(result[1:], p.Data)

	return result, nil
}

// ParsePacket converts a byte slice to a Packet structure.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < 1 {
		return nil, errors.New("packet too short")
	}

	packet := &Packet{
		PacketType: PacketType(data[0]),
		Data:       make([]byte, len(data)-1),
	}
	copy(packet.Data, data[1:])

	return packet, nil
}
