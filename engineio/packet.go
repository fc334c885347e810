package engineio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// PacketType represents Engine.IO packet types
type PacketType byte

const (
	PacketTypeOpen PacketType = iota
	PacketTypeClose
	PacketTypePing
	PacketTypePong
	PacketTypeMessage
	PacketTypeUpgrade
	PacketTypeNoop
)

var (
	ErrEmptyPacket       = errors.New("engineio: empty packet")
	ErrInvalidPacketType = errors.New("engineio: invalid packet type")
	ErrBadHandshake      = errors.New("engineio: bad handshake")
)

// Packet represents an Engine.IO packet.
//
// Attachments are only meaningful on message packets: they are written as
// binary WebSocket messages right after the text packet, with nothing else
// interleaved on the same connection.
type Packet struct {
	Type        PacketType
	Data        []byte
	Attachments [][]byte
}

// Encode encodes the packet header and data to bytes. Attachments are not part
// of the text encoding.
func (p *Packet) Encode() []byte {
	result := make([]byte, 0, len(p.Data)+1)
	result = append(result, byte('0'+p.Type))
	result = append(result, p.Data...)
	return result
}

// DecodePacket decodes a text WebSocket message into a packet
func DecodePacket(data []byte) (*Packet, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPacket
	}

	typeChar := data[0]
	if typeChar < '0' || typeChar > '6' {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPacketType, typeChar)
	}

	packet := &Packet{
		Type: PacketType(typeChar - '0'),
	}

	if len(data) > 1 {
		packet.Data = data[1:]
	}

	return packet, nil
}

// HandshakeData represents the Engine.IO handshake response
type HandshakeData struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// EncodeHandshake creates an open packet with handshake data. Durations are
// carried in milliseconds.
func EncodeHandshake(sid string, cfg *Config) ([]byte, error) {
	data := HandshakeData{
		SID:          sid,
		Upgrades:     []string{}, // No upgrades for WebSocket-only
		PingInterval: int(cfg.PingInterval.Milliseconds()),
		PingTimeout:  int(cfg.PingTimeout.Milliseconds()),
		MaxPayload:   cfg.MaxPayload,
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	packet := &Packet{
		Type: PacketTypeOpen,
		Data: jsonData,
	}

	return packet.Encode(), nil
}

// DecodeHandshake parses the open packet a server sends first.
func DecodeHandshake(data []byte) (*HandshakeData, error) {
	packet, err := DecodePacket(data)
	if err != nil {
		return nil, err
	}
	if packet.Type != PacketTypeOpen {
		return nil, fmt.Errorf("%w: expected open packet, got %s", ErrBadHandshake, packet.Type)
	}

	var hs HandshakeData
	if err := json.Unmarshal(packet.Data, &hs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHandshake, err)
	}
	if hs.SID == "" {
		return nil, fmt.Errorf("%w: missing sid", ErrBadHandshake)
	}
	if hs.PingInterval <= 0 || hs.PingTimeout <= 0 || hs.MaxPayload <= 0 {
		return nil, fmt.Errorf("%w: missing timing or payload fields", ErrBadHandshake)
	}

	return &hs, nil
}

// String returns the packet type as a string
func (pt PacketType) String() string {
	switch pt {
	case PacketTypeOpen:
		return "open"
	case PacketTypeClose:
		return "close"
	case PacketTypePing:
		return "ping"
	case PacketTypePong:
		return "pong"
	case PacketTypeMessage:
		return "message"
	case PacketTypeUpgrade:
		return "upgrade"
	case PacketTypeNoop:
		return "noop"
	default:
		return "unknown(" + strconv.Itoa(int(pt)) + ")"
	}
}
