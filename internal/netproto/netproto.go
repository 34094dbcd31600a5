// Package netproto defines the two wire messages exchanged between
// peers: InputMsg and HashMsg. The wire protocol itself is opaque to the
// simulation core - unreliable datagrams, last-writer-wins per
// (player, frame), any ordering - so this package only fixes the field
// layout and a small framed encoding with a typed header ahead of the
// payload.
package netproto

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Message type tags, carried in the frame header.
const (
	TypeInput byte = 0x01
	TypeHash  byte = 0x02
)

// Version is the wire format version this package writes and expects.
const Version uint16 = 1

// header is the fixed framing prefix: version, type, reserved, then a
// length prefix for the body.
type header struct {
	Version  uint16
	Type     byte
	Reserved byte
	Length   uint32
}

const headerSize = 8

// InputMsg carries one player's confirmed input for one frame.
type InputMsg struct {
	PlayerID   uint8
	Frame      uint32
	InputBytes []byte
}

func (InputMsg) msgType() byte { return TypeInput }

// HashMsg carries one player's computed frame hash, for desync detection.
type HashMsg struct {
	PlayerID uint8
	Frame    uint32
	Hash     uint64
}

func (HashMsg) msgType() byte { return TypeHash }

// Message is the closed set of wire messages a peer can send.
type Message interface {
	msgType() byte
}

// Encode frames m as Version ∥ Type ∥ Reserved ∥ Length ∥ body.
func Encode(m Message) ([]byte, error) {
	body := new(bytes.Buffer)
	switch v := m.(type) {
	case InputMsg:
		binary.Write(body, binary.LittleEndian, v.PlayerID)
		binary.Write(body, binary.LittleEndian, v.Frame)
		binary.Write(body, binary.LittleEndian, uint32(len(v.InputBytes)))
		body.Write(v.InputBytes)
	case HashMsg:
		binary.Write(body, binary.LittleEndian, v.PlayerID)
		binary.Write(body, binary.LittleEndian, v.Frame)
		binary.Write(body, binary.LittleEndian, v.Hash)
	default:
		return nil, fmt.Errorf("netproto: unknown message type %T", m)
	}

	out := new(bytes.Buffer)
	out.Grow(headerSize + body.Len())
	binary.Write(out, binary.LittleEndian, Version)
	out.WriteByte(m.msgType())
	out.WriteByte(0)
	binary.Write(out, binary.LittleEndian, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// Decode parses a frame produced by Encode into its concrete Message type.
func Decode(data []byte) (Message, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("netproto: frame shorter than header (%d bytes)", len(data))
	}
	var h header
	r := bytes.NewReader(data[:headerSize])
	binary.Read(r, binary.LittleEndian, &h.Version)
	t, _ := r.ReadByte()
	h.Type = t
	reserved, _ := r.ReadByte()
	h.Reserved = reserved
	binary.Read(r, binary.LittleEndian, &h.Length)

	if h.Version != Version {
		return nil, fmt.Errorf("netproto: version mismatch: got %d, want %d", h.Version, Version)
	}
	body := data[headerSize:]
	if uint32(len(body)) != h.Length {
		return nil, fmt.Errorf("netproto: declared length %d, got %d bytes", h.Length, len(body))
	}

	br := bytes.NewReader(body)
	switch h.Type {
	case TypeInput:
		var msg InputMsg
		if err := binary.Read(br, binary.LittleEndian, &msg.PlayerID); err != nil {
			return nil, fmt.Errorf("netproto: decode input player_id: %w", err)
		}
		if err := binary.Read(br, binary.LittleEndian, &msg.Frame); err != nil {
			return nil, fmt.Errorf("netproto: decode input frame: %w", err)
		}
		var n uint32
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("netproto: decode input length: %w", err)
		}
		msg.InputBytes = make([]byte, n)
		if _, err := br.Read(msg.InputBytes); err != nil && n > 0 {
			return nil, fmt.Errorf("netproto: decode input bytes: %w", err)
		}
		return msg, nil
	case TypeHash:
		var msg HashMsg
		if err := binary.Read(br, binary.LittleEndian, &msg.PlayerID); err != nil {
			return nil, fmt.Errorf("netproto: decode hash player_id: %w", err)
		}
		if err := binary.Read(br, binary.LittleEndian, &msg.Frame); err != nil {
			return nil, fmt.Errorf("netproto: decode hash frame: %w", err)
		}
		if err := binary.Read(br, binary.LittleEndian, &msg.Hash); err != nil {
			return nil, fmt.Errorf("netproto: decode hash value: %w", err)
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("netproto: unknown message type 0x%02x", h.Type)
	}
}
