package arena

import (
	"encoding/binary"
	"fmt"
)

// Button bit flags carried in Input.Buttons.
const (
	ButtonAttack uint8 = 1 << 0 // melee swing
	ButtonFire   uint8 = 1 << 1 // ranged shot along the facing direction
	ButtonDodge  uint8 = 1 << 2 // dodge roll along the movement direction
)

// Input is one player's command for one frame. Every field is a fixed-size
// integer so the value is blittable, comparable and identical on the wire
// and in the input ring. The zero value is the "empty" input a player who
// pressed nothing submits.
type Input struct {
	MoveX   int8 // -1, 0 or 1
	MoveY   int8
	AimX    int16 // aim vector, quantized; only the direction matters
	AimY    int16
	Buttons uint8
}

// IsEmpty reports whether the input carries no command at all.
func (in Input) IsEmpty() bool {
	return in == Input{}
}

const inputWireSize = 7

// EncodeInput renders in as the fixed 7-byte little-endian payload carried
// by InputMsg and replay frame records.
func EncodeInput(in Input) []byte {
	buf := make([]byte, inputWireSize)
	buf[0] = byte(in.MoveX)
	buf[1] = byte(in.MoveY)
	binary.LittleEndian.PutUint16(buf[2:], uint16(in.AimX))
	binary.LittleEndian.PutUint16(buf[4:], uint16(in.AimY))
	buf[6] = in.Buttons
	return buf
}

// DecodeInput is the inverse of EncodeInput.
func DecodeInput(data []byte) (Input, error) {
	if len(data) != inputWireSize {
		return Input{}, fmt.Errorf("arena: input payload is %d bytes, want %d", len(data), inputWireSize)
	}
	return Input{
		MoveX:   int8(data[0]),
		MoveY:   int8(data[1]),
		AimX:    int16(binary.LittleEndian.Uint16(data[2:])),
		AimY:    int16(binary.LittleEndian.Uint16(data[4:])),
		Buttons: data[6],
	}, nil
}
