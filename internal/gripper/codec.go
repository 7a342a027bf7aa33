package gripper

import (
	"encoding/binary"
	"math"
)

// RegisterPair is one float32 spread over two holding registers, high word first.
type RegisterPair [2]uint16

// FloatToRegisters packs f as big-endian IEEE-754 and splits it into two words.
func FloatToRegisters(f float32) RegisterPair {
	bits := math.Float32bits(f)
	return RegisterPair{uint16(bits >> 16), uint16(bits)}
}

// RegistersToFloat is the exact inverse of FloatToRegisters. Anything other
// than exactly two words is a format error.
func RegistersToFloat(words []uint16) (float32, error) {
	if len(words) != 2 {
		return 0, formatf("decode", "float needs exactly 2 registers, got %d", len(words))
	}
	return math.Float32frombits(uint32(words[0])<<16 | uint32(words[1])), nil
}

// Words returns the pair as a slice ready for a multi-register write.
func (p RegisterPair) Words() []uint16 { return []uint16{p[0], p[1]} }

// WordsToBytes encodes registers the way they travel on the wire (big-endian per word).
func WordsToBytes(words []uint16) []byte {
	out := make([]byte, len(words)*2)
	for i, w := range words {
		binary.BigEndian.PutUint16(out[i*2:], w)
	}
	return out
}

// BytesToWords is the inverse of WordsToBytes. An odd byte count is a format error.
func BytesToWords(b []byte) ([]uint16, error) {
	if len(b)%2 != 0 {
		return nil, formatf("decode", "odd register payload length %d", len(b))
	}
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(b[i*2:])
	}
	return out, nil
}
