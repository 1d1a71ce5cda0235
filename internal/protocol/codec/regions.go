package codec

import (
	"encoding/binary"
	"math"
)

// EncodeRegions renders buf as little-endian doubles, raw bytes and
// little-endian uint16 samples.
func EncodeRegions(buf *Buffers) (doubles, bytes, uint16s []byte) {
	doubles = make([]byte, 8*len(buf.Doubles))
	for i, v := range buf.Doubles {
		binary.LittleEndian.PutUint64(doubles[i*8:], math.Float64bits(v))
	}
	bytes = append([]byte(nil), buf.Bytes...)
	uint16s = make([]byte, 2*len(buf.UInt16s))
	for i, v := range buf.UInt16s {
		binary.LittleEndian.PutUint16(uint16s[i*2:], v)
	}
	return doubles, bytes, uint16s
}

// DecodeRegions fills buf from wire regions. Every region must match the
// size buf was allocated with, clock slot included.
func DecodeRegions(doubles, bytes, uint16s []byte, buf *Buffers) error {
	got := Sizes{Double: len(doubles)/8 - 1, Byte: len(bytes), UInt16: len(uint16s) / 2}
	if len(doubles)%8 != 0 || len(uint16s)%2 != 0 || len(doubles) == 0 {
		got = UnknownSizes
	}
	want := buf.Sizes()
	if got != want {
		return SizeMismatchError{Direction: "receive", Want: want, Got: got}
	}
	for i := range buf.Doubles {
		buf.Doubles[i] = math.Float64frombits(binary.LittleEndian.Uint64(doubles[i*8:]))
	}
	copy(buf.Bytes, bytes)
	for i := range buf.UInt16s {
		buf.UInt16s[i] = binary.LittleEndian.Uint16(uint16s[i*2:])
	}
	return nil
}

// PeekClock reads the clock slot of an encoded double region.
func PeekClock(doubles []byte) (float64, bool) {
	if len(doubles) < 8 {
		return 0, false
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(doubles)), true
}
