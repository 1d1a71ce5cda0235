package session

import (
	"github.com/danmuck/simbridge/internal/protocol/codec"
	"github.com/danmuck/simbridge/internal/protocol/frame"
	"github.com/danmuck/simbridge/internal/protocol/tlv"
	"github.com/danmuck/simbridge/internal/protocol/wire"
)

// DataRegions are the encoded buffer regions of one data frame.
type DataRegions struct {
	Doubles []byte
	Bytes   []byte
	UInt16s []byte
}

// Regions encodes buf for the wire.
func Regions(buf *codec.Buffers) DataRegions {
	d, b, u := codec.EncodeRegions(buf)
	return DataRegions{Doubles: d, Bytes: b, UInt16s: u}
}

// Clock returns the clock slot, false when the double region is empty.
func (r DataRegions) Clock() (float64, bool) {
	return codec.PeekClock(r.Doubles)
}

// Into decodes the regions into buf.
func (r DataRegions) Into(buf *codec.Buffers) error {
	return codec.DecodeRegions(r.Doubles, r.Bytes, r.UInt16s, buf)
}

func EncodeDataFrame(seq uint64, regions DataRegions, response bool) ([]byte, error) {
	fields := []tlv.Field{
		tlv.Bytes(wire.FieldDoubles, regions.Doubles),
		tlv.Bytes(wire.FieldBytes, regions.Bytes),
		tlv.Bytes(wire.FieldUInt16s, regions.UInt16s),
	}
	var flags uint32
	if response {
		flags = frame.FlagIsResponse
	}
	return encodeFrame(seq, wire.MsgData, flags, fields)
}

func DecodeDataFrame(f frame.Frame) (DataRegions, error) {
	fields, err := decodeFields(f, wire.MsgData)
	if err != nil {
		return DataRegions{}, err
	}
	get := func(id uint16) []byte {
		fl, _ := tlv.GetField(fields, id)
		return fl.Value
	}
	return DataRegions{
		Doubles: get(wire.FieldDoubles),
		Bytes:   get(wire.FieldBytes),
		UInt16s: get(wire.FieldUInt16s),
	}, nil
}
