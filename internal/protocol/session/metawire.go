package session

import (
	"github.com/danmuck/simbridge/internal/protocol/frame"
	"github.com/danmuck/simbridge/internal/protocol/schema"
	"github.com/danmuck/simbridge/internal/protocol/tlv"
	"github.com/danmuck/simbridge/internal/protocol/wire"
)

// EncodeMetaFrame carries doc as repeated chunk fields of at most
// schema.ChunkSize characters.
func EncodeMetaFrame(seq uint64, doc []byte, response bool) ([]byte, error) {
	chunks := schema.Chunk(string(doc), schema.ChunkSize)
	fields := make([]tlv.Field, 0, len(chunks))
	for _, c := range chunks {
		fields = append(fields, tlv.String(wire.FieldMetaChunk, c))
	}
	var flags uint32
	if response {
		flags = frame.FlagIsResponse
	}
	return encodeFrame(seq, wire.MsgMeta, flags, fields)
}

// DecodeMetaFrame reassembles the document in chunk order.
func DecodeMetaFrame(f frame.Frame) ([]byte, error) {
	fields, err := decodeFields(f, wire.MsgMeta)
	if err != nil {
		return nil, err
	}
	parts := tlv.GetFields(fields, wire.FieldMetaChunk)
	chunks := make([]string, 0, len(parts))
	for _, p := range parts {
		if err := tlv.MustType(p, tlv.TypeString); err != nil {
			return nil, err
		}
		chunks = append(chunks, string(p.Value))
	}
	return []byte(schema.Join(chunks)), nil
}
