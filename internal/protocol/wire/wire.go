// Package wire declares the frame message types, TLV field ids and the
// per-message field requirements of the bridge protocol.
package wire

import (
	"fmt"

	"github.com/danmuck/simbridge/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Message type IDs.
const (
	MsgOpen    uint32 = 1
	MsgOpenAck uint32 = 2
	MsgMeta    uint32 = 3
	MsgData    uint32 = 4
	MsgClose   uint32 = 5
)

// Field IDs.
const (
	FieldClientPort uint16 = 1
	FieldStatus     uint16 = 2

	// FieldMetaChunk repeats once per chunk of the metadata document.
	FieldMetaChunk uint16 = 100

	FieldDoubles uint16 = 200
	FieldBytes   uint16 = 201
	FieldUInt16s uint16 = 202
)

const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("wire: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("wire: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgOpen: {
		{FieldClientPort, tlv.TypeString},
	},
	MsgOpenAck: {
		{FieldClientPort, tlv.TypeString},
		{FieldStatus, tlv.TypeString},
	},
	MsgMeta: {
		{FieldMetaChunk, tlv.TypeString},
	},
	MsgData: {
		{FieldDoubles, tlv.TypeBytes},
		{FieldBytes, tlv.TypeBytes},
		{FieldUInt16s, tlv.TypeBytes},
	},
	MsgClose: {},
}

// MessageName is a log-friendly name for a message type.
func MessageName(messageType uint32) string {
	switch messageType {
	case MsgOpen:
		return "open"
	case MsgOpenAck:
		return "open.ack"
	case MsgMeta:
		return "meta"
	case MsgData:
		return "data"
	case MsgClose:
		return "close"
	default:
		return fmt.Sprintf("unknown(%d)", messageType)
	}
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Error().Uint32("message_type", messageType).Msg("wire.Validate unknown message type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().
				Str("message", MessageName(messageType)).
				Uint16("field_id", req.ID).
				Msg("wire.Validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Error().
				Str("message", MessageName(messageType)).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("wire.Validate type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
