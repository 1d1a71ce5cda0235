package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/simbridge/internal/protocol/frame"
	"github.com/danmuck/simbridge/internal/protocol/tlv"
	"github.com/danmuck/simbridge/internal/protocol/wire"
)

const (
	AckStatusAccepted = wire.StatusAccepted
	AckStatusRejected = wire.StatusRejected
)

var (
	ErrUnexpectedMessage = errors.New("session: unexpected message type")
	ErrInvalidOpen       = errors.New("session: invalid open")
	ErrInvalidOpenAck    = errors.New("session: invalid open ack")
)

// OpenAck is the server's answer to a port pairing request.
type OpenAck struct {
	ClientPort string
	Status     string
}

func (a OpenAck) Validate() error {
	status := strings.TrimSpace(a.Status)
	if status != AckStatusAccepted && status != AckStatusRejected {
		return fmt.Errorf("%w: invalid status", ErrInvalidOpenAck)
	}
	if strings.TrimSpace(a.ClientPort) == "" {
		return fmt.Errorf("%w: missing client_port", ErrInvalidOpenAck)
	}
	return nil
}

// EncodeOpenFrame asks the server to serve the session on clientPort.
func EncodeOpenFrame(seq uint64, clientPort string) ([]byte, error) {
	if strings.TrimSpace(clientPort) == "" {
		return nil, fmt.Errorf("%w: missing client_port", ErrInvalidOpen)
	}
	fields := []tlv.Field{tlv.String(wire.FieldClientPort, clientPort)}
	return encodeFrame(seq, wire.MsgOpen, 0, fields)
}

func DecodeOpenFrame(f frame.Frame) (string, error) {
	fields, err := decodeFields(f, wire.MsgOpen)
	if err != nil {
		return "", err
	}
	port := getRequiredString(fields, wire.FieldClientPort)
	if strings.TrimSpace(port) == "" {
		return "", fmt.Errorf("%w: missing client_port", ErrInvalidOpen)
	}
	return port, nil
}

func EncodeOpenAckFrame(seq uint64, ack OpenAck) ([]byte, error) {
	if err := ack.Validate(); err != nil {
		return nil, err
	}
	fields := []tlv.Field{
		tlv.String(wire.FieldClientPort, ack.ClientPort),
		tlv.String(wire.FieldStatus, ack.Status),
	}
	return encodeFrame(seq, wire.MsgOpenAck, frame.FlagIsResponse, fields)
}

func DecodeOpenAckFrame(f frame.Frame) (OpenAck, error) {
	fields, err := decodeFields(f, wire.MsgOpenAck)
	if err != nil {
		return OpenAck{}, err
	}
	ack := OpenAck{
		ClientPort: getRequiredString(fields, wire.FieldClientPort),
		Status:     getRequiredString(fields, wire.FieldStatus),
	}
	if err := ack.Validate(); err != nil {
		return OpenAck{}, err
	}
	return ack, nil
}

// EncodeCloseFrame tells the peer the session is over.
func EncodeCloseFrame(seq uint64) ([]byte, error) {
	return encodeFrame(seq, wire.MsgClose, 0, nil)
}

func encodeFrame(seq uint64, messageType uint32, flags uint32, fields []tlv.Field) ([]byte, error) {
	if err := wire.Validate(messageType, fields); err != nil {
		return nil, err
	}
	return frame.Marshal(frame.Frame{
		Header: frame.Header{
			Sequence:    seq,
			MessageType: messageType,
			Flags:       flags,
		},
		Payload: tlv.EncodeFields(fields),
	}, frame.DefaultLimits())
}

func decodeFields(f frame.Frame, messageType uint32) ([]tlv.Field, error) {
	if f.Header.MessageType != messageType {
		return nil, fmt.Errorf("%w: got %s want %s", ErrUnexpectedMessage,
			wire.MessageName(f.Header.MessageType), wire.MessageName(messageType))
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return nil, err
	}
	if err := wire.Validate(messageType, fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func getRequiredString(fields []tlv.Field, id uint16) string {
	f, ok := tlv.GetField(fields, id)
	if !ok {
		return ""
	}
	return string(f.Value)
}
