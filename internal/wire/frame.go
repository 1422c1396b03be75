// Package wire implements the binary framing used by the upstream realtime
// dialogue protocol. The codec is pure: it owns no connection state and
// performs no I/O.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageType occupies the high nibble of header byte 1.
type MessageType uint8

const (
	MsgFullClientRequest  MessageType = 0b0001
	MsgAudioOnlyRequest   MessageType = 0b0010
	MsgFullServerResponse MessageType = 0b1001
	MsgAudioOnlyResponse  MessageType = 0b1011
	MsgErrorInformation   MessageType = 0b1111
)

// Serialization occupies the high nibble of header byte 2.
type Serialization uint8

const (
	SerializationRaw  Serialization = 0b0000
	SerializationJSON Serialization = 0b0001
)

const (
	// ProtocolVersion is the only version this codec speaks.
	ProtocolVersion uint8 = 1

	// headerWords is the fixed header size in 4-byte words.
	headerWords uint8 = 1

	// FlagEvent marks a frame as carrying a 4-byte event id.
	FlagEvent uint8 = 0b0100
)

var (
	ErrTruncated = errors.New("wire: truncated frame")
	ErrVersion   = errors.New("wire: unsupported protocol version")
)

// Frame is one decoded protocol frame.
//
// Event is meaningful only when Flags has FlagEvent set. SessionID is
// present on the wire only for event frames whose event is session-scoped;
// an empty SessionID encodes as a zero-length id field.
type Frame struct {
	Version       uint8
	Type          MessageType
	Flags         uint8
	Serialization Serialization
	Compression   uint8
	Event         EventID
	SessionID     string
	Payload       []byte
}

// NewEventFrame builds a JSON control frame for the given event.
func NewEventFrame(event EventID, sessionID string, payload []byte) Frame {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	return Frame{
		Version:       ProtocolVersion,
		Type:          MsgFullClientRequest,
		Flags:         FlagEvent,
		Serialization: SerializationJSON,
		Event:         event,
		SessionID:     sessionID,
		Payload:       payload,
	}
}

// NewAudioFrame builds a raw PCM upload frame tagged with the session id.
func NewAudioFrame(sessionID string, audio []byte) Frame {
	return Frame{
		Version:       ProtocolVersion,
		Type:          MsgAudioOnlyRequest,
		Flags:         FlagEvent,
		Serialization: SerializationRaw,
		Event:         EventTaskRequest,
		SessionID:     sessionID,
		Payload:       audio,
	}
}

// hasSessionField reports whether the wire form includes the
// length-prefixed session id field.
func (f Frame) hasSessionField() bool {
	return f.Flags&FlagEvent != 0 && !f.Event.ConnectionScoped()
}

// Encode serializes the frame.
func Encode(f Frame) []byte {
	size := 4 + 4 + len(f.Payload)
	if f.Flags&FlagEvent != 0 {
		size += 4
	}
	if f.hasSessionField() {
		size += 4 + len(f.SessionID)
	}

	out := make([]byte, 0, size)
	out = append(out,
		f.Version<<4|headerWords,
		uint8(f.Type)<<4|f.Flags,
		uint8(f.Serialization)<<4|f.Compression,
		0x00,
	)
	if f.Flags&FlagEvent != 0 {
		out = binary.BigEndian.AppendUint32(out, uint32(f.Event))
	}
	if f.hasSessionField() {
		out = binary.BigEndian.AppendUint32(out, uint32(len(f.SessionID)))
		out = append(out, f.SessionID...)
	}
	out = binary.BigEndian.AppendUint32(out, uint32(len(f.Payload)))
	out = append(out, f.Payload...)
	return out
}

// Decode parses one frame. It is the strict inverse of Encode and rejects
// truncated input instead of panicking.
func Decode(data []byte) (Frame, error) {
	if len(data) < 4 {
		return Frame{}, ErrTruncated
	}

	f := Frame{
		Version:       data[0] >> 4,
		Type:          MessageType(data[1] >> 4),
		Flags:         data[1] & 0x0F,
		Serialization: Serialization(data[2] >> 4),
		Compression:   data[2] & 0x0F,
	}
	if f.Version != ProtocolVersion {
		return Frame{}, fmt.Errorf("%w: %d", ErrVersion, f.Version)
	}

	offset := 4
	if f.Flags&FlagEvent != 0 {
		if len(data) < offset+4 {
			return Frame{}, fmt.Errorf("%w: missing event id", ErrTruncated)
		}
		f.Event = EventID(binary.BigEndian.Uint32(data[offset:]))
		offset += 4
	}

	if f.hasSessionField() {
		if len(data) < offset+4 {
			return Frame{}, fmt.Errorf("%w: missing session id size", ErrTruncated)
		}
		idLen := int(binary.BigEndian.Uint32(data[offset:]))
		offset += 4
		if len(data) < offset+idLen {
			return Frame{}, fmt.Errorf("%w: session id shorter than declared", ErrTruncated)
		}
		f.SessionID = string(data[offset : offset+idLen])
		offset += idLen
	}

	if len(data) < offset+4 {
		return Frame{}, fmt.Errorf("%w: missing payload size", ErrTruncated)
	}
	payloadLen := int(binary.BigEndian.Uint32(data[offset:]))
	offset += 4
	if len(data) < offset+payloadLen {
		return Frame{}, fmt.Errorf("%w: payload shorter than declared", ErrTruncated)
	}
	if payloadLen > 0 {
		f.Payload = append([]byte(nil), data[offset:offset+payloadLen]...)
	}
	return f, nil
}
