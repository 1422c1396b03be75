// Package protocol defines the JSON messages exchanged with voice clients
// over the persistent duplex connection.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/yuxilabs/voicegate/internal/session"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Client → server.
	TypeAudio   MessageType = "audio"
	TypeControl MessageType = "control"
	TypeConfig  MessageType = "config"

	// Server → client.
	TypeTranscription MessageType = "transcription"
	TypeResponse      MessageType = "response"
	TypeResponseEnd   MessageType = "response_end"
	TypeAudioEnd      MessageType = "audio_end"
	TypeStatus        MessageType = "status"
	TypeError         MessageType = "error"
)

// Control actions a client may request.
const (
	ActionStart     = "start"
	ActionStop      = "stop"
	ActionInterrupt = "interrupt"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// AudioChunk carries one base64 PCM chunk from the client. PCM is the
// decoded payload, filled during parsing.
type AudioChunk struct {
	Type      MessageType `json:"type"`
	AudioData string      `json:"audio_data"`
	PCM       []byte      `json:"-"`
}

type Control struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

// ConfigUpdate carries a partial session config; absent fields keep their
// current values.
type ConfigUpdate struct {
	Type   MessageType         `json:"type"`
	Config session.ConfigPatch `json:"config"`
}

// Transcription reports recognized speech, partial or final.
type Transcription struct {
	Type    MessageType `json:"type"`
	Text    string      `json:"text"`
	IsFinal bool        `json:"is_final"`
}

// Response carries one incremental fragment of generated text.
type Response struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type ResponseEnd struct {
	Type MessageType `json:"type"`
}

// AudioOut carries one synthesized audio chunk to the client.
type AudioOut struct {
	Type      MessageType `json:"type"`
	AudioData string      `json:"audio_data"`
}

type AudioEnd struct {
	Type MessageType `json:"type"`
}

// StatusEvent announces a session state transition.
type StatusEvent struct {
	Type   MessageType    `json:"type"`
	Status session.Status `json:"status"`
}

type ErrorEvent struct {
	Type  MessageType `json:"type"`
	Error string      `json:"error"`
}

// NewAudioOut wraps raw PCM for delivery.
func NewAudioOut(pcm []byte) AudioOut {
	return AudioOut{Type: TypeAudio, AudioData: base64.StdEncoding.EncodeToString(pcm)}
}

func NewTranscription(text string, isFinal bool) Transcription {
	return Transcription{Type: TypeTranscription, Text: text, IsFinal: isFinal}
}

func NewResponse(text string) Response {
	return Response{Type: TypeResponse, Text: text}
}

func NewResponseEnd() ResponseEnd { return ResponseEnd{Type: TypeResponseEnd} }

func NewAudioEnd() AudioEnd { return AudioEnd{Type: TypeAudioEnd} }

func NewStatus(status session.Status) StatusEvent {
	return StatusEvent{Type: TypeStatus, Status: status}
}

func NewError(msg string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Error: msg}
}

// ParseClientMessage validates and decodes one inbound client message.
// Unknown types and malformed payloads are reported as errors; the caller
// answers with an error event and keeps the connection open.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeAudio:
		var msg AudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.AudioData == "" {
			return nil, errors.New("audio message missing audio_data")
		}
		pcm, err := base64.StdEncoding.DecodeString(msg.AudioData)
		if err != nil {
			return nil, fmt.Errorf("invalid audio_data encoding: %w", err)
		}
		msg.PCM = pcm
		return msg, nil
	case TypeControl:
		var msg Control
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Action {
		case ActionStart, ActionStop, ActionInterrupt:
			return msg, nil
		default:
			return nil, fmt.Errorf("unknown control action %q", msg.Action)
		}
	case TypeConfig:
		var msg ConfigUpdate
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
