package upstream

import (
	"encoding/json"

	"github.com/yuxilabs/voicegate/internal/wire"
)

// Event is one demultiplexed server frame. ID is always set; the other
// fields are populated for the event kinds that carry them.
type Event struct {
	ID        wire.EventID
	SessionID string

	// Audio holds raw PCM for audio-only TTS response frames.
	Audio []byte

	// Text holds the transcript for ASR events and the delta for chat
	// response events.
	Text    string
	IsFinal bool

	// ErrorDetail is set for connection/session failures and dialog errors.
	ErrorDetail string

	// Payload preserves the raw JSON body for callers needing fields the
	// demux does not lift.
	Payload json.RawMessage
}

func demux(f wire.Frame) Event {
	evt := Event{
		ID:        f.Event,
		SessionID: f.SessionID,
	}

	if f.Type == wire.MsgAudioOnlyResponse {
		evt.Audio = f.Payload
		if evt.ID == 0 {
			evt.ID = wire.EventTTSResponse
		}
		return evt
	}

	evt.Payload = f.Payload
	switch f.Event {
	case wire.EventASRResponse:
		var body struct {
			Results []struct {
				Text    string `json:"text"`
				IsFinal bool   `json:"is_final"`
			} `json:"results"`
		}
		if json.Unmarshal(f.Payload, &body) == nil && len(body.Results) > 0 {
			evt.Text = body.Results[0].Text
			evt.IsFinal = body.Results[0].IsFinal
		}
	case wire.EventASREnded:
		evt.IsFinal = true
	case wire.EventChatResponse:
		var body struct {
			Content string `json:"content"`
		}
		if json.Unmarshal(f.Payload, &body) == nil {
			evt.Text = body.Content
		}
	case wire.EventConnectionFailed, wire.EventSessionFailed, wire.EventDialogError:
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(f.Payload, &body) == nil {
			evt.ErrorDetail = body.Error
		}
	}
	return evt
}
