package wire

// EventID identifies a protocol event. The numbering is fixed by the
// upstream realtime dialogue service and must not be reordered.
type EventID uint32

const (
	// Client connection lifecycle.
	EventStartConnection  EventID = 1
	EventFinishConnection EventID = 2

	// Server connection lifecycle.
	EventConnectionStarted  EventID = 50
	EventConnectionFailed   EventID = 51
	EventConnectionFinished EventID = 52

	// Client session lifecycle.
	EventStartSession  EventID = 100
	EventFinishSession EventID = 102

	// Server session lifecycle.
	EventSessionStarted  EventID = 150
	EventSessionFinished EventID = 152
	EventSessionFailed   EventID = 153
	EventUsageResponse   EventID = 154

	// Audio upload.
	EventTaskRequest EventID = 200

	EventSayHello EventID = 300

	// Server TTS stream.
	EventTTSSentenceStart EventID = 350
	EventTTSSentenceEnd   EventID = 351
	EventTTSResponse      EventID = 352
	EventTTSEnded         EventID = 359

	// Server ASR stream.
	EventASRInfo     EventID = 450
	EventASRResponse EventID = 451
	EventASREnded    EventID = 459

	// Chat side channel (client context injection + server deltas).
	EventChatTTSText            EventID = 500
	EventChatTextQuery          EventID = 501
	EventChatRAGText            EventID = 502
	EventChatResponse           EventID = 550
	EventChatTextQueryConfirmed EventID = 553
	EventChatEnded              EventID = 559

	EventDialogError EventID = 599
)

// ConnectionScoped reports whether the event addresses the connection as a
// whole. Connection-scoped frames never carry a session id field; every
// other event-tagged frame does, possibly with zero length.
func (e EventID) ConnectionScoped() bool {
	switch e {
	case EventStartConnection, EventFinishConnection,
		EventConnectionStarted, EventConnectionFailed, EventConnectionFinished:
		return true
	default:
		return false
	}
}

func (e EventID) String() string {
	switch e {
	case EventStartConnection:
		return "start_connection"
	case EventFinishConnection:
		return "finish_connection"
	case EventConnectionStarted:
		return "connection_started"
	case EventConnectionFailed:
		return "connection_failed"
	case EventConnectionFinished:
		return "connection_finished"
	case EventStartSession:
		return "start_session"
	case EventFinishSession:
		return "finish_session"
	case EventSessionStarted:
		return "session_started"
	case EventSessionFinished:
		return "session_finished"
	case EventSessionFailed:
		return "session_failed"
	case EventUsageResponse:
		return "usage_response"
	case EventTaskRequest:
		return "task_request"
	case EventSayHello:
		return "say_hello"
	case EventTTSSentenceStart:
		return "tts_sentence_start"
	case EventTTSSentenceEnd:
		return "tts_sentence_end"
	case EventTTSResponse:
		return "tts_response"
	case EventTTSEnded:
		return "tts_ended"
	case EventASRInfo:
		return "asr_info"
	case EventASRResponse:
		return "asr_response"
	case EventASREnded:
		return "asr_ended"
	case EventChatTTSText:
		return "chat_tts_text"
	case EventChatTextQuery:
		return "chat_text_query"
	case EventChatRAGText:
		return "chat_rag_text"
	case EventChatResponse:
		return "chat_response"
	case EventChatTextQueryConfirmed:
		return "chat_text_query_confirmed"
	case EventChatEnded:
		return "chat_ended"
	case EventDialogError:
		return "dialog_error"
	default:
		return "unknown"
	}
}
