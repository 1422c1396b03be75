package session

import (
	"errors"
	"time"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusListening  Status = "listening"
	StatusProcessing Status = "processing"
	StatusSpeaking   Status = "speaking"
)

// DefaultSessionTimeout applies when a session config carries no timeout.
const DefaultSessionTimeout = 5 * time.Minute

// MaxAudioBuffer caps how much PCM one listening phase may accumulate.
const MaxAudioBuffer = 10 << 20

var (
	ErrNotFound   = errors.New("session not found")
	ErrBufferFull = errors.New("audio buffer full")
)

// Config is the per-session tuning snapshot. Values are replaced wholesale
// on create and merged field-by-field through Registry.UpdateConfig.
type Config struct {
	ASRProvider      string        `json:"asr_provider"`
	TTSProvider      string        `json:"tts_provider"`
	VoiceID          string        `json:"voice_id"`
	SpeechRate       float64       `json:"speech_rate"`
	VADThreshold     float64       `json:"vad_threshold"`
	InterruptEnabled bool          `json:"interrupt_enabled"`
	SessionTimeout   time.Duration `json:"session_timeout"`
}

func (c Config) timeout() time.Duration {
	if c.SessionTimeout <= 0 {
		return DefaultSessionTimeout
	}
	return c.SessionTimeout
}

// ConfigPatch carries the fields of a partial config update; nil fields
// leave the current value untouched.
type ConfigPatch struct {
	ASRProvider      *string  `json:"asr_provider"`
	TTSProvider      *string  `json:"tts_provider"`
	VoiceID          *string  `json:"voice_id"`
	SpeechRate       *float64 `json:"speech_rate"`
	VADThreshold     *float64 `json:"vad_threshold"`
	InterruptEnabled *bool    `json:"interrupt_enabled"`
	SessionTimeoutS  *int     `json:"session_timeout"`
}

func (c Config) merge(p ConfigPatch) Config {
	if p.ASRProvider != nil {
		c.ASRProvider = *p.ASRProvider
	}
	if p.TTSProvider != nil {
		c.TTSProvider = *p.TTSProvider
	}
	if p.VoiceID != nil {
		c.VoiceID = *p.VoiceID
	}
	if p.SpeechRate != nil {
		c.SpeechRate = *p.SpeechRate
	}
	if p.VADThreshold != nil {
		c.VADThreshold = *p.VADThreshold
	}
	if p.InterruptEnabled != nil {
		c.InterruptEnabled = *p.InterruptEnabled
	}
	if p.SessionTimeoutS != nil {
		c.SessionTimeout = time.Duration(*p.SessionTimeoutS) * time.Second
	}
	return c
}

// Session is one logical voice conversation bound to one client connection.
type Session struct {
	ID           string    `json:"session_id"`
	ConnID       string    `json:"-"`
	UserID       string    `json:"user_id"`
	AgentID      string    `json:"agent_id"`
	ThreadID     string    `json:"thread_id"`
	Status       Status    `json:"status"`
	Config       Config    `json:"config"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`

	// Audio is shared by pointer across registry snapshots but is only
	// ever mutated by the one connection task driving the session.
	Audio *AudioBuffer `json:"-"`
}

// TimedOut reports whether the session has been idle past its timeout.
func (s *Session) TimedOut(now time.Time) bool {
	return now.Sub(s.LastActivity) > s.Config.timeout()
}

// AudioBuffer accumulates raw PCM during one listening phase. Not safe for
// concurrent use; the owning connection task is its only writer.
type AudioBuffer struct {
	buf []byte
	max int
}

func NewAudioBuffer() *AudioBuffer {
	return &AudioBuffer{max: MaxAudioBuffer}
}

// Append adds one chunk. Once the cap is hit it returns ErrBufferFull and
// drops the chunk; the buffered prefix stays intact.
func (b *AudioBuffer) Append(p []byte) error {
	if len(b.buf)+len(p) > b.max {
		return ErrBufferFull
	}
	b.buf = append(b.buf, p...)
	return nil
}

func (b *AudioBuffer) Len() int { return len(b.buf) }

// Take returns the accumulated bytes and resets the buffer.
func (b *AudioBuffer) Take() []byte {
	out := b.buf
	b.buf = nil
	return out
}

func (b *AudioBuffer) Reset() { b.buf = nil }
