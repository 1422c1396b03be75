// Package upstream implements the client side of the end-to-end realtime
// speech service: one persistent duplex websocket carrying the binary
// frames defined in internal/wire.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yuxilabs/voicegate/internal/wire"
)

// ErrClosed is returned by Receive when the duplex channel is gone.
var ErrClosed = errors.New("upstream: connection closed")

// Config holds credentials and dialog defaults for the upstream service.
type Config struct {
	URL        string
	AppID      string
	AccessKey  string
	ResourceID string
	AppKey     string

	BotName       string
	SystemRole    string
	SpeakingStyle string
	Model         string
	Voice         string

	// EndSmoothWindowMS controls upstream end-of-utterance smoothing.
	EndSmoothWindowMS int

	ReceiveTimeout time.Duration
	FinishTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.ResourceID) == "" {
		c.ResourceID = "volc.speech.dialog"
	}
	if c.EndSmoothWindowMS <= 0 {
		c.EndSmoothWindowMS = 1500
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = 60 * time.Second
	}
	if c.FinishTimeout <= 0 {
		c.FinishTimeout = 10 * time.Second
	}
	return c
}

// Client owns one upstream connection and at most one active session on it.
// Inbound frames are drained by a dedicated read loop into a channel so
// that bounded waits never poison the websocket.
type Client struct {
	cfg Config

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	frames    chan wire.Frame
	done      chan struct{}
	connected bool
	connectID string
	sessionID string
	dialogID  string
}

func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg.withDefaults()}
}

// Connected reports whether the duplex channel is up and handshaken.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.conn != nil
}

// SessionID returns the active upstream session id, empty when none.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// DialogID returns the dialog identity reported at session start. It is
// stable across session restarts that pass it back to StartSession.
func (c *Client) DialogID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialogID
}

// Connect opens the websocket and performs the start-connection handshake.
// Any failure is reported as false; the client stays disconnected.
func (c *Client) Connect(ctx context.Context) bool {
	connectID := uuid.NewString()
	headers := http.Header{}
	headers.Set("X-Api-App-ID", c.cfg.AppID)
	headers.Set("X-Api-Access-Key", c.cfg.AccessKey)
	headers.Set("X-Api-Resource-Id", c.cfg.ResourceID)
	if c.cfg.AppKey != "" {
		headers.Set("X-Api-App-Key", c.cfg.AppKey)
	}
	headers.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, headers)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return false
	}

	frames := make(chan wire.Frame, 256)
	done := make(chan struct{})
	go c.readLoop(conn, frames, done)

	if err := c.writeFrame(conn, wire.NewEventFrame(wire.EventStartConnection, "", nil)); err != nil {
		close(done)
		_ = conn.Close()
		return false
	}

	frame, ok := awaitFrame(frames, c.cfg.ReceiveTimeout)
	if !ok || frame.Event != wire.EventConnectionStarted {
		close(done)
		_ = conn.Close()
		return false
	}

	c.mu.Lock()
	c.conn = conn
	c.frames = frames
	c.done = done
	c.connected = true
	c.connectID = connectID
	c.mu.Unlock()
	return true
}

// readLoop drains the socket into frames until the connection dies or done
// closes. The done guard matters when no consumer is left: with the buffer
// full, an unguarded send would pin this goroutine past Close.
func (c *Client) readLoop(conn *websocket.Conn, frames chan<- wire.Frame, done <-chan struct{}) {
	defer close(frames)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.markDisconnected()
			return
		}
		frame, err := wire.Decode(data)
		if err != nil {
			// A malformed frame is fatal to this upstream link.
			c.markDisconnected()
			_ = conn.Close()
			return
		}
		select {
		case frames <- frame:
		case <-done:
			return
		}
	}
}

func (c *Client) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

type sessionStartPayload struct {
	Dialog struct {
		BotName       string `json:"bot_name"`
		SystemRole    string `json:"system_role"`
		SpeakingStyle string `json:"speaking_style"`
		DialogID      string `json:"dialog_id"`
		Extra         struct {
			Model             string `json:"model"`
			EndSmoothWindowMS int    `json:"end_smooth_window_ms"`
		} `json:"extra"`
	} `json:"dialog"`
	TTS struct {
		Speaker     string `json:"speaker"`
		AudioConfig struct {
			Channel    int    `json:"channel"`
			Format     string `json:"format"`
			SampleRate int    `json:"sample_rate"`
		} `json:"audio_config"`
	} `json:"tts"`
}

// StartSession opens a new upstream session, optionally resuming an
// existing dialog identity. Returns the new session id, or empty on failure.
func (c *Client) StartSession(ctx context.Context, dialogID string) string {
	c.mu.Lock()
	conn, frames, connected := c.conn, c.frames, c.connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ""
	}

	sessionID := uuid.NewString()

	var payload sessionStartPayload
	payload.Dialog.BotName = c.cfg.BotName
	payload.Dialog.SystemRole = c.cfg.SystemRole
	payload.Dialog.SpeakingStyle = c.cfg.SpeakingStyle
	payload.Dialog.DialogID = dialogID
	payload.Dialog.Extra.Model = c.cfg.Model
	payload.Dialog.Extra.EndSmoothWindowMS = c.cfg.EndSmoothWindowMS
	payload.TTS.Speaker = c.cfg.Voice
	payload.TTS.AudioConfig.Channel = 1
	payload.TTS.AudioConfig.Format = "pcm_s16le"
	payload.TTS.AudioConfig.SampleRate = 24000

	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	if err := c.writeFrame(conn, wire.NewEventFrame(wire.EventStartSession, sessionID, raw)); err != nil {
		return ""
	}

	deadline := time.Now().Add(c.cfg.ReceiveTimeout)
	for {
		frame, ok := awaitFrame(frames, time.Until(deadline))
		if !ok || ctx.Err() != nil {
			return ""
		}
		switch frame.Event {
		case wire.EventSessionStarted:
			c.mu.Lock()
			c.sessionID = sessionID
			var started struct {
				DialogID string `json:"dialog_id"`
			}
			if json.Unmarshal(frame.Payload, &started) == nil && started.DialogID != "" {
				c.dialogID = started.DialogID
			} else if dialogID != "" {
				c.dialogID = dialogID
			}
			c.mu.Unlock()
			return sessionID
		case wire.EventSessionFailed, wire.EventConnectionFailed:
			return ""
		}
		// Stale frames from a previous session may still be buffered.
	}
}

// SendAudio ships one raw PCM chunk tagged with the active session.
// A no-op without an active session; never waits for a response.
func (c *Client) SendAudio(pcm []byte) error {
	c.mu.Lock()
	conn, sessionID := c.conn, c.sessionID
	c.mu.Unlock()
	if conn == nil || sessionID == "" {
		return nil
	}
	return c.writeFrame(conn, wire.NewAudioFrame(sessionID, pcm))
}

// ContextDocument is one grounding item injected into the active dialog.
type ContextDocument struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// SendContext injects retrieval results into the active session as a
// side-channel JSON frame. A no-op without an active session.
func (c *Client) SendContext(docs []ContextDocument) error {
	c.mu.Lock()
	conn, sessionID := c.conn, c.sessionID
	c.mu.Unlock()
	if conn == nil || sessionID == "" || len(docs) == 0 {
		return nil
	}

	inner, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("marshal context docs: %w", err)
	}
	raw, err := json.Marshal(map[string]string{"external_rag": string(inner)})
	if err != nil {
		return fmt.Errorf("marshal context payload: %w", err)
	}
	return c.writeFrame(conn, wire.NewEventFrame(wire.EventChatRAGText, sessionID, raw))
}

// FinishSession ends the active session. With waitForAck it keeps reading
// (and discarding) frames until session-finished/failed or the finish
// timeout, so teardown can not hang the caller. The local session id is
// cleared regardless of outcome.
func (c *Client) FinishSession(waitForAck bool) {
	c.mu.Lock()
	conn, frames, sessionID := c.conn, c.frames, c.sessionID
	c.sessionID = ""
	c.mu.Unlock()
	if conn == nil || sessionID == "" {
		return
	}

	if err := c.writeFrame(conn, wire.NewEventFrame(wire.EventFinishSession, sessionID, nil)); err != nil {
		return
	}
	if !waitForAck {
		return
	}

	deadline := time.Now().Add(c.cfg.FinishTimeout)
	for {
		frame, ok := awaitFrame(frames, time.Until(deadline))
		if !ok {
			return
		}
		if frame.Event == wire.EventSessionFinished || frame.Event == wire.EventSessionFailed {
			return
		}
		// Buffered TTS/chat frames may still arrive; keep draining.
	}
}

// Receive awaits one frame with a bounded timeout and demultiplexes it.
// It returns (nil, nil) on timeout; on channel closure it returns ErrClosed
// with the client marked disconnected.
func (c *Client) Receive(ctx context.Context) (*Event, error) {
	c.mu.Lock()
	frames := c.frames
	c.mu.Unlock()
	if frames == nil {
		return nil, ErrClosed
	}

	timer := time.NewTimer(c.cfg.ReceiveTimeout)
	defer timer.Stop()

	select {
	case frame, ok := <-frames:
		if !ok {
			return nil, ErrClosed
		}
		evt := demux(frame)
		return &evt, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close best-effort finishes the connection and releases the socket.
// It never fails.
func (c *Client) Close() {
	c.mu.Lock()
	conn, done := c.conn, c.done
	c.conn = nil
	c.frames = nil
	c.done = nil
	c.connected = false
	c.sessionID = ""
	c.mu.Unlock()
	if conn == nil {
		return
	}
	if done != nil {
		close(done)
	}
	_ = c.writeFrame(conn, wire.NewEventFrame(wire.EventFinishConnection, "", nil))
	_ = conn.Close()
}

func (c *Client) writeFrame(conn *websocket.Conn, f wire.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, wire.Encode(f))
}

func awaitFrame(frames <-chan wire.Frame, timeout time.Duration) (wire.Frame, bool) {
	if timeout <= 0 {
		select {
		case f, ok := <-frames:
			return f, ok
		default:
			return wire.Frame{}, false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f, ok := <-frames:
		return f, ok
	case <-timer.C:
		return wire.Frame{}, false
	}
}
