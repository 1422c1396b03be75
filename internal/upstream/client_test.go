package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yuxilabs/voicegate/internal/wire"
)

// fakeDialogServer speaks just enough of the binary protocol to exercise
// the client handshake and session lifecycle.
func fakeDialogServer(t *testing.T, handle func(t *testing.T, conn *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handle(t, conn)
	}))
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func mustReadFrame(t *testing.T, conn *websocket.Conn) wire.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	f, err := wire.Decode(data)
	if err != nil {
		t.Fatalf("server decode: %v", err)
	}
	return f
}

func writeFrame(t *testing.T, conn *websocket.Conn, f wire.Frame) {
	t.Helper()
	if err := conn.WriteMessage(websocket.BinaryMessage, wire.Encode(f)); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func TestClientConnectHandshake(t *testing.T) {
	srv, url := fakeDialogServer(t, func(t *testing.T, conn *websocket.Conn) {
		f := mustReadFrame(t, conn)
		if f.Event != wire.EventStartConnection {
			t.Errorf("first frame event = %v, want start_connection", f.Event)
		}
		resp := wire.NewEventFrame(wire.EventConnectionStarted, "", nil)
		resp.Type = wire.MsgFullServerResponse
		writeFrame(t, conn, resp)

		// Keep the socket open until the client hangs up.
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, _ = conn.ReadMessage()
	})
	defer srv.Close()

	c := NewClient(Config{URL: url, ReceiveTimeout: time.Second})
	if !c.Connect(context.Background()) {
		t.Fatalf("Connect() = false, want true")
	}
	if !c.Connected() {
		t.Fatalf("Connected() = false after handshake")
	}
	c.Close()
	if c.Connected() {
		t.Fatalf("Connected() = true after Close()")
	}
}

func TestClientConnectRejectedHandshake(t *testing.T) {
	srv, url := fakeDialogServer(t, func(t *testing.T, conn *websocket.Conn) {
		mustReadFrame(t, conn)
		resp := wire.NewEventFrame(wire.EventConnectionFailed, "", []byte(`{"error":"bad credentials"}`))
		resp.Type = wire.MsgFullServerResponse
		writeFrame(t, conn, resp)
	})
	defer srv.Close()

	c := NewClient(Config{URL: url, ReceiveTimeout: time.Second})
	if c.Connect(context.Background()) {
		t.Fatalf("Connect() = true, want false on connection_failed")
	}
	if c.Connected() {
		t.Fatalf("Connected() = true after failed handshake")
	}
}

func TestClientSessionLifecycle(t *testing.T) {
	srv, url := fakeDialogServer(t, func(t *testing.T, conn *websocket.Conn) {
		mustReadFrame(t, conn) // start_connection
		resp := wire.NewEventFrame(wire.EventConnectionStarted, "", nil)
		resp.Type = wire.MsgFullServerResponse
		writeFrame(t, conn, resp)

		start := mustReadFrame(t, conn)
		if start.Event != wire.EventStartSession {
			t.Errorf("event = %v, want start_session", start.Event)
		}
		if start.SessionID == "" {
			t.Errorf("start_session frame missing session id")
		}
		ack := wire.NewEventFrame(wire.EventSessionStarted, start.SessionID, []byte(`{"dialog_id":"dlg-7"}`))
		ack.Type = wire.MsgFullServerResponse
		writeFrame(t, conn, ack)

		audio := mustReadFrame(t, conn)
		if audio.Type != wire.MsgAudioOnlyRequest || audio.Event != wire.EventTaskRequest {
			t.Errorf("audio frame = %+v", audio)
		}
		if audio.SessionID != start.SessionID {
			t.Errorf("audio session id = %q, want %q", audio.SessionID, start.SessionID)
		}

		ragFrame := mustReadFrame(t, conn)
		if ragFrame.Event != wire.EventChatRAGText {
			t.Errorf("event = %v, want chat_rag_text", ragFrame.Event)
		}

		finish := mustReadFrame(t, conn)
		if finish.Event != wire.EventFinishSession {
			t.Errorf("event = %v, want finish_session", finish.Event)
		}
		// Interleave a buffered TTS chunk before the ack; the client must
		// keep draining until session_finished.
		tts := wire.Frame{
			Version:       wire.ProtocolVersion,
			Type:          wire.MsgAudioOnlyResponse,
			Flags:         wire.FlagEvent,
			Serialization: wire.SerializationRaw,
			Event:         wire.EventTTSResponse,
			SessionID:     start.SessionID,
			Payload:       []byte{1, 2, 3},
		}
		writeFrame(t, conn, tts)
		done := wire.NewEventFrame(wire.EventSessionFinished, start.SessionID, nil)
		done.Type = wire.MsgFullServerResponse
		writeFrame(t, conn, done)

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, _ = conn.ReadMessage()
	})
	defer srv.Close()

	c := NewClient(Config{URL: url, ReceiveTimeout: time.Second, FinishTimeout: 2 * time.Second})
	defer c.Close()
	if !c.Connect(context.Background()) {
		t.Fatalf("Connect() failed")
	}

	id := c.StartSession(context.Background(), "")
	if id == "" {
		t.Fatalf("StartSession() returned empty id")
	}
	if c.DialogID() != "dlg-7" {
		t.Fatalf("DialogID() = %q, want dlg-7", c.DialogID())
	}

	if err := c.SendAudio([]byte{9, 9, 9, 9}); err != nil {
		t.Fatalf("SendAudio() error = %v", err)
	}
	if err := c.SendContext([]ContextDocument{{Title: "doc", Content: "grounding text"}}); err != nil {
		t.Fatalf("SendContext() error = %v", err)
	}

	c.FinishSession(true)
	if c.SessionID() != "" {
		t.Fatalf("SessionID() = %q after finish, want empty", c.SessionID())
	}
}

func TestClientNoSessionNoOps(t *testing.T) {
	c := NewClient(Config{URL: "ws://127.0.0.1:1"})
	if err := c.SendAudio([]byte{1}); err != nil {
		t.Fatalf("SendAudio() without session error = %v", err)
	}
	if err := c.SendContext([]ContextDocument{{Title: "t"}}); err != nil {
		t.Fatalf("SendContext() without session error = %v", err)
	}
	c.FinishSession(true)
	c.Close()
}

func TestClientConnectDialFailure(t *testing.T) {
	c := NewClient(Config{URL: "ws://127.0.0.1:1"})
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if c.Connect(ctx) {
		t.Fatalf("Connect() = true against unreachable endpoint")
	}
}

func TestClientReceiveTimeoutAndClosure(t *testing.T) {
	srv, url := fakeDialogServer(t, func(t *testing.T, conn *websocket.Conn) {
		mustReadFrame(t, conn)
		resp := wire.NewEventFrame(wire.EventConnectionStarted, "", nil)
		resp.Type = wire.MsgFullServerResponse
		writeFrame(t, conn, resp)

		// Stay silent long enough for one Receive timeout, then hang up.
		time.Sleep(300 * time.Millisecond)
	})
	defer srv.Close()

	c := NewClient(Config{URL: url, ReceiveTimeout: 100 * time.Millisecond})
	defer c.Close()
	if !c.Connect(context.Background()) {
		t.Fatalf("Connect() failed")
	}

	evt, err := c.Receive(context.Background())
	if err != nil || evt != nil {
		t.Fatalf("Receive() = (%v, %v), want (nil, nil) on timeout", evt, err)
	}

	// After the server hangs up, Receive reports closure and the client
	// marks itself disconnected.
	deadline := time.Now().Add(2 * time.Second)
	for {
		evt, err = c.Receive(context.Background())
		if err != nil || time.Now().After(deadline) {
			break
		}
	}
	if err == nil {
		t.Fatalf("Receive() never reported closure")
	}
	if c.Connected() {
		t.Fatalf("Connected() = true after closure")
	}
}

func TestClientCloseUnblocksFullReadBuffer(t *testing.T) {
	baseline := runtime.NumGoroutine()

	flooded := make(chan struct{})
	srv, url := fakeDialogServer(t, func(t *testing.T, conn *websocket.Conn) {
		mustReadFrame(t, conn) // start_connection
		resp := wire.NewEventFrame(wire.EventConnectionStarted, "", nil)
		resp.Type = wire.MsgFullServerResponse
		writeFrame(t, conn, resp)

		// Push far more frames than the client buffers while nothing
		// drains them, so the read loop ends up blocked on a full channel.
		for i := 0; i < 300; i++ {
			f := wire.NewEventFrame(wire.EventChatResponse, "sess-1", []byte(`{"content":"x"}`))
			f.Type = wire.MsgFullServerResponse
			writeFrame(t, conn, f)
		}
		close(flooded)
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, _, _ = conn.ReadMessage()
	})
	defer srv.Close()

	c := NewClient(Config{URL: url, ReceiveTimeout: time.Second})
	if !c.Connect(context.Background()) {
		t.Fatalf("Connect() failed")
	}
	<-flooded

	// Wait for the read loop to fill its buffer.
	deadline := time.Now().Add(2 * time.Second)
	for {
		c.mu.Lock()
		n, full := len(c.frames), len(c.frames) == cap(c.frames)
		c.mu.Unlock()
		if full {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("frame buffer never filled, len = %d", n)
		}
		time.Sleep(2 * time.Millisecond)
	}

	c.Close()
	srv.Close()

	// With the buffer full and no consumer left, the read loop must still
	// exit once the client closes.
	deadline = time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > baseline {
		if time.Now().After(deadline) {
			t.Fatalf("goroutines = %d after Close, want at most %d", runtime.NumGoroutine(), baseline)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
