package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yuxilabs/voicegate/internal/config"
	"github.com/yuxilabs/voicegate/internal/observability"
	"github.com/yuxilabs/voicegate/internal/policy"
	"github.com/yuxilabs/voicegate/internal/protocol"
	"github.com/yuxilabs/voicegate/internal/retrieval"
	"github.com/yuxilabs/voicegate/internal/session"
)

var httpapiTestMetrics = observability.NewMetrics("voicegate_httpapi_test")

// echoGateway acknowledges every parsed inbound message with a listening
// status event.
type echoGateway struct{}

func (echoGateway) RunConnection(ctx context.Context, connID, userID, agentID string, inbound <-chan any, outbound chan<- any) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-inbound:
			if !ok {
				return nil
			}
			select {
			case outbound <- protocol.NewStatus(session.StatusListening):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func newTestServer(cfg config.Config, gw Gateway, docs retrieval.Store, auth *policy.Authorizer) *Server {
	if cfg.RetrievalLimit == 0 {
		cfg.RetrievalLimit = 3
	}
	return New(cfg, session.NewRegistry(), gw, docs, auth, httpapiTestMetrics)
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(config.Config{Mode: "decoupled"}, echoGateway{}, nil, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", res.StatusCode)
	}

	ready, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	defer ready.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(ready.Body).Decode(&payload); err != nil {
		t.Fatalf("decode readyz: %v", err)
	}
	if payload["mode"] != "decoupled" {
		t.Fatalf("mode = %v", payload["mode"])
	}
	if payload["retrieval_enabled"] != false {
		t.Fatalf("retrieval_enabled = %v, want false", payload["retrieval_enabled"])
	}
}

func TestVoiceWSRoundTrip(t *testing.T) {
	srv := newTestServer(config.Config{}, echoGateway{}, nil, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/voice/ws?user_id=u1"
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if res != nil {
		res.Body.Close()
	}
	defer conn.Close()

	msg := `{"type":"control","action":"start"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var status protocol.StatusEvent
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatalf("read: %v", err)
	}
	if status.Type != protocol.TypeStatus || status.Status != session.StatusListening {
		t.Fatalf("unexpected reply %+v", status)
	}
}

func TestVoiceWSRejectsMalformedMessage(t *testing.T) {
	srv := newTestServer(config.Config{}, echoGateway{}, nil, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/voice/ws"
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if res != nil {
		res.Body.Close()
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var errEvent protocol.ErrorEvent
	if err := conn.ReadJSON(&errEvent); err != nil {
		t.Fatalf("read: %v", err)
	}
	if errEvent.Type != protocol.TypeError || errEvent.Error == "" {
		t.Fatalf("unexpected reply %+v", errEvent)
	}
}

func TestVoiceWSClosesOnBadToken(t *testing.T) {
	auth := policy.NewAuthorizer("topsecret", nil)
	srv := newTestServer(config.Config{}, echoGateway{}, nil, auth)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/voice/ws?token=bogus"
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if res != nil {
		res.Body.Close()
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("read error = %v, want policy violation close", err)
	}
}

func TestVoiceWSAcceptsValidToken(t *testing.T) {
	auth := policy.NewAuthorizer("topsecret", nil)
	srv := newTestServer(config.Config{}, echoGateway{}, nil, auth)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	token, err := policy.MintToken("topsecret", "user-1", "concierge", time.Minute)
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/voice/ws?token=" + token
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if res != nil {
		res.Body.Close()
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"control","action":"start"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var status protocol.StatusEvent
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatalf("read: %v", err)
	}
}

func TestSessionAdminEndpoints(t *testing.T) {
	srv := newTestServer(config.Config{}, echoGateway{}, nil, nil)
	sess := srv.registry.Create("conn-1", "user-1", "concierge", "", session.Config{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/sessions?user_id=user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer res.Body.Close()
	var listed struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if listed.Count != 1 {
		t.Fatalf("count = %d, want 1", listed.Count)
	}

	get, err := http.Get(ts.URL + "/v1/sessions/" + sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer get.Body.Close()
	if get.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", get.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/sessions/"+sess.ID, nil)
	del, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	defer del.Body.Close()
	if del.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", del.StatusCode)
	}
	if srv.registry.Len() != 0 {
		t.Fatalf("registry len = %d after delete", srv.registry.Len())
	}

	missing, err := http.Get(ts.URL + "/v1/sessions/" + sess.ID)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing status = %d, want 404", missing.StatusCode)
	}
}

func TestDocumentEndpoints(t *testing.T) {
	docs := retrieval.NewInMemoryStore()
	srv := newTestServer(config.Config{}, echoGateway{}, docs, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body, _ := json.Marshal(retrieval.Document{Title: "hours", Content: "open nine to five"})
	res, err := http.Post(ts.URL+"/v1/documents", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("post status = %d", res.StatusCode)
	}

	search, err := http.Get(ts.URL + "/v1/documents/search?q=hours")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	defer search.Body.Close()
	var found struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(search.Body).Decode(&found); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if found.Count != 1 {
		t.Fatalf("count = %d, want 1", found.Count)
	}
}

func TestPerfLatencyEndpoint(t *testing.T) {
	srv := newTestServer(config.Config{}, echoGateway{}, nil, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := payload["stages"]; !ok {
		t.Fatalf("missing stages: %v", payload)
	}
}
