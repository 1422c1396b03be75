// Package voice contains the per-connection orchestration of the gateway:
// the connection state machine, the streaming response pipeline, the
// interrupt coordinator, and the speech provider adapters.
package voice

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/yuxilabs/voicegate/internal/agent"
	"github.com/yuxilabs/voicegate/internal/observability"
	"github.com/yuxilabs/voicegate/internal/policy"
	"github.com/yuxilabs/voicegate/internal/protocol"
	"github.com/yuxilabs/voicegate/internal/reliability"
	"github.com/yuxilabs/voicegate/internal/retrieval"
	"github.com/yuxilabs/voicegate/internal/session"
	"github.com/yuxilabs/voicegate/internal/upstream"
	"github.com/yuxilabs/voicegate/internal/wire"
)

// Mode selects how a connection's audio is processed.
type Mode string

const (
	// ModeDecoupled runs local transcription, generation, and synthesis.
	ModeDecoupled Mode = "decoupled"
	// ModeEndToEnd forwards audio to the upstream realtime speech model.
	ModeEndToEnd Mode = "end_to_end"
)

// ParseMode normalizes a configured mode string, defaulting to decoupled.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "end_to_end", "e2e", "upstream":
		return ModeEndToEnd
	default:
		return ModeDecoupled
	}
}

// UpstreamLink is the slice of the upstream realtime client one
// connection drives. Implemented by *upstream.Client.
type UpstreamLink interface {
	Connected() bool
	SessionID() string
	DialogID() string
	StartSession(ctx context.Context, dialogID string) string
	SendAudio(pcm []byte) error
	SendContext(docs []upstream.ContextDocument) error
	FinishSession(waitForAck bool)
	Receive(ctx context.Context) (*upstream.Event, error)
	Close()
}

// UpstreamDialer opens a connected upstream link, or returns nil when the
// upstream is unreachable.
type UpstreamDialer func(ctx context.Context) UpstreamLink

// GatewayConfig tunes connection handling.
type GatewayConfig struct {
	Mode                Mode
	DefaultSession      session.Config
	InterruptGrace      time.Duration
	Language            string
	RetrievalCollection string
	RetrievalLimit      int

	// RedactTranscripts masks PII in recognized text before it is handed
	// to the agent backend or the retrieval index.
	RedactTranscripts bool
}

// Gateway accepts client connections and runs one state machine per
// connection against the shared session registry.
type Gateway struct {
	registry *session.Registry
	factory  *Factory
	agent    agent.Adapter
	docs     retrieval.Store
	vad      ActivityDetector
	metrics  *observability.Metrics
	dial     UpstreamDialer
	cfg      GatewayConfig
}

func NewGateway(
	registry *session.Registry,
	factory *Factory,
	agentAdapter agent.Adapter,
	docs retrieval.Store,
	vad ActivityDetector,
	metrics *observability.Metrics,
	dial UpstreamDialer,
	cfg GatewayConfig,
) *Gateway {
	if cfg.Mode == "" {
		cfg.Mode = ModeDecoupled
	}
	if cfg.RetrievalLimit <= 0 {
		cfg.RetrievalLimit = 3
	}
	return &Gateway{
		registry: registry,
		factory:  factory,
		agent:    agentAdapter,
		docs:     docs,
		vad:      vad,
		metrics:  metrics,
		dial:     dial,
		cfg:      cfg,
	}
}

// Registry exposes the shared session registry.
func (g *Gateway) Registry() *session.Registry { return g.registry }

// conn is the state one connection task owns: its session, its interrupt
// coordinator, and (in end-to-end mode) its upstream link.
type conn struct {
	g        *Gateway
	sess     *session.Session
	coord    *InterruptCoordinator
	outbound chan<- any

	link       UpstreamLink
	linkCancel context.CancelFunc
	dialog     string

	// bufferFull limits the buffer-overflow error to one per listening
	// phase.
	bufferFull bool
}

// RunConnection drives one client connection until ctx is cancelled or
// the inbound channel closes. The session is created on accept and
// removed on exit.
func (g *Gateway) RunConnection(ctx context.Context, connID, userID, agentID string, inbound <-chan any, outbound chan<- any) error {
	s := g.registry.Create(connID, userID, agentID, "", g.cfg.DefaultSession)
	g.metrics.ActiveSessions.Inc()
	g.metrics.SessionEvents.WithLabelValues("created").Inc()

	c := &conn{g: g, sess: s, coord: NewInterruptCoordinator(g.cfg.InterruptGrace), outbound: outbound}
	defer func() {
		c.coord.SetRestart(nil)
		c.coord.Interrupt(s.Audio)
		if c.linkCancel != nil {
			c.linkCancel()
		}
		if c.link != nil {
			c.link.FinishSession(false)
			c.link.Close()
		}
		// The idle sweep may have evicted the session already, and the
		// evict hook owns the gauge decrement in that case.
		if _, err := g.registry.Remove(s.ID); err == nil {
			g.metrics.ActiveSessions.Dec()
			g.metrics.SessionEvents.WithLabelValues("closed").Inc()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			snap, err := g.registry.Get(s.ID)
			if err != nil {
				// Evicted by the timeout sweep while messages were queued.
				return nil
			}
			_ = g.registry.Touch(s.ID)

			switch m := msg.(type) {
			case protocol.AudioChunk:
				g.metrics.WSMessages.WithLabelValues("inbound", "audio").Inc()
				c.handleAudio(ctx, snap, m.PCM)
			case protocol.Control:
				g.metrics.WSMessages.WithLabelValues("inbound", "control").Inc()
				c.handleControl(ctx, snap, m.Action)
			case protocol.ConfigUpdate:
				g.metrics.WSMessages.WithLabelValues("inbound", "config").Inc()
				if _, err := g.registry.UpdateConfig(s.ID, m.Config); err != nil {
					c.sendError("config update failed")
				}
			default:
				c.sendError("unsupported message")
			}
		}
	}
}

func (c *conn) handleControl(ctx context.Context, snap *session.Session, action string) {
	switch action {
	case protocol.ActionStart:
		c.bufferFull = false
		c.coord.Interrupt(c.sess.Audio)
		if c.g.cfg.Mode == ModeEndToEnd && !c.ensureUpstream(ctx) {
			c.setStatus(session.StatusIdle)
			return
		}
		c.setStatus(session.StatusListening)

	case protocol.ActionStop:
		if snap.Status != session.StatusListening {
			return
		}
		if c.g.cfg.Mode == ModeEndToEnd {
			// The upstream model owns utterance end-pointing; it drives
			// the remaining transitions through its event stream.
			c.setStatus(session.StatusProcessing)
			return
		}
		c.startTurn(ctx, snap)

	case protocol.ActionInterrupt:
		if c.coord.Interrupt(c.sess.Audio) {
			c.g.metrics.Interrupts.Inc()
			c.g.metrics.ObserveTurnIndicator("explicit_interrupt")
		}
		c.bufferFull = false
		c.setStatus(session.StatusListening)
	}
}

func (c *conn) handleAudio(ctx context.Context, snap *session.Session, pcm []byte) {
	switch snap.Status {
	case session.StatusListening:
		if c.g.cfg.Mode == ModeEndToEnd {
			if c.link == nil {
				return
			}
			if err := c.link.SendAudio(pcm); err != nil {
				c.sendError("upstream audio send failed")
			}
			return
		}
		c.appendAudio(pcm)

	case session.StatusProcessing, session.StatusSpeaking:
		if !snap.Config.InterruptEnabled || c.g.vad == nil {
			return
		}
		threshold := snap.Config.VADThreshold
		if threshold <= 0 {
			threshold = 0.5
		}
		if c.g.vad.SpeechProbability(pcm) < threshold {
			return
		}
		// Detected barge-in: cancel the turn and re-arm listening with
		// this chunk as the start of the new utterance.
		if c.coord.Interrupt(c.sess.Audio) {
			c.g.metrics.Interrupts.Inc()
			c.g.metrics.ObserveTurnIndicator("vad_barge_in")
		}
		c.bufferFull = false
		c.setStatus(session.StatusListening)
		if c.g.cfg.Mode != ModeEndToEnd {
			c.appendAudio(pcm)
		}
	}
}

func (c *conn) appendAudio(pcm []byte) {
	if err := c.sess.Audio.Append(pcm); err != nil {
		if errors.Is(err, session.ErrBufferFull) && !c.bufferFull {
			c.bufferFull = true
			c.sendError("audio buffer full, further chunks dropped")
		}
	}
}

// startTurn begins one decoupled-mode turn from the buffered utterance.
// Any previous turn is implicitly cancelled.
func (c *conn) startTurn(ctx context.Context, snap *session.Session) {
	audio := c.sess.Audio.Take()
	if len(audio) == 0 {
		c.setStatus(session.StatusIdle)
		return
	}
	c.setStatus(session.StatusProcessing)

	turnCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.coord.Begin(nil, cancel, done)

	go func() {
		defer cancel()
		defer close(done)
		c.runTurn(turnCtx, snap, audio)
		c.coord.Finish(done)
	}()
}

func (c *conn) runTurn(ctx context.Context, snap *session.Session, audio []byte) {
	turnStart := time.Now()

	transcriber, err := c.g.factory.Transcriber(snap.Config.ASRProvider)
	if err != nil {
		c.sendError(err.Error())
		c.setStatus(session.StatusIdle)
		return
	}

	result, err := transcriber.Transcribe(ctx, audio, c.g.cfg.Language)
	c.g.metrics.ObserveTurnStage("transcribe", time.Since(turnStart))
	if err != nil {
		if ctx.Err() == nil {
			c.g.metrics.ProviderErrors.WithLabelValues(providerLabel(snap.Config.ASRProvider), "transcribe").Inc()
			c.sendError("transcription failed")
			c.setStatus(session.StatusIdle)
		}
		return
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		c.setStatus(session.StatusIdle)
		return
	}
	c.send(protocol.NewTranscription(text, true))

	query := text
	if c.g.cfg.RedactTranscripts {
		query, _ = policy.RedactPII(text)
	}

	var items []agent.ContextItem
	if c.g.docs != nil {
		docs, err := c.g.docs.Search(ctx, query, c.g.cfg.RetrievalCollection, c.g.cfg.RetrievalLimit)
		if err != nil {
			// Grounding is optional; the turn continues without it.
			c.g.metrics.ProviderErrors.WithLabelValues("retrieval", "search").Inc()
		}
		for _, d := range docs {
			items = append(items, agent.ContextItem{Title: d.Title, Content: d.Content})
		}
	}

	synth, err := c.g.factory.Synthesizer(snap.Config.TTSProvider)
	if err != nil {
		c.sendError(err.Error())
		c.setStatus(session.StatusIdle)
		return
	}
	pipeline := NewPipeline(synth, snap.Config.VoiceID, snap.Config.SpeechRate)

	fragments := make(chan string, 64)
	agentDone := make(chan error, 1)
	go func() {
		defer close(fragments)
		_, err := c.g.agent.StreamResponse(ctx, agent.GenerateRequest{
			UserID:    snap.UserID,
			SessionID: snap.ID,
			ThreadID:  snap.ThreadID,
			AgentID:   snap.AgentID,
			InputText: query,
			Context:   items,
		}, func(delta string) error {
			select {
			case fragments <- delta:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		agentDone <- err
	}()

	sink := &turnSink{conn: c, turnStart: turnStart}
	_ = pipeline.Run(ctx, fragments, sink)
	genErr := <-agentDone

	if ctx.Err() != nil {
		// Cancelled by interrupt or shutdown; the interrupt path already
		// re-armed the client.
		return
	}
	if genErr != nil && !errors.Is(genErr, context.Canceled) {
		c.g.metrics.ProviderErrors.WithLabelValues("agent", "generate").Inc()
		c.sendError("response generation failed")
	}

	c.send(protocol.NewResponseEnd())
	c.send(protocol.NewAudioEnd())
	c.g.metrics.ObserveTurnStage("turn_total", time.Since(turnStart))
	c.setStatus(session.StatusIdle)
}

// turnSink adapts one turn's pipeline output to client events.
type turnSink struct {
	conn       *conn
	turnStart  time.Time
	firstDelta bool
	spoke      bool
}

func (s *turnSink) TextDelta(text string) {
	if !s.firstDelta {
		s.firstDelta = true
		s.conn.g.metrics.ObserveTurnStage("first_delta", time.Since(s.turnStart))
	}
	s.conn.send(protocol.NewResponse(text))
}

func (s *turnSink) Audio(pcm []byte) {
	if !s.spoke {
		s.spoke = true
		s.conn.g.metrics.ObserveFirstAudioLatency(time.Since(s.turnStart))
		s.conn.setStatus(session.StatusSpeaking)
	}
	s.conn.send(protocol.NewAudioOut(pcm))
}

func (s *turnSink) ProviderError(msg string) {
	s.conn.g.metrics.ProviderErrors.WithLabelValues("tts", "synthesize").Inc()
	s.conn.sendError(msg)
}

// ensureUpstream connects and starts an upstream session for end-to-end
// mode, arming the interrupt restart hook.
func (c *conn) ensureUpstream(ctx context.Context) bool {
	if c.link == nil {
		if c.g.dial == nil {
			c.sendError("upstream not configured")
			return false
		}
		link := c.g.dial(ctx)
		if link == nil {
			c.sendError("upstream connect failed")
			return false
		}
		c.link = link
		pumpCtx, cancel := context.WithCancel(ctx)
		c.linkCancel = cancel
		go c.pumpUpstream(pumpCtx)
	}

	if c.link.SessionID() == "" {
		start := time.Now()
		if id := c.link.StartSession(ctx, c.dialog); id == "" {
			c.sendError("upstream session start failed")
			return false
		}
		c.g.metrics.ObserveTurnStage("upstream_session_start", time.Since(start))
		c.dialog = c.link.DialogID()
		c.coord.SetRestart(func() {
			c.link.FinishSession(true)
			if id := c.link.StartSession(context.Background(), c.dialog); id != "" {
				c.dialog = c.link.DialogID()
			}
		})
	}
	return true
}

// pumpUpstream translates upstream events into client messages. It owns
// the cross-turn bookkeeping for end-to-end mode: only while the upstream
// is mid-response is there a "turn" the interrupt coordinator can target.
func (c *conn) pumpUpstream(ctx context.Context) {
	responding := false
	spoke := false

	beginResponse := func() {
		if responding {
			return
		}
		responding = true
		c.coord.Begin(nil, func() {}, nil)
	}
	endResponse := func() {
		responding = false
		spoke = false
		c.coord.Finish(nil)
	}

	for {
		evt, err := c.link.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// A stalled or closed upstream is one error event to the
			// client; it may retry with control "start".
			c.g.metrics.SessionEvents.WithLabelValues("upstream_lost").Inc()
			c.sendError("upstream connection lost")
			c.setStatus(session.StatusIdle)
			return
		}
		if evt == nil {
			continue
		}

		switch evt.ID {
		case wire.EventASRResponse:
			c.g.metrics.UpstreamFrames.WithLabelValues("inbound", "asr").Inc()
			if evt.Text != "" {
				c.send(protocol.NewTranscription(evt.Text, evt.IsFinal))
			}
			if evt.IsFinal && evt.Text != "" {
				c.injectContext(ctx, evt.Text)
			}
		case wire.EventASREnded:
			c.g.metrics.UpstreamFrames.WithLabelValues("inbound", "asr").Inc()
			c.setStatus(session.StatusProcessing)
		case wire.EventChatResponse:
			c.g.metrics.UpstreamFrames.WithLabelValues("inbound", "chat").Inc()
			beginResponse()
			if evt.Text != "" {
				c.send(protocol.NewResponse(evt.Text))
			}
		case wire.EventChatEnded:
			c.g.metrics.UpstreamFrames.WithLabelValues("inbound", "chat").Inc()
			c.send(protocol.NewResponseEnd())
		case wire.EventTTSResponse, wire.EventTTSSentenceStart, wire.EventTTSSentenceEnd:
			c.g.metrics.UpstreamFrames.WithLabelValues("inbound", "tts").Inc()
			if len(evt.Audio) == 0 {
				continue
			}
			beginResponse()
			if !spoke {
				spoke = true
				c.setStatus(session.StatusSpeaking)
			}
			c.send(protocol.NewAudioOut(evt.Audio))
		case wire.EventTTSEnded:
			c.g.metrics.UpstreamFrames.WithLabelValues("inbound", "tts").Inc()
			c.send(protocol.NewAudioEnd())
			c.setStatus(session.StatusIdle)
			endResponse()
		case wire.EventSessionFinished:
			c.g.metrics.UpstreamFrames.WithLabelValues("inbound", "session").Inc()
			endResponse()
		case wire.EventSessionFailed:
			c.g.metrics.UpstreamFrames.WithLabelValues("inbound", "error").Inc()
			endResponse()
			if reliability.IsRetryableUpstreamError(evt.ErrorDetail) {
				if id := c.link.StartSession(ctx, c.dialog); id != "" {
					c.g.metrics.SessionEvents.WithLabelValues("upstream_retry").Inc()
					continue
				}
			}
			c.sendError("upstream session failed: " + evt.ErrorDetail)
			c.setStatus(session.StatusIdle)
		case wire.EventDialogError, wire.EventConnectionFailed:
			c.g.metrics.UpstreamFrames.WithLabelValues("inbound", "error").Inc()
			detail := evt.ErrorDetail
			if detail == "" {
				detail = "upstream reported an error"
			}
			c.sendError(detail)
		}
	}
}

// injectContext grounds the active upstream session with retrieval hits
// for the recognized utterance.
func (c *conn) injectContext(ctx context.Context, query string) {
	if c.g.docs == nil || c.link == nil {
		return
	}
	if c.g.cfg.RedactTranscripts {
		query, _ = policy.RedactPII(query)
	}
	docs, err := c.g.docs.Search(ctx, query, c.g.cfg.RetrievalCollection, c.g.cfg.RetrievalLimit)
	if err != nil || len(docs) == 0 {
		return
	}
	items := make([]upstream.ContextDocument, len(docs))
	for i, d := range docs {
		items[i] = upstream.ContextDocument{Title: d.Title, Content: d.Content}
	}
	if err := c.link.SendContext(items); err != nil {
		c.g.metrics.ProviderErrors.WithLabelValues("upstream", "context").Inc()
	}
}

func (c *conn) setStatus(status session.Status) {
	if err := c.g.registry.UpdateStatus(c.sess.ID, status); err != nil {
		return
	}
	c.send(protocol.NewStatus(status))
}

func (c *conn) sendError(msg string) {
	c.send(protocol.NewError(msg))
}

// send delivers one outbound message with a bounded wait so a slow client
// cannot wedge the connection task.
func (c *conn) send(msg any) {
	timer := time.NewTimer(600 * time.Millisecond)
	defer timer.Stop()
	select {
	case c.outbound <- msg:
		c.g.metrics.WSMessages.WithLabelValues("outbound", outboundType(msg)).Inc()
	case <-timer.C:
		c.g.metrics.SessionEvents.WithLabelValues("outbound_timeout").Inc()
	}
}

func outboundType(msg any) string {
	switch msg.(type) {
	case protocol.Transcription:
		return "transcription"
	case protocol.Response:
		return "response"
	case protocol.ResponseEnd:
		return "response_end"
	case protocol.AudioOut:
		return "audio"
	case protocol.AudioEnd:
		return "audio_end"
	case protocol.StatusEvent:
		return "status"
	case protocol.ErrorEvent:
		return "error"
	default:
		return "other"
	}
}

func providerLabel(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "default"
	}
	return name
}
