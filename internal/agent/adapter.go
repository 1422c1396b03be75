// Package agent bridges the voice gateway to the text-generation backend
// that produces assistant replies.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ContextItem is one retrieved grounding document attached to a request.
type ContextItem struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// GenerateRequest is the normalized request sent to the backend.
type GenerateRequest struct {
	UserID    string        `json:"user_id"`
	SessionID string        `json:"session_id"`
	ThreadID  string        `json:"thread_id"`
	AgentID   string        `json:"agent_id"`
	InputText string        `json:"input_text"`
	Context   []ContextItem `json:"context,omitempty"`
}

// GenerateResponse is the final assembled response after streaming deltas.
type GenerateResponse struct {
	Text string `json:"text"`
}

// DeltaHandler receives streaming text fragments.
type DeltaHandler func(delta string) error

// Adapter streams one assistant reply per call. Implementations must honor
// ctx cancellation between deltas.
type Adapter interface {
	StreamResponse(ctx context.Context, req GenerateRequest, onDelta DeltaHandler) (GenerateResponse, error)
}

// Config controls adapter construction.
type Config struct {
	Mode         string
	HTTPURL      string
	StreamStrict bool
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPAdapterWithOptions(cfg.HTTPURL, cfg.StreamStrict), nil
		}
		return NewMockAdapter(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("agent HTTP url is required for http mode")
		}
		return NewHTTPAdapterWithOptions(cfg.HTTPURL, cfg.StreamStrict), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported agent adapter mode %q", cfg.Mode)
	}
}
