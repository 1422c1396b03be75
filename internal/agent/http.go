package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yuxilabs/voicegate/internal/reliability"
)

func waitBackoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(reliability.ExponentialBackoff(attempt, 200*time.Millisecond, 2*time.Second))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HTTPAdapter forwards requests to a streaming-capable HTTP endpoint.
// It accepts SSE, NDJSON, or a plain JSON body and normalizes all three
// into delta callbacks.
type HTTPAdapter struct {
	url    string
	strict bool
	client *http.Client
}

func NewHTTPAdapter(url string) *HTTPAdapter {
	return NewHTTPAdapterWithOptions(url, false)
}

func NewHTTPAdapterWithOptions(url string, strict bool) *HTTPAdapter {
	return &HTTPAdapter{
		url:    strings.TrimSpace(url),
		strict: strict,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (a *HTTPAdapter) StreamResponse(ctx context.Context, req GenerateRequest, onDelta DeltaHandler) (GenerateResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	// Retry only before any delta has been delivered; a broken stream
	// mid-response cannot be replayed transparently.
	const maxAttempts = 3
	var res *http.Response
	for attempt := 0; ; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
		if err != nil {
			return GenerateResponse{}, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream, application/x-ndjson, application/json")

		res, err = a.client.Do(httpReq)
		if err != nil {
			if ctx.Err() == nil && attempt+1 < maxAttempts {
				if werr := waitBackoff(ctx, attempt); werr == nil {
					continue
				}
			}
			return GenerateResponse{}, fmt.Errorf("send request: %w", err)
		}
		if res.StatusCode >= 200 && res.StatusCode < 300 {
			break
		}

		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		res.Body.Close()
		if reliability.IsRetryableHTTPStatus(res.StatusCode) && attempt+1 < maxAttempts {
			if werr := waitBackoff(ctx, attempt); werr == nil {
				continue
			}
		}
		return GenerateResponse{}, fmt.Errorf("agent http status %d: %s", res.StatusCode, string(body))
	}
	defer res.Body.Close()

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") {
		return a.consumeStreaming(res.Body, onDelta)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		if a.strict {
			return GenerateResponse{}, fmt.Errorf("decode response: %w", err)
		}
		text := strings.TrimSpace(string(body))
		if text == "" {
			return GenerateResponse{}, nil
		}
		if onDelta != nil {
			if err := onDelta(text); err != nil {
				return GenerateResponse{}, err
			}
		}
		return GenerateResponse{Text: text}, nil
	}

	text := extractText(obj)
	if text != "" && onDelta != nil {
		if err := onDelta(text); err != nil {
			return GenerateResponse{}, err
		}
	}
	return GenerateResponse{Text: text}, nil
}

func (a *HTTPAdapter) consumeStreaming(body io.Reader, onDelta DeltaHandler) (GenerateResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "[DONE]" {
			break
		}

		delta := line
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			delta = strings.TrimSpace(extractText(obj))
		} else if a.strict {
			return GenerateResponse{}, fmt.Errorf("decode stream line: %w", err)
		}

		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return GenerateResponse{}, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return GenerateResponse{}, fmt.Errorf("stream read: %w", err)
	}

	return GenerateResponse{Text: out.String()}, nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "delta", "output", "message"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
