package agent

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local replies when no backend is
// configured.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) StreamResponse(
	ctx context.Context,
	req GenerateRequest,
	onDelta DeltaHandler,
) (GenerateResponse, error) {
	select {
	case <-ctx.Done():
		return GenerateResponse{}, ctx.Err()
	default:
	}

	text := buildMockReply(req)
	if onDelta != nil && text != "" {
		if err := onDelta(text); err != nil {
			return GenerateResponse{}, err
		}
	}
	return GenerateResponse{Text: text}, nil
}

func buildMockReply(req GenerateRequest) string {
	base := strings.TrimSpace(req.InputText)
	if base == "" {
		base = "I am listening."
	}

	if len(req.Context) == 0 {
		return fmt.Sprintf("I heard you: %s", base)
	}

	last := req.Context[len(req.Context)-1]
	if strings.TrimSpace(last.Content) == "" {
		return fmt.Sprintf("I heard you: %s", base)
	}

	return fmt.Sprintf("I heard you: %s. A relevant note: %s", base, strings.TrimSpace(last.Content))
}
