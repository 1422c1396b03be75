package voice

import (
	"context"
	"sync"
)

// MockProvider is a local stand-in used when no real speech backend is
// configured. Transcription echoes a canned phrase, synthesis returns the
// text bytes, and every call is recorded for inspection.
type MockProvider struct {
	mu          sync.Mutex
	transcripts []int
	synthesized []string

	TranscribeErr error
	SynthesizeErr error
	Transcript    string
}

func NewMockProvider() *MockProvider {
	return &MockProvider{Transcript: "simulated voice input"}
}

func (p *MockProvider) Transcribe(_ context.Context, audio []byte, _ string) (TranscriptionResult, error) {
	p.mu.Lock()
	p.transcripts = append(p.transcripts, len(audio))
	p.mu.Unlock()
	if p.TranscribeErr != nil {
		return TranscriptionResult{}, p.TranscribeErr
	}
	if len(audio) == 0 {
		return TranscriptionResult{}, nil
	}
	return TranscriptionResult{Text: p.Transcript, Confidence: 0.7, Language: "en"}, nil
}

func (p *MockProvider) Synthesize(_ context.Context, text, _ string, _ float64) ([]byte, error) {
	p.mu.Lock()
	p.synthesized = append(p.synthesized, text)
	p.mu.Unlock()
	if p.SynthesizeErr != nil {
		return nil, p.SynthesizeErr
	}
	return []byte(text), nil
}

func (p *MockProvider) SpeechProbability(audio []byte) float64 {
	if len(audio) == 0 {
		return 0
	}
	return 1
}

// SynthesizedUnits returns the text units synthesized so far, in order.
func (p *MockProvider) SynthesizedUnits() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.synthesized))
	copy(out, p.synthesized)
	return out
}

// TranscribeCalls reports how many transcriptions ran and the byte length
// of each input.
func (p *MockProvider) TranscribeCalls() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.transcripts))
	copy(out, p.transcripts)
	return out
}
