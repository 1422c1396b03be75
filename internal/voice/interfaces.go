package voice

import "context"

// TranscriptionResult is one recognition outcome for a buffered utterance.
type TranscriptionResult struct {
	Text       string
	Confidence float64
	Language   string
}

// Transcriber converts one buffered PCM utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, languageHint string) (TranscriptionResult, error)
}

// Synthesizer renders one text unit into PCM audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string, rate float64) ([]byte, error)
}

// ActivityDetector estimates the probability that a chunk contains speech.
type ActivityDetector interface {
	SpeechProbability(audio []byte) float64
}
