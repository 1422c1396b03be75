package voice

import (
	"context"
	"fmt"
	"sync/atomic"
)

// NewFailoverPair wraps a primary ASR/TTS provider with a fallback. Calls
// prefer the primary; after a primary failure the fallback handles the
// request and stays active for subsequent calls until it fails itself,
// at which point the primary is retried. Both wrappers share one state so
// an ASR failover also moves TTS off the degraded backend.
func NewFailoverPair(primaryASR, fallbackASR Transcriber, primaryTTS, fallbackTTS Synthesizer) (Transcriber, Synthesizer) {
	state := &failoverState{}
	return &failoverTranscriber{state: state, primary: primaryASR, fallback: fallbackASR},
		&failoverSynthesizer{state: state, primary: primaryTTS, fallback: fallbackTTS}
}

type failoverState struct {
	fallbackActive atomic.Bool
}

type failoverTranscriber struct {
	state    *failoverState
	primary  Transcriber
	fallback Transcriber
}

func (t *failoverTranscriber) Transcribe(ctx context.Context, audio []byte, languageHint string) (TranscriptionResult, error) {
	if t.state.fallbackActive.Load() {
		res, fbErr := t.fallback.Transcribe(ctx, audio, languageHint)
		if fbErr == nil {
			return res, nil
		}
		res, prErr := t.primary.Transcribe(ctx, audio, languageHint)
		if prErr == nil {
			t.state.fallbackActive.Store(false)
			return res, nil
		}
		return TranscriptionResult{}, fmt.Errorf("asr fallback failed: %v; asr primary failed: %w", fbErr, prErr)
	}

	res, prErr := t.primary.Transcribe(ctx, audio, languageHint)
	if prErr == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return TranscriptionResult{}, prErr
	}
	res, fbErr := t.fallback.Transcribe(ctx, audio, languageHint)
	if fbErr != nil {
		return TranscriptionResult{}, fmt.Errorf("asr primary failed: %v; asr fallback failed: %w", prErr, fbErr)
	}
	t.state.fallbackActive.Store(true)
	return res, nil
}

type failoverSynthesizer struct {
	state    *failoverState
	primary  Synthesizer
	fallback Synthesizer
}

func (s *failoverSynthesizer) Synthesize(ctx context.Context, text, voiceID string, rate float64) ([]byte, error) {
	if s.state.fallbackActive.Load() {
		audio, fbErr := s.fallback.Synthesize(ctx, text, voiceID, rate)
		if fbErr == nil {
			return audio, nil
		}
		audio, prErr := s.primary.Synthesize(ctx, text, voiceID, rate)
		if prErr == nil {
			s.state.fallbackActive.Store(false)
			return audio, nil
		}
		return nil, fmt.Errorf("tts fallback failed: %v; tts primary failed: %w", fbErr, prErr)
	}

	audio, prErr := s.primary.Synthesize(ctx, text, voiceID, rate)
	if prErr == nil {
		return audio, nil
	}
	if ctx.Err() != nil {
		return nil, prErr
	}
	audio, fbErr := s.fallback.Synthesize(ctx, text, voiceID, rate)
	if fbErr != nil {
		return nil, fmt.Errorf("tts primary failed: %v; tts fallback failed: %w", prErr, fbErr)
	}
	s.state.fallbackActive.Store(true)
	return audio, nil
}
