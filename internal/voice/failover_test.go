package voice

import (
	"context"
	"errors"
	"testing"
)

type flakyTranscriber struct {
	calls int
	fail  func(call int) bool
	text  string
}

func (f *flakyTranscriber) Transcribe(ctx context.Context, audio []byte, languageHint string) (TranscriptionResult, error) {
	f.calls++
	if f.fail != nil && f.fail(f.calls) {
		return TranscriptionResult{}, errors.New("backend unavailable")
	}
	return TranscriptionResult{Text: f.text, Confidence: 1}, nil
}

type flakySynthesizer struct {
	calls int
	fail  func(call int) bool
	tag   string
}

func (f *flakySynthesizer) Synthesize(ctx context.Context, text, voiceID string, rate float64) ([]byte, error) {
	f.calls++
	if f.fail != nil && f.fail(f.calls) {
		return nil, errors.New("backend unavailable")
	}
	return []byte(f.tag + ":" + text), nil
}

func alwaysFail(int) bool { return true }

func TestFailoverPrefersPrimary(t *testing.T) {
	primary := &flakyTranscriber{text: "primary"}
	fallback := &flakyTranscriber{text: "fallback"}
	asr, _ := NewFailoverPair(primary, fallback, &flakySynthesizer{}, &flakySynthesizer{})

	res, err := asr.Transcribe(context.Background(), []byte{1, 2}, "en")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if res.Text != "primary" {
		t.Fatalf("text = %q, want primary", res.Text)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback called %d times, want 0", fallback.calls)
	}
}

func TestFailoverStaysOnFallbackAcrossCalls(t *testing.T) {
	primary := &flakyTranscriber{text: "primary", fail: alwaysFail}
	fallback := &flakyTranscriber{text: "fallback"}
	asr, _ := NewFailoverPair(primary, fallback, &flakySynthesizer{}, &flakySynthesizer{})

	for i := 0; i < 2; i++ {
		res, err := asr.Transcribe(context.Background(), []byte{1}, "en")
		if err != nil {
			t.Fatalf("call %d failed: %v", i+1, err)
		}
		if res.Text != "fallback" {
			t.Fatalf("call %d text = %q, want fallback", i+1, res.Text)
		}
	}
	// The first call tried primary once; the second went straight to fallback.
	if primary.calls != 1 {
		t.Fatalf("primary called %d times, want 1", primary.calls)
	}
	if fallback.calls != 2 {
		t.Fatalf("fallback called %d times, want 2", fallback.calls)
	}
}

func TestFailoverRecoversWhenFallbackDies(t *testing.T) {
	primary := &flakyTranscriber{text: "primary", fail: func(call int) bool { return call == 1 }}
	fallback := &flakyTranscriber{text: "fallback", fail: func(call int) bool { return call > 1 }}
	asr, _ := NewFailoverPair(primary, fallback, &flakySynthesizer{}, &flakySynthesizer{})

	ctx := context.Background()
	if res, _ := asr.Transcribe(ctx, []byte{1}, "en"); res.Text != "fallback" {
		t.Fatalf("first call text = %q, want fallback", res.Text)
	}
	res, err := asr.Transcribe(ctx, []byte{1}, "en")
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if res.Text != "primary" {
		t.Fatalf("second call text = %q, want primary (fallback deactivated)", res.Text)
	}

	// State cleared; primary serves directly again.
	if res, _ := asr.Transcribe(ctx, []byte{1}, "en"); res.Text != "primary" {
		t.Fatalf("third call text = %q, want primary", res.Text)
	}
}

func TestFailoverSharesStateBetweenASRAndTTS(t *testing.T) {
	primaryASR := &flakyTranscriber{text: "primary", fail: alwaysFail}
	fallbackASR := &flakyTranscriber{text: "fallback"}
	primaryTTS := &flakySynthesizer{tag: "primary"}
	fallbackTTS := &flakySynthesizer{tag: "fallback"}
	asr, tts := NewFailoverPair(primaryASR, fallbackASR, primaryTTS, fallbackTTS)

	ctx := context.Background()
	if _, err := asr.Transcribe(ctx, []byte{1}, "en"); err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	audio, err := tts.Synthesize(ctx, "hello", "alloy", 1.0)
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if string(audio) != "fallback:hello" {
		t.Fatalf("audio = %q, want fallback path", audio)
	}
	if primaryTTS.calls != 0 {
		t.Fatalf("primary tts called %d times, want 0", primaryTTS.calls)
	}
}

func TestFactoryFailoverProvider(t *testing.T) {
	f := NewFactory(OpenAIConfig{})
	asr, err := f.Transcriber("failover")
	if err != nil {
		t.Fatalf("Transcriber failed: %v", err)
	}
	tts, err := f.Synthesizer("failover")
	if err != nil {
		t.Fatalf("Synthesizer failed: %v", err)
	}
	if asr == nil || tts == nil {
		t.Fatal("expected failover providers")
	}
}
