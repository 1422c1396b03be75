package voice

import (
	"fmt"
	"strings"
	"sync"
)

// Factory resolves provider names from session config into concrete
// transcriber/synthesizer instances. Instances are cached so concurrent
// sessions naming the same provider share one HTTP client.
type Factory struct {
	openaiCfg OpenAIConfig
	elevenCfg ElevenLabsConfig

	mu          sync.Mutex
	openai      *OpenAIProvider
	eleven      *ElevenLabsProvider
	mock        *MockProvider
	failoverASR Transcriber
	failoverTTS Synthesizer
}

func NewFactory(openaiCfg OpenAIConfig) *Factory {
	return &Factory{openaiCfg: openaiCfg}
}

// WithElevenLabs registers ElevenLabs credentials so sessions can name it
// as a provider.
func (f *Factory) WithElevenLabs(cfg ElevenLabsConfig) *Factory {
	f.elevenCfg = cfg
	return f
}

// Transcriber returns the ASR provider registered under name. An empty or
// "auto" name selects openai when credentials are configured, mock
// otherwise. "failover" runs openai with a mock safety net.
func (f *Factory) Transcriber(name string) (Transcriber, error) {
	switch f.resolve(name) {
	case "openai":
		return f.openaiProvider(), nil
	case "elevenlabs":
		return f.elevenProvider()
	case "mock":
		return f.mockProvider(), nil
	case "failover":
		asr, _ := f.failoverPair()
		return asr, nil
	default:
		return nil, fmt.Errorf("unknown asr provider %q", name)
	}
}

// Synthesizer returns the TTS provider registered under name, with the
// same defaulting rules as Transcriber.
func (f *Factory) Synthesizer(name string) (Synthesizer, error) {
	switch f.resolve(name) {
	case "openai":
		return f.openaiProvider(), nil
	case "elevenlabs":
		return f.elevenProvider()
	case "mock":
		return f.mockProvider(), nil
	case "failover":
		_, tts := f.failoverPair()
		return tts, nil
	default:
		return nil, fmt.Errorf("unknown tts provider %q", name)
	}
}

func (f *Factory) resolve(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name != "" && name != "auto" {
		return name
	}
	if strings.TrimSpace(f.openaiCfg.APIKey) != "" {
		return "openai"
	}
	return "mock"
}

func (f *Factory) elevenProvider() (*ElevenLabsProvider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.TrimSpace(f.elevenCfg.APIKey) == "" {
		return nil, fmt.Errorf("elevenlabs provider requires an api key")
	}
	if f.eleven == nil {
		f.eleven = NewElevenLabsProvider(f.elevenCfg)
	}
	return f.eleven, nil
}

func (f *Factory) openaiProvider() *OpenAIProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openai == nil {
		f.openai = NewOpenAIProvider(f.openaiCfg)
	}
	return f.openai
}

func (f *Factory) mockProvider() *MockProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mock == nil {
		f.mock = NewMockProvider()
	}
	return f.mock
}

// failoverPair shares one state between the ASR and TTS halves so a
// degraded backend is avoided on both paths at once.
func (f *Factory) failoverPair() (Transcriber, Synthesizer) {
	primary := f.openaiProvider()
	fallback := f.mockProvider()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failoverASR == nil {
		f.failoverASR, f.failoverTTS = NewFailoverPair(primary, fallback, primary, fallback)
	}
	return f.failoverASR, f.failoverTTS
}
