package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	audiocodec "github.com/yuxilabs/voicegate/internal/audio"
)

// ElevenLabsConfig points the provider at the ElevenLabs speech API.
type ElevenLabsConfig struct {
	APIKey   string
	BaseURL  string
	ASRModel string
	TTSModel string
	// SampleRate of inbound client PCM, used to wrap uploads as WAV.
	SampleRate int
	Timeout    time.Duration
}

func (c ElevenLabsConfig) withDefaults() ElevenLabsConfig {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = "https://api.elevenlabs.io"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if strings.TrimSpace(c.ASRModel) == "" {
		c.ASRModel = "scribe_v1"
	}
	if strings.TrimSpace(c.TTSModel) == "" {
		c.TTSModel = "eleven_multilingual_v2"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// ElevenLabsProvider implements Transcriber and Synthesizer against the
// ElevenLabs batch endpoints. PCM output is requested so the pipeline can
// forward synthesized audio unchanged.
type ElevenLabsProvider struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

func NewElevenLabsProvider(cfg ElevenLabsConfig) *ElevenLabsProvider {
	cfg = cfg.withDefaults()
	return &ElevenLabsProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *ElevenLabsProvider) Transcribe(ctx context.Context, audio []byte, languageHint string) (TranscriptionResult, error) {
	if len(audio) == 0 {
		return TranscriptionResult{}, nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return TranscriptionResult{}, fmt.Errorf("create form file: %w", err)
	}
	if err := audiocodec.WriteWAVPCM16LETo(part, audio, p.cfg.SampleRate); err != nil {
		return TranscriptionResult{}, fmt.Errorf("write form file: %w", err)
	}
	_ = mw.WriteField("model_id", p.cfg.ASRModel)
	if languageHint != "" {
		_ = mw.WriteField("language_code", languageHint)
	}
	if err := mw.Close(); err != nil {
		return TranscriptionResult{}, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/speech-to-text", &body)
	if err != nil {
		return TranscriptionResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("xi-api-key", p.cfg.APIKey)

	res, err := p.client.Do(req)
	if err != nil {
		return TranscriptionResult{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return TranscriptionResult{}, fmt.Errorf("transcription status %d: %s", res.StatusCode, string(detail))
	}

	var parsed struct {
		Text                string  `json:"text"`
		LanguageCode        string  `json:"language_code"`
		LanguageProbability float64 `json:"language_probability"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return TranscriptionResult{}, fmt.Errorf("decode response: %w", err)
	}
	conf := parsed.LanguageProbability
	if conf <= 0 || conf > 1 {
		conf = 1
	}
	return TranscriptionResult{Text: parsed.Text, Confidence: conf, Language: parsed.LanguageCode}, nil
}

func (p *ElevenLabsProvider) Synthesize(ctx context.Context, text, voiceID string, rate float64) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if strings.TrimSpace(voiceID) == "" {
		return nil, fmt.Errorf("voice_id is required")
	}
	// The API clamps speed to [0.7, 1.2].
	if rate <= 0 {
		rate = 1.0
	}
	if rate < 0.7 {
		rate = 0.7
	} else if rate > 1.2 {
		rate = 1.2
	}

	payload, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": p.cfg.TTSModel,
		"voice_settings": map[string]any{
			"stability":        0.42,
			"similarity_boost": 0.85,
			"speed":            rate,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := p.cfg.BaseURL + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "?output_format=pcm_16000"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", p.cfg.APIKey)

	res, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, fmt.Errorf("synthesis status %d: %s", res.StatusCode, string(detail))
	}

	audio, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return audio, nil
}
