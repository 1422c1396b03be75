package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	audiocodec "github.com/yuxilabs/voicegate/internal/audio"
)

// OpenAIConfig points the providers at an OpenAI-compatible speech API.
type OpenAIConfig struct {
	BaseURL  string
	APIKey   string
	ASRModel string
	TTSModel string
	// SampleRate of inbound client PCM, used to wrap uploads as WAV.
	SampleRate int
	Timeout    time.Duration
}

func (c OpenAIConfig) withDefaults() OpenAIConfig {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if strings.TrimSpace(c.ASRModel) == "" {
		c.ASRModel = "whisper-1"
	}
	if strings.TrimSpace(c.TTSModel) == "" {
		c.TTSModel = "tts-1"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// OpenAIProvider implements Transcriber and Synthesizer against any
// OpenAI-compatible audio endpoint.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	cfg = cfg.withDefaults()
	return &OpenAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *OpenAIProvider) Transcribe(ctx context.Context, audio []byte, languageHint string) (TranscriptionResult, error) {
	if len(audio) == 0 {
		return TranscriptionResult{}, nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return TranscriptionResult{}, fmt.Errorf("create form file: %w", err)
	}
	// Clients stream raw PCM; the transcription endpoint wants a container.
	if err := audiocodec.WriteWAVPCM16LETo(part, audio, p.cfg.SampleRate); err != nil {
		return TranscriptionResult{}, fmt.Errorf("write form file: %w", err)
	}
	_ = mw.WriteField("model", p.cfg.ASRModel)
	if languageHint != "" {
		_ = mw.WriteField("language", languageHint)
	}
	if err := mw.Close(); err != nil {
		return TranscriptionResult{}, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return TranscriptionResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

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
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return TranscriptionResult{}, fmt.Errorf("decode response: %w", err)
	}
	return TranscriptionResult{Text: parsed.Text, Confidence: 1, Language: parsed.Language}, nil
}

func (p *OpenAIProvider) Synthesize(ctx context.Context, text, voiceID string, rate float64) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if strings.TrimSpace(voiceID) == "" {
		voiceID = "alloy"
	}
	if rate <= 0 {
		rate = 1.0
	}

	payload, err := json.Marshal(map[string]any{
		"model":           p.cfg.TTSModel,
		"input":           text,
		"voice":           voiceID,
		"speed":           rate,
		"response_format": "pcm",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

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
