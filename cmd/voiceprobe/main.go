// voiceprobe replays synthetic voice turns against a running gateway and
// reports first-audio and turn-total latency.
package main

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yuxilabs/voicegate/internal/protocol"
)

type options struct {
	baseURL     string
	userID      string
	agentID     string
	token       string
	wavPath     string
	turns       int
	chunkMS     int
	realtime    float64
	turnTimeout time.Duration
	verbose     bool
}

type turnResult struct {
	firstAudio time.Duration
	total      time.Duration
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voiceprobe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "voiceprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "gateway base URL")
	flag.StringVar(&cfg.userID, "user-id", "probe", "user_id for the synthetic connection")
	flag.StringVar(&cfg.agentID, "agent-id", "", "agent_id for the synthetic connection")
	flag.StringVar(&cfg.token, "token", "", "connection JWT when auth is enabled")
	flag.StringVar(&cfg.wavPath, "wav", "", "optional PCM16 WAV file to replay as the utterance")
	flag.IntVar(&cfg.turns, "turns", 5, "number of turns to replay")
	flag.IntVar(&cfg.chunkMS, "chunk-ms", 45, "audio chunk size in milliseconds")
	flag.Float64Var(&cfg.realtime, "realtime", 3.0, "chunk pacing multiplier (1.0=realtime, 2.0=2x)")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 15000, "timeout waiting for audio_end per turn")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.chunkMS < 10 || cfg.chunkMS > 2000 {
		return options{}, fmt.Errorf("chunk-ms must be in [10,2000]")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	return cfg, nil
}

func run(cfg options) error {
	pcm, sampleRate, err := loadClip(cfg.wavPath)
	if err != nil {
		return fmt.Errorf("prepare utterance audio: %w", err)
	}

	wsURL, err := wsURLFor(cfg)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	conn, res, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	if res != nil {
		res.Body.Close()
	}
	defer conn.Close()

	if cfg.verbose {
		fmt.Printf("voiceprobe: turns=%d chunk_ms=%d realtime=%.2f sample_rate=%dHz bytes=%d\n",
			cfg.turns, cfg.chunkMS, cfg.realtime, sampleRate, len(pcm))
	}

	events := make(chan string, 64)
	readErr := make(chan error, 1)
	go readLoop(conn, events, readErr, cfg.verbose)

	var results []turnResult
	for i := 0; i < cfg.turns; i++ {
		if err := conn.WriteJSON(protocol.Control{Type: protocol.TypeControl, Action: protocol.ActionStart}); err != nil {
			return fmt.Errorf("turn %d start: %w", i+1, err)
		}
		if err := sendTurnAudio(conn, pcm, sampleRate, cfg.chunkMS, cfg.realtime); err != nil {
			return fmt.Errorf("turn %d send audio: %w", i+1, err)
		}

		stopAt := time.Now()
		if err := conn.WriteJSON(protocol.Control{Type: protocol.TypeControl, Action: protocol.ActionStop}); err != nil {
			return fmt.Errorf("turn %d stop: %w", i+1, err)
		}

		result, err := awaitTurn(events, readErr, stopAt, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d await audio_end: %w", i+1, err)
		}
		results = append(results, result)
		if cfg.verbose {
			fmt.Printf("voiceprobe: turn %d/%d first_audio=%s total=%s\n", i+1, cfg.turns, result.firstAudio, result.total)
		}
	}

	printSummary(results)
	return nil
}

func wsURLFor(cfg options) (string, error) {
	u, err := url.Parse(cfg.baseURL)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/voice/ws"
	q := u.Query()
	q.Set("user_id", cfg.userID)
	if cfg.agentID != "" {
		q.Set("agent_id", cfg.agentID)
	}
	if cfg.token != "" {
		q.Set("token", cfg.token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// loadClip reads a PCM16 WAV file, or synthesizes one second of tone when
// no file is given.
func loadClip(path string) ([]byte, int, error) {
	if strings.TrimSpace(path) == "" {
		return toneClip(16000, time.Second), 16000, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	pcm, sampleRate, err := decodeWAVPCM16(data)
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(pcm) == 0 {
		return nil, 0, fmt.Errorf("%s contains no PCM data", path)
	}
	return pcm, sampleRate, nil
}

func toneClip(sampleRate int, d time.Duration) []byte {
	n := int(float64(sampleRate) * d.Seconds())
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := int16(9000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func readLoop(conn *websocket.Conn, events chan<- string, readErr chan<- error, verbose bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErr <- err:
			default:
			}
			return
		}
		var env struct {
			Type  string `json:"type"`
			Error string `json:"error,omitempty"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Type == string(protocol.TypeError) && verbose {
			fmt.Fprintf(os.Stderr, "voiceprobe: server error: %s\n", env.Error)
		}
		select {
		case events <- env.Type:
		default:
		}
	}
}

func sendTurnAudio(conn *websocket.Conn, pcm []byte, sampleRate, chunkMS int, realtime float64) error {
	bytesPerChunk := sampleRate * 2 * chunkMS / 1000
	if bytesPerChunk < 2 {
		bytesPerChunk = 2
	}
	if bytesPerChunk%2 != 0 {
		bytesPerChunk++
	}

	for off := 0; off < len(pcm); {
		end := off + bytesPerChunk
		if end > len(pcm) {
			end = len(pcm)
		}
		if (end-off)%2 != 0 {
			end--
		}
		if end <= off {
			break
		}
		msg := protocol.AudioChunk{
			Type:      protocol.TypeAudio,
			AudioData: base64.StdEncoding.EncodeToString(pcm[off:end]),
		}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
		chunkBytes := end - off
		off = end

		pace := time.Duration(float64(time.Duration(chunkBytes)*time.Second/time.Duration(sampleRate*2)) / realtime)
		if pace <= 0 {
			pace = 10 * time.Millisecond
		}
		time.Sleep(pace)
	}
	return nil
}

func awaitTurn(events <-chan string, readErr <-chan error, stopAt time.Time, timeout time.Duration) (turnResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var result turnResult
	for {
		select {
		case evt := <-events:
			switch evt {
			case string(protocol.TypeAudio):
				if result.firstAudio == 0 {
					result.firstAudio = time.Since(stopAt)
				}
			case string(protocol.TypeAudioEnd):
				result.total = time.Since(stopAt)
				return result, nil
			}
		case err := <-readErr:
			return result, err
		case <-timer.C:
			return result, fmt.Errorf("timeout after %s", timeout)
		}
	}
}

func printSummary(results []turnResult) {
	if len(results) == 0 {
		return
	}
	var firstSum, totalSum, firstMax, totalMax time.Duration
	for _, r := range results {
		firstSum += r.firstAudio
		totalSum += r.total
		if r.firstAudio > firstMax {
			firstMax = r.firstAudio
		}
		if r.total > totalMax {
			totalMax = r.total
		}
	}
	n := time.Duration(len(results))
	fmt.Printf("voiceprobe: %d turns, first_audio avg=%s max=%s, total avg=%s max=%s\n",
		len(results), firstSum/n, firstMax, totalSum/n, totalMax)
}

func decodeWAVPCM16(data []byte) ([]byte, int, error) {
	if len(data) < 12 {
		return nil, 0, fmt.Errorf("wav too short")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("unsupported wav header")
	}

	var (
		haveFmt     bool
		audioFormat uint16
		channels    uint16
		sampleRate  int
		bitsPerSamp uint16
		pcmData     []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return nil, 0, fmt.Errorf("invalid wav chunk size")
		}
		chunk := data[off : off+size]
		switch id {
		case "fmt ":
			if len(chunk) < 16 {
				return nil, 0, fmt.Errorf("invalid wav fmt chunk")
			}
			audioFormat = binary.LittleEndian.Uint16(chunk[0:2])
			channels = binary.LittleEndian.Uint16(chunk[2:4])
			sampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			bitsPerSamp = binary.LittleEndian.Uint16(chunk[14:16])
			haveFmt = true
		case "data":
			pcmData = append(pcmData[:0], chunk...)
		}
		off += size
		if size%2 == 1 {
			off++
		}
	}
	if !haveFmt {
		return nil, 0, fmt.Errorf("wav fmt chunk missing")
	}
	if len(pcmData) == 0 {
		return nil, 0, fmt.Errorf("wav data chunk missing")
	}
	if audioFormat != 1 {
		return nil, 0, fmt.Errorf("unsupported wav audio format %d", audioFormat)
	}
	if bitsPerSamp != 16 {
		return nil, 0, fmt.Errorf("unsupported wav bits_per_sample %d", bitsPerSamp)
	}
	if channels == 0 {
		return nil, 0, fmt.Errorf("invalid wav channels=0")
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	if channels == 1 {
		if len(pcmData)%2 != 0 {
			pcmData = pcmData[:len(pcmData)-1]
		}
		return pcmData, sampleRate, nil
	}

	frameBytes := int(channels) * 2
	if len(pcmData) < frameBytes {
		return nil, 0, fmt.Errorf("invalid wav frame bytes")
	}
	frameCount := len(pcmData) / frameBytes
	mono := make([]byte, frameCount*2)
	for i := 0; i < frameCount; i++ {
		base := i * frameBytes
		sum := 0
		for ch := 0; ch < int(channels); ch++ {
			s := int16(binary.LittleEndian.Uint16(pcmData[base+ch*2 : base+ch*2+2]))
			sum += int(s)
		}
		avg := int16(sum / int(channels))
		binary.LittleEndian.PutUint16(mono[i*2:i*2+2], uint16(avg))
	}
	return mono, sampleRate, nil
}
