package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yuxilabs/voicegate/internal/agent"
	"github.com/yuxilabs/voicegate/internal/config"
	"github.com/yuxilabs/voicegate/internal/httpapi"
	"github.com/yuxilabs/voicegate/internal/observability"
	"github.com/yuxilabs/voicegate/internal/policy"
	"github.com/yuxilabs/voicegate/internal/reliability"
	"github.com/yuxilabs/voicegate/internal/retrieval"
	"github.com/yuxilabs/voicegate/internal/session"
	"github.com/yuxilabs/voicegate/internal/upstream"
	"github.com/yuxilabs/voicegate/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	docs, err := retrieval.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("retrieval store init failed: %v", err)
	}
	defer docs.Close()

	adapter, err := agent.NewAdapter(agent.Config{
		Mode:         cfg.AgentMode,
		HTTPURL:      cfg.AgentHTTPURL,
		StreamStrict: cfg.AgentStreamStrict,
	})
	if err != nil {
		log.Fatalf("agent adapter init failed: %v", err)
	}

	factory := voice.NewFactory(voice.OpenAIConfig{
		BaseURL:  cfg.OpenAIBaseURL,
		APIKey:   cfg.OpenAIAPIKey,
		ASRModel: cfg.OpenAIASRModel,
		TTSModel: cfg.OpenAITTSModel,
	}).WithElevenLabs(voice.ElevenLabsConfig{
		APIKey:  cfg.ElevenLabsAPIKey,
		BaseURL: cfg.ElevenLabsBaseURL,
	})

	registry := session.NewRegistry()
	registry.SetEvictHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Dec()
	})

	mode := voice.ParseMode(cfg.Mode)
	var dial voice.UpstreamDialer
	if mode == voice.ModeEndToEnd {
		upstreamCfg := upstream.Config{
			URL:           cfg.UpstreamURL,
			AppID:         cfg.UpstreamAppID,
			AccessKey:     cfg.UpstreamAccessKey,
			ResourceID:    cfg.UpstreamResourceID,
			AppKey:        cfg.UpstreamAppKey,
			Voice:         cfg.UpstreamVoice,
			BotName:       cfg.BotName,
			SystemRole:    cfg.SystemRole,
			SpeakingStyle: cfg.SpeakingStyle,
		}
		dial = func(ctx context.Context) voice.UpstreamLink {
			for attempt := 0; attempt < 3; attempt++ {
				client := upstream.NewClient(upstreamCfg)
				if client.Connect(ctx) {
					return client
				}
				timer := time.NewTimer(reliability.ExponentialBackoff(attempt, 300*time.Millisecond, 3*time.Second))
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return nil
				}
				timer.Stop()
			}
			return nil
		}
		log.Printf("mode: end_to_end via %s", cfg.UpstreamURL)
	} else {
		log.Printf("mode: decoupled")
	}

	gateway := voice.NewGateway(
		registry,
		factory,
		adapter,
		docs,
		voice.NewEnergyVAD(),
		metrics,
		dial,
		voice.GatewayConfig{
			Mode: mode,
			DefaultSession: session.Config{
				ASRProvider:      cfg.VoiceProvider,
				TTSProvider:      cfg.VoiceProvider,
				VoiceID:          cfg.VoiceID,
				SpeechRate:       cfg.SpeechRate,
				VADThreshold:     cfg.VADThreshold,
				InterruptEnabled: cfg.InterruptEnabled,
				SessionTimeout:   cfg.SessionTimeout,
			},
			InterruptGrace:      cfg.InterruptGrace,
			Language:            cfg.Language,
			RetrievalCollection: cfg.RetrievalCollection,
			RetrievalLimit:      cfg.RetrievalLimit,
			RedactTranscripts:   cfg.RedactTranscripts,
		},
	)

	auth := policy.NewAuthorizer(cfg.AuthSecret, cfg.AllowedAgents)
	if auth == nil {
		log.Printf("auth: disabled (AUTH_JWT_SECRET not set)")
	}

	api := httpapi.New(cfg, registry, gateway, docs, auth, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	registry.StartSweeper(runCtx, cfg.SweepInterval)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
