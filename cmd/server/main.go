package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexiqai/avatar-gateway/internal/bridge"
	"github.com/lexiqai/avatar-gateway/internal/config"
	"github.com/lexiqai/avatar-gateway/internal/httpapi"
	"github.com/lexiqai/avatar-gateway/internal/liveavatar"
	"github.com/lexiqai/avatar-gateway/internal/observability"
	"github.com/lexiqai/avatar-gateway/internal/persona"
	"github.com/lexiqai/avatar-gateway/internal/relay"
	"github.com/lexiqai/avatar-gateway/internal/reply"
	"github.com/lexiqai/avatar-gateway/internal/session"
	"github.com/lexiqai/avatar-gateway/internal/tts"
	"github.com/lexiqai/avatar-gateway/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not configured yet
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("liveavatar_base_url", cfg.LiveAvatarBaseURL).
		Str("tts_provider", cfg.ResolvedTTSProvider()).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Avatar Gateway Service starting")

	if cfg.LiveAvatarAPIKey == "" {
		logger.Warn().Msg("LIVEAVATAR_API_KEY is not set; session calls will be rejected")
	}

	avatarHTTP := upstream.New("liveavatar", upstream.Options{
		Timeout:        cfg.RequestTimeout(),
		Retries:        cfg.LiveAvatarRetries,
		InitialBackoff: time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
		InsecureTLS:    cfg.LiveAvatarInsecureTLS,
	})
	avatars := liveavatar.NewClient(cfg.LiveAvatarBaseURL, cfg.LiveAvatarAPIKey, avatarHTTP)

	control := bridge.New(bridge.Options{
		ReadyTimeout: cfg.ReadyTimeout(),
		ChunkSize:    cfg.WSChunkSize,
		EndType:      cfg.SpeakEndType,
		IncludeMeta:  cfg.IncludeAudioMeta,
	})
	hub := relay.NewHub(cfg.AllowAnyOrigin)
	synth := tts.NewFromConfig(cfg)

	coordinator := session.NewCoordinator(avatars, control, hub, synth, session.NewMemoryStore(), session.Options{
		KeepAliveInterval: cfg.KeepAliveInterval(),
		LiveKitDefaults: liveavatar.LiveKitConfig{
			URL:         cfg.LiveKitURL,
			Room:        cfg.LiveKitRoom,
			ClientToken: cfg.LiveKitClientToken,
		},
		TTSFormat:        cfg.TTSFormat,
		TTSSampleRate:    cfg.TTSSampleRate,
		TargetSampleRate: cfg.AudioSampleRate,
		ReturnAudio:      cfg.ReturnAudio,
	})

	personas, err := persona.Load(cfg.PersonasPath)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.PersonasPath).Msg("Personas unavailable; using the generic prompt")
	}

	replies := reply.NewGenerator(reply.Options{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.OpenAIModel,
		Temperature: cfg.OpenAITemperature,
		Timeout:     cfg.RequestTimeout(),
		Retries:     cfg.LiveAvatarRetries,
		HTTPClient:  upstream.NewPooledHTTPClient(0, cfg.OpenAIInsecureTLS),
	})

	liveAvatarCheck := func(ctx context.Context) (bool, error) {
		if !avatars.Configured() {
			return false, fmt.Errorf("LIVEAVATAR_API_KEY is not set")
		}
		return true, nil
	}
	replyCheck := func(ctx context.Context) (bool, error) {
		if !replies.Configured() {
			return false, reply.ErrNotConfigured
		}
		return true, nil
	}

	api := httpapi.New(httpapi.Deps{
		Catalogs: avatars,
		Sessions: coordinator,
		Events:   hub,
		Personas: personas,
		Replier:  replies,
		Readiness: []observability.HealthCheck{
			{Name: "liveavatar", Check: liveAvatarCheck},
			{Name: "tts", Check: synth.Ready},
			{Name: "openai", Check: replyCheck},
		},
		MetricsEnabled: cfg.MetricsEnabled,
		AllowAnyOrigin: cfg.AllowAnyOrigin,
	})

	// WriteTimeout stays 0: /liveavatar/events is a long-lived WebSocket and
	// /speak may wait on synthesis plus the control channel.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("events", fmt.Sprintf("ws://localhost:%s/liveavatar/events", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	coordinator.Shutdown()
	hub.Shutdown()

	logger.Info().Int("sessions_dropped", coordinator.ActiveSessions()).Msg("Server exited gracefully")
}
