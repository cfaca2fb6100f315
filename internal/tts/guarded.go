package tts

import (
	"context"
	"errors"
	"time"

	"github.com/lexiqai/avatar-gateway/internal/apperr"
	"github.com/lexiqai/avatar-gateway/internal/config"
	"github.com/lexiqai/avatar-gateway/internal/observability"
	"github.com/lexiqai/avatar-gateway/internal/resilience"
	"github.com/lexiqai/avatar-gateway/internal/upstream"
)

// Guarded wraps a Synthesizer with a circuit breaker and metrics.
type Guarded struct {
	next    Synthesizer
	breaker *resilience.CircuitBreaker
}

// NewGuarded guards next with breaker and publishes breaker transitions.
func NewGuarded(next Synthesizer, breaker *resilience.CircuitBreaker) *Guarded {
	breaker.OnStateChange(func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
		logger := observability.GetLogger()
		logger.Warn().
			Str("breaker", name).
			Str("state", state.String()).
			Msg("TTS circuit breaker state changed")
	})
	return &Guarded{next: next, breaker: breaker}
}

func (g *Guarded) Provider() string {
	return g.next.Provider()
}

// Synthesize calls the wrapped backend unless the breaker is open. Caller
// mistakes are rejected before the breaker so they never trip it.
func (g *Guarded) Synthesize(ctx context.Context, req Request) (*Result, error) {
	if req.Text == "" {
		return nil, apperr.Validation("text is required for TTS")
	}

	start := time.Now()
	var result *Result
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		r, err := g.next.Synthesize(ctx, req)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	observability.RecordTTS(g.next.Provider(), err == nil, time.Since(start))
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, &apperr.UpstreamError{Op: "synthesize speech", Message: "TTS temporarily unavailable", Err: err}
	}
	if err != nil {
		observability.RecordError("tts", g.next.Provider())
		return nil, err
	}
	return result, nil
}

// Ready reports whether the breaker currently lets requests through.
func (g *Guarded) Ready(ctx context.Context) (bool, error) {
	if g.breaker.GetState() == resilience.StateOpen {
		return false, resilience.ErrCircuitOpen
	}
	return true, nil
}

// NewFromConfig builds the configured backend behind a circuit breaker.
func NewFromConfig(cfg *config.Config) *Guarded {
	httpClient := upstream.New("tts", upstream.Options{
		Timeout:        cfg.RequestTimeout(),
		Retries:        cfg.LiveAvatarRetries,
		InitialBackoff: time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
		InsecureTLS:    cfg.TTSInsecureTLS,
	})

	var backend Synthesizer
	switch cfg.ResolvedTTSProvider() {
	case "openai":
		apiKey := cfg.TTSAPIKey
		if apiKey == "" {
			apiKey = cfg.OpenAIAPIKey
		}
		backend = NewOpenAIClient(OpenAIConfig{
			Endpoint:       cfg.TTSEndpoint,
			APIKey:         apiKey,
			Model:          cfg.TTSModel,
			Voice:          cfg.TTSVoice,
			VoiceIsCustom:  cfg.TTSVoiceIsCustom,
			ResponseFormat: cfg.TTSResponseFormat,
			SampleRate:     cfg.TTSSampleRate,
		}, httpClient)
	default:
		backend = NewCustomClient(cfg.TTSEndpoint, cfg.TTSAPIKey, cfg.TTSAuthHeader, cfg.TTSAuthPrefix, httpClient)
	}

	breaker := resilience.NewCircuitBreaker("tts",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second)
	return NewGuarded(backend, breaker)
}
