package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the avatar gateway service
type Config struct {
	// Server configuration
	Port           string `envconfig:"PORT" default:"3000"`
	AllowAnyOrigin bool   `envconfig:"ALLOW_ANY_ORIGIN" default:"false"` // Accept /events upgrades from any origin

	// LiveAvatar API configuration
	LiveAvatarBaseURL     string `envconfig:"LIVEAVATAR_BASE_URL" default:"https://api.liveavatar.com/v1"`
	LiveAvatarAPIKey      string `envconfig:"LIVEAVATAR_API_KEY" default:""`
	LiveAvatarInsecureTLS bool   `envconfig:"LIVEAVATAR_INSECURE_TLS" default:"false"`
	LiveAvatarTimeoutMs   int    `envconfig:"LIVEAVATAR_TIMEOUT_MS" default:"20000"` // Per-attempt deadline
	LiveAvatarRetries     int    `envconfig:"LIVEAVATAR_RETRIES" default:"1"`        // Extra attempts on transport failure

	// Default LiveKit override for CUSTOM sessions (all empty = omitted)
	LiveKitURL         string `envconfig:"LIVEAVATAR_LIVEKIT_URL" default:""`
	LiveKitRoom        string `envconfig:"LIVEAVATAR_LIVEKIT_ROOM" default:""`
	LiveKitClientToken string `envconfig:"LIVEAVATAR_LIVEKIT_CLIENT_TOKEN" default:""`

	// Control channel (CUSTOM mode audio)
	WSReadyTimeoutMs    int    `envconfig:"LIVEAVATAR_WS_READY_TIMEOUT_MS" default:"8000"`
	WSChunkSize         int    `envconfig:"LIVEAVATAR_WS_CHUNK_SIZE" default:"800000"` // base64 characters per agent.speak frame
	SpeakEndType        string `envconfig:"LIVEAVATAR_SPEAK_END_TYPE" default:"agent.speak_end"`
	IncludeAudioMeta    bool   `envconfig:"LIVEAVATAR_WS_INCLUDE_AUDIO_META" default:"false"`
	ReturnAudio         bool   `envconfig:"LIVEAVATAR_RETURN_AUDIO" default:"false"`          // Echo synthesized audio in /speak
	AudioSampleRate     int    `envconfig:"LIVEAVATAR_AUDIO_SAMPLE_RATE" default:"0"`         // 0 = send as synthesized
	KeepAliveIntervalMs int    `envconfig:"LIVEAVATAR_KEEPALIVE_INTERVAL_MS" default:"30000"` // 0 disables the schedule

	// Speech synthesis (CUSTOM mode)
	TTSEndpoint       string `envconfig:"CUSTOM_TTS_ENDPOINT" default:""`
	TTSProvider       string `envconfig:"CUSTOM_TTS_PROVIDER" default:""` // custom | openai (detected from endpoint when empty)
	TTSAPIKey         string `envconfig:"CUSTOM_TTS_API_KEY" default:""`
	TTSAuthHeader     string `envconfig:"CUSTOM_TTS_AUTH_HEADER" default:"Authorization"`
	TTSAuthPrefix     string `envconfig:"CUSTOM_TTS_AUTH_PREFIX" default:"Bearer"`
	TTSModel          string `envconfig:"CUSTOM_TTS_MODEL" default:"gpt-4o-mini-tts"`
	TTSVoice          string `envconfig:"CUSTOM_TTS_VOICE" default:"alloy"`
	TTSVoiceIsCustom  bool   `envconfig:"CUSTOM_TTS_VOICE_IS_CUSTOM" default:"false"`
	TTSResponseFormat string `envconfig:"CUSTOM_TTS_RESPONSE_FORMAT" default:""`
	TTSFormat         string `envconfig:"CUSTOM_TTS_FORMAT" default:"pcm_s16le"`
	TTSSampleRate     int    `envconfig:"CUSTOM_TTS_SAMPLE_RATE" default:"24000"`
	TTSInsecureTLS    bool   `envconfig:"CUSTOM_TTS_INSECURE_TLS" default:"false"`

	// Reply generation
	OpenAIAPIKey      string  `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIBaseURL     string  `envconfig:"OPENAI_BASE_URL" default:""`
	OpenAIModel       string  `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAITemperature float64 `envconfig:"OPENAI_TEMPERATURE" default:"0.7"`
	OpenAIInsecureTLS bool    `envconfig:"OPENAI_INSECURE_TLS" default:"false"`
	PersonasPath      string  `envconfig:"PERSONAS_PATH" default:"config/personas.json"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables.
// .env is loaded first when present, then .env.local overrides it.
func Load() (*Config, error) {
	_ = godotenv.Load()
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Overload(".env.local"); err != nil {
			return nil, fmt.Errorf("failed to load .env.local: %w", err)
		}
	}
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env files (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would make the service misbehave at runtime.
func (c *Config) Validate() error {
	if c.WSChunkSize <= 0 {
		return fmt.Errorf("LIVEAVATAR_WS_CHUNK_SIZE must be positive")
	}
	if c.LiveAvatarTimeoutMs <= 0 {
		return fmt.Errorf("LIVEAVATAR_TIMEOUT_MS must be positive")
	}
	if c.LiveAvatarRetries < 0 {
		return fmt.Errorf("LIVEAVATAR_RETRIES must not be negative")
	}
	if c.WSReadyTimeoutMs <= 0 {
		return fmt.Errorf("LIVEAVATAR_WS_READY_TIMEOUT_MS must be positive")
	}
	switch c.ResolvedTTSProvider() {
	case "custom", "openai":
	default:
		return fmt.Errorf("unsupported CUSTOM_TTS_PROVIDER %q", c.TTSProvider)
	}
	return nil
}

// ResolvedTTSProvider returns the configured provider, inferring openai from
// the endpoint when none is set.
func (c *Config) ResolvedTTSProvider() string {
	if p := strings.ToLower(strings.TrimSpace(c.TTSProvider)); p != "" {
		return p
	}
	if strings.Contains(c.TTSEndpoint, "api.openai.com/v1/audio/speech") {
		return "openai"
	}
	return "custom"
}

// RequestTimeout is the per-attempt deadline for provider HTTP calls.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.LiveAvatarTimeoutMs) * time.Millisecond
}

// ReadyTimeout bounds the wait for a control channel to report connected.
func (c *Config) ReadyTimeout() time.Duration {
	return time.Duration(c.WSReadyTimeoutMs) * time.Millisecond
}

// KeepAliveInterval is zero when the server-side heartbeat is disabled.
func (c *Config) KeepAliveInterval() time.Duration {
	if c.KeepAliveIntervalMs <= 0 {
		return 0
	}
	return time.Duration(c.KeepAliveIntervalMs) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
