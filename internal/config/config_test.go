package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("LIVEAVATAR_API_KEY", "test-liveavatar-key")
	os.Setenv("CUSTOM_TTS_ENDPOINT", "https://tts.example.com/synthesize")
	defer os.Unsetenv("LIVEAVATAR_API_KEY")
	defer os.Unsetenv("CUSTOM_TTS_ENDPOINT")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.LiveAvatarAPIKey != "test-liveavatar-key" {
		t.Errorf("Expected LiveAvatarAPIKey 'test-liveavatar-key', got '%s'", cfg.LiveAvatarAPIKey)
	}
	if cfg.TTSEndpoint != "https://tts.example.com/synthesize" {
		t.Errorf("Expected TTSEndpoint to be set, got '%s'", cfg.TTSEndpoint)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Port != "3000" {
		t.Errorf("Expected default Port '3000', got '%s'", cfg.Port)
	}
	if cfg.LiveAvatarBaseURL != "https://api.liveavatar.com/v1" {
		t.Errorf("Expected default LiveAvatarBaseURL, got '%s'", cfg.LiveAvatarBaseURL)
	}
	if cfg.RequestTimeout() != 20*time.Second {
		t.Errorf("Expected default RequestTimeout 20s, got %v", cfg.RequestTimeout())
	}
	if cfg.LiveAvatarRetries != 1 {
		t.Errorf("Expected default LiveAvatarRetries 1, got %d", cfg.LiveAvatarRetries)
	}
	if cfg.ReadyTimeout() != 8*time.Second {
		t.Errorf("Expected default ReadyTimeout 8s, got %v", cfg.ReadyTimeout())
	}
	if cfg.WSChunkSize != 800000 {
		t.Errorf("Expected default WSChunkSize 800000, got %d", cfg.WSChunkSize)
	}
	if cfg.SpeakEndType != "agent.speak_end" {
		t.Errorf("Expected default SpeakEndType 'agent.speak_end', got '%s'", cfg.SpeakEndType)
	}
	if cfg.KeepAliveInterval() != 30*time.Second {
		t.Errorf("Expected default KeepAliveInterval 30s, got %v", cfg.KeepAliveInterval())
	}
	if cfg.TTSSampleRate != 24000 {
		t.Errorf("Expected default TTSSampleRate 24000, got %d", cfg.TTSSampleRate)
	}
	if cfg.OpenAIModel != "gpt-4o-mini" {
		t.Errorf("Expected default OpenAIModel 'gpt-4o-mini', got '%s'", cfg.OpenAIModel)
	}
}

func TestLoad_InvalidChunkSize(t *testing.T) {
	os.Setenv("LIVEAVATAR_WS_CHUNK_SIZE", "0")
	defer os.Unsetenv("LIVEAVATAR_WS_CHUNK_SIZE")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error for zero chunk size")
	}
}

func TestLoad_UnsupportedTTSProvider(t *testing.T) {
	os.Setenv("CUSTOM_TTS_PROVIDER", "cartesia")
	defer os.Unsetenv("CUSTOM_TTS_PROVIDER")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error for unsupported TTS provider")
	}
}

func TestResolvedTTSProvider(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		endpoint string
		want     string
	}{
		{"explicit", "OpenAI", "https://tts.example.com", "openai"},
		{"detected from endpoint", "", "https://api.openai.com/v1/audio/speech", "openai"},
		{"fallback", "", "https://tts.example.com", "custom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{TTSProvider: tt.provider, TTSEndpoint: tt.endpoint}
			if got := cfg.ResolvedTTSProvider(); got != tt.want {
				t.Errorf("Expected provider %q, got %q", tt.want, got)
			}
		})
	}
}

func TestKeepAliveInterval_Disabled(t *testing.T) {
	cfg := &Config{KeepAliveIntervalMs: 0}
	if cfg.KeepAliveInterval() != 0 {
		t.Errorf("Expected disabled keepalive, got %v", cfg.KeepAliveInterval())
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_KEY", "test-value")
	defer os.Unsetenv("TEST_KEY")

	value := GetEnv("TEST_KEY", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_KEY", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	os.Unsetenv("LOG_LEVEL")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}
	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}
}
