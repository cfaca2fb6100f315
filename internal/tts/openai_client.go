package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/lexiqai/avatar-gateway/internal/apperr"
	"github.com/lexiqai/avatar-gateway/internal/upstream"
	"github.com/tidwall/gjson"
)

// OpenAIConfig holds the audio/speech settings.
type OpenAIConfig struct {
	Endpoint       string
	APIKey         string
	Model          string
	Voice          string
	VoiceIsCustom  bool   // send the voice as {"id": voice}
	ResponseFormat string // overrides the format derived from the request
	SampleRate     int    // rate of the returned PCM; the endpoint does not report it
}

// OpenAIClient synthesizes through an OpenAI-compatible audio/speech
// endpoint, which answers with raw audio bytes.
type OpenAIClient struct {
	cfg  OpenAIConfig
	http *upstream.Client
}

type openAIVoice struct {
	ID string `json:"id"`
}

type openAISpeechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          any    `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

func NewOpenAIClient(cfg OpenAIConfig, httpClient *upstream.Client) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini-tts"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	return &OpenAIClient{cfg: cfg, http: httpClient}
}

func (c *OpenAIClient) Provider() string {
	return "openai"
}

func (c *OpenAIClient) Synthesize(ctx context.Context, req Request) (*Result, error) {
	if c.cfg.Endpoint == "" {
		return nil, ErrNotConfigured
	}
	if req.Text == "" {
		return nil, apperr.Validation("text is required for TTS")
	}
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("CUSTOM_TTS_API_KEY or OPENAI_API_KEY is not set")
	}

	responseFormat := c.cfg.ResponseFormat
	if responseFormat == "" {
		responseFormat = mapResponseFormat(req.Format)
	}
	var voice any = c.cfg.Voice
	if c.cfg.VoiceIsCustom {
		voice = openAIVoice{ID: c.cfg.Voice}
	}
	payload, err := json.Marshal(openAISpeechRequest{
		Model:          c.cfg.Model,
		Input:          req.Text,
		Voice:          voice,
		ResponseFormat: responseFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("encode speech request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	const op = "synthesize speech"
	resp, err := c.http.Do(ctx, op, upstream.Request{
		Method: http.MethodPost,
		URL:    c.cfg.Endpoint,
		Header: header,
		Body:   payload,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		body := resp.Body
		if !gjson.ValidBytes(body) {
			body = []byte("{}")
		}
		return nil, &apperr.UpstreamError{
			Op:      op,
			Status:  resp.Status,
			Body:    body,
			Message: firstString(body, "OpenAI TTS request failed", "error.message", "message"),
		}
	}
	if len(resp.Body) == 0 {
		return nil, &apperr.UpstreamError{Op: op, Status: resp.Status, Message: "OpenAI TTS returned no audio"}
	}

	format := responseFormat
	if format == "pcm" {
		format = "pcm_s16le"
	}
	return &Result{
		AudioBase64: base64.StdEncoding.EncodeToString(resp.Body),
		SampleRate:  c.cfg.SampleRate,
		Format:      format,
	}, nil
}

// mapResponseFormat picks the audio/speech response_format for a requested
// output format, defaulting to raw PCM.
func mapResponseFormat(format string) string {
	f := strings.ToLower(format)
	for _, known := range []string{"pcm", "wav", "mp3", "opus", "aac", "flac"} {
		if strings.Contains(f, known) {
			return known
		}
	}
	return "pcm"
}
