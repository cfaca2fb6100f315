package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lexiqai/avatar-gateway/internal/apperr"
	"github.com/lexiqai/avatar-gateway/internal/upstream"
	"github.com/tidwall/gjson"
)

const (
	defaultFormat     = "pcm_s16le"
	defaultSampleRate = 24000
)

// CustomClient posts text to a JSON synthesis endpoint that answers with
// base64 audio.
type CustomClient struct {
	endpoint   string
	apiKey     string
	authHeader string
	authPrefix string
	http       *upstream.Client
}

type customRequest struct {
	Text         string `json:"text"`
	VoiceID      string `json:"voice_id,omitempty"`
	Format       string `json:"format"`
	SampleRateHz int    `json:"sample_rate_hz"`
}

// NewCustomClient creates a client for endpoint. When apiKey is set it is
// sent in authHeader, prefixed by authPrefix unless the prefix is empty.
func NewCustomClient(endpoint, apiKey, authHeader, authPrefix string, httpClient *upstream.Client) *CustomClient {
	if authHeader == "" {
		authHeader = "Authorization"
	}
	return &CustomClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		authHeader: authHeader,
		authPrefix: authPrefix,
		http:       httpClient,
	}
}

func (c *CustomClient) Provider() string {
	return "custom"
}

func (c *CustomClient) Synthesize(ctx context.Context, req Request) (*Result, error) {
	if c.endpoint == "" {
		return nil, ErrNotConfigured
	}
	if req.Text == "" {
		return nil, apperr.Validation("text is required for TTS")
	}

	body := customRequest{
		Text:         req.Text,
		VoiceID:      req.VoiceID,
		Format:       req.Format,
		SampleRateHz: req.SampleRate,
	}
	if body.Format == "" {
		body.Format = defaultFormat
	}
	if body.SampleRateHz <= 0 {
		body.SampleRateHz = defaultSampleRate
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode tts request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		value := c.apiKey
		if c.authPrefix != "" {
			value = c.authPrefix + " " + c.apiKey
		}
		header.Set(c.authHeader, value)
	}

	const op = "synthesize speech"
	resp, err := c.http.Do(ctx, op, upstream.Request{
		Method: http.MethodPost,
		URL:    c.endpoint,
		Header: header,
		Body:   payload,
	})
	if err != nil {
		return nil, err
	}

	data := resp.Body
	if !gjson.ValidBytes(data) {
		data = []byte("{}")
	}
	if !resp.OK() {
		return nil, &apperr.UpstreamError{
			Op:      op,
			Status:  resp.Status,
			Body:    data,
			Message: firstString(data, "Custom TTS request failed", "message", "error.message"),
		}
	}

	audio := firstString(data, "",
		"audio_base64", "audioBase64", "audio",
		"data.audio_base64", "data.audioBase64", "data.audio")
	if audio == "" {
		return nil, &apperr.UpstreamError{
			Op:      op,
			Status:  resp.Status,
			Body:    data,
			Message: "Custom TTS response missing audio_base64",
		}
	}

	result := &Result{
		AudioBase64: audio,
		SampleRate:  body.SampleRateHz,
		Format:      firstString(data, body.Format, "format", "audio_format"),
	}
	for _, path := range []string{"sample_rate_hz", "sampleRate"} {
		if v := gjson.GetBytes(data, path); v.Type == gjson.Number && v.Int() > 0 {
			result.SampleRate = int(v.Int())
			break
		}
	}
	return result, nil
}

// firstString returns the first non-empty string at paths, or fallback.
func firstString(data []byte, fallback string, paths ...string) string {
	for _, p := range paths {
		if v := gjson.GetBytes(data, p); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return fallback
}
