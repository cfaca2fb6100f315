// Package reply generates the avatar's answer to a user utterance with a
// chat completion model.
package reply

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lexiqai/avatar-gateway/internal/apperr"
	"github.com/lexiqai/avatar-gateway/internal/observability"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("OPENAI_API_KEY is not set")

// Options configures a Generator.
type Options struct {
	APIKey      string
	BaseURL     string // empty uses the SDK default
	Model       string
	Temperature float64
	Timeout     time.Duration
	Retries     int
	HTTPClient  *http.Client
}

// Generator turns user text into a reply under a persona's system prompt.
type Generator struct {
	client      openai.Client
	model       string
	temperature float64
	configured  bool
}

func NewGenerator(opts Options) *Generator {
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(opts.Retries),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	return &Generator{
		client:      openai.NewClient(reqOpts...),
		model:       opts.Model,
		temperature: opts.Temperature,
		configured:  opts.APIKey != "",
	}
}

// Configured reports whether an API key is present.
func (g *Generator) Configured() bool {
	return g.configured
}

// Reply returns the model's trimmed answer to userText.
func (g *Generator) Reply(ctx context.Context, system, userText string) (string, error) {
	const op = "generate reply"
	if strings.TrimSpace(userText) == "" {
		return "", apperr.Validation("user_text is required")
	}
	if !g.configured {
		return "", ErrNotConfigured
	}

	start := time.Now()
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(userText),
		},
		Temperature: openai.Float(g.temperature),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			observability.RecordUpstreamRequest("openai", op, apiErr.StatusCode, time.Since(start))
			msg := apiErr.Message
			if msg == "" {
				msg = "OpenAI request failed"
			}
			return "", &apperr.UpstreamError{Op: op, Status: apiErr.StatusCode, Message: msg, Err: err}
		}
		observability.RecordUpstreamRequest("openai", op, 0, time.Since(start))
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &apperr.UpstreamError{Op: op, Message: "OpenAI request failed", Err: &apperr.TransportError{Op: op, Err: err}}
	}
	observability.RecordUpstreamRequest("openai", op, http.StatusOK, time.Since(start))

	if len(resp.Choices) == 0 {
		return "", &apperr.UpstreamError{Op: op, Status: http.StatusOK, Message: "OpenAI returned empty response"}
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", &apperr.UpstreamError{Op: op, Status: http.StatusOK, Message: "OpenAI returned empty response"}
	}
	return text, nil
}
