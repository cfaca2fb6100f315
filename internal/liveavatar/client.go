// Package liveavatar talks to the LiveAvatar session HTTP API.
package liveavatar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/lexiqai/avatar-gateway/internal/apperr"
	"github.com/lexiqai/avatar-gateway/internal/upstream"
)

// Client performs the provider's session lifecycle and catalog calls.
type Client struct {
	baseURL string
	apiKey  string
	http    *upstream.Client
}

// NewClient creates a client for baseURL authenticated with apiKey.
func NewClient(baseURL, apiKey string, httpClient *upstream.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

func (c *Client) requireAPIKey() error {
	if c.apiKey == "" {
		return apperr.Validation("LIVEAVATAR_API_KEY is not set")
	}
	return nil
}

// CreateSessionToken obtains a session token for the requested avatar.
func (c *Client) CreateSessionToken(ctx context.Context, req TokenRequest) (*TokenResult, error) {
	if err := c.requireAPIKey(); err != nil {
		return nil, err
	}
	if req.AvatarID == "" {
		return nil, apperr.Validation("avatar_id is required")
	}
	if req.Mode == "" {
		req.Mode = ModeFull
	}
	if req.Mode == ModeFull {
		req.LiveKit = nil
	} else {
		req.Persona = nil
		if req.LiveKit.IsZero() {
			req.LiveKit = nil
		}
	}

	data, err := c.call(ctx, "create session token", http.MethodPost, "/sessions/token", c.apiKeyHeader(), req)
	if err != nil {
		return nil, err
	}

	token := firstPath(data, "data.session_token", "session_token")
	if token == "" {
		return nil, &apperr.UpstreamError{
			Op:      "create session token",
			Status:  http.StatusOK,
			Body:    data,
			Message: "session_token not found in LiveAvatar response",
		}
	}
	return &TokenResult{
		SessionToken: token,
		SessionID:    firstPath(data, "data.session_id", "session_id"),
		Raw:          data,
	}, nil
}

// StartSession starts the session identified by its token and returns the
// provider payload untouched.
func (c *Client) StartSession(ctx context.Context, sessionToken string) (json.RawMessage, error) {
	if sessionToken == "" {
		return nil, apperr.Validation("session_token is required")
	}
	return c.call(ctx, "start session", http.MethodPost, "/sessions/start", bearer(nil, sessionToken), nil)
}

// StopSession ends a session. sessionToken and reason are optional.
func (c *Client) StopSession(ctx context.Context, sessionID, sessionToken, reason string) (json.RawMessage, error) {
	if err := c.requireAPIKey(); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, apperr.Validation("session_id is required")
	}
	body := stopRequest{SessionID: sessionID, Reason: reason}
	return c.call(ctx, "stop session", http.MethodPost, "/sessions/stop", bearer(c.apiKeyHeader(), sessionToken), body)
}

// KeepAlive sends one heartbeat for the session. sessionToken is optional.
func (c *Client) KeepAlive(ctx context.Context, sessionID, sessionToken string) (json.RawMessage, error) {
	if err := c.requireAPIKey(); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, apperr.Validation("session_id is required")
	}
	body := keepAliveRequest{SessionID: sessionID}
	return c.call(ctx, "keep session alive", http.MethodPost, "/sessions/keep-alive", bearer(c.apiKeyHeader(), sessionToken), body)
}

// ListPublicAvatars lists the provider's stock avatars.
func (c *Client) ListPublicAvatars(ctx context.Context) (*Catalog, error) {
	return c.catalog(ctx, "list public avatars", "/avatars/public", CatalogAvatars)
}

// ListUserAvatars lists avatars owned by the account.
func (c *Client) ListUserAvatars(ctx context.Context) (*Catalog, error) {
	return c.catalog(ctx, "list user avatars", "/avatars", CatalogAvatars)
}

// ListVoices lists voices, optionally filtered by voice type.
func (c *Client) ListVoices(ctx context.Context, voiceType string) (*Catalog, error) {
	query := url.Values{}
	if voiceType != "" {
		query.Set("voice_type", voiceType)
	}
	query.Set("page_size", "100")
	return c.catalog(ctx, "list voices", "/voices?"+query.Encode(), CatalogVoices)
}

// ListContexts lists the account's conversation contexts.
func (c *Client) ListContexts(ctx context.Context) (*Catalog, error) {
	return c.catalog(ctx, "list contexts", "/contexts", CatalogContexts)
}

func (c *Client) catalog(ctx context.Context, op, path string, kind CatalogKind) (*Catalog, error) {
	if err := c.requireAPIKey(); err != nil {
		return nil, err
	}
	header := c.apiKeyHeader()
	header.Set("Accept", "application/json")
	data, err := c.call(ctx, op, http.MethodGet, path, header, nil)
	if err != nil {
		return nil, err
	}
	return &Catalog{Items: catalogItems(data, kind), Raw: data}, nil
}

// call sends one request and returns the decoded body, or an UpstreamError
// for any non-2xx status. Unparseable bodies are normalized to {}.
func (c *Client) call(ctx context.Context, op, method, path string, header http.Header, body any) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal request: %w", op, err)
		}
		payload = b
		header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(ctx, op, upstream.Request{
		Method: method,
		URL:    c.baseURL + path,
		Header: header,
		Body:   payload,
	})
	if err != nil {
		return nil, err
	}

	data := json.RawMessage(resp.Body)
	if !json.Valid(data) {
		data = json.RawMessage("{}")
	}
	if !resp.OK() {
		return nil, &apperr.UpstreamError{
			Op:      op,
			Status:  resp.Status,
			Body:    data,
			Message: errorMessage(data, "Failed to "+op),
		}
	}
	return data, nil
}

func (c *Client) apiKeyHeader() http.Header {
	h := http.Header{}
	h.Set("X-API-KEY", c.apiKey)
	return h
}

func bearer(h http.Header, token string) http.Header {
	if h == nil {
		h = http.Header{}
	}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
