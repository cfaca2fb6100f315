package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lexiqai/avatar-gateway/internal/apperr"
	"github.com/lexiqai/avatar-gateway/internal/liveavatar"
	"github.com/lexiqai/avatar-gateway/internal/observability"
	"github.com/lexiqai/avatar-gateway/internal/persona"
	"github.com/lexiqai/avatar-gateway/internal/session"
	"github.com/lexiqai/avatar-gateway/internal/tts"
)

type fakeCatalogs struct {
	voiceType string
	err       error
}

func (f *fakeCatalogs) list(items ...string) (*liveavatar.Catalog, error) {
	if f.err != nil {
		return nil, f.err
	}
	c := &liveavatar.Catalog{Items: []json.RawMessage{}, Raw: json.RawMessage(`{"code":100}`)}
	for _, it := range items {
		c.Items = append(c.Items, json.RawMessage(it))
	}
	return c, nil
}

func (f *fakeCatalogs) ListPublicAvatars(ctx context.Context) (*liveavatar.Catalog, error) {
	return f.list(`{"id":"pub"}`)
}

func (f *fakeCatalogs) ListUserAvatars(ctx context.Context) (*liveavatar.Catalog, error) {
	return f.list()
}

func (f *fakeCatalogs) ListVoices(ctx context.Context, voiceType string) (*liveavatar.Catalog, error) {
	f.voiceType = voiceType
	return f.list(`{"id":"v1"}`, `{"id":"v2"}`)
}

func (f *fakeCatalogs) ListContexts(ctx context.Context) (*liveavatar.Catalog, error) {
	return f.list(`{"id":"c1"}`)
}

type fakeSessions struct {
	created   session.CreateRequest
	createRes *session.CreateResult
	spoken    session.SpeakRequest
	speakRes  *session.SpeakResult
	stopped   string
	reason    string
	err       error
}

func (f *fakeSessions) CreateSession(ctx context.Context, req session.CreateRequest) (*session.CreateResult, error) {
	f.created = req
	if f.err != nil {
		return nil, f.err
	}
	return f.createRes, nil
}

func (f *fakeSessions) KeepAlive(ctx context.Context, sessionID string) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"code":100}`), nil
}

func (f *fakeSessions) Speak(ctx context.Context, req session.SpeakRequest) (*session.SpeakResult, error) {
	f.spoken = req
	if f.err != nil {
		return nil, f.err
	}
	return f.speakRes, nil
}

func (f *fakeSessions) Stop(ctx context.Context, sessionID, reason string) (json.RawMessage, error) {
	f.stopped, f.reason = sessionID, reason
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"code":100}`), nil
}

type fakeReplier struct {
	system string
	text   string
	err    error
}

func (f *fakeReplier) Reply(ctx context.Context, system, userText string) (string, error) {
	f.system = system
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type response struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Message string          `json:"message"`
		Detail  json.RawMessage `json:"detail"`
	} `json:"error"`
}

func newTestServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(New(deps).Router())
	t.Cleanup(server.Close)
	return server
}

func do(t *testing.T, method, url, body string) (int, response) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, out
}

func TestCatalogRoutes(t *testing.T) {
	catalogs := &fakeCatalogs{}
	server := newTestServer(t, Deps{Catalogs: catalogs})

	status, body := do(t, http.MethodGet, server.URL+"/liveavatar/voices?voice_type=public", "")
	if status != http.StatusOK || !body.OK {
		t.Fatalf("Expected 200 ok, got %d %+v", status, body)
	}
	if catalogs.voiceType != "public" {
		t.Errorf("Expected voice_type public, got %q", catalogs.voiceType)
	}
	var data struct {
		Voices []json.RawMessage `json:"voices"`
		Raw    json.RawMessage   `json:"raw"`
	}
	if err := json.Unmarshal(body.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(data.Voices) != 2 {
		t.Errorf("Expected 2 voices, got %d", len(data.Voices))
	}
	if string(data.Raw) != `{"code":100}` {
		t.Errorf("Expected raw payload, got %s", data.Raw)
	}

	_, body = do(t, http.MethodGet, server.URL+"/liveavatar/avatars/user", "")
	if !strings.Contains(string(body.Data), `"avatars":[]`) {
		t.Errorf("Expected empty avatars list, got %s", body.Data)
	}
}

func TestCatalogRoutes_UpstreamFailure(t *testing.T) {
	catalogs := &fakeCatalogs{err: &apperr.UpstreamError{Op: "list contexts", Status: 401, Body: []byte(`{"message":"bad key"}`), Message: "bad key"}}
	server := newTestServer(t, Deps{Catalogs: catalogs})

	status, body := do(t, http.MethodGet, server.URL+"/liveavatar/contexts", "")
	if status != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", status)
	}
	if body.OK || body.Error == nil || body.Error.Message != "bad key" {
		t.Fatalf("Expected error envelope with upstream message, got %+v", body)
	}
	if !strings.Contains(string(body.Error.Detail), `"status":401`) {
		t.Errorf("Expected upstream status in detail, got %s", body.Error.Detail)
	}
}

func TestNewSession(t *testing.T) {
	sessions := &fakeSessions{createRes: &session.CreateResult{
		SessionID:  "s1",
		Mode:       liveavatar.ModeCustom,
		Start:      json.RawMessage(`{"data":{"ws_url":"wss://ctl"}}`),
		ControlURL: "wss://ctl",
		Media:      &liveavatar.Endpoint{URL: "wss://lk", Token: "ct"},
	}}
	server := newTestServer(t, Deps{Sessions: sessions})

	status, body := do(t, http.MethodPost, server.URL+"/liveavatar/new-session",
		`{"avatar_id":"a1","mode":"CUSTOM","livekit_config":{"livekit_url":"wss://own"}}`)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d %+v", status, body)
	}
	if sessions.created.AvatarID != "a1" || sessions.created.Mode != "CUSTOM" {
		t.Errorf("Unexpected create request %+v", sessions.created)
	}
	if sessions.created.LiveKit == nil || sessions.created.LiveKit.URL != "wss://own" {
		t.Errorf("Expected transport override to be forwarded, got %+v", sessions.created.LiveKit)
	}

	var data map[string]any
	if err := json.Unmarshal(body.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data["session_id"] != "s1" || data["ws_url"] != "wss://ctl" {
		t.Errorf("Unexpected data %v", data)
	}
	if _, ok := data["start"].(map[string]any); !ok {
		t.Errorf("Expected start payload, got %v", data["start"])
	}
	livekit, _ := data["livekit"].(map[string]any)
	if livekit["livekit_url"] != "wss://lk" || livekit["livekit_client_token"] != "ct" {
		t.Errorf("Unexpected livekit block %v", data["livekit"])
	}
}

func TestNewSession_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		err     error
		status  int
		message string
	}{
		{"validation", `{}`, apperr.Validation("avatar_id is required"), http.StatusBadRequest, "avatar_id is required"},
		{"invalid json", `{"avatar_id":`, nil, http.StatusBadRequest, ""},
		{"connect timeout", `{"avatar_id":"a"}`, &apperr.ConnectTimeout{SessionID: "s"}, http.StatusGatewayTimeout, ""},
		{"unclassified", `{"avatar_id":"a"}`, errors.New("boom"), http.StatusInternalServerError, "Failed to create LiveAvatar session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, Deps{Sessions: &fakeSessions{err: tt.err}})
			status, body := do(t, http.MethodPost, server.URL+"/liveavatar/new-session", tt.body)
			if status != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, status)
			}
			if body.OK || body.Error == nil {
				t.Fatalf("Expected error envelope, got %+v", body)
			}
			if tt.message != "" && body.Error.Message != tt.message {
				t.Errorf("Expected message %q, got %q", tt.message, body.Error.Message)
			}
		})
	}
}

func TestSpeak(t *testing.T) {
	sessions := &fakeSessions{speakRes: &session.SpeakResult{
		SessionID: "s1",
		Mode:      liveavatar.ModeCustom,
		EventID:   "s1-1",
		Audio:     &tts.Result{AudioBase64: "QUJD", SampleRate: 24000, Format: "pcm_s16le"},
	}}
	server := newTestServer(t, Deps{Sessions: sessions})

	status, body := do(t, http.MethodPost, server.URL+"/liveavatar/speak",
		`{"session_id":" s1 ","text":"hello","tts_voice_id":"nova","mode":"CUSTOM"}`)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d %+v", status, body)
	}
	if sessions.spoken.SessionID != "s1" || sessions.spoken.VoiceID != "nova" || sessions.spoken.Text != "hello" {
		t.Errorf("Unexpected speak request %+v", sessions.spoken)
	}
	var data speakResponse
	if err := json.Unmarshal(body.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.EventID != "s1-1" || data.AudioBase64 != "QUJD" || data.SampleRateHz != 24000 {
		t.Errorf("Unexpected speak data %+v", data)
	}
}

func TestKeepAliveAndStop(t *testing.T) {
	sessions := &fakeSessions{}
	server := newTestServer(t, Deps{Sessions: sessions})

	if status, body := do(t, http.MethodPost, server.URL+"/liveavatar/keepalive", `{"session_id":"s1"}`); status != http.StatusOK || !body.OK {
		t.Errorf("Expected keepalive ok, got %d %+v", status, body)
	}

	status, body := do(t, http.MethodPost, server.URL+"/liveavatar/stop", `{"session_id":"s1","reason":"DONE"}`)
	if status != http.StatusOK || !body.OK {
		t.Fatalf("Expected stop ok, got %d %+v", status, body)
	}
	if sessions.stopped != "s1" || sessions.reason != "DONE" {
		t.Errorf("Expected stop of s1 with DONE, got %s %s", sessions.stopped, sessions.reason)
	}
}

func TestReply(t *testing.T) {
	personas := persona.NewCatalog(map[string]persona.Persona{
		"default": {System: "be nice"},
		"tutor":   {System: "teach"},
	})
	replier := &fakeReplier{text: "hi there"}
	server := newTestServer(t, Deps{Personas: personas, Replier: replier})

	status, body := do(t, http.MethodPost, server.URL+"/reply", `{"user_text":"hello","persona_key":"tutor"}`)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d %+v", status, body)
	}
	if replier.system != "teach" {
		t.Errorf("Expected tutor prompt, got %q", replier.system)
	}
	if !strings.Contains(string(body.Data), `"text":"hi there"`) {
		t.Errorf("Expected reply text, got %s", body.Data)
	}

	status, body = do(t, http.MethodPost, server.URL+"/reply", `{"user_text":"  "}`)
	if status != http.StatusBadRequest || body.Error == nil || body.Error.Message != "user_text is required" {
		t.Errorf("Expected 400 user_text is required, got %d %+v", status, body)
	}
}

func TestReply_Failure(t *testing.T) {
	replier := &fakeReplier{err: errors.New("boom")}
	server := newTestServer(t, Deps{Replier: replier})

	status, body := do(t, http.MethodPost, server.URL+"/reply", `{"user_text":"hello"}`)
	if status != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", status)
	}
	if body.Error == nil || body.Error.Message != "Failed to generate reply" {
		t.Errorf("Expected fallback message, got %+v", body.Error)
	}
}

func TestPersona(t *testing.T) {
	personas := persona.NewCatalog(map[string]persona.Persona{
		"default": {System: "a"},
		"tutor":   {System: "b"},
	})
	server := newTestServer(t, Deps{Personas: personas})

	status, _ := do(t, http.MethodPost, server.URL+"/persona", `{"persona_key":"tutor"}`)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if personas.Current() != "tutor" {
		t.Errorf("Expected tutor selected, got %s", personas.Current())
	}

	status, body := do(t, http.MethodPost, server.URL+"/persona", `{"persona_key":"pirate"}`)
	if status != http.StatusBadRequest || body.Error == nil || body.Error.Message != "Unknown persona_key" {
		t.Errorf("Expected 400 Unknown persona_key, got %d %+v", status, body)
	}

	_, body = do(t, http.MethodGet, server.URL+"/persona", "")
	if !strings.Contains(string(body.Data), `"persona_key":"tutor"`) {
		t.Errorf("Expected current persona tutor, got %s", body.Data)
	}
}

func TestNotFound(t *testing.T) {
	server := newTestServer(t, Deps{})

	status, body := do(t, http.MethodGet, server.URL+"/nope", "")
	if status != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", status)
	}
	if body.OK || body.Error == nil || body.Error.Message != "Not found" {
		t.Errorf("Expected Not found envelope, got %+v", body)
	}
}

func TestCorrelationAndCORS(t *testing.T) {
	server := newTestServer(t, Deps{AllowAnyOrigin: true})

	req, _ := http.NewRequest(http.MethodOptions, server.URL+"/liveavatar/speak", nil)
	req.Header.Set("X-Correlation-ID", "corr-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204 preflight, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Expected open CORS, got %q", resp.Header.Get("Access-Control-Allow-Origin"))
	}
	if resp.Header.Get("X-Correlation-ID") != "corr-1" {
		t.Errorf("Expected correlation id echo, got %q", resp.Header.Get("X-Correlation-ID"))
	}
}

func TestReadiness(t *testing.T) {
	down := observability.HealthCheck{Name: "tts", Check: func(ctx context.Context) (bool, error) { return false, nil }}
	server := newTestServer(t, Deps{Readiness: []observability.HealthCheck{down}})

	resp, err := http.Get(server.URL + "/ready")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", resp.StatusCode)
	}
}
