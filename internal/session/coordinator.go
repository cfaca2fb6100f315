package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lexiqai/avatar-gateway/internal/apperr"
	"github.com/lexiqai/avatar-gateway/internal/audio"
	"github.com/lexiqai/avatar-gateway/internal/bridge"
	"github.com/lexiqai/avatar-gateway/internal/liveavatar"
	"github.com/lexiqai/avatar-gateway/internal/observability"
	"github.com/lexiqai/avatar-gateway/internal/relay"
	"github.com/lexiqai/avatar-gateway/internal/tts"
	"github.com/rs/zerolog"
)

const (
	// ControlTopic is the data-channel topic FULL-mode avatars listen on.
	ControlTopic = "agent-control"
	// SpeakTextEvent asks a FULL-mode avatar to voice text itself.
	SpeakTextEvent = "avatar.speak_text"

	defaultStopReason = "USER_DISCONNECTED"
)

// SessionAPI is the provider's session lifecycle.
type SessionAPI interface {
	CreateSessionToken(ctx context.Context, req liveavatar.TokenRequest) (*liveavatar.TokenResult, error)
	StartSession(ctx context.Context, sessionToken string) (json.RawMessage, error)
	StopSession(ctx context.Context, sessionID, sessionToken, reason string) (json.RawMessage, error)
	KeepAlive(ctx context.Context, sessionID, sessionToken string) (json.RawMessage, error)
}

// AudioBridge streams synthesized audio over the control channel.
type AudioBridge interface {
	SendAudio(ctx context.Context, sessionID, url string, a bridge.Audio) (string, error)
	CloseConnection(sessionID string)
	OnSessionEnded(fn func(sessionID string))
	Close()
}

// DataChannel delivers data-channel messages to the browser.
type DataChannel interface {
	Publish(ctx context.Context, sessionID string, msg relay.DataMessage) (int, error)
	Close(sessionID string)
}

// Options tunes a Coordinator.
type Options struct {
	KeepAliveInterval time.Duration // 0 disables scheduled heartbeats
	LiveKitDefaults   liveavatar.LiveKitConfig
	TTSFormat         string
	TTSSampleRate     int
	TargetSampleRate  int  // resample PCM to this rate before streaming; 0 keeps the synthesized rate
	ReturnAudio       bool // echo synthesized audio in SpeakResult
}

// CreateRequest asks for a new avatar session.
type CreateRequest struct {
	AvatarID  string
	Mode      string
	VoiceID   string
	ContextID string
	Language  string
	LiveKit   *liveavatar.LiveKitConfig
}

// CreateResult describes a started session.
type CreateResult struct {
	SessionID  string
	Mode       liveavatar.Mode
	Start      json.RawMessage
	ControlURL string
	Media      *liveavatar.Endpoint
}

// SpeakRequest asks the avatar to say Text.
type SpeakRequest struct {
	SessionID string
	Text      string
	Mode      string // overrides the session's mode when set
	VoiceID   string // synthesis voice, CUSTOM mode only
}

// SpeakResult reports a delivered utterance. Audio is set only when audio
// echo is enabled and the utterance was synthesized here.
type SpeakResult struct {
	SessionID string
	Mode      liveavatar.Mode
	EventID   string
	Audio     *tts.Result
}

// Coordinator owns the session registry and every per-session resource.
type Coordinator struct {
	api    SessionAPI
	bridge AudioBridge
	data   DataChannel
	synth  tts.Synthesizer
	store  Store
	opts   Options
	logger zerolog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	keepalives map[string]context.CancelFunc
}

// NewCoordinator wires the collaborators. Provider-reported session ends
// seen by the bridge evict the session locally.
func NewCoordinator(api SessionAPI, audioBridge AudioBridge, data DataChannel, synth tts.Synthesizer, store Store, opts Options) *Coordinator {
	if store == nil {
		store = NewMemoryStore()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		api:        api,
		bridge:     audioBridge,
		data:       data,
		synth:      synth,
		store:      store,
		opts:       opts,
		logger:     observability.GetLogger().With().Str("component", "session").Logger(),
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		keepalives: make(map[string]context.CancelFunc),
	}
	audioBridge.OnSessionEnded(func(sessionID string) {
		c.evict(sessionID, "provider ended session")
	})
	return c
}

// Get returns the session's record.
func (c *Coordinator) Get(sessionID string) (*Record, bool) {
	return c.store.Get(sessionID)
}

// ActiveSessions returns the number of tracked sessions.
func (c *Coordinator) ActiveSessions() int {
	return c.store.Len()
}

// CreateSession obtains a token, starts the session and begins heartbeats.
func (c *Coordinator) CreateSession(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	avatarID := strings.TrimSpace(req.AvatarID)
	if avatarID == "" {
		return nil, apperr.Validation("avatar_id is required")
	}
	mode, ok := liveavatar.ParseMode(req.Mode)
	if !ok {
		return nil, apperr.Validation("mode must be FULL or CUSTOM, got %q", req.Mode)
	}

	tokenReq := liveavatar.TokenRequest{AvatarID: avatarID, Mode: mode}
	if mode == liveavatar.ModeFull {
		if req.VoiceID == "" || req.ContextID == "" {
			return nil, apperr.Validation("voice_id and context_id are required for FULL mode")
		}
		tokenReq.Persona = &liveavatar.Persona{VoiceID: req.VoiceID, ContextID: req.ContextID, Language: req.Language}
	} else {
		tokenReq.LiveKit = c.transportOverride(req.LiveKit)
	}

	token, err := c.api.CreateSessionToken(ctx, tokenReq)
	if err != nil {
		return nil, err
	}
	start, err := c.api.StartSession(ctx, token.SessionToken)
	if err != nil {
		return nil, err
	}

	sessionID := token.SessionID
	if sessionID == "" {
		sessionID = liveavatar.ExtractSessionID(start)
	}
	if sessionID == "" {
		return nil, &apperr.UpstreamError{
			Op:      "start session",
			Status:  http.StatusOK,
			Body:    start,
			Message: "session_id not found in LiveAvatar response",
		}
	}

	rec := &Record{
		SessionID: sessionID,
		Mode:      mode,
		Token:     token.SessionToken,
		CreatedAt: c.now(),
	}
	if control, ok := liveavatar.ExtractControlEndpoint(start); ok {
		rec.ControlURL = control.URL
	}
	if media, ok := liveavatar.ExtractMediaEndpoint(start); ok {
		rec.Media = &media
	}
	c.store.Put(rec)
	c.scheduleKeepAlive(sessionID)
	observability.RecordSessionStart(string(mode))

	logger := observability.WithSession(c.logger, sessionID)
	logger.Info().
		Str("mode", string(mode)).
		Str("avatar_id", avatarID).
		Bool("control_channel", rec.ControlURL != "").
		Bool("media", rec.Media != nil).
		Msg("Session started")

	return &CreateResult{
		SessionID:  sessionID,
		Mode:       mode,
		Start:      start,
		ControlURL: rec.ControlURL,
		Media:      rec.Media,
	}, nil
}

// transportOverride picks the request's LiveKit override, else the server
// defaults. It returns nil when neither sets anything.
func (c *Coordinator) transportOverride(requested *liveavatar.LiveKitConfig) *liveavatar.LiveKitConfig {
	if !requested.IsZero() {
		cp := *requested
		return &cp
	}
	defaults := c.opts.LiveKitDefaults
	if defaults.IsZero() {
		return nil
	}
	return &defaults
}

// KeepAlive sends one heartbeat. The session token is used when known.
// A 404 or 410 answer means the provider no longer has the session, which
// is then evicted locally.
func (c *Coordinator) KeepAlive(ctx context.Context, sessionID string) (json.RawMessage, error) {
	if sessionID == "" {
		return nil, apperr.Validation("session_id is required")
	}
	var token string
	if rec, ok := c.store.Get(sessionID); ok {
		token = rec.Token
	}
	data, err := c.api.KeepAlive(ctx, sessionID, token)
	if err != nil {
		observability.RecordKeepAliveFailure()
		if isGone(err) {
			c.evict(sessionID, "keepalive: session gone")
		}
		return nil, err
	}
	return data, nil
}

// Speak delivers text to the avatar. FULL sessions get a data-channel
// message and the provider voices it; CUSTOM sessions get audio
// synthesized here and streamed over the control channel.
func (c *Coordinator) Speak(ctx context.Context, req SpeakRequest) (*SpeakResult, error) {
	if req.SessionID == "" {
		return nil, apperr.Validation("session_id is required")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, apperr.Validation("text is required")
	}
	rec, ok := c.store.Get(req.SessionID)
	if !ok {
		return nil, apperr.Validation("unknown session_id %s: create a session first", req.SessionID)
	}
	mode := rec.Mode
	if req.Mode != "" {
		m, ok := liveavatar.ParseMode(req.Mode)
		if !ok {
			return nil, apperr.Validation("mode must be FULL or CUSTOM, got %q", req.Mode)
		}
		mode = m
	}
	if rec.Mode == liveavatar.ModeFull && mode == liveavatar.ModeCustom {
		return nil, apperr.Validation("session %s was started in FULL mode: audio cannot be streamed to it", rec.SessionID)
	}

	var (
		result *SpeakResult
		err    error
	)
	if mode == liveavatar.ModeFull {
		result, err = c.speakText(ctx, rec, req.Text)
	} else {
		result, err = c.speakAudio(ctx, rec, req)
	}
	observability.RecordSpeak(string(mode), err == nil)
	if err != nil {
		logger := observability.WithSession(c.logger, req.SessionID)
		logger.Warn().Err(err).Str("mode", string(mode)).Msg("Speak failed")
		return nil, err
	}
	return result, nil
}

type speakTextPayload struct {
	EventType string `json:"event_type"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

func (c *Coordinator) speakText(ctx context.Context, rec *Record, text string) (*SpeakResult, error) {
	_, err := c.data.Publish(ctx, rec.SessionID, relay.DataMessage{
		Topic:    ControlTopic,
		Reliable: true,
		Payload:  speakTextPayload{EventType: SpeakTextEvent, SessionID: rec.SessionID, Text: text},
	})
	if err != nil {
		return nil, err
	}
	return &SpeakResult{SessionID: rec.SessionID, Mode: liveavatar.ModeFull}, nil
}

func (c *Coordinator) speakAudio(ctx context.Context, rec *Record, req SpeakRequest) (*SpeakResult, error) {
	if rec.ControlURL == "" {
		return nil, apperr.Validation("start in CUSTOM mode first: missing transport URL for session %s", rec.SessionID)
	}
	if c.synth == nil {
		return nil, errors.New("speech synthesis is not configured")
	}

	speech, err := c.synth.Synthesize(ctx, tts.Request{
		Text:       req.Text,
		VoiceID:    req.VoiceID,
		Format:     c.opts.TTSFormat,
		SampleRate: c.opts.TTSSampleRate,
	})
	if err != nil {
		return nil, err
	}
	// Stop may have run while synthesizing.
	if _, ok := c.store.Get(rec.SessionID); !ok {
		return nil, apperr.Validation("session %s was stopped", rec.SessionID)
	}

	audioB64, rate, err := audio.ConformBase64(speech.AudioBase64, speech.Format, speech.SampleRate, c.opts.TargetSampleRate)
	if err != nil {
		return nil, err
	}
	conformed := &tts.Result{AudioBase64: audioB64, SampleRate: rate, Format: speech.Format}

	eventID, err := c.bridge.SendAudio(ctx, rec.SessionID, rec.ControlURL, bridge.Audio{
		Base64:     conformed.AudioBase64,
		SampleRate: conformed.SampleRate,
		Format:     conformed.Format,
	})
	if err != nil {
		return nil, err
	}
	if _, ok := c.store.Get(rec.SessionID); !ok {
		c.bridge.CloseConnection(rec.SessionID)
		return nil, apperr.Validation("session %s was stopped", rec.SessionID)
	}

	result := &SpeakResult{SessionID: rec.SessionID, Mode: liveavatar.ModeCustom, EventID: eventID}
	if c.opts.ReturnAudio {
		result.Audio = conformed
	}
	return result, nil
}

// Stop ends the session at the provider. Local state is released whatever
// the remote outcome, so a second Stop is harmless.
func (c *Coordinator) Stop(ctx context.Context, sessionID, reason string) (json.RawMessage, error) {
	if sessionID == "" {
		return nil, apperr.Validation("session_id is required")
	}
	if reason == "" {
		reason = defaultStopReason
	}
	var token string
	if rec, ok := c.store.Get(sessionID); ok {
		token = rec.Token
	}
	defer c.evict(sessionID, "stopped")

	data, err := c.api.StopSession(ctx, sessionID, token, reason)
	if err != nil {
		logger := observability.WithSession(c.logger, sessionID)
		logger.Warn().Err(err).Msg("Remote stop failed; local state released")
		return nil, err
	}
	return data, nil
}

// evict releases every local resource held for the session.
func (c *Coordinator) evict(sessionID, why string) {
	c.cancelKeepAlive(sessionID)
	rec, ok := c.store.Delete(sessionID)
	c.bridge.CloseConnection(sessionID)
	c.data.Close(sessionID)
	if ok {
		observability.RecordSessionEnd(rec.CreatedAt)
		logger := observability.WithSession(c.logger, sessionID)
		logger.Info().Str("reason", why).Msg("Session released")
	}
}

// Shutdown stops every heartbeat and closes all control channels. Provider
// sessions are left to expire.
func (c *Coordinator) Shutdown() {
	c.cancel()
	c.mu.Lock()
	for id, cancel := range c.keepalives {
		cancel()
		delete(c.keepalives, id)
	}
	c.mu.Unlock()
	c.wg.Wait()
	c.bridge.Close()
}

func isGone(err error) bool {
	var upstreamErr *apperr.UpstreamError
	if !errors.As(err, &upstreamErr) {
		return false
	}
	return upstreamErr.Status == http.StatusNotFound || upstreamErr.Status == http.StatusGone
}
