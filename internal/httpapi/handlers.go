package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/lexiqai/avatar-gateway/internal/apperr"
	"github.com/lexiqai/avatar-gateway/internal/liveavatar"
	"github.com/lexiqai/avatar-gateway/internal/session"
)

type newSessionRequest struct {
	AvatarID      string                    `json:"avatar_id"`
	VoiceID       string                    `json:"voice_id"`
	ContextID     string                    `json:"context_id"`
	Language      string                    `json:"language"`
	Mode          string                    `json:"mode"`
	LiveKitConfig *liveavatar.LiveKitConfig `json:"livekit_config"`
}

type newSessionResponse struct {
	SessionID string          `json:"session_id"`
	Mode      liveavatar.Mode `json:"mode"`
	Start     json.RawMessage `json:"start"`
	WSURL     string          `json:"ws_url,omitempty"`
	LiveKit   *liveKitInfo    `json:"livekit,omitempty"`
}

type liveKitInfo struct {
	URL   string `json:"livekit_url"`
	Token string `json:"livekit_client_token"`
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

type speakRequest struct {
	SessionID  string `json:"session_id"`
	Text       string `json:"text"`
	TTSVoiceID string `json:"tts_voice_id"`
	Mode       string `json:"mode"`
}

type speakResponse struct {
	SessionID    string          `json:"session_id"`
	Mode         liveavatar.Mode `json:"mode"`
	EventID      string          `json:"event_id,omitempty"`
	AudioBase64  string          `json:"audio_base64,omitempty"`
	SampleRateHz int             `json:"sample_rate_hz,omitempty"`
	AudioFormat  string          `json:"audio_format,omitempty"`
}

type replyRequest struct {
	UserText   string `json:"user_text"`
	PersonaKey string `json:"persona_key"`
}

type personaRequest struct {
	PersonaKey string `json:"persona_key"`
}

func (s *Server) handleCatalog(kind, fallback string, list func(r *http.Request) (*liveavatar.Catalog, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		catalog, err := list(r)
		if err != nil {
			respondError(w, r, fallback, err)
			return
		}
		raw := catalog.Raw
		if len(raw) == 0 {
			raw = json.RawMessage("{}")
		}
		respondOK(w, map[string]any{kind: catalog.Items, "raw": raw})
	}
}

func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	const fallback = "Failed to create LiveAvatar session"
	var req newSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, fallback, err)
		return
	}

	res, err := s.deps.Sessions.CreateSession(r.Context(), session.CreateRequest{
		AvatarID:  req.AvatarID,
		Mode:      req.Mode,
		VoiceID:   req.VoiceID,
		ContextID: req.ContextID,
		Language:  req.Language,
		LiveKit:   req.LiveKitConfig,
	})
	if err != nil {
		respondError(w, r, fallback, err)
		return
	}

	out := newSessionResponse{
		SessionID: res.SessionID,
		Mode:      res.Mode,
		Start:     res.Start,
		WSURL:     res.ControlURL,
	}
	if res.Media != nil {
		out.LiveKit = &liveKitInfo{URL: res.Media.URL, Token: res.Media.Token}
	}
	respondOK(w, out)
}

func (s *Server) handleKeepAlive(w http.ResponseWriter, r *http.Request) {
	const fallback = "Failed to keep LiveAvatar session alive"
	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, fallback, err)
		return
	}
	data, err := s.deps.Sessions.KeepAlive(r.Context(), strings.TrimSpace(req.SessionID))
	if err != nil {
		respondError(w, r, fallback, err)
		return
	}
	respondOK(w, data)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	const fallback = "Failed to stop LiveAvatar session"
	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, fallback, err)
		return
	}
	data, err := s.deps.Sessions.Stop(r.Context(), strings.TrimSpace(req.SessionID), req.Reason)
	if err != nil {
		respondError(w, r, fallback, err)
		return
	}
	respondOK(w, data)
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	const fallback = "Failed to speak"
	var req speakRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, fallback, err)
		return
	}
	res, err := s.deps.Sessions.Speak(r.Context(), session.SpeakRequest{
		SessionID: strings.TrimSpace(req.SessionID),
		Text:      req.Text,
		Mode:      req.Mode,
		VoiceID:   req.TTSVoiceID,
	})
	if err != nil {
		respondError(w, r, fallback, err)
		return
	}

	out := speakResponse{SessionID: res.SessionID, Mode: res.Mode, EventID: res.EventID}
	if res.Audio != nil {
		out.AudioBase64 = res.Audio.AudioBase64
		out.SampleRateHz = res.Audio.SampleRate
		out.AudioFormat = res.Audio.Format
	}
	respondOK(w, out)
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	const fallback = "Failed to generate reply"
	var req replyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, fallback, err)
		return
	}
	if strings.TrimSpace(req.UserText) == "" {
		respondError(w, r, fallback, apperr.Validation("user_text is required"))
		return
	}
	if s.deps.Replier == nil {
		respondError(w, r, fallback, apperr.Validation("reply generation is not configured"))
		return
	}

	key := req.PersonaKey
	if key == "" {
		key = s.deps.Personas.Current()
	}
	text, err := s.deps.Replier.Reply(r.Context(), s.deps.Personas.System(key), req.UserText)
	if err != nil {
		respondError(w, r, fallback, err)
		return
	}
	respondOK(w, map[string]string{"text": text})
}

func (s *Server) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	respondOK(w, map[string]any{
		"persona_key": s.deps.Personas.Current(),
		"personas":    s.deps.Personas.Keys(),
	})
}

func (s *Server) handleSetPersona(w http.ResponseWriter, r *http.Request) {
	const fallback = "Failed to select persona"
	var req personaRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, fallback, err)
		return
	}
	if err := s.deps.Personas.Select(req.PersonaKey); err != nil {
		respondError(w, r, fallback, err)
		return
	}
	respondOK(w, map[string]string{"persona_key": s.deps.Personas.Current()})
}
