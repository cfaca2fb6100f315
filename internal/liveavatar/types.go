package liveavatar

import (
	"encoding/json"
	"strings"
)

// Mode selects who drives the avatar's speech.
type Mode string

const (
	// ModeFull lets the provider run its own voice pipeline; speech is
	// triggered by text over the media data channel.
	ModeFull Mode = "FULL"
	// ModeCustom has this service synthesize audio and stream it over the
	// control channel.
	ModeCustom Mode = "CUSTOM"
)

// ParseMode normalizes a caller-supplied mode. Empty means FULL.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case "", ModeFull:
		return ModeFull, true
	case ModeCustom:
		return ModeCustom, true
	}
	return "", false
}

// Persona configures the provider-side voice pipeline (FULL mode only).
type Persona struct {
	VoiceID   string `json:"voice_id"`
	ContextID string `json:"context_id"`
	Language  string `json:"language,omitempty"`
}

// LiveKitConfig overrides the media room the provider joins (non-FULL modes).
type LiveKitConfig struct {
	URL         string `json:"livekit_url,omitempty"`
	Room        string `json:"livekit_room,omitempty"`
	ClientToken string `json:"livekit_client_token,omitempty"`
}

// IsZero reports whether no override field is set.
func (c *LiveKitConfig) IsZero() bool {
	return c == nil || (c.URL == "" && c.Room == "" && c.ClientToken == "")
}

// TokenRequest is the body of POST /sessions/token.
type TokenRequest struct {
	AvatarID string         `json:"avatar_id"`
	Mode     Mode           `json:"mode"`
	Persona  *Persona       `json:"avatar_persona,omitempty"`
	LiveKit  *LiveKitConfig `json:"livekit_config,omitempty"`
}

// TokenResult holds the credential issued for one session.
type TokenResult struct {
	SessionToken string
	SessionID    string
	Raw          json.RawMessage
}

// Catalog is a normalized provider list plus the untouched response.
type Catalog struct {
	Items []json.RawMessage
	Raw   json.RawMessage
}

// CatalogKind names a provider catalog.
type CatalogKind string

const (
	CatalogAvatars  CatalogKind = "avatars"
	CatalogVoices   CatalogKind = "voices"
	CatalogContexts CatalogKind = "contexts"
)

type stopRequest struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

type keepAliveRequest struct {
	SessionID string `json:"session_id"`
}
