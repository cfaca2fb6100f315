package liveavatar

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Endpoint is a real-time URL and the credential that goes with it.
type Endpoint struct {
	URL   string `json:"url"`
	Token string `json:"token,omitempty"`
}

// endpointRule describes where a provider payload may carry an endpoint.
// Containers are searched in order; within a container, the first non-empty
// URL key wins, paired with the first non-empty token key.
type endpointRule struct {
	containers   []string
	urlKeys      []string
	tokenKeys    []string
	requireToken bool
}

// mediaRule locates the LiveKit room the browser joins.
var mediaRule = endpointRule{
	containers:   []string{"", "start", "start.data", "livekit", "data", "room", "data.livekit"},
	urlKeys:      []string{"livekit_url", "ws_url", "url"},
	tokenKeys:    []string{"livekit_token", "livekit_client_token", "livekit_agent_token", "access_token", "token"},
	requireToken: true,
}

// controlRule locates the CUSTOM-mode control WebSocket.
var controlRule = endpointRule{
	containers: []string{"", "data", "start", "start.data", "data.realtime"},
	urlKeys:    []string{"ws_url", "websocket_url", "realtime_url", "control_url"},
	tokenKeys:  []string{"ws_token", "realtime_token"},
}

func (r endpointRule) find(payload []byte) (Endpoint, bool) {
	if !gjson.ValidBytes(payload) {
		return Endpoint{}, false
	}
	root := gjson.ParseBytes(payload)
	for _, path := range r.containers {
		container := root
		if path != "" {
			container = root.Get(path)
		}
		if !container.IsObject() {
			continue
		}
		url := firstString(container, r.urlKeys)
		if url == "" {
			continue
		}
		token := firstString(container, r.tokenKeys)
		if r.requireToken && token == "" {
			continue
		}
		return Endpoint{URL: url, Token: token}, true
	}
	return Endpoint{}, false
}

// ExtractMediaEndpoint returns the first LiveKit URL+token pair in a start payload.
func ExtractMediaEndpoint(payload json.RawMessage) (Endpoint, bool) {
	return mediaRule.find(payload)
}

// ExtractControlEndpoint returns the control-channel URL from a start payload.
func ExtractControlEndpoint(payload json.RawMessage) (Endpoint, bool) {
	return controlRule.find(payload)
}

// ExtractSessionID reads a session id from a token or start payload.
func ExtractSessionID(payload json.RawMessage) string {
	return firstPath(payload, "data.session_id", "session_id", "data.session.id", "session.id")
}

func firstString(obj gjson.Result, keys []string) string {
	for _, k := range keys {
		if v := obj.Get(k); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

// firstPath returns the first non-empty string found at any of paths.
func firstPath(payload []byte, paths ...string) string {
	for _, p := range paths {
		if v := gjson.GetBytes(payload, p); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

// catalogItems picks the first array among the known list locations.
func catalogItems(payload []byte, kind CatalogKind) []json.RawMessage {
	for _, p := range []string{"data", "data.results", "data.items", "data." + string(kind), string(kind), "items", "results"} {
		v := gjson.GetBytes(payload, p)
		if !v.IsArray() {
			continue
		}
		items := make([]json.RawMessage, 0, len(v.Array()))
		v.ForEach(func(_, value gjson.Result) bool {
			items = append(items, json.RawMessage(value.Raw))
			return true
		})
		return items
	}
	return []json.RawMessage{}
}

// errorMessage reads the provider's error text.
func errorMessage(payload []byte, fallback string) string {
	if msg := firstPath(payload, "message", "error.message", "detail"); msg != "" {
		return msg
	}
	if v := gjson.GetBytes(payload, "error"); v.Type == gjson.String && v.Str != "" {
		return v.Str
	}
	return fallback
}
