// Package relay forwards LiveKit data-channel messages to the browser that
// owns the session's media connection.
package relay

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/avatar-gateway/internal/apperr"
	"github.com/lexiqai/avatar-gateway/internal/observability"
	"github.com/rs/zerolog"
)

// ErrNoSubscriber means no browser is listening for the session.
var ErrNoSubscriber = errors.New("no browser subscribed for session")

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
)

// DataMessage is one message the browser publishes on its LiveKit room.
type DataMessage struct {
	Topic    string
	Reliable bool
	Payload  any
}

type envelope struct {
	Type     string `json:"type"`
	Topic    string `json:"topic,omitempty"`
	Reliable bool   `json:"reliable"`
	Payload  any    `json:"payload,omitempty"`
}

type subscriber struct {
	sessionID string
	conn      *websocket.Conn
	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscriber) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *subscriber) ping() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// Hub tracks browser subscribers per session id.
type Hub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

// NewHub creates a Hub. Unless allowAnyOrigin is set, browsers may only
// subscribe from the page served by this host.
func NewHub(allowAnyOrigin bool) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
		logger: observability.GetLogger().With().Str("component", "relay").Logger(),
		subs:   make(map[string]map[*subscriber]struct{}),
	}
}

// ServeHTTP upgrades GET /events?session_id=... and keeps the subscriber
// registered until the socket closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Relay upgrade failed")
		return
	}

	sub := &subscriber{sessionID: sessionID, conn: conn, done: make(chan struct{})}
	h.add(sub)
	logger := observability.WithSession(h.logger, sessionID)
	logger.Info().Msg("Browser subscribed to data channel relay")

	defer func() {
		h.remove(sub)
		sub.close()
		logger.Info().Msg("Browser relay subscription ended")
	}()

	go h.keepAlive(sub)

	conn.SetReadLimit(64 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// Browser messages are not part of the protocol; read only to
		// observe pongs and close frames.
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("Relay read error")
			}
			return
		}
	}
}

func (h *Hub) keepAlive(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-sub.done:
			return
		case <-ticker.C:
			if err := sub.ping(); err != nil {
				sub.close()
				return
			}
		}
	}
}

// Publish delivers msg to every subscriber of sessionID and returns how many
// received it. Subscribers that fail the write are dropped. With no
// successful delivery the error is an *apperr.UpstreamError wrapping
// ErrNoSubscriber or the last write error.
func (h *Hub) Publish(ctx context.Context, sessionID string, msg DataMessage) (int, error) {
	const op = "publish data message"
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	frame := envelope{Type: "data", Topic: msg.Topic, Reliable: msg.Reliable, Payload: msg.Payload}
	delivered := 0
	var lastErr error
	for _, sub := range h.subscribers(sessionID) {
		if err := sub.write(frame); err != nil {
			lastErr = err
			h.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Dropping relay subscriber after write failure")
			h.remove(sub)
			sub.close()
			continue
		}
		delivered++
	}

	if delivered == 0 {
		if lastErr == nil {
			lastErr = ErrNoSubscriber
		}
		return 0, &apperr.UpstreamError{Op: op, Message: ErrNoSubscriber.Error() + " " + sessionID, Err: lastErr}
	}
	return delivered, nil
}

// Subscribers returns the number of browsers listening for sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// Close tells every subscriber of sessionID that the session ended and
// disconnects them.
func (h *Hub) Close(sessionID string) {
	h.mu.Lock()
	set := h.subs[sessionID]
	delete(h.subs, sessionID)
	h.mu.Unlock()

	for sub := range set {
		_ = sub.write(envelope{Type: "session.closed"})
		sub.close()
		observability.RelayUnsubscribed()
	}
}

// Shutdown disconnects every subscriber.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	for _, id := range ids {
		h.Close(id)
	}
}

func (h *Hub) subscribers(sessionID string) []*subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.subs[sessionID]
	out := make([]*subscriber, 0, len(set))
	for sub := range set {
		out = append(out, sub)
	}
	return out
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	set, ok := h.subs[sub.sessionID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[sub.sessionID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	observability.RelaySubscribed()
}

// remove unregisters sub. It is a no-op when sub is already gone.
func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	set, ok := h.subs[sub.sessionID]
	if ok {
		if _, present := set[sub]; !present {
			ok = false
		} else {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, sub.sessionID)
			}
		}
	}
	h.mu.Unlock()
	if ok {
		observability.RelayUnsubscribed()
	}
}
