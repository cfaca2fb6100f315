// Package bridge streams synthesized speech to the avatar provider over its
// per-session control WebSocket.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/avatar-gateway/internal/apperr"
	"github.com/lexiqai/avatar-gateway/internal/observability"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	defaultReadyTimeout = 8 * time.Second
	defaultChunkSize    = 800000
	defaultEndType      = "agent.speak_end"
	speakType           = "agent.speak"
	stateUpdatedEvent   = "session.state_updated"
	defaultWriteTimeout = 30 * time.Second
)

var errConnectionClosed = errors.New("control channel closed")

// Audio is one synthesized utterance.
type Audio struct {
	Base64     string
	SampleRate int
	Format     string
}

// Options configures a Bridge.
type Options struct {
	ReadyTimeout time.Duration
	ChunkSize    int    // base64 characters per agent.speak frame
	EndType      string // type of the end-of-utterance frame
	IncludeMeta  bool   // add sample_rate_hz and audio_format to every chunk
	Dialer       *websocket.Dialer
}

// Bridge owns at most one control connection per session id.
type Bridge struct {
	opts   Options
	dialer *websocket.Dialer
	logger zerolog.Logger
	now    func() time.Time // event ids; socket deadlines use the wall clock

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	conns   map[string]*connection
	onEnded func(sessionID string)
}

type speakFrame struct {
	Type         string `json:"type"`
	EventID      string `json:"event_id"`
	Audio        string `json:"audio"`
	SampleRateHz int    `json:"sample_rate_hz,omitempty"`
	AudioFormat  string `json:"audio_format,omitempty"`
}

type speakEndFrame struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
}

// New creates a Bridge. Zero options take the provider defaults.
func New(opts Options) *Bridge {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = defaultReadyTimeout
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.EndType == "" {
		opts.EndType = defaultEndType
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			HandshakeTimeout: 2 * opts.ReadyTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  64 * 1024,
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		opts:   opts,
		dialer: dialer,
		logger: observability.GetLogger().With().Str("component", "bridge").Logger(),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[string]*connection),
	}
}

// OnSessionEnded registers fn to run when a control channel reports that
// the provider ended the session.
func (b *Bridge) OnSessionEnded(fn func(sessionID string)) {
	b.mu.Lock()
	b.onEnded = fn
	b.mu.Unlock()
}

// EnsureReady connects the session's control channel if needed and waits
// until it reports connected. If the ready window elapses with the socket
// open, the wait still succeeds.
func (b *Bridge) EnsureReady(ctx context.Context, sessionID, url string) error {
	_, err := b.ensureReady(ctx, sessionID, url)
	return err
}

func (b *Bridge) ensureReady(ctx context.Context, sessionID, url string) (*connection, error) {
	if sessionID == "" {
		return nil, apperr.Validation("session_id is required")
	}
	if url == "" {
		return nil, apperr.Validation("start in CUSTOM mode first: missing transport URL for session %s", sessionID)
	}
	c := b.connectionFor(sessionID, url)
	if err := b.waitReady(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// SendAudio streams one utterance: ceil(len/ChunkSize) agent.speak frames
// followed by a single end frame, all sharing one event id. It returns once
// every frame has been written.
func (b *Bridge) SendAudio(ctx context.Context, sessionID, url string, audio Audio) (string, error) {
	if audio.Base64 == "" {
		return "", apperr.Validation("audio is empty")
	}
	c, err := b.ensureReady(ctx, sessionID, url)
	if err != nil {
		return "", err
	}

	eventID := fmt.Sprintf("%s-%d", sessionID, b.now().UnixMilli())
	chunks := splitChunks(audio.Base64, b.opts.ChunkSize)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for _, chunk := range chunks {
		frame := speakFrame{Type: speakType, EventID: eventID, Audio: chunk}
		if b.opts.IncludeMeta {
			frame.SampleRateHz = audio.SampleRate
			frame.AudioFormat = audio.Format
		}
		if err := b.write(ctx, c, frame); err != nil {
			return eventID, err
		}
		observability.RecordControlFrame(speakType)
	}
	if err := b.write(ctx, c, speakEndFrame{Type: b.opts.EndType, EventID: eventID}); err != nil {
		return eventID, err
	}
	observability.RecordControlFrame(b.opts.EndType)

	b.logger.Debug().
		Str("session_id", sessionID).
		Str("event_id", eventID).
		Int("chunks", len(chunks)).
		Int("audio_chars", len(audio.Base64)).
		Msg("Audio streamed to control channel")
	return eventID, nil
}

// CloseConnection closes and forgets the session's control channel. It is a
// no-op when none exists.
func (b *Bridge) CloseConnection(sessionID string) {
	b.mu.Lock()
	c, ok := b.conns[sessionID]
	delete(b.conns, sessionID)
	b.mu.Unlock()
	if ok {
		c.close()
	}
}

// Close closes every control channel and aborts pending dials.
func (b *Bridge) Close() {
	b.cancel()
	b.mu.Lock()
	conns := make([]*connection, 0, len(b.conns))
	for id, c := range b.conns {
		conns = append(conns, c)
		delete(b.conns, id)
	}
	b.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

// connectionFor returns the registered connection or starts a new one.
func (b *Bridge) connectionFor(sessionID, url string) *connection {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.conns[sessionID]; ok && c.getState() != stateClosed {
		return c
	}
	c := newConnection(sessionID, url)
	b.conns[sessionID] = c
	go b.run(c)
	return c
}

// remove unregisters c unless a newer connection already replaced it.
func (b *Bridge) remove(c *connection) {
	b.mu.Lock()
	if cur, ok := b.conns[c.sessionID]; ok && cur == c {
		delete(b.conns, c.sessionID)
	}
	b.mu.Unlock()
}

func (b *Bridge) run(c *connection) {
	logger := observability.WithSession(b.logger, c.sessionID)

	conn, _, err := b.dialer.DialContext(b.ctx, c.url, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("Control channel dial failed")
		c.fail(&apperr.TransportError{Op: "control channel dial", Err: err})
		b.remove(c)
		c.close()
		return
	}
	if !c.opened(conn) {
		_ = conn.Close()
		return
	}
	logger.Info().Msg("Control channel open")

	defer func() {
		b.remove(c)
		c.close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && c.getState() != stateClosed {
				logger.Warn().Err(err).Msg("Control channel read error")
			}
			c.fail(&apperr.TransportError{Op: "control channel read", Err: err})
			return
		}
		b.handleMessage(c, msg, logger)
	}
}

func (b *Bridge) handleMessage(c *connection, msg []byte, logger zerolog.Logger) {
	if !gjson.ValidBytes(msg) {
		return
	}
	event := firstString(msg, "type", "event_type")
	if event != stateUpdatedEvent {
		return
	}
	state := firstString(msg, "state", "data.state")
	switch state {
	case "connected":
		if c.markConnected() {
			logger.Info().Msg("Control channel connected")
		}
	case "closed", "disconnected", "ended", "stopped":
		logger.Info().Str("state", state).Msg("Provider ended session")
		b.mu.Lock()
		hook := b.onEnded
		b.mu.Unlock()
		if hook != nil {
			go hook(c.sessionID)
		}
	}
}

func (b *Bridge) waitReady(ctx context.Context, c *connection) error {
	if c.getState() == stateConnected {
		return nil
	}
	start := time.Now()
	timer := time.NewTimer(b.opts.ReadyTimeout)
	defer timer.Stop()

	select {
	case <-c.ready:
		observability.RecordReadyWait("connected", time.Since(start))
		return nil
	case <-c.failed:
		observability.RecordReadyWait("error", time.Since(start))
		return c.failure()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		switch c.getState() {
		case stateOpen, stateConnected:
			observability.RecordReadyWait("soft", time.Since(start))
			b.logger.Warn().
				Str("session_id", c.sessionID).
				Dur("waited", b.opts.ReadyTimeout).
				Msg("Control channel open but not yet connected; sending anyway")
			return nil
		}
		observability.RecordReadyWait("timeout", time.Since(start))
		return &apperr.ConnectTimeout{SessionID: c.sessionID, After: b.opts.ReadyTimeout}
	}
}

func (b *Bridge) write(ctx context.Context, c *connection, frame any) error {
	conn := c.socket()
	if conn == nil {
		return &apperr.TransportError{Op: "control channel write", Err: errConnectionClosed}
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(frame); err != nil {
		b.remove(c)
		c.close()
		return &apperr.TransportError{Op: "control channel write", Err: err}
	}
	return nil
}

// splitChunks cuts s into consecutive pieces of at most size characters.
func splitChunks(s string, size int) []string {
	chunks := make([]string, 0, (len(s)+size-1)/size)
	for start := 0; start < len(s); start += size {
		end := start + size
		if end > len(s) {
			end = len(s)
		}
		chunks = append(chunks, s[start:end])
	}
	return chunks
}

func firstString(msg []byte, paths ...string) string {
	for _, p := range paths {
		if v := gjson.GetBytes(msg, p); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}
