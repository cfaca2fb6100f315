package bridge

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/avatar-gateway/internal/apperr"
	"github.com/lexiqai/avatar-gateway/internal/observability"
)

type connState int

const (
	stateConnecting connState = iota
	stateOpen
	stateConnected
	stateClosed
)

// connection is one control WebSocket. ready closes once the provider
// reports connected; failed closes once on the first socket failure.
type connection struct {
	sessionID string
	url       string

	ready  chan struct{}
	failed chan struct{}

	// writeMu serializes whole utterances on the socket.
	writeMu sync.Mutex

	mu    sync.Mutex
	state connState
	conn  *websocket.Conn
	err   error

	readyOnce sync.Once
	failOnce  sync.Once
	closeOnce sync.Once
}

func newConnection(sessionID, url string) *connection {
	return &connection{
		sessionID: sessionID,
		url:       url,
		ready:     make(chan struct{}),
		failed:    make(chan struct{}),
		state:     stateConnecting,
	}
}

func (c *connection) getState() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *connection) socket() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return nil
	}
	return c.conn
}

// opened records a successful dial. It returns false when the connection
// was closed while dialing.
func (c *connection) opened(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return false
	}
	c.conn = conn
	c.state = stateOpen
	observability.ControlConnectionOpened()
	return true
}

// markConnected resolves readiness. It reports whether this call did so.
func (c *connection) markConnected() bool {
	c.mu.Lock()
	if c.state != stateOpen {
		c.mu.Unlock()
		return false
	}
	c.state = stateConnected
	c.mu.Unlock()

	first := false
	c.readyOnce.Do(func() {
		close(c.ready)
		first = true
	})
	return first
}

func (c *connection) fail(err error) {
	c.failOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.failed)
	})
}

func (c *connection) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return &apperr.TransportError{Op: "control channel", Err: errConnectionClosed}
}

// close is idempotent and safe to call from any goroutine.
func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		wasOpen := c.conn != nil
		conn := c.conn
		c.state = stateClosed
		c.mu.Unlock()

		c.fail(&apperr.TransportError{Op: "control channel", Err: errConnectionClosed})

		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		}
		if wasOpen {
			observability.ControlConnectionClosed()
		}
	})
}
