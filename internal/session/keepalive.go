package session

import (
	"context"
	"time"

	"github.com/lexiqai/avatar-gateway/internal/observability"
)

// scheduleKeepAlive starts the session's heartbeat loop, replacing any
// existing one.
func (c *Coordinator) scheduleKeepAlive(sessionID string) {
	interval := c.opts.KeepAliveInterval
	if interval <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	if prev, ok := c.keepalives[sessionID]; ok {
		prev()
	}
	c.keepalives[sessionID] = cancel
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		c.keepAliveLoop(ctx, sessionID, interval)
	}()
}

func (c *Coordinator) keepAliveLoop(ctx context.Context, sessionID string, interval time.Duration) {
	logger := observability.WithSession(c.logger, sessionID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.KeepAlive(ctx, sessionID); err != nil {
				if ctx.Err() != nil {
					return
				}
				// A single failure does not end the schedule; a gone
				// session was evicted by KeepAlive and cancelled ctx.
				logger.Warn().Err(err).Msg("Scheduled keepalive failed")
				continue
			}
			logger.Debug().Msg("Keepalive sent")
		}
	}
}

// cancelKeepAlive stops the session's heartbeat loop, if any.
func (c *Coordinator) cancelKeepAlive(sessionID string) {
	c.mu.Lock()
	cancel, ok := c.keepalives[sessionID]
	delete(c.keepalives, sessionID)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}
