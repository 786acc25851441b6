package gateway

import (
	"context"
	"strings"
	"time"
)

// StartTypingTicker shows the typing indicator immediately and refreshes it
// on the given interval until the returned stop func is called. The platform
// drops the indicator a few seconds after the last action, so sustained
// typing needs the refresh.
func StartTypingTicker(ctx context.Context, c *Client, peerID int64, action string, interval time.Duration) func() {
	if ctx == nil {
		ctx = context.Background()
	}
	if c == nil || peerID == 0 {
		return func() {}
	}
	if interval <= 0 {
		interval = 4500 * time.Millisecond
	}
	action = strings.TrimSpace(action)
	if action == "" {
		action = "typing"
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		_ = c.SendChatAction(ctx, peerID, action)
		for {
			select {
			case <-ticker.C:
				_ = c.SendChatAction(ctx, peerID, action)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		select {
		case <-done:
		default:
			close(done)
		}
		ticker.Stop()
	}
}
