package gateway

import (
	"context"
	"time"
)

// Transport adapts the client for the conversational engine: typing is
// sustained for the whole composing window, then the message goes out.
type Transport struct {
	client *Client
	action string
}

func NewTransport(client *Client) *Transport {
	return &Transport{client: client, action: "typing"}
}

func (t *Transport) MarkRead(ctx context.Context, peerID, maxMessageID int64) error {
	return t.client.MarkRead(ctx, peerID, maxMessageID)
}

// ShowTyping keeps the indicator alive for d, refreshing it as the
// platform lets it lapse.
func (t *Transport) ShowTyping(ctx context.Context, peerID int64, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	stop := StartTypingTicker(ctx, t.client, peerID, t.action, 0)
	defer stop()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (t *Transport) Send(ctx context.Context, peerID int64, text string) (int64, error) {
	return t.client.SendMessage(ctx, peerID, text)
}
