package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamReadLimit    = 1 << 20
	streamPongWait     = 60 * time.Second
	streamPingInterval = 25 * time.Second
)

// Update is one event pushed by the gateway stream.
type Update struct {
	Type      string `json:"type"`
	PeerID    int64  `json:"peer_id"`
	MessageID int64  `json:"message_id"`
	Username  string `json:"username,omitempty"`
	Text      string `json:"text,omitempty"`
	Date      int64  `json:"date"`
}

// Stream is one live websocket connection delivering updates for the
// account session. Closing the stream (or its context) ends the feed; the
// owner reconnects by opening a new one.
type Stream struct {
	conn    *websocket.Conn
	updates chan Update
	done    chan struct{}
}

type streamOpenResult struct {
	URL string `json:"url"`
}

// OpenStream asks the gateway for a one-time socket URL and connects to it.
func (c *Client) OpenStream(ctx context.Context) (*Stream, error) {
	raw, err := c.postJSON(ctx, "/stream.open", nil)
	if err != nil {
		return nil, err
	}
	var out streamOpenResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	url := strings.TrimSpace(out.URL)
	if url == "" {
		return nil, fmt.Errorf("gateway stream.open returned empty url")
	}

	dialer := *websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	s := &Stream{
		conn:    conn,
		updates: make(chan Update, 16),
		done:    make(chan struct{}),
	}
	go s.readLoop(ctx)
	go s.pingLoop(ctx)
	return s, nil
}

// Updates yields events until the connection drops; the channel closes when
// the feed ends.
func (s *Stream) Updates() <-chan Update {
	return s.updates
}

func (s *Stream) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return s.conn.Close()
}

func (s *Stream) readLoop(ctx context.Context) {
	defer close(s.updates)
	defer s.conn.Close()

	s.conn.SetReadLimit(streamReadLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var u Update
		if err := json.Unmarshal(raw, &u); err != nil {
			continue
		}
		if u.Type != "message" {
			continue
		}
		u.Text = normalizeText(u.Text)

		select {
		case s.updates <- u:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Stream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
