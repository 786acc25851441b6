package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/knapabuse2-cmd/outreach/internal/textnorm"
)

// Client talks to the platform gateway for one account session: HTTP for
// actions, a websocket stream for updates.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

func New(httpClient *http.Client, baseURL, token string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimSpace(strings.TrimRight(baseURL, "/"))
	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		token:   strings.TrimSpace(token),
	}
}

type envelope struct {
	OK         bool            `json:"ok"`
	Error      string          `json:"error,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	RetryAfter int             `json:"retry_after,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

func (c *Client) Me(ctx context.Context) (*User, error) {
	raw, err := c.postJSON(ctx, "/account.me", nil)
	if err != nil {
		return nil, err
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ResolveUsername looks up the peer behind a public username. Targets
// imported by username go through this once before first contact.
func (c *Client) ResolveUsername(ctx context.Context, username string) (*User, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	raw, err := c.postJSON(ctx, "/contacts.resolve", map[string]any{"username": username})
	if err != nil {
		return nil, err
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, err
	}
	if u.ID == 0 {
		return nil, fmt.Errorf("gateway resolved %q to no peer", username)
	}
	return &u, nil
}

// SendMessage delivers one plain-text message and returns its platform id.
func (c *Client) SendMessage(ctx context.Context, peerID int64, text string) (int64, error) {
	text = strings.TrimSpace(text)
	if peerID == 0 {
		return 0, fmt.Errorf("peer_id is required")
	}
	if text == "" {
		return 0, fmt.Errorf("text is required")
	}
	raw, err := c.postJSON(ctx, "/messages.send", map[string]any{
		"peer_id": peerID,
		"text":    text,
	})
	if err != nil {
		return 0, err
	}
	var out sentMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, err
	}
	return out.MessageID, nil
}

// SendChatAction shows a transient status to the peer ("typing" by default).
func (c *Client) SendChatAction(ctx context.Context, peerID int64, action string) error {
	action = strings.TrimSpace(action)
	if action == "" {
		action = "typing"
	}
	_, err := c.postJSON(ctx, "/messages.setTyping", map[string]any{
		"peer_id": peerID,
		"action":  action,
	})
	return err
}

// MarkRead acknowledges the peer's messages up to maxMessageID.
func (c *Client) MarkRead(ctx context.Context, peerID int64, maxMessageID int64) error {
	_, err := c.postJSON(ctx, "/messages.readHistory", map[string]any{
		"peer_id": peerID,
		"max_id":  maxMessageID,
	})
	return err
}

// RequestLoginCode starts the login flow for a phone number.
func (c *Client) RequestLoginCode(ctx context.Context, phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return fmt.Errorf("phone is required")
	}
	_, err := c.postJSON(ctx, "/auth.sendCode", map[string]any{"phone": phone})
	return err
}

// SubmitLoginCode completes the login flow with the delivered code and
// returns the authorized session token.
func (c *Client) SubmitLoginCode(ctx context.Context, phone, code string) (string, error) {
	phone = strings.TrimSpace(phone)
	code = strings.TrimSpace(code)
	if phone == "" || code == "" {
		return "", fmt.Errorf("phone and code are required")
	}
	raw, err := c.postJSON(ctx, "/auth.signIn", map[string]any{
		"phone": phone,
		"code":  code,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		SessionToken string `json:"session_token"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionToken) == "" {
		return "", fmt.Errorf("gateway returned empty session token")
	}
	return out.SessionToken, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	if c == nil || c.http == nil {
		return nil, fmt.Errorf("gateway client is not initialized")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("gateway base url is required")
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}

	var out envelope
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !out.OK {
		apiErr := &APIError{
			Status:  resp.StatusCode,
			Code:    strings.TrimSpace(out.ErrorCode),
			Message: strings.TrimSpace(out.Error),
		}
		if out.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(out.RetryAfter) * time.Second
		}
		if apiErr.Code == "" && apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return nil, apiErr
	}

	return out.Result, nil
}

// normalizeText flattens markup the platform may embed in message content.
func normalizeText(s string) string {
	return textnorm.Flatten(s)
}
