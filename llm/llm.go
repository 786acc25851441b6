package llm

import (
	"context"
	"time"
)

// Chat roles, matching the chat-completions wire values every supported
// provider understands.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the conversation context sent to a provider.
// The account's own messages go out as assistant turns, the peer's as
// user turns.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Usage reports the token spend of one generation, as the provider
// accounted it. Campaign counters aggregate TotalTokens.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Result is one generated reply before parsing.
type Result struct {
	Text     string
	Usage    Usage
	Duration time.Duration
}

// Request carries the full context for one reply: the model override
// (empty keeps the provider default), the ordered conversation, and the
// scenario's sampling parameters (temperature, top_p, max_tokens).
type Request struct {
	Model      string
	Messages   []Message
	Parameters map[string]any
}

// Client generates replies. Implementations live in providers/ and are
// constructed once at startup; workers share the instance.
type Client interface {
	Chat(ctx context.Context, req Request) (Result, error)
}
