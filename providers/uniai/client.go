package uniai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/knapabuse2-cmd/outreach/llm"
	uniaiapi "github.com/quailyquaily/uniai"
)

type Config struct {
	Provider string
	Endpoint string
	APIKey   string
	Model    string

	RequestTimeout time.Duration
}

// Client adapts the uniai multi-provider library to the llm.Client boundary.
type Client struct {
	provider       string
	requestTimeout time.Duration
	client         *uniaiapi.Client
}

func New(cfg Config) *Client {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))

	uCfg := uniaiapi.Config{
		Provider:        provider,
		OpenAIAPIKey:    strings.TrimSpace(cfg.APIKey),
		OpenAIAPIBase:   normalizeOpenAIBase(cfg.Endpoint),
		OpenAIModel:     strings.TrimSpace(cfg.Model),
		AnthropicAPIKey: strings.TrimSpace(cfg.APIKey),
		AnthropicModel:  strings.TrimSpace(cfg.Model),
		GeminiAPIKey:    strings.TrimSpace(cfg.APIKey),
		GeminiAPIBase:   strings.TrimSpace(cfg.Endpoint),
	}

	return &Client{
		provider:       provider,
		requestTimeout: cfg.RequestTimeout,
		client:         uniaiapi.New(uCfg),
	}
}

// normalizeOpenAIBase appends the /v1 path segment OpenAI-compatible
// endpoints expect when the configured base lacks it.
func normalizeOpenAIBase(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return ""
	}
	endpoint = strings.TrimRight(endpoint, "/")
	if strings.HasSuffix(endpoint, "/v1") || strings.Contains(endpoint, "/v1/") {
		return endpoint
	}
	return endpoint + "/v1"
}

func (c *Client) Chat(ctx context.Context, req llm.Request) (llm.Result, error) {
	start := time.Now()
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	resp, err := c.client.Chat(ctx, buildChatOptions(req, c.provider)...)
	if err != nil {
		return llm.Result{}, err
	}
	if resp == nil {
		return llm.Result{}, fmt.Errorf("uniai: empty response")
	}

	return llm.Result{
		Text: resp.Text,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		Duration: time.Since(start),
	}, nil
}

func buildChatOptions(req llm.Request, provider string) []uniaiapi.ChatOption {
	msgs := make([]uniaiapi.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = uniaiapi.Message{Role: m.Role, Content: m.Content}
	}

	opts := []uniaiapi.ChatOption{uniaiapi.WithReplaceMessages(msgs...)}
	if provider != "" {
		opts = append(opts, uniaiapi.WithProvider(provider))
	}
	if strings.TrimSpace(req.Model) != "" {
		opts = append(opts, uniaiapi.WithModel(strings.TrimSpace(req.Model)))
	}

	appliedTemperature := false
	if req.Parameters != nil {
		if v, ok := floatFromAny(req.Parameters["temperature"]); ok {
			opts = append(opts, uniaiapi.WithTemperature(v))
			appliedTemperature = true
		}
		if v, ok := floatFromAny(req.Parameters["top_p"]); ok {
			opts = append(opts, uniaiapi.WithTopP(v))
		}
		if v, ok := intFromAny(req.Parameters["max_tokens"]); ok && v > 0 {
			opts = append(opts, uniaiapi.WithMaxTokens(v))
		}
	}
	if !appliedTemperature {
		opts = append(opts, uniaiapi.WithTemperature(0))
	}

	return opts
}

func floatFromAny(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func intFromAny(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
