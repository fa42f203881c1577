package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// defaultAnthropicMaxTokens bounds responses when the caller does not
// set a limit; the Messages API requires an explicit max_tokens.
const defaultAnthropicMaxTokens = 4096

// AnthropicProvider implements Provider using the official Anthropic Go SDK.
type AnthropicProvider struct {
	client anthropic.Client
}

// AnthropicOption configures an AnthropicProvider.
type AnthropicOption func(*anthropicConfig)

type anthropicConfig struct {
	baseURL    string
	httpClient *http.Client
}

// WithAnthropicBaseURL sets a custom API base URL.
func WithAnthropicBaseURL(url string) AnthropicOption {
	return func(c *anthropicConfig) { c.baseURL = url }
}

// WithAnthropicHTTPClient sets a custom HTTP client.
func WithAnthropicHTTPClient(client *http.Client) AnthropicOption {
	return func(c *anthropicConfig) { c.httpClient = client }
}

// NewAnthropicProvider creates an Anthropic provider with the given API key.
func NewAnthropicProvider(apiKey string, opts ...AnthropicOption) *AnthropicProvider {
	cfg := &anthropicConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.httpClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(cfg.httpClient))
	}

	return &AnthropicProvider{client: anthropic.NewClient(clientOpts...)}
}

// Complete sends a message request to the Anthropic Messages API.
// The Messages API has no response_format parameter; JSONResponse is
// enforced through an appended system instruction.
func (p *AnthropicProvider) Complete(ctx context.Context, params Params) (*Response, error) {
	maxTokens := int64(params.MaxTokens)
	if maxTokens == 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	var system []anthropic.TextBlockParam
	var msgs []anthropic.MessageParam
	for _, m := range params.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if params.JSONResponse {
		system = append(system, anthropic.TextBlockParam{
			Text: "Respond with a single valid JSON object and nothing else.",
		})
	}

	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(params.Model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if len(system) > 0 {
		req.System = system
	}
	if params.Temperature != nil {
		req.Temperature = anthropic.Float(*params.Temperature)
	}

	message, err := p.client.Messages.New(ctx, req)
	if err != nil {
		return nil, mapAnthropicError(err)
	}

	var content string
	for _, block := range message.Content {
		if block.Type == "text" {
			content += block.AsText().Text
		}
	}
	if message.StopReason == "refusal" {
		return nil, &Error{
			Code:    ErrCodeContentPolicy,
			Message: "anthropic: model refused the request",
		}
	}

	return &Response{
		Content: content,
		Usage: Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
		Model: string(message.Model),
	}, nil
}

func mapAnthropicError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		e := &Error{
			Code:    classifyStatus(apierr.StatusCode),
			Message: fmt.Sprintf("anthropic: %v", apierr.Error()),
			Err:     err,
		}
		if e.Code == ErrCodeRateLimited {
			e.RetryAfter = retryAfterHint(apierr.Response)
		}
		return e
	}

	return &Error{
		Code:    ErrCodeUnavailable,
		Message: fmt.Sprintf("anthropic: %v", err),
		Err:     err,
	}
}
