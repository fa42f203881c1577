package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIProvider implements Provider using the official OpenAI Go SDK.
// It also serves OpenAI-compatible endpoints via WithOpenAIBaseURL.
type OpenAIProvider struct {
	client openai.Client
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	baseURL    string
	httpClient *http.Client
}

// WithOpenAIBaseURL sets a custom API base URL (Azure, local models, etc.).
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) { c.baseURL = url }
}

// WithOpenAIHTTPClient sets a custom HTTP client.
func WithOpenAIHTTPClient(client *http.Client) OpenAIOption {
	return func(c *openAIConfig) { c.httpClient = client }
}

// NewOpenAIProvider creates an OpenAI provider with the given API key.
func NewOpenAIProvider(apiKey string, opts ...OpenAIOption) *OpenAIProvider {
	cfg := &openAIConfig{}
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

	return &OpenAIProvider{client: openai.NewClient(clientOpts...)}
}

// Complete sends a chat completion request to the OpenAI API.
func (p *OpenAIProvider) Complete(ctx context.Context, params Params) (*Response, error) {
	req := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(params.Model),
		Messages: toOpenAIMessages(params.Messages),
	}
	if params.Temperature != nil {
		req.Temperature = openai.Float(*params.Temperature)
	}
	if params.MaxTokens > 0 {
		req.MaxCompletionTokens = openai.Int(int64(params.MaxTokens))
	}
	if params.JSONResponse {
		req.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	completion, err := p.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, &Error{
			Code:    ErrCodeInvalidResponse,
			Message: "openai: response contains no choices",
		}
	}

	choice := completion.Choices[0]
	if choice.FinishReason == "content_filter" {
		return nil, &Error{
			Code:    ErrCodeContentPolicy,
			Message: "openai: completion stopped by content filter",
		}
	}

	return &Response{
		Content: choice.Message.Content,
		Usage: Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
		Model: completion.Model,
	}, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	return msgs
}

func mapOpenAIError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apierr *openai.Error
	if errors.As(err, &apierr) {
		e := &Error{
			Code:    classifyStatus(apierr.StatusCode),
			Message: fmt.Sprintf("openai: %s", apierr.Message),
			Err:     err,
		}
		if e.Code == ErrCodeRateLimited {
			e.RetryAfter = retryAfterHint(apierr.Response)
		}
		// The API reports policy violations as 400s with a dedicated code.
		if apierr.Code == "content_policy_violation" || apierr.Code == "content_filter" {
			e.Code = ErrCodeContentPolicy
		}
		return e
	}

	// No HTTP response at all: connection refused, DNS, TLS.
	return &Error{
		Code:    ErrCodeUnavailable,
		Message: fmt.Sprintf("openai: %v", err),
		Err:     err,
	}
}

// retryAfterHint extracts a Retry-After duration from a provider response,
// if present.
func retryAfterHint(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
