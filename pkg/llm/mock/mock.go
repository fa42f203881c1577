// Package mock provides a configurable mock LLM provider for testing
// stage executors and pipeline runs without API keys. It supports
// sequential responses, error injection, latency simulation, and call
// recording, and is safe for concurrent use.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AIObjectives/t3c-pipeline/pkg/llm"
)

// Provider is a configurable mock implementation of llm.Provider.
type Provider struct {
	mu        sync.Mutex
	responses []*llm.Response
	fallback  *llm.Response
	history   []llm.Params
	err       error
	failCount int
	calls     int
	delay     time.Duration
}

// Option configures the mock provider.
type Option func(*Provider)

// WithResponses queues a sequence of pre-programmed responses.
func WithResponses(responses ...*llm.Response) Option {
	return func(p *Provider) { p.responses = append(p.responses, responses...) }
}

// WithJSON queues a JSON body response with a small fixed usage envelope.
func WithJSON(body string) Option {
	return WithResponses(JSONResponse(body))
}

// WithFallback sets the response returned after the sequence is exhausted.
func WithFallback(response *llm.Response) Option {
	return func(p *Provider) { p.fallback = response }
}

// WithError injects a constant error for every call.
func WithError(err error) Option {
	return func(p *Provider) { p.err = err }
}

// WithFailCount limits error injection to the first n calls.
func WithFailCount(n int) Option {
	return func(p *Provider) { p.failCount = n }
}

// WithDelay simulates LLM latency; the delay respects context cancellation.
func WithDelay(d time.Duration) Option {
	return func(p *Provider) { p.delay = d }
}

// New creates a mock Provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// JSONResponse builds a response with the given body and a fixed
// usage envelope (10 prompt + 5 completion tokens).
func JSONResponse(body string) *llm.Response {
	return &llm.Response{
		Content: body,
		Usage:   llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		Model:   "mock-model",
	}
}

// Complete implements llm.Provider. It records the call, applies any
// configured delay and error injection, then returns the next response
// in the sequence or the fallback.
func (p *Provider) Complete(ctx context.Context, params llm.Params) (*llm.Response, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.history = append(p.history, params)
	delay := p.delay
	err := p.err
	failCount := p.failCount
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil && (failCount == 0 || call <= failCount) {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.responses) > 0 {
		resp := p.responses[0]
		p.responses = p.responses[1:]
		return resp, nil
	}
	if p.fallback != nil {
		return p.fallback, nil
	}
	return nil, errors.New("mock: no responses configured")
}

// Calls returns the number of Complete invocations so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// History returns a copy of the recorded call parameters.
func (p *Provider) History() []llm.Params {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.Params, len(p.history))
	copy(out, p.history)
	return out
}

// Factory returns an llm.Factory that always yields this provider.
func (p *Provider) Factory() llm.Factory {
	return func(model, apiKey string) llm.Provider { return p }
}
