package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sony/gobreaker"
	"github.com/zen-systems/taskrelay/pkg/task"
)

// AnthropicClient implements the Client interface for Claude models.
type AnthropicClient struct {
	client  anthropic.Client
	model   string
	breaker *gobreaker.CircuitBreaker
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey, model string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	return &AnthropicClient{
		client:  anthropic.NewClient(),
		model:   model,
		breaker: newBreaker("anthropic"),
	}, nil
}

// Name returns the client identifier.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// Invoke sends a prompt to Claude and returns the response.
func (c *AnthropicClient) Invoke(ctx context.Context, prompt string, t task.Descriptor) (*Result, error) {
	prompt = applyConstraints(prompt, t)
	start := time.Now()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: maxOutputTokens(t, 4096),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
	})
	if err != nil {
		return nil, &Error{Temporary: IsTransient(err), Err: fmt.Errorf("anthropic API error: %w", err)}
	}

	resp := out.(*anthropic.Message)
	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &Result{
		Content:   content,
		LatencyMs: float64(time.Since(start).Milliseconds()),
		Units:     int(resp.Usage.OutputTokens),
	}, nil
}
