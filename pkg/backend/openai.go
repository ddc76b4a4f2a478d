package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/sony/gobreaker"
	"github.com/zen-systems/taskrelay/pkg/task"
)

// OpenAIClient implements the Client interface for OpenAI models.
type OpenAIClient struct {
	client  openai.Client
	model   string
	breaker *gobreaker.CircuitBreaker
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if model == "" {
		model = "gpt-5.2-thinking"
	}

	return &OpenAIClient{
		client:  openai.NewClient(),
		model:   model,
		breaker: newBreaker("openai"),
	}, nil
}

// Name returns the client identifier.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Invoke sends a prompt to OpenAI and returns the response.
func (c *OpenAIClient) Invoke(ctx context.Context, prompt string, t task.Descriptor) (*Result, error) {
	prompt = applyConstraints(prompt, t)
	start := time.Now()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: openai.ChatModel(c.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
			MaxCompletionTokens: openai.Int(maxOutputTokens(t, 4096)),
		})
	})
	if err != nil {
		return nil, &Error{Temporary: IsTransient(err), Err: fmt.Errorf("openai API error: %w", err)}
	}

	resp := out.(*openai.ChatCompletion)
	if len(resp.Choices) == 0 {
		return nil, &Error{Err: fmt.Errorf("openai returned no choices")}
	}

	return &Result{
		Content:   resp.Choices[0].Message.Content,
		LatencyMs: float64(time.Since(start).Milliseconds()),
		Units:     int(resp.Usage.CompletionTokens),
	}, nil
}
