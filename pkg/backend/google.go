package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/zen-systems/taskrelay/pkg/task"
	"google.golang.org/genai"
)

// GoogleClient implements the Client interface for Gemini models.
type GoogleClient struct {
	client  *genai.Client
	model   string
	breaker *gobreaker.CircuitBreaker
}

// NewGoogleClient creates a new Google Gemini client.
func NewGoogleClient(apiKey, model string) (*GoogleClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}
	if model == "" {
		model = "gemini-2.0-pro"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	return &GoogleClient{
		client:  client,
		model:   model,
		breaker: newBreaker("google"),
	}, nil
}

// Name returns the client identifier.
func (c *GoogleClient) Name() string {
	return "google"
}

// Invoke sends a prompt to Gemini and returns the response.
func (c *GoogleClient) Invoke(ctx context.Context, prompt string, t task.Descriptor) (*Result, error) {
	prompt = applyConstraints(prompt, t)
	start := time.Now()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
	})
	if err != nil {
		return nil, &Error{Temporary: IsTransient(err), Err: fmt.Errorf("google API error: %w", err)}
	}

	resp := out.(*genai.GenerateContentResponse)
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, &Error{Err: fmt.Errorf("google returned no candidates")}
	}

	var content string
	if resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				content += part.Text
			}
		}
	}

	var units int
	if resp.UsageMetadata != nil {
		units = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return &Result{
		Content:   content,
		LatencyMs: float64(time.Since(start).Milliseconds()),
		Units:     units,
	}, nil
}
