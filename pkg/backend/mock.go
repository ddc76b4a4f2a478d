package backend

import (
	"context"
	"fmt"

	"github.com/zen-systems/taskrelay/pkg/task"
)

// MockClient returns deterministic responses for local runs and tests.
type MockClient struct {
	name            string
	responses       map[string]string
	defaultResponse string
	err             error
	latencyMs       float64
}

// NewMockClient creates a mock client with a default response.
func NewMockClient(name string) *MockClient {
	return &MockClient{
		name:            name,
		responses:       make(map[string]string),
		defaultResponse: "mock response:",
		latencyMs:       5,
	}
}

// WithResponse registers a canned response for an exact prompt.
func (c *MockClient) WithResponse(prompt, response string) *MockClient {
	c.responses[prompt] = response
	return c
}

// WithLatency sets the latency the mock reports.
func (c *MockClient) WithLatency(ms float64) *MockClient {
	c.latencyMs = ms
	return c
}

// FailWith makes every Invoke return the given error.
func (c *MockClient) FailWith(err error) *MockClient {
	c.err = err
	return c
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return c.name
}

// Invoke returns a deterministic result for the prompt.
func (c *MockClient) Invoke(_ context.Context, prompt string, _ task.Descriptor) (*Result, error) {
	if c.err != nil {
		return nil, c.err
	}
	if response, ok := c.responses[prompt]; ok {
		return &Result{Content: response, LatencyMs: c.latencyMs}, nil
	}
	content := fmt.Sprintf("%s\n%s", c.defaultResponse, prompt)
	return &Result{Content: content, LatencyMs: c.latencyMs}, nil
}
