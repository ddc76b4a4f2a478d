package backend

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"github.com/zen-systems/taskrelay/pkg/task"
)

// Client is the boundary to one remote inference backend. The orchestration
// layer treats a client as an opaque capability: it must return, fail, or
// time out in finite time.
type Client interface {
	// Invoke sends a prompt with the task constraints and returns the result.
	Invoke(ctx context.Context, prompt string, t task.Descriptor) (*Result, error)

	// Name returns the client's identifier.
	Name() string
}

// Result is one successful backend response.
type Result struct {
	Content   string
	LatencyMs float64
	Units     int // backend-reported output units, 0 when unknown
}

// newBreaker wraps a vendor client's network calls in a circuit breaker so a
// hard-down vendor is rejected locally instead of burning a timeout per call.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
	})
}

// citationInstruction is appended to prompts for tasks that require citations.
const citationInstruction = "\n\nCite the source for every factual claim in your answer."

func applyConstraints(prompt string, t task.Descriptor) string {
	if t.RequiresCitations {
		return prompt + citationInstruction
	}
	return prompt
}

func maxOutputTokens(t task.Descriptor, fallback int64) int64 {
	if t.MaxOutputUnits > 0 {
		return int64(t.MaxOutputUnits)
	}
	return fallback
}
