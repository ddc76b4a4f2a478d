// Package engine drives a single task to completion: it asks the router for
// a candidate ordering, invokes backends in turn, and fails over on error
// until one succeeds or the attempt budget runs out.
package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/zen-systems/taskrelay/pkg/backend"
	"github.com/zen-systems/taskrelay/pkg/metrics"
	"github.com/zen-systems/taskrelay/pkg/registry"
	"github.com/zen-systems/taskrelay/pkg/router"
	"github.com/zen-systems/taskrelay/pkg/task"
	"go.uber.org/zap"
)

// maxAttempts bounds failover within one task so a fully-down backend set
// cannot produce a retry storm.
const maxAttempts = 3

// DefaultInvokeTimeout caps one backend invocation when the caller does not
// configure a tighter one.
const DefaultInvokeTimeout = 60 * time.Second

// Metadata carries per-outcome performance and cost figures.
type Metadata struct {
	LatencyMs      float64
	EstimatedUnits int
	EstimatedCost  float64
}

// Outcome is the result of one successfully executed task.
type Outcome struct {
	ID        string
	Content   string
	BackendID string
	Metadata  Metadata
}

// AllBackendsFailedError reports that every candidate backend was tried for
// one task. LastErr is the most recent backend error, kept for diagnostics.
type AllBackendsFailedError struct {
	LastErr error
}

func (e *AllBackendsFailedError) Error() string {
	if e.LastErr == nil {
		return "all backends failed: no backend available"
	}
	return "all backends failed: " + e.LastErr.Error()
}

func (e *AllBackendsFailedError) Unwrap() error {
	return e.LastErr
}

// Engine executes tasks against the registered backends.
type Engine struct {
	registry      *registry.Registry
	clients       map[string]backend.Client
	metrics       *metrics.Aggregator
	logger        *zap.Logger
	invokeTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithInvokeTimeout sets the per-invocation timeout applied to every
// backend call.
func WithInvokeTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.invokeTimeout = d
		}
	}
}

// New creates an engine over the given registry, one client per registered
// backend id, and a metrics aggregator.
func New(reg *registry.Registry, clients map[string]backend.Client, agg *metrics.Aggregator, opts ...Option) *Engine {
	e := &Engine{
		registry:      reg,
		clients:       clients,
		metrics:       agg,
		logger:        zap.NewNop(),
		invokeTimeout: DefaultInvokeTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one task to completion or exhaustion. Backend errors never
// escape: each one becomes a health update and a failover to the next
// candidate. The only error a caller sees is *AllBackendsFailedError (or a
// task validation failure before any attempt).
func (e *Engine) Execute(ctx context.Context, prompt string, t task.Descriptor) (*Outcome, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	e.metrics.RecordAttemptStart()

	attempted := make(map[string]bool)
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		id, ok := e.nextCandidate(t, attempted)
		if !ok {
			break
		}
		attempted[id] = true

		client, exists := e.clients[id]
		if !exists {
			// Descriptor without a client is a wiring bug; treat it like a
			// failed attempt so the rest of the fleet still serves.
			lastErr = fmt.Errorf("no client registered for backend %q", id)
			e.registry.MarkFailure(id)
			e.metrics.RecordAttemptFailure(id)
			e.logger.Error("backend has no client", zap.String("backend", id))
			continue
		}

		result, latencyMs, err := e.invoke(ctx, client, prompt, t)
		if err != nil {
			lastErr = err
			e.registry.MarkFailure(id)
			e.metrics.RecordAttemptFailure(id)
			e.logger.Warn("backend attempt failed",
				zap.String("backend", id),
				zap.Int("attempt", attempt+1),
				zap.Bool("transient", backend.IsTransient(err)),
				zap.Error(err),
			)
			continue
		}

		e.registry.MarkSuccess(id, latencyMs)
		units, cost := e.estimate(id, result)
		e.metrics.RecordSuccess(id, latencyMs, cost)
		e.logger.Debug("task served",
			zap.String("backend", id),
			zap.Float64("latency_ms", latencyMs),
			zap.Float64("estimated_cost", cost),
		)

		return &Outcome{
			ID:        uuid.NewString(),
			Content:   result.Content,
			BackendID: id,
			Metadata: Metadata{
				LatencyMs:      latencyMs,
				EstimatedUnits: units,
				EstimatedCost:  cost,
			},
		}, nil
	}

	e.metrics.RecordFailure()
	e.logger.Warn("task exhausted all candidates", zap.Int("attempted", len(attempted)), zap.Error(lastErr))
	return nil, &AllBackendsFailedError{LastErr: lastErr}
}

// nextCandidate routes against a fresh snapshot and skips ids already tried
// in this call.
func (e *Engine) nextCandidate(t task.Descriptor, attempted map[string]bool) (string, bool) {
	for _, id := range router.Candidates(e.registry.Snapshot(), t) {
		if !attempted[id] {
			return id, true
		}
	}
	return "", false
}

// invoke runs one backend call under the per-invocation timeout. A timeout
// is indistinguishable from any other backend failure to the failover loop.
func (e *Engine) invoke(ctx context.Context, client backend.Client, prompt string, t task.Descriptor) (*backend.Result, float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.invokeTimeout)
	defer cancel()

	start := time.Now()
	result, err := client.Invoke(callCtx, prompt, t)
	if err != nil {
		return nil, 0, err
	}

	latencyMs := result.LatencyMs
	if latencyMs <= 0 {
		latencyMs = float64(time.Since(start).Milliseconds())
	}
	return result, latencyMs, nil
}

// estimate derives output units and cost for a result. When the client
// reports no usage the unit count is approximated as ceil(len(content)/4);
// the figure is advisory, never billing-grade.
func (e *Engine) estimate(id string, result *backend.Result) (int, float64) {
	units := result.Units
	if units <= 0 {
		units = int(math.Ceil(float64(len(result.Content)) / 4))
	}

	costPerUnit := 0.0
	if d, ok := e.registry.Get(id); ok {
		costPerUnit = d.CostPerUnit
	}
	return units, float64(units) * costPerUnit
}
