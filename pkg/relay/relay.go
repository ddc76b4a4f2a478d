// Package relay composes the registry, execution engine, batch scheduler and
// metrics aggregator into one explicitly constructed service. Whatever owns
// the application builds a Service and passes it around; there is no ambient
// process-wide instance.
package relay

import (
	"context"
	"time"

	"github.com/zen-systems/taskrelay/pkg/backend"
	"github.com/zen-systems/taskrelay/pkg/batch"
	"github.com/zen-systems/taskrelay/pkg/engine"
	"github.com/zen-systems/taskrelay/pkg/metrics"
	"github.com/zen-systems/taskrelay/pkg/registry"
	"github.com/zen-systems/taskrelay/pkg/task"
	"go.uber.org/zap"
)

// Service is the task submission surface: single-task execution, batch
// execution, and a metrics view.
type Service struct {
	registry  *registry.Registry
	engine    *engine.Engine
	scheduler *batch.Scheduler
	metrics   *metrics.Aggregator
}

// Option configures a Service.
type Option func(*options)

type options struct {
	logger        *zap.Logger
	invokeTimeout time.Duration
}

// WithLogger sets the logger shared by the engine and scheduler.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithInvokeTimeout caps each backend invocation.
func WithInvokeTimeout(d time.Duration) Option {
	return func(o *options) {
		o.invokeTimeout = d
	}
}

// New builds a service over an already-populated registry and one client per
// registered backend id. An empty registry is a fatal configuration error.
func New(reg *registry.Registry, clients map[string]backend.Client, opts ...Option) (*Service, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	o := &options{
		logger:        zap.NewNop(),
		invokeTimeout: engine.DefaultInvokeTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	agg := metrics.NewAggregator()
	eng := engine.New(reg, clients, agg,
		engine.WithLogger(o.logger),
		engine.WithInvokeTimeout(o.invokeTimeout),
	)
	sched := batch.NewScheduler(eng, reg, batch.WithLogger(o.logger))

	return &Service{
		registry:  reg,
		engine:    eng,
		scheduler: sched,
		metrics:   agg,
	}, nil
}

// ExecuteTask runs one task to completion or exhaustion.
func (s *Service) ExecuteTask(ctx context.Context, prompt string, t task.Descriptor) (*engine.Outcome, error) {
	return s.engine.Execute(ctx, prompt, t)
}

// RunBatch runs every item with the given concurrency ceiling, one result
// slot per item in input order.
func (s *Service) RunBatch(ctx context.Context, items []batch.Item, concurrencyLimit int) ([]batch.Result, error) {
	return s.scheduler.Run(ctx, items, concurrencyLimit)
}

// Metrics returns the current global statistics.
func (s *Service) Metrics() metrics.Snapshot {
	return s.metrics.Snapshot()
}

// Backends returns the current registry snapshot.
func (s *Service) Backends() []registry.Descriptor {
	return s.registry.Snapshot()
}
