// Package batch runs many independent tasks with a concurrency ceiling.
// Items are processed in fixed-size groups: a group's calls run
// concurrently and the whole group settles before the next one starts,
// which keeps completion-order semantics simple at a small throughput cost
// versus a continuously-refilling pool.
package batch

import (
	"context"

	"github.com/zen-systems/taskrelay/pkg/engine"
	"github.com/zen-systems/taskrelay/pkg/registry"
	"github.com/zen-systems/taskrelay/pkg/task"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrencyLimit is the group size used when the caller passes a
// limit below 1.
const DefaultConcurrencyLimit = 3

// Item pairs one prompt with its task descriptor.
type Item struct {
	Prompt string
	Task   task.Descriptor
}

// FailureRecord marks one item that exhausted every backend. It is a value
// in the result slice, never an error the batch call returns.
type FailureRecord struct {
	Err       error
	BackendID string
}

// Result holds either the outcome or the failure record for one item.
type Result struct {
	Outcome *engine.Outcome
	Failure *FailureRecord
}

// Failed reports whether the item's slot holds a failure record.
func (r Result) Failed() bool {
	return r.Failure != nil
}

// Scheduler runs batches against one execution engine.
type Scheduler struct {
	engine   *engine.Engine
	registry *registry.Registry
	logger   *zap.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// NewScheduler creates a scheduler over the given engine and registry.
func NewScheduler(eng *engine.Engine, reg *registry.Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		engine:   eng,
		registry: reg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes every item and returns exactly one result per input, in
// input order. An item's exhaustion lands in its slot as a FailureRecord
// and never aborts the batch; the only error Run itself returns is a
// configuration error for an empty registry, raised before any item runs.
func (s *Scheduler) Run(ctx context.Context, items []Item, concurrencyLimit int) ([]Result, error) {
	if err := s.registry.Validate(); err != nil {
		return nil, err
	}
	if concurrencyLimit < 1 {
		concurrencyLimit = DefaultConcurrencyLimit
	}

	results := make([]Result, len(items))
	for start := 0; start < len(items); start += concurrencyLimit {
		end := min(start+concurrencyLimit, len(items))

		g := new(errgroup.Group)
		for i := start; i < end; i++ {
			g.Go(func() error {
				out, err := s.engine.Execute(ctx, items[i].Prompt, items[i].Task)
				if err != nil {
					s.logger.Warn("batch item failed", zap.Int("index", i), zap.Error(err))
					results[i] = Result{Failure: &FailureRecord{Err: err, BackendID: "none"}}
					return nil
				}
				results[i] = Result{Outcome: out}
				return nil
			})
		}
		// Closures never return errors; item failures live in their slots.
		_ = g.Wait()
	}

	s.logger.Debug("batch settled", zap.Int("items", len(items)), zap.Int("group_size", concurrencyLimit))
	return results, nil
}
