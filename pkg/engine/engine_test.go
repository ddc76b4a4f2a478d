package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/zen-systems/taskrelay/pkg/backend"
	"github.com/zen-systems/taskrelay/pkg/metrics"
	"github.com/zen-systems/taskrelay/pkg/registry"
	"github.com/zen-systems/taskrelay/pkg/task"
)

// stubClient is a scriptable backend client that records invocation order.
type stubClient struct {
	name   string
	result *backend.Result
	err    error

	mu    sync.Mutex
	calls int
	log   *[]string
}

func (s *stubClient) Name() string { return s.name }

func (s *stubClient) Invoke(_ context.Context, _ string, _ task.Descriptor) (*backend.Result, error) {
	s.mu.Lock()
	s.calls++
	if s.log != nil {
		*s.log = append(*s.log, s.name)
	}
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func simpleTask() task.Descriptor {
	return task.Descriptor{Kind: task.KindSummary, Complexity: task.ComplexitySimple}
}

func newTestEngine(t *testing.T, clients map[string]backend.Client, descs ...registry.Descriptor) (*Engine, *registry.Registry, *metrics.Aggregator) {
	t.Helper()
	reg := registry.New()
	for _, d := range descs {
		if err := reg.Register(d); err != nil {
			t.Fatal(err)
		}
	}
	agg := metrics.NewAggregator()
	return New(reg, clients, agg), reg, agg
}

func TestExecute_Success(t *testing.T) {
	clients := map[string]backend.Client{
		"alpha": &stubClient{name: "alpha", result: &backend.Result{Content: "fine", LatencyMs: 80, Units: 10}},
	}
	eng, reg, agg := newTestEngine(t, clients,
		registry.Descriptor{ID: "alpha", Priority: 1, CostPerUnit: 0.002},
	)

	out, err := eng.Execute(context.Background(), "summarize this", simpleTask())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out.BackendID != "alpha" {
		t.Errorf("BackendID = %s, want alpha", out.BackendID)
	}
	if out.Content != "fine" {
		t.Errorf("Content = %q, want %q", out.Content, "fine")
	}
	if out.ID == "" {
		t.Error("expected a generated outcome id")
	}
	if out.Metadata.EstimatedUnits != 10 {
		t.Errorf("EstimatedUnits = %d, want 10", out.Metadata.EstimatedUnits)
	}
	if out.Metadata.EstimatedCost != 0.02 {
		t.Errorf("EstimatedCost = %v, want 0.02", out.Metadata.EstimatedCost)
	}

	d, _ := reg.Get("alpha")
	if d.AvgLatencyMs != 80 {
		t.Errorf("registry AvgLatencyMs = %v, want 80", d.AvgLatencyMs)
	}
	s := agg.Snapshot()
	if s.TotalRequests != 1 || s.SuccessfulRequests != 1 || s.FailedRequests != 0 {
		t.Errorf("snapshot = %+v, want 1 request, 1 success, 0 failed", s)
	}
}

func TestExecute_Failover(t *testing.T) {
	var order []string
	clients := map[string]backend.Client{
		"alpha": &stubClient{name: "alpha", err: &backend.Error{Status: 429, Err: errors.New("rate limited")}, log: &order},
		"beta":  &stubClient{name: "beta", result: &backend.Result{Content: "ok", LatencyMs: 120}, log: &order},
	}
	eng, reg, _ := newTestEngine(t, clients,
		registry.Descriptor{ID: "alpha", Priority: 1},
		registry.Descriptor{ID: "beta", Priority: 2},
	)

	out, err := eng.Execute(context.Background(), "hello", simpleTask())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out.BackendID != "beta" {
		t.Errorf("BackendID = %s, want beta", out.BackendID)
	}
	if out.Content != "ok" {
		t.Errorf("Content = %q, want ok", out.Content)
	}

	wantOrder := []string{"alpha", "beta"}
	if len(order) != 2 || order[0] != wantOrder[0] || order[1] != wantOrder[1] {
		t.Errorf("invocation order = %v, want %v", order, wantOrder)
	}

	alpha, _ := reg.Get("alpha")
	if alpha.Available {
		t.Error("alpha should be in cooldown after its failure")
	}
	beta, _ := reg.Get("beta")
	if !beta.Available {
		t.Error("beta should remain available")
	}
}

func TestExecute_Exhaustion(t *testing.T) {
	betaErr := &backend.Error{Status: 503, Err: errors.New("beta down")}
	clients := map[string]backend.Client{
		"alpha": &stubClient{name: "alpha", err: &backend.Error{Status: 500, Err: errors.New("alpha down")}},
		"beta":  &stubClient{name: "beta", err: betaErr},
	}
	eng, _, agg := newTestEngine(t, clients,
		registry.Descriptor{ID: "alpha", Priority: 1},
		registry.Descriptor{ID: "beta", Priority: 2},
	)

	_, err := eng.Execute(context.Background(), "hello", simpleTask())
	var exhausted *AllBackendsFailedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Execute() error = %v, want *AllBackendsFailedError", err)
	}
	// The last candidate attempted was beta, so its error is carried.
	if exhausted.LastErr.Error() != "beta down" {
		t.Errorf("LastErr = %q, want %q", exhausted.LastErr.Error(), "beta down")
	}

	s := agg.Snapshot()
	if s.FailedRequests != 1 {
		t.Errorf("FailedRequests = %d, want exactly 1 for the whole task", s.FailedRequests)
	}
	if s.TotalRequests != 1 {
		t.Errorf("TotalRequests = %d, want 1", s.TotalRequests)
	}
}

func TestExecute_NoBackendTriedTwice(t *testing.T) {
	alpha := &stubClient{name: "alpha", err: &backend.Error{Status: 500}}
	clients := map[string]backend.Client{"alpha": alpha}
	eng, _, _ := newTestEngine(t, clients, registry.Descriptor{ID: "alpha", Priority: 1})

	_, err := eng.Execute(context.Background(), "hello", simpleTask())
	var exhausted *AllBackendsFailedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Execute() error = %v, want *AllBackendsFailedError", err)
	}
	if alpha.calls != 1 {
		t.Errorf("alpha invoked %d times in one Execute, want 1", alpha.calls)
	}
}

func TestExecute_AttemptBudget(t *testing.T) {
	var order []string
	fail := func(name string) *stubClient {
		return &stubClient{name: name, err: &backend.Error{Status: 500, Err: errors.New(name + " down")}, log: &order}
	}
	clients := map[string]backend.Client{
		"a": fail("a"), "b": fail("b"), "c": fail("c"), "d": fail("d"),
	}
	eng, _, _ := newTestEngine(t, clients,
		registry.Descriptor{ID: "a", Priority: 1},
		registry.Descriptor{ID: "b", Priority: 2},
		registry.Descriptor{ID: "c", Priority: 3},
		registry.Descriptor{ID: "d", Priority: 4},
	)

	_, err := eng.Execute(context.Background(), "hello", simpleTask())
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if len(order) != 3 {
		t.Errorf("attempted %d backends, want 3 (attempt budget)", len(order))
	}
}

func TestExecute_CostFallbackEstimate(t *testing.T) {
	// 10 characters of content and no reported units: ceil(10/4) = 3 units.
	clients := map[string]backend.Client{
		"alpha": &stubClient{name: "alpha", result: &backend.Result{Content: "ten chars.", LatencyMs: 10}},
	}
	eng, _, _ := newTestEngine(t, clients,
		registry.Descriptor{ID: "alpha", Priority: 1, CostPerUnit: 0.01},
	)

	out, err := eng.Execute(context.Background(), "hello", simpleTask())
	if err != nil {
		t.Fatal(err)
	}
	if out.Metadata.EstimatedUnits != 3 {
		t.Errorf("EstimatedUnits = %d, want 3", out.Metadata.EstimatedUnits)
	}
	if out.Metadata.EstimatedCost != 0.03 {
		t.Errorf("EstimatedCost = %v, want 0.03", out.Metadata.EstimatedCost)
	}
}

func TestExecute_InvalidTask(t *testing.T) {
	clients := map[string]backend.Client{
		"alpha": &stubClient{name: "alpha", result: &backend.Result{Content: "x"}},
	}
	eng, _, agg := newTestEngine(t, clients, registry.Descriptor{ID: "alpha"})

	_, err := eng.Execute(context.Background(), "hello", task.Descriptor{Kind: "haiku", Complexity: task.ComplexitySimple})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if agg.Snapshot().TotalRequests != 0 {
		t.Error("invalid task should not count as a request")
	}
}

func TestExecute_MissingClientFailsOver(t *testing.T) {
	clients := map[string]backend.Client{
		"beta": &stubClient{name: "beta", result: &backend.Result{Content: "ok", LatencyMs: 5}},
	}
	eng, _, _ := newTestEngine(t, clients,
		registry.Descriptor{ID: "alpha", Priority: 1},
		registry.Descriptor{ID: "beta", Priority: 2},
	)

	out, err := eng.Execute(context.Background(), "hello", simpleTask())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out.BackendID != "beta" {
		t.Errorf("BackendID = %s, want beta", out.BackendID)
	}
}
