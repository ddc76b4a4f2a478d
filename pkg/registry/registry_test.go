package registry

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestRegistry_Register_DuplicateID(t *testing.T) {
	r := New()
	if err := r.Register(Descriptor{ID: "alpha", Priority: 1}); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}

	err := r.Register(Descriptor{ID: "alpha", Priority: 2})
	if err == nil {
		t.Fatal("expected error for duplicate id")
	}
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected *ConfigurationError, got %T", err)
	}
}

func TestRegistry_Register_EmptyID(t *testing.T) {
	r := New()
	if err := r.Register(Descriptor{}); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestRegistry_Validate_Empty(t *testing.T) {
	r := New()
	err := r.Validate()
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Validate() on empty registry = %v, want *ConfigurationError", err)
	}

	if err := r.Register(Descriptor{ID: "alpha"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Validate(); err != nil {
		t.Errorf("Validate() with one backend = %v, want nil", err)
	}
}

func TestRegistry_Register_NormalizesState(t *testing.T) {
	r := New()
	// Whatever health fields the caller passes in, a fresh backend starts
	// available with an optimistic success rate.
	err := r.Register(Descriptor{
		ID:            "alpha",
		Available:     false,
		LastFailureAt: time.Now(),
		SuccessRate:   0.1,
	})
	if err != nil {
		t.Fatal(err)
	}

	d, ok := r.Get("alpha")
	if !ok {
		t.Fatal("Get(alpha) not found")
	}
	if !d.Available {
		t.Error("expected freshly registered backend to be available")
	}
	if d.SuccessRate != 1.0 {
		t.Errorf("SuccessRate = %v, want 1.0", d.SuccessRate)
	}
}

func TestRegistry_Cooldown(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := New(WithClock(func() time.Time { return clock }))
	if err := r.Register(Descriptor{ID: "alpha", Priority: 1}); err != nil {
		t.Fatal(err)
	}

	r.MarkFailure("alpha")

	// Before the cooldown elapses the backend stays unavailable.
	clock = clock.Add(CooldownDuration - time.Second)
	snap := r.Snapshot()
	if snap[0].Available {
		t.Error("expected alpha to be unavailable before cooldown elapsed")
	}
	if snap[0].LastFailureAt.IsZero() {
		t.Error("expected LastFailureAt to be set after MarkFailure")
	}

	// At the cooldown boundary the snapshot flips it back on.
	clock = clock.Add(time.Second)
	snap = r.Snapshot()
	if !snap[0].Available {
		t.Error("expected alpha to be available after cooldown elapsed")
	}
}

func TestRegistry_MarkSuccess_RollingAverages(t *testing.T) {
	r := New()
	if err := r.Register(Descriptor{ID: "alpha"}); err != nil {
		t.Fatal(err)
	}

	r.MarkSuccess("alpha", 100)
	r.MarkSuccess("alpha", 300)

	d, _ := r.Get("alpha")
	if d.AvgLatencyMs != 200 {
		t.Errorf("AvgLatencyMs = %v, want 200", d.AvgLatencyMs)
	}
	if d.SuccessRate != 1.0 {
		t.Errorf("SuccessRate = %v, want 1.0", d.SuccessRate)
	}
}

func TestRegistry_MarkFailure_DecaysSuccessRate(t *testing.T) {
	r := New()
	if err := r.Register(Descriptor{ID: "alpha"}); err != nil {
		t.Fatal(err)
	}

	r.MarkSuccess("alpha", 50)
	r.MarkFailure("alpha")

	d, _ := r.Get("alpha")
	// One success then one failure: 1*1/2 = 0.5.
	if math.Abs(d.SuccessRate-0.5) > 1e-9 {
		t.Errorf("SuccessRate = %v, want 0.5", d.SuccessRate)
	}
	if d.Available {
		t.Error("expected backend to be unavailable after failure")
	}

	r.MarkSuccess("alpha", 50)
	d, _ = r.Get("alpha")
	// (0.5*2 + 1) / 3 = 2/3.
	if math.Abs(d.SuccessRate-2.0/3.0) > 1e-9 {
		t.Errorf("SuccessRate = %v, want 2/3", d.SuccessRate)
	}
	if !d.Available {
		t.Error("expected backend to be available after success")
	}
}

func TestRegistry_Snapshot_Isolation(t *testing.T) {
	r := New()
	if err := r.Register(Descriptor{ID: "alpha", Capabilities: map[string]bool{"citation-capable": true}}); err != nil {
		t.Fatal(err)
	}

	snap := r.Snapshot()
	snap[0].Capabilities["citation-capable"] = false
	snap[0].SuccessRate = 0

	d, _ := r.Get("alpha")
	if !d.HasCapability("citation-capable") {
		t.Error("mutating a snapshot should not affect the registry")
	}
	if d.SuccessRate != 1.0 {
		t.Error("mutating a snapshot should not affect registry health fields")
	}
}

func TestRegistry_Snapshot_Order(t *testing.T) {
	r := New()
	for _, id := range []string{"gamma", "alpha", "beta"} {
		if err := r.Register(Descriptor{ID: id}); err != nil {
			t.Fatal(err)
		}
	}

	snap := r.Snapshot()
	want := []string{"gamma", "alpha", "beta"}
	for i, d := range snap {
		if d.ID != want[i] {
			t.Errorf("snapshot[%d] = %s, want %s", i, d.ID, want[i])
		}
	}
}
