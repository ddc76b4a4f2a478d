// Package router turns a registry snapshot and a task descriptor into an
// ordered list of candidate backends. It is a pure function over its inputs
// so routing decisions are testable without any network access.
package router

import (
	"sort"

	"github.com/zen-systems/taskrelay/pkg/registry"
	"github.com/zen-systems/taskrelay/pkg/task"
)

// Capability tags the router understands. They are static configuration on
// a backend descriptor and only ever reorder candidates, never filter them.
const (
	CapComplexExtraction = "complex-extraction-capable"
	CapCitations         = "citation-capable"
)

// Candidates returns the ids of available backends in preference order for
// the given task. An empty result means no backend can serve right now.
//
// Default order is (priority ascending, success rate descending, average
// latency ascending). Capability overrides then move a matching backend to
// the front: citations first, then complex extraction, so when both apply
// the extraction-capable backend wins and the citation-capable one follows.
func Candidates(snapshot []registry.Descriptor, t task.Descriptor) []string {
	available := make([]registry.Descriptor, 0, len(snapshot))
	for _, d := range snapshot {
		if d.Available {
			available = append(available, d)
		}
	}
	if len(available) == 0 {
		return nil
	}

	sort.SliceStable(available, func(i, j int) bool {
		a, b := available[i], available[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		return a.AvgLatencyMs < b.AvgLatencyMs
	})

	ids := make([]string, len(available))
	for i, d := range available {
		ids[i] = d.ID
	}

	if t.RequiresCitations {
		if id, ok := firstWithCapability(available, CapCitations); ok {
			ids = moveToFront(ids, id)
		}
	}
	if t.Kind == task.KindExtraction && t.Complexity == task.ComplexityComplex {
		if id, ok := firstWithCapability(available, CapComplexExtraction); ok {
			ids = moveToFront(ids, id)
		}
	}

	return ids
}

// firstWithCapability returns the best-ranked backend carrying the tag.
func firstWithCapability(sorted []registry.Descriptor, tag string) (string, bool) {
	for _, d := range sorted {
		if d.HasCapability(tag) {
			return d.ID, true
		}
	}
	return "", false
}

func moveToFront(ids []string, id string) []string {
	for i, candidate := range ids {
		if candidate == id {
			copy(ids[1:i+1], ids[:i])
			ids[0] = id
			return ids
		}
	}
	return ids
}
