package task

import "fmt"

// Kind categorizes the work a task asks for.
type Kind string

const (
	KindAnalysis       Kind = "analysis"
	KindSummary        Kind = "summary"
	KindExtraction     Kind = "extraction"
	KindGeneration     Kind = "generation"
	KindClassification Kind = "classification"
)

// Complexity grades how demanding a task is expected to be.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Descriptor describes what kind of work is needed, independent of which
// backend ends up serving it. Descriptors are immutable values created by
// the caller; this layer never persists them.
type Descriptor struct {
	Kind              Kind
	Complexity        Complexity
	MaxOutputUnits    int // 0 means no cap
	RequiresCitations bool
}

// ParseKind converts a string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindAnalysis, KindSummary, KindExtraction, KindGeneration, KindClassification:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown task kind %q", s)
}

// ParseComplexity converts a string into a Complexity.
func ParseComplexity(s string) (Complexity, error) {
	switch Complexity(s) {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex:
		return Complexity(s), nil
	}
	return "", fmt.Errorf("unknown task complexity %q", s)
}

// Validate checks that the descriptor's fields hold allowed values.
func (d Descriptor) Validate() error {
	if _, err := ParseKind(string(d.Kind)); err != nil {
		return err
	}
	if _, err := ParseComplexity(string(d.Complexity)); err != nil {
		return err
	}
	if d.MaxOutputUnits < 0 {
		return fmt.Errorf("max output units must not be negative, got %d", d.MaxOutputUnits)
	}
	return nil
}
