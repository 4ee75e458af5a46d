// Package modifier defines the batch modifier contract and the
// built-in modifier set: line-level transformations that are applied
// probabilistically to a batch by the modifier pool (internal/modpool).
package modifier

import "github.com/csvquery/opustrainer/internal/prng"

// Modifier is a pure function of its input batch and the caller's
// thread-local PRNG. It MAY produce fewer, equal, or more lines than it
// consumed.
type Modifier interface {
	// Apply transforms batch, drawing all randomness from rng.
	Apply(batch []string, rng *prng.Source) []string

	// Validate is called once per construction with the full modifier
	// chain it is part of; it returns advisory warnings (it never
	// fails construction).
	Validate(context []Modifier) []string

	// Probability is this modifier's configured trigger probability,
	// exposed so Validate implementations (and tooling) can inspect it.
	Probability() float64
}

// Base is embedded by every built-in modifier to supply Probability and
// a default no-op Validate; modifiers with a stricter validation
// contract (PlaceholderTag) override Validate.
type Base struct {
	probability float64
}

func NewBase(probability float64) Base {
	return Base{probability: probability}
}

func (b Base) Probability() float64 { return b.probability }

func (b Base) Validate([]Modifier) []string { return nil }

// roll reports whether this invocation should apply, matching the
// source language's `self.probability > random.random()` convention
// (note the strict `>`, not `>=`).
func roll(rng *prng.Source, probability float64) bool {
	return probability > rng.Float64()
}
