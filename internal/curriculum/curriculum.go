// Package curriculum loads and validates the staged training
// curriculum (component C3): named datasets, an ordered list of
// stages each with a weighted dataset mix, a termination clause, and a
// modifier chain.
package curriculum

import (
	"fmt"
	"math"

	"github.com/csvquery/opustrainer/internal/dataset"
	"github.com/csvquery/opustrainer/internal/modifier"
)

// Infinite marks a stage's until-epoch as never tripping on its own
// (the "until <dataset> inf" sentinel).
const Infinite = math.MaxUint64

// MixEntry is one (dataset, weight) draw in a stage's mix.
type MixEntry struct {
	Dataset string
	Weight  float64
}

// Stage is a named segment of training with a fixed mix, an optional
// stage-specific modifier chain, and a termination clause.
type Stage struct {
	Name string
	Mix  []MixEntry

	UntilDataset string
	UntilEpoch   uint64 // Infinite for "until <dataset> inf"

	// Modifiers is nil when this stage inherits the curriculum's
	// global modifier list.
	Modifiers []modifier.Modifier
}

// Curriculum is the immutable, validated description of a full
// training run.
type Curriculum struct {
	Seed      uint64
	NumFields int
	Trainer   string

	Datasets    map[string]dataset.Dataset
	Stages      map[string]*Stage
	StagesOrder []string
	Modifiers   []modifier.Modifier // global fallback
}

// StageModifiers returns s's own modifier chain, falling back to the
// curriculum's global one when s does not override it.
func (c *Curriculum) StageModifiers(s *Stage) []modifier.Modifier {
	if s.Modifiers != nil {
		return s.Modifiers
	}
	return c.Modifiers
}

// NextStage returns the stage that follows name in StagesOrder, or
// ok=false if name is the last stage (or not present at all), signaling
// the trainer should transition to the terminal "done" state.
func (c *Curriculum) NextStage(name string) (next *Stage, ok bool) {
	for i, n := range c.StagesOrder {
		if n == name {
			if i+1 < len(c.StagesOrder) {
				return c.Stages[c.StagesOrder[i+1]], true
			}
			return nil, false
		}
	}
	return nil, false
}

// Validate checks the invariants a fully constructed Curriculum must
// hold, failing fast before any output is produced.
func (c *Curriculum) Validate() error {
	seen := make(map[string]bool, len(c.StagesOrder))
	for _, name := range c.StagesOrder {
		if seen[name] {
			return &Error{Reason: fmt.Sprintf("duplicate stage name %q in stages order", name)}
		}
		seen[name] = true
		stage, ok := c.Stages[name]
		if !ok {
			return &Error{Reason: fmt.Sprintf("stage %q listed in stages order but not defined", name)}
		}
		if err := c.validateStage(stage); err != nil {
			return err
		}
	}
	return nil
}

func (c *Curriculum) validateStage(s *Stage) error {
	if len(s.Mix) == 0 {
		return &Error{Reason: fmt.Sprintf("stage %q has an empty mix", s.Name)}
	}
	foundUntil := false
	for _, entry := range s.Mix {
		if _, ok := c.Datasets[entry.Dataset]; !ok {
			return &Error{Reason: fmt.Sprintf("stage %q references undefined dataset %q", s.Name, entry.Dataset)}
		}
		if entry.Weight < 0 {
			return &Error{Reason: fmt.Sprintf("stage %q: dataset %q has a negative weight", s.Name, entry.Dataset)}
		}
		if entry.Dataset == s.UntilDataset && entry.Weight > 0 {
			foundUntil = true
		}
	}
	if s.UntilDataset == "" {
		return &Error{Reason: fmt.Sprintf("stage %q is missing its until clause", s.Name)}
	}
	if !foundUntil {
		return &Error{Reason: fmt.Sprintf("stage %q: until_dataset %q must appear in the mix with a weight > 0", s.Name, s.UntilDataset)}
	}
	return nil
}
