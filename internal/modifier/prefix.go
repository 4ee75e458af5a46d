package modifier

import (
	"strings"

	"github.com/csvquery/opustrainer/internal/prng"
)

// DefaultPrefixTemplate is used when a curriculum does not override it.
const DefaultPrefixTemplate = "__start__ {trg} __end__ "

// PrefixModifier prefixes the source sentence with a random contiguous
// phrase drawn from the target sentence, e.g. turning
// "I like pie.\tMe gustan los pasteles." into
// "__start__ los pasteles. __end__ I like pie.\tMe gustan los pasteles."
// This assumes a space-segmented target language; CJK-style languages
// are not supported (same limitation as the reference implementation).
type PrefixModifier struct {
	Base
	MinWords int
	MaxWords int
	Template string
}

func NewPrefix(probability float64, minWords, maxWords int, template string) *PrefixModifier {
	return &PrefixModifier{Base: NewBase(probability), MinWords: minWords, MaxWords: maxWords, Template: template}
}

func (m *PrefixModifier) Apply(batch []string, rng *prng.Source) []string {
	out := make([]string, len(batch))
	for i, line := range batch {
		out[i] = m.applyLine(line, rng)
	}
	return out
}

func (m *PrefixModifier) applyLine(line string, rng *prng.Source) string {
	if !roll(rng, m.probability) {
		return line
	}

	fields := strings.SplitN(line, "\t", 3)
	if len(fields) < 2 {
		return line
	}
	targetTokens := strings.Fields(fields[1])

	numTokens := randIntRange(rng, m.MinWords, m.MaxWords)
	maxStart := len(targetTokens) - numTokens
	if maxStart < 0 {
		return line
	}
	start := randRange(rng, maxStart+1)

	phrase := strings.Join(targetTokens[start:start+numTokens], " ")
	return strings.ReplaceAll(m.Template, "{trg}", phrase) + line
}

// randRange returns a uniform integer in [0, n).
func randRange(rng *prng.Source, n int) int {
	if n <= 0 {
		return 0
	}
	return int(rng.Uint64() % uint64(n))
}

// randIntRange returns a uniform integer in [lo, hi], inclusive on both
// ends, matching the source language's random.randint.
func randIntRange(rng *prng.Source, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + randRange(rng, hi-lo+1)
}
