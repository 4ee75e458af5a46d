package modifier

import (
	"strings"

	"github.com/csvquery/opustrainer/internal/prng"
)

// typoKind enumerates the character-level perturbations applied to the
// source field.
type typoKind int

const (
	typoInsertSpace typoKind = iota
	typoDeleteSpace
	typoSwapChars
	typoSubstituteChar
	typoKindCount
)

// TypoModifier perturbs the source field with small character-level
// noise (inserted/deleted spaces, adjacent-character swaps, and
// single-character substitutions): one perturbation per triggered line,
// at a random character position of the source field. This is a
// simplified reference implementation: the source's external `typo`
// keyboard-neighbor tables are not reproduced, so substitutions draw
// from the noise alphabet rather than a QWERTY-adjacency map.
type TypoModifier struct {
	Base
}

func NewTypo(probability float64) *TypoModifier {
	return &TypoModifier{Base: NewBase(probability)}
}

func (m *TypoModifier) Apply(batch []string, rng *prng.Source) []string {
	out := make([]string, len(batch))
	for i, line := range batch {
		out[i] = m.applyLine(line, rng)
	}
	return out
}

func (m *TypoModifier) applyLine(line string, rng *prng.Source) string {
	if !roll(rng, m.probability) {
		return line
	}
	fields := strings.SplitN(line, "\t", 2)
	if len(fields) == 0 || fields[0] == "" {
		return line
	}
	fields[0] = applyTypo(fields[0], rng)
	return strings.Join(fields, "\t")
}

func applyTypo(text string, rng *prng.Source) string {
	runes := []rune(text)
	if len(runes) < 2 {
		return text
	}
	pos := randRange(rng, len(runes))
	kind := typoKind(randRange(rng, int(typoKindCount)))

	switch kind {
	case typoInsertSpace:
		return string(runes[:pos]) + " " + string(runes[pos:])
	case typoDeleteSpace:
		for i := pos; i < len(runes); i++ {
			if runes[i] == ' ' {
				return string(runes[:i]) + string(runes[i+1:])
			}
		}
		return text
	case typoSwapChars:
		if pos == len(runes)-1 {
			pos--
		}
		runes[pos], runes[pos+1] = runes[pos+1], runes[pos]
		return string(runes)
	case typoSubstituteChar:
		runes[pos] = noiseAlphabet[randRange(rng, len(noiseAlphabet))]
		return string(runes)
	default:
		return text
	}
}
