package modifier

import (
	"strings"
	"unicode"

	"github.com/csvquery/opustrainer/internal/prng"
)

// UpperCaseModifier upper-cases the whole line with probability p.
type UpperCaseModifier struct {
	Base
}

func NewUpperCase(probability float64) *UpperCaseModifier {
	return &UpperCaseModifier{Base: NewBase(probability)}
}

func (m *UpperCaseModifier) Apply(batch []string, rng *prng.Source) []string {
	out := make([]string, len(batch))
	for i, line := range batch {
		if roll(rng, m.probability) {
			out[i] = strings.ToUpper(line)
		} else {
			out[i] = line
		}
	}
	return out
}

// TitleCaseModifier title-cases every word of every tab-separated
// field, with probability p. Note this operates on raw tab-split
// sections, so any trailing alignment column gets title-cased too if
// it happens to look like words (it won't, since alignments are
// digits and dashes).
type TitleCaseModifier struct {
	Base
}

func NewTitleCase(probability float64) *TitleCaseModifier {
	return &TitleCaseModifier{Base: NewBase(probability)}
}

func (m *TitleCaseModifier) Apply(batch []string, rng *prng.Source) []string {
	out := make([]string, len(batch))
	for i, line := range batch {
		if !roll(rng, m.probability) {
			out[i] = line
			continue
		}
		sections := strings.Split(line, "\t")
		for s, section := range sections {
			words := strings.Fields(section)
			for w, word := range words {
				words[w] = titleCaseWord(word)
			}
			sections[s] = strings.Join(words, " ")
		}
		out[i] = strings.Join(sections, "\t")
	}
	return out
}

func titleCaseWord(word string) string {
	if word == "" {
		return word
	}
	runes := []rune(word)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
