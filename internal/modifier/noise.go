package modifier

import (
	"strings"

	"github.com/csvquery/opustrainer/internal/align"
	"github.com/csvquery/opustrainer/internal/prng"
)

// NoiseModifier injects synthetic noise sentence pairs — both sides
// made of nonsense words drawn from the same random vocabulary, so the
// model sees some input it must learn to copy-through rather than
// "translate". Every original line is always kept; noise lines are
// inserted alongside, not instead of, them.
type NoiseModifier struct {
	Base
	MinWordLength int
	MaxWordLength int
	MaxWords      int
}

func NewNoise(probability float64, minWordLength, maxWordLength, maxWords int) *NoiseModifier {
	return &NoiseModifier{Base: NewBase(probability), MinWordLength: minWordLength, MaxWordLength: maxWordLength, MaxWords: maxWords}
}

func (m *NoiseModifier) Apply(batch []string, rng *prng.Source) []string {
	out := make([]string, 0, len(batch))
	for _, line := range batch {
		if roll(rng, m.probability) {
			out = append(out, m.noiseLine(line, rng))
		}
		out = append(out, line)
	}
	return out
}

func (m *NoiseModifier) noiseLine(line string, rng *prng.Source) string {
	numWords := randIntRange(rng, 1, m.MaxWords)
	words := randomUnicodeWords(rng, m.MinWordLength, m.MaxWordLength, numWords)
	joined := strings.Join(words, " ")
	fakeLine := joined + "\t" + joined

	if strings.Count(line, "\t") >= 2 {
		pairs := make([]align.Pair, len(words))
		for i := range words {
			pairs[i] = align.Pair{Src: i, Trg: i}
		}
		fakeLine += "\t" + align.Format(pairs)
	}
	return fakeLine
}

// noiseAlphabet mirrors the reference implementation's restriction to a
// single character set per invocation (Basic Latin plus Latin-1
// Supplement), avoiding mixed left-to-right/right-to-left runs.
var noiseAlphabet = buildNoiseAlphabet()

func buildNoiseAlphabet() []rune {
	var runes []rune
	for r := rune(0x0021); r <= 0x007E; r++ {
		runes = append(runes, r)
	}
	for r := rune(0x00A1); r <= 0x00FF; r++ {
		runes = append(runes, r)
	}
	return runes
}

// randomUnicodeWords generates n nonsense words, each of a random
// length in [minLen, maxLen], drawn from noiseAlphabet.
func randomUnicodeWords(rng *prng.Source, minLen, maxLen, n int) []string {
	words := make([]string, n)
	for i := range words {
		length := randIntRange(rng, minLen, maxLen)
		runes := make([]rune, length)
		for j := range runes {
			runes[j] = noiseAlphabet[randRange(rng, len(noiseAlphabet))]
		}
		words[i] = string(runes)
	}
	return words
}
