package modifier

import (
	"strings"

	"github.com/csvquery/opustrainer/internal/align"
	"github.com/csvquery/opustrainer/internal/prng"
)

// DefaultTagTemplate is used when a curriculum does not override it.
const DefaultTagTemplate = "__source__ {src} __target__ {trg} __done__"

// PlaceholderTagModifier hints the expected output to the trainer by
// wrapping an aligned source token in a tag naming its target
// translation, e.g. turning "the cat sat\tle chat" (aligned 0-0) into
// "__source__ the __target__ le __done__ cat sat\tle chat". It needs an
// alignment column to know which source/target tokens correspond; lines
// without one are passed through unchanged.
//
// This implements only the reference "tag" mode of the original's
// placeholder family (the "replace"/"augment" modes are a richer
// training-signal variant layered on top of the same alignment-walking
// logic and are not reproduced here).
type PlaceholderTagModifier struct {
	Base
	Template       string
	SrcTokenizer   Tokenizer
	TrgTokenizer   Tokenizer
	SrcDetokenizer Detokenizer
}

func NewPlaceholderTag(probability float64, template string) *PlaceholderTagModifier {
	if template == "" {
		template = DefaultTagTemplate
	}
	return &PlaceholderTagModifier{
		Base:           NewBase(probability),
		Template:       template,
		SrcTokenizer:   SpaceTokenizer{},
		TrgTokenizer:   SpaceTokenizer{},
		SrcDetokenizer: SpaceDetokenizer{},
	}
}

func (m *PlaceholderTagModifier) Apply(batch []string, rng *prng.Source) []string {
	out := make([]string, len(batch))
	for i, line := range batch {
		out[i] = m.applyLine(line, rng)
	}
	return out
}

func (m *PlaceholderTagModifier) applyLine(line string, rng *prng.Source) string {
	fields := strings.SplitN(line, "\t", 3)
	if len(fields) < 3 {
		return line
	}
	src := m.SrcTokenizer.Tokenize(fields[0])
	trg := m.TrgTokenizer.Tokenize(fields[1])

	pairs, err := align.Parse(fields[2], len(src), len(trg))
	if err != nil {
		return line
	}
	pairs = placeholdingCandidates(pairs)

	for _, p := range pairs {
		if src[p.Src] == trg[p.Trg] {
			continue
		}
		if !roll(rng, m.probability) {
			continue
		}
		src[p.Src] = tagReplace(m.Template, src[p.Src], trg[p.Trg])
	}

	return m.SrcDetokenizer.Detokenize(src) + "\t" + fields[1]
}

// uniqueByFirst keeps only the pairs whose first element is not shared
// by any other pair in the list (non-bijective alignments blacklist
// both occurrences).
func uniqueByFirst(pairs []align.Pair) []align.Pair {
	count := make(map[int]int, len(pairs))
	for _, p := range pairs {
		count[p.Src]++
	}
	out := make([]align.Pair, 0, len(pairs))
	for _, p := range pairs {
		if count[p.Src] == 1 {
			out = append(out, p)
		}
	}
	return out
}

// placeholdingCandidates drops every alignment pair that isn't
// one-to-one in both directions, so each surviving source and target
// index is replaced exactly once.
func placeholdingCandidates(pairs []align.Pair) []align.Pair {
	trgSrc := make([]align.Pair, len(pairs))
	for i, p := range pairs {
		trgSrc[i] = align.Pair{Src: p.Trg, Trg: p.Src}
	}

	srcUnique := uniqueByFirst(pairs)
	trgUnique := uniqueByFirst(trgSrc)

	bijective := make(map[align.Pair]bool, len(trgUnique))
	for _, p := range trgUnique {
		bijective[align.Pair{Src: p.Trg, Trg: p.Src}] = true
	}

	out := make([]align.Pair, 0, len(srcUnique))
	seen := make(map[align.Pair]bool, len(srcUnique))
	for _, p := range srcUnique {
		if bijective[p] && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func tagReplace(template, src, trg string) string {
	s := strings.ReplaceAll(template, "{src}", src)
	return strings.ReplaceAll(s, "{trg}", trg)
}

// Validate warns if this modifier is not the last in the chain: any
// later modifier might alter the tags this one just inserted.
func (m *PlaceholderTagModifier) Validate(context []Modifier) []string {
	if len(context) == 0 || context[len(context)-1] != Modifier(m) {
		return []string{"Tags modifier should be the last modifier to be applied, as otherwise other modifiers might alter the inserted tags themselves."}
	}
	return nil
}
