package modifier

import (
	"strings"

	"github.com/csvquery/opustrainer/internal/prng"
)

// RetokenizeModifier re-segments the source and target fields through
// a (possibly different) tokenizer/detokenizer pair, simulating the
// effect of a trainer that expects a different subword or
// word-segmentation scheme than whatever produced the input files.
// Moses/SentencePiece tokenizers are pluggable collaborators out of
// scope here; the default pair is the whitespace reference
// implementation, which is an identity transform modulo whitespace
// normalization.
type RetokenizeModifier struct {
	Base
	SrcTokenizer   Tokenizer
	TrgTokenizer   Tokenizer
	SrcDetokenizer Detokenizer
	TrgDetokenizer Detokenizer
}

func NewRetokenize(probability float64, srcTok, trgTok Tokenizer, srcDetok, trgDetok Detokenizer) *RetokenizeModifier {
	if srcTok == nil {
		srcTok = SpaceTokenizer{}
	}
	if trgTok == nil {
		trgTok = SpaceTokenizer{}
	}
	if srcDetok == nil {
		srcDetok = SpaceDetokenizer{}
	}
	if trgDetok == nil {
		trgDetok = SpaceDetokenizer{}
	}
	return &RetokenizeModifier{
		Base:           NewBase(probability),
		SrcTokenizer:   srcTok,
		TrgTokenizer:   trgTok,
		SrcDetokenizer: srcDetok,
		TrgDetokenizer: trgDetok,
	}
}

func (m *RetokenizeModifier) Apply(batch []string, rng *prng.Source) []string {
	out := make([]string, len(batch))
	for i, line := range batch {
		if !roll(rng, m.probability) {
			out[i] = line
			continue
		}
		out[i] = m.retokenizeLine(line)
	}
	return out
}

func (m *RetokenizeModifier) retokenizeLine(line string) string {
	fields := strings.SplitN(line, "\t", 3)
	if len(fields) < 2 {
		return line
	}
	fields[0] = m.SrcDetokenizer.Detokenize(m.SrcTokenizer.Tokenize(fields[0]))
	fields[1] = m.TrgDetokenizer.Detokenize(m.TrgTokenizer.Tokenize(fields[1]))
	return strings.Join(fields, "\t")
}
