package modifier

import "strings"

// Tokenizer splits a line into word tokens. Moses/SentencePiece/ICU
// tokenizer implementations are pluggable collaborators out of scope
// here; SpaceTokenizer is the built-in reference implementation.
type Tokenizer interface {
	Tokenize(text string) []string
}

// Detokenizer is the inverse of a Tokenizer.
type Detokenizer interface {
	Detokenize(tokens []string) string
}

// SpaceTokenizer splits "Hello World." into ["Hello", "World."].
type SpaceTokenizer struct{}

func (SpaceTokenizer) Tokenize(text string) []string {
	return strings.Fields(text)
}

// SpaceDetokenizer turns ["Hello", "World."] back into "Hello World.".
type SpaceDetokenizer struct{}

func (SpaceDetokenizer) Detokenize(tokens []string) string {
	return strings.Join(tokens, " ")
}
