package curriculum

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/csvquery/opustrainer/internal/modifier"
)

// modifierFactory builds one Modifier from its declared probability and
// its remaining named parameters (still-undecoded YAML nodes, so each
// factory can coerce them to its constructor's own declared types).
// basePath resolves path-typed parameters against the config file's
// directory.
type modifierFactory func(probability float64, params map[string]*yaml.Node, basePath string) (modifier.Modifier, error)

// modifierFactories is the static constructor table replacing a
// dynamic, string-keyed modifier registry: unknown modifier names are
// rejected at load time rather than dispatched at runtime.
var modifierFactories = map[string]modifierFactory{
	"UpperCase": func(p float64, params map[string]*yaml.Node, _ string) (modifier.Modifier, error) {
		return modifier.NewUpperCase(p), nil
	},
	"TitleCase": func(p float64, params map[string]*yaml.Node, _ string) (modifier.Modifier, error) {
		return modifier.NewTitleCase(p), nil
	},
	"Typo": func(p float64, params map[string]*yaml.Node, _ string) (modifier.Modifier, error) {
		return modifier.NewTypo(p), nil
	},
	"Prefix": func(p float64, params map[string]*yaml.Node, _ string) (modifier.Modifier, error) {
		minWords, err := intParam(params, "min_words", 2)
		if err != nil {
			return nil, err
		}
		maxWords, err := intParam(params, "max_words", 5)
		if err != nil {
			return nil, err
		}
		template, err := stringParam(params, "template", modifier.DefaultPrefixTemplate)
		if err != nil {
			return nil, err
		}
		return modifier.NewPrefix(p, minWords, maxWords, template), nil
	},
	"Merge": func(p float64, params map[string]*yaml.Node, _ string) (modifier.Modifier, error) {
		minLines, err := intParam(params, "min_lines", 2)
		if err != nil {
			return nil, err
		}
		maxLines, err := intParam(params, "max_lines", 4)
		if err != nil {
			return nil, err
		}
		return modifier.NewMerge(p, minLines, maxLines), nil
	},
	"Noise": func(p float64, params map[string]*yaml.Node, _ string) (modifier.Modifier, error) {
		minWordLength, err := intParam(params, "min_word_length", 2)
		if err != nil {
			return nil, err
		}
		maxWordLength, err := intParam(params, "max_word_length", 5)
		if err != nil {
			return nil, err
		}
		maxWords, err := intParam(params, "max_words", 6)
		if err != nil {
			return nil, err
		}
		return modifier.NewNoise(p, minWordLength, maxWordLength, maxWords), nil
	},
	"Tags": func(p float64, params map[string]*yaml.Node, _ string) (modifier.Modifier, error) {
		template, err := stringParam(params, "template", modifier.DefaultTagTemplate)
		if err != nil {
			return nil, err
		}
		return modifier.NewPlaceholderTag(p, template), nil
	},
	"Retokenize": func(p float64, params map[string]*yaml.Node, _ string) (modifier.Modifier, error) {
		return modifier.NewRetokenize(p, nil, nil, nil, nil), nil
	},
}

func intParam(params map[string]*yaml.Node, key string, def int) (int, error) {
	node, ok := params[key]
	if !ok {
		return def, nil
	}
	var v int
	if err := node.Decode(&v); err != nil {
		return 0, &Error{Reason: fmt.Sprintf("parameter %q must be an integer", key), Cause: err}
	}
	return v, nil
}

func stringParam(params map[string]*yaml.Node, key string, def string) (string, error) {
	node, ok := params[key]
	if !ok {
		return def, nil
	}
	var v string
	if err := node.Decode(&v); err != nil {
		return "", &Error{Reason: fmt.Sprintf("parameter %q must be a string", key), Cause: err}
	}
	return v, nil
}
