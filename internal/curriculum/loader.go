package curriculum

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/csvquery/opustrainer/internal/dataset"
	"github.com/csvquery/opustrainer/internal/modifier"
)

// Warner receives advisory messages produced by a modifier's Validate
// pass at load time (e.g. the Tags-not-last warning). A nil Warner
// silently drops them.
type Warner interface {
	WarnOnce(key, msg string)
}

// Load parses the versioned curriculum document at path (schema v1) and
// returns a fully validated Curriculum. Dataset paths and path-typed
// modifier parameters are resolved relative to path's directory.
func Load(path string, warner Warner) (*Curriculum, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading curriculum file %s: %w", path, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &Error{Reason: "malformed YAML", Cause: err}
	}
	if len(doc.Content) == 0 {
		return nil, &Error{Reason: "curriculum document is empty"}
	}
	body := doc.Content[0]
	if body.Kind != yaml.MappingNode {
		return nil, &Error{Reason: "curriculum document must be a mapping"}
	}

	top := make(map[string]*yaml.Node, len(body.Content)/2)
	for i := 0; i+1 < len(body.Content); i += 2 {
		top[body.Content[i].Value] = body.Content[i+1]
	}

	basePath := filepath.Dir(path)

	version := 1
	if n, ok := top["version"]; ok {
		if err := n.Decode(&version); err != nil {
			return nil, &Error{Reason: "version must be an integer", Cause: err}
		}
	}
	if version != 1 {
		return nil, &Error{Reason: fmt.Sprintf("unsupported curriculum version %d", version)}
	}

	var seed uint64
	seedNode, ok := top["seed"]
	if !ok {
		return nil, &Error{Reason: `missing required key "seed"`}
	}
	if err := seedNode.Decode(&seed); err != nil {
		return nil, &Error{Reason: "seed must be an unsigned integer", Cause: err}
	}

	numFields := 0
	if n, ok := top["num_fields"]; ok {
		if err := n.Decode(&numFields); err != nil {
			return nil, &Error{Reason: "num_fields must be an integer", Cause: err}
		}
	}

	trainerCmd := ""
	if n, ok := top["trainer"]; ok {
		if err := n.Decode(&trainerCmd); err != nil {
			return nil, &Error{Reason: "trainer must be a string", Cause: err}
		}
	}

	datasetsNode, ok := top["datasets"]
	if !ok {
		return nil, &Error{Reason: `missing required key "datasets"`}
	}
	rawDatasets := map[string]string{}
	if err := datasetsNode.Decode(&rawDatasets); err != nil {
		return nil, &Error{Reason: "datasets must be a mapping of name to file path", Cause: err}
	}
	datasets := make(map[string]dataset.Dataset, len(rawDatasets))
	for name, path := range rawDatasets {
		resolved := path
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(basePath, resolved)
		}
		datasets[name] = dataset.Dataset{Name: name, Files: []string{resolved}}
	}

	stagesNode, ok := top["stages"]
	if !ok {
		return nil, &Error{Reason: `missing required key "stages"`}
	}
	var stagesOrder []string
	if err := stagesNode.Decode(&stagesOrder); err != nil {
		return nil, &Error{Reason: "stages must be a list of stage names", Cause: err}
	}

	var globalModifiers []modifier.Modifier
	if n, ok := top["modifiers"]; ok {
		globalModifiers, err = parseModifiers(n, basePath)
		if err != nil {
			return nil, err
		}
	}

	stages := make(map[string]*Stage, len(stagesOrder))
	for _, name := range stagesOrder {
		node, ok := top[name]
		if !ok {
			return nil, &Error{Reason: fmt.Sprintf("stage %q is listed in stages but has no definition", name)}
		}
		stage, err := parseStage(name, node, basePath)
		if err != nil {
			return nil, err
		}
		stages[name] = stage
	}

	c := &Curriculum{
		Seed:        seed,
		NumFields:   numFields,
		Trainer:     trainerCmd,
		Datasets:    datasets,
		Stages:      stages,
		StagesOrder: stagesOrder,
		Modifiers:   globalModifiers,
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	for _, w := range collectModifierWarnings(c) {
		if warner != nil {
			warner.WarnOnce(w, w)
		}
	}

	return c, nil
}

func parseStage(name string, node *yaml.Node, basePath string) (*Stage, error) {
	switch node.Kind {
	case yaml.SequenceNode:
		mix, untilDataset, untilEpoch, err := parseMix(node, name)
		if err != nil {
			return nil, err
		}
		return &Stage{Name: name, Mix: mix, UntilDataset: untilDataset, UntilEpoch: untilEpoch}, nil

	case yaml.MappingNode:
		var mixNode, modsNode *yaml.Node
		for i := 0; i+1 < len(node.Content); i += 2 {
			switch node.Content[i].Value {
			case "mix":
				mixNode = node.Content[i+1]
			case "modifiers":
				modsNode = node.Content[i+1]
			}
		}
		if mixNode == nil {
			return nil, &Error{Reason: fmt.Sprintf("stage %q is missing its mix", name)}
		}
		mix, untilDataset, untilEpoch, err := parseMix(mixNode, name)
		if err != nil {
			return nil, err
		}
		var mods []modifier.Modifier
		if modsNode != nil {
			mods, err = parseModifiers(modsNode, basePath)
			if err != nil {
				return nil, err
			}
		}
		return &Stage{Name: name, Mix: mix, UntilDataset: untilDataset, UntilEpoch: untilEpoch, Modifiers: mods}, nil

	default:
		return nil, &Error{Reason: fmt.Sprintf("stage %q must be a list or a mapping", name)}
	}
}

// parseMix parses a mix list, whose last entry is the sentinel
// "until <dataset> <epochs|inf>" and whose preceding entries are
// "<dataset> <weight>" draws.
func parseMix(node *yaml.Node, stageName string) (mix []MixEntry, untilDataset string, untilEpoch uint64, err error) {
	var lines []string
	if err := node.Decode(&lines); err != nil {
		return nil, "", 0, &Error{Reason: fmt.Sprintf("stage %q: mix must be a list of strings", stageName), Cause: err}
	}
	if len(lines) == 0 {
		return nil, "", 0, &Error{Reason: fmt.Sprintf("stage %q: mix is empty", stageName)}
	}

	last := lines[len(lines)-1]
	fields := strings.Fields(last)
	if len(fields) != 3 || fields[0] != "until" {
		return nil, "", 0, &Error{Reason: fmt.Sprintf(
			`stage %q: mix must end with an "until <dataset> <epochs|inf>" sentinel, got %q`, stageName, last)}
	}
	untilDataset = fields[1]
	if fields[2] == "inf" {
		untilEpoch = Infinite
	} else {
		n, convErr := strconv.ParseUint(fields[2], 10, 64)
		if convErr != nil {
			return nil, "", 0, &Error{Reason: fmt.Sprintf("stage %q: invalid until-epoch %q", stageName, fields[2]), Cause: convErr}
		}
		untilEpoch = n
	}

	for _, line := range lines[:len(lines)-1] {
		parts := strings.Fields(line)
		if len(parts) != 2 {
			return nil, "", 0, &Error{Reason: fmt.Sprintf("stage %q: malformed mix entry %q", stageName, line)}
		}
		w, convErr := strconv.ParseFloat(parts[1], 64)
		if convErr != nil {
			return nil, "", 0, &Error{Reason: fmt.Sprintf("stage %q: malformed weight in mix entry %q", stageName, line), Cause: convErr}
		}
		mix = append(mix, MixEntry{Dataset: parts[0], Weight: w})
	}
	return mix, untilDataset, untilEpoch, nil
}

// parseModifiers parses a modifiers list: each entry is a mapping whose
// first key is the modifier's name and whose value is its probability;
// remaining keys are named constructor parameters.
func parseModifiers(node *yaml.Node, basePath string) ([]modifier.Modifier, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, &Error{Reason: "modifiers must be a list"}
	}

	var mods []modifier.Modifier
	for _, item := range node.Content {
		if item.Kind != yaml.MappingNode || len(item.Content) < 2 {
			return nil, &Error{Reason: "modifier entry must be a mapping with at least a name and a probability"}
		}
		name := item.Content[0].Value

		var probability float64
		if err := item.Content[1].Decode(&probability); err != nil {
			return nil, &Error{Reason: fmt.Sprintf("modifier %q: probability must be a number", name), Cause: err}
		}

		params := make(map[string]*yaml.Node, (len(item.Content)-2)/2)
		for i := 2; i+1 < len(item.Content); i += 2 {
			params[item.Content[i].Value] = item.Content[i+1]
		}

		factory, ok := modifierFactories[name]
		if !ok {
			return nil, &Error{Reason: fmt.Sprintf("unknown modifier %q", name)}
		}
		m, err := factory(probability, params, basePath)
		if err != nil {
			return nil, err
		}
		mods = append(mods, m)
	}
	return mods, nil
}

// collectModifierWarnings runs every modifier's advisory Validate pass
// against the list it belongs to (global, or a stage's own override)
// and returns the accumulated warning messages. Validate never fails
// construction; it only ever contributes warnings.
func collectModifierWarnings(c *Curriculum) []string {
	var warnings []string
	if len(c.Modifiers) > 0 {
		for _, m := range c.Modifiers {
			warnings = append(warnings, m.Validate(c.Modifiers)...)
		}
	}
	for _, name := range c.StagesOrder {
		stage := c.Stages[name]
		if stage.Modifiers == nil {
			continue
		}
		for _, m := range stage.Modifiers {
			warnings = append(warnings, m.Validate(stage.Modifiers)...)
		}
	}
	return warnings
}
