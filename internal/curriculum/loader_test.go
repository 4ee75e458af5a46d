package curriculum

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
version: 1
seed: 1234
num_fields: 2
trainer: /usr/bin/marian
datasets:
  clean: data/clean.tsv
  noisy: data/noisy.tsv
stages:
  - warmup
  - main
modifiers:
  - UpperCase: 0.1
warmup:
  - "clean 1.0"
  - "until clean 2"
main:
  mix:
    - "clean 0.3"
    - "noisy 0.7"
    - "until noisy inf"
  modifiers:
    - Noise: 0.05
      min_word_length: 3
      max_word_length: 6
      max_words: 4
    - Tags: 0.02
`

func writeTempCurriculum(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "curriculum.yml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing temp curriculum: %v", err)
	}
	return path
}

type collectingWarner struct {
	messages []string
}

func (w *collectingWarner) WarnOnce(_, msg string) {
	w.messages = append(w.messages, msg)
}

func TestLoadParsesFullDocument(t *testing.T) {
	path := writeTempCurriculum(t, sampleYAML)
	c, err := Load(path, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Seed != 1234 {
		t.Fatalf("expected seed 1234, got %d", c.Seed)
	}
	if c.NumFields != 2 {
		t.Fatalf("expected num_fields 2, got %d", c.NumFields)
	}
	if c.Trainer != "/usr/bin/marian" {
		t.Fatalf("unexpected trainer command: %q", c.Trainer)
	}
	if len(c.Datasets) != 2 {
		t.Fatalf("expected 2 datasets, got %d", len(c.Datasets))
	}
	wantClean := filepath.Join(filepath.Dir(path), "data/clean.tsv")
	if c.Datasets["clean"].Files[0] != wantClean {
		t.Fatalf("expected dataset path resolved relative to config dir, got %q want %q", c.Datasets["clean"].Files[0], wantClean)
	}
	if len(c.StagesOrder) != 2 || c.StagesOrder[0] != "warmup" || c.StagesOrder[1] != "main" {
		t.Fatalf("unexpected stage order: %v", c.StagesOrder)
	}
	if len(c.Modifiers) != 1 {
		t.Fatalf("expected 1 global modifier, got %d", len(c.Modifiers))
	}

	warmup := c.Stages["warmup"]
	if len(warmup.Mix) != 1 || warmup.Mix[0].Dataset != "clean" || warmup.Mix[0].Weight != 1.0 {
		t.Fatalf("unexpected warmup mix: %v", warmup.Mix)
	}
	if warmup.UntilDataset != "clean" || warmup.UntilEpoch != 2 {
		t.Fatalf("unexpected warmup until clause: %q %d", warmup.UntilDataset, warmup.UntilEpoch)
	}

	main := c.Stages["main"]
	if len(main.Mix) != 2 {
		t.Fatalf("unexpected main mix: %v", main.Mix)
	}
	if main.UntilDataset != "noisy" || main.UntilEpoch != Infinite {
		t.Fatalf("unexpected main until clause: %q %d", main.UntilDataset, main.UntilEpoch)
	}
	if len(main.Modifiers) != 2 {
		t.Fatalf("expected main stage to override with 2 modifiers, got %d", len(main.Modifiers))
	}
}

func TestLoadRejectsMissingSeed(t *testing.T) {
	bad := `
datasets:
  clean: data/clean.tsv
stages:
  - warmup
warmup:
  - "clean 1.0"
  - "until clean 1"
`
	path := writeTempCurriculum(t, bad)
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected error for missing seed")
	}
}

func TestLoadRejectsUnknownModifier(t *testing.T) {
	bad := `
seed: 1
datasets:
  clean: data/clean.tsv
stages:
  - warmup
modifiers:
  - NotARealModifier: 0.5
warmup:
  - "clean 1.0"
  - "until clean 1"
`
	path := writeTempCurriculum(t, bad)
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected error for unknown modifier name")
	}
}

func TestLoadRejectsStageMissingFromDefinitions(t *testing.T) {
	bad := `
seed: 1
datasets:
  clean: data/clean.tsv
stages:
  - warmup
  - ghost
warmup:
  - "clean 1.0"
  - "until clean 1"
`
	path := writeTempCurriculum(t, bad)
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected error for stage listed but undefined")
	}
}

func TestLoadSurfacesPlaceholderTagOrderingWarning(t *testing.T) {
	doc := `
seed: 1
datasets:
  clean: data/clean.tsv
stages:
  - warmup
modifiers:
  - Tags: 1.0
  - UpperCase: 0.1
warmup:
  - "clean 1.0"
  - "until clean 1"
`
	path := writeTempCurriculum(t, doc)
	w := &collectingWarner{}
	if _, err := Load(path, w); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.messages) == 0 {
		t.Fatal("expected a warning about Tags not being the last modifier")
	}
}

func TestLoadRejectsMalformedMixSentinel(t *testing.T) {
	bad := `
seed: 1
datasets:
  clean: data/clean.tsv
stages:
  - warmup
warmup:
  - "clean 1.0"
`
	path := writeTempCurriculum(t, bad)
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected error for mix missing its until sentinel")
	}
}
