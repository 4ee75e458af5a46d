package modifier

import (
	"strings"
	"testing"

	"github.com/csvquery/opustrainer/internal/prng"
)

func TestUpperCaseModifierAlwaysTriggers(t *testing.T) {
	m := NewUpperCase(1.0)
	rng := prng.New(1)
	out := m.Apply([]string{"hello\tworld"}, rng)
	if out[0] != "HELLO\tWORLD" {
		t.Fatalf("got %q", out[0])
	}
}

func TestUpperCaseModifierNeverTriggers(t *testing.T) {
	m := NewUpperCase(0.0)
	rng := prng.New(1)
	out := m.Apply([]string{"hello\tworld"}, rng)
	if out[0] != "hello\tworld" {
		t.Fatalf("got %q", out[0])
	}
}

func TestTitleCaseModifier(t *testing.T) {
	m := NewTitleCase(1.0)
	rng := prng.New(1)
	out := m.Apply([]string{"the cat sat\tle chat"}, rng)
	if out[0] != "The Cat Sat\tLe Chat" {
		t.Fatalf("got %q", out[0])
	}
}

func TestMergeModifierPreservesTokenCount(t *testing.T) {
	m := NewMerge(1.0, 2, 2)
	rng := prng.New(3)
	batch := []string{"a b\tc d", "e f\tg h"}
	out := m.Apply(batch, rng)
	if len(out) != 1 {
		t.Fatalf("expected merge to produce 1 line, got %d", len(out))
	}
	fields := strings.Split(out[0], "\t")
	if fields[0] != "a b e f" || fields[1] != "c d g h" {
		t.Fatalf("unexpected merge result: %q", out[0])
	}
}

func TestMergeModifierWithAlignments(t *testing.T) {
	m := NewMerge(1.0, 2, 2)
	rng := prng.New(3)
	batch := []string{"a b\tc d\t0-0 1-1", "e f\tg h\t0-0 1-1"}
	out := m.Apply(batch, rng)
	if len(out) != 1 {
		t.Fatalf("expected 1 merged line, got %d", len(out))
	}
	fields := strings.Split(out[0], "\t")
	if len(fields) != 3 {
		t.Fatalf("expected alignment column preserved, got %q", out[0])
	}
	if fields[2] != "0-0 1-1 2-2 3-3" {
		t.Fatalf("unexpected shifted alignment: %q", fields[2])
	}
}

func TestNoiseModifierKeepsOriginalLine(t *testing.T) {
	m := NewNoise(1.0, 2, 4, 3)
	rng := prng.New(9)
	out := m.Apply([]string{"orig\tline"}, rng)
	found := false
	for _, l := range out {
		if l == "orig\tline" {
			found = true
		}
	}
	if !found {
		t.Fatalf("original line missing from output: %v", out)
	}
	if len(out) != 2 {
		t.Fatalf("expected noise line plus original, got %d lines: %v", len(out), out)
	}
}

func TestPlaceholderTagValidateWarnsWhenNotLast(t *testing.T) {
	tags := NewPlaceholderTag(1.0, "")
	upper := NewUpperCase(0.25)

	warnings := tags.Validate([]Modifier{tags, upper})
	if len(warnings) == 0 {
		t.Fatal("expected a warning when Tags is not last")
	}

	warnings = tags.Validate([]Modifier{upper, tags})
	if len(warnings) != 0 {
		t.Fatalf("expected no warning when Tags is last, got %v", warnings)
	}
}

func TestPlaceholderTagAppliesBijectiveAlignment(t *testing.T) {
	tags := NewPlaceholderTag(1.0, "")
	rng := prng.New(1)

	out := tags.Apply([]string{"the cat sat\tle chat\t0-0 1-1"}, rng)
	if len(out) != 1 {
		t.Fatalf("expected one line, got %v", out)
	}
	want := "__source__ the __target__ le __done__ __source__ cat __target__ chat __done__ sat\tle chat"
	if out[0] != want {
		t.Fatalf("got %q want %q", out[0], want)
	}
}

// A source token aligned to two target tokens (or vice versa) is
// non-bijective and must be left untagged entirely, rather than tagged
// twice by a naive loop over the raw alignment pairs.
func TestPlaceholderTagSkipsNonBijectiveAlignment(t *testing.T) {
	tags := NewPlaceholderTag(1.0, "")
	rng := prng.New(1)

	// src index 0 aligns to two target indices (0 and 1): non-bijective,
	// both pairs are dropped. Only the clean 2-2 pair survives tagging.
	out := tags.Apply([]string{"the cat sat\tle chat revoir\t0-0 0-1 2-2"}, rng)
	if len(out) != 1 {
		t.Fatalf("expected one line, got %v", out)
	}
	want := "the cat __source__ sat __target__ revoir __done__\tle chat revoir"
	if out[0] != want {
		t.Fatalf("got %q want %q", out[0], want)
	}
}

func TestPrefixModifierPrependsTargetPhrase(t *testing.T) {
	m := NewPrefix(1.0, 2, 2, DefaultPrefixTemplate)
	rng := prng.New(5)
	out := m.Apply([]string{"I like pie.\tMe gustan los pasteles."}, rng)
	if !strings.HasPrefix(out[0], "__start__ ") || !strings.HasSuffix(out[0], "I like pie.\tMe gustan los pasteles.") {
		t.Fatalf("unexpected prefix result: %q", out[0])
	}
}
