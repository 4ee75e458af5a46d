package trainer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/csvquery/opustrainer/internal/curriculum"
	"github.com/csvquery/opustrainer/internal/dataset"
	"github.com/csvquery/opustrainer/internal/modpool"
)

func writeLines(t *testing.T, dir, name string, lines []string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func smallCurriculum(t *testing.T) (*curriculum.Curriculum, string) {
	t.Helper()
	dir := t.TempDir()
	cleanPath := writeLines(t, dir, "clean.tsv", []string{
		"a\tA", "b\tB", "c\tC", "d\tD", "e\tE", "f\tF",
	})

	c := &curriculum.Curriculum{
		Seed: 7,
		Datasets: map[string]dataset.Dataset{
			"clean": {Name: "clean", Files: []string{cleanPath}},
		},
		StagesOrder: []string{"only"},
		Stages: map[string]*curriculum.Stage{
			"only": {
				Name:         "only",
				Mix:          []curriculum.MixEntry{{Dataset: "clean", Weight: 1.0}},
				UntilDataset: "clean",
				UntilEpoch:   2,
			},
		},
	}
	return c, dir
}

func TestRunYieldsBatchesThenStops(t *testing.T) {
	c, dir := smallCurriculum(t)
	tr, err := New(c, Config{
		TmpDir:    dir,
		BatchSize: 3,
		ChunkSize: 4,
		Workers:   0,
		NoShuffle: true,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batches, errc := tr.Run(ctx)

	count := 0
	for b := range batches {
		if len(b.Lines) != 3 {
			t.Fatalf("expected batch size 3, got %d: %v", len(b.Lines), b.Lines)
		}
		count++
		if count > 20 {
			t.Fatal("runaway batch production, until clause never tripped")
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count == 0 {
		t.Fatal("expected at least one batch")
	}
}

func TestStateRoundTripResumesExactly(t *testing.T) {
	c, dir := smallCurriculum(t)
	tr, err := New(c, Config{TmpDir: dir, BatchSize: 2, ChunkSize: 4, Workers: 0, NoShuffle: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer tr.Close()

	ctx := context.Background()
	first, err := tr.buildBatch(ctx, modpool.New(nil, 0))
	if err != nil {
		t.Fatalf("buildBatch failed: %v", err)
	}
	_ = first

	snapshot := tr.State()

	tr2, err := New(c, Config{TmpDir: dir, BatchSize: 2, ChunkSize: 4, Workers: 0, NoShuffle: true})
	if err != nil {
		t.Fatalf("New (second) failed: %v", err)
	}
	defer tr2.Close()
	if err := tr2.Restore(ctx, snapshot); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	second, err := tr.buildBatch(ctx, modpool.New(nil, 0))
	if err != nil {
		t.Fatalf("buildBatch (original) failed: %v", err)
	}
	resumed, err := tr2.buildBatch(ctx, modpool.New(nil, 0))
	if err != nil {
		t.Fatalf("buildBatch (resumed) failed: %v", err)
	}

	if len(second) != len(resumed) {
		t.Fatalf("length mismatch: %v vs %v", second, resumed)
	}
	for i := range second {
		if second[i] != resumed[i] {
			t.Fatalf("index %d: original %q resumed %q", i, second[i], resumed[i])
		}
	}
}

func TestEpochTrackerCountsCompletedEpochs(t *testing.T) {
	c, dir := smallCurriculum(t)
	tr, err := New(c, Config{TmpDir: dir, BatchSize: 6, ChunkSize: 4, Workers: 0, NoShuffle: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer tr.Close()

	if tr.epochTracker.Epoch() != 0 {
		t.Fatalf("expected epoch 0 at start, got %d", tr.epochTracker.Epoch())
	}

	ctx := context.Background()
	if _, err := tr.buildBatch(ctx, modpool.New(nil, 0)); err != nil {
		t.Fatalf("buildBatch failed: %v", err)
	}
	if tr.epochTracker.Epoch() != 1 {
		t.Fatalf("expected epoch 1 after consuming the full dataset once, got %d", tr.epochTracker.Epoch())
	}
}
