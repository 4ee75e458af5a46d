package statetracker

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/csvquery/opustrainer/internal/dataset"
	"github.com/csvquery/opustrainer/internal/trainer"
)

func sampleState() trainer.State {
	return trainer.State{
		Stage:         "warmup",
		RandomSeed:    42,
		RandomCounter: 17,
		EpochTracker:  trainer.EpochTrackerState{Epoch: 1, Line: 3},
		Datasets: map[string]dataset.State{
			"clean": {Seed: 42, Line: 3, Epoch: 1},
		},
	}
}

func TestLoadReturnsErrNoStateWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	tr, err := Open(filepath.Join(dir, "feed.state"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer tr.Close()

	if _, err := tr.Load(); !errors.Is(err, ErrNoState) {
		t.Fatalf("expected ErrNoState, got %v", err)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feed.state")
	tr, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer tr.Close()

	want := sampleState()
	if err := tr.Save(want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := tr.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Stage != want.Stage || got.RandomSeed != want.RandomSeed || got.RandomCounter != want.RandomCounter {
		t.Fatalf("state mismatch: got %+v want %+v", got, want)
	}
	if got.Datasets["clean"] != want.Datasets["clean"] {
		t.Fatalf("dataset state mismatch: got %+v want %+v", got.Datasets["clean"], want.Datasets["clean"])
	}
}

func TestSaveLeavesNoTemporaryFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feed.state")
	tr, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer tr.Close()

	if err := tr.Save(sampleState()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	matches, err := filepath.Glob(path + ".new")
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no leftover temp file, found %v", matches)
	}
}

func TestSaveIfDueRespectsInterval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feed.state")
	tr, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer tr.Close()
	tr.Interval = time.Hour

	if err := tr.Save(sampleState()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	later := sampleState()
	later.Stage = "main"
	if err := tr.SaveIfDue(later); err != nil {
		t.Fatalf("SaveIfDue failed: %v", err)
	}
	got, err := tr.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Stage != "warmup" {
		t.Fatalf("SaveIfDue wrote before the interval elapsed: stage %q", got.Stage)
	}
}

func TestDefaultPathAppendsStateSuffix(t *testing.T) {
	if got := DefaultPath("curriculum.yml"); got != "curriculum.yml.state" {
		t.Fatalf("got %q", got)
	}
}
