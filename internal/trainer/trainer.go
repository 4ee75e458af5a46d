// Package trainer implements the stage state machine (component C5):
// it drives a weighted mix of dataset readers through a modifier pool,
// moving through curriculum stages as their until-clauses trip, and
// exposes enough state to resume exactly where it left off.
package trainer

import (
	"context"
	"fmt"
	"strings"

	"github.com/csvquery/opustrainer/internal/curriculum"
	"github.com/csvquery/opustrainer/internal/dataset"
	"github.com/csvquery/opustrainer/internal/modpool"
	"github.com/csvquery/opustrainer/internal/prng"
)

// Batch is one yielded unit of training data, tagged with the stage it
// was produced under (useful for logging and progress reporting).
type Batch struct {
	Stage string
	Lines []string
}

// Config holds the run-time knobs that do not come from the curriculum
// document itself (mirroring the original CLI's --batch-size,
// --chunk-size, --workers, --sync, --no-shuffle flags).
type Config struct {
	TmpDir    string
	BatchSize int
	ChunkSize int
	Workers   int
	NoShuffle bool
	Async     bool
	Warner    dataset.OnceWarner
}

// DatasetState is the resumable position of a single dataset reader.
type DatasetState = dataset.State

// EpochTrackerState is the resumable position of an EpochTracker.
type EpochTrackerState struct {
	Epoch uint64
	Line  uint64
}

// State is everything needed to resume a Trainer to a byte-identical
// position: the current stage, the main-thread PRNG's (seed, counter),
// the epoch tracker watching the current stage's until-dataset, and
// every dataset reader's own state.
type State struct {
	Stage         string
	RandomSeed    uint64
	RandomCounter uint64
	EpochTracker  EpochTrackerState
	Datasets      map[string]DatasetState
}

// EpochTracker counts how many epochs a dataset reader has completed
// since tracking started, correcting for the case where the reader is
// mid-epoch (hasn't yet caught up to where it was when tracking began).
type EpochTracker struct {
	reader      *dataset.Reader
	epochOffset uint64
	lineOffset  uint64
}

func newEpochTracker(r *dataset.Reader) *EpochTracker {
	s := r.State()
	return &EpochTracker{reader: r, epochOffset: s.Epoch, lineOffset: s.Line}
}

// Epoch returns the number of epochs completed since tracking started.
// It subtracts one while the reader's line count has not yet caught back
// up to where it was at tracking-start, since the current epoch has not
// fully completed yet; the reader only moves forward, so the result
// never drops below zero.
func (t *EpochTracker) Epoch() int64 {
	s := t.reader.State()
	epoch := int64(s.Epoch) - int64(t.epochOffset)
	if s.Line < t.lineOffset {
		epoch--
	}
	return epoch
}

func (t *EpochTracker) State() EpochTrackerState {
	return EpochTrackerState{Epoch: t.epochOffset, Line: t.lineOffset}
}

func (t *EpochTracker) restore(s EpochTrackerState) {
	t.epochOffset = s.Epoch
	t.lineOffset = s.Line
}

// Trainer produces batches according to the curriculum's stage mix and
// termination clauses; the caller writes them to the child trainer
// process.
type Trainer struct {
	curriculum *curriculum.Curriculum
	cfg        Config

	readers map[string]*dataset.Reader
	rng     *prng.Source

	stage        *curriculum.Stage
	epochTracker *EpochTracker
}

// New constructs a Trainer at the curriculum's first stage, with every
// dataset reader starting at epoch 0.
func New(c *curriculum.Curriculum, cfg Config) (*Trainer, error) {
	if len(c.StagesOrder) == 0 {
		return nil, fmt.Errorf("curriculum has no stages")
	}

	t := &Trainer{
		curriculum: c,
		cfg:        cfg,
		readers:    make(map[string]*dataset.Reader, len(c.Datasets)),
		rng:        prng.New(c.Seed),
	}

	for name, ds := range c.Datasets {
		readerCfg := dataset.Config{
			Dataset:   ds,
			Seed:      c.Seed,
			NumFields: c.NumFields,
			TmpDir:    cfg.TmpDir,
			ChunkSize: cfg.ChunkSize,
			Workers:   cfg.Workers,
			NoShuffle: cfg.NoShuffle,
			Warner:    cfg.Warner,
		}
		if cfg.Async {
			t.readers[name] = dataset.NewAsync(readerCfg)
		} else {
			t.readers[name] = dataset.New(readerCfg)
		}
	}

	t.stage = c.Stages[c.StagesOrder[0]]
	t.epochTracker = newEpochTracker(t.readers[t.stage.UntilDataset])
	return t, nil
}

// State snapshots everything needed to call Restore later and resume
// from exactly this point.
func (t *Trainer) State() State {
	stageName := ""
	if t.stage != nil {
		stageName = t.stage.Name
	}
	seed, counter := t.rng.State()
	datasets := make(map[string]DatasetState, len(t.readers))
	for name, r := range t.readers {
		datasets[name] = r.State()
	}
	return State{
		Stage:         stageName,
		RandomSeed:    seed,
		RandomCounter: counter,
		EpochTracker:  t.epochTracker.State(),
		Datasets:      datasets,
	}
}

// Restore rewinds every reader and the main-thread PRNG to s, and moves
// to s's stage.
func (t *Trainer) Restore(ctx context.Context, s State) error {
	stage, ok := t.curriculum.Stages[s.Stage]
	if !ok {
		return fmt.Errorf("restoring trainer: unknown stage %q", s.Stage)
	}

	t.rng.Restore(s.RandomSeed, s.RandomCounter)
	t.stage = stage

	for name, r := range t.readers {
		ds, ok := s.Datasets[name]
		if !ok {
			continue
		}
		if err := r.Restore(ctx, ds); err != nil {
			return fmt.Errorf("restoring dataset %s: %w", name, err)
		}
	}

	t.epochTracker = newEpochTracker(t.readers[stage.UntilDataset])
	t.epochTracker.restore(s.EpochTracker)
	return nil
}

// Close releases every reader's resources.
func (t *Trainer) Close() error {
	var err error
	for _, r := range t.readers {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (t *Trainer) nextStage() {
	if t.stage == nil {
		return
	}
	next, ok := t.curriculum.NextStage(t.stage.Name)
	if !ok {
		t.stage = nil
		return
	}
	t.stage = next
	t.epochTracker = newEpochTracker(t.readers[next.UntilDataset])
}

// Run streams batches on the returned channel until every stage's
// until-clause has been satisfied, ctx is canceled, or a reader/pool
// error occurs. Both channels close together; the caller should drain
// err after batches closes to learn why Run stopped.
func (t *Trainer) Run(ctx context.Context) (<-chan Batch, <-chan error) {
	batches := make(chan Batch)
	errc := make(chan error, 1)

	go func() {
		defer close(batches)
		defer close(errc)

		for t.stage != nil {
			mods := t.curriculum.StageModifiers(t.stage)
			pool := modpool.New(mods, t.cfg.Workers)

			for t.stage.UntilEpoch == curriculum.Infinite || t.epochTracker.Epoch() < int64(t.stage.UntilEpoch) {
				lines, err := t.buildBatch(ctx, pool)
				if err != nil {
					errc <- err
					return
				}
				select {
				case batches <- Batch{Stage: t.stage.Name, Lines: lines}:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
			t.nextStage()
		}
	}()

	return batches, errc
}

// buildBatch reads floor(batch_size*weight) lines from each dataset in
// the stage's mix (weights are not renormalized, so a mix that sums under
// 1.0 yields a proportionally smaller batch by design, not a bug), runs
// the modifier pool over the result, and optionally Fisher-Yates
// shuffles it.
func (t *Trainer) buildBatch(ctx context.Context, pool *modpool.Pool) ([]string, error) {
	var batch []string
	for _, entry := range t.stage.Mix {
		n := int(float64(t.cfg.BatchSize) * entry.Weight)
		reader := t.readers[entry.Dataset]
		for i := 0; i < n; i++ {
			line, err := reader.Next(ctx)
			if err != nil {
				return nil, fmt.Errorf("reading dataset %s: %w", entry.Dataset, err)
			}
			batch = append(batch, strings.TrimRight(line, "\r\n"))
		}
	}

	out, err := pool.Map(ctx, batch, t.cfg.ChunkSize, t.rng)
	if err != nil {
		return nil, fmt.Errorf("applying modifiers: %w", err)
	}

	if !t.cfg.NoShuffle {
		t.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}

	return out, nil
}
