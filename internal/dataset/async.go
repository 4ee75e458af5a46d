package dataset

import (
	"context"
	"sync"

	"github.com/csvquery/opustrainer/internal/lineio"
	"github.com/csvquery/opustrainer/internal/shuffle"
)

// asyncJob is one in-flight or completed background shuffle.
type asyncJob struct {
	done   chan struct{}
	cancel context.CancelFunc
	result *shuffle.Result
	err    error
}

// asyncStrategy pre-shuffles the next epoch in a helper goroutine while
// the current one is being consumed. On close, any job that has not yet
// been claimed by shuffle() is cancelled and its temp file is removed.
type asyncStrategy struct {
	cfg Config

	mu      sync.Mutex
	pending map[uint64]*asyncJob
}

func newAsyncStrategy(cfg Config) *asyncStrategy {
	return &asyncStrategy{cfg: cfg, pending: make(map[uint64]*asyncJob)}
}

func (s *asyncStrategy) start(epoch uint64) {
	s.mu.Lock()
	if _, ok := s.pending[epoch]; ok {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	job := &asyncJob{done: make(chan struct{}), cancel: cancel}
	s.pending[epoch] = job
	s.mu.Unlock()

	go func() {
		defer close(job.done)
		seed := s.cfg.Seed + epoch
		src := lineio.OpenDataset(s.cfg.Dataset.Files)
		job.result, job.err = shuffle.Shuffle(ctx, src, shuffle.Options{
			Seed:      seed,
			ChunkSize: s.cfg.ChunkSize,
			Workers:   s.cfg.Workers,
			TmpDir:    s.cfg.TmpDir,
			NoShuffle: s.cfg.NoShuffle,
		})
	}()
}

// shuffle returns the result of shuffling epoch, starting it now if no
// pre-shuffle for it was already in flight, and always kicks off the
// look-ahead shuffle for epoch+1 before returning.
func (s *asyncStrategy) shuffle(ctx context.Context, epoch, seed uint64) (*shuffle.Result, error) {
	s.start(epoch)

	s.mu.Lock()
	job := s.pending[epoch]
	s.mu.Unlock()

	select {
	case <-job.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	delete(s.pending, epoch)
	s.mu.Unlock()

	s.start(epoch + 1)

	return job.result, job.err
}

// close kills every pre-shuffle job that has not yet been claimed and
// removes its backing temp file, so that restore() or Close() never
// leaks a shuffle in progress.
func (s *asyncStrategy) close() {
	s.mu.Lock()
	jobs := s.pending
	s.pending = make(map[uint64]*asyncJob)
	s.mu.Unlock()

	for _, job := range jobs {
		job.cancel()
		<-job.done
		if job.result != nil {
			job.result.Close()
		}
	}
}
