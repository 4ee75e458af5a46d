// Package modpool implements the parallel modifier pool: a worker pool
// that applies an ordered modifier chain to fixed-size slices of a batch
// concurrently, re-assembling the result in input chunk order, built on
// top of errgroup.Group.
package modpool

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/csvquery/opustrainer/internal/modifier"
	"github.com/csvquery/opustrainer/internal/prng"
)

// Pool applies a fixed modifier chain to batches in parallel.
type Pool struct {
	modifiers []modifier.Modifier
	workers   int
}

// New returns a Pool that runs modifiers in order over every chunk.
// workers = 0 selects the sequential fallback (Map runs on the caller's
// goroutine). In both modes each chunk gets its own Source, so rng is
// advanced only by the per-chunk seed draws.
func New(modifiers []modifier.Modifier, workers int) *Pool {
	return &Pool{modifiers: modifiers, workers: workers}
}

// Map splits batch into chunkSize slices (the last shorter), draws one
// per-chunk seed per slice from rng in chunk order before any work is
// submitted, then applies the modifier chain to each slice — in
// parallel across p.workers goroutines when p.workers > 0, or inline
// when p.workers == 0. Results are reassembled in chunk-index order
// regardless of completion order.
func (p *Pool) Map(ctx context.Context, batch []string, chunkSize int, rng *prng.Source) ([]string, error) {
	if chunkSize <= 0 {
		chunkSize = len(batch)
		if chunkSize == 0 {
			chunkSize = 1
		}
	}

	var chunks [][]string
	for i := 0; i < len(batch); i += chunkSize {
		end := i + chunkSize
		if end > len(batch) {
			end = len(batch)
		}
		chunks = append(chunks, batch[i:end])
	}

	seeds := make([]uint64, len(chunks))
	for i := range chunks {
		seeds[i] = rng.Uint64()
	}

	if p.workers == 0 {
		return p.mapSequential(chunks, seeds), nil
	}
	return p.mapParallel(ctx, chunks, seeds)
}

func (p *Pool) mapSequential(chunks [][]string, seeds []uint64) []string {
	var out []string
	for i, chunk := range chunks {
		out = append(out, p.applyChain(chunk, seeds[i])...)
	}
	return out
}

func (p *Pool) mapParallel(ctx context.Context, chunks [][]string, seeds []uint64) ([]string, error) {
	results := make([][]string, len(chunks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			results[i] = p.applyChain(chunk, seeds[i])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []string
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// applyChain runs every modifier in order over chunk, seeded with a
// thread-local PRNG derived from seed. Each worker owns its own Source,
// so no shared mutable randomness ever crosses a goroutine boundary.
func (p *Pool) applyChain(chunk []string, seed uint64) []string {
	rng := prng.New(seed)
	out := chunk
	for _, m := range p.modifiers {
		out = m.Apply(out, rng)
	}
	return out
}
