// Package dataset implements the dataset reader (component C2): an
// infinite, shuffled, resumable line source over a named set of files,
// backed by the external-memory shuffler in internal/shuffle.
package dataset

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/csvquery/opustrainer/internal/lineio"
	"github.com/csvquery/opustrainer/internal/shuffle"
)

// Dataset is a named collection of files read as a single logical
// stream. Datasets are shared by name and treated as value types.
type Dataset struct {
	Name  string
	Files []string
}

// State captures enough to rewind a Reader to a byte-identical
// position: the seed of the epoch currently being read, how many raw
// lines of its shuffled file have been consumed, and the epoch number
// itself.
type State struct {
	Seed  uint64
	Line  uint64
	Epoch uint64
}

// OnceWarner deduplicates warnings by key, so that per-line soft
// failures (field-count normalization, in this package's case) are
// logged at most once per distinct reason rather than once per line.
type OnceWarner interface {
	WarnOnce(key, msg string)
}

type noopWarner struct{}

func (noopWarner) WarnOnce(string, string) {}

// Config describes a dataset reader's fixed parameters — everything
// that does not change across restore().
type Config struct {
	Dataset   Dataset
	Seed      uint64 // curriculum.seed; per-epoch seed is Seed+epoch
	NumFields int    // 0 disables field-count normalization
	TmpDir    string
	ChunkSize int
	Workers   int
	NoShuffle bool
	Warner    OnceWarner // nil uses a no-op warner
}

// Reader is an infinite iterator over dataset.Files: each epoch is a
// freshly re-shuffled pass over the same files, seeded deterministically
// from Config.Seed and the epoch number.
type Reader struct {
	cfg      Config
	strategy shuffleStrategy
	warner   OnceWarner

	epoch   uint64
	line    uint64
	current *shuffle.Result
	file    *os.File
	br      *bufio.Reader
	pending *string
}

// New returns a synchronous Reader: each epoch's shuffle runs on the
// calling goroutine the moment it is needed.
func New(cfg Config) *Reader {
	return newReader(cfg, &syncStrategy{cfg: cfg})
}

// NewAsync returns a Reader that overlaps shuffling with reading: while
// epoch e is being consumed, epoch e+1 is shuffled concurrently in a
// helper goroutine, so that Next() rarely blocks on shuffling. Observable
// output is identical to New's.
func NewAsync(cfg Config) *Reader {
	return newReader(cfg, newAsyncStrategy(cfg))
}

func newReader(cfg Config, strategy shuffleStrategy) *Reader {
	warner := cfg.Warner
	if warner == nil {
		warner = noopWarner{}
	}
	return &Reader{cfg: cfg, strategy: strategy, warner: warner}
}

// State returns the reader's current resumable position.
func (r *Reader) State() State {
	return State{Seed: r.cfg.Seed + r.epoch, Line: r.line, Epoch: r.epoch}
}

// Restore rewinds the reader to s: it kills any in-flight async
// pre-shuffle, reopens the target epoch's shuffle, and replays s.Line
// raw lines from its start. Because each epoch's shuffle is a pure
// function of its seed, this reproduces the exact original position.
func (r *Reader) Restore(ctx context.Context, s State) error {
	r.strategy.close()
	r.closeCurrent()
	r.epoch = s.Epoch
	r.line = 0

	for i := uint64(0); i < s.Line; i++ {
		if _, err := r.fetchRaw(ctx); err != nil {
			return fmt.Errorf("restoring dataset %s to line %d: %w", r.cfg.Dataset.Name, s.Line, err)
		}
	}
	return nil
}

// Next returns the next line, skipping over a shuffled epoch boundary
// transparently, applying field-count normalization if configured, and
// wrapping around to a freshly shuffled next epoch at EOF.
func (r *Reader) Next(ctx context.Context) (string, error) {
	for {
		line, err := r.fetchRaw(ctx)
		if err != nil {
			return "", err
		}
		if r.cfg.NumFields <= 0 {
			return line, nil
		}
		normalized, ok := r.normalize(line)
		if !ok {
			continue
		}
		return normalized, nil
	}
}

// Close releases all resources this reader holds: the current shuffle
// result's temp file and any pending async pre-shuffle's temp file.
func (r *Reader) Close() error {
	r.strategy.close()
	return r.closeCurrent()
}

func (r *Reader) closeCurrent() error {
	var err error
	if r.file != nil {
		err = r.file.Close()
		r.file = nil
	}
	if r.current != nil {
		if cerr := r.current.Close(); cerr != nil && err == nil {
			err = cerr
		}
		r.current = nil
	}
	r.br = nil
	r.pending = nil
	return err
}

// fetchRaw returns the next raw (un-normalized) line, opening the first
// epoch lazily and advancing to subsequent epochs at EOF.
func (r *Reader) fetchRaw(ctx context.Context) (string, error) {
	for {
		if r.current == nil {
			if err := r.openEpoch(ctx); err != nil {
				return "", err
			}
		}
		if r.pending == nil {
			if err := r.closeCurrent(); err != nil {
				return "", err
			}
			r.epoch++
			r.line = 0
			if err := r.openEpoch(ctx); err != nil {
				return "", err
			}
			continue
		}
		line := *r.pending
		next, err := r.prefetch()
		if err != nil {
			return "", err
		}
		r.pending = next
		r.line++
		if next == nil {
			// That was the epoch's last line: close it now so State()
			// already reports the epoch as completed.
			if err := r.closeCurrent(); err != nil {
				return "", err
			}
			r.epoch++
			r.line = 0
		}
		return line, nil
	}
}

func (r *Reader) openEpoch(ctx context.Context) error {
	seed := r.cfg.Seed + r.epoch
	res, err := r.strategy.shuffle(ctx, r.epoch, seed)
	if err != nil {
		return fmt.Errorf("shuffling dataset %s epoch %d: %w", r.cfg.Dataset.Name, r.epoch, err)
	}
	r.current = res
	if res.Path() == "" {
		r.file = nil
		r.br = nil
		r.pending = nil
		return nil
	}
	f, err := os.Open(res.Path())
	if err != nil {
		return fmt.Errorf("opening shuffled file for dataset %s: %w", r.cfg.Dataset.Name, err)
	}
	r.file = f
	r.br = bufio.NewReaderSize(f, 64*1024)
	pending, err := r.prefetch()
	if err != nil {
		return err
	}
	r.pending = pending
	return nil
}

// prefetch keeps one line of look-ahead so a malformed trailing record
// can be inspected before being handed to the caller as EOF.
func (r *Reader) prefetch() (*string, error) {
	if r.br == nil {
		return nil, nil
	}
	line, err := r.br.ReadString('\n')
	if len(line) > 0 {
		return &line, nil
	}
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	return nil, nil
}

func (r *Reader) normalize(line string) (string, bool) {
	trimmed := strings.TrimRight(line, "\r\n")
	fields := strings.Split(trimmed, "\t")
	k := r.cfg.NumFields

	for _, f := range fields {
		if f == "" {
			r.warner.WarnOnce(r.cfg.Dataset.Name+":empty_field",
				fmt.Sprintf("dataset %s: skipping line with an empty field", r.cfg.Dataset.Name))
			return "", false
		}
	}
	if len(fields) < k {
		r.warner.WarnOnce(r.cfg.Dataset.Name+":too_few_fields",
			fmt.Sprintf("dataset %s: skipping line with fewer than %d fields", r.cfg.Dataset.Name, k))
		return "", false
	}
	if len(fields) > k {
		fields = fields[:k]
	}
	return strings.Join(fields, "\t") + "\n", true
}

// shuffleStrategy abstracts the difference between the synchronous
// reader (shuffle on demand) and the async reader (shuffle ahead of
// time in a helper goroutine); both present the same Reader API.
type shuffleStrategy interface {
	shuffle(ctx context.Context, epoch, seed uint64) (*shuffle.Result, error)
	close()
}

type syncStrategy struct {
	cfg Config
}

func (s *syncStrategy) shuffle(ctx context.Context, epoch, seed uint64) (*shuffle.Result, error) {
	src := lineio.OpenDataset(s.cfg.Dataset.Files)
	return shuffle.Shuffle(ctx, src, shuffle.Options{
		Seed:      seed,
		ChunkSize: s.cfg.ChunkSize,
		Workers:   s.cfg.Workers,
		TmpDir:    s.cfg.TmpDir,
		NoShuffle: s.cfg.NoShuffle,
	})
}

func (s *syncStrategy) close() {}
