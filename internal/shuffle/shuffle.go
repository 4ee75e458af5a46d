// Package shuffle implements the external-memory shuffler (component
// C1): a chunked in-memory sort plus k-way heap merge that turns a lazy
// line stream into a uniformly random permutation of the same lines,
// without ever holding the whole input in memory.
//
// The algorithm mirrors a classic external merge sort, keyed by a
// random float drawn per input line instead of by the line's own
// content: chunks of N (rand, line) pairs are sorted in memory and
// spilled to LZ4-compressed temp files (one worker per chunk, fed
// through a bounded queue), then merged back by a k-way heap merge on
// the random key. Chunk completion order is irrelevant; only the random
// keys determine final order, so the permutation is identical no matter
// how many workers did the sorting.
package shuffle

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"sync"

	"github.com/pierrec/lz4/v4"
	"golang.org/x/sync/errgroup"

	"github.com/csvquery/opustrainer/internal/lineio"
	"github.com/csvquery/opustrainer/internal/prng"
)

// Options configures one Shuffle call.
type Options struct {
	Seed      uint64
	ChunkSize int // max (rand, line) pairs per chunk, before spilling
	Workers   int // 0 runs every chunk inline on the calling goroutine
	TmpDir    string
	NoShuffle bool // passthrough: skip sorting entirely
}

// Result is the output of a Shuffle call: a LineSource backed by a
// temporary file holding the permuted lines, plus a Close that removes
// that file. The caller (typically a dataset reader) owns the lifetime
// of the returned file and MUST call Close when done with it.
type Result struct {
	path string
}

// Lines implements lineio.LineSource by reading the merged permutation
// back off disk.
func (r *Result) Lines(ctx context.Context) (<-chan lineio.Line, error) {
	return (&lineio.FileLineSource{Path: r.path}).Lines(ctx)
}

// Path exposes the backing file, so a reader can open it directly with
// its own buffered reader instead of only iterating through Lines.
func (r *Result) Path() string {
	return r.path
}

// Close removes the backing temp file.
func (r *Result) Close() error {
	if r.path == "" {
		return nil
	}
	return os.Remove(r.path)
}

type pair struct {
	rand float32
	line []byte
}

// header is the on-disk layout of one shuffle-chunk record: a random
// key and the byte length of the line that follows it, in host
// endianness. Not a stable inter-process format — used only by this
// package's own chunk spill files.
type header struct {
	Rand float32
	Len  uint32
}

const headerSize = 8

func writeHeader(w io.Writer, h header) error {
	var buf [headerSize]byte
	binary.NativeEndian.PutUint32(buf[0:4], float32bits(h.Rand))
	binary.NativeEndian.PutUint32(buf[4:8], h.Len)
	_, err := w.Write(buf[:])
	return err
}

func readHeader(r io.Reader) (header, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return header{}, err
	}
	return header{
		Rand: float32frombits(binary.NativeEndian.Uint32(buf[0:4])),
		Len:  binary.NativeEndian.Uint32(buf[4:8]),
	}, nil
}

// Shuffle reads every line from in, and returns a Result whose Lines
// stream the same multiset of lines in a uniformly random order keyed
// by opts.Seed. Empty input produces an empty Result and no temp files.
func Shuffle(ctx context.Context, in lineio.LineSource, opts Options) (*Result, error) {
	lines, err := in.Lines(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening shuffle input: %w", err)
	}

	if opts.NoShuffle {
		return passthrough(lines, opts.TmpDir)
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 1_000_000
	}

	rng := prng.New(opts.Seed)

	var (
		mu         sync.Mutex
		chunkPaths []string
		g          *errgroup.Group
		taskCh     chan chunkTask
	)

	if opts.Workers > 0 {
		g, _ = errgroup.WithContext(ctx)
		taskCh = make(chan chunkTask, opts.Workers)
		for w := 0; w < opts.Workers; w++ {
			g.Go(func() error {
				for task := range taskCh {
					path, err := flushChunk(opts.TmpDir, task.idx, task.items)
					if err != nil {
						return err
					}
					mu.Lock()
					chunkPaths = append(chunkPaths, path)
					mu.Unlock()
				}
				return nil
			})
		}
	}

	chunkIdx := 0
	batch := make([]pair, 0, chunkSize)
	cleanup := func() {
		for _, p := range chunkPaths {
			os.Remove(p)
		}
	}

	submit := func(items []pair) error {
		idx := chunkIdx
		chunkIdx++
		if opts.Workers == 0 {
			path, err := flushChunk(opts.TmpDir, idx, items)
			if err != nil {
				return err
			}
			chunkPaths = append(chunkPaths, path)
			return nil
		}
		select {
		case taskCh <- chunkTask{idx: idx, items: items}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for l := range lines {
		if l.Err != nil {
			if opts.Workers > 0 {
				close(taskCh)
				g.Wait()
			}
			cleanup()
			return nil, fmt.Errorf("reading shuffle input: %w", l.Err)
		}
		line := append([]byte(nil), l.Bytes...)
		batch = append(batch, pair{rand: float32(rng.Float64()), line: line})
		if len(batch) >= chunkSize {
			if err := submit(batch); err != nil {
				if opts.Workers > 0 {
					close(taskCh)
					g.Wait()
				}
				cleanup()
				return nil, err
			}
			batch = make([]pair, 0, chunkSize)
		}
	}
	if len(batch) > 0 {
		if err := submit(batch); err != nil {
			if opts.Workers > 0 {
				close(taskCh)
				g.Wait()
			}
			cleanup()
			return nil, err
		}
	}

	if opts.Workers > 0 {
		close(taskCh)
		if err := g.Wait(); err != nil {
			cleanup()
			return nil, err
		}
	}

	defer cleanup()

	if len(chunkPaths) == 0 {
		return &Result{path: ""}, nil
	}

	// The merge breaks tied keys by position in chunkPaths. File names
	// carry the zero-padded chunk index, so sorting them restores
	// ingestion order no matter which worker finished first.
	slices.Sort(chunkPaths)

	outPath, err := mergeChunks(opts.TmpDir, chunkPaths)
	if err != nil {
		return nil, err
	}
	return &Result{path: outPath}, nil
}

type chunkTask struct {
	idx   int
	items []pair
}

// passthrough streams lines straight to a temp file unchanged, used by
// --no-shuffle. The dataset reader still needs a materialized file to
// seek/resume against, so this still spills to disk; it just skips the
// sort.
func passthrough(lines <-chan lineio.Line, tmpDir string) (*Result, error) {
	f, err := os.CreateTemp(tmpDir, "shuffle-passthrough-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating passthrough temp file: %w", err)
	}
	w := bufio.NewWriterSize(f, 256*1024)
	wrote := false
	for l := range lines {
		if l.Err != nil {
			w.Flush()
			f.Close()
			os.Remove(f.Name())
			return nil, fmt.Errorf("reading shuffle input: %w", l.Err)
		}
		wrote = true
		if _, err := w.Write(l.Bytes); err != nil {
			f.Close()
			os.Remove(f.Name())
			return nil, err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, err
	}
	if !wrote {
		os.Remove(f.Name())
		return &Result{path: ""}, nil
	}
	return &Result{path: f.Name()}, nil
}

var bufWriterPool = sync.Pool{
	New: func() interface{} {
		return bufio.NewWriterSize(nil, 256*1024)
	},
}

var bufReaderPool = sync.Pool{
	New: func() interface{} {
		return bufio.NewReaderSize(nil, 64*1024)
	},
}

// flushChunk sorts items by rand ascending (stable, so tied keys keep
// their original ingestion order — a deliberate, documented tiebreak;
// see DESIGN.md) and spills them, LZ4-compressed, to a fresh temp file.
func flushChunk(tmpDir string, idx int, items []pair) (string, error) {
	slices.SortStableFunc(items, func(a, b pair) int {
		switch {
		case a.rand < b.rand:
			return -1
		case a.rand > b.rand:
			return 1
		default:
			return 0
		}
	})

	f, err := os.CreateTemp(tmpDir, fmt.Sprintf("shuffle-chunk-%09d-*.tmp", idx))
	if err != nil {
		return "", fmt.Errorf("creating chunk file: %w", err)
	}

	lzWriter := lz4.NewWriter(f)
	bw := bufWriterPool.Get().(*bufio.Writer)
	bw.Reset(lzWriter)
	defer func() {
		bw.Reset(nil)
		bufWriterPool.Put(bw)
	}()

	for _, item := range items {
		if err := writeHeader(bw, header{Rand: item.rand, Len: uint32(len(item.line))}); err != nil {
			bw.Flush()
			lzWriter.Close()
			f.Close()
			return "", err
		}
		if _, err := bw.Write(item.line); err != nil {
			bw.Flush()
			lzWriter.Close()
			f.Close()
			return "", err
		}
	}

	if err := bw.Flush(); err != nil {
		lzWriter.Close()
		f.Close()
		return "", err
	}
	if err := lzWriter.Close(); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// mergeEntry is one in-flight record during the k-way merge.
type mergeEntry struct {
	rand   float32
	line   []byte
	source int
}

func (m mergeEntry) less(other mergeEntry) bool {
	if m.rand != other.rand {
		return m.rand < other.rand
	}
	return m.source < other.source
}

// mergeHeap is a manual binary min-heap over mergeEntry, avoiding the
// interface-boxing allocation container/heap would impose per item.
type mergeHeap []mergeEntry

func (h mergeHeap) Len() int           { return len(h) }
func (h mergeHeap) less(i, j int) bool { return h[i].less(h[j]) }
func (h mergeHeap) swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) push(x mergeEntry) {
	*h = append(*h, x)
	h.up(len(*h) - 1)
}

func (h *mergeHeap) pop() mergeEntry {
	old := *h
	n := len(old)
	x := old[0]
	old[0] = old[n-1]
	*h = old[0 : n-1]
	h.down(0, n-1)
	return x
}

func (h *mergeHeap) up(j int) {
	for {
		i := (j - 1) / 2
		if i == j || !(*h)[j].less((*h)[i]) {
			break
		}
		h.swap(i, j)
		j = i
	}
}

func (h *mergeHeap) down(i0, n int) {
	i := i0
	for {
		j1 := 2*i + 1
		if j1 >= n || j1 < 0 {
			break
		}
		j := j1
		if j2 := j1 + 1; j2 < n && (*h)[j2].less((*h)[j1]) {
			j = j2
		}
		if !(*h)[j].less((*h)[i]) {
			break
		}
		h.swap(j, i)
		i = j
	}
}

// chunkReader wraps one open chunk file's LZ4 stream.
type chunkReader struct {
	file *os.File
	br   *bufio.Reader
}

func openChunkReader(path string) (*chunkReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening chunk %s: %w", path, err)
	}
	lzReader := lz4.NewReader(f)
	br := bufReaderPool.Get().(*bufio.Reader)
	br.Reset(lzReader)
	return &chunkReader{file: f, br: br}, nil
}

func (c *chunkReader) next() (header, []byte, error) {
	h, err := readHeader(c.br)
	if err != nil {
		return header{}, nil, err
	}
	line := make([]byte, h.Len)
	if _, err := io.ReadFull(c.br, line); err != nil {
		return header{}, nil, err
	}
	return h, line, nil
}

func (c *chunkReader) close() {
	c.br.Reset(nil)
	bufReaderPool.Put(c.br)
	c.file.Close()
}

// mergeChunks performs the k-way merge of paths by ascending rand key,
// writing the merged lines (without their headers) to a fresh temp
// file, and always removes the chunk files before returning.
func mergeChunks(tmpDir string, paths []string) (string, error) {
	readers := make([]*chunkReader, len(paths))
	defer func() {
		for _, r := range readers {
			if r != nil {
				r.close()
			}
		}
		for _, p := range paths {
			os.Remove(p)
		}
	}()

	for i, p := range paths {
		r, err := openChunkReader(p)
		if err != nil {
			return "", err
		}
		readers[i] = r
	}

	out, err := os.CreateTemp(tmpDir, "shuffle-merged-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating merged output file: %w", err)
	}
	bw := bufio.NewWriterSize(out, 256*1024)

	h := make(mergeHeap, 0, len(readers))
	for i, r := range readers {
		hdr, line, err := r.next()
		if err == nil {
			h.push(mergeEntry{rand: hdr.Rand, line: line, source: i})
		} else if err != io.EOF {
			bw.Flush()
			out.Close()
			os.Remove(out.Name())
			return "", fmt.Errorf("reading chunk %d: %w", i, err)
		}
	}

	for h.Len() > 0 {
		entry := h.pop()
		if _, err := bw.Write(entry.line); err != nil {
			out.Close()
			os.Remove(out.Name())
			return "", err
		}
		hdr, line, err := readers[entry.source].next()
		if err == nil {
			h.push(mergeEntry{rand: hdr.Rand, line: line, source: entry.source})
		} else if err != io.EOF {
			bw.Flush()
			out.Close()
			os.Remove(out.Name())
			return "", fmt.Errorf("reading chunk %d: %w", entry.source, err)
		}
	}

	if err := bw.Flush(); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return out.Name(), nil
}

func float32bits(f float32) uint32 {
	return math.Float32bits(f)
}

func float32frombits(b uint32) float32 {
	return math.Float32frombits(b)
}
