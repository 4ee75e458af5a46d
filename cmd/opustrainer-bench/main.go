// Command opustrainer-bench measures curriculum batch throughput:
// generate synthetic input, time batch production, report a rate.
package main

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/csvquery/opustrainer/internal/curriculum"
	"github.com/csvquery/opustrainer/internal/dataset"
	"github.com/csvquery/opustrainer/internal/trainer"
)

func main() {
	lines := 200_000
	if len(os.Args) > 1 {
		if n, err := fmt.Sscanf(os.Args[1], "%d", &lines); err != nil || n != 1 {
			fmt.Println("Usage: opustrainer-bench <lines>")
			os.Exit(1)
		}
	}

	fmt.Printf("Generating %d lines of synthetic tsv...\n", lines)
	tmpDir, err := os.MkdirTemp("", "opustrainer_bench")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "bench.tsv")
	if err := generateDataset(path, lines); err != nil {
		panic(err)
	}

	c := &curriculum.Curriculum{
		Seed: 123,
		Datasets: map[string]dataset.Dataset{
			"bench": {Name: "bench", Files: []string{path}},
		},
		StagesOrder: []string{"only"},
		Stages: map[string]*curriculum.Stage{
			"only": {
				Name:         "only",
				Mix:          []curriculum.MixEntry{{Dataset: "bench", Weight: 1.0}},
				UntilDataset: "bench",
				UntilEpoch:   curriculum.Infinite,
			},
		},
	}

	tr, err := trainer.New(c, trainer.Config{
		TmpDir:    tmpDir,
		BatchSize: 1000,
		ChunkSize: 64,
		Workers:   runtime.NumCPU(),
		Async:     true,
	})
	if err != nil {
		panic(err)
	}
	defer tr.Close()

	fmt.Println("Starting batch production...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batches, errc := tr.Run(ctx)

	start := time.Now()
	produced := 0
	for produced < lines {
		b, ok := <-batches
		if !ok {
			break
		}
		produced += len(b.Lines)
	}
	elapsed := time.Since(start)
	cancel()
	for range batches {
		// drain until Run's goroutine observes cancellation
	}
	if err := <-errc; err != nil && ctx.Err() == nil {
		panic(err)
	}

	linesPerSec := float64(produced) / elapsed.Seconds()
	fmt.Printf("\n--------------------------------------------------\n")
	fmt.Printf("Throughput: %.0f lines/s\n", linesPerSec)
	fmt.Printf("Lines:      %d\n", produced)
	fmt.Printf("Time:       %v\n", elapsed)
	fmt.Printf("--------------------------------------------------\n")
}

func generateDataset(path string, lines int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, 64*1024)
	defer w.Flush()

	rng := rand.New(rand.NewSource(123))
	buf := make([]byte, 0, 256)
	for i := 0; i < lines; i++ {
		buf = buf[:0]
		buf = fmt.Appendf(buf, "source sentence %d\ttarget sentence %d with some padding %d\n", i, i, rng.Intn(10000))
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}
