package shuffle

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"sort"
	"testing"

	"go.uber.org/goleak"

	"github.com/csvquery/opustrainer/internal/lineio"
)

func makeLines(n int) *bytes.Buffer {
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		buf.WriteString("line-")
		buf.WriteString(string(rune('a' + i%26)))
		buf.WriteString("\n")
	}
	return &buf
}

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "in-*.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return f.Name()
}

func readAllLines(t *testing.T, path string) []string {
	t.Helper()
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func TestShuffleIsPermutation(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := writeTempFile(t, makeLines(500).Bytes())
	src := &lineio.FileLineSource{Path: path}

	result, err := Shuffle(context.Background(), src, Options{
		Seed:      42,
		ChunkSize: 50,
		Workers:   3,
		TmpDir:    t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer result.Close()

	out := readAllLines(t, result.Path())
	in := readAllLines(t, path)

	if len(out) != len(in) {
		t.Fatalf("expected %d lines, got %d", len(in), len(out))
	}

	sortedIn := append([]string(nil), in...)
	sortedOut := append([]string(nil), out...)
	sort.Strings(sortedIn)
	sort.Strings(sortedOut)
	for i := range sortedIn {
		if sortedIn[i] != sortedOut[i] {
			t.Fatalf("multiset mismatch at %d: %q vs %q", i, sortedIn[i], sortedOut[i])
		}
	}
}

func TestShuffleDeterministicAcrossWorkerCounts(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := writeTempFile(t, makeLines(300).Bytes())

	run := func(workers int) []string {
		src := &lineio.FileLineSource{Path: path}
		result, err := Shuffle(context.Background(), src, Options{
			Seed:      7,
			ChunkSize: 40,
			Workers:   workers,
			TmpDir:    t.TempDir(),
		})
		if err != nil {
			t.Fatal(err)
		}
		defer result.Close()
		return readAllLines(t, result.Path())
	}

	a := run(0)
	b := run(5)

	if len(a) != len(b) {
		t.Fatalf("length mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("order diverged at line %d: %q vs %q", i, a[i], b[i])
		}
	}
}

func TestShuffleNoShufflePassthrough(t *testing.T) {
	path := writeTempFile(t, makeLines(10).Bytes())
	src := &lineio.FileLineSource{Path: path}

	result, err := Shuffle(context.Background(), src, Options{
		Seed:      1,
		TmpDir:    t.TempDir(),
		NoShuffle: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer result.Close()

	in := readAllLines(t, path)
	out := readAllLines(t, result.Path())
	if len(in) != len(out) {
		t.Fatalf("expected %d lines, got %d", len(in), len(out))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("passthrough reordered line %d: %q vs %q", i, in[i], out[i])
		}
	}
}

func TestShuffleEmptyInput(t *testing.T) {
	path := writeTempFile(t, nil)
	src := &lineio.FileLineSource{Path: path}

	result, err := Shuffle(context.Background(), src, Options{
		Seed:   1,
		TmpDir: t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer result.Close()
	if result.Path() != "" {
		t.Fatalf("expected empty result path, got %q", result.Path())
	}
}
