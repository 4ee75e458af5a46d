package modifier

import (
	"strings"

	"github.com/csvquery/opustrainer/internal/align"
	"github.com/csvquery/opustrainer/internal/prng"
)

// MergeModifier randomly merges a run of up to MaxLines consecutive
// lines into one, concatenating source and target sides with spaces
// and fixing up an optional third alignment column so it still refers
// to the merged sentence's token positions.
type MergeModifier struct {
	Base
	MinLines int
	MaxLines int
}

func NewMerge(probability float64, minLines, maxLines int) *MergeModifier {
	return &MergeModifier{Base: NewBase(probability), MinLines: minLines, MaxLines: maxLines}
}

func (m *MergeModifier) Apply(batch []string, rng *prng.Source) []string {
	var out []string
	for i := 0; i < len(batch); {
		if roll(rng, m.probability) {
			mergeSize := randIntRange(rng, m.MinLines, m.MaxLines)
			end := i + mergeSize
			if end > len(batch) {
				end = len(batch)
			}
			out = append(out, mergeSents(batch[i:end]))
			i = end
		} else {
			out = append(out, batch[i])
			i++
		}
	}
	return out
}

// mergeSents joins n tab-separated sentence pairs into one, keeping
// their alignment column correct if every input line has one.
func mergeSents(lines []string) string {
	rows := make([][]string, len(lines))
	srcTokens := make([][]string, len(lines))
	trgTokens := make([][]string, len(lines))
	haveAlignments := true

	for i, line := range lines {
		row := strings.Split(line, "\t")
		rows[i] = row
		srcTokens[i] = strings.Fields(row[0])
		if len(row) > 1 {
			trgTokens[i] = strings.Fields(row[1])
		}
		if len(row) <= 2 {
			haveAlignments = false
		}
	}

	srcMerged := joinTokenRows(srcTokens)
	trgMerged := joinTokenRows(trgTokens)

	if !haveAlignments {
		return srcMerged + "\t" + trgMerged
	}

	srcOffsets := accumulateLengths(srcTokens)
	trgOffsets := accumulateLengths(trgTokens)

	var joined []align.Pair
	for i, row := range rows {
		pairs, err := align.Parse(row[2], -1, -1)
		if err != nil {
			// Malformed alignment column: degrade to no alignment
			// column rather than fail the whole batch, same spirit as
			// a modifier soft error on per-line bad data.
			return srcMerged + "\t" + trgMerged
		}
		shifted := align.Shift(pairs, srcOffsets[i], trgOffsets[i])
		joined = append(joined, shifted...)
	}

	return srcMerged + "\t" + trgMerged + "\t" + align.Format(joined)
}

func joinTokenRows(rows [][]string) string {
	var all []string
	for _, row := range rows {
		all = append(all, row...)
	}
	return strings.Join(all, " ")
}

// accumulateLengths returns, for each row, the running total token
// count of all preceding rows — the offset that row's own token
// indices must be shifted by once merged.
func accumulateLengths(rows [][]string) []int {
	offsets := make([]int, len(rows))
	total := 0
	for i, row := range rows {
		offsets[i] = total
		total += len(row)
	}
	return offsets
}
