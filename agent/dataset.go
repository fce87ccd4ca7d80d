package agent

import (
	"math/rand"

	"github.com/unixpickle/essentials"
)

// A Batch is one minibatch view into a segment's rows.
type Batch struct {
	Obs   [][]float64
	Acs   []int
	Atarg []float64
	VTarg []float64
}

// A Dataset serves shuffled minibatches of a segment's rows for the
// optimization epochs. The row arrays are not copied; batches index
// into them through a permutation.
type Dataset struct {
	rows    Batch
	shuffle bool
	order   []int
}

// NewDataset wraps the segment rows. When shuffle is set, every
// IterateOnce pass visits the rows in a fresh random order.
func NewDataset(rows Batch, shuffle bool) *Dataset {
	order := make([]int, len(rows.Acs))
	for i := range order {
		order[i] = i
	}
	return &Dataset{rows: rows, shuffle: shuffle, order: order}
}

// IterateOnce calls fn for consecutive minibatches covering every row
// exactly once. A non-positive batchSize serves all rows as a single
// batch. Iteration stops at the first error.
func (d *Dataset) IterateOnce(batchSize int, fn func(b Batch) error) error {
	if d.shuffle {
		rand.Shuffle(len(d.order), func(i, j int) {
			d.order[i], d.order[j] = d.order[j], d.order[i]
		})
	}
	n := len(d.order)
	if batchSize <= 0 {
		batchSize = n
	}
	for start := 0; start < n; start += batchSize {
		end := essentials.MinInt(start+batchSize, n)
		b := Batch{
			Obs:   make([][]float64, 0, end-start),
			Acs:   make([]int, 0, end-start),
			Atarg: make([]float64, 0, end-start),
			VTarg: make([]float64, 0, end-start),
		}
		for _, idx := range d.order[start:end] {
			b.Obs = append(b.Obs, d.rows.Obs[idx])
			b.Acs = append(b.Acs, d.rows.Acs[idx])
			b.Atarg = append(b.Atarg, d.rows.Atarg[idx])
			b.VTarg = append(b.VTarg, d.rows.VTarg[idx])
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	return nil
}
