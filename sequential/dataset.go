package sequential

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/happyhackingspace/seqlab/classify"
)

// Dataset is an ordered collection of labeled sequences.
type Dataset struct {
	sequences [][]classify.Example
}

// NewDataset returns an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{}
}

// AddSequence appends a sequence. Every example must carry a label.
func (d *Dataset) AddSequence(seq []classify.Example) error {
	for i, ex := range seq {
		if ex.Instance == nil || ex.Label == nil {
			return fmt.Errorf("sequential: example %d of sequence %d is incomplete", i, len(d.sequences))
		}
	}
	d.sequences = append(d.sequences, seq)
	return nil
}

// Sequences returns the sequences in their current order.
func (d *Dataset) Sequences() [][]classify.Example { return d.sequences }

// NumSequences returns the number of sequences.
func (d *Dataset) NumSequences() int { return len(d.sequences) }

// Size returns the total number of examples.
func (d *Dataset) Size() int {
	n := 0
	for _, s := range d.sequences {
		n += len(s)
	}
	return n
}

// Schema returns the sorted set of gold class names.
func (d *Dataset) Schema() (*classify.Schema, error) {
	seen := make(map[string]bool)
	var names []string
	for _, seq := range d.sequences {
		for _, ex := range seq {
			if n := ex.Label.BestClassName(); !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	slices.Sort(names)
	return classify.NewSchema(names)
}

// Shuffle permutes the sequence order in place.
func (d *Dataset) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(d.sequences), func(i, j int) {
		d.sequences[i], d.sequences[j] = d.sequences[j], d.sequences[i]
	})
}

// Subset returns a dataset holding the sequences at idx, in that order.
func (d *Dataset) Subset(idx []int) *Dataset {
	sub := &Dataset{sequences: make([][]classify.Example, 0, len(idx))}
	for _, i := range idx {
		sub.sequences = append(sub.sequences, d.sequences[i])
	}
	return sub
}

// Instances strips the labels off a sequence.
func Instances(seq []classify.Example) []classify.Instance {
	out := make([]classify.Instance, len(seq))
	for i, ex := range seq {
		out[i] = ex.Instance
	}
	return out
}

// GoldLabels returns the best class name of each example.
func GoldLabels(seq []classify.Example) []string {
	out := make([]string, len(seq))
	for i, ex := range seq {
		out[i] = ex.Label.BestClassName()
	}
	return out
}
