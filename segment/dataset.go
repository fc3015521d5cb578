package segment

import (
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"

	"github.com/happyhackingspace/seqlab/classify"
)

// Dataset is an ordered collection of candidate groups sharing one
// maximum window size.
type Dataset struct {
	maxWindow  int
	groups     []CandidateGroup
	classNames map[string]struct{}
	size       int
	compress   bool
}

// NewDataset returns an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{maxWindow: -1, classNames: make(map[string]struct{})}
}

// SetCompression makes AddGroup store CompactGroups.
func (d *Dataset) SetCompression(on bool) { d.compress = on }

// AddGroup appends g. Its max window size must match earlier groups.
func (d *Dataset) AddGroup(g CandidateGroup) error {
	if d.maxWindow >= 0 && g.MaxWindowSize() != d.maxWindow {
		return fmt.Errorf("segment: mismatched window sizes: %d, %d", d.maxWindow, g.MaxWindowSize())
	}
	d.maxWindow = g.MaxWindowSize()
	if d.compress {
		if _, ok := g.(*CompactGroup); !ok {
			g = NewCompactGroup(g)
		}
	}
	d.groups = append(d.groups, g)
	for _, n := range g.ClassNames() {
		d.classNames[n] = struct{}{}
	}
	d.size += g.Size()
	return nil
}

// MaxWindowSize returns the window size of the groups, or -1 when empty.
func (d *Dataset) MaxWindowSize() int { return d.maxWindow }

// Size counts the populated windows of all groups.
func (d *Dataset) Size() int { return d.size }

func (d *Dataset) NumGroups() int { return len(d.groups) }

// Groups returns the groups in their current order.
func (d *Dataset) Groups() []CandidateGroup { return d.groups }

// Schema returns the class names used by the window labels. The two-class
// POS/NEG case returns classify.BinarySchema.
func (d *Dataset) Schema() (*classify.Schema, error) {
	names := slices.Sorted(maps.Keys(d.classNames))
	if slices.Equal(names, []string{classify.NegClassName, classify.PosClassName}) {
		return classify.BinarySchema(), nil
	}
	return classify.NewSchema(names)
}

// Shuffle permutes the group order in place.
func (d *Dataset) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(d.groups), func(i, j int) {
		d.groups[i], d.groups[j] = d.groups[j], d.groups[i]
	})
}

// Subset returns a dataset holding the groups at idx, in that order.
func (d *Dataset) Subset(idx []int) *Dataset {
	sub := NewDataset()
	for _, i := range idx {
		// groups already agree on the window size
		_ = sub.AddGroup(d.groups[i])
	}
	return sub
}
