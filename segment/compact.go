package segment

import (
	"maps"
	"slices"

	"github.com/happyhackingspace/seqlab/classify"
)

// delta records how a window instance differs from the sum of the unit
// instances it covers. Features in zero have weight 0 in the window.
type delta struct {
	weights map[classify.Feature]float64
	zero    map[classify.Feature]struct{}
}

// CompactGroup stores unit-length instances plus one delta per longer
// window. Window instances are rebuilt on demand, which saves memory
// when most window features are unions of token features.
type CompactGroup struct {
	maxWindow  int
	seqLen     int
	size       int
	subpop     string
	classNames []string

	unit    []classify.Instance
	deltas  [][]*delta // [start][len-2]
	labels  [][]*classify.ClassLabel
	sources [][]string
}

// NewCompactGroup compresses g.
func NewCompactGroup(g CandidateGroup) *CompactGroup {
	n, w := g.SequenceLength(), g.MaxWindowSize()
	c := &CompactGroup{
		maxWindow:  w,
		seqLen:     n,
		size:       g.Size(),
		subpop:     g.SubpopulationID(),
		classNames: g.ClassNames(),
		unit:       make([]classify.Instance, n),
		deltas:     make([][]*delta, n),
		labels:     make([][]*classify.ClassLabel, n),
		sources:    make([][]string, n),
	}
	for i := range n {
		if u := g.SubsequenceInstance(i, i+1); u != nil {
			c.unit[i] = classify.Copy(u)
		}
	}
	for i := range n {
		c.deltas[i] = make([]*delta, w)
		c.labels[i] = make([]*classify.ClassLabel, w)
		c.sources[i] = make([]string, w)
		for j := i + 1; j-i <= w && j <= n; j++ {
			inst := g.SubsequenceInstance(i, j)
			if inst == nil {
				continue
			}
			c.labels[i][j-i-1] = g.SubsequenceLabel(i, j)
			c.sources[i][j-i-1] = inst.Source()
			if j-i > 1 {
				c.deltas[i][j-i-1] = c.newDelta(i, j, inst)
			}
		}
	}
	return c
}

func (c *CompactGroup) newDelta(start, end int, inst classify.Instance) *delta {
	d := &delta{weights: make(map[classify.Feature]float64), zero: make(map[classify.Feature]struct{})}
	for _, f := range classify.MergeFeatures(c.unitFeatures(start, end), inst.Features()) {
		w := inst.Weight(f)
		if w == 0 {
			d.zero[f] = struct{}{}
			continue
		}
		if sum := c.unitWeight(start, end, f); w != sum {
			d.weights[f] = w - sum
		}
	}
	return d
}

func (c *CompactGroup) unitFeatures(start, end int) []classify.Feature {
	var lists [][]classify.Feature
	for i := start; i < end; i++ {
		if c.unit[i] != nil {
			lists = append(lists, c.unit[i].Features())
		}
	}
	return classify.MergeFeatures(lists...)
}

func (c *CompactGroup) unitWeight(start, end int, f classify.Feature) float64 {
	var w float64
	for i := start; i < end; i++ {
		if c.unit[i] != nil {
			w += c.unit[i].Weight(f)
		}
	}
	return w
}

func (c *CompactGroup) SubsequenceInstance(start, end int) classify.Instance {
	if !inGrid(c, start, end) {
		return nil
	}
	if end-start == 1 {
		return c.unit[start]
	}
	d := c.deltas[start][end-start-1]
	if d == nil {
		return nil
	}
	return &DeltaInstance{group: c, start: start, end: end, diff: d, source: c.sources[start][end-start-1]}
}

func (c *CompactGroup) SubsequenceLabel(start, end int) *classify.ClassLabel {
	if !inGrid(c, start, end) {
		return nil
	}
	return c.labels[start][end-start-1]
}

func (c *CompactGroup) SequenceLength() int     { return c.seqLen }
func (c *CompactGroup) MaxWindowSize() int      { return c.maxWindow }
func (c *CompactGroup) SubpopulationID() string { return c.subpop }
func (c *CompactGroup) Size() int               { return c.size }
func (c *CompactGroup) ClassNames() []string    { return slices.Clone(c.classNames) }

// DeltaInstance is a window instance of a CompactGroup, computed from the
// unit instances and the window's delta.
type DeltaInstance struct {
	group      *CompactGroup
	start, end int
	diff       *delta
	source     string
}

func (d *DeltaInstance) Weight(f classify.Feature) float64 {
	if _, ok := d.diff.zero[f]; ok {
		return 0
	}
	return d.group.unitWeight(d.start, d.end, f) + d.diff.weights[f]
}

// Features returns the unit features and delta features minus the
// forced-zero ones.
func (d *DeltaInstance) Features() []classify.Feature {
	all := classify.MergeFeatures(d.group.unitFeatures(d.start, d.end), slices.Collect(maps.Keys(d.diff.weights)))
	return slices.DeleteFunc(all, func(f classify.Feature) bool {
		_, ok := d.diff.zero[f]
		return ok
	})
}

// BinaryFeatures returns the features with weight exactly 1.
func (d *DeltaInstance) BinaryFeatures() []classify.Feature {
	return slices.DeleteFunc(d.Features(), func(f classify.Feature) bool { return d.Weight(f) != 1 })
}

func (d *DeltaInstance) NumericFeatures() []classify.Feature {
	return slices.DeleteFunc(d.Features(), func(f classify.Feature) bool { return d.Weight(f) == 1 })
}

func (d *DeltaInstance) Source() string          { return d.source }
func (d *DeltaInstance) SubpopulationID() string { return d.group.subpop }
