package classify

import (
	"maps"
	"slices"
)

// Instance is a sparse feature vector. Feature lists are sorted so that
// iteration order never depends on map layout.
type Instance interface {
	Weight(f Feature) float64
	BinaryFeatures() []Feature
	NumericFeatures() []Feature
	Features() []Feature
	Source() string
	SubpopulationID() string
}

// MutableInstance is the standard Instance builder.
type MutableInstance struct {
	source  string
	subpop  string
	binary  map[Feature]struct{}
	numeric map[Feature]float64
}

// NewMutableInstance returns an empty instance.
func NewMutableInstance(source, subpopulationID string) *MutableInstance {
	return &MutableInstance{
		source:  source,
		subpop:  subpopulationID,
		binary:  make(map[Feature]struct{}),
		numeric: make(map[Feature]float64),
	}
}

// AddBinary adds f with weight 1.
func (m *MutableInstance) AddBinary(f Feature) {
	if _, ok := m.numeric[f]; ok {
		return
	}
	m.binary[f] = struct{}{}
}

// AddNumeric sets f to weight w, replacing a binary feature of the same name.
func (m *MutableInstance) AddNumeric(f Feature, w float64) {
	delete(m.binary, f)
	m.numeric[f] = w
}

func (m *MutableInstance) Weight(f Feature) float64 {
	if w, ok := m.numeric[f]; ok {
		return w
	}
	if _, ok := m.binary[f]; ok {
		return 1
	}
	return 0
}

func (m *MutableInstance) BinaryFeatures() []Feature {
	return slices.Sorted(maps.Keys(m.binary))
}

func (m *MutableInstance) NumericFeatures() []Feature {
	return slices.Sorted(maps.Keys(m.numeric))
}

func (m *MutableInstance) Features() []Feature {
	return MergeFeatures(m.BinaryFeatures(), m.NumericFeatures())
}

func (m *MutableInstance) Source() string          { return m.source }
func (m *MutableInstance) SubpopulationID() string { return m.subpop }

// MergeFeatures returns the sorted union of feature lists.
func MergeFeatures(lists ...[]Feature) []Feature {
	var out []Feature
	for _, l := range lists {
		out = append(out, l...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Copy returns a MutableInstance with the same features and weights as inst.
func Copy(inst Instance) *MutableInstance {
	m := NewMutableInstance(inst.Source(), inst.SubpopulationID())
	for _, f := range inst.BinaryFeatures() {
		m.AddBinary(f)
	}
	for _, f := range inst.NumericFeatures() {
		m.AddNumeric(f, inst.Weight(f))
	}
	return m
}
