package classify

import (
	"maps"
	"slices"
)

// Hyperplane is a sparse linear weight vector with a bias term.
type Hyperplane struct {
	Weights map[Feature]float64 `json:"weights"`
	Bias    float64             `json:"bias"`
}

// NewHyperplane returns the zero vector.
func NewHyperplane() *Hyperplane {
	return &Hyperplane{Weights: make(map[Feature]float64)}
}

// Score returns bias + w·x.
func (h *Hyperplane) Score(inst Instance) float64 {
	s := h.Bias
	for _, f := range inst.Features() {
		if w, ok := h.Weights[f]; ok {
			s += w * inst.Weight(f)
		}
	}
	return s
}

// Increment adds delta·x to the weights and delta to the bias.
func (h *Hyperplane) Increment(inst Instance, delta float64) {
	for _, f := range inst.Features() {
		h.Weights[f] += delta * inst.Weight(f)
	}
	h.Bias += delta
}

// IncrementHyperplane adds delta·other.
func (h *Hyperplane) IncrementHyperplane(other *Hyperplane, delta float64) {
	for f, w := range other.Weights {
		h.Weights[f] += delta * w
	}
	h.Bias += delta * other.Bias
}

// Weight returns the weight of f.
func (h *Hyperplane) Weight(f Feature) float64 {
	return h.Weights[f]
}

// Features returns the features with a stored weight, sorted.
func (h *Hyperplane) Features() []Feature {
	return slices.Sorted(maps.Keys(h.Weights))
}

// Scaled returns a copy multiplied by factor.
func (h *Hyperplane) Scaled(factor float64) *Hyperplane {
	c := NewHyperplane()
	c.IncrementHyperplane(h, factor)
	return c
}

// Clone returns a deep copy.
func (h *Hyperplane) Clone() *Hyperplane {
	return h.Scaled(1)
}

// AsInstance views the weights as an instance, so one hyperplane can be
// fed to a learner as a training example.
func (h *Hyperplane) AsInstance() Instance {
	m := NewMutableInstance("hyperplane", "")
	for f, w := range h.Weights {
		if w != 0 {
			m.AddNumeric(f, w)
		}
	}
	return m
}
