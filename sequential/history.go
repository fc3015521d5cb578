// Package sequential turns per-instance classifiers into sequence
// labelers. A conditional Markov model (CMM) feeds the last few predicted
// labels back into the classifier as features and decodes with a beam
// search. Structured perceptron trainers learn the underlying weights.
package sequential

import (
	"slices"
	"strconv"

	"github.com/happyhackingspace/seqlab/classify"
)

const (
	// NullClassName fills history slots before the start of a sequence.
	NullClassName = "NULL"
	// HistoryFeature prefixes the synthetic previous-label features.
	HistoryFeature = "previousLabel"
)

// HistoryInstance wraps an instance with previous-label features.
// History position k (0-based, most recent first) contributes the binary
// feature previousLabel.<k+1>.<label>.
type HistoryInstance struct {
	base     classify.Instance
	history  []string
	features []classify.Feature // sorted
}

// NewHistoryInstance builds the wrapper. history is copied.
func NewHistoryInstance(base classify.Instance, history []string) *HistoryInstance {
	h := &HistoryInstance{base: base, history: slices.Clone(history)}
	for k, label := range history {
		h.features = append(h.features, HistoryFeatureFor(k, label))
	}
	slices.Sort(h.features)
	h.features = slices.Compact(h.features)
	return h
}

// HistoryFeatureFor names the feature for label at history offset k.
func HistoryFeatureFor(k int, label string) classify.Feature {
	return classify.NewFeature(HistoryFeature, strconv.Itoa(k+1), label)
}

// HistoryFromLabels returns the size labels preceding position j,
// most recent first, padded with NullClassName.
func HistoryFromLabels(labels []string, j, size int) []string {
	history := make([]string, size)
	for k := range size {
		if i := j - k - 1; i >= 0 {
			history[k] = labels[i]
		} else {
			history[k] = NullClassName
		}
	}
	return history
}

// History returns the previous labels, most recent first.
func (h *HistoryInstance) History() []string { return slices.Clone(h.history) }

// Base returns the wrapped instance.
func (h *HistoryInstance) Base() classify.Instance { return h.base }

func (h *HistoryInstance) Weight(f classify.Feature) float64 {
	if _, found := slices.BinarySearch(h.features, f); found {
		return 1
	}
	return h.base.Weight(f)
}

func (h *HistoryInstance) BinaryFeatures() []classify.Feature {
	return classify.MergeFeatures(h.base.BinaryFeatures(), h.features)
}

func (h *HistoryInstance) NumericFeatures() []classify.Feature {
	return h.base.NumericFeatures()
}

func (h *HistoryInstance) Features() []classify.Feature {
	return classify.MergeFeatures(h.base.Features(), h.features)
}

func (h *HistoryInstance) Source() string          { return h.base.Source() }
func (h *HistoryInstance) SubpopulationID() string { return h.base.SubpopulationID() }

// labelNames returns the best class names of labels.
func labelNames(labels []*classify.ClassLabel) []string {
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = l.BestClassName()
	}
	return names
}
