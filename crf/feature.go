package crf

import (
	"maps"
	"slices"

	"github.com/happyhackingspace/seqlab/classify"
)

// Attributes converts an instance to CRF attributes. Zero weights are
// dropped.
func Attributes(inst classify.Instance) map[string]float64 {
	features := inst.Features()
	attrs := make(map[string]float64, len(features))
	for _, f := range features {
		if w := inst.Weight(f); w != 0 {
			attrs[string(f)] = w
		}
	}
	return attrs
}

// SequenceAttributes converts each instance of a sequence.
func SequenceAttributes(seq []classify.Instance) []map[string]float64 {
	out := make([]map[string]float64, len(seq))
	for i, inst := range seq {
		out[i] = Attributes(inst)
	}
	return out
}

func sortedKeys(m map[string]float64) []string {
	return slices.Sorted(maps.Keys(m))
}

type featureEntry struct {
	attrID int
	value  float64
}

// buildAlphabets interns every label and attribute of sequences, in
// order of first appearance, attributes sorted within a position.
func buildAlphabets(sequences []TrainingSequence) (labels, attrs *Alphabet) {
	labels, attrs = NewAlphabet(), NewAlphabet()
	for _, seq := range sequences {
		for t, feats := range seq.Features {
			labels.Add(seq.Labels[t])
			for _, name := range sortedKeys(feats) {
				attrs.Add(name)
			}
		}
	}
	return labels, attrs
}
