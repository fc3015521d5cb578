package sequential

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/happyhackingspace/seqlab/classify"
	"github.com/happyhackingspace/seqlab/logmath"
)

type exactNode struct {
	history []string
	total   float64
	back    *exactNode
	label   string
	score   float64
}

// ExactViterbi decodes seq exactly by dynamic programming over the
// tuples of the last historySize labels. Its cost grows with
// NumClasses^historySize, so it suits small histories.
func ExactViterbi(c classify.Classifier, historySize int, schema *classify.Schema, seq []classify.Instance) ([]*classify.ClassLabel, float64, error) {
	if schema == nil || schema.NumClasses() < 2 {
		return nil, 0, fmt.Errorf("sequential: exact decoding needs at least 2 classes")
	}
	start := &exactNode{history: HistoryFromLabels(nil, 0, historySize)}
	layer := map[string]*exactNode{strings.Join(start.history, "\x00"): start}

	for _, inst := range seq {
		next := make(map[string]*exactNode)
		for _, k := range slices.Sorted(maps.Keys(layer)) {
			n := layer[k]
			label := c.Classification(NewHistoryInstance(inst, n.history))
			for ci := range schema.NumClasses() {
				name := schema.ClassName(ci)
				w := label.Weight(name)
				h := append([]string{name}, n.history...)[:historySize]
				key := strings.Join(h, "\x00")
				total := n.total + w
				if prev, ok := next[key]; ok && prev.total >= total {
					continue
				}
				next[key] = &exactNode{history: h, total: total, back: n, label: name, score: w}
			}
		}
		layer = next
	}

	var best *exactNode
	bestTotal := logmath.LogZero
	for _, k := range slices.Sorted(maps.Keys(layer)) {
		if n := layer[k]; best == nil || n.total > bestTotal {
			best, bestTotal = n, n.total
		}
	}
	out := make([]*classify.ClassLabel, len(seq))
	for i, n := len(seq)-1, best; i >= 0; i, n = i-1, n.back {
		out[i] = classify.NewScoredLabel(n.label, n.score)
	}
	return out, best.total, nil
}
