package segment

import (
	"fmt"
	"maps"
	"slices"

	"github.com/happyhackingspace/seqlab/classify"
)

// CandidateGroup holds, for one sequence, an optional instance and label
// for every window [start, end) with 1 <= end-start <= MaxWindowSize.
// Lookups outside the grid return nil.
type CandidateGroup interface {
	SubsequenceInstance(start, end int) classify.Instance
	SubsequenceLabel(start, end int) *classify.ClassLabel
	SequenceLength() int
	MaxWindowSize() int
	SubpopulationID() string
	// Size counts the populated windows.
	Size() int
	// ClassNames returns every class named by a window label, sorted.
	ClassNames() []string
}

func inGrid(g CandidateGroup, start, end int) bool {
	return start >= 0 && end > start && end <= g.SequenceLength() && end-start <= g.MaxWindowSize()
}

// MutableGroup is the dense CandidateGroup: one slot per window.
type MutableGroup struct {
	maxWindow int
	seqLen    int
	window    [][]classify.Instance
	label     [][]*classify.ClassLabel
	size      int
	subpop    string
	hasSubpop bool
}

// NewMutableGroup returns an empty group for a sequence of seqLen positions.
func NewMutableGroup(maxWindow, seqLen int) (*MutableGroup, error) {
	if maxWindow < 1 {
		return nil, fmt.Errorf("segment: max window size must be positive, got %d", maxWindow)
	}
	if seqLen < 0 {
		return nil, fmt.Errorf("segment: negative sequence length %d", seqLen)
	}
	g := &MutableGroup{
		maxWindow: maxWindow,
		seqLen:    seqLen,
		window:    make([][]classify.Instance, seqLen),
		label:     make([][]*classify.ClassLabel, seqLen),
	}
	for i := range seqLen {
		g.window[i] = make([]classify.Instance, maxWindow)
		g.label[i] = make([]*classify.ClassLabel, maxWindow)
	}
	return g, nil
}

// SetSubsequence stores inst and label for the window [start, end).
// Every instance of a group must share one subpopulation id.
func (g *MutableGroup) SetSubsequence(start, end int, inst classify.Instance, label *classify.ClassLabel) error {
	if !inGrid(g, start, end) {
		return fmt.Errorf("segment: window [%d,%d) outside sequence of length %d with max window %d", start, end, g.seqLen, g.maxWindow)
	}
	if inst == nil {
		return fmt.Errorf("segment: nil instance for window [%d,%d)", start, end)
	}
	if g.hasSubpop && g.subpop != inst.SubpopulationID() {
		return fmt.Errorf("segment: subpopulation %q mixed with %q", inst.SubpopulationID(), g.subpop)
	}
	g.subpop, g.hasSubpop = inst.SubpopulationID(), true
	if g.window[start][end-start-1] == nil {
		g.size++
	}
	g.window[start][end-start-1] = inst
	g.label[start][end-start-1] = label
	return nil
}

func (g *MutableGroup) SubsequenceInstance(start, end int) classify.Instance {
	if !inGrid(g, start, end) {
		return nil
	}
	return g.window[start][end-start-1]
}

func (g *MutableGroup) SubsequenceLabel(start, end int) *classify.ClassLabel {
	if !inGrid(g, start, end) {
		return nil
	}
	return g.label[start][end-start-1]
}

func (g *MutableGroup) SequenceLength() int     { return g.seqLen }
func (g *MutableGroup) MaxWindowSize() int      { return g.maxWindow }
func (g *MutableGroup) SubpopulationID() string { return g.subpop }
func (g *MutableGroup) Size() int               { return g.size }

func (g *MutableGroup) ClassNames() []string {
	names := make(map[string]struct{})
	for _, row := range g.label {
		for _, l := range row {
			if l == nil {
				continue
			}
			for _, n := range l.PossibleLabels() {
				names[n] = struct{}{}
			}
		}
	}
	return slices.Sorted(maps.Keys(names))
}
