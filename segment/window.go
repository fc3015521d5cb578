package segment

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/happyhackingspace/seqlab/classify"
)

// WindowLengthFeature prefixes the feature naming a window's length.
const WindowLengthFeature = "window.length"

// NewWindowGroup builds a dense group over units. The instance of window
// [s, e) sums the unit weights and adds window.length.<e-s>. A window is
// labeled with the class of the gold span it matches exactly, and with
// the background class otherwise. A span longer than maxWindow is split
// into consecutive full-length windows with the remainder last. spans may
// be nil for unlabeled data.
func NewWindowGroup(units []classify.Instance, spans []Span, maxWindow int) (*MutableGroup, error) {
	n := len(units)
	g, err := NewMutableGroup(maxWindow, n)
	if err != nil {
		return nil, err
	}
	gold := make(map[[2]int]string, len(spans))
	covered := make([]bool, n)
	for _, sp := range spans {
		if sp.Lo < 0 || sp.Hi > n || sp.Hi <= sp.Lo {
			return nil, fmt.Errorf("segment: span [%d,%d) outside sequence of length %d", sp.Lo, sp.Hi, n)
		}
		for i := sp.Lo; i < sp.Hi; i++ {
			if covered[i] {
				return nil, fmt.Errorf("segment: span [%d,%d) overlaps another span", sp.Lo, sp.Hi)
			}
			covered[i] = true
		}
		for lo := sp.Lo; lo < sp.Hi; lo += maxWindow {
			gold[[2]int{lo, min(lo+maxWindow, sp.Hi)}] = sp.Class
		}
	}

	for start := range n {
		for end := start + 1; end <= n && end-start <= maxWindow; end++ {
			inst := windowInstance(units[start:end])
			class, ok := gold[[2]int{start, end}]
			if !ok {
				class = classify.NegClassName
			}
			if err := g.SetSubsequence(start, end, inst, classify.NewClassLabel(class)); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

func windowInstance(units []classify.Instance) *classify.MutableInstance {
	sum := make(map[classify.Feature]float64)
	var order []classify.Feature
	sources := make([]string, len(units))
	for i, u := range units {
		sources[i] = u.Source()
		for _, f := range u.Features() {
			if _, seen := sum[f]; !seen {
				order = append(order, f)
			}
			sum[f] += u.Weight(f)
		}
	}
	m := classify.NewMutableInstance(strings.Join(sources, " "), units[0].SubpopulationID())
	for _, f := range order {
		switch w := sum[f]; w {
		case 0:
		case 1:
			m.AddBinary(f)
		default:
			m.AddNumeric(f, w)
		}
	}
	m.AddBinary(classify.NewFeature(WindowLengthFeature, strconv.Itoa(len(units))))
	return m
}
