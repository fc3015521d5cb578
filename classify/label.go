package classify

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ClassLabel carries a weight per class and remembers the best one.
type ClassLabel struct {
	weights    map[string]float64
	best       string
	bestWeight float64
}

// NewClassLabel returns a label for name with weight 1.
func NewClassLabel(name string) *ClassLabel {
	return NewScoredLabel(name, 1)
}

// NewScoredLabel returns a label for name with weight w.
func NewScoredLabel(name string, w float64) *ClassLabel {
	l := &ClassLabel{weights: make(map[string]float64)}
	l.Add(name, w)
	return l
}

// Add records the weight of a class. The first class added, or a later
// one with a strictly larger weight, becomes the best class.
func (l *ClassLabel) Add(name string, w float64) {
	if l.weights == nil {
		l.weights = make(map[string]float64)
	}
	l.weights[name] = w
	if l.best == "" || w > l.bestWeight {
		l.best, l.bestWeight = name, w
	}
}

func (l *ClassLabel) BestClassName() string { return l.best }
func (l *ClassLabel) BestWeight() float64   { return l.bestWeight }

// Weight returns the weight recorded for name, or 0.
func (l *ClassLabel) Weight(name string) float64 {
	return l.weights[name]
}

// PossibleLabels returns the recorded class names, sorted.
func (l *ClassLabel) PossibleLabels() []string {
	return slices.Sorted(maps.Keys(l.weights))
}

// IsCorrect reports whether both labels agree on the best class.
func (l *ClassLabel) IsCorrect(other *ClassLabel) bool {
	return l != nil && other != nil && l.best == other.best
}

// IsNegative reports whether the best class is the background class.
func (l *ClassLabel) IsNegative() bool {
	return l == nil || l.best == NegClassName
}

func (l *ClassLabel) String() string {
	if len(l.weights) <= 1 {
		return fmt.Sprintf("%s(%.4g)", l.best, l.bestWeight)
	}
	var b strings.Builder
	b.WriteString(l.best)
	b.WriteString("[")
	for i, name := range l.PossibleLabels() {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s:%.4g", name, l.weights[name])
	}
	b.WriteString("]")
	return b.String()
}
