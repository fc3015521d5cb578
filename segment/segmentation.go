// Package segment implements semi-Markov sequence labeling: a sequence is
// split into labeled contiguous segments, each scored as a whole by a
// per-instance classifier over a window instance.
package segment

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/happyhackingspace/seqlab/classify"
)

// Segment covers positions [Lo, Hi) with class index Y.
type Segment struct {
	Lo, Hi int
	Y      int
}

func compareSegments(a, b Segment) int {
	return cmp.Or(cmp.Compare(a.Lo, b.Lo), cmp.Compare(a.Hi, b.Hi), cmp.Compare(a.Y, b.Y))
}

// Segmentation is a sorted, duplicate-free set of segments.
type Segmentation struct {
	schema   *classify.Schema
	segments []Segment
}

// NewSegmentation returns an empty segmentation over schema's classes.
func NewSegmentation(schema *classify.Schema) *Segmentation {
	return &Segmentation{schema: schema}
}

// Add inserts s, keeping the set ordered by (Lo, Hi, Y).
func (s *Segmentation) Add(seg Segment) {
	i, found := slices.BinarySearchFunc(s.segments, seg, compareSegments)
	if found {
		return
	}
	s.segments = slices.Insert(s.segments, i, seg)
}

// Contains reports whether seg is in the set.
func (s *Segmentation) Contains(seg Segment) bool {
	_, found := slices.BinarySearchFunc(s.segments, seg, compareSegments)
	return found
}

// Segments returns the segments in order.
func (s *Segmentation) Segments() []Segment { return slices.Clone(s.segments) }

func (s *Segmentation) Len() int { return len(s.segments) }

func (s *Segmentation) Schema() *classify.Schema { return s.schema }

// ClassName returns the class name of seg.
func (s *Segmentation) ClassName(seg Segment) string {
	return s.schema.ClassName(seg.Y)
}

// TokenLabels expands the segmentation to one class name per position.
// Positions no segment covers get the background class.
func (s *Segmentation) TokenLabels(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = classify.NegClassName
	}
	for _, seg := range s.segments {
		for i := max(seg.Lo, 0); i < min(seg.Hi, n); i++ {
			out[i] = s.schema.ClassName(seg.Y)
		}
	}
	return out
}

func (s *Segmentation) String() string {
	var b strings.Builder
	for i, seg := range s.segments {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "[%d,%d)%s", seg.Lo, seg.Hi, s.schema.ClassName(seg.Y))
	}
	return b.String()
}

// Span is a labeled range [Lo, Hi) of a token sequence.
type Span struct {
	Lo, Hi int
	Class  string
}

// SpansFromLabels groups runs of equal non-background labels into spans.
func SpansFromLabels(labels []string) []Span {
	var spans []Span
	for i := 0; i < len(labels); {
		j := i + 1
		for j < len(labels) && labels[j] == labels[i] {
			j++
		}
		if labels[i] != classify.NegClassName {
			spans = append(spans, Span{Lo: i, Hi: j, Class: labels[i]})
		}
		i = j
	}
	return spans
}
