package segment

import (
	"fmt"
	"math"

	"github.com/happyhackingspace/seqlab/classify"
	"github.com/happyhackingspace/seqlab/sequential"
)

// ErrNoViablePath is returned when no segmentation reaches the end of a sequence.
var ErrNoViablePath = classify.ErrNoViablePath

// Segmenter splits a candidate group into labeled segments.
type Segmenter interface {
	Segmentation(g CandidateGroup) (*Segmentation, error)
}

// ViterbiSearcher finds the best-scoring segmentation of a group. A
// segment [lo, hi) labeled y scores the classifier's weight for y on the
// window instance with the previous segment's class as history.
// Background segments are always one position long.
type ViterbiSearcher struct {
	classifier     classify.Classifier
	schema         *classify.Schema
	maxSegmentSize int
}

// NewViterbiSearcher fails for schemas with fewer than two classes.
func NewViterbiSearcher(c classify.Classifier, schema *classify.Schema, maxSegmentSize int) (*ViterbiSearcher, error) {
	if schema == nil || schema.NumClasses() < 2 {
		return nil, fmt.Errorf("segment: viterbi search needs at least 2 classes")
	}
	if maxSegmentSize < 1 {
		return nil, fmt.Errorf("segment: max segment size must be positive, got %d", maxSegmentSize)
	}
	return &ViterbiSearcher{classifier: c, schema: schema, maxSegmentSize: maxSegmentSize}, nil
}

type backPointer struct {
	lastT, lastY int
	ok           bool
}

// history is the previous-class history of a segment starting at lo.
func (s *ViterbiSearcher) history(lo, lastY int) []string {
	if lo == 0 {
		return []string{sequential.NullClassName}
	}
	return []string{s.schema.ClassName(lastY)}
}

// BestSegments returns the best segmentation of g and its score.
func (s *ViterbiSearcher) BestSegments(g CandidateGroup) (*Segmentation, float64, error) {
	n, ny := g.SequenceLength(), s.schema.NumClasses()
	background, hasBackground := s.schema.Background()

	fty := make([][]float64, n+1)
	trace := make([][]backPointer, n+1)
	for t := range fty {
		fty[t] = make([]float64, ny)
		trace[t] = make([]backPointer, ny)
		for y := range fty[t] {
			fty[t][y] = math.Inf(-1)
		}
	}
	for y := range ny {
		fty[0][y] = 0
	}

	for t := 1; t <= n; t++ {
		for lastY := range ny {
			for lastT := max(0, t-s.maxSegmentSize); lastT < t; lastT++ {
				// every start cell carries the same score and history
				if lastT == 0 && lastY > 0 {
					continue
				}
				if math.IsInf(fty[lastT][lastY], -1) {
					continue
				}
				inst := g.SubsequenceInstance(lastT, t)
				if inst == nil {
					continue
				}
				label := s.classifier.Classification(sequential.NewHistoryInstance(inst, s.history(lastT, lastY)))
				for y := range ny {
					if hasBackground && y == background && t-lastT > 1 {
						continue
					}
					if score := fty[lastT][lastY] + label.Weight(s.schema.ClassName(y)); score > fty[t][y] {
						fty[t][y] = score
						trace[t][y] = backPointer{lastT: lastT, lastY: lastY, ok: true}
					}
				}
			}
		}
	}

	bestY, best := -1, math.Inf(-1)
	for y := range ny {
		if fty[n][y] > best {
			bestY, best = y, fty[n][y]
		}
	}
	if bestY < 0 {
		return nil, 0, ErrNoViablePath
	}
	result := NewSegmentation(s.schema)
	for t, y := n, bestY; t > 0; {
		bp := trace[t][y]
		if !bp.ok {
			return nil, 0, fmt.Errorf("segment: broken back-pointer at %d: %w", t, ErrNoViablePath)
		}
		result.Add(Segment{Lo: bp.lastT, Hi: t, Y: y})
		t, y = bp.lastT, bp.lastY
	}
	return result, best, nil
}

// ScoreSegmentation scores seg on g the way BestSegments scores its result.
func (s *ViterbiSearcher) ScoreSegmentation(g CandidateGroup, seg *Segmentation) (float64, error) {
	var total float64
	lastY := -1
	for _, sg := range seg.Segments() {
		if sg.Y < 0 || sg.Y >= s.schema.NumClasses() {
			return 0, fmt.Errorf("segment: class index %d out of range", sg.Y)
		}
		inst := g.SubsequenceInstance(sg.Lo, sg.Hi)
		if inst == nil {
			return 0, fmt.Errorf("segment: no candidate for window [%d,%d)", sg.Lo, sg.Hi)
		}
		history := []string{sequential.NullClassName}
		if sg.Lo > 0 && lastY >= 0 {
			history[0] = s.schema.ClassName(lastY)
		}
		label := s.classifier.Classification(sequential.NewHistoryInstance(inst, history))
		total += label.Weight(s.schema.ClassName(sg.Y))
		lastY = sg.Y
	}
	return total, nil
}

// ViterbiSegmenter is a trained semi-Markov segmenter.
type ViterbiSegmenter struct {
	Classifier     classify.Classifier
	Schema         *classify.Schema
	MaxSegmentSize int
}

func (v *ViterbiSegmenter) Segmentation(g CandidateGroup) (*Segmentation, error) {
	s, err := NewViterbiSearcher(v.Classifier, v.Schema, v.MaxSegmentSize)
	if err != nil {
		return nil, err
	}
	seg, _, err := s.BestSegments(g)
	return seg, err
}
