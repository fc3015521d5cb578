package segment

import (
	"fmt"
	"log/slog"

	"github.com/happyhackingspace/seqlab/classify"
	"github.com/happyhackingspace/seqlab/sequential"
)

// PerceptronTrainer trains a semi-Markov segmenter with the voted
// perceptron. Groups are visited in dataset order every epoch.
type PerceptronTrainer struct {
	Epochs int
	// UpdatedViterbi decodes with the averaged weights during training.
	UpdatedViterbi bool
	Logger         *slog.Logger
	Progress       sequential.Progress
	OnEpoch        func(sequential.EpochStats)
}

// NewPerceptronTrainer returns a trainer running at most epochs passes.
func NewPerceptronTrainer(epochs int) *PerceptronTrainer {
	return &PerceptronTrainer{Epochs: epochs}
}

func (t *PerceptronTrainer) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// BatchTrain learns a segmenter from ds.
func (t *PerceptronTrainer) BatchTrain(ds *Dataset) (*ViterbiSegmenter, error) {
	if t.Epochs < 1 {
		return nil, fmt.Errorf("segment: epochs must be positive, got %d", t.Epochs)
	}
	if ds.NumGroups() == 0 {
		return nil, fmt.Errorf("segment: empty dataset")
	}
	schema, err := ds.Schema()
	if err != nil {
		return nil, err
	}
	if _, ok := schema.Background(); !ok {
		return nil, fmt.Errorf("segment: schema %v has no %s class", schema.ClassNames(), classify.NegClassName)
	}
	maxSeg := ds.MaxWindowSize()
	p := classify.NewMultiClassPerceptron(schema)
	if t.UpdatedViterbi {
		p.SetVoteMode(true)
	}
	searcher, err := NewViterbiSearcher(p, schema, maxSeg)
	if err != nil {
		return nil, err
	}

	for epoch := 1; epoch <= t.Epochs; epoch++ {
		stats := sequential.EpochStats{Epoch: epoch}
		for _, g := range ds.Groups() {
			viterbi, _, err := searcher.BestSegments(g)
			if err != nil {
				return nil, err
			}
			correct, err := CorrectSegments(g, schema)
			if err != nil {
				return nil, err
			}
			fp, err := revise(p, viterbi, correct, -1, g)
			if err != nil {
				return nil, err
			}
			fn, err := revise(p, correct, viterbi, 1, g)
			if err != nil {
				return nil, err
			}
			if fp+fn > 0 {
				stats.SequenceErrors++
			}
			stats.TransitionErrors += fp + fn
			stats.Transitions += correct.Len()
			p.CompleteUpdate()
			if t.Progress != nil {
				_ = t.Progress.Add(1)
			}
		}
		t.logger().Info("Epoch finished", "trainer", "semi-markov", "epoch", epoch,
			"sequence_errors", stats.SequenceErrors,
			"transition_errors", stats.TransitionErrors,
			"transitions", stats.Transitions)
		if t.OnEpoch != nil {
			t.OnEpoch(stats)
		}
		if stats.TransitionErrors == 0 {
			break
		}
	}
	p.SetVoteMode(true)
	return &ViterbiSegmenter{Classifier: p.Freeze(), Schema: schema, MaxSegmentSize: maxSeg}, nil
}

// revise adds delta times the window instance of every segment of segs
// that other lacks, or has with a different previous class. It returns
// the number of such segments.
func revise(p *classify.MultiClassPerceptron, segs, other *Segmentation, delta float64, g CandidateGroup) (int, error) {
	prev, otherPrev := previousClasses(segs), previousClasses(other)
	mistakes := 0
	for _, seg := range segs.Segments() {
		if op, ok := otherPrev[seg]; ok && op == prev[seg] {
			continue
		}
		mistakes++
		inst := g.SubsequenceInstance(seg.Lo, seg.Hi)
		if inst == nil {
			return 0, fmt.Errorf("segment: no candidate for window [%d,%d)", seg.Lo, seg.Hi)
		}
		h := sequential.NewHistoryInstance(inst, []string{prev[seg]})
		if err := p.Update(segs.ClassName(seg), h, delta); err != nil {
			return 0, err
		}
	}
	return mistakes, nil
}

// previousClasses maps each segment to the class name of the segment
// before it. Segments are compared by value, so equal segments of two
// segmentations share a key.
func previousClasses(s *Segmentation) map[Segment]string {
	m := make(map[Segment]string, s.Len())
	prev := sequential.NullClassName
	for _, seg := range s.Segments() {
		m[seg] = prev
		prev = s.ClassName(seg)
	}
	return m
}

// CorrectSegments reads the gold segmentation off the window labels. At
// each position it takes the longest window with a non-background label
// starting there, or else a unit background segment.
func CorrectSegments(g CandidateGroup, schema *classify.Schema) (*Segmentation, error) {
	background, ok := schema.Background()
	if !ok {
		return nil, fmt.Errorf("segment: schema has no %s class", classify.NegClassName)
	}
	result := NewSegmentation(schema)
	for pos := 0; pos < g.SequenceLength(); {
		added := false
		for l := min(g.MaxWindowSize(), g.SequenceLength()-pos); l >= 1 && !added; l-- {
			label := g.SubsequenceLabel(pos, pos+l)
			if g.SubsequenceInstance(pos, pos+l) == nil || label.IsNegative() {
				continue
			}
			y, ok := schema.Index(label.BestClassName())
			if !ok {
				return nil, fmt.Errorf("segment: class %q not in schema", label.BestClassName())
			}
			result.Add(Segment{Lo: pos, Hi: pos + l, Y: y})
			pos += l
			added = true
		}
		if !added {
			result.Add(Segment{Lo: pos, Hi: pos + 1, Y: background})
			pos++
		}
	}
	return result, nil
}
