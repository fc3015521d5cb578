package classify

// BinaryScorer returns a real-valued score, positive meaning POS.
type BinaryScorer interface {
	Score(inst Instance) float64
}

// OnlineLearner is a binary learner trained one example at a time.
// Examples are labeled PosClassName or NegClassName.
type OnlineLearner interface {
	AddExample(ex Example)
	CompleteTraining()
	Scorer() BinaryScorer
}

// LearnerFactory returns a fresh, untrained learner.
type LearnerFactory func() OnlineLearner

// BinaryPerceptron is a margin perceptron with optional averaging.
type BinaryPerceptron struct {
	Margin   float64
	Averaged bool

	w     *Hyperplane
	sum   *Hyperplane
	steps int
}

// NewBinaryPerceptron returns an untrained perceptron.
func NewBinaryPerceptron(margin float64, averaged bool) *BinaryPerceptron {
	return &BinaryPerceptron{Margin: margin, Averaged: averaged, w: NewHyperplane(), sum: NewHyperplane()}
}

// AddExample updates the weights when ex is inside the margin.
func (p *BinaryPerceptron) AddExample(ex Example) {
	y := -1.0
	if ex.Label.BestClassName() == PosClassName {
		y = 1
	}
	if y*p.w.Score(ex.Instance) <= p.Margin {
		p.w.Increment(ex.Instance, y)
	}
	p.sum.IncrementHyperplane(p.w, 1)
	p.steps++
}

func (p *BinaryPerceptron) CompleteTraining() {}

func (p *BinaryPerceptron) Scorer() BinaryScorer {
	return p.Hyperplane()
}

// Hyperplane returns the weights the scorer uses.
func (p *BinaryPerceptron) Hyperplane() *Hyperplane {
	if p.Averaged && p.steps > 0 {
		return p.sum.Scaled(1 / float64(p.steps))
	}
	return p.w.Clone()
}

// OneVsRest combines one binary scorer per class into a Classifier.
type OneVsRest struct {
	Schema  *Schema
	Scorers []BinaryScorer
}

func (c *OneVsRest) Classification(inst Instance) *ClassLabel {
	label := &ClassLabel{}
	for i, s := range c.Scorers {
		label.Add(c.Schema.ClassName(i), s.Score(inst))
	}
	return label
}

// Freeze converts the scorers to a LinearClassifier when each is a
// Hyperplane. It reports false otherwise.
func (c *OneVsRest) Freeze() (*LinearClassifier, bool) {
	hs := make([]*Hyperplane, len(c.Scorers))
	for i, s := range c.Scorers {
		h, ok := s.(*Hyperplane)
		if !ok {
			return nil, false
		}
		hs[i] = h
	}
	return &LinearClassifier{Schema: c.Schema, Hyperplanes: hs}, true
}
