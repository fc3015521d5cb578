package classify

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MultiClassPerceptron keeps one hyperplane per class plus the running
// sum of those hyperplanes over training steps. In vote mode it scores
// with the averaged hyperplanes.
type MultiClassPerceptron struct {
	mu       sync.RWMutex
	schema   *Schema
	current  []*Hyperplane
	sum      []*Hyperplane
	steps    int
	voteMode bool
}

// NewMultiClassPerceptron returns a perceptron with zero weights.
func NewMultiClassPerceptron(schema *Schema) *MultiClassPerceptron {
	p := &MultiClassPerceptron{
		schema:  schema,
		current: make([]*Hyperplane, schema.NumClasses()),
		sum:     make([]*Hyperplane, schema.NumClasses()),
	}
	for i := range p.current {
		p.current[i] = NewHyperplane()
		p.sum[i] = NewHyperplane()
	}
	return p
}

func (p *MultiClassPerceptron) Schema() *Schema { return p.schema }

// Update adds delta·inst to the hyperplane of className.
func (p *MultiClassPerceptron) Update(className string, inst Instance, delta float64) error {
	i, ok := p.schema.Index(className)
	if !ok {
		return fmt.Errorf("classify: class %q not in schema", className)
	}
	p.mu.Lock()
	p.current[i].Increment(inst, delta)
	p.mu.Unlock()
	return nil
}

// UpdateHyperplane adds delta·h to the hyperplane of className.
func (p *MultiClassPerceptron) UpdateHyperplane(className string, h *Hyperplane, delta float64) error {
	i, ok := p.schema.Index(className)
	if !ok {
		return fmt.Errorf("classify: class %q not in schema", className)
	}
	p.mu.Lock()
	p.current[i].IncrementHyperplane(h, delta)
	p.mu.Unlock()
	return nil
}

// CompleteUpdate adds the current hyperplanes to the running sum.
// Call it once per training sequence.
func (p *MultiClassPerceptron) CompleteUpdate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.current {
		p.sum[i].IncrementHyperplane(p.current[i], 1)
	}
	p.steps++
}

// SetVoteMode switches scoring between the current and averaged hyperplanes.
func (p *MultiClassPerceptron) SetVoteMode(on bool) {
	p.mu.Lock()
	p.voteMode = on
	p.mu.Unlock()
}

// Classification scores inst against every class.
func (p *MultiClassPerceptron) Classification(inst Instance) *ClassLabel {
	p.mu.RLock()
	defer p.mu.RUnlock()
	label := &ClassLabel{}
	for i := range p.current {
		var s float64
		if p.voteMode && p.steps > 0 {
			s = p.sum[i].Score(inst) / float64(p.steps)
		} else {
			s = p.current[i].Score(inst)
		}
		label.Add(p.schema.ClassName(i), s)
	}
	return label
}

// Weights returns a copy of the current hyperplane of className.
func (p *MultiClassPerceptron) Weights(className string) *Hyperplane {
	i, ok := p.schema.Index(className)
	if !ok {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current[i].Clone()
}

// Freeze returns an immutable classifier over the averaged hyperplanes,
// or the current ones if no update was completed.
func (p *MultiClassPerceptron) Freeze() *LinearClassifier {
	p.mu.RLock()
	defer p.mu.RUnlock()
	hs := make([]*Hyperplane, len(p.current))
	for i := range p.current {
		if p.steps > 0 {
			hs[i] = p.sum[i].Scaled(1 / float64(p.steps))
		} else {
			hs[i] = p.current[i].Clone()
		}
	}
	return &LinearClassifier{Schema: p.schema, Hyperplanes: hs}
}

// LinearClassifier scores each class with a fixed hyperplane.
type LinearClassifier struct {
	Schema      *Schema       `json:"schema"`
	Hyperplanes []*Hyperplane `json:"hyperplanes"`
}

// Validate checks that there is one hyperplane per class.
func (c *LinearClassifier) Validate() error {
	if c.Schema == nil {
		return fmt.Errorf("classify: linear classifier has no schema")
	}
	if len(c.Hyperplanes) != c.Schema.NumClasses() {
		return fmt.Errorf("classify: %d hyperplanes for %d classes", len(c.Hyperplanes), c.Schema.NumClasses())
	}
	return nil
}

func (c *LinearClassifier) Classification(inst Instance) *ClassLabel {
	label := &ClassLabel{}
	for i, h := range c.Hyperplanes {
		label.Add(c.Schema.ClassName(i), h.Score(inst))
	}
	return label
}

// Explain lists, per class, the score and the largest feature contributions.
func (c *LinearClassifier) Explain(inst Instance) string {
	var b strings.Builder
	for i, h := range c.Hyperplanes {
		type contrib struct {
			f Feature
			v float64
		}
		var cs []contrib
		for _, f := range inst.Features() {
			if w := h.Weight(f); w != 0 {
				cs = append(cs, contrib{f, w * inst.Weight(f)})
			}
		}
		sort.SliceStable(cs, func(a, b int) bool { return abs(cs[a].v) > abs(cs[b].v) })
		fmt.Fprintf(&b, "%s: %.4f (bias %.4f)\n", c.Schema.ClassName(i), h.Score(inst), h.Bias)
		for j, ct := range cs {
			if j == 5 {
				break
			}
			fmt.Fprintf(&b, "  %-30s %+.4f\n", ct.f, ct.v)
		}
	}
	return b.String()
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
