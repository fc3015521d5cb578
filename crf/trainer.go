package crf

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
)

// TrainerConfig holds CRF training hyperparameters.
type TrainerConfig struct {
	C1            float64 // L1 regularization
	C2            float64 // L2 regularization
	MaxIterations int
	Epsilon       float64 // convergence threshold on the pseudo-gradient
	Memory        int     // L-BFGS history size
	Logger        *slog.Logger
}

// DefaultTrainerConfig returns the default training config.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		C1:            0.1655,
		C2:            0.0236,
		MaxIterations: 100,
		Epsilon:       1e-5,
		Memory:        10,
	}
}

type internalSeq struct {
	features [][]featureEntry
	labels   []int
}

// objective evaluates the regularized negative log-likelihood.
type objective struct {
	seqs   []internalSeq
	L      int
	offset int
	c1, c2 float64
}

// eval returns the objective at w. When grad is non-nil it also receives
// the gradient of the smooth part (everything but the L1 term).
func (o *objective) eval(w, grad []float64) float64 {
	L := o.L
	for i := range grad {
		grad[i] = 0
	}
	nll := 0.0
	for _, is := range o.seqs {
		T := len(is.features)
		if T == 0 {
			continue
		}
		lat := lattice(w, L, o.offset, is.features)
		post := lat.ForwardBackward()
		nll += post.LogZ - lat.PathScore(is.labels)

		if grad == nil {
			continue
		}
		// E_model[f] - E_empirical[f]
		for t := range T {
			goldY := is.labels[t]
			for _, fe := range is.features[t] {
				base := fe.attrID * L
				grad[base+goldY] -= fe.value
				for y := range L {
					grad[base+y] += post.Marginal(t, y) * fe.value
				}
			}
		}
		for t := range T - 1 {
			grad[o.offset+is.labels[t]*L+is.labels[t+1]] -= 1
			for i := range L {
				for j := range L {
					grad[o.offset+i*L+j] += post.PairMarginal(t, i, j)
				}
			}
		}
	}

	if o.c2 > 0 {
		l2 := 0.0
		for i, v := range w {
			l2 += v * v
			if grad != nil {
				grad[i] += o.c2 * v
			}
		}
		nll += 0.5 * o.c2 * l2
	}
	if o.c1 > 0 {
		for _, v := range w {
			nll += o.c1 * math.Abs(v)
		}
	}
	return nll
}

// pseudoGradient is the OWL-QN subgradient of the L1-regularized objective.
func pseudoGradient(w, grad []float64, c1 float64) []float64 {
	pg := make([]float64, len(w))
	for i := range w {
		switch {
		case w[i] > 0:
			pg[i] = grad[i] + c1
		case w[i] < 0:
			pg[i] = grad[i] - c1
		case grad[i]+c1 < 0:
			pg[i] = grad[i] + c1
		case grad[i]-c1 > 0:
			pg[i] = grad[i] - c1
		}
	}
	return pg
}

// Train trains a CRF model on the given sequences using OWL-QN.
func Train(sequences []TrainingSequence, config TrainerConfig) (*Model, error) {
	if len(sequences) == 0 {
		return nil, fmt.Errorf("crf: no training sequences")
	}
	for i, seq := range sequences {
		if len(seq.Features) != len(seq.Labels) {
			return nil, fmt.Errorf("crf: sequence %d has %d positions and %d labels", i, len(seq.Features), len(seq.Labels))
		}
	}
	model := NewModel()
	model.Labels, model.Attributes = buildAlphabets(sequences)
	model.NumLabels = model.Labels.Size()
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	numWeights := model.NumWeights()
	w := make([]float64, numWeights)

	obj := &objective{
		seqs:   make([]internalSeq, len(sequences)),
		L:      model.NumLabels,
		offset: model.TransOffset(),
		c1:     config.C1,
		c2:     config.C2,
	}
	for i, seq := range sequences {
		is := internalSeq{features: model.encode(seq.Features), labels: make([]int, len(seq.Labels))}
		for t, name := range seq.Labels {
			is.labels[t], _ = model.Labels.Lookup(name)
		}
		obj.seqs[i] = is
	}

	memory := config.Memory
	if memory < 1 {
		memory = 10
	}
	l1 := config.C1 > 0
	qn := newLBFGS(memory)
	grad := make([]float64, numWeights)
	nll := obj.eval(w, grad)
	pg := pseudoGradient(w, grad, config.C1)

	for iter := 1; iter <= config.MaxIterations; iter++ {
		logger.Debug("CRF training iteration", "iteration", iter, "nll", nll)

		dir := qn.direction(pg)
		for i := range dir {
			if dir[i]*pg[i] > 0 {
				dir[i] = 0
			}
		}
		step := lineSearch(w, dir, pg, nll, l1, func(v []float64) float64 { return obj.eval(v, nil) })
		if step == 0 {
			logger.Warn("CRF line search failed, stopping", "iteration", iter)
			break
		}

		next := make([]float64, numWeights)
		project(next, w, dir, step, l1)
		nll = obj.eval(next, grad)
		nextPG := pseudoGradient(next, grad, config.C1)

		s := make([]float64, numWeights)
		y := make([]float64, numWeights)
		floats.SubTo(s, next, w)
		floats.SubTo(y, nextPG, pg)
		qn.update(s, y)
		w, pg = next, nextPG

		if g := floats.Norm(pg, math.Inf(1)); g < config.Epsilon {
			logger.Debug("CRF converged", "iteration", iter, "max_gradient", g)
			break
		}
	}

	model.Weights = w
	return model, nil
}

// correction is one remembered (s, y) pair of the quasi-Newton update.
type correction struct {
	s, y []float64
	rho  float64
}

// lbfgs keeps the most recent corrections, oldest first.
type lbfgs struct {
	memory int
	hist   []correction
}

func newLBFGS(memory int) *lbfgs {
	return &lbfgs{memory: memory}
}

// update records a step. Pairs with non-positive curvature are skipped.
func (l *lbfgs) update(s, y []float64) {
	sy := floats.Dot(s, y)
	if sy <= 0 {
		return
	}
	if len(l.hist) == l.memory {
		l.hist = append(l.hist[:0], l.hist[1:]...)
	}
	l.hist = append(l.hist, correction{s: s, y: y, rho: 1 / sy})
}

// direction applies the inverse Hessian estimate to -g.
func (l *lbfgs) direction(g []float64) []float64 {
	q := append([]float64(nil), g...)
	alpha := make([]float64, len(l.hist))
	for i := len(l.hist) - 1; i >= 0; i-- {
		c := l.hist[i]
		alpha[i] = c.rho * floats.Dot(c.s, q)
		floats.AddScaled(q, -alpha[i], c.y)
	}
	if n := len(l.hist); n > 0 {
		last := l.hist[n-1]
		if yy := floats.Dot(last.y, last.y); yy > 0 {
			floats.Scale(floats.Dot(last.s, last.y)/yy, q)
		}
	}
	for i, c := range l.hist {
		b := c.rho * floats.Dot(c.y, q)
		floats.AddScaled(q, alpha[i]-b, c.s)
	}
	floats.Scale(-1, q)
	return q
}

// project moves w+step*dir into the orthant of w: coordinates that would
// change sign become zero.
func project(dst, w, dir []float64, step float64, l1 bool) {
	for i := range w {
		dst[i] = w[i] + step*dir[i]
		if l1 && dst[i]*w[i] < 0 {
			dst[i] = 0
		}
	}
}

// lineSearch backtracks from a unit step until the Armijo condition holds
// along the pseudo-gradient. It returns 0 when dir is not a descent
// direction.
func lineSearch(w, dir, pg []float64, f0 float64, l1 bool, f func([]float64) float64) float64 {
	slope := floats.Dot(dir, pg)
	if slope >= 0 {
		return 0
	}
	const armijo = 1e-4
	trial := make([]float64, len(w))
	step := 1.0
	for range 20 {
		project(trial, w, dir, step, l1)
		if f(trial) <= f0+armijo*step*slope {
			break
		}
		step /= 2
	}
	return step
}
