package crf

import "github.com/happyhackingspace/seqlab/logmath"

// Posterior holds the log-domain forward and backward tables of a
// lattice. Alpha[t][y] sums the scores of prefixes ending in y at t;
// Beta[t][y] sums the scores of suffixes following y at t.
type Posterior struct {
	lat   *Lattice
	Alpha [][]float64
	Beta  [][]float64
	LogZ  float64
}

// ForwardBackward runs both recurrences over lat.
func (lat *Lattice) ForwardBackward() *Posterior {
	T, L := lat.Len(), lat.NumLabels()
	p := &Posterior{lat: lat, Alpha: make([][]float64, T), Beta: make([][]float64, T), LogZ: logmath.LogZero}
	if T == 0 {
		return p
	}

	terms := make([]float64, L)
	p.Alpha[0] = append([]float64(nil), lat.State[0]...)
	for t := 1; t < T; t++ {
		row := make([]float64, L)
		for y := range L {
			for prev := range L {
				terms[prev] = p.Alpha[t-1][prev] + lat.Trans[prev][y]
			}
			row[y] = logmath.LogSum(terms) + lat.State[t][y]
		}
		p.Alpha[t] = row
	}

	p.Beta[T-1] = make([]float64, L)
	for t := T - 2; t >= 0; t-- {
		row := make([]float64, L)
		for y := range L {
			for nx := range L {
				terms[nx] = lat.Trans[y][nx] + lat.State[t+1][nx] + p.Beta[t+1][nx]
			}
			row[y] = logmath.LogSum(terms)
		}
		p.Beta[t] = row
	}

	p.LogZ = logmath.LogSum(p.Alpha[T-1])
	return p
}

// Marginal is P(y_t = y | x).
func (p *Posterior) Marginal(t, y int) float64 {
	return logmath.Exp(p.Alpha[t][y] + p.Beta[t][y] - p.LogZ)
}

// PairMarginal is P(y_t = i, y_t+1 = j | x).
func (p *Posterior) PairMarginal(t, i, j int) float64 {
	lat := p.lat
	return logmath.Exp(p.Alpha[t][i] + lat.Trans[i][j] + lat.State[t+1][j] + p.Beta[t+1][j] - p.LogZ)
}

// Marginals returns, per position, the posterior probability of every label.
func (m *Model) Marginals(features []map[string]float64) []map[string]float64 {
	p := m.Lattice(features).ForwardBackward()
	out := make([]map[string]float64, len(features))
	for t := range out {
		out[t] = make(map[string]float64, m.NumLabels)
		for y, name := range m.Labels.ToStr {
			out[t][name] = p.Marginal(t, y)
		}
	}
	return out
}
