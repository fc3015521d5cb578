package crf

import "github.com/happyhackingspace/seqlab/logmath"

// Viterbi returns the highest scoring label path and its score. Ties go
// to the lower label id.
func (lat *Lattice) Viterbi() ([]int, float64) {
	T, L := lat.Len(), lat.NumLabels()
	if T == 0 {
		return nil, logmath.LogZero
	}

	best := append([]float64(nil), lat.State[0]...)
	back := make([][]int, T)
	next := make([]float64, L)
	for t := 1; t < T; t++ {
		back[t] = make([]int, L)
		for y := range L {
			top, arg := logmath.LogZero, 0
			for prev, s := range best {
				if v := s + lat.Trans[prev][y]; v > top {
					top, arg = v, prev
				}
			}
			next[y] = top + lat.State[t][y]
			back[t][y] = arg
		}
		best, next = next, best
	}

	last, score := 0, logmath.LogZero
	for y, s := range best {
		if s > score {
			last, score = y, s
		}
	}
	path := make([]int, T)
	path[T-1] = last
	for t := T - 1; t > 0; t-- {
		path[t-1] = back[t][path[t]]
	}
	return path, score
}

// Predict returns the best label sequence and its unnormalized score.
func (m *Model) Predict(features []map[string]float64) ([]string, float64) {
	path, score := m.Lattice(features).Viterbi()
	return m.labelNames(path), score
}

func (m *Model) labelNames(path []int) []string {
	names := make([]string, len(path))
	for t, y := range path {
		names[t] = m.Labels.ToStr[y]
	}
	return names
}
