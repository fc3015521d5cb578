package hmm

import "github.com/happyhackingspace/seqlab/logmath"

// Path is a decoded state sequence. States holds state indices (1-based,
// state 0 is never part of a path) and Names their names.
type Path struct {
	States  []int
	Names   []string
	LogProb float64
}

// Viterbi finds the most probable state path for the symbol ids x.
// Ties go to the lowest-numbered state.
func Viterbi(m *Model, x []int) (*Path, error) {
	if err := m.checkSymbols(x); err != nil {
		return nil, err
	}
	L, n := len(x), m.NumStates()
	if L == 0 {
		return &Path{LogProb: 0}, nil
	}

	// v[i][l] = best log score ending at position i in state l
	v := newTable(L+1, n)
	// psi[i][l] = best previous state for backtracking
	psi := make([][]int, L+1)
	v[0][0] = 0
	for i := 1; i <= L; i++ {
		psi[i] = make([]int, n)
		for l := 1; l < n; l++ {
			best, bestPrev := logmath.LogZero, 0
			for k := range n {
				s := v[i-1][k] + m.loga[k][l]
				if s > best {
					best, bestPrev = s, k
				}
			}
			v[i][l] = m.loge[l][x[i-1]] + best
			psi[i][l] = bestPrev
		}
	}

	best, bestState := logmath.LogZero, 0
	for k := 1; k < n; k++ {
		if v[L][k] > best {
			best, bestState = v[L][k], k
		}
	}
	if logmath.IsZero(best) {
		return nil, ErrNoViablePath
	}

	p := &Path{States: make([]int, L), Names: make([]string, L), LogProb: best}
	p.States[L-1] = bestState
	for i := L - 1; i >= 1; i-- {
		p.States[i-1] = psi[i+1][p.States[i]]
	}
	for i, k := range p.States {
		p.Names[i] = m.StateName(k)
	}
	return p, nil
}
