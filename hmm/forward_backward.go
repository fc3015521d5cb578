package hmm

import "github.com/happyhackingspace/seqlab/logmath"

// Forward holds the table f[i][k] = log P(x_1..x_i, state_i = k).
type Forward struct {
	f       [][]float64
	logProb float64
}

// NewForward runs the forward recurrence over the symbol ids x.
func NewForward(m *Model, x []int) (*Forward, error) {
	if err := m.checkSymbols(x); err != nil {
		return nil, err
	}
	L, n := len(x), m.NumStates()
	f := newTable(L+1, n)
	f[0][0] = 0
	terms := make([]float64, n)
	for i := 1; i <= L; i++ {
		for l := 1; l < n; l++ {
			for k := range n {
				terms[k] = f[i-1][k] + m.loga[k][l]
			}
			f[i][l] = m.loge[l][x[i-1]] + logmath.LogSum(terms)
		}
	}
	return &Forward{f: f, logProb: logmath.LogSum(f[L])}, nil
}

// LogProb returns log P(x).
func (fw *Forward) LogProb() float64 {
	return fw.logProb
}

// At returns f[i][k].
func (fw *Forward) At(i, k int) float64 {
	return fw.f[i][k]
}

// Backward holds the table b[i][k] = log P(x_{i+1}..x_L | state_i = k).
type Backward struct {
	b       [][]float64
	logProb float64
}

// NewBackward runs the backward recurrence over the symbol ids x.
func NewBackward(m *Model, x []int) (*Backward, error) {
	if err := m.checkSymbols(x); err != nil {
		return nil, err
	}
	L, n := len(x), m.NumStates()
	b := newTable(L+1, n)
	if L == 0 {
		return &Backward{b: b, logProb: 0}, nil
	}
	for k := 1; k < n; k++ {
		b[L][k] = 0
	}
	terms := make([]float64, n)
	for i := L - 1; i >= 1; i-- {
		for k := 1; k < n; k++ {
			for l := range n {
				terms[l] = m.loga[k][l] + m.loge[l][x[i]] + b[i+1][l]
			}
			b[i][k] = logmath.LogSum(terms)
		}
	}
	for l := range n {
		terms[l] = m.loga[0][l] + m.loge[l][x[0]] + b[1][l]
	}
	return &Backward{b: b, logProb: logmath.LogSum(terms)}, nil
}

// LogProb returns log P(x).
func (bw *Backward) LogProb() float64 {
	return bw.logProb
}

// At returns b[i][k].
func (bw *Backward) At(i, k int) float64 {
	return bw.b[i][k]
}

func newTable(rows, cols int) [][]float64 {
	t := make([][]float64, rows)
	for i := range t {
		t[i] = make([]float64, cols)
		for j := range t[i] {
			t[i][j] = logmath.LogZero
		}
	}
	return t
}
