// Package hmm implements a discrete hidden Markov model in the log domain:
// forward and backward probabilities, Viterbi decoding and Baum-Welch
// re-estimation.
//
// State 0 is a synthetic start state. It never emits and is never
// re-entered, and its outgoing transitions are uniform over the true
// states. Observations are positions 1..L of the tables.
package hmm

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/happyhackingspace/seqlab/classify"
	"github.com/happyhackingspace/seqlab/logmath"
)

// ErrNoViablePath is returned by Viterbi when every path has probability 0.
var ErrNoViablePath = classify.ErrNoViablePath

// ErrNotConverged is returned by BaumWelch when MaxIterations is reached
// before the log-likelihood settles.
var ErrNotConverged = errors.New("hmm: did not converge")

// rowTolerance bounds how far a probability row may stray from summing to 1.
const rowTolerance = 1e-6

// Model is an immutable HMM with log-domain parameters.
type Model struct {
	states []string // states[0] is the start state
	vocab  *Vocabulary
	loga   [][]float64
	loge   [][]float64
}

// NewModel builds a model over the given true states. trans[k][l] is the
// probability of moving from states[k] to states[l]. emit[k][id] is the
// probability that states[k] emits the vocabulary symbol with that id.
func NewModel(states []string, trans [][]float64, vocab *Vocabulary, emit [][]float64) (*Model, error) {
	n := len(states)
	if n == 0 {
		return nil, fmt.Errorf("hmm: no states")
	}
	if vocab == nil {
		return nil, fmt.Errorf("hmm: nil vocabulary")
	}
	if len(trans) != n || len(emit) != n {
		return nil, fmt.Errorf("hmm: got %d transition rows and %d emission rows for %d states", len(trans), len(emit), n)
	}
	for k := range n {
		if err := checkRow(trans[k], n); err != nil {
			return nil, fmt.Errorf("hmm: transitions from %q: %w", states[k], err)
		}
		if err := checkRow(emit[k], vocab.Size()); err != nil {
			return nil, fmt.Errorf("hmm: emissions of %q: %w", states[k], err)
		}
	}
	return newModel(states, trans, vocab, emit), nil
}

func checkRow(row []float64, width int) error {
	if len(row) != width {
		return fmt.Errorf("row has %d entries, want %d", len(row), width)
	}
	for _, p := range row {
		if p < 0 || math.IsNaN(p) {
			return fmt.Errorf("invalid probability %v", p)
		}
	}
	if s := floats.Sum(row); math.Abs(s-1) > rowTolerance {
		return fmt.Errorf("row sums to %v", s)
	}
	return nil
}

// newModel converts validated probabilities to the internal layout.
func newModel(states []string, trans [][]float64, vocab *Vocabulary, emit [][]float64) *Model {
	n := len(states) + 1
	m := &Model{
		states: append([]string{"START"}, states...),
		vocab:  vocab,
		loga:   make([][]float64, n),
		loge:   make([][]float64, n),
	}
	start := logmath.Log(1 / float64(n-1))
	for k := range n {
		m.loga[k] = make([]float64, n)
		m.loge[k] = make([]float64, vocab.Size())
		m.loga[k][0] = logmath.LogZero
		for l := 1; l < n; l++ {
			if k == 0 {
				m.loga[k][l] = start
			} else {
				m.loga[k][l] = logmath.Log(trans[k-1][l-1])
			}
		}
		for s := range vocab.Size() {
			if k == 0 {
				m.loge[k][s] = logmath.LogZero
			} else {
				m.loge[k][s] = logmath.Log(emit[k-1][s])
			}
		}
	}
	return m
}

// NumStates returns the number of states including the start state.
func (m *Model) NumStates() int {
	return len(m.states)
}

// StateName returns the name of state k. State 0 is "START".
func (m *Model) StateName(k int) string {
	return m.states[k]
}

// States returns the names of the true states.
func (m *Model) States() []string {
	return append([]string(nil), m.states[1:]...)
}

// Vocabulary returns the emission vocabulary.
func (m *Model) Vocabulary() *Vocabulary {
	return m.vocab
}

// LogTransition returns log P(k -> l).
func (m *Model) LogTransition(k, l int) float64 {
	return m.loga[k][l]
}

// LogEmission returns log P(sym | k).
func (m *Model) LogEmission(k, sym int) float64 {
	return m.loge[k][sym]
}

// Encode maps tokens to symbol ids through the model's vocabulary.
func (m *Model) Encode(tokens []string) []int {
	return m.vocab.Encode(tokens)
}

func (m *Model) checkSymbols(x []int) error {
	for i, s := range x {
		if s < 0 || s >= m.vocab.Size() {
			return fmt.Errorf("hmm: symbol %d at position %d out of range [0, %d)", s, i, m.vocab.Size())
		}
	}
	return nil
}

// Decode returns the most likely state names for tokens and the log
// probability of that path.
func (m *Model) Decode(tokens []string) ([]string, float64, error) {
	p, err := Viterbi(m, m.Encode(tokens))
	if err != nil {
		return nil, logmath.LogZero, err
	}
	return p.Names, p.LogProb, nil
}

// probabilities returns the transition and emission rows among true states.
func (m *Model) probabilities() (trans, emit [][]float64) {
	n := len(m.states) - 1
	trans = make([][]float64, n)
	emit = make([][]float64, n)
	for k := range n {
		trans[k] = make([]float64, n)
		for l := range n {
			trans[k][l] = logmath.Exp(m.loga[k+1][l+1])
		}
		emit[k] = make([]float64, m.vocab.Size())
		for s := range m.vocab.Size() {
			emit[k][s] = logmath.Exp(m.loge[k+1][s])
		}
	}
	return trans, emit
}
