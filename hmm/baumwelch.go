package hmm

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"github.com/happyhackingspace/seqlab/logmath"
)

// BaumWelchConfig holds re-estimation parameters.
type BaumWelchConfig struct {
	Threshold     float64 // stop when |Δ log-likelihood| <= Threshold
	MaxIterations int     // <= 0 means no cap
	Seed          uint64  // seeds the random initial model
	// UnseenCount is added to the expected Unseen emissions of every
	// state before each re-estimation, so tokens outside the vocabulary
	// stay decodable. Zero keeps plain maximum likelihood.
	UnseenCount float64
	Logger      *slog.Logger
}

// DefaultBaumWelchConfig returns the default re-estimation parameters.
func DefaultBaumWelchConfig() BaumWelchConfig {
	return BaumWelchConfig{
		Threshold: 1e-4,
		Seed:      1,
	}
}

// BaumWelchResult reports how re-estimation went.
type BaumWelchResult struct {
	Iterations    int
	LogLikelihood float64   // of the training data under the last model evaluated
	History       []float64 // log-likelihood per iteration
	Converged     bool
}

// BaumWelch estimates an HMM over states from the unlabeled token
// sequences xs. When MaxIterations is reached first, it returns the last
// model together with an error wrapping ErrNotConverged.
func BaumWelch(xs [][]string, states []string, vocab *Vocabulary, cfg BaumWelchConfig) (*Model, *BaumWelchResult, error) {
	if len(states) == 0 {
		return nil, nil, fmt.Errorf("hmm: no states")
	}
	if vocab == nil {
		return nil, nil, fmt.Errorf("hmm: nil vocabulary")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	encoded := make([][]int, len(xs))
	for i, x := range xs {
		encoded[i] = vocab.Encode(x)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	m := newModel(states, randomRows(rng, len(states), len(states)), vocab, randomRows(rng, len(states), vocab.Size()))

	result := &BaumWelchResult{}
	prev := math.Inf(-1)
	for {
		next, ll, err := reestimate(m, encoded, cfg.UnseenCount)
		if err != nil {
			return nil, nil, err
		}
		result.Iterations++
		result.LogLikelihood = ll
		result.History = append(result.History, ll)
		logger.Debug("Baum-Welch iteration", "iteration", result.Iterations, "loglik", ll)

		m = next
		if math.Abs(prev-ll) <= cfg.Threshold {
			result.Converged = true
			return m, result, nil
		}
		prev = ll
		if cfg.MaxIterations > 0 && result.Iterations >= cfg.MaxIterations {
			return m, result, fmt.Errorf("after %d iterations: %w", result.Iterations, ErrNotConverged)
		}
	}
}

// reestimate runs one EM step and returns the new model together with
// the log-likelihood of xs under m. unseen is the pseudo-count of the
// Unseen symbol in every state.
func reestimate(m *Model, xs [][]int, unseen float64) (*Model, float64, error) {
	n := m.NumStates()
	nStates := n - 1
	A := zeroRows(nStates, nStates)
	E := zeroRows(nStates, m.vocab.Size())

	ll := 0.0
	for _, x := range xs {
		if len(x) == 0 {
			continue
		}
		fw, err := NewForward(m, x)
		if err != nil {
			return nil, 0, err
		}
		bw, err := NewBackward(m, x)
		if err != nil {
			return nil, 0, err
		}
		P := fw.LogProb()
		if logmath.IsZero(P) {
			continue
		}
		ll += P
		L := len(x)
		for i := 1; i <= L; i++ {
			for k := 1; k < n; k++ {
				E[k-1][x[i-1]] += logmath.Exp(fw.f[i][k] + bw.b[i][k] - P)
			}
		}
		for i := 1; i < L; i++ {
			for k := 1; k < n; k++ {
				for l := 1; l < n; l++ {
					A[k-1][l-1] += logmath.Exp(fw.f[i][k] + m.loga[k][l] + m.loge[l][x[i]] + bw.b[i+1][l] - P)
				}
			}
		}
	}

	for _, row := range A {
		normalize(row)
	}
	unseenID := m.vocab.ID(Unseen)
	for _, row := range E {
		row[unseenID] += unseen
		normalize(row)
	}
	return newModel(m.states[1:], A, m.vocab, E), ll, nil
}

// normalize scales row to sum to 1. A row without mass becomes uniform.
func normalize(row []float64) {
	s := floats.Sum(row)
	if s <= 0 {
		for i := range row {
			row[i] = 1
		}
		s = float64(len(row))
	}
	floats.Scale(1/s, row)
}

func zeroRows(rows, cols int) [][]float64 {
	t := make([][]float64, rows)
	for i := range t {
		t[i] = make([]float64, cols)
	}
	return t
}

func randomRows(rng *rand.Rand, rows, cols int) [][]float64 {
	t := zeroRows(rows, cols)
	for _, row := range t {
		for j := range row {
			row[j] = rng.Float64()
		}
		normalize(row)
	}
	return t
}
