package sequential

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/happyhackingspace/seqlab/classify"
)

// SequenceClassifier labels every position of a sequence.
type SequenceClassifier interface {
	Classification(seq []classify.Instance) ([]*classify.ClassLabel, error)
}

// ErrInconsistentConfidence is returned by Confidence when the
// constrained search outscores the prediction it is compared against.
var ErrInconsistentConfidence = errors.New("sequential: constrained search beat the prediction")

// CMM is a conditional Markov model: a per-instance classifier decoded
// with a beam search over its own previous predictions.
type CMM struct {
	Classifier  classify.Classifier
	HistorySize int
	Schema      *classify.Schema
	BeamSize    int
}

// NewCMM returns a CMM with the default beam size.
func NewCMM(c classify.Classifier, historySize int, schema *classify.Schema) *CMM {
	return &CMM{Classifier: c, HistorySize: historySize, Schema: schema, BeamSize: DefaultBeamSize}
}

// searcher returns a fresh searcher so a CMM can decode concurrently.
func (m *CMM) searcher() (*BeamSearcher, error) {
	s, err := NewBeamSearcher(m.Classifier, m.HistorySize, m.Schema)
	if err != nil {
		return nil, err
	}
	s.SetMaxBeamSize(m.BeamSize)
	return s, nil
}

// MaxExactStates bounds the label histories a CMM with an unbounded beam
// decodes with ExactViterbi. Larger history spaces use the beam.
const MaxExactStates = 4096

// exact reports whether Classification decodes with ExactViterbi.
func (m *CMM) exact() bool {
	if m.BeamSize > 0 || m.Schema == nil {
		return false
	}
	states := 1
	for range m.HistorySize {
		states *= m.Schema.NumClasses()
		if states > MaxExactStates {
			return false
		}
	}
	return true
}

// Classification labels seq. A CMM whose BeamSize is not positive and
// whose history space is at most MaxExactStates is decoded exactly.
func (m *CMM) Classification(seq []classify.Instance) ([]*classify.ClassLabel, error) {
	if m.exact() {
		labels, _, err := ExactViterbi(m.Classifier, m.HistorySize, m.Schema, seq)
		return labels, err
	}
	s, err := m.searcher()
	if err != nil {
		return nil, err
	}
	return s.BestLabelSequence(seq)
}

// Confidence returns how much better predicted scores than the best
// labeling consistent with alternate. predicted, alternate and seq are
// parallel. lo and hi must delimit a non-empty subsequence.
func (m *CMM) Confidence(seq []classify.Instance, predicted, alternate []*classify.ClassLabel, lo, hi int) (float64, error) {
	if len(predicted) != len(alternate) || len(predicted) != len(seq) {
		return 0, fmt.Errorf("sequential: predicted, alternate and sequence must be parallel (%d, %d, %d)", len(predicted), len(alternate), len(seq))
	}
	if lo < 0 || lo > len(seq) || hi < 0 || hi > len(seq) || hi <= lo {
		return 0, fmt.Errorf("sequential: [%d, %d) is not a subsequence of length %d", lo, hi, len(seq))
	}
	s, err := m.searcher()
	if err != nil {
		return 0, err
	}
	if err := s.SearchConstrained(seq, alternate); err != nil {
		return 0, err
	}
	constrained, err := s.Viterbi(0)
	if err != nil {
		return 0, err
	}
	want, got := sumPredictedWeights(predicted), sumPredictedWeights(constrained)
	if got > want {
		return 0, fmt.Errorf("%w: %.4f > %.4f", ErrInconsistentConfidence, got, want)
	}
	return want - got, nil
}

func sumPredictedWeights(labels []*classify.ClassLabel) float64 {
	var s float64
	for _, l := range labels {
		s += l.BestWeight()
	}
	return s
}

// Explain describes each decision of the best labeling of seq.
func (m *CMM) Explain(seq []classify.Instance) (string, error) {
	s, err := m.searcher()
	if err != nil {
		return "", err
	}
	return s.Explain(seq)
}

// DecodeAll labels every sequence with c using up to workers goroutines.
// Results keep the input order. The first error cancels the rest.
func DecodeAll(parent context.Context, c SequenceClassifier, seqs [][]classify.Instance, workers int) ([][]*classify.ClassLabel, error) {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	out := make([][]*classify.ClassLabel, len(seqs))
	jobs := make(chan int)
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				labels, err := c.Classification(seqs[i])
				if err != nil {
					once.Do(func() {
						firstErr = fmt.Errorf("sequence %d: %w", i, err)
						cancel()
					})
					continue
				}
				out[i] = labels
			}
		}()
	}
feed:
	for i := range seqs {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	if err := parent.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
