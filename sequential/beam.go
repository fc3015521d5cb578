package sequential

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/happyhackingspace/seqlab/classify"
)

// ErrNoViablePath is returned when a constrained search leaves the beam empty.
var ErrNoViablePath = classify.ErrNoViablePath

// ErrNoSearch is returned when results are requested before a search completed.
var ErrNoSearch = errors.New("sequential: no completed search")

// DefaultBeamSize is the number of entries expanded per position.
const DefaultBeamSize = 10

type searchState int

const (
	stateIdle searchState = iota
	stateSearching
	stateDone
)

// beamEntry is an immutable partial labeling. Extending an entry shares
// its prefix with the parent.
type beamEntry struct {
	parent *beamEntry
	label  string
	score  float64 // score of label at this position
	total  float64
	length int
}

func (e *beamEntry) extend(label string, score float64) *beamEntry {
	return &beamEntry{parent: e, label: label, score: score, total: e.total + score, length: e.length + 1}
}

// history returns the last size labels, most recent first, NULL-padded.
func (e *beamEntry) history(size int) []string {
	h := make([]string, size)
	cur := e
	for k := range size {
		if cur != nil && cur.length > 0 {
			h[k] = cur.label
			cur = cur.parent
		} else {
			h[k] = NullClassName
		}
	}
	return h
}

func (e *beamEntry) key(size int) string {
	return strings.Join(e.history(size), "\x00")
}

// labels returns the per-position labels, first position first.
func (e *beamEntry) labels() []*classify.ClassLabel {
	out := make([]*classify.ClassLabel, e.length)
	for cur := e; cur != nil && cur.length > 0; cur = cur.parent {
		out[cur.length-1] = classify.NewScoredLabel(cur.label, cur.score)
	}
	return out
}

// beam collects candidate entries, merging those with equal keys.
type beam struct {
	historySize int
	entries     []*beamEntry
	index       map[string]int
}

func newBeam(historySize int) *beam {
	return &beam{historySize: historySize, index: make(map[string]int)}
}

// add keeps the higher-scoring of two entries sharing a key. On a tie the
// entry already present stays.
func (b *beam) add(e *beamEntry) {
	k := e.key(b.historySize)
	if i, ok := b.index[k]; ok {
		if b.entries[i].total >= e.total {
			return
		}
		b.entries[i] = nil
	}
	b.index[k] = len(b.entries)
	b.entries = append(b.entries, e)
}

// sorted returns the entries by descending total score, stable on insertion order.
func (b *beam) sorted() []*beamEntry {
	out := make([]*beamEntry, 0, len(b.index))
	for _, e := range b.entries {
		if e != nil {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].total > out[j].total })
	return out
}

// BeamSearcher decodes a sequence with a per-position classifier whose
// input includes the previously predicted labels.
type BeamSearcher struct {
	classifier  classify.Classifier
	historySize int
	schema      *classify.Schema
	maxBeamSize int

	state  searchState
	length int
	beam   []*beamEntry
}

// NewBeamSearcher fails when the schema has fewer than two classes.
func NewBeamSearcher(c classify.Classifier, historySize int, schema *classify.Schema) (*BeamSearcher, error) {
	if schema == nil || schema.NumClasses() < 2 {
		return nil, fmt.Errorf("sequential: beam search needs at least 2 classes")
	}
	if historySize < 0 {
		return nil, fmt.Errorf("sequential: negative history size %d", historySize)
	}
	return &BeamSearcher{
		classifier:  c,
		historySize: historySize,
		schema:      schema,
		maxBeamSize: DefaultBeamSize,
	}, nil
}

// SetMaxBeamSize sets how many entries are expanded per position.
// n <= 0 expands every entry.
func (s *BeamSearcher) SetMaxBeamSize(n int) { s.maxBeamSize = n }

// MaxBeamSize returns the expansion width.
func (s *BeamSearcher) MaxBeamSize() int { return s.maxBeamSize }

// Search runs an unconstrained beam search over seq.
func (s *BeamSearcher) Search(seq []classify.Instance) error {
	return s.SearchConstrained(seq, nil)
}

// SearchConstrained runs a beam search where each non-nil template[i]
// forces position i to template[i].BestClassName().
func (s *BeamSearcher) SearchConstrained(seq []classify.Instance, template []*classify.ClassLabel) error {
	if template != nil && len(template) != len(seq) {
		return fmt.Errorf("sequential: template has %d labels for %d instances", len(template), len(seq))
	}
	s.state = stateSearching
	s.beam = nil

	current := []*beamEntry{{}}
	for i, inst := range seq {
		next := newBeam(s.historySize)
		width := len(current)
		if s.maxBeamSize > 0 && s.maxBeamSize < width {
			width = s.maxBeamSize
		}
		for _, e := range current[:width] {
			label := s.classifier.Classification(NewHistoryInstance(inst, e.history(s.historySize)))
			for c := range s.schema.NumClasses() {
				name := s.schema.ClassName(c)
				if template != nil && template[i] != nil && template[i].BestClassName() != name {
					continue
				}
				next.add(e.extend(name, label.Weight(name)))
			}
		}
		current = next.sorted()
		if len(current) == 0 {
			s.state = stateIdle
			return fmt.Errorf("position %d: %w", i, ErrNoViablePath)
		}
	}
	s.beam = current
	s.length = len(seq)
	s.state = stateDone
	return nil
}

func (s *BeamSearcher) checkResult(k int) error {
	if s.state != stateDone {
		return ErrNoSearch
	}
	if k < 0 || k >= len(s.beam) {
		return fmt.Errorf("sequential: solution %d out of range [0, %d)", k, len(s.beam))
	}
	return nil
}

// Viterbi returns the k-th best labeling of the last search. Each label
// carries the score of its position.
func (s *BeamSearcher) Viterbi(k int) ([]*classify.ClassLabel, error) {
	if err := s.checkResult(k); err != nil {
		return nil, err
	}
	return s.beam[k].labels(), nil
}

// Score returns the total score of the k-th best labeling.
func (s *BeamSearcher) Score(k int) (float64, error) {
	if err := s.checkResult(k); err != nil {
		return 0, err
	}
	return s.beam[k].total, nil
}

// NumSolutions returns the number of labelings in the final beam.
func (s *BeamSearcher) NumSolutions() int {
	if s.state != stateDone {
		return 0
	}
	return len(s.beam)
}

// BestLabelSequence searches seq and returns the best labeling.
func (s *BeamSearcher) BestLabelSequence(seq []classify.Instance) ([]*classify.ClassLabel, error) {
	if err := s.Search(seq); err != nil {
		return nil, err
	}
	return s.Viterbi(0)
}

// Explain searches seq and describes each decision of the best labeling.
func (s *BeamSearcher) Explain(seq []classify.Instance) (string, error) {
	labels, err := s.BestLabelSequence(seq)
	if err != nil {
		return "", err
	}
	explainer, _ := s.classifier.(classify.Explainer)
	var b strings.Builder
	entry := &beamEntry{}
	for i, inst := range seq {
		fmt.Fprintf(&b, "Classification for instance %d is %s (score %.4f):\n", i, labels[i].BestClassName(), labels[i].BestWeight())
		if explainer != nil {
			b.WriteString(explainer.Explain(NewHistoryInstance(inst, entry.history(s.historySize))))
		}
		entry = entry.extend(labels[i].BestClassName(), labels[i].BestWeight())
		fmt.Fprintf(&b, "Running total score: %.4f\n\n", entry.total)
	}
	return b.String(), nil
}
