package hmm

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
)

// toyModel is a 2-state model with hand-checkable probabilities.
func toyModel(t *testing.T) *Model {
	t.Helper()
	vocab := NewVocabulary([]string{"a", "b", "c"})
	m, err := NewModel(
		[]string{"POS", "NEG"},
		[][]float64{{0.7, 0.3}, {0.4, 0.6}},
		vocab,
		[][]float64{{0.5, 0.4, 0.1, 0}, {0.1, 0.3, 0.6, 0}},
	)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestVocabulary(t *testing.T) {
	v := NewVocabulary([]string{"x", "y", "x"})
	if v.Size() != 3 {
		t.Errorf("Size = %d, want 3", v.Size())
	}
	if v.ID("y") != 1 {
		t.Errorf("ID(y) = %d, want 1", v.ID("y"))
	}
	if v.ID("zzz") != v.ID(Unseen) {
		t.Error("unknown symbol should map to Unseen")
	}
	if v.Symbol(0) != "x" || v.Symbol(9) != "" {
		t.Errorf("Symbol lookups = %q, %q", v.Symbol(0), v.Symbol(9))
	}
}

func TestNewModelValidation(t *testing.T) {
	vocab := NewVocabulary([]string{"a"})
	_, err := NewModel([]string{"S"}, [][]float64{{0.5}}, vocab, [][]float64{{1, 0}})
	if err == nil {
		t.Error("expected error for transition row not summing to 1")
	}
	_, err = NewModel([]string{"S"}, [][]float64{{1}}, vocab, [][]float64{{1}})
	if err == nil {
		t.Error("expected error for emission row of wrong width")
	}
	_, err = NewModel(nil, nil, vocab, nil)
	if err == nil {
		t.Error("expected error for empty state list")
	}
}

func TestForwardHandComputed(t *testing.T) {
	m := toyModel(t)
	fw, err := NewForward(m, m.Encode([]string{"a", "b", "c"}))
	if err != nil {
		t.Fatal(err)
	}
	// f1 = (.25, .05), f2 = (.078, .0315), f3 = (.00672, .02538)
	want := math.Log(0.0321)
	if math.Abs(fw.LogProb()-want) > 1e-9 {
		t.Errorf("forward LogProb = %v, want %v", fw.LogProb(), want)
	}
	if math.Abs(fw.At(2, 1)-math.Log(0.078)) > 1e-9 {
		t.Errorf("f[2][POS] = %v, want %v", fw.At(2, 1), math.Log(0.078))
	}
	if !math.IsInf(fw.At(1, 0), -1) {
		t.Errorf("f[1][START] = %v, want -Inf", fw.At(1, 0))
	}
}

func TestBackwardHandComputed(t *testing.T) {
	m := toyModel(t)
	bw, err := NewBackward(m, m.Encode([]string{"a", "b", "c"}))
	if err != nil {
		t.Fatal(err)
	}
	// b2 = (.25, .40), b1 = (.106, .112)
	if math.Abs(bw.At(1, 2)-math.Log(0.112)) > 1e-9 {
		t.Errorf("b[1][NEG] = %v, want %v", bw.At(1, 2), math.Log(0.112))
	}
	if math.Abs(bw.LogProb()-math.Log(0.0321)) > 1e-9 {
		t.Errorf("backward LogProb = %v, want %v", bw.LogProb(), math.Log(0.0321))
	}
}

func TestForwardBackwardAgree(t *testing.T) {
	m := toyModel(t)
	seqs := [][]string{{"a"}, {"c", "c", "a", "b"}, {"b", "a", "c", "c", "a", "b", "b"}, {"a", "zzz"}}
	for _, s := range seqs {
		x := m.Encode(s)
		fw, _ := NewForward(m, x)
		bw, _ := NewBackward(m, x)
		f, b := fw.LogProb(), bw.LogProb()
		if math.IsInf(f, -1) && math.IsInf(b, -1) {
			continue
		}
		if math.Abs(f-b) > 1e-9*math.Abs(f) {
			t.Errorf("%v: forward %v != backward %v", s, f, b)
		}
	}
}

func TestViterbiHandComputed(t *testing.T) {
	m := toyModel(t)
	names, logProb, err := m.Decode([]string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"POS", "POS", "NEG"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("path = %v, want %v", names, want)
		}
	}
	if math.Abs(logProb-math.Log(0.0126)) > 1e-9 {
		t.Errorf("path LogProb = %v, want %v", logProb, math.Log(0.0126))
	}
}

func TestViterbiNoViablePath(t *testing.T) {
	m := toyModel(t)
	_, _, err := m.Decode([]string{"never-seen"})
	if !errors.Is(err, ErrNoViablePath) {
		t.Errorf("err = %v, want ErrNoViablePath", err)
	}
}

func TestViterbiEmpty(t *testing.T) {
	m := toyModel(t)
	p, err := Viterbi(m, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.States) != 0 || p.LogProb != 0 {
		t.Errorf("empty path = %+v", p)
	}
}

func TestSymbolOutOfRange(t *testing.T) {
	m := toyModel(t)
	if _, err := NewForward(m, []int{0, 17}); err == nil {
		t.Error("expected error for out-of-range symbol")
	}
}

func TestBaumWelchLikelihoodIncreases(t *testing.T) {
	xs := [][]string{
		{"a", "a", "b", "c", "c"},
		{"a", "b", "b", "c"},
		{"c", "c", "a", "a", "a", "b"},
		{"a", "b", "c"},
	}
	vocab := NewVocabulary([]string{"a", "b", "c"})
	cfg := DefaultBaumWelchConfig()
	cfg.Threshold = 1e-6
	cfg.MaxIterations = 200
	m, res, err := BaumWelch(xs, []string{"S1", "S2"}, vocab, cfg)
	if err != nil && !errors.Is(err, ErrNotConverged) {
		t.Fatal(err)
	}
	if m == nil {
		t.Fatal("model is nil")
	}
	for i := 1; i < len(res.History); i++ {
		if res.History[i] < res.History[i-1]-1e-8 {
			t.Errorf("log-likelihood decreased at iteration %d: %v -> %v", i+1, res.History[i-1], res.History[i])
		}
	}
	for k := 1; k < m.NumStates(); k++ {
		sum := 0.0
		for l := 1; l < m.NumStates(); l++ {
			sum += math.Exp(m.LogTransition(k, l))
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("transition row %d sums to %v", k, sum)
		}
	}
}

func TestBaumWelchMaxIterations(t *testing.T) {
	xs := [][]string{{"a", "b", "a", "b", "b"}, {"b", "a"}}
	cfg := DefaultBaumWelchConfig()
	cfg.Threshold = 0
	cfg.MaxIterations = 3
	m, res, err := BaumWelch(xs, []string{"S1", "S2"}, NewVocabulary([]string{"a", "b"}), cfg)
	if !errors.Is(err, ErrNotConverged) {
		t.Fatalf("err = %v, want ErrNotConverged", err)
	}
	if m == nil {
		t.Error("expected the last model alongside ErrNotConverged")
	}
	if res.Iterations != 3 || res.Converged {
		t.Errorf("result = %+v, want 3 iterations, not converged", res)
	}
}

func TestModelSaveLoad(t *testing.T) {
	m := toyModel(t)
	path := filepath.Join(t.TempDir(), "hmm.json")
	if err := SaveModel(m, path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadModel(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.NumStates() != m.NumStates() {
		t.Fatalf("NumStates = %d, want %d", loaded.NumStates(), m.NumStates())
	}
	for k := range m.NumStates() {
		for l := range m.NumStates() {
			a, b := m.LogTransition(k, l), loaded.LogTransition(k, l)
			if a != b && math.Abs(a-b) > 1e-12 {
				t.Errorf("loga[%d][%d] = %v, want %v", k, l, b, a)
			}
		}
	}
	names, _, err := loaded.Decode([]string{"a", "b", "c"})
	if err != nil || names[2] != "NEG" {
		t.Errorf("decode after load = %v, %v", names, err)
	}
}

func TestBaumWelchUnseenCount(t *testing.T) {
	xs := [][]string{{"a", "b", "a"}, {"b", "b", "a"}}
	vocab := NewVocabulary([]string{"a", "b"})
	unseen := vocab.ID(Unseen)

	cfg := DefaultBaumWelchConfig()
	cfg.MaxIterations = 50
	m, _, err := BaumWelch(xs, []string{"S1", "S2"}, vocab, cfg)
	if err != nil && !errors.Is(err, ErrNotConverged) {
		t.Fatal(err)
	}
	for k := 1; k < m.NumStates(); k++ {
		if !math.IsInf(m.LogEmission(k, unseen), -1) {
			t.Errorf("state %d emits %s with log-prob %v, want -Inf", k, Unseen, m.LogEmission(k, unseen))
		}
	}
	if _, _, err := m.Decode([]string{"a", "zzz", "b"}); err == nil {
		t.Error("Decode of an unknown token succeeded without Unseen mass")
	}

	cfg.UnseenCount = 0.5
	m, _, err = BaumWelch(xs, []string{"S1", "S2"}, vocab, cfg)
	if err != nil && !errors.Is(err, ErrNotConverged) {
		t.Fatal(err)
	}
	for k := 1; k < m.NumStates(); k++ {
		if math.IsInf(m.LogEmission(k, unseen), -1) {
			t.Errorf("state %d gives %s no mass", k, Unseen)
		}
	}
	path, logProb, err := m.Decode([]string{"a", "zzz", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 3 || math.IsInf(logProb, 0) {
		t.Errorf("Decode = %v, %v", path, logProb)
	}
}
