package crf

import (
	"math"
	"reflect"
	"testing"

	"github.com/happyhackingspace/seqlab/classify"
)

func TestAlphabet(t *testing.T) {
	a := NewAlphabet()
	for _, s := range []string{"B-LOC", "O", "B-LOC", "I-LOC"} {
		a.Add(s)
	}
	if want := []string{"B-LOC", "O", "I-LOC"}; !reflect.DeepEqual(a.ToStr, want) {
		t.Errorf("ToStr = %v, want %v", a.ToStr, want)
	}
	if id, ok := a.Lookup("I-LOC"); !ok || id != 2 {
		t.Errorf("Lookup(I-LOC) = %d, %v", id, ok)
	}
	if _, ok := a.Lookup("B-PER"); ok {
		t.Error("Lookup(B-PER) succeeded on an unknown label")
	}
}

func TestAttributes(t *testing.T) {
	inst := classify.NewMutableInstance("Paris", "")
	inst.AddBinary("w.paris")
	inst.AddNumeric("len", 5)
	inst.AddNumeric("digits", 0)
	got := Attributes(inst)
	if want := map[string]float64{"w.paris": 1, "len": 5}; !reflect.DeepEqual(got, want) {
		t.Errorf("Attributes = %v, want %v", got, want)
	}
}

// paths enumerates every label path of length n over l labels.
func paths(n, l int) [][]int {
	if n == 0 {
		return [][]int{nil}
	}
	var out [][]int
	for _, p := range paths(n-1, l) {
		for y := range l {
			out = append(out, append(append([]int(nil), p...), y))
		}
	}
	return out
}

var threeByThree = &Lattice{
	State: [][]float64{{0.2, -1.0, 0.7}, {1.5, 0.1, -0.3}, {-0.4, 0.9, 0.0}},
	Trans: [][]float64{{0.5, -0.2, 0.1}, {-1.0, 0.3, 0.8}, {0.0, 0.4, -0.6}},
}

func TestViterbiMatchesExhaustiveSearch(t *testing.T) {
	lat := threeByThree
	var best []int
	top := math.Inf(-1)
	for _, p := range paths(lat.Len(), lat.NumLabels()) {
		if s := lat.PathScore(p); s > top {
			best, top = p, s
		}
	}
	path, score := lat.Viterbi()
	if !reflect.DeepEqual(path, best) {
		t.Errorf("Viterbi path = %v, want %v", path, best)
	}
	if math.Abs(score-top) > 1e-12 {
		t.Errorf("Viterbi score = %v, want %v", score, top)
	}

	if path, _ := (&Lattice{Trans: lat.Trans}).Viterbi(); path != nil {
		t.Errorf("empty lattice path = %v", path)
	}
}

func TestForwardBackwardMatchesExhaustiveSum(t *testing.T) {
	lat := threeByThree
	T, L := lat.Len(), lat.NumLabels()
	all := paths(T, L)

	z := 0.0
	for _, p := range all {
		z += math.Exp(lat.PathScore(p))
	}
	post := lat.ForwardBackward()
	if math.Abs(post.LogZ-math.Log(z)) > 1e-9 {
		t.Fatalf("LogZ = %v, want %v", post.LogZ, math.Log(z))
	}

	for pos := range T {
		for y := range L {
			want := 0.0
			for _, p := range all {
				if p[pos] == y {
					want += math.Exp(lat.PathScore(p)) / z
				}
			}
			if got := post.Marginal(pos, y); math.Abs(got-want) > 1e-9 {
				t.Errorf("Marginal(%d, %d) = %v, want %v", pos, y, got, want)
			}
		}
	}
	for i := range L {
		for j := range L {
			want := 0.0
			for _, p := range all {
				if p[1] == i && p[2] == j {
					want += math.Exp(lat.PathScore(p)) / z
				}
			}
			if got := post.PairMarginal(1, i, j); math.Abs(got-want) > 1e-9 {
				t.Errorf("PairMarginal(1, %d, %d) = %v, want %v", i, j, got, want)
			}
		}
	}
}

// alternating is separable only through the word attributes.
var alternating = []TrainingSequence{
	{
		Features: []map[string]float64{{"w.ada": 1, "cap": 1}, {"w.in": 1}, {"w.rome": 1, "cap": 1}},
		Labels:   []string{"PER", "O", "LOC"},
	},
	{
		Features: []map[string]float64{{"w.in": 1}, {"w.rome": 1, "cap": 1}, {"w.ada": 1, "cap": 1}},
		Labels:   []string{"O", "LOC", "PER"},
	},
}

func TestTrainFitsAlternating(t *testing.T) {
	cfg := DefaultTrainerConfig()
	cfg.MaxIterations = 60
	cfg.C1, cfg.C2 = 0.01, 0.01
	m, err := Train(alternating, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}
	for _, seq := range alternating {
		if got, _ := m.Predict(seq.Features); !reflect.DeepEqual(got, seq.Labels) {
			t.Errorf("Predict = %v, want %v", got, seq.Labels)
		}
	}

	marg := m.Marginals([]map[string]float64{{"w.ada": 1, "unseen": 1}})
	sum := 0.0
	for _, p := range marg[0] {
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 || marg[0]["PER"] < 0.5 {
		t.Errorf("Marginals = %v", marg)
	}
}

func TestTrainRejectsBadInput(t *testing.T) {
	if _, err := Train(nil, DefaultTrainerConfig()); err == nil {
		t.Error("Train(nil) succeeded")
	}
	short := []TrainingSequence{{Features: []map[string]float64{{"x": 1}, {"y": 1}}, Labels: []string{"A"}}}
	if _, err := Train(short, DefaultTrainerConfig()); err == nil {
		t.Error("Train accepted a sequence with a missing label")
	}
}

func TestUnmarshalModel(t *testing.T) {
	m := NewModel()
	m.Labels.Add("O")
	m.Labels.Add("LOC")
	m.Attributes.Add("cap")
	m.NumLabels = 2
	m.Weights = []float64{0.4, -0.4, 0.1, 0.2, -0.3, 0.0}

	data, err := MarshalModel(m)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalModel(data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, m) {
		t.Errorf("UnmarshalModel = %+v, want %+v", got, m)
	}

	tests := map[string]func(*Model){
		"short weights": func(m *Model) { m.Weights = m.Weights[:3] },
		"label count":   func(m *Model) { m.NumLabels = 3 },
		"no alphabets":  func(m *Model) { m.Attributes = nil },
	}
	for name, mutate := range tests {
		bad, _ := UnmarshalModel(data)
		mutate(bad)
		if err := bad.Validate(); err == nil {
			t.Errorf("%s: Validate succeeded", name)
		}
	}
}
