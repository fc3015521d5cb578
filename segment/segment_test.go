package segment

import (
	"errors"
	"hash/fnv"
	"math"
	"testing"

	"github.com/happyhackingspace/seqlab/classify"
	"github.com/happyhackingspace/seqlab/sequential"
)

func units(words ...string) []classify.Instance {
	out := make([]classify.Instance, len(words))
	for i, w := range words {
		m := classify.NewMutableInstance(w, "doc")
		m.AddBinary(classify.Feature("w=" + w))
		m.AddNumeric("len", float64(len(w)))
		out[i] = m
	}
	return out
}

func mustSchema(t *testing.T, names ...string) *classify.Schema {
	t.Helper()
	s, err := classify.NewSchema(names)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// hashScorer gives every (feature, class) pair a fixed pseudo-random weight.
type hashScorer struct {
	schema *classify.Schema
}

func (h hashScorer) Classification(inst classify.Instance) *classify.ClassLabel {
	label := &classify.ClassLabel{}
	for _, c := range h.schema.ClassNames() {
		s := 0.0
		for _, f := range inst.Features() {
			sum := fnv.New64a()
			sum.Write([]byte(string(f) + "|" + c))
			s += (float64(sum.Sum64()%2000)/1000 - 1) * inst.Weight(f)
		}
		label.Add(c, s)
	}
	return label
}

func TestSegmentation(t *testing.T) {
	schema := mustSchema(t, "LOC", "NEG", "PER")
	s := NewSegmentation(schema)
	s.Add(Segment{Lo: 2, Hi: 4, Y: 0})
	s.Add(Segment{Lo: 0, Hi: 1, Y: 2})
	s.Add(Segment{Lo: 1, Hi: 2, Y: 1})
	s.Add(Segment{Lo: 0, Hi: 1, Y: 2})

	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
	segs := s.Segments()
	if segs[0].Lo != 0 || segs[1].Lo != 1 || segs[2].Lo != 2 {
		t.Errorf("segments out of order: %v", segs)
	}
	if !s.Contains(Segment{Lo: 2, Hi: 4, Y: 0}) || s.Contains(Segment{Lo: 2, Hi: 4, Y: 2}) {
		t.Error("Contains should compare lo, hi and class")
	}
	got := s.TokenLabels(5)
	want := []string{"PER", "NEG", "LOC", "LOC", "NEG"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("TokenLabels = %v, want %v", got, want)
		}
	}
	if s.String() != "[0,1)PER [1,2)NEG [2,4)LOC" {
		t.Errorf("String = %q", s.String())
	}
}

func TestSpansFromLabels(t *testing.T) {
	spans := SpansFromLabels([]string{"PER", "NEG", "LOC", "LOC", "PER", "NEG"})
	want := []Span{{0, 1, "PER"}, {2, 4, "LOC"}, {4, 5, "PER"}}
	if len(spans) != len(want) {
		t.Fatalf("spans = %v, want %v", spans, want)
	}
	for i := range want {
		if spans[i] != want[i] {
			t.Errorf("spans[%d] = %v, want %v", i, spans[i], want[i])
		}
	}
}

func TestMutableGroup(t *testing.T) {
	if _, err := NewMutableGroup(0, 3); err == nil {
		t.Error("expected error for zero window size")
	}
	g, err := NewMutableGroup(2, 3)
	if err != nil {
		t.Fatal(err)
	}
	u := units("a", "b", "c")
	if err := g.SetSubsequence(0, 1, u[0], classify.NewClassLabel("NEG")); err != nil {
		t.Fatal(err)
	}
	if err := g.SetSubsequence(0, 1, u[0], classify.NewClassLabel("PER")); err != nil {
		t.Fatal(err)
	}
	if g.Size() != 1 {
		t.Errorf("Size = %d, want 1 after overwriting a window", g.Size())
	}
	for _, w := range [][2]int{{0, 3}, {2, 4}, {1, 1}, {-1, 0}} {
		if err := g.SetSubsequence(w[0], w[1], u[0], nil); err == nil {
			t.Errorf("expected error for window %v", w)
		}
	}
	other := classify.NewMutableInstance("x", "other")
	if err := g.SetSubsequence(1, 2, other, nil); err == nil {
		t.Error("expected error for mixed subpopulations")
	}
	if g.SubsequenceInstance(2, 5) != nil || g.SubsequenceLabel(5, 6) != nil {
		t.Error("lookups outside the grid should return nil")
	}
	if names := g.ClassNames(); len(names) != 1 || names[0] != "PER" {
		t.Errorf("ClassNames = %v", names)
	}
}

func TestNewWindowGroup(t *testing.T) {
	u := units("john", "lives", "in", "new", "york")
	g, err := NewWindowGroup(u, []Span{{0, 1, "PER"}, {3, 5, "LOC"}}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if g.Size() != 12 {
		t.Errorf("Size = %d, want 12", g.Size())
	}
	if got := g.SubsequenceLabel(3, 5).BestClassName(); got != "LOC" {
		t.Errorf("label of [3,5) = %s, want LOC", got)
	}
	if got := g.SubsequenceLabel(3, 4).BestClassName(); got != classify.NegClassName {
		t.Errorf("label of [3,4) = %s, want NEG", got)
	}
	inst := g.SubsequenceInstance(2, 5)
	if inst.Weight("len") != 9 || inst.Weight("w=new") != 1 || inst.Weight("window.length.3") != 1 {
		t.Errorf("window [2,5) weights: len=%v w=new=%v", inst.Weight("len"), inst.Weight("w=new"))
	}
	if inst.Source() != "in new york" {
		t.Errorf("Source = %q", inst.Source())
	}

	if _, err := NewWindowGroup(u, []Span{{0, 2, "LOC"}, {1, 3, "PER"}}, 3); err == nil {
		t.Error("expected error for overlapping spans")
	}
}

func TestCompactGroupMatchesDense(t *testing.T) {
	u := units("the", "new", "new", "york", "times")
	dense, err := NewWindowGroup(u, []Span{{1, 4, "LOC"}}, 3)
	if err != nil {
		t.Fatal(err)
	}
	// A window lacking one of its unit features exercises the forced-zero set.
	odd := classify.NewMutableInstance("odd", "doc")
	odd.AddBinary("w=york")
	odd.AddNumeric("len", 3)
	if err := dense.SetSubsequence(3, 5, odd, classify.NewClassLabel("NEG")); err != nil {
		t.Fatal(err)
	}

	compact := NewCompactGroup(dense)
	if compact.Size() != dense.Size() || compact.SequenceLength() != 5 || compact.MaxWindowSize() != 3 {
		t.Fatalf("compact shape differs: size %d", compact.Size())
	}
	for start := range 5 {
		for end := start + 1; end <= 5 && end-start <= 3; end++ {
			want, got := dense.SubsequenceInstance(start, end), compact.SubsequenceInstance(start, end)
			if got == nil {
				t.Fatalf("[%d,%d): missing compact instance", start, end)
			}
			if end-start == 1 {
				if _, ok := got.(*DeltaInstance); ok {
					t.Errorf("[%d,%d): unit windows should be stored directly", start, end)
				}
			}
			features := classify.MergeFeatures(want.Features(), got.Features())
			for _, f := range features {
				if math.Abs(want.Weight(f)-got.Weight(f)) > 1e-9 {
					t.Errorf("[%d,%d) %s: compact %v, dense %v", start, end, f, got.Weight(f), want.Weight(f))
				}
			}
			if len(got.Features()) != len(want.Features()) {
				t.Errorf("[%d,%d): %d compact features, %d dense", start, end, len(got.Features()), len(want.Features()))
			}
			if got.Source() != want.Source() {
				t.Errorf("[%d,%d): source %q, want %q", start, end, got.Source(), want.Source())
			}
			if !compact.SubsequenceLabel(start, end).IsCorrect(dense.SubsequenceLabel(start, end)) {
				t.Errorf("[%d,%d): labels differ", start, end)
			}
		}
	}
	if compact.SubsequenceInstance(3, 5).Weight("w=times") != 0 {
		t.Error("forced-zero feature should have weight 0")
	}
}

func TestDataset(t *testing.T) {
	ds := NewDataset()
	g2, _ := NewWindowGroup(units("a", "b"), []Span{{0, 1, "POS"}}, 2)
	g3, _ := NewWindowGroup(units("a", "b"), nil, 3)
	if err := ds.AddGroup(g2); err != nil {
		t.Fatal(err)
	}
	if err := ds.AddGroup(g3); err == nil {
		t.Error("expected error for mismatched window sizes")
	}
	schema, err := ds.Schema()
	if err != nil {
		t.Fatal(err)
	}
	if schema.ClassName(0) != classify.PosClassName {
		t.Errorf("POS/NEG data should use the binary schema, got %v", schema.ClassNames())
	}

	ds.SetCompression(true)
	if err := ds.AddGroup(g2); err != nil {
		t.Fatal(err)
	}
	if _, ok := ds.Groups()[1].(*CompactGroup); !ok {
		t.Error("compression should store compact groups")
	}
	if ds.NumGroups() != 2 || ds.Size() != 2*g2.Size() {
		t.Errorf("NumGroups = %d, Size = %d", ds.NumGroups(), ds.Size())
	}
}

// enumerate returns the best score over every segmentation with unit
// background segments, using the searcher's history convention.
func enumerate(t *testing.T, s *ViterbiSearcher, g CandidateGroup, schema *classify.Schema) float64 {
	t.Helper()
	best := math.Inf(-1)
	var walk func(pos int, seg *Segmentation)
	walk = func(pos int, seg *Segmentation) {
		if pos == g.SequenceLength() {
			score, err := s.ScoreSegmentation(g, seg)
			if err != nil {
				t.Fatal(err)
			}
			best = max(best, score)
			return
		}
		for l := 1; l <= g.MaxWindowSize() && pos+l <= g.SequenceLength(); l++ {
			for y, name := range schema.ClassNames() {
				if name == classify.NegClassName && l > 1 {
					continue
				}
				next := NewSegmentation(schema)
				for _, sg := range seg.Segments() {
					next.Add(sg)
				}
				next.Add(Segment{Lo: pos, Hi: pos + l, Y: y})
				walk(pos+l, next)
			}
		}
	}
	walk(0, NewSegmentation(schema))
	return best
}

func TestViterbiSearcher(t *testing.T) {
	schema := mustSchema(t, "LOC", "NEG", "PER")
	bg, _ := schema.Background()
	for _, words := range [][]string{{"a"}, {"john", "lives", "in", "new", "york"}, {"x", "y", "x", "y"}} {
		g, err := NewWindowGroup(units(words...), nil, 2)
		if err != nil {
			t.Fatal(err)
		}
		s, err := NewViterbiSearcher(hashScorer{schema}, schema, 2)
		if err != nil {
			t.Fatal(err)
		}
		seg, score, err := s.BestSegments(g)
		if err != nil {
			t.Fatal(err)
		}
		rescored, err := s.ScoreSegmentation(g, seg)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(rescored-score) > 1e-9 {
			t.Errorf("%v: ScoreSegmentation = %v, BestSegments = %v", words, rescored, score)
		}
		if want := enumerate(t, s, g, schema); math.Abs(want-score) > 1e-9 {
			t.Errorf("%v: best score %v, exhaustive %v", words, score, want)
		}

		background := NewSegmentation(schema)
		for i := range words {
			background.Add(Segment{Lo: i, Hi: i + 1, Y: bg})
		}
		bgScore, err := s.ScoreSegmentation(g, background)
		if err != nil {
			t.Fatal(err)
		}
		if score < bgScore {
			t.Errorf("%v: best score %v below all-background %v", words, score, bgScore)
		}
		for _, sg := range seg.Segments() {
			if sg.Y == bg && sg.Hi-sg.Lo != 1 {
				t.Errorf("%v: background segment %v longer than 1", words, sg)
			}
		}
	}
}

func TestViterbiSearcherNoPath(t *testing.T) {
	schema := mustSchema(t, "NEG", "PER")
	if _, err := NewViterbiSearcher(hashScorer{schema}, mustSchema(t, "NEG"), 2); err == nil {
		t.Error("expected error for a single-class schema")
	}
	g, _ := NewMutableGroup(2, 3)
	u := units("a", "b", "c")
	_ = g.SetSubsequence(0, 1, u[0], nil)
	_ = g.SetSubsequence(2, 3, u[2], nil)
	s, _ := NewViterbiSearcher(hashScorer{schema}, schema, 2)
	if _, _, err := s.BestSegments(g); !errors.Is(err, ErrNoViablePath) {
		t.Errorf("err = %v, want ErrNoViablePath", err)
	}
}

func TestCorrectSegments(t *testing.T) {
	schema := mustSchema(t, "LOC", "NEG", "PER")
	g, err := NewWindowGroup(units("john", "lives", "in", "new", "york"), []Span{{0, 1, "PER"}, {3, 5, "LOC"}}, 3)
	if err != nil {
		t.Fatal(err)
	}
	seg, err := CorrectSegments(g, schema)
	if err != nil {
		t.Fatal(err)
	}
	if got := seg.String(); got != "[0,1)PER [1,2)NEG [2,3)NEG [3,5)LOC" {
		t.Errorf("CorrectSegments = %s", got)
	}
	if _, err := CorrectSegments(g, mustSchema(t, "LOC", "NEG")); err == nil {
		t.Error("expected error for a class missing from the schema")
	}
	if _, err := CorrectSegments(g, mustSchema(t, "LOC", "PER")); err == nil {
		t.Error("expected error without a background class")
	}
}

func TestLongSpanSplitIntoWindows(t *testing.T) {
	schema := mustSchema(t, "LOC", "NEG")
	words := units("the", "united", "states", "of", "america", "is")
	tests := []struct {
		maxWindow int
		want      string
	}{
		{2, "[0,1)NEG [1,3)LOC [3,5)LOC [5,6)NEG"},
		{3, "[0,1)NEG [1,4)LOC [4,5)LOC [5,6)NEG"},
		{4, "[0,1)NEG [1,5)LOC [5,6)NEG"},
	}
	for _, tt := range tests {
		g, err := NewWindowGroup(words, []Span{{1, 5, "LOC"}}, tt.maxWindow)
		if err != nil {
			t.Fatalf("maxWindow %d: %v", tt.maxWindow, err)
		}
		seg, err := CorrectSegments(g, schema)
		if err != nil {
			t.Fatal(err)
		}
		if got := seg.String(); got != tt.want {
			t.Errorf("maxWindow %d: CorrectSegments = %s, want %s", tt.maxWindow, got, tt.want)
		}
		if got := seg.TokenLabels(6); got[1] != "LOC" || got[4] != "LOC" {
			t.Errorf("maxWindow %d: TokenLabels = %v", tt.maxWindow, got)
		}
	}
}

func trainingData(t *testing.T, compress bool) *Dataset {
	t.Helper()
	ds := NewDataset()
	ds.SetCompression(compress)
	for _, ex := range []struct {
		words []string
		spans []Span
	}{
		{[]string{"john", "lives", "in", "new", "york"}, []Span{{0, 1, "PER"}, {3, 5, "LOC"}}},
		{[]string{"mary", "visited", "new", "york"}, []Span{{0, 1, "PER"}, {2, 4, "LOC"}}},
		{[]string{"new", "york", "is", "big"}, []Span{{0, 2, "LOC"}}},
		{[]string{"john", "met", "mary"}, []Span{{0, 1, "PER"}, {2, 3, "PER"}}},
	} {
		u := make([]classify.Instance, len(ex.words))
		for i, w := range ex.words {
			m := classify.NewMutableInstance(w, "")
			m.AddBinary(classify.Feature("w=" + w))
			u[i] = m
		}
		g, err := NewWindowGroup(u, ex.spans, 2)
		if err != nil {
			t.Fatal(err)
		}
		if err := ds.AddGroup(g); err != nil {
			t.Fatal(err)
		}
	}
	return ds
}

func TestPerceptronTrainer(t *testing.T) {
	for _, compress := range []bool{false, true} {
		ds := trainingData(t, compress)
		var stats []sequential.EpochStats
		tr := NewPerceptronTrainer(10)
		tr.OnEpoch = func(s sequential.EpochStats) { stats = append(stats, s) }
		seg, err := tr.BatchTrain(ds)
		if err != nil {
			t.Fatal(err)
		}
		if last := stats[len(stats)-1]; last.TransitionErrors != 0 {
			t.Errorf("compress=%v: training stopped with %d errors", compress, last.TransitionErrors)
		}
		if stats[0].SequenceErrors == 0 {
			t.Errorf("compress=%v: first epoch should make mistakes", compress)
		}
		for i, g := range ds.Groups() {
			got, err := seg.Segmentation(g)
			if err != nil {
				t.Fatal(err)
			}
			want, _ := CorrectSegments(g, seg.Schema)
			if got.String() != want.String() {
				t.Errorf("compress=%v group %d: %s, want %s", compress, i, got, want)
			}
		}
	}
}

func TestPerceptronTrainerRejectsBadInput(t *testing.T) {
	if _, err := NewPerceptronTrainer(0).BatchTrain(trainingData(t, false)); err == nil {
		t.Error("expected error for zero epochs")
	}
	if _, err := NewPerceptronTrainer(1).BatchTrain(NewDataset()); err == nil {
		t.Error("expected error for an empty dataset")
	}
}
