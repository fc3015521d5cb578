// Package crf implements a linear-chain conditional random field. The
// sequence learners use it as an opaque whole-sequence scorer.
//
// Weights live in one flat vector: a block of state weights indexed by
// (attribute, label) followed by an L×L block of transition weights.
package crf

// Alphabet interns strings as dense ids in insertion order.
type Alphabet struct {
	ToID  map[string]int `json:"to_id"`
	ToStr []string       `json:"to_str"`
}

// NewAlphabet creates an empty alphabet.
func NewAlphabet() *Alphabet {
	return &Alphabet{ToID: make(map[string]int)}
}

// Add interns s and returns its id.
func (a *Alphabet) Add(s string) int {
	id, ok := a.ToID[s]
	if !ok {
		id = len(a.ToStr)
		a.ToID[s] = id
		a.ToStr = append(a.ToStr, s)
	}
	return id
}

// Lookup returns the id of s.
func (a *Alphabet) Lookup(s string) (int, bool) {
	id, ok := a.ToID[s]
	return id, ok
}

func (a *Alphabet) Size() int { return len(a.ToStr) }

// Model holds the CRF parameters.
type Model struct {
	Labels     *Alphabet `json:"labels"`
	Attributes *Alphabet `json:"attributes"`
	Weights    []float64 `json:"weights"`
	NumLabels  int       `json:"num_labels"`
}

// NewModel creates a new empty model.
func NewModel() *Model {
	return &Model{Labels: NewAlphabet(), Attributes: NewAlphabet()}
}

// TransOffset is the index of the first transition weight.
func (m *Model) TransOffset() int {
	return m.Attributes.Size() * m.NumLabels
}

// NumWeights returns the length of the weight vector.
func (m *Model) NumWeights() int {
	return m.TransOffset() + m.NumLabels*m.NumLabels
}

// TrainingSequence is one labeled sequence: per-position attribute
// values and the gold label of every position.
type TrainingSequence struct {
	Features []map[string]float64
	Labels   []string
}

// Lattice holds the log potentials of one sequence: State[t][y] scores
// label y at position t and Trans[i][j] scores moving from label i to j.
type Lattice struct {
	State [][]float64
	Trans [][]float64
}

// Len is the sequence length.
func (lat *Lattice) Len() int { return len(lat.State) }

// NumLabels is the label count.
func (lat *Lattice) NumLabels() int { return len(lat.Trans) }

// PathScore is the unnormalized log score of a label path.
func (lat *Lattice) PathScore(path []int) float64 {
	s := 0.0
	for t, y := range path {
		s += lat.State[t][y]
		if t > 0 {
			s += lat.Trans[path[t-1]][y]
		}
	}
	return s
}

// lattice builds the potentials of a sequence of attribute ids under
// the weight vector w laid out for L labels.
func lattice(w []float64, L, offset int, feats [][]featureEntry) *Lattice {
	lat := &Lattice{State: make([][]float64, len(feats)), Trans: make([][]float64, L)}
	for t, fs := range feats {
		row := make([]float64, L)
		for _, fe := range fs {
			base := fe.attrID * L
			for y := range row {
				row[y] += w[base+y] * fe.value
			}
		}
		lat.State[t] = row
	}
	for i := range L {
		lat.Trans[i] = w[offset+i*L : offset+(i+1)*L]
	}
	return lat
}

// Lattice scores features with the model weights. Attributes the model
// never saw contribute nothing.
func (m *Model) Lattice(features []map[string]float64) *Lattice {
	return lattice(m.Weights, m.NumLabels, m.TransOffset(), m.encode(features))
}

func (m *Model) encode(features []map[string]float64) [][]featureEntry {
	out := make([][]featureEntry, len(features))
	for t, attrs := range features {
		for _, name := range sortedKeys(attrs) {
			if id, ok := m.Attributes.Lookup(name); ok {
				out[t] = append(out[t], featureEntry{id, attrs[name]})
			}
		}
	}
	return out
}
