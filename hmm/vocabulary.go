package hmm

// Unseen is the reserved symbol every emission vocabulary carries for
// tokens that were not listed when it was built.
const Unseen = "UNSEEN"

// Vocabulary maps emission symbols to dense integer ids.
type Vocabulary struct {
	ToID  map[string]int `json:"to_id"`
	ToStr []string       `json:"to_str"`
}

// NewVocabulary builds a vocabulary from symbols in order, appending
// Unseen when the list does not contain it. Duplicates keep their first id.
func NewVocabulary(symbols []string) *Vocabulary {
	v := &Vocabulary{ToID: make(map[string]int, len(symbols)+1)}
	for _, s := range symbols {
		v.add(s)
	}
	v.add(Unseen)
	return v
}

func (v *Vocabulary) add(s string) int {
	if id, ok := v.ToID[s]; ok {
		return id
	}
	id := len(v.ToStr)
	v.ToID[s] = id
	v.ToStr = append(v.ToStr, s)
	return id
}

// ID returns the id of s, or the id of Unseen when s is unknown.
func (v *Vocabulary) ID(s string) int {
	if id, ok := v.ToID[s]; ok {
		return id
	}
	return v.ToID[Unseen]
}

// Symbol returns the symbol for id, or "" when id is out of range.
func (v *Vocabulary) Symbol(id int) string {
	if id < 0 || id >= len(v.ToStr) {
		return ""
	}
	return v.ToStr[id]
}

// Size returns the number of symbols, Unseen included.
func (v *Vocabulary) Size() int {
	return len(v.ToStr)
}

// Encode maps tokens to ids.
func (v *Vocabulary) Encode(tokens []string) []int {
	ids := make([]int, len(tokens))
	for i, t := range tokens {
		ids[i] = v.ID(t)
	}
	return ids
}
