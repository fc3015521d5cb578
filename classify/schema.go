package classify

import (
	"encoding/json"
	"fmt"
)

// Reserved class names.
const (
	PosClassName = "POS"
	NegClassName = "NEG"
)

// Schema is an ordered, duplicate-free list of class names. The class
// named NegClassName, when present, is the background class.
type Schema struct {
	names []string
	index map[string]int
}

// NewSchema validates names and builds the index.
func NewSchema(names []string) (*Schema, error) {
	s := &Schema{names: append([]string(nil), names...), index: make(map[string]int, len(names))}
	for i, n := range names {
		if n == "" {
			return nil, fmt.Errorf("classify: empty class name at %d", i)
		}
		if _, dup := s.index[n]; dup {
			return nil, fmt.Errorf("classify: duplicate class name %q", n)
		}
		s.index[n] = i
	}
	return s, nil
}

// BinarySchema is the two-class POS/NEG schema.
func BinarySchema() *Schema {
	s, _ := NewSchema([]string{PosClassName, NegClassName})
	return s
}

func (s *Schema) NumClasses() int { return len(s.names) }

// ClassName returns the name of class i.
func (s *Schema) ClassName(i int) string { return s.names[i] }

// ClassNames returns a copy of the class names in order.
func (s *Schema) ClassNames() []string { return append([]string(nil), s.names...) }

// Index returns the position of name.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Background returns the index of the background class.
func (s *Schema) Background() (int, bool) {
	return s.Index(NegClassName)
}

func (s *Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.names)
}

func (s *Schema) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	decoded, err := NewSchema(names)
	if err != nil {
		return err
	}
	*s = *decoded
	return nil
}
