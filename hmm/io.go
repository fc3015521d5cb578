package hmm

import (
	"encoding/json"
	"os"
)

type modelJSON struct {
	States      []string    `json:"states"`
	Transitions [][]float64 `json:"transitions"`
	Emissions   [][]float64 `json:"emissions"`
	Vocabulary  *Vocabulary `json:"vocabulary"`
}

// MarshalJSON encodes the model as probabilities among true states.
func (m *Model) MarshalJSON() ([]byte, error) {
	trans, emit := m.probabilities()
	return json.Marshal(modelJSON{
		States:      m.States(),
		Transitions: trans,
		Emissions:   emit,
		Vocabulary:  m.vocab,
	})
}

// UnmarshalJSON decodes and validates a model written by MarshalJSON.
func (m *Model) UnmarshalJSON(data []byte) error {
	var raw modelJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded, err := NewModel(raw.States, raw.Transitions, raw.Vocabulary, raw.Emissions)
	if err != nil {
		return err
	}
	*m = *decoded
	return nil
}

// SaveModel serializes the model to JSON.
func SaveModel(model *Model, path string) error {
	data, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadModel deserializes a model from JSON.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return UnmarshalModel(data)
}

// MarshalModel serializes the model to JSON bytes.
func MarshalModel(model *Model) ([]byte, error) {
	return json.Marshal(model)
}

// UnmarshalModel deserializes a model from JSON bytes.
func UnmarshalModel(data []byte) (*Model, error) {
	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, err
	}
	return &model, nil
}
