package crf

import (
	"encoding/json"
	"fmt"
)

// Validate checks that the alphabets and the weight vector agree.
func (m *Model) Validate() error {
	if m.Labels == nil || m.Attributes == nil {
		return fmt.Errorf("crf: model has no alphabets")
	}
	if m.NumLabels != m.Labels.Size() {
		return fmt.Errorf("crf: %d labels declared, alphabet has %d", m.NumLabels, m.Labels.Size())
	}
	if len(m.Weights) != m.NumWeights() {
		return fmt.Errorf("crf: %d weights, want %d", len(m.Weights), m.NumWeights())
	}
	for _, a := range []*Alphabet{m.Labels, m.Attributes} {
		if len(a.ToID) != len(a.ToStr) {
			return fmt.Errorf("crf: alphabet index holds %d entries for %d strings", len(a.ToID), len(a.ToStr))
		}
	}
	return nil
}

// MarshalModel serializes the model to JSON bytes.
func MarshalModel(model *Model) ([]byte, error) {
	return json.Marshal(model)
}

// UnmarshalModel deserializes and validates a model.
func UnmarshalModel(data []byte) (*Model, error) {
	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, err
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	return &model, nil
}
