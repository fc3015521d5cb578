// Package classify holds the feature-vector types the sequence learners
// are built on: instances, class schemas, labels, and linear scorers.
package classify

import (
	"errors"
	"strings"
)

// ErrNoViablePath is returned by decoders that cannot produce any labeling.
var ErrNoViablePath = errors.New("no viable path")

// Feature names a dimension of an instance. Multi-part names are joined with ".".
type Feature string

// NewFeature joins parts into a single feature name.
func NewFeature(parts ...string) Feature {
	return Feature(strings.Join(parts, "."))
}

// Classifier scores an instance against every class of a schema.
type Classifier interface {
	Classification(inst Instance) *ClassLabel
}

// Explainer is implemented by classifiers that can describe a decision.
type Explainer interface {
	Explain(inst Instance) string
}

// Example is an instance paired with its gold label.
type Example struct {
	Instance
	Label *ClassLabel
}

// NewExample pairs inst with the gold class name.
func NewExample(inst Instance, className string) Example {
	return Example{Instance: inst, Label: NewClassLabel(className)}
}
