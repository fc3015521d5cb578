package sequential

import (
	"fmt"

	"github.com/happyhackingspace/seqlab/classify"
	"github.com/happyhackingspace/seqlab/crf"
)

// CRFTrainer fits a linear-chain CRF. The history size of the CMM
// trainers has no meaning here: the CRF scores label bigrams directly.
type CRFTrainer struct {
	Config crf.TrainerConfig
}

// NewCRFTrainer returns a trainer with the given CRF parameters.
func NewCRFTrainer(cfg crf.TrainerConfig) *CRFTrainer {
	return &CRFTrainer{Config: cfg}
}

func (t *CRFTrainer) BatchTrain(ds *Dataset) (SequenceClassifier, error) {
	seqs := make([]crf.TrainingSequence, 0, ds.NumSequences())
	for _, seq := range ds.Sequences() {
		seqs = append(seqs, crf.TrainingSequence{
			Features: crf.SequenceAttributes(Instances(seq)),
			Labels:   GoldLabels(seq),
		})
	}
	m, err := crf.Train(seqs, t.Config)
	if err != nil {
		return nil, fmt.Errorf("sequential: %w", err)
	}
	return &CRFClassifier{Model: m}, nil
}

// CRFClassifier labels sequences with a trained CRF. Each label carries
// the marginal probability of its class at that position.
type CRFClassifier struct {
	Model *crf.Model
}

func (c *CRFClassifier) Classification(seq []classify.Instance) ([]*classify.ClassLabel, error) {
	if c.Model == nil || c.Model.NumLabels == 0 {
		return nil, fmt.Errorf("sequential: CRF model not initialized")
	}
	attrs := crf.SequenceAttributes(seq)
	names, _ := c.Model.Predict(attrs)
	marginals := c.Model.Marginals(attrs)
	out := make([]*classify.ClassLabel, len(names))
	for i, n := range names {
		out[i] = classify.NewScoredLabel(n, marginals[i][n])
	}
	return out, nil
}
