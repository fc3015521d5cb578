package sequential

import (
	"fmt"
	"math/rand/v2"

	"github.com/happyhackingspace/seqlab/classify"
)

// GenericTrainer runs the Collins loop over per-class binary learners.
// For each mistaken sequence it sums the gold-minus-decoded history
// instances of every class into one hyperplane and gives each class
// learner that hyperplane as a positive example and its negation as a
// negative one.
type GenericTrainer struct {
	Config     TrainConfig
	NewLearner classify.LearnerFactory
}

// NewGenericTrainer returns a trainer that builds one learner per class with factory.
func NewGenericTrainer(cfg TrainConfig, factory classify.LearnerFactory) *GenericTrainer {
	return &GenericTrainer{Config: cfg, NewLearner: factory}
}

func (t *GenericTrainer) BatchTrain(ds *Dataset) (SequenceClassifier, error) {
	cfg := t.Config
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if t.NewLearner == nil {
		return nil, fmt.Errorf("sequential: generic trainer has no learner factory")
	}
	schema, err := ds.Schema()
	if err != nil {
		return nil, err
	}
	h := cfg.HistorySize
	learners := make([]classify.OnlineLearner, schema.NumClasses())
	for i := range learners {
		learners[i] = t.NewLearner()
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		if cfg.Shuffle {
			ds.Shuffle(rng)
		}
		stats := EpochStats{Epoch: epoch}
		for _, seq := range ds.Sequences() {
			bs, err := cfg.searcher(oneVsRest(schema, learners), schema)
			if err != nil {
				return nil, err
			}
			viterbi, err := bs.BestLabelSequence(Instances(seq))
			if err != nil {
				return nil, err
			}
			gold, decoded := GoldLabels(seq), labelNames(viterbi)

			accum := make([]*classify.Hyperplane, schema.NumClasses())
			for i := range accum {
				accum[i] = classify.NewHyperplane()
			}
			errorOnSequence := false
			for j := range seq {
				if !differenceAt(gold, decoded, j, h) {
					continue
				}
				stats.TransitionErrors++
				errorOnSequence = true
				gi, ok := schema.Index(gold[j])
				if !ok {
					return nil, fmt.Errorf("sequential: class %q not in schema", gold[j])
				}
				di, _ := schema.Index(decoded[j])
				accum[gi].Increment(NewHistoryInstance(seq[j].Instance, HistoryFromLabels(gold, j, h)), 1)
				accum[di].Increment(NewHistoryInstance(seq[j].Instance, HistoryFromLabels(decoded, j, h)), -1)
			}
			if errorOnSequence {
				stats.SequenceErrors++
				for i, l := range learners {
					l.AddExample(classify.Example{Instance: accum[i].AsInstance(), Label: classify.NewClassLabel(classify.PosClassName)})
					l.AddExample(classify.Example{Instance: accum[i].Scaled(-1).AsInstance(), Label: classify.NewClassLabel(classify.NegClassName)})
				}
			}
			stats.Transitions += len(seq)
			cfg.progress()
		}
		if cfg.epochDone("generic", stats) {
			break
		}
	}
	for _, l := range learners {
		l.CompleteTraining()
	}

	var c classify.Classifier = oneVsRest(schema, learners)
	if frozen, ok := c.(*classify.OneVsRest).Freeze(); ok {
		c = frozen
	}
	m := NewCMM(c, h, schema)
	m.BeamSize = cfg.BeamSize
	return m, nil
}

func oneVsRest(schema *classify.Schema, learners []classify.OnlineLearner) *classify.OneVsRest {
	scorers := make([]classify.BinaryScorer, len(learners))
	for i, l := range learners {
		scorers[i] = l.Scorer()
	}
	return &classify.OneVsRest{Schema: schema, Scorers: scorers}
}
