package sequential

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/happyhackingspace/seqlab/classify"
)

// Learner trains a sequence classifier from a dataset.
type Learner interface {
	BatchTrain(ds *Dataset) (SequenceClassifier, error)
}

// Progress is advanced once per processed training sequence.
type Progress interface {
	Add(n int) error
}

// EpochStats summarizes one pass over the training data.
type EpochStats struct {
	Epoch            int
	SequenceErrors   int
	TransitionErrors int
	Transitions      int
}

// TrainConfig holds the parameters shared by the perceptron trainers.
type TrainConfig struct {
	HistorySize int
	Epochs      int
	BeamSize    int    // entries expanded per position while decoding
	Shuffle     bool   // reshuffle sequences before every epoch
	Seed        uint64 // shuffle seed
	Logger      *slog.Logger
	Progress    Progress
	OnEpoch     func(EpochStats)
}

// DefaultTrainConfig returns the default perceptron training parameters.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		HistorySize: 1,
		Epochs:      5,
		BeamSize:    DefaultBeamSize,
		Shuffle:     true,
	}
}

func (c TrainConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c TrainConfig) validate() error {
	if c.HistorySize < 0 {
		return fmt.Errorf("sequential: negative history size %d", c.HistorySize)
	}
	if c.Epochs < 1 {
		return fmt.Errorf("sequential: epochs must be positive, got %d", c.Epochs)
	}
	return nil
}

// epochDone logs and reports stats and tells whether training can stop.
func (c TrainConfig) epochDone(name string, stats EpochStats) bool {
	c.logger().Info("Epoch finished", "trainer", name, "epoch", stats.Epoch,
		"sequence_errors", stats.SequenceErrors,
		"transition_errors", stats.TransitionErrors,
		"transitions", stats.Transitions)
	if c.OnEpoch != nil {
		c.OnEpoch(stats)
	}
	return stats.TransitionErrors == 0
}

func (c TrainConfig) progress() {
	if c.Progress != nil {
		_ = c.Progress.Add(1)
	}
}

func (c TrainConfig) searcher(cl classify.Classifier, schema *classify.Schema) (*BeamSearcher, error) {
	s, err := NewBeamSearcher(cl, c.HistorySize, schema)
	if err != nil {
		return nil, err
	}
	s.SetMaxBeamSize(c.BeamSize)
	return s, nil
}

// differenceAt reports whether decoded differs from gold at j or in any
// of the historySize positions before j.
func differenceAt(gold, decoded []string, j, historySize int) bool {
	for k := 0; k <= historySize && j-k >= 0; k++ {
		if gold[j-k] != decoded[j-k] {
			return true
		}
	}
	return false
}

// CollinsTrainer is the structured perceptron of Collins (2002) over a
// CMM, with voted (averaged) weights.
type CollinsTrainer struct {
	Config TrainConfig
}

// NewCollinsTrainer returns a trainer with the given configuration.
func NewCollinsTrainer(cfg TrainConfig) *CollinsTrainer {
	return &CollinsTrainer{Config: cfg}
}

func (t *CollinsTrainer) BatchTrain(ds *Dataset) (SequenceClassifier, error) {
	schema, err := ds.Schema()
	if err != nil {
		return nil, err
	}
	return t.TrainFrom(ds, classify.NewMultiClassPerceptron(schema))
}

// TrainFrom continues training p on ds and returns a CMM over the
// averaged weights.
func (t *CollinsTrainer) TrainFrom(ds *Dataset, p *classify.MultiClassPerceptron) (*CMM, error) {
	cfg := t.Config
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	schema := p.Schema()
	h := cfg.HistorySize
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		if cfg.Shuffle {
			ds.Shuffle(rng)
		}
		stats := EpochStats{Epoch: epoch}
		for _, seq := range ds.Sequences() {
			bs, err := cfg.searcher(p, schema)
			if err != nil {
				return nil, err
			}
			viterbi, err := bs.BestLabelSequence(Instances(seq))
			if err != nil {
				return nil, err
			}
			gold, decoded := GoldLabels(seq), labelNames(viterbi)

			errorOnSequence := false
			for j := range seq {
				if !differenceAt(gold, decoded, j, h) {
					continue
				}
				stats.TransitionErrors++
				errorOnSequence = true
				correct := NewHistoryInstance(seq[j].Instance, HistoryFromLabels(gold, j, h))
				if err := p.Update(gold[j], correct, 1); err != nil {
					return nil, err
				}
				wrong := NewHistoryInstance(seq[j].Instance, HistoryFromLabels(decoded, j, h))
				if err := p.Update(decoded[j], wrong, -1); err != nil {
					return nil, err
				}
			}
			p.CompleteUpdate()

			if errorOnSequence {
				stats.SequenceErrors++
			}
			stats.Transitions += len(seq)
			cfg.progress()
		}
		if cfg.epochDone("collins", stats) {
			break
		}
	}
	p.SetVoteMode(true)
	m := NewCMM(p.Freeze(), h, schema)
	m.BeamSize = cfg.BeamSize
	return m, nil
}
