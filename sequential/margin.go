package sequential

import (
	"fmt"
	"math/rand/v2"

	"github.com/happyhackingspace/seqlab/classify"
)

// MarginTrainer updates against every near-best wrong labeling in the
// beam instead of only the best one. A hypothesis qualifies when it is
// among the TopK beam entries, scores at least goldScore*(1-Beta), and
// is not entirely correct. Each qualifying hypothesis is pushed down by
// 1/K of the single gold update. Sequences are reshuffled before every
// epoch when Config.Shuffle is set.
type MarginTrainer struct {
	Config TrainConfig
	Beta   float64
	TopK   int
}

// NewMarginTrainer returns a trainer with Beta 0.05 and TopK 10. The
// history size comes from cfg; DefaultMarginTrainConfig uses 3.
func NewMarginTrainer(cfg TrainConfig) *MarginTrainer {
	return &MarginTrainer{Config: cfg, Beta: 0.05, TopK: 10}
}

// DefaultMarginTrainConfig returns the margin trainer's defaults.
func DefaultMarginTrainConfig() TrainConfig {
	cfg := DefaultTrainConfig()
	cfg.HistorySize = 3
	cfg.Shuffle = false
	return cfg
}

func (t *MarginTrainer) BatchTrain(ds *Dataset) (SequenceClassifier, error) {
	schema, err := ds.Schema()
	if err != nil {
		return nil, err
	}
	return t.TrainFrom(ds, classify.NewMultiClassPerceptron(schema))
}

// TrainFrom continues training p on ds and returns a CMM over the
// averaged weights.
func (t *MarginTrainer) TrainFrom(ds *Dataset, p *classify.MultiClassPerceptron) (*CMM, error) {
	cfg := t.Config
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if t.TopK < 1 {
		return nil, fmt.Errorf("sequential: TopK must be positive, got %d", t.TopK)
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
			if err := bs.Search(Instances(seq)); err != nil {
				return nil, err
			}
			gold := GoldLabels(seq)
			goldScore := sequenceScore(p, seq, gold, h)

			var wrong [][]string
			for k := 0; k < min(bs.NumSolutions(), t.TopK); k++ {
				score, _ := bs.Score(k)
				if score < goldScore*(1-t.Beta) {
					break
				}
				viterbi, _ := bs.Viterbi(k)
				if names := labelNames(viterbi); !equalLabels(names, gold) {
					wrong = append(wrong, names)
				}
			}

			errorOnSequence := false
			if len(wrong) > 0 {
				for j := range seq {
					flagged := false
					for _, w := range wrong {
						if differenceAt(gold, w, j, h) {
							flagged = true
							break
						}
					}
					if !flagged {
						continue
					}
					stats.TransitionErrors++
					errorOnSequence = true
					correct := NewHistoryInstance(seq[j].Instance, HistoryFromLabels(gold, j, h))
					if err := p.Update(gold[j], correct, 1); err != nil {
						return nil, err
					}
					for _, w := range wrong {
						inst := NewHistoryInstance(seq[j].Instance, HistoryFromLabels(w, j, h))
						if err := p.Update(w[j], inst, -1/float64(len(wrong))); err != nil {
							return nil, err
						}
					}
				}
			}
			p.CompleteUpdate()

			if errorOnSequence {
				stats.SequenceErrors++
			}
			stats.Transitions += len(seq)
			cfg.progress()
		}
		if cfg.epochDone("margin", stats) {
			break
		}
	}
	p.SetVoteMode(true)
	m := NewCMM(p.Freeze(), h, schema)
	m.BeamSize = cfg.BeamSize
	return m, nil
}

// sequenceScore is the score c gives the gold labeling of seq.
func sequenceScore(c classify.Classifier, seq []classify.Example, gold []string, historySize int) float64 {
	var s float64
	for j := range seq {
		inst := NewHistoryInstance(seq[j].Instance, HistoryFromLabels(gold, j, historySize))
		s += c.Classification(inst).Weight(gold[j])
	}
	return s
}

func equalLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
