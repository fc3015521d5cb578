package seqlab

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"slices"

	"github.com/happyhackingspace/seqlab/classify"
	"github.com/happyhackingspace/seqlab/crf"
	"github.com/happyhackingspace/seqlab/internal/storage"
	"github.com/happyhackingspace/seqlab/segment"
	"github.com/happyhackingspace/seqlab/sequential"
)

// Training methods.
const (
	MethodCollins    = "collins"
	MethodMargin     = "margin"
	MethodGeneric    = "generic"
	MethodCRF        = "crf"
	MethodSemiMarkov = "semi-markov"
)

// Methods lists the accepted TrainConfig.Method values.
var Methods = []string{MethodCollins, MethodMargin, MethodGeneric, MethodCRF, MethodSemiMarkov}

// TrainConfig holds configuration for training.
type TrainConfig struct {
	Method      string
	Epochs      int
	HistorySize int
	BeamSize    int
	Shuffle     bool
	Seed        uint64
	// MaxWindowSize bounds segment length for MethodSemiMarkov. Zero
	// takes max_window_size from the corpus config.
	MaxWindowSize  int
	Compress       bool
	UpdatedViterbi bool
	CRF            crf.TrainerConfig
	Logger         *slog.Logger
	Progress       sequential.Progress
	OnEpoch        func(sequential.EpochStats)
}

// DefaultTrainConfig returns the Collins perceptron defaults.
func DefaultTrainConfig() TrainConfig {
	seq := sequential.DefaultTrainConfig()
	return TrainConfig{
		Method:      MethodCollins,
		Epochs:      seq.Epochs,
		HistorySize: seq.HistorySize,
		BeamSize:    seq.BeamSize,
		Shuffle:     seq.Shuffle,
		CRF:         crf.DefaultTrainerConfig(),
	}
}

func (c TrainConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c TrainConfig) perceptronConfig(onEpoch func(sequential.EpochStats)) sequential.TrainConfig {
	return sequential.TrainConfig{
		HistorySize: c.HistorySize,
		Epochs:      c.Epochs,
		BeamSize:    c.BeamSize,
		Shuffle:     c.Shuffle,
		Seed:        c.Seed,
		Logger:      c.Logger,
		Progress:    c.Progress,
		OnEpoch:     onEpoch,
	}
}

// EvalConfig holds configuration for evaluation.
type EvalConfig struct {
	Folds   int
	Workers int
	Train   *TrainConfig
}

// ClassScore holds span-level scores of one class.
type ClassScore struct {
	TruePositives  int     `json:"tp"`
	FalsePositives int     `json:"fp"`
	FalseNegatives int     `json:"fn"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
}

func (s *ClassScore) finish() {
	if d := s.TruePositives + s.FalsePositives; d > 0 {
		s.Precision = float64(s.TruePositives) / float64(d)
	}
	if d := s.TruePositives + s.FalseNegatives; d > 0 {
		s.Recall = float64(s.TruePositives) / float64(d)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
}

// EvalResult holds cross-validation evaluation results.
type EvalResult struct {
	TokenAccuracy    float64                   `json:"token_accuracy"`
	SequenceAccuracy float64                   `json:"sequence_accuracy"`
	TokenCorrect     int                       `json:"token_correct"`
	TokenTotal       int                       `json:"token_total"`
	SequenceCorrect  int                       `json:"sequence_correct"`
	SequenceTotal    int                       `json:"sequence_total"`
	Classes          map[string]*ClassScore    `json:"classes"`
	Confusion        map[string]map[string]int `json:"confusion"` // gold -> predicted -> tokens
}

// Metrics flattens the result for storage.
func (r *EvalResult) Metrics() map[string]float64 {
	m := map[string]float64{
		"token_accuracy":    r.TokenAccuracy,
		"sequence_accuracy": r.SequenceAccuracy,
	}
	for name, s := range r.Classes {
		m["f1."+name] = s.F1
	}
	return m
}

func loadDocuments(dataDir string) ([]storage.Document, *storage.Config, error) {
	store := storage.NewStorage(dataDir)
	config, err := store.GetConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("seqlab: %w", err)
	}
	docs, err := store.IterDocuments(storage.DefaultIterOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("seqlab: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil, fmt.Errorf("seqlab: no labeled documents found in %s", dataDir)
	}
	return docs, config, nil
}

// Train trains a labeler on the annotated HTML corpus in dataDir.
func Train(dataDir string, config *TrainConfig) (*Labeler, error) {
	cfg := DefaultTrainConfig()
	if config != nil {
		cfg = *config
	}
	docs, corpus, err := loadDocuments(dataDir)
	if err != nil {
		return nil, err
	}
	if cfg.MaxWindowSize == 0 {
		cfg.MaxWindowSize = corpus.MaxWindowSize
	}
	cfg.logger().Info("Training", "method", cfg.Method, "documents", len(docs))
	return trainDocuments(docs, cfg)
}

// TrainSequences trains a per-token labeler on a sequence dataset, such
// as one read from a sequence file. Instances are used as they are.
func TrainSequences(ds *sequential.Dataset, config *TrainConfig) (*Labeler, error) {
	cfg := DefaultTrainConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.Method == MethodSemiMarkov {
		return nil, fmt.Errorf("seqlab: %s needs span annotations, not a sequence file", MethodSemiMarkov)
	}
	return trainDataset(ds, cfg)
}

// sequenceDataset returns a token instance sequence per document.
func sequenceDataset(docs []storage.Document) (*sequential.Dataset, error) {
	ds := sequential.NewDataset()
	for _, doc := range docs {
		insts := tokenInstances(doc.Words(), storage.GetDomain(doc.URL))
		labels := doc.Labels()
		seq := make([]classify.Example, len(insts))
		for i, inst := range insts {
			seq[i] = classify.NewExample(inst, labels[i])
		}
		if err := ds.AddSequence(seq); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func trainDocuments(docs []storage.Document, cfg TrainConfig) (*Labeler, error) {
	if cfg.Method != MethodSemiMarkov {
		ds, err := sequenceDataset(docs)
		if err != nil {
			return nil, fmt.Errorf("seqlab: %w", err)
		}
		return trainDataset(ds, cfg)
	}

	if cfg.MaxWindowSize < 1 {
		cfg.MaxWindowSize = storage.DefaultMaxWindowSize
	}
	ds := segment.NewDataset()
	ds.SetCompression(cfg.Compress)
	for _, doc := range docs {
		units := tokenInstances(doc.Words(), storage.GetDomain(doc.URL))
		g, err := segment.NewWindowGroup(units, doc.Spans(), cfg.MaxWindowSize)
		if err != nil {
			cfg.logger().Warn("Skipping document", "path", doc.Path, "error", err)
			continue
		}
		if err := ds.AddGroup(g); err != nil {
			return nil, fmt.Errorf("seqlab: %w", err)
		}
	}
	var history []sequential.EpochStats
	t := segment.NewPerceptronTrainer(cfg.Epochs)
	t.UpdatedViterbi = cfg.UpdatedViterbi
	t.Logger = cfg.Logger
	t.Progress = cfg.Progress
	t.OnEpoch = recordEpochs(&history, cfg.OnEpoch)
	seg, err := t.BatchTrain(ds)
	if err != nil {
		return nil, fmt.Errorf("seqlab: %w", err)
	}
	return &Labeler{kind: KindSemiMarkov, segmenter: seg, history: history}, nil
}

func recordEpochs(history *[]sequential.EpochStats, next func(sequential.EpochStats)) func(sequential.EpochStats) {
	return func(s sequential.EpochStats) {
		*history = append(*history, s)
		if next != nil {
			next(s)
		}
	}
}

func trainDataset(ds *sequential.Dataset, cfg TrainConfig) (*Labeler, error) {
	if ds.NumSequences() == 0 {
		return nil, fmt.Errorf("seqlab: no training sequences")
	}
	var history []sequential.EpochStats
	seqCfg := cfg.perceptronConfig(recordEpochs(&history, cfg.OnEpoch))

	var learner sequential.Learner
	switch cfg.Method {
	case MethodCollins, "":
		learner = sequential.NewCollinsTrainer(seqCfg)
	case MethodMargin:
		learner = sequential.NewMarginTrainer(seqCfg)
	case MethodGeneric:
		learner = sequential.NewGenericTrainer(seqCfg, func() classify.OnlineLearner {
			return classify.NewBinaryPerceptron(0, true)
		})
	case MethodCRF:
		crfCfg := cfg.CRF
		if crfCfg.Logger == nil {
			crfCfg.Logger = cfg.Logger
		}
		learner = sequential.NewCRFTrainer(crfCfg)
	default:
		return nil, fmt.Errorf("seqlab: unknown training method %q (want one of %v)", cfg.Method, Methods)
	}

	c, err := learner.BatchTrain(ds)
	if err != nil {
		return nil, fmt.Errorf("seqlab: %w", err)
	}
	switch m := c.(type) {
	case *sequential.CMM:
		return &Labeler{kind: KindCMM, cmm: m, history: history}, nil
	case *sequential.CRFClassifier:
		return &Labeler{kind: KindCRF, crf: m}, nil
	}
	return nil, fmt.Errorf("seqlab: unexpected classifier %T", c)
}

// Evaluate runs grouped cross-validation on the corpus in dataDir.
// Documents from one domain never appear in both a training and a test
// fold.
func Evaluate(dataDir string, config *EvalConfig) (*EvalResult, error) {
	nFolds, workers := 10, runtime.NumCPU()
	cfg := DefaultTrainConfig()
	if config != nil {
		if config.Folds > 0 {
			nFolds = config.Folds
		}
		if config.Workers > 0 {
			workers = config.Workers
		}
		if config.Train != nil {
			cfg = *config.Train
		}
	}
	docs, corpus, err := loadDocuments(dataDir)
	if err != nil {
		return nil, err
	}
	if cfg.MaxWindowSize == 0 {
		cfg.MaxWindowSize = corpus.MaxWindowSize
	}
	return evaluateDocuments(context.Background(), docs, cfg, nFolds, workers)
}

func evaluateDocuments(ctx context.Context, docs []storage.Document, cfg TrainConfig, nFolds, workers int) (*EvalResult, error) {
	result := &EvalResult{Classes: make(map[string]*ClassScore), Confusion: make(map[string]map[string]int)}
	folds := groupKFold(domainGroups(docs), nFolds)
	if len(folds) < 2 {
		return nil, fmt.Errorf("seqlab: cross-validation needs documents from at least 2 domains")
	}

	for k, testIdx := range folds {
		testSet := makeTestSet(len(docs), testIdx)
		var train, test []storage.Document
		for i, doc := range docs {
			if testSet[i] {
				test = append(test, doc)
			} else {
				train = append(train, doc)
			}
		}
		cfg.logger().Info("Evaluating fold", "fold", k+1, "of", len(folds), "train", len(train), "test", len(test))

		l, err := trainDocuments(train, cfg)
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", k+1, err)
		}
		c, err := l.sequenceClassifier()
		if err != nil {
			return nil, err
		}
		seqs := make([][]classify.Instance, len(test))
		for i, doc := range test {
			seqs[i] = tokenInstances(doc.Words(), storage.GetDomain(doc.URL))
		}
		decoded, err := sequential.DecodeAll(ctx, c, seqs, workers)
		if err != nil {
			return nil, fmt.Errorf("seqlab: fold %d: %w", k+1, err)
		}
		for i, doc := range test {
			predicted := make([]string, len(decoded[i]))
			for j, lb := range decoded[i] {
				predicted[j] = lb.BestClassName()
			}
			result.add(doc.Labels(), predicted)
		}
	}

	if result.TokenTotal > 0 {
		result.TokenAccuracy = float64(result.TokenCorrect) / float64(result.TokenTotal)
	}
	if result.SequenceTotal > 0 {
		result.SequenceAccuracy = float64(result.SequenceCorrect) / float64(result.SequenceTotal)
	}
	for _, s := range result.Classes {
		s.finish()
	}
	return result, nil
}

// add scores one decoded sequence. Spans on both sides are maximal runs
// of one label.
func (r *EvalResult) add(gold, predicted []string) {
	allCorrect := true
	for j := range gold {
		if r.Confusion[gold[j]] == nil {
			r.Confusion[gold[j]] = make(map[string]int)
		}
		r.Confusion[gold[j]][predicted[j]]++
		if gold[j] == predicted[j] {
			r.TokenCorrect++
		} else {
			allCorrect = false
		}
		r.TokenTotal++
	}
	if allCorrect {
		r.SequenceCorrect++
	}
	r.SequenceTotal++

	score := func(class string) *ClassScore {
		if r.Classes[class] == nil {
			r.Classes[class] = &ClassScore{}
		}
		return r.Classes[class]
	}
	goldSpans := make(map[segment.Span]bool)
	for _, s := range segment.SpansFromLabels(gold) {
		goldSpans[s] = true
	}
	for _, s := range segment.SpansFromLabels(predicted) {
		if goldSpans[s] {
			score(s.Class).TruePositives++
			delete(goldSpans, s)
		} else {
			score(s.Class).FalsePositives++
		}
	}
	for s := range goldSpans {
		score(s.Class).FalseNegatives++
	}
}

// groupKFold assigns whole groups to folds round-robin in group order.
func groupKFold(groups []int, nFolds int) [][]int {
	unique := make(map[int]bool)
	for _, g := range groups {
		unique[g] = true
	}
	sortedGroups := slices.Sorted(maps.Keys(unique))
	if nFolds > len(sortedGroups) {
		nFolds = len(sortedGroups)
	}

	groupToFold := make(map[int]int)
	for i, g := range sortedGroups {
		groupToFold[g] = i % nFolds
	}
	folds := make([][]int, nFolds)
	for i, g := range groups {
		folds[groupToFold[g]] = append(folds[groupToFold[g]], i)
	}
	return folds
}

func domainGroups(docs []storage.Document) []int {
	groups := make([]int, len(docs))
	domainMap := make(map[string]int)
	for i, doc := range docs {
		domain := storage.GetDomain(doc.URL)
		if _, ok := domainMap[domain]; !ok {
			domainMap[domain] = len(domainMap)
		}
		groups[i] = domainMap[domain]
	}
	return groups
}

func makeTestSet(n int, testIdx []int) []bool {
	set := make([]bool, n)
	for _, i := range testIdx {
		set[i] = true
	}
	return set
}
