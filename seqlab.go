// Package seqlab labels token sequences and finds labeled spans in text.
//
// It wraps three model families behind one Labeler: a conditional Markov
// model trained with structured perceptrons, a semi-Markov segmenter and
// a linear-chain CRF.
//
//	l, _ := seqlab.Load("model.json")
//	res, _ := l.LabelHTML(page)
//	for _, s := range res.Spans {
//	    fmt.Println(s.Label, s.Text) // "LOC New York"
//	}
package seqlab

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/happyhackingspace/seqlab/classify"
	"github.com/happyhackingspace/seqlab/crf"
	"github.com/happyhackingspace/seqlab/internal/htmlutil"
	"github.com/happyhackingspace/seqlab/internal/textutil"
	"github.com/happyhackingspace/seqlab/segment"
	"github.com/happyhackingspace/seqlab/sequential"
)

// Model kinds stored in model files.
const (
	KindCMM        = "cmm"
	KindSemiMarkov = "semi-markov"
	KindCRF        = "crf"
)

// Labeler is a trained sequence labeler.
type Labeler struct {
	kind      string
	cmm       *sequential.CMM
	crf       *sequential.CRFClassifier
	segmenter *segment.ViterbiSegmenter
	history   []sequential.EpochStats
}

// Span is a labeled run of tokens [Start, End).
type Span struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Result holds the labeling of one token sequence.
type Result struct {
	Tokens []string `json:"tokens"`
	Labels []string `json:"labels"`
	Spans  []Span   `json:"spans"`
}

// New loads the labeler from "model.json", searching the current directory
// and parent directories up to the module root (where go.mod lives).
func New() (*Labeler, error) {
	path, err := findModel("model.json")
	if err != nil {
		return nil, fmt.Errorf("seqlab: %w", err)
	}
	return Load(path)
}

func findModel(name string) (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("%s not found", name)
}

// Load reads a labeler from a model file.
func Load(path string) (*Labeler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seqlab: %w", err)
	}
	return Unmarshal(data)
}

// Save writes the labeler to a model file.
func (l *Labeler) Save(path string) error {
	data, err := l.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("seqlab: %w", err)
	}
	return nil
}

// Kind returns the model family: KindCMM, KindSemiMarkov or KindCRF.
func (l *Labeler) Kind() string { return l.kind }

// History returns the per-epoch statistics of the training run that
// produced l. Loaded labelers have none.
func (l *Labeler) History() []sequential.EpochStats { return l.history }

// Classes returns the class names the labeler can emit.
func (l *Labeler) Classes() []string {
	switch l.kind {
	case KindCMM:
		return l.cmm.Schema.ClassNames()
	case KindSemiMarkov:
		return l.segmenter.Schema.ClassNames()
	case KindCRF:
		return append([]string(nil), l.crf.Model.Labels.ToStr...)
	}
	return nil
}

type modelFile struct {
	Kind           string                     `json:"kind"`
	HistorySize    int                        `json:"history_size,omitempty"`
	BeamSize       int                        `json:"beam_size,omitempty"`
	MaxSegmentSize int                        `json:"max_segment_size,omitempty"`
	Linear         *classify.LinearClassifier `json:"linear,omitempty"`
	CRF            *crf.Model                 `json:"crf,omitempty"`
}

// Marshal encodes the labeler as JSON.
func (l *Labeler) Marshal() ([]byte, error) {
	mf := modelFile{Kind: l.kind}
	switch l.kind {
	case KindCMM:
		linear, ok := l.cmm.Classifier.(*classify.LinearClassifier)
		if !ok {
			return nil, fmt.Errorf("seqlab: cannot save %T", l.cmm.Classifier)
		}
		mf.Linear, mf.HistorySize, mf.BeamSize = linear, l.cmm.HistorySize, l.cmm.BeamSize
	case KindSemiMarkov:
		linear, ok := l.segmenter.Classifier.(*classify.LinearClassifier)
		if !ok {
			return nil, fmt.Errorf("seqlab: cannot save %T", l.segmenter.Classifier)
		}
		mf.Linear, mf.MaxSegmentSize = linear, l.segmenter.MaxSegmentSize
	case KindCRF:
		mf.CRF = l.crf.Model
	default:
		return nil, fmt.Errorf("seqlab: labeler not initialized")
	}
	data, err := json.Marshal(mf)
	if err != nil {
		return nil, fmt.Errorf("seqlab: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a labeler written by Marshal.
func Unmarshal(data []byte) (*Labeler, error) {
	var mf modelFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("seqlab: %w", err)
	}
	l := &Labeler{kind: mf.Kind}
	switch mf.Kind {
	case KindCMM, KindSemiMarkov:
		if mf.Linear == nil {
			return nil, fmt.Errorf("seqlab: %s model has no weights", mf.Kind)
		}
		if err := mf.Linear.Validate(); err != nil {
			return nil, fmt.Errorf("seqlab: %w", err)
		}
		if mf.Kind == KindCMM {
			l.cmm = sequential.NewCMM(mf.Linear, mf.HistorySize, mf.Linear.Schema)
			if mf.BeamSize > 0 {
				l.cmm.BeamSize = mf.BeamSize
			}
		} else {
			if mf.MaxSegmentSize < 1 {
				return nil, fmt.Errorf("seqlab: bad max segment size %d", mf.MaxSegmentSize)
			}
			l.segmenter = &segment.ViterbiSegmenter{Classifier: mf.Linear, Schema: mf.Linear.Schema, MaxSegmentSize: mf.MaxSegmentSize}
		}
	case KindCRF:
		if mf.CRF == nil {
			return nil, fmt.Errorf("seqlab: crf model has no weights")
		}
		if err := mf.CRF.Validate(); err != nil {
			return nil, fmt.Errorf("seqlab: %w", err)
		}
		l.crf = &sequential.CRFClassifier{Model: mf.CRF}
	default:
		return nil, fmt.Errorf("seqlab: unknown model kind %q", mf.Kind)
	}
	return l, nil
}

// tokenInstances turns tokens into feature instances.
func tokenInstances(tokens []string, subpop string) []classify.Instance {
	insts := make([]classify.Instance, len(tokens))
	for i, tok := range tokens {
		inst := classify.NewMutableInstance(tok, subpop)
		for _, f := range textutil.TokenFeatures(tokens, i) {
			inst.AddBinary(classify.Feature(f))
		}
		insts[i] = inst
	}
	return insts
}

// segmentClassifier adapts a segmenter to per-token labeling.
type segmentClassifier struct {
	segmenter *segment.ViterbiSegmenter
}

func (c segmentClassifier) segments(seq []classify.Instance) (*segment.Segmentation, error) {
	g, err := segment.NewWindowGroup(seq, nil, c.segmenter.MaxSegmentSize)
	if err != nil {
		return nil, err
	}
	return c.segmenter.Segmentation(g)
}

func (c segmentClassifier) Classification(seq []classify.Instance) ([]*classify.ClassLabel, error) {
	seg, err := c.segments(seq)
	if err != nil {
		return nil, err
	}
	names := seg.TokenLabels(len(seq))
	out := make([]*classify.ClassLabel, len(names))
	for i, n := range names {
		out[i] = classify.NewClassLabel(n)
	}
	return out, nil
}

// sequenceClassifier exposes any model kind as a per-token labeler.
func (l *Labeler) sequenceClassifier() (sequential.SequenceClassifier, error) {
	switch l.kind {
	case KindCMM:
		return l.cmm, nil
	case KindSemiMarkov:
		return segmentClassifier{l.segmenter}, nil
	case KindCRF:
		return l.crf, nil
	}
	return nil, fmt.Errorf("seqlab: labeler not initialized")
}

// LabelTokens labels a token sequence.
func (l *Labeler) LabelTokens(tokens []string) (*Result, error) {
	res := &Result{Tokens: tokens, Labels: []string{}, Spans: []Span{}}
	if len(tokens) == 0 {
		return res, nil
	}
	insts := tokenInstances(tokens, "")

	var spans []segment.Span
	if l.kind == KindSemiMarkov {
		seg, err := segmentClassifier{l.segmenter}.segments(insts)
		if err != nil {
			return nil, fmt.Errorf("seqlab: %w", err)
		}
		res.Labels = seg.TokenLabels(len(tokens))
		for _, s := range seg.Segments() {
			if name := seg.ClassName(s); name != classify.NegClassName {
				spans = append(spans, segment.Span{Lo: s.Lo, Hi: s.Hi, Class: name})
			}
		}
	} else {
		c, err := l.sequenceClassifier()
		if err != nil {
			return nil, err
		}
		labels, err := c.Classification(insts)
		if err != nil {
			return nil, fmt.Errorf("seqlab: %w", err)
		}
		for _, lb := range labels {
			res.Labels = append(res.Labels, lb.BestClassName())
		}
		spans = segment.SpansFromLabels(res.Labels)
	}

	for _, s := range spans {
		res.Spans = append(res.Spans, Span{
			Start: s.Lo,
			End:   s.Hi,
			Label: s.Class,
			Text:  strings.Join(tokens[s.Lo:s.Hi], " "),
		})
	}
	return res, nil
}

// LabelText tokenizes plain text and labels it.
func (l *Labeler) LabelText(text string) (*Result, error) {
	return l.LabelTokens(textutil.Tokenize(text))
}

// LabelHTML labels the visible text of an HTML document.
func (l *Labeler) LabelHTML(html string) (*Result, error) {
	doc, err := htmlutil.LoadHTMLString(html)
	if err != nil {
		return nil, fmt.Errorf("seqlab: %w", err)
	}
	return l.LabelTokens(htmlutil.Words(htmlutil.ExtractTokens(doc)))
}

// Explain describes how a CMM labeler scored the tokens.
func (l *Labeler) Explain(tokens []string) (string, error) {
	if l.kind != KindCMM {
		return "", fmt.Errorf("seqlab: explanations need a %s model, have %s", KindCMM, l.kind)
	}
	out, err := l.cmm.Explain(tokenInstances(tokens, ""))
	if err != nil {
		return "", fmt.Errorf("seqlab: %w", err)
	}
	return out, nil
}

func (r *Result) String() string {
	var b strings.Builder
	for i, tok := range r.Tokens {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(tok)
		if r.Labels[i] != classify.NegClassName {
			b.WriteString("/" + r.Labels[i])
		}
	}
	return b.String()
}
