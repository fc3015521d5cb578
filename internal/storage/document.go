// Package storage provides access to the annotated HTML corpus and to
// sequence dataset files.
package storage

import (
	"github.com/happyhackingspace/seqlab/internal/htmlutil"
	"github.com/happyhackingspace/seqlab/segment"
)

// Config is the corpus configuration stored in config.json.
type Config struct {
	// Classes lists the span classes. Empty means any data-label value.
	Classes []string `json:"classes"`
	// MaxWindowSize bounds span length for segment models.
	MaxWindowSize int `json:"max_window_size"`
	// SimplifyMap rewrites fine-grained labels to coarser ones.
	SimplifyMap map[string]string `json:"simplify_map,omitempty"`
}

// DefaultMaxWindowSize is used when config.json leaves max_window_size unset.
const DefaultMaxWindowSize = 4

// IndexEntry describes one HTML file of the corpus.
type IndexEntry struct {
	URL string `json:"url"`
}

// Document is one annotated page turned into a token sequence.
type Document struct {
	Path   string
	URL    string
	Tokens []htmlutil.Token
}

// Words returns the token texts.
func (d *Document) Words() []string { return htmlutil.Words(d.Tokens) }

// Labels returns the per-token labels, background included.
func (d *Document) Labels() []string { return htmlutil.Labels(d.Tokens) }

// Spans returns the labeled spans. A span ends where the label changes
// or a new labeled element begins.
func (d *Document) Spans() []segment.Span {
	var spans []segment.Span
	for i, tok := range d.Tokens {
		if tok.Label == htmlutil.BackgroundLabel {
			continue
		}
		if n := len(spans); n > 0 && !tok.Begin && spans[n-1].Hi == i && spans[n-1].Class == tok.Label {
			spans[n-1].Hi = i + 1
			continue
		}
		spans = append(spans, segment.Span{Lo: i, Hi: i + 1, Class: tok.Label})
	}
	return spans
}

// Labeled reports whether any token is outside the background class.
func (d *Document) Labeled() bool {
	for _, tok := range d.Tokens {
		if tok.Label != htmlutil.BackgroundLabel {
			return true
		}
	}
	return false
}
