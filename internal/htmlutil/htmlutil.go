// Package htmlutil parses HTML documents into labeled token sequences.
package htmlutil

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/happyhackingspace/seqlab/internal/textutil"
)

// LabelAttr marks an element whose text belongs to a labeled span.
const LabelAttr = "data-label"

// BackgroundLabel is the label of text outside any labeled element.
const BackgroundLabel = "NEG"

// LoadHTML parses HTML bytes into a goquery Document.
func LoadHTML(r io.Reader) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(r)
}

// LoadHTMLString parses HTML string into a goquery Document.
func LoadHTMLString(htmlStr string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
}

// Token is a word of document text with the label of its nearest
// data-label ancestor. Begin is set on the first token of each labeled
// element, so adjacent spans with the same label stay apart.
type Token struct {
	Text  string
	Label string
	Begin bool
}

var skipElems = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"head":     true,
}

// ExtractTokens walks the document body in order and tokenizes its
// visible text.
func ExtractTokens(doc *goquery.Document) []Token {
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var tokens []Token
	var visit func(n *html.Node, label string, begin *bool)
	visit = func(n *html.Node, label string, begin *bool) {
		switch n.Type {
		case html.TextNode:
			for _, w := range textutil.Tokenize(n.Data) {
				tokens = append(tokens, Token{Text: w, Label: label, Begin: *begin})
				*begin = false
			}
			return
		case html.ElementNode:
			if skipElems[n.Data] {
				return
			}
			for _, a := range n.Attr {
				if a.Key == LabelAttr && strings.TrimSpace(a.Val) != "" {
					label = strings.TrimSpace(a.Val)
					fresh := true
					begin = &fresh
					break
				}
			}
		case html.CommentNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c, label, begin)
		}
	}

	for _, n := range root.Nodes {
		start := false
		visit(n, BackgroundLabel, &start)
	}
	return tokens
}

// Labels returns the token labels in order.
func Labels(tokens []Token) []string {
	labels := make([]string, len(tokens))
	for i, t := range tokens {
		labels[i] = t.Label
	}
	return labels
}

// Words returns the token texts in order.
func Words(tokens []Token) []string {
	words := make([]string, len(tokens))
	for i, t := range tokens {
		words[i] = t.Text
	}
	return words
}
