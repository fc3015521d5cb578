package htmlutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const testHTML = `
<html><head><title>Ignored Title</title></head><body>
<p><span data-label="PER">John Smith</span> lives in <span data-label="LOC">New York</span><span data-label="LOC">Boston</span>.</p>
<script>var x = "hidden";</script>
<!-- a comment -->
<div data-label="ORG">Acme <b>Corp</b></div>
</body></html>
`

func TestExtractTokens(t *testing.T) {
	doc, err := LoadHTMLString(testHTML)
	if err != nil {
		t.Fatal(err)
	}
	got := ExtractTokens(doc)
	want := []Token{
		{"John", "PER", true},
		{"Smith", "PER", false},
		{"lives", "NEG", false},
		{"in", "NEG", false},
		{"New", "LOC", true},
		{"York", "LOC", false},
		{"Boston", "LOC", true},
		{"Acme", "ORG", true},
		{"Corp", "ORG", false},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractTokens =\n%v\nwant\n%v", got, want)
	}
	if w := strings.Join(Words(got), " "); w != "John Smith lives in New York Boston Acme Corp" {
		t.Errorf("Words = %q", w)
	}
	if l := Labels(got); l[2] != "NEG" || l[8] != "ORG" {
		t.Errorf("Labels = %v", l)
	}
}

func TestExtractTokensNoBody(t *testing.T) {
	doc, err := LoadHTMLString("plain text only")
	if err != nil {
		t.Fatal(err)
	}
	got := ExtractTokens(doc)
	if len(got) != 3 || got[0].Label != BackgroundLabel {
		t.Errorf("ExtractTokens = %v, want 3 background tokens", got)
	}
}

func TestFetchFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(path, []byte(testHTML), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := Fetch(context.Background(), path, DefaultFetchOptions())
	if err != nil {
		t.Fatal(err)
	}
	if got != testHTML {
		t.Errorf("Fetch returned %d bytes, want %d", len(got), len(testHTML))
	}
	if _, err := Fetch(context.Background(), filepath.Join(t.TempDir(), "missing.html"), DefaultFetchOptions()); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFetchHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		if ua := r.Header.Get("User-Agent"); ua != DefaultUserAgent {
			t.Errorf("User-Agent = %q", ua)
		}
		_, _ = w.Write([]byte(testHTML))
	}))
	defer srv.Close()

	got, err := Fetch(context.Background(), srv.URL+"/page", DefaultFetchOptions())
	if err != nil {
		t.Fatal(err)
	}
	if got != testHTML {
		t.Errorf("Fetch returned %q", got)
	}
	if _, err := Fetch(context.Background(), srv.URL+"/missing", DefaultFetchOptions()); err == nil {
		t.Error("expected error for HTTP 404")
	}
}

func TestIsURL(t *testing.T) {
	tests := []struct {
		target string
		want   bool
	}{
		{"https://example.org", true},
		{"http://example.org/a", true},
		{"page.html", false},
		{"ftp://example.org", false},
	}
	for _, tt := range tests {
		if got := IsURL(tt.target); got != tt.want {
			t.Errorf("IsURL(%q) = %v, want %v", tt.target, got, tt.want)
		}
	}
}
