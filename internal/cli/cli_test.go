package cli

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/happyhackingspace/seqlab"
	"github.com/happyhackingspace/seqlab/hmm"
	"github.com/happyhackingspace/seqlab/internal/htmlutil"
	"github.com/happyhackingspace/seqlab/internal/modelstore"
	"github.com/happyhackingspace/seqlab/internal/storage"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	_, err := runOutput(t, args...)
	return err
}

// runOutput runs a silent command and returns what it printed.
func runOutput(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c := New("test")
	c.rootCmd.SetOut(&out)
	c.rootCmd.SetArgs(append([]string{"-s"}, args...))
	err := c.Run()
	return out.String(), err
}

func TestArchiveRoundTrip(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "config.json"), `{"classes": ["PER"]}`)
	writeFile(t, filepath.Join(src, "html", "a.html"), "<p>a</p>")

	var buf bytes.Buffer
	n, err := writeArchive(&buf, src)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("packed %d files, want 2", n)
	}

	dest := filepath.Join(t.TempDir(), "out")
	n, err = extractArchive(&buf, dest)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("extracted %d files, want 2", n)
	}
	data, err := os.ReadFile(filepath.Join(dest, "html", "a.html"))
	if err != nil || string(data) != "<p>a</p>" {
		t.Errorf("html/a.html = %q, %v", data, err)
	}
}

func TestExtractArchiveRejectsEscape(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	body := []byte("x")
	if err := tw.WriteHeader(&tar.Header{Name: "../evil.txt", Mode: 0644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatal(err)
	}
	_, _ = tw.Write(body)
	_ = tw.Close()
	_ = gw.Close()

	if _, err := extractArchive(&buf, filepath.Join(t.TempDir(), "out")); err == nil {
		t.Error("expected error for entry outside the destination")
	}
}

func TestFrequentTokens(t *testing.T) {
	xs := [][]string{{"a", "b", "a"}, {"c", "b"}}
	if got := frequentTokens(xs, 2); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("frequentTokens(2) = %v", got)
	}
	if got := frequentTokens(xs, 1); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("frequentTokens(1) = %v", got)
	}
}

func TestReadTokenLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.txt")
	writeFile(t, path, "The Cat sat\n\n  \nON the mat\n")
	xs, err := readTokenLines([]string{path}, true)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{{"the", "cat", "sat"}, {"on", "the", "mat"}}
	if !reflect.DeepEqual(xs, want) {
		t.Errorf("readTokenLines = %v, want %v", xs, want)
	}
}

func TestDataFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = fmt.Fprintf(w, "<html><body><p>page %s</p></body></html>", r.URL.Path)
	}))
	defer srv.Close()

	dir := t.TempDir()
	list := filepath.Join(dir, "urls.txt")
	writeFile(t, list, fmt.Sprintf("# seeds\n%[1]s/a\n%[1]s/missing\nnot a url\n%[1]s/b\n%[1]s/a\n", srv.URL))

	folder := filepath.Join(dir, "data")
	if err := dataFetch(context.Background(), folder, list, htmlutil.DefaultFetchOptions(), 0); err != nil {
		t.Fatal(err)
	}
	index, err := storage.NewStorage(folder).GetIndex()
	if err != nil {
		t.Fatal(err)
	}
	if len(index) != 2 {
		t.Fatalf("index has %d pages, want 2: %v", len(index), index)
	}
	for path := range index {
		if _, err := os.Stat(filepath.Join(folder, path)); err != nil {
			t.Errorf("page %s not saved: %v", path, err)
		}
	}
}

func TestHMMCommands(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "corpus.txt")
	writeFile(t, input, "the cat sat\nthe dog sat\na cat ran\n")
	model := filepath.Join(dir, "hmm.json")

	if err := run(t, "hmm", "train", model, input, "--states", "A,B", "--max-iterations", "20"); err != nil {
		t.Fatal(err)
	}
	m, err := hmm.LoadModel(model)
	if err != nil {
		t.Fatal(err)
	}
	if got := m.States(); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("States = %v", got)
	}
	if err := run(t, "hmm", "decode", model, input); err != nil {
		t.Fatal(err)
	}

	unknown := filepath.Join(dir, "unknown.txt")
	writeFile(t, unknown, "the zebra sat\nquokka\n")
	out, err := runOutput(t, "hmm", "decode", model, unknown)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("decode printed %d lines, want 2:\n%s", len(lines), out)
	}
	for i, want := range []string{"zebra/", "quokka/"} {
		if !strings.Contains(lines[i], want) {
			t.Errorf("line %d = %q, want a state for %s", i+1, lines[i], strings.TrimSuffix(want, "/"))
		}
	}
}

func TestTrainCommandWithStore(t *testing.T) {
	dir := t.TempDir()
	seqs := filepath.Join(dir, "train.seq")
	writeFile(t, seqs, "k NUL PER w.john\nk NUL NEG w.runs\n*\nk NUL NEG w.then\nk NUL PER w.mary\n")
	model := filepath.Join(dir, "model.json")
	db := filepath.Join(dir, "models.db")

	if err := run(t, "train", model, "--sequences", seqs, "--epochs", "3", "--store", db); err != nil {
		t.Fatal(err)
	}
	l, err := seqlab.Load(model)
	if err != nil {
		t.Fatal(err)
	}
	if l.Kind() != seqlab.KindCMM {
		t.Errorf("Kind = %s", l.Kind())
	}

	store, err := modelstore.Open(db)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()
	rec, err := store.Active()
	if err != nil {
		t.Fatal(err)
	}
	if rec.Kind != seqlab.KindCMM || rec.Name != seqs {
		t.Errorf("active record = %s %s", rec.Kind, rec.Name)
	}
	epochs, err := store.Epochs(rec.VersionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(epochs) == 0 {
		t.Error("no epochs recorded")
	}

	exported := filepath.Join(dir, "exported.json")
	if err := run(t, "models", "export", "--store", db, "--out", exported); err != nil {
		t.Fatal(err)
	}
	if _, err := seqlab.Load(exported); err != nil {
		t.Errorf("exported model: %v", err)
	}
	if err := run(t, "models", "activate", "no-such-version", "--store", db); err == nil {
		t.Error("expected error activating an unknown version")
	}
}
