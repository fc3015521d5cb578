package modelstore

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/happyhackingspace/seqlab/sequential"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "models.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := tempStore(t)
	epochs := []sequential.EpochStats{
		{Epoch: 1, SequenceErrors: 3, TransitionErrors: 7, Transitions: 20},
		{Epoch: 2, SequenceErrors: 0, TransitionErrors: 0, Transitions: 20},
	}
	metrics := map[string]float64{"token_accuracy": 0.95}
	rec, err := s.SaveModel("cmm", "data/ner", []byte(`{"kind":"cmm"}`), metrics, epochs)
	if err != nil {
		t.Fatalf("SaveModel: %v", err)
	}
	if rec.VersionID == "" {
		t.Fatal("expected non-empty version ID")
	}

	got, err := s.Get(rec.VersionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Kind != "cmm" || got.Name != "data/ner" || string(got.Model) != `{"kind":"cmm"}` {
		t.Errorf("Get = %+v", got)
	}
	if !reflect.DeepEqual(got.Metrics, metrics) {
		t.Errorf("Metrics = %v, want %v", got.Metrics, metrics)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, rec.CreatedAt)
	}

	gotEpochs, err := s.Epochs(rec.VersionID)
	if err != nil {
		t.Fatalf("Epochs: %v", err)
	}
	if !reflect.DeepEqual(gotEpochs, epochs) {
		t.Errorf("Epochs = %v, want %v", gotEpochs, epochs)
	}
}

func TestActiveAndList(t *testing.T) {
	s := tempStore(t)
	if _, err := s.Active(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Active on empty store: %v, want ErrNotFound", err)
	}

	first, err := s.SaveModel("crf", "a", []byte(`{}`), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.SaveModel("semi-markov", "b", []byte(`{}`), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	active, err := s.Active()
	if err != nil {
		t.Fatal(err)
	}
	if active.VersionID != second.VersionID {
		t.Errorf("active = %s, want latest %s", active.VersionID, second.VersionID)
	}
	if active.Metrics != nil {
		t.Errorf("Metrics = %v, want nil", active.Metrics)
	}

	if err := s.Activate(first.VersionID); err != nil {
		t.Fatal(err)
	}
	active, err = s.Active()
	if err != nil {
		t.Fatal(err)
	}
	if active.VersionID != first.VersionID {
		t.Errorf("active after Activate = %s, want %s", active.VersionID, first.VersionID)
	}

	recs, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].VersionID != second.VersionID {
		t.Errorf("List = %v, want newest first", recs)
	}
}

func TestNotFound(t *testing.T) {
	s := tempStore(t)
	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get: %v, want ErrNotFound", err)
	}
	if err := s.Activate("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Activate: %v, want ErrNotFound", err)
	}
	if _, err := s.SaveModel("cmm", "x", []byte("not json"), nil, nil); err == nil {
		t.Error("expected error for invalid model JSON")
	}
}
