// Package modelstore keeps trained models and their training history in
// a SQLite database.
package modelstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/happyhackingspace/seqlab/sequential"
)

const schema = `
CREATE TABLE IF NOT EXISTS models (
	version_id    TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	name          TEXT NOT NULL,
	model_json    TEXT NOT NULL,
	metrics_json  TEXT,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS epochs (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	version_id         TEXT NOT NULL,
	epoch              INTEGER NOT NULL,
	sequence_errors    INTEGER NOT NULL,
	transition_errors  INTEGER NOT NULL,
	transitions        INTEGER NOT NULL,
	FOREIGN KEY (version_id) REFERENCES models(version_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS active_model (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	version_id    TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES models(version_id)
);
`

// timeLayout keeps created_at fixed-width.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when no model matches a lookup.
var ErrNotFound = errors.New("modelstore: model not found")

// Record is one stored model version.
type Record struct {
	VersionID string
	Kind      string
	Name      string
	Model     json.RawMessage
	Metrics   map[string]float64
	CreatedAt time.Time
}

// Store manages model versions in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveModel stores a model with its epoch history and makes it the
// active version.
func (s *Store) SaveModel(kind, name string, model []byte, metrics map[string]float64, epochs []sequential.EpochStats) (Record, error) {
	if !json.Valid(model) {
		return Record{}, fmt.Errorf("modelstore: model is not valid JSON")
	}
	rec := Record{
		VersionID: uuid.New().String(),
		Kind:      kind,
		Name:      name,
		Model:     json.RawMessage(model),
		Metrics:   metrics,
		CreatedAt: time.Now().UTC(),
	}
	var metricsJSON sql.NullString
	if metrics != nil {
		data, err := json.Marshal(metrics)
		if err != nil {
			return Record{}, fmt.Errorf("marshal metrics: %w", err)
		}
		metricsJSON = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Record{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(
		`INSERT INTO models (version_id, kind, name, model_json, metrics_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.VersionID, kind, name, string(model), metricsJSON, rec.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return Record{}, fmt.Errorf("insert model: %w", err)
	}
	for _, e := range epochs {
		_, err = tx.Exec(
			`INSERT INTO epochs (version_id, epoch, sequence_errors, transition_errors, transitions)
			 VALUES (?, ?, ?, ?, ?)`,
			rec.VersionID, e.Epoch, e.SequenceErrors, e.TransitionErrors, e.Transitions,
		)
		if err != nil {
			return Record{}, fmt.Errorf("insert epoch %d: %w", e.Epoch, err)
		}
	}
	if err := setActive(tx, rec.VersionID); err != nil {
		return Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

func setActive(tx *sql.Tx, id string) error {
	_, err := tx.Exec(
		`INSERT INTO active_model (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		id,
	)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	return nil
}

// Activate makes an earlier version the active one.
func (s *Store) Activate(id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := setActive(tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

// Active returns the active model version.
func (s *Store) Active() (Record, error) {
	var id string
	err := s.db.QueryRow(`SELECT version_id FROM active_model WHERE id = 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get active: %w", err)
	}
	return s.Get(id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var rec Record
	var model, created string
	var metrics sql.NullString
	if err := row.Scan(&rec.VersionID, &rec.Kind, &rec.Name, &model, &metrics, &created); err != nil {
		return Record{}, err
	}
	rec.Model = json.RawMessage(model)
	rec.CreatedAt, _ = time.Parse(timeLayout, created)
	if metrics.Valid {
		if err := json.Unmarshal([]byte(metrics.String), &rec.Metrics); err != nil {
			return Record{}, fmt.Errorf("unmarshal metrics: %w", err)
		}
	}
	return rec, nil
}

const selectModel = `SELECT version_id, kind, name, model_json, metrics_json, created_at FROM models`

// Get retrieves a model version by id.
func (s *Store) Get(id string) (Record, error) {
	rec, err := scanRecord(s.db.QueryRow(selectModel+` WHERE version_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get model %s: %w", id, err)
	}
	return rec, nil
}

// List returns every version, newest first.
func (s *Store) List() ([]Record, error) {
	rows, err := s.db.Query(selectModel + ` ORDER BY rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Epochs returns the training history of a version in epoch order.
func (s *Store) Epochs(id string) ([]sequential.EpochStats, error) {
	rows, err := s.db.Query(
		`SELECT epoch, sequence_errors, transition_errors, transitions
		 FROM epochs WHERE version_id = ? ORDER BY epoch`, id)
	if err != nil {
		return nil, fmt.Errorf("list epochs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []sequential.EpochStats
	for rows.Next() {
		var e sequential.EpochStats
		if err := rows.Scan(&e.Epoch, &e.SequenceErrors, &e.TransitionErrors, &e.Transitions); err != nil {
			return nil, fmt.Errorf("scan epoch: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
