package storage

import (
	"cmp"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/happyhackingspace/seqlab/internal/htmlutil"
)

// Storage wraps the corpus data folder.
type Storage struct {
	Folder string
}

// NewStorage creates a Storage for the given data folder.
func NewStorage(folder string) *Storage {
	return &Storage{Folder: folder}
}

// GetConfig reads config.json.
func (s *Storage) GetConfig() (*Config, error) {
	data, err := os.ReadFile(filepath.Join(s.Folder, "config.json"))
	if err != nil {
		return nil, err
	}
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config.json: %w", err)
	}
	if config.MaxWindowSize == 0 {
		config.MaxWindowSize = DefaultMaxWindowSize
	}
	if config.MaxWindowSize < 0 {
		return nil, fmt.Errorf("config.json: negative max_window_size %d", config.MaxWindowSize)
	}
	return &config, nil
}

// SaveConfig writes config.json.
func (s *Storage) SaveConfig(config *Config) error {
	data, err := json.MarshalIndent(config, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.Folder, "config.json"), data, 0644)
}

// GetIndex reads index.json.
func (s *Storage) GetIndex() (map[string]IndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(s.Folder, "index.json"))
	if err != nil {
		return nil, err
	}
	var index map[string]IndexEntry
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse index.json: %w", err)
	}
	return index, nil
}

// SaveIndex writes index.json.
func (s *Storage) SaveIndex(index map[string]IndexEntry) error {
	data, err := json.MarshalIndent(index, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.Folder, "index.json"), data, 0644)
}

// SavePage stores a fetched page under html/ and records it in index.
// It returns the path relative to the data folder.
func (s *Storage) SavePage(index map[string]IndexEntry, rawURL, html string) (string, error) {
	sum := md5.Sum([]byte(rawURL))
	name := "html/" + hex.EncodeToString(sum[:6]) + ".html"
	path := filepath.Join(s.Folder, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(html), 0644); err != nil {
		return "", err
	}
	index[name] = IndexEntry{URL: rawURL}
	return name, nil
}

// IterOptions controls document iteration behavior.
type IterOptions struct {
	DropDuplicates bool
	DropUnlabeled  bool
	SimplifyLabels bool
}

// DefaultIterOptions returns the default options for iterating documents.
func DefaultIterOptions() IterOptions {
	return IterOptions{
		DropDuplicates: true,
		DropUnlabeled:  true,
		SimplifyLabels: true,
	}
}

// IterDocuments loads every indexed page as a token sequence, ordered by
// domain and then path. Unreadable pages are skipped with a warning.
// Labels outside the configured classes become background.
func (s *Storage) IterDocuments(opts IterOptions) ([]Document, error) {
	config, err := s.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	index, err := s.GetIndex()
	if err != nil {
		return nil, fmt.Errorf("get index: %w", err)
	}

	paths := slices.Collect(maps.Keys(index))
	slices.SortFunc(paths, func(a, b string) int {
		return cmp.Or(cmp.Compare(GetDomain(index[a].URL), GetDomain(index[b].URL)), cmp.Compare(a, b))
	})

	seen := make(map[[md5.Size]byte]bool)
	var docs []Document
	for _, path := range paths {
		data, err := os.ReadFile(filepath.Join(s.Folder, path))
		if err != nil {
			slog.Warn("Cannot read document", "path", path, "error", err)
			continue
		}
		page, err := htmlutil.LoadHTMLString(string(data))
		if err != nil {
			slog.Warn("Cannot parse document", "path", path, "error", err)
			continue
		}
		doc := Document{Path: path, URL: index[path].URL, Tokens: htmlutil.ExtractTokens(page)}
		if len(doc.Tokens) == 0 {
			slog.Debug("Skipping empty document", "path", path)
			continue
		}
		s.relabel(&doc, config, opts)

		if opts.DropUnlabeled && !doc.Labeled() {
			continue
		}
		if opts.DropDuplicates {
			key := md5.Sum([]byte(strings.Join(doc.Words(), " ") + "\x00" + strings.Join(doc.Labels(), " ")))
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *Storage) relabel(doc *Document, config *Config, opts IterOptions) {
	warned := make(map[string]bool)
	for i := range doc.Tokens {
		label := doc.Tokens[i].Label
		if label == htmlutil.BackgroundLabel {
			continue
		}
		if opts.SimplifyLabels {
			if simplified, ok := config.SimplifyMap[label]; ok {
				label = simplified
			}
		}
		if len(config.Classes) > 0 && label != htmlutil.BackgroundLabel && !slices.Contains(config.Classes, label) {
			if !warned[label] {
				slog.Warn("Unknown label treated as background", "path", doc.Path, "label", label)
				warned[label] = true
			}
			label = htmlutil.BackgroundLabel
		}
		doc.Tokens[i].Label = label
	}
}

// GetDomain returns the registrable name of a URL's host without its
// public suffix: "https://foo.example.co.uk/x" gives "example". Documents
// are grouped by it for cross-validation.
func GetDomain(rawURL string) string {
	host := rawURL
	if _, rest, ok := strings.Cut(host, "://"); ok {
		host = rest
	}
	host, _, _ = strings.Cut(host, "/")
	host, _, _ = strings.Cut(host, ":")

	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	name, _, _ := strings.Cut(domain, ".")
	return name
}
