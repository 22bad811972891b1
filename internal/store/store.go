// Package store is the knowledge store: a flat CSV file with a fixed header that
// only ever grows by appending rows.
package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"stageline/internal/domain"
)

// Header is the fixed column order of the knowledge store.
var Header = []string{"date", "company", "product", "customer", "region", "threat_opportunity", "source", "confidence"}

var ErrBadHeader = errors.New("knowledge store header is missing key columns")

// Store is not safe for concurrent writers. Callers serialize ingestion runs.
type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Ensure creates the parent directory and the file with its header row if the
// file does not exist yet.
func (s *Store) Ensure() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("store: ensure dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		return fmt.Errorf("store: create: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		f.Close()
		return fmt.Errorf("store: write header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("store: write header: %w", err)
	}
	return f.Close()
}

// Append writes one row and syncs it before returning, so rows accepted before a
// later failure stay on disk.
func (s *Store) Append(rec domain.NormalizedRecord) error {
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("store: open for append: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(row(rec)); err != nil {
		f.Close()
		return fmt.Errorf("store: append: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("store: append: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("store: sync: %w", err)
	}
	return f.Close()
}

// Keys returns the composite keys of every row. A missing file yields an empty set.
func (s *Store) Keys() (map[domain.RecordKey]struct{}, error) {
	keys := map[domain.RecordKey]struct{}{}
	err := s.scan(func(rec domain.NormalizedRecord) {
		keys[domain.RecordKey{
			Date:    strings.TrimSpace(rec.Date),
			Company: strings.TrimSpace(rec.Company),
			Product: strings.TrimSpace(rec.Product),
		}] = struct{}{}
	})
	return keys, err
}

// Records returns every row in file order. A missing file yields no rows.
func (s *Store) Records() ([]domain.NormalizedRecord, error) {
	var out []domain.NormalizedRecord
	err := s.scan(func(rec domain.NormalizedRecord) {
		out = append(out, rec)
	})
	return out, err
}

func (s *Store) scan(fn func(domain.NormalizedRecord)) error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: open: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	header, err := r.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	for _, col := range Header[:3] {
		if _, ok := idx[col]; !ok {
			return fmt.Errorf("%w: %s", ErrBadHeader, col)
		}
	}
	get := func(cols []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(cols) {
			return ""
		}
		return cols[i]
	}
	for {
		cols, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("store: read row: %w", err)
		}
		fn(domain.NormalizedRecord{
			Date:              get(cols, "date"),
			Company:           get(cols, "company"),
			Product:           get(cols, "product"),
			Customer:          get(cols, "customer"),
			Region:            get(cols, "region"),
			ThreatOpportunity: get(cols, "threat_opportunity"),
			Source:            get(cols, "source"),
			Confidence:        get(cols, "confidence"),
		})
	}
}

func row(rec domain.NormalizedRecord) []string {
	return []string{
		rec.Date,
		rec.Company,
		rec.Product,
		rec.Customer,
		rec.Region,
		rec.ThreatOpportunity,
		rec.Source,
		rec.Confidence,
	}
}

// Stats summarizes the store for status views.
type Stats struct {
	Path      string `json:"path"`
	Exists    bool   `json:"exists"`
	Rows      int    `json:"rows"`
	ValidRows int    `json:"valid_rows"`
	Companies int    `json:"companies"`
}

// Stats counts rows and the rows carrying a full composite key.
func (s *Store) Stats() (Stats, error) {
	st := Stats{Path: s.path, Exists: s.Exists()}
	companies := map[string]struct{}{}
	err := s.scan(func(rec domain.NormalizedRecord) {
		st.Rows++
		if strings.TrimSpace(rec.Date) != "" && strings.TrimSpace(rec.Company) != "" && strings.TrimSpace(rec.Product) != "" {
			st.ValidRows++
		}
		if c := strings.TrimSpace(rec.Company); c != "" {
			companies[c] = struct{}{}
		}
	})
	st.Companies = len(companies)
	return st, err
}
