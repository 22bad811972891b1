// Package ingest merges raw records into the knowledge store, keeping the first
// row seen for each composite key.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"stageline/internal/domain"
	"stageline/internal/logger"
	"stageline/internal/record"
)

var ErrStoreWrite = errors.New("knowledge store write failed")

// Store is the subset of the knowledge store the engine needs.
type Store interface {
	Keys() (map[domain.RecordKey]struct{}, error)
	Ensure() error
	Append(rec domain.NormalizedRecord) error
}

type Engine struct {
	Store Store
	Log   logger.Logger
}

func New(s Store, log logger.Logger) *Engine {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Engine{Store: s, Log: log}
}

// Ingest processes records in order. Invalid records, including nil ones, are
// counted and skipped.
// A store write failure stops the batch and returns the counts so far together
// with an error wrapping ErrStoreWrite; rows appended before it stay written.
func (e *Engine) Ingest(ctx context.Context, records []domain.RawRecord) (domain.IngestStats, error) {
	var stats domain.IngestStats

	seen, err := e.Store.Keys()
	if err != nil {
		e.Log.Warn("knowledge store unreadable, deduplicating against an empty key set", "error", err)
		seen = map[domain.RecordKey]struct{}{}
	}
	if err := e.Store.Ensure(); err != nil {
		return stats, fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}

	for i, raw := range records {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if raw == nil {
			stats.Errors++
			e.Log.Warn("record rejected", "index", i, "error", "record is not an object")
			continue
		}
		rec, err := record.Normalize(raw)
		if err != nil {
			stats.Errors++
			e.Log.Warn("record rejected", "index", i, "error", err)
			continue
		}
		if err := record.Validate(rec); err != nil {
			stats.Errors++
			e.Log.Warn("record rejected", "index", i, "error", err)
			continue
		}
		key := record.Key(rec)
		if _, dup := seen[key]; dup {
			stats.Skipped++
			e.Log.Debug("duplicate record skipped", "index", i, "date", key.Date, "company", key.Company, "product", key.Product)
			continue
		}
		if err := e.Store.Append(rec); err != nil {
			return stats, fmt.Errorf("%w: record %d: %v", ErrStoreWrite, i, err)
		}
		seen[key] = struct{}{}
		stats.Added++
	}
	e.Log.Info("ingest finished", "added", stats.Added, "skipped", stats.Skipped, "errors", stats.Errors)
	return stats, nil
}
