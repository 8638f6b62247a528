// Package storage persists explanation reports in a BoltDB file.
//
// Reports are stored as JSON under keys of the form "model_unixnano_id" so that a
// cursor over one model's prefix yields its reports in creation order. A second
// bucket maps report IDs to their keys for direct lookup.
package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"model-explain/internal/explain"
	"model-explain/internal/metrics"

	"go.etcd.io/bbolt"
)

const (
	reportsBucket = "reports"    // report JSON by model_unixnano_id
	idsBucket     = "report_ids" // report key by ID
)

// ErrNotFound is returned when no report has the requested ID.
var ErrNotFound = errors.New("report not found")

// Store provides persistent storage for reports using BoltDB.
type Store struct {
	db     *bbolt.DB // BoltDB database instance
	stored metrics.MetricsCounter
}

// New opens (or creates) the report database under dataPath, creating the
// directory when needed.
func New(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataPath, "explain-reports.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(reportsBucket)); err != nil {
			return fmt.Errorf("create reports bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(idsBucket)); err != nil {
			return fmt.Errorf("create ids bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// SetMetrics counts saved reports on c.
func (s *Store) SetMetrics(c metrics.MetricsCounter) {
	s.stored = c
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func reportKey(r *explain.Report) []byte {
	return []byte(fmt.Sprintf("%s_%d_%s", r.Model, r.CreatedAt.UnixNano(), r.ID))
}

// Save stores a report. Saving a report with an existing ID replaces it.
func (s *Store) Save(r *explain.Report) error {
	if r.ID == "" {
		return fmt.Errorf("report has no ID")
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		reports := tx.Bucket([]byte(reportsBucket))
		ids := tx.Bucket([]byte(idsBucket))

		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}

		if old := ids.Get([]byte(r.ID)); old != nil {
			if err := reports.Delete(old); err != nil {
				return err
			}
		}

		key := reportKey(r)
		if err := reports.Put(key, data); err != nil {
			return err
		}
		return ids.Put([]byte(r.ID), key)
	})
	if err == nil && s.stored != nil {
		s.stored.Inc()
	}
	return err
}

// Get returns the report with the given ID.
func (s *Store) Get(id string) (*explain.Report, error) {
	var r explain.Report
	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket([]byte(idsBucket)).Get([]byte(id))
		if key == nil {
			return ErrNotFound
		}
		data := tx.Bucket([]byte(reportsBucket)).Get(key)
		if data == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("unmarshal report %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// List returns the reports of one model, or of every model when modelName is
// empty, ordered by creation time.
func (s *Store) List(modelName string) ([]*explain.Report, error) {
	var out []*explain.Report

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(reportsBucket)).Cursor()

		var prefix []byte
		if modelName != "" {
			prefix = []byte(modelName + "_")
		}

		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var r explain.Report
			if err := json.Unmarshal(v, &r); err != nil {
				continue // Skip malformed records
			}
			// Another model's name may share the prefix.
			if modelName != "" && r.Model != modelName {
				continue
			}
			out = append(out, &r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes the report with the given ID.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		ids := tx.Bucket([]byte(idsBucket))
		key := ids.Get([]byte(id))
		if key == nil {
			return ErrNotFound
		}
		if err := tx.Bucket([]byte(reportsBucket)).Delete(key); err != nil {
			return err
		}
		return ids.Delete([]byte(id))
	})
}
