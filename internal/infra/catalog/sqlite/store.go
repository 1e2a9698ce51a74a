// Package sqlite persists the catalog to a single SQLite table as JSON
// buckets. It snapshots the full state after every successful transaction,
// reusing the in-memory catalog for transactional semantics.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gridreg/internal/catalog"
	"gridreg/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.PersistentCatalog = (*Store)(nil)

// Store persists catalog state to a SQLite file.
type Store struct {
	*catalog.MemoryStore
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore constructs a snapshotting SQLite-backed catalog. An empty path
// selects the default file in the working directory.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = "gridreg-catalog.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	mem := catalog.NewMemoryStore(engine)
	s := &Store{MemoryStore: mem, db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

var sqliteBuckets = []string{"projects", "datasets", "dimensions", "dimension_mappings"}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := catalog.Snapshot{}
	loaded := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		switch bucket {
		case "projects":
			if err := json.Unmarshal(payload, &snapshot.Projects); err != nil {
				return fmt.Errorf("decode projects: %w", err)
			}
		case "datasets":
			if err := json.Unmarshal(payload, &snapshot.Datasets); err != nil {
				return fmt.Errorf("decode datasets: %w", err)
			}
		case "dimensions":
			if err := json.Unmarshal(payload, &snapshot.Dimensions); err != nil {
				return fmt.Errorf("decode dimensions: %w", err)
			}
		case "dimension_mappings":
			if err := json.Unmarshal(payload, &snapshot.DimensionMappings); err != nil {
				return fmt.Errorf("decode dimension_mappings: %w", err)
			}
		default:
			continue
		}
		loaded = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if loaded {
		s.ImportState(snapshot)
	}
	return nil
}

func (s *Store) persist() (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range sqliteBuckets {
		var data []byte
		switch bucket {
		case "projects":
			data, err = json.Marshal(snapshot.Projects)
		case "datasets":
			data, err = json.Marshal(snapshot.Datasets)
		case "dimensions":
			data, err = json.Marshal(snapshot.Dimensions)
		case "dimension_mappings":
			data, err = json.Marshal(snapshot.DimensionMappings)
		}
		if err != nil {
			retErr = err
			return retErr
		}
		if _, err = tx.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			retErr = fmt.Errorf("upsert %s: %w", bucket, err)
			return retErr
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	return nil
}

// RunInTransaction applies fn within a transaction, then snapshots state to
// SQLite when the commit succeeds.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	res, err := s.MemoryStore.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if pErr := s.persist(); pErr != nil {
		return res, pErr
	}
	return res, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
