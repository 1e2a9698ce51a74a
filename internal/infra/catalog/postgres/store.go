// Package postgres provides a Postgres-backed catalog that mirrors the
// in-memory semantics while snapshotting state to a JSONB table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"gridreg/internal/catalog"
	"gridreg/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

var _ domain.PersistentCatalog = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/gridreg?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists catalog state to Postgres while reusing the in-memory
// implementation for transactions.
type Store struct {
	*catalog.MemoryStore
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed catalog using the provided DSN (falls back
// to defaultDSN). It ensures the snapshot table exists and hydrates the
// in-memory catalog from any persisted state.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureStateTable(ctx, db); err != nil {
		return nil, err
	}
	snapshot, loaded, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := catalog.NewMemoryStore(engine)
	if loaded {
		mem.ImportState(snapshot)
	}
	return &Store{MemoryStore: mem, db: db}, nil
}

// RunInTransaction applies fn within a transaction, then snapshots to
// Postgres when the commit succeeds.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	res, err := s.MemoryStore.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.persist(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

func ensureStateTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure state table: %w", err)
	}
	return nil
}

var postgresBuckets = []string{"projects", "datasets", "dimensions", "dimension_mappings"}

func loadSnapshot(ctx context.Context, db *sql.DB) (catalog.Snapshot, bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return catalog.Snapshot{}, false, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot catalog.Snapshot
	loaded := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return catalog.Snapshot{}, false, fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		switch bucket {
		case "projects":
			if err := json.Unmarshal(payload, &snapshot.Projects); err != nil {
				return catalog.Snapshot{}, false, fmt.Errorf("decode projects: %w", err)
			}
		case "datasets":
			if err := json.Unmarshal(payload, &snapshot.Datasets); err != nil {
				return catalog.Snapshot{}, false, fmt.Errorf("decode datasets: %w", err)
			}
		case "dimensions":
			if err := json.Unmarshal(payload, &snapshot.Dimensions); err != nil {
				return catalog.Snapshot{}, false, fmt.Errorf("decode dimensions: %w", err)
			}
		case "dimension_mappings":
			if err := json.Unmarshal(payload, &snapshot.DimensionMappings); err != nil {
				return catalog.Snapshot{}, false, fmt.Errorf("decode dimension_mappings: %w", err)
			}
		default:
			continue
		}
		loaded = true
	}
	if err := rows.Err(); err != nil {
		return catalog.Snapshot{}, false, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, loaded, nil
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range postgresBuckets {
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
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore
// function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
