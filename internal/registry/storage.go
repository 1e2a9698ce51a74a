package registry

import (
	"fmt"
	"os"

	"gridreg/internal/catalog"
	"gridreg/internal/infra/catalog/postgres"
	"gridreg/internal/infra/catalog/sqlite"
	"gridreg/pkg/domain"
)

// CatalogDriver identifies a concrete catalog persistence implementation.
type CatalogDriver string

const (
	CatalogMemory   CatalogDriver = "memory"   // in-memory only (tests / ephemeral)
	CatalogSQLite   CatalogDriver = "sqlite"   // embedded sqlite file
	CatalogPostgres CatalogDriver = "postgres" // PostgreSQL server
)

// OpenCatalogStore selects a catalog backend using environment variables.
// Defaults to sqlite when unset.
//
//	GRIDREG_CATALOG_DRIVER: memory|sqlite|postgres (default sqlite)
//	GRIDREG_SQLITE_PATH: path to sqlite file (default ./gridreg-catalog.db)
//	GRIDREG_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenCatalogStore(engine *domain.RulesEngine) (domain.PersistentCatalog, error) {
	return OpenCatalogStoreAt("", engine)
}

// OpenCatalogStoreAt is OpenCatalogStore with an explicit sqlite path used when
// the environment names neither a driver-specific path nor a different driver.
// The CLI passes a path inside the registry base so a registry tree stays
// self-contained.
func OpenCatalogStoreAt(sqlitePath string, engine *domain.RulesEngine) (domain.PersistentCatalog, error) {
	driver := os.Getenv("GRIDREG_CATALOG_DRIVER")
	if driver == "" {
		driver = string(CatalogSQLite)
	}
	switch CatalogDriver(driver) {
	case CatalogMemory:
		return catalog.NewMemoryStore(engine), nil
	case CatalogSQLite:
		path := os.Getenv("GRIDREG_SQLITE_PATH")
		if path == "" {
			path = sqlitePath
		}
		return sqlite.NewStore(path, engine)
	case CatalogPostgres:
		dsn := os.Getenv("GRIDREG_POSTGRES_DSN")
		return postgres.NewStore(dsn, engine)
	default:
		return nil, fmt.Errorf("unknown catalog driver %s", driver)
	}
}
