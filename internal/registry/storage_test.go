package registry

import (
	"path/filepath"
	"strings"
	"testing"

	"gridreg/internal/catalog"
	"gridreg/internal/infra/catalog/sqlite"
)

func TestOpenCatalogStoreSelectsDriver(t *testing.T) {
	t.Setenv("GRIDREG_CATALOG_DRIVER", "memory")
	store, err := OpenCatalogStore(catalog.DefaultRulesEngine())
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := store.(*catalog.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}

	t.Setenv("GRIDREG_CATALOG_DRIVER", "sqlite")
	t.Setenv("GRIDREG_SQLITE_PATH", filepath.Join(t.TempDir(), "catalog.db"))
	store, err = OpenCatalogStore(catalog.DefaultRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	sq, ok := store.(*sqlite.Store)
	if !ok {
		t.Fatalf("expected sqlite store, got %T", store)
	}
	t.Cleanup(func() { _ = sq.DB().Close() })

	t.Setenv("GRIDREG_CATALOG_DRIVER", "etcd")
	if _, err := OpenCatalogStore(nil); err == nil || !strings.Contains(err.Error(), "unknown catalog driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}
