package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"gridreg/internal/infra/catalog/postgres/testutil"
	"gridreg/pkg/domain"
)

func openWithStub(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	store, err := NewStore("", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, conn
}

func TestRunInTransactionPersistsBuckets(t *testing.T) {
	store, conn := openWithStub(t)

	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.PutEntry(domain.CatalogEntry{
			Kind:    domain.EntityDataset,
			ID:      "comstock",
			Name:    "comstock",
			Version: domain.InitialVersion(),
		})
		return err
	}); err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}

	for _, bucket := range []string{"projects", "datasets", "dimensions", "dimension_mappings"} {
		if _, ok := conn.State[bucket]; !ok {
			t.Fatalf("bucket %s not persisted, state has %v", bucket, conn.State)
		}
	}
	var datasets map[string]domain.CatalogEntry
	if err := json.Unmarshal(conn.State["datasets"], &datasets); err != nil {
		t.Fatalf("decode datasets bucket: %v", err)
	}
	if entry, ok := datasets["comstock"]; !ok || entry.Version.String() != "1.0.0" {
		t.Fatalf("datasets bucket = %+v", datasets)
	}
}

func TestNewStoreHydratesFromState(t *testing.T) {
	db, conn := testutil.NewStubDB()
	payload, err := json.Marshal(map[string]domain.CatalogEntry{
		"counties-1": {
			Kind:          domain.EntityDimension,
			ID:            "counties-1",
			Name:          "counties",
			DimensionType: domain.DimensionGeography,
			Version:       domain.InitialVersion(),
		},
	})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	conn.State["dimensions"] = payload

	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("ignored", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	entry, ok := store.FindEntry(domain.EntityDimension, "counties-1")
	if !ok || entry.DimensionType != domain.DimensionGeography {
		t.Fatalf("hydrated entry = %+v, ok=%v", entry, ok)
	}
}

func TestNewStoreOpenError(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) {
		return nil, fmt.Errorf("open fail")
	})
	defer restore()
	if _, err := NewStore("", domain.NewRulesEngine()); err == nil || !strings.Contains(err.Error(), "open fail") {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestNewStorePingError(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore("", domain.NewRulesEngine()); err == nil || !strings.Contains(err.Error(), "ping") {
		t.Fatalf("expected ping error, got %v", err)
	}
}

func TestNewStoreRowsError(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.RowsErr = fmt.Errorf("row err")
	conn.State["projects"] = []byte(`{}`)
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore("", domain.NewRulesEngine()); err == nil {
		t.Fatal("expected rows error")
	}
}

func TestRunInTransactionPersistErrorWhenExecFails(t *testing.T) {
	store, conn := openWithStub(t)
	conn.FailExec = true
	if _, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return nil }); err == nil {
		t.Fatal("expected persistence error when exec fails")
	}
}

func TestRunInTransactionPersistErrorWhenCommitFails(t *testing.T) {
	store, conn := openWithStub(t)
	conn.FailCommit = true
	if _, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return nil }); err == nil || !strings.Contains(err.Error(), "commit") {
		t.Fatalf("expected commit error, got %v", err)
	}
}

func TestRunInTransactionStopsOnUserError(t *testing.T) {
	store, conn := openWithStub(t)
	userErr := fmt.Errorf("user fail")
	if _, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return userErr }); !errors.Is(err, userErr) {
		t.Fatalf("expected user error to propagate, got %v", err)
	}
	if len(conn.State) != 0 {
		t.Fatalf("expected no persistence when user fn errors, state has %v", conn.State)
	}
}

func TestStoreDBExposesHandle(t *testing.T) {
	store, _ := openWithStub(t)
	if store.DB() == nil {
		t.Fatal("expected DB handle")
	}
}
