package domain

import "context"

// Transaction exposes catalog mutations executed within a rules-guarded
// boundary.
type Transaction interface {
	Snapshot() TransactionView
	PutEntry(entry CatalogEntry) (CatalogEntry, error)
	UpdateEntry(kind EntityKind, id string, mutator func(*CatalogEntry) error) (CatalogEntry, error)
	DeleteEntry(kind EntityKind, id string) error
}

// TransactionView provides read access to catalog state inside and outside
// transactions.
type TransactionView interface {
	ListEntries(kind EntityKind) []CatalogEntry
	FindEntry(kind EntityKind, id string) (CatalogEntry, bool)
}

// PersistentCatalog is a minimal abstraction over durable catalog backends.
// It mirrors the subset of store capabilities used directly by higher layers.
type PersistentCatalog interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	FindEntry(kind EntityKind, id string) (CatalogEntry, bool)
	ListEntries(kind EntityKind) []CatalogEntry
}
