package registry

import (
	"context"
	"slices"
	"testing"
	"time"

	"gridreg/pkg/domain"
)

func TestRebuildCatalogRepairsDrift(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	projects := svc.Projects()
	registerStockProject(t, svc)

	if _, err := projects.SubmitDataset(ctx, "stock_models", comstockDataset(), geographyMappingRef(), testUser, "submit comstock"); err != nil {
		t.Fatalf("submit comstock: %v", err)
	}
	if _, err := projects.SubmitDataset(ctx, "stock_models", resstockDataset(), nil, testUser, "submit resstock"); err != nil {
		t.Fatalf("submit resstock: %v", err)
	}
	if err := projects.Publish(ctx, "stock_models", testUser); err != nil {
		t.Fatalf("publish: %v", err)
	}
	mapID := svc.Mappings().List()[0].ID

	// Simulate drift left by a crashed operation: one entry dropped, one
	// entry tampered with.
	_, err := svc.Catalog().RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := tx.DeleteEntry(domain.EntityDimensionMapping, mapID); err != nil {
			return err
		}
		_, err := tx.UpdateEntry(domain.EntityProject, "stock_models", func(e *domain.CatalogEntry) error {
			e.Name = "Tampered"
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("inject drift: %v", err)
	}

	report, err := svc.RebuildCatalog(ctx)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	want := RebuildReport{Projects: 1, Datasets: 2, Dimensions: 4, Mappings: 1}
	if report.Projects != want.Projects || report.Datasets != want.Datasets ||
		report.Dimensions != want.Dimensions || report.Mappings != want.Mappings {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Total() != 8 || len(report.Skipped) != 0 {
		t.Fatalf("unexpected report totals %+v", report)
	}

	entry, ok := svc.Catalog().FindEntry(domain.EntityProject, "stock_models")
	if !ok {
		t.Fatalf("project entry missing after rebuild")
	}
	if entry.Name != "Stock Models" || entry.Status != domain.StatusPublished || len(entry.Datasets) != 2 {
		t.Fatalf("unexpected rebuilt project entry %+v", entry)
	}
	for _, slot := range entry.Datasets {
		if slot.Status != domain.SlotRegistered || slot.Version == nil {
			t.Fatalf("unexpected rebuilt slot %+v", slot)
		}
	}
	restored, ok := svc.Catalog().FindEntry(domain.EntityDimensionMapping, mapID)
	if !ok {
		t.Fatalf("mapping entry missing after rebuild")
	}
	if restored.Name != "Counties to States" || restored.ContentHash == "" {
		t.Fatalf("unexpected rebuilt mapping entry %+v", restored)
	}
	for _, dim := range svc.Dimensions().List() {
		if dim.DimensionType == "" || dim.ContentHash == "" || dim.UpdatedAt.IsZero() {
			t.Fatalf("unexpected rebuilt dimension entry %+v", dim)
		}
	}

	// The rebuilt catalog serves registrations as before.
	if _, err := projects.SubmitDataset(ctx, "stock_models", comstockDataset(), geographyMappingRef(), testUser, "resubmit"); err == nil {
		t.Fatalf("expected published project to stay frozen after rebuild")
	}
}

func TestRebuildCatalogSkipsUnreadableEntities(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	registerCoreDimensions(t, svc)

	// A header without any snapshot version is unreadable for derivation, as
	// a half-synced or crashed write would leave behind.
	ghost := domain.Header{ID: "ghost__dim", Kind: domain.EntityDimension}
	if err := ghost.Append(domain.RegistrationRecord{Version: domain.InitialVersion(), Submitter: testUser, Date: time.Now().UTC(), LogMessage: "ghost"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := svc.Snapshots().WriteHeader(ctx, domain.EntityDimension, "ghost__dim", ghost); err != nil {
		t.Fatalf("write ghost header: %v", err)
	}

	report, err := svc.RebuildCatalog(ctx)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if report.Dimensions != 4 {
		t.Fatalf("expected the readable dimensions to survive, got %+v", report)
	}
	if !slices.Equal(report.Skipped, []string{"dimension/ghost__dim"}) {
		t.Fatalf("unexpected skipped list %v", report.Skipped)
	}
	if _, ok := svc.Catalog().FindEntry(domain.EntityDimension, "ghost__dim"); ok {
		t.Fatalf("skipped entity must not get a catalog entry")
	}
}
