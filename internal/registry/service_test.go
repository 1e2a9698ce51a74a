package registry

import (
	"context"
	"errors"
	"io"
	"testing"

	"gridreg/pkg/domain"
)

func TestServiceCreateAndVerify(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	marker, err := svc.Verify(ctx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if marker.CreatedBy != testUser {
		t.Fatalf("expected marker created by %s, got %s", testUser, marker.CreatedBy)
	}

	var invalidOp domain.ErrInvalidOperation
	if err := svc.Create(ctx, testUser); !errors.As(err, &invalidOp) {
		t.Fatalf("expected invalid operation on second create, got %v", err)
	}
}

func TestRegistryLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	projects := svc.Projects()
	datasets := svc.Datasets()

	projectReg := registerStockProject(t, svc)
	if projectReg.ID != "stock_models" || projectReg.Version.String() != "1.0.0" {
		t.Fatalf("unexpected project registration %+v", projectReg)
	}

	header, err := projects.Header(ctx, projectReg.ID)
	if err != nil {
		t.Fatalf("project header: %v", err)
	}
	if header.Status != domain.StatusInitialRegistration {
		t.Fatalf("expected initial_registration, got %s", header.Status)
	}
	if len(header.Datasets) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(header.Datasets))
	}
	for _, slot := range header.Datasets {
		if slot.Status != domain.SlotUnregistered || slot.Version != nil {
			t.Fatalf("expected unregistered unpinned slot, got %+v", slot)
		}
	}

	if _, err := projects.Register(ctx, stockProject(), testUser, "register again"); err == nil {
		t.Fatalf("expected duplicate project registration to fail")
	} else {
		var exists domain.ErrAlreadyExists
		if !errors.As(err, &exists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	}

	var missingMapping domain.ErrMissingRequiredMapping
	if _, err := projects.SubmitDataset(ctx, projectReg.ID, comstockDataset(), nil, testUser, "submit without mapping"); !errors.As(err, &missingMapping) {
		t.Fatalf("expected missing required mapping, got %v", err)
	}
	if missingMapping.FromType != domain.DimensionGeography {
		t.Fatalf("expected geography mapping requirement, got %+v", missingMapping)
	}

	comstock := comstockDataset()
	comstock.DataFiles = []string{
		writeTempFile(t, "load_com.csv", "county,sector,value\n06037,com,1.5\n"),
		writeTempFile(t, "meta.json", `{"units":"MWh"}`),
	}
	submitted, err := projects.SubmitDataset(ctx, projectReg.ID, comstock, geographyMappingRef(), testUser, "submit comstock")
	if err != nil {
		t.Fatalf("submit comstock: %v", err)
	}
	if submitted.ID != "comstock" || submitted.Version.String() != "1.0.0" {
		t.Fatalf("unexpected dataset registration %+v", submitted)
	}

	header, err = projects.Header(ctx, projectReg.ID)
	if err != nil {
		t.Fatalf("project header after submit: %v", err)
	}
	if header.Status != domain.StatusInProgress {
		t.Fatalf("expected in_progress after first submission, got %s", header.Status)
	}
	slot := header.Slot("comstock")
	if slot == nil || slot.Status != domain.SlotRegistered || slot.Version == nil || slot.Version.String() != "1.0.0" {
		t.Fatalf("expected comstock slot pinned at 1.0.0, got %+v", slot)
	}

	stored, err := datasets.Get(ctx, "comstock", submitted.Version)
	if err != nil {
		t.Fatalf("dataset config: %v", err)
	}
	if len(stored.DataFiles) != 2 || stored.DataFiles[0] != "load_com.csv" || stored.DataFiles[1] != "meta.json" {
		t.Fatalf("expected stored data file names, got %v", stored.DataFiles)
	}
	for _, ref := range stored.Dimensions {
		if !ref.Pinned() {
			t.Fatalf("expected pinned dimension reference, got %+v", ref)
		}
	}
	_, rc, err := svc.Snapshots().OpenDataFile(ctx, "comstock", submitted.Version, "load_com.csv")
	if err != nil {
		t.Fatalf("open data file: %v", err)
	}
	payload, err := io.ReadAll(rc)
	if cerr := rc.Close(); cerr != nil {
		t.Fatalf("close data file: %v", cerr)
	}
	if err != nil {
		t.Fatalf("read data file: %v", err)
	}
	if string(payload) != "county,sector,value\n06037,com,1.5\n" {
		t.Fatalf("unexpected data file content %q", payload)
	}

	var alreadySubmitted domain.ErrAlreadySubmitted
	if _, err := projects.SubmitDataset(ctx, projectReg.ID, comstock, geographyMappingRef(), testUser, "submit twice"); !errors.As(err, &alreadySubmitted) {
		t.Fatalf("expected already submitted, got %v", err)
	}

	stray := resstockDataset()
	stray.DatasetID = "tempo"
	var notExpected domain.ErrDatasetNotExpected
	if _, err := projects.SubmitDataset(ctx, projectReg.ID, stray, nil, testUser, "submit stray"); !errors.As(err, &notExpected) {
		t.Fatalf("expected dataset not expected, got %v", err)
	}

	if _, err := projects.SubmitDataset(ctx, projectReg.ID, resstockDataset(), nil, testUser, "submit resstock"); err != nil {
		t.Fatalf("submit resstock: %v", err)
	}
	header, err = projects.Header(ctx, projectReg.ID)
	if err != nil {
		t.Fatalf("project header after resstock: %v", err)
	}
	if header.Status != domain.StatusComplete {
		t.Fatalf("expected complete after last submission, got %s", header.Status)
	}
	if !header.AllRegistered() {
		t.Fatalf("expected all slots registered")
	}
	if header.Version.String() != "1.0.0" {
		t.Fatalf("submissions must not bump the project version, got %s", header.Version)
	}
	history, err := projects.History(ctx, projectReg.ID)
	if err != nil {
		t.Fatalf("project history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected a single registration record, got %d", len(history))
	}

	if err := projects.Publish(ctx, projectReg.ID, testUser); err != nil {
		t.Fatalf("publish: %v", err)
	}
	header, err = projects.Header(ctx, projectReg.ID)
	if err != nil {
		t.Fatalf("project header after publish: %v", err)
	}
	if header.Status != domain.StatusPublished {
		t.Fatalf("expected published, got %s", header.Status)
	}

	var frozen domain.ErrInvalidRegistryState
	if err := projects.Publish(ctx, projectReg.ID, testUser); !errors.As(err, &frozen) {
		t.Fatalf("expected republish to fail, got %v", err)
	}
	update := stockProject()
	update.Description = "changed after publish"
	if _, err := projects.Update(ctx, update, testUser, domain.UpdateTypePatch, "update frozen"); !errors.As(err, &frozen) {
		t.Fatalf("expected update on published project to fail, got %v", err)
	}
	if err := projects.Deprecate(ctx, projectReg.ID, testUser); !errors.As(err, &frozen) {
		t.Fatalf("expected deprecation of published project to fail, got %v", err)
	}

	entries := projects.List()
	if len(entries) != 1 || entries[0].Status != domain.StatusPublished {
		t.Fatalf("unexpected project catalog entries %+v", entries)
	}
	if got := len(datasets.List()); got != 2 {
		t.Fatalf("expected 2 dataset entries, got %d", got)
	}
	if got := len(svc.Dimensions().List()); got != 4 {
		t.Fatalf("expected 4 dimension entries, got %d", got)
	}
	if got := len(svc.Mappings().List()); got != 1 {
		t.Fatalf("expected 1 mapping entry, got %d", got)
	}
}

func TestOperationsReleaseLocks(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	registerStockProject(t, svc)
	if _, err := svc.Projects().SubmitDataset(ctx, "stock_models", comstockDataset(), nil, testUser, "fails on mapping"); err == nil {
		t.Fatalf("expected submission to fail")
	}

	held, err := svc.Locks().List(ctx)
	if err != nil {
		t.Fatalf("list locks: %v", err)
	}
	if len(held) != 0 {
		t.Fatalf("expected no locks held after operations, got %+v", held)
	}
}

func TestOperationsRequireLogMessage(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	var invalidOp domain.ErrInvalidOperation
	if _, err := svc.Projects().Register(ctx, stockProject(), testUser, "  "); !errors.As(err, &invalidOp) {
		t.Fatalf("expected blank log message to be rejected, got %v", err)
	}
	if _, err := svc.Dimensions().Register(ctx, []domain.DimensionConfig{stateDimension()}, testUser, ""); !errors.As(err, &invalidOp) {
		t.Fatalf("expected blank log message to be rejected, got %v", err)
	}
	if _, err := svc.Mappings().Register(ctx, countyStateMapping(), testUser, ""); !errors.As(err, &invalidOp) {
		t.Fatalf("expected blank log message to be rejected, got %v", err)
	}
}
