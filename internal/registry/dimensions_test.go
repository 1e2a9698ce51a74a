package registry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gridreg/pkg/domain"
)

func TestDimensionRegisterBatchIsAllOrNone(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dimensions := svc.Dimensions()

	bad := domain.DimensionConfig{Name: "Flavors", Type: domain.DimensionType("flavor")}
	if _, err := dimensions.Register(ctx, []domain.DimensionConfig{stateDimension(), sectorDimension(), bad}, testUser, "mixed batch"); err == nil {
		t.Fatalf("expected invalid config to fail the batch")
	}
	ids, err := dimensions.ListIDs(ctx)
	if err != nil {
		t.Fatalf("list ids: %v", err)
	}
	if len(ids) != 0 || len(dimensions.List()) != 0 {
		t.Fatalf("failed batch must write nothing, got ids=%v entries=%d", ids, len(dimensions.List()))
	}

	var dupInBatch domain.ErrDuplicateInBatch
	if _, err := dimensions.Register(ctx, []domain.DimensionConfig{stateDimension(), stateDimension()}, testUser, "twice in one batch"); !errors.As(err, &dupInBatch) {
		t.Fatalf("expected duplicate in batch, got %v", err)
	}
	if dupInBatch.Name != "US States" {
		t.Fatalf("unexpected duplicate name %q", dupInBatch.Name)
	}

	if _, err := dimensions.Register(ctx, nil, testUser, "empty batch"); err == nil {
		t.Fatalf("expected empty batch to be rejected")
	}
}

func TestDimensionRegisterDeduplicatesByNameAndContent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dimensions := svc.Dimensions()

	first, err := dimensions.Register(ctx, []domain.DimensionConfig{stateDimension()}, testUser, "register states")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(first) != 1 || first[0].Duplicate {
		t.Fatalf("unexpected first registration %+v", first)
	}
	if base := domain.BaseID(first[0].ID); base != "us_states" {
		t.Fatalf("expected id derived from the name, got %s", first[0].ID)
	}

	again, err := dimensions.Register(ctx, []domain.DimensionConfig{stateDimension()}, testUser, "register states again")
	if err != nil {
		t.Fatalf("identical re-registration must succeed: %v", err)
	}
	if !again[0].Duplicate || again[0].ID != first[0].ID || again[0].Version != first[0].Version {
		t.Fatalf("expected duplicate pointing at the original, got %+v", again[0])
	}
	if len(dimensions.List()) != 1 {
		t.Fatalf("duplicate must not add a catalog entry, got %d", len(dimensions.List()))
	}

	changed := stateDimension()
	changed.Records = append(changed.Records, domain.DimensionRecord{ID: "TX", Name: "Texas"})
	var alreadyRegistered domain.ErrAlreadyRegistered
	if _, err := dimensions.Register(ctx, []domain.DimensionConfig{changed}, testUser, "changed states"); !errors.As(err, &alreadyRegistered) {
		t.Fatalf("expected changed content under a taken name to be rejected, got %v", err)
	}
	if alreadyRegistered.ID != first[0].ID {
		t.Fatalf("expected the conflict to name the holder, got %+v", alreadyRegistered)
	}

	// The same name under a different type is a different dimension.
	scenario := domain.DimensionConfig{
		Name: "US States",
		Type: domain.DimensionScenario,
		Records: []domain.DimensionRecord{
			{ID: "reference", Name: "Reference"},
		},
	}
	other, err := dimensions.Register(ctx, []domain.DimensionConfig{scenario}, testUser, "states as scenario")
	if err != nil {
		t.Fatalf("register same name other type: %v", err)
	}
	if other[0].Duplicate || other[0].ID == first[0].ID {
		t.Fatalf("expected a fresh dimension, got %+v", other[0])
	}
}

func TestDimensionUpgrade(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dimensions := svc.Dimensions()

	first, err := dimensions.Register(ctx, []domain.DimensionConfig{stateDimension()}, testUser, "register states")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	dimID := first[0].ID

	upgraded := stateDimension()
	upgraded.Records = append(upgraded.Records, domain.DimensionRecord{ID: "TX", Name: "Texas"})
	reg, err := dimensions.Upgrade(ctx, upgraded, testUser, "add texas")
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if reg.ID != dimID || reg.Version.String() != "2.0.0" {
		t.Fatalf("expected major bump of the same dimension, got %+v", reg)
	}

	cfg, version, err := dimensions.GetLatest(ctx, dimID)
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if version != reg.Version || len(cfg.Records) != 3 {
		t.Fatalf("unexpected latest %s with %d records", version, len(cfg.Records))
	}
	if prior, err := dimensions.Records(ctx, dimID, domain.Version{Major: 1}); err != nil || len(prior) != 2 {
		t.Fatalf("prior version must be unchanged, got %d records err=%v", len(prior), err)
	}
	history, err := dimensions.History(ctx, dimID)
	if err != nil || len(history) != 2 {
		t.Fatalf("unexpected history %+v err=%v", history, err)
	}

	var invalidOp domain.ErrInvalidOperation
	if _, err := dimensions.Upgrade(ctx, upgraded, testUser, "same content"); !errors.As(err, &invalidOp) {
		t.Fatalf("expected identical content to be rejected, got %v", err)
	}

	next := stateDimension()
	next.Records = append(next.Records, domain.DimensionRecord{ID: "WA", Name: "Washington"})
	var dupLog domain.ErrDuplicateLogMessage
	if _, err := dimensions.Upgrade(ctx, next, testUser, "add texas"); !errors.As(err, &dupLog) {
		t.Fatalf("expected reused log message to be rejected, got %v", err)
	}
	// Messages from any earlier registration count, not just the latest.
	if _, err := dimensions.Upgrade(ctx, next, testUser, "register states"); !errors.As(err, &dupLog) {
		t.Fatalf("expected the original registration message to be rejected, got %v", err)
	}

	var notFound domain.ErrNotFound
	if _, err := dimensions.Upgrade(ctx, countyDimension(), testUser, "never registered"); !errors.As(err, &notFound) {
		t.Fatalf("expected upgrade of unknown dimension to fail, got %v", err)
	}
}

func TestDimensionRecordFileLoading(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dimensions := svc.Dimensions()

	path := writeTempFile(t, "subsectors.csv", "id,name,sector\nhotel,Hotels,com\nsmall_office,Small Offices,com\n")
	cfg := domain.DimensionConfig{
		Name:       "Commercial Subsectors",
		Type:       domain.DimensionSubsector,
		RecordFile: path,
	}
	regs, err := dimensions.Register(ctx, []domain.DimensionConfig{cfg}, testUser, "register subsectors")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	stored, _, err := dimensions.GetLatest(ctx, regs[0].ID)
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if stored.RecordFile != "" {
		t.Fatalf("stored config must not carry the submitter path, got %q", stored.RecordFile)
	}
	if len(stored.Records) != 2 || stored.Records[0].ID != "hotel" || stored.Records[0].Attributes["sector"] != "com" {
		t.Fatalf("unexpected loaded records %+v", stored.Records)
	}

	missing := cfg
	missing.Name = "Broken Subsectors"
	missing.RecordFile = "/nonexistent/records.csv"
	if _, err := dimensions.Register(ctx, []domain.DimensionConfig{missing}, testUser, "missing record file"); err == nil {
		t.Fatalf("expected missing record file to be rejected")
	}

	headerOnly := cfg
	headerOnly.Name = "Empty Subsectors"
	headerOnly.RecordFile = writeTempFile(t, "empty.csv", "id,name\n")
	if _, err := dimensions.Register(ctx, []domain.DimensionConfig{headerOnly}, testUser, "empty record file"); err == nil || !strings.Contains(err.Error(), "no rows") {
		t.Fatalf("expected empty record table to be rejected, got %v", err)
	}
}

func TestDimensionGetByName(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dimensions := svc.Dimensions()
	registerCoreDimensions(t, svc)

	cfg, version, err := dimensions.GetByName(ctx, domain.DimensionGeography, "US States")
	if err != nil {
		t.Fatalf("get by name: %v", err)
	}
	if version.String() != "1.0.0" || len(cfg.Records) != 2 {
		t.Fatalf("unexpected resolution %s %+v", version, cfg)
	}

	var notFound domain.ErrNotFound
	if _, _, err := dimensions.GetByName(ctx, domain.DimensionGeography, "US Tracts"); !errors.As(err, &notFound) {
		t.Fatalf("expected unknown name to fail, got %v", err)
	}
	// The type participates in the lookup.
	if _, _, err := dimensions.GetByName(ctx, domain.DimensionSector, "US States"); !errors.As(err, &notFound) {
		t.Fatalf("expected type mismatch to fail, got %v", err)
	}
}

func TestDimensionRemoveBreaksReferences(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dimensions := svc.Dimensions()
	ids := registerCoreDimensions(t, svc)

	statesID := ids["us_states"]
	if err := dimensions.Remove(ctx, statesID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	var notFound domain.ErrNotFound
	if _, err := dimensions.Header(ctx, statesID); !errors.As(err, &notFound) {
		t.Fatalf("expected removed dimension to be gone, got %v", err)
	}
	if err := dimensions.Remove(ctx, statesID); !errors.As(err, &notFound) {
		t.Fatalf("expected second removal to report not found, got %v", err)
	}

	// References are weak: registration resolving the removed name now fails.
	broken := stockProject()
	broken.DimensionMappings = nil
	if _, err := svc.Projects().Register(ctx, broken, testUser, "register stock project"); !errors.As(err, &notFound) {
		t.Fatalf("expected project referencing removed dimension to fail, got %v", err)
	}
}
