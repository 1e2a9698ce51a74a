package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gridreg/internal/blob"
	"gridreg/internal/catalog"
	"gridreg/internal/lock"
	"gridreg/internal/snapshot"
	"gridreg/pkg/domain"
)

const testUser = "tester"

// newTestService builds a registry service over an in-memory blob store and
// catalog with the base already initialized.
func newTestService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	store := blob.NewMemory()
	svc := NewService(
		snapshot.New(store),
		lock.NewManager(store, testUser),
		catalog.NewMemoryStore(catalog.DefaultRulesEngine()),
		opts...,
	)
	if err := svc.Create(context.Background(), testUser); err != nil {
		t.Fatalf("create registry: %v", err)
	}
	return svc
}

func stateDimension() domain.DimensionConfig {
	return domain.DimensionConfig{
		Name: "US States",
		Type: domain.DimensionGeography,
		Records: []domain.DimensionRecord{
			{ID: "CA", Name: "California"},
			{ID: "NY", Name: "New York"},
		},
	}
}

func countyDimension() domain.DimensionConfig {
	return domain.DimensionConfig{
		Name: "US Counties",
		Type: domain.DimensionGeography,
		Records: []domain.DimensionRecord{
			{ID: "06037", Name: "Los Angeles County", Attributes: map[string]string{"state": "CA"}},
			{ID: "36047", Name: "Kings County", Attributes: map[string]string{"state": "NY"}},
		},
	}
}

func sectorDimension() domain.DimensionConfig {
	return domain.DimensionConfig{
		Name: "Sectors",
		Type: domain.DimensionSector,
		Records: []domain.DimensionRecord{
			{ID: "com", Name: "Commercial"},
			{ID: "res", Name: "Residential"},
		},
	}
}

func hourlyTimeDimension() domain.DimensionConfig {
	return domain.DimensionConfig{
		Name: "Hourly 2018",
		Type: domain.DimensionTime,
		Time: &domain.TimeParams{
			Type: domain.TimeTypeDateTime,
			DateTime: &domain.DateTimeParams{
				Format:    "2006-01-02 15:04:05",
				Frequency: "1h",
				Ranges:    []domain.TimeRange{{Start: "2018-01-01 00:00:00", End: "2018-12-31 23:00:00"}},
				Timezone:  "EST",
			},
		},
	}
}

// registerCoreDimensions registers the four fixture dimensions and returns
// their registrations keyed by normalized name.
func registerCoreDimensions(t *testing.T, svc *Service) map[string]DimensionRegistration {
	t.Helper()
	regs, err := svc.Dimensions().Register(context.Background(), []domain.DimensionConfig{
		stateDimension(), countyDimension(), sectorDimension(), hourlyTimeDimension(),
	}, testUser, "register core dimensions")
	if err != nil {
		t.Fatalf("register dimensions: %v", err)
	}
	byName := make(map[string]DimensionRegistration, len(regs))
	for _, reg := range regs {
		byName[domain.MakeID(reg.Name)] = reg
	}
	return byName
}

// registerCountyStateMapping registers the fixture mapping from counties onto
// states.
func registerCountyStateMapping(t *testing.T, svc *Service) MappingRegistration {
	t.Helper()
	reg, err := svc.Mappings().Register(context.Background(), countyStateMapping(), testUser, "register county to state mapping")
	if err != nil {
		t.Fatalf("register mapping: %v", err)
	}
	return reg
}

func countyStateMapping() domain.DimensionMappingConfig {
	return domain.DimensionMappingConfig{
		Name:          "Counties to States",
		FromDimension: domain.DimensionReference{Type: domain.DimensionGeography, Name: "US Counties"},
		ToDimension:   domain.DimensionReference{Type: domain.DimensionGeography, Name: "US States"},
		Records: []domain.MappingRecord{
			{FromID: "06037", ToID: "CA"},
			{FromID: "36047", ToID: "NY"},
		},
	}
}

// stockProject declares two datasets against state, sector, and time base
// dimensions.
func stockProject() domain.ProjectConfig {
	return domain.ProjectConfig{
		ProjectID: "stock_models",
		Name:      "Stock Models",
		Datasets: []domain.DatasetDeclaration{
			{DatasetID: "comstock"},
			{DatasetID: "resstock"},
		},
		Dimensions: domain.ProjectDimensions{
			Base: []domain.DimensionReference{
				{Type: domain.DimensionGeography, Name: "US States"},
				{Type: domain.DimensionSector, Name: "Sectors"},
				{Type: domain.DimensionTime, Name: "Hourly 2018"},
			},
		},
		DimensionMappings: []domain.DimensionMappingReference{
			{FromType: domain.DimensionGeography, ToType: domain.DimensionGeography},
		},
	}
}

// registerStockProject registers the fixture project after its dimensions and
// mapping.
func registerStockProject(t *testing.T, svc *Service) Registration {
	t.Helper()
	registerCoreDimensions(t, svc)
	registerCountyStateMapping(t, svc)
	reg, err := svc.Projects().Register(context.Background(), stockProject(), testUser, "register stock project")
	if err != nil {
		t.Fatalf("register project: %v", err)
	}
	return reg
}

// comstockDataset references county geography, so submission needs the county
// to state mapping.
func comstockDataset() domain.DatasetConfig {
	return domain.DatasetConfig{
		DatasetID: "comstock",
		Dimensions: []domain.DimensionReference{
			{Type: domain.DimensionGeography, Name: "US Counties"},
			{Type: domain.DimensionSector, Name: "Sectors"},
			{Type: domain.DimensionTime, Name: "Hourly 2018"},
		},
	}
}

// resstockDataset matches the project base dimensions exactly.
func resstockDataset() domain.DatasetConfig {
	return domain.DatasetConfig{
		DatasetID: "resstock",
		Dimensions: []domain.DimensionReference{
			{Type: domain.DimensionGeography, Name: "US States"},
			{Type: domain.DimensionSector, Name: "Sectors"},
			{Type: domain.DimensionTime, Name: "Hourly 2018"},
		},
	}
}

func geographyMappingRef() []domain.DimensionMappingReference {
	return []domain.DimensionMappingReference{
		{FromType: domain.DimensionGeography, ToType: domain.DimensionGeography},
	}
}

// writeTempFile writes content under the test temp dir and returns its path.
func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}
