package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gridreg/pkg/domain"
)

// DatasetManager implements dataset-level operations. Datasets enter the
// registry through project submission (ProjectManager.SubmitDataset); this
// manager covers reads, standalone config updates, and removal.
type DatasetManager struct {
	svc *Service
}

// Update registers a new version of a dataset's config. Projects holding the
// dataset keep their pinned older version; no slots are invalidated.
func (m *DatasetManager) Update(ctx context.Context, cfg domain.DatasetConfig, submitter string, updateType domain.UpdateType, logMessage string) (Registration, error) {
	svc := m.svc
	if submitter == "" {
		submitter = svc.locks.Username()
	}
	var reg Registration
	err := svc.run(ctx, opUpdateDataset, submitter, func(ctx context.Context) (string, error) {
		if err := cfg.Validate(); err != nil {
			return cfg.DatasetID, err
		}
		if err := requireLogMessage(opUpdateDataset, logMessage); err != nil {
			return cfg.DatasetID, err
		}
		if _, err := domain.ParseUpdateType(string(updateType)); err != nil {
			return cfg.DatasetID, err
		}
		err := svc.withLocks(ctx, func(ctx context.Context) error {
			header, err := svc.entityHeader(ctx, domain.EntityDataset, cfg.DatasetID)
			if err != nil {
				return err
			}
			current, err := svc.datasetConfig(ctx, cfg.DatasetID, header.Version)
			if err != nil {
				return err
			}
			resolved, err := resolver{svc: svc}.resolveDatasetReferences(ctx, cfg)
			if err != nil {
				return err
			}
			files, err := checkDataFiles(resolved.DataFiles)
			if err != nil {
				return err
			}
			// The stored doc lists file names, not submitter paths, so the
			// diff compares against the names this update would store.
			stored := resolved
			stored.DataFiles = dataFileNames(files)
			changed, err := DiffFields(current, stored)
			if err != nil {
				return err
			}
			if len(changed) == 0 {
				return domain.ErrInvalidOperation{
					Operation: opUpdateDataset,
					Reason:    fmt.Sprintf("config is identical to version %s", header.Version),
				}
			}
			next, err := header.Version.Bump(updateType)
			if err != nil {
				return err
			}
			header = cloneHeader(header)
			now := svc.clock.Now()
			if err := header.Append(domain.RegistrationRecord{Version: next, Submitter: submitter, Date: now, LogMessage: logMessage}); err != nil {
				return err
			}
			if err := svc.commitCatalog(ctx, opUpdateDataset, func(tx domain.Transaction) error {
				_, err := tx.UpdateEntry(domain.EntityDataset, cfg.DatasetID, func(e *domain.CatalogEntry) error {
					e.Version = next
					e.Submitter = submitter
					return nil
				})
				return err
			}); err != nil {
				return err
			}
			if _, err := copyDataFiles(ctx, svc, cfg.DatasetID, next, files); err != nil {
				return err
			}
			if err := svc.snapshots.WriteConfig(ctx, domain.EntityDataset, cfg.DatasetID, next, stored); err != nil {
				return err
			}
			if err := svc.snapshots.WriteHeader(ctx, domain.EntityDataset, cfg.DatasetID, header); err != nil {
				return err
			}
			svc.cache.setHeader(domain.EntityDataset, cfg.DatasetID, header)
			svc.cache.setConfig(domain.EntityDataset, cfg.DatasetID, next, stored)
			reg = Registration{ID: cfg.DatasetID, Version: next}
			return nil
		}, domain.EntityDataset)
		return cfg.DatasetID, err
	})
	return reg, err
}

// PreviewUpdate reports what an update with the given config would change
// without writing anything: the changed top-level fields and a line diff of
// the two documents. Dataset updates never cascade.
func (m *DatasetManager) PreviewUpdate(ctx context.Context, cfg domain.DatasetConfig) (UpdatePreview, error) {
	svc := m.svc
	if err := cfg.Validate(); err != nil {
		return UpdatePreview{}, err
	}
	header, err := svc.entityHeader(ctx, domain.EntityDataset, cfg.DatasetID)
	if err != nil {
		return UpdatePreview{}, err
	}
	current, err := svc.datasetConfig(ctx, cfg.DatasetID, header.Version)
	if err != nil {
		return UpdatePreview{}, err
	}
	resolved, err := resolver{svc: svc}.resolveDatasetReferences(ctx, cfg)
	if err != nil {
		return UpdatePreview{}, err
	}
	files, err := checkDataFiles(resolved.DataFiles)
	if err != nil {
		return UpdatePreview{}, err
	}
	stored := resolved
	stored.DataFiles = dataFileNames(files)
	preview, err := previewUpdate(current, stored)
	if err != nil {
		return UpdatePreview{}, err
	}
	preview.Cascades = false
	return preview, nil
}

// Remove deletes a dataset's snapshots and catalog entry, then resets the
// registered slot of every project holding it. Resets are best-effort and
// per-project: a frozen project reports an error and keeps its dangling
// slot while the others still reset. Returns the ids of projects whose slots
// were reset alongside any joined per-project errors.
func (m *DatasetManager) Remove(ctx context.Context, datasetID string) ([]string, error) {
	svc := m.svc
	var resetIDs []string
	err := svc.run(ctx, opRemoveDataset, svc.locks.Username(), func(ctx context.Context) (string, error) {
		err := svc.withLocks(ctx, func(ctx context.Context) error {
			if _, err := svc.entityHeader(ctx, domain.EntityDataset, datasetID); err != nil {
				return err
			}
			var errs []error
			if _, err := svc.snapshots.DeleteEntity(ctx, domain.EntityDataset, datasetID); err != nil {
				errs = append(errs, err)
			}
			if err := svc.commitCatalog(ctx, opRemoveDataset, func(tx domain.Transaction) error {
				return tolerateMissing(tx.DeleteEntry(domain.EntityDataset, datasetID))
			}); err != nil {
				errs = append(errs, err)
			}
			svc.cache.invalidate(domain.EntityDataset, datasetID)
			projectIDs, err := svc.snapshots.ListIDs(ctx, domain.EntityProject)
			if err != nil {
				errs = append(errs, err)
				return errors.Join(errs...)
			}
			for _, projectID := range projectIDs {
				reset, err := m.resetSlot(ctx, projectID, datasetID)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				if reset {
					resetIDs = append(resetIDs, projectID)
					svc.notifyInvalidation(projectID)
				}
			}
			return errors.Join(errs...)
		}, domain.EntityProject, domain.EntityDataset)
		return datasetID, err
	})
	return resetIDs, err
}

// resetSlot flips one project's slot for a removed dataset back to
// unregistered, downgrading a complete project to in_progress. It reports
// whether a reset happened.
func (m *DatasetManager) resetSlot(ctx context.Context, projectID, datasetID string) (bool, error) {
	svc := m.svc
	header, err := svc.projectHeader(ctx, projectID)
	if err != nil {
		return false, fmt.Errorf("project %s: %w", projectID, err)
	}
	slot := header.Slot(datasetID)
	if slot == nil || slot.Status != domain.SlotRegistered {
		return false, nil
	}
	if !header.Status.AllowsUpdate() {
		return false, domain.ErrInvalidRegistryState{
			Reason: fmt.Sprintf("project %s is %s; its slot for %s cannot be reset", projectID, header.Status, datasetID),
		}
	}
	header = cloneProjectHeader(header)
	slot = header.Slot(datasetID)
	slot.Status = domain.SlotUnregistered
	slot.Version = nil
	if header.Status == domain.StatusComplete {
		header.Status = domain.StatusInProgress
	}
	if err := svc.commitCatalog(ctx, opRemoveDataset, func(tx domain.Transaction) error {
		_, err := tx.UpdateEntry(domain.EntityProject, projectID, func(e *domain.CatalogEntry) error {
			e.Status = header.Status
			e.Datasets = cloneSlots(header.Datasets)
			return nil
		})
		return err
	}); err != nil {
		return false, fmt.Errorf("project %s: %w", projectID, err)
	}
	if err := svc.snapshots.WriteHeader(ctx, domain.EntityProject, projectID, header); err != nil {
		return false, fmt.Errorf("project %s: %w", projectID, err)
	}
	svc.cache.setHeader(domain.EntityProject, projectID, header)
	return true, nil
}

// Get returns the stored config of one dataset version.
func (m *DatasetManager) Get(ctx context.Context, id string, v domain.Version) (domain.DatasetConfig, error) {
	return m.svc.datasetConfig(ctx, id, v)
}

// GetLatest returns the latest config and the version it stands at.
func (m *DatasetManager) GetLatest(ctx context.Context, id string) (domain.DatasetConfig, domain.Version, error) {
	header, err := m.svc.entityHeader(ctx, domain.EntityDataset, id)
	if err != nil {
		return domain.DatasetConfig{}, domain.Version{}, err
	}
	cfg, err := m.svc.datasetConfig(ctx, id, header.Version)
	if err != nil {
		return domain.DatasetConfig{}, domain.Version{}, err
	}
	return cfg, header.Version, nil
}

// Header returns the dataset's registry header.
func (m *DatasetManager) Header(ctx context.Context, id string) (domain.Header, error) {
	return m.svc.entityHeader(ctx, domain.EntityDataset, id)
}

// History returns the dataset's registration records in ascending version
// order.
func (m *DatasetManager) History(ctx context.Context, id string) ([]domain.RegistrationRecord, error) {
	header, err := m.svc.entityHeader(ctx, domain.EntityDataset, id)
	if err != nil {
		return nil, err
	}
	return header.Registrations, nil
}

// List returns the catalog rows of all datasets.
func (m *DatasetManager) List() []domain.CatalogEntry {
	return m.svc.catalog.ListEntries(domain.EntityDataset)
}

// ListIDs returns all dataset ids present in the snapshot layout.
func (m *DatasetManager) ListIDs(ctx context.Context) ([]string, error) {
	return m.svc.snapshots.ListIDs(ctx, domain.EntityDataset)
}

// dataFile pairs a submitter-local path with the name it is stored under
// inside the snapshot.
type dataFile struct {
	local string
	name  string
}

// checkDataFiles verifies every submitted data file exists as a regular file
// before any durable write happens, and derives the stored names. Two files
// colliding on the same basename are rejected.
func checkDataFiles(paths []string) ([]dataFile, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	files := make([]dataFile, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("data file %s: %w", path, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("data file %s is a directory", path)
		}
		name := filepath.Base(path)
		if prev, dup := seen[name]; dup {
			return nil, fmt.Errorf("data files %s and %s collide on name %s", prev, path, name)
		}
		seen[name] = path
		files = append(files, dataFile{local: path, name: name})
	}
	return files, nil
}

// copyDataFiles streams checked data files into a snapshot version and
// returns the stored names in submission order.
func copyDataFiles(ctx context.Context, svc *Service, datasetID string, v domain.Version, files []dataFile) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}
	names := make([]string, len(files))
	for i, file := range files {
		if err := copyDataFile(ctx, svc, datasetID, v, file); err != nil {
			return nil, err
		}
		names[i] = file.name
	}
	return names, nil
}

func copyDataFile(ctx context.Context, svc *Service, datasetID string, v domain.Version, file dataFile) error {
	f, err := os.Open(file.local)
	if err != nil {
		return fmt.Errorf("data file %s: %w", file.local, err)
	}
	defer f.Close()
	return svc.snapshots.WriteDataFile(ctx, datasetID, v, file.name, f, dataFileContentType(file.name))
}

func dataFileNames(files []dataFile) []string {
	if len(files) == 0 {
		return nil
	}
	names := make([]string, len(files))
	for i, file := range files {
		names[i] = file.name
	}
	return names
}

func dataFileContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}

// cloneHeader copies a plain header before mutation so cached copies stay
// untouched when a write fails partway.
func cloneHeader(h domain.Header) domain.Header {
	h.Registrations = append([]domain.RegistrationRecord(nil), h.Registrations...)
	return h
}
