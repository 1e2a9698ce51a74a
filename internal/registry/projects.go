package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"gridreg/pkg/domain"
)

// Registration summarizes one successful registry write: the entity id acted
// on and the snapshot version it now stands at.
type Registration struct {
	ID      string
	Version domain.Version
}

// ProjectManager implements project lifecycle operations: registration,
// config updates, dataset submission, publication, deprecation, and removal.
type ProjectManager struct {
	svc *Service
}

// Register creates a new project at version 1.0.0 with status
// initial_registration and every declared dataset slot unregistered. All
// dimension and mapping references in the config are resolved and pinned
// before anything is written.
func (m *ProjectManager) Register(ctx context.Context, cfg domain.ProjectConfig, submitter, logMessage string) (Registration, error) {
	svc := m.svc
	if submitter == "" {
		submitter = svc.locks.Username()
	}
	var reg Registration
	err := svc.run(ctx, opRegisterProject, submitter, func(ctx context.Context) (string, error) {
		if err := cfg.Validate(); err != nil {
			return cfg.ProjectID, err
		}
		if err := requireLogMessage(opRegisterProject, logMessage); err != nil {
			return cfg.ProjectID, err
		}
		err := svc.withLocks(ctx, func(ctx context.Context) error {
			exists, err := svc.snapshots.HasEntity(ctx, domain.EntityProject, cfg.ProjectID)
			if err != nil {
				return err
			}
			if exists {
				return domain.ErrAlreadyExists{Entity: domain.EntityProject, ID: cfg.ProjectID}
			}
			resolved, err := resolver{svc: svc}.resolveProjectReferences(ctx, cfg)
			if err != nil {
				return err
			}
			now := svc.clock.Now()
			version := domain.InitialVersion()
			header := domain.ProjectHeader{
				Header: domain.Header{ID: cfg.ProjectID, Kind: domain.EntityProject},
				Status: domain.StatusInitialRegistration,
			}
			if err := header.Append(domain.RegistrationRecord{Version: version, Submitter: submitter, Date: now, LogMessage: logMessage}); err != nil {
				return err
			}
			header.Datasets = make([]domain.DatasetSlot, len(resolved.Datasets))
			for i, decl := range resolved.Datasets {
				header.Datasets[i] = domain.DatasetSlot{DatasetID: decl.DatasetID, Status: domain.SlotUnregistered}
			}
			if err := svc.commitCatalog(ctx, opRegisterProject, func(tx domain.Transaction) error {
				_, err := tx.PutEntry(domain.CatalogEntry{
					Kind:         domain.EntityProject,
					ID:           cfg.ProjectID,
					Name:         resolved.Name,
					Version:      version,
					Status:       header.Status,
					Submitter:    submitter,
					RegisteredAt: now,
					UpdatedAt:    now,
					Datasets:     cloneSlots(header.Datasets),
				})
				return err
			}); err != nil {
				return err
			}
			if err := svc.snapshots.WriteConfig(ctx, domain.EntityProject, cfg.ProjectID, version, resolved); err != nil {
				return err
			}
			if err := svc.snapshots.WriteHeader(ctx, domain.EntityProject, cfg.ProjectID, header); err != nil {
				return err
			}
			svc.cache.setHeader(domain.EntityProject, cfg.ProjectID, header)
			svc.cache.setConfig(domain.EntityProject, cfg.ProjectID, version, resolved)
			reg = Registration{ID: cfg.ProjectID, Version: version}
			return nil
		}, domain.EntityProject)
		return cfg.ProjectID, err
	})
	return reg, err
}

// Update registers a new version of a project's config. The bump category is
// chosen by the caller; an update that changes nothing is rejected. Changes
// to the dimensions or dimension_mappings fields invalidate every registered
// dataset slot, downgrade a complete project to in_progress, and fire the
// invalidation hook.
func (m *ProjectManager) Update(ctx context.Context, cfg domain.ProjectConfig, submitter string, updateType domain.UpdateType, logMessage string) (Registration, error) {
	svc := m.svc
	if submitter == "" {
		submitter = svc.locks.Username()
	}
	var reg Registration
	cascaded := false
	err := svc.run(ctx, opUpdateProject, submitter, func(ctx context.Context) (string, error) {
		if err := cfg.Validate(); err != nil {
			return cfg.ProjectID, err
		}
		if err := requireLogMessage(opUpdateProject, logMessage); err != nil {
			return cfg.ProjectID, err
		}
		if _, err := domain.ParseUpdateType(string(updateType)); err != nil {
			return cfg.ProjectID, err
		}
		err := svc.withLocks(ctx, func(ctx context.Context) error {
			header, err := svc.projectHeader(ctx, cfg.ProjectID)
			if err != nil {
				return err
			}
			if !header.Status.AllowsUpdate() {
				return domain.ErrInvalidRegistryState{
					Reason: fmt.Sprintf("project %s is %s and frozen; updates require an open status", cfg.ProjectID, header.Status),
				}
			}
			current, err := svc.projectConfig(ctx, cfg.ProjectID, header.Version)
			if err != nil {
				return err
			}
			resolved, err := resolver{svc: svc}.resolveProjectReferences(ctx, cfg)
			if err != nil {
				return err
			}
			preview, err := previewUpdate(current, resolved)
			if err != nil {
				return err
			}
			if len(preview.ChangedFields) == 0 {
				return domain.ErrInvalidOperation{
					Operation: opUpdateProject,
					Reason:    fmt.Sprintf("config is identical to version %s", header.Version),
				}
			}
			next, err := header.Version.Bump(updateType)
			if err != nil {
				return err
			}
			header = cloneProjectHeader(header)
			if slices.Contains(preview.ChangedFields, "datasets") {
				header.Datasets = reconcileSlots(header.Datasets, resolved.Datasets)
			}
			if preview.Cascades {
				header.ResetSlots()
			}
			if header.Status == domain.StatusComplete && !header.AllRegistered() {
				header.Status = domain.StatusInProgress
			}
			now := svc.clock.Now()
			if err := header.Append(domain.RegistrationRecord{Version: next, Submitter: submitter, Date: now, LogMessage: logMessage}); err != nil {
				return err
			}
			if err := svc.commitCatalog(ctx, opUpdateProject, func(tx domain.Transaction) error {
				_, err := tx.UpdateEntry(domain.EntityProject, cfg.ProjectID, func(e *domain.CatalogEntry) error {
					e.Name = resolved.Name
					e.Version = next
					e.Status = header.Status
					e.Submitter = submitter
					e.Datasets = cloneSlots(header.Datasets)
					return nil
				})
				return err
			}); err != nil {
				return err
			}
			if err := svc.snapshots.WriteConfig(ctx, domain.EntityProject, cfg.ProjectID, next, resolved); err != nil {
				return err
			}
			if err := svc.snapshots.WriteHeader(ctx, domain.EntityProject, cfg.ProjectID, header); err != nil {
				return err
			}
			svc.cache.setHeader(domain.EntityProject, cfg.ProjectID, header)
			svc.cache.setConfig(domain.EntityProject, cfg.ProjectID, next, resolved)
			cascaded = preview.Cascades
			reg = Registration{ID: cfg.ProjectID, Version: next}
			return nil
		}, domain.EntityProject)
		return cfg.ProjectID, err
	})
	if err == nil && cascaded {
		svc.notifyInvalidation(cfg.ProjectID)
	}
	return reg, err
}

// PreviewUpdate reports what an update with the given config would change
// without writing anything: the changed top-level fields, whether registered
// dataset slots would be invalidated, and a line diff of the two documents.
func (m *ProjectManager) PreviewUpdate(ctx context.Context, cfg domain.ProjectConfig) (UpdatePreview, error) {
	svc := m.svc
	if err := cfg.Validate(); err != nil {
		return UpdatePreview{}, err
	}
	header, err := svc.projectHeader(ctx, cfg.ProjectID)
	if err != nil {
		return UpdatePreview{}, err
	}
	current, err := svc.projectConfig(ctx, cfg.ProjectID, header.Version)
	if err != nil {
		return UpdatePreview{}, err
	}
	resolved, err := resolver{svc: svc}.resolveProjectReferences(ctx, cfg)
	if err != nil {
		return UpdatePreview{}, err
	}
	return previewUpdate(current, resolved)
}

// SubmitDataset submits a dataset to one of a project's declared slots. The
// dataset entity is created at version 1.0.0 when the registry does not hold
// it yet; an existing dataset is pinned at its latest version. The slot flips
// to registered and the project status advances to in_progress, or complete
// when this was the last open slot. Submission never bumps the project's
// config version.
func (m *ProjectManager) SubmitDataset(ctx context.Context, projectID string, cfg domain.DatasetConfig, mappingRefs []domain.DimensionMappingReference, submitter, logMessage string) (Registration, error) {
	svc := m.svc
	if submitter == "" {
		submitter = svc.locks.Username()
	}
	var reg Registration
	err := svc.run(ctx, opSubmitDataset, submitter, func(ctx context.Context) (string, error) {
		if err := cfg.Validate(); err != nil {
			return cfg.DatasetID, err
		}
		if err := requireLogMessage(opSubmitDataset, logMessage); err != nil {
			return cfg.DatasetID, err
		}
		err := svc.withLocks(ctx, func(ctx context.Context) error {
			header, err := svc.projectHeader(ctx, projectID)
			if err != nil {
				return err
			}
			if !header.Status.AllowsUpdate() {
				return domain.ErrInvalidRegistryState{
					Reason: fmt.Sprintf("project %s is %s and frozen; submissions require an open status", projectID, header.Status),
				}
			}
			header = cloneProjectHeader(header)
			slot := header.Slot(cfg.DatasetID)
			if slot == nil {
				return domain.ErrDatasetNotExpected{ProjectID: projectID, DatasetID: cfg.DatasetID}
			}
			if slot.Status == domain.SlotRegistered {
				return domain.ErrAlreadySubmitted{ProjectID: projectID, DatasetID: cfg.DatasetID}
			}
			projectCfg, err := svc.projectConfig(ctx, projectID, header.Version)
			if err != nil {
				return err
			}
			res := resolver{svc: svc}
			resolved, err := res.resolveDatasetReferences(ctx, cfg)
			if err != nil {
				return err
			}
			pinnedMappings, _, err := res.mappings(ctx, mappingRefs)
			if err != nil {
				return err
			}
			if err := res.projectDatasetCompatibility(projectCfg, resolved, pinnedMappings); err != nil {
				return err
			}
			exists, err := svc.snapshots.HasEntity(ctx, domain.EntityDataset, cfg.DatasetID)
			if err != nil {
				return err
			}
			now := svc.clock.Now()
			var datasetVersion domain.Version
			var datasetHeader domain.Header
			var files []dataFile
			if exists {
				datasetHeader, err = svc.entityHeader(ctx, domain.EntityDataset, cfg.DatasetID)
				if err != nil {
					return err
				}
				datasetVersion = datasetHeader.Version
			} else {
				files, err = checkDataFiles(resolved.DataFiles)
				if err != nil {
					return err
				}
				datasetVersion = domain.InitialVersion()
				datasetHeader = domain.Header{ID: cfg.DatasetID, Kind: domain.EntityDataset}
				if err := datasetHeader.Append(domain.RegistrationRecord{Version: datasetVersion, Submitter: submitter, Date: now, LogMessage: logMessage}); err != nil {
					return err
				}
			}
			slot.Status = domain.SlotRegistered
			slot.Version = &datasetVersion
			if header.AllRegistered() {
				header.Status = domain.StatusComplete
			} else {
				header.Status = domain.StatusInProgress
			}
			if err := svc.commitCatalog(ctx, opSubmitDataset, func(tx domain.Transaction) error {
				if !exists {
					if _, err := tx.PutEntry(domain.CatalogEntry{
						Kind:         domain.EntityDataset,
						ID:           cfg.DatasetID,
						Name:         cfg.DatasetID,
						Version:      datasetVersion,
						Submitter:    submitter,
						RegisteredAt: now,
						UpdatedAt:    now,
					}); err != nil {
						return err
					}
				}
				_, err := tx.UpdateEntry(domain.EntityProject, projectID, func(e *domain.CatalogEntry) error {
					e.Status = header.Status
					e.Datasets = cloneSlots(header.Datasets)
					return nil
				})
				return err
			}); err != nil {
				return err
			}
			if !exists {
				stored := resolved
				stored.DataFiles, err = copyDataFiles(ctx, svc, cfg.DatasetID, datasetVersion, files)
				if err != nil {
					return err
				}
				if err := svc.snapshots.WriteConfig(ctx, domain.EntityDataset, cfg.DatasetID, datasetVersion, stored); err != nil {
					return err
				}
				if err := svc.snapshots.WriteHeader(ctx, domain.EntityDataset, cfg.DatasetID, datasetHeader); err != nil {
					return err
				}
				svc.cache.setHeader(domain.EntityDataset, cfg.DatasetID, datasetHeader)
				svc.cache.setConfig(domain.EntityDataset, cfg.DatasetID, datasetVersion, stored)
			}
			if err := svc.snapshots.WriteHeader(ctx, domain.EntityProject, projectID, header); err != nil {
				return err
			}
			svc.cache.setHeader(domain.EntityProject, projectID, header)
			reg = Registration{ID: cfg.DatasetID, Version: datasetVersion}
			return nil
		}, domain.EntityProject, domain.EntityDataset)
		return cfg.DatasetID, err
	})
	return reg, err
}

// Publish freezes a complete project. Published projects accept no further
// updates, submissions, or deprecation.
func (m *ProjectManager) Publish(ctx context.Context, projectID, submitter string) error {
	svc := m.svc
	if submitter == "" {
		submitter = svc.locks.Username()
	}
	return svc.run(ctx, opPublishProject, submitter, func(ctx context.Context) (string, error) {
		err := svc.withLocks(ctx, func(ctx context.Context) error {
			header, err := svc.projectHeader(ctx, projectID)
			if err != nil {
				return err
			}
			if header.Status != domain.StatusComplete {
				return domain.ErrInvalidRegistryState{
					Reason: fmt.Sprintf("project %s is %s; only complete projects can be published", projectID, header.Status),
				}
			}
			header = cloneProjectHeader(header)
			header.Status = domain.StatusPublished
			return m.writeStatus(ctx, opPublishProject, projectID, header)
		}, domain.EntityProject)
		return projectID, err
	})
}

// Deprecate retires a project that was never published. The project keeps its
// snapshots for reference but accepts no further writes.
func (m *ProjectManager) Deprecate(ctx context.Context, projectID, submitter string) error {
	svc := m.svc
	if submitter == "" {
		submitter = svc.locks.Username()
	}
	return svc.run(ctx, opDeprecateProject, submitter, func(ctx context.Context) (string, error) {
		err := svc.withLocks(ctx, func(ctx context.Context) error {
			header, err := svc.projectHeader(ctx, projectID)
			if err != nil {
				return err
			}
			if !header.Status.AllowsUpdate() {
				return domain.ErrInvalidRegistryState{
					Reason: fmt.Sprintf("project %s is %s and cannot be deprecated", projectID, header.Status),
				}
			}
			header = cloneProjectHeader(header)
			header.Status = domain.StatusDeprecated
			return m.writeStatus(ctx, opDeprecateProject, projectID, header)
		}, domain.EntityProject)
		return projectID, err
	})
}

// writeStatus commits a status-only header change: catalog first, then the
// header, then the cache.
func (m *ProjectManager) writeStatus(ctx context.Context, operation, projectID string, header domain.ProjectHeader) error {
	svc := m.svc
	if err := svc.commitCatalog(ctx, operation, func(tx domain.Transaction) error {
		_, err := tx.UpdateEntry(domain.EntityProject, projectID, func(e *domain.CatalogEntry) error {
			e.Status = header.Status
			return nil
		})
		return err
	}); err != nil {
		return err
	}
	if err := svc.snapshots.WriteHeader(ctx, domain.EntityProject, projectID, header); err != nil {
		return err
	}
	svc.cache.setHeader(domain.EntityProject, projectID, header)
	return nil
}

// Remove deletes every snapshot version of a project along with its header
// and catalog entry. Dimensions and datasets it references are untouched.
func (m *ProjectManager) Remove(ctx context.Context, projectID string) error {
	svc := m.svc
	return svc.run(ctx, opRemoveProject, svc.locks.Username(), func(ctx context.Context) (string, error) {
		err := svc.withLocks(ctx, func(ctx context.Context) error {
			if _, err := svc.projectHeader(ctx, projectID); err != nil {
				return err
			}
			var errs []error
			if _, err := svc.snapshots.DeleteEntity(ctx, domain.EntityProject, projectID); err != nil {
				errs = append(errs, err)
			}
			if err := svc.commitCatalog(ctx, opRemoveProject, func(tx domain.Transaction) error {
				return tolerateMissing(tx.DeleteEntry(domain.EntityProject, projectID))
			}); err != nil {
				errs = append(errs, err)
			}
			svc.cache.invalidate(domain.EntityProject, projectID)
			return errors.Join(errs...)
		}, domain.EntityProject)
		return projectID, err
	})
}

// Get returns the stored config of one project version.
func (m *ProjectManager) Get(ctx context.Context, id string, v domain.Version) (domain.ProjectConfig, error) {
	return m.svc.projectConfig(ctx, id, v)
}

// GetLatest returns the latest config and the version it stands at.
func (m *ProjectManager) GetLatest(ctx context.Context, id string) (domain.ProjectConfig, domain.Version, error) {
	header, err := m.svc.projectHeader(ctx, id)
	if err != nil {
		return domain.ProjectConfig{}, domain.Version{}, err
	}
	cfg, err := m.svc.projectConfig(ctx, id, header.Version)
	if err != nil {
		return domain.ProjectConfig{}, domain.Version{}, err
	}
	return cfg, header.Version, nil
}

// Header returns the mutable project header with status and slot state.
func (m *ProjectManager) Header(ctx context.Context, id string) (domain.ProjectHeader, error) {
	return m.svc.projectHeader(ctx, id)
}

// History returns the project's registration records in ascending version
// order.
func (m *ProjectManager) History(ctx context.Context, id string) ([]domain.RegistrationRecord, error) {
	header, err := m.svc.projectHeader(ctx, id)
	if err != nil {
		return nil, err
	}
	return header.Registrations, nil
}

// List returns the catalog rows of all projects.
func (m *ProjectManager) List() []domain.CatalogEntry {
	return m.svc.catalog.ListEntries(domain.EntityProject)
}

// ListIDs returns all project ids present in the snapshot layout.
func (m *ProjectManager) ListIDs(ctx context.Context) ([]string, error) {
	return m.svc.snapshots.ListIDs(ctx, domain.EntityProject)
}

// reconcileSlots rebuilds the slot list for an updated dataset declaration,
// keeping the registration state of retained datasets and starting added ones
// unregistered. Removed datasets drop their slots.
func reconcileSlots(old []domain.DatasetSlot, decls []domain.DatasetDeclaration) []domain.DatasetSlot {
	prior := make(map[string]domain.DatasetSlot, len(old))
	for _, slot := range old {
		prior[slot.DatasetID] = slot
	}
	slots := make([]domain.DatasetSlot, len(decls))
	for i, decl := range decls {
		if kept, ok := prior[decl.DatasetID]; ok {
			slots[i] = kept
			continue
		}
		slots[i] = domain.DatasetSlot{DatasetID: decl.DatasetID, Status: domain.SlotUnregistered}
	}
	return slots
}

func cloneSlots(slots []domain.DatasetSlot) []domain.DatasetSlot {
	if slots == nil {
		return nil
	}
	out := make([]domain.DatasetSlot, len(slots))
	copy(out, slots)
	return out
}

// cloneProjectHeader copies a header before mutation so cached copies stay
// untouched when a write fails partway.
func cloneProjectHeader(h domain.ProjectHeader) domain.ProjectHeader {
	h.Registrations = append([]domain.RegistrationRecord(nil), h.Registrations...)
	h.Datasets = cloneSlots(h.Datasets)
	return h
}

// tolerateMissing swallows not-found errors from catalog deletes so removal
// still succeeds when the catalog had drifted behind the snapshots.
func tolerateMissing(err error) error {
	var notFound domain.ErrNotFound
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}
