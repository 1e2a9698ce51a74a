package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"gridreg/pkg/domain"
)

// MappingRegistration reports the outcome of registering one dimension
// mapping.
type MappingRegistration struct {
	Name      string
	ID        string
	Version   domain.Version
	Duplicate bool
}

// MappingManager implements dimension mapping registration, upgrade, and
// lookup. Mappings pin both endpoint dimensions at exact versions and are
// deduplicated on (name, content hash) like dimensions.
type MappingManager struct {
	svc *Service
}

// Register registers one mapping. Both endpoint references are resolved and
// pinned first; every record endpoint id must exist in the pinned dimension's
// record table. Resubmitting identical content is a no-op duplicate.
func (m *MappingManager) Register(ctx context.Context, cfg domain.DimensionMappingConfig, submitter, logMessage string) (MappingRegistration, error) {
	svc := m.svc
	if submitter == "" {
		submitter = svc.locks.Username()
	}
	var result MappingRegistration
	entityID := domain.MakeID(cfg.DisplayName())
	err := svc.run(ctx, opRegisterMapping, submitter, func(ctx context.Context) (string, error) {
		if err := requireLogMessage(opRegisterMapping, logMessage); err != nil {
			return entityID, err
		}
		err := svc.withLocks(ctx, func(ctx context.Context) error {
			prepared, base, hash, err := m.prepare(ctx, cfg)
			if err != nil {
				return err
			}
			if existing, ok := m.findByName(base); ok {
				if existing.ContentHash != hash {
					return domain.ErrAlreadyRegistered{Entity: domain.EntityDimensionMapping, ID: existing.ID, Name: prepared.Name}
				}
				entityID = existing.ID
				result = MappingRegistration{Name: prepared.Name, ID: existing.ID, Version: existing.Version, Duplicate: true}
				return nil
			}
			prepared.ID = base + domain.IDDelimiter + uuid.NewString()
			entityID = prepared.ID
			now := svc.clock.Now()
			header := domain.Header{ID: prepared.ID, Kind: domain.EntityDimensionMapping}
			if err := header.Append(domain.RegistrationRecord{Version: domain.InitialVersion(), Submitter: submitter, Date: now, LogMessage: logMessage}); err != nil {
				return err
			}
			if err := svc.commitCatalog(ctx, opRegisterMapping, func(tx domain.Transaction) error {
				_, err := tx.PutEntry(domain.CatalogEntry{
					Kind:         domain.EntityDimensionMapping,
					ID:           prepared.ID,
					Name:         prepared.Name,
					Version:      header.Version,
					Submitter:    submitter,
					RegisteredAt: now,
					UpdatedAt:    now,
					ContentHash:  hash,
				})
				return err
			}); err != nil {
				return err
			}
			if err := m.writeSnapshot(ctx, prepared, header); err != nil {
				return err
			}
			result = MappingRegistration{Name: prepared.Name, ID: prepared.ID, Version: header.Version}
			return nil
		}, domain.EntityDimensionMapping)
		return entityID, err
	})
	return result, err
}

// Upgrade registers changed content for an existing mapping as a new major
// version. The config is matched by display name; identical content is
// rejected, as is reusing any previous log message.
func (m *MappingManager) Upgrade(ctx context.Context, cfg domain.DimensionMappingConfig, submitter, logMessage string) (MappingRegistration, error) {
	svc := m.svc
	if submitter == "" {
		submitter = svc.locks.Username()
	}
	var result MappingRegistration
	entityID := domain.MakeID(cfg.DisplayName())
	err := svc.run(ctx, opUpgradeMapping, submitter, func(ctx context.Context) (string, error) {
		if err := requireLogMessage(opUpgradeMapping, logMessage); err != nil {
			return entityID, err
		}
		err := svc.withLocks(ctx, func(ctx context.Context) error {
			prepared, base, hash, err := m.prepare(ctx, cfg)
			if err != nil {
				return err
			}
			existing, ok := m.findByName(base)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityDimensionMapping, ID: base}
			}
			entityID = existing.ID
			if hash == existing.ContentHash {
				return domain.ErrInvalidOperation{
					Operation: opUpgradeMapping,
					Reason:    fmt.Sprintf("mapping %s content is identical to version %s", existing.ID, existing.Version),
				}
			}
			header, err := svc.entityHeader(ctx, domain.EntityDimensionMapping, existing.ID)
			if err != nil {
				return err
			}
			for _, rec := range header.Registrations {
				if rec.LogMessage == logMessage {
					return domain.ErrDuplicateLogMessage{Entity: domain.EntityDimensionMapping, ID: existing.ID, LogMessage: logMessage}
				}
			}
			next, err := header.Version.Bump(domain.UpdateTypeMajor)
			if err != nil {
				return err
			}
			header = cloneHeader(header)
			now := svc.clock.Now()
			if err := header.Append(domain.RegistrationRecord{Version: next, Submitter: submitter, Date: now, LogMessage: logMessage}); err != nil {
				return err
			}
			prepared.ID = existing.ID
			if err := svc.commitCatalog(ctx, opUpgradeMapping, func(tx domain.Transaction) error {
				_, err := tx.UpdateEntry(domain.EntityDimensionMapping, existing.ID, func(e *domain.CatalogEntry) error {
					e.Name = prepared.Name
					e.Version = next
					e.Submitter = submitter
					e.ContentHash = hash
					return nil
				})
				return err
			}); err != nil {
				return err
			}
			if err := m.writeSnapshot(ctx, prepared, header); err != nil {
				return err
			}
			result = MappingRegistration{Name: prepared.Name, ID: existing.ID, Version: next}
			return nil
		}, domain.EntityDimensionMapping)
		return entityID, err
	})
	return result, err
}

// Remove deletes a mapping's snapshots and catalog entry. Project references
// to it are weak and will fail re-resolution afterwards.
func (m *MappingManager) Remove(ctx context.Context, id string) error {
	svc := m.svc
	return svc.run(ctx, opRemoveMapping, svc.locks.Username(), func(ctx context.Context) (string, error) {
		err := svc.withLocks(ctx, func(ctx context.Context) error {
			if _, err := svc.entityHeader(ctx, domain.EntityDimensionMapping, id); err != nil {
				return err
			}
			var errs []error
			if _, err := svc.snapshots.DeleteEntity(ctx, domain.EntityDimensionMapping, id); err != nil {
				errs = append(errs, err)
			}
			if err := svc.commitCatalog(ctx, opRemoveMapping, func(tx domain.Transaction) error {
				return tolerateMissing(tx.DeleteEntry(domain.EntityDimensionMapping, id))
			}); err != nil {
				errs = append(errs, err)
			}
			svc.cache.invalidate(domain.EntityDimensionMapping, id)
			return errors.Join(errs...)
		}, domain.EntityDimensionMapping)
		return id, err
	})
}

// Get returns the stored config of one mapping version.
func (m *MappingManager) Get(ctx context.Context, id string, v domain.Version) (domain.DimensionMappingConfig, error) {
	return m.svc.mappingConfig(ctx, id, v)
}

// GetLatest returns the latest config and the version it stands at.
func (m *MappingManager) GetLatest(ctx context.Context, id string) (domain.DimensionMappingConfig, domain.Version, error) {
	header, err := m.svc.entityHeader(ctx, domain.EntityDimensionMapping, id)
	if err != nil {
		return domain.DimensionMappingConfig{}, domain.Version{}, err
	}
	cfg, err := m.svc.mappingConfig(ctx, id, header.Version)
	if err != nil {
		return domain.DimensionMappingConfig{}, domain.Version{}, err
	}
	return cfg, header.Version, nil
}

// Records returns the record table of one mapping version.
func (m *MappingManager) Records(ctx context.Context, id string, v domain.Version) ([]domain.MappingRecord, error) {
	cfg, err := m.svc.mappingConfig(ctx, id, v)
	if err != nil {
		return nil, err
	}
	return cfg.Records, nil
}

// Header returns the mapping's registry header.
func (m *MappingManager) Header(ctx context.Context, id string) (domain.Header, error) {
	return m.svc.entityHeader(ctx, domain.EntityDimensionMapping, id)
}

// History returns the mapping's registration records in ascending version
// order.
func (m *MappingManager) History(ctx context.Context, id string) ([]domain.RegistrationRecord, error) {
	header, err := m.svc.entityHeader(ctx, domain.EntityDimensionMapping, id)
	if err != nil {
		return nil, err
	}
	return header.Registrations, nil
}

// List returns the catalog rows of all mappings.
func (m *MappingManager) List() []domain.CatalogEntry {
	return m.svc.catalog.ListEntries(domain.EntityDimensionMapping)
}

// ListIDs returns all mapping ids present in the snapshot layout.
func (m *MappingManager) ListIDs(ctx context.Context) ([]string, error) {
	return m.svc.snapshots.ListIDs(ctx, domain.EntityDimensionMapping)
}

// prepare normalizes a submitted mapping config for registration: records
// are loaded from file, both endpoints are resolved and pinned, the display
// name is fixed into the document, and record endpoints are checked against
// the pinned dimensions. Returns the prepared config, its normalized name,
// and its content hash.
func (m *MappingManager) prepare(ctx context.Context, cfg domain.DimensionMappingConfig) (domain.DimensionMappingConfig, string, string, error) {
	normalized, err := normalizeMappingConfig(cfg)
	if err != nil {
		return domain.DimensionMappingConfig{}, "", "", err
	}
	res := resolver{svc: m.svc}
	from, err := res.dimension(ctx, normalized.FromDimension)
	if err != nil {
		return domain.DimensionMappingConfig{}, "", "", fmt.Errorf("mapping from dimension: %w", err)
	}
	to, err := res.dimension(ctx, normalized.ToDimension)
	if err != nil {
		return domain.DimensionMappingConfig{}, "", "", fmt.Errorf("mapping to dimension: %w", err)
	}
	normalized.FromDimension = from
	normalized.ToDimension = to
	if err := normalized.Validate(); err != nil {
		return domain.DimensionMappingConfig{}, "", "", err
	}
	if err := m.checkMappingRecords(ctx, normalized); err != nil {
		return domain.DimensionMappingConfig{}, "", "", err
	}
	normalized.Name = normalized.DisplayName()
	base := domain.MakeID(normalized.Name)
	if err := domain.CheckIDSyntax(domain.EntityDimensionMapping, base); err != nil {
		return domain.DimensionMappingConfig{}, "", "", err
	}
	hash, err := domain.ContentHash(normalized.HashPayload())
	if err != nil {
		return domain.DimensionMappingConfig{}, "", "", err
	}
	return normalized, base, hash, nil
}

// checkMappingRecords verifies every record endpoint id exists in the record
// table of the pinned dimension on that side. Dimensions without records,
// such as time dimensions, skip the check.
func (m *MappingManager) checkMappingRecords(ctx context.Context, cfg domain.DimensionMappingConfig) error {
	if len(cfg.Records) == 0 {
		return nil
	}
	fromIDs, err := m.recordIDs(ctx, cfg.FromDimension)
	if err != nil {
		return err
	}
	toIDs, err := m.recordIDs(ctx, cfg.ToDimension)
	if err != nil {
		return err
	}
	for _, rec := range cfg.Records {
		if fromIDs != nil && !fromIDs[rec.FromID] {
			return fmt.Errorf("mapping %s references unknown %s record %s", cfg.DisplayName(), cfg.FromDimension.Type, rec.FromID)
		}
		if toIDs != nil && !toIDs[rec.ToID] {
			return fmt.Errorf("mapping %s references unknown %s record %s", cfg.DisplayName(), cfg.ToDimension.Type, rec.ToID)
		}
	}
	return nil
}

func (m *MappingManager) recordIDs(ctx context.Context, ref domain.DimensionReference) (map[string]bool, error) {
	cfg, err := m.svc.dimensionConfig(ctx, ref.ID, *ref.Version)
	if err != nil {
		return nil, err
	}
	if len(cfg.Records) == 0 {
		return nil, nil
	}
	ids := make(map[string]bool, len(cfg.Records))
	for _, rec := range cfg.Records {
		ids[rec.ID] = true
	}
	return ids, nil
}

// findByName returns the catalog entry matching a normalized mapping name.
func (m *MappingManager) findByName(base string) (domain.CatalogEntry, bool) {
	for _, entry := range m.svc.catalog.ListEntries(domain.EntityDimensionMapping) {
		if domain.MakeID(entry.Name) == base {
			return entry, true
		}
	}
	return domain.CatalogEntry{}, false
}

// writeSnapshot writes one mapping version: the config document, the record
// table when records are present, and the header.
func (m *MappingManager) writeSnapshot(ctx context.Context, cfg domain.DimensionMappingConfig, header domain.Header) error {
	svc := m.svc
	if err := svc.snapshots.WriteConfig(ctx, domain.EntityDimensionMapping, cfg.ID, header.Version, cfg); err != nil {
		return err
	}
	if len(cfg.Records) > 0 {
		data, err := RenderMappingRecords(cfg.Records)
		if err != nil {
			return err
		}
		if err := svc.snapshots.WriteRecords(ctx, domain.EntityDimensionMapping, cfg.ID, header.Version, data); err != nil {
			return err
		}
	}
	if err := svc.snapshots.WriteHeader(ctx, domain.EntityDimensionMapping, cfg.ID, header); err != nil {
		return err
	}
	svc.cache.setHeader(domain.EntityDimensionMapping, cfg.ID, header)
	svc.cache.setConfig(domain.EntityDimensionMapping, cfg.ID, header.Version, cfg)
	return nil
}

// normalizeMappingConfig loads records referenced by file into the config and
// clears the file path before hashing or storage.
func normalizeMappingConfig(cfg domain.DimensionMappingConfig) (domain.DimensionMappingConfig, error) {
	if cfg.RecordFile == "" {
		return cfg, nil
	}
	if len(cfg.Records) == 0 {
		records, err := LoadMappingRecords(cfg.RecordFile)
		if err != nil {
			return domain.DimensionMappingConfig{}, fmt.Errorf("mapping %s: %w", cfg.DisplayName(), err)
		}
		cfg.Records = records
	}
	cfg.RecordFile = ""
	return cfg, nil
}
