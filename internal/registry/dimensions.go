package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"gridreg/pkg/domain"
)

// DimensionRegistration reports the outcome of one config in a batch
// registration: the assigned id and version, or the id and version of the
// identical already-registered dimension when Duplicate is set.
type DimensionRegistration struct {
	Name      string
	Type      domain.DimensionType
	ID        string
	Version   domain.Version
	Duplicate bool
}

// DimensionManager implements dimension registration, upgrade, and lookup.
// Dimensions are deduplicated on (name, content hash): resubmitting identical
// content is a no-op duplicate, while changed content under a taken name
// requires an explicit upgrade.
type DimensionManager struct {
	svc *Service
}

type dimensionPlan struct {
	cfg    domain.DimensionConfig
	hash   string
	header domain.Header
	result DimensionRegistration
	fresh  bool
}

// Register registers a batch of dimension configs all-or-none: every config
// is validated, normalized, and checked against the registry before the first
// write. New dimensions get an id of the normalized name plus a uuid suffix
// and start at version 1.0.0. Outcomes are returned in input order.
func (m *DimensionManager) Register(ctx context.Context, configs []domain.DimensionConfig, submitter, logMessage string) ([]DimensionRegistration, error) {
	svc := m.svc
	if submitter == "" {
		submitter = svc.locks.Username()
	}
	bases := make([]string, len(configs))
	for i, cfg := range configs {
		bases[i] = domain.MakeID(cfg.Name)
	}
	batchID := strings.Join(bases, ",")
	var results []DimensionRegistration
	err := svc.run(ctx, opRegisterDimensions, submitter, func(ctx context.Context) (string, error) {
		if len(configs) == 0 {
			return batchID, domain.ErrInvalidOperation{Operation: opRegisterDimensions, Reason: "batch contains no dimension configs"}
		}
		if err := requireLogMessage(opRegisterDimensions, logMessage); err != nil {
			return batchID, err
		}
		err := svc.withLocks(ctx, func(ctx context.Context) error {
			now := svc.clock.Now()
			plans := make([]dimensionPlan, len(configs))
			seen := make(map[string]bool, len(configs))
			for i, cfg := range configs {
				normalized, err := normalizeDimensionConfig(cfg)
				if err != nil {
					return err
				}
				if err := normalized.Validate(); err != nil {
					return err
				}
				base := bases[i]
				if err := domain.CheckIDSyntax(domain.EntityDimension, base); err != nil {
					return err
				}
				key := string(normalized.Type) + "/" + base
				if seen[key] {
					return domain.ErrDuplicateInBatch{Entity: domain.EntityDimension, Name: normalized.Name}
				}
				seen[key] = true
				hash, err := domain.ContentHash(normalized.HashPayload())
				if err != nil {
					return err
				}
				plan := dimensionPlan{cfg: normalized, hash: hash}
				if existing, ok := m.findByName(normalized.Type, base); ok {
					if existing.ContentHash != hash {
						return domain.ErrAlreadyRegistered{Entity: domain.EntityDimension, ID: existing.ID, Name: normalized.Name}
					}
					plan.result = DimensionRegistration{Name: normalized.Name, Type: normalized.Type, ID: existing.ID, Version: existing.Version, Duplicate: true}
					plans[i] = plan
					continue
				}
				plan.fresh = true
				plan.cfg.ID = base + domain.IDDelimiter + uuid.NewString()
				plan.header = domain.Header{ID: plan.cfg.ID, Kind: domain.EntityDimension}
				if err := plan.header.Append(domain.RegistrationRecord{Version: domain.InitialVersion(), Submitter: submitter, Date: now, LogMessage: logMessage}); err != nil {
					return err
				}
				plan.result = DimensionRegistration{Name: normalized.Name, Type: normalized.Type, ID: plan.cfg.ID, Version: plan.header.Version}
				plans[i] = plan
			}
			fresh := 0
			for _, plan := range plans {
				if plan.fresh {
					fresh++
				}
			}
			if fresh > 0 {
				if err := svc.commitCatalog(ctx, opRegisterDimensions, func(tx domain.Transaction) error {
					for _, plan := range plans {
						if !plan.fresh {
							continue
						}
						if _, err := tx.PutEntry(domain.CatalogEntry{
							Kind:          domain.EntityDimension,
							ID:            plan.cfg.ID,
							Name:          plan.cfg.Name,
							DimensionType: plan.cfg.Type,
							Version:       plan.header.Version,
							Submitter:     submitter,
							RegisteredAt:  now,
							UpdatedAt:     now,
							ContentHash:   plan.hash,
						}); err != nil {
							return err
						}
					}
					return nil
				}); err != nil {
					return err
				}
				for _, plan := range plans {
					if !plan.fresh {
						continue
					}
					if err := m.writeSnapshot(ctx, plan.cfg, plan.header); err != nil {
						return err
					}
				}
			}
			results = make([]DimensionRegistration, len(plans))
			for i, plan := range plans {
				results[i] = plan.result
			}
			return nil
		}, domain.EntityDimension)
		return batchID, err
	})
	return results, err
}

// Upgrade registers changed content for an existing dimension as a new major
// version. The config is matched by normalized name and type; identical
// content is rejected, as is reusing any previous log message.
func (m *DimensionManager) Upgrade(ctx context.Context, cfg domain.DimensionConfig, submitter, logMessage string) (DimensionRegistration, error) {
	svc := m.svc
	if submitter == "" {
		submitter = svc.locks.Username()
	}
	var result DimensionRegistration
	entityID := domain.MakeID(cfg.Name)
	err := svc.run(ctx, opUpgradeDimension, submitter, func(ctx context.Context) (string, error) {
		if err := requireLogMessage(opUpgradeDimension, logMessage); err != nil {
			return entityID, err
		}
		err := svc.withLocks(ctx, func(ctx context.Context) error {
			normalized, err := normalizeDimensionConfig(cfg)
			if err != nil {
				return err
			}
			if err := normalized.Validate(); err != nil {
				return err
			}
			base := domain.MakeID(normalized.Name)
			existing, ok := m.findByName(normalized.Type, base)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityDimension, ID: base}
			}
			entityID = existing.ID
			hash, err := domain.ContentHash(normalized.HashPayload())
			if err != nil {
				return err
			}
			if hash == existing.ContentHash {
				return domain.ErrInvalidOperation{
					Operation: opUpgradeDimension,
					Reason:    fmt.Sprintf("dimension %s content is identical to version %s", existing.ID, existing.Version),
				}
			}
			header, err := svc.entityHeader(ctx, domain.EntityDimension, existing.ID)
			if err != nil {
				return err
			}
			for _, rec := range header.Registrations {
				if rec.LogMessage == logMessage {
					return domain.ErrDuplicateLogMessage{Entity: domain.EntityDimension, ID: existing.ID, LogMessage: logMessage}
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
			normalized.ID = existing.ID
			if err := svc.commitCatalog(ctx, opUpgradeDimension, func(tx domain.Transaction) error {
				_, err := tx.UpdateEntry(domain.EntityDimension, existing.ID, func(e *domain.CatalogEntry) error {
					e.Name = normalized.Name
					e.Version = next
					e.Submitter = submitter
					e.ContentHash = hash
					return nil
				})
				return err
			}); err != nil {
				return err
			}
			if err := m.writeSnapshot(ctx, normalized, header); err != nil {
				return err
			}
			result = DimensionRegistration{Name: normalized.Name, Type: normalized.Type, ID: existing.ID, Version: next}
			return nil
		}, domain.EntityDimension)
		return entityID, err
	})
	return result, err
}

// Remove deletes a dimension's snapshots and catalog entry. References from
// projects and datasets are weak: nothing cascades, but re-resolving them
// will fail afterwards.
func (m *DimensionManager) Remove(ctx context.Context, id string) error {
	svc := m.svc
	return svc.run(ctx, opRemoveDimension, svc.locks.Username(), func(ctx context.Context) (string, error) {
		err := svc.withLocks(ctx, func(ctx context.Context) error {
			if _, err := svc.entityHeader(ctx, domain.EntityDimension, id); err != nil {
				return err
			}
			var errs []error
			if _, err := svc.snapshots.DeleteEntity(ctx, domain.EntityDimension, id); err != nil {
				errs = append(errs, err)
			}
			if err := svc.commitCatalog(ctx, opRemoveDimension, func(tx domain.Transaction) error {
				return tolerateMissing(tx.DeleteEntry(domain.EntityDimension, id))
			}); err != nil {
				errs = append(errs, err)
			}
			svc.cache.invalidate(domain.EntityDimension, id)
			return errors.Join(errs...)
		}, domain.EntityDimension)
		return id, err
	})
}

// Get returns the stored config of one dimension version.
func (m *DimensionManager) Get(ctx context.Context, id string, v domain.Version) (domain.DimensionConfig, error) {
	return m.svc.dimensionConfig(ctx, id, v)
}

// GetLatest returns the latest config and the version it stands at.
func (m *DimensionManager) GetLatest(ctx context.Context, id string) (domain.DimensionConfig, domain.Version, error) {
	header, err := m.svc.entityHeader(ctx, domain.EntityDimension, id)
	if err != nil {
		return domain.DimensionConfig{}, domain.Version{}, err
	}
	cfg, err := m.svc.dimensionConfig(ctx, id, header.Version)
	if err != nil {
		return domain.DimensionConfig{}, domain.Version{}, err
	}
	return cfg, header.Version, nil
}

// GetByName resolves a dimension by display name and type and returns its
// latest config.
func (m *DimensionManager) GetByName(ctx context.Context, dimType domain.DimensionType, name string) (domain.DimensionConfig, domain.Version, error) {
	ref, err := resolver{svc: m.svc}.dimension(ctx, domain.DimensionReference{Type: dimType, Name: name})
	if err != nil {
		return domain.DimensionConfig{}, domain.Version{}, err
	}
	cfg, err := m.svc.dimensionConfig(ctx, ref.ID, *ref.Version)
	if err != nil {
		return domain.DimensionConfig{}, domain.Version{}, err
	}
	return cfg, *ref.Version, nil
}

// Records returns the record table of one dimension version.
func (m *DimensionManager) Records(ctx context.Context, id string, v domain.Version) ([]domain.DimensionRecord, error) {
	cfg, err := m.svc.dimensionConfig(ctx, id, v)
	if err != nil {
		return nil, err
	}
	return cfg.Records, nil
}

// Header returns the dimension's registry header.
func (m *DimensionManager) Header(ctx context.Context, id string) (domain.Header, error) {
	return m.svc.entityHeader(ctx, domain.EntityDimension, id)
}

// History returns the dimension's registration records in ascending version
// order.
func (m *DimensionManager) History(ctx context.Context, id string) ([]domain.RegistrationRecord, error) {
	header, err := m.svc.entityHeader(ctx, domain.EntityDimension, id)
	if err != nil {
		return nil, err
	}
	return header.Registrations, nil
}

// List returns the catalog rows of all dimensions.
func (m *DimensionManager) List() []domain.CatalogEntry {
	return m.svc.catalog.ListEntries(domain.EntityDimension)
}

// ListIDs returns all dimension ids present in the snapshot layout.
func (m *DimensionManager) ListIDs(ctx context.Context) ([]string, error) {
	return m.svc.snapshots.ListIDs(ctx, domain.EntityDimension)
}

// findByName returns the catalog entry matching a normalized name and type.
// At most one can exist: registration dedupes identical content and rejects
// changed content under a taken name.
func (m *DimensionManager) findByName(dimType domain.DimensionType, base string) (domain.CatalogEntry, bool) {
	for _, entry := range m.svc.catalog.ListEntries(domain.EntityDimension) {
		if entry.DimensionType == dimType && domain.MakeID(entry.Name) == base {
			return entry, true
		}
	}
	return domain.CatalogEntry{}, false
}

// writeSnapshot writes one dimension version: the config document, the
// canonical record table when the dimension carries records, and the header.
func (m *DimensionManager) writeSnapshot(ctx context.Context, cfg domain.DimensionConfig, header domain.Header) error {
	svc := m.svc
	if err := svc.snapshots.WriteConfig(ctx, domain.EntityDimension, cfg.ID, header.Version, cfg); err != nil {
		return err
	}
	if len(cfg.Records) > 0 {
		data, err := RenderDimensionRecords(cfg.Records)
		if err != nil {
			return err
		}
		if err := svc.snapshots.WriteRecords(ctx, domain.EntityDimension, cfg.ID, header.Version, data); err != nil {
			return err
		}
	}
	if err := svc.snapshots.WriteHeader(ctx, domain.EntityDimension, cfg.ID, header); err != nil {
		return err
	}
	svc.cache.setHeader(domain.EntityDimension, cfg.ID, header)
	svc.cache.setConfig(domain.EntityDimension, cfg.ID, header.Version, cfg)
	return nil
}

// normalizeDimensionConfig loads records referenced by file into the config
// and clears the file path, so submitter-local paths never reach the stored
// document or the content hash.
func normalizeDimensionConfig(cfg domain.DimensionConfig) (domain.DimensionConfig, error) {
	if cfg.RecordFile == "" {
		return cfg, nil
	}
	if cfg.Type != domain.DimensionTime && len(cfg.Records) == 0 {
		records, err := LoadDimensionRecords(cfg.RecordFile)
		if err != nil {
			return domain.DimensionConfig{}, fmt.Errorf("dimension %s: %w", cfg.Name, err)
		}
		cfg.Records = records
	}
	cfg.RecordFile = ""
	return cfg, nil
}
