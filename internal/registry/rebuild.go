package registry

import (
	"context"
	"fmt"

	"gridreg/pkg/domain"
)

// RebuildReport summarizes one catalog rebuild.
type RebuildReport struct {
	Projects   int      `json:"projects"`
	Datasets   int      `json:"datasets"`
	Dimensions int      `json:"dimensions"`
	Mappings   int      `json:"mappings"`
	Skipped    []string `json:"skipped,omitempty"`
}

// Total returns the number of catalog entries the rebuild produced.
func (r RebuildReport) Total() int {
	return r.Projects + r.Datasets + r.Dimensions + r.Mappings
}

// RebuildCatalog rederives the whole catalog from snapshot state, replacing
// whatever the catalog currently holds. Snapshots are the source of truth
// and the catalog is an index over them, so this repairs drift left by a
// crashed operation or picks up state mirrored in by a sync. Entities whose
// snapshots cannot be read are logged and skipped.
func (s *Service) RebuildCatalog(ctx context.Context) (RebuildReport, error) {
	var report RebuildReport
	err := s.run(ctx, opRebuildCatalog, s.locks.Username(), func(ctx context.Context) (string, error) {
		err := s.withLocks(ctx, func(ctx context.Context) error {
			// Drop cached state first so derivation reads what is on disk,
			// not what this process last wrote.
			s.cache.invalidateAll()
			entries, skipped, err := s.deriveEntries(ctx)
			if err != nil {
				return err
			}
			if err := s.commitCatalog(ctx, opRebuildCatalog, func(tx domain.Transaction) error {
				for _, kind := range domain.EntityKinds() {
					for _, stale := range tx.Snapshot().ListEntries(kind) {
						if err := tx.DeleteEntry(kind, stale.ID); err != nil {
							return err
						}
					}
				}
				for _, entry := range entries {
					if _, err := tx.PutEntry(entry); err != nil {
						return err
					}
				}
				return nil
			}); err != nil {
				return err
			}
			for _, entry := range entries {
				switch entry.Kind {
				case domain.EntityProject:
					report.Projects++
				case domain.EntityDataset:
					report.Datasets++
				case domain.EntityDimension:
					report.Dimensions++
				case domain.EntityDimensionMapping:
					report.Mappings++
				}
			}
			report.Skipped = skipped
			return nil
		}, domain.EntityKinds()...)
		return "catalog", err
	})
	return report, err
}

func (s *Service) deriveEntries(ctx context.Context) ([]domain.CatalogEntry, []string, error) {
	var entries []domain.CatalogEntry
	var skipped []string
	for _, kind := range domain.EntityKinds() {
		ids, err := s.snapshots.ListIDs(ctx, kind)
		if err != nil {
			return nil, nil, err
		}
		for _, id := range ids {
			entry, err := s.deriveEntry(ctx, kind, id)
			if err != nil {
				s.logger.Warn("skipping unreadable entity during rebuild",
					"kind", kind, "entity_id", id, "error", err)
				skipped = append(skipped, fmt.Sprintf("%s/%s", kind, id))
				continue
			}
			entries = append(entries, entry)
		}
	}
	return entries, skipped, nil
}

// deriveEntry reconstructs one catalog row from the entity's header and
// latest config. Timestamps come from the registration log, so a status-only
// change since the last registration is not reflected in UpdatedAt.
func (s *Service) deriveEntry(ctx context.Context, kind domain.EntityKind, id string) (domain.CatalogEntry, error) {
	if kind == domain.EntityProject {
		header, err := s.projectHeader(ctx, id)
		if err != nil {
			return domain.CatalogEntry{}, err
		}
		cfg, err := s.projectConfig(ctx, id, header.Version)
		if err != nil {
			return domain.CatalogEntry{}, err
		}
		entry := entryFromHeader(kind, id, header.Header)
		entry.Name = cfg.Name
		entry.Status = header.Status
		entry.Datasets = cloneSlots(header.Datasets)
		return entry, nil
	}
	header, err := s.entityHeader(ctx, kind, id)
	if err != nil {
		return domain.CatalogEntry{}, err
	}
	entry := entryFromHeader(kind, id, header)
	switch kind {
	case domain.EntityDataset:
		entry.Name = id
	case domain.EntityDimension:
		cfg, err := s.dimensionConfig(ctx, id, header.Version)
		if err != nil {
			return domain.CatalogEntry{}, err
		}
		hash, err := domain.ContentHash(cfg.HashPayload())
		if err != nil {
			return domain.CatalogEntry{}, err
		}
		entry.Name = cfg.Name
		entry.DimensionType = cfg.Type
		entry.ContentHash = hash
	case domain.EntityDimensionMapping:
		cfg, err := s.mappingConfig(ctx, id, header.Version)
		if err != nil {
			return domain.CatalogEntry{}, err
		}
		hash, err := domain.ContentHash(cfg.HashPayload())
		if err != nil {
			return domain.CatalogEntry{}, err
		}
		entry.Name = cfg.DisplayName()
		entry.ContentHash = hash
	}
	return entry, nil
}

func entryFromHeader(kind domain.EntityKind, id string, header domain.Header) domain.CatalogEntry {
	entry := domain.CatalogEntry{Kind: kind, ID: id, Version: header.Version}
	if last, ok := header.Latest(); ok {
		entry.Submitter = last.Submitter
		entry.RegisteredAt = header.Registrations[0].Date
		entry.UpdatedAt = last.Date
	}
	return entry
}
