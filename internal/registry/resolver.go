package registry

import (
	"context"
	"fmt"
	"sort"

	"gridreg/pkg/domain"
)

// resolver turns bare and pinned references into verified pinned references
// against current registry state. Resolution reads headers and catalog
// entries only; it never writes.
type resolver struct {
	svc *Service
}

// dimension resolves one dimension reference. A pinned reference must exist
// at its exact version; a bare reference is matched by normalized name and
// type against the catalog and pinned at the entity's latest version.
func (r resolver) dimension(ctx context.Context, ref domain.DimensionReference) (domain.DimensionReference, error) {
	if err := ref.Validate(); err != nil {
		return domain.DimensionReference{}, err
	}
	if ref.Pinned() {
		header, err := r.svc.entityHeader(ctx, domain.EntityDimension, ref.ID)
		if err != nil {
			return domain.DimensionReference{}, err
		}
		if !header.HasVersion(*ref.Version) {
			return domain.DimensionReference{}, domain.ErrNotFound{Entity: domain.EntityDimension, ID: ref.ID, Version: ref.Version}
		}
		if ref.Name == "" {
			if entry, ok := r.svc.catalog.FindEntry(domain.EntityDimension, ref.ID); ok {
				ref.Name = entry.Name
			}
		}
		return ref, nil
	}
	normalized := domain.MakeID(ref.Name)
	var matches []domain.CatalogEntry
	for _, entry := range r.svc.catalog.ListEntries(domain.EntityDimension) {
		if entry.DimensionType != ref.Type || domain.MakeID(entry.Name) != normalized {
			continue
		}
		matches = append(matches, entry)
	}
	switch len(matches) {
	case 0:
		return domain.DimensionReference{}, domain.ErrNotFound{Entity: domain.EntityDimension, ID: normalized}
	case 1:
		v := matches[0].Version
		return domain.DimensionReference{Type: ref.Type, ID: matches[0].ID, Name: matches[0].Name, Version: &v}, nil
	}
	ids := make([]string, len(matches))
	for i, entry := range matches {
		ids[i] = entry.ID
	}
	sort.Strings(ids)
	return domain.DimensionReference{}, domain.ErrAmbiguousName{Entity: domain.EntityDimension, Name: ref.Name, Matches: ids}
}

// dimensions resolves a reference list in order, preserving nil for empty
// input so resolved configs round-trip identically.
func (r resolver) dimensions(ctx context.Context, refs []domain.DimensionReference) ([]domain.DimensionReference, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	out := make([]domain.DimensionReference, len(refs))
	for i, ref := range refs {
		resolved, err := r.dimension(ctx, ref)
		if err != nil {
			return nil, err
		}
		out[i] = resolved
	}
	return out, nil
}

// mapping resolves one mapping reference and loads the config it points at.
// A reference without an id is matched by endpoint types against the
// registered mappings; a reference without a version pins the latest. The
// resolved config's endpoint types must agree with the reference.
func (r resolver) mapping(ctx context.Context, ref domain.DimensionMappingReference) (domain.DimensionMappingReference, domain.DimensionMappingConfig, error) {
	if err := ref.Validate(); err != nil {
		return domain.DimensionMappingReference{}, domain.DimensionMappingConfig{}, err
	}
	if ref.ID == "" {
		resolved, err := r.mappingByTypes(ctx, ref)
		if err != nil {
			return domain.DimensionMappingReference{}, domain.DimensionMappingConfig{}, err
		}
		ref = resolved
	}
	header, err := r.svc.entityHeader(ctx, domain.EntityDimensionMapping, ref.ID)
	if err != nil {
		return domain.DimensionMappingReference{}, domain.DimensionMappingConfig{}, err
	}
	version := header.Version
	if ref.Version != nil {
		if !header.HasVersion(*ref.Version) {
			return domain.DimensionMappingReference{}, domain.DimensionMappingConfig{},
				domain.ErrNotFound{Entity: domain.EntityDimensionMapping, ID: ref.ID, Version: ref.Version}
		}
		version = *ref.Version
	}
	cfg, err := r.svc.mappingConfig(ctx, ref.ID, version)
	if err != nil {
		return domain.DimensionMappingReference{}, domain.DimensionMappingConfig{}, err
	}
	if cfg.FromDimension.Type != ref.FromType || cfg.ToDimension.Type != ref.ToType {
		return domain.DimensionMappingReference{}, domain.DimensionMappingConfig{}, domain.ErrInvalidOperation{
			Operation: "resolve_mapping",
			Reason: fmt.Sprintf("mapping %s connects %s to %s but the reference declares %s to %s",
				ref.ID, cfg.FromDimension.Type, cfg.ToDimension.Type, ref.FromType, ref.ToType),
		}
	}
	pinned := ref
	pinned.Version = &version
	return pinned, cfg, nil
}

// mappingByTypes finds the one registered mapping connecting the reference's
// endpoint types.
func (r resolver) mappingByTypes(ctx context.Context, ref domain.DimensionMappingReference) (domain.DimensionMappingReference, error) {
	pair := string(ref.FromType) + domain.IDDelimiter + string(ref.ToType)
	var matches []string
	for _, entry := range r.svc.catalog.ListEntries(domain.EntityDimensionMapping) {
		cfg, err := r.svc.mappingConfig(ctx, entry.ID, entry.Version)
		if err != nil {
			return domain.DimensionMappingReference{}, err
		}
		if cfg.FromDimension.Type != ref.FromType || cfg.ToDimension.Type != ref.ToType {
			continue
		}
		matches = append(matches, entry.ID)
	}
	switch len(matches) {
	case 0:
		return domain.DimensionMappingReference{}, domain.ErrNotFound{Entity: domain.EntityDimensionMapping, ID: pair}
	case 1:
		ref.ID = matches[0]
		return ref, nil
	}
	sort.Strings(matches)
	return domain.DimensionMappingReference{}, domain.ErrAmbiguousName{Entity: domain.EntityDimensionMapping, Name: pair, Matches: matches}
}

// mappings resolves a mapping reference list, returning the pinned references
// alongside their configs in matching order.
func (r resolver) mappings(ctx context.Context, refs []domain.DimensionMappingReference) ([]domain.DimensionMappingReference, []domain.DimensionMappingConfig, error) {
	if len(refs) == 0 {
		return nil, nil, nil
	}
	resolved := make([]domain.DimensionMappingReference, len(refs))
	configs := make([]domain.DimensionMappingConfig, len(refs))
	for i, ref := range refs {
		pinned, cfg, err := r.mapping(ctx, ref)
		if err != nil {
			return nil, nil, err
		}
		resolved[i] = pinned
		configs[i] = cfg
	}
	return resolved, configs, nil
}

// resolveProjectReferences pins every dimension and mapping reference in a
// project config and returns the pinned config.
func (r resolver) resolveProjectReferences(ctx context.Context, cfg domain.ProjectConfig) (domain.ProjectConfig, error) {
	base, err := r.dimensions(ctx, cfg.Dimensions.Base)
	if err != nil {
		return domain.ProjectConfig{}, fmt.Errorf("project %s base dimensions: %w", cfg.ProjectID, err)
	}
	supplemental, err := r.dimensions(ctx, cfg.Dimensions.Supplemental)
	if err != nil {
		return domain.ProjectConfig{}, fmt.Errorf("project %s supplemental dimensions: %w", cfg.ProjectID, err)
	}
	mappings, _, err := r.mappings(ctx, cfg.DimensionMappings)
	if err != nil {
		return domain.ProjectConfig{}, fmt.Errorf("project %s dimension mappings: %w", cfg.ProjectID, err)
	}
	cfg.Dimensions = domain.ProjectDimensions{Base: base, Supplemental: supplemental}
	cfg.DimensionMappings = mappings
	return cfg, nil
}

// resolveDatasetReferences pins every dimension reference in a dataset config
// and returns the pinned config.
func (r resolver) resolveDatasetReferences(ctx context.Context, cfg domain.DatasetConfig) (domain.DatasetConfig, error) {
	dims, err := r.dimensions(ctx, cfg.Dimensions)
	if err != nil {
		return domain.DatasetConfig{}, fmt.Errorf("dataset %s dimensions: %w", cfg.DatasetID, err)
	}
	cfg.Dimensions = dims
	return cfg, nil
}

// projectDatasetCompatibility verifies that a submission reconciles every
// dataset dimension whose id-space diverges from the project's base dimension
// of the same type. Both configs must already carry pinned references. For
// each divergent type the supplied mapping references must include one marked
// required for validation with that type on both endpoints.
func (r resolver) projectDatasetCompatibility(project domain.ProjectConfig, dataset domain.DatasetConfig, mappings []domain.DimensionMappingReference) error {
	base := make(map[domain.DimensionType]domain.DimensionReference, len(project.Dimensions.Base))
	for _, ref := range project.Dimensions.Base {
		base[ref.Type] = ref
	}
	covered := make(map[domain.DimensionType]bool, len(mappings))
	for _, ref := range mappings {
		if ref.Required() && ref.FromType == ref.ToType {
			covered[ref.FromType] = true
		}
	}
	for _, dim := range dataset.Dimensions {
		projectDim, declared := base[dim.Type]
		if !declared || dim.ID == projectDim.ID || covered[dim.Type] {
			continue
		}
		return domain.ErrMissingRequiredMapping{
			ProjectID: project.ProjectID,
			DatasetID: dataset.DatasetID,
			FromType:  dim.Type,
			ToType:    dim.Type,
		}
	}
	return nil
}
