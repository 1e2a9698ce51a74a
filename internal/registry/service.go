// Package registry implements the versioned registry service over the
// snapshot store, the advisory lock manager, and the rules-guarded catalog.
//
// Every mutating operation follows the same shape: acquire the per-kind
// advisory locks it touches, check preconditions against current headers,
// commit the derived catalog entries inside one rules-guarded transaction,
// then write the immutable snapshot files and finally the mutable header.
// The catalog is derived state; when a crash separates a committed catalog
// transaction from its snapshot writes, RebuildCatalog reconciles the two
// from the stored headers.
package registry

import (
	"context"
	"strings"
	"time"

	"gridreg/internal/catalog"
	"gridreg/internal/lock"
	"gridreg/internal/snapshot"
	"gridreg/pkg/domain"
)

// Operation names stamped into logs, metrics, traces, and audit entries.
const (
	opCreateRegistry     = "create_registry"
	opRegisterProject    = "register_project"
	opUpdateProject      = "update_project"
	opPublishProject     = "publish_project"
	opDeprecateProject   = "deprecate_project"
	opRemoveProject      = "remove_project"
	opSubmitDataset      = "submit_dataset"
	opUpdateDataset      = "update_dataset"
	opRemoveDataset      = "remove_dataset"
	opRegisterDimensions = "register_dimensions"
	opUpgradeDimension   = "upgrade_dimension"
	opRemoveDimension    = "remove_dimension"
	opRegisterMapping    = "register_mapping"
	opUpgradeMapping     = "upgrade_mapping"
	opRemoveMapping      = "remove_mapping"
	opRebuildCatalog     = "rebuild_catalog"
)

type operationMetadata struct {
	Entity domain.EntityKind
	Action domain.Action
}

// auditableOperations maps operation names to the entity kind and action
// recorded in their audit entries. Operations absent from the table, such as
// registry creation and catalog rebuilds, are metered and traced but not
// audited because they do not act on a single entity.
var auditableOperations = map[string]operationMetadata{
	opRegisterProject:    {Entity: domain.EntityProject, Action: domain.ActionCreate},
	opUpdateProject:      {Entity: domain.EntityProject, Action: domain.ActionUpdate},
	opPublishProject:     {Entity: domain.EntityProject, Action: domain.ActionUpdate},
	opDeprecateProject:   {Entity: domain.EntityProject, Action: domain.ActionUpdate},
	opRemoveProject:      {Entity: domain.EntityProject, Action: domain.ActionDelete},
	opSubmitDataset:      {Entity: domain.EntityDataset, Action: domain.ActionCreate},
	opUpdateDataset:      {Entity: domain.EntityDataset, Action: domain.ActionUpdate},
	opRemoveDataset:      {Entity: domain.EntityDataset, Action: domain.ActionDelete},
	opRegisterDimensions: {Entity: domain.EntityDimension, Action: domain.ActionCreate},
	opUpgradeDimension:   {Entity: domain.EntityDimension, Action: domain.ActionUpdate},
	opRemoveDimension:    {Entity: domain.EntityDimension, Action: domain.ActionDelete},
	opRegisterMapping:    {Entity: domain.EntityDimensionMapping, Action: domain.ActionCreate},
	opUpgradeMapping:     {Entity: domain.EntityDimensionMapping, Action: domain.ActionUpdate},
	opRemoveMapping:      {Entity: domain.EntityDimensionMapping, Action: domain.ActionDelete},
}

// Service is the entry point for all registry operations. Entity-specific
// operations hang off the Projects, Datasets, Dimensions, and Mappings
// managers, which share the service's stores, cache, and instrumentation.
type Service struct {
	snapshots *snapshot.Store
	locks     *lock.Manager
	catalog   domain.PersistentCatalog
	cache     *configCache

	logger     Logger
	clock      Clock
	metrics    MetricsRecorder
	tracer     Tracer
	audit      AuditRecorder
	invalidate InvalidationHook
}

// NewService wires a registry service over the given snapshot store, lock
// manager, and catalog. A nil catalog falls back to an in-memory store with
// the default rules engine, which suits tests and ephemeral tooling.
func NewService(snapshots *snapshot.Store, locks *lock.Manager, cat domain.PersistentCatalog, opts ...ServiceOption) *Service {
	options := defaultServiceOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if cat == nil {
		cat = catalog.NewMemoryStore(catalog.DefaultRulesEngine())
	}
	return &Service{
		snapshots:  snapshots,
		locks:      locks,
		catalog:    cat,
		cache:      newConfigCache(options.cacheTTL),
		logger:     options.logger,
		clock:      options.clock,
		metrics:    options.metrics,
		tracer:     options.tracer,
		audit:      options.audit,
		invalidate: options.invalidate,
	}
}

// Projects returns the manager for project operations.
func (s *Service) Projects() *ProjectManager { return &ProjectManager{svc: s} }

// Datasets returns the manager for dataset operations.
func (s *Service) Datasets() *DatasetManager { return &DatasetManager{svc: s} }

// Dimensions returns the manager for dimension operations.
func (s *Service) Dimensions() *DimensionManager { return &DimensionManager{svc: s} }

// Mappings returns the manager for dimension mapping operations.
func (s *Service) Mappings() *MappingManager { return &MappingManager{svc: s} }

// Catalog exposes the derived catalog for listing and inspection.
func (s *Service) Catalog() domain.PersistentCatalog { return s.catalog }

// Snapshots exposes the underlying snapshot store.
func (s *Service) Snapshots() *snapshot.Store { return s.snapshots }

// Locks exposes the advisory lock manager.
func (s *Service) Locks() *lock.Manager { return s.locks }

// Submitter returns the identity operations are attributed to by default.
func (s *Service) Submitter() string { return s.locks.Username() }

// Create initializes an empty registry base. The base must not already hold
// a registry.
func (s *Service) Create(ctx context.Context, createdBy string) error {
	if createdBy == "" {
		createdBy = s.locks.Username()
	}
	return s.run(ctx, opCreateRegistry, createdBy, func(ctx context.Context) (string, error) {
		return "", s.snapshots.Bootstrap(ctx, createdBy, s.clock.Now())
	})
}

// Verify checks that the base holds an initialized registry and returns its
// marker.
func (s *Service) Verify(ctx context.Context) (snapshot.Marker, error) {
	return s.snapshots.Verify(ctx)
}

// run executes one registry operation under the service instrumentation:
// a trace span, an operation metric, a structured log line, and an audit
// entry when the operation is auditable. fn returns the id of the entity it
// acted on, which may be empty when the operation failed before resolving
// one.
func (s *Service) run(ctx context.Context, operation, actor string, fn func(context.Context) (string, error)) error {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, operation)
	entityID, err := fn(ctx)
	duration := s.clock.Now().Sub(start)
	span.End(err)
	s.metrics.Observe(ctx, operation, err == nil, duration)
	if err != nil {
		s.logger.Error("registry operation failed",
			"operation", operation, "entity_id", entityID, "actor", actor,
			"duration", duration, "error", err)
	} else {
		s.logger.Info("registry operation completed",
			"operation", operation, "entity_id", entityID, "actor", actor,
			"duration", duration)
	}
	s.recordAudit(ctx, operation, entityID, actor, duration, err)
	return err
}

func (s *Service) recordAudit(ctx context.Context, operation, entityID, actor string, duration time.Duration, opErr error) {
	meta, ok := auditableOperations[operation]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: operation,
		Entity:    meta.Entity,
		Action:    meta.Action,
		EntityID:  entityID,
		Actor:     actor,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	}
	if opErr != nil {
		entry.Status = AuditStatusError
		entry.Error = opErr.Error()
	}
	s.audit.Record(ctx, entry)
}

func (s *Service) notifyInvalidation(projectID string) {
	if s.invalidate != nil {
		s.invalidate(projectID)
	}
}

// commitCatalog runs one rules-guarded catalog transaction and logs any
// non-blocking violations the rules flagged. Blocking violations surface as
// the returned error.
func (s *Service) commitCatalog(ctx context.Context, operation string, fn func(domain.Transaction) error) error {
	res, err := s.catalog.RunInTransaction(ctx, fn)
	for _, v := range res.Violations {
		if v.Severity == domain.SeverityBlock {
			continue
		}
		s.logger.Warn("catalog rule flagged",
			"operation", operation, "rule", v.Rule, "entity_id", v.EntityID, "message", v.Message)
	}
	return err
}

// lockName returns the advisory lock guarding all entities of one kind.
func lockName(kind domain.EntityKind) string {
	return kind.DirName() + lock.Suffix
}

// withLocks runs fn while holding the advisory lock of every listed kind.
// Locks are always acquired in the fixed EntityKinds order regardless of the
// order given, so two writers touching overlapping kinds cannot deadlock.
func (s *Service) withLocks(ctx context.Context, fn func(context.Context) error, kinds ...domain.EntityKind) (err error) {
	want := make(map[domain.EntityKind]bool, len(kinds))
	for _, kind := range kinds {
		want[kind] = true
	}
	var leases []*lock.Lease
	defer func() {
		release := context.WithoutCancel(ctx)
		for i := len(leases) - 1; i >= 0; i-- {
			if rerr := leases[i].Release(release); rerr != nil && err == nil {
				err = rerr
			}
		}
	}()
	for _, kind := range domain.EntityKinds() {
		if !want[kind] {
			continue
		}
		lease, aerr := s.locks.Acquire(ctx, lockName(kind))
		if aerr != nil {
			return aerr
		}
		leases = append(leases, lease)
	}
	return fn(ctx)
}

func requireLogMessage(operation, logMessage string) error {
	if strings.TrimSpace(logMessage) == "" {
		return domain.ErrInvalidOperation{Operation: operation, Reason: "a log message is required"}
	}
	return nil
}

// projectHeader loads a project header through the cache.
func (s *Service) projectHeader(ctx context.Context, id string) (domain.ProjectHeader, error) {
	if cached, ok := s.cache.header(domain.EntityProject, id); ok {
		if header, ok := cached.(domain.ProjectHeader); ok {
			return header, nil
		}
	}
	var header domain.ProjectHeader
	if err := s.snapshots.ReadHeader(ctx, domain.EntityProject, id, &header); err != nil {
		return domain.ProjectHeader{}, err
	}
	s.cache.setHeader(domain.EntityProject, id, header)
	return header, nil
}

// entityHeader loads the plain header of a dataset, dimension, or mapping
// through the cache.
func (s *Service) entityHeader(ctx context.Context, kind domain.EntityKind, id string) (domain.Header, error) {
	if cached, ok := s.cache.header(kind, id); ok {
		if header, ok := cached.(domain.Header); ok {
			return header, nil
		}
	}
	var header domain.Header
	if err := s.snapshots.ReadHeader(ctx, kind, id, &header); err != nil {
		return domain.Header{}, err
	}
	s.cache.setHeader(kind, id, header)
	return header, nil
}

func (s *Service) projectConfig(ctx context.Context, id string, v domain.Version) (domain.ProjectConfig, error) {
	if cached, ok := s.cache.config(domain.EntityProject, id, v); ok {
		if cfg, ok := cached.(domain.ProjectConfig); ok {
			return cfg, nil
		}
	}
	var cfg domain.ProjectConfig
	if err := s.snapshots.ReadConfig(ctx, domain.EntityProject, id, v, &cfg); err != nil {
		return domain.ProjectConfig{}, err
	}
	s.cache.setConfig(domain.EntityProject, id, v, cfg)
	return cfg, nil
}

func (s *Service) datasetConfig(ctx context.Context, id string, v domain.Version) (domain.DatasetConfig, error) {
	if cached, ok := s.cache.config(domain.EntityDataset, id, v); ok {
		if cfg, ok := cached.(domain.DatasetConfig); ok {
			return cfg, nil
		}
	}
	var cfg domain.DatasetConfig
	if err := s.snapshots.ReadConfig(ctx, domain.EntityDataset, id, v, &cfg); err != nil {
		return domain.DatasetConfig{}, err
	}
	s.cache.setConfig(domain.EntityDataset, id, v, cfg)
	return cfg, nil
}

func (s *Service) dimensionConfig(ctx context.Context, id string, v domain.Version) (domain.DimensionConfig, error) {
	if cached, ok := s.cache.config(domain.EntityDimension, id, v); ok {
		if cfg, ok := cached.(domain.DimensionConfig); ok {
			return cfg, nil
		}
	}
	var cfg domain.DimensionConfig
	if err := s.snapshots.ReadConfig(ctx, domain.EntityDimension, id, v, &cfg); err != nil {
		return domain.DimensionConfig{}, err
	}
	s.cache.setConfig(domain.EntityDimension, id, v, cfg)
	return cfg, nil
}

func (s *Service) mappingConfig(ctx context.Context, id string, v domain.Version) (domain.DimensionMappingConfig, error) {
	if cached, ok := s.cache.config(domain.EntityDimensionMapping, id, v); ok {
		if cfg, ok := cached.(domain.DimensionMappingConfig); ok {
			return cfg, nil
		}
	}
	var cfg domain.DimensionMappingConfig
	if err := s.snapshots.ReadConfig(ctx, domain.EntityDimensionMapping, id, v, &cfg); err != nil {
		return domain.DimensionMappingConfig{}, err
	}
	s.cache.setConfig(domain.EntityDimensionMapping, id, v, cfg)
	return cfg, nil
}

// latestVersion resolves an optional version against the entity header:
// nil selects the header's latest, anything else must appear in the history.
func (s *Service) latestVersion(header domain.Header, kind domain.EntityKind, id string, v *domain.Version) (domain.Version, error) {
	if v == nil {
		return header.Version, nil
	}
	if !header.HasVersion(*v) {
		return domain.Version{}, domain.ErrNotFound{Entity: kind, ID: id, Version: v}
	}
	return *v, nil
}
