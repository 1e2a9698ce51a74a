// Package domain defines the core registry entities, value types, and
// rule evaluation primitives used by gridreg.
package domain

import (
	"fmt"
	"time"
)

// EntityKind identifies the kind of record tracked by the registry.
type EntityKind string

// Supported entity kinds used in Change records, catalog buckets, and
// registry directory layout.
const (
	// EntityProject identifies a project record.
	EntityProject EntityKind = "project"
	// EntityDataset identifies a dataset record.
	EntityDataset EntityKind = "dataset"
	// EntityDimension identifies a dimension record.
	EntityDimension EntityKind = "dimension"
	// EntityDimensionMapping identifies a dimension mapping record.
	EntityDimensionMapping EntityKind = "dimension_mapping"
)

// DirName returns the plural directory name used for the kind under the
// registry base path.
func (k EntityKind) DirName() string {
	switch k {
	case EntityProject:
		return "projects"
	case EntityDataset:
		return "datasets"
	case EntityDimension:
		return "dimensions"
	case EntityDimensionMapping:
		return "dimension_mappings"
	}
	return string(k) + "s"
}

// ParseEntityKind maps a serialized kind back to its constant.
func ParseEntityKind(s string) (EntityKind, error) {
	switch EntityKind(s) {
	case EntityProject, EntityDataset, EntityDimension, EntityDimensionMapping:
		return EntityKind(s), nil
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// EntityKinds lists all supported kinds in directory-layout order.
func EntityKinds() []EntityKind {
	return []EntityKind{EntityProject, EntityDataset, EntityDimension, EntityDimensionMapping}
}

// ProjectStatus represents the canonical project lifecycle states.
type ProjectStatus string

// Canonical project statuses used for update gating and publication checks.
const (
	// StatusInitialRegistration indicates a freshly registered project with no
	// dataset submissions yet.
	StatusInitialRegistration ProjectStatus = "initial_registration"
	// StatusInProgress indicates at least one dataset slot is registered.
	StatusInProgress ProjectStatus = "in_progress"
	// StatusComplete indicates every declared dataset slot is registered.
	StatusComplete ProjectStatus = "complete"
	// StatusPublished indicates the project has been published and is frozen.
	StatusPublished ProjectStatus = "published"
	// StatusDeprecated indicates the project was retired before publication.
	StatusDeprecated ProjectStatus = "deprecated"
)

// ParseProjectStatus maps a serialized status back to its constant.
func ParseProjectStatus(s string) (ProjectStatus, error) {
	switch ProjectStatus(s) {
	case StatusInitialRegistration, StatusInProgress, StatusComplete, StatusPublished, StatusDeprecated:
		return ProjectStatus(s), nil
	}
	return "", fmt.Errorf("unknown project status %q", s)
}

// AllowsUpdate reports whether configuration updates and dataset submissions
// are permitted in this status. Published and deprecated projects are frozen.
func (s ProjectStatus) AllowsUpdate() bool {
	switch s {
	case StatusInitialRegistration, StatusInProgress, StatusComplete:
		return true
	}
	return false
}

// SlotStatus enumerates dataset slot registration states within a project.
type SlotStatus string

// Canonical slot statuses tracked on the project header.
const (
	SlotUnregistered SlotStatus = "unregistered"
	SlotRegistered   SlotStatus = "registered"
)

// DimensionType enumerates the axes a dimension can describe.
type DimensionType string

// Canonical dimension types recognised by project and dataset configs.
const (
	DimensionGeography DimensionType = "geography"
	DimensionSector    DimensionType = "sector"
	DimensionSubsector DimensionType = "subsector"
	DimensionMetric    DimensionType = "metric"
	DimensionModelYear DimensionType = "model_year"
	DimensionScenario  DimensionType = "scenario"
	DimensionTime      DimensionType = "time"
	DimensionWeather   DimensionType = "weather_year"
)

// ParseDimensionType maps a serialized dimension type back to its constant.
func ParseDimensionType(s string) (DimensionType, error) {
	switch DimensionType(s) {
	case DimensionGeography, DimensionSector, DimensionSubsector, DimensionMetric,
		DimensionModelYear, DimensionScenario, DimensionTime, DimensionWeather:
		return DimensionType(s), nil
	}
	return "", fmt.Errorf("unknown dimension type %q", s)
}

// DimensionTypes lists all supported dimension types.
func DimensionTypes() []DimensionType {
	return []DimensionType{
		DimensionGeography, DimensionSector, DimensionSubsector, DimensionMetric,
		DimensionModelYear, DimensionScenario, DimensionTime, DimensionWeather,
	}
}

// TimeType discriminates the parameter shape of a time dimension.
type TimeType string

// Canonical time dimension formats.
const (
	TimeTypeDateTime             TimeType = "datetime"
	TimeTypeAnnual               TimeType = "annual"
	TimeTypeRepresentativePeriod TimeType = "representative_period"
	TimeTypeNoOp                 TimeType = "noop"
)

// UpdateType selects which component of a semantic version an update bumps.
type UpdateType string

// Version bump categories accepted by update and upgrade operations.
const (
	UpdateTypeMajor UpdateType = "major"
	UpdateTypeMinor UpdateType = "minor"
	UpdateTypePatch UpdateType = "patch"
)

// ParseUpdateType maps a serialized update type back to its constant.
func ParseUpdateType(s string) (UpdateType, error) {
	switch UpdateType(s) {
	case UpdateTypeMajor, UpdateTypeMinor, UpdateTypePatch:
		return UpdateType(s), nil
	}
	return "", fmt.Errorf("unknown update type %q", s)
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// RegistrationRecord captures one entry in an entity's version history.
type RegistrationRecord struct {
	Version    Version   `json:"version"`
	Submitter  string    `json:"submitter"`
	Date       time.Time `json:"date"`
	LogMessage string    `json:"log_message"`
}

// Header is the mutable registry header stored alongside an entity's
// immutable version snapshots. It names the latest version and the full
// registration history in ascending version order.
type Header struct {
	ID            string               `json:"id"`
	Kind          EntityKind           `json:"kind"`
	Version       Version              `json:"version"`
	Registrations []RegistrationRecord `json:"registrations"`
}

// Latest returns the most recent registration record.
func (h Header) Latest() (RegistrationRecord, bool) {
	if len(h.Registrations) == 0 {
		return RegistrationRecord{}, false
	}
	return h.Registrations[len(h.Registrations)-1], true
}

// HasVersion reports whether the history contains the given version.
func (h Header) HasVersion(v Version) bool {
	for _, rec := range h.Registrations {
		if rec.Version.Compare(v) == 0 {
			return true
		}
	}
	return false
}

// Append records a new registration and advances the header version. The new
// version must be strictly greater than the current latest.
func (h *Header) Append(rec RegistrationRecord) error {
	if latest, ok := h.Latest(); ok && rec.Version.Compare(latest.Version) <= 0 {
		return fmt.Errorf("version %s does not advance past %s", rec.Version, latest.Version)
	}
	h.Registrations = append(h.Registrations, rec)
	h.Version = rec.Version
	return nil
}

// DatasetSlot tracks the submission state of one dataset declared by a
// project. Version is pinned once the slot is registered.
type DatasetSlot struct {
	DatasetID string     `json:"dataset_id"`
	Status    SlotStatus `json:"status"`
	Version   *Version   `json:"version,omitempty"`
}

// ProjectHeader extends the common header with project lifecycle state and
// per-dataset slot tracking.
type ProjectHeader struct {
	Header
	Status   ProjectStatus `json:"status"`
	Datasets []DatasetSlot `json:"datasets"`
}

// Slot returns a pointer to the slot for the given dataset id, or nil when
// the project does not declare it.
func (h *ProjectHeader) Slot(datasetID string) *DatasetSlot {
	for i := range h.Datasets {
		if h.Datasets[i].DatasetID == datasetID {
			return &h.Datasets[i]
		}
	}
	return nil
}

// RegisteredCount returns the number of registered dataset slots.
func (h ProjectHeader) RegisteredCount() int {
	n := 0
	for _, slot := range h.Datasets {
		if slot.Status == SlotRegistered {
			n++
		}
	}
	return n
}

// AllRegistered reports whether every declared slot is registered. A project
// declaring no datasets is never considered complete.
func (h ProjectHeader) AllRegistered() bool {
	return len(h.Datasets) > 0 && h.RegisteredCount() == len(h.Datasets)
}

// ResetSlots moves every slot back to unregistered and clears pinned
// versions. Used when an update invalidates prior dataset submissions.
func (h *ProjectHeader) ResetSlots() {
	for i := range h.Datasets {
		h.Datasets[i].Status = SlotUnregistered
		h.Datasets[i].Version = nil
	}
}

// CatalogEntry is the derived head-state row kept in the catalog for fast
// listing and rule evaluation. The registry storage layer remains the source
// of truth; entries are rebuildable from stored headers.
type CatalogEntry struct {
	Kind          EntityKind    `json:"kind"`
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	DimensionType DimensionType `json:"dimension_type,omitempty"`
	Version       Version       `json:"version"`
	Status        ProjectStatus `json:"status,omitempty"`
	Submitter     string        `json:"submitter"`
	RegisteredAt  time.Time     `json:"registered_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	ContentHash   string        `json:"content_hash,omitempty"`
	Datasets      []DatasetSlot `json:"datasets,omitempty"`
}

// Change describes a mutation applied to a catalog entry during a transaction.
type Change struct {
	Entity EntityKind
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported catalog operations captured for rule
// evaluation and audit.
const (
	// ActionCreate indicates an entry was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entry was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityKind
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
