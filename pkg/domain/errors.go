package domain

import (
	"fmt"
	"time"
)

// ErrNotFound is returned when an entity, or a specific version of one, does
// not exist in the registry.
type ErrNotFound struct {
	Entity  EntityKind
	ID      string
	Version *Version
}

func (e ErrNotFound) Error() string {
	if e.Version != nil {
		return fmt.Sprintf("%s %s version %s not found", e.Entity, e.ID, e.Version)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ErrAlreadyExists is returned when registering an id that is already
// present, or when a write targets a version directory that already exists.
type ErrAlreadyExists struct {
	Entity  EntityKind
	ID      string
	Version *Version
}

func (e ErrAlreadyExists) Error() string {
	if e.Version != nil {
		return fmt.Sprintf("%s %s version %s is already registered", e.Entity, e.ID, e.Version)
	}
	return fmt.Sprintf("%s %s is already registered", e.Entity, e.ID)
}

// ErrInvalidIdentifier is returned when an identifier violates the kind's
// character set. Offending lists the rejected characters.
type ErrInvalidIdentifier struct {
	Kind      EntityKind
	ID        string
	Offending string
}

func (e ErrInvalidIdentifier) Error() string {
	return fmt.Sprintf("invalid %s id %q: %s", e.Kind, e.ID, e.Offending)
}

// ErrInvalidOperation is returned when a request is malformed or would change
// nothing, and is rejected before any write.
type ErrInvalidOperation struct {
	Operation string
	Reason    string
}

func (e ErrInvalidOperation) Error() string {
	return fmt.Sprintf("%s not permitted: %s", e.Operation, e.Reason)
}

// ErrAlreadyRegistered is returned when a dimension or mapping name is taken
// by different content and the caller did not request an upgrade.
type ErrAlreadyRegistered struct {
	Entity EntityKind
	ID     string
	Name   string
}

func (e ErrAlreadyRegistered) Error() string {
	return fmt.Sprintf("%s %q is already registered as %s with different content; submit an upgrade instead", e.Entity, e.Name, e.ID)
}

// ErrDuplicateInBatch is returned when a batch registration contains two
// configs that normalize to the same identity.
type ErrDuplicateInBatch struct {
	Entity EntityKind
	Name   string
}

func (e ErrDuplicateInBatch) Error() string {
	return fmt.Sprintf("batch contains duplicate %s %q", e.Entity, e.Name)
}

// ErrDuplicateLogMessage is returned when an upgrade reuses the log message
// of any previous registration.
type ErrDuplicateLogMessage struct {
	Entity     EntityKind
	ID         string
	LogMessage string
}

func (e ErrDuplicateLogMessage) Error() string {
	return fmt.Sprintf("%s %s upgrade reuses log message %q; describe what changed", e.Entity, e.ID, e.LogMessage)
}

// ErrAmbiguousName is returned when resolving a bare name matches more than
// one registered entity.
type ErrAmbiguousName struct {
	Entity  EntityKind
	Name    string
	Matches []string
}

func (e ErrAmbiguousName) Error() string {
	return fmt.Sprintf("%s name %q matches %d registered ids %v", e.Entity, e.Name, len(e.Matches), e.Matches)
}

// ErrAlreadySubmitted is returned when a dataset slot is already registered.
type ErrAlreadySubmitted struct {
	ProjectID string
	DatasetID string
}

func (e ErrAlreadySubmitted) Error() string {
	return fmt.Sprintf("dataset %s is already submitted to project %s", e.DatasetID, e.ProjectID)
}

// ErrDatasetNotExpected is returned when submitting a dataset the project
// does not declare.
type ErrDatasetNotExpected struct {
	ProjectID string
	DatasetID string
}

func (e ErrDatasetNotExpected) Error() string {
	return fmt.Sprintf("project %s does not declare dataset %s", e.ProjectID, e.DatasetID)
}

// ErrMissingRequiredMapping is returned when a dataset submission omits a
// mapping the project requires for validation.
type ErrMissingRequiredMapping struct {
	ProjectID string
	DatasetID string
	FromType  DimensionType
	ToType    DimensionType
}

func (e ErrMissingRequiredMapping) Error() string {
	return fmt.Sprintf("submission of %s to %s is missing the required %s -> %s mapping", e.DatasetID, e.ProjectID, e.FromType, e.ToType)
}

// ErrLockContended is returned when a lock is held by another owner. Holder
// and acquisition time identify who to contact.
type ErrLockContended struct {
	Name       string
	Holder     string
	AcquiredAt time.Time
}

func (e ErrLockContended) Error() string {
	return fmt.Sprintf("lock %s is held by %s since %s", e.Name, e.Holder, e.AcquiredAt.Format(time.RFC3339))
}

// ErrUnsupportedLockKind is returned when a lock path falls outside the
// supported configuration lock directory.
type ErrUnsupportedLockKind struct {
	Path string
}

func (e ErrUnsupportedLockKind) Error() string {
	return fmt.Sprintf("lock path %s is not supported; only configuration locks are implemented", e.Path)
}

// ErrInvalidRegistryState is returned when the on-disk registry layout is
// missing or inconsistent, or when an entity's status forbids the requested
// operation. Path is set only for layout failures.
type ErrInvalidRegistryState struct {
	Path   string
	Reason string
}

func (e ErrInvalidRegistryState) Error() string {
	if e.Path == "" {
		return "invalid registry state: " + e.Reason
	}
	return fmt.Sprintf("registry at %s is invalid: %s", e.Path, e.Reason)
}
