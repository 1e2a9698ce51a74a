// Package snapshot persists the on-disk registry layout: immutable per-version
// entity snapshots plus one mutable header per entity. All keys are relative
// to the registry base, which is whatever the backing blob store is rooted at.
package snapshot

import (
	"fmt"
	"strings"

	"gridreg/pkg/domain"
)

// File names inside the registry layout.
const (
	// MarkerFile marks an initialized registry base.
	MarkerFile = "registry.json"
	// HeaderFile is the per-entity mutable header.
	HeaderFile = "registry.json"
	// RecordsFile holds a dimension's or mapping's record table.
	RecordsFile = "records.csv"
	// DataDir holds a dataset version's submitted data files.
	DataDir = "data"
)

// EntityDir returns the directory key prefix for one entity.
func EntityDir(kind domain.EntityKind, id string) string {
	return kind.DirName() + "/" + id
}

// HeaderKey returns the blob key of an entity's mutable header.
func HeaderKey(kind domain.EntityKind, id string) string {
	return EntityDir(kind, id) + "/" + HeaderFile
}

// VersionDir returns the immutable snapshot directory for one version.
func VersionDir(kind domain.EntityKind, id string, v domain.Version) string {
	return EntityDir(kind, id) + "/" + v.String()
}

// ConfigKey returns the blob key of the config document inside a snapshot.
func ConfigKey(kind domain.EntityKind, id string, v domain.Version) string {
	return VersionDir(kind, id, v) + "/" + configFile(kind)
}

// RecordsKey returns the blob key of the record table inside a snapshot.
func RecordsKey(kind domain.EntityKind, id string, v domain.Version) string {
	return VersionDir(kind, id, v) + "/" + RecordsFile
}

// DataFileKey returns the blob key of one submitted data file inside a
// dataset snapshot. rel must be a forward-slash relative path.
func DataFileKey(datasetID string, v domain.Version, rel string) string {
	return VersionDir(domain.EntityDataset, datasetID, v) + "/" + DataDir + "/" + rel
}

func configFile(kind domain.EntityKind) string {
	return string(kind) + ".json"
}

// ParseVersionSegment extracts the version directory from a key below an
// entity dir, reporting false for header files and other non-version keys.
func ParseVersionSegment(kind domain.EntityKind, id, key string) (domain.Version, bool) {
	prefix := EntityDir(kind, id) + "/"
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return domain.Version{}, false
	}
	segment, _, found := strings.Cut(rest, "/")
	if !found {
		// Keys directly under the entity dir (the header) carry no version.
		return domain.Version{}, false
	}
	v, err := domain.ParseVersion(segment)
	if err != nil {
		return domain.Version{}, false
	}
	return v, true
}

// ParseIDSegment extracts the entity id from a key below a kind dir.
func ParseIDSegment(kind domain.EntityKind, key string) (string, bool) {
	prefix := kind.DirName() + "/"
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return "", false
	}
	id, _, found := strings.Cut(rest, "/")
	if !found || id == "" {
		return "", false
	}
	return id, true
}

// Marker is the content of the base registry marker written by bootstrap.
type Marker struct {
	DataFormatVersion string `json:"data_format_version"`
	CreatedBy         string `json:"created_by"`
	CreatedAt         string `json:"created_at"`
}

// CurrentDataFormatVersion tags newly created registries.
const CurrentDataFormatVersion = "1.0.0"

func validateMarker(m Marker) error {
	if m.DataFormatVersion == "" {
		return fmt.Errorf("registry marker missing data_format_version")
	}
	return nil
}
