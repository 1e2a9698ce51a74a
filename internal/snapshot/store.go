package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gridreg/internal/blob"
	"gridreg/pkg/domain"
)

const (
	contentTypeJSON = "application/json"
	contentTypeCSV  = "text/csv"
)

// Store reads and writes the registry layout over a blob store. Version
// directories are write-once; only the per-entity header and the base marker
// are ever replaced.
type Store struct {
	blobs blob.Store
}

// New wraps a blob store rooted at the registry base.
func New(blobs blob.Store) *Store {
	return &Store{blobs: blobs}
}

// Blobs exposes the underlying blob store for layers that operate on raw
// keys, such as the sync engine.
func (s *Store) Blobs() blob.Store {
	return s.blobs
}

// Bootstrap initializes an empty registry base by writing the marker file.
// A base that already carries a marker is rejected.
func (s *Store) Bootstrap(ctx context.Context, createdBy string, now time.Time) error {
	marker := Marker{
		DataFormatVersion: CurrentDataFormatVersion,
		CreatedBy:         createdBy,
		CreatedAt:         now.UTC().Format(time.RFC3339),
	}
	payload, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry marker: %w", err)
	}
	_, err = s.blobs.Put(ctx, MarkerFile, bytes.NewReader(payload), blob.PutOptions{ContentType: contentTypeJSON})
	if errors.Is(err, blob.ErrExists) {
		return domain.ErrInvalidOperation{Operation: "create_registry", Reason: "base is already an initialized registry"}
	}
	if err != nil {
		return fmt.Errorf("write registry marker: %w", err)
	}
	return nil
}

// Verify checks that the base holds an initialized registry and returns its
// marker. Every other operation assumes Verify has passed at least once.
func (s *Store) Verify(ctx context.Context) (Marker, error) {
	_, rc, err := s.blobs.Get(ctx, MarkerFile)
	if errors.Is(err, blob.ErrNotExist) {
		return Marker{}, domain.ErrInvalidRegistryState{Path: MarkerFile, Reason: "base is not an initialized registry"}
	}
	if err != nil {
		return Marker{}, fmt.Errorf("read registry marker: %w", err)
	}
	defer rc.Close()
	var marker Marker
	if err := json.NewDecoder(rc).Decode(&marker); err != nil {
		return Marker{}, domain.ErrInvalidRegistryState{Path: MarkerFile, Reason: "unreadable registry marker"}
	}
	if err := validateMarker(marker); err != nil {
		return Marker{}, domain.ErrInvalidRegistryState{Path: MarkerFile, Reason: err.Error()}
	}
	return marker, nil
}

// WriteConfig stores the config document of a new snapshot version. The key
// is create-only: a version directory is never overwritten, and a second
// write of the same version is rejected as already existing.
func (s *Store) WriteConfig(ctx context.Context, kind domain.EntityKind, id string, v domain.Version, doc any) error {
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s config: %w", kind, err)
	}
	key := ConfigKey(kind, id, v)
	_, err = s.blobs.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{ContentType: contentTypeJSON})
	if errors.Is(err, blob.ErrExists) {
		return domain.ErrAlreadyExists{Entity: kind, ID: id, Version: &v}
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// ReadConfig loads the config document of one snapshot version into out.
func (s *Store) ReadConfig(ctx context.Context, kind domain.EntityKind, id string, v domain.Version, out any) error {
	key := ConfigKey(kind, id, v)
	_, rc, err := s.blobs.Get(ctx, key)
	if errors.Is(err, blob.ErrNotExist) {
		return domain.ErrNotFound{Entity: kind, ID: id, Version: &v}
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	defer rc.Close()
	if err := json.NewDecoder(rc).Decode(out); err != nil {
		return domain.ErrInvalidRegistryState{Path: key, Reason: "unreadable snapshot config"}
	}
	return nil
}

// WriteRecords stores the record table of a new snapshot version.
func (s *Store) WriteRecords(ctx context.Context, kind domain.EntityKind, id string, v domain.Version, data []byte) error {
	key := RecordsKey(kind, id, v)
	_, err := s.blobs.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{ContentType: contentTypeCSV})
	if errors.Is(err, blob.ErrExists) {
		return domain.ErrAlreadyExists{Entity: kind, ID: id, Version: &v}
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// ReadRecords loads the record table of one snapshot version.
func (s *Store) ReadRecords(ctx context.Context, kind domain.EntityKind, id string, v domain.Version) ([]byte, error) {
	key := RecordsKey(kind, id, v)
	_, rc, err := s.blobs.Get(ctx, key)
	if errors.Is(err, blob.ErrNotExist) {
		return nil, domain.ErrNotFound{Entity: kind, ID: id, Version: &v}
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// WriteDataFile stores one submitted data file inside a dataset snapshot.
func (s *Store) WriteDataFile(ctx context.Context, datasetID string, v domain.Version, rel string, r io.Reader, contentType string) error {
	if rel == "" || strings.HasPrefix(rel, "/") || strings.Contains(rel, "..") {
		return fmt.Errorf("data file path %q escapes the snapshot", rel)
	}
	key := DataFileKey(datasetID, v, rel)
	_, err := s.blobs.Put(ctx, key, r, blob.PutOptions{ContentType: contentType})
	if errors.Is(err, blob.ErrExists) {
		return domain.ErrAlreadyExists{Entity: domain.EntityDataset, ID: datasetID, Version: &v}
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// OpenDataFile opens one submitted data file for reading.
func (s *Store) OpenDataFile(ctx context.Context, datasetID string, v domain.Version, rel string) (blob.Info, io.ReadCloser, error) {
	key := DataFileKey(datasetID, v, rel)
	info, rc, err := s.blobs.Get(ctx, key)
	if errors.Is(err, blob.ErrNotExist) {
		return blob.Info{}, nil, domain.ErrNotFound{Entity: domain.EntityDataset, ID: datasetID, Version: &v}
	}
	if err != nil {
		return blob.Info{}, nil, fmt.Errorf("read %s: %w", key, err)
	}
	return info, rc, nil
}

// WriteHeader replaces the mutable header of one entity. The caller is
// expected to hold the registry lock while the old header is swapped out.
func (s *Store) WriteHeader(ctx context.Context, kind domain.EntityKind, id string, header any) error {
	payload, err := json.MarshalIndent(header, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s header: %w", kind, err)
	}
	key := HeaderKey(kind, id)
	if _, err := s.blobs.Delete(ctx, key); err != nil {
		return fmt.Errorf("replace %s: %w", key, err)
	}
	if _, err := s.blobs.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{ContentType: contentTypeJSON}); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// ReadHeader loads the mutable header of one entity into out.
func (s *Store) ReadHeader(ctx context.Context, kind domain.EntityKind, id string, out any) error {
	key := HeaderKey(kind, id)
	_, rc, err := s.blobs.Get(ctx, key)
	if errors.Is(err, blob.ErrNotExist) {
		return domain.ErrNotFound{Entity: kind, ID: id}
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	defer rc.Close()
	if err := json.NewDecoder(rc).Decode(out); err != nil {
		return domain.ErrInvalidRegistryState{Path: key, Reason: "unreadable entity header"}
	}
	return nil
}

// HasEntity reports whether an entity header exists.
func (s *Store) HasEntity(ctx context.Context, kind domain.EntityKind, id string) (bool, error) {
	_, err := s.blobs.Head(ctx, HeaderKey(kind, id))
	if errors.Is(err, blob.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("head %s: %w", HeaderKey(kind, id), err)
	}
	return true, nil
}

// ListVersions returns the snapshot versions present for one entity in
// ascending order.
func (s *Store) ListVersions(ctx context.Context, kind domain.EntityKind, id string) ([]domain.Version, error) {
	infos, err := s.blobs.List(ctx, EntityDir(kind, id)+"/")
	if err != nil {
		return nil, fmt.Errorf("list %s %s: %w", kind, id, err)
	}
	seen := make(map[domain.Version]bool)
	var versions []domain.Version
	for _, info := range infos {
		v, ok := ParseVersionSegment(kind, id, info.Key)
		if !ok || seen[v] {
			continue
		}
		seen[v] = true
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Less(versions[j]) })
	return versions, nil
}

// ListIDs returns the ids of all entities of one kind in ascending order.
func (s *Store) ListIDs(ctx context.Context, kind domain.EntityKind) ([]string, error) {
	infos, err := s.blobs.List(ctx, kind.DirName()+"/")
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	seen := make(map[string]bool)
	var ids []string
	for _, info := range infos {
		id, ok := ParseIDSegment(kind, info.Key)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteEntity removes every key below one entity dir, header included.
// Removal is best-effort: all keys are attempted and failures are joined.
func (s *Store) DeleteEntity(ctx context.Context, kind domain.EntityKind, id string) (int, error) {
	infos, err := s.blobs.List(ctx, EntityDir(kind, id)+"/")
	if err != nil {
		return 0, fmt.Errorf("list %s %s: %w", kind, id, err)
	}
	deleted := 0
	var errs []error
	for _, info := range infos {
		ok, err := s.blobs.Delete(ctx, info.Key)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", info.Key, err))
			continue
		}
		if ok {
			deleted++
		}
	}
	return deleted, errors.Join(errs...)
}
