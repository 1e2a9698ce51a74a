// Package lock implements advisory registry locks on top of the blob store.
//
// A lock is a JSON file under configs/.locks/ naming its holder. Acquisition
// is a create-only blob write, so exactly one contender can win; everyone
// else reads the file and reports who holds it. Locks are advisory: they
// serialize cooperating registry writers and do nothing against tooling that
// bypasses the manager.
package lock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gridreg/internal/blob"
	"gridreg/pkg/domain"
)

// Dir is the only directory lock files may live in. The matching directory
// under data/ is reserved for a future data-path locking scheme and is
// rejected explicitly.
const (
	Dir         = "configs/.locks"
	reservedDir = "data/.locks"
	// Suffix is required on every lock name.
	Suffix = ".lock"
)

// Record is the serialized lock content.
type Record struct {
	Username  string    `json:"username"`
	UUID      string    `json:"uuid"`
	Timestamp time.Time `json:"timestamp"`
}

// Held pairs a lock key with its decoded record, for listings.
type Held struct {
	Key    string
	Record Record
}

// Manager acquires and releases advisory locks for a single owner identity.
// One manager represents one registry session: it carries the username plus
// a session uuid, and re-acquiring a lock this session already holds
// succeeds.
type Manager struct {
	store    blob.Store
	username string
	uuid     string
	now      func() time.Time
}

// NewManager returns a lock manager owned by username with a fresh session id.
func NewManager(store blob.Store, username string) *Manager {
	return &Manager{store: store, username: username, uuid: uuid.NewString(), now: func() time.Time { return time.Now().UTC() }}
}

// Username returns the owner identity locks are stamped with.
func (m *Manager) Username() string { return m.username }

// SessionID returns the uuid stamped into acquired locks.
func (m *Manager) SessionID() string { return m.uuid }

// Key validates a lock name and returns its blob key under the lock
// directory. Names must carry the .lock suffix.
func Key(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty lock name")
	}
	if strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("lock name %q must not contain path separators", name)
	}
	if !strings.HasSuffix(name, Suffix) {
		return "", fmt.Errorf("lock name %q must end in %s", name, Suffix)
	}
	return Dir + "/" + name, nil
}

// CheckKey validates a fully qualified lock key. Keys under the reserved
// data lock directory are recognised but unsupported.
func CheckKey(key string) error {
	if strings.HasPrefix(key, reservedDir+"/") {
		return domain.ErrUnsupportedLockKind{Path: key}
	}
	if !strings.HasPrefix(key, Dir+"/") {
		return fmt.Errorf("lock key %q is outside %s", key, Dir)
	}
	if !strings.HasSuffix(key, Suffix) {
		return fmt.Errorf("lock key %q must end in %s", key, Suffix)
	}
	return nil
}

// Acquire takes the named lock. When another owner holds it the error is a
// domain.ErrLockContended naming the holder; when this session already holds
// it the acquisition succeeds without rewriting the lock file.
func (m *Manager) Acquire(ctx context.Context, name string) (*Lease, error) {
	key, err := Key(name)
	if err != nil {
		return nil, err
	}
	record := Record{Username: m.username, UUID: m.uuid, Timestamp: m.now()}
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	// A failed create races against a concurrent release, so retry the
	// create when the holder vanishes between the two reads.
	for attempt := 0; attempt < 3; attempt++ {
		_, err := m.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{ContentType: "application/json"})
		if err == nil {
			return &Lease{mgr: m, key: key}, nil
		}
		if !errors.Is(err, blob.ErrExists) {
			return nil, err
		}
		existing, readErr := m.read(ctx, key)
		if errors.Is(readErr, blob.ErrNotExist) {
			continue
		}
		if readErr != nil {
			return nil, readErr
		}
		if existing.UUID == m.uuid && existing.Username == m.username {
			return &Lease{mgr: m, key: key}, nil
		}
		return nil, domain.ErrLockContended{Name: name, Holder: existing.Username, AcquiredAt: existing.Timestamp}
	}
	return nil, fmt.Errorf("lock %s: gave up after repeated create races", name)
}

// Release removes the named lock. Unless forced, only the holding session
// may release; a mismatched holder is reported as contention.
func (m *Manager) Release(ctx context.Context, name string, force bool) error {
	key, err := Key(name)
	if err != nil {
		return err
	}
	return m.release(ctx, key, force)
}

func (m *Manager) release(ctx context.Context, key string, force bool) error {
	existing, err := m.read(ctx, key)
	if errors.Is(err, blob.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !force && (existing.UUID != m.uuid || existing.Username != m.username) {
		name := strings.TrimPrefix(key, Dir+"/")
		return domain.ErrLockContended{Name: name, Holder: existing.Username, AcquiredAt: existing.Timestamp}
	}
	_, err = m.store.Delete(ctx, key)
	return err
}

// WithLock runs fn while holding the named lock, releasing it on the way out
// even when fn fails or the surrounding context is already canceled.
func (m *Manager) WithLock(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	lease, err := m.Acquire(ctx, name)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := lease.Release(context.WithoutCancel(ctx)); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(ctx)
}

// List returns all currently held locks in key order.
func (m *Manager) List(ctx context.Context) ([]Held, error) {
	infos, err := m.store.List(ctx, Dir+"/")
	if err != nil {
		return nil, err
	}
	held := make([]Held, 0, len(infos))
	for _, info := range infos {
		if !strings.HasSuffix(info.Key, Suffix) {
			continue
		}
		rec, err := m.read(ctx, info.Key)
		if errors.Is(err, blob.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		held = append(held, Held{Key: info.Key, Record: rec})
	}
	return held, nil
}

func (m *Manager) read(ctx context.Context, key string) (Record, error) {
	_, rc, err := m.store.Get(ctx, key)
	if err != nil {
		return Record{}, err
	}
	defer func() { _ = rc.Close() }()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, domain.ErrInvalidRegistryState{Path: key, Reason: "unreadable lock content"}
	}
	return rec, nil
}

// Lease is a held lock scoped to the acquiring manager. Releasing twice is a
// no-op.
type Lease struct {
	mgr      *Manager
	key      string
	mu       sync.Mutex
	released bool
}

// Key returns the blob key of the held lock.
func (l *Lease) Key() string { return l.key }

// Release drops the lock.
func (l *Lease) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}
	if err := l.mgr.release(ctx, l.key, false); err != nil {
		return err
	}
	l.released = true
	return nil
}
