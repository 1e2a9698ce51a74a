// Package catalog provides the transactional head-state catalog backing the
// registry. The catalog is derived data: one entry per entity summarizing its
// latest registered version, rebuildable from the snapshot headers.
package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"gridreg/pkg/domain"
)

type memoryState struct {
	entries map[domain.EntityKind]map[string]domain.CatalogEntry
}

// Snapshot is the serialisable representation of the in-memory state.
type Snapshot struct {
	Projects          map[string]domain.CatalogEntry `json:"projects"`
	Datasets          map[string]domain.CatalogEntry `json:"datasets"`
	Dimensions        map[string]domain.CatalogEntry `json:"dimensions"`
	DimensionMappings map[string]domain.CatalogEntry `json:"dimension_mappings"`
}

func newMemoryState() memoryState {
	state := memoryState{entries: make(map[domain.EntityKind]map[string]domain.CatalogEntry)}
	for _, kind := range domain.EntityKinds() {
		state.entries[kind] = make(map[string]domain.CatalogEntry)
	}
	return state
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for kind, bucket := range s.entries {
		for id, entry := range bucket {
			cloned.entries[kind][id] = cloneEntry(entry)
		}
	}
	return cloned
}

func cloneEntry(e domain.CatalogEntry) domain.CatalogEntry {
	cp := e
	if e.Datasets != nil {
		cp.Datasets = make([]domain.DatasetSlot, len(e.Datasets))
		for i, slot := range e.Datasets {
			cp.Datasets[i] = slot
			if slot.Version != nil {
				v := *slot.Version
				cp.Datasets[i].Version = &v
			}
		}
	}
	return cp
}

// MemoryStore provides an in-memory transactional catalog backed by the
// provided rules engine.
type MemoryStore struct {
	mu     sync.RWMutex
	state  memoryState
	engine *domain.RulesEngine
	nowFn  func() time.Time
}

// NewMemoryStore constructs an in-memory catalog. A nil engine means no rules
// run at commit.
func NewMemoryStore(engine *domain.RulesEngine) *MemoryStore {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &MemoryStore{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

var _ domain.PersistentCatalog = (*MemoryStore)(nil)

// Tx represents a mutation set applied to the catalog state.
type Tx struct {
	store   *MemoryStore
	state   memoryState
	changes []domain.Change
	now     time.Time
}

type view struct {
	state *memoryState
}

func newView(state *memoryState) view {
	return view{state: state}
}

// ListEntries returns all entries of one kind sorted by id.
func (v view) ListEntries(kind domain.EntityKind) []domain.CatalogEntry {
	bucket := v.state.entries[kind]
	out := make([]domain.CatalogEntry, 0, len(bucket))
	for _, entry := range bucket {
		out = append(out, cloneEntry(entry))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindEntry retrieves an entry by kind and id.
func (v view) FindEntry(kind domain.EntityKind, id string) (domain.CatalogEntry, bool) {
	entry, ok := v.state.entries[kind][id]
	if !ok {
		return domain.CatalogEntry{}, false
	}
	return cloneEntry(entry), true
}

// RunInTransaction executes fn within a transactional copy of the catalog
// state. Registered rules evaluate against the proposed state before commit;
// blocking violations roll the transaction back.
func (s *MemoryStore) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return domain.Result{}, err
	}

	var result domain.Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, newView(&tx.state), tx.changes)
		if err != nil {
			return domain.Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the catalog state.
func (s *MemoryStore) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(newView(&snapshot))
}

// FindEntry retrieves an entry by kind and id from committed state.
func (s *MemoryStore) FindEntry(kind domain.EntityKind, id string) (domain.CatalogEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newView(&s.state).FindEntry(kind, id)
}

// ListEntries returns all committed entries of one kind sorted by id.
func (s *MemoryStore) ListEntries(kind domain.EntityKind) []domain.CatalogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newView(&s.state).ListEntries(kind)
}

// ExportState returns a deep copy of the committed state for persistence.
func (s *MemoryStore) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := Snapshot{
		Projects:          make(map[string]domain.CatalogEntry, len(s.state.entries[domain.EntityProject])),
		Datasets:          make(map[string]domain.CatalogEntry, len(s.state.entries[domain.EntityDataset])),
		Dimensions:        make(map[string]domain.CatalogEntry, len(s.state.entries[domain.EntityDimension])),
		DimensionMappings: make(map[string]domain.CatalogEntry, len(s.state.entries[domain.EntityDimensionMapping])),
	}
	for id, entry := range s.state.entries[domain.EntityProject] {
		snapshot.Projects[id] = cloneEntry(entry)
	}
	for id, entry := range s.state.entries[domain.EntityDataset] {
		snapshot.Datasets[id] = cloneEntry(entry)
	}
	for id, entry := range s.state.entries[domain.EntityDimension] {
		snapshot.Dimensions[id] = cloneEntry(entry)
	}
	for id, entry := range s.state.entries[domain.EntityDimensionMapping] {
		snapshot.DimensionMappings[id] = cloneEntry(entry)
	}
	return snapshot
}

// ImportState replaces the committed state from a persisted snapshot.
func (s *MemoryStore) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := newMemoryState()
	for id, entry := range snapshot.Projects {
		state.entries[domain.EntityProject][id] = cloneEntry(entry)
	}
	for id, entry := range snapshot.Datasets {
		state.entries[domain.EntityDataset][id] = cloneEntry(entry)
	}
	for id, entry := range snapshot.Dimensions {
		state.entries[domain.EntityDimension][id] = cloneEntry(entry)
	}
	for id, entry := range snapshot.DimensionMappings {
		state.entries[domain.EntityDimensionMapping][id] = cloneEntry(entry)
	}
	s.state = state
}

func (tx *Tx) recordChange(change domain.Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot exposes the transactional state for reads inside fn.
func (tx *Tx) Snapshot() domain.TransactionView {
	return newView(&tx.state)
}

// PutEntry stores a new catalog entry within the transaction.
func (tx *Tx) PutEntry(entry domain.CatalogEntry) (domain.CatalogEntry, error) {
	if entry.ID == "" {
		return domain.CatalogEntry{}, domain.ErrInvalidOperation{Operation: "put_entry", Reason: "catalog entry id is required"}
	}
	bucket, ok := tx.state.entries[entry.Kind]
	if !ok {
		return domain.CatalogEntry{}, domain.ErrInvalidOperation{Operation: "put_entry", Reason: "unknown entity kind " + string(entry.Kind)}
	}
	if _, exists := bucket[entry.ID]; exists {
		return domain.CatalogEntry{}, domain.ErrAlreadyExists{Entity: entry.Kind, ID: entry.ID}
	}
	if entry.RegisteredAt.IsZero() {
		entry.RegisteredAt = tx.now
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = tx.now
	}
	bucket[entry.ID] = cloneEntry(entry)
	tx.recordChange(domain.Change{Entity: entry.Kind, Action: domain.ActionCreate, After: cloneEntry(entry)})
	return cloneEntry(entry), nil
}

// UpdateEntry mutates an entry using the provided mutator function.
func (tx *Tx) UpdateEntry(kind domain.EntityKind, id string, mutator func(*domain.CatalogEntry) error) (domain.CatalogEntry, error) {
	bucket, ok := tx.state.entries[kind]
	if !ok {
		return domain.CatalogEntry{}, domain.ErrInvalidOperation{Operation: "update_entry", Reason: "unknown entity kind " + string(kind)}
	}
	current, ok := bucket[id]
	if !ok {
		return domain.CatalogEntry{}, domain.ErrNotFound{Entity: kind, ID: id}
	}
	before := cloneEntry(current)
	if err := mutator(&current); err != nil {
		return domain.CatalogEntry{}, err
	}
	current.Kind = kind
	current.ID = id
	current.UpdatedAt = tx.now
	bucket[id] = cloneEntry(current)
	tx.recordChange(domain.Change{Entity: kind, Action: domain.ActionUpdate, Before: before, After: cloneEntry(current)})
	return cloneEntry(current), nil
}

// DeleteEntry removes an entry from the transaction state.
func (tx *Tx) DeleteEntry(kind domain.EntityKind, id string) error {
	bucket, ok := tx.state.entries[kind]
	if !ok {
		return domain.ErrInvalidOperation{Operation: "delete_entry", Reason: "unknown entity kind " + string(kind)}
	}
	current, ok := bucket[id]
	if !ok {
		return domain.ErrNotFound{Entity: kind, ID: id}
	}
	delete(bucket, id)
	tx.recordChange(domain.Change{Entity: kind, Action: domain.ActionDelete, Before: cloneEntry(current)})
	return nil
}
