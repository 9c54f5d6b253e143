package vector

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Source is the authoritative store of persisted embeddings. Only chunks of
// documents in the ready state count.
type Source interface {
	CountEmbeddings(ctx context.Context, tenantID string) (int, error)
	LoadEmbeddings(ctx context.Context, tenantID string) ([]Entry, error)
	Fingerprint(ctx context.Context, tenantID string) (Fingerprint, error)
}

// Fingerprint identifies the set of persisted embeddings of a tenant.
type Fingerprint struct {
	Count  int
	Digest string
}

// Snapshot is a dump of a tenant index.
type Snapshot struct {
	Digest  string
	Entries []Entry
}

type SnapshotStore interface {
	Save(ctx context.Context, tenantID string, snap Snapshot) error
	Load(ctx context.Context, tenantID string) (*Snapshot, error)
}

type RegistryOptions struct {
	MaxResident int
	Snapshots   SnapshotStore
	Logger      *slog.Logger
}

// Registry owns one index per tenant, loaded on first use.
//
// Each tenant has a read/write lock: queries share it, mutations hold it
// exclusively. At most MaxResident tenants stay loaded; the least recently
// used unpinned tenant is snapshotted and dropped when the limit is passed.
type Registry struct {
	mu          sync.Mutex
	tenants     map[string]*list.Element
	lru         *list.List
	maxResident int

	newIndex  Factory
	source    Source
	snapshots SnapshotStore
	logger    *slog.Logger
}

type tenantIndex struct {
	id    string
	mu    sync.RWMutex
	index Index
	// gen counts mutations, so an index built off to the side can tell
	// whether it missed one.
	gen  uint64
	refs int
}

func NewRegistry(factory Factory, source Source, opts RegistryOptions) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tenants:     make(map[string]*list.Element),
		lru:         list.New(),
		maxResident: opts.MaxResident,
		newIndex:    factory,
		source:      source,
		snapshots:   opts.Snapshots,
		logger:      logger.With("component", "index-registry"),
	}
}

// View runs fn with the tenant index under the shared lock.
func (r *Registry) View(ctx context.Context, tenantID string, fn func(Index) error) error {
	t := r.acquire(ctx, tenantID)
	defer r.release(t)

	if err := r.ensureLoaded(ctx, t); err != nil {
		return err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	return fn(t.index)
}

// Update runs fn with the tenant index under the exclusive lock. When fn
// reports ErrIndexCorruption the tenant is rebuilt from the source before the
// lock is released, and Update succeeds if the rebuild does.
func (r *Registry) Update(ctx context.Context, tenantID string, fn func(Index) error) error {
	t := r.acquire(ctx, tenantID)
	defer r.release(t)

	if err := r.ensureLoaded(ctx, t); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	err := fn(t.index)
	if err == nil || !errors.Is(err, ErrIndexCorruption) {
		return err
	}

	r.logger.WarnContext(ctx, "index update failed, rebuilding tenant", "tenant_id", tenantID, "error", err)
	if rerr := r.rebuildLocked(ctx, t); rerr != nil {
		return fmt.Errorf("rebuild after %v: %w", err, rerr)
	}
	return nil
}

// Rebuild replaces the tenant index with one built from the source. The new
// index is built without holding the lock and swapped in only if no mutation
// happened meanwhile; after repeated contention it is built under the lock.
func (r *Registry) Rebuild(ctx context.Context, tenantID string) error {
	t := r.acquire(ctx, tenantID)
	defer r.release(t)

	fresh, err := r.newIndex(tenantID)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}

	if _, shared := fresh.(Resetter); !shared {
		for range 3 {
			t.mu.RLock()
			gen := t.gen
			t.mu.RUnlock()

			n, err := r.fill(ctx, tenantID, fresh)
			if err != nil {
				return err
			}

			t.mu.Lock()
			if t.gen == gen {
				t.index = fresh
				t.mu.Unlock()
				r.logger.InfoContext(ctx, "tenant index rebuilt", "tenant_id", tenantID, "vectors", n)
				return nil
			}
			t.mu.Unlock()

			if fresh, err = r.newIndex(tenantID); err != nil {
				return fmt.Errorf("create index: %w", err)
			}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return r.rebuildLocked(ctx, t)
}

// Verify compares the resident index with the persisted embedding count and
// rebuilds the tenant on mismatch. Tenants that are not loaded are skipped.
// It reports whether a repair happened.
func (r *Registry) Verify(ctx context.Context, tenantID string) (bool, error) {
	r.mu.Lock()
	el, ok := r.tenants[tenantID]
	r.mu.Unlock()
	if !ok {
		return false, nil
	}
	t := el.Value.(*tenantIndex)

	t.mu.RLock()
	if t.index == nil {
		t.mu.RUnlock()
		return false, nil
	}
	have, err := t.index.Len(ctx)
	if err != nil {
		t.mu.RUnlock()
		return false, fmt.Errorf("index length: %w", err)
	}
	want, err := r.source.CountEmbeddings(ctx, tenantID)
	t.mu.RUnlock()
	if err != nil {
		return false, fmt.Errorf("count embeddings: %w", err)
	}

	if have == want {
		return false, nil
	}

	r.logger.ErrorContext(ctx, "index does not match persisted embeddings",
		"tenant_id", tenantID, "indexed", have, "persisted", want, "error", ErrIndexCorruption)
	if err := r.Rebuild(ctx, tenantID); err != nil {
		return false, fmt.Errorf("%w: repair failed: %v", ErrIndexCorruption, err)
	}
	return true, nil
}

// Resident lists the tenants currently loaded.
func (r *Registry) Resident() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.tenants))
	for el := r.lru.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*tenantIndex).id)
	}
	return out
}

// Close snapshots every resident tenant.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	victims := make([]*tenantIndex, 0, r.lru.Len())
	for el := r.lru.Front(); el != nil; el = el.Next() {
		victims = append(victims, el.Value.(*tenantIndex))
	}
	r.mu.Unlock()

	var errs []error
	for _, t := range victims {
		if err := r.snapshot(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) acquire(ctx context.Context, tenantID string) *tenantIndex {
	r.mu.Lock()

	var t *tenantIndex
	if el, ok := r.tenants[tenantID]; ok {
		r.lru.MoveToFront(el)
		t = el.Value.(*tenantIndex)
	} else {
		t = &tenantIndex{id: tenantID}
		r.tenants[tenantID] = r.lru.PushFront(t)
	}
	t.refs++

	var victims []*tenantIndex
	if r.maxResident > 0 {
		for el := r.lru.Back(); el != nil && r.lru.Len() > r.maxResident; {
			prev := el.Prev()
			v := el.Value.(*tenantIndex)
			if v.refs == 0 {
				r.lru.Remove(el)
				delete(r.tenants, v.id)
				victims = append(victims, v)
			}
			el = prev
		}
	}
	r.mu.Unlock()

	for _, v := range victims {
		if err := r.snapshot(ctx, v); err != nil {
			r.logger.WarnContext(ctx, "snapshot on eviction failed", "tenant_id", v.id, "error", err)
		}
		r.logger.DebugContext(ctx, "tenant index evicted", "tenant_id", v.id)
	}
	return t
}

func (r *Registry) release(t *tenantIndex) {
	r.mu.Lock()
	t.refs--
	r.mu.Unlock()
}

func (r *Registry) ensureLoaded(ctx context.Context, t *tenantIndex) error {
	t.mu.RLock()
	loaded := t.index != nil
	t.mu.RUnlock()
	if loaded {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.index != nil {
		return nil
	}
	return r.loadLocked(ctx, t)
}

// loadLocked tries the snapshot first, then the index's own contents for
// backends that persist them, then a full rebuild.
func (r *Registry) loadLocked(ctx context.Context, t *tenantIndex) error {
	idx, err := r.newIndex(t.id)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}

	fp, err := r.source.Fingerprint(ctx, t.id)
	if err != nil {
		return fmt.Errorf("fingerprint embeddings: %w", err)
	}

	if _, shared := idx.(Resetter); shared {
		if n, err := idx.Len(ctx); err == nil && n == fp.Count {
			t.index = idx
			return nil
		}
		return r.rebuildLocked(ctx, t)
	}

	if fp.Count == 0 {
		t.index = idx
		return nil
	}

	if r.snapshots != nil {
		snap, err := r.snapshots.Load(ctx, t.id)
		switch {
		case err != nil:
			r.logger.WarnContext(ctx, "snapshot unreadable, rebuilding", "tenant_id", t.id, "error", err)
		case snap != nil && snap.Digest == fp.Digest && len(snap.Entries) == fp.Count:
			if err := idx.Add(ctx, snap.Entries...); err == nil {
				t.index = idx
				r.logger.DebugContext(ctx, "tenant index restored from snapshot", "tenant_id", t.id, "vectors", fp.Count)
				return nil
			}
			r.logger.WarnContext(ctx, "snapshot rejected by index, rebuilding", "tenant_id", t.id)
			if idx, err = r.newIndex(t.id); err != nil {
				return fmt.Errorf("create index: %w", err)
			}
		case snap != nil:
			r.logger.InfoContext(ctx, "snapshot is stale, rebuilding", "tenant_id", t.id)
		}
	}

	n, err := r.fill(ctx, t.id, idx)
	if err != nil {
		return err
	}
	t.index = idx
	r.logger.DebugContext(ctx, "tenant index loaded from source", "tenant_id", t.id, "vectors", n)
	return nil
}

func (r *Registry) rebuildLocked(ctx context.Context, t *tenantIndex) error {
	idx, err := r.newIndex(t.id)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if rs, ok := idx.(Resetter); ok {
		if err := rs.Reset(ctx); err != nil {
			return fmt.Errorf("reset index: %w", err)
		}
	}
	n, err := r.fill(ctx, t.id, idx)
	if err != nil {
		return err
	}
	t.index = idx
	t.gen++
	r.logger.InfoContext(ctx, "tenant index rebuilt", "tenant_id", t.id, "vectors", n)
	return nil
}

func (r *Registry) fill(ctx context.Context, tenantID string, idx Index) (int, error) {
	entries, err := r.source.LoadEmbeddings(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("load embeddings: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}
	if err := idx.Add(ctx, entries...); err != nil {
		return 0, fmt.Errorf("populate index: %w", err)
	}
	return len(entries), nil
}

func (r *Registry) snapshot(ctx context.Context, t *tenantIndex) error {
	if r.snapshots == nil {
		return nil
	}

	t.mu.RLock()
	s, ok := t.index.(Snapshotter)
	if !ok {
		t.mu.RUnlock()
		return nil
	}
	entries := s.Entries()
	t.mu.RUnlock()

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ChunkID
	}
	if err := r.snapshots.Save(ctx, t.id, Snapshot{Digest: Digest(ids), Entries: entries}); err != nil {
		return fmt.Errorf("save snapshot for %s: %w", t.id, err)
	}
	return nil
}
