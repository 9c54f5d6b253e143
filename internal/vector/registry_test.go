package vector_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DAJ8112/Yanck/internal/vector"
)

func entry(chunk, doc string, v ...float32) vector.Entry {
	return vector.Entry{ChunkID: chunk, DocumentID: doc, Vector: v}
}

func queryIDs(t *testing.T, r *vector.Registry, tenant string, q []float32, k int) []string {
	t.Helper()
	var ids []string
	err := r.View(context.Background(), tenant, func(idx vector.Index) error {
		matches, err := idx.Query(context.Background(), q, k)
		for _, m := range matches {
			ids = append(ids, m.ChunkID)
		}
		return err
	})
	require.NoError(t, err)
	return ids
}

func TestRegistry_LazyLoadFromSource(t *testing.T) {
	src := newFakeSource()
	src.set("t1", entry("x", "d1", 1, 0), entry("y", "d2", 0, 1))
	r := vector.NewRegistry(memoryFactory(2), src, vector.RegistryOptions{})

	assert.Equal(t, []string{"x"}, queryIDs(t, r, "t1", []float32{1, 0}, 1))
	assert.Equal(t, []string{"y"}, queryIDs(t, r, "t1", []float32{0, 1}, 1))
	assert.Equal(t, 1, src.loadCount())
}

func TestRegistry_EmptyTenant(t *testing.T) {
	r := vector.NewRegistry(memoryFactory(2), newFakeSource(), vector.RegistryOptions{})
	assert.Empty(t, queryIDs(t, r, "nobody", []float32{1, 0}, 5))
}

func TestRegistry_TenantsAreIsolated(t *testing.T) {
	src := newFakeSource()
	src.set("t1", entry("a", "d1", 1, 0))
	src.set("t2", entry("b", "d2", 1, 0))
	r := vector.NewRegistry(memoryFactory(2), src, vector.RegistryOptions{})

	assert.Equal(t, []string{"a"}, queryIDs(t, r, "t1", []float32{1, 0}, 5))
	assert.Equal(t, []string{"b"}, queryIDs(t, r, "t2", []float32{1, 0}, 5))
}

func TestRegistry_SnapshotRestore(t *testing.T) {
	src := newFakeSource()
	entries := []vector.Entry{entry("a", "d", 1, 0), entry("b", "d", 0, 1)}
	src.set("t1", entries...)

	snaps := newMemorySnapshots()
	require.NoError(t, snaps.Save(context.Background(), "t1", vector.Snapshot{
		Digest:  vector.Digest([]string{"a", "b"}),
		Entries: entries,
	}))

	r := vector.NewRegistry(memoryFactory(2), src, vector.RegistryOptions{Snapshots: snaps})
	assert.Equal(t, []string{"b"}, queryIDs(t, r, "t1", []float32{0, 1}, 1))
	assert.Equal(t, 0, src.loadCount(), "matching snapshot should avoid a source load")
}

func TestRegistry_StaleSnapshotIgnored(t *testing.T) {
	src := newFakeSource()
	src.set("t1", entry("a", "d", 1, 0), entry("c", "d", 0, 1))

	snaps := newMemorySnapshots()
	require.NoError(t, snaps.Save(context.Background(), "t1", vector.Snapshot{
		Digest:  vector.Digest([]string{"a", "b"}),
		Entries: []vector.Entry{entry("a", "d", 1, 0), entry("b", "d", 0, 1)},
	}))

	r := vector.NewRegistry(memoryFactory(2), src, vector.RegistryOptions{Snapshots: snaps})
	assert.Equal(t, []string{"c"}, queryIDs(t, r, "t1", []float32{0, 1}, 1))
	assert.Equal(t, 1, src.loadCount())
}

func TestRegistry_UpdateCorruptionRebuilds(t *testing.T) {
	src := newFakeSource()
	src.set("t1", entry("a", "d1", 1, 0))
	r := vector.NewRegistry(memoryFactory(2), src, vector.RegistryOptions{})
	ctx := context.Background()

	// the committed state now includes b, but the index apply fails
	src.set("t1", entry("a", "d1", 1, 0), entry("b", "d2", 0, 1))
	err := r.Update(ctx, "t1", func(idx vector.Index) error {
		return fmt.Errorf("%w: add failed", vector.ErrIndexCorruption)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, queryIDs(t, r, "t1", []float32{0, 1}, 1))
}

func TestRegistry_UpdateErrorPassesThrough(t *testing.T) {
	r := vector.NewRegistry(memoryFactory(2), newFakeSource(), vector.RegistryOptions{})
	boom := errors.New("boom")

	err := r.Update(context.Background(), "t1", func(vector.Index) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestRegistry_Verify(t *testing.T) {
	src := newFakeSource()
	src.set("t1", entry("a", "d1", 1, 0))
	r := vector.NewRegistry(memoryFactory(2), src, vector.RegistryOptions{})
	ctx := context.Background()

	repaired, err := r.Verify(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, repaired, "unloaded tenants are skipped")

	queryIDs(t, r, "t1", []float32{1, 0}, 1)
	repaired, err = r.Verify(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, repaired)

	// an entry leaks into the index without being persisted
	require.NoError(t, r.Update(ctx, "t1", func(idx vector.Index) error {
		return idx.Add(ctx, entry("ghost", "d9", 0, 1))
	}))
	repaired, err = r.Verify(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, repaired)
	assert.Equal(t, []string{"a"}, queryIDs(t, r, "t1", []float32{0, 1}, 5))
}

func TestRegistry_RebuildPicksUpSource(t *testing.T) {
	src := newFakeSource()
	src.set("t1", entry("a", "d1", 1, 0))
	r := vector.NewRegistry(memoryFactory(2), src, vector.RegistryOptions{})

	queryIDs(t, r, "t1", []float32{1, 0}, 1)
	src.set("t1", entry("z", "d3", 1, 0))

	require.NoError(t, r.Rebuild(context.Background(), "t1"))
	assert.Equal(t, []string{"z"}, queryIDs(t, r, "t1", []float32{1, 0}, 5))
}

func TestRegistry_EvictionSnapshots(t *testing.T) {
	src := newFakeSource()
	src.set("t1", entry("a", "d1", 1, 0))
	src.set("t2", entry("b", "d2", 1, 0))
	snaps := newMemorySnapshots()
	r := vector.NewRegistry(memoryFactory(2), src, vector.RegistryOptions{MaxResident: 1, Snapshots: snaps})

	queryIDs(t, r, "t1", []float32{1, 0}, 1)
	queryIDs(t, r, "t2", []float32{1, 0}, 1)

	assert.Equal(t, []string{"t2"}, r.Resident())
	snap, err := snaps.Load(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Len(t, snap.Entries, 1)

	// coming back restores from the snapshot
	loads := src.loadCount()
	assert.Equal(t, []string{"a"}, queryIDs(t, r, "t1", []float32{1, 0}, 1))
	assert.Equal(t, loads, src.loadCount())
}

func TestRegistry_CloseSnapshotsResident(t *testing.T) {
	src := newFakeSource()
	src.set("t1", entry("a", "d1", 1, 0))
	snaps := newMemorySnapshots()
	r := vector.NewRegistry(memoryFactory(2), src, vector.RegistryOptions{Snapshots: snaps})

	queryIDs(t, r, "t1", []float32{1, 0}, 1)
	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, 1, snaps.saves)
}

func TestRegistry_ConcurrentUpdates(t *testing.T) {
	r := vector.NewRegistry(memoryFactory(2), newFakeSource(), vector.RegistryOptions{})
	ctx := context.Background()

	const jobs, perJob = 8, 25
	var wg sync.WaitGroup
	for j := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.Update(ctx, "t1", func(idx vector.Index) error {
				for c := range perJob {
					if err := idx.Add(ctx, entry(fmt.Sprintf("j%d-c%d", j, c), fmt.Sprintf("d%d", j), 1, float32(c))); err != nil {
						return err
					}
				}
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var n int
	require.NoError(t, r.View(ctx, "t1", func(idx vector.Index) error {
		var err error
		n, err = idx.Len(ctx)
		return err
	}))
	assert.Equal(t, jobs*perJob, n)
}
