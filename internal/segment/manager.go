package segment

import (
	"strconv"

	"go.uber.org/atomic"

	"github.com/emberindex/ember/internal/ids"
	"github.com/emberindex/ember/internal/keys"
	"github.com/emberindex/ember/internal/kv"
)

// Manager owns segment id allocation and the set of currently-active
// segments, grounded on original_source's
// kite_rocksdb/src/segment_manager.rs SegmentManager.
type Manager struct {
	store  kv.Store
	nextID atomic.Uint32
}

// NewManager creates a fresh manager and persists its counter seed.
func NewManager(store kv.Store) (*Manager, error) {
	m := &Manager{store: store}
	m.nextID.Store(1)
	b := store.NewBatch()
	b.Set(keys.NextSegmentCounter, []byte("1"))
	if err := b.Commit(true); err != nil {
		return nil, err
	}
	return m, nil
}

// OpenManager rebuilds a manager's id counter from the persisted value.
func OpenManager(store kv.Store) (*Manager, error) {
	raw, err := store.Get(keys.NextSegmentCounter)
	if err != nil {
		if err == kv.ErrNotFound {
			return NewManager(store)
		}
		return nil, err
	}
	v, err := strconv.ParseUint(string(raw), 10, 32)
	if err != nil {
		return nil, err
	}
	m := &Manager{store: store}
	m.nextID.Store(uint32(v))
	return m, nil
}

// NewSegment allocates and persists the next SegmentId. The segment is not
// yet active (no SegmentActive key) until its Builder flushes.
func (m *Manager) NewSegment() (ids.SegmentId, error) {
	id := ids.SegmentId(m.nextID.Add(1) - 1)
	b := m.store.NewBatch()
	b.Set(keys.NextSegmentCounter, []byte(strconv.FormatUint(uint64(id)+1, 10)))
	if err := b.Commit(true); err != nil {
		return 0, err
	}
	return id, nil
}

// IterActive returns every active segment id visible in snap, via a prefix
// scan fused on the first key no longer tagged TagSegmentAlive, per
// spec.md §4.4.
func IterActive(snap kv.Snapshot) ([]ids.SegmentId, error) {
	it := snap.IteratorFrom([]byte{keys.TagSegmentAlive})
	defer it.Close()

	var out []ids.SegmentId
	for ; it.Valid(); it.Next() {
		k := it.Key()
		if len(k) == 0 || k[0] != keys.TagSegmentAlive {
			break
		}
		v, err := strconv.ParseUint(string(k[1:]), 10, 32)
		if err != nil {
			return nil, err
		}
		out = append(out, ids.SegmentId(v))
	}
	return out, nil
}

// DeactivateSegments removes the active marker for each id in segs,
// staging the deletes into batch without committing it - used by
// PurgeSegments and post-merge cleanup so the caller controls the
// transaction boundary.
func DeactivateSegments(batch kv.Batch, segs []ids.SegmentId) {
	for _, seg := range segs {
		batch.Delete(keys.SegmentActive(seg))
	}
}
