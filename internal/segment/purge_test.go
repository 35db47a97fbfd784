package segment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberindex/ember/internal/ids"
	"github.com/emberindex/ember/internal/keys"
	"github.com/emberindex/ember/internal/kv"
	"github.com/emberindex/ember/internal/segment"
	"github.com/emberindex/ember/internal/termdict"
)

func TestPurgeResidueRemovesKVResidueAndActiveMarker(t *testing.T) {
	store := kv.NewMemStore()
	mgr, err := segment.NewManager(store)
	require.NoError(t, err)
	dict, err := termdict.New(store)
	require.NoError(t, err)

	seg1 := buildSimpleSegment(t, store, mgr, dict)
	seg2 := buildSimpleSegment(t, store, mgr, dict)

	appleID, ok := dict.Get([]byte("apple"))
	require.True(t, ok)

	// Deactivate seg1, as a merge commit already would, leaving its
	// postings/stats/stored-value residue behind for PurgeResidue to
	// sweep - deactivation alone never removes that residue.
	batch := store.NewBatch()
	segment.DeactivateSegments(batch, []ids.SegmentId{seg1})
	require.NoError(t, batch.Commit(true))

	require.NoError(t, segment.PurgeResidue(store, []ids.SegmentId{seg1}))

	snap, err := store.Snapshot()
	require.NoError(t, err)
	defer snap.Close()

	active, err := segment.IterActive(snap)
	require.NoError(t, err)
	assert.ElementsMatch(t, []ids.SegmentId{seg2}, active, "seg1 stays inactive, seg2 untouched")

	_, err = snap.Get(keys.Postings(1, appleID, seg1))
	assert.ErrorIs(t, err, kv.ErrNotFound, "seg1's postings residue is gone")

	_, err = snap.Get(keys.Stat(seg1, keys.StatTotalDocs))
	assert.ErrorIs(t, err, kv.ErrNotFound, "seg1's stat residue is gone")

	_, err = snap.Get(keys.StoredValue(seg1, 1, 2, keys.KindValue))
	assert.ErrorIs(t, err, kv.ErrNotFound, "seg1's stored-value residue is gone")

	// seg2 is untouched - its own postings must survive the sweep.
	seg2Postings, err := snap.Get(keys.Postings(1, appleID, seg2))
	require.NoError(t, err)
	assert.NotEmpty(t, seg2Postings)
}

func TestPurgeResidueNoSegmentsIsNoop(t *testing.T) {
	store := kv.NewMemStore()
	require.NoError(t, segment.PurgeResidue(store, nil))
}
