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

func buildSimpleSegment(t *testing.T, store kv.Store, mgr *segment.Manager, dict *termdict.Dictionary) ids.SegmentId {
	t.Helper()
	seg, err := mgr.NewSegment()
	require.NoError(t, err)

	b := segment.NewBuilder(dict)
	_, err = b.AddDocument(segment.Document{
		Key: []byte("doc-1"),
		Indexed: map[ids.FieldId][]segment.Posting{
			1: {{Term: []byte("apple")}, {Term: []byte("banana")}, {Term: []byte("apple")}},
		},
		Stored: map[ids.FieldId][]byte{2: []byte("Doc One")},
	})
	require.NoError(t, err)

	_, err = b.AddDocument(segment.Document{
		Key: []byte("doc-2"),
		Indexed: map[ids.FieldId][]segment.Posting{
			1: {{Term: []byte("banana")}},
		},
		Stored: map[ids.FieldId][]byte{2: []byte("Doc Two")},
	})
	require.NoError(t, err)

	require.NoError(t, b.Flush(store, seg, true))
	return seg
}

func TestBuilderFlushAndSegmentRead(t *testing.T) {
	store := kv.NewMemStore()
	mgr, err := segment.NewManager(store)
	require.NoError(t, err)
	dict, err := termdict.New(store)
	require.NoError(t, err)

	segID := buildSimpleSegment(t, store, mgr, dict)

	snap, err := store.Snapshot()
	require.NoError(t, err)
	defer snap.Close()

	s := segment.Open(segID, snap)

	total, err := s.TotalDocs()
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	appleID, ok := dict.Get([]byte("apple"))
	require.True(t, ok)
	bananaID, ok := dict.Get([]byte("banana"))
	require.True(t, ok)

	applePostings, err := s.Postings(1, appleID)
	require.NoError(t, err)
	assert.True(t, applePostings.Contains(0))
	assert.False(t, applePostings.Contains(1))

	bananaPostings, err := s.Postings(1, bananaID)
	require.NoError(t, err)
	assert.True(t, bananaPostings.Contains(0))
	assert.True(t, bananaPostings.Contains(1))

	tf, err := s.TermFrequency(0, 1, appleID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, tf, "apple appears twice in doc-1")

	tf, err = s.TermFrequency(0, 1, bananaID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, tf, "frequency 1 is encoded by key absence")

	val, ok, err := s.StoredValue(1, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Doc Two", string(val))
}

func TestManagerIterActive(t *testing.T) {
	store := kv.NewMemStore()
	mgr, err := segment.NewManager(store)
	require.NoError(t, err)
	dict, err := termdict.New(store)
	require.NoError(t, err)

	seg1 := buildSimpleSegment(t, store, mgr, dict)
	seg2 := buildSimpleSegment(t, store, mgr, dict)

	snap, err := store.Snapshot()
	require.NoError(t, err)
	defer snap.Close()

	active, err := segment.IterActive(snap)
	require.NoError(t, err)
	assert.ElementsMatch(t, []ids.SegmentId{seg1, seg2}, active)
}

func TestMergeCombinesLiveDocs(t *testing.T) {
	store := kv.NewMemStore()
	mgr, err := segment.NewManager(store)
	require.NoError(t, err)
	dict, err := termdict.New(store)
	require.NoError(t, err)

	seg1 := buildSimpleSegment(t, store, mgr, dict)
	seg2 := buildSimpleSegment(t, store, mgr, dict)

	// Delete doc-1's ord 0 from seg1 before merging.
	batch := store.NewBatch()
	require.NoError(t, batch.Merge(kv.MergeBitmapUnion, keys.DeletionList(seg1), []byte{0x00, 0x00}))
	require.NoError(t, batch.Merge(kv.MergeI64Add, keys.Stat(seg1, keys.StatDeletedDocs), encodeI64(1)))
	require.NoError(t, batch.Commit(true))

	mergeBatch := store.NewBatch()
	result, err := segment.Merge(store, mgr, []ids.SegmentId{seg1, seg2}, mergeBatch)
	require.NoError(t, err)
	require.NoError(t, mergeBatch.Commit(true))

	snap, err := store.Snapshot()
	require.NoError(t, err)
	defer snap.Close()

	dest := segment.Open(result.Dest, snap)
	total, err := dest.TotalDocs()
	require.NoError(t, err)
	assert.EqualValues(t, 3, total, "4 source docs minus 1 deleted")

	bananaID, ok := dict.Get([]byte("banana"))
	require.True(t, ok)
	postings, err := dest.Postings(1, bananaID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, postings.GetCardinality(), "banana appears in every surviving doc")
}

func encodeI64(v int64) []byte {
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return buf
}
