package docindex_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberindex/ember/internal/docindex"
	"github.com/emberindex/ember/internal/ids"
	"github.com/emberindex/ember/internal/keys"
	"github.com/emberindex/ember/internal/kv"
)

func TestInsertAndContains(t *testing.T) {
	store := kv.NewMemStore()
	idx := docindex.New(store)

	doc1 := ids.NewDocID(1, 0)
	_, hadPrev, err := idx.InsertOrReplace([]byte("doc-1"), doc1)
	require.NoError(t, err)
	assert.False(t, hadPrev)

	got, ok := idx.Contains([]byte("doc-1"))
	require.True(t, ok)
	assert.Equal(t, doc1, got)
}

func TestReplaceRetiresPreviousSlot(t *testing.T) {
	store := kv.NewMemStore()
	idx := docindex.New(store)

	oldDoc := ids.NewDocID(1, 5)
	_, _, err := idx.InsertOrReplace([]byte("doc-1"), oldDoc)
	require.NoError(t, err)

	newDoc := ids.NewDocID(2, 0)
	prev, hadPrev, err := idx.InsertOrReplace([]byte("doc-1"), newDoc)
	require.NoError(t, err)
	require.True(t, hadPrev)
	assert.Equal(t, oldDoc, prev)

	got, ok := idx.Contains([]byte("doc-1"))
	require.True(t, ok)
	assert.Equal(t, newDoc, got)

	raw, err := store.Get(keys.DeletionList(1))
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	raw, err = store.Get(keys.Stat(1, keys.StatDeletedDocs))
	require.NoError(t, err)
	assert.Equal(t, int64(1), decodeI64(raw))
}

func TestDeleteByKey(t *testing.T) {
	store := kv.NewMemStore()
	idx := docindex.New(store)

	_, _, err := idx.InsertOrReplace([]byte("doc-1"), ids.NewDocID(1, 0))
	require.NoError(t, err)

	ok, err := idx.DeleteByKey([]byte("doc-1"))
	require.NoError(t, err)
	assert.True(t, ok)

	_, found := idx.Contains([]byte("doc-1"))
	assert.False(t, found)

	ok, err = idx.DeleteByKey([]byte("doc-1"))
	require.NoError(t, err)
	assert.False(t, ok, "deleting a missing key is idempotent-false, not an error")
}

func TestOpenRebuildsFromKV(t *testing.T) {
	store := kv.NewMemStore()
	idx := docindex.New(store)

	doc := ids.NewDocID(3, 7)
	_, _, err := idx.InsertOrReplace([]byte("doc-1"), doc)
	require.NoError(t, err)

	reopened, err := docindex.Open(store)
	require.NoError(t, err)

	got, ok := reopened.Contains([]byte("doc-1"))
	require.True(t, ok)
	assert.Equal(t, doc, got)
	assert.Equal(t, 1, reopened.Len())
}

func TestRewriteAfterMerge(t *testing.T) {
	store := kv.NewMemStore()
	idx := docindex.New(store)

	oldDoc := ids.NewDocID(1, 0)
	_, _, err := idx.InsertOrReplace([]byte("doc-1"), oldDoc)
	require.NoError(t, err)

	newDoc := ids.NewDocID(9, 0)
	require.NoError(t, idx.RewriteAfterMerge(map[ids.DocID]ids.DocID{oldDoc: newDoc}))

	got, ok := idx.Contains([]byte("doc-1"))
	require.True(t, ok)
	assert.Equal(t, newDoc, got)

	reopened, err := docindex.Open(store)
	require.NoError(t, err)
	got, ok = reopened.Contains([]byte("doc-1"))
	require.True(t, ok)
	assert.Equal(t, newDoc, got)
}

func decodeI64(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}
