package kv_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberindex/ember/internal/kv"
)

func TestMemStoreSetGetDelete(t *testing.T) {
	store := kv.NewMemStore()

	_, err := store.Get([]byte("missing"))
	require.ErrorIs(t, err, kv.ErrNotFound)

	b := store.NewBatch()
	b.Set([]byte("a"), []byte("1"))
	require.NoError(t, b.Commit(true))

	v, err := store.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	b = store.NewBatch()
	b.Delete([]byte("a"))
	require.NoError(t, b.Commit(true))

	_, err = store.Get([]byte("a"))
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestMemStoreMergeI64Add(t *testing.T) {
	store := kv.NewMemStore()
	key := []byte("s/1/total_docs")

	for i := 0; i < 3; i++ {
		b := store.NewBatch()
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, 1)
		require.NoError(t, b.Merge(kv.MergeI64Add, key, buf))
		require.NoError(t, b.Commit(true))
	}

	v, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, int64(3), int64(binary.BigEndian.Uint64(v)))
}

func TestMemStoreMergeBitmapUnion(t *testing.T) {
	store := kv.NewMemStore()
	key := []byte("x/1")

	for _, ord := range []uint16{3, 7, 3} {
		b := store.NewBatch()
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, ord)
		require.NoError(t, b.Merge(kv.MergeBitmapUnion, key, buf))
		require.NoError(t, b.Commit(true))
	}

	reduced, err := kv.MergeBitmapUnion_(nil, nil)
	require.NoError(t, err)
	_ = reduced

	v, err := store.Get(key)
	require.NoError(t, err)
	assert.NotEmpty(t, v)
}

func TestMemStoreSnapshotIsolation(t *testing.T) {
	store := kv.NewMemStore()
	b := store.NewBatch()
	b.Set([]byte("a"), []byte("1"))
	require.NoError(t, b.Commit(true))

	snap, err := store.Snapshot()
	require.NoError(t, err)
	defer snap.Close()

	b = store.NewBatch()
	b.Set([]byte("a"), []byte("2"))
	b.Set([]byte("b"), []byte("2"))
	require.NoError(t, b.Commit(true))

	v, err := snap.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	_, err = snap.Get([]byte("b"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestMemStoreIteratorFrom(t *testing.T) {
	store := kv.NewMemStore()
	b := store.NewBatch()
	b.Set([]byte("a/1"), []byte("1"))
	b.Set([]byte("a/2"), []byte("2"))
	b.Set([]byte("b/1"), []byte("3"))
	require.NoError(t, b.Commit(true))

	snap, err := store.Snapshot()
	require.NoError(t, err)
	defer snap.Close()

	it := snap.IteratorFrom([]byte("a"))
	defer it.Close()

	var got []string
	for ; it.Valid(); it.Next() {
		if !kv.HasPrefix(it.Key(), []byte("a")) {
			break
		}
		got = append(got, string(it.Key()))
	}
	assert.Equal(t, []string{"a/1", "a/2"}, got)
}
