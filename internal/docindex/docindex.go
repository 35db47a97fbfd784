// Package docindex maintains the mapping from caller-supplied primary keys
// to the current DocID backing that key, and the accounting (segment
// deletion lists, deleted_docs counters) that keeps a previous DocID's
// segment informed when its slot is superseded. Grounded on
// original_source's kite_rocksdb/src/document_index.rs DocumentIndex.
package docindex

import (
	"encoding/binary"
	"sync"

	"github.com/emberindex/ember/internal/ids"
	"github.com/emberindex/ember/internal/keys"
	"github.com/emberindex/ember/internal/kv"
)

// Index is the persistent primary-key -> DocID bijection for one index.
// A single RWMutex guards both the in-memory map and the KV writes that
// keep it durable, since InsertOrReplace and DeleteByKey are read-modify-
// write operations against the same key space, not independent appends
// the way internal/termdict's inserts are.
type Index struct {
	store kv.Store

	mu  sync.RWMutex
	key map[string]ids.DocID
}

// New creates an empty document index.
func New(store kv.Store) *Index {
	return &Index{store: store, key: make(map[string]ids.DocID)}
}

// Open rebuilds the index from a prefix scan of 'k'-tagged entries.
func Open(store kv.Store) (*Index, error) {
	snap, err := store.Snapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Close()

	m := make(map[string]ids.DocID)
	it := snap.IteratorFrom([]byte{keys.TagPrimaryKey})
	defer it.Close()
	for ; it.Valid(); it.Next() {
		k := it.Key()
		if len(k) == 0 || k[0] != keys.TagPrimaryKey {
			break
		}
		primaryKey := unescape(k[1:])
		docID, ok := decodeDocID(it.Value())
		if !ok {
			continue
		}
		m[string(primaryKey)] = docID
	}

	return &Index{store: store, key: m}, nil
}

func unescape(escaped []byte) []byte {
	out := make([]byte, 0, len(escaped))
	for i := 0; i < len(escaped); i++ {
		if escaped[i] == '\\' && i+1 < len(escaped) {
			i++
		}
		out = append(out, escaped[i])
	}
	return out
}

func decodeDocID(b []byte) (ids.DocID, bool) {
	if len(b) != 8 {
		return 0, false
	}
	return ids.DocID(binary.BigEndian.Uint64(b)), true
}

func encodeDocID(d ids.DocID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(d))
	return buf
}

func encodeLocalOrd(ord ids.LocalOrd) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(ord))
	return buf
}

func encodeInt64(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

// Contains reports whether primaryKey currently maps to a live DocID.
func (idx *Index) Contains(primaryKey []byte) (ids.DocID, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	d, ok := idx.key[string(primaryKey)]
	return d, ok
}

// InsertOrReplace maps primaryKey to newDocID. If primaryKey was already
// mapped to a different DocID, that previous slot is retired: its
// segment's deletion list gains the old LocalOrd and its deleted_docs
// counter is incremented, in the same atomic batch as the new mapping.
// Returns the previous DocID and whether one existed.
func (idx *Index) InsertOrReplace(primaryKey []byte, newDocID ids.DocID) (ids.DocID, bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	prev, hadPrev := idx.key[string(primaryKey)]

	batch := idx.store.NewBatch()
	batch.Set(keys.PrimaryKey(primaryKey), encodeDocID(newDocID))
	if hadPrev {
		if err := batch.Merge(kv.MergeBitmapUnion, keys.DeletionList(prev.Segment()), encodeLocalOrd(prev.Ord())); err != nil {
			return ids.DocID(0), false, err
		}
		if err := batch.Merge(kv.MergeI64Add, keys.Stat(prev.Segment(), keys.StatDeletedDocs), encodeInt64(1)); err != nil {
			return ids.DocID(0), false, err
		}
	}
	if err := batch.Commit(true); err != nil {
		return ids.DocID(0), false, err
	}

	idx.key[string(primaryKey)] = newDocID
	return prev, hadPrev, nil
}

// DeleteByKey removes primaryKey's mapping entirely, retiring its current
// slot the same way InsertOrReplace does. Returns false if primaryKey was
// not mapped.
func (idx *Index) DeleteByKey(primaryKey []byte) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	prev, ok := idx.key[string(primaryKey)]
	if !ok {
		return false, nil
	}

	batch := idx.store.NewBatch()
	batch.Delete(keys.PrimaryKey(primaryKey))
	if err := batch.Merge(kv.MergeBitmapUnion, keys.DeletionList(prev.Segment()), encodeLocalOrd(prev.Ord())); err != nil {
		return false, err
	}
	if err := batch.Merge(kv.MergeI64Add, keys.Stat(prev.Segment(), keys.StatDeletedDocs), encodeInt64(1)); err != nil {
		return false, err
	}
	if err := batch.Commit(true); err != nil {
		return false, err
	}

	delete(idx.key, string(primaryKey))
	return true, nil
}

// StageRewriteAfterMerge stages, into batch, a rewrite of every primary
// key currently resolving to one of remap's source DocIDs onto its
// corresponding destination DocID, without committing. The index's write
// lock is held from staging through the returned finish call, so no
// InsertOrReplace/DeleteByKey can observe a half-migrated map while the
// caller's own multi-component commit (Dest's active marker, the
// rewrite, and the sources' deactivation, all in one batch per spec.md
// §4.7 step 6) is in flight. The caller must call finish exactly once
// with the outer commit's outcome: finish(true) applies the staged
// rewrite to the in-memory map, finish(false) discards it and leaves the
// map as if StageRewriteAfterMerge had never been called.
func (idx *Index) StageRewriteAfterMerge(batch kv.Batch, remap map[ids.DocID]ids.DocID) (finish func(committed bool)) {
	idx.mu.Lock()

	updates := make(map[string]ids.DocID)
	for primaryKey, docID := range idx.key {
		newID, ok := remap[docID]
		if !ok {
			continue
		}
		batch.Set(keys.PrimaryKey([]byte(primaryKey)), encodeDocID(newID))
		updates[primaryKey] = newID
	}

	return func(committed bool) {
		defer idx.mu.Unlock()
		if !committed {
			return
		}
		for primaryKey, newID := range updates {
			idx.key[primaryKey] = newID
		}
	}
}

// RewriteAfterMerge is StageRewriteAfterMerge against a batch of its own,
// committed immediately - for callers with no other writes to fold into
// the same commit.
func (idx *Index) RewriteAfterMerge(remap map[ids.DocID]ids.DocID) error {
	batch := idx.store.NewBatch()
	finish := idx.StageRewriteAfterMerge(batch, remap)
	err := batch.Commit(true)
	finish(err == nil)
	return err
}

// Len reports the number of live primary-key mappings.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.key)
}
