package kv

import (
	"bytes"
	"sort"
	"sync"
)

// MemStore is an ordered, in-memory Store. It exists for tests that need
// the full Store contract (snapshots, merge operators, prefix iteration)
// without paying for a badger data directory — grounded on
// original_source's abra/src/store/memory.rs, a BTreeMap-backed reference
// KV store used the same way in the system this spec was distilled from.
type MemStore struct {
	mu   sync.RWMutex
	data map[string][]byte
	ops  *mergeOperators
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		data: make(map[string][]byte),
		ops:  newMergeOperators(),
	}
}

func (s *MemStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *MemStore) NewBatch() Batch {
	return &memBatch{store: s}
}

func (s *MemStore) Snapshot() (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string][]byte, len(s.data))
	for k, v := range s.data {
		val := make([]byte, len(v))
		copy(val, v)
		cp[k] = val
	}
	return &memSnapshot{data: cp}, nil
}

func (s *MemStore) Close() error { return nil }

type memOpKind int

const (
	opSet memOpKind = iota
	opDelete
	opMerge
)

type memOp struct {
	kind    memOpKind
	key     []byte
	value   []byte
	mergeOp string
}

type memBatch struct {
	store *MemStore
	ops   []memOp
}

func (b *memBatch) Set(key, value []byte) {
	b.ops = append(b.ops, memOp{kind: opSet, key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

func (b *memBatch) Delete(key []byte) {
	b.ops = append(b.ops, memOp{kind: opDelete, key: append([]byte(nil), key...)})
}

func (b *memBatch) Merge(name string, key, operand []byte) error {
	if _, err := b.store.ops.lookup(name); err != nil {
		return err
	}
	b.ops = append(b.ops, memOp{kind: opMerge, key: append([]byte(nil), key...), value: append([]byte(nil), operand...), mergeOp: name})
	return nil
}

func (b *memBatch) Commit(withWAL bool) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	for _, op := range b.ops {
		switch op.kind {
		case opSet:
			b.store.data[string(op.key)] = op.value
		case opDelete:
			delete(b.store.data, string(op.key))
		case opMerge:
			fn, err := b.store.ops.lookup(op.mergeOp)
			if err != nil {
				return err
			}
			existing := b.store.data[string(op.key)]
			reduced, err := fn(existing, [][]byte{op.value})
			if err != nil {
				return err
			}
			b.store.data[string(op.key)] = reduced
		}
	}
	return nil
}

type memSnapshot struct {
	data map[string][]byte
}

func (s *memSnapshot) Get(key []byte) ([]byte, error) {
	v, ok := s.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (s *memSnapshot) IteratorFrom(seek []byte) Iterator {
	keys := make([][]byte, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, []byte(k))
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })

	start := sort.Search(len(keys), func(i int) bool { return bytes.Compare(keys[i], seek) >= 0 })
	return &memIterator{snap: s, keys: keys[start:], pos: 0}
}

func (s *memSnapshot) Close() error { return nil }

type memIterator struct {
	snap *memSnapshot
	keys [][]byte
	pos  int
}

func (it *memIterator) Valid() bool { return it.pos < len(it.keys) }

func (it *memIterator) Key() []byte { return it.keys[it.pos] }

func (it *memIterator) Value() []byte { return it.snap.data[string(it.keys[it.pos])] }

func (it *memIterator) Next() { it.pos++ }

func (it *memIterator) Close() {}
