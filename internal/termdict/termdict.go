// Package termdict is the persistent, thread-safe bijection between term
// bytes and compact TermIds (spec.md §4.3). It is grounded closely on
// original_source's kite_rocksdb/src/term_dictionary.rs TermDictionaryManager:
// the same get/get_or_create/select contract, translated from a Rust
// RwLock<BTreeMap> to a Go sync.RWMutex over a map, with ordering restored
// at Select time since Go maps (unlike BTreeMap) don't iterate sorted.
package termdict

import (
	"sort"
	"strconv"
	"sync"

	"go.uber.org/atomic"

	"github.com/emberindex/ember/internal/ids"
	"github.com/emberindex/ember/internal/keys"
	"github.com/emberindex/ember/internal/kv"
)

// Selector filters terms during Select. Currently only a byte-prefix
// predicate is required (spec.md §4.3: "currently: prefix").
type Selector interface {
	Matches(term []byte) bool
}

// PrefixSelector matches any term beginning with Prefix.
type PrefixSelector struct {
	Prefix []byte
}

func (p PrefixSelector) Matches(term []byte) bool {
	if len(p.Prefix) > len(term) {
		return false
	}
	for i, c := range p.Prefix {
		if term[i] != c {
			return false
		}
	}
	return true
}

// Dictionary is the term-bytes <-> TermId bijection for one index. Reads
// (Get, Select) take only the read half of readMu, so a burst of concurrent
// readers never blocks on another reader's KV persistence I/O; writers
// serialize through writeMu, a separate lock, so a reader is never blocked
// behind a writer's disk write either - per spec.md §4.3's "writer lock
// separate from the reader lock so readers never block".
type Dictionary struct {
	store kv.Store

	nextID atomic.Uint32

	readMu sync.RWMutex
	terms  map[string]ids.TermId // guarded by readMu

	writeMu sync.Mutex // serializes get_or_create persistence
}

// New creates an empty term dictionary and persists its counter seed.
func New(store kv.Store) (*Dictionary, error) {
	d := &Dictionary{
		store: store,
		terms: make(map[string]ids.TermId),
	}
	d.nextID.Store(1)
	b := store.NewBatch()
	b.Set(keys.NextTermCounter, []byte("1"))
	if err := b.Commit(true); err != nil {
		return nil, err
	}
	return d, nil
}

// Open rebuilds the dictionary from a prefix scan of 't'-keyed entries, per
// spec.md §4.3 ("On restart, the dictionary is rebuilt by a prefix scan").
func Open(store kv.Store) (*Dictionary, error) {
	snap, err := store.Snapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Close()

	terms := make(map[string]ids.TermId)
	var maxID ids.TermId

	it := snap.IteratorFrom([]byte{keys.TagTermMapping})
	defer it.Close()
	for ; it.Valid(); it.Next() {
		k := it.Key()
		if len(k) == 0 || k[0] != keys.TagTermMapping {
			break
		}
		termBytes := unescapeTermKey(k[1:])
		id := ids.TermId(decodeUint32(it.Value()))
		terms[string(termBytes)] = id
		if id > maxID {
			maxID = id
		}
	}

	d := &Dictionary{
		store: store,
		terms: terms,
	}
	d.nextID.Store(uint32(maxID) + 1)
	return d, nil
}

// unescapeTermKey reverses the '/' and '\' escaping keys.TermMapping
// applies, so Open recovers the original term bytes.
func unescapeTermKey(escaped []byte) []byte {
	out := make([]byte, 0, len(escaped))
	for i := 0; i < len(escaped); i++ {
		if escaped[i] == '\\' && i+1 < len(escaped) {
			i++
		}
		out = append(out, escaped[i])
	}
	return out
}

func decodeUint32(b []byte) uint32 {
	v, _ := strconv.ParseUint(string(b), 10, 32)
	return uint32(v)
}

// Get is a wait-free lock-read: it takes only the reader half of readMu.
func (d *Dictionary) Get(term []byte) (ids.TermId, bool) {
	d.readMu.RLock()
	defer d.readMu.RUnlock()
	id, ok := d.terms[string(term)]
	return id, ok
}

// GetOrCreate returns term's existing id if present, otherwise allocates
// the next id, persists it, and inserts it into the in-memory map under
// writeMu. Under concurrent GetOrCreate calls for the same term, exactly
// one caller's id is durably persisted; the rest observe and return the
// winner's id, discarding their tentative allocation (spec.md §4.3). The
// resulting hole in the id sequence is permitted - ids need not be
// contiguous.
func (d *Dictionary) GetOrCreate(term []byte) (ids.TermId, error) {
	if id, ok := d.Get(term); ok {
		return id, nil
	}

	tentative := ids.TermId(d.nextID.Add(1) - 1)

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	// Re-check after acquiring the write lock: another writer may have
	// won the race and already persisted this term.
	d.readMu.RLock()
	if id, ok := d.terms[string(term)]; ok {
		d.readMu.RUnlock()
		return id, nil
	}
	d.readMu.RUnlock()

	b := d.store.NewBatch()
	b.Set(keys.TermMapping(term), []byte(itoa(uint32(tentative))))
	b.Set(keys.NextTermCounter, []byte(itoa(uint32(tentative)+1)))
	if err := b.Commit(true); err != nil {
		return 0, err
	}

	d.readMu.Lock()
	d.terms[string(term)] = tentative
	d.readMu.Unlock()

	return tentative, nil
}

// Select returns every TermId whose term bytes satisfy sel, in
// lexicographic order of the underlying term bytes, per spec.md §4.3.
func (d *Dictionary) Select(sel Selector) []ids.TermId {
	d.readMu.RLock()
	matches := make([]string, 0)
	for term := range d.terms {
		if sel.Matches([]byte(term)) {
			matches = append(matches, term)
		}
	}
	sort.Strings(matches)
	out := make([]ids.TermId, len(matches))
	for i, term := range matches {
		out[i] = d.terms[term]
	}
	d.readMu.RUnlock()
	return out
}

func itoa(v uint32) string {
	return strconv.FormatUint(uint64(v), 10)
}
