// Package segment implements the write path (Builder), read path
// (Segment), id allocation (Manager) and merge (Merge) for spec.md §4.4
// through §4.7.
package segment

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/RoaringBitmap/roaring"

	"github.com/emberindex/ember/internal/ids"
	"github.com/emberindex/ember/internal/keys"
	"github.com/emberindex/ember/internal/kv"
	"github.com/emberindex/ember/internal/termdict"
)

// ErrSegmentFull is returned by Builder.AddDocument when the segment
// already holds ids.MaxDocsPerSegment documents.
var ErrSegmentFull = errors.New("segment: full")

// Posting is one (term, position) pair of a pre-tokenized indexed field.
// Position is carried through but unused by any operation this spec
// defines (no phrase queries) - kept because the caller contract in
// spec.md §6 requires it.
type Posting struct {
	Term     []byte
	Position uint32
}

// Document is the pre-tokenized, pre-validated unit of write, matching
// spec.md §6's caller contract.
type Document struct {
	Key     []byte
	Indexed map[ids.FieldId][]Posting
	Stored  map[ids.FieldId][]byte
}

type fieldTermKey struct {
	Field ids.FieldId
	Term  ids.TermId
}

type storedKey struct {
	Field ids.FieldId
	Ord   ids.LocalOrd
	Kind  keys.StoredValueKind
}

// Builder accumulates one segment's worth of documents in memory before a
// single atomic flush, per spec.md §4.5.
type Builder struct {
	dict *termdict.Dictionary

	currentOrd  int
	localTerms  map[string]ids.TermId
	postings    map[fieldTermKey]*roaring.Bitmap
	stored      map[storedKey][]byte
	statistics  map[string]int64
}

// NewBuilder creates an empty builder backed by the index's (global) term
// dictionary, used to resolve tokens to TermIds not yet seen by this
// segment's local cache.
func NewBuilder(dict *termdict.Dictionary) *Builder {
	return &Builder{
		dict:       dict,
		localTerms: make(map[string]ids.TermId),
		postings:   make(map[fieldTermKey]*roaring.Bitmap),
		stored:     make(map[storedKey][]byte),
		statistics: make(map[string]int64),
	}
}

// AddDocument indexes doc's indexed fields and stages its stored fields,
// returning the LocalOrd it was assigned. Per spec.md §4.5.
func (b *Builder) AddDocument(doc Document) (ids.LocalOrd, error) {
	if b.currentOrd >= ids.MaxDocsPerSegment {
		return 0, ErrSegmentFull
	}
	ord := ids.LocalOrd(b.currentOrd)
	b.currentOrd++

	for field, postings := range doc.Indexed {
		fieldTokenCount := 0
		termFreq := make(map[ids.TermId]int)

		for _, p := range postings {
			fieldTokenCount++

			termID, err := b.resolveTerm(p.Term)
			if err != nil {
				return 0, err
			}

			key := fieldTermKey{Field: field, Term: termID}
			bm, ok := b.postings[key]
			if !ok {
				bm = roaring.New()
				b.postings[key] = bm
			}
			bm.Add(uint32(ord))

			termFreq[termID]++
		}

		for termID, freq := range termFreq {
			// A frequency of 1 is encoded by key absence (spec.md §3).
			if freq > 1 {
				buf := make([]byte, 8)
				binary.BigEndian.PutUint64(buf, uint64(freq))
				b.stored[storedKey{Field: field, Ord: ord, Kind: keys.TermFreqKind(termID)}] = buf
			}
			b.statistics[keys.StatTermDocFreq(field, termID)]++
		}

		length := quantizeFieldLength(fieldTokenCount)
		if length != 0 {
			b.stored[storedKey{Field: field, Ord: ord, Kind: keys.KindLength}] = []byte{length}
		}

		b.statistics[keys.StatTotalFieldDocs(field)]++
		b.statistics[keys.StatTotalFieldTokens(field)] += int64(fieldTokenCount)
	}

	for field, value := range doc.Stored {
		cp := make([]byte, len(value))
		copy(cp, value)
		b.stored[storedKey{Field: field, Ord: ord, Kind: keys.KindValue}] = cp
	}

	b.statistics[keys.StatTotalDocs]++

	return ord, nil
}

func (b *Builder) resolveTerm(term []byte) (ids.TermId, error) {
	if id, ok := b.localTerms[string(term)]; ok {
		return id, nil
	}
	id, err := b.dict.GetOrCreate(term)
	if err != nil {
		return 0, err
	}
	b.localTerms[string(term)] = id
	return id, nil
}

// quantizeFieldLength implements spec.md §4.5's
// ℓ = clamp(⌊3·(√tokens − 1)⌋, 0..255).
func quantizeFieldLength(tokens int) byte {
	length := 3.0 * (math.Sqrt(float64(tokens)) - 1.0)
	if length < 0 {
		length = 0
	}
	if length > 255 {
		length = 255
	}
	return byte(length)
}

// NumDocs reports how many documents have been accumulated so far.
func (b *Builder) NumDocs() int {
	return b.currentOrd
}

// Flush writes every accumulated posting, stored value and statistic
// counter to store in one atomic batch, alongside the segment's active
// marker, per spec.md §4.5. withWAL controls the same durability tradeoff
// as kv.Batch.Commit.
func (b *Builder) Flush(store kv.Store, seg ids.SegmentId, withWAL bool) error {
	batch := store.NewBatch()

	for key, bm := range b.postings {
		data, err := bm.ToBytes()
		if err != nil {
			return err
		}
		batch.Set(keys.Postings(key.Field, key.Term, seg), data)
	}

	for key, value := range b.stored {
		batch.Set(keys.StoredValue(seg, key.Ord, key.Field, key.Kind), value)
	}

	for name, value := range b.statistics {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(value))
		batch.Set(keys.Stat(seg, name), buf)
	}

	batch.Set(keys.SegmentActive(seg), []byte{})

	return batch.Commit(withWAL)
}
