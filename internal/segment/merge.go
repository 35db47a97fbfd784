package segment

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring"

	"github.com/emberindex/ember/internal/ids"
	"github.com/emberindex/ember/internal/keys"
	"github.com/emberindex/ember/internal/kv"
)

// ErrTooManyDocs is returned by Merge when the combined live document
// count of the sources would overflow a single segment's LocalOrd space.
var ErrTooManyDocs = errors.New("segment: merge would exceed max docs per segment")

// MergeResult reports what a successful merge produced, so callers (the
// docindex rewrite step in particular) can finish the commit.
type MergeResult struct {
	Dest ids.SegmentId
	// Remap maps every live source DocID to its new DocID in Dest.
	Remap map[ids.DocID]ids.DocID
}

// Merge combines src into one freshly allocated destination segment,
// implementing spec.md §4.7's six-step algorithm: it re-packs only the
// live documents of each source (skipping anything in that source's
// DeletionList as observed at build time), unions and remaps postings,
// rewrites stored values under the new ords, recomputes total_docs/
// deleted_docs from the remap itself while summing every other counter
// across sources, and finally re-reads each source's deletion list at
// commit time so that deletions racing the build are still captured in
// Dest rather than silently lost.
//
// Merge stages every write (postings, stored values, stats, Dest's
// active marker) into the caller-supplied batch and never commits it.
// Per spec.md §4.7 step 6 and §5's "no snapshot ever sees both a source
// and its destination active" guarantee, Dest's active marker must land
// in the same atomic commit as the document-index rewrite and the
// sources' deactivation - so the caller commits once, after also staging
// those into batch, the same way manager.go's DeactivateSegments stages
// into a caller-supplied batch rather than committing itself.
//
// Grounded on original_source's kite_rocksdb/src/segment_builder.rs merge
// path and xiaming9880-bleve's index/scorch/segment/zap/merge.go for the
// overall "read every source, remap, write once" shape; the commit-time
// re-read of deletion lists is this module's own resolution of spec.md's
// "capture deletions that occurred during the merge build phase".
func Merge(store kv.Store, mgr *Manager, src []ids.SegmentId, batch kv.Batch) (*MergeResult, error) {
	buildSnap, err := store.Snapshot()
	if err != nil {
		return nil, err
	}
	defer buildSnap.Close()

	// Step 1/2: enumerate live source docs and assign new ords.
	remap := make(map[ids.DocID]ids.DocID)
	var nextOrd uint32
	buildDeletions := make(map[ids.SegmentId]*roaring.Bitmap, len(src))

	for _, s := range src {
		seg := Open(s, buildSnap)
		dl, err := seg.DeletionList()
		if err != nil {
			return nil, err
		}
		buildDeletions[s] = dl

		total, err := seg.TotalDocs()
		if err != nil {
			return nil, err
		}
		for ord := uint32(0); ord < uint32(total); ord++ {
			if dl.Contains(ord) {
				continue
			}
			if nextOrd >= ids.MaxDocsPerSegment {
				return nil, ErrTooManyDocs
			}
			oldID := ids.NewDocID(s, ids.LocalOrd(ord))
			remap[oldID] = 0 // placeholder, filled in once dest is known
			nextOrd++
		}
	}

	dest, err := mgr.NewSegment()
	if err != nil {
		return nil, err
	}

	// Re-walk deterministically (segment, then ord order) to assign the
	// final new ords, since Go map iteration order is random.
	nextOrd = 0
	for _, s := range src {
		dl := buildDeletions[s]
		total, err := Open(s, buildSnap).TotalDocs()
		if err != nil {
			return nil, err
		}
		for ord := uint32(0); ord < uint32(total); ord++ {
			if dl.Contains(ord) {
				continue
			}
			oldID := ids.NewDocID(s, ids.LocalOrd(ord))
			remap[oldID] = ids.NewDocID(dest, ids.LocalOrd(nextOrd))
			nextOrd++
		}
	}
	liveCount := nextOrd

	// Step 3: union and remap postings.
	destPostings := make(map[fieldTermKey]*roaring.Bitmap)
	if err := scanTagged(buildSnap, keys.TagPostings, func(k, v []byte) error {
		field, term, seg, ok := parsePostingsKey(k)
		if !ok || !containsSegment(src, seg) {
			return nil
		}
		bm, err := decodeBitmap(v)
		if err != nil {
			return err
		}
		fk := fieldTermKey{Field: field, Term: term}
		dst, ok := destPostings[fk]
		if !ok {
			dst = roaring.New()
			destPostings[fk] = dst
		}
		it := bm.Iterator()
		for it.HasNext() {
			oldOrd := it.Next()
			oldID := ids.NewDocID(seg, ids.LocalOrd(oldOrd))
			newID, live := remap[oldID]
			if !live {
				continue
			}
			dst.Add(uint32(newID.Ord()))
		}
		return nil
	}); err != nil {
		return nil, err
	}
	for fk, bm := range destPostings {
		data, err := bm.ToBytes()
		if err != nil {
			return nil, err
		}
		batch.Set(keys.Postings(fk.Field, fk.Term, dest), data)
	}

	// Step 4: rewrite stored values under the new ords.
	if err := scanTagged(buildSnap, keys.TagStoredValue, func(k, v []byte) error {
		seg, ord, field, kind, ok := parseStoredValueKey(k)
		if !ok || !containsSegment(src, seg) {
			return nil
		}
		oldID := ids.NewDocID(seg, ord)
		newID, live := remap[oldID]
		if !live {
			return nil
		}
		cp := make([]byte, len(v))
		copy(cp, v)
		batch.Set(keys.StoredValue(dest, newID.Ord(), field, kind), cp)
		return nil
	}); err != nil {
		return nil, err
	}

	// Step 5: recompute total_docs/deleted_docs from the remap itself;
	// sum every other per-field/per-term counter directly across sources.
	// Those counters may stay "dirty" with contributions from documents
	// excluded by this merge, which is acceptable since no invariant
	// requires their exactness - only total_docs - deleted_docs must
	// equal the live document count.
	otherStats := make(map[string]int64)
	for _, s := range src {
		if err := scanTagged(buildSnap, keys.TagStat, func(k, v []byte) error {
			seg, name, ok := parseStatKey(k)
			if !ok || seg != s {
				return nil
			}
			if name == keys.StatTotalDocs || name == keys.StatDeletedDocs {
				return nil
			}
			otherStats[name] += decodeInt64(v)
			return nil
		}); err != nil {
			return nil, err
		}
	}
	for name, v := range otherStats {
		batch.Set(keys.Stat(dest, name), encodeInt64(v))
	}
	batch.Set(keys.Stat(dest, keys.StatTotalDocs), encodeInt64(int64(liveCount)))
	batch.Set(keys.Stat(dest, keys.StatDeletedDocs), encodeInt64(0))

	batch.Set(keys.SegmentActive(dest), []byte{})

	// Step 6: re-read each source's deletion list against a fresh
	// snapshot taken just before commit, so deletions that raced the
	// build above are still reflected in Dest rather than lost.
	commitSnap, err := store.Snapshot()
	if err != nil {
		return nil, err
	}
	defer commitSnap.Close()

	var lateDeleted int64
	destDeletions := roaring.New()
	for _, s := range src {
		late, err := Open(s, commitSnap).DeletionList()
		if err != nil {
			return nil, err
		}
		built := buildDeletions[s]
		it := late.Iterator()
		for it.HasNext() {
			ord := it.Next()
			if built.Contains(ord) {
				continue // already excluded when Dest was built
			}
			oldID := ids.NewDocID(s, ids.LocalOrd(ord))
			newID, live := remap[oldID]
			if !live {
				continue
			}
			destDeletions.Add(uint32(newID.Ord()))
			lateDeleted++
		}
	}
	if lateDeleted > 0 {
		data, err := destDeletions.ToBytes()
		if err != nil {
			return nil, err
		}
		batch.Set(keys.DeletionList(dest), data)
		batch.Set(keys.Stat(dest, keys.StatDeletedDocs), encodeInt64(lateDeleted))
	}

	return &MergeResult{Dest: dest, Remap: remap}, nil
}

func containsSegment(segs []ids.SegmentId, s ids.SegmentId) bool {
	for _, x := range segs {
		if x == s {
			return true
		}
	}
	return false
}

func encodeInt64(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

// scanTagged walks every key in snap beginning with tag, fused on the
// first key no longer beginning with it, invoking fn(key, value) for each.
func scanTagged(snap kv.Snapshot, tag byte, fn func(k, v []byte) error) error {
	it := snap.IteratorFrom([]byte{tag, '/'})
	defer it.Close()
	for ; it.Valid(); it.Next() {
		k := it.Key()
		if len(k) == 0 || k[0] != tag {
			break
		}
		if err := fn(k, it.Value()); err != nil {
			return err
		}
	}
	return nil
}

// parsePostingsKey parses a "d/<field>/<term>/<seg>" key. Field, term and
// segment components are plain ASCII decimal with no escaping, since they
// are never user-controlled bytes.
func parsePostingsKey(k []byte) (field ids.FieldId, term ids.TermId, seg ids.SegmentId, ok bool) {
	parts := strings.Split(string(k), "/")
	if len(parts) != 4 {
		return
	}
	f, err1 := strconv.ParseUint(parts[1], 10, 32)
	t, err2 := strconv.ParseUint(parts[2], 10, 32)
	s, err3 := strconv.ParseUint(parts[3], 10, 32)
	if err1 != nil || err2 != nil || err3 != nil {
		return
	}
	return ids.FieldId(f), ids.TermId(t), ids.SegmentId(s), true
}

// parseStoredValueKey parses a "v/<seg>/<ord>/<field>/<kind>" key.
func parseStoredValueKey(k []byte) (seg ids.SegmentId, ord ids.LocalOrd, field ids.FieldId, kind keys.StoredValueKind, ok bool) {
	parts := bytes.SplitN(k, []byte("/"), 5)
	if len(parts) != 5 {
		return
	}
	s, err1 := strconv.ParseUint(string(parts[1]), 10, 32)
	o, err2 := strconv.ParseUint(string(parts[2]), 10, 16)
	f, err3 := strconv.ParseUint(string(parts[3]), 10, 32)
	if err1 != nil || err2 != nil || err3 != nil {
		return
	}
	return ids.SegmentId(s), ids.LocalOrd(o), ids.FieldId(f), keys.StoredValueKind(parts[4]), true
}

// parseStatKey parses a "s/<seg>/<name>" key, where name may itself
// contain '/' (e.g. "term_doc_freq/3/17").
func parseStatKey(k []byte) (seg ids.SegmentId, name string, ok bool) {
	parts := bytes.SplitN(k, []byte("/"), 3)
	if len(parts) != 3 {
		return
	}
	s, err := strconv.ParseUint(string(parts[1]), 10, 32)
	if err != nil {
		return
	}
	return ids.SegmentId(s), string(parts[2]), true
}
