package segment

import (
	"encoding/binary"

	"github.com/RoaringBitmap/roaring"

	"github.com/emberindex/ember/internal/ids"
	"github.com/emberindex/ember/internal/keys"
	"github.com/emberindex/ember/internal/kv"
)

// Segment is the read-only view of one flushed segment's postings, stored
// values, statistics and deletion list, evaluated against a single KV
// snapshot so every read within a search sees a consistent point in time
// (spec.md §4.6).
type Segment struct {
	ID   ids.SegmentId
	snap kv.Snapshot
}

// Open wraps seg for reads against snap. It performs no I/O itself; every
// accessor reads lazily.
func Open(seg ids.SegmentId, snap kv.Snapshot) *Segment {
	return &Segment{ID: seg, snap: snap}
}

// Postings returns the postings bitmap for (field, term) in this segment,
// or an empty bitmap if the pair was never indexed here.
func (s *Segment) Postings(field ids.FieldId, term ids.TermId) (*roaring.Bitmap, error) {
	raw, err := s.snap.Get(keys.Postings(field, term, s.ID))
	if err != nil {
		if err == kv.ErrNotFound {
			return roaring.New(), nil
		}
		return nil, err
	}
	return decodeBitmap(raw)
}

// DeletionList returns the set of LocalOrds deleted from this segment.
func (s *Segment) DeletionList() (*roaring.Bitmap, error) {
	raw, err := s.snap.Get(keys.DeletionList(s.ID))
	if err != nil {
		if err == kv.ErrNotFound {
			return roaring.New(), nil
		}
		return nil, err
	}
	return decodeBitmap(raw)
}

func decodeBitmap(raw []byte) (*roaring.Bitmap, error) {
	bm := roaring.New()
	if len(raw) == 0 {
		return bm, nil
	}
	if _, err := bm.FromBuffer(raw); err != nil {
		return nil, err
	}
	return bm, nil
}

// Stat reads a raw statistic counter, defaulting to 0 if unset.
func (s *Segment) Stat(name string) (int64, error) {
	raw, err := s.snap.Get(keys.Stat(s.ID, name))
	if err != nil {
		if err == kv.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	return decodeInt64(raw), nil
}

// TotalDocs returns the total_docs counter (live and deleted).
func (s *Segment) TotalDocs() (int64, error) {
	return s.Stat(keys.StatTotalDocs)
}

// DeletedDocs returns the deleted_docs counter.
func (s *Segment) DeletedDocs() (int64, error) {
	return s.Stat(keys.StatDeletedDocs)
}

// StoredValue returns the original bytes stored for (ord, field), or
// (nil, false) if the field was not stored for that document.
func (s *Segment) StoredValue(ord ids.LocalOrd, field ids.FieldId) ([]byte, bool, error) {
	raw, err := s.snap.Get(keys.StoredValue(s.ID, ord, field, keys.KindValue))
	if err != nil {
		if err == kv.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	return raw, true, nil
}

// FieldLength decodes the quantized field-length byte into the real-valued
// length estimate used by similarity models, per spec.md §4.12's
// (ℓ/3 + 1)² inverse of the §4.5 quantization. A missing key means the
// field had the minimum quantized length (0), which also decodes to 1.0.
func (s *Segment) FieldLength(ord ids.LocalOrd, field ids.FieldId) (float64, error) {
	raw, err := s.snap.Get(keys.StoredValue(s.ID, ord, field, keys.KindLength))
	if err != nil {
		if err == kv.ErrNotFound {
			return 1.0, nil
		}
		return 0, err
	}
	if len(raw) != 1 {
		return 1.0, nil
	}
	l := float64(raw[0])
	v := l/3 + 1
	return v * v, nil
}

// TermFrequency returns a document's frequency for term in field, defaulting
// to 1 when no explicit tf was stored (spec.md §3: frequency 1 is encoded
// by key absence).
func (s *Segment) TermFrequency(ord ids.LocalOrd, field ids.FieldId, term ids.TermId) (int64, error) {
	raw, err := s.snap.Get(keys.StoredValue(s.ID, ord, field, keys.TermFreqKind(term)))
	if err != nil {
		if err == kv.ErrNotFound {
			return 1, nil
		}
		return 0, err
	}
	return decodeInt64(raw), nil
}

func decodeInt64(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}
