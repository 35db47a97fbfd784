// Package stats implements the memoized, per-query statistics aggregator
// of spec.md §4.11: cross-segment sums over the active segments visible
// in one query's KV snapshot.
package stats

import (
	"encoding/binary"

	"github.com/emberindex/ember/internal/ids"
	"github.com/emberindex/ember/internal/keys"
	"github.com/emberindex/ember/internal/kv"
)

type fieldTermKey struct {
	Field ids.FieldId
	Term  ids.TermId
}

// Reader aggregates statistics over a fixed set of active segments
// against one KV snapshot. It is owned by a single query for that
// query's lifetime and never shared across goroutines (spec.md §5), so
// its memoization caches need no lock.
type Reader struct {
	snap     kv.Snapshot
	segments []ids.SegmentId

	totalDocs   map[ids.FieldId]float64
	totalTokens map[ids.FieldId]float64
	termDocFreq map[fieldTermKey]float64
}

// NewReader creates a Reader over segments, evaluated against snap.
func NewReader(snap kv.Snapshot, segments []ids.SegmentId) *Reader {
	return &Reader{
		snap:        snap,
		segments:    segments,
		totalDocs:   make(map[ids.FieldId]float64),
		totalTokens: make(map[ids.FieldId]float64),
		termDocFreq: make(map[fieldTermKey]float64),
	}
}

// TotalDocs returns Σ total_field_docs/<field> across active segments.
func (r *Reader) TotalDocs(field ids.FieldId) (float64, error) {
	if v, ok := r.totalDocs[field]; ok {
		return v, nil
	}
	v, err := r.sum(keys.StatTotalFieldDocs(field))
	if err != nil {
		return 0, err
	}
	r.totalDocs[field] = v
	return v, nil
}

// TotalTokens returns Σ total_field_tokens/<field> across active segments.
func (r *Reader) TotalTokens(field ids.FieldId) (float64, error) {
	if v, ok := r.totalTokens[field]; ok {
		return v, nil
	}
	v, err := r.sum(keys.StatTotalFieldTokens(field))
	if err != nil {
		return 0, err
	}
	r.totalTokens[field] = v
	return v, nil
}

// TermDocFreq returns Σ term_doc_freq/<field>/<term> across active
// segments.
func (r *Reader) TermDocFreq(field ids.FieldId, term ids.TermId) (float64, error) {
	key := fieldTermKey{Field: field, Term: term}
	if v, ok := r.termDocFreq[key]; ok {
		return v, nil
	}
	v, err := r.sum(keys.StatTermDocFreq(field, term))
	if err != nil {
		return 0, err
	}
	r.termDocFreq[key] = v
	return v, nil
}

func (r *Reader) sum(name string) (float64, error) {
	var total int64
	for _, seg := range r.segments {
		raw, err := r.snap.Get(keys.Stat(seg, name))
		if err != nil {
			if err == kv.ErrNotFound {
				continue
			}
			return 0, err
		}
		if len(raw) == 8 {
			total += int64(binary.BigEndian.Uint64(raw))
		}
	}
	return float64(total), nil
}
