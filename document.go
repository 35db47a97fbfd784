package ember

import (
	"github.com/emberindex/ember/internal/ids"
	"github.com/emberindex/ember/internal/segment"
)

// Posting is one (term, position) pair a caller supplies for an indexed
// field. Position is carried through the caller contract (spec.md §6) but
// unused by any operation this module implements - no phrase or
// positional queries exist.
type Posting struct {
	Term     []byte
	Position uint32
}

// Document is the caller-facing unit of insertion: a primary key plus its
// per-field indexed postings and stored values, already tokenized - Ember
// never tokenizes text itself (spec.md §6's caller contract).
type Document struct {
	Key     []byte
	Indexed map[ids.FieldId][]Posting
	Stored  map[ids.FieldId][]byte
}

// toSegmentDocument converts the caller-facing shape into the one
// internal/segment.Builder consumes. The two are structurally identical;
// they're kept as distinct types so segment.Document can evolve as an
// internal implementation detail without widening the public API.
func (d Document) toSegmentDocument() segment.Document {
	indexed := make(map[ids.FieldId][]segment.Posting, len(d.Indexed))
	for field, postings := range d.Indexed {
		converted := make([]segment.Posting, len(postings))
		for i, p := range postings {
			converted[i] = segment.Posting{Term: p.Term, Position: p.Position}
		}
		indexed[field] = converted
	}
	return segment.Document{Key: d.Key, Indexed: indexed, Stored: d.Stored}
}
