// Package ids defines the compact integer identifiers shared by every
// storage-layer package: fields, terms, segments and documents.
package ids

// FieldId identifies a field registered in the schema. Zero is never valid;
// it is reserved to mean "no field" in call sites that need a sentinel.
type FieldId uint32

// TermId identifies a term in the term dictionary. Zero is never valid.
type TermId uint32

// SegmentId identifies a segment. Zero is never valid.
type SegmentId uint32

// LocalOrd is a document's ordinal within its segment. A segment holds at
// most 65536 documents, so LocalOrd alone never needs more than 16 bits,
// but MaxLocalOrd itself (65536) does not fit in a uint16 - builders use a
// plain int or uint32 while accumulating and only narrow to LocalOrd once
// a document has actually been assigned a slot.
type LocalOrd uint16

// MaxDocsPerSegment is the hard ceiling on documents in a single segment,
// imposed by LocalOrd's 16-bit width (spec: "A segment holds at most 65536
// documents").
const MaxDocsPerSegment = 1 << 16

// DocID is the global document identifier exposed to collectors: a
// (SegmentId, LocalOrd) pair packed into one 64-bit word. The low 16 bits
// hold the LocalOrd, the next 32 hold the SegmentId; the top 16 bits are
// reserved and always zero. Packing into 48 of the available 64 bits
// satisfies spec.md's "DocIds pack into a 64-bit word" without claiming a
// specific bit layout is load-bearing elsewhere.
type DocID uint64

// NewDocID packs a (segment, ord) pair into a DocID.
func NewDocID(seg SegmentId, ord LocalOrd) DocID {
	return DocID(uint64(seg)<<16 | uint64(ord))
}

// Segment unpacks the SegmentId half of a DocID.
func (d DocID) Segment() SegmentId {
	return SegmentId(uint64(d) >> 16)
}

// Ord unpacks the LocalOrd half of a DocID.
func (d DocID) Ord() LocalOrd {
	return LocalOrd(uint64(d) & 0xFFFF)
}
