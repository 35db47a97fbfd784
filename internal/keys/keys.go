// Package keys builds the deterministic byte-string keys Ember stores
// everything under, per spec.md §4.1. Every exported function returns a
// fresh []byte; none retain the inputs passed to them.
package keys

import (
	"strconv"

	"github.com/emberindex/ember/internal/ids"
)

// Tag bytes partitioning the single KV namespace.
const (
	TagGlobal       = '.'
	TagPrimaryKey   = 'k'
	TagTermMapping  = 't'
	TagSegmentAlive = 'a'
	TagPostings     = 'd'
	TagStoredValue  = 'v'
	TagStat         = 's'
	TagDeletionList = 'x'
)

// Fixed, non-composite keys.
var (
	NextSegmentCounter = []byte(".next_segment")
	NextTermCounter    = []byte(".next_term_id")
	NextFieldCounter   = []byte(".next_field_id")
	SchemaKey          = []byte("schema")
)

// builder grows a key byte by byte, escaping '/' and '\' exactly as
// spec.md §4.1 requires so that user-supplied bytes (primary keys, term
// bytes) can never be confused with the '/' separators used inside
// composite keys - grounded on original_source's
// kite_rocksdb/src/key_builder.rs KeyBuilder, translated from a Rust
// struct with push_char/push_string/separator methods to the same shape
// over a Go []byte.
type builder struct {
	buf []byte
}

func newBuilder(capacity int) *builder {
	return &builder{buf: make([]byte, 0, capacity)}
}

func (b *builder) pushByte(c byte) {
	if c == '/' || c == '\\' {
		b.buf = append(b.buf, '\\')
	}
	b.buf = append(b.buf, c)
}

func (b *builder) pushBytes(s []byte) {
	for _, c := range s {
		b.pushByte(c)
	}
}

// pushRaw appends bytes verbatim, with no escaping - used for the ASCII
// decimal encoding of ids and for '/' separators themselves.
func (b *builder) pushRaw(s []byte) {
	b.buf = append(b.buf, s...)
}

func (b *builder) separator() {
	b.buf = append(b.buf, '/')
}

func (b *builder) key() []byte {
	return b.buf
}

func itoa(v uint64) []byte {
	return []byte(strconv.FormatUint(v, 10))
}

// PrimaryKey builds the 'k'-tagged key mapping a caller primary key to a
// DocID.
func PrimaryKey(key []byte) []byte {
	b := newBuilder(1 + len(key))
	b.buf = append(b.buf, TagPrimaryKey)
	b.pushBytes(key)
	return b.key()
}

// TermMapping builds the 't'-tagged key mapping term bytes to a TermId.
func TermMapping(term []byte) []byte {
	b := newBuilder(1 + len(term))
	b.buf = append(b.buf, TagTermMapping)
	b.pushBytes(term)
	return b.key()
}

// SegmentActive builds the 'a'-tagged active-marker key for a segment.
func SegmentActive(seg ids.SegmentId) []byte {
	b := newBuilder(8)
	b.buf = append(b.buf, TagSegmentAlive)
	b.pushRaw(itoa(uint64(seg)))
	return b.key()
}

// Postings builds the 'd'-tagged postings-list key for (field, term,
// segment).
func Postings(field ids.FieldId, term ids.TermId, seg ids.SegmentId) []byte {
	b := newBuilder(24)
	b.buf = append(b.buf, TagPostings)
	b.separator()
	b.pushRaw(itoa(uint64(field)))
	b.separator()
	b.pushRaw(itoa(uint64(term)))
	b.separator()
	b.pushRaw(itoa(uint64(seg)))
	return b.key()
}

// PostingsFieldTermPrefix builds the common prefix of every Postings key
// for a given (field, term), up to and including the separator before the
// segment id.
func PostingsFieldTermPrefix(field ids.FieldId, term ids.TermId) []byte {
	b := newBuilder(16)
	b.buf = append(b.buf, TagPostings)
	b.separator()
	b.pushRaw(itoa(uint64(field)))
	b.separator()
	b.pushRaw(itoa(uint64(term)))
	b.separator()
	return b.key()
}

// StoredValueKind enumerates the value-kind component of a stored-value
// key: the original value, the quantized field length, or a per-term
// frequency (only written when frequency > 1).
type StoredValueKind string

const (
	KindValue        StoredValueKind = "val"
	KindLength       StoredValueKind = "len"
	KindTermFreqBase StoredValueKind = "tf"
)

// TermFreqKind builds the "tf<TermId>" value-kind for a stored term
// frequency.
func TermFreqKind(term ids.TermId) StoredValueKind {
	return StoredValueKind("tf" + strconv.FormatUint(uint64(term), 10))
}

// StoredValue builds the 'v'-tagged stored-field-value key.
func StoredValue(seg ids.SegmentId, ord ids.LocalOrd, field ids.FieldId, kind StoredValueKind) []byte {
	b := newBuilder(32)
	b.buf = append(b.buf, TagStoredValue)
	b.separator()
	b.pushRaw(itoa(uint64(seg)))
	b.separator()
	b.pushRaw(itoa(uint64(ord)))
	b.separator()
	b.pushRaw(itoa(uint64(field)))
	b.separator()
	b.pushRaw([]byte(kind))
	return b.key()
}

// Stat builds the 's'-tagged statistic-counter key.
func Stat(seg ids.SegmentId, name string) []byte {
	b := newBuilder(24)
	b.buf = append(b.buf, TagStat)
	b.separator()
	b.pushRaw(itoa(uint64(seg)))
	b.separator()
	b.pushRaw([]byte(name))
	return b.key()
}

// Well-known statistic counter names.
const (
	StatTotalDocs   = "total_docs"
	StatDeletedDocs = "deleted_docs"
)

// StatTotalFieldDocs builds the counter name for a field's total
// documents.
func StatTotalFieldDocs(field ids.FieldId) string {
	return "total_field_docs/" + strconv.FormatUint(uint64(field), 10)
}

// StatTotalFieldTokens builds the counter name for a field's total
// tokens.
func StatTotalFieldTokens(field ids.FieldId) string {
	return "total_field_tokens/" + strconv.FormatUint(uint64(field), 10)
}

// StatTermDocFreq builds the counter name for a (field, term) document
// frequency.
func StatTermDocFreq(field ids.FieldId, term ids.TermId) string {
	return "term_doc_freq/" + strconv.FormatUint(uint64(field), 10) + "/" + strconv.FormatUint(uint64(term), 10)
}

// DeletionList builds the 'x'-tagged deletion-list key for a segment.
func DeletionList(seg ids.SegmentId) []byte {
	b := newBuilder(8)
	b.buf = append(b.buf, TagDeletionList)
	b.separator()
	b.pushRaw(itoa(uint64(seg)))
	return b.key()
}
