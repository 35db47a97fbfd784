// Package query defines the pre-planned query tree Ember executes: a
// closed sum type expressed as variants of the Query interface, matching
// spec.md §4.8's grammar exactly. Parsing any surface syntax into a Query
// is out of scope (spec.md §6's caller contract) — callers construct the
// tree directly.
package query

// Query is the closed sum type every query tree node implements. The
// unexported marker method prevents types outside this package from
// satisfying it, per spec.md §9's "tagged variant with one interpreter"
// design note.
type Query interface {
	isQuery()
}

// Selector filters terms during a MultiTerm's expansion, mirroring
// internal/termdict.Selector's single-method shape so a Resolver can pass
// a Selector straight through to the term dictionary.
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

// TermScorer carries the similarity model and boost applied wherever a
// plan's ScoreOp evaluates a single term against a document, per
// spec.md §4.10's `TermScorer(field, term, scorer)`.
type TermScorer struct {
	Model Similarity
	Boost float64
}

// Similarity is implemented by similarity.Model; declared here (rather
// than imported) to avoid query depending on the similarity package -
// TermScorer only needs to carry an opaque scorer through to the
// executor, which does depend on similarity directly.
type Similarity interface {
	Score(termFrequency int64, fieldLength, totalDocs, totalTokens, docFreq float64) float64
}

// All matches every live document, pushing Score as a literal onto the
// score stack.
type All struct {
	Score float64
}

func (All) isQuery() {}

// None matches no documents.
type None struct{}

func (None) isQuery() {}

// Term matches documents whose (Field, Term) postings contain them.
// Field is a schema field name, not yet resolved to a FieldId - a
// Resolver performs that lookup at planning time, degrading an unknown
// field or term to an empty subplan rather than an error (spec.md §4.8,
// §7).
type Term struct {
	Field  string
	Term   []byte
	Scorer TermScorer
}

func (Term) isQuery() {}

// MultiTerm expands Selector against Field's terms and matches documents
// under any of them, averaging their TermScorer contributions.
type MultiTerm struct {
	Field    string
	Selector Selector
	Scorer   TermScorer
}

func (MultiTerm) isQuery() {}

// Conjunction matches documents satisfying every clause (AND), scoring by
// the average of the clauses' scores.
type Conjunction struct {
	Clauses []Query
}

func (Conjunction) isQuery() {}

// Disjunction matches documents satisfying any clause (OR), scoring by
// the average over all clauses' scores, a non-matching clause
// contributing 0.
type Disjunction struct {
	Clauses []Query
}

func (Disjunction) isQuery() {}

// DisjunctionMax matches documents satisfying any clause (OR), scoring by
// the maximum of the matching clauses' scores rather than an average, so
// documents are not over-rewarded merely for matching many clauses.
type DisjunctionMax struct {
	Clauses []Query
}

func (DisjunctionMax) isQuery() {}

// Filter matches Inner ∩ By, scoring from Inner alone.
type Filter struct {
	Inner Query
	By    Query
}

func (Filter) isQuery() {}

// Exclude matches Inner \ Excluded, scoring from Inner alone.
type Exclude struct {
	Inner    Query
	Excluded Query
}

func (Exclude) isQuery() {}
