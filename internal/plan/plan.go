// Package plan lowers a query.Query tree into the two postfix stack
// programs spec.md §4.8 defines: a boolean program (internal/exec.Boolean
// runs it per segment to find surviving LocalOrds) and a score program
// (internal/exec.Scoring runs it per surviving document). Plan nodes hold
// only ids and primitive data - never a reader reference - per spec.md
// §9's cyclic-reference design note; Resolver is passed as a parameter to
// Lower instead.
package plan

import (
	"github.com/emberindex/ember/internal/ids"
	"github.com/emberindex/ember/query"
)

// BooleanOpKind enumerates the boolean stack machine's instruction set.
type BooleanOpKind int

const (
	PushEmpty BooleanOpKind = iota
	PushFull
	PushPostings
	PushDeletionList
	And
	Or
	AndNot
)

// BooleanOp is one instruction of a boolean postfix program. Field and
// Term are only meaningful for PushPostings.
type BooleanOp struct {
	Kind  BooleanOpKind
	Field ids.FieldId
	Term  ids.TermId
}

// CombinatorKind selects how CombinatorScorer folds its n popped scores.
type CombinatorKind int

const (
	Avg CombinatorKind = iota
	Max
)

// ScoreOpKind enumerates the scoring stack machine's instruction set.
type ScoreOpKind int

const (
	Literal ScoreOpKind = iota
	TermScorer
	CombinatorScorer
)

// ScoreOp is one instruction of a score postfix program.
type ScoreOp struct {
	Kind ScoreOpKind

	// Literal
	Value float64

	// TermScorer
	Field  ids.FieldId
	Term   ids.TermId
	Scorer query.TermScorer

	// CombinatorScorer
	N          int
	Combinator CombinatorKind
}

// SearchPlan is the fully lowered, executable form of a Query.
type SearchPlan struct {
	BooleanOps []BooleanOp
	IsNegated  bool
	ScoreOps   []ScoreOp
}

// Resolver resolves the schema-name and term-byte references a Query
// tree carries into the compact ids the executors operate on. A field or
// term miss degrades the affected subplan rather than erroring, per
// spec.md §7's "Schema-resolution miss" row.
type Resolver interface {
	ResolveField(name string) (ids.FieldId, bool)
	ResolveTerm(term []byte) (ids.TermId, bool)
	SelectTerms(field ids.FieldId, sel query.Selector) []ids.TermId
}

// Lower compiles q into a SearchPlan, per spec.md §4.8. The planner
// detects the "is_negated" optimization (spec.md §9) by checking, before
// prepending the mandatory deletion-filter, whether the program already
// ends in PushFull;AndNot - i.e. q's own lowering is a top-level
// negation. When it is, that trailing PushFull;AndNot is dropped and
// is_negated is set instead, letting the executor invert against live
// docs directly.
//
// The deletion filter must push the deletion list D *before* q's own
// result R, not after: internal/exec.Boolean's AndNot computes
// top.AndNot(earlier), so D needs to be the earlier-pushed operand and R
// the top one to get the required R \ D rather than D \ R.
func Lower(q query.Query, r Resolver) SearchPlan {
	boolOps := lowerBoolean(q, r)
	scoreOps := lowerScore(q, r)

	negated := false
	if n := len(boolOps); n >= 2 &&
		boolOps[n-2].Kind == PushFull && boolOps[n-1].Kind == AndNot {
		negated = true
		boolOps = boolOps[:n-2]
	}
	boolOps = append([]BooleanOp{{Kind: PushDeletionList}}, boolOps...)
	boolOps = append(boolOps, BooleanOp{Kind: AndNot})

	return SearchPlan{BooleanOps: boolOps, IsNegated: negated, ScoreOps: scoreOps}
}

func lowerBoolean(q query.Query, r Resolver) []BooleanOp {
	switch v := q.(type) {
	case query.All:
		return []BooleanOp{{Kind: PushFull}}
	case query.None:
		return []BooleanOp{{Kind: PushEmpty}}
	case query.Term:
		field, ok := r.ResolveField(v.Field)
		if !ok {
			return []BooleanOp{{Kind: PushEmpty}}
		}
		term, ok := r.ResolveTerm(v.Term)
		if !ok {
			return []BooleanOp{{Kind: PushEmpty}}
		}
		return []BooleanOp{{Kind: PushPostings, Field: field, Term: term}}
	case query.MultiTerm:
		field, ok := r.ResolveField(v.Field)
		if !ok {
			return []BooleanOp{{Kind: PushEmpty}}
		}
		terms := r.SelectTerms(field, v.Selector)
		if len(terms) == 0 {
			return []BooleanOp{{Kind: PushEmpty}}
		}
		ops := []BooleanOp{{Kind: PushPostings, Field: field, Term: terms[0]}}
		for _, t := range terms[1:] {
			ops = append(ops, BooleanOp{Kind: PushPostings, Field: field, Term: t}, BooleanOp{Kind: Or})
		}
		return ops
	case query.Conjunction:
		return foldBoolean(v.Clauses, r, And)
	case query.Disjunction:
		return foldBoolean(v.Clauses, r, Or)
	case query.DisjunctionMax:
		return foldBoolean(v.Clauses, r, Or)
	case query.Filter:
		ops := lowerBoolean(v.Inner, r)
		ops = append(ops, lowerBoolean(v.By, r)...)
		ops = append(ops, BooleanOp{Kind: And})
		return ops
	case query.Exclude:
		// Excluded is pushed before Inner so the executor's AndNot (which
		// subtracts the earlier-pushed operand from the later-pushed one,
		// see internal/exec.Boolean) computes Inner \ Excluded. This
		// order also makes Exclude(All, x) lower to exactly
		// "boolean(x); PushFull; AndNot" - the literal top-level-negation
		// shape Lower detects, since All reduces to the single PushFull
		// instruction and is pushed last.
		ops := lowerBoolean(v.Excluded, r)
		ops = append(ops, lowerBoolean(v.Inner, r)...)
		ops = append(ops, BooleanOp{Kind: AndNot})
		return ops
	default:
		return []BooleanOp{{Kind: PushEmpty}}
	}
}

func foldBoolean(clauses []query.Query, r Resolver, op BooleanOpKind) []BooleanOp {
	if len(clauses) == 0 {
		return []BooleanOp{{Kind: PushEmpty}}
	}
	ops := lowerBoolean(clauses[0], r)
	for _, c := range clauses[1:] {
		ops = append(ops, lowerBoolean(c, r)...)
		ops = append(ops, BooleanOp{Kind: op})
	}
	return ops
}

func lowerScore(q query.Query, r Resolver) []ScoreOp {
	switch v := q.(type) {
	case query.All:
		return []ScoreOp{{Kind: Literal, Value: v.Score}}
	case query.None:
		return []ScoreOp{{Kind: Literal, Value: 0}}
	case query.Term:
		field, ok := r.ResolveField(v.Field)
		if !ok {
			return []ScoreOp{{Kind: Literal, Value: 0}}
		}
		term, ok := r.ResolveTerm(v.Term)
		if !ok {
			return []ScoreOp{{Kind: Literal, Value: 0}}
		}
		return []ScoreOp{{Kind: TermScorer, Field: field, Term: term, Scorer: v.Scorer}}
	case query.MultiTerm:
		field, ok := r.ResolveField(v.Field)
		if !ok {
			return []ScoreOp{{Kind: Literal, Value: 0}}
		}
		terms := r.SelectTerms(field, v.Selector)
		if len(terms) == 0 {
			return []ScoreOp{{Kind: Literal, Value: 0}}
		}
		ops := make([]ScoreOp, 0, len(terms))
		for _, t := range terms {
			ops = append(ops, ScoreOp{Kind: TermScorer, Field: field, Term: t, Scorer: v.Scorer})
		}
		ops = append(ops, ScoreOp{Kind: CombinatorScorer, N: len(terms), Combinator: Avg})
		return ops
	case query.Conjunction:
		return foldScore(v.Clauses, r, Avg)
	case query.Disjunction:
		return foldScore(v.Clauses, r, Avg)
	case query.DisjunctionMax:
		return foldScore(v.Clauses, r, Max)
	case query.Filter:
		return lowerScore(v.Inner, r)
	case query.Exclude:
		return lowerScore(v.Inner, r)
	default:
		return []ScoreOp{{Kind: Literal, Value: 0}}
	}
}

func foldScore(clauses []query.Query, r Resolver, kind CombinatorKind) []ScoreOp {
	if len(clauses) == 0 {
		return []ScoreOp{{Kind: Literal, Value: 0}}
	}
	ops := make([]ScoreOp, 0, len(clauses))
	for _, c := range clauses {
		ops = append(ops, lowerScore(c, r)...)
	}
	ops = append(ops, ScoreOp{Kind: CombinatorScorer, N: len(clauses), Combinator: kind})
	return ops
}
