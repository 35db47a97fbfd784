package ember

import (
	"github.com/emberindex/ember/internal/ids"
	"github.com/emberindex/ember/internal/termdict"
	"github.com/emberindex/ember/query"
	"github.com/emberindex/ember/schema"
)

// planResolver bridges a Schema and a term Dictionary into
// internal/plan.Resolver, the shape Lower needs to turn a query.Query's
// field names and term bytes into the compact ids the executors operate
// on. A schema or dictionary miss resolves to (0, false) so the planner
// degrades the affected subplan, never errors (spec.md §7).
type planResolver struct {
	schema *schema.Schema
	dict   *termdict.Dictionary
}

func (r planResolver) ResolveField(name string) (ids.FieldId, bool) {
	f, ok := r.schema.GetFieldByName(name)
	if !ok {
		return 0, false
	}
	return f.ID, true
}

func (r planResolver) ResolveTerm(term []byte) (ids.TermId, bool) {
	return r.dict.Get(term)
}

func (r planResolver) SelectTerms(field ids.FieldId, sel query.Selector) []ids.TermId {
	return r.dict.Select(dictSelector{sel})
}

// dictSelector adapts a query.Selector to termdict.Selector; the two
// interfaces are structurally identical but declared in separate packages
// so neither depends on the other.
type dictSelector struct {
	sel query.Selector
}

func (d dictSelector) Matches(term []byte) bool {
	return d.sel.Matches(term)
}
