// Package exec runs a lowered plan.SearchPlan's two stack programs:
// Boolean (per segment, over *roaring.Bitmap) and Scoring (per surviving
// document, over float64), per spec.md §4.9 and §4.10.
package exec

import (
	"errors"

	"github.com/RoaringBitmap/roaring"

	"github.com/emberindex/ember/internal/plan"
	"github.com/emberindex/ember/internal/segment"
)

// ErrMalformedPlan is returned when a boolean or score program does not
// leave exactly one value on its stack, violating spec.md §4.8's
// "exactly one push per subplan" invariant.
var ErrMalformedPlan = errors.New("exec: malformed plan")

// Boolean runs ops against seg, returning the surviving LocalOrds as a
// bitmap. If negated, the program's result is inverted against the
// segment's live documents: its full document range minus its deletion
// list. The deletion list is subtracted again after the inversion because
// inverting undoes the PushDeletionList;AndNot that Lower appends to ops,
// so negated plans also exclude deleted docs.
func Boolean(seg *segment.Segment, ops []plan.BooleanOp, negated bool) (*roaring.Bitmap, error) {
	var stack []*roaring.Bitmap

	push := func(bm *roaring.Bitmap) { stack = append(stack, bm) }
	pop := func() (*roaring.Bitmap, error) {
		if len(stack) == 0 {
			return nil, ErrMalformedPlan
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return top, nil
	}

	for _, op := range ops {
		switch op.Kind {
		case plan.PushEmpty:
			push(roaring.New())
		case plan.PushFull:
			total, err := seg.TotalDocs()
			if err != nil {
				return nil, err
			}
			bm := roaring.New()
			if total > 0 {
				bm.AddRange(0, uint64(total))
			}
			push(bm)
		case plan.PushPostings:
			bm, err := seg.Postings(op.Field, op.Term)
			if err != nil {
				return nil, err
			}
			push(bm)
		case plan.PushDeletionList:
			bm, err := seg.DeletionList()
			if err != nil {
				return nil, err
			}
			push(bm)
		case plan.And, plan.Or, plan.AndNot:
			// a is the more-recently-pushed (top) operand, b the
			// earlier one - see plan.Lower's Exclude comment for why
			// AndNot is a.AndNot(b) in that order.
			a, err := pop()
			if err != nil {
				return nil, err
			}
			b, err := pop()
			if err != nil {
				return nil, err
			}
			switch op.Kind {
			case plan.And:
				a.And(b)
			case plan.Or:
				a.Or(b)
			case plan.AndNot:
				a.AndNot(b)
			}
			push(a)
		default:
			return nil, ErrMalformedPlan
		}
	}

	if len(stack) != 1 {
		return nil, ErrMalformedPlan
	}
	result := stack[0]

	if negated {
		total, err := seg.TotalDocs()
		if err != nil {
			return nil, err
		}
		full := roaring.New()
		if total > 0 {
			full.AddRange(0, uint64(total))
		}
		full.AndNot(result)
		deleted, err := seg.DeletionList()
		if err != nil {
			return nil, err
		}
		full.AndNot(deleted)
		result = full
	}

	return result, nil
}
