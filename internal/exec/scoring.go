package exec

import (
	"errors"
	"math"

	"github.com/RoaringBitmap/roaring"

	"github.com/emberindex/ember/internal/ids"
	"github.com/emberindex/ember/internal/plan"
	"github.com/emberindex/ember/internal/segment"
	"github.com/emberindex/ember/internal/stats"
)

// ErrNaNScore is the panic value Scoring raises when a similarity model
// produces NaN - a programmer/model bug, not an ordinary runtime
// condition (spec.md §4.12: "NaN must not escape... terminates the
// query"). Callers that want to convert this into an ordinary error
// (Reader.Search does) recover and check errors.Is(rec, ErrNaNScore).
var ErrNaNScore = errors.New("exec: NaN score")

// PostingsCache memoizes decoded postings bitmaps for one segment across
// every document the Scoring executor evaluates against it, so a
// TermScorer op touched by many surviving documents decodes its postings
// bitmap once rather than once per document.
type PostingsCache struct {
	seg   *segment.Segment
	cache map[postingsCacheKey]*roaring.Bitmap
}

type postingsCacheKey struct {
	Field ids.FieldId
	Term  ids.TermId
}

// NewPostingsCache creates an empty cache for seg.
func NewPostingsCache(seg *segment.Segment) *PostingsCache {
	return &PostingsCache{seg: seg, cache: make(map[postingsCacheKey]*roaring.Bitmap)}
}

func (c *PostingsCache) get(field ids.FieldId, term ids.TermId) (*roaring.Bitmap, error) {
	key := postingsCacheKey{Field: field, Term: term}
	if bm, ok := c.cache[key]; ok {
		return bm, nil
	}
	bm, err := c.seg.Postings(field, term)
	if err != nil {
		return nil, err
	}
	c.cache[key] = bm
	return bm, nil
}

// Scoring executes ops for the document at ord in seg, per spec.md §4.10.
// statsReader is shared across every document of every segment within one
// query, since its sums are cross-segment aggregates, not per-segment.
func Scoring(seg *segment.Segment, postings *PostingsCache, statsReader *stats.Reader, ord ids.LocalOrd, ops []plan.ScoreOp) (float64, error) {
	var stack []float64
	push := func(v float64) { stack = append(stack, v) }
	pop := func() (float64, error) {
		if len(stack) == 0 {
			return 0, ErrMalformedPlan
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return top, nil
	}

	for _, op := range ops {
		switch op.Kind {
		case plan.Literal:
			push(op.Value)

		case plan.TermScorer:
			bm, err := postings.get(op.Field, op.Term)
			if err != nil {
				return 0, err
			}
			if !bm.Contains(uint32(ord)) {
				push(0)
				break
			}

			fieldLength, err := seg.FieldLength(ord, op.Field)
			if err != nil {
				return 0, err
			}
			termFreq, err := seg.TermFrequency(ord, op.Field, op.Term)
			if err != nil {
				return 0, err
			}
			totalDocs, err := statsReader.TotalDocs(op.Field)
			if err != nil {
				return 0, err
			}
			totalTokens, err := statsReader.TotalTokens(op.Field)
			if err != nil {
				return 0, err
			}
			docFreq, err := statsReader.TermDocFreq(op.Field, op.Term)
			if err != nil {
				return 0, err
			}

			score := op.Scorer.Model.Score(termFreq, fieldLength, totalDocs, totalTokens, docFreq)
			if math.IsNaN(score) {
				panic(ErrNaNScore)
			}
			push(score * op.Scorer.Boost)

		case plan.CombinatorScorer:
			if len(stack) < op.N {
				return 0, ErrMalformedPlan
			}
			values := stack[len(stack)-op.N:]
			stack = stack[:len(stack)-op.N]

			switch op.Combinator {
			case plan.Avg:
				var sum float64
				for _, v := range values {
					sum += v
				}
				if op.N > 0 {
					push(sum / float64(op.N))
				} else {
					push(0)
				}
			case plan.Max:
				max := 0.0
				for _, v := range values {
					if v > max {
						max = v
					}
				}
				push(max)
			default:
				return 0, ErrMalformedPlan
			}

		default:
			return 0, ErrMalformedPlan
		}
	}

	if len(stack) != 1 {
		return 0, ErrMalformedPlan
	}
	return stack[0], nil
}
