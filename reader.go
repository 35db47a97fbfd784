package ember

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/emberindex/ember/collector"
	"github.com/emberindex/ember/internal/exec"
	"github.com/emberindex/ember/internal/ids"
	"github.com/emberindex/ember/internal/kv"
	"github.com/emberindex/ember/internal/plan"
	"github.com/emberindex/ember/internal/segment"
	"github.com/emberindex/ember/internal/stats"
	"github.com/emberindex/ember/query"
)

// Reader is a consistent, point-in-time view of the index's active
// segments, used to run one or more searches against a single KV
// snapshot. A Reader is not safe for concurrent Search calls sharing the
// same collector, but independent Search calls against the same Reader
// (different collectors) may run concurrently, since the snapshot and
// segments it wraps are both read-only (spec.md §5).
type Reader struct {
	snap     kv.Snapshot
	segments []ids.SegmentId
	resolver planResolver
	logger   *zap.Logger
}

// Result reports whether a Search ran to completion or was cut short by
// context cancellation, alongside whatever the collector accumulated in
// the caller's own collector value.
type Result struct {
	TerminatedEarly bool
}

// Search lowers q into a SearchPlan once, then runs it against every
// active segment in order, feeding surviving documents (and, if the
// collector needs it, their scores) into c. ctx is checked between
// segments and between documents within a segment's surviving set, so a
// cancelled context stops the search promptly rather than only between
// segments (spec.md §5's ordering/cancellation guarantees).
//
// A NaN score from a similarity model is a programmer/model bug (spec.md
// §4.12); internal/exec.Scoring panics when it sees one, and Search
// recovers that panic here, converting it into ErrNaNScore rather than
// letting it escape as a process crash.
func (r *Reader) Search(ctx context.Context, c collector.Collector, q query.Query) (result Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if recErr, ok := rec.(error); ok && errors.Is(recErr, exec.ErrNaNScore) {
				err = ErrNaNScore
				return
			}
			panic(rec)
		}
	}()

	searchPlan := plan.Lower(q, r.resolver)
	statsReader := stats.NewReader(r.snap, r.segments)
	r.logger.Debug("search started", zap.Int("segments", len(r.segments)))

	for _, segID := range r.segments {
		if ctx.Err() != nil {
			return Result{TerminatedEarly: true}, nil
		}

		seg := segment.Open(segID, r.snap)
		matches, err := exec.Boolean(seg, searchPlan.BooleanOps, searchPlan.IsNegated)
		if err != nil {
			return Result{}, err
		}

		postings := exec.NewPostingsCache(seg)

		it := matches.Iterator()
		for it.HasNext() {
			if ctx.Err() != nil {
				return Result{TerminatedEarly: true}, nil
			}
			ord := ids.LocalOrd(it.Next())
			doc := ids.NewDocID(segID, ord)

			var score float64
			if c.NeedsScore() {
				score, err = exec.Scoring(seg, postings, statsReader, ord, searchPlan.ScoreOps)
				if err != nil {
					return Result{}, err
				}
			}
			c.Collect(doc, score)
		}
	}

	return Result{}, nil
}

// Close releases the snapshot this Reader holds. A Reader must not be
// used after Close.
func (r *Reader) Close() error {
	return r.snap.Close()
}
