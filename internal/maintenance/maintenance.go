// Package maintenance implements the background merge-selection policy
// of spec.md §4.14: classify active segments into size-decade buckets,
// merge the largest bucket when it has enough members, and deactivate
// segments that hold nothing but deletions.
package maintenance

import (
	"context"
	"sort"
	"time"

	"github.com/emberindex/ember/internal/ids"
	"github.com/emberindex/ember/internal/kv"
	"github.com/emberindex/ember/internal/segment"
)

// minBucketSize is the population a decade bucket needs before the
// policy will merge it; below this a merge wouldn't meaningfully reduce
// segment count, per spec.md §4.14 ("If that bucket has ≥ 3 segments").
const minBucketSize = 3

// SegmentStats is the subset of a segment's counters the policy decides
// on. Callers gather these once per run from a single KV snapshot so the
// decision is made against one consistent point in time.
type SegmentStats struct {
	ID          ids.SegmentId
	TotalDocs   int64
	DeletedDocs int64
}

func (s SegmentStats) liveDocs() int64 {
	live := s.TotalDocs - s.DeletedDocs
	if live < 0 {
		return 0
	}
	return live
}

// decade returns the size-decade bucket index for n live docs:
// 0 => 1-9, 1 => 10-99, 2 => 100-999, 3 => 1,000-9,999, 4 => 10,000-65,536.
// n == 0 has no bucket (its segment is handled by Purge instead).
func decade(n int64) (int, bool) {
	switch {
	case n <= 0:
		return 0, false
	case n < 10:
		return 0, true
	case n < 100:
		return 1, true
	case n < 1000:
		return 2, true
	case n < 10000:
		return 3, true
	default:
		return 4, true
	}
}

// Plan is one run's decision: which segments to merge (if any) and which
// to purge outright because they hold only deletions.
type Plan struct {
	Merge []ids.SegmentId
	Purge []ids.SegmentId
}

// Decide classifies segs into decade buckets, per spec.md §4.14. Segments
// with zero live docs are routed to Purge directly ("segments containing
// only deletions can be deactivated directly"). Among the remaining
// buckets, the one with the largest population is selected; if it has at
// least minBucketSize members, its smallest segments are selected for
// merge, in ascending live-doc order, stopping before the combined live
// count would exceed MaxDocsPerSegment.
func Decide(segs []SegmentStats) Plan {
	var plan Plan
	buckets := make(map[int][]SegmentStats)

	for _, s := range segs {
		live := s.liveDocs()
		if live == 0 {
			plan.Purge = append(plan.Purge, s.ID)
			continue
		}
		d, ok := decade(live)
		if !ok {
			continue
		}
		buckets[d] = append(buckets[d], s)
	}

	bestBucket, bestSize := -1, 0
	for d, members := range buckets {
		if len(members) > bestSize {
			bestBucket, bestSize = d, len(members)
		}
	}
	if bestBucket == -1 || bestSize < minBucketSize {
		return plan
	}

	members := buckets[bestBucket]
	sort.Slice(members, func(i, j int) bool { return members[i].liveDocs() < members[j].liveDocs() })

	var total int64
	for _, m := range members {
		if total+m.liveDocs() > ids.MaxDocsPerSegment {
			break
		}
		total += m.liveDocs()
		plan.Merge = append(plan.Merge, m.ID)
	}

	return plan
}

// Runner executes a Decide'd plan against a store: merging the selected
// segments (if there are at least two - a single segment has nothing to
// merge into) and deactivating purge-only segments. OnMerge, if non-nil,
// stages whatever the caller (IndexStore) needs into the same batch as
// Dest's activation and the sources' deactivation - folding the DocID
// remap into the document index, per spec.md §4.7 step 6 - and returns a
// finish func the Runner calls with the outer commit's outcome once it
// knows it.
type Runner struct {
	Store   kv.Store
	Manager *segment.Manager
	OnMerge func(batch kv.Batch, result *segment.MergeResult) (finish func(committed bool), err error)
}

// Run gathers current segment statistics from snap, decides a plan, and
// executes it.
func (r *Runner) Run(snap kv.Snapshot) error {
	active, err := segment.IterActive(snap)
	if err != nil {
		return err
	}

	stats := make([]SegmentStats, 0, len(active))
	for _, id := range active {
		s := segment.Open(id, snap)
		total, err := s.TotalDocs()
		if err != nil {
			return err
		}
		deleted, err := s.DeletedDocs()
		if err != nil {
			return err
		}
		stats = append(stats, SegmentStats{ID: id, TotalDocs: total, DeletedDocs: deleted})
	}

	plan := Decide(stats)

	if len(plan.Merge) >= 2 {
		batch := r.Store.NewBatch()
		result, err := segment.Merge(r.Store, r.Manager, plan.Merge, batch)
		if err != nil {
			return err
		}

		var finish func(committed bool)
		if r.OnMerge != nil {
			finish, err = r.OnMerge(batch, result)
			if err != nil {
				return err
			}
		}
		segment.DeactivateSegments(batch, plan.Merge)

		err = batch.Commit(false)
		if finish != nil {
			finish(err == nil)
		}
		if err != nil {
			return err
		}
	}

	if len(plan.Purge) > 0 {
		batch := r.Store.NewBatch()
		segment.DeactivateSegments(batch, plan.Purge)
		if err := batch.Commit(true); err != nil {
			return err
		}
	}

	return nil
}

// Loop runs r on every tick until ctx is cancelled, the one place Ember
// spawns its own goroutine (spec.md §5, §4.14). Errors from a single run
// are reported to onError rather than stopping the loop - a transient KV
// error shouldn't permanently disable maintenance.
func Loop(ctx context.Context, store kv.Store, r *Runner, interval time.Duration, onError func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := store.Snapshot()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			err = r.Run(snap)
			snap.Close()
			if err != nil && onError != nil {
				onError(err)
			}
		}
	}
}
