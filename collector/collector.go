// Package collector implements the two result accumulators spec.md §4.13
// requires: TotalCount (a plain counter) and TopScore (a bounded min-heap
// retaining the k best-scoring documents), grounded on
// original_source's kite/src/collectors/top_score.rs.
package collector

import (
	"container/heap"
	"math"

	"github.com/emberindex/ember/internal/ids"
)

// Collector receives matched documents from Reader.Search, in whatever
// order the executor visits segments and surviving LocalOrds.
type Collector interface {
	// NeedsScore reports whether the executor must run the scoring
	// program for each matched document. TotalCount returns false so the
	// executor can skip scoring entirely.
	NeedsScore() bool
	Collect(doc ids.DocID, score float64)
}

// TotalCount counts matched documents without computing scores.
type TotalCount struct {
	Count uint64
}

func (c *TotalCount) NeedsScore() bool { return false }

func (c *TotalCount) Collect(ids.DocID, float64) {
	c.Count++
}

// scoredDoc is one entry of TopScore's heap.
type scoredDoc struct {
	doc   ids.DocID
	score float64
}

// docHeap is a min-heap by score, so the root is the lowest-scoring (and
// therefore first-evictable) entry once the heap is at capacity.
type docHeap []scoredDoc

func (h docHeap) Len() int            { return len(h) }
func (h docHeap) Less(i, j int) bool  { return h[i].score < h[j].score }
func (h docHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *docHeap) Push(x interface{}) { *h = append(*h, x.(scoredDoc)) }
func (h *docHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// TopScore retains the k highest-scoring matches, per spec.md §4.13.
// Encountering a NaN score is fatal - it is a programmer/model bug per
// spec.md §4.12, not a runtime condition TopScore tolerates.
type TopScore struct {
	k int
	h docHeap
}

// NewTopScore creates a collector retaining at most k documents.
func NewTopScore(k int) *TopScore {
	return &TopScore{k: k}
}

func (t *TopScore) NeedsScore() bool { return true }

func (t *TopScore) Collect(doc ids.DocID, score float64) {
	if math.IsNaN(score) {
		panic("collector: NaN score")
	}
	if t.k <= 0 {
		return
	}
	if len(t.h) < t.k {
		heap.Push(&t.h, scoredDoc{doc: doc, score: score})
		return
	}
	if len(t.h) > 0 && score > t.h[0].score {
		t.h[0] = scoredDoc{doc: doc, score: score}
		heap.Fix(&t.h, 0)
	}
}

// ScoredResult is one ranked result returned by Drain.
type ScoredResult struct {
	Doc   ids.DocID
	Score float64
}

// Drain empties the collector and returns its contents in descending
// score order, limit k. Draining consumes the collector; it must not be
// used afterward.
func (t *TopScore) Drain() []ScoredResult {
	n := len(t.h)
	out := make([]ScoredResult, n)
	for i := n - 1; i >= 0; i-- {
		item := heap.Pop(&t.h).(scoredDoc)
		out[i] = ScoredResult{Doc: item.doc, Score: item.score}
	}
	return out
}
