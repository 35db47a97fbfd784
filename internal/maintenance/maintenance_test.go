package maintenance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/emberindex/ember/internal/ids"
	"github.com/emberindex/ember/internal/maintenance"
)

func stat(id ids.SegmentId, total, deleted int64) maintenance.SegmentStats {
	return maintenance.SegmentStats{ID: id, TotalDocs: total, DeletedDocs: deleted}
}

func TestDecidePurgesFullyDeletedSegments(t *testing.T) {
	plan := maintenance.Decide([]maintenance.SegmentStats{
		stat(1, 5, 5),
		stat(2, 3, 0),
	})
	assert.ElementsMatch(t, []ids.SegmentId{1}, plan.Purge)
	assert.Empty(t, plan.Merge)
}

func TestDecideRequiresThreeInLargestBucket(t *testing.T) {
	plan := maintenance.Decide([]maintenance.SegmentStats{
		stat(1, 5, 0),
		stat(2, 6, 0),
		stat(3, 50, 0),
	})
	assert.Empty(t, plan.Merge, "decade 0 (1-9) has only 2 members, below the 3-segment threshold")
}

func TestDecideMergesLargestBucketSmallestFirst(t *testing.T) {
	plan := maintenance.Decide([]maintenance.SegmentStats{
		stat(1, 8, 0),
		stat(2, 3, 0),
		stat(3, 5, 0),
		stat(4, 500, 0),
	})
	assert.Equal(t, []ids.SegmentId{2, 3, 1}, plan.Merge, "decade 0 (1-9) is the largest bucket, merged smallest-first")
}

func TestDecideStopsBeforeExceedingCeiling(t *testing.T) {
	plan := maintenance.Decide([]maintenance.SegmentStats{
		stat(1, 30000, 0),
		stat(2, 30000, 0),
		stat(3, 30000, 0),
	})
	assert.Len(t, plan.Merge, 2, "a third 30,000-doc segment would push the merge past the 65,536 ceiling")
}

func TestDecideNoActionOnEmptyInput(t *testing.T) {
	plan := maintenance.Decide(nil)
	assert.Empty(t, plan.Merge)
	assert.Empty(t, plan.Purge)
}
