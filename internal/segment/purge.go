package segment

import (
	"strconv"
	"strings"

	"go.uber.org/multierr"

	"github.com/emberindex/ember/internal/ids"
	"github.com/emberindex/ember/internal/keys"
	"github.com/emberindex/ember/internal/kv"
)

// PurgeResidue deletes every postings, stored-value, statistic and
// deletion-list entry belonging to segs, regardless of whether those
// segments still carry an active marker, and removes their active
// markers in the same batch - sweeping the KV residue a merge or explicit
// deactivation leaves behind, per spec.md §6's "purge_segments... removes
// defunct KV residue" caller contract.
//
// All four keyspace scans run even if one of them fails (a corrupt key,
// say); every failure is collected and returned together via multierr.
// If any scan failed, nothing is deleted and no marker is removed.
func PurgeResidue(store kv.Store, segs []ids.SegmentId) error {
	if len(segs) == 0 {
		return nil
	}

	snap, err := store.Snapshot()
	if err != nil {
		return err
	}
	defer snap.Close()

	batch := store.NewBatch()

	var errs error
	errs = multierr.Append(errs, scanTagged(snap, keys.TagPostings, func(k, v []byte) error {
		_, _, seg, ok := parsePostingsKey(k)
		if ok && containsSegment(segs, seg) {
			batch.Delete(append([]byte(nil), k...))
		}
		return nil
	}))
	errs = multierr.Append(errs, scanTagged(snap, keys.TagStoredValue, func(k, v []byte) error {
		seg, _, _, _, ok := parseStoredValueKey(k)
		if ok && containsSegment(segs, seg) {
			batch.Delete(append([]byte(nil), k...))
		}
		return nil
	}))
	errs = multierr.Append(errs, scanTagged(snap, keys.TagStat, func(k, v []byte) error {
		seg, _, ok := parseStatKey(k)
		if ok && containsSegment(segs, seg) {
			batch.Delete(append([]byte(nil), k...))
		}
		return nil
	}))
	errs = multierr.Append(errs, scanTagged(snap, keys.TagDeletionList, func(k, v []byte) error {
		seg, ok := parseDeletionListKey(k)
		if ok && containsSegment(segs, seg) {
			batch.Delete(append([]byte(nil), k...))
		}
		return nil
	}))
	if errs != nil {
		return errs
	}

	DeactivateSegments(batch, segs)

	return batch.Commit(true)
}

// parseDeletionListKey parses an "x/<seg>" key.
func parseDeletionListKey(k []byte) (seg ids.SegmentId, ok bool) {
	parts := strings.Split(string(k), "/")
	if len(parts) != 2 {
		return
	}
	s, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return
	}
	return ids.SegmentId(s), true
}
