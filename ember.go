// Package ember is an embeddable full-text search core: segmented,
// append-only storage over an ordered key/value engine, a term
// dictionary, a closed query-tree planner/executor, and BM25/TF·IDF
// scoring. Grounded throughout on heroiclabs-nakama's idiom for
// embedding a storage engine inside a larger Go process - structured
// zap logging, atomic counters, RWMutex-guarded registries - adapted
// from a game server's runtime state to a search index's.
package ember

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/emberindex/ember/internal/docindex"
	"github.com/emberindex/ember/internal/ids"
	"github.com/emberindex/ember/internal/kv"
	"github.com/emberindex/ember/internal/maintenance"
	"github.com/emberindex/ember/internal/segment"
	"github.com/emberindex/ember/internal/termdict"
	"github.com/emberindex/ember/schema"
)

// IndexStore owns one index's durable state: its schema, term
// dictionary, document index, and segment manager, all backed by a
// single kv.Store. It is safe for concurrent use - every method delegates
// to a component that already provides its own concurrency guarantees
// (spec.md §5).
type IndexStore struct {
	store  kv.Store
	schema *schema.Schema
	dict   *termdict.Dictionary
	docs   *docindex.Index
	segMgr *segment.Manager
	opts   Options
	logger *zap.Logger

	maintMu     sync.Mutex
	maintCancel context.CancelFunc

	closeMu sync.Mutex
	closed  bool
}

// Create initializes a brand new index at path. It performs no existence
// check of its own: the badger store is opened (and created if necessary)
// exactly as Open does, and a fresh empty schema and fresh segment and
// term counters are then written over whatever the directory held.
func Create(path string, opts Options) (*IndexStore, error) {
	store, err := kv.OpenBadger(path)
	if err != nil {
		return nil, err
	}
	return newIndexStore(store, opts, true)
}

// Open reopens an existing index at path, rebuilding every in-memory
// component from its persisted KV state.
func Open(path string, opts Options) (*IndexStore, error) {
	store, err := kv.OpenBadger(path)
	if err != nil {
		return nil, err
	}
	return newIndexStore(store, opts, false)
}

func newIndexStore(store kv.Store, opts Options, fresh bool) (*IndexStore, error) {
	var (
		sch *schema.Schema
		dct *termdict.Dictionary
		dix *docindex.Index
		mgr *segment.Manager
		err error
	)

	if fresh {
		sch, err = schema.New(store)
		if err != nil {
			store.Close()
			return nil, err
		}
		dct, err = termdict.New(store)
		if err != nil {
			store.Close()
			return nil, err
		}
		dix = docindex.New(store)
		mgr, err = segment.NewManager(store)
		if err != nil {
			store.Close()
			return nil, err
		}
	} else {
		sch, err = schema.Open(store)
		if err != nil {
			store.Close()
			return nil, err
		}
		dct, err = termdict.Open(store)
		if err != nil {
			store.Close()
			return nil, err
		}
		dix, err = docindex.Open(store)
		if err != nil {
			store.Close()
			return nil, err
		}
		mgr, err = segment.OpenManager(store)
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	return &IndexStore{
		store:  store,
		schema: sch,
		dict:   dct,
		docs:   dix,
		segMgr: mgr,
		opts:   opts,
		logger: opts.logger(),
	}, nil
}

// AddField registers a new field in the schema.
func (s *IndexStore) AddField(name string, typ schema.FieldType, flags schema.FieldFlags) (ids.FieldId, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	return s.schema.AddField(name, typ, flags)
}

// InsertOrUpdateDocument indexes doc as a freshly flushed, single-document
// segment and points doc.Key's primary-key mapping at it, retiring
// whatever segment slot doc.Key previously resolved to. A caller wanting
// larger segments should batch inserts upstream and merge afterward via
// MergeSegments - this facade mirrors spec.md §6's single-document caller
// contract directly, the same way S5's "force one flush per doc" scenario
// exercises it.
func (s *IndexStore) InsertOrUpdateDocument(doc Document) error {
	if s.isClosed() {
		return ErrClosed
	}

	seg, err := s.segMgr.NewSegment()
	if err != nil {
		return err
	}

	b := segment.NewBuilder(s.dict)
	ord, err := b.AddDocument(doc.toSegmentDocument())
	if err != nil {
		return err
	}
	if err := b.Flush(s.store, seg, s.opts.withWAL()); err != nil {
		return err
	}

	docID := ids.NewDocID(seg, ids.LocalOrd(ord))
	if _, _, err := s.docs.InsertOrReplace(doc.Key, docID); err != nil {
		return err
	}

	s.logger.Debug("indexed document", zap.ByteString("key", doc.Key), zap.Uint32("segment", uint32(seg)))
	return nil
}

// RemoveDocumentByKey removes key's mapping, retiring its current slot.
// Returns false if key was not present.
func (s *IndexStore) RemoveDocumentByKey(key []byte) (bool, error) {
	if s.isClosed() {
		return false, ErrClosed
	}
	return s.docs.DeleteByKey(key)
}

// Reader opens a consistent, point-in-time view of the index for running
// searches against. The returned Reader owns a KV snapshot, which only
// Reader.Close releases - letting the Reader be garbage collected does not -
// so callers close it once done.
func (s *IndexStore) Reader() (*Reader, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	snap, err := s.store.Snapshot()
	if err != nil {
		return nil, err
	}
	active, err := segment.IterActive(snap)
	if err != nil {
		snap.Close()
		return nil, err
	}
	return &Reader{
		snap:     snap,
		segments: active,
		resolver: planResolver{schema: s.schema, dict: s.dict},
		logger:   s.logger,
	}, nil
}

// MergeSegments combines src into one freshly allocated destination
// segment, rewrites the document index to point at the new DocIDs, and
// deactivates the sources - all in one atomic, WAL-less batch commit, so
// no snapshot can ever observe Dest active alongside a source, or Dest
// active with a stale document index (spec.md §4.7 step 6, §5).
func (s *IndexStore) MergeSegments(src []ids.SegmentId) (ids.SegmentId, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}

	batch := s.store.NewBatch()
	result, err := segment.Merge(s.store, s.segMgr, src, batch)
	if err != nil {
		return 0, err
	}
	finish := s.docs.StageRewriteAfterMerge(batch, result.Remap)
	segment.DeactivateSegments(batch, src)

	err = batch.Commit(false)
	finish(err == nil)
	if err != nil {
		return 0, err
	}

	s.logger.Info("merged segments", zap.Any("sources", src), zap.Uint32("dest", uint32(result.Dest)))
	return result.Dest, nil
}

// PurgeSegments sweeps the KV residue (postings, stored values,
// statistics, deletion lists) belonging to src and removes their active
// markers, per spec.md §6's purge_segments contract.
func (s *IndexStore) PurgeSegments(src []ids.SegmentId) error {
	if s.isClosed() {
		return ErrClosed
	}
	return segment.PurgeResidue(s.store, src)
}

// SegmentStats reports one active segment's document counters as of the
// snapshot Stats read it from.
type SegmentStats struct {
	ID          ids.SegmentId
	TotalDocs   int64
	DeletedDocs int64
}

// Stats takes a fresh snapshot and reports TotalDocs/DeletedDocs for every
// currently active segment, giving callers visibility into segment sizes
// without running a query - the same per-segment counters the maintenance
// policy itself decides on (internal/maintenance.Runner.Run gathers the
// identical pair from the same two Segment accessors).
func (s *IndexStore) Stats() ([]SegmentStats, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	snap, err := s.store.Snapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Close()

	active, err := segment.IterActive(snap)
	if err != nil {
		return nil, err
	}

	stats := make([]SegmentStats, 0, len(active))
	for _, id := range active {
		seg := segment.Open(id, snap)
		total, err := seg.TotalDocs()
		if err != nil {
			return nil, err
		}
		deleted, err := seg.DeletedDocs()
		if err != nil {
			return nil, err
		}
		stats = append(stats, SegmentStats{ID: id, TotalDocs: total, DeletedDocs: deleted})
	}
	return stats, nil
}

// StartMaintenance launches the background merge-selection loop - the one
// place Ember spawns its own goroutine (spec.md §5, §4.14) - running
// every interval until ctx is cancelled or Close is called. Calling it a
// second time without stopping the first loop replaces it.
func (s *IndexStore) StartMaintenance(ctx context.Context, interval time.Duration) {
	s.maintMu.Lock()
	defer s.maintMu.Unlock()

	if s.maintCancel != nil {
		s.maintCancel()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.maintCancel = cancel

	runner := &maintenance.Runner{
		Store:   s.store,
		Manager: s.segMgr,
		OnMerge: func(batch kv.Batch, result *segment.MergeResult) (func(bool), error) {
			return s.docs.StageRewriteAfterMerge(batch, result.Remap), nil
		},
	}

	go maintenance.Loop(loopCtx, s.store, runner, interval, func(err error) {
		s.logger.Warn("maintenance run failed", zap.Error(err))
	})
}

// Close stops any running maintenance loop and releases the underlying
// store.
func (s *IndexStore) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.maintMu.Lock()
	if s.maintCancel != nil {
		s.maintCancel()
	}
	s.maintMu.Unlock()

	return s.store.Close()
}

func (s *IndexStore) isClosed() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closed
}
