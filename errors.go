package ember

import (
	"errors"

	"github.com/emberindex/ember/schema"
	"github.com/emberindex/ember/internal/segment"
)

// Sentinel errors surfaced across the facade's public API, per spec.md
// §7's error table realized as Go sentinels checked with errors.Is.
var (
	// ErrFieldExists re-exports schema.ErrFieldExists under the facade's
	// own name so callers never need to import the internal-shaped
	// schema error directly.
	ErrFieldExists = schema.ErrFieldExists
	// ErrSegmentFull re-exports segment.ErrSegmentFull.
	ErrSegmentFull = segment.ErrSegmentFull
	// ErrTooManyDocs re-exports segment.ErrTooManyDocs.
	ErrTooManyDocs = segment.ErrTooManyDocs
	// ErrNaNScore is returned by Reader.Search when a similarity model
	// produces NaN for some document. Recovered from a panic at the
	// Search boundary rather than checked inline, since a NaN score is a
	// programmer/model bug, not an ordinary runtime condition (spec.md
	// §4.12, §7).
	ErrNaNScore = errors.New("ember: similarity model produced NaN score")
	// ErrClosed is returned by the IndexStore methods that return an
	// error (other than Close itself) when called after Close. Reader
	// methods never return it.
	ErrClosed = errors.New("ember: index store is closed")
)
