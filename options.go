package ember

import "go.uber.org/zap"

// Options configures Create and Open. It is deliberately small: Ember is
// an embedded engine, not a server, so it carries only what a caller
// embedding the library actually needs to set, per SPEC_FULL.md's ambient
// stack notes.
type Options struct {
	// Logger receives structured diagnostics (segment flushes, merges,
	// maintenance runs). Defaults to a no-op logger if nil, matching
	// library-shaped code's convention of staying silent unless a caller
	// opts in.
	Logger *zap.Logger
	// NoWAL, if true, flushes each inserted document's segment with
	// withWAL=false. The primary-key, schema and term-dictionary writes
	// always commit with withWAL=true, and BadgerStore commits every batch
	// durably whatever the flag. Left false by default so the zero Options
	// value is the safe one. Segment merges always commit with
	// withWAL=false regardless of this setting, since a merge's destination
	// segment is safely rebuildable from its sources (spec.md §4.7).
	NoWAL bool
}

func (o Options) withWAL() bool {
	return !o.NoWAL
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return defaultLogger()
	}
	return o.Logger
}
