package mcap

import "context"

// MessageIterator is the pull-based, cancellable sequence design note
// §9 calls for: Next returns the next result or io.EOF-style done via
// ok=false, and Return releases any held resources. Cancelling ctx makes
// Next fail with ctx's error but does not call Return; the caller still
// calls Return to release the iterator.
type MessageIterator interface {
	Next(ctx context.Context) (IteratorResult, bool, error)
	Return() error
}

// Source is the opaque log reader contract consumed by BufferedSource
// (spec §6). The MCAP byte-level parser itself is external; Source is
// the seam this module depends on instead.
type Source interface {
	Initialize(ctx context.Context) (InitializationResult, error)
	MessageIterator(ctx context.Context, args MessageIteratorArgs) (MessageIterator, error)
	GetBackfillMessages(ctx context.Context, args BackfillArgs) ([]MessageEvent, error)
	Terminate() error
}

// sliceIterator adapts a pre-materialized, time-sorted slice of results
// into a MessageIterator. Used by in-memory/test sources and as the
// terminal stage DeserializingSource and BufferedSource build on.
type sliceIterator struct {
	results []IteratorResult
	pos     int
	closed  bool
}

// NewSliceIterator builds a MessageIterator over an already-ordered
// slice of results, for sources that materialize eagerly.
func NewSliceIterator(results []IteratorResult) MessageIterator {
	return &sliceIterator{results: results}
}

func (it *sliceIterator) Next(ctx context.Context) (IteratorResult, bool, error) {
	if it.closed {
		return IteratorResult{}, false, nil
	}
	select {
	case <-ctx.Done():
		return IteratorResult{}, false, ctx.Err()
	default:
	}
	if it.pos >= len(it.results) {
		return IteratorResult{}, false, nil
	}
	r := it.results[it.pos]
	it.pos++
	return r, true, nil
}

func (it *sliceIterator) Return() error {
	it.closed = true
	return nil
}
