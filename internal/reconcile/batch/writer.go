// Package batch provides the bounded write accumulator every reconciliation
// component writes through.
package batch

import (
	"context"
	"fmt"

	"lattice/internal/entity/store"
)

// DefaultLimit matches the store-imposed maximum operations per batch.
const DefaultLimit = 500

// Writer accumulates write ops and commits a full batch whenever the
// configured limit is reached. Each committed batch is atomic; the overall
// run is not, so callers must be idempotent with respect to partial
// completion.
//
// A Writer is owned by a single run and is not safe for concurrent use.
type Writer struct {
	store    store.Store
	limit    int
	pending  []store.WriteOp
	batches  int
	ops      int
	onCommit func(size int)
}

// Option configures a Writer.
type Option func(*Writer)

// WithLimit overrides the batch size limit. Values below 1 are ignored.
func WithLimit(limit int) Option {
	return func(w *Writer) {
		if limit >= 1 {
			w.limit = limit
		}
	}
}

// WithCommitObserver registers a callback invoked with the size of every
// committed batch. Used to feed metrics without coupling the writer to them.
func WithCommitObserver(fn func(size int)) Option {
	return func(w *Writer) {
		w.onCommit = fn
	}
}

// NewWriter creates a Writer committing through s.
func NewWriter(s store.Store, opts ...Option) *Writer {
	w := &Writer{store: s, limit: DefaultLimit}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Add queues one op, committing the accumulated batch first if it is full.
func (w *Writer) Add(ctx context.Context, op store.WriteOp) error {
	if len(w.pending) >= w.limit {
		if err := w.commit(ctx); err != nil {
			return err
		}
	}
	w.pending = append(w.pending, op)
	return nil
}

// Flush commits any final partial batch. Safe to call with nothing pending.
func (w *Writer) Flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	return w.commit(ctx)
}

// Committed returns the number of batches and ops committed so far.
func (w *Writer) Committed() (batches, ops int) {
	return w.batches, w.ops
}

// Pending returns the number of queued, uncommitted ops.
func (w *Writer) Pending() int { return len(w.pending) }

func (w *Writer) commit(ctx context.Context) error {
	size := len(w.pending)
	if err := w.store.BatchWrite(ctx, w.pending); err != nil {
		return fmt.Errorf("commit batch of %d: %w", size, err)
	}
	w.batches++
	w.ops += size
	w.pending = w.pending[:0]
	if w.onCommit != nil {
		w.onCommit(size)
	}
	return nil
}
