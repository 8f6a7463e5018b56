// Package store persists received message segments until the message they
// belong to has been delivered.
//
// A row is written before a segment is acknowledged to its transport and is
// removed only after the message's notification fan-out has completed, so
// any row still present at startup belongs to a message that was never
// fully delivered.
package store

import (
	"context"
	"errors"

	"github.com/kabili207/smsinbound/core/sms"
)

// ErrStorage wraps every failure reported by a SegmentStore backend.
var ErrStorage = errors.New("segment storage failure")

// SegmentStore is the interface for segment storage backends.
type SegmentStore interface {
	// Insert stores a row and returns its assigned id. The row's ID field
	// is ignored.
	Insert(ctx context.Context, r *sms.Row) (int64, error)

	// Query returns every row matching sel, ordered by id.
	Query(ctx context.Context, sel sms.Selector) ([]*sms.Row, error)

	// Delete removes every row matching sel and returns how many were
	// removed.
	Delete(ctx context.Context, sel sms.Selector) (int, error)

	// All returns every stored row, ordered by id.
	All(ctx context.Context) ([]*sms.Row, error)
}
