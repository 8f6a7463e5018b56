package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kabili207/smsinbound/core/sms"
)

// Compile-time assertion that MemoryStore implements SegmentStore.
var _ SegmentStore = (*MemoryStore)(nil)

// MemoryStore is an in-memory SegmentStore. Rows do not survive a restart,
// so it suits tests and deployments that accept losing undelivered
// segments on a crash.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   map[int64]*sms.Row
	nextID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[int64]*sms.Row)}
}

// Insert stores a copy of r.
func (s *MemoryStore) Insert(ctx context.Context, r *sms.Row) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	stored := r.Clone()
	stored.ID = s.nextID
	s.rows[stored.ID] = stored
	return stored.ID, nil
}

// Query returns copies of the matching rows.
func (s *MemoryStore) Query(ctx context.Context, sel sms.Selector) ([]*sms.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*sms.Row
	for _, r := range s.rows {
		if sel.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	sortByID(out)
	return out, nil
}

// Delete removes the matching rows.
func (s *MemoryStore) Delete(ctx context.Context, sel sms.Selector) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, r := range s.rows {
		if sel.Matches(r) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

// All returns copies of every row.
func (s *MemoryStore) All(ctx context.Context) ([]*sms.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*sms.Row, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r.Clone())
	}
	sortByID(out)
	return out, nil
}

// Count returns the number of stored rows.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func sortByID(rows []*sms.Row) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
}
