package inbound

import "sync/atomic"

// Counters tracks pipeline statistics using atomic counters.
// All fields are safe for concurrent access.
type Counters struct {
	SegmentsRecv        atomic.Uint32 // Segments submitted by transports
	SegmentsAccepted    atomic.Uint32 // Segments newly persisted
	Duplicates          atomic.Uint32 // Segments already stored
	DuplicateMismatches atomic.Uint32 // Duplicates whose payload differed
	Ignored             atomic.Uint32 // Segments dropped while receiving is disabled
	Intercepted         atomic.Uint32 // Segments consumed by the interceptor
	StorageErrors       atomic.Uint32 // Failed store operations
	Incomplete          atomic.Uint32 // Reassembly attempts still missing segments
	MessagesDispatched  atomic.Uint32 // Notifications started
	PushDiscarded       atomic.Uint32 // Push messages deleted without delivery
	Completed           atomic.Uint32 // Notifications completed
	SlowCompletions     atomic.Uint32 // Completions past the slow threshold
	DeleteMisses        atomic.Uint32 // Completion deletes that matched no rows
}

// CountersSnapshot is a plain-value copy of Counters for reading.
type CountersSnapshot struct {
	SegmentsRecv        uint32
	SegmentsAccepted    uint32
	Duplicates          uint32
	DuplicateMismatches uint32
	Ignored             uint32
	Intercepted         uint32
	StorageErrors       uint32
	Incomplete          uint32
	MessagesDispatched  uint32
	PushDiscarded       uint32
	Completed           uint32
	SlowCompletions     uint32
	DeleteMisses        uint32
}

// Snapshot returns a point-in-time copy of all counters.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		SegmentsRecv:        c.SegmentsRecv.Load(),
		SegmentsAccepted:    c.SegmentsAccepted.Load(),
		Duplicates:          c.Duplicates.Load(),
		DuplicateMismatches: c.DuplicateMismatches.Load(),
		Ignored:             c.Ignored.Load(),
		Intercepted:         c.Intercepted.Load(),
		StorageErrors:       c.StorageErrors.Load(),
		Incomplete:          c.Incomplete.Load(),
		MessagesDispatched:  c.MessagesDispatched.Load(),
		PushDiscarded:       c.PushDiscarded.Load(),
		Completed:           c.Completed.Load(),
		SlowCompletions:     c.SlowCompletions.Load(),
		DeleteMisses:        c.DeleteMisses.Load(),
	}
}

// Reset zeroes all counters.
func (c *Counters) Reset() {
	c.SegmentsRecv.Store(0)
	c.SegmentsAccepted.Store(0)
	c.Duplicates.Store(0)
	c.DuplicateMismatches.Store(0)
	c.Ignored.Store(0)
	c.Intercepted.Store(0)
	c.StorageErrors.Store(0)
	c.Incomplete.Store(0)
	c.MessagesDispatched.Store(0)
	c.PushDiscarded.Store(0)
	c.Completed.Store(0)
	c.SlowCompletions.Store(0)
	c.DeleteMisses.Store(0)
}
