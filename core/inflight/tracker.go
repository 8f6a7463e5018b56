// Package inflight watches ordered notifications that have been handed to
// subscribers but not yet completed.
//
// A notification is tracked from the moment it is dispatched until its
// terminal completion arrives. Resolve reports how long the fan-out took so
// the caller can flag slow deliveries; meanwhile the check loop warns once
// about notifications that are still outstanding past the threshold, which
// is the only visible symptom of a subscriber that never finishes.
package inflight

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultSlowThreshold is the fan-out duration considered slow.
	DefaultSlowThreshold = 5 * time.Second

	// checkInterval is the resolution of the tracker's overdue check loop.
	checkInterval = time.Second
)

// Pending describes an outstanding notification.
type Pending struct {
	// Action is the notification action, used only for logging.
	Action string

	// OnOverdue is called once when the notification passes the slow
	// threshold without being resolved. May be nil.
	OnOverdue func(elapsed time.Duration)

	sentAt  time.Time
	flagged bool
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// SlowThreshold is how long a notification may stay outstanding before
	// it is reported. Default: 5 seconds.
	SlowThreshold time.Duration

	// Logger for tracker events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Tracker tracks outstanding notifications.
type Tracker struct {
	cfg     TrackerConfig
	log     *slog.Logger
	mu      sync.Mutex
	pending map[string]*Pending
	cancel  context.CancelFunc

	// nowFn allows overriding time.Now() for testing.
	nowFn func() time.Time
}

// NewTracker creates a tracker with the given configuration.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = DefaultSlowThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		cfg:     cfg,
		log:     logger.WithGroup("inflight"),
		pending: make(map[string]*Pending),
		nowFn:   time.Now,
	}
}

// SlowThreshold returns the configured threshold.
func (t *Tracker) SlowThreshold() time.Duration {
	return t.cfg.SlowThreshold
}

// Track registers an outstanding notification. An existing entry with the
// same id is replaced and its start time reset.
func (t *Tracker) Track(id string, p Pending) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p.sentAt = t.nowFn()
	p.flagged = false
	t.pending[id] = &p
}

// Resolve removes a notification and returns how long it was outstanding.
// The boolean is false if id was not tracked.
func (t *Tracker) Resolve(id string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[id]
	if !ok {
		return 0, false
	}
	delete(t.pending, id)
	return t.nowFn().Sub(p.sentAt), true
}

// Cancel removes a notification without reporting it.
func (t *Tracker) Cancel(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, id)
}

// PendingCount returns the number of outstanding notifications.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Start begins the overdue check loop. Blocks until the context is cancelled.
func (t *Tracker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.checkOverdue()
		}
	}
}

// Stop cancels the tracker's context, stopping the check loop.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

type overdue struct {
	id      string
	p       *Pending
	elapsed time.Duration
}

// checkOverdue reports every notification that crossed the threshold since
// the last check.
func (t *Tracker) checkOverdue() {
	t.mu.Lock()
	now := t.nowFn()
	var late []overdue
	for id, p := range t.pending {
		if p.flagged {
			continue
		}
		elapsed := now.Sub(p.sentAt)
		if elapsed < t.cfg.SlowThreshold {
			continue
		}
		p.flagged = true
		late = append(late, overdue{id: id, p: p, elapsed: elapsed})
	}
	t.mu.Unlock()

	// Callbacks run outside the lock
	for _, o := range late {
		t.log.Warn("notification still pending", "id", o.id, "action", o.p.Action, "elapsed", o.elapsed)
		if o.p.OnOverdue != nil {
			o.p.OnOverdue(o.elapsed)
		}
	}
}
