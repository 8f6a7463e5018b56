// Package keepalive provides the reference-counted hold that keeps the
// host awake while segments are being persisted and delivered.
package keepalive

import (
	"log/slog"
	"sync"
)

// Config configures a Lock.
type Config struct {
	// Name identifies the hold in logs.
	Name string

	// OnHeld is called with true when the count rises from zero and with
	// false when it drops back to zero. Called outside the lock. May be nil.
	OnHeld func(held bool)

	// Logger for hold events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Lock is a reference-counted hold. Every Acquire must be paired with a
// Release; the hold is in effect while the count is positive.
type Lock struct {
	cfg Config
	log *slog.Logger

	mu    sync.Mutex
	count int
}

// New creates a released Lock.
func New(cfg Config) *Lock {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "keepalive"
	}
	return &Lock{
		cfg: cfg,
		log: logger.WithGroup("keepalive").With("name", cfg.Name),
	}
}

// Acquire increments the hold count.
func (l *Lock) Acquire() {
	l.mu.Lock()
	l.count++
	first := l.count == 1
	l.mu.Unlock()

	if first {
		l.log.Debug("acquired")
		if l.cfg.OnHeld != nil {
			l.cfg.OnHeld(true)
		}
	}
}

// Release decrements the hold count. Releasing an unheld lock is logged
// and otherwise ignored. It reports whether the lock is still held.
func (l *Lock) Release() bool {
	l.mu.Lock()
	if l.count == 0 {
		l.mu.Unlock()
		l.log.Warn("release without matching acquire")
		return false
	}
	l.count--
	held := l.count > 0
	l.mu.Unlock()

	if !held {
		l.log.Debug("released")
		if l.cfg.OnHeld != nil {
			l.cfg.OnHeld(false)
		}
	}
	return held
}

// ReleaseAll drops every outstanding hold.
func (l *Lock) ReleaseAll() {
	for l.IsHeld() {
		l.Release()
	}
}

// IsHeld reports whether the count is positive.
func (l *Lock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count > 0
}

// Count returns the current hold count.
func (l *Lock) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}
