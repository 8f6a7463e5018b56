// Package connection tracks segment activity on connected transports.
//
// The Manager records when each transport last delivered a segment and
// fires a silence callback once a link has been quiet for longer than
// ActivityInterval × TimeoutMultiplier. A modem or SMSC that stays bound
// but stops forwarding traffic is otherwise invisible. The next segment on
// the link clears the silent mark.
package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kabili207/smsinbound/core"
	"github.com/kabili207/smsinbound/core/sms"
	"github.com/kabili207/smsinbound/transport"
)

const (
	// DefaultActivityInterval is the expected gap between segments on a
	// busy link.
	DefaultActivityInterval = 10 * time.Minute

	// DefaultTimeoutMultiplier is applied to ActivityInterval to get the
	// silence timeout.
	DefaultTimeoutMultiplier = 3.0

	// checkInterval is the resolution of the manager's check loop.
	checkInterval = time.Second
)

// LinkState tracks one transport's activity.
type LinkState struct {
	Source   transport.Source
	LastSeen time.Time
	Silent   bool
}

// ManagerConfig configures a connection Manager.
type ManagerConfig struct {
	// ActivityInterval is the expected interval between segments.
	// Default: 10 minutes.
	ActivityInterval time.Duration

	// TimeoutMultiplier is applied to ActivityInterval to determine when
	// a link is considered silent. Default: 3.
	TimeoutMultiplier float64

	// Logger for link events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Manager tracks connected transports and detects silent links.
type Manager struct {
	cfg      ManagerConfig
	log      *slog.Logger
	mu       sync.Mutex
	links    map[transport.Source]*LinkState
	onSilent func(src transport.Source, quiet time.Duration)
	cancel   context.CancelFunc

	// nowFn allows overriding time.Now() for testing.
	nowFn func() time.Time
}

// NewManager creates a connection manager with the given configuration.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.ActivityInterval <= 0 {
		cfg.ActivityInterval = DefaultActivityInterval
	}
	if cfg.TimeoutMultiplier <= 0 {
		cfg.TimeoutMultiplier = DefaultTimeoutMultiplier
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:   cfg,
		log:   logger.WithGroup("connection"),
		links: make(map[transport.Source]*LinkState),
		nowFn: time.Now,
	}
}

// SetOnSilent sets the callback invoked when a link goes silent.
func (m *Manager) SetOnSilent(fn func(src transport.Source, quiet time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSilent = fn
}

// Register starts tracking src. Re-registering resets its activity.
func (m *Manager) Register(src transport.Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[src] = &LinkState{
		Source:   src,
		LastSeen: m.nowFn(),
	}
}

// Touch records activity on src. Does nothing if src is not tracked.
func (m *Manager) Touch(src transport.Source) {
	m.mu.Lock()
	l, ok := m.links[src]
	if !ok {
		m.mu.Unlock()
		return
	}
	l.LastSeen = m.nowFn()
	wasSilent := l.Silent
	l.Silent = false
	m.mu.Unlock()

	if wasSilent {
		m.log.Info("link active again", "source", src.String())
	}
}

// Remove stops tracking src.
func (m *Manager) Remove(src transport.Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.links, src)
}

// IsActive returns true if src is tracked and not silent.
func (m *Manager) IsActive(src transport.Source) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[src]
	return ok && !l.Silent
}

// LinkCount returns the number of tracked links.
func (m *Manager) LinkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

// Wrap returns a segment handler that records activity and then calls next.
func (m *Manager) Wrap(next transport.SegmentHandler) transport.SegmentHandler {
	return func(ctx context.Context, msg *sms.Message, src transport.Source) core.Outcome {
		m.Touch(src)
		return next(ctx, msg, src)
	}
}

// OnStateChange registers src when its transport connects and drops it
// when it disconnects.
func (m *Manager) OnStateChange(src transport.Source, ev transport.Event) {
	switch ev {
	case transport.EventConnected:
		m.Register(src)
	case transport.EventDisconnected:
		m.Remove(src)
	}
}

// CheckTimeouts marks links silent that have exceeded the timeout and
// fires the callback once per silent period.
func (m *Manager) CheckTimeouts() {
	m.mu.Lock()
	now := m.nowFn()
	timeout := time.Duration(float64(m.cfg.ActivityInterval) * m.cfg.TimeoutMultiplier)

	type silent struct {
		src   transport.Source
		quiet time.Duration
	}
	var newlySilent []silent
	for src, l := range m.links {
		if l.Silent {
			continue
		}
		if quiet := now.Sub(l.LastSeen); quiet > timeout {
			l.Silent = true
			newlySilent = append(newlySilent, silent{src, quiet})
		}
	}

	onSilent := m.onSilent
	m.mu.Unlock()

	// Fire callbacks outside the lock
	for _, s := range newlySilent {
		m.log.Warn("link silent", "source", s.src.String(), "quiet", s.quiet)
		if onSilent != nil {
			onSilent(s.src, s.quiet)
		}
	}
}

// Start begins the periodic check loop. Blocks until the context is
// cancelled.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckTimeouts()
		}
	}
}

// Stop cancels the manager's context, stopping the check loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}
