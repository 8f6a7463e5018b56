package inflight

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestTracker_NewTracker_Defaults(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	if tr.SlowThreshold() != DefaultSlowThreshold {
		t.Errorf("default SlowThreshold = %v, want %v", tr.SlowThreshold(), DefaultSlowThreshold)
	}
	if tr.PendingCount() != 0 {
		t.Errorf("new tracker should have 0 pending, got %d", tr.PendingCount())
	}
}

func TestTracker_Track_And_Resolve(t *testing.T) {
	tr := NewTracker(TrackerConfig{SlowThreshold: time.Minute})

	now := time.Now()
	tr.nowFn = func() time.Time { return now }

	tr.Track("a", Pending{Action: "sms.deliver"})
	if tr.PendingCount() != 1 {
		t.Errorf("PendingCount = %d, want 1", tr.PendingCount())
	}

	now = now.Add(1500 * time.Millisecond)
	elapsed, ok := tr.Resolve("a")
	if !ok {
		t.Fatal("Resolve should return true for pending id")
	}
	if elapsed != 1500*time.Millisecond {
		t.Errorf("elapsed = %v, want 1.5s", elapsed)
	}
	if tr.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0 after resolve", tr.PendingCount())
	}
}

func TestTracker_Resolve_Unknown(t *testing.T) {
	tr := NewTracker(TrackerConfig{})
	if _, ok := tr.Resolve("missing"); ok {
		t.Error("Resolve should return false for unknown id")
	}
}

func TestTracker_Cancel(t *testing.T) {
	tr := NewTracker(TrackerConfig{})
	tr.Track("a", Pending{})
	tr.Cancel("a")
	if tr.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0 after cancel", tr.PendingCount())
	}
}

func TestTracker_Overdue_ReportedOnce(t *testing.T) {
	tr := NewTracker(TrackerConfig{SlowThreshold: 100 * time.Millisecond})

	now := time.Now()
	tr.nowFn = func() time.Time { return now }

	var calls atomic.Int32
	tr.Track("slow", Pending{OnOverdue: func(time.Duration) { calls.Add(1) }})
	tr.Track("fast", Pending{OnOverdue: func(time.Duration) { t.Error("fast should not be overdue") }})

	now = now.Add(50 * time.Millisecond)
	tr.Resolve("fast")
	tr.checkOverdue()
	if calls.Load() != 0 {
		t.Errorf("calls = %d before threshold, want 0", calls.Load())
	}

	now = now.Add(100 * time.Millisecond)
	tr.checkOverdue()
	tr.checkOverdue()
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if tr.PendingCount() != 1 {
		t.Errorf("overdue entries stay pending, got %d", tr.PendingCount())
	}
}

func TestTracker_Track_ResetsFlag(t *testing.T) {
	tr := NewTracker(TrackerConfig{SlowThreshold: 100 * time.Millisecond})

	now := time.Now()
	tr.nowFn = func() time.Time { return now }

	var calls atomic.Int32
	cb := func(time.Duration) { calls.Add(1) }
	tr.Track("a", Pending{OnOverdue: cb})
	now = now.Add(200 * time.Millisecond)
	tr.checkOverdue()

	tr.Track("a", Pending{OnOverdue: cb})
	now = now.Add(200 * time.Millisecond)
	tr.checkOverdue()

	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestTracker_Stop(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	done := make(chan struct{})
	go func() {
		tr.Start(context.Background())
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	tr.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tracker did not stop within timeout")
	}
}

func TestTracker_Stop_Context(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Start(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tracker did not stop within timeout")
	}
}
