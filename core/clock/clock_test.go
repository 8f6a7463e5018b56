package clock

import (
	"sync/atomic"
	"testing"
)

// mockClock creates a Clock with a controllable time source.
func mockClock(initial int64) (*Clock, *atomic.Int64) {
	var t atomic.Int64
	t.Store(initial)
	c := &Clock{
		nowFn: func() int64 { return t.Load() },
	}
	return c, &t
}

func TestNow(t *testing.T) {
	c, now := mockClock(1000)
	if got := c.Now(); got != 1000 {
		t.Errorf("Now() = %d, want 1000", got)
	}
	now.Store(2000)
	if got := c.Now(); got != 2000 {
		t.Errorf("Now() = %d, want 2000", got)
	}
}

func TestNowUnique_Advancing(t *testing.T) {
	c, now := mockClock(100)

	if got := c.NowUnique(); got != 100 {
		t.Errorf("got %d, want 100", got)
	}
	now.Store(101)
	if got := c.NowUnique(); got != 101 {
		t.Errorf("got %d, want 101", got)
	}
	now.Store(105)
	if got := c.NowUnique(); got != 105 {
		t.Errorf("got %d, want 105", got)
	}
}

func TestNowUnique_SameMillisecond(t *testing.T) {
	c, _ := mockClock(100)

	v1 := c.NowUnique()
	v2 := c.NowUnique()
	v3 := c.NowUnique()

	if v2 <= v1 {
		t.Errorf("v2 (%d) should be > v1 (%d)", v2, v1)
	}
	if v3 <= v2 {
		t.Errorf("v3 (%d) should be > v2 (%d)", v3, v2)
	}
}

func TestNowUnique_ClockGoesBackward(t *testing.T) {
	c, now := mockClock(200)

	v1 := c.NowUnique()
	now.Store(150)
	v2 := c.NowUnique()

	if v2 <= v1 {
		t.Errorf("v2 (%d) should be > v1 (%d) even when clock goes backward", v2, v1)
	}
}

func TestSet(t *testing.T) {
	c := Fixed(1700000000000)

	got := c.Now()
	if got < 1700000000000 || got > 1700000001000 {
		t.Errorf("Now() after set = %d, want ~1700000000000", got)
	}
}

func TestSet_UniqueStillWorks(t *testing.T) {
	c, _ := mockClock(500)
	c.NowUnique()

	c.Set(1000)

	if v := c.NowUnique(); v < 1000 {
		t.Errorf("after Set(1000), NowUnique() = %d, want >= 1000", v)
	}
}

func TestNew_ReturnsReasonableTime(t *testing.T) {
	c := New()
	// 2020-01-01 in milliseconds.
	if got := c.Now(); got < 1577836800000 {
		t.Errorf("Now() = %d, expected > 1577836800000", got)
	}
}
