package hsm

import (
	"testing"
	"time"
)

func TestQueue_Empty(t *testing.T) {
	q := NewQueue()
	msg, wait := q.Pop()
	if msg != nil {
		t.Error("expected nil from empty queue")
	}
	if wait != -1 {
		t.Errorf("wait = %v, want -1", wait)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue()
	first := &Message{What: 1}
	second := &Message{What: 2}

	q.Push(first, 0)
	q.Push(second, 0)

	if got, _ := q.Pop(); got != first {
		t.Error("should return first-inserted item")
	}
	if got, _ := q.Pop(); got != second {
		t.Error("should return second-inserted item")
	}
}

func TestQueue_DelayedItems(t *testing.T) {
	q := NewQueue()
	now := time.Now()
	q.nowFn = func() time.Time { return now }

	delayed := &Message{What: 1}
	ready := &Message{What: 2}
	q.Push(delayed, 100*time.Millisecond)
	q.Push(ready, 0)

	if got, _ := q.Pop(); got != ready {
		t.Error("should return the ready item, not the delayed one")
	}

	got, wait := q.Pop()
	if got != nil {
		t.Error("delayed item should not be ready yet")
	}
	if wait != 100*time.Millisecond {
		t.Errorf("wait = %v, want 100ms", wait)
	}

	now = now.Add(110 * time.Millisecond)
	if got, _ := q.Pop(); got != delayed {
		t.Error("delayed item should be ready now")
	}
}

func TestQueue_PushFrontKeepsOrder(t *testing.T) {
	q := NewQueue()
	queued := &Message{What: 1}
	a := &Message{What: 2}
	b := &Message{What: 3}
	c := &Message{What: 4}

	q.Push(queued, 0)
	q.PushFront(a, b)
	q.PushFront(c)

	want := []*Message{c, a, b, queued}
	for i, w := range want {
		if got, _ := q.Pop(); got != w {
			t.Fatalf("pop %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestQueue_Remove(t *testing.T) {
	q := NewQueue()
	msg := &Message{What: 1}
	q.Push(msg, time.Hour)

	if !q.Remove(msg) {
		t.Error("Remove should report a queued message")
	}
	if q.Remove(msg) {
		t.Error("Remove should report false once the message is gone")
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestQueue_WakeOnPush(t *testing.T) {
	q := NewQueue()
	q.Push(&Message{}, 0)
	select {
	case <-q.Wake():
	default:
		t.Error("push should signal wake")
	}
}
