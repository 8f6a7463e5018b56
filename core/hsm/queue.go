package hsm

import (
	"sync"
	"time"
)

// Queue is the machine's ordered message queue. Items are dequeued in
// (readyAt, insertion) order; items with a future readyAt are held until
// that time has passed. Items pushed to the front are ready immediately and
// precede everything already queued.
type Queue struct {
	mu       sync.Mutex
	items    []queueItem
	seq      int64
	frontSeq int64
	wake     chan struct{}

	// nowFn allows overriding time.Now() for testing.
	nowFn func() time.Time
}

type queueItem struct {
	msg     *Message
	readyAt time.Time
	seq     int64
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		wake:  make(chan struct{}, 1),
		nowFn: time.Now,
	}
}

// Push adds a message that becomes ready after delay.
func (q *Queue) Push(msg *Message, delay time.Duration) {
	q.mu.Lock()
	q.seq++
	q.items = append(q.items, queueItem{
		msg:     msg,
		readyAt: q.nowFn().Add(delay),
		seq:     q.seq,
	})
	q.mu.Unlock()
	q.signal()
}

// PushFront places msgs ahead of every queued item, keeping their relative
// order.
func (q *Queue) PushFront(msgs ...*Message) {
	if len(msgs) == 0 {
		return
	}
	q.mu.Lock()
	q.frontSeq -= int64(len(msgs))
	for i, m := range msgs {
		q.items = append(q.items, queueItem{msg: m, seq: q.frontSeq + int64(i)})
	}
	q.mu.Unlock()
	q.signal()
}

// Pop returns the next ready message. If none is ready it returns nil and
// how long until the earliest delayed item becomes ready, or -1 when the
// queue is empty.
func (q *Queue) Pop() (*Message, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, -1
	}

	best := 0
	for i := 1; i < len(q.items); i++ {
		if q.items[i].before(q.items[best]) {
			best = i
		}
	}

	item := q.items[best]
	if wait := item.readyAt.Sub(q.nowFn()); wait > 0 {
		return nil, wait
	}
	q.items = append(q.items[:best], q.items[best+1:]...)
	return item.msg, 0
}

// Remove deletes msg from the queue. It reports whether msg was still queued.
func (q *Queue) Remove(msg *Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item.msg == msg {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Clear drops every queued message.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// Len returns the total number of items in the queue (ready or not).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wake is signalled whenever an item is pushed.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (a queueItem) before(b queueItem) bool {
	if !a.readyAt.Equal(b.readyAt) {
		return a.readyAt.Before(b.readyAt)
	}
	return a.seq < b.seq
}
