// Package broadcast delivers notification envelopes to registered
// subscribers.
//
// An ordered dispatch visits each eligible subscriber in turn, highest
// priority first, handing every subscriber the result left by the one
// before it. When the last subscriber returns, the completion handler is
// called with the final result. Dispatches run on their own goroutine so
// the caller never blocks on a slow subscriber.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/kabili207/smsinbound/core"
	"github.com/kabili207/smsinbound/core/notify"
)

// Subscriber receives notifications.
type Subscriber interface {
	Name() string

	// Receive processes env and returns the result to pass on. prev is the
	// result left by the previous subscriber, or notify.ResultOK.
	Receive(ctx context.Context, env *notify.Envelope, prev notify.Result) notify.Result
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc struct {
	ID string
	Fn func(ctx context.Context, env *notify.Envelope, prev notify.Result) notify.Result
}

func (s SubscriberFunc) Name() string { return s.ID }

func (s SubscriberFunc) Receive(ctx context.Context, env *notify.Envelope, prev notify.Result) notify.Result {
	return s.Fn(ctx, env, prev)
}

// Option configures a subscription.
type Option func(*subscription)

// WithActions limits a subscription to the given actions. Without it a
// subscriber sees only the broadcast-stage actions (received and push
// received, plus data for its ports). Deliver-stage envelopes reach it
// only when it is the named target.
func WithActions(actions ...notify.Action) Option {
	return func(s *subscription) { s.actions = append(s.actions, actions...) }
}

// WithPorts registers interest in port-addressed messages for the given
// destination ports.
func WithPorts(ports ...int) Option {
	return func(s *subscription) { s.ports = append(s.ports, ports...) }
}

// WithPriority orders the subscription within an ordered dispatch. Higher
// priorities are visited first; equal priorities keep registration order.
func WithPriority(p int) Option {
	return func(s *subscription) { s.priority = p }
}

type subscription struct {
	sub      Subscriber
	actions  []notify.Action
	ports    []int
	priority int
	seq      int
}

func (s *subscription) eligible(env *notify.Envelope) bool {
	if env.Target != "" {
		return env.Target == s.sub.Name()
	}
	if len(s.actions) > 0 {
		if !slices.Contains(s.actions, env.Action) {
			return false
		}
	} else if !broadcastStage(env.Action) {
		return false
	}
	if env.Action == notify.ActionDataReceived {
		return slices.Contains(s.ports, env.Port)
	}
	return true
}

func broadcastStage(a notify.Action) bool {
	switch a {
	case notify.ActionReceived, notify.ActionPushReceived, notify.ActionDataReceived:
		return true
	}
	return false
}

// Config configures a Dispatcher.
type Config struct {
	// Logger for dispatch events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Dispatcher fans envelopes out to subscribers.
type Dispatcher struct {
	cfg Config
	log *slog.Logger

	mu       sync.RWMutex
	subs     []*subscription
	seq      int
	defaults map[notify.Action]string
	closed   bool

	wg sync.WaitGroup
}

// New creates a Dispatcher with no subscribers.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:      cfg,
		log:      logger.WithGroup("broadcast"),
		defaults: make(map[notify.Action]string),
	}
}

// Subscribe registers sub. A subscriber registered again under the same
// name replaces the earlier registration.
func (d *Dispatcher) Subscribe(sub Subscriber, opts ...Option) {
	s := &subscription{sub: sub}
	for _, o := range opts {
		o(s)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	s.seq = d.seq
	d.subs = slices.DeleteFunc(d.subs, func(e *subscription) bool {
		return e.sub.Name() == sub.Name()
	})
	d.subs = append(d.subs, s)
	sort.SliceStable(d.subs, func(i, j int) bool {
		if d.subs[i].priority != d.subs[j].priority {
			return d.subs[i].priority > d.subs[j].priority
		}
		return d.subs[i].seq < d.subs[j].seq
	})
}

// Unsubscribe removes the subscriber registered under name.
func (d *Dispatcher) Unsubscribe(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = slices.DeleteFunc(d.subs, func(e *subscription) bool {
		return e.sub.Name() == name
	})
	for a, n := range d.defaults {
		if n == name {
			delete(d.defaults, a)
		}
	}
}

// SetDefault names the subscriber that receives deliver-stage envelopes of
// the given action. An empty name clears it.
func (d *Dispatcher) SetDefault(action notify.Action, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if name == "" {
		delete(d.defaults, action)
		return
	}
	d.defaults[action] = name
}

// DefaultSubscriber returns the default text-message subscriber, if one is
// configured and currently registered.
func (d *Dispatcher) DefaultSubscriber() (string, bool) {
	return d.DefaultFor(notify.ActionDeliver)
}

// DefaultFor returns the default subscriber for action, if one is
// configured and currently registered.
func (d *Dispatcher) DefaultFor(action notify.Action) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.defaults[action]
	if !ok {
		return "", false
	}
	for _, s := range d.subs {
		if s.sub.Name() == name {
			return name, true
		}
	}
	return "", false
}

// Len returns the number of registered subscribers.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}

// DispatchOrdered delivers env to every eligible subscriber in order and
// then calls done with the final result. done is always called exactly
// once, even when no subscriber is eligible or the dispatcher is closed.
func (d *Dispatcher) DispatchOrdered(env *notify.Envelope, done notify.CompletionHandler) {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		d.log.Warn("dispatch after close", "id", env.ID, "action", env.Action)
		go done.OnComplete(env, notify.ResultFailed)
		return
	}
	targets := d.eligible(env)
	d.wg.Add(1)
	d.mu.RUnlock()

	go func() {
		defer d.wg.Done()
		result := notify.ResultOK
		for _, s := range targets {
			result = d.deliver(s, env, result)
		}
		d.log.Debug("ordered dispatch complete", "id", env.ID, "action", env.Action,
			"subscribers", len(targets), "result", result)
		done.OnComplete(env, result)
	}()
}

// NotifyRejected tells every subscriber interested in rejection notices
// that an incoming message was refused. Delivery is unordered and nothing
// waits for it.
func (d *Dispatcher) NotifyRejected(outcome core.Outcome) {
	env := notify.NewEnvelope(notify.ActionRejected)
	env.Outcome = outcome

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return
	}
	targets := d.eligible(env)
	d.wg.Add(len(targets))
	d.mu.RUnlock()

	for _, s := range targets {
		s := s
		go func() {
			defer d.wg.Done()
			d.deliver(s, env.Clone(), notify.ResultOK)
		}()
	}
}

// Close stops accepting dispatches and waits for in-flight ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

// eligible must be called with d.mu held.
func (d *Dispatcher) eligible(env *notify.Envelope) []*subscription {
	var out []*subscription
	for _, s := range d.subs {
		if s.eligible(env) {
			out = append(out, s)
		}
	}
	return out
}

func (d *Dispatcher) deliver(s *subscription, env *notify.Envelope, prev notify.Result) (result notify.Result) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("subscriber panicked", "subscriber", s.sub.Name(), "id", env.ID,
				"error", fmt.Sprint(r))
			result = notify.ResultFailed
		}
	}()
	return s.sub.Receive(context.Background(), env, prev)
}
