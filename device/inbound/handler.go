// Package inbound implements the inbound segment pipeline: every segment a
// transport hands over is persisted before it is acknowledged, complete
// messages are reassembled from the segment store, and each message is
// delivered through one ordered notification at a time.
//
// All work happens on a single state machine goroutine:
//
//	Default
//	├── Startup      defers new segments until SegmentsReady
//	├── Idle         schedules the delayed keep-alive release
//	└── Delivering   persists segments and starts notifications
//	    └── Waiting  defers further deliveries until the notification completes
//
// Transports call SubmitSegment and acknowledge the segment to the network
// only when it returns core.Handled.
package inbound

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kabili207/smsinbound/core"
	"github.com/kabili207/smsinbound/core/clock"
	"github.com/kabili207/smsinbound/core/hsm"
	"github.com/kabili207/smsinbound/core/inflight"
	"github.com/kabili207/smsinbound/core/notify"
	"github.com/kabili207/smsinbound/core/sms"
	"github.com/kabili207/smsinbound/device/keepalive"
	"github.com/kabili207/smsinbound/device/metrics"
	"github.com/kabili207/smsinbound/device/store"
	"github.com/kabili207/smsinbound/transport"
)

const (
	// DefaultReleaseDelay is how long the keep-alive hold outlives the
	// return to Idle.
	DefaultReleaseDelay = 3 * time.Second

	// DefaultStoreTimeout bounds store operations issued by the machine
	// itself rather than on behalf of a transport call.
	DefaultStoreTimeout = 10 * time.Second
)

// ErrDisposed is returned by SubmitSegment once the handler has quit.
var ErrDisposed = errors.New("inbound handler disposed")

// Machine events.
const (
	EventNewMessage = iota + 1
	EventBroadcastSegment
	EventNotificationComplete
	EventReturnToIdle
	EventReleaseHold
	EventSegmentsReady
)

func eventName(what int) string {
	switch what {
	case EventNewMessage:
		return "new_message"
	case EventBroadcastSegment:
		return "broadcast_segment"
	case EventNotificationComplete:
		return "notification_complete"
	case EventReturnToIdle:
		return "return_to_idle"
	case EventReleaseHold:
		return "release_hold"
	case EventSegmentsReady:
		return "segments_ready"
	default:
		return "unknown"
	}
}

// Dispatcher delivers notification envelopes to subscribers.
// broadcast.Dispatcher satisfies it.
type Dispatcher interface {
	DispatchOrdered(env *notify.Envelope, done notify.CompletionHandler)
	NotifyRejected(outcome core.Outcome)
	DefaultSubscriber() (string, bool)
}

// PushHandler consumes reassembled binary-push payloads.
// push.Handler satisfies it.
type PushHandler interface {
	// DispatchPush starts delivery of data and reports whether a
	// notification was dispatched. done is called only when it was.
	DispatchPush(data []byte, format core.Format, done notify.CompletionHandler) bool
	Close()
}

// Interceptor may consume a message before it is persisted, for formats
// handled outside the normal pipeline. consumed reports whether it did;
// the returned outcome is then reported to the transport.
type Interceptor interface {
	Intercept(ctx context.Context, msg *sms.Message) (outcome core.Outcome, consumed bool)
}

// InterceptorFunc adapts a function to Interceptor.
type InterceptorFunc func(ctx context.Context, msg *sms.Message) (core.Outcome, bool)

func (f InterceptorFunc) Intercept(ctx context.Context, msg *sms.Message) (core.Outcome, bool) {
	return f(ctx, msg)
}

// Config configures a Handler.
type Config struct {
	// Store persists segments. Required.
	Store store.SegmentStore

	// Dispatcher delivers notifications. Required.
	Dispatcher Dispatcher

	// Push handles binary-push payloads. Required.
	Push PushHandler

	// KeepAlive is the hold taken while there is work in progress.
	// Default: a fresh lock named "inbound" reported to Metrics.
	KeepAlive *keepalive.Lock

	// Interceptor is offered each message before persistence. May be nil.
	Interceptor Interceptor

	// ReceiveDisabled acknowledges and drops every message.
	ReceiveDisabled bool

	// ReleaseDelay is how long after returning to Idle the keep-alive hold
	// is released. Default: 3 seconds.
	ReleaseDelay time.Duration

	// SlowThreshold is the notification time above which completion is
	// logged at error level. Default: 5 seconds.
	SlowThreshold time.Duration

	// StoreTimeout bounds store operations run by the machine. Default: 10s.
	StoreTimeout time.Duration

	// Strict panics on events no state handles instead of logging them.
	Strict bool

	// Metrics receives pipeline metrics. Default: metrics registered on a
	// private registry.
	Metrics *metrics.Metrics

	// Clock supplies timestamps for segments that arrive without one.
	// Default: the system clock.
	Clock *clock.Clock

	// Logger for pipeline events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Handler is the inbound segment pipeline.
type Handler struct {
	cfg      Config
	log      *slog.Logger
	machine  *hsm.Machine
	hold     *keepalive.Lock
	inflight *inflight.Tracker
	metrics  *metrics.Metrics
	clock    *clock.Clock
	counters Counters

	defaultState    *defaultState
	startupState    *startupState
	idleState       *idleState
	deliveringState *deliveringState
	waitingState    *waitingState

	// cancelRelease is owned by the machine goroutine.
	cancelRelease func() bool

	startOnce sync.Once
	cancel    context.CancelFunc
}

// submission carries a NewMessage event and its reply.
type submission struct {
	ctx   context.Context
	msg   *sms.Message
	reply chan core.Outcome
}

// New creates a Handler in the Startup state. The keep-alive hold is taken
// immediately and stays held until the machine first goes idle.
func New(cfg Config) *Handler {
	if cfg.Store == nil || cfg.Dispatcher == nil || cfg.Push == nil {
		panic("inbound: Store, Dispatcher and Push are required")
	}
	if cfg.ReleaseDelay <= 0 {
		cfg.ReleaseDelay = DefaultReleaseDelay
	}
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = inflight.DefaultSlowThreshold
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	hold := cfg.KeepAlive
	if hold == nil {
		hold = keepalive.New(keepalive.Config{
			Name:   "inbound",
			OnHeld: m.SetKeepAlive,
			Logger: logger,
		})
	}

	h := &Handler{
		cfg:     cfg,
		log:     logger.WithGroup("inbound"),
		hold:    hold,
		metrics: m,
		clock:   clk,
		inflight: inflight.NewTracker(inflight.TrackerConfig{
			SlowThreshold: cfg.SlowThreshold,
			Logger:        logger,
		}),
	}

	h.machine = hsm.New(hsm.Config{
		Name:         "inbound-machine",
		OnQuitting:   h.onQuitting,
		OnTransition: h.metrics.SetState,
		Logger:       logger,
	})
	h.defaultState = &defaultState{Base: hsm.Base{StateName: "default"}, h: h}
	h.startupState = &startupState{Base: hsm.Base{StateName: "startup"}, h: h}
	h.idleState = &idleState{h: h}
	h.deliveringState = &deliveringState{Base: hsm.Base{StateName: "delivering"}, h: h}
	h.waitingState = &waitingState{Base: hsm.Base{StateName: "waiting"}, h: h}

	h.machine.AddState(h.defaultState, nil)
	h.machine.AddState(h.startupState, h.defaultState)
	h.machine.AddState(h.idleState, h.defaultState)
	h.machine.AddState(h.deliveringState, h.defaultState)
	h.machine.AddState(h.waitingState, h.deliveringState)
	h.machine.SetInitialState(h.startupState)

	h.hold.Acquire()
	return h
}

// Start begins processing on the machine goroutine. ctx bounds the
// in-flight watchdog; the machine itself runs until Dispose.
func (h *Handler) Start(ctx context.Context) {
	h.startOnce.Do(func() {
		ctx, h.cancel = context.WithCancel(ctx)
		go h.inflight.Start(ctx)
		h.machine.Start()
	})
}

// SubmitSegment hands a received segment to the pipeline and waits for
// its outcome. The transport must acknowledge the segment to the network
// only on core.Handled. If ctx ends first the outcome is unknown to the
// caller; the segment may still be persisted and a retransmission will be
// recognised as a duplicate.
func (h *Handler) SubmitSegment(ctx context.Context, msg *sms.Message) (core.Outcome, error) {
	h.counters.SegmentsRecv.Add(1)
	sub := &submission{ctx: ctx, msg: msg, reply: make(chan core.Outcome, 1)}
	if !h.machine.SendMessage(EventNewMessage, sub) {
		return core.GenericError, ErrDisposed
	}
	select {
	case out := <-sub.reply:
		return out, nil
	case <-ctx.Done():
		return core.GenericError, ctx.Err()
	case <-h.machine.Done():
		return core.GenericError, ErrDisposed
	}
}

// HandleSegment is the transport.SegmentHandler form of SubmitSegment.
func (h *Handler) HandleSegment(ctx context.Context, msg *sms.Message, src transport.Source) core.Outcome {
	out, err := h.SubmitSegment(ctx, msg)
	if err != nil {
		h.log.Warn("segment not processed", "source", src, "error", err)
	}
	if out != core.Handled {
		h.metrics.RejectedTotal.WithLabelValues(src.String()).Inc()
	}
	return out
}

// AddTransport installs the handler as t's segment handler.
func (h *Handler) AddTransport(t transport.Transport) {
	t.SetSegmentHandler(h.HandleSegment)
}

// Resubmit queues an already persisted segment for reassembly and
// delivery. Used by the recovery sweep before SegmentsReady.
func (h *Handler) Resubmit(p sms.Persisted) bool {
	return h.machine.SendMessage(EventBroadcastSegment, p)
}

// SegmentsReady signals that recovery has finished and new segments may be
// processed.
func (h *Handler) SegmentsReady() {
	h.machine.SendMessage(EventSegmentsReady, nil)
}

// Dispose stops the machine once already queued events have been
// processed, then releases the keep-alive hold and closes the push
// handler. It blocks until the machine has quit.
func (h *Handler) Dispose() {
	h.machine.Quit()
	h.Start(context.Background())
	<-h.machine.Done()
	if h.cancel != nil {
		h.cancel()
	}
	h.inflight.Stop()
}

// State returns the name of the active innermost state.
func (h *Handler) State() string {
	return h.machine.CurrentState()
}

// Counters returns the handler's statistics.
func (h *Handler) Counters() *Counters {
	return &h.counters
}

// KeepAlive returns the keep-alive hold used by the handler.
func (h *Handler) KeepAlive() *keepalive.Lock {
	return h.hold
}

func (h *Handler) onQuitting() {
	h.cfg.Push.Close()
	h.hold.ReleaseAll()
	h.log.Info("inbound handler stopped")
}

func (h *Handler) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.cfg.StoreTimeout)
}
