// Package push routes concatenated binary push payloads (WAP push) to
// subscribers.
//
// The payload is a connectionless WSP PDU. Push PDUs are first delivered to
// the default push subscriber, if one is configured, and then broadcast;
// anything else is refused so the caller can discard it.
package push

import (
	"log/slog"
	"sync"

	"github.com/kabili207/smsinbound/core"
	"github.com/kabili207/smsinbound/core/notify"
)

// Dispatcher is the ordered fan-out used to deliver push envelopes.
type Dispatcher interface {
	DispatchOrdered(env *notify.Envelope, done notify.CompletionHandler)
	DefaultFor(action notify.Action) (string, bool)
}

// Config configures a Handler.
type Config struct {
	Dispatcher Dispatcher

	// Logger for push events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Handler dispatches binary push payloads.
type Handler struct {
	cfg Config
	log *slog.Logger

	mu     sync.Mutex
	closed bool
}

// New creates a push Handler.
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg: cfg,
		log: logger.WithGroup("push"),
	}
}

// DispatchPush parses data and, if it is a push PDU, starts an ordered
// dispatch that ends by calling done. It reports whether a dispatch was
// started; when it returns false done is never called.
func (h *Handler) DispatchPush(data []byte, format core.Format, done notify.CompletionHandler) bool {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		h.log.Warn("push dropped after close", "len", len(data))
		return false
	}

	pdu, err := ParsePDU(data)
	if err != nil {
		h.log.Warn("discarding binary push", "len", len(data), "error", err)
		return false
	}

	env := notify.NewEnvelope(notify.ActionPushDeliver)
	env.Port = core.PortWapPush
	env.Format = format
	env.Data = pdu.Body
	env.ContentType = pdu.ContentType
	if name, ok := h.cfg.Dispatcher.DefaultFor(notify.ActionPushDeliver); ok {
		env.Target = name
	}

	h.log.Debug("dispatching push", "id", env.ID, "content_type", pdu.ContentType,
		"tid", pdu.TransactionID, "target", env.Target)
	h.cfg.Dispatcher.DispatchOrdered(env, done)
	return true
}

// Close makes every later DispatchPush call return false.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}
