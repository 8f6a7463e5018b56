package inbound

import (
	"context"
	"fmt"

	"github.com/kabili207/smsinbound/core"
	"github.com/kabili207/smsinbound/core/dedupe"
	"github.com/kabili207/smsinbound/core/sms"
)

// storeResult is the outcome of adding a tracker to the segment store.
type storeResult int

const (
	storeAccepted storeResult = iota
	storeDuplicate
	storeFailed
)

func (r storeResult) String() string {
	switch r {
	case storeAccepted:
		return "accepted"
	case storeDuplicate:
		return "duplicate"
	default:
		return "error"
	}
}

// handleNewMessage processes a submission and replies with its outcome.
// Anything short of Handled is also announced to subscribers.
func (h *Handler) handleNewMessage(sub *submission) {
	out := h.dispatchMessage(sub.ctx, sub.msg)
	sub.reply <- out
	if out != core.Handled {
		h.cfg.Dispatcher.NotifyRejected(out)
	}
}

// dispatchMessage turns a submitted message into a persisted segment. A
// panic while decoding or persisting is reported as GenericError so the
// transport does not acknowledge the segment.
func (h *Handler) dispatchMessage(ctx context.Context, msg *sms.Message) (out core.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("panic while handling segment", "panic", fmt.Sprint(r))
			h.metrics.SegmentsTotal.WithLabelValues(storeFailed.String()).Inc()
			out = core.GenericError
		}
	}()

	if msg == nil {
		h.log.Error("dispatchMessage: message is nil")
		h.metrics.SegmentsTotal.WithLabelValues(storeFailed.String()).Inc()
		return core.GenericError
	}
	if h.cfg.ReceiveDisabled {
		h.log.Info("receiving disabled, ignoring segment")
		h.counters.Ignored.Add(1)
		h.metrics.SegmentsTotal.WithLabelValues("ignored").Inc()
		return core.Handled
	}
	if h.cfg.Interceptor != nil {
		if o, consumed := h.cfg.Interceptor.Intercept(ctx, msg); consumed {
			h.counters.Intercepted.Add(1)
			h.metrics.SegmentsTotal.WithLabelValues("intercepted").Inc()
			return o
		}
	}

	t, err := sms.TrackerFromMessage(msg, h.clock.NowUnique())
	if err != nil {
		h.log.Error("invalid segment", "error", err)
		h.metrics.SegmentsTotal.WithLabelValues(storeFailed.String()).Inc()
		return core.GenericError
	}

	p, res := h.addTrackerToStore(ctx, t)
	h.metrics.SegmentsTotal.WithLabelValues(res.String()).Inc()
	switch res {
	case storeAccepted:
		h.counters.SegmentsAccepted.Add(1)
		h.machine.SendMessage(EventBroadcastSegment, p)
		return core.Handled
	case storeDuplicate:
		return core.Handled
	default:
		return core.GenericError
	}
}

// addTrackerToStore persists t unless an identical segment is already
// stored. Single-segment messages are never treated as duplicates.
func (h *Handler) addTrackerToStore(ctx context.Context, t sms.Tracker) (sms.Persisted, storeResult) {
	if t.IsMultipart() {
		rows, err := h.cfg.Store.Query(ctx, t.SegmentSelector())
		if err != nil {
			h.storageError("query", err)
			return sms.Persisted{}, storeFailed
		}
		if len(rows) > 0 {
			h.counters.Duplicates.Add(1)
			h.log.Warn("discarding duplicate segment",
				"ref", t.ReferenceNumber, "seq", t.SequenceNumber, "count", t.Count)
			cmp := dedupe.Compare(rows[0].PDU, t.PDU)
			if !cmp.Identical {
				h.counters.DuplicateMismatches.Add(1)
				h.metrics.DuplicateMismatch.Inc()
				h.log.Warn("duplicate segment differs from stored copy", cmp.LogAttrs()...)
			}
			return sms.Persisted{}, storeDuplicate
		}
	}

	id, err := h.cfg.Store.Insert(ctx, t.Row())
	if err != nil {
		h.storageError("insert", err)
		return sms.Persisted{}, storeFailed
	}
	p := sms.Persist(t, id)
	h.log.Debug("segment stored", "id", id, "ref", t.ReferenceNumber, "seq", t.SequenceNumber,
		"count", t.Count)
	return p, storeAccepted
}

func (h *Handler) storageError(op string, err error) {
	h.counters.StorageErrors.Add(1)
	h.metrics.StorageErrors.WithLabelValues(op).Inc()
	h.log.Error("segment store failure", "op", op, "error", err)
}
