package inbound

import (
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kabili207/smsinbound/core"
	"github.com/kabili207/smsinbound/core/inflight"
	"github.com/kabili207/smsinbound/core/multipart"
	"github.com/kabili207/smsinbound/core/notify"
	"github.com/kabili207/smsinbound/core/sms"
)

// processSegment reassembles the message p belongs to and, if it is
// complete, starts its notification. It reports whether a notification was
// dispatched, in which case a NotificationComplete event will follow.
func (h *Handler) processSegment(p sms.Persisted) bool {
	asm := multipart.Single(p.Tracker)
	if p.IsMultipart() {
		ctx, cancel := h.storeContext()
		rows, err := h.cfg.Store.Query(ctx, p.MessageSelector())
		cancel()
		if err != nil {
			h.storageError("query", err)
			return false
		}
		asm, err = multipart.Assemble(rows, p.Tracker)
		if errors.Is(err, multipart.ErrIncomplete) {
			h.counters.Incomplete.Add(1)
			h.metrics.MessagesPending.Inc()
			h.log.Debug("waiting for more segments", "ref", p.ReferenceNumber,
				"have", len(rows), "count", p.Count)
			return false
		}
		if err != nil {
			h.log.Error("cannot reassemble message", "ref", p.ReferenceNumber, "error", err)
			return false
		}
	}

	r := h.newReceiver(p.Delete)

	if asm.DestPort == core.PortWapPush {
		data, err := asm.Concat(p.Format)
		if err != nil {
			h.log.Error("malformed push segments", "ref", p.ReferenceNumber, "error", err)
			h.discard(p)
			return false
		}
		h.track(r, string(notify.ActionPushDeliver))
		if !h.cfg.Push.DispatchPush(data, p.Format, r) {
			h.inflight.Cancel(r.key)
			h.discard(p)
			return false
		}
		h.counters.MessagesDispatched.Add(1)
		return true
	}

	env := notify.NewEnvelope(notify.ActionDeliver)
	env.Format = p.Format
	env.Address = p.Address
	env.PDUs = asm.PDUs
	if p.Timestamp > 0 {
		env.Time = time.UnixMilli(p.Timestamp)
	}
	if asm.DestPort == core.PortNone {
		if name, ok := h.cfg.Dispatcher.DefaultSubscriber(); ok {
			env.Target = name
		} else {
			h.log.Warn("no default subscriber, delivering to all")
		}
	} else {
		env.Action = notify.ActionDataReceived
		env.Port = asm.DestPort
	}

	h.track(r, string(env.Action))
	h.counters.MessagesDispatched.Add(1)
	h.cfg.Dispatcher.DispatchOrdered(env, r)
	return true
}

// discard deletes the rows of a message that will not be delivered.
func (h *Handler) discard(p sms.Persisted) {
	h.counters.PushDiscarded.Add(1)
	h.metrics.PushDiscarded.Inc()
	h.log.Info("push not dispatched, discarding segments", "ref", p.ReferenceNumber)
	h.deleteRows(p.Delete)
}

func (h *Handler) track(r *receiver, action string) {
	h.inflight.Track(r.key, inflight.Pending{Action: action})
}

// deleteRows removes delivered rows. A delete that matches nothing is
// logged but not retried; the recovery sweep picks up anything left.
func (h *Handler) deleteRows(sel sms.Selector) {
	ctx, cancel := h.storeContext()
	defer cancel()
	n, err := h.cfg.Store.Delete(ctx, sel)
	if err != nil {
		h.storageError("delete", err)
		return
	}
	if n == 0 {
		h.counters.DeleteMisses.Add(1)
		h.metrics.DeleteMisses.Inc()
		h.log.Error("no rows deleted", "selector", sel.String())
		return
	}
	h.metrics.RowsDeleted.Add(float64(n))
	h.log.Debug("rows deleted", "count", n, "selector", sel.String())
}

// receiver completes the notification of one message. The same receiver
// follows the envelope from its deliver stage to its broadcast stage.
type receiver struct {
	h      *Handler
	key    string
	delete sms.Selector
	start  time.Time
}

func (h *Handler) newReceiver(sel sms.Selector) *receiver {
	return &receiver{
		h:      h,
		key:    ulid.Make().String(),
		delete: sel,
		start:  time.Now(),
	}
}

// OnComplete runs on the dispatcher's goroutine. It must not touch machine
// state except by posting events.
func (r *receiver) OnComplete(env *notify.Envelope, result notify.Result) {
	h := r.h
	if next, ok := env.Next(); ok {
		h.cfg.Dispatcher.DispatchOrdered(next, r)
		return
	}

	if !result.IsSuccess() {
		h.metrics.SubscriberFailure.Inc()
		h.log.Error("notification finished with failure, deleting anyway",
			"action", env.Action, "result", result)
	}
	h.deleteRows(r.delete)
	h.metrics.MessagesDelivered.WithLabelValues(string(env.Action)).Inc()
	h.counters.Completed.Add(1)
	h.machine.SendMessage(EventNotificationComplete, nil)

	elapsed, ok := h.inflight.Resolve(r.key)
	if !ok {
		elapsed = time.Since(r.start)
	}
	slow := elapsed >= h.cfg.SlowThreshold
	h.metrics.ObserveFanout(elapsed, slow)
	if slow {
		h.counters.SlowCompletions.Add(1)
		h.log.Error("slow notification", "action", env.Action, "elapsed", elapsed)
	} else {
		h.log.Debug("notification complete", "action", env.Action, "elapsed", elapsed)
	}
}
