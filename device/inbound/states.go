package inbound

import (
	"fmt"

	"github.com/kabili207/smsinbound/core/hsm"
	"github.com/kabili207/smsinbound/core/sms"
)

// defaultState is the root. It catches every event the active states
// leave unhandled.
type defaultState struct {
	hsm.Base
	h *Handler
}

func (s *defaultState) ProcessMessage(msg *hsm.Message) bool {
	h := s.h
	h.metrics.Unhandled.Inc()
	if h.cfg.Strict {
		panic(fmt.Sprintf("inbound: unhandled event %s in state %s",
			eventName(msg.What), h.machine.CurrentState()))
	}
	h.log.Error("unhandled event", "event", eventName(msg.What), "state", h.machine.CurrentState())
	return hsm.Handled
}

// startupState holds new work back until recovery has resubmitted the
// segments left over from a previous run.
type startupState struct {
	hsm.Base
	h *Handler
}

func (s *startupState) ProcessMessage(msg *hsm.Message) bool {
	switch msg.What {
	case EventNewMessage, EventBroadcastSegment:
		s.h.machine.DeferMessage(msg)
		return hsm.Handled
	case EventSegmentsReady:
		s.h.log.Debug("segments ready")
		s.h.machine.TransitionTo(s.h.idleState)
		return hsm.Handled
	}
	return hsm.NotHandled
}

// idleState has no work in progress. The keep-alive hold is released
// ReleaseDelay after entering unless new work arrives first.
type idleState struct {
	h *Handler
}

func (s *idleState) Name() string { return "idle" }

func (s *idleState) Enter() {
	h := s.h
	h.cancelRelease = h.machine.SendDelayed(&hsm.Message{What: EventReleaseHold}, h.cfg.ReleaseDelay)
}

// Exit cancels the pending release. If the release already ran, the hold
// is taken again for the work that follows.
func (s *idleState) Exit() {
	h := s.h
	if h.cancelRelease != nil && h.cancelRelease() {
		h.cancelRelease = nil
		return
	}
	h.cancelRelease = nil
	h.hold.Acquire()
}

func (s *idleState) ProcessMessage(msg *hsm.Message) bool {
	h := s.h
	switch msg.What {
	case EventNewMessage, EventBroadcastSegment:
		h.machine.DeferMessage(msg)
		h.machine.TransitionTo(h.deliveringState)
		return hsm.Handled
	case EventReleaseHold:
		h.cancelRelease = nil
		h.hold.Release()
		h.log.Debug("keep-alive released")
		return hsm.Handled
	case EventReturnToIdle:
		return hsm.Handled
	}
	return hsm.NotHandled
}

// deliveringState persists new segments and starts notifications.
type deliveringState struct {
	hsm.Base
	h *Handler
}

func (s *deliveringState) ProcessMessage(msg *hsm.Message) bool {
	h := s.h
	switch msg.What {
	case EventNewMessage:
		h.handleNewMessage(msg.Obj.(*submission))
		h.machine.SendMessage(EventReturnToIdle, nil)
		return hsm.Handled
	case EventBroadcastSegment:
		if h.processSegment(msg.Obj.(sms.Persisted)) {
			h.machine.TransitionTo(h.waitingState)
		}
		return hsm.Handled
	case EventReturnToIdle:
		h.machine.TransitionTo(h.idleState)
		return hsm.Handled
	case EventReleaseHold:
		if !h.hold.Release() {
			h.log.Error("keep-alive no longer held while delivering")
		}
		return hsm.Handled
	}
	return hsm.NotHandled
}

// waitingState has a notification in flight. Further deliveries wait for
// it to complete; new segments are still persisted by the parent.
type waitingState struct {
	hsm.Base
	h *Handler
}

func (s *waitingState) ProcessMessage(msg *hsm.Message) bool {
	h := s.h
	switch msg.What {
	case EventBroadcastSegment:
		h.machine.DeferMessage(msg)
		return hsm.Handled
	case EventNotificationComplete:
		h.machine.SendMessage(EventReturnToIdle, nil)
		h.machine.TransitionTo(h.deliveringState)
		return hsm.Handled
	case EventReturnToIdle:
		return hsm.Handled
	}
	return hsm.NotHandled
}
