// Package notify defines the notification envelope handed to subscribers
// once a message is complete, and the completion contract that closes an
// ordered fan-out.
package notify

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kabili207/smsinbound/core"
)

// Action names what an envelope carries and which subscribers may see it.
type Action string

const (
	// ActionDeliver hands a text message to the default subscriber only.
	ActionDeliver Action = "sms.deliver"
	// ActionReceived broadcasts a read-only copy of a text message.
	ActionReceived Action = "sms.received"
	// ActionDataReceived carries a port-addressed message.
	ActionDataReceived Action = "sms.data_received"
	// ActionPushDeliver hands a binary push to the default push subscriber.
	ActionPushDeliver Action = "push.deliver"
	// ActionPushReceived broadcasts a read-only copy of a binary push.
	ActionPushReceived Action = "push.received"
	// ActionRejected tells subscribers an incoming message was refused.
	ActionRejected Action = "sms.rejected"
)

// Next returns the broadcast stage that follows a deliver stage, and false
// when a is already terminal.
func (a Action) Next() (Action, bool) {
	switch a {
	case ActionDeliver:
		return ActionReceived, true
	case ActionPushDeliver:
		return ActionPushReceived, true
	default:
		return "", false
	}
}

// IsTerminal reports whether completing a marks the end of the fan-out.
func (a Action) IsTerminal() bool {
	_, ok := a.Next()
	return !ok
}

// Result is the code subscribers leave on an envelope as it passes along
// the ordered chain.
type Result int

const (
	// ResultOK is the initial result of every fan-out.
	ResultOK Result = iota
	// ResultHandled means a subscriber consumed the message.
	ResultHandled
	// ResultFailed means a subscriber could not process the message.
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultHandled:
		return "handled"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsSuccess reports whether r is ResultOK or ResultHandled.
func (r Result) IsSuccess() bool {
	return r == ResultOK || r == ResultHandled
}

// Envelope is one notification. Target restricts delivery to a single
// named subscriber; empty means every eligible subscriber.
type Envelope struct {
	ID      ulid.ULID
	Action  Action
	Target  string
	Port    int
	Format  core.Format
	Address string
	Time    time.Time

	// PDUs holds the stored payload of each segment, in sequence order.
	// Set for text and port-addressed messages.
	PDUs [][]byte

	// Data holds the concatenated user data of a binary push.
	Data        []byte
	ContentType string

	// Outcome is set on rejection notices.
	Outcome core.Outcome
}

// NewEnvelope creates an envelope with a fresh id.
func NewEnvelope(action Action) *Envelope {
	return &Envelope{
		ID:     ulid.Make(),
		Action: action,
		Port:   core.PortNone,
		Time:   time.Now(),
	}
}

// Next returns a copy of the envelope for the broadcast stage that follows
// a deliver stage. The copy keeps the id, drops the target and shares no
// slices with e.
func (e *Envelope) Next() (*Envelope, bool) {
	action, ok := e.Action.Next()
	if !ok {
		return nil, false
	}
	n := e.Clone()
	n.Action = action
	n.Target = ""
	return n, true
}

// Clone returns a deep copy of e.
func (e *Envelope) Clone() *Envelope {
	c := *e
	if e.PDUs != nil {
		c.PDUs = make([][]byte, len(e.PDUs))
		for i, p := range e.PDUs {
			c.PDUs[i] = slices.Clone(p)
		}
	}
	c.Data = slices.Clone(e.Data)
	return &c
}

// wireEnvelope is the JSON form of an envelope as published to external
// subscribers.
type wireEnvelope struct {
	ID          string   `json:"id"`
	Action      string   `json:"action"`
	Address     string   `json:"address,omitempty"`
	Port        int      `json:"port"`
	Format      string   `json:"format"`
	Time        int64    `json:"time"`
	PDUs        [][]byte `json:"pdus,omitempty"`
	Data        []byte   `json:"data,omitempty"`
	ContentType string   `json:"content_type,omitempty"`
	Outcome     string   `json:"outcome,omitempty"`
}

// MarshalJSON encodes e with its time in Unix milliseconds. The target is
// never included; the outcome only on rejection notices.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	w := wireEnvelope{
		ID:          e.ID.String(),
		Action:      string(e.Action),
		Address:     e.Address,
		Port:        e.Port,
		Format:      e.Format.String(),
		Time:        e.Time.UnixMilli(),
		PDUs:        e.PDUs,
		Data:        e.Data,
		ContentType: e.ContentType,
	}
	if e.Action == ActionRejected {
		w.Outcome = e.Outcome.String()
	}
	return json.Marshal(w)
}

// CompletionHandler is told when an ordered fan-out has passed every
// subscriber. It is called exactly once per dispatch, on a goroutine owned
// by the dispatcher.
type CompletionHandler interface {
	OnComplete(env *Envelope, result Result)
}

// CompletionFunc adapts a function to CompletionHandler.
type CompletionFunc func(env *Envelope, result Result)

func (f CompletionFunc) OnComplete(env *Envelope, result Result) {
	f(env, result)
}
