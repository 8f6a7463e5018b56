// Package hsm is a small hierarchical state machine runtime.
//
// A Machine owns a tree of states and a single goroutine that processes one
// message at a time to completion. A message is offered to the current
// state first and then to each ancestor until one handles it. States may
// request a transition or defer the message; deferred messages are put back
// at the front of the queue, in arrival order, after the next transition.
//
// Every State method runs on the machine goroutine, so states need no
// locking of their own. Other goroutines interact with the machine only by
// posting messages.
package hsm

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Handled and NotHandled are the ProcessMessage return values.
const (
	Handled    = true
	NotHandled = false
)

// quitWhat is reserved for the internal quit request.
const quitWhat = -1

// Message is an event posted to a Machine.
type Message struct {
	What int
	Obj  any
}

// State is one node of the state tree.
type State interface {
	Name() string
	Enter()
	Exit()
	// ProcessMessage returns Handled if the state consumed msg, or
	// NotHandled to pass it to the parent state.
	ProcessMessage(msg *Message) bool
}

// Base can be embedded by states that do nothing on enter or exit.
type Base struct {
	StateName string
}

func (b Base) Name() string { return b.StateName }
func (Base) Enter()         {}
func (Base) Exit()          {}

// Config configures a Machine.
type Config struct {
	// Name identifies the machine in logs.
	Name string

	// OnUnhandled is called for messages no state handled. Default: log at
	// error level.
	OnUnhandled func(msg *Message)

	// OnQuitting is called on the machine goroutine after every active state
	// has exited in response to Quit. May be nil.
	OnQuitting func()

	// OnTransition is called on the machine goroutine after each completed
	// transition with the name of the new innermost state. May be nil.
	OnTransition func(to string)

	// Logger for machine events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

type stateInfo struct {
	state  State
	parent *stateInfo
	active bool
}

// Machine is a hierarchical state machine.
type Machine struct {
	cfg   Config
	log   *slog.Logger
	queue *Queue

	// Owned by the machine goroutine once started.
	states   map[State]*stateInfo
	initial  *stateInfo
	stack    []*stateInfo
	dest     *stateInfo
	deferred []*Message

	mu       sync.Mutex
	started  bool
	quitting bool
	done     chan struct{}

	currentName atomic.Pointer[string]
}

// New creates a machine with no states.
func New(cfg Config) *Machine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "hsm"
	}
	m := &Machine{
		cfg:    cfg,
		log:    logger.WithGroup(cfg.Name),
		queue:  NewQueue(),
		states: make(map[State]*stateInfo),
		done:   make(chan struct{}),
	}
	if m.cfg.OnUnhandled == nil {
		m.cfg.OnUnhandled = func(msg *Message) {
			m.log.Error("unhandled message", "what", msg.What)
		}
	}
	return m
}

// AddState registers s with the given parent, which must already have been
// added. parent is nil for a root state. Must be called before Start.
func (m *Machine) AddState(s State, parent State) {
	var p *stateInfo
	if parent != nil {
		var ok bool
		if p, ok = m.states[parent]; !ok {
			panic(fmt.Sprintf("hsm: parent %s of %s not added", parent.Name(), s.Name()))
		}
	}
	if _, ok := m.states[s]; ok {
		panic(fmt.Sprintf("hsm: state %s added twice", s.Name()))
	}
	m.states[s] = &stateInfo{state: s, parent: p}
}

// SetInitialState selects the state entered by Start.
func (m *Machine) SetInitialState(s State) {
	info, ok := m.states[s]
	if !ok {
		panic(fmt.Sprintf("hsm: initial state %s not added", s.Name()))
	}
	m.initial = info
}

// Start enters the initial state and its ancestors, root first, and begins
// processing messages on a new goroutine. Messages sent before Start are
// processed afterwards in order.
func (m *Machine) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	if m.initial == nil {
		panic("hsm: no initial state")
	}
	m.started = true
	go m.run()
}

// Done is closed once the machine has quit and torn down.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// CurrentState returns the name of the innermost active state, or "" before
// Start has entered one. Safe to call from any goroutine.
func (m *Machine) CurrentState() string {
	if p := m.currentName.Load(); p != nil {
		return *p
	}
	return ""
}

// Send posts msg to the end of the queue. It reports false if the machine
// is quitting and the message was dropped.
func (m *Machine) Send(msg *Message) bool {
	return m.SendDelayed(msg, 0) != nil
}

// SendMessage is shorthand for Send(&Message{What: what, Obj: obj}).
func (m *Machine) SendMessage(what int, obj any) bool {
	return m.Send(&Message{What: what, Obj: obj})
}

// SendDelayed posts msg once delay has elapsed. The returned function
// removes the message if it is still queued and reports whether it did so;
// false means the message has already been processed (or is being
// processed right now). Returns nil if the machine is quitting.
func (m *Machine) SendDelayed(msg *Message, delay time.Duration) (cancel func() bool) {
	m.mu.Lock()
	quitting := m.quitting
	m.mu.Unlock()
	if quitting {
		m.log.Debug("dropping message after quit", "what", msg.What)
		return nil
	}
	m.queue.Push(msg, delay)
	return func() bool {
		return m.queue.Remove(msg)
	}
}

// DeferMessage holds msg until after the next transition. Only valid from
// within ProcessMessage.
func (m *Machine) DeferMessage(msg *Message) {
	m.deferred = append(m.deferred, msg)
}

// TransitionTo requests a transition to s once the current message (or
// Enter/Exit call) returns. Only valid on the machine goroutine.
func (m *Machine) TransitionTo(s State) {
	info, ok := m.states[s]
	if !ok {
		panic(fmt.Sprintf("hsm: transition to unknown state %s", s.Name()))
	}
	m.dest = info
}

// Quit asks the machine to stop once every message already queued has been
// processed. Messages sent after Quit are dropped. On quit every active
// state is exited and OnQuitting runs.
func (m *Machine) Quit() {
	m.mu.Lock()
	if m.quitting {
		m.mu.Unlock()
		return
	}
	m.quitting = true
	m.mu.Unlock()
	m.queue.Push(&Message{What: quitWhat}, 0)
}

func (m *Machine) run() {
	defer close(m.done)

	m.dest = m.initial
	m.performTransitions()

	for {
		msg, wait := m.queue.Pop()
		if msg == nil {
			m.sleep(wait)
			continue
		}
		if msg.What == quitWhat {
			m.teardown()
			return
		}
		m.process(msg)
	}
}

func (m *Machine) sleep(wait time.Duration) {
	if wait < 0 {
		<-m.queue.Wake()
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-m.queue.Wake():
	case <-timer.C:
	}
}

func (m *Machine) process(msg *Message) {
	handled := false
	for i := len(m.stack) - 1; i >= 0; i-- {
		if m.stack[i].state.ProcessMessage(msg) {
			handled = true
			break
		}
	}
	if !handled {
		m.cfg.OnUnhandled(msg)
	}
	m.performTransitions()
}

// performTransitions exits states up to the common ancestor of the current
// and destination states, enters states down to the destination, and then
// requeues deferred messages. Transitions requested from Enter or Exit are
// followed until none remain.
func (m *Machine) performTransitions() {
	for m.dest != nil {
		dest := m.dest
		m.dest = nil

		var enter []*stateInfo
		common := dest
		for common != nil && !common.active {
			enter = append(enter, common)
			common = common.parent
		}

		from := m.CurrentState()
		for len(m.stack) > 0 && m.stack[len(m.stack)-1] != common {
			top := m.stack[len(m.stack)-1]
			top.state.Exit()
			top.active = false
			m.stack = m.stack[:len(m.stack)-1]
		}
		for i := len(enter) - 1; i >= 0; i-- {
			s := enter[i]
			s.active = true
			m.stack = append(m.stack, s)
			m.setCurrent()
			s.state.Enter()
		}
		m.setCurrent()
		m.log.Debug("transition", "from", from, "to", dest.state.Name())
		if m.cfg.OnTransition != nil {
			m.cfg.OnTransition(dest.state.Name())
		}

		if len(m.deferred) > 0 {
			m.queue.PushFront(m.deferred...)
			m.deferred = nil
		}
	}
}

func (m *Machine) teardown() {
	for len(m.stack) > 0 {
		top := m.stack[len(m.stack)-1]
		top.state.Exit()
		top.active = false
		m.stack = m.stack[:len(m.stack)-1]
	}
	empty := ""
	m.currentName.Store(&empty)
	m.deferred = nil
	m.queue.Clear()
	if m.cfg.OnQuitting != nil {
		m.cfg.OnQuitting()
	}
	m.log.Debug("quit")
}

func (m *Machine) setCurrent() {
	name := ""
	if len(m.stack) > 0 {
		name = m.stack[len(m.stack)-1].state.Name()
	}
	m.currentName.Store(&name)
}
