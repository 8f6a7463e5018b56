package hsm

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects enter/exit/process events from test states.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type testState struct {
	name    string
	rec     *recorder
	onMsg   func(msg *Message) bool
	onEnter func()
}

func (s *testState) Name() string { return s.name }

func (s *testState) Enter() {
	s.rec.add("enter " + s.name)
	if s.onEnter != nil {
		s.onEnter()
	}
}

func (s *testState) Exit() { s.rec.add("exit " + s.name) }

func (s *testState) ProcessMessage(msg *Message) bool {
	if s.onMsg == nil {
		return NotHandled
	}
	return s.onMsg(msg)
}

func waitQuit(t *testing.T, m *Machine) {
	t.Helper()
	m.Quit()
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("machine did not quit")
	}
}

func TestMachine_StartEntersRootFirst(t *testing.T) {
	rec := &recorder{}
	m := New(Config{})
	root := &testState{name: "root", rec: rec}
	child := &testState{name: "child", rec: rec}
	m.AddState(root, nil)
	m.AddState(child, root)
	m.SetInitialState(child)
	m.Start()

	require.Eventually(t, func() bool { return m.CurrentState() == "child" }, time.Second, 5*time.Millisecond)
	waitQuit(t, m)

	assert.Equal(t, []string{"enter root", "enter child", "exit child", "exit root"}, rec.snapshot())
}

func TestMachine_ParentHandlesUnhandled(t *testing.T) {
	rec := &recorder{}
	m := New(Config{})
	root := &testState{name: "root", rec: rec, onMsg: func(msg *Message) bool {
		rec.add("root got")
		return Handled
	}}
	child := &testState{name: "child", rec: rec, onMsg: func(msg *Message) bool {
		rec.add("child got")
		return NotHandled
	}}
	m.AddState(root, nil)
	m.AddState(child, root)
	m.SetInitialState(child)
	m.Start()
	m.SendMessage(1, nil)
	waitQuit(t, m)

	assert.Contains(t, rec.snapshot(), "child got")
	assert.Contains(t, rec.snapshot(), "root got")
}

func TestMachine_OnUnhandled(t *testing.T) {
	got := make(chan int, 1)
	m := New(Config{OnUnhandled: func(msg *Message) { got <- msg.What }})
	root := &testState{name: "root", rec: &recorder{}}
	m.AddState(root, nil)
	m.SetInitialState(root)
	m.Start()
	m.SendMessage(42, nil)

	select {
	case what := <-got:
		assert.Equal(t, 42, what)
	case <-time.After(time.Second):
		t.Fatal("OnUnhandled not called")
	}
	waitQuit(t, m)
}

func TestMachine_TransitionToSiblingExitsAndEnters(t *testing.T) {
	rec := &recorder{}
	m := New(Config{})
	root := &testState{name: "root", rec: rec}
	a := &testState{name: "a", rec: rec}
	b := &testState{name: "b", rec: rec}
	a.onMsg = func(*Message) bool { m.TransitionTo(b); return Handled }
	m.AddState(root, nil)
	m.AddState(a, root)
	m.AddState(b, root)
	m.SetInitialState(a)
	m.Start()
	m.SendMessage(1, nil)

	require.Eventually(t, func() bool { return m.CurrentState() == "b" }, time.Second, 5*time.Millisecond)
	waitQuit(t, m)

	assert.Equal(t, []string{
		"enter root", "enter a",
		"exit a", "enter b",
		"exit b", "exit root",
	}, rec.snapshot())
}

func TestMachine_TransitionToParentDoesNotReenter(t *testing.T) {
	rec := &recorder{}
	m := New(Config{})
	parent := &testState{name: "parent", rec: rec}
	child := &testState{name: "child", rec: rec}
	parent.onMsg = func(*Message) bool { m.TransitionTo(child); return Handled }
	child.onMsg = func(msg *Message) bool {
		if msg.What == 2 {
			m.TransitionTo(parent)
			return Handled
		}
		return NotHandled
	}
	m.AddState(parent, nil)
	m.AddState(child, parent)
	m.SetInitialState(parent)
	m.Start()
	m.SendMessage(1, nil)
	m.SendMessage(2, nil)
	waitQuit(t, m)

	assert.Equal(t, []string{
		"enter parent",
		"enter child",
		"exit child",
		"exit parent",
	}, rec.snapshot())
}

func TestMachine_DeferredReplayedInOrderAfterTransition(t *testing.T) {
	rec := &recorder{}
	m := New(Config{})
	root := &testState{name: "root", rec: rec}
	holding := &testState{name: "holding", rec: rec}
	open := &testState{name: "open", rec: rec}

	const (
		evData  = 1
		evReady = 2
		evLate  = 3
	)
	holding.onMsg = func(msg *Message) bool {
		switch msg.What {
		case evData:
			m.DeferMessage(msg)
			return Handled
		case evReady:
			m.TransitionTo(open)
			// Posted before the transition, yet processed after the
			// deferred messages.
			m.SendMessage(evLate, nil)
			return Handled
		}
		return NotHandled
	}
	open.onMsg = func(msg *Message) bool {
		switch msg.What {
		case evData:
			rec.add("data " + msg.Obj.(string))
		case evLate:
			rec.add("late")
		}
		return Handled
	}
	m.AddState(root, nil)
	m.AddState(holding, root)
	m.AddState(open, root)
	m.SetInitialState(holding)

	m.SendMessage(evData, "1")
	m.SendMessage(evData, "2")
	m.SendMessage(evData, "3")
	m.SendMessage(evReady, nil)
	m.Start()
	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 8
	}, time.Second, 5*time.Millisecond)
	waitQuit(t, m)

	assert.Equal(t, []string{
		"enter root", "enter holding",
		"exit holding", "enter open",
		"data 1", "data 2", "data 3", "late",
		"exit open", "exit root",
	}, rec.snapshot())
}

func TestMachine_TransitionFromEnter(t *testing.T) {
	rec := &recorder{}
	m := New(Config{})
	root := &testState{name: "root", rec: rec}
	b := &testState{name: "b", rec: rec}
	a := &testState{name: "a", rec: rec, onEnter: func() { m.TransitionTo(b) }}
	m.AddState(root, nil)
	m.AddState(a, root)
	m.AddState(b, root)
	m.SetInitialState(a)
	m.Start()

	require.Eventually(t, func() bool { return m.CurrentState() == "b" }, time.Second, 5*time.Millisecond)
	waitQuit(t, m)
}

func TestMachine_SendDelayedCancel(t *testing.T) {
	rec := &recorder{}
	m := New(Config{})
	root := &testState{name: "root", rec: rec, onMsg: func(msg *Message) bool {
		rec.add("got")
		return Handled
	}}
	m.AddState(root, nil)
	m.SetInitialState(root)
	m.Start()

	cancel := m.SendDelayed(&Message{What: 1}, time.Hour)
	require.NotNil(t, cancel)
	assert.True(t, cancel())
	assert.False(t, cancel())

	cancel = m.SendDelayed(&Message{What: 2}, 10*time.Millisecond)
	m.SendDelayed(&Message{What: 3}, 50*time.Millisecond)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	assert.False(t, cancel(), "processed message cannot be cancelled")
	waitQuit(t, m)
}

func TestMachine_QuitDrainsThenDropsLateInput(t *testing.T) {
	rec := &recorder{}
	var quitting bool
	m := New(Config{OnQuitting: func() { quitting = true }})
	root := &testState{name: "root", rec: rec, onMsg: func(msg *Message) bool {
		rec.add("got")
		return Handled
	}}
	m.AddState(root, nil)
	m.SetInitialState(root)
	m.SendMessage(1, nil)
	m.SendMessage(2, nil)
	m.Quit()
	assert.False(t, m.SendMessage(3, nil))
	m.Start()

	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("machine did not quit")
	}
	assert.True(t, quitting)
	assert.Equal(t, []string{"enter root", "got", "got", "exit root"}, rec.snapshot())
	assert.Empty(t, m.CurrentState())
}

func TestMachine_AddStateUnknownParentPanics(t *testing.T) {
	m := New(Config{})
	assert.Panics(t, func() {
		m.AddState(&testState{name: "child"}, &testState{name: "ghost"})
	})
}
