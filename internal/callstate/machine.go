// Package callstate implements the client-side state machine for a single
// call. Each client session owns its own Machine; there is no shared
// instance.
package callstate

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-sitechat/internal/clock"
)

// State is a call UI/telemetry state.
type State string

const (
	Idle       State = "idle"
	Ringing    State = "ringing"
	Accepted   State = "accepted"
	Connecting State = "connecting"
	InCall     State = "in_call"
	Ended      State = "ended"
	Busy       State = "busy"
	Failed     State = "failed"
)

// AllStates lists every state in declaration order.
var AllStates = []State{Idle, Ringing, Accepted, Connecting, InCall, Ended, Busy, Failed}

const (
	// ConnectingTimeout forces connecting -> failed.
	ConnectingTimeout = 20 * time.Second
	// EndedLinger is how long ended is shown before the machine returns to idle.
	EndedLinger = 2 * time.Second
)

type rule struct {
	to   State
	from []State
}

// Transitions are matched by target first, then by the current state.
var transitions = []rule{
	{Ringing, []State{Idle}},
	{Accepted, []State{Ringing}},
	{Connecting, []State{Accepted}},
	{InCall, []State{Connecting}},
	{Ended, []State{InCall}},
	{Busy, []State{Ringing}},
	{Failed, []State{Idle, Ringing, Accepted, Connecting, InCall}},
	{Ended, []State{Idle, Ringing, Accepted, Connecting, InCall, Busy, Failed}},
}

// Allowed reports whether from -> to is in the transition table.
func Allowed(from, to State) bool {
	for _, r := range transitions {
		if r.to != to {
			continue
		}
		for _, f := range r.from {
			if f == from {
				return true
			}
		}
	}
	return false
}

// Listener observes state changes. It runs after the machine lock is released.
type Listener func(from, to State)

// Option configures a Machine.
type Option func(*Machine)

// WithClock injects the clock used for timestamps and timers.
func WithClock(c clock.Clock) Option { return func(m *Machine) { m.clock = c } }

// WithLogger sets the logger used for rejected transitions.
func WithLogger(l zerolog.Logger) Option { return func(m *Machine) { m.log = l } }

// WithListener registers a state change listener.
func WithListener(l Listener) Option {
	return func(m *Machine) { m.listeners = append(m.listeners, l) }
}

// WithWatchdog is called with the call descriptor when the connecting
// watchdog forces Failed. The owner tells the peer here; nothing else will.
func WithWatchdog(fn func(Session)) Option {
	return func(m *Machine) { m.onWatchdog = fn }
}

// Machine is safe for concurrent use.
type Machine struct {
	mu        sync.Mutex
	state     State
	startedAt *time.Time
	session   Session

	// gen invalidates timers scheduled before the latest state change.
	gen      uint64
	watchdog clock.Timer
	linger   clock.Timer

	clock      clock.Clock
	log        zerolog.Logger
	listeners  []Listener
	onWatchdog func(Session)
}

// New returns a Machine in Idle.
func New(opts ...Option) *Machine {
	m := &Machine{
		state: Idle,
		clock: clock.Real{},
		log:   zerolog.Nop(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StartedAt returns when the call started connecting, if it has.
func (m *Machine) StartedAt() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startedAt == nil {
		return time.Time{}, false
	}
	return *m.startedAt, true
}

// Session returns a copy of the call descriptor.
func (m *Machine) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// SetSession replaces the call descriptor.
func (m *Machine) SetSession(s Session) {
	m.mu.Lock()
	m.session = s
	m.mu.Unlock()
}

// UpdateSession mutates the descriptor under the machine lock.
func (m *Machine) UpdateSession(fn func(*Session)) {
	m.mu.Lock()
	fn(&m.session)
	m.mu.Unlock()
}

// OnChange registers a listener after construction.
func (m *Machine) OnChange(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// Transition moves to target if the table allows it. Illegal transitions are
// logged and leave the state unchanged.
func (m *Machine) Transition(to State) bool {
	m.mu.Lock()
	from := m.state
	if !Allowed(from, to) {
		m.mu.Unlock()
		m.log.Warn().Str("from", string(from)).Str("to", string(to)).Msg("illegal call state transition")
		return false
	}
	m.enterLocked(to)
	listeners := m.listeners
	m.mu.Unlock()

	notify(listeners, from, to)
	return true
}

// Reset clears every timer and returns to Idle regardless of the table.
func (m *Machine) Reset() {
	m.mu.Lock()
	from := m.state
	m.enterLocked(Idle)
	listeners := m.listeners
	m.mu.Unlock()

	if from != Idle {
		notify(listeners, from, Idle)
	}
}

// enterLocked applies the entry actions of to. Callers hold m.mu.
func (m *Machine) enterLocked(to State) {
	m.stopTimersLocked()
	m.state = to

	switch to {
	case Connecting, InCall:
		if m.startedAt == nil {
			now := m.clock.Now()
			m.startedAt = &now
		}
	case Idle, Ended:
		m.startedAt = nil
	}
	if to == Idle {
		m.session = Session{}
	}

	gen := m.gen
	switch to {
	case Connecting:
		m.watchdog = m.clock.AfterFunc(ConnectingTimeout, func() { m.expire(gen, Connecting, Failed) })
	case Ended:
		m.linger = m.clock.AfterFunc(EndedLinger, func() { m.expire(gen, Ended, Idle) })
	}
}

func (m *Machine) stopTimersLocked() {
	m.gen++
	if m.watchdog != nil {
		m.watchdog.Stop()
		m.watchdog = nil
	}
	if m.linger != nil {
		m.linger.Stop()
		m.linger = nil
	}
}

// expire runs a timer's forced move if nothing superseded it.
func (m *Machine) expire(gen uint64, want, to State) {
	m.mu.Lock()
	if m.gen != gen || m.state != want {
		m.mu.Unlock()
		return
	}
	from := m.state
	m.enterLocked(to)
	listeners := m.listeners
	session := m.session
	m.mu.Unlock()

	notify(listeners, from, to)
	if to == Failed {
		m.log.Info().Str("call_id", session.CallID).Msg("call connect watchdog fired")
		if m.onWatchdog != nil {
			m.onWatchdog(session)
		}
	}
}

func notify(ls []Listener, from, to State) {
	for _, l := range ls {
		l(from, to)
	}
}
