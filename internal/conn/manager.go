// Package conn owns the transport session to the room server: dialing,
// read/write pumps, reconnection with bounded backoff, and teardown.
package conn

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const sendQueueSize = 64

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport opens links to the room server.
type Transport interface {
	Dial(ctx context.Context) (Link, error)
}

// Link is one established bidirectional session. Read is called from a
// single goroutine and Write plus Close from another.
type Link interface {
	Read() ([]byte, error)
	Write(frame []byte) error
	Close() error
}

// Executor serializes callbacks. *eventloop.Loop implements it.
type Executor interface {
	Post(fn func()) bool
	AfterFunc(d time.Duration, fn func()) func() bool
}

type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventMessage
	EventExhausted
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	case EventExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers on the executor.
type Event struct {
	Kind EventKind
	// Reason is a *Fault for disconnected events and an *ExhaustedError for
	// exhausted events.
	Reason error
	// RetryIn is the scheduled delay before the next attempt, zero if none.
	RetryIn time.Duration
	// Attempt counts consecutive retries since the last successful connect.
	Attempt int
	Payload []byte
}

// link is one generation of an established transport link.
type link struct {
	gen     uint64
	conn    Link
	send    chan []byte
	faulted bool
}

// Manager is the connection lifecycle state machine. Its methods must be
// called on the executor; it is not safe for concurrent use.
type Manager struct {
	transport Transport
	exec      Executor
	policy    RetryPolicy
	backoff   *backoff.ExponentialBackOff
	logger    *log.Logger

	state       State
	gen         uint64
	active      *link
	cancelDial  context.CancelFunc
	stopRetry   func() bool
	retries     int
	exhausted   bool
	subscribers []func(Event)
}

func NewManager(transport Transport, exec Executor, policy RetryPolicy, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	policy = policy.withDefaults()
	return &Manager{
		transport: transport,
		exec:      exec,
		policy:    policy,
		backoff:   policy.newBackOff(),
		logger:    logger,
	}
}

func (m *Manager) State() State {
	return m.state
}

// Exhausted reports whether the retry budget ran out since the last connect.
func (m *Manager) Exhausted() bool {
	return m.exhausted
}

// Subscribe registers fn for every future event.
func (m *Manager) Subscribe(fn func(Event)) {
	m.subscribers = append(m.subscribers, fn)
}

// Open starts the first connection attempt. Only valid from idle.
func (m *Manager) Open() {
	if m.state != StateIdle {
		return
	}
	m.connect()
}

// Retry dials immediately from disconnected, resetting the retry budget.
// It reports whether an attempt was started.
func (m *Manager) Retry() bool {
	if m.state != StateDisconnected {
		return false
	}
	m.cancelRetry()
	m.retries = 0
	m.exhausted = false
	m.backoff.Reset()
	m.connect()
	return true
}

// Close cancels pending work and releases the transport. Frames already
// queued are flushed before the link closes. Calling Close again is a no-op.
func (m *Manager) Close() {
	if m.state == StateClosed {
		return
	}
	m.cancelRetry()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.detach()
	m.state = StateClosed
}

// Send queues frame for the write pump. A full queue returns
// ErrSendQueueFull and drops the link once the caller has returned.
func (m *Manager) Send(frame []byte) error {
	switch {
	case m.state == StateClosed:
		return ErrClosed
	case m.state != StateConnected || m.active == nil:
		return ErrNotConnected
	}
	select {
	case m.active.send <- frame:
		return nil
	default:
	}
	// the fault is applied after the caller returns so it never sees an
	// event emitted from inside its own Send
	if active := m.active; !active.faulted {
		active.faulted = true
		m.exec.AfterFunc(0, func() {
			m.fail(active.gen, &Fault{Op: "send", Err: ErrSendQueueFull})
		})
	}
	return ErrSendQueueFull
}

func (m *Manager) connect() {
	m.state = StateConnecting
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithTimeout(context.Background(), m.policy.DialTimeout)
	m.cancelDial = cancel
	transport := m.transport
	go func() {
		defer cancel()
		conn, err := transport.Dial(ctx)
		if !m.exec.Post(func() { m.dialed(gen, conn, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (m *Manager) dialed(gen uint64, conn Link, err error) {
	if gen != m.gen || m.state != StateConnecting {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	m.cancelDial = nil
	if err != nil {
		m.fail(gen, &Fault{Op: "dial", Err: err})
		return
	}
	m.retries = 0
	m.exhausted = false
	m.backoff.Reset()
	active := &link{gen: gen, conn: conn, send: make(chan []byte, sendQueueSize)}
	m.active = active
	m.state = StateConnected
	go m.readPump(active)
	go m.writePump(active)
	m.emit(Event{Kind: EventConnected})
}

// fail moves to disconnected and schedules the next attempt, or reports
// exhaustion once the budget is spent. Faults from stale generations are
// ignored.
func (m *Manager) fail(gen uint64, fault *Fault) {
	if gen != m.gen || (m.state != StateConnected && m.state != StateConnecting) {
		return
	}
	m.detach()
	m.state = StateDisconnected
	if m.retries >= m.policy.MaxRetries {
		m.exhausted = true
		m.logger.Printf("room connection exhausted after %d retries: %v", m.retries, fault)
		m.emit(Event{Kind: EventDisconnected, Reason: fault, Attempt: m.retries})
		m.emit(Event{Kind: EventExhausted, Reason: &ExhaustedError{Attempts: m.retries + 1, Last: fault}, Attempt: m.retries})
		return
	}
	m.retries++
	delay := m.backoff.NextBackOff()
	if delay == backoff.Stop || delay <= 0 {
		delay = m.policy.MaxInterval
	}
	m.stopRetry = m.exec.AfterFunc(delay, func() { m.retryTimer(gen) })
	m.logger.Printf("room connection lost (%v), retry %d/%d in %s", fault, m.retries, m.policy.MaxRetries, delay)
	m.emit(Event{Kind: EventDisconnected, Reason: fault, RetryIn: delay, Attempt: m.retries})
}

func (m *Manager) retryTimer(gen uint64) {
	if gen != m.gen || m.state != StateDisconnected {
		return
	}
	m.stopRetry = nil
	m.connect()
}

func (m *Manager) received(gen uint64, payload []byte) {
	if gen != m.gen || m.state != StateConnected {
		return
	}
	m.emit(Event{Kind: EventMessage, Payload: payload})
}

func (m *Manager) cancelRetry() {
	if m.stopRetry != nil {
		m.stopRetry()
		m.stopRetry = nil
	}
}

// detach hands the active link to its write pump for shutdown.
func (m *Manager) detach() {
	if m.active == nil {
		return
	}
	close(m.active.send)
	m.active = nil
}

func (m *Manager) emit(event Event) {
	for _, fn := range m.subscribers {
		fn(event)
	}
}

func (m *Manager) readPump(l *link) {
	for {
		payload, err := l.conn.Read()
		if err != nil {
			m.exec.Post(func() { m.fail(l.gen, &Fault{Op: "read", Err: err}) })
			return
		}
		if !m.exec.Post(func() { m.received(l.gen, payload) }) {
			return
		}
	}
}

// writePump drains the send queue in order and closes the link once the
// queue is closed, so frames queued before Close still go out.
func (m *Manager) writePump(l *link) {
	defer l.conn.Close()
	for frame := range l.send {
		if err := l.conn.Write(frame); err != nil {
			m.exec.Post(func() { m.fail(l.gen, &Fault{Op: "write", Err: err}) })
			return
		}
	}
}
