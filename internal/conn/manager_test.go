package conn

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"studyroom/internal/eventloop"
)

type dialResult struct {
	link Link
	err  error
}

type fakeTransport struct {
	results chan dialResult
	dials   atomic.Int32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{results: make(chan dialResult, 16)}
}

func (f *fakeTransport) Dial(ctx context.Context) (Link, error) {
	f.dials.Add(1)
	select {
	case res := <-f.results:
		return res.link, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fakeLink struct {
	in        chan []byte
	out       chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (l *fakeLink) Read() ([]byte, error) {
	select {
	case frame := <-l.in:
		return frame, nil
	case <-l.closed:
		return nil, io.EOF
	}
}

func (l *fakeLink) Write(frame []byte) error {
	select {
	case <-l.closed:
		return errors.New("write on closed link")
	default:
	}
	l.out <- frame
	return nil
}

func (l *fakeLink) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

type harness struct {
	loop      *eventloop.Loop
	transport *fakeTransport
	manager   *Manager
	events    chan Event
}

func newHarness(t *testing.T, policy RetryPolicy) *harness {
	t.Helper()
	loop := eventloop.New(0)
	go loop.Run()
	t.Cleanup(loop.Stop)
	h := &harness{
		loop:      loop,
		transport: newFakeTransport(),
		events:    make(chan Event, 64),
	}
	h.manager = NewManager(h.transport, loop, policy, log.New(io.Discard, "", 0))
	loop.Call(func() {
		h.manager.Subscribe(func(e Event) { h.events <- e })
	})
	return h
}

func (h *harness) next(t *testing.T) Event {
	t.Helper()
	select {
	case e := <-h.events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func (h *harness) expect(t *testing.T, kind EventKind) Event {
	t.Helper()
	e := h.next(t)
	if e.Kind != kind {
		t.Fatalf("expected %s event, got %s (%v)", kind, e.Kind, e.Reason)
	}
	return e
}

func (h *harness) state() State {
	var s State
	h.loop.Call(func() { s = h.manager.State() })
	return s
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     40 * time.Millisecond,
		Multiplier:      2,
		MaxRetries:      3,
	}
}

func TestManagerConnectsAndDeliversInOrder(t *testing.T) {
	h := newHarness(t, fastPolicy())
	link := newFakeLink()
	h.transport.results <- dialResult{link: link}

	h.loop.Call(h.manager.Open)
	h.expect(t, EventConnected)
	if got := h.state(); got != StateConnected {
		t.Fatalf("expected connected, got %s", got)
	}

	for _, body := range []string{"a", "b", "c"} {
		link.in <- []byte(body)
	}
	for _, want := range []string{"a", "b", "c"} {
		e := h.expect(t, EventMessage)
		if string(e.Payload) != want {
			t.Fatalf("expected payload %q, got %q", want, e.Payload)
		}
	}
}

func TestManagerReconnectsAfterDrop(t *testing.T) {
	h := newHarness(t, fastPolicy())
	first := newFakeLink()
	h.transport.results <- dialResult{link: first}
	h.loop.Call(h.manager.Open)
	h.expect(t, EventConnected)

	first.Close()
	e := h.expect(t, EventDisconnected)
	var fault *Fault
	if !errors.As(e.Reason, &fault) || fault.Op != "read" {
		t.Fatalf("expected read fault, got %v", e.Reason)
	}
	if e.RetryIn != 10*time.Millisecond || e.Attempt != 1 {
		t.Fatalf("unexpected retry schedule: %s attempt %d", e.RetryIn, e.Attempt)
	}

	second := newFakeLink()
	h.transport.results <- dialResult{link: second}
	h.expect(t, EventConnected)

	// frames from the new link flow, the old link is gone
	second.in <- []byte("after")
	if e := h.expect(t, EventMessage); string(e.Payload) != "after" {
		t.Fatalf("unexpected payload %q", e.Payload)
	}
}

func TestManagerBackoffGrowsAndCaps(t *testing.T) {
	policy := fastPolicy()
	policy.MaxRetries = 5
	h := newHarness(t, policy)
	h.loop.Call(h.manager.Open)

	want := []time.Duration{10, 20, 40, 40, 40}
	for i, w := range want {
		h.transport.results <- dialResult{err: errors.New("refused")}
		e := h.expect(t, EventDisconnected)
		if e.RetryIn != w*time.Millisecond {
			t.Fatalf("retry %d: expected %s, got %s", i+1, w*time.Millisecond, e.RetryIn)
		}
	}
}

func TestManagerExhaustsBudgetAndManualRetry(t *testing.T) {
	h := newHarness(t, fastPolicy())
	h.loop.Call(h.manager.Open)

	for i := 0; i < 3; i++ {
		h.transport.results <- dialResult{err: errors.New("refused")}
		h.expect(t, EventDisconnected)
	}
	h.transport.results <- dialResult{err: errors.New("refused")}
	last := h.expect(t, EventDisconnected)
	if last.RetryIn != 0 {
		t.Fatalf("no retry expected once exhausted, got %s", last.RetryIn)
	}
	e := h.expect(t, EventExhausted)
	var exhausted *ExhaustedError
	if !errors.As(e.Reason, &exhausted) || exhausted.Attempts != 4 {
		t.Fatalf("unexpected exhaustion: %v", e.Reason)
	}
	if got := h.transport.dials.Load(); got != 4 {
		t.Fatalf("expected 4 dials, got %d", got)
	}

	var started bool
	h.transport.results <- dialResult{link: newFakeLink()}
	h.loop.Call(func() { started = h.manager.Retry() })
	if !started {
		t.Fatal("Retry should start an attempt from disconnected")
	}
	h.expect(t, EventConnected)
	var exhaustedNow bool
	h.loop.Call(func() { exhaustedNow = h.manager.Exhausted() })
	if exhaustedNow {
		t.Fatal("exhausted flag should clear after a successful connect")
	}
}

func TestManagerCloseCancelsRetry(t *testing.T) {
	policy := fastPolicy()
	policy.InitialInterval = 50 * time.Millisecond
	h := newHarness(t, policy)
	h.loop.Call(h.manager.Open)
	h.transport.results <- dialResult{err: errors.New("refused")}
	h.expect(t, EventDisconnected)

	h.loop.Call(h.manager.Close)
	h.loop.Call(h.manager.Close)
	time.Sleep(120 * time.Millisecond)

	if got := h.transport.dials.Load(); got != 1 {
		t.Fatalf("expected no retry dial after close, got %d dials", got)
	}
	if got := h.state(); got != StateClosed {
		t.Fatalf("expected closed, got %s", got)
	}
	var err error
	h.loop.Call(func() { err = h.manager.Send([]byte("x")) })
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	var retried bool
	h.loop.Call(func() { retried = h.manager.Retry() })
	if retried {
		t.Fatal("Retry after Close must be a no-op")
	}
}

func TestManagerCloseFlushesQueuedFrames(t *testing.T) {
	h := newHarness(t, fastPolicy())
	link := newFakeLink()
	h.transport.results <- dialResult{link: link}
	h.loop.Call(h.manager.Open)
	h.expect(t, EventConnected)

	var err error
	h.loop.Call(func() {
		err = h.manager.Send([]byte("leave"))
		h.manager.Close()
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case frame := <-link.out:
		if string(frame) != "leave" {
			t.Fatalf("unexpected frame %q", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("queued frame was not flushed")
	}
	select {
	case <-link.closed:
	case <-time.After(time.Second):
		t.Fatal("link not closed after Close")
	}
	select {
	case e := <-h.events:
		t.Fatalf("no events expected after Close, got %s", e.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManagerSendWhileDisconnected(t *testing.T) {
	h := newHarness(t, fastPolicy())
	var err error
	h.loop.Call(func() { err = h.manager.Send([]byte("x")) })
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected from idle, got %v", err)
	}
}

// stalledLink accepts the first frame and then never finishes a write.
type stalledLink struct {
	*fakeLink
}

func (l stalledLink) Write([]byte) error {
	<-l.closed
	return io.EOF
}

func TestManagerFullQueueFaultsAfterSendReturns(t *testing.T) {
	h := newHarness(t, fastPolicy())
	link := stalledLink{newFakeLink()}
	t.Cleanup(func() { link.Close() })
	h.transport.results <- dialResult{link: link}
	h.loop.Call(h.manager.Open)
	h.expect(t, EventConnected)

	var (
		sendErr  error
		accepted int
		emitted  int
	)
	h.loop.Call(func() {
		for i := 0; i < 4*sendQueueSize; i++ {
			if sendErr = h.manager.Send([]byte("m")); sendErr != nil {
				break
			}
			accepted++
		}
		// a second refused send must not schedule another fault
		_ = h.manager.Send([]byte("m"))
		emitted = len(h.events)
	})
	if !errors.Is(sendErr, ErrSendQueueFull) {
		t.Fatalf("expected ErrSendQueueFull, got %v after %d frames", sendErr, accepted)
	}
	if emitted != 0 {
		t.Fatalf("expected no events while Send was running, got %d", emitted)
	}

	e := h.expect(t, EventDisconnected)
	var fault *Fault
	if !errors.As(e.Reason, &fault) || fault.Op != "send" || !errors.Is(fault, ErrSendQueueFull) {
		t.Fatalf("expected send fault, got %v", e.Reason)
	}
	if e.Attempt != 1 {
		t.Fatalf("expected a single fault, got attempt %d", e.Attempt)
	}
	select {
	case extra := <-h.events:
		t.Fatalf("unexpected second event %s (%v)", extra.Kind, extra.Reason)
	case <-time.After(5 * time.Millisecond):
	}
}

func TestManagerClosedDuringDial(t *testing.T) {
	h := newHarness(t, fastPolicy())
	h.loop.Call(h.manager.Open)
	h.loop.Call(h.manager.Close)

	link := newFakeLink()
	h.transport.results <- dialResult{link: link}
	// the dial context was cancelled, or a late link is closed on arrival
	time.Sleep(50 * time.Millisecond)
	select {
	case e := <-h.events:
		t.Fatalf("unexpected event after close: %s", e.Kind)
	default:
	}
	if got := h.state(); got != StateClosed {
		t.Fatalf("expected closed, got %s", got)
	}
}

func TestBuildJoinURL(t *testing.T) {
	got, err := BuildJoinURL("ws://localhost:8080/join", "R1")
	if err != nil {
		t.Fatalf("BuildJoinURL: %v", err)
	}
	if got != "ws://localhost:8080/join?room=R1" {
		t.Fatalf("unexpected url %s", got)
	}
	if _, err := BuildJoinURL("http://localhost/join", "R1"); err == nil {
		t.Fatal("expected scheme error")
	}
	base, err := HTTPBase("wss://rooms.example.com/join?room=R1")
	if err != nil || base != "https://rooms.example.com" {
		t.Fatalf("unexpected http base %q (%v)", base, err)
	}
}
