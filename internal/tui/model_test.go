package tui

import (
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"studyroom/internal/conn"
	"studyroom/internal/room"
	"studyroom/internal/session"
)

type fakeSession struct {
	mu       sync.Mutex
	sent     []string
	retries  int
	closes   int
	current  session.Projection
	listener func(session.Projection)
}

func (f *fakeSession) Send(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, body)
}

func (f *fakeSession) Retry() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries++
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeSession) Snapshot() session.Projection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeSession) Subscribe(fn func(session.Projection)) func() {
	f.mu.Lock()
	f.listener = fn
	current := f.current
	f.mu.Unlock()
	fn(current)
	return func() {
		f.mu.Lock()
		f.listener = nil
		f.mu.Unlock()
	}
}

func (f *fakeSession) publish(p session.Projection) {
	f.mu.Lock()
	f.current = p
	fn := f.listener
	f.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

func typeLine(model *TUIModel, line string) tea.Cmd {
	model.textInput.SetValue(line)
	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return cmd
}

func TestEnterSendsTrimmedMessage(t *testing.T) {
	sess := &fakeSession{}
	model := NewTUIModel(sess, "ws://localhost/join")

	typeLine(model, "  hello there ")
	typeLine(model, "   ")
	if len(sess.sent) != 1 || sess.sent[0] != "hello there" {
		t.Fatalf("unexpected sends %v", sess.sent)
	}
	if model.textInput.Value() != "" {
		t.Fatal("expected input cleared after send")
	}
}

func TestCommands(t *testing.T) {
	sess := &fakeSession{}
	model := NewTUIModel(sess, "")

	if cmd := typeLine(model, "/retry"); cmd != nil {
		t.Fatal("retry should not schedule a command")
	}
	if sess.retries != 1 {
		t.Fatalf("expected one retry, got %d", sess.retries)
	}
	typeLine(model, "/unknown")
	if len(sess.sent) != 0 {
		t.Fatalf("commands must not be sent as chat: %v", sess.sent)
	}

	cmd := typeLine(model, "/quit")
	if cmd == nil {
		t.Fatal("expected a close command")
	}
	if _, ok := cmd().(closedMsg); !ok {
		t.Fatal("expected closedMsg once the session closed")
	}
	if sess.closes != 1 {
		t.Fatalf("expected one close, got %d", sess.closes)
	}
	// leaving twice does not close twice
	if cmd := typeLine(model, "/quit"); cmd != nil {
		t.Fatal("second quit should be ignored")
	}
	typeLine(model, "late")
	if len(sess.sent) != 0 {
		t.Fatal("messages after leaving must be ignored")
	}
}

func TestWatchKeepsLatestProjection(t *testing.T) {
	sess := &fakeSession{}
	updates, cancel := watch(sess)
	defer cancel()

	for v := uint64(1); v <= 5; v++ {
		sess.publish(session.Projection{Version: v})
	}
	select {
	case p := <-updates:
		if p.Version != 5 {
			t.Fatalf("expected latest version 5, got %d", p.Version)
		}
	case <-time.After(time.Second):
		t.Fatal("no projection delivered")
	}
	select {
	case p := <-updates:
		t.Fatalf("unexpected stale projection %d", p.Version)
	default:
	}
}

func TestViewRendersRosterAndDelivery(t *testing.T) {
	sess := &fakeSession{}
	model := NewTUIModel(sess, "")
	model.Update(tea.WindowSizeMsg{Width: 120, Height: 40})

	now := time.Now()
	p := session.Projection{
		Room:       room.Info{ID: "R1", Name: "Algebra", Subject: "math"},
		SelfID:     "U1",
		State:      session.StateActive,
		Connection: conn.StateConnected,
		Roster: []room.Participant{
			{UserID: "U1", DisplayName: "Ana"},
			{UserID: "U2", DisplayName: "Ben"},
		},
		Messages: []room.Message{
			{Seq: 1, Kind: room.KindSystem, Body: "Connected to Algebra", Timestamp: now},
			{Seq: 2, SenderID: "U1", DisplayName: "Ana", Body: "hi", Delivery: room.DeliveryPending, Timestamp: now},
			{Seq: 3, SenderID: "U1", DisplayName: "Ana", Body: "lost", Delivery: room.DeliveryUnsent, Timestamp: now},
		},
		Pending: 1,
	}
	_, cmd := model.Update(projectionMsg(p))
	if cmd == nil {
		t.Fatal("expected to keep waiting for projections")
	}

	view := model.View()
	for _, want := range []string{"Algebra", "Ben", "Ana (you)", "Connected to Algebra", "(sending)", "(not sent)", "2 online"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	p.Exhausted = true
	p.Connection = conn.StateDisconnected
	p.LastError = "dial refused"
	model.Update(projectionMsg(p))
	if view := model.View(); !strings.Contains(view, "/retry") {
		t.Error("expected retry hint when exhausted")
	}

	p.State = session.StateClosed
	if _, cmd := model.Update(projectionMsg(p)); cmd != nil {
		t.Fatal("closed projection should stop the watch loop")
	}
}
