// Package tui renders a room session in the terminal with Bubble Tea. The
// model never touches session state directly: it reads projections from a
// latest-wins channel and forwards user intent back to the session.
package tui

import (
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"studyroom/internal/session"
)

// Session is the part of session.Session the UI drives.
type Session interface {
	Send(body string)
	Retry()
	Close() error
	Snapshot() session.Projection
	Subscribe(fn func(session.Projection)) func()
}

type TUIModel struct {
	textInput   textinput.Model
	viewport    viewport.Model
	session     Session
	updates     <-chan session.Projection
	unsubscribe func()
	projection  session.Projection
	serverURL   string
	width       int
	height      int
	ready       bool
	closing     bool
}

type (
	projectionMsg session.Projection
	closedMsg     struct{}
)

const sidebarWidth = 24

func NewTUIModel(sess Session, serverURL string) *TUIModel {
	input := textinput.New()
	input.Placeholder = "Type a message…"
	input.CharLimit = 2000
	input.Focus()
	input.Prompt = "> "

	updates, unsubscribe := watch(sess)
	return &TUIModel{
		textInput:   input,
		viewport:    viewport.New(80, 20),
		session:     sess,
		updates:     updates,
		unsubscribe: unsubscribe,
		projection:  sess.Snapshot(),
		serverURL:   serverURL,
	}
}

func (model *TUIModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitCmd(model.updates))
}

// watch subscribes to sess and keeps only the newest projection buffered, so
// a slow renderer skips intermediate states instead of stalling the session.
func watch(sess Session) (<-chan session.Projection, func()) {
	updates := make(chan session.Projection, 1)
	cancel := sess.Subscribe(func(p session.Projection) {
		select {
		case <-updates:
		default:
		}
		// the session loop is the only sender, so this never blocks
		updates <- p
	})
	return updates, cancel
}

func waitCmd(updates <-chan session.Projection) tea.Cmd {
	return func() tea.Msg {
		return projectionMsg(<-updates)
	}
}

// closeCmd tears the session down off the UI goroutine; Close waits for the
// leave frame to flush.
func (model *TUIModel) closeCmd() tea.Cmd {
	sess := model.session
	unsubscribe := model.unsubscribe
	return func() tea.Msg {
		unsubscribe()
		_ = sess.Close()
		return closedMsg{}
	}
}
