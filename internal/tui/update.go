package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"studyroom/internal/session"
)

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		// Ctrl+C or Esc leave the room from anywhere.
		if typedMessage.Type == tea.KeyCtrlC || typedMessage.Type == tea.KeyEsc {
			return model, model.leave()
		}
		switch typedMessage.Type {
		case tea.KeyEnter:
			trimmed := strings.TrimSpace(model.textInput.Value())
			model.textInput.SetValue("")
			if strings.HasPrefix(trimmed, "/") {
				return model, model.runCommand(trimmed)
			}
			if trimmed != "" && !model.closing {
				model.session.Send(trimmed)
			}
			return model, nil
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			model.viewport, cmd = model.viewport.Update(typedMessage)
			return model, cmd
		}
		var cmd tea.Cmd
		model.textInput, cmd = model.textInput.Update(typedMessage)
		return model, cmd

	case tea.WindowSizeMsg:
		model.width = typedMessage.Width
		model.height = typedMessage.Height
		model.resize()
		return model, nil

	case projectionMsg:
		model.projection = session.Projection(typedMessage)
		model.refreshLog()
		if model.projection.State == session.StateClosed {
			return model, nil
		}
		return model, waitCmd(model.updates)

	case closedMsg:
		return model, tea.Quit
	}
	return model, nil
}

func (model *TUIModel) runCommand(line string) tea.Cmd {
	fields := strings.Fields(strings.ToLower(line))
	switch fields[0] {
	case "/quit", "/exit", "/leave":
		return model.leave()
	case "/retry":
		model.session.Retry()
	}
	return nil
}

func (model *TUIModel) leave() tea.Cmd {
	if model.closing {
		return nil
	}
	model.closing = true
	model.textInput.Blur()
	return model.closeCmd()
}

func (model *TUIModel) resize() {
	// header, status, input box and hint take roughly eight rows
	height := model.height - 8
	if height < 3 {
		height = 3
	}
	width := model.width - sidebarWidth - 6
	if width < 20 {
		width = 20
	}
	model.viewport.Width = width
	model.viewport.Height = height
	model.textInput.Width = model.width - 6
	model.ready = true
	model.refreshLog()
}

func (model *TUIModel) refreshLog() {
	atBottom := model.viewport.AtBottom()
	model.viewport.SetContent(model.renderLog())
	if atBottom || !model.ready {
		model.viewport.GotoBottom()
	}
}
