package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Run drives model until the user leaves the room.
func Run(model *TUIModel) error {
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err := program.Run()
	if !model.closing {
		// the program ended without /quit, e.g. on a signal
		_ = model.session.Close()
	}
	return err
}
