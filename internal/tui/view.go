package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"studyroom/internal/conn"
	"studyroom/internal/room"
	"studyroom/internal/session"
)

var (
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	messageBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(0, 1).MarginTop(1)
	rosterBoxStyle     = messageBoxStyle.Copy().Width(sidebarWidth)
	rosterTitleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).Bold(true)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	activeUserStyle    = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	pendingStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	unsentStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	userColorPalette   = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

func (model *TUIModel) View() string {
	p := model.projection
	headerSegments := []string{"Study Room", p.Room.Label()}
	if p.Room.Subject != "" {
		headerSegments = append(headerSegments, p.Room.Subject)
	}
	headerSegments = append(headerSegments, fmt.Sprintf("User %s", p.SelfID))
	if model.serverURL != "" {
		headerSegments = append(headerSegments, fmt.Sprintf("Server %s", model.serverURL))
	}
	header := chatHeaderStyle.Render(strings.Join(headerSegments, dividerStyle))

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		messageBoxStyle.Render(model.viewport.View()),
		rosterBoxStyle.Render(renderRoster(p)),
	)
	inputView := inputBoxStyle.Render(model.textInput.View())
	footerHint := menuHintStyle.Render("Enter send • /retry reconnect • /quit or Esc leave • ↑/↓ scroll")

	return lipgloss.JoinVertical(lipgloss.Left, header, renderStatus(p), body, inputView, footerHint)
}

func renderStatus(p session.Projection) string {
	switch {
	case p.State == session.StateClosing || p.State == session.StateClosed:
		return connectingStyle.Render("Leaving room…")
	case p.Exhausted:
		return errorStyle.Render("Disconnected: " + p.LastError + ". Type /retry to reconnect.")
	case p.Connection == conn.StateConnected:
		status := fmt.Sprintf("Connected • %d online", len(p.Roster))
		if p.Pending > 0 {
			status += fmt.Sprintf(" • %d sending", p.Pending)
		}
		return connectedStyle.Render(status)
	case p.Connection == conn.StateDisconnected && p.RetryIn > 0:
		return connectingStyle.Render(fmt.Sprintf("Reconnecting in %s (attempt %d)…", p.RetryIn.Round(100*time.Millisecond), p.Attempt))
	default:
		return connectingStyle.Render("Connecting…")
	}
}

func renderRoster(p session.Projection) string {
	lines := []string{rosterTitleStyle.Render(fmt.Sprintf("In the room (%d)", len(p.Roster)))}
	for _, member := range p.Roster {
		dot := lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("●")
		if member.Optimistic {
			dot = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render("○")
		}
		name := usernameStyle.Copy().Foreground(colorForUser(member.UserID)).Render(member.Name())
		if member.UserID == p.SelfID {
			name = activeUserStyle.Render(member.Name() + " (you)")
		}
		lines = append(lines, dot+" "+name)
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (model *TUIModel) renderLog() string {
	p := model.projection
	if len(p.Messages) == 0 {
		return systemMessageStyle.Render("No messages yet. Say hi and start the conversation.")
	}
	lines := make([]string, 0, len(p.Messages))
	for _, msg := range p.Messages {
		lines = append(lines, renderChatMessage(msg, p.SelfID))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// renderChatMessage renders a single log line with its timestamp, a color
// per sender, and a delivery marker on our own optimistic entries.
func renderChatMessage(msg room.Message, selfID string) string {
	timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", msg.Timestamp.Local().Format("15:04:05")))
	if msg.Kind == room.KindSystem {
		return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", systemMessageStyle.Render(msg.Body))
	}

	var nameStyle lipgloss.Style
	if msg.SenderID == selfID {
		nameStyle = activeUserStyle
	} else {
		nameStyle = usernameStyle.Copy().Foreground(colorForUser(msg.SenderID))
	}
	name := msg.DisplayName
	if name == "" {
		name = msg.SenderID
	}
	line := lipgloss.JoinHorizontal(lipgloss.Left,
		timestamp, " ", nameStyle.Render(name), ": ",
		messageBodyStyle.Render(strings.ReplaceAll(msg.Body, "\n", "\n   ")),
	)
	switch msg.Delivery {
	case room.DeliveryPending:
		line += pendingStyle.Render(" (sending)")
	case room.DeliveryUnsent:
		line += unsentStyle.Render(" (not sent)")
	}
	return line
}

func colorForUser(name string) lipgloss.Color {
	if len(userColorPalette) == 0 {
		return lipgloss.Color("249")
	}
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
