package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"studyroom/internal/conn"
	"studyroom/internal/room"
	"studyroom/internal/roomapi"
	"studyroom/internal/session"
	"studyroom/internal/tui"
)

// RunClient resolves identity and room metadata, opens the room session and
// launches the Bubble Tea TUI. The session is closed on every exit path.
func RunClient(ctx context.Context, cfg ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}
	if strings.TrimSpace(cfg.RoomID) == "" {
		return errors.New("room id is required")
	}

	// keep log lines off the terminal while the UI owns it
	if cfg.LogFile != "" {
		file, err := tea.LogToFile(cfg.LogFile, "studyroom")
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer file.Close()
	} else {
		log.SetOutput(io.Discard)
	}

	id, err := cfg.IdentityProvider().Identity(ctx)
	if err != nil {
		return fmt.Errorf("resolve identity: %w", err)
	}

	var lookup roomapi.Lookup
	if base, err := conn.HTTPBase(cfg.ServerURL); err == nil {
		lookup = roomapi.NewClient(base, id.Token)
	}
	info := ResolveRoom(ctx, lookup, cfg.RoomID)

	transport, err := conn.NewWebsocketTransport(cfg.ServerURL, info.ID, id.Token)
	if err != nil {
		return err
	}
	registry := session.NewRegistry()
	sess, err := registry.Open(session.Config{
		Room:      info,
		Identity:  id,
		Transport: transport,
		Retry:     cfg.RetryPolicy(),
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	return tui.Run(tui.NewTUIModel(sess, cfg.ServerURL))
}

// ResolveRoom fetches room metadata, falling back to a bare room when the
// directory is unreachable or does not know the id yet.
func ResolveRoom(ctx context.Context, lookup roomapi.Lookup, roomID string) room.Info {
	roomID = strings.TrimSpace(roomID)
	fallback := room.Info{ID: roomID}
	if lookup == nil {
		return fallback
	}
	info, err := lookup.Room(ctx, roomID)
	if err != nil {
		if !errors.Is(err, roomapi.ErrNotFound) {
			log.Printf("room lookup %s: %v", roomID, err)
		}
		return fallback
	}
	if info.ID == "" {
		info.ID = roomID
	}
	return info
}
