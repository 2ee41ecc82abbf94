package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"studyroom/internal/identity"
	"studyroom/internal/room"
)

func TestLoadClientConfigFromEnv(t *testing.T) {
	t.Setenv("STUDYROOM_SERVER", "wss://rooms.example/join")
	t.Setenv("STUDYROOM_USER_ID", "U1")
	t.Setenv("STUDYROOM_RETRY_INITIAL", "250ms")
	t.Setenv("STUDYROOM_RETRY_BUDGET", "3")

	cfg, err := LoadClientConfig()
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}
	if cfg.ServerURL != "wss://rooms.example/join" || cfg.UserID != "U1" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	policy := cfg.RetryPolicy()
	if policy.InitialInterval != 250*time.Millisecond || policy.MaxRetries != 3 || policy.MaxInterval != 10*time.Second {
		t.Fatalf("unexpected policy %+v", policy)
	}

	cfg.RetryBudget = -1
	if got := cfg.RetryPolicy().MaxRetries; got != -1 {
		t.Fatalf("expected retries disabled, got %d", got)
	}
}

func TestLoadServerConfigRejectsBadDuration(t *testing.T) {
	t.Setenv("STUDYROOM_MESSAGE_WINDOW", "soon")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestIdentityProviderPrefersToken(t *testing.T) {
	token, err := identity.IssueToken([]byte("s"), "U7", "Gia", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	id, err := ClientConfig{UserID: "U1", Token: token}.IdentityProvider().Identity(context.Background())
	if err != nil || id.UserID != "U7" || id.DisplayName != "Gia" {
		t.Fatalf("unexpected identity %+v %v", id, err)
	}
	id, err = ClientConfig{UserID: "U1"}.IdentityProvider().Identity(context.Background())
	if err != nil || id.UserID != "U1" {
		t.Fatalf("unexpected identity %+v %v", id, err)
	}
}

func TestNormalizeJoinPath(t *testing.T) {
	cases := map[string]string{"": "/join", "ws": "/ws", "/rooms/join": "/rooms/join"}
	for in, want := range cases {
		if got := NormalizeJoinPath(in); got != want {
			t.Errorf("NormalizeJoinPath(%q) = %q, want %q", in, got, want)
		}
	}
}

type stubLookup struct {
	info room.Info
	err  error
}

func (s stubLookup) Room(context.Context, string) (room.Info, error) {
	return s.info, s.err
}

func TestResolveRoomFallsBack(t *testing.T) {
	ctx := context.Background()
	if got := ResolveRoom(ctx, stubLookup{info: room.Info{ID: "R1", Name: "Algebra"}}, "R1"); got.Name != "Algebra" {
		t.Fatalf("expected directory metadata, got %+v", got)
	}
	if got := ResolveRoom(ctx, stubLookup{err: errors.New("offline")}, " R1 "); got.ID != "R1" || got.Name != "" {
		t.Fatalf("expected bare fallback, got %+v", got)
	}
	if got := ResolveRoom(ctx, nil, "R2"); got.ID != "R2" {
		t.Fatalf("expected bare fallback without lookup, got %+v", got)
	}
}

func TestRunServerServesDirectory(t *testing.T) {
	cfg := ServerConfig{
		Addr:   "127.0.0.1:0",
		Path:   "join",
		DBPath: filepath.Join(t.TempDir(), "data", "studyroom.db"),
	}
	handle, err := RunServer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("RunServer: %v", err)
	}

	resp, err := http.Get("http://" + handle.Addr() + "/rooms")
	if err != nil {
		t.Fatalf("GET /rooms: %v", err)
	}
	var body struct {
		Rooms []json.RawMessage `json:"rooms"`
	}
	err = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if err != nil || resp.StatusCode != http.StatusOK || len(body.Rooms) != 0 {
		t.Fatalf("unexpected response %d %+v %v", resp.StatusCode, body, err)
	}

	if err := handle.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := handle.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestMintTokenNeedsSecret(t *testing.T) {
	if _, err := MintToken(ServerConfig{}, "U1", "", time.Hour); err == nil {
		t.Fatal("expected error without secret")
	}
	token, err := MintToken(ServerConfig{Secret: "s"}, "U1", "Ana", time.Hour)
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}
	claims, err := identity.ParseToken(token, []byte("s"))
	if err != nil || claims.Subject != "U1" {
		t.Fatalf("unexpected claims %+v %v", claims, err)
	}
}
