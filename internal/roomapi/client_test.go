package roomapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"studyroom/internal/room"
)

func TestClientRoom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/rooms/R1":
			_ = json.NewEncoder(w).Encode(room.Info{ID: "R1", Name: "Algebra", Subject: "math"})
		case "/rooms/broken":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"database is locked"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "tok")
	info, err := client.Room(context.Background(), "R1")
	if err != nil {
		t.Fatalf("Room: %v", err)
	}
	if info.Name != "Algebra" || info.Subject != "math" {
		t.Fatalf("unexpected info %+v", info)
	}

	if _, err := client.Room(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := client.Room(context.Background(), "broken"); err == nil || !strings.Contains(err.Error(), "database is locked") {
		t.Fatalf("expected server error message, got %v", err)
	}

	anonymous := NewClient(srv.URL, "")
	if _, err := anonymous.Room(context.Background(), "R1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
