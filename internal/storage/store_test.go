package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
)

func TestRoomLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	created, err := store.CreateRoom(ctx, Room{ID: "R1", Name: "Algebra", Subject: "math", CreatedBy: "U1"})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if created.Name != "Algebra" || created.CreatedAt.IsZero() {
		t.Fatalf("unexpected room: %+v", created)
	}
	if _, err := store.CreateRoom(ctx, Room{ID: "R1"}); !errors.Is(err, ErrRoomExists) {
		t.Fatalf("expected ErrRoomExists, got %v", err)
	}
	if _, err := store.CreateRoom(ctx, Room{ID: "  "}); err == nil {
		t.Fatal("expected error for blank id")
	}

	room, err := store.GetRoom(ctx, "R1")
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if room == nil || room.Subject != "math" || room.CreatedBy != "U1" {
		t.Fatalf("unexpected room: %+v", room)
	}
	missing, err := store.GetRoom(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil room, got %+v %v", missing, err)
	}

	if err := store.UpdateRoom(ctx, "R1", "Linear Algebra", "math"); err != nil {
		t.Fatalf("UpdateRoom: %v", err)
	}
	if err := store.UpdateRoom(ctx, "nope", "x", "y"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
	room, _ = store.GetRoom(ctx, "R1")
	if room.Name != "Linear Algebra" {
		t.Fatalf("expected updated name, got %q", room.Name)
	}
}

func TestEnsureRoomAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := store.CreateRoom(ctx, Room{ID: "R2", Name: "Chemistry"}); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	room, err := store.EnsureRoom(ctx, "R1", "U1")
	if err != nil {
		t.Fatalf("EnsureRoom: %v", err)
	}
	if room.ID != "R1" || room.Name != "" {
		t.Fatalf("unexpected ensured room: %+v", room)
	}
	// existing rooms are left alone
	room, err = store.EnsureRoom(ctx, "R2", "U9")
	if err != nil {
		t.Fatalf("EnsureRoom existing: %v", err)
	}
	if room.Name != "Chemistry" || room.CreatedBy != "" {
		t.Fatalf("EnsureRoom modified an existing room: %+v", room)
	}

	rooms, err := store.ListRooms(ctx)
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if len(rooms) != 2 || rooms[0].ID != "R1" || rooms[1].ID != "R2" {
		t.Fatalf("unexpected rooms: %+v", rooms)
	}
}

func TestBuildDSN(t *testing.T) {
	cases := map[string]string{
		"rooms.db":                    "file:rooms.db?_pragma=busy_timeout=5000&_pragma=foreign_keys=ON",
		"sqlite://file:x?mode=memory": "file:x?mode=memory&_pragma=busy_timeout=5000&_pragma=foreign_keys=ON",
	}
	for in, want := range cases {
		if got := buildDSN(in); got != want {
			t.Errorf("buildDSN(%q) = %q, want %q", in, got, want)
		}
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := "sqlite://file:" + t.Name() + "?mode=memory&cache=shared"
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
