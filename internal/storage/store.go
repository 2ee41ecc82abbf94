package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
)

// Store wraps the SQLite handle backing the room directory.
type Store struct {
	db *sql.DB
}

// Room represents a row in the rooms table.
type Room struct {
	ID        string
	Name      string
	Subject   string
	CreatedBy string
	CreatedAt time.Time
}

// ErrRoomExists is returned when inserting a duplicate room id.
var ErrRoomExists = errors.New("room already exists")

// NewStore initializes the SQLite database at the provided path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "studyroom.db"
	}
	dsn := buildDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) (err error) {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			subject TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS rooms_subject ON rooms(subject);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CreateRoom inserts a new room. ErrRoomExists is returned on conflicts.
func (s *Store) CreateRoom(ctx context.Context, room Room) (*Room, error) {
	room.ID = strings.TrimSpace(room.ID)
	if room.ID == "" {
		return nil, errors.New("room id is required")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO rooms(id, name, subject, created_by) VALUES(?, ?, ?, ?)`,
		room.ID, room.Name, room.Subject, room.CreatedBy)
	if err != nil {
		if isConstraintError(err) {
			return nil, ErrRoomExists
		}
		return nil, err
	}
	return s.GetRoom(ctx, room.ID)
}

// EnsureRoom returns the room with the given id, creating a bare entry when
// it does not exist yet.
func (s *Store) EnsureRoom(ctx context.Context, id, createdBy string) (*Room, error) {
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO rooms(id, created_by) VALUES(?, ?)`, id, createdBy); err != nil {
		return nil, err
	}
	return s.GetRoom(ctx, id)
}

// GetRoom fetches a room by id. A missing room yields nil, nil.
func (s *Store) GetRoom(ctx context.Context, id string) (*Room, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, subject, created_by, created_at FROM rooms WHERE id = ?`, id)
	var room Room
	if err := row.Scan(&room.ID, &room.Name, &room.Subject, &room.CreatedBy, &room.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &room, nil
}

// ListRooms returns every room ordered by id.
func (s *Store) ListRooms(ctx context.Context) ([]Room, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, subject, created_by, created_at FROM rooms ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rooms []Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.Name, &room.Subject, &room.CreatedBy, &room.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// UpdateRoom replaces the name and subject of an existing room.
func (s *Store) UpdateRoom(ctx context.Context, id, name, subject string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE rooms SET name=?, subject=? WHERE id=?`, name, subject, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		// extended codes keep the primary code in the low byte
		return sqliteErr.Code()&0xff == sqliteConstraintCode
	}
	return false
}
