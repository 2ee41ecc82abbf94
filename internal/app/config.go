package app

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"

	"studyroom/internal/conn"
	"studyroom/internal/identity"
)

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr          string        `env:"STUDYROOM_ADDR"           envDefault:":8080"`
	Path          string        `env:"STUDYROOM_PATH"           envDefault:"/join"`
	DBPath        string        `env:"STUDYROOM_DB_PATH"`
	Secret        string        `env:"STUDYROOM_TOKEN_SECRET"`
	MessageLimit  int           `env:"STUDYROOM_MESSAGE_LIMIT"  envDefault:"5"`
	MessageWindow time.Duration `env:"STUDYROOM_MESSAGE_WINDOW" envDefault:"3s"`
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL    string        `env:"STUDYROOM_SERVER"        envDefault:"ws://localhost:8080/join"`
	RoomID       string        `env:"STUDYROOM_ROOM"`
	UserID       string        `env:"STUDYROOM_USER_ID"`
	DisplayName  string        `env:"STUDYROOM_USER_NAME"`
	Token        string        `env:"STUDYROOM_TOKEN"`
	LogFile      string        `env:"STUDYROOM_LOG_FILE"`
	RetryInitial time.Duration `env:"STUDYROOM_RETRY_INITIAL" envDefault:"500ms"`
	RetryMax     time.Duration `env:"STUDYROOM_RETRY_MAX"     envDefault:"10s"`
	RetryBudget  int           `env:"STUDYROOM_RETRY_BUDGET"  envDefault:"6"`
}

// LoadServerConfig reads ServerConfig from the environment. Flags may
// override the result.
func LoadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// LoadClientConfig reads ClientConfig from the environment.
func LoadClientConfig() (ClientConfig, error) {
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if cfg.UserID == "" {
		cfg.UserID = os.Getenv("USER")
	}
	return cfg, nil
}

// RetryPolicy maps the retry settings onto the connection policy.
func (c ClientConfig) RetryPolicy() conn.RetryPolicy {
	policy := conn.DefaultRetryPolicy()
	if c.RetryInitial > 0 {
		policy.InitialInterval = c.RetryInitial
	}
	if c.RetryMax > 0 {
		policy.MaxInterval = c.RetryMax
	}
	switch {
	case c.RetryBudget > 0:
		policy.MaxRetries = c.RetryBudget
	case c.RetryBudget < 0:
		policy.MaxRetries = -1
	}
	return policy
}

// IdentityProvider prefers a session token over the plain user id.
func (c ClientConfig) IdentityProvider() identity.Provider {
	if c.Token != "" {
		return identity.Token{Raw: c.Token}
	}
	return identity.Static{UserID: c.UserID, DisplayName: c.DisplayName}
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("STUDYROOM_DATA_DIR"); env != "" {
		return filepath.Join(env, "studyroom.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "studyroom", "studyroom.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "StudyRoom", "studyroom.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "StudyRoom", "studyroom.db")
		}
		return filepath.Join(home, ".local", "share", "studyroom", "studyroom.db")
	}
	return filepath.Join(".", ".studyroom", "studyroom.db")
}

// NormalizeJoinPath guarantees the websocket join path starts with '/' and
// falls back to /join when empty.
func NormalizeJoinPath(path string) string {
	if path == "" {
		return "/join"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
