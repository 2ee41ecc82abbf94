package app

import (
	"errors"
	"time"

	"studyroom/internal/identity"
)

// MintToken signs an identity token with the server secret so a client can
// join a server that verifies bearer tokens.
func MintToken(cfg ServerConfig, userID, displayName string, ttl time.Duration) (string, error) {
	if cfg.Secret == "" {
		return "", errors.New("token secret is required (--secret or STUDYROOM_TOKEN_SECRET)")
	}
	return identity.IssueToken([]byte(cfg.Secret), userID, displayName, ttl)
}
