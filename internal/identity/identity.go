// Package identity supplies the local user id and display name used when
// joining a room. Issuing and verifying sessions belongs to the auth
// service; this package only reads what it hands out.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingUserID = errors.New("identity has no user id")
	ErrInvalidToken  = errors.New("invalid identity token")
)

// Identity is who the viewer is. Token is forwarded to the room server
// when present.
type Identity struct {
	UserID      string
	DisplayName string
	Token       string
}

// Provider yields the current viewer identity.
type Provider interface {
	Identity(ctx context.Context) (Identity, error)
}

// Static is a fixed identity, typically from flags.
type Static Identity

func (s Static) Identity(context.Context) (Identity, error) {
	id := Identity(s)
	id.UserID = strings.TrimSpace(id.UserID)
	if id.UserID == "" {
		return Identity{}, ErrMissingUserID
	}
	if strings.TrimSpace(id.DisplayName) == "" {
		id.DisplayName = id.UserID
	}
	return id, nil
}

// Claims is the token payload: sub is the user id, name the display name.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Token reads identity from a session token issued by the auth service.
// With a Secret the HS256 signature and expiry are checked; without one the
// claims are read as-is and verification is left to the room server.
type Token struct {
	Raw    string
	Secret []byte
}

func (t Token) Identity(context.Context) (Identity, error) {
	claims, err := ParseToken(t.Raw, t.Secret)
	if err != nil {
		return Identity{}, err
	}
	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return Identity{UserID: claims.Subject, DisplayName: name, Token: t.Raw}, nil
}

// ParseToken decodes raw. A nil secret skips signature verification.
func ParseToken(raw string, secret []byte) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	claims := &Claims{}
	if len(secret) == 0 {
		if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	} else {
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrMissingUserID
	}
	return claims, nil
}

// IssueToken signs an HS256 token for userID. A zero ttl means no expiry.
func IssueToken(secret []byte, userID, displayName string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("token secret is required")
	}
	if strings.TrimSpace(userID) == "" {
		return "", ErrMissingUserID
	}
	now := time.Now()
	claims := Claims{
		Name: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
