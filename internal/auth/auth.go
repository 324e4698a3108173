// Package auth supplies the bearer token the progress client attaches to
// every status request and socket upgrade. How the token is obtained is
// up to the embedding application; this package only reads it.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"os"
	"strings"
)

// ErrNoToken is returned by providers that have nothing to offer. The
// client then sends requests without an Authorization header.
var ErrNoToken = errors.New("no bearer token available")

// TokenProvider returns the current bearer token. It is called once per
// request or connection attempt, so rotated tokens are picked up.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// Static always returns the same token.
type Static string

func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// Env reads the named environment variable on every call.
type Env string

func (e Env) Token(context.Context) (string, error) {
	v := strings.TrimSpace(os.Getenv(string(e)))
	if v == "" {
		return "", ErrNoToken
	}
	return v, nil
}

// BearerHeader formats a token for the Authorization header.
func BearerHeader(token string) string {
	return "Bearer " + token
}

// ParseBearer extracts the token from an Authorization header value.
func ParseBearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// TokenMatches compares a presented token with the expected one in
// constant time.
func TokenMatches(presented, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}
