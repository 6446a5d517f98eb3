// Package correlation binds an in-flight login attempt to the request
// state captured before the browser was sent to an external identity
// provider.
//
// A snapshot is stored under an unguessable token before the outbound
// redirect and consumed exactly once when the browser returns. Take is
// atomic read-and-delete: two callbacks racing on the same token yield one
// winner and one miss, which is the store's defense against replayed or
// spliced callbacks.
package correlation

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

const (
	// tokenLength is the number of random bytes in a correlation token
	// (32 bytes = 256 bits)
	tokenLength = 32

	// DefaultTTL bounds how long a snapshot waits for the browser to come
	// back before it is treated as abandoned
	DefaultTTL = 5 * time.Minute
)

// ErrNotFound is returned by Take when the token is unknown, expired, or
// already consumed. Callers cannot distinguish the three cases; that
// opacity is deliberate.
var ErrNotFound = errors.New("correlation: snapshot not found")

// Snapshot captures the request state that must survive the redirect
// round-trip to the identity provider.
type Snapshot struct {
	Service   string    `json:"service,omitempty"`
	Provider  string    `json:"provider"`
	Theme     string    `json:"theme,omitempty"`
	Locale    string    `json:"locale,omitempty"`
	Method    string    `json:"method,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the snapshot deadline has passed at now.
func (s *Snapshot) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store persists snapshots keyed by single-use correlation tokens.
type Store interface {
	// Put stores the snapshot and returns a fresh correlation token.
	Put(ctx context.Context, snapshot *Snapshot) (string, error)

	// Take atomically retrieves and deletes the snapshot for token.
	// Returns ErrNotFound for unknown, expired, or consumed tokens.
	Take(ctx context.Context, token string) (*Snapshot, error)

	// Count reports how many snapshots are currently awaiting a callback.
	// The store owns the number: abandoned snapshots drop out as they
	// expire, so the count never drifts.
	Count(ctx context.Context) (int, error)

	// Ping reports backing-store connectivity.
	Ping(ctx context.Context) error

	// Close releases store resources.
	Close() error
}

// NewToken generates a fresh correlation token: base64url over
// cryptographically random bytes, no padding.
func NewToken() (string, error) {
	randomBytes := make([]byte, tokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(randomBytes), nil
}
