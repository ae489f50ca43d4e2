package storage

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when a session record doesn't exist or has expired
var ErrSessionNotFound = errors.New("session not found")

// AuthSession is the identity established by a successful OAuth callback.
// Absence means "unauthenticated". The provider access token is never part
// of this record; it is stored separately as an encrypted blob.
type AuthSession struct {
	Login     string `json:"login" firestore:"login"`
	Email     string `json:"email,omitempty" firestore:"email,omitempty"`
	Name      string `json:"name,omitempty" firestore:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty" firestore:"avatar_url,omitempty"`
}

// Record is one server-side session, keyed by the opaque cookie identifier.
//
// OAuthState and RedirectTo are transaction fields: written when the
// authorize redirect is issued and consumed at the callback. AccessToken is
// the encrypted provider token blob, opaque at this layer.
type Record struct {
	Auth        *AuthSession `json:"auth,omitempty" firestore:"auth,omitempty"`
	OAuthState  string       `json:"oauth_state,omitempty" firestore:"oauth_state,omitempty"`
	RedirectTo  string       `json:"redirect_to,omitempty" firestore:"redirect_to,omitempty"`
	AccessToken string       `json:"access_token,omitempty" firestore:"access_token,omitempty"`
	CSRFToken   string       `json:"csrf_token,omitempty" firestore:"csrf_token,omitempty"`
	ExpiresAt   time.Time    `json:"expires_at" firestore:"expires_at"`
}

// Store persists session records. Implementations must provide per-session
// read/modify/write consistency; last-write-wins is acceptable since a single
// browser session issues requests serially in practice.
//
// Get returns ErrSessionNotFound for missing or expired records; any other
// error means the backend itself failed and must surface as a server error,
// not as "unauthenticated".
type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	Put(ctx context.Context, id string, record *Record) error
	Delete(ctx context.Context, id string) error

	// CleanupExpired removes expired records and reports how many were
	// dropped. Backends with native expiry may report zero.
	CleanupExpired(ctx context.Context) (int, error)

	Close() error
}
