package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jtaw5649/barforge-web/internal/cookie"
	"github.com/jtaw5649/barforge-web/internal/crypto"
	"github.com/jtaw5649/barforge-web/internal/storage"
)

// Manager resolves the session for an incoming request from the cookie,
// creating a fresh one when the cookie is absent or the record is gone.
type Manager struct {
	store storage.Store
	ttl   time.Duration
}

// NewManager creates a session manager over the given store
func NewManager(store storage.Store, ttl time.Duration) *Manager {
	return &Manager{store: store, ttl: ttl}
}

// Load returns the Accessor for the request's session. A new session
// identifier is issued (and the cookie set) when none exists yet; the record
// itself is only persisted once something is written to it.
func (m *Manager) Load(ctx context.Context, w http.ResponseWriter, r *http.Request) (*Accessor, error) {
	if id, err := cookie.GetSession(r); err == nil && id != "" {
		record, err := m.store.Get(ctx, id)
		if err == nil {
			return &Accessor{id: id, store: m.store, record: record}, nil
		}
		if !errors.Is(err, storage.ErrSessionNotFound) {
			return nil, fmt.Errorf("loading session: %w", err)
		}
	}

	id, err := crypto.GenerateSecureToken()
	if err != nil {
		return nil, fmt.Errorf("issuing session id: %w", err)
	}
	cookie.SetSession(w, id, m.ttl)

	return &Accessor{id: id, store: m.store, record: &storage.Record{}}, nil
}

// Accessor is the single seam through which components read and write one
// session record. Field names and types are checked here, once, instead of
// at every call site.
type Accessor struct {
	id     string
	store  storage.Store
	record *storage.Record
}

// ID returns the opaque session identifier
func (a *Accessor) ID() string {
	return a.id
}

// Auth returns the authenticated identity, or nil when unauthenticated
func (a *Accessor) Auth() *storage.AuthSession {
	return a.record.Auth
}

// SetAuth writes the authenticated identity. Overwrites any previous one.
func (a *Accessor) SetAuth(ctx context.Context, auth *storage.AuthSession) error {
	a.record.Auth = auth
	return a.save(ctx)
}

// BeginOAuth stores the one-time CSRF state and the sanitized post-login
// destination for the authorize→callback round trip.
func (a *Accessor) BeginOAuth(ctx context.Context, state, redirectTo string) error {
	a.record.OAuthState = state
	a.record.RedirectTo = redirectTo
	return a.save(ctx)
}

// TakeOAuthState reads and removes the stored CSRF state. The removal is
// persisted before the caller compares anything, so a state can never be
// replayed even when validation then fails.
func (a *Accessor) TakeOAuthState(ctx context.Context) (string, error) {
	state := a.record.OAuthState
	a.record.OAuthState = ""
	if err := a.save(ctx); err != nil {
		return "", err
	}
	return state, nil
}

// TakeRedirectTo reads and removes the stored post-login destination
func (a *Accessor) TakeRedirectTo(ctx context.Context) (string, error) {
	target := a.record.RedirectTo
	a.record.RedirectTo = ""
	if err := a.save(ctx); err != nil {
		return "", err
	}
	return target, nil
}

// Token returns the stored encrypted token blob, empty if absent
func (a *Accessor) Token() string {
	return a.record.AccessToken
}

// SetToken stores the encrypted token blob
func (a *Accessor) SetToken(ctx context.Context, blob string) error {
	a.record.AccessToken = blob
	return a.save(ctx)
}

// RemoveToken purges the token blob, e.g. after a failed decryption
func (a *Accessor) RemoveToken(ctx context.Context) error {
	a.record.AccessToken = ""
	return a.save(ctx)
}

// CSRFToken returns the session's mutation-protection token, creating it on
// first use. Idempotent until the session is flushed. This token lives in
// its own field and is never interchangeable with the OAuth state.
func (a *Accessor) CSRFToken(ctx context.Context) (string, error) {
	if a.record.CSRFToken != "" {
		return a.record.CSRFToken, nil
	}

	token, err := crypto.GenerateSecureToken()
	if err != nil {
		return "", fmt.Errorf("issuing csrf token: %w", err)
	}
	a.record.CSRFToken = token
	if err := a.save(ctx); err != nil {
		return "", err
	}
	return token, nil
}

// Flush destroys the entire session record
func (a *Accessor) Flush(ctx context.Context) error {
	a.record = &storage.Record{}
	if err := a.store.Delete(ctx, a.id); err != nil {
		return fmt.Errorf("flushing session: %w", err)
	}
	return nil
}

func (a *Accessor) save(ctx context.Context) error {
	if err := a.store.Put(ctx, a.id, a.record); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}
