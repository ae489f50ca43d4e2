package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtaw5649/barforge-web/internal/cookie"
	"github.com/jtaw5649/barforge-web/internal/storage"
)

func newAccessor(t *testing.T) (*Accessor, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore(time.Hour)
	manager := NewManager(store, time.Hour)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	accessor, err := manager.Load(context.Background(), w, r)
	require.NoError(t, err)
	return accessor, store
}

func TestManagerIssuesSessionCookie(t *testing.T) {
	store := storage.NewMemoryStore(time.Hour)
	manager := NewManager(store, time.Hour)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	accessor, err := manager.Load(context.Background(), w, r)
	require.NoError(t, err)
	assert.NotEmpty(t, accessor.ID())

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, cookie.SessionCookie, cookies[0].Name)
	assert.Equal(t, accessor.ID(), cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestManagerResolvesExistingSession(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(time.Hour)
	manager := NewManager(store, time.Hour)

	first := httptest.NewRecorder()
	accessor, err := manager.Load(ctx, first, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NoError(t, accessor.SetAuth(ctx, &storage.AuthSession{Login: "octocat"}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: cookie.SessionCookie, Value: accessor.ID()})

	w := httptest.NewRecorder()
	again, err := manager.Load(ctx, w, r)
	require.NoError(t, err)
	assert.Equal(t, accessor.ID(), again.ID())
	require.NotNil(t, again.Auth())
	assert.Equal(t, "octocat", again.Auth().Login)
	assert.Empty(t, w.Result().Cookies(), "no new cookie for a live session")
}

func TestManagerReplacesUnknownCookie(t *testing.T) {
	store := storage.NewMemoryStore(time.Hour)
	manager := NewManager(store, time.Hour)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: cookie.SessionCookie, Value: "stale-or-forged-id"})

	w := httptest.NewRecorder()
	accessor, err := manager.Load(context.Background(), w, r)
	require.NoError(t, err)
	assert.NotEqual(t, "stale-or-forged-id", accessor.ID())
	require.Len(t, w.Result().Cookies(), 1)
}

func TestTakeOAuthStateIsSingleUse(t *testing.T) {
	ctx := context.Background()
	accessor, store := newAccessor(t)

	require.NoError(t, accessor.BeginOAuth(ctx, "state-123", "/modules"))

	state, err := accessor.TakeOAuthState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "state-123", state)

	// Removal is persisted, not just in-memory
	record, err := store.Get(ctx, accessor.ID())
	require.NoError(t, err)
	assert.Empty(t, record.OAuthState)

	state, err = accessor.TakeOAuthState(ctx)
	require.NoError(t, err)
	assert.Empty(t, state)
}

func TestTakeRedirectTo(t *testing.T) {
	ctx := context.Background()
	accessor, _ := newAccessor(t)

	require.NoError(t, accessor.BeginOAuth(ctx, "state-123", "/modules?page=2"))

	target, err := accessor.TakeRedirectTo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/modules?page=2", target)

	target, err = accessor.TakeRedirectTo(ctx)
	require.NoError(t, err)
	assert.Empty(t, target)
}

func TestCSRFTokenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	accessor, _ := newAccessor(t)

	first, err := accessor.CSRFToken(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	second, err := accessor.CSRFToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCSRFTokenDistinctFromOAuthState(t *testing.T) {
	ctx := context.Background()
	accessor, _ := newAccessor(t)

	require.NoError(t, accessor.BeginOAuth(ctx, "oauth-state", "/"))
	token, err := accessor.CSRFToken(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, "oauth-state", token)

	// Consuming the OAuth state must not rotate the mutation token
	_, err = accessor.TakeOAuthState(ctx)
	require.NoError(t, err)
	again, err := accessor.CSRFToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, token, again)
}

func TestTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	accessor, _ := newAccessor(t)

	assert.Empty(t, accessor.Token())

	require.NoError(t, accessor.SetToken(ctx, "encrypted-blob"))
	assert.Equal(t, "encrypted-blob", accessor.Token())

	require.NoError(t, accessor.RemoveToken(ctx))
	assert.Empty(t, accessor.Token())
}

func TestFlushDestroysRecord(t *testing.T) {
	ctx := context.Background()
	accessor, store := newAccessor(t)

	require.NoError(t, accessor.SetAuth(ctx, &storage.AuthSession{Login: "octocat"}))
	require.NoError(t, accessor.SetToken(ctx, "blob"))

	require.NoError(t, accessor.Flush(ctx))
	assert.Nil(t, accessor.Auth())
	assert.Empty(t, accessor.Token())

	_, err := store.Get(ctx, accessor.ID())
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)

	// Flushing an already-empty session is fine
	require.NoError(t, accessor.Flush(ctx))
}
