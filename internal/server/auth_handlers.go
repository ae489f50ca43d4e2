package server

import (
	"net/http"

	"github.com/jtaw5649/barforge-web/internal/authz"
	"github.com/jtaw5649/barforge-web/internal/cookie"
	"github.com/jtaw5649/barforge-web/internal/crypto"
	"github.com/jtaw5649/barforge-web/internal/idp"
	jsonwriter "github.com/jtaw5649/barforge-web/internal/json"
	"github.com/jtaw5649/barforge-web/internal/log"
	"github.com/jtaw5649/barforge-web/internal/registry"
	"github.com/jtaw5649/barforge-web/internal/storage"
)

// AuthHandlers implements the OAuth login round trip and the session
// endpoints behind it
type AuthHandlers struct {
	provider idp.Provider
	registry *registry.Client
	resolver *authz.Resolver
	key      [32]byte
}

// NewAuthHandlers creates the auth handler set
func NewAuthHandlers(provider idp.Provider, registryClient *registry.Client, resolver *authz.Resolver, key [32]byte) *AuthHandlers {
	return &AuthHandlers{
		provider: provider,
		registry: registryClient,
		resolver: resolver,
		key:      key,
	}
}

// LoginHandler starts the OAuth flow. The optional redirect_to query
// parameter is sanitized before it is stored, and again when consumed.
func (h *AuthHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())

	state, err := crypto.GenerateSecureToken()
	if err != nil {
		log.LogError("Failed to generate OAuth state: %v", err)
		jsonwriter.WriteInternalServerError(w, "Internal Server Error")
		return
	}

	redirectTo := SafeRedirectTarget(r.URL.Query().Get("redirect_to"))
	if err := sess.BeginOAuth(r.Context(), state, redirectTo); err != nil {
		log.LogError("Failed to persist OAuth state: %v", err)
		jsonwriter.WriteInternalServerError(w, "Internal Server Error")
		return
	}

	http.Redirect(w, r, h.provider.AuthURL(state), http.StatusFound)
}

// CallbackHandler completes the OAuth flow: state check, code exchange,
// identity fetch, token encryption, registry sync, then the stored redirect.
func (h *AuthHandlers) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := SessionFromContext(ctx)

	// The stored state is consumed before any comparison so it can never
	// be replayed, even when validation fails below.
	storedState, err := sess.TakeOAuthState(ctx)
	if err != nil {
		log.LogError("Failed to consume OAuth state: %v", err)
		jsonwriter.WriteInternalServerError(w, "Internal Server Error")
		return
	}

	queryState := r.URL.Query().Get("state")
	if storedState == "" || queryState == "" || storedState != queryState {
		if _, err := sess.TakeRedirectTo(ctx); err != nil {
			log.LogError("Failed to clear redirect target: %v", err)
		}
		log.LogWarnWithFields("auth", "OAuth state mismatch", map[string]any{
			"has_stored": storedState != "",
			"has_query":  queryState != "",
		})
		jsonwriter.WriteForbidden(w, "Invalid OAuth state")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		jsonwriter.WriteBadRequest(w, "Missing authorization code")
		return
	}

	token, err := h.provider.ExchangeCode(ctx, code)
	if err != nil {
		log.LogWarnWithFields("auth", "Code exchange failed", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteBadGateway(w, "Identity provider unavailable")
		return
	}

	identity, err := h.provider.UserInfo(ctx, token.AccessToken)
	if err != nil {
		log.LogWarnWithFields("auth", "Identity fetch failed", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteBadGateway(w, "Identity provider unavailable")
		return
	}

	blob, err := crypto.Encrypt(h.key, token.AccessToken)
	if err != nil {
		log.LogError("Failed to encrypt provider token: %v", err)
		jsonwriter.WriteInternalServerError(w, "Internal Server Error")
		return
	}
	if err := sess.SetToken(ctx, blob); err != nil {
		log.LogError("Failed to store provider token: %v", err)
		jsonwriter.WriteInternalServerError(w, "Internal Server Error")
		return
	}

	if err := sess.SetAuth(ctx, &storage.AuthSession{
		Login:     identity.Login,
		Email:     identity.Email,
		Name:      identity.Name,
		AvatarURL: identity.AvatarURL,
	}); err != nil {
		log.LogError("Failed to store identity: %v", err)
		jsonwriter.WriteInternalServerError(w, "Internal Server Error")
		return
	}

	h.resolver.Invalidate(sess.ID())

	// Sync failures do not block login, the registry record is
	// materialized on the next authenticated call instead
	if err := h.registry.SyncUser(ctx, token.AccessToken); err != nil {
		log.LogWarnWithFields("auth", "Registry user sync failed", map[string]any{
			"login": identity.Login,
			"error": err.Error(),
		})
	}

	target, err := sess.TakeRedirectTo(ctx)
	if err != nil {
		log.LogError("Failed to consume redirect target: %v", err)
		jsonwriter.WriteInternalServerError(w, "Internal Server Error")
		return
	}

	log.LogInfoWithFields("auth", "User logged in", map[string]any{
		"login": identity.Login,
	})
	http.Redirect(w, r, SafeRedirectTarget(target), http.StatusFound)
}

// LogoutHandler destroys the session and clears its cookies
func (h *AuthHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())

	if err := sess.Flush(r.Context()); err != nil {
		log.LogError("Failed to flush session: %v", err)
		jsonwriter.WriteInternalServerError(w, "Internal Server Error")
		return
	}
	h.resolver.Invalidate(sess.ID())

	cookie.ClearSession(w)
	cookie.ClearProfileCache(w)
	w.WriteHeader(http.StatusNoContent)
}

type sessionUser struct {
	Login     string `json:"login"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type sessionStatus struct {
	Authenticated bool         `json:"authenticated"`
	IsAdmin       bool         `json:"is_admin"`
	User          *sessionUser `json:"user,omitempty"`
}

// SessionStatusHandler reports the current authentication state. A stored
// token that no longer decrypts is purged here, the identity itself stays.
func (h *AuthHandlers) SessionStatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := SessionFromContext(ctx)

	auth := sess.Auth()
	if auth == nil {
		cookie.ClearProfileCache(w)
		jsonwriter.WriteResponse(w, http.StatusOK, sessionStatus{})
		return
	}

	if blob := sess.Token(); blob != "" {
		if _, err := crypto.Decrypt(h.key, blob); err != nil {
			log.LogWarnWithFields("auth", "Purging undecryptable token", map[string]any{
				"login": auth.Login,
			})
			if err := sess.RemoveToken(ctx); err != nil {
				log.LogError("Failed to purge token: %v", err)
			}
			h.resolver.Invalidate(sess.ID())
		}
	}

	jsonwriter.WriteResponse(w, http.StatusOK, sessionStatus{
		Authenticated: true,
		IsAdmin:       h.resolver.IsAdmin(ctx, auth.Login, sess),
		User: &sessionUser{
			Login:     auth.Login,
			Email:     auth.Email,
			Name:      auth.Name,
			AvatarURL: auth.AvatarURL,
		},
	})
}

// CSRFTokenHandler returns the session's mutation-protection token
func (h *AuthHandlers) CSRFTokenHandler(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())

	token, err := sess.CSRFToken(r.Context())
	if err != nil {
		log.LogError("Failed to issue CSRF token: %v", err)
		jsonwriter.WriteInternalServerError(w, "Internal Server Error")
		return
	}

	jsonwriter.WriteResponse(w, http.StatusOK, map[string]string{"csrf_token": token})
}
