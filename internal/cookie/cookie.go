package cookie

import (
	"net/http"
	"time"

	"github.com/jtaw5649/barforge-web/internal/envutil"
	"github.com/jtaw5649/barforge-web/internal/log"
)

// Common cookie names used in barforge-web
const (
	// SessionCookie carries the opaque session identifier. It is purely a
	// lookup key into the server-side store; no session data lives in it.
	SessionCookie = "barforge_session"

	// ProfileCacheCookie is a client-side cache of profile data set by the
	// web UI. The server only ever clears it when a session turns out to
	// be unauthenticated.
	ProfileCacheCookie = "profile_cache"
)

// SetSession sets the session identifier cookie with appropriate security settings
func SetSession(w http.ResponseWriter, value string, maxAge time.Duration) {
	secure := !envutil.IsDev()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
	})

	log.LogDebugWithFields("cookie", "Session cookie set", map[string]any{
		"maxAge": maxAge.String(),
		"secure": secure,
	})
}

// Clear removes a cookie by setting MaxAge to -1
func Clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}

// ClearSession removes the session cookie
func ClearSession(w http.ResponseWriter) {
	Clear(w, SessionCookie)
}

// ClearProfileCache removes the stale client-side profile cache
func ClearProfileCache(w http.ResponseWriter) {
	Clear(w, ProfileCacheCookie)
}

// Get retrieves a cookie value from the request
func Get(r *http.Request, name string) (string, error) {
	cookie, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// GetSession retrieves the session cookie value
func GetSession(r *http.Request) (string, error) {
	return Get(r, SessionCookie)
}
