package server

import (
	"net/http"
	"strings"

	"github.com/jtaw5649/barforge-web/internal/crypto"
	jsonwriter "github.com/jtaw5649/barforge-web/internal/json"
	"github.com/jtaw5649/barforge-web/internal/log"
	"github.com/jtaw5649/barforge-web/internal/registry"
)

// ProxyHandlers forwards browser calls that need the user's provider token
// to the registry API. The token never reaches the browser, it is decrypted
// here per request and attached upstream.
type ProxyHandlers struct {
	registry *registry.Client
	key      [32]byte
}

// NewProxyHandlers creates the authenticated proxy handler set
func NewProxyHandlers(registryClient *registry.Client, key [32]byte) *ProxyHandlers {
	return &ProxyHandlers{registry: registryClient, key: key}
}

// StarsHandler proxies /api/stars/... to the registry's stars endpoints
func (h *ProxyHandlers) StarsHandler(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, "/api/stars", "api/v1/stars")
}

// NotificationsHandler proxies /api/notifications/... to the registry's
// notification endpoints
func (h *ProxyHandlers) NotificationsHandler(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, "/api/notifications", "api/v1/notifications")
}

func (h *ProxyHandlers) forward(w http.ResponseWriter, r *http.Request, prefix, upstreamPrefix string) {
	sess := SessionFromContext(r.Context())

	auth := sess.Auth()
	if auth == nil {
		jsonwriter.WriteUnauthorized(w, "Authentication required")
		return
	}

	blob := sess.Token()
	if blob == "" {
		jsonwriter.WriteUnauthorized(w, "Authentication required")
		return
	}
	accessToken, err := crypto.Decrypt(h.key, blob)
	if err != nil {
		log.LogWarnWithFields("proxy", "Stored token failed decryption", map[string]any{
			"login": auth.Login,
		})
		jsonwriter.WriteUnauthorized(w, "Authentication required")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, prefix)
	h.registry.Forward(w, r, accessToken, upstreamPrefix+rest)
}
