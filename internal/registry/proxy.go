package registry

import (
	"io"
	"net/http"

	"github.com/jtaw5649/barforge-web/internal/json"
	"github.com/jtaw5649/barforge-web/internal/log"
	"github.com/jtaw5649/barforge-web/internal/urlutil"
)

// Forward relays an incoming request to the registry API under the user's
// bearer token. The upstream status and body pass through untouched so the
// browser sees the registry's own error contract. Only transport failures
// are rewritten, to 502.
func (c *Client) Forward(w http.ResponseWriter, r *http.Request, accessToken, upstreamPath string) {
	target, err := urlutil.JoinPath(c.baseURL, upstreamPath)
	if err != nil {
		log.LogErrorWithFields("registry", "Invalid upstream path", map[string]any{
			"path":  upstreamPath,
			"error": err.Error(),
		})
		json.WriteBadGateway(w, "Registry unavailable")
		return
	}
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		json.WriteBadGateway(w, "Registry unavailable")
		return
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", apiAccept)
	if ct := r.Header.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.LogWarnWithFields("registry", "Upstream request failed", map[string]any{
			"path":  upstreamPath,
			"error": err.Error(),
		})
		json.WriteBadGateway(w, "Registry unavailable")
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.LogDebugWithFields("registry", "Copying upstream response failed", map[string]any{
			"error": err.Error(),
		})
	}
}
