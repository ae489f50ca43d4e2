package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jtaw5649/barforge-web/internal/urlutil"
)

// ErrUpstream is returned when the registry API is unreachable or responds
// outside its contract. Handlers map it to 502.
var ErrUpstream = errors.New("registry upstream failure")

const apiAccept = "application/json"

// Role is the registry-side role of a user
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleUser      Role = "user"
)

// Elevated reports whether the role grants moderation privileges
func (r Role) Elevated() bool {
	switch Role(strings.ToLower(string(r))) {
	case RoleAdmin, RoleModerator:
		return true
	}
	return false
}

// UserProfile is the registry's view of the authenticated user
type UserProfile struct {
	Login string `json:"login"`
	Role  Role   `json:"role"`
}

// Client talks to the upstream registry API on behalf of a user. Every call
// carries the user's (decrypted) provider token as a bearer credential.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a registry API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SyncUser asks the registry to materialize the user record for the token's
// owner. Invoked once per successful OAuth callback.
func (c *Client) SyncUser(ctx context.Context, accessToken string) error {
	resp, err := c.do(ctx, http.MethodPost, "api/v1/auth/sync", accessToken)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: sync returned status %d", ErrUpstream, resp.StatusCode)
	}
	return nil
}

// FetchProfile retrieves the registry profile for the token's owner.
// A non-success status yields (nil, nil): the caller treats "no profile"
// and "not privileged" the same way, and only transport-level failures
// surface as ErrUpstream.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (*UserProfile, error) {
	resp, err := c.do(ctx, http.MethodGet, "api/v1/users/me", accessToken)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil
	}

	var profile UserProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("%w: decoding profile: %v", ErrUpstream, err)
	}
	return &profile, nil
}

func (c *Client) do(ctx context.Context, method, path, accessToken string) (*http.Response, error) {
	url, err := urlutil.JoinPath(c.baseURL, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", apiAccept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return resp, nil
}
