package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/jtaw5649/barforge-web/internal/urlutil"
)

const (
	githubAPIAccept = "application/vnd.github+json"
	githubUserAgent = "barforge"
)

// GitHubProvider implements the Provider interface for GitHub OAuth.
// GitHub uses OAuth 2.0 (not OIDC) and has its own API for user info.
type GitHubProvider struct {
	config     oauth2.Config
	apiBaseURL string
	httpClient *http.Client
}

// GitHubOption customizes the provider, mostly for tests
type GitHubOption func(*GitHubProvider)

// WithEndpoints overrides the authorize and token endpoints
func WithEndpoints(authURL, tokenURL string) GitHubOption {
	return func(p *GitHubProvider) {
		p.config.Endpoint = oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL}
	}
}

// WithAPIBaseURL overrides the GitHub API base (default https://api.github.com)
func WithAPIBaseURL(base string) GitHubOption {
	return func(p *GitHubProvider) {
		p.apiBaseURL = base
	}
}

// NewGitHubProvider creates a new GitHub OAuth provider.
func NewGitHubProvider(clientID, clientSecret, redirectURI string, opts ...GitHubOption) *GitHubProvider {
	p := &GitHubProvider{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		apiBaseURL: "https://api.github.com",
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AuthURL generates the authorization URL.
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// ExchangeCode exchanges an authorization code for an access token.
func (p *GitHubProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	return p.config.Exchange(ctx, code)
}

// githubUserResponse represents GitHub's user API response.
type githubUserResponse struct {
	Login     string `json:"login"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// UserInfo fetches user identity and the verified email list from GitHub's API.
func (p *GitHubProvider) UserInfo(ctx context.Context, accessToken string) (*Identity, error) {
	var user githubUserResponse
	if err := p.get(ctx, accessToken, "user", &user); err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	var emails []Email
	if err := p.get(ctx, accessToken, "user/emails", &emails); err != nil {
		return nil, fmt.Errorf("failed to get user emails: %w", err)
	}

	return &Identity{
		Login:     user.Login,
		Email:     SelectPrimaryEmail(emails),
		Name:      user.Name,
		AvatarURL: user.AvatarURL,
	}, nil
}

func (p *GitHubProvider) get(ctx context.Context, accessToken, path string, out any) error {
	url, err := urlutil.JoinPath(p.apiBaseURL, path)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", githubAPIAccept)
	req.Header.Set("User-Agent", githubUserAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
