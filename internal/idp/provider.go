package idp

import (
	"context"

	"golang.org/x/oauth2"
)

// Identity represents the user information fetched from the identity
// provider after a successful code exchange.
type Identity struct {
	Login     string `json:"login"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Email is one address from the provider's email list
type Email struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// Provider abstracts identity provider operations for the login flow.
type Provider interface {
	// AuthURL generates the authorization URL for the OAuth flow.
	AuthURL(state string) string

	// ExchangeCode exchanges an authorization code for an access token.
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)

	// UserInfo fetches the user's identity with an access token.
	UserInfo(ctx context.Context, accessToken string) (*Identity, error)
}

// SelectPrimaryEmail picks the address to associate with the account:
// the primary-and-verified one if present, else the first verified one,
// else none. Unverified addresses are never used.
func SelectPrimaryEmail(emails []Email) string {
	for _, email := range emails {
		if email.Primary && email.Verified {
			return email.Email
		}
	}
	for _, email := range emails {
		if email.Verified {
			return email.Email
		}
	}
	return ""
}
