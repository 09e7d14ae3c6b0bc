package google

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/voxmail/voxmail/internal/credential"
)

// Scopes requested during authorization. Reading, sending and modifying mail
// plus both settings scopes; filter management needs settings.basic and
// forwarding-related filter actions need settings.sharing.
var Scopes = []string{
	gmail.GmailReadonlyScope,
	gmail.GmailSendScope,
	gmail.GmailModifyScope,
	gmail.GmailSettingsBasicScope,
	gmail.GmailSettingsSharingScope,
}

// Config holds the OAuth client registration for the Google consent flow.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint overrides the Google token endpoint. Leave zero outside tests.
	Endpoint oauth2.Endpoint
}

func (c *Config) oauthConfig() *oauth2.Config {
	endpoint := c.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = googleoauth.Endpoint
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Endpoint:     endpoint,
		Scopes:       Scopes,
	}
}

// AuthURL returns the consent URL to redirect the user to. Offline access
// with forced approval so Google issues a refresh token even for repeat
// authorizations.
func (c *Config) AuthURL(state string) string {
	return c.oauthConfig().AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
	)
}

// Exchange trades an authorization code for a credential.
func (c *Config) Exchange(ctx context.Context, code string) (credential.Credential, error) {
	tok, err := c.oauthConfig().Exchange(ctx, code)
	if err != nil {
		return credential.Credential{}, fmt.Errorf("exchange auth code: %w", err)
	}
	return fromToken(tok), nil
}

// Refresh exchanges a refresh token for a fresh access token. It implements
// credential.Refresher. The returned credential carries a refresh token only
// when Google rotated it.
func (c *Config) Refresh(ctx context.Context, refreshToken string) (credential.Credential, error) {
	src := c.oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return credential.Credential{}, fmt.Errorf("refresh token exchange: %w", err)
	}
	cred := fromToken(tok)
	if tok.RefreshToken == refreshToken {
		cred.RefreshToken = ""
	}
	return cred, nil
}

func fromToken(tok *oauth2.Token) credential.Credential {
	cred := credential.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		cred.ExpiryDate = tok.Expiry.UnixMilli()
	}
	return cred
}
