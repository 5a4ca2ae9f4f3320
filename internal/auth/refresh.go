package auth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// ClientConfig carries the OAuth client id/secret supplied by the
// environment at refresh time.
type ClientConfig struct {
	ID     string
	Secret string
}

// RefreshFunc exchanges a refresh token for fresh credentials.
// Token material in the returned Credentials replaces the stored values;
// fields the provider does not return (Extra, APIKey) are carried over
// by the caller.
type RefreshFunc func(ctx context.Context, creds Credentials, client ClientConfig) (Credentials, error)

// OAuth2Refresher returns a RefreshFunc for a standard OAuth token
// endpoint. Most accounts use this directly with their token URL.
func OAuth2Refresher(tokenURL string) RefreshFunc {
	return func(ctx context.Context, creds Credentials, client ClientConfig) (Credentials, error) {
		if creds.RefreshToken == "" {
			return Credentials{}, fmt.Errorf("refresh: no refresh token")
		}
		conf := &oauth2.Config{
			ClientID:     client.ID,
			ClientSecret: client.Secret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		}
		src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
		tok, err := src.Token()
		if err != nil {
			return Credentials{}, fmt.Errorf("refresh: %w", err)
		}

		next := creds
		next.AccessToken = tok.AccessToken
		next.ExpiresAt = tok.Expiry
		if tok.RefreshToken != "" {
			next.RefreshToken = tok.RefreshToken
		}
		return next, nil
	}
}
