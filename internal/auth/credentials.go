package auth

import "time"

// Mode classifies how an account authenticates its capabilities.
type Mode string

const (
	ModeOAuth      Mode = "oauth"
	ModeAPIKey     Mode = "api_key"
	ModeEnvBinding Mode = "env_binding"
	ModeNone       Mode = "none"
)

// RefreshWindow is how close to expiry a token may get before the
// bridge refreshes it ahead of a tool call.
const RefreshWindow = 5 * time.Minute

// Credentials is the secret material a workflow instance holds for one
// account. It lives for the lifetime of the instance and is never
// persisted outside the host's credential store.
type Credentials struct {
	AccessToken  string            `yaml:"access_token,omitempty" json:"accessToken,omitempty"`
	RefreshToken string            `yaml:"refresh_token,omitempty" json:"refreshToken,omitempty"`
	ExpiresAt    time.Time         `yaml:"expires_at,omitempty" json:"expiresAt,omitempty"`
	APIKey       string            `yaml:"-" json:"-"` // resolved from env, never persisted
	Extra        map[string]string `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// NeedsRefresh reports whether the access token must be refreshed
// before use: a refresh token and expiry are present and the expiry is
// inside the refresh window or already past.
func (c Credentials) NeedsRefresh(now time.Time) bool {
	if c.RefreshToken == "" || c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(RefreshWindow).Before(c.ExpiresAt)
}

// Secret returns the active credential (access token or API key).
func (c Credentials) Secret() string {
	if c.AccessToken != "" {
		return c.AccessToken
	}
	return c.APIKey
}

const maskSuffix = "***"

// Masked returns the credential with most characters replaced by ***.
// Shows at most the first 6 characters for identification.
func (c Credentials) Masked() string {
	secret := c.Secret()
	if secret == "" {
		return ""
	}
	visible := 6
	if len(secret) <= visible {
		return maskSuffix
	}
	return secret[:visible] + maskSuffix
}
