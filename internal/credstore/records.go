// Package credstore provides durable, permission-restricted storage for the
// four credential records the application manages: the OAuth2 client identity,
// the OAuth2 token pair, the OAuth 1.0a media credential set, and the
// ephemeral authorization flow state. All records live in one directory and
// share a single atomic-write and permission discipline.
package credstore

import (
	"strings"
	"time"
)

// ClientIdentity holds the confidential OAuth2 client credentials issued by
// the X developer portal. It is written once during setup and read by every
// token exchange.
type ClientIdentity struct {
	// ClientID is the OAuth2 client identifier.
	ClientID string `json:"client_id"`
	// ClientSecret is the confidential client secret.
	ClientSecret string `json:"client_secret"`
}

// Complete reports whether both fields are present.
func (c *ClientIdentity) Complete() bool {
	return c != nil && strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.ClientSecret) != ""
}

// TokenPair stores the OAuth2 access/refresh token pair obtained from the
// token endpoint. It is replaced wholesale on every successful refresh; the
// rotated-out refresh token is never kept.
type TokenPair struct {
	// AccessToken is the OAuth2 access token used for authenticating API requests.
	AccessToken string `json:"access_token"`
	// RefreshToken is used to obtain new access tokens when the current one expires.
	RefreshToken string `json:"refresh_token"`
	// TokenType is the token type reported by the endpoint, normally "bearer".
	TokenType string `json:"token_type"`
	// Scope is the space-joined set of granted capability strings.
	Scope string `json:"scope"`
	// ExpiresAt is the absolute expiry timestamp in RFC3339 format.
	ExpiresAt string `json:"expired"`
	// LastRefresh is the timestamp of the last exchange or refresh operation.
	LastRefresh string `json:"last_refresh"`
	// Handle is the platform username captured at login, informational only.
	Handle string `json:"handle,omitempty"`
}

// Valid reports whether the pair holds a usable access token. An empty access
// token with a present refresh token is never treated as valid.
func (t *TokenPair) Valid() bool {
	return t != nil && strings.TrimSpace(t.AccessToken) != ""
}

// ExpiryTime parses the absolute expiry timestamp. A zero time is returned
// when the field is missing or malformed, which callers treat as expired.
func (t *TokenPair) ExpiryTime() time.Time {
	if t == nil || t.ExpiresAt == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, t.ExpiresAt)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// ExpiredAt reports whether the access token must be refreshed before use at
// the given instant, applying the skew margin so callers never race an
// imminent expiry.
func (t *TokenPair) ExpiredAt(now time.Time, skew time.Duration) bool {
	expiry := t.ExpiryTime()
	if expiry.IsZero() {
		return true
	}
	return !now.Before(expiry.Add(-skew))
}

// Scopes splits the granted scope string into its component capabilities.
func (t *TokenPair) Scopes() []string {
	if t == nil || strings.TrimSpace(t.Scope) == "" {
		return nil
	}
	return strings.Fields(t.Scope)
}

// MediaCredentials holds the OAuth 1.0a credential set used to authorize
// media upload. These are issued out-of-band by the developer portal, never
// refreshed, and live independently from the OAuth2 token pair.
type MediaCredentials struct {
	// ConsumerKey is the OAuth 1.0a application consumer key.
	ConsumerKey string `json:"consumer_key"`
	// ConsumerSecret is the OAuth 1.0a application consumer secret.
	ConsumerSecret string `json:"consumer_secret"`
	// AccessToken is the long-lived OAuth 1.0a user access token.
	AccessToken string `json:"access_token"`
	// AccessTokenSecret is the secret paired with the access token.
	AccessTokenSecret string `json:"access_token_secret"`
}

// Complete reports whether all four fields are present.
func (m *MediaCredentials) Complete() bool {
	if m == nil {
		return false
	}
	return strings.TrimSpace(m.ConsumerKey) != "" &&
		strings.TrimSpace(m.ConsumerSecret) != "" &&
		strings.TrimSpace(m.AccessToken) != "" &&
		strings.TrimSpace(m.AccessTokenSecret) != ""
}

// FlowState records the single outstanding authorization attempt: the CSRF
// state token echoed through the redirect and the PKCE verifier bound to
// this attempt. A new login invalidates any prior outstanding state.
type FlowState struct {
	// State is the CSRF nonce embedded in the authorization URL.
	State string `json:"state"`
	// Verifier is the PKCE code verifier for this attempt.
	Verifier string `json:"verifier"`
	// CreatedAt is when this attempt started, RFC3339.
	CreatedAt string `json:"created_at"`
	// ExpiresAt is when this attempt becomes stale, RFC3339.
	ExpiresAt string `json:"expires_at"`
}

// ExpiredAt reports whether the flow state is stale at the given instant.
// A missing or malformed expiry counts as stale.
func (f *FlowState) ExpiredAt(now time.Time) bool {
	if f == nil || f.ExpiresAt == "" {
		return true
	}
	ts, err := time.Parse(time.RFC3339, f.ExpiresAt)
	if err != nil {
		return true
	}
	return !now.Before(ts)
}
