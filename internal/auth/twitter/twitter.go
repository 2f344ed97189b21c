// Package twitter implements the OAuth 2.0 PKCE authorization flow against
// the X platform: PKCE code generation, the local redirect-capture server,
// the code-for-token exchange, and the refresh-token rotation protocol.
package twitter

import "fmt"

// OAuth configuration constants for X/Twitter.
const (
	AuthURL     = "https://x.com/i/oauth2/authorize"
	TokenURL    = "https://api.x.com/2/oauth2/token"
	UserInfoURL = "https://api.x.com/2/users/me"

	// CallbackPath is the path component of the registered redirect URI.
	CallbackPath = "/callback"

	// Scopes is the space-joined set of capabilities requested at login.
	// offline.access is required for a refresh token to be issued.
	Scopes = "tweet.read tweet.write users.read offline.access"
)

// RedirectURI builds the fixed local redirect URI for the given callback port.
// The URI must match the one registered in the X developer portal exactly.
func RedirectURI(port int) string {
	return fmt.Sprintf("http://localhost:%d%s", port, CallbackPath)
}
