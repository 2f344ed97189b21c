package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/post-for-me/XPostCLI/internal/config"
	"github.com/post-for-me/XPostCLI/internal/credstore"
	"github.com/post-for-me/XPostCLI/internal/util"
	log "github.com/sirupsen/logrus"
)

// tokenResponse represents the response structure from the X token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

// TwitterAuth handles the X OAuth2 authentication exchanges.
// It provides methods for generating authorization URLs, exchanging codes for
// tokens, refreshing access tokens, and looking up the authenticated user.
type TwitterAuth struct {
	httpClient  *http.Client
	clientID    string
	clientInfo  string // client secret, never logged
	redirectURI string

	// Endpoint URLs, overridable in tests.
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// NewTwitterAuth creates a new X authentication service for the given client
// identity. The HTTP client carries the configured proxy settings and a
// bounded request timeout so a hung connection never blocks a caller forever.
func NewTwitterAuth(cfg *config.Config, identity *credstore.ClientIdentity) *TwitterAuth {
	timeout := time.Duration(config.DefaultRequestTimeoutSeconds) * time.Second
	port := config.DefaultCallbackPort
	if cfg != nil {
		timeout = time.Duration(cfg.RequestTimeoutSeconds) * time.Second
		port = cfg.CallbackPort
	}
	return &TwitterAuth{
		httpClient:  util.SetProxy(cfg, &http.Client{Timeout: timeout}),
		clientID:    identity.ClientID,
		clientInfo:  identity.ClientSecret,
		redirectURI: RedirectURI(port),
		AuthURL:     AuthURL,
		TokenURL:    TokenURL,
		UserInfoURL: UserInfoURL,
	}
}

// GenerateAuthURL creates the OAuth authorization URL with PKCE.
// It constructs the URL with the client ID, response type, redirect URI,
// requested scopes, CSRF state, and the PKCE challenge.
func (o *TwitterAuth) GenerateAuthURL(state string, pkceCodes *PKCECodes) (string, error) {
	if pkceCodes == nil {
		return "", fmt.Errorf("PKCE codes are required")
	}

	params := url.Values{
		"response_type":         {"code"},
		"client_id":             {o.clientID},
		"redirect_uri":          {o.redirectURI},
		"scope":                 {Scopes},
		"state":                 {state},
		"code_challenge":        {pkceCodes.CodeChallenge},
		"code_challenge_method": {ChallengeMethod},
	}

	return fmt.Sprintf("%s?%s", o.AuthURL, params.Encode()), nil
}

// ExchangeCodeForTokens exchanges an authorization code for access and
// refresh tokens. It POSTs the code, the PKCE verifier, the client identity,
// and the fixed redirect URI to the token endpoint. A non-success status is
// returned as *OAuthError carrying the status and parsed body.
func (o *TwitterAuth) ExchangeCodeForTokens(ctx context.Context, code string, pkceCodes *PKCECodes) (*credstore.TokenPair, error) {
	if pkceCodes == nil {
		return nil, fmt.Errorf("PKCE codes are required for token exchange")
	}

	data := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {o.clientID},
		"redirect_uri":  {o.redirectURI},
		"code_verifier": {pkceCodes.CodeVerifier},
	}

	return o.postTokenRequest(ctx, data, "")
}

// RefreshTokens refreshes an access token using a refresh token.
// On success the endpoint returns a full new token pair; the possibly-new
// refresh token replaces the old one (rotation), since a rotated-out refresh
// token must never be reused.
func (o *TwitterAuth) RefreshTokens(ctx context.Context, refreshToken string) (*credstore.TokenPair, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is required")
	}

	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {o.clientID},
	}

	return o.postTokenRequest(ctx, data, refreshToken)
}

// postTokenRequest performs a form-encoded POST to the token endpoint and
// converts the response into a TokenPair. previousRefreshToken is carried
// forward when the endpoint omits a new one.
func (o *TwitterAuth) postTokenRequest(ctx context.Context, data url.Values, previousRefreshToken string) (*credstore.TokenPair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	// Confidential client: authenticate with the client secret on every call.
	req.SetBasicAuth(o.clientID, o.clientInfo)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, newOAuthError(resp.StatusCode, body)
	}

	var tokenResp tokenResponse
	if err = json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("token response contained no access token")
	}

	refreshToken := tokenResp.RefreshToken
	if refreshToken == "" {
		refreshToken = previousRefreshToken
	}

	now := time.Now()
	return &credstore.TokenPair{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: refreshToken,
		TokenType:    tokenResp.TokenType,
		Scope:        tokenResp.Scope,
		ExpiresAt:    now.Add(time.Duration(tokenResp.ExpiresIn) * time.Second).Format(time.RFC3339),
		LastRefresh:  now.Format(time.RFC3339),
	}, nil
}

// ExchangeCodeForTokensWithRetry runs the code exchange with a bounded retry
// for transient failures. 4xx responses mean the code is invalid, expired, or
// already used, and are returned immediately.
func (o *TwitterAuth) ExchangeCodeForTokensWithRetry(ctx context.Context, code string, pkceCodes *PKCECodes, maxRetries int) (*credstore.TokenPair, error) {
	return o.withRetry(ctx, maxRetries, "exchange", func() (*credstore.TokenPair, error) {
		return o.ExchangeCodeForTokens(ctx, code, pkceCodes)
	})
}

// RefreshTokensWithRetry refreshes tokens with a built-in retry mechanism.
// Transient network and server errors are retried with a growing backoff;
// a rejected refresh token is returned immediately, since retrying a
// rejected refresh token never succeeds.
func (o *TwitterAuth) RefreshTokensWithRetry(ctx context.Context, refreshToken string, maxRetries int) (*credstore.TokenPair, error) {
	return o.withRetry(ctx, maxRetries, "refresh", func() (*credstore.TokenPair, error) {
		return o.RefreshTokens(ctx, refreshToken)
	})
}

// withRetry runs fn up to maxRetries times, backing off between attempts.
// Only retriable failures (network errors, 5xx) are attempted again.
func (o *TwitterAuth) withRetry(ctx context.Context, maxRetries int, op string, fn func() (*credstore.TokenPair, error)) (*credstore.TokenPair, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		pair, err := fn()
		if err == nil {
			return pair, nil
		}
		lastErr = err

		var oauthErr *OAuthError
		if errors.As(err, &oauthErr) && !oauthErr.Retriable() {
			return nil, err
		}

		log.Warnf("Token %s attempt %d failed: %v", op, attempt+1, err)
	}

	return nil, fmt.Errorf("token %s failed after %d attempts: %w", op, maxRetries, lastErr)
}

// FetchUserInfo looks up the authenticated user's handle. The lookup is
// informational only; a failure here never invalidates the token pair.
func (o *TwitterAuth) FetchUserInfo(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.UserInfoURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("user info request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read user info response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("user info lookup failed with status %d", resp.StatusCode)
	}

	username := gjson.GetBytes(body, "data.username").String()
	if username == "" {
		return "", fmt.Errorf("user info response contained no username")
	}
	return username, nil
}
