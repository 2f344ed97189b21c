package twitter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/post-for-me/XPostCLI/internal/config"
	"github.com/post-for-me/XPostCLI/internal/credstore"
)

func newTestAuth(tokenURL, userInfoURL string) *TwitterAuth {
	cfg := &config.Config{}
	cfg.SetDefaults()
	auth := NewTwitterAuth(cfg, &credstore.ClientIdentity{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	})
	if tokenURL != "" {
		auth.TokenURL = tokenURL
	}
	if userInfoURL != "" {
		auth.UserInfoURL = userInfoURL
	}
	return auth
}

func TestGenerateAuthURL(t *testing.T) {
	auth := newTestAuth("", "")
	pkceCodes := &PKCECodes{CodeVerifier: "verifier", CodeChallenge: "challenge"}

	authURL, err := auth.GenerateAuthURL("csrf-state", pkceCodes)
	if err != nil {
		t.Fatalf("GenerateAuthURL() error = %v", err)
	}

	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("generated URL does not parse: %v", err)
	}
	if got := parsed.Scheme + "://" + parsed.Host + parsed.Path; got != AuthURL {
		t.Errorf("base URL = %q, want %q", got, AuthURL)
	}

	query := parsed.Query()
	checks := map[string]string{
		"response_type":         "code",
		"client_id":             "client-id",
		"state":                 "csrf-state",
		"code_challenge":        "challenge",
		"code_challenge_method": "S256",
		"scope":                 Scopes,
	}
	for key, want := range checks {
		if got := query.Get(key); got != want {
			t.Errorf("query %s = %q, want %q", key, got, want)
		}
	}
	if got := query.Get("redirect_uri"); !strings.Contains(got, CallbackPath) {
		t.Errorf("redirect_uri = %q, want it to contain %q", got, CallbackPath)
	}
}

func TestGenerateAuthURLRequiresPKCE(t *testing.T) {
	auth := newTestAuth("", "")
	if _, err := auth.GenerateAuthURL("state", nil); err == nil {
		t.Error("GenerateAuthURL(nil PKCE) expected error, got nil")
	}
}

func TestExchangeCodeForTokens(t *testing.T) {
	var gotForm url.Values
	var gotUser, gotPass string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		_ = r.ParseForm()
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"AT1","refresh_token":"RT1","token_type":"bearer","expires_in":7200,"scope":"tweet.read tweet.write"}`))
	}))
	defer server.Close()

	auth := newTestAuth(server.URL, "")
	pair, err := auth.ExchangeCodeForTokens(context.Background(), "auth-code", &PKCECodes{CodeVerifier: "verifier", CodeChallenge: "challenge"})
	if err != nil {
		t.Fatalf("ExchangeCodeForTokens() error = %v", err)
	}

	if gotUser != "client-id" || gotPass != "client-secret" {
		t.Errorf("basic auth = %q/%q, want client-id/client-secret", gotUser, gotPass)
	}
	formChecks := map[string]string{
		"grant_type":    "authorization_code",
		"code":          "auth-code",
		"code_verifier": "verifier",
		"client_id":     "client-id",
	}
	for key, want := range formChecks {
		if got := gotForm.Get(key); got != want {
			t.Errorf("form %s = %q, want %q", key, got, want)
		}
	}

	if pair.AccessToken != "AT1" || pair.RefreshToken != "RT1" {
		t.Errorf("pair = %q/%q, want AT1/RT1", pair.AccessToken, pair.RefreshToken)
	}
	expiry := pair.ExpiryTime()
	wantExpiry := time.Now().Add(7200 * time.Second)
	if expiry.Before(wantExpiry.Add(-time.Minute)) || expiry.After(wantExpiry.Add(time.Minute)) {
		t.Errorf("expiry = %s, want about %s", expiry, wantExpiry)
	}
	if got := pair.Scopes(); len(got) != 2 || got[0] != "tweet.read" || got[1] != "tweet.write" {
		t.Errorf("scopes = %v, want [tweet.read tweet.write]", got)
	}
}

func TestRefreshTokensRotation(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		wantRefresh string
	}{
		{"rotated", `{"access_token":"AT2","refresh_token":"RT2","token_type":"bearer","expires_in":7200}`, "RT2"},
		{"omitted keeps previous", `{"access_token":"AT2","token_type":"bearer","expires_in":7200}`, "RT1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = r.ParseForm()
				if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
					t.Errorf("grant_type = %q, want refresh_token", got)
				}
				if got := r.PostForm.Get("refresh_token"); got != "RT1" {
					t.Errorf("refresh_token = %q, want RT1", got)
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.response))
			}))
			defer server.Close()

			auth := newTestAuth(server.URL, "")
			pair, err := auth.RefreshTokens(context.Background(), "RT1")
			if err != nil {
				t.Fatalf("RefreshTokens() error = %v", err)
			}
			if pair.AccessToken != "AT2" {
				t.Errorf("access token = %q, want AT2", pair.AccessToken)
			}
			if pair.RefreshToken != tt.wantRefresh {
				t.Errorf("refresh token = %q, want %q", pair.RefreshToken, tt.wantRefresh)
			}
		})
	}
}

func TestRefreshTokensRequiresToken(t *testing.T) {
	auth := newTestAuth("", "")
	if _, err := auth.RefreshTokens(context.Background(), ""); err == nil {
		t.Error("RefreshTokens(\"\") expected error, got nil")
	}
}

func TestTokenEndpointErrors(t *testing.T) {
	tests := []struct {
		name            string
		status          int
		body            string
		wantCode        string
		wantRetriable   bool
		wantInvalidGrnt bool
	}{
		{"invalid_grant", http.StatusBadRequest, `{"error":"invalid_grant","error_description":"revoked"}`, "invalid_grant", false, true},
		{"invalid_request", http.StatusBadRequest, `{"error":"invalid_request"}`, "invalid_request", false, false},
		{"server error", http.StatusInternalServerError, `oops`, "", true, false},
		{"unavailable", http.StatusServiceUnavailable, `{"error":"temporarily_unavailable"}`, "temporarily_unavailable", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			auth := newTestAuth(server.URL, "")
			_, err := auth.RefreshTokens(context.Background(), "RT1")
			var oauthErr *OAuthError
			if !errors.As(err, &oauthErr) {
				t.Fatalf("error = %v, want *OAuthError", err)
			}
			if oauthErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", oauthErr.StatusCode, tt.status)
			}
			if oauthErr.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", oauthErr.Code, tt.wantCode)
			}
			if oauthErr.Retriable() != tt.wantRetriable {
				t.Errorf("Retriable() = %v, want %v", oauthErr.Retriable(), tt.wantRetriable)
			}
			if oauthErr.InvalidGrant() != tt.wantInvalidGrnt {
				t.Errorf("InvalidGrant() = %v, want %v", oauthErr.InvalidGrant(), tt.wantInvalidGrnt)
			}
		})
	}
}

func TestRefreshTokensWithRetryStopsOnInvalidGrant(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer server.Close()

	auth := newTestAuth(server.URL, "")
	_, err := auth.RefreshTokensWithRetry(context.Background(), "RT1", 3)
	var oauthErr *OAuthError
	if !errors.As(err, &oauthErr) || !oauthErr.InvalidGrant() {
		t.Fatalf("error = %v, want invalid_grant", err)
	}
	if calls != 1 {
		t.Errorf("token endpoint called %d times, want 1 (no retry on invalid_grant)", calls)
	}
}

func TestRefreshTokensWithRetryRecoversFromServerError(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"AT2","refresh_token":"RT2","token_type":"bearer","expires_in":7200}`))
	}))
	defer server.Close()

	auth := newTestAuth(server.URL, "")
	pair, err := auth.RefreshTokensWithRetry(context.Background(), "RT1", 3)
	if err != nil {
		t.Fatalf("RefreshTokensWithRetry() error = %v", err)
	}
	if pair.AccessToken != "AT2" {
		t.Errorf("access token = %q, want AT2", pair.AccessToken)
	}
	if calls != 2 {
		t.Errorf("token endpoint called %d times, want 2", calls)
	}
}

func TestFetchUserInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer AT1" {
			t.Errorf("Authorization = %q, want Bearer AT1", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":"1","name":"Some User","username":"someuser"}}`))
	}))
	defer server.Close()

	auth := newTestAuth("", server.URL)
	handle, err := auth.FetchUserInfo(context.Background(), "AT1")
	if err != nil {
		t.Fatalf("FetchUserInfo() error = %v", err)
	}
	if handle != "someuser" {
		t.Errorf("handle = %q, want someuser", handle)
	}
}

func TestFetchUserInfoFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	auth := newTestAuth("", server.URL)
	if _, err := auth.FetchUserInfo(context.Background(), "AT1"); err == nil {
		t.Error("FetchUserInfo() expected error on 401, got nil")
	}
}
