package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/post-for-me/XPostCLI/internal/auth/twitter"
	"github.com/post-for-me/XPostCLI/internal/config"
	"github.com/post-for-me/XPostCLI/internal/credstore"
)

// tokenEndpoint is a scripted stand-in for the X token and user info APIs.
type tokenEndpoint struct {
	server       *httptest.Server
	tokenCalls   atomic.Int64
	refreshCalls atomic.Int64

	mu            sync.Mutex
	nextAccess    string
	nextRefresh   string
	refreshStatus int
	refreshBody   string
}

func newTokenEndpoint(t *testing.T) *tokenEndpoint {
	t.Helper()
	te := &tokenEndpoint{nextAccess: "AT1", nextRefresh: "RT1"}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", te.handleToken)
	mux.HandleFunc("/users/me", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":"1","username":"someuser"}}`))
	})
	te.server = httptest.NewServer(mux)
	t.Cleanup(te.server.Close)
	return te
}

func (te *tokenEndpoint) handleToken(w http.ResponseWriter, r *http.Request) {
	te.tokenCalls.Add(1)
	_ = r.ParseForm()

	te.mu.Lock()
	defer te.mu.Unlock()

	if r.PostForm.Get("grant_type") == "refresh_token" {
		te.refreshCalls.Add(1)
		if te.refreshStatus != 0 {
			w.WriteHeader(te.refreshStatus)
			_, _ = w.Write([]byte(te.refreshBody))
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w,
		`{"access_token":%q,"refresh_token":%q,"token_type":"bearer","expires_in":7200,"scope":"tweet.read tweet.write users.read offline.access"}`,
		te.nextAccess, te.nextRefresh)
}

func (te *tokenEndpoint) scriptRefreshFailure(status int, body string) {
	te.mu.Lock()
	te.refreshStatus = status
	te.refreshBody = body
	te.mu.Unlock()
}

func (te *tokenEndpoint) scriptNextPair(access, refresh string) {
	te.mu.Lock()
	te.nextAccess = access
	te.nextRefresh = refresh
	te.mu.Unlock()
}

func testPort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	_ = listener.Close()
	return port
}

// newTestManager wires a manager against the scripted endpoint with the
// browser and clock replaced by test doubles.
func newTestManager(t *testing.T, te *tokenEndpoint) (*Manager, *credstore.Store, *config.Config) {
	t.Helper()
	cfg := &config.Config{
		CredentialsDir:        t.TempDir(),
		CallbackPort:          testPort(t),
		AuthTimeoutSeconds:    5,
		RefreshSkewSeconds:    60,
		RefreshRetries:        1,
		RequestTimeoutSeconds: 5,
	}
	cfg.SetDefaults()

	store := credstore.NewStore(cfg.CredentialsDir)
	manager := NewManager(cfg, store)
	manager.newAuthService = func(identity *credstore.ClientIdentity) *twitter.TwitterAuth {
		svc := twitter.NewTwitterAuth(cfg, identity)
		svc.TokenURL = te.server.URL + "/oauth2/token"
		svc.UserInfoURL = te.server.URL + "/users/me"
		return svc
	}
	// Tests that run a login replace openURL; everything else must not
	// touch a browser.
	manager.openURL = func(string) error {
		t.Error("unexpected browser open")
		return nil
	}
	return manager, store, cfg
}

func saveClientIdentity(t *testing.T, store *credstore.Store) {
	t.Helper()
	err := store.Save(credstore.KindClientIdentity, &credstore.ClientIdentity{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	})
	if err != nil {
		t.Fatalf("failed to seed client identity: %v", err)
	}
}

// approveLogin plays the user: when the browser would open, it parses the
// authorization URL and fires the redirect back at the local listener.
func approveLogin(t *testing.T, manager *Manager, cfg *config.Config, code string) {
	t.Helper()
	manager.openURL = func(authURL string) error {
		parsed, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		state := parsed.Query().Get("state")
		go func() {
			resp, errGet := http.Get(fmt.Sprintf("http://localhost:%d/callback?code=%s&state=%s",
				cfg.CallbackPort, url.QueryEscape(code), url.QueryEscape(state)))
			if errGet == nil {
				_ = resp.Body.Close()
			}
		}()
		return nil
	}
}

func TestLoginFlow(t *testing.T) {
	te := newTokenEndpoint(t)
	manager, store, cfg := newTestManager(t, te)
	saveClientIdentity(t, store)
	approveLogin(t, manager, cfg, "auth-code")

	result, err := manager.Login(context.Background(), nil)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if result.Handle != "someuser" {
		t.Errorf("result.Handle = %q, want someuser", result.Handle)
	}
	if len(result.Scopes) != 4 {
		t.Errorf("result.Scopes = %v, want the four granted scopes", result.Scopes)
	}

	pair, err := store.TokenPair()
	if err != nil {
		t.Fatalf("TokenPair() after login error = %v", err)
	}
	if pair.AccessToken != "AT1" || pair.RefreshToken != "RT1" {
		t.Errorf("stored pair = %q/%q, want AT1/RT1", pair.AccessToken, pair.RefreshToken)
	}
	if pair.Handle != "someuser" {
		t.Errorf("stored handle = %q, want someuser", pair.Handle)
	}

	// The flow state is single-use and must be cleared on completion.
	if _, err = store.FlowState(); !errors.Is(err, credstore.ErrNotFound) {
		t.Errorf("FlowState() after login error = %v, want ErrNotFound", err)
	}
}

func TestLoginWithoutClientIdentity(t *testing.T) {
	te := newTokenEndpoint(t)
	manager, _, _ := newTestManager(t, te)

	_, err := manager.Login(context.Background(), nil)
	if !twitter.IsAuthenticationErrorType(err, twitter.ErrNotAuthenticated) {
		t.Errorf("Login() error = %v, want not authenticated", err)
	}
}

func TestLoginDeniedByUser(t *testing.T) {
	te := newTokenEndpoint(t)
	manager, store, cfg := newTestManager(t, te)
	saveClientIdentity(t, store)

	manager.openURL = func(string) error {
		go func() {
			resp, err := http.Get(fmt.Sprintf("http://localhost:%d/callback?error=access_denied", cfg.CallbackPort))
			if err == nil {
				_ = resp.Body.Close()
			}
		}()
		return nil
	}

	_, err := manager.Login(context.Background(), nil)
	if !twitter.IsAuthenticationErrorType(err, twitter.ErrFlowAborted) {
		t.Fatalf("Login() error = %v, want flow aborted", err)
	}
	if _, err = store.TokenPair(); !errors.Is(err, credstore.ErrNotFound) {
		t.Errorf("token pair stored after denied login")
	}
	if _, err = store.FlowState(); !errors.Is(err, credstore.ErrNotFound) {
		t.Errorf("flow state not cleared after denied login")
	}
}

func TestLoginTimeout(t *testing.T) {
	te := newTokenEndpoint(t)
	manager, store, cfg := newTestManager(t, te)
	saveClientIdentity(t, store)
	cfg.AuthTimeoutSeconds = 1

	// The browser opens but the user never completes authorization.
	manager.openURL = func(string) error { return nil }

	start := time.Now()
	_, err := manager.Login(context.Background(), nil)
	if !twitter.IsAuthenticationErrorType(err, twitter.ErrCallbackTimeout) {
		t.Fatalf("Login() error = %v, want callback timeout", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("timeout took %s, want about 1s", elapsed)
	}

	// The port must be free again for the next attempt.
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", cfg.CallbackPort))
	if err != nil {
		t.Fatalf("callback port not released after timeout: %v", err)
	}
	_ = listener.Close()
}

func TestLoginSingleOutstandingAttempt(t *testing.T) {
	te := newTokenEndpoint(t)
	manager, store, _ := newTestManager(t, te)
	saveClientIdentity(t, store)

	if !manager.beginLogin() {
		t.Fatal("beginLogin() failed with no login outstanding")
	}
	defer manager.endLogin()

	_, err := manager.Login(context.Background(), nil)
	if !errors.Is(err, ErrLoginInProgress) {
		t.Errorf("Login() error = %v, want ErrLoginInProgress", err)
	}
}

func seedTokenPair(t *testing.T, store *credstore.Store, expiresIn time.Duration) {
	t.Helper()
	now := time.Now()
	err := store.Save(credstore.KindTokenPair, &credstore.TokenPair{
		AccessToken:  "AT1",
		RefreshToken: "RT1",
		TokenType:    "bearer",
		Scope:        "tweet.read tweet.write users.read offline.access",
		ExpiresAt:    now.Add(expiresIn).Format(time.RFC3339),
		LastRefresh:  now.Format(time.RFC3339),
		Handle:       "someuser",
	})
	if err != nil {
		t.Fatalf("failed to seed token pair: %v", err)
	}
}

func TestEnsureValidAccessTokenFresh(t *testing.T) {
	te := newTokenEndpoint(t)
	manager, store, _ := newTestManager(t, te)
	saveClientIdentity(t, store)
	seedTokenPair(t, store, 2*time.Hour)

	token, err := manager.EnsureValidAccessToken(context.Background())
	if err != nil {
		t.Fatalf("EnsureValidAccessToken() error = %v", err)
	}
	if token != "AT1" {
		t.Errorf("token = %q, want AT1", token)
	}
	if calls := te.tokenCalls.Load(); calls != 0 {
		t.Errorf("token endpoint called %d times for a fresh token, want 0", calls)
	}
}

func TestEnsureValidAccessTokenRefreshesAndRotates(t *testing.T) {
	te := newTokenEndpoint(t)
	manager, store, _ := newTestManager(t, te)
	saveClientIdentity(t, store)
	seedTokenPair(t, store, 30*time.Second) // inside the 60s skew margin
	te.scriptNextPair("AT2", "RT2")

	token, err := manager.EnsureValidAccessToken(context.Background())
	if err != nil {
		t.Fatalf("EnsureValidAccessToken() error = %v", err)
	}
	if token != "AT2" {
		t.Errorf("token = %q, want the refreshed AT2", token)
	}

	pair, err := store.TokenPair()
	if err != nil {
		t.Fatalf("TokenPair() error = %v", err)
	}
	if pair.RefreshToken != "RT2" {
		t.Errorf("stored refresh token = %q, want the rotated RT2", pair.RefreshToken)
	}
	if pair.Handle != "someuser" {
		t.Errorf("handle = %q, want someuser carried across the refresh", pair.Handle)
	}
}

func TestEnsureValidAccessTokenConcurrentSingleRefresh(t *testing.T) {
	te := newTokenEndpoint(t)
	manager, store, _ := newTestManager(t, te)
	saveClientIdentity(t, store)
	seedTokenPair(t, store, -time.Minute)
	te.scriptNextPair("AT2", "RT2")

	const callers = 16
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = manager.EnsureValidAccessToken(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d error = %v", i, errs[i])
		}
		if tokens[i] != "AT2" {
			t.Errorf("caller %d token = %q, want AT2", i, tokens[i])
		}
	}
	if calls := te.refreshCalls.Load(); calls != 1 {
		t.Errorf("refresh endpoint called %d times by %d concurrent callers, want 1", calls, callers)
	}
}

func TestEnsureValidAccessTokenInvalidGrant(t *testing.T) {
	te := newTokenEndpoint(t)
	manager, store, _ := newTestManager(t, te)
	saveClientIdentity(t, store)
	seedTokenPair(t, store, -time.Minute)
	te.scriptRefreshFailure(http.StatusBadRequest, `{"error":"invalid_grant","error_description":"revoked"}`)

	_, err := manager.EnsureValidAccessToken(context.Background())
	if !twitter.IsAuthenticationErrorType(err, twitter.ErrNotAuthenticated) {
		t.Fatalf("EnsureValidAccessToken() error = %v, want not authenticated", err)
	}

	// The rejected pair must be gone so the next attempt starts clean.
	if _, err = os.Stat(store.Path(credstore.KindTokenPair)); !os.IsNotExist(err) {
		t.Error("token pair file still present after invalid_grant")
	}
	// The client identity survives.
	if _, err = store.ClientIdentity(); err != nil {
		t.Errorf("client identity lost after invalid_grant: %v", err)
	}
}

func TestEnsureValidAccessTokenWithoutTokens(t *testing.T) {
	te := newTokenEndpoint(t)
	manager, _, _ := newTestManager(t, te)

	_, err := manager.EnsureValidAccessToken(context.Background())
	if !twitter.IsAuthenticationErrorType(err, twitter.ErrNotAuthenticated) {
		t.Errorf("EnsureValidAccessToken() error = %v, want not authenticated", err)
	}
}

func TestLogoutPreservesClientIdentity(t *testing.T) {
	te := newTokenEndpoint(t)
	manager, store, _ := newTestManager(t, te)
	saveClientIdentity(t, store)
	seedTokenPair(t, store, 2*time.Hour)

	if err := manager.Logout(); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := store.TokenPair(); !errors.Is(err, credstore.ErrNotFound) {
		t.Errorf("token pair present after logout")
	}
	if _, err := store.ClientIdentity(); err != nil {
		t.Errorf("client identity lost on logout: %v", err)
	}

	// Logout with nothing stored is not an error.
	if err := manager.Logout(); err != nil {
		t.Errorf("second Logout() error = %v, want nil", err)
	}
}

func TestLoginMedia(t *testing.T) {
	te := newTokenEndpoint(t)
	manager, _, _ := newTestManager(t, te)

	err := manager.LoginMedia(&credstore.MediaCredentials{ConsumerKey: "ck"})
	if err == nil {
		t.Error("LoginMedia() with incomplete set expected error, got nil")
	}
	if manager.HasMediaCredentials() {
		t.Error("HasMediaCredentials() = true after rejected set")
	}

	err = manager.LoginMedia(&credstore.MediaCredentials{
		ConsumerKey: "ck", ConsumerSecret: "cs", AccessToken: "at", AccessTokenSecret: "ats",
	})
	if err != nil {
		t.Fatalf("LoginMedia() error = %v", err)
	}
	if !manager.HasMediaCredentials() {
		t.Error("HasMediaCredentials() = false after storing a full set")
	}

	if err = manager.LogoutMedia(); err != nil {
		t.Fatalf("LogoutMedia() error = %v", err)
	}
	if manager.HasMediaCredentials() {
		t.Error("HasMediaCredentials() = true after LogoutMedia()")
	}
}

func TestStatus(t *testing.T) {
	te := newTokenEndpoint(t)
	manager, store, _ := newTestManager(t, te)

	status := manager.Status()
	if status.Authenticated || status.ClientConfigured || status.MediaConfigured {
		t.Errorf("empty store status = %+v, want all false", status)
	}

	saveClientIdentity(t, store)
	seedTokenPair(t, store, 2*time.Hour)

	status = manager.Status()
	if !status.ClientConfigured {
		t.Error("ClientConfigured = false with a stored identity")
	}
	if !status.Authenticated {
		t.Error("Authenticated = false with a stored pair")
	}
	if status.Handle != "someuser" {
		t.Errorf("Handle = %q, want someuser", status.Handle)
	}
	if !status.RefreshValid {
		t.Error("RefreshValid = false with a stored refresh token")
	}
	if calls := te.tokenCalls.Load(); calls != 0 {
		t.Errorf("Status() made %d network calls, want 0", calls)
	}
}

func TestSetupClient(t *testing.T) {
	te := newTokenEndpoint(t)
	manager, store, _ := newTestManager(t, te)

	if err := manager.SetupClient(&credstore.ClientIdentity{ClientID: "id"}); err == nil {
		t.Error("SetupClient() without secret expected error, got nil")
	}
	if err := manager.SetupClient(&credstore.ClientIdentity{ClientID: "id", ClientSecret: "secret"}); err != nil {
		t.Fatalf("SetupClient() error = %v", err)
	}
	identity, err := store.ClientIdentity()
	if err != nil {
		t.Fatalf("ClientIdentity() error = %v", err)
	}
	if identity.ClientID != "id" || identity.ClientSecret != "secret" {
		t.Errorf("stored identity = %+v", identity)
	}
}
