// Package auth orchestrates the end-to-end X authentication flows: the
// browser-based OAuth2 PKCE login, lazy access-token refresh with rotation,
// the out-of-band OAuth 1.0a media credential capture, and logout. It is the
// only surface external callers (the CLI and the relay server) consume.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/post-for-me/XPostCLI/internal/auth/twitter"
	"github.com/post-for-me/XPostCLI/internal/browser"
	"github.com/post-for-me/XPostCLI/internal/config"
	"github.com/post-for-me/XPostCLI/internal/credstore"
	"github.com/post-for-me/XPostCLI/internal/misc"
)

// flowStateTTL bounds how long an authorization attempt may stay outstanding.
const flowStateTTL = 10 * time.Minute

// ErrLoginInProgress is returned when a login is started while another
// authorization attempt is still outstanding in this process.
var ErrLoginInProgress = errors.New("auth: another login attempt is already in progress")

// LoginOptions captures knobs for the interactive login flow.
type LoginOptions struct {
	// NoBrowser suppresses opening the system browser; the URL is printed instead.
	NoBrowser bool
}

// LoginResult describes a completed login.
type LoginResult struct {
	// Handle is the authenticated username, empty if the lookup failed.
	Handle string
	// ExpiresAt is the absolute expiry of the obtained access token.
	ExpiresAt time.Time
	// Scopes are the granted capability strings.
	Scopes []string
}

// StatusInfo reports the stored credential state without any network call.
type StatusInfo struct {
	Authenticated    bool
	Handle           string
	ExpiresAt        time.Time
	Scopes           []string
	RefreshValid     bool
	ClientConfigured bool
	MediaConfigured  bool
}

// Manager coordinates the PKCE generator, the redirect listener, the token
// exchange client, and the credential store into the login and token
// lifecycle flows.
type Manager struct {
	cfg   *config.Config
	store *credstore.Store

	// refreshGroup collapses concurrent refresh attempts into a single
	// network call; the losers wait for the winner's result instead of
	// racing the rotation.
	refreshGroup singleflight.Group

	// loginMu guards the single outstanding authorization attempt.
	loginMu sync.Mutex
	loginIn bool

	// now and openURL are indirections for tests.
	now     func() time.Time
	openURL func(string) error

	// newAuthService builds the exchange client; tests substitute one with
	// endpoint URLs pointed at local mocks.
	newAuthService func(*credstore.ClientIdentity) *twitter.TwitterAuth
}

// NewManager constructs a manager over the given configuration and store.
func NewManager(cfg *config.Config, store *credstore.Store) *Manager {
	m := &Manager{
		cfg:     cfg,
		store:   store,
		now:     time.Now,
		openURL: browser.OpenURL,
	}
	m.newAuthService = func(identity *credstore.ClientIdentity) *twitter.TwitterAuth {
		return twitter.NewTwitterAuth(cfg, identity)
	}
	return m
}

// SetupClient stores the OAuth2 client identity. It is called by the CLI
// before the first login and is the only writer of that record.
func (m *Manager) SetupClient(identity *credstore.ClientIdentity) error {
	if !identity.Complete() {
		return fmt.Errorf("auth: client id and client secret are both required")
	}
	if err := m.store.Save(credstore.KindClientIdentity, identity); err != nil {
		return twitter.NewAuthenticationError(twitter.ErrStorageFailure, err)
	}
	misc.LogSavingCredentials(m.store.Path(credstore.KindClientIdentity))
	return nil
}

// Login runs the complete browser-based OAuth2 PKCE flow: generate a PKCE
// pair and CSRF state, persist the flow state, open the authorization URL,
// capture the redirect, exchange the code, and persist the token pair.
// Every terminal path clears the flow state; a half-written token pair is
// never left behind.
func (m *Manager) Login(ctx context.Context, opts *LoginOptions) (*LoginResult, error) {
	if opts == nil {
		opts = &LoginOptions{}
	}
	if !m.beginLogin() {
		return nil, ErrLoginInProgress
	}
	defer m.endLogin()

	identity, err := m.store.ClientIdentity()
	if err != nil {
		if errors.Is(err, credstore.ErrNotFound) {
			return nil, twitter.NewAuthenticationError(twitter.ErrNotAuthenticated,
				fmt.Errorf("no client credentials configured"))
		}
		return nil, twitter.NewAuthenticationError(twitter.ErrStorageFailure, err)
	}

	pkceCodes, err := twitter.GeneratePKCECodes()
	if err != nil {
		return nil, fmt.Errorf("pkce generation failed: %w", err)
	}

	state, err := misc.GenerateRandomState()
	if err != nil {
		return nil, fmt.Errorf("state generation failed: %w", err)
	}

	// A new attempt invalidates any prior outstanding flow state.
	now := m.now()
	flow := &credstore.FlowState{
		State:     state,
		Verifier:  pkceCodes.CodeVerifier,
		CreatedAt: now.Format(time.RFC3339),
		ExpiresAt: now.Add(flowStateTTL).Format(time.RFC3339),
	}
	if err = m.store.Save(credstore.KindFlowState, flow); err != nil {
		return nil, twitter.NewAuthenticationError(twitter.ErrStorageFailure, err)
	}
	defer func() {
		if errClear := m.store.Delete(credstore.KindFlowState); errClear != nil {
			log.Warnf("failed to clear flow state: %v", errClear)
		}
	}()

	authSvc := m.newAuthService(identity)
	authURL, err := authSvc.GenerateAuthURL(state, pkceCodes)
	if err != nil {
		return nil, fmt.Errorf("authorization url generation failed: %w", err)
	}

	oauthServer := twitter.NewOAuthServer(m.cfg.CallbackPort, state)
	if err = oauthServer.Start(); err != nil {
		return nil, err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if stopErr := oauthServer.Stop(stopCtx); stopErr != nil {
			log.Warnf("oauth server stop error: %v", stopErr)
		}
	}()

	if opts.NoBrowser {
		fmt.Printf("Visit the following URL to continue authentication:\n%s\n", authURL)
	} else {
		fmt.Println("Opening browser for X authentication")
		if err = m.openURL(authURL); err != nil {
			log.Warnf("Failed to open browser automatically: %v", err)
			fmt.Printf("Visit the following URL to continue authentication:\n%s\n", authURL)
		}
	}

	fmt.Println("Waiting for authorization callback...")
	timeout := time.Duration(m.cfg.AuthTimeoutSeconds) * time.Second
	result, err := oauthServer.WaitForCallback(ctx, timeout)
	if err != nil {
		return nil, err
	}

	// The listener already matched the state; re-check against the stored
	// record so a stale or tampered flow state is rejected too.
	storedFlow, err := m.store.FlowState()
	if err != nil || storedFlow.State != result.State || storedFlow.ExpiredAt(m.now()) {
		return nil, twitter.NewAuthenticationError(twitter.ErrInvalidState,
			fmt.Errorf("callback did not match the outstanding login attempt"))
	}

	pair, err := authSvc.ExchangeCodeForTokensWithRetry(ctx, result.Code, pkceCodes, m.cfg.RefreshRetries)
	if err != nil {
		return nil, twitter.NewAuthenticationError(twitter.ErrCodeExchangeFailed, err)
	}

	// Identity lookup is informational only; failure never fails the login.
	if handle, errInfo := authSvc.FetchUserInfo(ctx, pair.AccessToken); errInfo == nil {
		pair.Handle = handle
	} else {
		log.Warnf("user info lookup failed: %v", errInfo)
	}

	if err = m.store.Save(credstore.KindTokenPair, pair); err != nil {
		return nil, twitter.NewAuthenticationError(twitter.ErrStorageFailure, err)
	}
	misc.LogSavingCredentials(m.store.Path(credstore.KindTokenPair))

	return &LoginResult{
		Handle:    pair.Handle,
		ExpiresAt: pair.ExpiryTime(),
		Scopes:    pair.Scopes(),
	}, nil
}

// EnsureValidAccessToken returns a valid access token, refreshing lazily when
// the stored token is within the skew margin of expiry. All causes that
// require the user to log in again collapse into ErrNotAuthenticated, so
// callers present one consistent message.
//
// Concurrent callers observing an expired token trigger exactly one network
// refresh; the rest wait for that result.
func (m *Manager) EnsureValidAccessToken(ctx context.Context) (string, error) {
	pair, err := m.loadValidPair()
	if err != nil {
		return "", err
	}

	skew := time.Duration(m.cfg.RefreshSkewSeconds) * time.Second
	if !pair.ExpiredAt(m.now(), skew) {
		return pair.AccessToken, nil
	}

	token, err, _ := m.refreshGroup.Do("refresh", func() (any, error) {
		return m.refreshLocked(ctx)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// refreshLocked is the critical section around check-refresh-persist. It
// re-reads the stored pair so a caller that lost the singleflight race
// observes the winner's result without another network call.
func (m *Manager) refreshLocked(ctx context.Context) (string, error) {
	pair, err := m.loadValidPair()
	if err != nil {
		return "", err
	}

	skew := time.Duration(m.cfg.RefreshSkewSeconds) * time.Second
	if !pair.ExpiredAt(m.now(), skew) {
		return pair.AccessToken, nil
	}

	identity, err := m.store.ClientIdentity()
	if err != nil {
		return "", twitter.NewAuthenticationError(twitter.ErrNotAuthenticated, err)
	}

	authSvc := m.newAuthService(identity)
	handle := pair.Handle
	newPair, err := authSvc.RefreshTokensWithRetry(ctx, pair.RefreshToken, m.cfg.RefreshRetries)
	if err != nil {
		var oauthErr *twitter.OAuthError
		if errors.As(err, &oauthErr) && oauthErr.InvalidGrant() {
			// The refresh token was revoked or rotated out. Retrying never
			// succeeds; clear the pair and force a fresh login.
			if errDel := m.store.Delete(credstore.KindTokenPair); errDel != nil {
				log.Errorf("failed to clear rejected token pair: %v", errDel)
			}
			return "", twitter.NewAuthenticationError(twitter.ErrNotAuthenticated,
				twitter.NewAuthenticationError(twitter.ErrInvalidRefreshToken, err))
		}
		return "", err
	}

	newPair.Handle = handle
	if err = m.store.Save(credstore.KindTokenPair, newPair); err != nil {
		return "", twitter.NewAuthenticationError(twitter.ErrStorageFailure, err)
	}

	log.WithField("expires", newPair.ExpiresAt).Debug("access token refreshed")
	return newPair.AccessToken, nil
}

// loadValidPair loads the stored token pair, collapsing absence and
// corruption into ErrNotAuthenticated.
func (m *Manager) loadValidPair() (*credstore.TokenPair, error) {
	pair, err := m.store.TokenPair()
	if err != nil {
		if errors.Is(err, credstore.ErrNotFound) {
			return nil, twitter.NewAuthenticationError(twitter.ErrNotAuthenticated, err)
		}
		return nil, twitter.NewAuthenticationError(twitter.ErrStorageFailure, err)
	}
	if !pair.Valid() {
		return nil, twitter.NewAuthenticationError(twitter.ErrNotAuthenticated,
			fmt.Errorf("stored token pair holds no access token"))
	}
	return pair, nil
}

// Logout deletes the token pair only. The client identity is preserved so a
// later login does not require re-entering client credentials.
func (m *Manager) Logout() error {
	if err := m.store.Delete(credstore.KindTokenPair); err != nil {
		return twitter.NewAuthenticationError(twitter.ErrStorageFailure, err)
	}
	if err := m.store.Delete(credstore.KindFlowState); err != nil {
		return twitter.NewAuthenticationError(twitter.ErrStorageFailure, err)
	}
	return nil
}

// LoginMedia captures the OAuth 1.0a media credential set. These credentials
// are issued out-of-band by the developer portal and simply stored, not
// negotiated; there is no refresh path for them.
func (m *Manager) LoginMedia(creds *credstore.MediaCredentials) error {
	if !creds.Complete() {
		return fmt.Errorf("auth: all four OAuth 1.0a credential fields are required")
	}
	if err := m.store.Save(credstore.KindMediaCredentials, creds); err != nil {
		return twitter.NewAuthenticationError(twitter.ErrStorageFailure, err)
	}
	misc.LogSavingCredentials(m.store.Path(credstore.KindMediaCredentials))
	return nil
}

// LogoutMedia deletes the OAuth 1.0a media credential set.
func (m *Manager) LogoutMedia() error {
	if err := m.store.Delete(credstore.KindMediaCredentials); err != nil {
		return twitter.NewAuthenticationError(twitter.ErrStorageFailure, err)
	}
	return nil
}

// Status reports the stored credential state without making a network call.
func (m *Manager) Status() *StatusInfo {
	info := &StatusInfo{}

	if identity, err := m.store.ClientIdentity(); err == nil && identity.Complete() {
		info.ClientConfigured = true
	}
	if media, err := m.store.MediaCredentials(); err == nil && media.Complete() {
		info.MediaConfigured = true
	}

	pair, err := m.store.TokenPair()
	if err != nil || !pair.Valid() {
		return info
	}
	info.Authenticated = true
	info.Handle = pair.Handle
	info.ExpiresAt = pair.ExpiryTime()
	info.Scopes = pair.Scopes()
	info.RefreshValid = pair.RefreshToken != ""
	return info
}

// HasMediaCredentials reports whether a complete OAuth 1.0a set is stored.
func (m *Manager) HasMediaCredentials() bool {
	media, err := m.store.MediaCredentials()
	return err == nil && media.Complete()
}

func (m *Manager) beginLogin() bool {
	m.loginMu.Lock()
	defer m.loginMu.Unlock()
	if m.loginIn {
		return false
	}
	m.loginIn = true
	return true
}

func (m *Manager) endLogin() {
	m.loginMu.Lock()
	m.loginIn = false
	m.loginMu.Unlock()
}
