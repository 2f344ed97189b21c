package twitter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// OAuthServer handles the local HTTP server for OAuth callbacks.
// It listens on the fixed redirect port for exactly one authorization
// redirect, validates it against the expected state, and hands the outcome
// to the waiting flow controller.
type OAuthServer struct {
	// server is the underlying HTTP server instance
	server *http.Server
	// listener holds the bound port for the server's lifetime
	listener net.Listener
	// port is the port number on which the server listens
	port int
	// expectedState is the CSRF state token this attempt must echo back
	expectedState string
	// resultChan is a channel for delivering the single callback outcome
	resultChan chan *OAuthResult
	// mu protects server state
	mu sync.Mutex
	// running indicates whether the server is currently running
	running bool
	// captured flips when the first redirect has been consumed; later
	// requests still get a page but never produce a second outcome
	captured bool
}

// OAuthResult contains the result of the OAuth callback.
// It holds either the authorization code and state for a successful capture
// or an error message describing why the redirect was rejected.
type OAuthResult struct {
	// Code is the authorization code received from the OAuth provider
	Code string
	// State is the state parameter echoed through the redirect
	State string
	// Error contains the rejection reason if the callback was not usable
	Error string
}

// NewOAuthServer creates a new OAuth callback server bound to the given port.
// The expected state is checked against every captured redirect.
func NewOAuthServer(port int, expectedState string) *OAuthServer {
	return &OAuthServer{
		port:          port,
		expectedState: expectedState,
		resultChan:    make(chan *OAuthResult, 1),
	}
}

// Start binds the callback port and begins serving. A failed bind surfaces
// as ErrPortInUse: another process likely holds the port, so the attempt is
// fatal rather than retried.
func (s *OAuthServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server is already running")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", s.port))
	if err != nil {
		return NewAuthenticationError(ErrPortInUse, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc(CallbackPath, s.handleCallback)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.running = true

	go func() {
		if errServe := s.server.Serve(listener); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			log.Debugf("oauth callback server stopped: %v", errServe)
		}
	}()

	return nil
}

// Stop gracefully stops the OAuth callback server and releases the port.
// It is safe to call on every terminal transition, including repeatedly.
func (s *OAuthServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}

	log.Debug("Stopping OAuth callback server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(shutdownCtx)
	s.running = false
	s.server = nil
	s.listener = nil

	return err
}

// WaitForCallback blocks until the single redirect arrives, the timeout
// elapses, or the context is cancelled. A rejected redirect is returned as
// ErrFlowAborted with the rejection reason; no redirect within the timeout
// is ErrCallbackTimeout.
func (s *OAuthServer) WaitForCallback(ctx context.Context, timeout time.Duration) (*OAuthResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-s.resultChan:
		if result.Error != "" {
			return nil, NewAuthenticationError(ErrFlowAborted, errors.New(result.Error))
		}
		return result, nil
	case <-timer.C:
		return nil, NewAuthenticationError(ErrCallbackTimeout, fmt.Errorf("no callback within %s", timeout))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleCallback handles the OAuth callback endpoint. The first request
// decides the outcome of the attempt; any further request (a second browser
// tab firing the callback again) receives a page but cannot change it.
func (s *OAuthServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	log.Debug("Received OAuth callback")

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	code := query.Get("code")
	state := query.Get("state")
	errorParam := query.Get("error")

	switch {
	case errorParam != "":
		reason := errorParam
		if desc := query.Get("error_description"); desc != "" {
			reason = fmt.Sprintf("%s: %s", errorParam, desc)
		}
		s.finish(&OAuthResult{Error: reason})
		s.writeFailurePage(w, reason)
	case code == "":
		s.finish(&OAuthResult{Error: "no authorization code received"})
		s.writeFailurePage(w, "No authorization code was received.")
	case state != s.expectedState:
		// Reject regardless of how well-formed the code is.
		s.finish(&OAuthResult{Error: "state mismatch"})
		s.writeFailurePage(w, "The authorization response did not match this login attempt.")
	default:
		s.finish(&OAuthResult{Code: code, State: state})
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(LoginSuccessHtml)); err != nil {
			log.Errorf("Failed to write success page: %v", err)
		}
	}
}

// writeFailurePage renders the failure page with the given reason.
func (s *OAuthServer) writeFailurePage(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	page := strings.Replace(LoginFailureHtml, "{{REASON}}", reason, 1)
	if _, err := w.Write([]byte(page)); err != nil {
		log.Errorf("Failed to write failure page: %v", err)
	}
}

// finish delivers the outcome exactly once.
func (s *OAuthServer) finish(result *OAuthResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.captured {
		log.Debug("Duplicate OAuth callback ignored")
		return
	}
	s.captured = true
	s.resultChan <- result
}

// IsRunning returns whether the server is currently running.
func (s *OAuthServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
