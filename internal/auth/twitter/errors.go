package twitter

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// OAuthError represents a non-success response from the token endpoint.
type OAuthError struct {
	// Code is the OAuth error code reported in the response body, e.g.
	// "invalid_grant" or "invalid_request".
	Code string `json:"error"`
	// Description is a human-readable description of the error.
	Description string `json:"error_description,omitempty"`
	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"-"`
}

// Error returns a string representation of the OAuth error.
func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("OAuth error %s: %s", e.Code, e.Description)
	}
	if e.Code != "" {
		return fmt.Sprintf("OAuth error: %s", e.Code)
	}
	return fmt.Sprintf("OAuth error: status %d", e.StatusCode)
}

// Retriable reports whether the failure may succeed on retry. Server-side
// failures are retriable; 4xx responses mean the request itself is bad
// (expired code, reused code, revoked refresh token) and never succeed again.
func (e *OAuthError) Retriable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == 0
}

// InvalidGrant reports whether the endpoint rejected the grant outright.
// On a refresh this means the refresh token was revoked or rotated out and
// the session is unrecoverable.
func (e *OAuthError) InvalidGrant() bool {
	return e.Code == "invalid_grant"
}

// newOAuthError builds an OAuthError from a token endpoint response body.
// The body is parsed leniently; an unparseable body still yields a usable
// error carrying the HTTP status.
func newOAuthError(statusCode int, body []byte) *OAuthError {
	return &OAuthError{
		Code:        gjson.GetBytes(body, "error").String(),
		Description: gjson.GetBytes(body, "error_description").String(),
		StatusCode:  statusCode,
	}
}

// AuthenticationError represents authentication-related errors.
type AuthenticationError struct {
	// Type is the type of authentication error.
	Type string `json:"type"`
	// Message is a human-readable message describing the error.
	Message string `json:"message"`
	// Code is the HTTP status code associated with the error.
	Code int `json:"code"`
	// Cause is the underlying error that caused this authentication error.
	Cause error `json:"-"`
}

// Error returns a string representation of the authentication error.
func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *AuthenticationError) Unwrap() error {
	return e.Cause
}

// Common authentication error types.
var (
	// ErrNotAuthenticated indicates no usable credentials are stored; only
	// user action (running auth again) can resolve it.
	ErrNotAuthenticated = &AuthenticationError{
		Type:    "not_authenticated",
		Message: "Not authenticated",
		Code:    http.StatusUnauthorized,
	}

	// ErrInvalidState represents a callback whose state parameter does not
	// match the outstanding flow state.
	ErrInvalidState = &AuthenticationError{
		Type:    "invalid_state",
		Message: "OAuth state parameter is invalid",
		Code:    http.StatusBadRequest,
	}

	// ErrCodeExchangeFailed represents an error when exchanging the
	// authorization code for tokens fails.
	ErrCodeExchangeFailed = &AuthenticationError{
		Type:    "code_exchange_failed",
		Message: "Failed to exchange authorization code for tokens",
		Code:    http.StatusBadRequest,
	}

	// ErrServerStartFailed represents an error when starting the OAuth
	// callback server fails.
	ErrServerStartFailed = &AuthenticationError{
		Type:    "server_start_failed",
		Message: "Failed to start OAuth callback server",
		Code:    http.StatusInternalServerError,
	}

	// ErrPortInUse represents an error when the OAuth callback port is
	// already in use. Not retried automatically: another process holds it.
	ErrPortInUse = &AuthenticationError{
		Type:    "port_in_use",
		Message: "OAuth callback port is already in use",
		Code:    13, // Special exit code for port-in-use
	}

	// ErrCallbackTimeout represents an error when waiting for the OAuth
	// callback times out.
	ErrCallbackTimeout = &AuthenticationError{
		Type:    "callback_timeout",
		Message: "Timeout waiting for OAuth callback",
		Code:    http.StatusRequestTimeout,
	}

	// ErrFlowAborted represents a callback that arrived but could not be
	// accepted, e.g. the provider reported an error or the code was missing.
	ErrFlowAborted = &AuthenticationError{
		Type:    "flow_aborted",
		Message: "Authorization flow was aborted",
		Code:    http.StatusBadRequest,
	}

	// ErrInvalidRefreshToken marks a refresh rejected with invalid_grant.
	// Fatal to the session: the stored token pair must be cleared.
	ErrInvalidRefreshToken = &AuthenticationError{
		Type:    "invalid_refresh_token",
		Message: "Refresh token was rejected; re-authentication is required",
		Code:    http.StatusUnauthorized,
	}

	// ErrStorageFailure represents a filesystem error while persisting or
	// removing credential records.
	ErrStorageFailure = &AuthenticationError{
		Type:    "storage_failure",
		Message: "Failed to access credential storage",
		Code:    http.StatusInternalServerError,
	}
)

// NewAuthenticationError creates a new authentication error with a cause based on a base error.
func NewAuthenticationError(baseErr *AuthenticationError, cause error) *AuthenticationError {
	return &AuthenticationError{
		Type:    baseErr.Type,
		Message: baseErr.Message,
		Code:    baseErr.Code,
		Cause:   cause,
	}
}

// IsAuthenticationError checks if an error is an authentication error.
func IsAuthenticationError(err error) bool {
	var authenticationError *AuthenticationError
	return errors.As(err, &authenticationError)
}

// IsAuthenticationErrorType checks whether err is an authentication error of
// the same type as base.
func IsAuthenticationErrorType(err error, base *AuthenticationError) bool {
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		return false
	}
	return authErr.Type == base.Type
}

// IsOAuthError checks if an error is an OAuth error.
func IsOAuthError(err error) bool {
	var oAuthError *OAuthError
	return errors.As(err, &oAuthError)
}

// GetUserFriendlyMessage returns a user-friendly error message based on the error type.
func GetUserFriendlyMessage(err error) string {
	switch {
	case IsAuthenticationError(err):
		var authErr *AuthenticationError
		errors.As(err, &authErr)
		switch authErr.Type {
		case "not_authenticated":
			return "Not authenticated. Run 'xpost -auth' first."
		case "invalid_refresh_token":
			return "Your session has expired. Run 'xpost -auth' to log in again."
		case "port_in_use":
			return "The OAuth callback port is already in use. Close the application holding it and try again."
		case "callback_timeout":
			return "Authentication timed out. Please try again."
		case "flow_aborted":
			return "Authorization was cancelled or denied."
		case "invalid_state":
			return "The authorization response did not match this login attempt. Please try again."
		case "storage_failure":
			return "Could not read or write stored credentials. Check permissions on the credential directory."
		default:
			return "Authentication failed. Please try again."
		}
	case IsOAuthError(err):
		var oauthErr *OAuthError
		errors.As(err, &oauthErr)
		switch oauthErr.Code {
		case "invalid_grant":
			return "Your session has expired. Run 'xpost -auth' to log in again."
		case "access_denied":
			return "Authentication was cancelled or denied."
		case "invalid_request":
			return "Invalid authentication request. Please try again."
		default:
			return fmt.Sprintf("Authentication failed: %s", oauthErr.Error())
		}
	default:
		return "An unexpected error occurred. Please try again."
	}
}
