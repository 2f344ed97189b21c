package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/post-for-me/XPostCLI/internal/auth/twitter"
	"github.com/post-for-me/XPostCLI/internal/media"
	"github.com/post-for-me/XPostCLI/internal/xapi"
)

// tweetRequest is the body for POST /tweet.
type tweetRequest struct {
	Text string `json:"text" binding:"required"`
}

// tweetMediaRequest is the body for POST /tweet-media.
type tweetMediaRequest struct {
	Text       string   `json:"text" binding:"required"`
	MediaPaths []string `json:"media_paths" binding:"required"`
}

// handleRoot serves a short self-description of the relay API.
func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name": "xpost relay server",
		"endpoints": gin.H{
			"GET /health":       "Health check",
			"GET /status":       "Authentication status",
			"POST /tweet":       "Post a text-only tweet",
			"POST /tweet-media": "Post a tweet with media",
		},
	})
}

// handleHealth is the health check endpoint.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// handleStatus reports the stored credential state. No network call is made.
func (s *Server) handleStatus(c *gin.Context) {
	info := s.manager.Status()
	if !info.Authenticated {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	var expires string
	if !info.ExpiresAt.IsZero() {
		expires = info.ExpiresAt.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, gin.H{
		"authenticated":    true,
		"username":         info.Handle,
		"token_expires_at": expires,
		"scopes":           info.Scopes,
		"refresh_valid":    info.RefreshValid,
	})
}

// handleTweet posts a text-only tweet.
func (s *Server) handleTweet(c *gin.Context) {
	var req tweetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	accessToken, err := s.manager.EnsureValidAccessToken(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": twitter.GetUserFriendlyMessage(err)})
		return
	}

	tweet, err := s.client.PostTweet(c.Request.Context(), accessToken, req.Text)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"tweet_id": tweet.ID,
		"text":     req.Text,
		"url":      xapi.TweetURL(s.manager.Status().Handle, tweet.ID),
	})
}

// handleTweetMedia validates a media tweet request. The media pipeline that
// performs the upload is intentionally not part of this server; the endpoint
// verifies the OAuth 1.0a credential set and the files so callers learn about
// misconfiguration immediately.
func (s *Server) handleTweetMedia(c *gin.Context) {
	var req tweetMediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text and media_paths are required"})
		return
	}

	if !s.manager.HasMediaCredentials() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "media credentials not configured; run 'xpost -auth-media' first"})
		return
	}

	if err := media.ValidateFiles(req.MediaPaths); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := s.manager.EnsureValidAccessToken(c.Request.Context()); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": twitter.GetUserFriendlyMessage(err)})
		return
	}

	c.JSON(http.StatusNotImplemented, gin.H{
		"error":       "media upload is not handled by this relay",
		"media_count": len(req.MediaPaths),
	})
}
