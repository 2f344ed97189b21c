// Package xapi is a thin client for the X API v2 tweet endpoint. It is a
// caller of the auth manager's access tokens and knows nothing about how
// they are obtained or refreshed.
package xapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/post-for-me/XPostCLI/internal/config"
	"github.com/post-for-me/XPostCLI/internal/util"
)

// TweetsURL is the X API v2 tweet creation endpoint.
const TweetsURL = "https://api.x.com/2/tweets"

// Tweet describes a posted tweet.
type Tweet struct {
	// ID is the platform identifier of the created tweet.
	ID string
	// Text is the tweet content as accepted by the platform.
	Text string
}

// Client posts tweets against the X API v2.
type Client struct {
	httpClient *http.Client

	// APITweetsURL is the tweet endpoint, overridable in tests.
	APITweetsURL string
}

// NewClient creates an X API client carrying the configured proxy settings
// and request timeout.
func NewClient(cfg *config.Config) *Client {
	timeout := time.Duration(config.DefaultRequestTimeoutSeconds) * time.Second
	if cfg != nil {
		timeout = time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	}
	return &Client{
		httpClient:   util.SetProxy(cfg, &http.Client{Timeout: timeout}),
		APITweetsURL: TweetsURL,
	}
}

// PostTweet posts a text tweet using the given OAuth 2.0 access token.
// Platform error messages are extracted from the response body so the caller
// can present them directly.
func (c *Client) PostTweet(ctx context.Context, accessToken, text string) (*Tweet, error) {
	body, err := sjson.SetBytes([]byte(`{}`), "text", text)
	if err != nil {
		return nil, fmt.Errorf("failed to build tweet body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APITweetsURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create tweet request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tweet request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tweet response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to post tweet: %s", extractAPIError(respBody, resp.StatusCode))
	}

	result := gjson.GetBytes(respBody, "data")
	tweet := &Tweet{
		ID:   result.Get("id").String(),
		Text: result.Get("text").String(),
	}
	if tweet.ID == "" {
		return nil, fmt.Errorf("tweet response contained no id")
	}
	return tweet, nil
}

// extractAPIError pulls the most descriptive message out of an X API error
// body, falling back to the HTTP status.
func extractAPIError(body []byte, statusCode int) string {
	if msg := gjson.GetBytes(body, "errors.0.message").String(); msg != "" {
		return msg
	}
	if msg := gjson.GetBytes(body, "detail").String(); msg != "" {
		return msg
	}
	if msg := gjson.GetBytes(body, "title").String(); msg != "" {
		return msg
	}
	return fmt.Sprintf("status %d", statusCode)
}

// TweetURL builds the public URL for a posted tweet.
func TweetURL(handle, tweetID string) string {
	if handle == "" {
		handle = "i"
	}
	return fmt.Sprintf("https://x.com/%s/status/%s", handle, tweetID)
}
