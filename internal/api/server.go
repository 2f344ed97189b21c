// Package api implements the tweet relay HTTP server. It exposes a small
// JSON API for posting tweets and inspecting authentication status, acting
// as a thin caller of the auth manager: every handler obtains its access
// token through EnsureValidAccessToken and nothing more.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/post-for-me/XPostCLI/internal/auth"
	"github.com/post-for-me/XPostCLI/internal/config"
	"github.com/post-for-me/XPostCLI/internal/xapi"
)

// Server is the tweet relay HTTP server.
type Server struct {
	cfg     *config.Config
	manager *auth.Manager
	client  *xapi.Client
	engine  *gin.Engine
	httpSrv *http.Server
}

// NewServer constructs the relay server over the given auth manager.
func NewServer(cfg *config.Config, manager *auth.Manager, client *xapi.Client) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	if cfg.RequestLog {
		engine.Use(requestLogMiddleware())
	}

	s := &Server{
		cfg:     cfg,
		manager: manager,
		client:  client,
		engine:  engine,
	}
	s.registerRoutes()
	return s
}

// registerRoutes wires the relay endpoints.
func (s *Server) registerRoutes() {
	s.engine.GET("/", s.handleRoot)
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/status", s.handleStatus)
	s.engine.POST("/tweet", s.handleTweet)
	s.engine.POST("/tweet-media", s.handleTweetMedia)
}

// Run starts the relay server and blocks until the context is cancelled or
// the listener fails.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("tweet relay server listening on %s", addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

// Handler exposes the underlying engine, used by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// requestLogMiddleware logs method, path, status, and latency for every
// request through logrus.
func requestLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithField("status", c.Writer.Status()).
			Infof("%s %s (%s)", c.Request.Method, c.Request.URL.Path, time.Since(start).Round(time.Millisecond))
	}
}
