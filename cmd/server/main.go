// Package main provides the entry point for the XPost CLI.
// The binary drives the browser-based X (Twitter) OAuth2 PKCE login, the
// stored-credential lifecycle, direct tweet posting, and an optional local
// relay server that exposes the same operations over HTTP.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/post-for-me/XPostCLI/internal/api"
	"github.com/post-for-me/XPostCLI/internal/auth"
	"github.com/post-for-me/XPostCLI/internal/auth/twitter"
	"github.com/post-for-me/XPostCLI/internal/buildinfo"
	"github.com/post-for-me/XPostCLI/internal/config"
	"github.com/post-for-me/XPostCLI/internal/credstore"
	"github.com/post-for-me/XPostCLI/internal/logging"
	"github.com/post-for-me/XPostCLI/internal/media"
	"github.com/post-for-me/XPostCLI/internal/xapi"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = ""
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

// main parses command-line flags, loads configuration, and dispatches to the
// requested operation (login, logout, status, tweet, or relay server mode).
func main() {
	var doAuth bool
	var doAuthMedia bool
	var tweetText string
	var mediaPaths string
	var doStatus bool
	var doLogout bool
	var doLogoutMedia bool
	var doServe bool
	var listenAddr string
	var callbackPort int
	var noBrowser bool
	var showVersion bool
	var configPath string

	flag.BoolVar(&doAuth, "auth", false, "Run the browser-based X OAuth2 login")
	flag.BoolVar(&doAuthMedia, "auth-media", false, "Store OAuth 1.0a media credentials")
	flag.StringVar(&tweetText, "tweet", "", "Post a tweet with the given text")
	flag.StringVar(&mediaPaths, "media", "", "Comma-separated media file paths to attach (requires -tweet)")
	flag.BoolVar(&doStatus, "status", false, "Show stored credential status")
	flag.BoolVar(&doLogout, "logout", false, "Delete the stored token pair")
	flag.BoolVar(&doLogoutMedia, "logout-media", false, "Delete the stored media credentials")
	flag.BoolVar(&doServe, "serve", false, "Start the local tweet relay server")
	flag.StringVar(&listenAddr, "listen", "", "Relay server listen address, host:port (overrides config)")
	flag.IntVar(&callbackPort, "port", 0, "Override the OAuth callback port")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open the browser automatically for OAuth")
	flag.BoolVar(&showVersion, "version", false, "Print version information and exit")
	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configuration file path")
	flag.Parse()

	if showVersion {
		fmt.Printf("xpost version: %s, commit: %s, built at: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}

	// Load environment variables from .env if present.
	if wd, errWd := os.Getwd(); errWd == nil {
		if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
			if !errors.Is(errLoad, os.ErrNotExist) {
				log.WithError(errLoad).Warn("failed to load .env file")
			}
		}
	}

	if configPath == "" {
		home, errHome := os.UserHomeDir()
		if errHome == nil {
			configPath = filepath.Join(home, ".xpost", "config.yaml")
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Errorf("failed to load configuration: %v", err)
		os.Exit(1)
	}
	if callbackPort > 0 {
		cfg.CallbackPort = callbackPort
	}
	if listenAddr != "" {
		host, port, errAddr := splitListenAddr(listenAddr)
		if errAddr != nil {
			log.Errorf("invalid -listen address %q: %v", listenAddr, errAddr)
			os.Exit(1)
		}
		cfg.Server.Host = host
		cfg.Server.Port = port
	}
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.WithError(err).Warn("failed to configure log output, continuing on stdout")
	}

	credsDir, err := cfg.ResolveCredentialsDir()
	if err != nil {
		log.Errorf("failed to resolve credentials directory: %v", err)
		os.Exit(1)
	}
	store := credstore.NewStore(credsDir)
	manager := auth.NewManager(cfg, store)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch {
	case doAuth:
		runAuth(ctx, manager, store, noBrowser)
	case doAuthMedia:
		runAuthMedia(manager)
	case doLogout:
		if err = manager.Logout(); err != nil {
			exitWithAuthError(err)
		}
		fmt.Println("Logged out. Client credentials are kept; run 'xpost -auth' to log in again.")
	case doLogoutMedia:
		if err = manager.LogoutMedia(); err != nil {
			exitWithAuthError(err)
		}
		fmt.Println("Media credentials removed.")
	case doStatus:
		printStatus(manager)
	case tweetText != "":
		runTweet(ctx, cfg, manager, tweetText, mediaPaths)
	case doServe:
		srv := api.NewServer(cfg, manager, xapi.NewClient(cfg))
		if err = srv.Run(ctx); err != nil {
			log.Errorf("relay server failed: %v", err)
			os.Exit(1)
		}
	default:
		flag.Usage()
	}
}

// runAuth executes the interactive login, prompting for the OAuth2 client
// identity first if none is stored yet.
func runAuth(ctx context.Context, manager *auth.Manager, store *credstore.Store, noBrowser bool) {
	if _, err := store.ClientIdentity(); err != nil {
		if !errors.Is(err, credstore.ErrNotFound) {
			exitWithAuthError(err)
		}
		identity, errPrompt := promptClientIdentity()
		if errPrompt != nil {
			log.Errorf("failed to read client credentials: %v", errPrompt)
			os.Exit(1)
		}
		if errSetup := manager.SetupClient(identity); errSetup != nil {
			exitWithAuthError(errSetup)
		}
	}

	result, err := manager.Login(ctx, &auth.LoginOptions{NoBrowser: noBrowser})
	if err != nil {
		exitWithAuthError(err)
	}
	if result.Handle != "" {
		fmt.Printf("Authenticated as @%s\n", result.Handle)
	} else {
		fmt.Println("Authenticated.")
	}
	fmt.Printf("Access token expires at %s\n", result.ExpiresAt.Format("2006-01-02 15:04:05"))
}

// runAuthMedia prompts for the four OAuth 1.0a values and stores them.
func runAuthMedia(manager *auth.Manager) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Println("Enter the OAuth 1.0a credentials from the X developer portal.")
	creds := &credstore.MediaCredentials{}
	var err error
	if creds.ConsumerKey, err = promptLine(reader, "Consumer key (API key): "); err != nil {
		log.Errorf("failed to read input: %v", err)
		os.Exit(1)
	}
	if creds.ConsumerSecret, err = promptLine(reader, "Consumer secret (API secret): "); err != nil {
		log.Errorf("failed to read input: %v", err)
		os.Exit(1)
	}
	if creds.AccessToken, err = promptLine(reader, "Access token: "); err != nil {
		log.Errorf("failed to read input: %v", err)
		os.Exit(1)
	}
	if creds.AccessTokenSecret, err = promptLine(reader, "Access token secret: "); err != nil {
		log.Errorf("failed to read input: %v", err)
		os.Exit(1)
	}
	if err = manager.LoginMedia(creds); err != nil {
		exitWithAuthError(err)
	}
	fmt.Println("Media credentials stored.")
}

// runTweet posts a single tweet, refreshing the access token first if needed.
func runTweet(ctx context.Context, cfg *config.Config, manager *auth.Manager, text, mediaPaths string) {
	paths := splitMediaPaths(mediaPaths)
	if len(paths) > 0 {
		if !manager.HasMediaCredentials() {
			fmt.Println("Media attachments require OAuth 1.0a credentials. Run 'xpost -auth-media' first.")
			os.Exit(1)
		}
		if err := media.ValidateFiles(paths); err != nil {
			log.Errorf("media validation failed: %v", err)
			os.Exit(1)
		}
		fmt.Println("Media upload is not supported yet; post the tweet without -media.")
		os.Exit(1)
	}

	accessToken, err := manager.EnsureValidAccessToken(ctx)
	if err != nil {
		exitWithAuthError(err)
	}
	tweet, err := xapi.NewClient(cfg).PostTweet(ctx, accessToken, text)
	if err != nil {
		log.Errorf("failed to post tweet: %v", err)
		os.Exit(1)
	}
	fmt.Printf("Tweet posted: %s\n", xapi.TweetURL(manager.Status().Handle, tweet.ID))
}

// printStatus reports the stored credential state without any network call.
func printStatus(manager *auth.Manager) {
	status := manager.Status()
	if !status.ClientConfigured {
		fmt.Println("Client: not configured (run 'xpost -auth')")
	} else {
		fmt.Println("Client: configured")
	}
	if !status.Authenticated {
		fmt.Println("Session: not authenticated")
	} else {
		handle := status.Handle
		if handle == "" {
			handle = "(unknown)"
		}
		fmt.Printf("Session: authenticated as @%s\n", handle)
		fmt.Printf("Access token expires at %s\n", status.ExpiresAt.Format("2006-01-02 15:04:05"))
		if len(status.Scopes) > 0 {
			fmt.Printf("Scopes: %s\n", strings.Join(status.Scopes, " "))
		}
		if status.RefreshValid {
			fmt.Println("Refresh token: present")
		} else {
			fmt.Println("Refresh token: missing")
		}
	}
	if status.MediaConfigured {
		fmt.Println("Media credentials: configured")
	} else {
		fmt.Println("Media credentials: not configured")
	}
}

// promptClientIdentity reads the OAuth2 client id and secret from stdin,
// preferring environment variables when both are set.
func promptClientIdentity() (*credstore.ClientIdentity, error) {
	identity := &credstore.ClientIdentity{
		ClientID:     strings.TrimSpace(os.Getenv("XPOST_CLIENT_ID")),
		ClientSecret: strings.TrimSpace(os.Getenv("XPOST_CLIENT_SECRET")),
	}
	if identity.Complete() {
		return identity, nil
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Println("Enter the OAuth2 client credentials from the X developer portal.")
	var err error
	if identity.ClientID == "" {
		if identity.ClientID, err = promptLine(reader, "Client ID: "); err != nil {
			return nil, err
		}
	}
	if identity.ClientSecret == "" {
		if identity.ClientSecret, err = promptLine(reader, "Client secret: "); err != nil {
			return nil, err
		}
	}
	return identity, nil
}

// promptLine prints a prompt and reads one trimmed line from the reader.
func promptLine(reader *bufio.Reader, prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// splitMediaPaths splits the -media flag value into cleaned file paths.
func splitMediaPaths(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	paths := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			paths = append(paths, media.ExpandPath(trimmed))
		}
	}
	return paths
}

// splitListenAddr parses a host:port pair from the -listen flag.
func splitListenAddr(addr string) (string, int, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", 0, fmt.Errorf("expected host:port")
	}
	host := addr[:idx]
	if host == "" {
		host = "0.0.0.0"
	}
	var port int
	if _, err := fmt.Sscanf(addr[idx+1:], "%d", &port); err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", addr[idx+1:])
	}
	return host, port, nil
}

// exitWithAuthError prints a friendly message for authentication failures
// and exits with the error's code (13 signals the callback port is taken).
func exitWithAuthError(err error) {
	fmt.Fprintln(os.Stderr, twitter.GetUserFriendlyMessage(err))
	var authErr *twitter.AuthenticationError
	if errors.As(err, &authErr) && authErr.Code == twitter.ErrPortInUse.Code {
		os.Exit(authErr.Code)
	}
	os.Exit(1)
}
