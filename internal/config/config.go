// Package config provides configuration management for the XPost CLI and relay server.
// It handles loading and parsing the YAML configuration file, and provides structured
// access to application settings including the credential directory, OAuth callback
// port, refresh behavior, proxy configuration, and relay server options.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default values applied when the configuration file omits a setting.
const (
	DefaultCallbackPort          = 8085
	DefaultAuthTimeoutSeconds    = 300
	DefaultRefreshSkewSeconds    = 60
	DefaultRefreshRetries        = 3
	DefaultRequestTimeoutSeconds = 10
	DefaultServeHost             = "127.0.0.1"
	DefaultServePort             = 8000
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// CredentialsDir is the directory holding all persisted credential records.
	// Defaults to ~/.xpost when empty.
	CredentialsDir string `yaml:"credentials-dir" json:"credentials-dir"`

	// CallbackPort is the fixed local port the OAuth redirect listener binds.
	CallbackPort int `yaml:"callback-port" json:"callback-port"`

	// AuthTimeoutSeconds bounds how long a login waits for the browser callback.
	AuthTimeoutSeconds int `yaml:"auth-timeout-seconds" json:"auth-timeout-seconds"`

	// RefreshSkewSeconds is the margin before expiry at which a token is
	// already treated as expired, so callers never race an imminent expiry.
	RefreshSkewSeconds int `yaml:"refresh-skew-seconds" json:"refresh-skew-seconds"`

	// RefreshRetries is the number of attempts for transient refresh failures.
	RefreshRetries int `yaml:"refresh-retries" json:"refresh-retries"`

	// RequestTimeoutSeconds bounds every outbound call to the token endpoint
	// and the X API so a hung connection never blocks a caller forever.
	RequestTimeoutSeconds int `yaml:"request-timeout-seconds" json:"request-timeout-seconds"`

	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// RequestLog enables detailed request logging on the relay server.
	RequestLog bool `yaml:"request-log" json:"request-log"`

	// LoggingToFile switches log output from stdout to rotating files
	// under <credentials-dir>/logs.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// Server configures the tweet relay HTTP server started with -serve.
	Server ServerConfig `yaml:"server" json:"server"`
}

// ServerConfig holds the relay server listen settings.
type ServerConfig struct {
	// Host is the address the relay server binds. Defaults to loopback only.
	Host string `yaml:"host" json:"host"`

	// Port is the relay server port.
	Port int `yaml:"port" json:"port"`
}

// SetDefaults fills in zero-valued fields with their default settings.
func (c *Config) SetDefaults() {
	if strings.TrimSpace(c.CredentialsDir) == "" {
		c.CredentialsDir = "~/.xpost"
	}
	if c.CallbackPort <= 0 {
		c.CallbackPort = DefaultCallbackPort
	}
	if c.AuthTimeoutSeconds <= 0 {
		c.AuthTimeoutSeconds = DefaultAuthTimeoutSeconds
	}
	if c.RefreshSkewSeconds <= 0 {
		c.RefreshSkewSeconds = DefaultRefreshSkewSeconds
	}
	if c.RefreshRetries <= 0 {
		c.RefreshRetries = DefaultRefreshRetries
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		c.Server.Host = DefaultServeHost
	}
	if c.Server.Port <= 0 {
		c.Server.Port = DefaultServePort
	}
}

// ResolveCredentialsDir expands a leading ~ in the credentials directory
// against the current user's home directory.
func (c *Config) ResolveCredentialsDir() (string, error) {
	dir := strings.TrimSpace(c.CredentialsDir)
	if dir == "" {
		dir = "~/.xpost"
	}
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	return dir, nil
}

// LoadConfig reads a YAML configuration file from the given path and parses it.
// A missing file is not an error: every setting has a usable default, so the
// CLI works without any configuration at all.
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(configFile)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.SetDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.SetDefaults()
	return cfg, nil
}
