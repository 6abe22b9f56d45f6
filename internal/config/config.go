// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	toml "github.com/pelletier/go-toml/v2"

	"flexjar-proxy-go/internal/route"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/flexjar-proxy/config.toml",
	"configs/config.toml",
}

// Defaults applied to unset fields after validation.
const (
	defaultBasePath      = "/syk/flexjar"
	defaultAllowedOrigin = "https://data.intern.dev.nav.no"
)

// placeholderSecret is the value shipped in the example config.
const placeholderSecret = "YOUR_CLIENT_SECRET_HERE"

func init() {
	// Report validation errors with the TOML key names.
	validation.ErrorTag = "toml"
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config        string           `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host          string           `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port          int              `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	BasePath      string           `kong:"help='Base path stripped from inbound requests (overrides config).',env='BASE_PATH'"`
	ClientID      string           `kong:"name='azure-client-id',help='OAuth2 client id (overrides config).',env='AZURE_APP_CLIENT_ID'"`
	ClientSecret  string           `kong:"name='azure-client-secret',help='OAuth2 client secret (overrides config).',env='AZURE_APP_CLIENT_SECRET'"`
	Scope         string           `kong:"name='azure-scope',help='OAuth2 scope requested for the backend (overrides config).',env='AZURE_SCOPE'"`
	TokenEndpoint string           `kong:"name='azure-token-endpoint',help='OpenID token endpoint URL (overrides config).',env='AZURE_OPENID_CONFIG_TOKEN_ENDPOINT'"`
	BackendURL    string           `kong:"name='backend-url',help='Backend base URL (overrides config).',env='BACKEND_URL'"`
	AllowedOrigin string           `kong:"help='Allowed CORS origin (overrides config).',env='ALLOWED_ORIGIN'"`
	LogLevel      string           `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	Version       kong.VersionFlag `kong:"short='v',help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	CORS    CORSConfig    `toml:"cors"`
	Azure   AzureConfig   `toml:"azure"`
	Backend BackendConfig `toml:"backend"`
	Token   TokenConfig   `toml:"token"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
	Debug   DebugConfig   `toml:"debug"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080)
	BasePath     string          `toml:"base_path"`
	BodyMaxBytes int64           `toml:"body_max_bytes"` // 0 means unlimited
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// CORSConfig lists the origins browsers may call the proxy from.
type CORSConfig struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

// AzureConfig holds the client-credentials settings for the identity provider.
// It is built once at startup and never mutated afterwards.
type AzureConfig struct {
	ClientID       string `toml:"client_id"`
	ClientSecret   string `toml:"client_secret"`
	Scope          string `toml:"scope"`
	TokenEndpoint  string `toml:"token_endpoint"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// BackendConfig holds the downstream backend connection settings.
type BackendConfig struct {
	BaseURL                      string `toml:"base_url"`
	ResponseHeaderTimeoutSeconds int    `toml:"response_header_timeout_seconds"`
	IdleConnections              int    `toml:"idle_connections"`
}

// TokenConfig controls the optional access token cache.
type TokenConfig struct {
	CacheEnabled            bool `toml:"cache_enabled"`
	CacheEarlyExpirySeconds int  `toml:"cache_early_expiry_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// DebugConfig toggles the /debug route.
type DebugConfig struct {
	Enabled bool `toml:"enabled"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/flexjar-proxy/config.toml then configs/config.toml. A missing file is
// not an error when nothing was requested explicitly: the deployment may
// supply everything through environment variables.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.BasePath != "" {
		c.Server.BasePath = cli.BasePath
	}
	if cli.ClientID != "" {
		c.Azure.ClientID = cli.ClientID
	}
	if cli.ClientSecret != "" {
		c.Azure.ClientSecret = cli.ClientSecret
	}
	if cli.Scope != "" {
		c.Azure.Scope = cli.Scope
	}
	if cli.TokenEndpoint != "" {
		c.Azure.TokenEndpoint = cli.TokenEndpoint
	}
	if cli.BackendURL != "" {
		c.Backend.BaseURL = cli.BackendURL
	}
	if cli.AllowedOrigin != "" {
		c.CORS.AllowedOrigins = []string{cli.AllowedOrigin}
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) normalize() {
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)
	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")
	c.Backend.BaseURL = strings.TrimRight(c.Backend.BaseURL, "/")
}

// Validate checks every section of the configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Server),
		validation.Field(&c.CORS),
		validation.Field(&c.Azure),
		validation.Field(&c.Backend),
		validation.Field(&c.Token),
		validation.Field(&c.Log),
		validation.Field(&c.Metrics, validation.By(func(value interface{}) error {
			mc, _ := value.(MetricsConfig)
			if !mc.Enabled || mc.Path == "" {
				return nil
			}
			basePath := c.Server.BasePath
			if basePath == "" {
				basePath = defaultBasePath
			}
			return validateMetricsPath(mc.Path, basePath)
		})),
	)
}

// Validate checks the server section.
func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Host, is.Host),
		validation.Field(&s.Port, validation.Min(0), validation.Max(65535)),
		validation.Field(&s.BasePath, validation.By(validateBasePath)),
		validation.Field(&s.BodyMaxBytes, validation.Min(int64(0))),
		validation.Field(&s.RateLimit),
	)
}

// Validate checks the rate limit section.
func (r RateLimitConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RequestsPerSecond,
			validation.When(r.Enabled, validation.Required, validation.Min(0.0).Exclusive()),
		),
	)
}

// Validate checks the CORS section.
func (cc CORSConfig) Validate() error {
	return validation.ValidateStruct(&cc,
		validation.Field(&cc.AllowedOrigins, validation.Each(validation.By(validateOrigin))),
	)
}

// Validate checks the identity provider section.
func (a AzureConfig) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.ClientID, validation.Required),
		validation.Field(&a.ClientSecret,
			validation.Required,
			validation.NotIn(placeholderSecret).Error("contains placeholder value; set the real client secret"),
		),
		validation.Field(&a.Scope, validation.Required),
		validation.Field(&a.TokenEndpoint, validation.Required, validation.By(validateHTTPURL)),
		validation.Field(&a.TimeoutSeconds, validation.Min(0)),
	)
}

// Validate checks the backend section.
func (b BackendConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.BaseURL, validation.Required, validation.By(validateHTTPURL)),
		validation.Field(&b.ResponseHeaderTimeoutSeconds, validation.Min(0)),
		validation.Field(&b.IdleConnections, validation.Min(0)),
	)
}

// Validate checks the token cache section.
func (t TokenConfig) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.CacheEarlyExpirySeconds, validation.Min(0)),
	)
}

// Validate checks the log section.
func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error").
			Error("must be one of: debug, info, warn, error")),
		validation.Field(&l.Format, validation.In("json", "text").
			Error("must be one of: json, text")),
	)
}

func validateHTTPURL(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return errors.New("must be a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https; got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("must include a host")
	}
	return nil
}

func validateBasePath(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if s[0] != '/' {
		return fmt.Errorf("must start with '/'; got %q", s)
	}
	if strings.ContainsAny(s, "?#") {
		return fmt.Errorf("must not contain a query or fragment; got %q", s)
	}
	return nil
}

func validateOrigin(value interface{}) error {
	s, _ := value.(string)
	if s == "*" {
		return nil
	}
	return validateHTTPURL(s)
}

// validateMetricsPath rejects metrics paths that would shadow proxied routes.
func validateMetricsPath(p, basePath string) error {
	if p[0] != '/' {
		return fmt.Errorf("path must start with '/'; got %q", p)
	}
	logical, under := route.Strip(basePath, p)
	for _, reserved := range route.Reserved {
		if logical == reserved {
			return fmt.Errorf("path %q conflicts with reserved route %q", p, reserved)
		}
	}
	if under {
		return fmt.Errorf("path %q conflicts with proxied base path %q", p, basePath)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = defaultBasePath
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if c.Azure.TimeoutSeconds == 0 {
		c.Azure.TimeoutSeconds = 10
	}
	if c.Backend.ResponseHeaderTimeoutSeconds == 0 {
		c.Backend.ResponseHeaderTimeoutSeconds = 60
	}
	if c.Backend.IdleConnections == 0 {
		c.Backend.IdleConnections = 100
	}
	if c.Token.CacheEarlyExpirySeconds == 0 {
		c.Token.CacheEarlyExpirySeconds = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
// The file carries the OAuth2 client secret.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
