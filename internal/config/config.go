// ABOUTME: Configuration loading and parsing for portalgate
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete portalgate configuration
type Config struct {
	Proxy    ProxyConfig    `yaml:"proxy"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Portal   PortalConfig   `yaml:"portal"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ProxyConfig holds the traffic gateway's listening surface
type ProxyConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	IdleTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	IdleTimeoutRaw string `yaml:"idle_timeout"`
}

// APIConfig holds the login/admin API server address
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path     string `yaml:"path"`
	PoolSize int    `yaml:"pool_size"`
}

// AuthConfig holds credential, session, and lockout configuration
type AuthConfig struct {
	CredentialsPath string `yaml:"credentials_path"`
	AdminSecret     string `yaml:"admin_secret"`
	MaxAttempts     int    `yaml:"max_login_attempts"`

	SessionDuration time.Duration `yaml:"-"`
	LockoutDuration time.Duration `yaml:"-"`
	FailureWindow   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	SessionDurationRaw string `yaml:"session_duration"`
	LockoutDurationRaw string `yaml:"lockout_duration"`
	FailureWindowRaw   string `yaml:"failure_window"`
}

// PortalConfig describes the login surfaces the proxy redirects to and the
// hosts/ports that are always relayed so those surfaces stay reachable.
type PortalConfig struct {
	// GatewayIP overrides LAN IP auto-detection when set.
	GatewayIP string `yaml:"gateway_ip"`
	// AppPort serves the rich login application (the SPA frontend).
	AppPort int `yaml:"app_port"`
	// ForceFallback sends every unauthenticated client to the plain-HTML
	// form, bypassing the browser-capability classifier.
	ForceFallback  bool     `yaml:"force_fallback"`
	WhitelistHosts []string `yaml:"whitelist_hosts"`
	WhitelistPorts []int    `yaml:"whitelist_ports"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	return &Config{
		Proxy: ProxyConfig{
			Host:        "0.0.0.0",
			Port:        8888,
			IdleTimeout: 10 * time.Second,
		},
		API: APIConfig{
			Addr: "0.0.0.0:8080",
		},
		Database: DatabaseConfig{
			Path:     "data/portalgate.db",
			PoolSize: 10,
		},
		Auth: AuthConfig{
			CredentialsPath: "credentials.toml",
			MaxAttempts:     5,
			SessionDuration: time.Hour,
			LockoutDuration: 5 * time.Minute,
			FailureWindow:   time.Hour,
		},
		Portal: PortalConfig{
			AppPort:        5173,
			WhitelistHosts: []string{"localhost", "127.0.0.1", "::1"},
			WhitelistPorts: []int{5173, 8080},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config merged over the defaults. Environment variables in the format
// ${VAR_NAME} are expanded. An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Proxy.Port <= 0 || c.Proxy.Port > 65535 {
		return fmt.Errorf("proxy.port must be in 1..65535, got %d", c.Proxy.Port)
	}
	if c.API.Addr == "" {
		return fmt.Errorf("api.addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.PoolSize < 0 {
		return fmt.Errorf("database.pool_size must not be negative")
	}
	if c.Auth.MaxAttempts <= 0 {
		return fmt.Errorf("auth.max_login_attempts must be positive")
	}
	if c.Portal.AppPort <= 0 || c.Portal.AppPort > 65535 {
		return fmt.Errorf("portal.app_port must be in 1..65535, got %d", c.Portal.AppPort)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Proxy.IdleTimeoutRaw != "" {
		cfg.Proxy.IdleTimeout, err = time.ParseDuration(cfg.Proxy.IdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing idle_timeout %q: %w", cfg.Proxy.IdleTimeoutRaw, err)
		}
	}

	if cfg.Auth.SessionDurationRaw != "" {
		cfg.Auth.SessionDuration, err = time.ParseDuration(cfg.Auth.SessionDurationRaw)
		if err != nil {
			return fmt.Errorf("parsing session_duration %q: %w", cfg.Auth.SessionDurationRaw, err)
		}
	}

	if cfg.Auth.LockoutDurationRaw != "" {
		cfg.Auth.LockoutDuration, err = time.ParseDuration(cfg.Auth.LockoutDurationRaw)
		if err != nil {
			return fmt.Errorf("parsing lockout_duration %q: %w", cfg.Auth.LockoutDurationRaw, err)
		}
	}

	if cfg.Auth.FailureWindowRaw != "" {
		cfg.Auth.FailureWindow, err = time.ParseDuration(cfg.Auth.FailureWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing failure_window %q: %w", cfg.Auth.FailureWindowRaw, err)
		}
	}

	return nil
}
