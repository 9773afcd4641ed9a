// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
proxy:
  host: "192.168.1.1"
  port: 9999
  idle_timeout: "15s"

api:
  addr: "0.0.0.0:8081"

database:
  path: "./test.db"
  pool_size: 4

auth:
  credentials_path: "creds.toml"
  session_duration: "2h"
  lockout_duration: "10m"
  failure_window: "30m"
  max_login_attempts: 3

portal:
  app_port: 3000
  force_fallback: true
  whitelist_hosts:
    - "localhost"
    - "portal.lan"
  whitelist_ports:
    - 3000
    - 8081
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Proxy.Host != "192.168.1.1" {
		t.Errorf("Proxy.Host = %q, want %q", cfg.Proxy.Host, "192.168.1.1")
	}
	if cfg.Proxy.Port != 9999 {
		t.Errorf("Proxy.Port = %d, want 9999", cfg.Proxy.Port)
	}
	if cfg.Proxy.IdleTimeout != 15*time.Second {
		t.Errorf("Proxy.IdleTimeout = %v, want 15s", cfg.Proxy.IdleTimeout)
	}
	if cfg.Auth.SessionDuration != 2*time.Hour {
		t.Errorf("Auth.SessionDuration = %v, want 2h", cfg.Auth.SessionDuration)
	}
	if cfg.Auth.LockoutDuration != 10*time.Minute {
		t.Errorf("Auth.LockoutDuration = %v, want 10m", cfg.Auth.LockoutDuration)
	}
	if cfg.Auth.MaxAttempts != 3 {
		t.Errorf("Auth.MaxAttempts = %d, want 3", cfg.Auth.MaxAttempts)
	}
	if !cfg.Portal.ForceFallback {
		t.Error("Portal.ForceFallback = false, want true")
	}
	if len(cfg.Portal.WhitelistHosts) != 2 || cfg.Portal.WhitelistHosts[1] != "portal.lan" {
		t.Errorf("Portal.WhitelistHosts = %v", cfg.Portal.WhitelistHosts)
	}
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Proxy.Host != "0.0.0.0" || cfg.Proxy.Port != 8888 {
		t.Errorf("default proxy addr = %s:%d, want 0.0.0.0:8888", cfg.Proxy.Host, cfg.Proxy.Port)
	}
	if cfg.Auth.MaxAttempts != 5 {
		t.Errorf("default max attempts = %d, want 5", cfg.Auth.MaxAttempts)
	}
	if cfg.Auth.LockoutDuration != 5*time.Minute {
		t.Errorf("default lockout = %v, want 5m", cfg.Auth.LockoutDuration)
	}
	if cfg.Portal.AppPort != 5173 {
		t.Errorf("default app port = %d, want 5173", cfg.Portal.AppPort)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	configPath := writeConfig(t, `
proxy:
  port: 3128
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Proxy.Port != 3128 {
		t.Errorf("Proxy.Port = %d, want 3128", cfg.Proxy.Port)
	}
	if cfg.API.Addr != "0.0.0.0:8080" {
		t.Errorf("API.Addr = %q, want default", cfg.API.Addr)
	}
	if cfg.Auth.SessionDuration != time.Hour {
		t.Errorf("Auth.SessionDuration = %v, want default 1h", cfg.Auth.SessionDuration)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("PORTALGATE_TEST_SECRET", "super-secret")

	configPath := writeConfig(t, `
auth:
  admin_secret: "${PORTALGATE_TEST_SECRET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Auth.AdminSecret != "super-secret" {
		t.Errorf("Auth.AdminSecret = %q, want expanded env value", cfg.Auth.AdminSecret)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
auth:
  session_duration: "not-a-duration"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load should have failed on invalid duration")
	}
	if !strings.Contains(err.Error(), "session_duration") {
		t.Errorf("error %q does not mention the offending field", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load should have failed for a missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad proxy port", func(c *Config) { c.Proxy.Port = 0 }, "proxy.port"},
		{"missing api addr", func(c *Config) { c.API.Addr = "" }, "api.addr"},
		{"missing db path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"negative pool size", func(c *Config) { c.Database.PoolSize = -1 }, "pool_size"},
		{"zero max attempts", func(c *Config) { c.Auth.MaxAttempts = 0 }, "max_login_attempts"},
		{"bad app port", func(c *Config) { c.Portal.AppPort = 70000 }, "app_port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate should have failed")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
