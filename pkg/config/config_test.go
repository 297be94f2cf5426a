package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// chdir changes to dir for the duration of the test; it mirrors
// testing.T.Chdir, which requires a newer Go toolchain.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Transport != TransportStdio {
		t.Errorf("Transport = %q, want stdio", cfg.Transport)
	}
	if cfg.Port != 8787 {
		t.Errorf("Port = %d, want 8787", cfg.Port)
	}
	if cfg.SessionTimeout != 30*time.Minute {
		t.Errorf("SessionTimeout = %s, want 30m", cfg.SessionTimeout)
	}
	if cfg.RateLimitMaxRequests != 0 {
		t.Errorf("RateLimitMaxRequests = %d, want 0 (disabled)", cfg.RateLimitMaxRequests)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want text", cfg.LogFormat)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mdtd.yaml")
	content := `
transport: http
port: 9000
session_timeout: 10m
rate_limit_max_requests: 25
allowed_origins:
  - http://localhost:3000
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Transport != TransportHTTP {
		t.Errorf("Transport = %q", cfg.Transport)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.SessionTimeout != 10*time.Minute {
		t.Errorf("SessionTimeout = %s", cfg.SessionTimeout)
	}
	if cfg.RateLimitMaxRequests != 25 {
		t.Errorf("RateLimitMaxRequests = %d", cfg.RateLimitMaxRequests)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("an explicit config path that does not exist must fail")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("MDTD_PORT", "9999")
	t.Setenv("MDTD_LOG_LEVEL", "debug")
	t.Setenv("MDTD_AUTH_TOKEN", "supersecret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want env override 9999", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.AuthToken != "supersecret" {
		t.Errorf("AuthToken not picked up from environment")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Transport:       TransportBoth,
			Host:            "127.0.0.1",
			Port:            8787,
			SessionTimeout:  time.Minute,
			SweepInterval:   time.Minute,
			RateLimitWindow: time.Minute,
			LogFormat:       "json",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid", func(*Config) {}, nil},
		{"bad transport", func(c *Config) { c.Transport = "grpc" }, ErrInvalidTransport},
		{"port too low", func(c *Config) { c.Port = 0 }, ErrInvalidPort},
		{"port too high", func(c *Config) { c.Port = 70000 }, ErrInvalidPort},
		{"zero timeout", func(c *Config) { c.SessionTimeout = 0 }, ErrInvalidSessionTimeout},
		{"zero sweep", func(c *Config) { c.SweepInterval = 0 }, ErrInvalidSweepInterval},
		{"negative rate limit", func(c *Config) { c.RateLimitMaxRequests = -1 }, ErrInvalidRateLimit},
		{"rate limit without window", func(c *Config) {
			c.RateLimitMaxRequests = 5
			c.RateLimitWindow = 0
		}, ErrInvalidRateLimit},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, ErrInvalidLogFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr.Error()) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStringMasksAuthToken(t *testing.T) {
	cfg := Config{AuthToken: "topsecret"}
	s := cfg.String()
	if strings.Contains(s, "topsecret") {
		t.Error("String() must not leak the auth token")
	}
	if !strings.Contains(s, maskedValue) {
		t.Errorf("String() = %s, want masked token", s)
	}
}

func TestListenAddr(t *testing.T) {
	cfg := Config{Host: "0.0.0.0", Port: 8080}
	if got := cfg.ListenAddr(); got != "0.0.0.0:8080" {
		t.Errorf("ListenAddr() = %q", got)
	}
}
