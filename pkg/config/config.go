// Package config loads server configuration with multi-source priority.
//
// Sources (highest to lowest priority):
//  1. Environment variables with the MDTD_ prefix
//  2. Config file (mdtd.yaml in the working directory or ~/.mdtd/)
//  3. Built-in defaults
//
// Security: the auth token is masked in String() so a dumped config never
// leaks the shared secret.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidPort indicates the HTTP port is out of range.
	ErrInvalidPort = errors.New("invalid port")

	// ErrInvalidSessionTimeout indicates the session timeout is not positive.
	ErrInvalidSessionTimeout = errors.New("invalid session timeout")

	// ErrInvalidSweepInterval indicates the sweep interval is not positive.
	ErrInvalidSweepInterval = errors.New("invalid sweep interval")

	// ErrInvalidRateLimit indicates the rate limit settings are inconsistent.
	ErrInvalidRateLimit = errors.New("invalid rate limit")

	// ErrInvalidTransport indicates an unknown transport selection.
	ErrInvalidTransport = errors.New("invalid transport")

	// ErrInvalidLogFormat indicates an unknown log output format.
	ErrInvalidLogFormat = errors.New("invalid log format")
)

// Transport selections accepted in Config.Transport.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
	TransportBoth  = "both"
)

// Config stores the server configuration.
type Config struct {
	// Transport selects which bindings to run: "stdio", "http" or "both"
	Transport string `mapstructure:"transport" json:"transport"`

	// HTTP binding
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`

	// Session lifecycle
	SessionTimeout time.Duration `mapstructure:"session_timeout" json:"session_timeout"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval" json:"sweep_interval"`

	// Security
	AuthToken      string   `mapstructure:"auth_token" json:"auth_token"` // SENSITIVE: masked in MarshalJSON
	AllowedOrigins []string `mapstructure:"allowed_origins" json:"allowed_origins"`

	// Admission control
	RateLimitMaxRequests int           `mapstructure:"rate_limit_max_requests" json:"rate_limit_max_requests"`
	RateLimitWindow      time.Duration `mapstructure:"rate_limit_window" json:"rate_limit_window"`

	// Request body cap for the HTTP binding, in bytes
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" json:"max_body_bytes"`

	// Logging
	LogLevel  string `mapstructure:"log_level" json:"log_level"`
	LogFormat string `mapstructure:"log_format" json:"log_format"` // "text" or "json"

	// Observability
	MetricsEnabled  bool    `mapstructure:"metrics_enabled" json:"metrics_enabled"`
	TracingEnabled  bool    `mapstructure:"tracing_enabled" json:"tracing_enabled"`
	OTLPEndpoint    string  `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	TraceSampleRate float64 `mapstructure:"trace_sample_rate" json:"trace_sample_rate"`

	// Debug exposes the session listing endpoint even when auth is enabled
	Debug bool `mapstructure:"debug" json:"debug"`
}

// Load loads configuration from file, environment and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("mdtd")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".mdtd"))
		}
	}

	setDefaults(v)

	v.SetEnvPrefix("MDTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// An explicit config path must load; the default search may come up
		// empty and fall through to defaults.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transport", TransportStdio)

	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 8787)

	v.SetDefault("session_timeout", 30*time.Minute)
	v.SetDefault("sweep_interval", 5*time.Minute)

	v.SetDefault("allowed_origins", []string{})

	v.SetDefault("rate_limit_max_requests", 0) // 0 disables admission control
	v.SetDefault("rate_limit_window", time.Minute)

	v.SetDefault("max_body_bytes", int64(4<<20))

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetDefault("metrics_enabled", false)
	v.SetDefault("tracing_enabled", false)
	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("trace_sample_rate", 0.1)

	v.SetDefault("debug", false)
}

// Validate performs range checks on the loaded configuration.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportStdio, TransportHTTP, TransportBoth:
	default:
		return fmt.Errorf("%w: %q (want stdio, http or both)", ErrInvalidTransport, c.Transport)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSessionTimeout, c.SessionTimeout)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSweepInterval, c.SweepInterval)
	}
	if c.RateLimitMaxRequests < 0 {
		return fmt.Errorf("%w: max requests %d", ErrInvalidRateLimit, c.RateLimitMaxRequests)
	}
	if c.RateLimitMaxRequests > 0 && c.RateLimitWindow <= 0 {
		return fmt.Errorf("%w: window %s", ErrInvalidRateLimit, c.RateLimitWindow)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: %q (want text or json)", ErrInvalidLogFormat, c.LogFormat)
	}

	return nil
}

// ListenAddr returns the host:port pair for the HTTP binding.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

const maskedValue = "********"

// MarshalJSON masks the auth token so a logged config never carries the secret.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	if a.AuthToken != "" {
		a.AuthToken = maskedValue
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
