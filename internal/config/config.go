// Package config loads silensess settings from defaults, an optional YAML
// file, and SILENSESS_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAddr          = ":8080"
	DefaultAllowedOrigin = "http://127.0.0.1:5173"
	DefaultWSURL         = "ws://localhost:9000"
	DefaultSubmitURL     = "http://localhost:9000"
	DefaultFPS           = 5
	DefaultTickInterval  = 16 * time.Millisecond
	DefaultMaxQueueDepth = 10000
	DefaultDialTimeout   = 10 * time.Second
	DefaultSubmitTimeout = 30 * time.Second
	DefaultConnectDelay  = time.Second
	DefaultRateLimit     = 5.0
	DefaultRateBurst     = 10
	DefaultBackoffStart  = time.Second
	DefaultBackoffMax    = 60 * time.Second
	DefaultValkeyAddr    = "localhost:6379"
	DefaultSnapshotTTL   = 24 * time.Hour

	BackendMemory = "memory"
	BackendValkey = "valkey"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Submit    SubmitConfig    `yaml:"submit"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr          string  `yaml:"addr"`
	AllowedOrigin string  `yaml:"allowed_origin"`
	JWTSecret     string  `yaml:"jwt_secret"`
	RateLimit     float64 `yaml:"rate_limit"` // requests per second on mutating routes
	RateBurst     int     `yaml:"rate_burst"`
}

type TelemetryConfig struct {
	WSURL         string        `yaml:"ws_url"`
	FPS           int           `yaml:"fps"`
	TickInterval  time.Duration `yaml:"tick_interval"`
	MaxQueueDepth int           `yaml:"max_queue_depth"` // <= 0 disables the bound
	DialTimeout   time.Duration `yaml:"dial_timeout"`
}

type ReconnectConfig struct {
	Enabled        bool          `yaml:"enabled"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type SubmitConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	ConnectDelay time.Duration `yaml:"connect_delay"`
}

type StorageConfig struct {
	Backend        string        `yaml:"backend"`
	ValkeyAddr     string        `yaml:"valkey_addr"`
	ValkeyPassword string        `yaml:"valkey_password"`
	ValkeyDB       int           `yaml:"valkey_db"`
	SnapshotTTL    time.Duration `yaml:"snapshot_ttl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:          DefaultAddr,
			AllowedOrigin: DefaultAllowedOrigin,
			RateLimit:     DefaultRateLimit,
			RateBurst:     DefaultRateBurst,
		},
		Telemetry: TelemetryConfig{
			WSURL:         DefaultWSURL,
			FPS:           DefaultFPS,
			TickInterval:  DefaultTickInterval,
			MaxQueueDepth: DefaultMaxQueueDepth,
			DialTimeout:   DefaultDialTimeout,
		},
		Reconnect: ReconnectConfig{
			InitialBackoff: DefaultBackoffStart,
			MaxBackoff:     DefaultBackoffMax,
		},
		Submit: SubmitConfig{
			BaseURL:      DefaultSubmitURL,
			Timeout:      DefaultSubmitTimeout,
			ConnectDelay: DefaultConnectDelay,
		},
		Storage: StorageConfig{
			Backend:     BackendMemory,
			ValkeyAddr:  DefaultValkeyAddr,
			SnapshotTTL: DefaultSnapshotTTL,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty), and the process environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from SILENSESS_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("SILENSESS_ADDR", &c.Server.Addr)
	str("SILENSESS_ALLOWED_ORIGIN", &c.Server.AllowedOrigin)
	str("SILENSESS_JWT_SECRET", &c.Server.JWTSecret)
	str("SILENSESS_WS_URL", &c.Telemetry.WSURL)
	str("SILENSESS_SUBMIT_URL", &c.Submit.BaseURL)
	str("SILENSESS_STORAGE", &c.Storage.Backend)
	str("SILENSESS_VALKEY_ADDR", &c.Storage.ValkeyAddr)
	str("SILENSESS_VALKEY_PASSWORD", &c.Storage.ValkeyPassword)
	str("SILENSESS_LOG_LEVEL", &c.Log.Level)
	str("SILENSESS_LOG_FORMAT", &c.Log.Format)
	num("SILENSESS_RENDER_FPS", &c.Telemetry.FPS)
	num("SILENSESS_MAX_QUEUE_DEPTH", &c.Telemetry.MaxQueueDepth)

	if v, ok := lookup("SILENSESS_RECONNECT"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SILENSESS_RECONNECT: %w", err))
		} else {
			c.Reconnect.Enabled = b
		}
	}
	return errors.Join(errs...)
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Telemetry.FPS <= 0 {
		errs = append(errs, fmt.Errorf("telemetry.fps must be positive, got %d", c.Telemetry.FPS))
	}
	if c.Telemetry.TickInterval <= 0 {
		errs = append(errs, errors.New("telemetry.tick_interval must be positive"))
	}
	if c.Telemetry.DialTimeout <= 0 {
		errs = append(errs, errors.New("telemetry.dial_timeout must be positive"))
	}
	if err := checkURL("telemetry.ws_url", c.Telemetry.WSURL, "ws", "wss"); err != nil {
		errs = append(errs, err)
	}
	if err := checkURL("submit.base_url", c.Submit.BaseURL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		errs = append(errs, errors.New("server.rate_limit and server.rate_burst must not be negative"))
	}
	if c.Reconnect.Enabled && (c.Reconnect.InitialBackoff <= 0 || c.Reconnect.MaxBackoff < c.Reconnect.InitialBackoff) {
		errs = append(errs, errors.New("reconnect backoff must satisfy 0 < initial_backoff <= max_backoff"))
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendValkey:
		if c.Storage.ValkeyAddr == "" {
			errs = append(errs, errors.New("storage.valkey_addr is required for the valkey backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}
	return errors.Join(errs...)
}

func checkURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s: %q must be an absolute %s URL", field, raw, strings.Join(schemes, "/"))
}
