package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment variables that override config.toml values.
const (
	EnvBaseURL       = "CHATSYNC_BASE_URL"
	EnvPushURL       = "CHATSYNC_PUSH_URL"
	EnvCSRFToken     = "CHATSYNC_CSRF_TOKEN"
	EnvSessionCookie = "CHATSYNC_SESSION_COOKIE"
	EnvTransport     = "CHATSYNC_TRANSPORT"
	EnvMetricsAddr   = "CHATSYNC_METRICS_ADDR"
	EnvMaxAttempts   = "CHATSYNC_MAX_ATTEMPTS"
)

// Duration is a time.Duration written as "5s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config represents ~/.chatsync/config.toml.
type Config struct {
	DefaultConversation string   `toml:"default_conversation"`
	BaseURL             string   `toml:"base_url"`
	PushURL             string   `toml:"push_url"`
	Transport           string   `toml:"transport"`
	PollInterval        Duration `toml:"poll_interval"`
	BackoffUnit         Duration `toml:"backoff_unit"`
	MaxAttempts         int      `toml:"max_attempts"`
	SendStrategy        string   `toml:"send_strategy"`
	StrictStatus        bool     `toml:"strict_status"`
	CSRFToken           string   `toml:"csrf_token"`
	SessionCookie       string   `toml:"session_cookie"`
	MetricsAddr         string   `toml:"metrics_addr"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Transport == "" {
		c.Transport = "poll"
	}
	if c.PollInterval.Duration <= 0 {
		c.PollInterval.Duration = 5 * time.Second
	}
	if c.BackoffUnit.Duration <= 0 {
		c.BackoffUnit.Duration = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.SendStrategy == "" {
		c.SendStrategy = "defer"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = "127.0.0.1:9464"
	}
}

// ApplyEnv overrides fields from the process environment.
func (c *Config) ApplyEnv() {
	for env, field := range map[string]*string{
		EnvBaseURL:       &c.BaseURL,
		EnvPushURL:       &c.PushURL,
		EnvCSRFToken:     &c.CSRFToken,
		EnvSessionCookie: &c.SessionCookie,
		EnvTransport:     &c.Transport,
		EnvMetricsAddr:   &c.MetricsAddr,
	} {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*field = v
		}
	}
	if v := os.Getenv(EnvMaxAttempts); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxAttempts = n
		}
	}
}

// Validate checks the fields needed to run a synchronizer.
func (c *Config) Validate() error {
	switch c.Transport {
	case "poll":
		if c.BaseURL == "" {
			return errors.New("base_url is required for the poll transport")
		}
	case "push":
		if c.PushURL == "" && c.BaseURL == "" {
			return errors.New("push_url or base_url is required for the push transport")
		}
	default:
		return fmt.Errorf("transport must be poll or push, got %q", c.Transport)
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must not be negative, got %d", c.MaxAttempts)
	}
	return nil
}

// PushURLTemplate returns push_url, or one derived from base_url.
func (c *Config) PushURLTemplate() string {
	if c.PushURL != "" {
		return c.PushURL
	}
	base := strings.TrimRight(c.BaseURL, "/")
	if i := strings.Index(base, "://"); i >= 0 {
		if j := strings.Index(base[i+3:], "/"); j >= 0 {
			base = base[:i+3+j]
		}
	}
	return base + "/ws/chat/{conversation}/"
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEffective loads path (a missing file is not an error), loads the
// given .env files into the environment, then applies env overrides and
// defaults.
func LoadEffective(path string, envFiles ...string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		cfg = &Config{}
	}
	for _, f := range envFiles {
		// godotenv never overrides variables that are already set.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env %s: %w", f, err)
		}
	}
	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
