// Package config loads inspector runtime configuration from the
// FORTISTATE_* environment variables via envconfig struct tags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all inspector runtime configuration.
type Config struct {
	Server  ServerConfig
	Session SessionConfig
	Audit   AuditConfig
	Remote  RemoteConfig
	Watch   WatchConfig
	Debug   bool `envconfig:"FORTISTATE_DEBUG" default:"false"`
}

// ServerConfig holds HTTP server and origin-policy configuration.
type ServerConfig struct {
	Host              string        `envconfig:"INSPECTOR_HOST" default:"0.0.0.0"`
	Port              int           `envconfig:"INSPECTOR_PORT" default:"4555"`
	ReadTimeout       time.Duration `envconfig:"INSPECTOR_READ_TIMEOUT" default:"15s"`
	WriteTimeout      time.Duration `envconfig:"INSPECTOR_WRITE_TIMEOUT" default:"15s"`
	IdleTimeout       time.Duration `envconfig:"INSPECTOR_IDLE_TIMEOUT" default:"60s"`
	AllowOrigin       string        `envconfig:"FORTISTATE_INSPECTOR_ALLOW_ORIGIN"`
	AllowOriginStrict bool          `envconfig:"FORTISTATE_INSPECTOR_ALLOW_ORIGIN_STRICT" default:"false"`
	AllowOpen         bool          `envconfig:"FORTISTATE_INSPECTOR_ALLOW_OPEN" default:"false"`
}

// Address returns the server address in host:port form.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SessionConfig holds session store and token configuration.
type SessionConfig struct {
	RequireSessions   bool     `envconfig:"FORTISTATE_REQUIRE_SESSIONS" default:"false"`
	AllowAnonSessions bool     `envconfig:"FORTISTATE_ALLOW_ANON_SESSIONS" default:"false"`
	OpaqueSecret      string   `envconfig:"FORTISTATE_SESSION_SECRET"`
	JWTSecret         string   `envconfig:"FORTISTATE_JWT_SECRET"`
	TTL               Duration `envconfig:"FORTISTATE_SESSION_TTL" default:"7d"`
	MaxSessions       int      `envconfig:"FORTISTATE_SESSION_MAX" default:"500"`
	LegacyToken       string   `envconfig:"FORTISTATE_LEGACY_TOKEN"`
}

// Duration is a time.Duration whose string form additionally accepts day
// ("d") and week ("w") suffixes, the units session lifetimes are usually
// written in. It implements envconfig.Decoder.
type Duration time.Duration

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(value string) error {
	parsed, err := ParseDuration(value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// ParseDuration parses a duration string with units ms, s, m, h, d, and w.
// A bare integer is taken as milliseconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("config.ParseDuration: empty duration")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Millisecond, nil
	}
	if strings.HasSuffix(s, "d") || strings.HasSuffix(s, "w") {
		unit := 24 * time.Hour
		if strings.HasSuffix(s, "w") {
			unit = 7 * 24 * time.Hour
		}
		n, err := strconv.ParseFloat(s[:len(s)-1], 64)
		if err != nil {
			return 0, fmt.Errorf("config.ParseDuration: invalid duration %q", s)
		}
		return time.Duration(n * float64(unit)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config.ParseDuration: invalid duration %q", s)
	}
	return d, nil
}

// AuditConfig holds audit log rotation thresholds.
type AuditConfig struct {
	MaxSizeBytes int64 `envconfig:"FORTISTATE_AUDIT_MAX_SIZE" default:"1048576"`
	RotateDays   int   `envconfig:"FORTISTATE_AUDIT_ROTATE_DAYS" default:"30"`
}

// RemoteConfig holds RemoteStoreRegistry namespace overrides.
type RemoteConfig struct {
	InspectorNamespace string `envconfig:"FORTISTATE_INSPECTOR_NAMESPACE"`
	RemoteNamespace    string `envconfig:"FORTISTATE_REMOTE_NAMESPACE"`
	PackageName        string `envconfig:"PACKAGE_NAME"`
}

// WatchConfig holds ConfigReloader file-watch configuration.
type WatchConfig struct {
	Disabled bool `envconfig:"FORTISTATE_DISABLE_CONFIG_WATCH" default:"false"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: process env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: validate: %w", err)
	}

	return &cfg, nil
}

// validate checks configuration constraints that envconfig tags cannot
// express.
func (c *Config) validate() error {
	if c.Session.OpaqueSecret != "" && len(c.Session.OpaqueSecret) < 16 {
		return fmt.Errorf("FORTISTATE_SESSION_SECRET must be at least 16 characters to persist sessions across restarts")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("INSPECTOR_PORT must be between 1 and 65535")
	}
	return nil
}

// Namespace derives the remote-store persistence namespace:
// lowercase the first non-empty of {INSPECTOR_NAMESPACE, REMOTE_NAMESPACE,
// PACKAGE_NAME, basename(root), "default"}, sanitized to [a-z0-9-]+.
func (c *Config) Namespace(root string) string {
	candidates := []string{
		c.Remote.InspectorNamespace,
		c.Remote.RemoteNamespace,
		c.Remote.PackageName,
		filepath.Base(root),
		"default",
	}
	for _, candidate := range candidates {
		if sanitized := sanitizeNamespace(candidate); sanitized != "" {
			return sanitized
		}
	}
	return "default"
}

func sanitizeNamespace(s string) string {
	if s == "" {
		return ""
	}
	out := make([]rune, 0, len(s))
	prevDash := false
	for _, r := range s {
		lower := toLowerASCII(r)
		isAlnum := (lower >= 'a' && lower <= 'z') || (lower >= '0' && lower <= '9')
		if isAlnum {
			out = append(out, lower)
			prevDash = false
			continue
		}
		if !prevDash && len(out) > 0 {
			out = append(out, '-')
			prevDash = true
		}
	}
	for len(out) > 0 && out[len(out)-1] == '-' {
		out = out[:len(out)-1]
	}
	return string(out)
}

func toLowerASCII(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

// WorkingDir returns the process working directory, the root every
// .fortistate-* file and directory is placed under.
func WorkingDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("config.WorkingDir: %w", err)
	}
	return dir, nil
}
