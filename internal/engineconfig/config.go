// Package engineconfig loads the policy engine's runtime configuration:
// where the local policy store lives, how to reach the device-policy
// service, and the staleness/audit knobs layered on top of it.
package engineconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RemoteConfig describes how to reach the device-policy service.
type RemoteConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RateLimitPerSec   float64 `mapstructure:"rate_limit_per_sec"`
	RateLimitBurst    int     `mapstructure:"rate_limit_burst"`
}

// StoreConfig describes the local policy/association persistence layer.
type StoreConfig struct {
	Dir string `mapstructure:"dir"`
}

// StalenessConfig describes the optional Redis-backed staleness mirror.
type StalenessConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	KeyPrefix string `mapstructure:"key_prefix"`
	TTLSecs   int    `mapstructure:"ttl_seconds"`
}

// AuditConfig describes the SQL audit trail.
type AuditConfig struct {
	Driver string `mapstructure:"driver"` // "postgres" or "sqlite3"
	DSN    string `mapstructure:"dsn"`
}

// MessagingConfig carries the Messaging Adapter's tunables.
type MessagingConfig struct {
	AlertSeverityThreshold string `mapstructure:"alert_severity_threshold"`
}

// TracingConfig mirrors tracing.Config so it can be loaded from the same
// document without internal/tracing depending back on internal/engineconfig.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	OutputPath  string `mapstructure:"output_path"`
}

// Config is the top-level engine configuration document.
type Config struct {
	Remote    RemoteConfig    `mapstructure:"remote"`
	Store     StoreConfig     `mapstructure:"store"`
	Staleness StalenessConfig `mapstructure:"staleness"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Messaging MessagingConfig `mapstructure:"messaging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Logging   struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

func defaults() Config {
	var c Config
	c.Store.Dir = "policy_store"
	c.Remote.TimeoutSeconds = 10
	c.Remote.RateLimitPerSec = 20
	c.Remote.RateLimitBurst = 5
	c.Staleness.KeyPrefix = "policy-engine:lastmod:"
	c.Staleness.TTLSecs = 300
	c.Audit.Driver = "sqlite3"
	c.Audit.DSN = "audit.db"
	c.Messaging.AlertSeverityThreshold = "critical"
	c.Logging.Level = "info"
	c.Logging.Format = "console"
	return c
}

// Path resolves the configuration file Load reads: CONFIG_PATH if set,
// else /app/config/engine.yaml if present, else config/engine.yaml.
// Exported so callers (e.g. the hot-reload watcher) watch the same file
// Load actually reads.
func Path() string {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		if _, err := os.Stat("/app/config/engine.yaml"); err == nil {
			cfgPath = "/app/config/engine.yaml"
		} else {
			cfgPath = "config/engine.yaml"
		}
	}
	if info, err := os.Stat(cfgPath); err == nil && info.IsDir() {
		cfgPath = filepath.Join(cfgPath, "engine.yaml")
	}
	return cfgPath
}

// Load reads engine.yaml from CONFIG_PATH, or /app/config/engine.yaml if
// present, falling back to config/engine.yaml, and layers the environment
// overrides read by applyEnvOverrides on top of it.
func Load() (*Config, error) {
	cfgPath := Path()

	cfg := defaults()

	v := viper.New()
	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
		}
	} else if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("POLICY_REMOTE_BASE_URL"); v != "" {
		c.Remote.BaseURL = v
	}
	if v := os.Getenv("POLICY_REMOTE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			c.Remote.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("POLICY_REMOTE_RATE_LIMIT_PER_SEC"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			c.Remote.RateLimitPerSec = f
		}
	}
	if v := os.Getenv("POLICY_STORE_DIR"); v != "" {
		c.Store.Dir = v
	}
	if v := os.Getenv("STALENESS_CACHE_ENABLED"); v != "" {
		c.Staleness.Enabled = ParseBool(v)
	}
	if v := os.Getenv("STALENESS_CACHE_ADDR"); v != "" {
		c.Staleness.Addr = v
	}
	if v := os.Getenv("AUDIT_DRIVER"); v != "" {
		c.Audit.Driver = v
	}
	if v := os.Getenv("AUDIT_DSN"); v != "" {
		c.Audit.DSN = v
	}
	if v := os.Getenv("ALERT_SEVERITY_THRESHOLD"); v != "" {
		c.Messaging.AlertSeverityThreshold = v
	}
}

// RemoteTimeout returns the configured remote-fetch timeout as a duration.
func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutSeconds) * time.Second
}

// StalenessTTL returns the configured staleness-mirror TTL as a duration.
func (c *Config) StalenessTTL() time.Duration {
	return time.Duration(c.Staleness.TTLSecs) * time.Second
}

// ParseBool converts common string representations to bool.
func ParseBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n != 0
		}
	}
	return false
}
