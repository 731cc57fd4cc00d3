package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. CALGRID_LISTEN.
const EnvPrefix = "CALGRID"

// ICSConfig is one calendar imported on startup and on every refresh.
type ICSConfig struct {
	// ID becomes the CalendarID of imported events.
	ID string `yaml:"id" json:"id"`
	// URL is an http(s) feed or a local .ics path.
	URL  string `yaml:"url" json:"url"`
	Name string `yaml:"name" json:"name"`
}

// GridConfig describes the time grid and drag snapping.
type GridConfig struct {
	PixelsPerHour      float64 `yaml:"pixels_per_hour" json:"pixels_per_hour"`
	SnapMinutes        int     `yaml:"snap_minutes" json:"snap_minutes"`
	MinDurationMinutes int     `yaml:"min_duration_minutes" json:"min_duration_minutes"`
	// MinBlockHeight is a rendering floor in pixels, independent of
	// MinDurationMinutes.
	MinBlockHeight float64 `yaml:"min_block_height" json:"min_block_height"`
}

// RedisConfig enables the Redis notifier when Addr is set.
type RedisConfig struct {
	Addr    string `yaml:"addr" json:"addr"`
	Channel string `yaml:"channel" json:"channel"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// CORSOrigins lists browser origins allowed to call the API. Empty
	// disables CORS headers.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	// Timezone is the IANA zone windows are derived in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// DBPath is the SQLite file; ":memory:" keeps events in process.
	DBPath string `yaml:"db_path" json:"db_path"`

	// ICSCacheDir holds ETag caches for remote feeds. Empty disables caching.
	ICSCacheDir string `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	// RefreshCron re-imports ICS sources while serving (e.g. "*/15 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	ICS   []ICSConfig `yaml:"ics" json:"ics"`
	Redis RedisConfig `yaml:"redis" json:"redis"`
	Grid  GridConfig  `yaml:"grid" json:"grid"`

	// MaxIterations caps candidates per recurring event.
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`

	// EnforceRuleBounds stops series at UNTIL and COUNT. Off by default.
	EnforceRuleBounds bool `yaml:"enforce_rule_bounds" json:"enforce_rule_bounds"`

	CommitTimeoutSeconds int `yaml:"commit_timeout_seconds" json:"commit_timeout_seconds"`

	// LogLevel is debug, info or error.
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "UTC",
		DBPath:      "./var/calgrid.db",
		ICSCacheDir: "./var/ics-cache",
		RefreshCron: "*/15 * * * *",
		ICS:         []ICSConfig{},
		Redis:       RedisConfig{Channel: "calgrid:notifications"},
		Grid: GridConfig{
			PixelsPerHour:      60,
			SnapMinutes:        15,
			MinDurationMinutes: 15,
			MinBlockHeight:     25,
		},
		MaxIterations:        500,
		CommitTimeoutSeconds: 10,
		LogLevel:             "info",
	}
}

// Normalize fills zero or invalid values from DefaultConfig so partially
// filled files still behave.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.DBPath == "" {
		c.DBPath = d.DBPath
	}
	c.DBPath = expandHome(c.DBPath)
	c.ICSCacheDir = expandHome(c.ICSCacheDir)
	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		if c.ICS[i].ID == "" {
			c.ICS[i].ID = fmt.Sprintf("ics-%d", i+1)
		}
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = d.Redis.Channel
	}
	if c.Grid.PixelsPerHour <= 0 {
		c.Grid.PixelsPerHour = d.Grid.PixelsPerHour
	}
	if c.Grid.SnapMinutes <= 0 {
		c.Grid.SnapMinutes = d.Grid.SnapMinutes
	}
	if c.Grid.MinDurationMinutes <= 0 {
		c.Grid.MinDurationMinutes = d.Grid.MinDurationMinutes
	}
	if c.Grid.MinBlockHeight < 0 {
		c.Grid.MinBlockHeight = d.Grid.MinBlockHeight
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.CommitTimeoutSeconds <= 0 {
		c.CommitTimeoutSeconds = d.CommitTimeoutSeconds
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = d.LogLevel
	}
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~") {
		return p
	}
	out, err := homedir.Expand(p)
	if err != nil {
		return p
	}
	return out
}

// Location loads Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// CommitTimeout returns the per-commit persistence timeout.
func (c *Config) CommitTimeout() time.Duration {
	return time.Duration(c.CommitTimeoutSeconds) * time.Second
}

// LoadDotEnv exports the variables of a dotenv file so ApplyEnv sees them.
// Variables already set in the environment win. A missing file is not an
// error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: dotenv %s: %w", path, err)
	}
	return nil
}

// Load reads the YAML file at path, then applies CALGRID_* environment
// overrides. A missing file is created with defaults (0600) first.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	path = expandHome(path)

	var cfg *Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
	case err != nil:
		return nil, err
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	ApplyEnv(cfg)
	cfg.Normalize()
	return cfg, nil
}

// ApplyEnv overrides cfg with any CALGRID_* variables that are set.
func ApplyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	for _, key := range []string{
		"listen", "cors_origins", "timezone", "db_path", "ics_cache_dir", "refresh",
		"redis_addr", "redis_channel", "max_iterations",
		"enforce_rule_bounds", "commit_timeout_seconds", "log_level",
	} {
		_ = v.BindEnv(key)
	}

	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = strings.TrimSpace(v.GetString(key))
		}
	}
	str("listen", &cfg.Listen)
	str("timezone", &cfg.Timezone)
	str("db_path", &cfg.DBPath)
	str("ics_cache_dir", &cfg.ICSCacheDir)
	str("refresh", &cfg.RefreshCron)
	str("redis_addr", &cfg.Redis.Addr)
	str("redis_channel", &cfg.Redis.Channel)
	str("log_level", &cfg.LogLevel)

	if v.IsSet("cors_origins") {
		cfg.CORSOrigins = splitList(v.GetString("cors_origins"))
	}
	if v.IsSet("max_iterations") {
		cfg.MaxIterations = v.GetInt("max_iterations")
	}
	if v.IsSet("enforce_rule_bounds") {
		cfg.EnforceRuleBounds = v.GetBool("enforce_rule_bounds")
	}
	if v.IsSet("commit_timeout_seconds") {
		cfg.CommitTimeoutSeconds = v.GetInt("commit_timeout_seconds")
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calgrid-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
