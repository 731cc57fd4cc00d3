package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"calgrid/internal/config"
	"calgrid/internal/drag"
	"calgrid/internal/layout"
	appLog "calgrid/internal/log"
	"calgrid/internal/model"
	"calgrid/internal/notify"
	"calgrid/internal/persist"
	"calgrid/internal/persist/sqlite"
	"calgrid/internal/recur"
	"calgrid/internal/view"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	envFile    string
	dbPath     string
	logLevel   string
	timezone   string
	jsonOut    bool
}

func (o *rootOptions) addFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&o.configPath, "config", "", "Path to the YAML config (created with defaults if missing; empty uses built-in defaults)")
	f.StringVar(&o.envFile, "env-file", ".env", "Dotenv file exporting CALGRID_* overrides (ignored if missing)")
	f.StringVar(&o.dbPath, "db", "", `SQLite path, or ":memory:" (overrides config)`)
	f.StringVar(&o.logLevel, "log-level", "", "debug, info or error (overrides config)")
	f.StringVar(&o.timezone, "tz", "", "IANA timezone windows are derived in (overrides config)")
	f.BoolVar(&o.jsonOut, "json", false, "Print JSON instead of a table")
}

// app is the wired runtime of one command invocation.
type app struct {
	cfg   *config.Config
	store persist.Store
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return nil, err
	}
	var cfg *config.Config
	if o.configPath == "" {
		cfg = config.DefaultConfig()
		config.ApplyEnv(cfg)
		cfg.Normalize()
	} else {
		c, err := config.Load(o.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", o.configPath, err)
		}
		cfg = c
	}
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.timezone != "" {
		cfg.Timezone = o.timezone
	}
	cfg.Normalize()
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

func (o *rootOptions) open() (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}

	var store persist.Store
	if cfg.DBPath == sqlite.MemoryPath {
		store = persist.NewMemoryStore()
	} else {
		s, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		store = s
	}
	appLog.Debug("app opened", "db", cfg.DBPath, "timezone", cfg.Timezone)
	return &app{cfg: cfg, store: store}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) recurOptions() recur.Options {
	return recur.Options{MaxIterations: a.cfg.MaxIterations, EnforceBounds: a.cfg.EnforceRuleBounds}
}

func (a *app) grid() layout.Grid {
	return layout.Grid{PixelsPerHour: a.cfg.Grid.PixelsPerHour, MinHeight: a.cfg.Grid.MinBlockHeight}
}

func (a *app) dragConfig() drag.Config {
	return drag.Config{
		SnapMinutes:        a.cfg.Grid.SnapMinutes,
		MinDurationMinutes: a.cfg.Grid.MinDurationMinutes,
		PixelsPerMinute:    a.grid().PixelsPerMinute(),
	}
}

// events returns the events of file when set, else the stored events.
// Rejected events in file are logged and skipped.
func (a *app) events(ctx context.Context, file string) ([]model.Event, error) {
	if file == "" {
		return a.store.ListEvents(ctx)
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	events, rejected, err := model.DecodeEvents(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", file, err)
	}
	for _, r := range rejected {
		appLog.Error("event rejected", r, "file", file)
	}
	return events, nil
}

func (a *app) newView(events []model.Event) *view.View {
	return view.New(events, a.recurOptions(), a.grid())
}

// notifier logs every notification and also publishes to Redis when an
// address is configured. The returned func releases the Redis client.
func (a *app) notifier() (notify.Notifier, func()) {
	if a.cfg.Redis.Addr == "" {
		return notify.Log{}, func() {}
	}
	r, err := notify.NewRedis(a.cfg.Redis.Addr, a.cfg.Redis.Channel)
	if err != nil {
		appLog.Error("redis notifier disabled", err, "addr", a.cfg.Redis.Addr)
		return notify.Log{}, func() {}
	}
	return notify.Multi{notify.Log{}, r}, func() { _ = r.Close() }
}
