package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pingsantohq/watchdog/internal/logging"
)

const (
	envConfigPath     = "WATCHDOG_CONFIG"
	DefaultConfigPath = "/etc/watchdog/watchdog.yaml"

	DefaultAddr         = "127.0.0.1:9320"
	DefaultPeriod       = 200 * time.Millisecond
	DefaultStatePath    = "/var/lib/watchdog/state.yaml"
	DefaultAlarmBackoff = 5 * time.Second
	DefaultTolerance    = time.Second
)

// State drivers accepted by StateConfig.Driver.
const (
	DriverNone     = "none"
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// fieldDelimiter separates per-entry values in persisted watchdog state.
const fieldDelimiter = ";"

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Log        logging.Config   `yaml:"log"`
	State      StateConfig      `yaml:"state"`
	Alarm      AlarmConfig      `yaml:"alarm"`
	Stream     StreamConfig     `yaml:"stream"`
	Sources    []SourceConfig   `yaml:"sources,omitempty"`
	Watchdogs  []WatchdogConfig `yaml:"watchdogs,omitempty"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// AdminToken, when set, is required as a bearer token on mutating requests.
	AdminToken string `yaml:"admin_token,omitempty"`
}

type EvaluationConfig struct {
	Period time.Duration `yaml:"period"`
}

type StateConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn,omitempty"`
}

type AlarmConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Command     []string      `yaml:"command,omitempty"`
	MinInterval time.Duration `yaml:"min_interval"`
}

type StreamConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// SourceConfig declares a source. Sources with a path are file sources whose
// writes count as heartbeats.
type SourceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Path string `yaml:"path,omitempty"`
}

type WatchdogConfig struct {
	Name    string        `yaml:"name"`
	Entries []EntryConfig `yaml:"entries,omitempty"`
}

type EntryConfig struct {
	Source    string        `yaml:"source"`
	Label     *string       `yaml:"label,omitempty"`
	Tolerance time.Duration `yaml:"tolerance,omitempty"`
	PlaySound bool          `yaml:"play_sound,omitempty"`
}

func Load(ctx context.Context, path string) (Config, error) {
	var cfg Config

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config %q: %w", path, err)
	}
	return cfg, nil
}

func LoadFromEnv(ctx context.Context) (Config, error) {
	return Load(ctx, PathFromEnv())
}

func PathFromEnv() string {
	if path := os.Getenv(envConfigPath); path != "" {
		return path
	}
	return DefaultConfigPath
}

func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Evaluation.Period <= 0 {
		c.Evaluation.Period = DefaultPeriod
	}
	if c.State.Driver == "" {
		c.State.Driver = DriverFile
	}
	if c.State.Driver == DriverFile && c.State.Path == "" {
		c.State.Path = DefaultStatePath
	}
	if c.Alarm.MinInterval <= 0 {
		c.Alarm.MinInterval = DefaultAlarmBackoff
	}
}

func (c Config) Validate() error {
	var errs []error

	switch c.State.Driver {
	case DriverNone, DriverFile:
	case DriverSQLite:
		if c.State.Path == "" {
			errs = append(errs, errors.New("state.path is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.State.DSN == "" {
			errs = append(errs, errors.New("state.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("state.driver %q is not supported", c.State.Driver))
	}

	sources := make(map[string]struct{}, len(c.Sources))
	for i, src := range c.Sources {
		if src.ID == "" {
			errs = append(errs, fmt.Errorf("sources[%d].id is required", i))
			continue
		}
		if strings.Contains(src.ID, fieldDelimiter) || strings.Contains(src.Name, fieldDelimiter) {
			errs = append(errs, fmt.Errorf("sources[%d] id and name must not contain %q", i, fieldDelimiter))
		}
		if _, dup := sources[src.ID]; dup {
			errs = append(errs, fmt.Errorf("sources[%d].id %q is duplicated", i, src.ID))
		}
		sources[src.ID] = struct{}{}
	}

	for i, wd := range c.Watchdogs {
		seen := make(map[string]struct{}, len(wd.Entries))
		for j, e := range wd.Entries {
			if _, ok := sources[e.Source]; !ok {
				errs = append(errs, fmt.Errorf("watchdogs[%d].entries[%d].source %q is not declared", i, j, e.Source))
			}
			if _, dup := seen[e.Source]; dup {
				errs = append(errs, fmt.Errorf("watchdogs[%d].entries[%d].source %q is watched twice", i, j, e.Source))
			}
			seen[e.Source] = struct{}{}
			if e.Label != nil && strings.Contains(*e.Label, fieldDelimiter) {
				errs = append(errs, fmt.Errorf("watchdogs[%d].entries[%d].label must not contain %q", i, j, fieldDelimiter))
			}
			if e.Tolerance < 0 {
				errs = append(errs, fmt.Errorf("watchdogs[%d].entries[%d].tolerance must be positive", i, j))
			}
		}
	}

	if c.Alarm.Enabled && len(c.Alarm.Command) > 0 && c.Alarm.Command[0] == "" {
		errs = append(errs, errors.New("alarm.command[0] must name an executable"))
	}

	return errors.Join(errs...)
}

// Sample returns the configuration written by `watchdog init`.
func Sample() Config {
	label := "STY"
	cfg := Config{
		State: StateConfig{Driver: DriverFile, Path: DefaultStatePath},
		Alarm: AlarmConfig{Enabled: true},
		Sources: []SourceConfig{
			{ID: "stylus", Name: "StylusToTracker", Path: "/run/tracker/stylus.pose"},
		},
		Watchdogs: []WatchdogConfig{{
			Name: "tools",
			Entries: []EntryConfig{
				{Source: "stylus", Label: &label, Tolerance: DefaultTolerance, PlaySound: true},
			},
		}},
	}
	cfg.Log.Level = "info"
	cfg.ApplyDefaults()
	return cfg
}
