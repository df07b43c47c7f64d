// Package config loads storyline.yaml: where specifications are stored,
// how runs behave, what is scheduled and where telemetry goes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/storyline/bus"
	"github.com/petal-labs/storyline/engine"
	"github.com/petal-labs/storyline/runtime"
	"github.com/petal-labs/storyline/store"
)

const (
	projectConfigName = "storyline.yaml"
	homeConfigName    = "config.yaml"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendDir    = "dir"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config is the shape of storyline.yaml.
type Config struct {
	Store     StoreConfig       `yaml:"store"`
	Execution ExecutionConfig   `yaml:"execution"`
	Journal   JournalConfig     `yaml:"journal"`
	Schedules []engine.Schedule `yaml:"schedules,omitempty"`
	Telemetry TelemetryConfig   `yaml:"telemetry"`
}

// StoreConfig selects the specification store.
type StoreConfig struct {
	Backend  string `yaml:"backend"`
	Dir      string `yaml:"dir,omitempty"`
	DSN      string `yaml:"dsn,omitempty"`
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// ExecutionConfig is the run policy.
type ExecutionConfig struct {
	StopOnFailure   bool `yaml:"stop_on_failure"`
	StopOnException bool `yaml:"stop_on_exception"`
}

// JournalConfig controls the bus message journal. The journal is off when
// DSN is empty.
type JournalConfig struct {
	DSN            string        `yaml:"dsn,omitempty"`
	RetentionAge   time.Duration `yaml:"retention_age,omitempty"`
	RetentionCount int           `yaml:"retention_count,omitempty"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	Insecure     bool   `yaml:"insecure,omitempty"`
}

// Default returns the configuration used when no file is found.
func Default() Config {
	return Config{
		Store: StoreConfig{Backend: BackendDir, Dir: "specs"},
	}
}

// Policy returns the run policy.
func (c Config) Policy() runtime.Policy {
	return runtime.Policy{
		StopOnFailure:   c.Execution.StopOnFailure,
		StopOnException: c.Execution.StopOnException,
	}
}

// Validate checks the store settings and the schedules.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendMemory:
	case BackendDir:
		if c.Store.Dir == "" {
			errs = append(errs, errors.New("store.dir is required for the dir backend"))
		}
	case BackendSQLite:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the sqlite backend"))
		}
	case BackendRedis:
		if c.Store.Addr == "" {
			errs = append(errs, errors.New("store.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	if c.Journal.RetentionAge < 0 || c.Journal.RetentionCount < 0 {
		errs = append(errs, errors.New("journal retention must not be negative"))
	}
	for i, s := range c.Schedules {
		if s.SpecID == "" {
			errs = append(errs, fmt.Errorf("schedules[%d]: spec is required", i))
		}
		if _, err := engine.ParseSchedule(s.Cron); err != nil {
			errs = append(errs, fmt.Errorf("schedules[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Discover resolves the config location with first-match semantics: the
// explicit path, then ./storyline.yaml, then ~/.storyline/config.yaml.
func Discover(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverFrom(explicitPath, cwd, homeDir)
}

// DiscoverFrom is Discover with the directories supplied.
func DiscoverFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	explicit := strings.TrimSpace(explicitPath)
	var candidates []string
	if explicit != "" {
		candidates = []string{filepath.Clean(explicit)}
	} else {
		candidates = []string{
			filepath.Join(cwd, projectConfigName),
			filepath.Join(homeDir, ".storyline", homeConfigName),
		}
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		switch {
		case err == nil && !info.IsDir():
			return candidate, true, nil
		case err == nil:
			continue
		case errors.Is(err, os.ErrNotExist):
			if explicit != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
		default:
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// Load reads path over the defaults and validates the result. Relative
// store and journal paths are resolved against the file's directory.
func Load(path string) (Config, error) {
	// #nosec G304 -- path comes from local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
	}
	base := filepath.Dir(path)
	if cfg.Store.Backend == BackendDir && cfg.Store.Dir != "" && !filepath.IsAbs(cfg.Store.Dir) {
		cfg.Store.Dir = filepath.Join(base, cfg.Store.Dir)
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults and validates it.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Resolve discovers and loads the config. Defaults are returned when no
// file is found and no explicit path was given.
func Resolve(explicitPath string) (Config, string, error) {
	path, found, err := Discover(explicitPath)
	if err != nil {
		return Config{}, "", err
	}
	if !found {
		return Default(), "", nil
	}
	cfg, err := Load(path)
	return cfg, path, err
}

// OpenStore opens the configured specification store. The returned func
// releases it.
func (c Config) OpenStore() (store.SpecStore, func() error, error) {
	noop := func() error { return nil }
	switch c.Store.Backend {
	case BackendMemory:
		return store.NewMemStore(), noop, nil
	case BackendDir:
		ds, err := store.NewDirStore(c.Store.Dir)
		if err != nil {
			return nil, nil, err
		}
		return ds, noop, nil
	case BackendSQLite:
		ss, err := store.NewSQLiteStore(store.SQLiteStoreConfig{DSN: c.Store.DSN})
		if err != nil {
			return nil, nil, err
		}
		return ss, ss.Close, nil
	case BackendRedis:
		rs := store.NewRedisStore(c.Store.Addr, c.Store.Password, c.Store.DB, store.WithPrefix(c.Store.Prefix))
		return rs, rs.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", c.Store.Backend)
}

// OpenJournal opens the bus journal, or returns nil when none is
// configured.
func (c Config) OpenJournal() (*bus.SQLiteMessageStore, error) {
	if c.Journal.DSN == "" {
		return nil, nil
	}
	return bus.NewSQLiteMessageStore(bus.SQLiteStoreConfig{
		DSN:            c.Journal.DSN,
		RetentionAge:   c.Journal.RetentionAge,
		RetentionCount: c.Journal.RetentionCount,
	})
}
