// Package config loads workflow settings from a config file, WORKFLOW_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/ElijahFeldman7/workflow/internal/autosave"
)

const (
	// EnvPrefix prefixes environment overrides: WORKFLOW_STORE_DRIVER sets
	// store.driver.
	EnvPrefix = "WORKFLOW"

	// FileName is the config file's base name, without extension.
	FileName = "workflow"
)

// Setting keys.
const (
	KeyDataDir                   = "data_dir"
	KeyStoreDriver               = "store.driver"
	KeyStoreDSN                  = "store.dsn"
	KeyStoreURL                  = "store.url"
	KeyStoreAuthToken            = "store.auth_token"
	KeyStoreReplica              = "store.replica"
	KeyServerURL                 = "server.url"
	KeyServerPort                = "server.port"
	KeyAutosaveQuietPeriod       = "autosave.quiet_period"
	KeyAutosaveFlushOnTeardown   = "autosave.flush_on_teardown"
	KeyAutosaveRollbackOnFailure = "autosave.rollback_on_failure"
	KeyAutosaveWriteTimeout      = "autosave.write_timeout"
	KeyLogFile                   = "log.file"
	KeyLogMaxSizeMB              = "log.max_size_mb"
	KeyLogMaxBackups             = "log.max_backups"
	KeyLogMaxAgeDays             = "log.max_age_days"
)

// Config is the resolved configuration.
type Config struct {
	DataDir  string         `mapstructure:"data_dir"`
	Store    StoreConfig    `mapstructure:"store"`
	Server   ServerConfig   `mapstructure:"server"`
	Autosave AutosaveConfig `mapstructure:"autosave"`
	Log      LogConfig      `mapstructure:"log"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	Driver    string `mapstructure:"driver"` // sqlite3, libsql or remote
	DSN       string `mapstructure:"dsn"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
	Replica   string `mapstructure:"replica"`
}

// ServerConfig holds the dashboard server's address.
type ServerConfig struct {
	URL  string `mapstructure:"url"`
	Port int    `mapstructure:"port"`
}

// AutosaveConfig tunes the widgets' debounced saves.
type AutosaveConfig struct {
	QuietPeriod       time.Duration `mapstructure:"quiet_period"`
	FlushOnTeardown   bool          `mapstructure:"flush_on_teardown"`
	RollbackOnFailure bool          `mapstructure:"rollback_on_failure"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

// LogConfig controls the log file. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Store drivers.
const (
	DriverSQLite = "sqlite3"
	DriverLibSQL = "libsql"
	DriverRemote = "remote"
)

// DefaultDataDir returns the per-user data directory.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, FileName)
	}
	return ".workflow"
}

// Validate checks the configuration for values no component accepts.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite, DriverLibSQL:
	case DriverRemote:
		if c.Server.URL == "" {
			return fmt.Errorf("%s is required when %s is %q", KeyServerURL, KeyStoreDriver, DriverRemote)
		}
	default:
		return fmt.Errorf("%s must be one of %s, %s, %s (got %q)",
			KeyStoreDriver, DriverSQLite, DriverLibSQL, DriverRemote, c.Store.Driver)
	}
	if c.Store.Driver == DriverLibSQL && c.Store.URL == "" {
		return fmt.Errorf("%s is required when %s is %q", KeyStoreURL, KeyStoreDriver, DriverLibSQL)
	}
	if c.Autosave.QuietPeriod <= 0 {
		return fmt.Errorf("%s must be positive (got %v)", KeyAutosaveQuietPeriod, c.Autosave.QuietPeriod)
	}
	if c.Autosave.WriteTimeout < 0 {
		return fmt.Errorf("%s must not be negative (got %v)", KeyAutosaveWriteTimeout, c.Autosave.WriteTimeout)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%s must be 0-65535 (got %d)", KeyServerPort, c.Server.Port)
	}
	return nil
}

// StorePath returns the local database file, defaulting to the data dir.
func (c *Config) StorePath() string {
	if c.Store.DSN != "" {
		return c.Store.DSN
	}
	return filepath.Join(c.DataDir, FileName+".db")
}

// AutosaveOptions builds an autosave.Config from the settings.
func (c *Config) AutosaveOptions(logger *log.Logger) *autosave.Config {
	cfg := autosave.DefaultConfig()
	cfg.QuietPeriod = c.Autosave.QuietPeriod
	cfg.FlushOnTeardown = c.Autosave.FlushOnTeardown
	cfg.RollbackOnFailure = c.Autosave.RollbackOnFailure
	cfg.WriteTimeout = c.Autosave.WriteTimeout
	if logger != nil {
		cfg.Logger = logger
	}
	return cfg
}

// Loader reads configuration through viper.
type Loader struct {
	mu sync.Mutex
	v  *viper.Viper
}

// NewLoader returns a Loader with defaults and environment overrides set.
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyDataDir, DefaultDataDir())
	v.SetDefault(KeyStoreDriver, DriverSQLite)
	v.SetDefault(KeyStoreDSN, "")
	v.SetDefault(KeyStoreURL, "")
	v.SetDefault(KeyStoreAuthToken, "")
	v.SetDefault(KeyStoreReplica, "")
	v.SetDefault(KeyServerURL, "")
	v.SetDefault(KeyServerPort, 8080)
	v.SetDefault(KeyAutosaveQuietPeriod, time.Second)
	v.SetDefault(KeyAutosaveFlushOnTeardown, false)
	v.SetDefault(KeyAutosaveRollbackOnFailure, false)
	v.SetDefault(KeyAutosaveWriteTimeout, time.Duration(0))
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyLogMaxSizeMB, 10)
	v.SetDefault(KeyLogMaxBackups, 3)
	v.SetDefault(KeyLogMaxAgeDays, 28)

	return &Loader{v: v}
}

// Viper exposes the underlying instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads file, or workflow.{yaml,toml,json} from the data dir when file
// is empty. A missing default file is not an error.
func (l *Loader) Load(file string) (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if file != "" {
		l.v.SetConfigFile(file)
	} else {
		l.v.SetConfigName(FileName)
		l.v.AddConfigPath(l.v.GetString(KeyDataDir))
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// File returns the config file in use, or "" if none was found.
func (l *Loader) File() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.v.ConfigFileUsed()
}

// Settings returns every key with its effective value.
func (l *Loader) Settings() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]any)
	for _, k := range l.v.AllKeys() {
		out[k] = l.v.Get(k)
	}
	return out
}

// Keys returns every known setting key, sorted.
func (l *Loader) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := l.v.AllKeys()
	sort.Strings(keys)
	return keys
}

func (l *Loader) known(key string) bool {
	for _, k := range l.v.AllKeys() {
		if k == strings.ToLower(key) {
			return true
		}
	}
	return false
}

// Set stores value under key and writes the config file, creating
// workflow.yaml in the data dir when no file is in use.
func (l *Loader) Set(key, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.known(key) {
		return fmt.Errorf("unknown setting %q", key)
	}
	previous := l.v.Get(key)
	l.v.Set(key, value)
	if _, err := l.decode(); err != nil {
		l.v.Set(key, previous)
		return err
	}

	file := l.v.ConfigFileUsed()
	if file == "" {
		dir := l.v.GetString(KeyDataDir)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
		file = filepath.Join(dir, FileName+".yaml")
	}
	if err := l.v.WriteConfigAs(file); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	l.v.SetConfigFile(file)
	return nil
}

// Watch re-reads the config file whenever it changes and passes the result to
// fn, until ctx is done. Editors that replace the file on save are handled by
// watching its directory.
func (l *Loader) Watch(ctx context.Context, fn func(*Config, error)) error {
	file := l.File()
	if file == "" {
		return fmt.Errorf("no config file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(file)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", file, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(file) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				fn(l.reload())
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				fn(nil, fmt.Errorf("config watcher: %w", err))
			}
		}
	}()
	return nil
}

func (l *Loader) reload() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to reload config: %w", err)
	}
	return l.decode()
}
