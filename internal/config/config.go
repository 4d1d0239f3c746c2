package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"icssync/internal/fileutil"
	"icssync/internal/reconcile"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

const (
	defaultTimezone     = "Asia/Taipei"
	defaultDataDir      = "./data"
	defaultRecordsFile  = "events.json"
	defaultRefreshCron  = "0 * * * *"
	defaultListen       = "127.0.0.1:8080"
	defaultWindowDays   = 365
	defaultStateBackend = "file"
	defaultSQLiteFile   = "state.db"
	defaultRemoteKind   = "google"
	defaultLogLevel     = "info"
	defaultGoogleScope  = "https://www.googleapis.com/auth/calendar"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// FingerprintConfig selects the fields that participate in change detection.
type FingerprintConfig struct {
	// IncludeDescription adds the event description to the fingerprint, so
	// description-only edits are pushed to the remote calendar.
	IncludeDescription bool `yaml:"include_description" json:"include_description"`
}

// StateConfig selects where sync state is persisted.
type StateConfig struct {
	// Backend is "file" (one JSON file per calendar in DataDir) or "sqlite".
	Backend string `yaml:"backend" json:"backend"`
	// SQLitePath defaults to <data_dir>/state.db.
	SQLitePath string `yaml:"sqlite_path,omitempty" json:"sqlite_path,omitempty"`
}

// RemoteConfig selects the remote calendar service.
type RemoteConfig struct {
	// Kind is "google" or "caldav".
	Kind string `yaml:"kind" json:"kind"`
}

// GoogleConfig points at the OAuth client secrets and the stored token.
type GoogleConfig struct {
	CredentialsFile string   `yaml:"credentials_file" json:"credentials_file"`
	TokenFile       string   `yaml:"token_file" json:"token_file"`
	Scopes          []string `yaml:"scopes" json:"scopes"`
}

// CalDAVConfig holds the CalDAV collection URL and credentials.
type CalDAVConfig struct {
	URL      string `yaml:"url" json:"url"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Timezone is the IANA zone naive feed timestamps are read in and remote
	// events are written in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// CalendarID names the remote calendar (Google calendar id, or a label
	// for CalDAV state files).
	CalendarID string `yaml:"calendar_id" json:"calendar_id"`

	// ICSURL is the subscription feed. When empty, the records file in
	// DataDir is read as-is.
	ICSURL string `yaml:"ics_url" json:"-"`

	DataDir     string `yaml:"data_dir" json:"data_dir"`
	RecordsFile string `yaml:"records_file" json:"records_file"`

	LogFile  string `yaml:"log_file,omitempty" json:"log_file,omitempty"`
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is a cron-style schedule string (e.g. "0 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Listen is the HTTP listen address for the status API.
	Listen string `yaml:"listen" json:"listen"`

	WindowDaysBack    int `yaml:"window_days_back" json:"window_days_back"`
	WindowDaysForward int `yaml:"window_days_forward" json:"window_days_forward"`

	Fingerprint FingerprintConfig `yaml:"fingerprint" json:"fingerprint"`

	// PurgeOrphans deletes remote events whose source disappeared from the feed.
	PurgeOrphans bool `yaml:"purge_orphans" json:"purge_orphans"`

	// ResetCorruptState starts from an empty state when the stored one is
	// unreadable, instead of aborting the run.
	ResetCorruptState bool `yaml:"reset_corrupt_state" json:"reset_corrupt_state"`

	State  StateConfig  `yaml:"state" json:"state"`
	Remote RemoteConfig `yaml:"remote" json:"remote"`
	Google GoogleConfig `yaml:"google" json:"google"`
	CalDAV CalDAVConfig `yaml:"caldav" json:"caldav"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"-"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	if c.RecordsFile == "" {
		c.RecordsFile = defaultRecordsFile
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.WindowDaysBack <= 0 {
		c.WindowDaysBack = defaultWindowDays
	}
	if c.WindowDaysForward <= 0 {
		c.WindowDaysForward = defaultWindowDays
	}

	c.State.Backend = strings.ToLower(strings.TrimSpace(c.State.Backend))
	switch c.State.Backend {
	case "file", "sqlite":
	default:
		c.State.Backend = defaultStateBackend
	}

	c.Remote.Kind = strings.ToLower(strings.TrimSpace(c.Remote.Kind))
	switch c.Remote.Kind {
	case "google", "caldav":
	default:
		c.Remote.Kind = defaultRemoteKind
	}

	if c.Google.CredentialsFile == "" {
		c.Google.CredentialsFile = "credentials.json"
	}
	if c.Google.TokenFile == "" {
		c.Google.TokenFile = "token.json"
	}
	if len(c.Google.Scopes) == 0 {
		c.Google.Scopes = []string{defaultGoogleScope}
	}
}

// Validate reports settings a sync run cannot do without.
func (c *Config) Validate() error {
	var errs []error
	if c.CalendarID == "" {
		errs = append(errs, errors.New("calendar_id is required"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if c.Remote.Kind == "caldav" && c.CalDAV.URL == "" {
		errs = append(errs, errors.New("caldav.url is required when remote.kind is caldav"))
	}
	return errors.Join(errs...)
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	return time.Local
}

// RecordsPath is the records JSON file inside DataDir.
func (c *Config) RecordsPath() string {
	if filepath.IsAbs(c.RecordsFile) {
		return c.RecordsFile
	}
	return filepath.Join(c.DataDir, c.RecordsFile)
}

// SQLitePath is the SQLite state database path.
func (c *Config) SQLitePath() string {
	if c.State.SQLitePath != "" {
		return c.State.SQLitePath
	}
	return filepath.Join(c.DataDir, defaultSQLiteFile)
}

// CacheDir holds the ICS fetch cache.
func (c *Config) CacheDir() string {
	return filepath.Join(c.DataDir, "ics-cache")
}

// Engine returns the reconcile options derived from this configuration.
func (c *Config) Engine() reconcile.Options {
	return reconcile.Options{
		CalendarID:         c.CalendarID,
		Location:           c.Location(),
		WindowBack:         time.Duration(c.WindowDaysBack) * 24 * time.Hour,
		WindowForward:      time.Duration(c.WindowDaysForward) * 24 * time.Hour,
		IncludeDescription: c.Fingerprint.IncludeDescription,
		PurgeOrphans:       c.PurgeOrphans,
		ResetCorruptState:  c.ResetCorruptState,
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically with
// 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return fileutil.WriteAtomic(path, data)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
