package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	// DefaultBackendURL is where the research backend listens when run
	// alongside the client.
	DefaultBackendURL = "http://localhost:8000"

	// DefaultHistoryLimit caps the conversation list fetched for display.
	DefaultHistoryLimit = 20
)

// Config holds application configuration.
type Config struct {
	SupabaseURL     string
	SupabaseAnonKey string
	BackendURL      string
	LogLevel        string
	Realtime        bool
	HistoryLimit    int

	Paths Paths
}

// Paths lays out the application's home directory.
type Paths struct {
	Home        string
	Logs        string
	ConfigFile  string
	SessionFile string
	CacheFile   string
}

// Ensure creates the home and log directories.
func (p Paths) Ensure() error {
	for _, dir := range []string{p.Home, p.Logs} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DefaultPaths resolves the home layout, honoring RESEARCHCHAT_HOME.
func DefaultPaths() (Paths, error) {
	root := os.Getenv("RESEARCHCHAT_HOME")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		root = filepath.Join(home, ".researchchat")
	}
	return Paths{
		Home:        root,
		Logs:        filepath.Join(root, "logs"),
		ConfigFile:  filepath.Join(root, "config.toml"),
		SessionFile: filepath.Join(root, "session.json"),
		CacheFile:   filepath.Join(root, "cache.db"),
	}, nil
}

var (
	loaded  *Config
	loadErr error
	once    sync.Once
)

// Get loads the configuration once and returns the shared instance.
func Get() (*Config, error) {
	once.Do(func() {
		loaded, loadErr = Load()
	})
	return loaded, loadErr
}

// Load builds a Config from defaults, then the TOML file in the
// application home, then a .env file in the working directory, then
// environment variables. Later sources win.
func Load() (*Config, error) {
	paths, err := DefaultPaths()
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		BackendURL:   DefaultBackendURL,
		LogLevel:     "info",
		Realtime:     true,
		HistoryLimit: DefaultHistoryLimit,
		Paths:        paths,
	}
	if err := cfg.applyFile(paths.ConfigFile); err != nil {
		return nil, err
	}
	// Best effort: a missing .env is the normal case.
	_ = godotenv.Load()
	cfg.applyEnv()
	return cfg, nil
}

type fileConfig struct {
	SupabaseURL     string `toml:"supabase_url"`
	SupabaseAnonKey string `toml:"supabase_anon_key"`
	BackendURL      string `toml:"backend_url"`
	LogLevel        string `toml:"log_level"`
	Realtime        *bool  `toml:"realtime"`
	HistoryLimit    int    `toml:"history_limit"`
}

func (c *Config) applyFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if fc.SupabaseURL != "" {
		c.SupabaseURL = fc.SupabaseURL
	}
	if fc.SupabaseAnonKey != "" {
		c.SupabaseAnonKey = fc.SupabaseAnonKey
	}
	if fc.BackendURL != "" {
		c.BackendURL = fc.BackendURL
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	if fc.Realtime != nil {
		c.Realtime = *fc.Realtime
	}
	if fc.HistoryLimit > 0 {
		c.HistoryLimit = fc.HistoryLimit
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		c.SupabaseURL = v
	}
	if v := os.Getenv("SUPABASE_ANON_KEY"); v != "" {
		c.SupabaseAnonKey = v
	}
	if v := os.Getenv("BACKEND_URL"); v != "" {
		c.BackendURL = v
	}
	if v := os.Getenv("RESEARCHCHAT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("RESEARCHCHAT_REALTIME"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Realtime = b
		}
	}
}

// Validate checks that the external collaborators are configured.
func (c *Config) Validate() error {
	var missing []string
	if c.SupabaseURL == "" {
		missing = append(missing, "supabase_url")
	}
	if c.SupabaseAnonKey == "" {
		missing = append(missing, "supabase_anon_key")
	}
	if c.BackendURL == "" {
		missing = append(missing, "backend_url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// AuthURL returns the GoTrue base URL.
func (c *Config) AuthURL() string {
	return strings.TrimRight(c.SupabaseURL, "/") + "/auth/v1"
}

// RestURL returns the PostgREST base URL.
func (c *Config) RestURL() string {
	return strings.TrimRight(c.SupabaseURL, "/") + "/rest/v1"
}

// RealtimeURL returns the websocket URL for change subscriptions.
func (c *Config) RealtimeURL() string {
	base := strings.TrimRight(c.SupabaseURL, "/")
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/realtime/v1/websocket?apikey=" + c.SupabaseAnonKey + "&vsn=1.0.0"
}
