package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/kalambet/pouch/internal/storage"
)

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Log         LogConfig
	Preferences PreferencesConfig
	Notes       NotesConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type PreferencesConfig struct {
	Path string
}

type NotesConfig struct {
	DefaultZone string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Preferences: PreferencesConfig{
			Path: defaultPreferencesPath(),
		},
		Notes: NotesConfig{
			DefaultZone: "creative",
		},
	}
}

// Load reads configuration from the platform-native backend, a .env file,
// environment variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.pouch.app) and the API
// token falls back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/pouch/config.json
// and the API token falls back to $XDG_DATA_HOME/pouch/secrets.json.
//
// A .env file in the working directory is loaded first; it never overrides
// variables that are already set. Environment variables (POUCH_*) override
// backend values on all platforms.
func Load() (Config, error) {
	loadDotEnv(".env")
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadDotEnv(path string) {
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not load %s: %v\n", path, err)
	}
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// The API token is optional; only the secret store is consulted.
	if cfg.Server.APIToken == "" {
		if tok, err := kc.Get(secretService, apiTokenAccount); err == nil && tok != "" {
			cfg.Server.APIToken = tok
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if _, err := storage.ParseZone(c.Notes.DefaultZone); err != nil {
		return fmt.Errorf("invalid config notes.default_zone: %w", err)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid config log.level: %w", err)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config server.port: %d", c.Server.Port)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("missing required config: storage.data_dir")
	}
	return nil
}

// DefaultZone returns the configured starting zone.
func (c Config) DefaultZone() storage.Zone {
	z, err := storage.ParseZone(c.Notes.DefaultZone)
	if err != nil {
		return storage.ZoneCreative
	}
	return z
}

// SlogLevel returns the configured log level.
func (c Config) SlogLevel() slog.Level {
	l, err := parseLevel(c.Log.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, err
	}
	return l, nil
}

const (
	secretService   = "pouch"
	apiTokenAccount = "api_token"
)

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
