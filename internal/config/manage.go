package config

import (
	"fmt"
	"strconv"

	"github.com/kalambet/pouch/internal/storage"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all config key/value pairs from the current config.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprintf("%v", s.extract(cfg)),
		})
	}
	return result
}

// SetKey writes a config key to the platform backend.
func SetKey(key, value string) error {
	return setKeyWith(newPlatformBackend(), key, value)
}

func setKeyWith(b ConfigBackend, key, value string) error {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return fmt.Errorf("cannot set secret %q via config; use `pouch config set-token` or environment variable %s", key, s.env)
		}
		if err := validateValue(key, value); err != nil {
			return err
		}
		switch s.typ {
		case kString:
			return b.SetString(key, value)
		case kInt:
			i, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid integer value for %s: %w", key, err)
			}
			return b.SetInt(key, i)
		}
	}

	return fmt.Errorf("unknown config key: %q", key)
}

func validateValue(key, value string) error {
	switch key {
	case "notes.default_zone":
		if _, err := storage.ParseZone(value); err != nil {
			return err
		}
	case "log.level":
		if _, err := parseLevel(value); err != nil {
			return fmt.Errorf("invalid log level %q: %w", value, err)
		}
	}
	return nil
}

// SetAPIToken stores the HTTP API token in the platform secret store.
func SetAPIToken(token string) error {
	if token == "" {
		return fmt.Errorf("api token must not be empty")
	}
	return keychainSet(secretService, apiTokenAccount, token)
}

// ValidKeys returns the list of valid non-secret config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
