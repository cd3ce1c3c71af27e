//go:build !darwin

package config

import (
	"path/filepath"
	"testing"
)

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pouch", "config.json")
	b := newFileBackend(path)

	if err := b.SetString("log.level", "debug"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	if err := b.SetInt("server.port", 4242); err != nil {
		t.Fatalf("SetInt: %v", err)
	}

	reloaded := newFileBackend(path)
	if v, ok, err := reloaded.GetString("log.level"); err != nil || !ok || v != "debug" {
		t.Errorf("GetString = %q, %v, %v", v, ok, err)
	}
	if v, ok, err := reloaded.GetInt("server.port"); err != nil || !ok || v != 4242 {
		t.Errorf("GetInt = %d, %v, %v", v, ok, err)
	}
}
