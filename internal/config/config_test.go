package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for key := range defaults {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":8787" || cfg.AccessTTL != 15*time.Minute || cfg.CacheTTL != 5*time.Minute {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.MinioEndpoint != "" || cfg.MinioBucket != "formsync-exports" || cfg.LogFormat != "text" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFileThenEnvironment(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "formsync.yaml")
	content := "API_ADDR: \":9000\"\nFORMSYNC_ACCESS_TTL_SECONDS: 60\nMINIO_USE_SSL: true\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("API_ADDR", ":9100")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":9100" {
		t.Fatalf("Addr = %q, want environment override", cfg.Addr)
	}
	if cfg.AccessTTL != time.Minute || !cfg.MinioUseSSL {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
		field string
	}{
		{name: "zero access ttl", key: "FORMSYNC_ACCESS_TTL_SECONDS", value: "0", field: "FORMSYNC_ACCESS_TTL_SECONDS"},
		{name: "negative cache ttl", key: "FORMSYNC_CACHE_TTL_SECONDS", value: "-1", field: "FORMSYNC_CACHE_TTL_SECONDS"},
		{name: "unknown log format", key: "LOG_FORMAT", value: "xml", field: "LOG_FORMAT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)

			_, err := Load("")
			var cfgErr *Error
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Load() error = %v, want *Error", err)
			}
			if cfgErr.Field != tc.field {
				t.Fatalf("Field = %q, want %q", cfgErr.Field, tc.field)
			}
		})
	}
}
