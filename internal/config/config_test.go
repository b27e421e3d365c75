package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	if cfg.Viewport.PageSize != 50 {
		t.Errorf("expected default PageSize to be 50, got %d", cfg.Viewport.PageSize)
	}
	if len(cfg.Viewport.Tiers) != 3 || cfg.Viewport.Tiers[0] != "thumbnail" {
		t.Errorf("unexpected default tiers: %v", cfg.Viewport.Tiers)
	}
	if cfg.Thumbnails.Source != SourceAPI {
		t.Errorf("expected default source api, got %s", cfg.Thumbnails.Source)
	}
	if cfg.MaxTier() != 2 {
		t.Errorf("expected MaxTier 2, got %d", cfg.MaxTier())
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvServerURL, "")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "sub", "gallery.conf")

	cfg := NewConfig()
	cfg.APIBaseURL = "https://media.example.com"
	cfg.APIKey = "test-api-key-12345"
	cfg.ProxyMode = "basic"
	cfg.ProxyHost = "proxy.local"
	cfg.ProxyPort = 3128
	cfg.ProxyPassword = "secret"
	cfg.NoProxy = "localhost,10.0.0.0/8"
	cfg.Viewport.PageSize = 20
	cfg.Viewport.Tiers = []string{"small", "large"}
	cfg.Viewport.GridMaxTier = 1
	cfg.Viewport.ViewerMinTier = -1
	cfg.Thumbnails.Source = SourceS3
	cfg.Thumbnails.Bucket = "gallery"
	cfg.Thumbnails.Verify = true
	cfg.LogLevel = "debug"

	if err := Save(cfg, configPath); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.APIBaseURL != cfg.APIBaseURL {
		t.Errorf("APIBaseURL mismatch: expected %s, got %s", cfg.APIBaseURL, loaded.APIBaseURL)
	}
	if loaded.APIKey != cfg.APIKey {
		t.Errorf("APIKey mismatch: expected %s, got %s", cfg.APIKey, loaded.APIKey)
	}
	if loaded.ProxyPort != 3128 || loaded.ProxyHost != "proxy.local" {
		t.Errorf("proxy mismatch: %s:%d", loaded.ProxyHost, loaded.ProxyPort)
	}
	if loaded.ProxyPassword != "" {
		t.Error("proxy password must not be persisted")
	}
	if loaded.Viewport.PageSize != 20 {
		t.Errorf("PageSize mismatch: got %d", loaded.Viewport.PageSize)
	}
	if len(loaded.Viewport.Tiers) != 2 || loaded.Viewport.Tiers[1] != "large" {
		t.Errorf("Tiers mismatch: got %v", loaded.Viewport.Tiers)
	}
	if loaded.Viewport.ViewerMinTier != -1 {
		t.Errorf("ViewerMinTier mismatch: got %d", loaded.Viewport.ViewerMinTier)
	}
	if loaded.Thumbnails.Source != SourceS3 || loaded.Thumbnails.Bucket != "gallery" || !loaded.Thumbnails.Verify {
		t.Errorf("Thumbnails mismatch: got %+v", loaded.Thumbnails)
	}
	if loaded.LogLevel != "debug" {
		t.Errorf("LogLevel mismatch: got %s", loaded.LogLevel)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(configPath)
		if err != nil {
			t.Fatalf("Stat failed: %v", err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("expected permissions 0600, got %o", info.Mode().Perm())
		}
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvServerURL, "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.conf"))
	if err != nil {
		t.Fatalf("Load of missing file should not error: %v", err)
	}
	if cfg.Viewport.PageSize != 50 {
		t.Errorf("expected defaults, got PageSize %d", cfg.Viewport.PageSize)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvAPIKey, "env-key")
	t.Setenv(EnvServerURL, "https://env.example.com")

	configPath := filepath.Join(t.TempDir(), "gallery.conf")
	content := "[server]\nurl = https://file.example.com\napi_key = file-key\n"
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.APIKey != "env-key" {
		t.Errorf("expected env api key, got %s", cfg.APIKey)
	}
	if cfg.APIBaseURL != "https://env.example.com" {
		t.Errorf("expected env url, got %s", cfg.APIBaseURL)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "gallery.conf")
	if err := os.WriteFile(configPath, []byte("[server\nurl"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(configPath); err == nil {
		t.Error("expected error for malformed config")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := NewConfig()
		cfg.APIBaseURL = "https://media.example.com"
		cfg.APIKey = "key"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid", func(*Config) {}, nil},
		{"missing url", func(c *Config) { c.APIBaseURL = " " }, ErrMissingServerURL},
		{"missing key", func(c *Config) { c.APIKey = "" }, ErrMissingAPIKey},
		{"bad proxy mode", func(c *Config) { c.ProxyMode = "socks" }, ErrInvalidProxyMode},
		{"zero page size", func(c *Config) { c.Viewport.PageSize = 0 }, ErrInvalidPageSize},
		{"huge page size", func(c *Config) { c.Viewport.PageSize = 10000 }, ErrInvalidPageSize},
		{"no tiers", func(c *Config) { c.Viewport.Tiers = nil }, ErrNoTiers},
		{"grid tier out of range", func(c *Config) { c.Viewport.GridMaxTier = 3 }, ErrInvalidTierBounds},
		{"viewer tier below -1", func(c *Config) { c.Viewport.ViewerMinTier = -2 }, ErrInvalidTierBounds},
		{"unknown source", func(c *Config) { c.Thumbnails.Source = "gcs" }, ErrInvalidSource},
		{"s3 without bucket", func(c *Config) { c.Thumbnails.Source = SourceS3 }, ErrMissingBucket},
		{"azure without container", func(c *Config) { c.Thumbnails.Source = SourceAzure }, ErrMissingContainerURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTierIndex(t *testing.T) {
	cfg := NewConfig()
	if got := cfg.TierIndex("Medium"); got != 1 {
		t.Errorf("TierIndex(Medium) = %d, want 1", got)
	}
	if got := cfg.TierIndex("huge"); got != -1 {
		t.Errorf("TierIndex(huge) = %d, want -1", got)
	}
}
