// Package config provides configuration management for rescale-gallery.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/rescale/rescale-gallery/internal/constants"
)

// Config is the gallery client configuration.
//
// Config file location:
//   - Windows: %USERPROFILE%\.config\rescale-gallery\gallery.conf
//   - Unix: ~/.config/rescale-gallery/gallery.conf
//
// INI format:
//
//	[server]
//	url = https://media.example.com
//	api_key = <token>
//	proxy_mode = no-proxy
//	no_proxy = localhost,10.0.0.0/8
//
//	[viewport]
//	page_size = 50
//	tiers = thumbnail,medium,full
//	grid_max_tier = 0
//	viewer_min_tier = 0
//	prefetch_concurrency = 8
//
//	[thumbnails]
//	source = api
//	bucket = gallery-media
//	region = us-east-1
//
//	[log]
//	level = info
type Config struct {
	// Server connection
	APIBaseURL string
	APIKey     string

	// Proxy settings
	ProxyMode     string // "no-proxy", "ntlm", "basic", "system"
	ProxyHost     string
	ProxyPort     int
	ProxyUser     string
	ProxyPassword string // never persisted
	NoProxy       string // Comma-separated list of hosts to bypass proxy
	ProxyWarmup   bool

	Viewport   ViewportConfig
	Thumbnails ThumbnailConfig

	LogLevel string
}

// ViewportConfig controls paging and the resolution ladder.
type ViewportConfig struct {
	PageSize int

	// Tiers is the ascending resolution ladder, lowest first.
	Tiers []string

	// GridMaxTier is the highest tier loaded into grid boxes.
	GridMaxTier int

	// ViewerMinTier lets the viewer skip placeholder tiers. -1 starts from nothing.
	ViewerMinTier int

	PrefetchConcurrency int
}

// ThumbnailConfig selects where tier images come from.
type ThumbnailConfig struct {
	Source string // "api", "s3", "azure"

	// S3
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string

	// Azure
	ContainerURL string

	// Prefix is prepended to "_thumbs/<tier>/<id>" object keys.
	Prefix string

	// Verify checks the object exists before handing out a presigned URL.
	Verify bool
}

// Environment overrides
const (
	EnvAPIKey    = "GALLERY_API_KEY"
	EnvServerURL = "GALLERY_SERVER_URL"
)

// Thumbnail sources
const (
	SourceAPI   = "api"
	SourceS3    = "s3"
	SourceAzure = "azure"
)

// Validation errors
var (
	ErrMissingServerURL    = errors.New("server url is required")
	ErrMissingAPIKey       = errors.New("api_key is required")
	ErrInvalidPageSize     = fmt.Errorf("page_size must be between 1 and %d", constants.MaxPageSize)
	ErrNoTiers             = errors.New("at least one tier is required")
	ErrInvalidTierBounds   = errors.New("grid_max_tier and viewer_min_tier must fall inside the tier ladder")
	ErrInvalidProxyMode    = errors.New("proxy_mode must be one of no-proxy, system, basic, ntlm")
	ErrInvalidSource       = errors.New("thumbnail source must be one of api, s3, azure")
	ErrMissingBucket       = errors.New("bucket is required for the s3 thumbnail source")
	ErrMissingContainerURL = errors.New("container_url is required for the azure thumbnail source")
)

// ConfigDir is the directory name under the user config directory.
const ConfigDir = "rescale-gallery"

// DefaultConfigPath returns the default path for the config file.
func DefaultConfigPath() (string, error) {
	var configDir string

	if runtime.GOOS == "windows" {
		userProfile := os.Getenv("USERPROFILE")
		if userProfile == "" {
			return "", errors.New("USERPROFILE environment variable not set")
		}
		configDir = filepath.Join(userProfile, ".config", ConfigDir)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config", ConfigDir)
	}

	return filepath.Join(configDir, "gallery.conf"), nil
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	tiers := make([]string, len(constants.DefaultTiers))
	copy(tiers, constants.DefaultTiers)

	return &Config{
		APIBaseURL: "http://localhost:8080",
		ProxyMode:  "no-proxy",
		Viewport: ViewportConfig{
			PageSize:            constants.DefaultPageSize,
			Tiers:               tiers,
			GridMaxTier:         0,
			ViewerMinTier:       0,
			PrefetchConcurrency: constants.DefaultPrefetchConcurrency,
		},
		Thumbnails: ThumbnailConfig{
			Source: SourceAPI,
		},
		LogLevel: "info",
	}
}

// Load loads configuration from an INI file and applies environment
// overrides. A missing file yields defaults and no error; an unreadable or
// malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			cfg.ApplyEnv()
			return cfg, nil
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg.ApplyEnv()
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	server := iniFile.Section("server")
	cfg.APIBaseURL = server.Key("url").MustString(cfg.APIBaseURL)
	cfg.APIKey = server.Key("api_key").String()
	cfg.ProxyMode = server.Key("proxy_mode").MustString(cfg.ProxyMode)
	cfg.ProxyHost = server.Key("proxy_host").String()
	cfg.ProxyPort = server.Key("proxy_port").MustInt(0)
	cfg.ProxyUser = server.Key("proxy_user").String()
	cfg.NoProxy = server.Key("no_proxy").String()
	cfg.ProxyWarmup = server.Key("proxy_warmup").MustBool(false)

	vp := iniFile.Section("viewport")
	cfg.Viewport.PageSize = vp.Key("page_size").MustInt(cfg.Viewport.PageSize)
	if tiers := vp.Key("tiers").Strings(","); len(tiers) > 0 {
		cfg.Viewport.Tiers = tiers
	}
	cfg.Viewport.GridMaxTier = vp.Key("grid_max_tier").MustInt(cfg.Viewport.GridMaxTier)
	cfg.Viewport.ViewerMinTier = vp.Key("viewer_min_tier").MustInt(cfg.Viewport.ViewerMinTier)
	cfg.Viewport.PrefetchConcurrency = vp.Key("prefetch_concurrency").MustInt(cfg.Viewport.PrefetchConcurrency)

	th := iniFile.Section("thumbnails")
	cfg.Thumbnails.Source = th.Key("source").MustString(cfg.Thumbnails.Source)
	cfg.Thumbnails.Bucket = th.Key("bucket").String()
	cfg.Thumbnails.Region = th.Key("region").String()
	cfg.Thumbnails.Endpoint = th.Key("endpoint").String()
	cfg.Thumbnails.AccessKeyID = th.Key("access_key_id").String()
	cfg.Thumbnails.SecretAccessKey = th.Key("secret_access_key").String()
	cfg.Thumbnails.ContainerURL = th.Key("container_url").String()
	cfg.Thumbnails.Prefix = th.Key("prefix").String()
	cfg.Thumbnails.Verify = th.Key("verify").MustBool(false)

	cfg.LogLevel = iniFile.Section("log").Key("level").MustString(cfg.LogLevel)

	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides the server URL and API key from the environment.
func (cfg *Config) ApplyEnv() {
	if v := os.Getenv(EnvServerURL); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.APIKey = v
	}
}

// Save writes the configuration to an INI file with owner-only permissions.
// The proxy password is never written.
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()

	server, err := iniFile.NewSection("server")
	if err != nil {
		return fmt.Errorf("failed to create server section: %w", err)
	}
	server.Key("url").SetValue(cfg.APIBaseURL)
	server.Key("api_key").SetValue(cfg.APIKey)
	server.Key("proxy_mode").SetValue(cfg.ProxyMode)
	server.Key("proxy_host").SetValue(cfg.ProxyHost)
	server.Key("proxy_port").SetValue(fmt.Sprintf("%d", cfg.ProxyPort))
	server.Key("proxy_user").SetValue(cfg.ProxyUser)
	server.Key("no_proxy").SetValue(cfg.NoProxy)
	server.Key("proxy_warmup").SetValue(fmt.Sprintf("%t", cfg.ProxyWarmup))

	vp, err := iniFile.NewSection("viewport")
	if err != nil {
		return fmt.Errorf("failed to create viewport section: %w", err)
	}
	vp.Key("page_size").SetValue(fmt.Sprintf("%d", cfg.Viewport.PageSize))
	vp.Key("tiers").SetValue(strings.Join(cfg.Viewport.Tiers, ","))
	vp.Key("grid_max_tier").SetValue(fmt.Sprintf("%d", cfg.Viewport.GridMaxTier))
	vp.Key("viewer_min_tier").SetValue(fmt.Sprintf("%d", cfg.Viewport.ViewerMinTier))
	vp.Key("prefetch_concurrency").SetValue(fmt.Sprintf("%d", cfg.Viewport.PrefetchConcurrency))

	th, err := iniFile.NewSection("thumbnails")
	if err != nil {
		return fmt.Errorf("failed to create thumbnails section: %w", err)
	}
	th.Key("source").SetValue(cfg.Thumbnails.Source)
	th.Key("bucket").SetValue(cfg.Thumbnails.Bucket)
	th.Key("region").SetValue(cfg.Thumbnails.Region)
	th.Key("endpoint").SetValue(cfg.Thumbnails.Endpoint)
	th.Key("access_key_id").SetValue(cfg.Thumbnails.AccessKeyID)
	th.Key("secret_access_key").SetValue(cfg.Thumbnails.SecretAccessKey)
	th.Key("container_url").SetValue(cfg.Thumbnails.ContainerURL)
	th.Key("prefix").SetValue(cfg.Thumbnails.Prefix)
	th.Key("verify").SetValue(fmt.Sprintf("%t", cfg.Thumbnails.Verify))

	logSection, err := iniFile.NewSection("log")
	if err != nil {
		return fmt.Errorf("failed to create log section: %w", err)
	}
	logSection.Key("level").SetValue(cfg.LogLevel)

	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Validate checks the whole configuration.
func (cfg *Config) Validate() error {
	if err := cfg.ValidateForConnection(); err != nil {
		return err
	}

	switch strings.ToLower(cfg.ProxyMode) {
	case "", "no-proxy", "system", "basic", "ntlm":
	default:
		return ErrInvalidProxyMode
	}

	vp := cfg.Viewport
	if vp.PageSize < 1 || vp.PageSize > constants.MaxPageSize {
		return ErrInvalidPageSize
	}
	if len(vp.Tiers) == 0 {
		return ErrNoTiers
	}
	if vp.GridMaxTier < 0 || vp.GridMaxTier >= len(vp.Tiers) ||
		vp.ViewerMinTier < constants.NoTier || vp.ViewerMinTier >= len(vp.Tiers) {
		return ErrInvalidTierBounds
	}

	switch cfg.Thumbnails.Source {
	case SourceAPI, "":
	case SourceS3:
		if strings.TrimSpace(cfg.Thumbnails.Bucket) == "" {
			return ErrMissingBucket
		}
	case SourceAzure:
		if strings.TrimSpace(cfg.Thumbnails.ContainerURL) == "" {
			return ErrMissingContainerURL
		}
	default:
		return ErrInvalidSource
	}

	return nil
}

// ValidateForConnection checks only the server url and api key.
func (cfg *Config) ValidateForConnection() error {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return ErrMissingServerURL
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// MaxTier returns the index of the highest tier.
func (cfg *Config) MaxTier() int {
	return len(cfg.Viewport.Tiers) - 1
}

// TierIndex returns the index of the named tier, or -1.
func (cfg *Config) TierIndex(name string) int {
	for i, t := range cfg.Viewport.Tiers {
		if strings.EqualFold(t, name) {
			return i
		}
	}
	return -1
}
