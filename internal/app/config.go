package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full clip gallery configuration.
type Config struct {
	DBPath   string    `yaml:"db_path"`
	HTTPAddr string    `yaml:"http_addr"`
	LogLevel string    `yaml:"log_level"`
	Channels []Channel `yaml:"channels"`

	Catalog FeedSpec `yaml:"catalog"`
	Icons   FeedSpec `yaml:"icons"`

	Gallery GalleryConfig `yaml:"gallery"`
	Assets  AssetsConfig  `yaml:"assets"`
}

// GalleryConfig configures every session.
type GalleryConfig struct {
	PageSize           int           `yaml:"page_size"`
	ScrollDebounce     time.Duration `yaml:"scroll_debounce"`
	VisibilityInterval time.Duration `yaml:"visibility_interval"`
	DeepLinkTimeout    time.Duration `yaml:"deep_link_timeout"` // 0 waits forever
	Autoplay           bool          `yaml:"autoplay"`
	ShareBaseURL       string        `yaml:"share_base_url"`
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"` // 0 keeps idle sessions
	MaxSessions        int           `yaml:"max_sessions"`         // 0 is unlimited
}

// AssetsConfig configures signed URL resolution.
type AssetsConfig struct {
	Endpoint    string        `yaml:"endpoint"`     // signed URL service
	FallbackURL string        `yaml:"fallback_url"` // static base used without an endpoint
	CacheSize   int           `yaml:"cache_size"`
	Timeout     time.Duration `yaml:"timeout"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		DBPath:   "clips.db",
		HTTPAddr: ":8080",
		LogLevel: "info",
		Catalog: FeedSpec{
			Source:        "filtered_messages.json",
			Shape:         ShapeList,
			TimestampUnit: UnitSeconds,
			ExpireUnit:    UnitMilliseconds,
		},
		Icons: FeedSpec{
			Source: "user_icons.json",
			Shape:  ShapeGlobal,
		},
		Gallery: GalleryConfig{
			PageSize:           DefaultPageSize,
			ScrollDebounce:     DefaultScrollDebounce,
			VisibilityInterval: DefaultVisibilityInterval,
			Autoplay:           true,
			ShareBaseURL:       "http://localhost:8080/",
			SessionIdleTimeout: DefaultSessionIdleTimeout,
			MaxSessions:        DefaultMaxSessions,
		},
		Assets: AssetsConfig{
			CacheSize: DefaultAssetCacheSize,
			Timeout:   DefaultAssetFetchTimeout,
		},
	}
}

// LoadConfig reads and parses a YAML config file. Returns DefaultConfig merged with the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if err := ValidateRegistry(c.Channels); err != nil {
		return err
	}
	if err := c.Catalog.ValidateCatalog(); err != nil {
		return err
	}
	if err := c.Icons.ValidateIcons(); err != nil {
		return err
	}
	if c.Gallery.PageSize < 1 || c.Gallery.PageSize > MaxPageSize {
		return fmt.Errorf("gallery.page_size must be between 1 and %d", MaxPageSize)
	}
	if c.Gallery.ScrollDebounce < 0 || c.Gallery.VisibilityInterval < 0 || c.Gallery.DeepLinkTimeout < 0 ||
		c.Gallery.SessionIdleTimeout < 0 {
		return fmt.Errorf("gallery durations must not be negative")
	}
	if c.Gallery.MaxSessions < 0 {
		return fmt.Errorf("gallery.max_sessions must not be negative")
	}
	if c.Assets.CacheSize <= 0 {
		return fmt.Errorf("assets.cache_size must be > 0")
	}
	return nil
}

// GalleryOptions returns session options for this configuration.
func (c *Config) GalleryOptions(assets *AssetResolver, logger *slog.Logger) GalleryOptions {
	return GalleryOptions{
		PageSize:           c.Gallery.PageSize,
		Registry:           c.Channels,
		ScrollDebounce:     c.Gallery.ScrollDebounce,
		VisibilityInterval: c.Gallery.VisibilityInterval,
		DeepLinkTimeout:    c.Gallery.DeepLinkTimeout,
		Autoplay:           c.Gallery.Autoplay,
		IdleTimeout:        c.Gallery.SessionIdleTimeout,
		MaxSessions:        c.Gallery.MaxSessions,
		Assets:             assets,
		Logger:             logger,
	}
}

// URLFetcher returns the signed URL source this configuration names.
func (c *Config) URLFetcher() SignedURLFetcher {
	if c.Assets.Endpoint == "" {
		return StaticURLFetcher{Base: c.Assets.FallbackURL}
	}
	return &HTTPSignedURLFetcher{Endpoint: c.Assets.Endpoint, Client: &http.Client{Timeout: c.Assets.Timeout}}
}

// ParseLogLevel maps debug, info, warn and error to slog levels.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log_level %q", s)
	}
}
