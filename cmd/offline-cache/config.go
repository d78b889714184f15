package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"
	assetmanifest "github.com/always-cache/offline-cache/pkg/asset-manifest"
	"github.com/always-cache/offline-cache/pkg/generation"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var (
	errRequired = errors.New("required")
	errInvalid  = errors.New("invalid value")
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Cache      CacheConfig      `yaml:"cache"`
	Generation GenerationConfig `yaml:"generation"`
	Network    NetworkConfig    `yaml:"network"`
	Classifier ClassifierConfig `yaml:"classifier"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// Origin URL to proxy to
	Origin string `yaml:"origin"`
	// Hostname of origin, if it differs from the origin URL
	Host string `yaml:"host"`
	// Public URL of the application, defaults to http://localhost:<port>
	App string `yaml:"app"`
}

type CacheConfig struct {
	// memory, sqlite or leveldb
	Provider string `yaml:"provider"`
	Path     string `yaml:"path"`
	Prefix   string `yaml:"prefix"`
	// store responses to requests with cookies in the shared stores
	StoreCookieRequests bool `yaml:"storeCookieRequests"`
}

type GenerationConfig struct {
	Version         string   `yaml:"version"`
	Manifest        []string `yaml:"manifest"`
	ManifestFile    string   `yaml:"manifestFile"`
	Shell           []string `yaml:"shell"`
	SkipWaiting     bool     `yaml:"skipWaiting"`
	ClaimOnActivate bool     `yaml:"claimOnActivate"`
}

type NetworkConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type ClassifierConfig struct {
	APIMarkers     []string `yaml:"apiMarkers"`
	APIQueryParams []string `yaml:"apiQueryParams"`
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Cache: CacheConfig{
			Provider: "sqlite",
			Path:     "offline-cache.db",
			Prefix:   generation.DefaultPrefix,
		},
		Generation: GenerationConfig{
			SkipWaiting:     true,
			ClaimOnActivate: true,
		},
		Network: NetworkConfig{
			Timeout: offlinecache.DefaultFetchTimeout,
		},
	}
}

// LoadConfig reads the config file on top of the defaults.
// An empty filename yields the defaults.
func LoadConfig(filename string) (Config, error) {
	config := defaultConfig()
	if filename == "" {
		return config, nil
	}
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	if err := yaml.Unmarshal(configBytes, &config); err != nil {
		return config, fmt.Errorf("parse %s: %w", filename, err)
	}
	return config, nil
}

// ValidateStorage checks the settings needed to open the cache.
func (c Config) ValidateStorage() error {
	switch c.Cache.Provider {
	case "memory":
	case "sqlite", "leveldb":
		if c.Cache.Path == "" {
			return fmt.Errorf("cache.path: %w", errRequired)
		}
	default:
		return fmt.Errorf("cache.provider: %w: %q", errInvalid, c.Cache.Provider)
	}
	if c.Cache.Prefix == "" {
		return fmt.Errorf("cache.prefix: %w", errRequired)
	}
	return nil
}

// Validate checks the settings needed to run the engine.
func (c Config) Validate() error {
	if err := c.ValidateStorage(); err != nil {
		return err
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %w: %d", errInvalid, c.Server.Port)
	}
	if c.Server.Origin == "" {
		return fmt.Errorf("server.origin: %w", errRequired)
	}
	if _, err := parseOrigin(c.Server.Origin); err != nil {
		return fmt.Errorf("server.origin: %w", err)
	}
	if c.Server.App != "" {
		if _, err := parseOrigin(c.Server.App); err != nil {
			return fmt.Errorf("server.app: %w", err)
		}
	}
	if c.Generation.Version == "" {
		return fmt.Errorf("generation.version: %w", errRequired)
	}
	if c.Generation.ManifestFile != "" && len(c.Generation.Manifest) > 0 {
		return fmt.Errorf("generation.manifestFile: %w: manifest is also given inline", errInvalid)
	}
	if c.Network.Timeout < 0 {
		return fmt.Errorf("network.timeout: %w: %s", errInvalid, c.Network.Timeout)
	}
	return nil
}

// AssetManifest returns the configured manifest, falling back to the default one.
func (c Config) AssetManifest() (assetmanifest.Manifest, error) {
	manifest := assetmanifest.DefaultManifest
	switch {
	case c.Generation.ManifestFile != "":
		m, err := assetmanifest.Load(c.Generation.ManifestFile)
		if err != nil {
			return nil, fmt.Errorf("generation.manifestFile: %w", err)
		}
		manifest = m
	case len(c.Generation.Manifest) > 0:
		manifest = assetmanifest.Manifest(c.Generation.Manifest)
	}
	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("generation.manifest: %w", err)
	}
	return manifest, nil
}

// EngineConfig translates the file config into the engine's config.
func (c Config) EngineConfig(provider cache.CacheProvider, logger *zerolog.Logger) (offlinecache.Config, error) {
	originURL, err := parseOrigin(c.Server.Origin)
	if err != nil {
		return offlinecache.Config{}, fmt.Errorf("server.origin: %w", err)
	}
	app := c.Server.App
	if app == "" {
		app = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	appURL, err := parseOrigin(app)
	if err != nil {
		return offlinecache.Config{}, fmt.Errorf("server.app: %w", err)
	}
	return offlinecache.Config{
		Cache:           provider,
		AppOrigin:       *appURL,
		OriginURL:       *originURL,
		OriginHost:      c.Server.Host,
		Prefix:          c.Cache.Prefix,
		FetchTimeout:    c.Network.Timeout,
		ShellURLs:       c.Generation.Shell,
		APIMarkers:      c.Classifier.APIMarkers,
		APIQueryParams:  c.Classifier.APIQueryParams,
		SkipWaiting:     c.Generation.SkipWaiting,
		ClaimOnActivate: c.Generation.ClaimOnActivate,
		Logger:          logger,

		StoreCookieRequests: c.Cache.StoreCookieRequests,
	}, nil
}

// OpenProvider opens the configured cache provider.
func (c CacheConfig) OpenProvider() (cache.CacheProvider, error) {
	switch c.Provider {
	case "memory":
		return cache.NewMemCache(), nil
	case "sqlite":
		provider, err := cache.NewSQLiteCache(c.Path)
		if err != nil {
			return nil, err
		}
		return provider, nil
	case "leveldb":
		provider, err := cache.NewLevelDBCache(c.Path)
		if err != nil {
			return nil, err
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("cache.provider: %w: %q", errInvalid, c.Provider)
	}
}

func parseOrigin(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme must be http or https", errInvalid)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", errInvalid)
	}
	return u, nil
}
