package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/always-cache/offline-cache/cache"
	assetmanifest "github.com/always-cache/offline-cache/pkg/asset-manifest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(filename, []byte(content), 0644))
	return filename
}

func TestLoadConfig(t *testing.T) {
	filename := writeFile(t, "offline-cache.yaml", `
server:
  port: 9000
  origin: https://origin.example
  app: https://app.example
cache:
  provider: leveldb
  path: /var/lib/offline-cache
  storeCookieRequests: true
generation:
  version: v2
  manifest:
    - /
    - /index.html
  skipWaiting: false
network:
  timeout: 3s
classifier:
  apiMarkers: ["/rpc/"]
`)

	config, err := LoadConfig(filename)

	require.NoError(t, err)
	require.NoError(t, config.Validate())
	require.Equal(t, 9000, config.Server.Port)
	require.Equal(t, "leveldb", config.Cache.Provider)
	require.Equal(t, "offline-cache", config.Cache.Prefix)
	require.True(t, config.Cache.StoreCookieRequests)
	require.Equal(t, "v2", config.Generation.Version)
	require.False(t, config.Generation.SkipWaiting)
	require.True(t, config.Generation.ClaimOnActivate)
	require.Equal(t, 3*time.Second, config.Network.Timeout)
	require.Equal(t, []string{"/rpc/"}, config.Classifier.APIMarkers)

	manifest, err := config.AssetManifest()
	require.NoError(t, err)
	require.Equal(t, assetmanifest.Manifest{"/", "/index.html"}, manifest)
}

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig("")

	require.NoError(t, err)
	require.Equal(t, 8080, config.Server.Port)
	require.Equal(t, "sqlite", config.Cache.Provider)
	require.True(t, config.Generation.SkipWaiting)

	manifest, err := config.AssetManifest()
	require.NoError(t, err)
	require.Equal(t, assetmanifest.DefaultManifest, manifest)
}

func TestManifestFile(t *testing.T) {
	manifestFile := writeFile(t, "assets.yaml", "assets:\n  - /\n  - /icons/icon-192.png\n")
	config := defaultConfig()
	config.Generation.ManifestFile = manifestFile

	manifest, err := config.AssetManifest()

	require.NoError(t, err)
	require.Equal(t, assetmanifest.Manifest{"/", "/icons/icon-192.png"}, manifest)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := defaultConfig()
		c.Server.Origin = "http://localhost:3000"
		c.Generation.Version = "v1"
		return c
	}
	tests := []struct {
		name   string
		modify func(*Config)
		err    error
	}{
		{"valid", func(c *Config) {}, nil},
		{"missing origin", func(c *Config) { c.Server.Origin = "" }, errRequired},
		{"origin without scheme", func(c *Config) { c.Server.Origin = "localhost:3000" }, errInvalid},
		{"missing version", func(c *Config) { c.Generation.Version = "" }, errRequired},
		{"unknown provider", func(c *Config) { c.Cache.Provider = "redis" }, errInvalid},
		{"sqlite without path", func(c *Config) { c.Cache.Path = "" }, errRequired},
		{"memory without path", func(c *Config) { c.Cache.Provider = "memory"; c.Cache.Path = "" }, nil},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, errInvalid},
		{"two manifests", func(c *Config) {
			c.Generation.Manifest = []string{"/"}
			c.Generation.ManifestFile = "assets.yaml"
		}, errInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.modify(&c)
			err := c.Validate()
			if tt.err == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestEngineConfig(t *testing.T) {
	config := defaultConfig()
	config.Server.Origin = "https://origin.example"
	config.Server.Host = "app.example"
	logger := zerolog.Nop()

	engineConfig, err := config.EngineConfig(cache.NewMemCache(), &logger)

	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080", engineConfig.AppOrigin.String())
	require.Equal(t, "origin.example", engineConfig.OriginURL.Host)
	require.Equal(t, "app.example", engineConfig.OriginHost)
	require.True(t, engineConfig.SkipWaiting)
	require.True(t, engineConfig.ClaimOnActivate)
	require.False(t, engineConfig.StoreCookieRequests)
}

func TestOpenProvider(t *testing.T) {
	for _, provider := range []string{"memory", "sqlite", "leveldb"} {
		t.Run(provider, func(t *testing.T) {
			c := CacheConfig{Provider: provider, Path: filepath.Join(t.TempDir(), "cache")}

			p, err := c.OpenProvider()
			require.NoError(t, err)
			defer p.Close()

			_, err = p.Open("offline-cache-static-v1")
			require.NoError(t, err)
			stores, err := p.Stores()
			require.NoError(t, err)
			require.Equal(t, []string{"offline-cache-static-v1"}, stores)
		})
	}
}
