package generation

import (
	"testing"

	"github.com/always-cache/offline-cache/cache"
	classifier "github.com/always-cache/offline-cache/pkg/request-classifier"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestStoreNames(t *testing.T) {
	g := Generation{Prefix: "rimonim", Version: "v2"}
	require.Equal(t, "rimonim-static-v2", g.StoreName(classifier.Static))
	require.Equal(t, []string{"rimonim-static-v2", "rimonim-dynamic-v2", "rimonim-image-v2"}, g.StoreNames())
	require.True(t, g.Owns("rimonim-image-v2"))
	require.False(t, g.Owns("rimonim-image-v1"))
	require.False(t, g.Owns("other-image-v2"))
}

func TestParseStoreName(t *testing.T) {
	tests := []struct {
		name     string
		category classifier.Category
		version  string
		ok       bool
	}{
		{"offline-cache-static-v1", classifier.Static, "v1", true},
		{"offline-cache-dynamic-2024-01-01", classifier.Dynamic, "2024-01-01", true},
		{"offline-cache-image-v3", classifier.Image, "v3", true},
		{"offline-cache-static-", classifier.Ignored, "", false},
		{"offline-cache-fonts-v1", classifier.Ignored, "", false},
		{"user-uploads", classifier.Ignored, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			category, version, ok := ParseStoreName(DefaultPrefix, tt.name)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.category, category)
			require.Equal(t, tt.version, version)
		})
	}
}

func TestCollectDeletesOnlyOtherVersions(t *testing.T) {
	provider := cache.NewMemCache()
	m := NewManager(provider, "", zerolog.Nop())
	for _, version := range []string{"v1", "v2"} {
		for _, c := range Categories {
			s, err := m.Open(m.Generation(version), c)
			require.NoError(t, err)
			require.NoError(t, s.Put("k", []byte(version)))
		}
	}
	_, err := provider.Open("user-uploads")
	require.NoError(t, err)

	versions, err := m.Versions()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"v1", "v2"}, versions)

	deleted, err := m.Collect("v2")
	require.NoError(t, err)
	require.ElementsMatch(t, m.Generation("v1").StoreNames(), deleted)

	names, err := provider.Stores()
	require.NoError(t, err)
	require.ElementsMatch(t, append(m.Generation("v2").StoreNames(), "user-uploads"), names)

	stale, err := m.Stale("v2")
	require.NoError(t, err)
	require.Empty(t, stale)
}

func TestCollectKeepsListedVersions(t *testing.T) {
	provider := cache.NewMemCache()
	m := NewManager(provider, "", zerolog.Nop())
	for _, version := range []string{"v1", "v2", "v3"} {
		_, err := m.Open(m.Generation(version), classifier.Static)
		require.NoError(t, err)
	}

	deleted, err := m.Collect("v2", "v3")

	require.NoError(t, err)
	require.Equal(t, []string{"offline-cache-static-v1"}, deleted)
}
