package offlinecache

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/always-cache/offline-cache/cache"
	assetmanifest "github.com/always-cache/offline-cache/pkg/asset-manifest"

	"github.com/stretchr/testify/require"
)

// failingProvider refuses to open stores whose name contains the given fragment.
type failingProvider struct {
	cache.CacheProvider
	fragment string
}

func (p failingProvider) Open(name string) (cache.Store, error) {
	if strings.Contains(name, p.fragment) {
		return nil, errors.New("disk full")
	}
	return p.CacheProvider.Open(name)
}

func TestFirstGenerationActivatesImmediately(t *testing.T) {
	env := newTestEnv(t)

	env.register(t, "v1")

	status := env.engine.Status()
	require.NotNil(t, status.Active)
	require.Equal(t, "v1", status.Active.Version)
	require.Equal(t, "active", status.Active.State)
	require.Equal(t, []string{"/index.html"}, status.Active.Install.Stored)
	require.Nil(t, status.Waiting)
}

func TestNewGenerationWaitsWhileAnotherIsActive(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "v1")

	env.register(t, "v2")

	status := env.engine.Status()
	require.Equal(t, "v1", status.Active.Version)
	require.Equal(t, "v2", status.Waiting.Version)
	require.Equal(t, "waiting", status.Waiting.State)

	// requests keep using v1 while v2 waits
	env.do(newRequest("/assets/app.js"))
	require.Len(t, storeKeys(t, env.mem, "offline-cache-static-v1"), 2)

	require.NoError(t, env.engine.ActivateNow(context.Background()))

	status = env.engine.Status()
	require.Equal(t, "v2", status.Active.Version)
	require.Nil(t, status.Waiting)
	stores, err := env.mem.Stores()
	require.NoError(t, err)
	for _, name := range stores {
		require.NotContains(t, name, "-v1")
	}
}

func TestSkipWaitingActivatesAfterInstall(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.SkipWaiting = true })
	env.register(t, "v1")

	env.register(t, "v2")

	require.Equal(t, "v2", env.engine.Status().Active.Version)
}

func TestNewerWaitingGenerationReplacesOlder(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "v1")
	env.register(t, "v2")

	env.register(t, "v3")

	status := env.engine.Status()
	require.Equal(t, "v1", status.Active.Version)
	require.Equal(t, "v3", status.Waiting.Version)
}

func TestActivateResolvesWaitingGenerationUnderLock(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "v1")
	env.register(t, "v2")
	replaced := env.engine.lifecycle.waiting
	env.register(t, "v3")

	// a stale handle on the replaced generation activates nothing
	require.NoError(t, env.engine.activate(context.Background(), replaced))
	require.Equal(t, "v1", env.engine.Status().Active.Version)

	require.NoError(t, env.engine.activate(context.Background(), nil))
	require.Equal(t, "v3", env.engine.Status().Active.Version)
	require.Equal(t, StateRedundant, replaced.state)
	require.ErrorIs(t, env.engine.activate(context.Background(), nil), ErrNoWaitingGeneration)
}

func TestActivateNowWithoutWaitingGeneration(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "v1")

	err := env.engine.ActivateNow(context.Background())

	require.ErrorIs(t, err, ErrNoWaitingGeneration)
}

func TestActivateNowIsQueuedDuringInstall(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "v1")

	release := make(chan struct{})
	env.engine.network = FetcherFunc(func(ctx context.Context, r *http.Request) (*http.Response, error) {
		<-release
		return env.network.Fetch(ctx, r)
	})
	done := make(chan error, 1)
	go func() {
		_, err := env.engine.Register(context.Background(), "v2", assetmanifest.Manifest{"/index.html"})
		done <- err
	}()

	require.Eventually(t, func() bool {
		return env.engine.Status().Installing != nil
	}, time.Second, time.Millisecond)
	require.NoError(t, env.engine.ActivateNow(context.Background()))
	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("install did not complete")
	}
	require.Equal(t, "v2", env.engine.Status().Active.Version)
}

func TestInstallFailsWhenStaticStoreCannotOpen(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Cache = failingProvider{CacheProvider: c.Cache, fragment: "static-v2"}
	})
	env.register(t, "v1")

	_, err := env.engine.Register(context.Background(), "v2", assetmanifest.Manifest{"/index.html"})

	require.ErrorIs(t, err, ErrInstallFailed)
	status := env.engine.Status()
	require.Equal(t, "v1", status.Active.Version)
	require.Nil(t, status.Waiting)
	require.Nil(t, status.Installing)
}

func TestInstallFailureWithoutPreviousGeneration(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Cache = failingProvider{CacheProvider: c.Cache, fragment: "static"}
	})

	_, err := env.engine.Register(context.Background(), "v1", assetmanifest.Manifest{"/index.html"})

	require.ErrorIs(t, err, ErrInstallFailed)
	require.Nil(t, env.engine.Status().Active)
	rr := env.do(newRequest("/assets/app.js"))
	require.Equal(t, "passthrough", rr.Body.String())
}

func TestRegisterSameVersionIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "v1")
	fetches := env.network.totalFetches()

	result := env.register(t, "v1")

	require.Equal(t, fetches, env.network.totalFetches())
	require.Equal(t, []string{"/index.html"}, result.Stored)
	require.Equal(t, "v1", env.engine.Status().Active.Version)
}

func TestRegisterRejectsEmptyVersion(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.Register(context.Background(), "", nil)

	require.ErrorIs(t, err, ErrInstallFailed)
}

func TestDispatchUnknownEvent(t *testing.T) {
	env := newTestEnv(t)

	err := env.engine.dispatch(context.Background(), Event{Kind: "sync"})

	require.ErrorIs(t, err, ErrUnknownEvent)
}
