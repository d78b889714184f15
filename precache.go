package offlinecache

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/always-cache/offline-cache/cache"
	assetmanifest "github.com/always-cache/offline-cache/pkg/asset-manifest"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"

	"github.com/dustin/go-humanize"
)

// InstallResult reports the outcome of precaching a generation's manifest.
type InstallResult struct {
	Version string   `json:"version"`
	Stored  []string `json:"stored"`
	Failed  []string `json:"failed"`
	// Bytes is the total size of the stored responses.
	Bytes int64 `json:"bytes"`
}

type precacheOutcome struct {
	size int
	err  error
}

// precache fetches every manifest path and writes the successful responses into the store.
// Each asset is attempted independently; the call returns when all attempts are resolved.
func (e *Engine) precache(ctx context.Context, version string, store cache.Store, manifest assetmanifest.Manifest) InstallResult {
	log := e.log.With().Str("version", version).Str("store", store.Name()).Logger()

	outcomes := make([]precacheOutcome, len(manifest))
	var wg sync.WaitGroup
	for i, path := range manifest {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			size, err := e.precacheAsset(ctx, store, path)
			outcomes[i] = precacheOutcome{size: size, err: err}
		}(i, path)
	}
	wg.Wait()

	result := InstallResult{
		Version: version,
		Stored:  make([]string, 0, len(manifest)),
		Failed:  make([]string, 0),
	}
	for i, path := range manifest {
		if err := outcomes[i].err; err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Could not precache asset")
			result.Failed = append(result.Failed, path)
			continue
		}
		result.Stored = append(result.Stored, path)
		result.Bytes += int64(outcomes[i].size)
	}

	log.Info().
		Int("stored", len(result.Stored)).
		Int("failed", len(result.Failed)).
		Str("size", humanize.Bytes(uint64(result.Bytes))).
		Msg("Precache complete")
	return result
}

func (e *Engine) precacheAsset(ctx context.Context, store cache.Store, path string) (int, error) {
	key, err := e.keyer.KeyForPath(path)
	if err != nil {
		return 0, fmt.Errorf("invalid path: %w", err)
	}
	req, err := e.keyer.GetRequestFromKey(key)
	if err != nil {
		return 0, err
	}
	req = req.WithContext(ctx)

	res, err := e.fetch(ctx, req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	bytes, err := serializer.StoredResponseToBytes(serializer.StoredResponse{
		Response: res,
		StoredAt: time.Now(),
	})
	if err != nil {
		return 0, err
	}
	if err := store.Put(key, bytes); err != nil {
		return 0, fmt.Errorf("store %s: %w", key, err)
	}
	e.log.Trace().Str("key", key).Str("size", humanize.Bytes(uint64(len(bytes)))).Msg("Precached asset")
	return len(bytes), nil
}
