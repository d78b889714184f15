package offlinecache

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/always-cache/offline-cache/cache"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
	classifier "github.com/always-cache/offline-cache/pkg/request-classifier"
	"github.com/always-cache/offline-cache/rfc9211"
)

const (
	OfflineImageBody   = "Image not available offline"
	OfflineContentBody = "Offline - content not available"
)

// strategy resolves a classified request against the given generation.
// It always produces a response.
type strategy interface {
	Execute(ctx context.Context, w *Worker, r *http.Request) (*http.Response, rfc9211.CacheStatus)
}

// cacheFirst answers from the category's store and only goes to the network on a miss.
type cacheFirst struct {
	e        *Engine
	category classifier.Category
	// fall back to the shell document when the network fails
	shell       bool
	offlineBody string
}

func (s cacheFirst) Execute(ctx context.Context, w *Worker, r *http.Request) (*http.Response, rfc9211.CacheStatus) {
	var cs rfc9211.CacheStatus
	store := w.Store(s.category)
	key := s.e.keyer.GetKey(r)

	if res, ok := s.e.lookup(store, key, r); ok {
		cs.Hit()
		return res, cs
	}

	cs.Forward(rfc9211.FwdReasonUriMiss)
	res, err := s.e.fetch(ctx, r)
	if err == nil && res.StatusCode == http.StatusOK {
		cs.Stored = s.e.store(store, key, res)
		return res, cs
	}
	if err != nil {
		s.e.log.Debug().Err(err).Str("key", key).Msg("Network failed")
	} else {
		cs.FwdStatus = res.StatusCode
	}

	if s.shell {
		if shell, ok := s.e.shell(w, r); ok {
			cs.Forward(rfc9211.FwdReasonMiss)
			cs.Detail = "shell"
			return shell, cs
		}
	}
	if res != nil {
		return res, cs
	}
	cs.Forward(rfc9211.FwdReasonMiss)
	cs.Detail = "offline"
	return offlineResponse(r, s.offlineBody), cs
}

// networkFirst goes to the network and only uses the store when the network fails.
type networkFirst struct {
	e        *Engine
	category classifier.Category
}

func (s networkFirst) Execute(ctx context.Context, w *Worker, r *http.Request) (*http.Response, rfc9211.CacheStatus) {
	var cs rfc9211.CacheStatus
	store := w.Store(s.category)
	key := s.e.keyer.GetKey(r)

	cs.Forward(rfc9211.FwdReasonRequest)
	res, err := s.e.fetch(ctx, r)
	if err == nil {
		if res.StatusCode == http.StatusOK {
			cs.Stored = s.e.store(store, key, res)
		} else {
			// the network is reachable, its answer stands
			cs.FwdStatus = res.StatusCode
		}
		return res, cs
	}
	s.e.log.Debug().Err(err).Str("key", key).Msg("Network failed")

	if res, ok := s.e.lookup(store, key, r); ok {
		cs.Hit()
		cs.Detail = "offline"
		return res, cs
	}
	cs.Forward(rfc9211.FwdReasonMiss)
	if isNavigation(r) {
		if shell, ok := s.e.shell(w, r); ok {
			cs.Detail = "shell"
			return shell, cs
		}
	}
	cs.Detail = "offline"
	return offlineResponse(r, OfflineContentBody), cs
}

func (e *Engine) newStrategies() map[classifier.Category]strategy {
	return map[classifier.Category]strategy{
		classifier.Static:  cacheFirst{e: e, category: classifier.Static, shell: true, offlineBody: OfflineContentBody},
		classifier.Image:   cacheFirst{e: e, category: classifier.Image, offlineBody: OfflineImageBody},
		classifier.Dynamic: networkFirst{e: e, category: classifier.Dynamic},
	}
}

// lookup gets a stored response from the store.
// Read errors are logged and treated as a miss.
func (e *Engine) lookup(store cache.Store, key string, r *http.Request) (*http.Response, bool) {
	bytes, ok, err := store.Get(key)
	if err != nil {
		e.log.Error().Err(err).Str("store", store.Name()).Str("key", key).Msg("Could not read from store")
		return nil, false
	}
	if !ok {
		e.log.Trace().Str("store", store.Name()).Str("key", key).Msg("Cache miss")
		return nil, false
	}
	sRes, err := serializer.BytesToStoredResponse(bytes, r)
	if err != nil {
		e.log.Error().Err(err).Str("store", store.Name()).Str("key", key).Msg("Could not decode stored response, purging")
		if err := store.Purge(key); err != nil {
			e.log.Error().Err(err).Str("store", store.Name()).Str("key", key).Msg("Could not purge entry")
		}
		return nil, false
	}
	if !sRes.StoredAt.IsZero() {
		age := int(time.Since(sRes.StoredAt).Seconds())
		if age < 0 {
			age = 0
		}
		sRes.Response.Header.Set("Age", strconv.Itoa(age))
	}
	e.log.Trace().Str("store", store.Name()).Str("key", key).Msg("Cache hit")
	return sRes.Response, true
}

// store writes the response into the store and reports whether it was stored.
// Failures are logged and do not affect the response.
func (e *Engine) store(store cache.Store, key string, res *http.Response) bool {
	if !e.shareable(res) {
		e.log.Trace().Str("store", store.Name()).Str("key", key).Msg("Response is private, not storing")
		return false
	}
	bytes, err := serializer.StoredResponseToBytes(serializer.StoredResponse{
		Response: res,
		StoredAt: time.Now(),
	})
	if err != nil {
		e.log.Error().Err(err).Str("key", key).Msg("Could not serialize response")
		return false
	}
	if err := store.Put(key, bytes); err != nil {
		e.log.Error().Err(err).Str("store", store.Name()).Str("key", key).Msg("Could not write to store")
		return false
	}
	e.log.Trace().Str("store", store.Name()).Str("key", key).Msg("Stored response")
	return true
}

// shareable reports whether the response may be stored where every client can read it.
// Responses to requests with credentials are only stored when the origin allows shared
// caches to store them (RFC 9111 section 3.5).
func (e *Engine) shareable(res *http.Response) bool {
	if hasDirective(res.Header, "private") {
		return false
	}
	r := res.Request
	if r == nil || hasDirective(res.Header, "public", "s-maxage", "must-revalidate") {
		return true
	}
	if r.Header.Get("Authorization") != "" {
		return false
	}
	if e.storeCookieRequests {
		return true
	}
	for _, cookie := range r.Cookies() {
		if cookie.Name != ClientIDName {
			return false
		}
	}
	return true
}

// hasDirective reports whether the Cache-Control header contains one of the directives.
func hasDirective(header http.Header, directives ...string) bool {
	for _, value := range header.Values("Cache-Control") {
		for _, directive := range strings.Split(value, ",") {
			name, _, _ := strings.Cut(strings.TrimSpace(directive), "=")
			for _, d := range directives {
				if strings.EqualFold(name, d) {
					return true
				}
			}
		}
	}
	return false
}

// shell returns the stored application shell document.
// The static store is consulted before the dynamic store for every candidate path.
func (e *Engine) shell(w *Worker, r *http.Request) (*http.Response, bool) {
	for _, path := range e.shellURLs {
		key, err := e.keyer.KeyForPath(path)
		if err != nil {
			continue
		}
		for _, category := range []classifier.Category{classifier.Static, classifier.Dynamic} {
			store := w.Store(category)
			if store == nil {
				continue
			}
			if res, ok := e.lookup(store, key, r); ok {
				return res, true
			}
		}
	}
	return nil, false
}

func offlineResponse(r *http.Request, body string) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	return &http.Response{
		Status:        "503 Service Unavailable",
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       r,
	}
}

// isNavigation reports whether the request is a top-level document load.
func isNavigation(r *http.Request) bool {
	mode := r.Header.Get("Sec-Fetch-Mode")
	dest := r.Header.Get("Sec-Fetch-Dest")
	if mode != "" || dest != "" {
		return mode == "navigate" || dest == "document"
	}
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}
