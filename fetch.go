package offlinecache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
	tee "github.com/always-cache/offline-cache/pkg/response-writer-tee"
)

// DefaultFetchTimeout bounds every network fetch made by a strategy or the precache.
const DefaultFetchTimeout = 10 * time.Second

// ErrNetwork is wrapped by every error returned from a failed network fetch,
// including fetches that ran into the timeout.
var ErrNetwork = errors.New("network failure")

// Fetcher is the network as seen by the engine.
// The returned response must be complete; implementations may not return a
// response and an error at the same time.
type Fetcher interface {
	Fetch(ctx context.Context, r *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, r *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	return f(ctx, r)
}

// originFetcher fetches resources from an origin server.
type originFetcher struct {
	originURL  url.URL
	originHost string
	client     http.Client
}

func newOriginFetcher(originURL url.URL, originHost string) *originFetcher {
	f := &originFetcher{
		originURL:  originURL,
		originHost: originHost,
		client: http.Client{
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	// use provided hostname for origin if configured
	if originHost != "" {
		f.client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				ServerName: originHost,
			},
		}
	}
	return f
}

// Fetch the resource specified in the incoming request from the origin
func (f *originFetcher) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	uri := f.originURL.String() + r.URL.RequestURI()
	req, err := http.NewRequestWithContext(ctx, r.Method, uri, nil)
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, r.Header)
	if f.originHost != "" {
		req.Host = f.originHost
	}
	// do not forward connection header, this causes trouble
	req.Header.Del("Connection")
	return f.client.Do(req)
}

// handlerFetcher treats an in-process handler as the network.
type handlerFetcher struct {
	next http.Handler
}

func (f handlerFetcher) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	req := r.Clone(ctx)
	rw := tee.NewResponseSaver()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("handler panic: %v", p)
			}
		}()
		f.next.ServeHTTP(rw, req)
		done <- nil
	}()
	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		return rw.Result(r), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// conditionalHeaders make the network answer relative to the client's own HTTP cache,
// e.g. with a 304 or a 206, neither of which can be stored or served to other clients.
var conditionalHeaders = []string{
	"If-None-Match",
	"If-Modified-Since",
	"If-Match",
	"If-Unmodified-Since",
	"If-Range",
	"Range",
}

// networkRequest returns a copy of the client's request that asks for the complete resource.
// The client id only concerns this cache and is not sent upstream.
func networkRequest(ctx context.Context, r *http.Request) *http.Request {
	req := r.Clone(ctx)
	for _, field := range conditionalHeaders {
		req.Header.Del(field)
	}
	req.Header.Del(ClientIDName)
	cookies := req.Cookies()
	req.Header.Del("Cookie")
	for _, cookie := range cookies {
		if cookie.Name != ClientIDName {
			req.AddCookie(cookie)
		}
	}
	return req
}

// fetch performs a bounded network fetch and buffers the response body.
// Any failure, a timeout included, is returned wrapped in ErrNetwork.
func (e *Engine) fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()

	res, err := e.network.Fetch(ctx, networkRequest(ctx, r))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNetwork, r.URL, err)
	}
	// the body is part of the network response, so reading it shares the timeout
	if _, err := serializer.ReadBody(res); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNetwork, r.URL, err)
	}
	if res.Header == nil {
		res.Header = make(http.Header)
	}
	if res.Header.Get("Date") == "" {
		res.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	res.Request = r
	return res, nil
}
