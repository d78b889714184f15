package cachekey

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

var ErrorMethodNotSupported = fmt.Errorf("Method not supported")

const methodSeparator = ":"

// CacheKeyer derives request identities.
// An identity is the method and the normalized absolute URL of a request,
// e.g. `GET:https://app.example/assets/app.js?v=2`.
type CacheKeyer struct {
	// Origin used to resolve requests that carry only a path,
	// such as manifest entries or server-side requests without a host.
	Origin *url.URL
}

func NewCacheKeyer(origin *url.URL) CacheKeyer {
	return CacheKeyer{Origin: origin}
}

// MethodPrefix gets the key prefix for all requests with the given method.
func (c CacheKeyer) MethodPrefix(method string) string {
	return method + methodSeparator
}

// GetKey returns the identity of a request.
// Only GET requests are ever stored, so the request body never takes part in the key.
func (c CacheKeyer) GetKey(r *http.Request) string {
	return c.MethodPrefix(r.Method) + c.AbsoluteURL(r).String()
}

// KeyForPath returns the GET identity of a path relative to the origin.
func (c CacheKeyer) KeyForPath(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	return c.MethodPrefix(http.MethodGet) + Normalize(c.resolve(ref)).String(), nil
}

// AbsoluteURL returns the normalized absolute URL of a request.
// Incoming server requests only carry the request URI; their host is taken
// from the Host header and the scheme from TLS or X-Forwarded-Proto.
func (c CacheKeyer) AbsoluteURL(r *http.Request) *url.URL {
	u := *r.URL
	if u.Host == "" && r.Host != "" {
		u.Host = r.Host
		if u.Scheme == "" {
			u.Scheme = requestScheme(r)
		}
	}
	return Normalize(c.resolve(&u))
}

// GetRequestFromKey generates a request equal to the one that resulted in the provided key.
// It returns an error if the request cannot for some reason be deducted.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	method, uri, found := strings.Cut(key, methodSeparator)
	if !found {
		return nil, fmt.Errorf("Malformed key: %s", key)
	}
	if method != http.MethodGet {
		return nil, ErrorMethodNotSupported
	}
	return http.NewRequest(method, uri, nil)
}

func (c CacheKeyer) resolve(u *url.URL) *url.URL {
	if u.IsAbs() || c.Origin == nil {
		return u
	}
	resolved := c.Origin.ResolveReference(u)
	return resolved
}

// Normalize returns a copy of the URL with a lower-case scheme and host,
// no default port, no fragment and a non-empty path.
func Normalize(u *url.URL) *url.URL {
	n := *u
	n.Scheme = strings.ToLower(n.Scheme)
	n.Host = strings.ToLower(n.Host)
	if _, port, err := net.SplitHostPort(n.Host); err == nil {
		if (n.Scheme == "http" && port == "80") || (n.Scheme == "https" && port == "443") {
			// keeps the brackets of IPv6 hosts
			n.Host = strings.TrimSuffix(n.Host, ":"+port)
		}
	}
	n.Fragment = ""
	n.RawFragment = ""
	n.User = nil
	if n.Path == "" && n.Opaque == "" {
		n.Path = "/"
		n.RawPath = ""
	}
	return &n
}

// SameOrigin reports whether two URLs share scheme, host and port.
func SameOrigin(a, b *url.URL) bool {
	na, nb := Normalize(a), Normalize(b)
	return na.Scheme == nb.Scheme && na.Host == nb.Host
}

func requestScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
