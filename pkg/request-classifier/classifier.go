package classifier

import (
	"net/http"
	"net/url"
	"strings"

	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
)

type Category int

const (
	// Ignored requests are not intercepted and go straight to the network.
	Ignored Category = iota
	Static
	Image
	Dynamic
)

func (c Category) String() string {
	switch c {
	case Static:
		return "static"
	case Image:
		return "image"
	case Dynamic:
		return "dynamic"
	default:
		return "ignored"
	}
}

var (
	DefaultAPIMarkers     = []string{"/api/", "canister"}
	DefaultAPIQueryParams = []string{"canisterId"}

	staticSuffixes = []string{".js", ".css", ".woff", ".woff2", ".ttf"}
	imageSuffixes  = []string{".png", ".jpg", ".jpeg", ".svg", ".webp", ".gif"}
)

const (
	assetsDir    = "/assets/"
	manifestPath = "/manifest.json"
)

// Classifier maps requests to a caching category.
// It is stateless; the zero value treats every origin as foreign.
type Classifier struct {
	// Origin of the application. Requests to any other origin are ignored.
	Origin *url.URL
	// Path substrings marking backend calls.
	APIMarkers []string
	// Query parameters marking backend calls.
	APIQueryParams []string
}

// New returns a classifier for the given origin with the default API markers.
func New(origin *url.URL) Classifier {
	return Classifier{
		Origin:         origin,
		APIMarkers:     DefaultAPIMarkers,
		APIQueryParams: DefaultAPIQueryParams,
	}
}

// Classify returns the category of a request given its method and absolute URL.
// Rules are evaluated in order; the first match wins.
func (c Classifier) Classify(method string, u *url.URL) Category {
	if c.Origin == nil || !cachekey.SameOrigin(u, c.Origin) {
		return Ignored
	}
	if method != http.MethodGet {
		return Ignored
	}
	if c.isAPI(u) {
		return Ignored
	}
	if IsStaticAsset(u.Path) {
		return Static
	}
	if IsImageAsset(u.Path) {
		return Image
	}
	return Dynamic
}

func (c Classifier) isAPI(u *url.URL) bool {
	for _, marker := range c.APIMarkers {
		if marker != "" && strings.Contains(u.Path, marker) {
			return true
		}
	}
	if len(c.APIQueryParams) == 0 || u.RawQuery == "" {
		return false
	}
	query := u.Query()
	for _, param := range c.APIQueryParams {
		if query.Has(param) {
			return true
		}
	}
	return false
}

// IsStaticAsset reports whether the path is under the assets directory,
// has a script, stylesheet or font extension, or is the web app manifest.
func IsStaticAsset(path string) bool {
	return strings.Contains(path, assetsDir) ||
		hasAnySuffix(path, staticSuffixes) ||
		path == manifestPath
}

// IsImageAsset reports whether the path has a known image extension.
func IsImageAsset(path string) bool {
	return hasAnySuffix(path, imageSuffixes)
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}
