package offlinecache

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/always-cache/offline-cache/cache"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	"github.com/always-cache/offline-cache/pkg/generation"
	classifier "github.com/always-cache/offline-cache/pkg/request-classifier"
	"github.com/always-cache/offline-cache/rfc9211"

	"github.com/rs/zerolog"
)

// ControlPathPrefix is the path under which the control channel is served.
const ControlPathPrefix = "/.offline-cache/"

// DefaultShellURLs are the candidates for the application shell document, in order.
var DefaultShellURLs = []string{"/index.html", "/"}

type Config struct {
	// Storage for the named stores of all generations.
	Cache cache.CacheProvider
	// Origin of the application as its clients see it.
	// Requests to other origins are not intercepted, and manifest paths resolve against it.
	AppOrigin url.URL
	// URL of the origin server requests are forwarded to.
	// Not used when Next or Network is set.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation with the origin.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Handler to wrap instead of proxying to an origin server (middleware mode).
	// It serves both the network fetches of the strategies and ignored requests.
	Next http.Handler
	// Optional network to use for strategy and precache fetches.
	// Ignored requests still go to Next or the origin.
	Network Fetcher
	// Prefix of all store names. Defaults to generation.DefaultPrefix.
	Prefix string
	// Upper bound of a single network fetch. Defaults to DefaultFetchTimeout.
	FetchTimeout time.Duration
	// Paths of the application shell document. Defaults to DefaultShellURLs.
	ShellURLs []string
	// Path substrings and query parameters marking backend calls.
	// The classifier defaults are used if nil.
	APIMarkers     []string
	APIQueryParams []string
	// Activate a new generation as soon as it is installed.
	SkipWaiting bool
	// Claim all clients when a generation activates.
	ClaimOnActivate bool
	// Store responses to requests carrying cookies.
	// The stores are shared by all clients, so only enable this if cookies do not change responses.
	// Requests with an Authorization header are never stored unless the response is public.
	StoreCookieRequests bool
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

// Engine intercepts read requests and answers them from the active generation's stores
// or the network, according to the request's category.
type Engine struct {
	cache        cache.CacheProvider
	keyer        cachekey.CacheKeyer
	classifier   classifier.Classifier
	generations  generation.Manager
	network      Fetcher
	passthrough  http.Handler
	fetchTimeout time.Duration
	shellURLs    []string
	log          zerolog.Logger

	storeCookieRequests bool

	lifecycle  *lifecycle
	clients    *clients
	strategies map[classifier.Category]strategy
	events     map[EventKind]eventHandler
	control    http.Handler
}

// CreateEngine initializes the engine.
// No generation is active until one is registered with Register.
func CreateEngine(config Config) *Engine {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	} else {
		logger = *config.Logger
	}

	// create a child logger and add defaults
	logger = logger.With().
		Str("app", config.AppOrigin.String()).
		Logger()

	appOrigin := config.AppOrigin
	c := classifier.New(&appOrigin)
	if config.APIMarkers != nil {
		c.APIMarkers = config.APIMarkers
	}
	if config.APIQueryParams != nil {
		c.APIQueryParams = config.APIQueryParams
	}

	e := &Engine{
		cache:        config.Cache,
		keyer:        cachekey.NewCacheKeyer(&appOrigin),
		classifier:   c,
		generations:  generation.NewManager(config.Cache, config.Prefix, logger),
		fetchTimeout: config.FetchTimeout,
		shellURLs:    config.ShellURLs,
		log:          logger,

		storeCookieRequests: config.StoreCookieRequests,
		lifecycle: &lifecycle{
			skipWaiting:     config.SkipWaiting,
			claimOnActivate: config.ClaimOnActivate,
		},
		clients: newClients(),
	}
	if e.fetchTimeout <= 0 {
		e.fetchTimeout = DefaultFetchTimeout
	}
	if len(e.shellURLs) == 0 {
		e.shellURLs = DefaultShellURLs
	}

	if config.Next != nil {
		e.network = handlerFetcher{next: config.Next}
		e.passthrough = config.Next
	} else {
		e.network = newOriginFetcher(config.OriginURL, config.OriginHost)
		e.passthrough = &httputil.ReverseProxy{
			Director:  createDirector(config.OriginURL.Scheme, config.OriginURL.Host, config.OriginHost),
			Transport: e.network.(*originFetcher).client.Transport,
			ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
				logger.Error().Err(err).Str("url", r.URL.String()).Msg("Error contacting origin")
				http.Error(w, "Error contacting origin", http.StatusBadGateway)
			},
		}
	}
	if config.Network != nil {
		e.network = config.Network
	}

	e.strategies = e.newStrategies()
	e.events = e.eventHandlers()
	e.control = e.controlRouter()
	return e
}

// ServeHTTP implements the http.Handler interface.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, ControlPathPrefix) {
		e.control.ServeHTTP(w, r)
		return
	}
	defer e.recover(w, r)
	if err := e.dispatch(r.Context(), Event{Kind: EventFetch, Writer: w, Request: r}); err != nil {
		e.log.Error().Err(err).Msg("Fetch event failed")
	}
}

// recover recovers from panics and sends the request to the network as if it was not intercepted.
func (e *Engine) recover(w http.ResponseWriter, r *http.Request) {
	if err := recover(); err != nil {
		e.log.WithLevel(zerolog.PanicLevel).Interface("error", err).Msg("Panic in cache handler")
		e.passthrough.ServeHTTP(w, r)
	}
}

// handleFetch routes one intercepted request.
func (e *Engine) handleFetch(w http.ResponseWriter, r *http.Request) {
	absURL := e.keyer.AbsoluteURL(r)
	category := e.classifier.Classify(r.Method, absURL)
	navigation := isNavigation(r)

	id := clientID(r)
	if id == "" && navigation {
		id = newClientID(w)
	}
	active := e.lifecycle.Active()
	controlled := e.clients.controlled(id, active != nil, navigation)

	if category == classifier.Ignored || active == nil || !controlled {
		e.log.Trace().
			Str("url", absURL.String()).
			Str("category", category.String()).
			Bool("controlled", controlled && active != nil).
			Msg("Passing request through")
		var cs rfc9211.CacheStatus
		if r.Method != http.MethodGet {
			cs.Forward(rfc9211.FwdReasonMethod)
		} else {
			cs.Forward(rfc9211.FwdReasonBypass)
		}
		w.Header().Set("Cache-Status", cs.String())
		e.passthrough.ServeHTTP(w, r)
		return
	}

	log := e.log.With().
		Str("version", active.Version).
		Str("category", category.String()).
		Logger()
	log.Trace().Str("url", absURL.String()).Msg("Intercepted request")

	res, cs := e.strategies[category].Execute(r.Context(), active, r)
	e.send(w, res, cs)
}

// send writes the response to the client, together with its Cache-Status.
func (e *Engine) send(w http.ResponseWriter, res *http.Response, status rfc9211.CacheStatus) error {
	evt := e.log.Debug()
	if res.Request != nil {
		evt = evt.Str("url", res.Request.URL.String())
	}
	isHit := 0
	if status.Status == rfc9211.StatusHit {
		isHit = 1
	}
	evt.
		Int("status", res.StatusCode).
		Str("fwd", string(status.FwdReason)).
		Bool("stored", status.Stored).
		Str("detail", status.Detail).
		Int("hit", isHit).
		Msg("Sending response to client")

	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(w.Header(), res.Header)
	w.Header().Add("Cache-Status", status.String())
	w.WriteHeader(res.StatusCode)
	if res.Body == nil {
		return nil
	}
	bytesWritten, err := io.Copy(w, res.Body)
	if err != nil {
		e.log.Error().Err(err).Msg("Could not write response body to client")
	}
	e.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
	return err
}

func createDirector(scheme, host, hostHeader string) func(req *http.Request) {
	return func(req *http.Request) {
		req.URL.Scheme = scheme
		req.URL.Host = host
		if hostHeader != "" {
			req.Host = hostHeader
		}
	}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// this is a warkaround to remove default headers sent by an upstream proxy
		// some servers do not like the presence of these headers in the downstream request
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}

func (e *Engine) String() string {
	return fmt.Sprintf("offline cache for %s", e.classifier.Origin)
}
