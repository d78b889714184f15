package offlinecache

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientLoadedBeforeActivationStaysUncontrolled(t *testing.T) {
	env := newTestEnv(t)
	env.do(newRequest("/", "Sec-Fetch-Mode", "navigate", ClientIDName, "c1"))
	env.register(t, "v1")
	before := env.passthrough.Load()

	rr := env.do(newRequest("/assets/app.js", ClientIDName, "c1"))

	require.Equal(t, "passthrough", rr.Body.String())
	require.Equal(t, before+1, env.passthrough.Load())
	require.Zero(t, env.network.fetchCount("/assets/app.js"))

	// a new document load puts the client under control
	env.do(newRequest("/", "Sec-Fetch-Mode", "navigate", ClientIDName, "c1"))
	rr = env.do(newRequest("/assets/app.js", ClientIDName, "c1"))

	require.Equal(t, "OfflineCache; fwd=uri-miss; stored", rr.Header().Get("Cache-Status"))
}

func TestClaimClientsControlsOpenClients(t *testing.T) {
	env := newTestEnv(t)
	env.do(newRequest("/", "Sec-Fetch-Mode", "navigate", ClientIDName, "c1"))
	env.register(t, "v1")
	require.Equal(t, 1, env.engine.Status().UncontrolledClients)

	rr := postMessage(env, `{"type":"CLAIM_CLIENTS"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)

	rr = env.do(newRequest("/assets/app.js", ClientIDName, "c1"))
	require.Equal(t, "OfflineCache; fwd=uri-miss; stored", rr.Header().Get("Cache-Status"))
	require.Zero(t, env.engine.Status().UncontrolledClients)
}

func TestClaimOnActivate(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.ClaimOnActivate = true })
	env.do(newRequest("/", "Sec-Fetch-Mode", "navigate", ClientIDName, "c1"))
	env.register(t, "v1")

	rr := env.do(newRequest("/assets/app.js", ClientIDName, "c1"))

	require.Equal(t, "OfflineCache; fwd=uri-miss; stored", rr.Header().Get("Cache-Status"))
}

func TestRequestsWithoutClientIDAreControlled(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "v1")

	rr := env.do(newRequest("/assets/app.js"))

	require.Equal(t, "OfflineCache; fwd=uri-miss; stored", rr.Header().Get("Cache-Status"))
}

func TestNavigationAssignsClientCookie(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "v1")

	rr := env.do(newRequest("/", "Sec-Fetch-Mode", "navigate"))

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, ClientIDName, cookies[0].Name)
	require.NotEmpty(t, cookies[0].Value)

	// the cookie identifies the client on later requests
	r := newRequest("/assets/app.js")
	r.AddCookie(cookies[0])
	require.Equal(t, cookies[0].Value, clientID(r))
}

func TestIsNavigation(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		want   bool
	}{
		{"fetch mode navigate", []string{"Sec-Fetch-Mode", "navigate"}, true},
		{"fetch dest document", []string{"Sec-Fetch-Dest", "document"}, true},
		{"fetch metadata for xhr", []string{"Sec-Fetch-Mode", "cors", "Accept", "text/html"}, false},
		{"accept html without metadata", []string{"Accept", "text/html,application/xhtml+xml"}, true},
		{"accept json", []string{"Accept", "application/json"}, false},
		{"no headers", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, isNavigation(newRequest("/", tt.header...)))
		})
	}
}
