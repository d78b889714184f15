package classifier

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	origin, _ := url.Parse("https://app.test")
	c := New(origin)

	tests := []struct {
		name   string
		method string
		url    string
		want   Category
	}{
		{"cross origin script", http.MethodGet, "https://cdn.test/app.js", Ignored},
		{"other scheme", http.MethodGet, "http://app.test/app.js", Ignored},
		{"post", http.MethodPost, "https://app.test/form", Ignored},
		{"api path", http.MethodGet, "https://app.test/api/users", Ignored},
		{"api path with static suffix", http.MethodGet, "https://app.test/api/bundle.js", Ignored},
		{"canister path", http.MethodGet, "https://app.test/canister/logo.png", Ignored},
		{"canister query", http.MethodGet, "https://app.test/data?canisterId=abc", Ignored},
		{"script", http.MethodGet, "https://app.test/main.js", Static},
		{"stylesheet", http.MethodGet, "https://app.test/style.css", Static},
		{"font", http.MethodGet, "https://app.test/fonts/inter.woff2", Static},
		{"ttf", http.MethodGet, "https://app.test/fonts/inter.ttf", Static},
		{"manifest", http.MethodGet, "https://app.test/manifest.json", Static},
		{"assets dir", http.MethodGet, "https://app.test/assets/data.bin", Static},
		{"image under assets", http.MethodGet, "https://app.test/assets/generated/icon.png", Static},
		{"png", http.MethodGet, "https://app.test/img/photo.png", Image},
		{"jpeg", http.MethodGet, "https://app.test/photo.jpeg", Image},
		{"svg", http.MethodGet, "https://app.test/logo.svg", Image},
		{"webp", http.MethodGet, "https://app.test/logo.webp", Image},
		{"gif", http.MethodGet, "https://app.test/spinner.gif", Image},
		{"root", http.MethodGet, "https://app.test/", Dynamic},
		{"page", http.MethodGet, "https://app.test/reportes?month=3", Dynamic},
		{"nested manifest is dynamic", http.MethodGet, "https://app.test/x/manifest.json", Dynamic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.url)
			require.NoError(t, err)
			require.Equal(t, tt.want, c.Classify(tt.method, u))
		})
	}
}

func TestZeroClassifierIgnoresEverything(t *testing.T) {
	u, _ := url.Parse("https://app.test/main.js")
	require.Equal(t, Ignored, Classifier{}.Classify(http.MethodGet, u))
}

func TestCustomMarkers(t *testing.T) {
	origin, _ := url.Parse("https://app.test")
	c := Classifier{Origin: origin, APIMarkers: []string{"/rpc/"}}
	rpc, _ := url.Parse("https://app.test/rpc/call")
	api, _ := url.Parse("https://app.test/api/users?canisterId=1")
	require.Equal(t, Ignored, c.Classify(http.MethodGet, rpc))
	require.Equal(t, Dynamic, c.Classify(http.MethodGet, api))
}

func TestCategoryString(t *testing.T) {
	require.Equal(t, "static", Static.String())
	require.Equal(t, "image", Image.String())
	require.Equal(t, "dynamic", Dynamic.String())
	require.Equal(t, "ignored", Ignored.String())
}
