package tests

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"time"

	"github.com/iTrooz/offline-pwa-proxy/internal/cache/httpcache"
	"github.com/iTrooz/offline-pwa-proxy/internal/config"
	"github.com/iTrooz/offline-pwa-proxy/internal/proxy"
)

// fixture_upstream creates a test upstream server
func fixture_upstream() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		if requ.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"status": "success"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message": "Hello from upstream", "path": "` + requ.URL.Path + `"}`))
	}))
}

// fixture_config creates a test config pointing at upstreamURL
func fixture_config(upstreamURL string, tempDir string) *config.Config {
	cfg := config.Default()
	cfg.Upstream.BaseURL = upstreamURL
	cfg.Cache.Folder = tempDir
	cfg.Cache.Generations = config.DefaultGenerations()
	return &cfg
}

// fixture_proxy creates a proxy server with the given config and returns the server, test server, and HTTP client
func fixture_proxy(cfg *config.Config) (*proxy.Server, *httptest.Server, *http.Client, error) {
	store := httpcache.NewStore(cfg.Cache.Folder)
	if err := store.Init(); err != nil {
		return nil, nil, nil, err
	}

	proxyServer, err := proxy.New(cfg, proxy.Options{Store: store})
	if err != nil {
		return nil, nil, nil, err
	}

	// Create test proxy HTTP server using goproxy
	proxyTestServer := httptest.NewServer(proxyServer.GetProxy())

	// Create HTTP client that uses our proxy
	proxyURL, _ := url.Parse(proxyTestServer.URL)
	client := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		},
		Timeout: 10 * time.Second,
	}

	return proxyServer, proxyTestServer, client, nil
}
