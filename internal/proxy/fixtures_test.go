package proxy

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/iTrooz/offline-pwa-proxy/internal/cache/httpcache"
	"github.com/iTrooz/offline-pwa-proxy/internal/config"

	"github.com/stretchr/testify/require"
)

const testOrigin = "http://app.test"

var errNetworkDown = errors.New("dial tcp: connect: connection refused")

// fakeNetwork serves requests from handler, or fails them all while offline
type fakeNetwork struct {
	handler http.Handler

	mu      sync.Mutex
	offline bool
	calls   []string
}

func (n *fakeNetwork) RoundTrip(req *http.Request) (*http.Response, error) {
	n.mu.Lock()
	n.calls = append(n.calls, req.Method+" "+req.URL.Path)
	offline := n.offline
	n.mu.Unlock()

	if offline {
		return nil, errNetworkDown
	}
	rec := httptest.NewRecorder()
	n.handler.ServeHTTP(rec, req)
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

func (n *fakeNetwork) setOffline(offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = offline
}

func (n *fakeNetwork) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

// echoHandler answers every path with "<path> v<version>"
func echoHandler(version string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.css" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, r.URL.Path+" "+version)
	})
}

type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) ReportFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func fixture_config(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Upstream.BaseURL = testOrigin
	cfg.Cache.Folder = t.TempDir()
	cfg.Cache.Generations = config.DefaultGenerations()
	return &cfg
}

func fixture_store(t *testing.T, cfg *config.Config) *httpcache.Store {
	t.Helper()
	store := httpcache.NewStore(cfg.Cache.Folder)
	require.NoError(t, store.Init())
	return store
}

func fixture_interceptor(t *testing.T) (*Interceptor, *fakeNetwork, *httpcache.Store, *recordingReporter) {
	t.Helper()
	cfg := fixture_config(t)
	store := fixture_store(t, cfg)
	routes, err := DefaultRoutes(cfg, store)
	require.NoError(t, err)

	network := &fakeNetwork{handler: echoHandler("v1")}
	reporter := &recordingReporter{}
	return NewInterceptor(network, routes, reporter), network, store, reporter
}

func get(path string) *http.Request {
	return httptest.NewRequest(http.MethodGet, testOrigin+path, nil)
}

func navigate(path string) *http.Request {
	req := get(path)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	return req
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func putEntry(t *testing.T, store *httpcache.Store, generation, path, body string) {
	t.Helper()
	req := get(path)
	resp := &http.Response{
		StatusCode: http.StatusOK,
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
	require.NoError(t, store.Put(req.Context(), generation, req, resp))
}
