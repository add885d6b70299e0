package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/iTrooz/offline-pwa-proxy/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture_server(t *testing.T, network http.RoundTripper) (*Server, *queue.Queue) {
	t.Helper()
	cfg := fixture_config(t)
	store := fixture_store(t, cfg)

	sqlite, err := queue.OpenSQLite(filepath.Join(t.TempDir(), "pending.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	journal := queue.New(sqlite, cfg.Queue.JournalKey, queue.KindJournalEntry)

	s, err := New(cfg, Options{
		Store:     store,
		Transport: network,
		Mutations: map[string]Enqueuer{"/add_reflection": journal},
	})
	require.NoError(t, err)
	return s, journal
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(fixture_config(t), Options{})
	assert.Error(t, err)
}

func TestNewRejectsMissingGeneration(t *testing.T) {
	cfg := fixture_config(t)
	cfg.Cache.Generations = cfg.Cache.Generations[:1]
	_, err := New(cfg, Options{Store: fixture_store(t, cfg)})
	assert.Error(t, err)
}

func TestOriginServesUpstream(t *testing.T) {
	hosts := make(chan string, 1)
	network := &fakeNetwork{handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hosts <- r.URL.Host
		echoHandler("v1").ServeHTTP(w, r)
	})}
	s, _ := fixture_server(t, network)

	origin := httptest.NewServer(s.GetProxy())
	defer origin.Close()

	resp, err := http.Get(origin.URL + "/reflections")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, CacheMiss, resp.Header.Get(HeaderCache))
	assert.Equal(t, "/reflections v1", readBody(t, resp))
	assert.Equal(t, "app.test", <-hosts)

	network.setOffline(true)
	resp, err = http.Get(origin.URL + "/reflections")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, CacheHit, resp.Header.Get(HeaderCache))
	assert.Equal(t, "/reflections v1", readBody(t, resp))
}

func TestOriginOfflineWithoutCopy(t *testing.T) {
	network := &fakeNetwork{handler: echoHandler("v1")}
	network.setOffline(true)
	s, _ := fixture_server(t, network)

	origin := httptest.NewServer(s.GetProxy())
	defer origin.Close()

	resp, err := http.Get(origin.URL + "/api/leaderboard")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	_ = readBody(t, resp)
}

func TestOriginQueuesMutationWhileOffline(t *testing.T) {
	network := &fakeNetwork{handler: echoHandler("v1")}
	network.setOffline(true)
	s, journal := fixture_server(t, network)

	origin := httptest.NewServer(s.GetProxy())
	defer origin.Close()

	payload := `{"week":3,"journalName":"Week 3","journalDate":"2025-02-10","taskName":"PWA","taskDescription":"offline","techStack":["Go"]}`
	resp, err := http.Post(origin.URL+"/add_reflection", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	id := resp.Header.Get(QueuedHeader)
	assert.NotEmpty(t, id)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	_ = resp.Body.Close()
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, id, body["id"])

	items, err := journal.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)
	assert.JSONEq(t, payload, string(items[0].Payload))
}

func TestOriginQueuesRejectedMutation(t *testing.T) {
	network := &fakeNetwork{handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"database unavailable"}`, http.StatusInternalServerError)
	})}
	s, journal := fixture_server(t, network)

	origin := httptest.NewServer(s.GetProxy())
	defer origin.Close()

	resp, err := http.Post(origin.URL+"/add_reflection", "application/json", strings.NewReader(`{"week":1}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(QueuedHeader))
	_ = readBody(t, resp)

	n, err := journal.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOriginForwardsAcceptedMutation(t *testing.T) {
	received := make(chan string, 1)
	network := &fakeNetwork{handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		received <- string(data)
		w.WriteHeader(http.StatusCreated)
	})}
	s, journal := fixture_server(t, network)

	origin := httptest.NewServer(s.GetProxy())
	defer origin.Close()

	resp, err := http.Post(origin.URL+"/add_reflection", "application/json", strings.NewReader(`{"week":1}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Empty(t, resp.Header.Get(QueuedHeader))
	_ = readBody(t, resp)
	assert.Equal(t, `{"week":1}`, <-received)

	n, err := journal.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestForwardProxyCachesStaticAssets(t *testing.T) {
	upstream := httptest.NewServer(echoHandler("v1"))

	cfg := fixture_config(t)
	cfg.Upstream.BaseURL = upstream.URL
	s, err := New(cfg, Options{Store: fixture_store(t, cfg)})
	require.NoError(t, err)

	proxyServer := httptest.NewServer(s.GetProxy())
	defer proxyServer.Close()

	proxyURL, _ := url.Parse(proxyServer.URL)
	client := &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		Timeout:   10 * time.Second,
	}

	resp, err := client.Get(upstream.URL + "/css/style.css")
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, resp.Header.Get(HeaderCache))
	assert.Equal(t, "/css/style.css v1", readBody(t, resp))

	upstream.Close()

	resp, err = client.Get(upstream.URL + "/css/style.css")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, CacheHit, resp.Header.Get(HeaderCache))
	assert.Equal(t, "/css/style.css v1", readBody(t, resp))
}

func TestOriginRejectsOversizedMutation(t *testing.T) {
	network := &fakeNetwork{handler: echoHandler("v1")}
	s, journal := fixture_server(t, network)

	origin := httptest.NewServer(s.GetProxy())
	defer origin.Close()

	payload := `{"reflection":"` + strings.Repeat("a", 2*maxMutationBody) + `"}`
	resp, err := http.Post(origin.URL+"/add_reflection", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Empty(t, resp.Header.Get(QueuedHeader))
	_ = readBody(t, resp)

	assert.Zero(t, network.callCount(), "nothing reaches the server")
	n, err := journal.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOriginForwardsMutationAtLimit(t *testing.T) {
	received := make(chan int, 1)
	network := &fakeNetwork{handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		received <- len(data)
		w.WriteHeader(http.StatusCreated)
	})}
	s, _ := fixture_server(t, network)

	origin := httptest.NewServer(s.GetProxy())
	defer origin.Close()

	prefix, suffix := `{"reflection":"`, `"}`
	payload := prefix + strings.Repeat("a", maxMutationBody-len(prefix)-len(suffix)) + suffix
	resp, err := http.Post(origin.URL+"/add_reflection", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = readBody(t, resp)
	assert.Equal(t, maxMutationBody, <-received)
}
