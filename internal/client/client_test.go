package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/iTrooz/offline-pwa-proxy/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixtureServer imitates the journal server routes
type fixtureServer struct {
	mu       sync.Mutex
	received map[string][]string
	reject   bool
}

func (f *fixtureServer) handler() http.Handler {
	mux := http.NewServeMux()
	record := func(r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.received[r.Method+" "+r.URL.Path] = append(f.received[r.Method+" "+r.URL.Path], string(body))
	}

	mux.HandleFunc("GET /reflections", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"week":"5","title":"X","timestamp":"t1"}]`))
	})
	mux.HandleFunc("GET /reflections/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]Entry{{Week: r.URL.Query().Get("week"), Title: r.URL.Query().Get("q")}})
	})
	mux.HandleFunc("POST /add_reflection", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		if f.reject {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"status":"error","message":"Invalid data"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":"success"}`))
	})
	mux.HandleFunc("PUT /reflections/{id}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_ = json.NewEncoder(w).Encode(Entry{Title: "updated", Timestamp: r.PathValue("id")})
	})
	mux.HandleFunc("DELETE /reflections/{id}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/leaderboard", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("GET /api/leaderboard", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]LeaderboardRow{{UserID: "u1", UserName: "Ada", Mode: r.URL.Query().Get("mode"), Score: 42}})
	})
	mux.HandleFunc("GET /api/questions/{mode}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("mode") != "technical" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status":"error","message":"Unknown quiz mode"}`))
			return
		}
		_, _ = w.Write([]byte(`[{"q":"What is Go?"}]`))
	})
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func fixture_client(t *testing.T) (*Client, *fixtureServer) {
	t.Helper()
	f := &fixtureServer{received: map[string][]string{}}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, srv.Client())
	require.NoError(t, err)
	return c, f
}

func fixture_queue(t *testing.T, key string, kind queue.Kind) *queue.Queue {
	t.Helper()
	store, err := queue.OpenSQLite(filepath.Join(t.TempDir(), "pending.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return queue.New(store, key, kind)
}

type staticConnectivity bool

func (s staticConnectivity) Online() bool { return bool(s) }

func TestReadEndpoints(t *testing.T) {
	ctx := context.Background()
	c, _ := fixture_client(t)

	entries, err := c.ListReflections(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "X", entries[0].Title)

	found, err := c.SearchReflections(ctx, SearchFilter{Query: "go", Week: "3"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "3", found[0].Week)
	assert.Equal(t, "go", found[0].Title)

	rows, err := c.Leaderboard(ctx, "memory", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "memory", rows[0].Mode)
	assert.Equal(t, 42, rows[0].Score)

	questions, err := c.Questions(ctx, "technical")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"q":"What is Go?"}]`, string(questions))

	assert.NoError(t, c.Health(ctx))
}

func TestAPIError(t *testing.T) {
	c, _ := fixture_client(t)

	_, err := c.Questions(context.Background(), "unknown")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "Unknown quiz mode", apiErr.Message)
}

func TestUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	c, f := fixture_client(t)

	updated, err := c.UpdateReflection(ctx, "2024-01-01T00:00:00", Entry{Title: "new"})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T00:00:00", updated.Timestamp)

	require.NoError(t, c.DeleteReflection(ctx, "2024-01-01T00:00:00"))
	assert.Len(t, f.received["DELETE /reflections/2024-01-01T00:00:00"], 1)
}

func TestJournalSubmitOnline(t *testing.T) {
	ctx := context.Background()
	c, f := fixture_client(t)
	q := fixture_queue(t, "pendingReflections", queue.KindJournalEntry)

	result, err := NewJournal(c, q, staticConnectivity(true)).Submit(ctx, Entry{Week: "5", Title: "X"})
	require.NoError(t, err)
	assert.False(t, result.Queued)

	require.Len(t, f.received["POST /add_reflection"], 1)
	assert.JSONEq(t, `{"week":"5","title":"X"}`, f.received["POST /add_reflection"][0])

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestJournalSubmitOfflineQueues(t *testing.T) {
	ctx := context.Background()
	c, f := fixture_client(t)
	q := fixture_queue(t, "pendingReflections", queue.KindJournalEntry)

	result, err := NewJournal(c, q, staticConnectivity(false)).Submit(ctx, Entry{Week: "5", Title: "X"})
	assert.ErrorIs(t, err, ErrOffline)
	assert.True(t, result.Queued)
	assert.NotEmpty(t, result.Item.ID)

	// The network was not touched
	assert.Empty(t, f.received["POST /add_reflection"])

	items, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.JSONEq(t, `{"week":"5","title":"X"}`, string(items[0].Payload))
}

func TestJournalSubmitRejectedQueues(t *testing.T) {
	ctx := context.Background()
	c, f := fixture_client(t)
	f.reject = true
	q := fixture_queue(t, "pendingReflections", queue.KindJournalEntry)

	result, err := NewJournal(c, q, nil).Submit(ctx, Entry{Title: "incomplete"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Invalid data", apiErr.Message)
	assert.True(t, result.Queued)
}

func TestQuizSubmitNetworkFailureQueues(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // nothing listens any more

	c, err := New(srv.URL, nil)
	require.NoError(t, err)
	q := fixture_queue(t, "pendingScores", queue.KindQuizScore)

	result, err := NewQuiz(c, q, staticConnectivity(true)).SubmitScore(ctx, Score{UserID: "u1", UserName: "Ada", Mode: "memory", Score: 7})
	assert.Error(t, err)
	assert.True(t, result.Queued)
	assert.Equal(t, queue.KindQuizScore, result.Item.Kind)
}

type failingEnqueuer struct{}

func (failingEnqueuer) Enqueue(context.Context, json.RawMessage) (queue.PendingItem, error) {
	return queue.PendingItem{}, errors.New("disk full")
}

func TestSubmitOrQueueReportsLostPayload(t *testing.T) {
	sendErr := errors.New("connection refused")
	send := func(context.Context, json.RawMessage) error { return sendErr }

	result, err := SubmitOrQueue(context.Background(), nil, failingEnqueuer{}, json.RawMessage(`{}`), send)
	require.Error(t, err)
	assert.False(t, result.Queued)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Contains(t, err.Error(), "disk full")
}
