package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/iTrooz/offline-pwa-proxy/internal/client"

	"github.com/sirupsen/logrus"
)

// QueuedHeader carries the id of a mutation stored for a later drain
const QueuedHeader = "X-Offline-Queued"

const maxMutationBody = 1 << 20

// Enqueuer stores a mutation payload until it can be delivered
type Enqueuer = client.Enqueuer

// serveOrigin answers requests addressed to the proxy itself, as if it were the app origin
func (s *Server) serveOrigin(w http.ResponseWriter, r *http.Request) {
	out := outgoing(r)
	out.URL.Scheme = s.upstream.Scheme
	out.URL.Host = s.upstream.Host
	out.Host = s.upstream.Host

	if q, ok := s.mutations[r.URL.Path]; ok && r.Method == http.MethodPost {
		s.serveMutation(w, out, q)
		return
	}

	resp, err := s.interceptor.RoundTrip(out)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeResponse(w, resp)
}

// serveMutation forwards a write, queueing it when the server cannot take it
func (s *Server) serveMutation(w http.ResponseWriter, out *http.Request, q Enqueuer) {
	body, err := io.ReadAll(io.LimitReader(out.Body, maxMutationBody+1))
	_ = out.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) > maxMutationBody {
		http.Error(w, fmt.Sprintf("request body exceeds %d bytes", maxMutationBody), http.StatusRequestEntityTooLarge)
		return
	}

	var resp *http.Response
	send := func(ctx context.Context, payload json.RawMessage) error {
		out.Body = io.NopCloser(bytes.NewReader(payload))
		out.ContentLength = int64(len(payload))
		r, err := s.interceptor.RoundTrip(out.WithContext(ctx))
		if err != nil {
			return err
		}
		resp = r
		if r.StatusCode < 200 || r.StatusCode > 299 {
			return fmt.Errorf("server answered %s", r.Status)
		}
		return nil
	}

	result, err := client.SubmitOrQueue(out.Context(), nil, q, json.RawMessage(body), send)
	switch {
	case err == nil:
		writeResponse(w, resp)
	case !result.Queued:
		logrus.Errorf("Failed to queue %s: %v", out.URL.Path, err)
		if resp != nil {
			writeResponse(w, resp)
		} else {
			http.Error(w, err.Error(), http.StatusBadGateway)
		}
	case resp == nil:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(QueuedHeader, result.Item.ID)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "queued",
			"id":      result.Item.ID,
			"message": "You are offline. The entry has been saved locally and will sync when you are back online.",
		})
	default:
		// The server rejected it: still queued, and the rejection is passed on for the user
		resp.Header.Set(QueuedHeader, result.Item.ID)
		writeResponse(w, resp)
	}
}

func writeResponse(w http.ResponseWriter, resp *http.Response) {
	defer func() { _ = resp.Body.Close() }()

	removeHopHeaders(resp.Header)
	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logrus.Errorf("Failed to write response body: %v", err)
	}
}
