// Package client talks to the journal server REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// API routes of the journal server
const (
	PathReflections       = "/reflections"
	PathAddReflection     = "/add_reflection"
	PathSearchReflections = "/reflections/search"
	PathLeaderboard       = "/api/leaderboard"
	PathQuestions         = "/api/questions"
	PathUsers             = "/api/users"
	PathHealth            = "/api/health"
)

// APIError is a non-2xx answer of the server
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s failed with status %d: %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s failed with status %d", e.Method, e.Path, e.Status)
}

// Client is a thin JSON client of the journal server
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

// New creates a client for the server at baseURL.
// httpClient may be nil, in which case http.DefaultClient is used.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: u, http: httpClient}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

// do sends a request and decodes a 2xx JSON answer into out (when non-nil)
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case json.RawMessage:
			reader = bytes.NewReader(b)
		default:
			data, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("failed to encode request body: %w", err)
			}
			reader = bytes.NewReader(data)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodGet {
		req.Header.Set("Cache-Control", "no-store")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Method: method, Path: path, Status: resp.StatusCode}
		var payload struct {
			Message string `json:"message"`
		}
		if data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil {
			if json.Unmarshal(data, &payload) == nil {
				apiErr.Message = payload.Message
			}
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	logrus.Debugf("%s %s -> %d", method, path, resp.StatusCode)
	return nil
}

// ListReflections returns every journal entry, newest first
func (c *Client) ListReflections(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	if err := c.do(ctx, http.MethodGet, PathReflections, nil, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// SearchFilter narrows SearchReflections. Empty fields are ignored.
type SearchFilter struct {
	Query string
	Week  string
	Tech  string
}

// SearchReflections filters journal entries server-side
func (c *Client) SearchReflections(ctx context.Context, filter SearchFilter) ([]Entry, error) {
	query := url.Values{}
	if filter.Query != "" {
		query.Set("q", filter.Query)
	}
	if filter.Week != "" {
		query.Set("week", filter.Week)
	}
	if filter.Tech != "" {
		query.Set("tech", filter.Tech)
	}

	var entries []Entry
	if err := c.do(ctx, http.MethodGet, PathSearchReflections, query, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// AddReflection posts a raw journal entry payload
func (c *Client) AddReflection(ctx context.Context, payload json.RawMessage) error {
	return c.do(ctx, http.MethodPost, PathAddReflection, nil, payload, nil)
}

// UpdateReflection updates the entry identified by id (its timestamp)
func (c *Client) UpdateReflection(ctx context.Context, id string, update Entry) (Entry, error) {
	var updated Entry
	err := c.do(ctx, http.MethodPut, PathReflections+"/"+url.PathEscape(id), nil, update, &updated)
	return updated, err
}

// DeleteReflection deletes the entry identified by id (its timestamp)
func (c *Client) DeleteReflection(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, PathReflections+"/"+url.PathEscape(id), nil, nil, nil)
}

// SubmitScore posts a raw quiz score payload
func (c *Client) SubmitScore(ctx context.Context, payload json.RawMessage) error {
	return c.do(ctx, http.MethodPost, PathLeaderboard, nil, payload, nil)
}

// Leaderboard returns the best scores of mode ("all" for every mode)
func (c *Client) Leaderboard(ctx context.Context, mode string, limit int) ([]LeaderboardRow, error) {
	query := url.Values{}
	if mode == "" {
		mode = "all"
	}
	query.Set("mode", mode)
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var rows []LeaderboardRow
	if err := c.do(ctx, http.MethodGet, PathLeaderboard, query, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Questions returns the raw quiz content of mode
func (c *Client) Questions(ctx context.Context, mode string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, PathQuestions+"/"+url.PathEscape(mode), nil, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// RegisterUser creates a quiz player
func (c *Client) RegisterUser(ctx context.Context, userName string) (User, error) {
	var user User
	err := c.do(ctx, http.MethodPost, PathUsers, nil, map[string]string{"userName": userName}, &user)
	return user, err
}

// Health checks that the server answers
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, PathHealth, nil, nil, nil)
}
