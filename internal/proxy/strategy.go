package proxy

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/iTrooz/offline-pwa-proxy/internal/cache/httpcache"

	"github.com/sirupsen/logrus"
)

// Response headers describing how a request was served
const (
	HeaderCache    = "X-Cache"
	HeaderStrategy = "X-Cache-Strategy"

	CacheHit     = "HIT"
	CacheMiss    = "MISS"
	CacheOffline = "OFFLINE"
)

//go:embed offline.html
var offlineDocument []byte

// Fetcher sends a request to the network
type Fetcher func(req *http.Request) (*http.Response, error)

// Strategy produces a response for a GET request, from the network, the cache or both.
// It returns either a response or the network error it could not recover from.
type Strategy interface {
	Name() string
	Serve(req *http.Request, fetch Fetcher) (*http.Response, error)
}

// NavigationStrategy is network-first for page loads, with an offline document as last resort
type NavigationStrategy struct {
	Store      *httpcache.Store
	Static     string
	OfflineURL string
}

func (n *NavigationStrategy) Name() string { return "navigation" }

func (n *NavigationStrategy) Serve(req *http.Request, fetch Fetcher) (*http.Response, error) {
	resp, err := fetch(req)
	if err == nil {
		storeCopy(n.Store, n.Static, req, resp)
		return mark(resp, CacheMiss, n), nil
	}

	logrus.Infof("Network unavailable for page %s, falling back to cache: %v", req.URL, err)
	if cached := match(n.Store, n.Static, req, httpcache.MatchOptions{IgnoreQuery: true}); cached != nil {
		return mark(cached, CacheHit, n), nil
	}

	offlineReq := req.Clone(req.Context())
	offlineReq.URL = &url.URL{Scheme: req.URL.Scheme, Host: req.URL.Host, Path: n.OfflineURL}
	if cached := match(n.Store, n.Static, offlineReq, httpcache.MatchOptions{}); cached != nil {
		cached.Request = req
		return mark(cached, CacheOffline, n), nil
	}

	return mark(embeddedOfflineResponse(req), CacheOffline, n), nil
}

// NetworkFirstStrategy serves fresh API data, falling back to the last stored copy
type NetworkFirstStrategy struct {
	Store   *httpcache.Store
	Dynamic string
	// Static is searched when Dynamic has no copy
	Static string
}

func (n *NetworkFirstStrategy) Name() string { return "network-first" }

func (n *NetworkFirstStrategy) Serve(req *http.Request, fetch Fetcher) (*http.Response, error) {
	resp, err := fetch(req)
	if err == nil {
		storeCopy(n.Store, n.Dynamic, req, resp)
		return mark(resp, CacheMiss, n), nil
	}

	logrus.Infof("Network unavailable for %s, falling back to cache: %v", req.URL, err)
	if cached := match(n.Store, n.Dynamic, req, httpcache.MatchOptions{}); cached != nil {
		return mark(cached, CacheHit, n), nil
	}
	if cached := match(n.Store, n.Static, req, httpcache.MatchOptions{}); cached != nil {
		return mark(cached, CacheHit, n), nil
	}
	return nil, err
}

// CacheFirstStrategy serves static assets from the cache, fetching them once
type CacheFirstStrategy struct {
	Store  *httpcache.Store
	Static string
}

func (c *CacheFirstStrategy) Name() string { return "cache-first" }

func (c *CacheFirstStrategy) Serve(req *http.Request, fetch Fetcher) (*http.Response, error) {
	if cached := match(c.Store, c.Static, req, httpcache.MatchOptions{}); cached != nil {
		logrus.Debugf("Serving from cache: %s", req.URL)
		return mark(cached, CacheHit, c), nil
	}

	resp, err := fetch(req)
	if err != nil {
		return nil, err
	}
	storeCopy(c.Store, c.Static, req, resp)
	return mark(resp, CacheMiss, c), nil
}

// match looks req up in generation. Store errors count as a miss.
func match(store *httpcache.Store, generation string, req *http.Request, opts httpcache.MatchOptions) *http.Response {
	resp, err := store.Match(req.Context(), generation, req, opts)
	if err != nil {
		logrus.Errorf("Failed to get cached data for %s: %v", req.URL, err)
		return nil
	}
	if resp == nil {
		logrus.Debugf("No cached data found for %s in %s", req.URL, generation)
	}
	return resp
}

// storeCopy stores a copy of a successful response; resp stays readable
func storeCopy(store *httpcache.Store, generation string, req *http.Request, resp *http.Response) {
	if resp.StatusCode != http.StatusOK {
		return
	}
	if err := store.Put(req.Context(), generation, req, resp); err != nil {
		logrus.Errorf("Failed to cache response for %s: %v", req.URL.String(), err)
	}
}

func mark(resp *http.Response, cacheStatus string, s Strategy) *http.Response {
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	resp.Header.Set(HeaderCache, cacheStatus)
	resp.Header.Set(HeaderStrategy, s.Name())
	return resp
}

func embeddedOfflineResponse(req *http.Request) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", http.StatusOK, http.StatusText(http.StatusOK)),
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"text/html; charset=utf-8"}, "Content-Length": []string{strconv.Itoa(len(offlineDocument))}},
		Body:          io.NopCloser(bytes.NewReader(offlineDocument)),
		ContentLength: int64(len(offlineDocument)),
		Request:       req,
	}
}
