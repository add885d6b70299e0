package httpcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/iTrooz/offline-pwa-proxy/internal/cache"
)

const keySuffix = ".bin"

// HTTPCache stores whole HTTP responses in a GenericCache, keyed by request URL
type HTTPCache struct {
	cache cache.GenericCache
}

func New(cache cache.GenericCache) *HTTPCache {
	return &HTTPCache{
		cache: cache,
	}
}

// GenerateKey builds the storage key of a request from its normalized URL:
// scheme/host/path/GET[_s][_q<queryhash>].bin, where _s marks a trailing slash
func (d *HTTPCache) GenerateKey(request *http.Request) (string, error) {
	return d.generateKey(request, false)
}

func (d *HTTPCache) generateKey(request *http.Request, ignoreQuery bool) (string, error) {
	if request.URL == nil {
		return "", fmt.Errorf("request has no URL")
	}
	u := request.URL

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	host := strings.ToLower(u.Host)
	if host == "" {
		host = strings.ToLower(request.Host)
	}
	if host == "" {
		return "", fmt.Errorf("request %s has no host", u.String())
	}
	host = strings.TrimSuffix(strings.TrimSuffix(host, ":80"), ":443")

	pathParts := []string{scheme, host}

	// Clean removes dot segments so a key never leaves its generation
	cleanPath := strings.Trim(path.Clean("/"+u.Path), "/")
	if cleanPath != "" {
		pathParts = append(pathParts, cleanPath)
	}

	filename := http.MethodGet
	// /reflections/ and /reflections are distinct resources
	if cleanPath != "" && strings.HasSuffix(u.Path, "/") {
		filename += "_s"
	}
	if u.RawQuery != "" && !ignoreQuery {
		hash := sha256.Sum256([]byte(u.RawQuery))
		filename += "_q" + hex.EncodeToString(hash[:])[:16]
	}
	filename += keySuffix

	pathParts = append(pathParts, filename)

	return strings.Join(pathParts, "/"), nil
}

// SetReq stores resp as the cached response of request
func (d *HTTPCache) SetReq(request *http.Request, resp *http.Response) error {
	if request.Method != http.MethodGet {
		return fmt.Errorf("only GET responses are cacheable, got %s", request.Method)
	}

	cacheKey, err := d.GenerateKey(request)
	if err != nil {
		return fmt.Errorf("failed to generate cache key: %w", err)
	}

	return d.SetKey(cacheKey, resp)
}

func (d *HTTPCache) SetKey(requestKey string, resp *http.Response) error {
	data, err := Serialize(resp)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if err := d.cache.Set(requestKey, data); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	return nil
}

// GetReq returns the cached response of req, or nil, nil on a miss
func (d *HTTPCache) GetReq(req *http.Request) (*http.Response, error) {
	requestKey, err := d.GenerateKey(req)
	if err != nil {
		return nil, fmt.Errorf("failed to generate cache key: %w", err)
	}

	resp, err := d.GetKey(requestKey)
	if err != nil {
		return nil, err
	}
	// Handle no cache hit
	if resp == nil {
		return nil, nil
	}

	// Associate the original request with the response
	resp.Request = req
	return resp, nil
}

// GetReqIgnoreQuery returns any cached response sharing req's scheme, host and path.
// The entry stored without a query string wins, then the first one by key order.
func (d *HTTPCache) GetReqIgnoreQuery(req *http.Request) (*http.Response, error) {
	bareKey, err := d.generateKey(req, true)
	if err != nil {
		return nil, fmt.Errorf("failed to generate cache key: %w", err)
	}

	siblings, err := d.cache.Siblings(bareKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache: %w", err)
	}

	prefix := strings.TrimSuffix(bareKey, keySuffix)
	candidates := make([]string, 0, len(siblings))
	for _, key := range siblings {
		if key == bareKey {
			candidates = append([]string{key}, candidates...)
		} else if strings.HasPrefix(key, prefix+"_q") && strings.HasSuffix(key, keySuffix) {
			candidates = append(candidates, key)
		}
	}

	for _, key := range candidates {
		resp, err := d.GetKey(key)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			resp.Request = req
			return resp, nil
		}
	}
	return nil, nil
}

func (d *HTTPCache) GetKey(requestKey string) (*http.Response, error) {
	data, err := d.cache.Get(requestKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}
	if data == nil {
		return nil, nil // Cache miss
	}

	resp, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}
	return resp, nil
}
