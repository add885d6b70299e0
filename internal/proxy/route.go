package proxy

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/iTrooz/offline-pwa-proxy/internal/cache/httpcache"
	"github.com/iTrooz/offline-pwa-proxy/internal/config"
)

// Matcher selects the requests a Route applies to
type Matcher func(req *http.Request) bool

// Route binds a strategy to the requests it handles
type Route struct {
	Name     string
	Match    Matcher
	Strategy Strategy
}

// IsNavigation matches full-page loads
func IsNavigation(req *http.Request) bool {
	if mode := req.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

// PathPrefix matches requests whose path starts with any of prefixes
func PathPrefix(prefixes ...string) Matcher {
	return func(req *http.Request) bool {
		for _, prefix := range prefixes {
			if strings.HasPrefix(req.URL.Path, prefix) {
				return true
			}
		}
		return false
	}
}

// Always matches every request
func Always(*http.Request) bool {
	return true
}

// DefaultRoutes builds the routing table of cfg, evaluated top to bottom:
// navigations, then API prefixes, then everything else as static assets.
func DefaultRoutes(cfg *config.Config, store *httpcache.Store) ([]Route, error) {
	static, ok := cfg.Generation(config.ClassStatic)
	if !ok {
		return nil, fmt.Errorf("no static generation configured")
	}
	dynamic, ok := cfg.Generation(config.ClassDynamic)
	if !ok {
		return nil, fmt.Errorf("no dynamic generation configured")
	}

	return []Route{
		{
			Name:  "navigation",
			Match: IsNavigation,
			Strategy: &NavigationStrategy{
				Store:      store,
				Static:     static.StorageName(),
				OfflineURL: cfg.Cache.OfflineURL,
			},
		},
		{
			Name:  "api",
			Match: PathPrefix(cfg.Routes.APIPrefixes...),
			Strategy: &NetworkFirstStrategy{
				Store:   store,
				Dynamic: dynamic.StorageName(),
				Static:  static.StorageName(),
			},
		},
		{
			Name:  "static",
			Match: Always,
			Strategy: &CacheFirstStrategy{
				Store:  store,
				Static: static.StorageName(),
			},
		},
	}, nil
}
