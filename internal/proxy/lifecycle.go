package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"

	"github.com/iTrooz/offline-pwa-proxy/internal/cache/httpcache"
	"github.com/iTrooz/offline-pwa-proxy/internal/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const manifestFile = "generations.yaml"

// Lifecycle installs and activates the configured cache generations
type Lifecycle struct {
	cfg     *config.Config
	store   *httpcache.Store
	network http.RoundTripper
	base    *url.URL
}

// ActivationReport describes what Activate did
type ActivationReport struct {
	// Changed is set when the generations differ from the previous activation
	Changed bool
	Purged  []string
	Warmed  []string
}

// NewLifecycle creates a lifecycle fetching from the configured upstream
func NewLifecycle(cfg *config.Config, store *httpcache.Store, network http.RoundTripper) (*Lifecycle, error) {
	base, err := cfg.UpstreamURL()
	if err != nil {
		return nil, err
	}
	if network == nil {
		network = http.DefaultTransport
	}
	return &Lifecycle{cfg: cfg, store: store, network: network, base: base}, nil
}

func (l *Lifecycle) resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	return l.base.ResolveReference(ref), nil
}

// Install precaches the app shell into the static generation.
// Members are fetched bypassing HTTP caches; nothing is stored unless all succeed.
func (l *Lifecycle) Install(ctx context.Context) error {
	static, ok := l.cfg.Generation(config.ClassStatic)
	if !ok {
		return fmt.Errorf("no static generation configured")
	}

	type fetched struct {
		req  *http.Request
		resp *http.Response
	}
	var shell []fetched

	for _, member := range static.Members {
		u, err := l.resolve(member)
		if err != nil {
			return fmt.Errorf("invalid app shell member %q: %w", member, err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return fmt.Errorf("failed to create request for %s: %w", u, err)
		}
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")

		resp, err := l.network.RoundTrip(req)
		if err != nil {
			return fmt.Errorf("failed to precache %s: %w", u, err)
		}
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", u, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("failed to precache %s: status %d", u, resp.StatusCode)
		}
		resp.Body = io.NopCloser(bytes.NewReader(body))
		shell = append(shell, fetched{req: req, resp: resp})
	}

	for _, f := range shell {
		if err := l.store.Put(ctx, static.StorageName(), f.req, f.resp); err != nil {
			return fmt.Errorf("failed to store %s: %w", f.req.URL, err)
		}
	}

	logrus.Infof("Installed %d app shell resources into %s", len(shell), static.StorageName())
	return nil
}

// Activate drops every generation that is no longer configured, records the active
// set, and warms the dynamic generation. Warmup failures are ignored.
func (l *Lifecycle) Activate(ctx context.Context) (ActivationReport, error) {
	var report ActivationReport

	previous, err := l.readManifest()
	if err != nil {
		logrus.Warnf("Ignoring unreadable generation manifest: %v", err)
	}
	report.Changed = !sameGenerations(previous, l.cfg.Cache.Generations)
	if report.Changed {
		logrus.Infof("Activating cache generations %v", l.cfg.ActiveGenerations())
	}

	purged, err := l.store.PurgeExcept(ctx, l.cfg.ActiveGenerations())
	report.Purged = purged
	if err != nil {
		return report, fmt.Errorf("failed to purge stale generations: %w", err)
	}

	if err := l.writeManifest(); err != nil {
		return report, fmt.Errorf("failed to record active generations: %w", err)
	}

	report.Warmed = l.warm(ctx)
	return report, nil
}

func (l *Lifecycle) warm(ctx context.Context) []string {
	dynamic, ok := l.cfg.Generation(config.ClassDynamic)
	if !ok {
		return nil
	}

	var warmed []string
	for _, endpoint := range l.cfg.Routes.WarmEndpoints {
		u, err := l.resolve(endpoint)
		if err != nil {
			logrus.Debugf("Skipping warmup of %q: %v", endpoint, err)
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			continue
		}
		req.Header.Set("Cache-Control", "no-store")

		resp, err := l.network.RoundTrip(req)
		if err != nil {
			logrus.Debugf("Warmup of %s failed, it will be fetched later: %v", u, err)
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if err := l.store.Put(ctx, dynamic.StorageName(), req, resp); err != nil {
				logrus.Debugf("Warmup of %s not stored: %v", u, err)
			} else {
				warmed = append(warmed, endpoint)
			}
		}
		_ = resp.Body.Close()
	}
	return warmed
}

func (l *Lifecycle) manifestPath() string {
	return filepath.Join(l.store.Root(), manifestFile)
}

func (l *Lifecycle) readManifest() ([]config.GenerationConfig, error) {
	data, err := os.ReadFile(l.manifestPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var generations []config.GenerationConfig
	if err := yaml.Unmarshal(data, &generations); err != nil {
		return nil, err
	}
	return generations, nil
}

func (l *Lifecycle) writeManifest() error {
	data, err := yaml.Marshal(l.cfg.Cache.Generations)
	if err != nil {
		return err
	}
	return os.WriteFile(l.manifestPath(), data, 0644)
}

func sameGenerations(a, b []config.GenerationConfig) bool {
	return slices.EqualFunc(a, b, func(x, y config.GenerationConfig) bool {
		return x.Name == y.Name && x.Class == y.Class && x.Version == y.Version && slices.Equal(x.Members, y.Members)
	})
}
