package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/iTrooz/offline-pwa-proxy/internal/cache/httpcache"
	"github.com/iTrooz/offline-pwa-proxy/internal/config"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"
)

// Options carry the collaborators of a Server
type Options struct {
	Store *httpcache.Store
	// Transport reaches the network; defaults to a clone of http.DefaultTransport
	Transport http.RoundTripper
	// Reporter is told about network failures; may be nil
	Reporter FailureReporter
	// Mutations maps POST paths (e.g. /add_reflection) to the queue holding them while offline
	Mutations map[string]Enqueuer
}

// Server represents the offline proxy server
type Server struct {
	config      *config.Config
	proxy       *goproxy.ProxyHttpServer
	interceptor *Interceptor
	upstream    *url.URL
	mutations   map[string]Enqueuer
}

// New creates a new proxy server
func New(cfg *config.Config, opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("a cache store is required")
	}

	upstream, err := cfg.UpstreamURL()
	if err != nil {
		return nil, fmt.Errorf("invalid upstream: %w", err)
	}

	network := opts.Transport
	if network == nil {
		network = http.DefaultTransport.(*http.Transport).Clone()
	}

	routes, err := DefaultRoutes(cfg, opts.Store)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:      cfg,
		proxy:       goproxy.NewProxyHttpServer(),
		interceptor: NewInterceptor(network, routes, opts.Reporter),
		upstream:    upstream,
		mutations:   opts.Mutations,
	}

	if tr, ok := network.(*http.Transport); ok {
		s.proxy.Tr = tr
	}
	s.proxy.CertStore = newCertStore()
	s.proxy.OnRequest().DoFunc(s.handleProxyRequest)
	s.proxy.NonproxyHandler = http.HandlerFunc(s.serveOrigin)

	if cfg.Server.HTTPS.Enabled {
		if err := s.setupHTTPSProxyHandler(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// GetProxy returns the HTTP handler of the proxy
func (s *Server) GetProxy() http.Handler {
	return s.proxy
}

// Interceptor returns the request router shared by every entry point
func (s *Server) Interceptor() *Interceptor {
	return s.interceptor
}

// Start serves the proxy until ctx is done
func (s *Server) Start(ctx context.Context) error {
	logrus.Infof("Starting offline proxy on port %d", s.config.Server.Port)
	logrus.Infof("Upstream: %s", s.upstream)
	logrus.Infof("Cache directory: %s", s.config.Cache.Folder)
	logrus.Infof("Active generations: %v", s.config.ActiveGenerations())

	if port := s.config.Server.HTTPS.TransparentPort; s.config.Server.HTTPS.Enabled && port > 0 {
		go func() {
			if err := s.StartTransparentHTTPS(ctx, fmt.Sprintf(":%d", port)); err != nil {
				logrus.Errorf("Transparent HTTPS listener failed: %v", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.proxy,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.Warnf("Proxy shutdown: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleProxyRequest serves GETs going through the forward proxy
func (s *Server) handleProxyRequest(requ *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	if requ.Method != http.MethodGet {
		// goproxy forwards it unmodified
		return requ, nil
	}

	resp, err := s.interceptor.RoundTrip(outgoing(requ))
	if err != nil {
		return requ, goproxy.NewResponse(requ, goproxy.ContentTypeText, http.StatusBadGateway, err.Error())
	}
	return requ, resp
}
