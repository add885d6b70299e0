package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iTrooz/offline-pwa-proxy/internal/cache/httpcache"
	"github.com/iTrooz/offline-pwa-proxy/internal/client"
	"github.com/iTrooz/offline-pwa-proxy/internal/config"
	"github.com/iTrooz/offline-pwa-proxy/internal/connectivity"
	"github.com/iTrooz/offline-pwa-proxy/internal/proxy"
	"github.com/iTrooz/offline-pwa-proxy/internal/queue"
	"github.com/iTrooz/offline-pwa-proxy/internal/reconcile"

	"github.com/sirupsen/logrus"
)

// application holds every wired component of the proxy
type application struct {
	cfg        *config.Config
	store      *httpcache.Store
	pending    *queue.SQLiteStore
	journal    *queue.Queue
	scores     *queue.Queue
	lifecycle  *proxy.Lifecycle
	banner     *connectivity.Banner
	monitor    *connectivity.Monitor
	server     *proxy.Server
	api        *client.Client
	reconciler *reconcile.Reconciler
}

func main() {
	configPath := "configs/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level %q: %v", cfg.LogLevel, err)
	}
	logrus.SetLevel(level)

	app, err := build(cfg, nil)
	if err != nil {
		logrus.Fatalf("Failed to create proxy server: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logrus.Errorf("Failed to close pending queue: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.prepare(ctx)
	go app.monitor.Run(ctx)

	if err := app.server.Start(ctx); err != nil {
		logrus.Errorf("Server failed: %v", err)
	}
}

// build wires the components described by cfg. transport reaches the network and may
// be nil to use a clone of http.DefaultTransport.
func build(cfg *config.Config, transport http.RoundTripper) (*application, error) {
	if transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}

	probeInterval, err := cfg.GetProbeInterval()
	if err != nil {
		return nil, err
	}
	maxProbeInterval, err := cfg.GetMaxProbeInterval()
	if err != nil {
		return nil, err
	}
	onlineBannerDelay, err := cfg.GetOnlineBannerDelay()
	if err != nil {
		return nil, err
	}
	syncedBannerDelay, err := cfg.GetSyncedBannerDelay()
	if err != nil {
		return nil, err
	}
	upstream, err := cfg.UpstreamURL()
	if err != nil {
		return nil, err
	}

	app := &application{cfg: cfg}

	app.store = httpcache.NewStore(cfg.Cache.Folder)
	if err := app.store.Init(); err != nil {
		return nil, err
	}

	app.pending, err = queue.OpenSQLite(cfg.Queue.Path)
	if err != nil {
		return nil, err
	}
	built := false
	defer func() {
		if !built {
			_ = app.pending.Close()
		}
	}()
	app.journal = queue.New(app.pending, cfg.Queue.JournalKey, queue.KindJournalEntry)
	app.scores = queue.New(app.pending, cfg.Queue.ScoreKey, queue.KindQuizScore)

	app.lifecycle, err = proxy.NewLifecycle(cfg, app.store, transport)
	if err != nil {
		return nil, err
	}

	probeClient := &http.Client{Transport: transport, Timeout: probeInterval}
	app.banner = connectivity.NewBanner()
	app.monitor = connectivity.NewMonitor(
		connectivity.HTTPProbe(probeClient, upstream.JoinPath(cfg.Monitor.ProbePath).String()),
		app.banner,
		connectivity.Options{
			Interval:          probeInterval,
			MaxInterval:       maxProbeInterval,
			OnlineBannerDelay: onlineBannerDelay,
		},
	)

	app.server, err = proxy.New(cfg, proxy.Options{
		Store:     app.store,
		Transport: transport,
		Reporter:  app.monitor,
		Mutations: map[string]proxy.Enqueuer{
			client.PathAddReflection: app.journal,
			client.PathLeaderboard:   app.scores,
		},
	})
	if err != nil {
		return nil, err
	}

	// Reads of the client go through the interceptor and keep the dynamic generation fresh
	app.api, err = client.New(upstream.String(), &http.Client{
		Transport: app.server.Interceptor(),
		Timeout:   30 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	journal := client.NewJournal(app.api, app.journal, app.monitor)
	quiz := client.NewQuiz(app.api, app.scores, app.monitor)

	app.reconciler = reconcile.New(reconcile.Options{
		Journal: reconcile.Source{Queue: app.journal, Sender: journal.Send},
		Scores:  reconcile.Source{Queue: app.scores, Sender: quiz.Send},
		Refresh: func(ctx context.Context) error {
			entries, err := app.api.ListReflections(ctx)
			if err != nil {
				return err
			}
			logrus.Infof("Journal list refreshed, %d entries", len(entries))
			return nil
		},
		Notifier:          app.banner,
		SyncedBannerDelay: syncedBannerDelay,
	})
	app.monitor.OnOnline(app.reconciler.OnOnline)

	built = true
	return app, nil
}

// prepare installs and activates the cache generations, then settles the connectivity
// state and drains what previous runs left behind
func (a *application) prepare(ctx context.Context) {
	if err := a.lifecycle.Install(ctx); err != nil {
		logrus.Warnf("App shell not installed, keeping previous cache generations: %v", err)
	} else {
		report, err := a.lifecycle.Activate(ctx)
		if err != nil {
			logrus.Errorf("Failed to activate cache generations: %v", err)
		} else {
			logrus.Infof("Cache generations active (changed: %t, purged: %v, warmed: %v)", report.Changed, report.Purged, report.Warmed)
		}
	}

	if a.monitor.Start(ctx) == connectivity.Online {
		report := a.reconciler.Run(ctx)
		logrus.Infof("Startup sync: %d/%d entries, %d/%d scores sent",
			report.Journal.Sent, report.Journal.Attempted, report.Scores.Sent, report.Scores.Attempted)
	}
}

// Close releases the pending queue database
func (a *application) Close() error {
	return a.pending.Close()
}
