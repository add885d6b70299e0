// Package connectivity tracks whether the journal server is reachable.
package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// State of the network as seen from here
type State int

const (
	Offline State = iota
	Online
)

func (s State) String() string {
	if s == Online {
		return "online"
	}
	return "offline"
}

// Banner tones
const (
	ToneOnline  = "online"
	ToneOffline = "offline"
)

// Banner texts
const (
	TextOnline  = "Back online. Changes will sync automatically."
	TextOffline = "You are offline. Viewing cached content."
)

// Probe checks reachability. A nil error means online.
type Probe func(ctx context.Context) error

// HTTPProbe returns a probe issuing GET url and expecting a 2xx answer
func HTTPProbe(client *http.Client, url string) Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Cache-Control", "no-store")
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("probe %s answered %d", url, resp.StatusCode)
		}
		return nil
	}
}

// Options tune a Monitor
type Options struct {
	// Interval between probes while online, and the first backoff step while offline
	Interval time.Duration
	// MaxInterval caps the backoff while offline
	MaxInterval time.Duration
	// OnlineBannerDelay is how long the "back online" banner stays up
	OnlineBannerDelay time.Duration
}

// Monitor holds the connectivity state and runs side effects on transitions
type Monitor struct {
	probe  Probe
	banner *Banner
	opts   Options

	mu       sync.Mutex
	state    State
	started  bool
	onOnline []func(ctx context.Context)

	kick chan struct{}
}

// NewMonitor creates a monitor. It assumes offline until Start probes.
func NewMonitor(probe Probe, banner *Banner, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.MaxInterval < opts.Interval {
		opts.MaxInterval = opts.Interval
	}
	if opts.OnlineBannerDelay <= 0 {
		opts.OnlineBannerDelay = 3500 * time.Millisecond
	}
	return &Monitor{
		probe:  probe,
		banner: banner,
		opts:   opts,
		state:  Offline,
		kick:   make(chan struct{}, 1),
	}
}

// OnOnline registers fn to run on every transition to online, in registration order
func (m *Monitor) OnOnline(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOnline = append(m.onOnline, fn)
}

// State returns the current state
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Online reports whether the current state is Online
func (m *Monitor) Online() bool {
	return m.State() == Online
}

// Start initialises the state from one probe. Being offline at startup shows the
// offline banner; being online is silent and does not fire OnOnline.
func (m *Monitor) Start(ctx context.Context) State {
	state := m.check(ctx)

	m.mu.Lock()
	m.state = state
	m.started = true
	m.mu.Unlock()

	logrus.Infof("Connectivity at startup: %s", state)
	if state == Offline {
		m.banner.Show(ToneOffline, TextOffline)
	}
	return state
}

// Set records a new state from an external signal and runs transition side effects
func (m *Monitor) Set(ctx context.Context, state State) {
	m.mu.Lock()
	previous := m.state
	m.state = state
	m.started = true
	subscribers := append([]func(context.Context){}, m.onOnline...)
	m.mu.Unlock()

	if previous == state {
		return
	}

	logrus.Infof("Connectivity changed: %s -> %s", previous, state)
	if state == Offline {
		m.banner.Show(ToneOffline, TextOffline)
		return
	}

	m.banner.Flash(ToneOnline, TextOnline, m.opts.OnlineBannerDelay)
	for _, fn := range subscribers {
		fn(ctx)
	}
}

// ReportFailure signals that a request just failed at the transport level.
// The next probe runs right away instead of waiting for the interval.
func (m *Monitor) ReportFailure(err error) {
	logrus.Debugf("Network failure reported: %v", err)
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Run probes until ctx is done, backing off exponentially while offline
func (m *Monitor) Run(ctx context.Context) {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		m.Start(ctx)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.Interval
	b.MaxInterval = m.opts.MaxInterval
	b.Reset()

	timer := time.NewTimer(m.nextDelay(b))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-m.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		m.Set(ctx, m.check(ctx))
		timer.Reset(m.nextDelay(b))
	}
}

func (m *Monitor) nextDelay(b *backoff.ExponentialBackOff) time.Duration {
	if m.State() == Online {
		b.Reset()
		return m.opts.Interval
	}
	d := b.NextBackOff()
	if d == backoff.Stop {
		return m.opts.MaxInterval
	}
	return d
}

func (m *Monitor) check(ctx context.Context) State {
	probeCtx, cancel := context.WithTimeout(ctx, m.opts.Interval)
	defer cancel()

	if err := m.probe(probeCtx); err != nil {
		logrus.Debugf("Connectivity probe failed: %v", err)
		return Offline
	}
	return Online
}
