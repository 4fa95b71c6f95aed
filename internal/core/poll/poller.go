// Package poll drives the backend client: one loop that refreshes panel
// state on an interval and serializes user commands onto the same goroutine,
// so no two calls ever overlap on the client (the clients hold no locks).
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/trymwestin/nexecur/internal/core/panel"
	"github.com/trymwestin/nexecur/internal/core/state"
)

// DefaultInterval matches the scan interval of the upstream integration.
const DefaultInterval = 30 * time.Second

// Disconnected is reported after this many consecutive failed polls.
const failureThreshold = 3

type request struct {
	fn   func(context.Context) error
	done chan error
}

// Poller polls the panel client and merges results into the state store.
type Poller struct {
	client   panel.Client
	store    *state.Store
	interval time.Duration
	log      *slog.Logger

	reqCh    chan request
	cancel   context.CancelFunc
	stopped  chan struct{}
	running  atomic.Bool
	failures int
}

// New creates a poller. A zero interval falls back to DefaultInterval.
func New(client panel.Client, store *state.Store, interval time.Duration, log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		client:   client,
		store:    store,
		interval: interval,
		log:      log,
		reqCh:    make(chan request),
	}
}

// Start begins the poll loop; the first poll performs the lazy login.
func (p *Poller) Start(ctx context.Context) error {
	if p.running.Load() {
		return fmt.Errorf("poll: already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.stopped = make(chan struct{})
	p.running.Store(true)

	go p.run(ctx)
	return nil
}

// Stop terminates the poll loop.
func (p *Poller) Stop(_ context.Context) error {
	if !p.running.Load() {
		return nil
	}
	p.cancel()
	<-p.stopped
	p.running.Store(false)
	return nil
}

// Do runs fn on the poll goroutine, serialized with status polls, and polls
// immediately afterwards so command effects land in the store right away.
func (p *Poller) Do(ctx context.Context, fn func(context.Context) error) error {
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case p.reqCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ArmHome arms the panel in home mode through the poll loop.
func (p *Poller) ArmHome(ctx context.Context) error {
	return p.Do(ctx, p.client.ArmHome)
}

// ArmAway arms the panel in away mode through the poll loop.
func (p *Poller) ArmAway(ctx context.Context) error {
	return p.Do(ctx, p.client.ArmAway)
}

// Disarm disarms the panel through the poll loop.
func (p *Poller) Disarm(ctx context.Context) error {
	return p.Do(ctx, p.client.Disarm)
}

// StreamURL fetches a camera stream URL through the poll loop.
func (p *Poller) StreamURL(ctx context.Context, serial string) (string, error) {
	var url string
	err := p.Do(ctx, func(ctx context.Context) error {
		var err error
		url, err = p.client.StreamURL(ctx, serial)
		return err
	})
	return url, err
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.stopped)

	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		case req := <-p.reqCh:
			err := req.fn(ctx)
			req.done <- err
			if err != nil {
				p.log.Error("panel command failed", "error", err)
				continue
			}
			// Refresh immediately so the new arming state is visible
			// on the very next read.
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	st, err := p.client.Status(ctx)
	if err != nil {
		p.failures++
		p.store.SetError(err)
		p.log.Warn("status poll failed", "failures", p.failures, "error", err)
		if p.failures >= failureThreshold {
			p.store.SetConnected(false)
		}
		return
	}

	p.failures = 0
	p.store.UpdatePanel(st)
	p.store.SetDevices(extractDevices(st.Raw))
	p.store.SetConnected(true)
}

// extractDevices pulls camera devices out of the backend Raw payload. The
// Videofied site response lists them under "cameras", the Hikvision client
// under "devices".
func extractDevices(raw map[string]any) []panel.CameraDevice {
	var out []panel.CameraDevice
	for _, key := range []string{"cameras", "devices"} {
		list, ok := raw[key].([]any)
		if !ok {
			// The Hikvision client stores an already-typed slice.
			if typed, ok := raw[key].([]map[string]any); ok {
				for _, entry := range typed {
					out = appendDevice(out, entry)
				}
			}
			continue
		}
		for _, item := range list {
			if entry, ok := item.(map[string]any); ok {
				out = appendDevice(out, entry)
			}
		}
	}
	return out
}

func appendDevice(out []panel.CameraDevice, entry map[string]any) []panel.CameraDevice {
	serial, _ := entry["serial"].(string)
	if serial == "" {
		serial, _ = entry["deviceSerial"].(string)
	}
	if serial == "" {
		return out
	}
	name, _ := entry["name"].(string)
	return append(out, panel.CameraDevice{Serial: serial, Name: name})
}
