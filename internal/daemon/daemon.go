// Package daemon wires the decoder together: the analysis gateway, the
// preference store, the websocket hub, per-session document observers, the
// overlay mount registry, chat-host proxies, and the daemon's own HTTP
// surface.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/neurosense/decoder/internal/bridge"
	"github.com/neurosense/decoder/internal/config"
	"github.com/neurosense/decoder/internal/decoder"
	"github.com/neurosense/decoder/internal/observer"
	"github.com/neurosense/decoder/internal/overlay"
	"github.com/neurosense/decoder/internal/proxy"
	"github.com/neurosense/decoder/internal/store"
	"github.com/neurosense/decoder/internal/web"
)

// Config configures a daemon instance.
type Config struct {
	// HTTPAddr is the listen address for the web surface and websocket.
	HTTPAddr string

	// DataDir holds persisted preferences.
	DataDir string

	// GeminiAPIKey authenticates gateway calls. Ignored when Analyzer is set.
	GeminiAPIKey string

	// QuietWindow is the mutation debounce period per document.
	QuietWindow time.Duration

	// RequestTimeout bounds each page-side request in the injected
	// bootstrap. Zero means the protocol default.
	RequestTimeout time.Duration

	// FirstPartyHosts are our own domains.
	FirstPartyHosts []string

	// ProxyTargets are chat origins to front with injecting proxies,
	// e.g. "https://web.whatsapp.com". Each gets an ephemeral local port.
	ProxyTargets []string

	// Analyzer overrides the Gemini gateway, mainly for tests.
	Analyzer bridge.Analyzer
}

// FromEnv maps environment configuration onto a daemon config.
func FromEnv(env config.Config) Config {
	return Config{
		HTTPAddr:        env.HTTPAddr,
		DataDir:         env.DataDir,
		GeminiAPIKey:    env.GeminiAPIKey,
		QuietWindow:     env.QuietWindow,
		RequestTimeout:  env.RequestTimeout,
		FirstPartyHosts: env.FirstPartyHosts,
	}
}

// Daemon is the privileged context. One per machine; all page sessions and
// surfaces share its gateway and preference store.
type Daemon struct {
	cfg Config

	prefs    *store.Preferences
	hub      *bridge.Hub
	registry *overlay.Registry
	proxym   *proxy.Manager

	httpServer *http.Server
	listener   net.Listener

	// observers tracks one document observer per connected session.
	observers sync.Map // sessionID -> *observer.Observer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shutdownMu sync.Mutex
	shutdown   bool
	started    time.Time
}

// New assembles a daemon. Nothing listens until Start.
func New(cfg Config) (*Daemon, error) {
	prefs := store.NewPreferences(cfg.DataDir)
	ctx, cancel := context.WithCancel(context.Background())

	analyzer := cfg.Analyzer
	if analyzer == nil {
		if cfg.GeminiAPIKey == "" {
			cancel()
			return nil, errors.New("no analyzer configured and GEMINI_API_KEY is not set")
		}
		gateway, err := decoder.NewGeminiGateway(ctx, cfg.GeminiAPIKey, decoder.GatewayConfig{})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("creating analysis gateway: %w", err)
		}
		analyzer = gateway
	}

	d := &Daemon{
		cfg:      cfg,
		prefs:    prefs,
		registry: overlay.NewRegistry(),
		proxym:   proxy.NewManager(),
		ctx:      ctx,
		cancel:   cancel,
	}

	responder := bridge.NewResponder(analyzer, prefs)
	d.hub = bridge.NewHub(bridge.HubConfig{
		Responder:      responder,
		OnSessionStart: d.sessionStarted,
		OnSessionEnd:   d.sessionEnded,
		OnEvent:        d.handleEvent,
	})
	d.httpServer = &http.Server{
		Handler: web.NewHandler(web.Deps{
			Responder: responder,
			Hub:       d.hub,
			Prefs:     prefs,
		}),
	}

	return d, nil
}

// Start binds the HTTP listener and launches the configured proxies.
func (d *Daemon) Start() error {
	d.shutdownMu.Lock()
	if d.shutdown {
		d.shutdownMu.Unlock()
		return errors.New("daemon already shut down")
	}
	d.shutdownMu.Unlock()

	var lc net.ListenConfig
	listener, err := lc.Listen(d.ctx, "tcp", d.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", d.cfg.HTTPAddr, err)
	}
	d.listener = listener
	d.started = time.Now()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			slog.Error("http server stopped unexpectedly", "error", err)
		}
	}()

	for _, target := range d.cfg.ProxyTargets {
		server, err := d.proxym.Create(d.ctx, proxy.Config{
			Target:         target,
			ListenAddr:     "127.0.0.1:0",
			Hub:            d.hub,
			RequestTimeout: d.cfg.RequestTimeout,
		})
		if err != nil {
			slog.Warn("could not start chat proxy", "target", target, "error", err)
			continue
		}
		slog.Info("chat proxy ready", "target", server.Target(), "addr", server.Addr())
	}

	slog.Info("daemon started", "addr", listener.Addr().String())
	return nil
}

// Stop shuts everything down gracefully: no new connections, proxies drained,
// observers cancelled.
func (d *Daemon) Stop(ctx context.Context) error {
	d.shutdownMu.Lock()
	if d.shutdown {
		d.shutdownMu.Unlock()
		return nil
	}
	d.shutdown = true
	d.shutdownMu.Unlock()

	var errs []error
	if err := d.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := d.proxym.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("proxy shutdown: %w", err))
	}

	d.observers.Range(func(key, value any) bool {
		value.(*observer.Observer).Stop()
		d.observers.Delete(key)
		return true
	})

	d.cancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	slog.Info("daemon stopped", "uptime", time.Since(d.started).Round(time.Second))
	return errors.Join(errs...)
}

// Addr returns the bound HTTP address, or "" before Start.
func (d *Daemon) Addr() string {
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// Hub returns the websocket hub.
func (d *Daemon) Hub() *bridge.Hub { return d.hub }

// Registry returns the overlay mount registry.
func (d *Daemon) Registry() *overlay.Registry { return d.registry }

// ProxyManager returns the chat proxy manager.
func (d *Daemon) ProxyManager() *proxy.Manager { return d.proxym }

// Preferences returns the preference store.
func (d *Daemon) Preferences() *store.Preferences { return d.prefs }

// sessionStarted attaches a fresh observer to the new session's document.
// Detection pushes the mount command at most once per session; the registry
// owns that idempotency, not the observer.
func (d *Daemon) sessionStarted(s *bridge.Session) {
	obs := observer.New(observer.Config{
		Rules:           observer.DefaultRules(),
		QuietWindow:     d.cfg.QuietWindow,
		FirstPartyHosts: d.cfg.FirstPartyHosts,
		OnChatDetected: func(rule observer.MatchRule) {
			if d.registry.Mount(s.ID) {
				slog.Info("chat detected, mounting overlay", "session", s.ID, "rule", rule.Name)
				s.Send(bridge.Command{Type: bridge.CommandMount})
			}
		},
		OnFirstParty: func() {
			s.Send(bridge.Command{Type: bridge.CommandLandingMark})
		},
	})
	d.observers.Store(s.ID, obs)
}

// sessionEnded releases the session's observer and mount state. A reloaded
// page reconnects as a new session and mounts from scratch.
func (d *Daemon) sessionEnded(s *bridge.Session) {
	if val, ok := d.observers.LoadAndDelete(s.ID); ok {
		val.(*observer.Observer).Stop()
	}
	d.registry.Forget(s.ID)
}

// handleEvent routes page events: mutation snapshots feed the session's
// observer, panel toggles update the mount registry.
func (d *Daemon) handleEvent(s *bridge.Session, evt bridge.Event) {
	switch evt.Type {
	case bridge.EventMutation:
		val, ok := d.observers.Load(s.ID)
		if !ok {
			return
		}
		val.(*observer.Observer).Notify(observer.DocumentState{
			Host:    evt.Host,
			Path:    evt.Path,
			Markers: evt.Markers,
		})
	case bridge.EventToggle:
		if open, ok := d.registry.ToggleOpen(s.ID); ok {
			slog.Debug("panel toggled", "session", s.ID, "open", open)
		}
	default:
		slog.Debug("ignoring unknown event type", "session", s.ID, "type", evt.Type)
	}
}
