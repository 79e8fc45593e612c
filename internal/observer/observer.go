// Package observer decides whether a "chat is open" condition holds on a
// foreign document the system does not control. The host page reports raw
// structural-change snapshots; the observer coalesces bursts behind a quiet
// window and then re-evaluates pure presence probes against the latest
// snapshot only. It is stateless about what changed, only about what is true
// now, which is what makes SPA navigation (DOM rewrites without navigation
// events) safe to track.
package observer

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultQuietWindow is how long mutations must stay quiet before probes
// run. Chat UIs mutate the DOM constantly (typing indicators, message
// streams); evaluating every mutation is wasted work and invites duplicate
// injection races.
const DefaultQuietWindow = 500 * time.Millisecond

// DocumentState is a point-in-time snapshot of the host document: where it
// is and which well-known structural markers are currently present.
type DocumentState struct {
	Host    string
	Path    string
	Markers map[string]bool
}

// Probe is a pure, side-effect-free check of a document snapshot. A probe
// error means "condition not met", never "stop watching".
type Probe func(DocumentState) (bool, error)

// MatchRule pairs a host pattern with the probe that decides whether that
// host currently shows an open chat. Rules are evaluated in order.
type MatchRule struct {
	Name        string
	HostPattern string
	Probe       Probe
}

// Config configures an observer for one document.
type Config struct {
	// Rules are evaluated in order on every debounced tick.
	Rules []MatchRule

	// QuietWindow is the debounce period. Default: DefaultQuietWindow.
	QuietWindow time.Duration

	// FirstPartyHosts are the system's own domains. On these the observer
	// never evaluates probes; it fires OnFirstParty once and goes quiet.
	FirstPartyHosts []string

	// OnChatDetected fires from the debounce timer goroutine when a rule
	// matches. Mount idempotency is the mount registry's job, so repeated
	// detections are fine.
	OnChatDetected func(rule MatchRule)

	// OnFirstParty fires at most once, on the first snapshot from a
	// first-party host.
	OnFirstParty func()
}

// Observer watches one document. Safe for concurrent Notify calls, though in
// practice snapshots arrive serially from a single connection read loop.
type Observer struct {
	rules        []MatchRule
	quiet        time.Duration
	firstParty   []string
	onDetected   func(MatchRule)
	onFirstParty func()

	mu       sync.Mutex
	timer    *time.Timer
	latest   DocumentState
	hasState bool
	stopped  bool

	firstPartyOnce sync.Once
}

// New creates an observer. It is idle until the first Notify.
func New(cfg Config) *Observer {
	if cfg.QuietWindow == 0 {
		cfg.QuietWindow = DefaultQuietWindow
	}
	return &Observer{
		rules:        cfg.Rules,
		quiet:        cfg.QuietWindow,
		firstParty:   cfg.FirstPartyHosts,
		onDetected:   cfg.OnChatDetected,
		onFirstParty: cfg.OnFirstParty,
	}
}

// Notify records a raw structural-change snapshot. Each call resets the
// single quiet timer: a burst of K notifications within the window produces
// exactly one evaluation after the window closes, not K.
func (o *Observer) Notify(state DocumentState) {
	if o.isFirstParty(state.Host) {
		o.firstPartyOnce.Do(func() {
			slog.Debug("first-party host detected, marking and standing down", "host", state.Host)
			if o.onFirstParty != nil {
				o.onFirstParty()
			}
		})
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return
	}

	o.latest = state
	o.hasState = true

	if o.timer != nil {
		o.timer.Stop()
	}
	o.timer = time.AfterFunc(o.quiet, o.evaluate)
}

// Stop cancels any pending evaluation. Further notifications are ignored.
func (o *Observer) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped = true
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}

// evaluate re-runs all rules against the latest snapshot. Probe errors and
// panics count as "no match" for that rule this tick; the subscription
// itself never dies.
func (o *Observer) evaluate() {
	o.mu.Lock()
	if o.stopped || !o.hasState {
		o.mu.Unlock()
		return
	}
	state := o.latest
	o.mu.Unlock()

	for _, rule := range o.rules {
		if rule.HostPattern != "" && !strings.Contains(state.Host, rule.HostPattern) {
			continue
		}
		if o.runProbe(rule, state) {
			slog.Debug("chat detected", "rule", rule.Name, "host", state.Host, "path", state.Path)
			if o.onDetected != nil {
				o.onDetected(rule)
			}
			return
		}
	}
}

// runProbe executes one probe, converting errors and panics into no-match.
func (o *Observer) runProbe(rule MatchRule, state DocumentState) (matched bool) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("presence probe panicked", "rule", rule.Name, "panic", rec)
			matched = false
		}
	}()

	if rule.Probe == nil {
		return false
	}
	ok, err := rule.Probe(state)
	if err != nil {
		slog.Debug("presence probe errored, treating as no match", "rule", rule.Name, "error", err)
		return false
	}
	return ok
}

func (o *Observer) isFirstParty(host string) bool {
	for _, fp := range o.firstParty {
		if fp != "" && strings.Contains(host, fp) {
			return true
		}
	}
	return false
}
