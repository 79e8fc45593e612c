// Package proxy serves chat hosts through a local reverse proxy, injecting
// the overlay bootstrap into HTML responses on the way through. The injected
// page connects back to the same origin, so the websocket endpoint is served
// here too.
package proxy

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/neurosense/decoder/internal/overlay"
)

// Config describes one proxied chat host.
type Config struct {
	// Target is the upstream origin, e.g. "https://web.whatsapp.com".
	Target string

	// ListenAddr is the local address to serve on. Use port 0 for an
	// ephemeral port.
	ListenAddr string

	// Hub handles websocket upgrades on overlay.SocketPath.
	Hub http.Handler

	// RequestTimeout bounds each page-side request in the injected
	// bootstrap. Zero means the protocol default.
	RequestTimeout time.Duration
}

// Server is one running reverse proxy.
type Server struct {
	target     *url.URL
	listenAddr string
	hub        http.Handler
	bootstrap  string

	server   *http.Server
	listener net.Listener
	running  atomic.Bool
}

// New builds a server from config. It does not listen until Start.
func New(cfg Config) (*Server, error) {
	target, err := url.Parse(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", cfg.Target, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("target %q must be an absolute URL", cfg.Target)
	}

	s := &Server{
		target:     target,
		listenAddr: cfg.ListenAddr,
		hub:        cfg.Hub,
		bootstrap:  overlay.BootstrapScript(cfg.RequestTimeout),
	}

	reverse := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Host = target.Host
			// The browser offers br/zstd/deflate too, but the rewrite path
			// only decodes gzip; anything else would get the script spliced
			// into compressed bytes.
			pr.Out.Header.Set("Accept-Encoding", "gzip")
		},
		ModifyResponse: s.rewriteResponse,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Warn("upstream request failed", "target", target.Host, "path", r.URL.Path, "error", err)
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
		},
	}

	mux := http.NewServeMux()
	if s.hub != nil {
		mux.Handle(overlay.SocketPath, s.hub)
	}
	mux.Handle("/", reverse)
	s.server = &http.Server{Handler: mux}

	return s, nil
}

// Start begins serving. It returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("proxy for %s already running", s.target.Host)
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.listenAddr, err)
	}
	s.listener = listener
	s.running.Store(true)

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			slog.Error("proxy server stopped unexpectedly", "target", s.target.Host, "error", err)
		}
		s.running.Store(false)
	}()

	slog.Info("proxy started", "target", s.target.Host, "addr", listener.Addr().String())
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.Load() {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Target returns the upstream host.
func (s *Server) Target() string {
	return s.target.Host
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// rewriteResponse injects the bootstrap into HTML responses. CSP headers are
// dropped on those responses so the injected script and its websocket are not
// blocked by the upstream's policy.
func (s *Server) rewriteResponse(resp *http.Response) error {
	if !overlay.ShouldInject(resp.Header.Get("Content-Type")) {
		return nil
	}

	body, err := readBody(resp)
	if err != nil {
		return fmt.Errorf("reading upstream body: %w", err)
	}

	injected := overlay.Inject(body, s.bootstrap)
	resp.Body = io.NopCloser(bytes.NewReader(injected))
	resp.ContentLength = int64(len(injected))
	resp.Header.Set("Content-Length", strconv.Itoa(len(injected)))
	resp.Header.Del("Content-Security-Policy")
	resp.Header.Del("Content-Security-Policy-Report-Only")
	return nil
}

// readBody consumes the response body, transparently ungzipping it. The
// rewritten response goes out uncompressed.
func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	reader := io.Reader(resp.Body)
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
		resp.Header.Del("Content-Encoding")
	}
	return io.ReadAll(reader)
}
