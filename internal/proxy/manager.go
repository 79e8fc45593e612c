package proxy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrProxyExists is returned when a proxy for the target already runs.
	ErrProxyExists = errors.New("proxy already exists")
	// ErrProxyNotFound is returned when no proxy matches the target.
	ErrProxyNotFound = errors.New("proxy not found")
	// ErrShuttingDown is returned for creates after Shutdown began.
	ErrShuttingDown = errors.New("proxy manager is shutting down")
)

// Manager runs one proxy per chat host with lock-free lookup.
type Manager struct {
	proxies      sync.Map // map[string]*Server, keyed by target host
	activeCount  atomic.Int64
	totalStarted atomic.Int64

	shutdownOnce sync.Once
	shuttingDown atomic.Bool
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// Create builds and starts a proxy for the config's target. One proxy per
// target host; a second create for the same host fails.
func (m *Manager) Create(ctx context.Context, cfg Config) (*Server, error) {
	if m.shuttingDown.Load() {
		return nil, ErrShuttingDown
	}

	server, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if _, exists := m.proxies.Load(server.Target()); exists {
		return nil, ErrProxyExists
	}

	if err := server.Start(ctx); err != nil {
		return nil, err
	}

	if _, raced := m.proxies.LoadOrStore(server.Target(), server); raced {
		_ = server.Stop(ctx)
		return nil, ErrProxyExists
	}
	m.activeCount.Add(1)
	m.totalStarted.Add(1)
	return server, nil
}

// Get returns the proxy for a target host.
func (m *Manager) Get(targetHost string) (*Server, error) {
	if val, ok := m.proxies.Load(targetHost); ok {
		return val.(*Server), nil
	}
	return nil, ErrProxyNotFound
}

// Stop stops the proxy for a target host and removes it.
func (m *Manager) Stop(ctx context.Context, targetHost string) error {
	server, err := m.Get(targetHost)
	if err != nil {
		return err
	}
	if err := server.Stop(ctx); err != nil {
		return err
	}
	m.proxies.Delete(targetHost)
	m.activeCount.Add(-1)
	return nil
}

// List returns all managed proxies.
func (m *Manager) List() []*Server {
	var result []*Server
	m.proxies.Range(func(_, value any) bool {
		result = append(result, value.(*Server))
		return true
	})
	return result
}

// ActiveCount returns the number of running proxies.
func (m *Manager) ActiveCount() int64 {
	return m.activeCount.Load()
}

// Shutdown stops every proxy in parallel and refuses further creates.
func (m *Manager) Shutdown(ctx context.Context) error {
	var shutdownErr error
	m.shutdownOnce.Do(func() {
		m.shuttingDown.Store(true)

		var wg sync.WaitGroup
		var mu sync.Mutex
		var errs []error

		m.proxies.Range(func(key, _ any) bool {
			wg.Add(1)
			go func(host string) {
				defer wg.Done()
				if err := m.Stop(ctx, host); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}(key.(string))
			return true
		})

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			shutdownErr = ctx.Err()
			return
		}
		if len(errs) > 0 {
			shutdownErr = errors.Join(errs...)
		}
	})
	return shutdownErr
}
