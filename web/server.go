// Package web is the webhook server collaborator: a plain net/http server
// whose routes are registered by plugins and rebuilt on every reload.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"mucbot/contract"
)

const stopTimeout = 5 * time.Second

var _ contract.WebhookServer = (*Server)(nil)

type webhook struct {
	module  string
	path    string
	handler http.HandlerFunc
}

// Server receives HTTP callbacks for plugins. Dispatch goes through the
// registration table, so ResetWebhooks immediately stops serving routes of
// unloaded plugins without restarting the listener.
type Server struct {
	mu    sync.RWMutex
	log   *slog.Logger
	addr  string
	order []string
	hooks map[string]webhook
	srv   *http.Server
}

func NewServer(host string, port int, log *slog.Logger) *Server {
	return &Server{
		log:   log,
		addr:  fmt.Sprintf("%s:%d", host, port),
		hooks: make(map[string]webhook),
	}
}

// RegisterWebhook installs a handler under path. A path collision replaces
// the earlier registration with a warning, mirroring command shadowing.
func (s *Server) RegisterWebhook(module, path string, handler http.HandlerFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.hooks[path]; ok {
		s.log.Warn("Webhook path already registered, replacing",
			"path", path, "previous", prev.module, "module", module)
	} else {
		s.order = append(s.order, path)
	}
	s.hooks[path] = webhook{module: module, path: path, handler: handler}
	return nil
}

// ResetWebhooks drops every registered webhook so a reload can repopulate
// the table from the new plugin set.
func (s *Server) ResetWebhooks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.hooks = make(map[string]webhook)
}

// ResetApp rebuilds the routing table. With table-driven dispatch there is
// no mux to recreate; the reset exists so no closure over an unloaded
// plugin survives a reload.
func (s *Server) ResetApp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fresh := make(map[string]webhook, len(s.hooks))
	for path, hook := range s.hooks {
		fresh[path] = hook
	}
	s.hooks = fresh
}

// ListWebhooks returns display strings in registration order.
func (s *Server) ListWebhooks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, path := range s.order {
		if hook, ok := s.hooks[path]; ok {
			out = append(out, fmt.Sprintf("%s: %s", hook.module, hook.path))
		}
	}
	return out
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	hook, ok := s.hooks[r.URL.Path]
	s.mu.RUnlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	hook.handler(w, r)
}

// Run serves until the context is canceled or Stop is called. It is meant
// to run under the supervisor.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s}

	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.log.Info("Starting webhook server", "address", s.addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		_ = s.Stop()
		return ctx.Err()
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return err
	}
}

// Stop shuts the listener down, waiting at most stopTimeout for in-flight
// requests. Safe to call when the server never started.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	s.log.Info("Stopping webhook server")
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
