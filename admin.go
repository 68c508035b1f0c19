package apphost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// AdminServer exposes the host's introspection surface over HTTP: instance
// listings, per-app detail, and manual reconciliation. These are the
// concurrent readers the registry's locking discipline exists for — they
// never take ownership of instances, only name-keyed metadata.
type AdminServer struct {
	manager *AppManager
	server  *http.Server
	logger  Logger
}

// NewAdminServer builds the admin API listening on addr.
func NewAdminServer(manager *AppManager, addr string, logger Logger) *AdminServer {
	s := &AdminServer{
		manager: manager,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/apps", s.handleListApps)
	r.Get("/apps/{name}", s.handleGetApp)
	r.Delete("/apps/{name}", s.handleTerminateApp)
	r.Post("/reconcile", s.handleReconcile)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *AdminServer) Start() {
	go func() {
		s.logger.Info("Admin API listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Admin API server error", "error", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *AdminServer) Stop(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin API shutdown: %w", err)
	}
	return nil
}

// Handler returns the underlying HTTP handler, for tests and embedding.
func (s *AdminServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *AdminServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *AdminServer) handleListApps(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.ListInstances())
}

func (s *AdminServer) handleGetApp(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, info := range s.manager.ListInstances() {
		if info.Name == name {
			s.writeJSON(w, http.StatusOK, info)
			return
		}
	}
	s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "app not found", "app": name})
}

func (s *AdminServer) handleTerminateApp(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.manager.TerminateInstance(name); err != nil {
		if errors.Is(err, ErrAppNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"terminated": name})
}

func (s *AdminServer) handleReconcile(w http.ResponseWriter, r *http.Request) {
	plugin := NoPluginSignal
	if p := r.URL.Query().Get("plugin"); p != "" {
		plugin = PluginSignal(p)
	}

	plan, err := s.manager.CheckForUpdates(plugin, false)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"removed":     plan.Remove,
		"terminated":  plan.TerminateNames(),
		"initialized": plan.InitializeNames(),
		"totalApps":   plan.TotalApps,
	})
}

func (s *AdminServer) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode admin response", "error", err)
	}
}
