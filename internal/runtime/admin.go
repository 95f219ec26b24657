package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/natsflow/internal/runtime/codec"
	"github.com/drblury/natsflow/internal/runtime/listener"
	"github.com/drblury/natsflow/internal/runtime/logging"
)

// AdminOptions configures the admin HTTP API.
type AdminOptions struct {
	// Metrics adds per-container counters to container views.
	Metrics *listener.Metrics
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
	// CORSAllowedOrigins lists allowed origins; "*" allows any.
	CORSAllowedOrigins []string
}

type adminAPI struct {
	registry *EndpointRegistry
	logger   logging.ServiceLogger
	opts     AdminOptions
}

type containerView struct {
	listener.ContainerInfo
	Stats *listener.ContainerStats `json:"stats,omitempty"`
}

// NewAdminHandler exposes container inspection and lifecycle control over HTTP.
func NewAdminHandler(registry *EndpointRegistry, logger logging.ServiceLogger, opts AdminOptions) http.Handler {
	if logger == nil {
		logger = logging.NewNopServiceLogger()
	}
	a := &adminAPI{registry: registry, logger: logger, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(a.cors)

	r.Get("/health", a.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/containers", a.handleListContainers)
		r.Get("/containers/{id}", a.handleGetContainer)
		r.Post("/containers/{id}/start", a.handleStartContainer)
		r.Post("/containers/{id}/stop", a.handleStopContainer)
		r.Get("/groups", a.handleListGroups)
		r.Get("/groups/{group}", a.handleGetGroup)
		r.Post("/groups/{group}/start", a.handleStartGroup)
		r.Post("/groups/{group}/stop", a.handleStopGroup)
	})
	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (a *adminAPI) handleHealth(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"running": a.registry.IsRunning(),
	})
}

func (a *adminAPI) handleListContainers(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.views(a.registry.Infos()))
}

func (a *adminAPI) handleGetContainer(w http.ResponseWriter, r *http.Request) {
	info, ok := a.info(chi.URLParam(r, "id"))
	if !ok {
		a.writeError(w, http.StatusNotFound, "container not found")
		return
	}
	a.writeJSON(w, http.StatusOK, a.view(info))
}

func (a *adminAPI) handleStartContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c := a.registry.ListenerContainer(id)
	if c == nil {
		a.writeError(w, http.StatusNotFound, "container not found")
		return
	}
	if err := c.Start(r.Context()); err != nil {
		a.logger.Error("Admin start failed", err, logging.LogFields{"container": id})
		a.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	info, _ := a.info(id)
	a.writeJSON(w, http.StatusOK, a.view(info))
}

func (a *adminAPI) handleStopContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c := a.registry.ListenerContainer(id)
	if c == nil {
		a.writeError(w, http.StatusNotFound, "container not found")
		return
	}
	c.Stop()
	info, _ := a.info(id)
	a.writeJSON(w, http.StatusOK, a.view(info))
}

func (a *adminAPI) handleListGroups(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.registry.Groups())
}

func (a *adminAPI) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	views, ok := a.groupViews(chi.URLParam(r, "group"))
	if !ok {
		a.writeError(w, http.StatusNotFound, "group not found")
		return
	}
	a.writeJSON(w, http.StatusOK, views)
}

func (a *adminAPI) handleStartGroup(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	if len(a.registry.Group(group)) == 0 {
		a.writeError(w, http.StatusNotFound, "group not found")
		return
	}
	if err := a.registry.StartGroup(r.Context(), group); err != nil {
		a.logger.Error("Admin group start failed", err, logging.LogFields{"group": group})
		a.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views, _ := a.groupViews(group)
	a.writeJSON(w, http.StatusOK, views)
}

func (a *adminAPI) handleStopGroup(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	if len(a.registry.Group(group)) == 0 {
		a.writeError(w, http.StatusNotFound, "group not found")
		return
	}
	a.registry.StopGroup(group)
	views, _ := a.groupViews(group)
	a.writeJSON(w, http.StatusOK, views)
}

func (a *adminAPI) info(id string) (listener.ContainerInfo, bool) {
	for _, info := range a.registry.Infos() {
		if info.ID == id {
			return info, true
		}
	}
	return listener.ContainerInfo{}, false
}

func (a *adminAPI) groupViews(group string) ([]containerView, bool) {
	var infos []listener.ContainerInfo
	for _, info := range a.registry.Infos() {
		if info.Group == group {
			infos = append(infos, info)
		}
	}
	return a.views(infos), len(infos) > 0
}

func (a *adminAPI) views(infos []listener.ContainerInfo) []containerView {
	out := make([]containerView, 0, len(infos))
	for _, info := range infos {
		out = append(out, a.view(info))
	}
	return out
}

func (a *adminAPI) view(info listener.ContainerInfo) containerView {
	return containerView{ContainerInfo: info, Stats: a.opts.Metrics.Stats(info.ID)}
}

func (a *adminAPI) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := codec.Encode(w, v); err != nil {
		a.logger.Error("Failed to encode admin response", err, nil)
	}
}

func (a *adminAPI) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, map[string]string{"error": msg})
}

func (a *adminAPI) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := a.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *adminAPI) allowedOrigin(requestOrigin string) string {
	for _, allowed := range a.opts.CORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if requestOrigin != "" && strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}

// runAdminServer serves handler on port until ctx is cancelled. The
// returned channel yields the serve error, or nil after a clean shutdown.
func runAdminServer(ctx context.Context, port int, handler http.Handler, logger logging.ServiceLogger) <-chan error {
	errCh := make(chan error, 1)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Admin server shutdown failed", err, nil)
		}
	}()

	go func() {
		logger.Info("Starting admin server", logging.LogFields{"address": srv.Addr})
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			logger.Error("Admin server failed", err, logging.LogFields{"address": srv.Addr})
		}
		errCh <- err
	}()
	return errCh
}
