package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"udata-harvest/internal/observability/logging"
	"udata-harvest/internal/usecase/harvest"
	"udata-harvest/internal/usecase/notify"
)

// checkTimeout bounds one dependency probe on /health/ready.
const checkTimeout = 2 * time.Second

// Checker probes one dependency.
type Checker interface {
	Ping(ctx context.Context) error
}

// CheckerFunc adapts a function such as (*sql.DB).PingContext.
type CheckerFunc func(ctx context.Context) error

// Ping implements Checker.
func (f CheckerFunc) Ping(ctx context.Context) error { return f(ctx) }

// ChannelHealthProvider reports notification channel state.
type ChannelHealthProvider interface {
	GetChannelHealth() []notify.ChannelHealthStatus
}

// ScheduleProvider lists the registered cron entries.
type ScheduleProvider interface {
	Scheduled() []ScheduledSource
}

// HealthServer serves the worker probes and read-only introspection:
//
//	GET /health             liveness, always 200
//	GET /health/ready       200 once started and every dependency answers
//	GET /health/channels    notification channels and their breakers
//	GET /schedule           registered sources and their next run
//	GET /backends           backend kinds with their filters and features
type HealthServer struct {
	addr    string
	logger  *slog.Logger
	isReady atomic.Bool
	server  *http.Server

	mu       sync.RWMutex
	checks   map[string]Checker
	channels ChannelHealthProvider
	schedule ScheduleProvider
	backends []harvest.BackendInfo
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type channelHealthResponse struct {
	Healthy  bool                         `json:"healthy"`
	Channels []notify.ChannelHealthStatus `json:"channels"`
}

type backendResponse struct {
	Kind        string   `json:"kind"`
	DisplayName string   `json:"display_name"`
	Filters     []string `json:"filters"`
	Features    []string `json:"features"`
}

// NewHealthServer creates a server listening on addr. It starts not ready.
func NewHealthServer(addr string, logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthServer{addr: addr, logger: logger, checks: make(map[string]Checker)}
}

// AddCheck registers a dependency probed by the readiness endpoint.
func (h *HealthServer) AddCheck(name string, c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = c
}

// SetChannelHealth sets the notification channel source.
func (h *HealthServer) SetChannelHealth(p ChannelHealthProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channels = p
}

// SetSchedule sets the scheduler exposed on /schedule.
func (h *HealthServer) SetSchedule(p ScheduleProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.schedule = p
}

// SetBackends sets the backend descriptions exposed on /backends.
func (h *HealthServer) SetBackends(infos []harvest.BackendInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.backends = infos
}

// SetReady flips the readiness state.
func (h *HealthServer) SetReady(ready bool) {
	h.isReady.Store(ready)
	h.logger.Info("health server readiness changed", slog.Bool("ready", ready))
}

// Handler returns the router.
func (h *HealthServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", h.handleReadiness).Methods(http.MethodGet)
	r.HandleFunc("/health/channels", h.handleChannels).Methods(http.MethodGet)
	r.HandleFunc("/schedule", h.handleSchedule).Methods(http.MethodGet)
	r.HandleFunc("/backends", h.handleBackends).Methods(http.MethodGet)
	return r
}

// Start serves until ctx is cancelled, then shuts down within 5 seconds.
// It returns http.ErrServerClosed after a graceful shutdown.
func (h *HealthServer) Start(ctx context.Context) error {
	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      h.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		h.logger.Info("health server starting", slog.String("addr", h.addr))
		if err := h.server.ListenAndServe(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.logger.Info("health server shutting down")
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			h.logger.Error("health server shutdown failed", slog.Any("error", err))
			return err
		}
		return http.ErrServerClosed
	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("health server failed", slog.Any("error", err))
		}
		return err
	}
}

func (h *HealthServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode health response", slog.Any("error", err))
	}
}

func (h *HealthServer) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (h *HealthServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !h.isReady.Load() {
		h.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "not ready"})
		return
	}

	h.mu.RLock()
	checks := make(map[string]Checker, len(h.checks))
	for name, c := range h.checks {
		checks[name] = c
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	type result struct {
		name string
		err  error
	}
	results := make(chan result, len(checks))
	for name, c := range checks {
		go func(name string, c Checker) {
			results <- result{name: name, err: c.Ping(ctx)}
		}(name, c)
	}

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
	status := http.StatusOK
	for range checks {
		res := <-results
		if res.err != nil {
			resp.Checks[res.name] = logging.SanitizeError(res.err)
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[res.name] = "ok"
	}
	h.writeJSON(w, status, resp)
}

func (h *HealthServer) handleChannels(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	p := h.channels
	h.mu.RUnlock()
	if p == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "notification service not initialized"})
		return
	}

	resp := channelHealthResponse{Healthy: true, Channels: p.GetChannelHealth()}
	for _, ch := range resp.Channels {
		if ch.Enabled && ch.CircuitBreakerOpen {
			resp.Healthy = false
		}
	}
	status := http.StatusOK
	if !resp.Healthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}

func (h *HealthServer) handleSchedule(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	p := h.schedule
	h.mu.RUnlock()
	if p == nil {
		h.writeJSON(w, http.StatusOK, []ScheduledSource{})
		return
	}
	h.writeJSON(w, http.StatusOK, p.Scheduled())
}

func (h *HealthServer) handleBackends(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	infos := h.backends
	h.mu.RUnlock()

	out := make([]backendResponse, 0, len(infos))
	for _, info := range infos {
		b := backendResponse{Kind: string(info.Kind), DisplayName: info.DisplayName, Filters: []string{}, Features: []string{}}
		for _, f := range info.Filters {
			b.Filters = append(b.Filters, f.Key)
		}
		for _, f := range info.Features {
			b.Features = append(b.Features, f.Key)
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	h.writeJSON(w, http.StatusOK, out)
}
