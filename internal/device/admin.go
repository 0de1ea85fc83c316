package device

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"git.home.luguber.info/inful/taptrack/internal/logfields"
	"git.home.luguber.info/inful/taptrack/internal/mode"
)

// AdminServer exposes the operator surface over HTTP: status, stats, queue
// inspection, mode control and Prometheus metrics. Bound to loopback by
// default; there is no auth layer.
type AdminServer struct {
	device   *Device
	server   *http.Server
	registry *prometheus.Registry
}

// NewAdminServer builds the admin server. registry may be nil to disable
// the /metrics endpoint.
func NewAdminServer(d *Device, listenAddr string, registry *prometheus.Registry) *AdminServer {
	a := &AdminServer{device: d, registry: registry}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("GET /api/status", a.handleStatus)
	mux.HandleFunc("GET /api/stats", a.handleStats)
	mux.HandleFunc("POST /api/stats/reset", a.handleStatsReset)
	mux.HandleFunc("GET /api/queue", a.handleQueue)
	mux.HandleFunc("POST /api/queue/clear", a.handleQueueClear)
	mux.HandleFunc("POST /api/mode", a.handleMode)
	mux.HandleFunc("GET /api/events", a.handleEvents)
	if registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	a.server = &http.Server{
		Addr:         listenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return a
}

// Start serves until the listener fails or Stop is called.
func (a *AdminServer) Start() error {
	slog.Info("Admin server listening", slog.String("addr", a.server.Addr))
	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (a *AdminServer) Stop(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

func (a *AdminServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *AdminServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.device.GetStatus())
}

func (a *AdminServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.device.GetStats())
}

func (a *AdminServer) handleStatsReset(w http.ResponseWriter, _ *http.Request) {
	a.device.ResetStats()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (a *AdminServer) handleQueue(w http.ResponseWriter, _ *http.Request) {
	snapshot := a.device.QueueSnapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"size":    len(snapshot),
		"records": snapshot,
	})
}

func (a *AdminServer) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	dropped := a.device.ClearQueue(r.Context())
	slog.Warn("Queue cleared via admin API", logfields.QueueSize(dropped))
	writeJSON(w, http.StatusOK, map[string]int{"dropped": dropped})
}

func (a *AdminServer) handleMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	m, err := mode.Parse(req.Mode)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := a.device.SetMode(r.Context(), m); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mode": string(m)})
}

func (a *AdminServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	entries, err := a.device.RecentEvents(r.Context(), 50)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode admin response", logfields.Error(err))
	}
}
