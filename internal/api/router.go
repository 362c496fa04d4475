package api

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-gateway/internal/journal"
)

const defaultMetricsPath = "/metrics"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	metricsPath := s.cfg.Path
	if metricsPath == "" {
		metricsPath = defaultMetricsPath
	}
	r.Method(http.MethodGet, metricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/presence", s.handlePresence)
	r.Get("/journal", s.handleJournal)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	return r
}

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealth runs every registered check. Any failure answers 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]checkResult, len(s.checks))
	for _, name := range slices.Sorted(maps.Keys(s.checks)) {
		if err := s.checks[name].HealthCheck(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = checkResult{Status: "error", Error: err.Error()}
			continue
		}
		results[name] = checkResult{Status: "ok"}
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":  overall,
		"version": s.version,
		"checks":  results,
	})
}

type deviceView struct {
	DeviceID  string    `json:"deviceId"`
	Online    bool      `json:"online"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s *Server) handlePresence(w http.ResponseWriter, _ *http.Request) {
	if s.presence == nil {
		writeNotFound(w, "presence tracking disabled")
		return
	}

	statuses := s.presence.Devices()
	devices := make([]deviceView, 0, len(statuses))
	for _, d := range statuses {
		devices = append(devices, deviceView{DeviceID: d.DeviceID, Online: d.Online, UpdatedAt: d.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"gatewayOnline": s.presence.GatewayOnline(),
		"devices":       devices,
	})
}

// handleJournal lists journal entries.
// Query: kind, device_id, since (RFC3339), limit, offset.
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeNotFound(w, "journal disabled")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{
		Kind:     q.Get("kind"),
		DeviceID: q.Get("device_id"),
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = since
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing journal failed", "error", err)
		writeInternalError(w, "failed to list journal")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
