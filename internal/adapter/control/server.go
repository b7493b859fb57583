package control

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaygrid/fleetsched/internal/config"
	"github.com/relaygrid/fleetsched/internal/domain"
)

// Pinger is satisfied by *pgxpool.Pool; kept narrow so this package does not
// need to import pgx directly.
type Pinger interface {
	Ping(ctx domain.Context) error
}

// Server is the HTTP control surface (§6): start/status/stop plus the
// /healthz and /metrics endpoints every Supervisor process exposes.
type Server struct {
	Cfg     config.Config
	Manager *Manager
	Stats   domain.StatsReader
	Store   Pinger
	Log     *slog.Logger
}

// Router builds the chi handler for this Server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(cr chi.Router) {
		cr.Use(httprate.LimitByIP(60, time.Minute))
		cr.Use(BasicAuth(s.Cfg.OperatorUsername, s.Cfg.OperatorPasswordHash))
		cr.Post("/v1/start", s.handleStart)
		cr.Get("/v1/status", s.handleStatus)
		cr.Post("/v1/stop", s.handleStop)
	})

	return r
}

// corsOrigins returns the configured allow-list, defaulting to "*" so a
// freshly deployed operator dashboard isn't blocked before Cfg is tuned.
func (s *Server) corsOrigins() []string {
	if len(s.Cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.Cfg.CORSAllowedOrigins
}

type startRequest struct {
	Group       string `json:"group"`
	WorkerCount int    `json:"worker_count"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Group == "" || req.WorkerCount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "group and worker_count are required"})
		return
	}
	if err := s.Manager.Start(req.Group, req.WorkerCount); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "group": req.Group})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("group")
	if group == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "group is required"})
		return
	}
	if err := s.Manager.Stop(group); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping", "group": group})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("group")
	if group == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "group is required"})
		return
	}
	snap, err := s.Stats.Snapshot(r.Context(), group)
	if err != nil {
		s.Log.Error("status snapshot failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "snapshot failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"group":      group,
		"running":    s.Manager.Running(group),
		"by_status":  snap.ByStatus,
		"by_profile": snap.ByProfile,
	})
}

// handleHealthz reports ready only once the store is reachable, mirroring
// the teacher's "check dependency connectivity before reporting healthy"
// readiness pattern.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
