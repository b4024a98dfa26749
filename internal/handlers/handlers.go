// Package handlers exposes the job runner over a JSON HTTP API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/felo/reportmaster/internal/config"
	"github.com/felo/reportmaster/internal/db"
	"github.com/felo/reportmaster/internal/jobs"
)

// Handlers holds all HTTP handlers and their dependencies
type Handlers struct {
	jobs   *jobs.Manager
	cfg    *config.Config
	logger *zap.Logger
}

// New creates a new Handlers instance
func New(manager *jobs.Manager, cfg *config.Config, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		jobs:   manager,
		cfg:    cfg,
		logger: logger,
	}
}

// Routes builds the router serving the API.
func (h *Handlers) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Healthz)

	r.Route("/api/jobs", func(r chi.Router) {
		r.Post("/", h.CreateJob)
		r.Get("/", h.ListJobs)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetJob)
			r.Delete("/", h.DeleteJob)
			r.Get("/report", h.DownloadReport)
			r.Get("/events", h.JobEvents)
			r.Get("/threads", h.JobThreads)
			r.Get("/groups", h.JobGroups)
			r.Get("/attachments.zip", h.DownloadAttachments)
		})
	})

	return r
}

// Healthz reports liveness.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			h.logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		}()
		next.ServeHTTP(ww, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are sent; an encoding failure can only be logged by the caller's middleware.
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// fail maps err to a status code: unknown jobs are 404, rejected submissions
// 400, operations on unfinished jobs 409, an unavailable queue 503, and
// everything else 500.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobs.ErrNoFiles), errors.Is(err, jobs.ErrTooManyFiles):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, jobs.ErrJobActive):
		writeError(w, http.StatusConflict, "job has not finished")
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
