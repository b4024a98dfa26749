package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/felo/reportmaster/internal/jobs"
	"github.com/felo/reportmaster/internal/model"
)

// JobEvents streams job state changes as Server-Sent Events. The current
// state is sent first; the stream ends after the complete or error event.
func (h *Handlers) JobEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before reading the state so no transition is missed.
	events, release := h.jobs.Subscribe(id)
	defer release()

	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	initial := jobs.Event{Type: jobs.EventProgress, Job: *job}
	switch job.Status {
	case model.JobCompleted:
		initial.Type = jobs.EventComplete
	case model.JobFailed:
		initial.Type = jobs.EventError
	}
	h.sendSSE(w, flusher, initial)
	if initial.Final() {
		return
	}
	last := initial.Job

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			// Events queued before the snapshot was read may be older than it.
			if !e.Final() && !advances(last, e.Job) {
				continue
			}
			last = e.Job
			h.sendSSE(w, flusher, e)
			if e.Final() {
				return
			}
		}
	}
}

// advances reports whether next is a later state than prev.
func advances(prev, next model.Job) bool {
	if d := next.Status.Stage() - prev.Status.Stage(); d != 0 {
		return d > 0
	}
	return next.Progress > prev.Progress
}

// sendSSE sends an SSE message to the client
func (h *Handlers) sendSSE(w http.ResponseWriter, flusher http.Flusher, e jobs.Event) {
	data, err := json.Marshal(e.Job)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.String("job_id", e.Job.ID), zap.Error(err))
		return
	}

	fmt.Fprintf(w, "event: %s\n", e.Type)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
