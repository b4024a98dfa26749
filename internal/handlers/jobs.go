package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/felo/reportmaster/internal/export"
	"github.com/felo/reportmaster/internal/jobs"
)

const (
	maxUploadBytes   = 256 << 20
	multipartMemory  = 32 << 20
	defaultListLimit = 50
	maxListLimit     = 500
)

// CreateJob accepts a multipart upload of message files under "files" and
// an optional report_month (YYYY-MM), and queues a job for them.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form upload")
		return
	}
	defer r.MultipartForm.RemoveAll()

	month := r.FormValue("report_month")
	if month != "" {
		if _, err := time.Parse("2006-01", month); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid report_month %q, want YYYY-MM", month))
			return
		}
	}

	headers := r.MultipartForm.File["files"]
	files := make([]jobs.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			h.fail(w, r, fmt.Errorf("failed to open upload %s: %w", fh.Filename, err))
			return
		}
		defer f.Close()
		files = append(files, jobs.File{Name: fh.Filename, Body: f})
	}

	job, err := h.jobs.Submit(r.Context(), jobs.Request{ReportMonth: month, Files: files})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

// ListJobs returns recent jobs, newest first. ?limit bounds the count.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	list, err := h.jobs.List(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetJob returns the status of one job.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// DeleteJob removes a finished job and its files.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// JobThreads returns the categorized threads of a job.
func (h *Handlers) JobThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := h.jobs.Threads(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

// JobGroups merges the stored threads of a job and returns them as report
// sections.
func (h *Handlers) JobGroups(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	groups, err := h.jobs.Groups(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	report := export.NewReport(groups, job.Stats, time.Now().UTC())
	report.ReportMonth = job.ReportMonth
	writeJSON(w, http.StatusOK, report)
}
