package handlers

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/felo/reportmaster/internal/export"
	"github.com/felo/reportmaster/internal/model"
)

// downloadName builds the file name offered to the client for a job
// artifact, e.g. "attachments_2024-05.zip".
func downloadName(job *model.Job, prefix, ext string) string {
	name := job.ID
	if job.ReportMonth != "" {
		name = job.ReportMonth
	}

	// Remove any control characters and quotes
	cleaned := strings.Map(func(r rune) rune {
		if r < 32 || r == 127 || r == '"' || r == '\'' || r == '/' || r == '\\' {
			return -1
		}
		return r
	}, name)
	if cleaned == "" {
		cleaned = "report"
	}
	return prefix + "_" + cleaned + ext
}

// DownloadReport serves the manifest written when the job completed.
func (h *Handlers) DownloadReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if job.Status != model.JobCompleted {
		writeError(w, http.StatusConflict, "job has not completed")
		return
	}

	f, err := os.Open(h.jobs.ReportPath(id))
	if err != nil {
		h.fail(w, r, fmt.Errorf("failed to open report of %s: %w", id, err))
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		h.fail(w, r, fmt.Errorf("failed to stat report of %s: %w", id, err))
		return
	}

	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{
			"filename": downloadName(job, "report", ".json"),
		}))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, "", info.ModTime(), f)
}

// DownloadAttachments streams a ZIP archive holding the attachments of a
// completed job, one folder per group.
func (h *Handlers) DownloadAttachments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if job.Status != model.JobCompleted {
		writeError(w, http.StatusConflict, "job has not completed")
		return
	}

	groups, err := h.jobs.Groups(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{
			"filename": downloadName(job, "attachments", ".zip"),
		}))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	a := &export.ArchiveAssembler{Logger: h.logger.With(zap.String("job_id", id))}
	stats, err := a.Archive(r.Context(), w, groups)
	if err != nil {
		// The response is already underway; all that is left is to log it.
		h.logger.Error("failed to stream attachments",
			zap.String("job_id", id),
			zap.Error(err))
		return
	}
	h.logger.Debug("attachments archived",
		zap.String("job_id", id),
		zap.Int("files", stats.Files),
		zap.Int("skipped", stats.Skipped))
}
