package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/felo/reportmaster/internal/model"
)

type jobRow struct {
	ID              string   `db:"id"`
	Status          string   `db:"status"`
	Progress        int      `db:"progress"`
	Error           string   `db:"error"`
	ReportMonth     string   `db:"report_month"`
	FileCount       int      `db:"file_count"`
	FailedFiles     int      `db:"failed_files"`
	MessageCount    int      `db:"message_count"`
	ThreadCount     int      `db:"thread_count"`
	GroupCount      int      `db:"group_count"`
	AttachmentCount int      `db:"attachment_count"`
	CreatedAt       NullTime `db:"created_at"`
	UpdatedAt       NullTime `db:"updated_at"`
	FinishedAt      NullTime `db:"finished_at"`
}

func (r *jobRow) toJob() *model.Job {
	return &model.Job{
		ID:          r.ID,
		Status:      model.JobStatus(r.Status),
		Progress:    r.Progress,
		Error:       r.Error,
		ReportMonth: r.ReportMonth,
		Stats: model.JobStats{
			Files:       r.FileCount,
			FailedFiles: r.FailedFiles,
			Messages:    r.MessageCount,
			Threads:     r.ThreadCount,
			Groups:      r.GroupCount,
			Attachments: r.AttachmentCount,
		},
		CreatedAt:  r.CreatedAt.Get(),
		UpdatedAt:  r.UpdatedAt.Get(),
		FinishedAt: r.FinishedAt.Get(),
	}
}

const jobColumns = `id, status, progress, error, report_month,
	file_count, failed_files, message_count, thread_count, group_count, attachment_count,
	created_at, updated_at, finished_at`

// CreateJob inserts a new job. CreatedAt and UpdatedAt default to now.
func (db *DB) CreateJob(ctx context.Context, job *model.Job) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = model.JobQueued
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO jobs (id, status, progress, error, report_month, file_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, string(job.Status), job.Progress, job.Error, job.ReportMonth, job.Stats.Files,
		job.CreatedAt.UTC(), job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateJobProgress records a status transition and progress percentage.
func (db *DB) UpdateJobProgress(ctx context.Context, id string, status model.JobStatus, progress int) error {
	res, err := db.ExecContext(ctx,
		"UPDATE jobs SET status = ?, progress = ?, updated_at = ? WHERE id = ?",
		string(status), progress, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	return expectRow(res, id)
}

// FinishJob moves a job to a terminal status and stores its counters. errMsg
// is recorded for failed jobs.
func (db *DB) FinishJob(ctx context.Context, id string, status model.JobStatus, stats model.JobStats, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("cannot finish job %s with non-terminal status %q", id, status)
	}
	progress := 100
	if status == model.JobFailed {
		progress = 0
		if cur, err := db.GetJob(ctx, id); err == nil {
			progress = cur.Progress
		}
	}
	now := time.Now().UTC()
	res, err := db.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?, progress = ?, error = ?,
			file_count = ?, failed_files = ?, message_count = ?,
			thread_count = ?, group_count = ?, attachment_count = ?,
			updated_at = ?, finished_at = ?
		WHERE id = ?
	`, string(status), progress, errMsg,
		stats.Files, stats.FailedFiles, stats.Messages,
		stats.Threads, stats.Groups, stats.Attachments,
		now, now, id)
	if err != nil {
		return fmt.Errorf("failed to finish job %s: %w", id, err)
	}
	return expectRow(res, id)
}

// GetJob returns a job by ID, or ErrNotFound.
func (db *DB) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var row jobRow
	err := db.GetContext(ctx, &row, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return row.toJob(), nil
}

// ListJobs returns up to limit jobs, newest first. limit <= 0 means all.
func (db *DB) ListJobs(ctx context.Context, limit int) ([]*model.Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs ORDER BY created_at DESC, rowid DESC"
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []jobRow
	if err := db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	jobs := make([]*model.Job, len(rows))
	for i := range rows {
		jobs[i] = rows[i].toJob()
	}
	return jobs, nil
}

// FailUnfinishedJobs marks jobs left running by a previous process as failed
// and returns how many were touched.
func (db *DB) FailUnfinishedJobs(ctx context.Context, reason string) (int64, error) {
	now := time.Now().UTC()
	res, err := db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = ?, finished_at = ?
		WHERE status NOT IN (?, ?)
	`, string(model.JobFailed), reason, now, now, string(model.JobCompleted), string(model.JobFailed))
	if err != nil {
		return 0, fmt.Errorf("failed to fail unfinished jobs: %w", err)
	}
	return res.RowsAffected()
}

// DeleteJob removes a job and everything stored for it.
func (db *DB) DeleteJob(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	return expectRow(res, id)
}

func expectRow(res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}
