package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felo/reportmaster/internal/model"
)

func TestCreateAndGetJob(t *testing.T) {
	db := SetupTestDB(t)
	ctx := context.Background()

	job := &model.Job{ID: "job-1", ReportMonth: "2024-05", Stats: model.JobStats{Files: 3}}
	require.NoError(t, db.CreateJob(ctx, job))
	assert.Equal(t, model.JobQueued, job.Status)
	assert.False(t, job.CreatedAt.IsZero())

	got, err := db.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.ID)
	assert.Equal(t, model.JobQueued, got.Status)
	assert.Equal(t, "2024-05", got.ReportMonth)
	assert.Equal(t, 3, got.Stats.Files)
	assert.WithinDuration(t, job.CreatedAt, got.CreatedAt, time.Millisecond)
	assert.True(t, got.FinishedAt.IsZero())
}

func TestGetJob_NotFound(t *testing.T) {
	db := SetupTestDB(t)

	_, err := db.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateJobProgress(t *testing.T) {
	db := SetupTestDB(t)
	ctx := context.Background()
	CreateTestJob(t, db, "job-1")

	require.NoError(t, db.UpdateJobProgress(ctx, "job-1", model.JobGrouping, 40))

	got, err := db.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobGrouping, got.Status)
	assert.Equal(t, 40, got.Progress)

	err = db.UpdateJobProgress(ctx, "missing", model.JobGrouping, 40)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFinishJob(t *testing.T) {
	db := SetupTestDB(t)
	ctx := context.Background()
	CreateTestJob(t, db, "ok")
	CreateTestJob(t, db, "bad")

	stats := model.JobStats{Files: 2, Messages: 5, Threads: 3, Groups: 2, Attachments: 1}
	require.NoError(t, db.FinishJob(ctx, "ok", model.JobCompleted, stats, ""))

	got, err := db.GetJob(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, stats, got.Stats)
	assert.False(t, got.FinishedAt.IsZero())

	require.NoError(t, db.UpdateJobProgress(ctx, "bad", model.JobParsing, 20))
	require.NoError(t, db.FinishJob(ctx, "bad", model.JobFailed, model.JobStats{}, "boom"))
	got, err = db.GetJob(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, got.Status)
	assert.Equal(t, 20, got.Progress, "a failed job keeps its last progress")
	assert.Equal(t, "boom", got.Error)

	assert.Error(t, db.FinishJob(ctx, "ok", model.JobParsing, stats, ""))
}

func TestListJobs_NewestFirst(t *testing.T) {
	db := SetupTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		job := &model.Job{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, db.CreateJob(ctx, job))
	}

	jobs, err := db.ListJobs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "c", jobs[0].ID)
	assert.Equal(t, "b", jobs[1].ID)
	assert.Equal(t, "a", jobs[2].ID)

	jobs, err = db.ListJobs(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestFailUnfinishedJobs(t *testing.T) {
	db := SetupTestDB(t)
	ctx := context.Background()
	CreateTestJob(t, db, "queued")
	CreateTestJob(t, db, "running")
	CreateTestJob(t, db, "done")
	require.NoError(t, db.UpdateJobProgress(ctx, "running", model.JobClassifying, 60))
	require.NoError(t, db.FinishJob(ctx, "done", model.JobCompleted, model.JobStats{}, ""))

	n, err := db.FailUnfinishedJobs(ctx, "interrupted")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := db.GetJob(ctx, "running")
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, got.Status)
	assert.Equal(t, "interrupted", got.Error)

	got, err = db.GetJob(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, got.Status)
}

func TestDeleteJob_Cascades(t *testing.T) {
	db := SetupTestDB(t)
	ctx := context.Background()
	CreateTestJob(t, db, "job-1")
	msg := CreateTestMessage("m1", "a@example.com", time.Now())
	msg.Attachments = []model.Attachment{{Filename: "x.pdf", Fingerprint: "f"}}
	require.NoError(t, db.SaveMessages(ctx, "job-1", []model.Message{msg}))

	require.NoError(t, db.DeleteJob(ctx, "job-1"))

	var n int
	require.NoError(t, db.Get(&n, "SELECT COUNT(*) FROM messages"))
	assert.Zero(t, n)
	require.NoError(t, db.Get(&n, "SELECT COUNT(*) FROM attachments"))
	assert.Zero(t, n)

	assert.ErrorIs(t, db.DeleteJob(ctx, "job-1"), ErrNotFound)
}
