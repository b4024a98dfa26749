package db

import (
	"context"
	"fmt"

	"github.com/felo/reportmaster/internal/model"
)

type threadRow struct {
	ID       string `db:"id"`
	Category string `db:"category"`
}

type threadMessageRow struct {
	ThreadID  string `db:"thread_id"`
	MessageID string `db:"message_id"`
}

// SaveThreads stores the thread partition of a job. The messages must have
// been saved with SaveMessages first.
func (db *DB) SaveThreads(ctx context.Context, jobID string, threads []*model.Thread) error {
	if len(threads) == 0 {
		return nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	threadStmt, err := tx.PreparexContext(ctx,
		"INSERT INTO threads (job_id, id, position, subject, category) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare thread statement: %w", err)
	}
	defer threadStmt.Close()

	memberStmt, err := tx.PreparexContext(ctx,
		"INSERT INTO thread_messages (job_id, thread_id, message_id, position) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare thread member statement: %w", err)
	}
	defer memberStmt.Close()

	for i, t := range threads {
		if _, err := threadStmt.ExecContext(ctx, jobID, t.ID, i, t.Subject, t.Category); err != nil {
			return fmt.Errorf("failed to insert thread %s: %w", t.ID, err)
		}
		for j := range t.Messages {
			if _, err := memberStmt.ExecContext(ctx, jobID, t.ID, t.Messages[j].ID, j); err != nil {
				return fmt.Errorf("failed to insert message %s of thread %s: %w", t.Messages[j].ID, t.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit threads: %w", err)
	}
	return nil
}

// LoadThreads rebuilds a job's threads, with their categories, in the order
// they were saved.
func (db *DB) LoadThreads(ctx context.Context, jobID string) ([]*model.Thread, error) {
	messages, err := db.LoadMessages(ctx, jobID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Message, len(messages))
	for _, m := range messages {
		byID[m.ID] = m
	}

	var rows []threadRow
	err = db.SelectContext(ctx, &rows,
		"SELECT id, category FROM threads WHERE job_id = ? ORDER BY position", jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load threads for job %s: %w", jobID, err)
	}

	var members []threadMessageRow
	err = db.SelectContext(ctx, &members, `
		SELECT tm.thread_id, tm.message_id
		FROM thread_messages tm
		JOIN threads t ON t.job_id = tm.job_id AND t.id = tm.thread_id
		WHERE tm.job_id = ?
		ORDER BY t.position, tm.position`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load thread members for job %s: %w", jobID, err)
	}

	threads := make([]*model.Thread, len(rows))
	index := make(map[string]*model.Thread, len(rows))
	for i, r := range rows {
		t := model.NewThread(r.ID)
		t.Category = r.Category
		threads[i] = t
		index[r.ID] = t
	}
	for _, m := range members {
		msg, ok := byID[m.MessageID]
		if !ok {
			return nil, fmt.Errorf("thread %s references unknown message %s", m.ThreadID, m.MessageID)
		}
		index[m.ThreadID].Append(msg)
	}
	return threads, nil
}

// SetThreadCategory stores the classifier label of one thread.
func (db *DB) SetThreadCategory(ctx context.Context, jobID, threadID, category string) error {
	res, err := db.ExecContext(ctx,
		"UPDATE threads SET category = ? WHERE job_id = ? AND id = ?", category, jobID, threadID)
	if err != nil {
		return fmt.Errorf("failed to set category of thread %s: %w", threadID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	return nil
}
