package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/felo/reportmaster/internal/model"
)

type messageRow struct {
	ID         string   `db:"id"`
	SourcePath string   `db:"source_path"`
	Sender     string   `db:"sender"`
	Recipients string   `db:"recipients"`
	Date       NullTime `db:"date"`
	Subject    string   `db:"subject"`
	Body       string   `db:"body"`
	InReplyTo  string   `db:"in_reply_to"`
}

type attachmentRow struct {
	MessageID   string `db:"message_id"`
	Filename    string `db:"filename"`
	ContentType string `db:"content_type"`
	Size        int64  `db:"size"`
	Fingerprint string `db:"fingerprint"`
}

// SaveMessages stores the parsed messages of a job in input order, along
// with their attachment references. Message IDs must be unique per job.
func (db *DB) SaveMessages(ctx context.Context, jobID string, messages []model.Message) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	msgStmt, err := tx.PreparexContext(ctx, `
		INSERT INTO messages (
			job_id, id, position, source_path, sender, recipients,
			date, subject, body, in_reply_to
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare message statement: %w", err)
	}
	defer msgStmt.Close()

	attStmt, err := tx.PreparexContext(ctx, `
		INSERT INTO attachments (
			job_id, message_id, position, filename, content_type, size, fingerprint
		) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare attachment statement: %w", err)
	}
	defer attStmt.Close()

	for i := range messages {
		m := &messages[i]
		recipients := m.Recipients
		if recipients == nil {
			recipients = []string{}
		}
		rcpt, err := json.Marshal(recipients)
		if err != nil {
			return fmt.Errorf("failed to marshal recipients of %s: %w", m.ID, err)
		}

		_, err = msgStmt.ExecContext(ctx,
			jobID, m.ID, i, m.SourcePath, m.Sender, string(rcpt),
			NewNullTime(m.Date), m.Subject, m.Body, m.InReplyTo,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message %s: %w", m.ID, err)
		}

		for j, att := range m.Attachments {
			_, err := attStmt.ExecContext(ctx,
				jobID, m.ID, j, att.Filename, att.ContentType, att.Size, att.Fingerprint,
			)
			if err != nil {
				return fmt.Errorf("failed to insert attachment %d of %s: %w", j, m.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	return nil
}

// LoadMessages returns a job's messages in the order they were saved.
func (db *DB) LoadMessages(ctx context.Context, jobID string) ([]model.Message, error) {
	var rows []messageRow
	err := db.SelectContext(ctx, &rows, `
		SELECT id, source_path, sender, recipients, date, subject, body, in_reply_to
		FROM messages WHERE job_id = ? ORDER BY position`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages for job %s: %w", jobID, err)
	}

	var atts []attachmentRow
	err = db.SelectContext(ctx, &atts, `
		SELECT a.message_id, a.filename, a.content_type, a.size, a.fingerprint
		FROM attachments a
		JOIN messages m ON m.job_id = a.job_id AND m.id = a.message_id
		WHERE a.job_id = ?
		ORDER BY m.position, a.position`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attachments for job %s: %w", jobID, err)
	}
	byMessage := make(map[string][]model.Attachment)
	for _, a := range atts {
		byMessage[a.MessageID] = append(byMessage[a.MessageID], model.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
			Fingerprint: a.Fingerprint,
		})
	}

	messages := make([]model.Message, len(rows))
	for i, r := range rows {
		var recipients []string
		if err := json.Unmarshal([]byte(r.Recipients), &recipients); err != nil {
			return nil, fmt.Errorf("failed to decode recipients of %s: %w", r.ID, err)
		}
		if len(recipients) == 0 {
			recipients = nil
		}
		messages[i] = model.Message{
			ID:          r.ID,
			SourcePath:  r.SourcePath,
			Sender:      r.Sender,
			Recipients:  recipients,
			Date:        r.Date.Get(),
			Subject:     r.Subject,
			Body:        r.Body,
			InReplyTo:   r.InReplyTo,
			Attachments: byMessage[r.ID],
		}
	}
	return messages, nil
}
