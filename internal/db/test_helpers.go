package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/felo/reportmaster/internal/model"
)

// SetupTestDB creates an in-memory SQLite database for testing. It is closed
// when the test completes.
func SetupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	})

	return db
}

// CreateTestJob inserts a queued job and returns it.
func CreateTestJob(t *testing.T, db *DB, id string) *model.Job {
	t.Helper()

	job := &model.Job{ID: id, Status: model.JobQueued}
	if err := db.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("Failed to create test job %s: %v", id, err)
	}
	return job
}

// CreateTestMessage creates a message with default values
func CreateTestMessage(id, sender string, date time.Time, recipients ...string) model.Message {
	return model.Message{
		ID:         id,
		SourcePath: fmt.Sprintf("/test/%s.eml", id),
		Sender:     sender,
		Recipients: recipients,
		Date:       date,
		Subject:    "Subject " + id,
		Body:       "Body " + id,
	}
}
