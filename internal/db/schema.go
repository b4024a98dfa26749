package db

// migration is one schema step. Versions are sequential from 1.
type migration struct {
	version int
	sql     string
}

// Per-job state only. Message bodies are kept for classification and
// export; attachment payloads stay in the uploaded .eml files and are
// parsed on demand.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
    id               TEXT PRIMARY KEY,
    status           TEXT NOT NULL,
    progress         INTEGER NOT NULL DEFAULT 0,
    error            TEXT NOT NULL DEFAULT '',
    report_month     TEXT NOT NULL DEFAULT '',
    file_count       INTEGER NOT NULL DEFAULT 0,
    failed_files     INTEGER NOT NULL DEFAULT 0,
    message_count    INTEGER NOT NULL DEFAULT 0,
    thread_count     INTEGER NOT NULL DEFAULT 0,
    group_count      INTEGER NOT NULL DEFAULT 0,
    attachment_count INTEGER NOT NULL DEFAULT 0,
    created_at       DATETIME NOT NULL,
    updated_at       DATETIME NOT NULL,
    finished_at      DATETIME
);

CREATE TABLE IF NOT EXISTS messages (
    job_id      TEXT NOT NULL,
    id          TEXT NOT NULL,
    position    INTEGER NOT NULL,
    source_path TEXT NOT NULL DEFAULT '',
    sender      TEXT NOT NULL DEFAULT '',
    recipients  TEXT NOT NULL DEFAULT '[]',
    date        DATETIME,
    subject     TEXT NOT NULL DEFAULT '',
    body        TEXT NOT NULL DEFAULT '',
    in_reply_to TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (job_id, id),
    FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS attachments (
    job_id       TEXT NOT NULL,
    message_id   TEXT NOT NULL,
    position     INTEGER NOT NULL,
    filename     TEXT NOT NULL,
    content_type TEXT NOT NULL DEFAULT '',
    size         INTEGER NOT NULL DEFAULT 0,
    fingerprint  TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (job_id, message_id, position),
    FOREIGN KEY (job_id, message_id) REFERENCES messages(job_id, id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS threads (
    job_id   TEXT NOT NULL,
    id       TEXT NOT NULL,
    position INTEGER NOT NULL,
    subject  TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (job_id, id),
    FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS thread_messages (
    job_id     TEXT NOT NULL,
    thread_id  TEXT NOT NULL,
    message_id TEXT NOT NULL,
    position   INTEGER NOT NULL,
    PRIMARY KEY (job_id, thread_id, position),
    FOREIGN KEY (job_id, thread_id) REFERENCES threads(job_id, id) ON DELETE CASCADE,
    FOREIGN KEY (job_id, message_id) REFERENCES messages(job_id, id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_messages_position ON messages(job_id, position);
CREATE INDEX IF NOT EXISTS idx_threads_position ON threads(job_id, position);
`,
	},
}
