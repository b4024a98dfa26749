package model

import "time"

// JobStatus is a step in a job's lifecycle.
type JobStatus string

const (
	JobQueued      JobStatus = "queued"
	JobParsing     JobStatus = "parsing"
	JobGrouping    JobStatus = "grouping"
	JobClassifying JobStatus = "classifying"
	JobAssembling  JobStatus = "assembling"
	JobCompleted   JobStatus = "completed"
	JobFailed      JobStatus = "failed"
)

// Stage orders statuses along the lifecycle. Both terminal statuses share
// the last stage; unknown statuses are -1.
func (s JobStatus) Stage() int {
	switch s {
	case JobQueued:
		return 0
	case JobParsing:
		return 1
	case JobGrouping:
		return 2
	case JobClassifying:
		return 3
	case JobAssembling:
		return 4
	case JobCompleted, JobFailed:
		return 5
	}
	return -1
}

// Terminal reports whether no further transitions follow s.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobStats counts what a job produced.
type JobStats struct {
	Files       int `json:"files" yaml:"files"`
	FailedFiles int `json:"failed_files" yaml:"failed_files"`
	Messages    int `json:"messages" yaml:"messages"`
	Threads     int `json:"threads" yaml:"threads"`
	Groups      int `json:"groups" yaml:"groups"`
	Attachments int `json:"attachments" yaml:"attachments"`
}

// Job is one report-building run over a batch of uploaded files.
type Job struct {
	ID          string    `json:"id"`
	Status      JobStatus `json:"status"`
	Progress    int       `json:"progress"`
	Error       string    `json:"error,omitempty"`
	ReportMonth string    `json:"report_month,omitempty"`
	Stats       JobStats  `json:"stats"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
}
