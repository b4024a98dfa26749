// Package jobs runs report builds: uploads are stored, parsed, threaded,
// classified and merged by a bounded pool of workers, with every state
// transition persisted and broadcast to subscribers.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/felo/reportmaster/internal/category"
	"github.com/felo/reportmaster/internal/db"
	"github.com/felo/reportmaster/internal/export"
	"github.com/felo/reportmaster/internal/model"
	"github.com/felo/reportmaster/internal/parser"
)

var (
	// ErrNoFiles is returned when a submission carries no files.
	ErrNoFiles = errors.New("no files uploaded")
	// ErrTooManyFiles is returned when a submission exceeds the file cap.
	ErrTooManyFiles = errors.New("too many files")
	// ErrQueueFull is returned when no more jobs can be queued.
	ErrQueueFull = errors.New("job queue is full")
	// ErrNotRunning is returned by Submit before Start or after Close.
	ErrNotRunning = errors.New("job manager is not running")
	// ErrJobActive is returned when an operation needs a finished job.
	ErrJobActive = errors.New("job has not finished")
)

// ReportFile is the manifest written into a job's work directory.
const ReportFile = "report.json"

// Progress checkpoints per stage.
const (
	progressParsingStart     = 5
	progressParsingEnd       = 40
	progressGrouping         = 45
	progressClassifyingStart = 50
	progressClassifyingEnd   = 85
	progressAssembling       = 90
)

// File is one uploaded message file.
type File struct {
	Name string
	Body io.Reader
}

// Request describes a job submission.
type Request struct {
	ReportMonth string
	Files       []File
}

// Options configures a Manager.
type Options struct {
	DB            *db.DB
	WorkDir       string
	Pipeline      *Pipeline
	MaxConcurrent int
	MaxFiles      int
	QueueSize     int
	Logger        *zap.Logger
}

// Manager owns the job queue and its workers.
type Manager struct {
	db       *db.DB
	workDir  string
	pipeline *Pipeline
	maxFiles int
	workers  int
	logger   *zap.Logger
	events   *broker

	mu      sync.RWMutex
	running bool
	queue   chan string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager validates opts and returns a stopped Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.DB == nil || opts.Pipeline == nil {
		return nil, errors.New("jobs: database and pipeline are required")
	}
	if opts.WorkDir == "" {
		return nil, errors.New("jobs: work directory is required")
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.MaxFiles < 1 {
		opts.MaxFiles = 50
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 100
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		db:       opts.DB,
		workDir:  opts.WorkDir,
		pipeline: opts.Pipeline,
		maxFiles: opts.MaxFiles,
		workers:  opts.MaxConcurrent,
		logger:   opts.Logger,
		events:   newBroker(),
		queue:    make(chan string, opts.QueueSize),
	}, nil
}

// Start marks jobs left unfinished by an earlier process as failed and
// launches the workers. Workers stop when ctx is canceled or Close is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	n, err := m.db.FailUnfinishedJobs(ctx, "interrupted by restart")
	if err != nil {
		return err
	}
	if n > 0 {
		m.logger.Warn("marked interrupted jobs as failed", zap.Int64("jobs", n))
	}

	ctx, m.cancel = context.WithCancel(ctx)
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx)
	}
	m.running = true
	m.logger.Info("job workers started", zap.Int("workers", m.workers))
	return nil
}

// Close stops the workers and waits for running jobs to wind down. Jobs
// interrupted this way, and jobs still waiting in the queue, are recorded
// as failed.
func (m *Manager) Close() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()
	m.drain()
}

// drain fails every job left in the queue so a later Start cannot pick up
// stale IDs.
func (m *Manager) drain() {
	ctx := context.Background()
	for {
		select {
		case id := <-m.queue:
			job, err := m.db.GetJob(ctx, id)
			if err != nil {
				m.logger.Error("failed to load queued job", zap.String("job_id", id), zap.Error(err))
				continue
			}
			if job.Status.Terminal() {
				continue
			}
			m.fail(ctx, job, errors.New("canceled before start: job manager stopped"))
		default:
			return
		}
	}
}

// Submit stores the uploaded files and queues a job for them.
func (m *Manager) Submit(ctx context.Context, req Request) (*model.Job, error) {
	if len(req.Files) == 0 {
		return nil, ErrNoFiles
	}
	if len(req.Files) > m.maxFiles {
		return nil, fmt.Errorf("%w: %d files, limit is %d", ErrTooManyFiles, len(req.Files), m.maxFiles)
	}

	m.mu.RLock()
	running := m.running
	m.mu.RUnlock()
	if !running {
		return nil, ErrNotRunning
	}

	job := &model.Job{
		ID:          uuid.NewString(),
		Status:      model.JobQueued,
		ReportMonth: req.ReportMonth,
		Stats:       model.JobStats{Files: len(req.Files)},
	}

	if err := m.storeFiles(job.ID, req.Files); err != nil {
		os.RemoveAll(m.JobDir(job.ID))
		return nil, err
	}
	if err := m.db.CreateJob(ctx, job); err != nil {
		os.RemoveAll(m.JobDir(job.ID))
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.running {
		m.fail(context.Background(), job, ErrNotRunning)
		return nil, ErrNotRunning
	}
	select {
	case m.queue <- job.ID:
	default:
		m.fail(context.Background(), job, ErrQueueFull)
		return nil, ErrQueueFull
	}

	m.logger.Info("job queued",
		zap.String("job_id", job.ID),
		zap.Int("files", len(req.Files)))
	return job, nil
}

// JobDir is the work directory of a job.
func (m *Manager) JobDir(id string) string {
	return filepath.Join(m.workDir, id)
}

func (m *Manager) inputDir(id string) string {
	return filepath.Join(m.JobDir(id), "input")
}

// storeFiles writes uploads under sanitized, numbered names so that equal
// or hostile names cannot collide or escape the job directory.
func (m *Manager) storeFiles(id string, files []File) error {
	dir := m.inputDir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}
	for i, f := range files {
		name := fmt.Sprintf("%03d_%s", i+1, parser.SafeFilename(f.Name))
		out, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("failed to store %s: %w", name, err)
		}
		_, err = io.Copy(out, f.Body)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("failed to store %s: %w", name, err)
		}
	}
	return nil
}

// ReportPath is where the manifest of a completed job is stored.
func (m *Manager) ReportPath(id string) string {
	return filepath.Join(m.JobDir(id), ReportFile)
}

// Delete removes a finished job, its stored state and its work directory.
func (m *Manager) Delete(ctx context.Context, id string) error {
	job, err := m.db.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrJobActive, id, job.Status)
	}
	if err := m.db.DeleteJob(ctx, id); err != nil {
		return err
	}
	if err := os.RemoveAll(m.JobDir(id)); err != nil {
		return fmt.Errorf("failed to remove work directory of %s: %w", id, err)
	}
	m.logger.Info("job deleted", zap.String("job_id", id))
	return nil
}

// Get returns a job by ID.
func (m *Manager) Get(ctx context.Context, id string) (*model.Job, error) {
	return m.db.GetJob(ctx, id)
}

// List returns the most recent jobs, newest first.
func (m *Manager) List(ctx context.Context, limit int) ([]*model.Job, error) {
	return m.db.ListJobs(ctx, limit)
}

// Threads returns the categorized threads of a job.
func (m *Manager) Threads(ctx context.Context, id string) ([]*model.Thread, error) {
	if _, err := m.db.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return m.db.LoadThreads(ctx, id)
}

// Groups re-merges the stored threads of a job into thread groups.
func (m *Manager) Groups(ctx context.Context, id string) ([]*model.ThreadGroup, error) {
	threads, err := m.Threads(ctx, id)
	if err != nil {
		return nil, err
	}
	return category.Merge(threads)
}

// Subscribe returns a channel of events for a job and a function releasing
// it. The channel is closed after the job's final event.
func (m *Manager) Subscribe(id string) (<-chan Event, func()) {
	return m.events.subscribe(id)
}

func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-m.queue:
			m.process(ctx, id)
		}
	}
}

// process runs one job to a terminal state.
func (m *Manager) process(ctx context.Context, id string) {
	logger := m.logger.With(zap.String("job_id", id))
	start := time.Now()

	// Load even when ctx is already canceled so the job can be failed.
	job, err := m.db.GetJob(context.Background(), id)
	if err != nil {
		logger.Error("failed to load queued job", zap.Error(err))
		return
	}

	stats, err := m.run(ctx, job)
	if err != nil {
		logger.Error("job failed", zap.Error(err))
		job.Stats = stats
		m.fail(context.Background(), job, err)
		return
	}

	// Finish even if ctx was canceled right after the last stage.
	if err := m.db.FinishJob(context.Background(), id, model.JobCompleted, stats, ""); err != nil {
		logger.Error("failed to record completion", zap.Error(err))
		return
	}
	job.Status, job.Progress, job.Stats = model.JobCompleted, 100, stats
	m.publishCurrent(id, EventComplete, job)
	logger.Info("job completed",
		zap.Int("messages", stats.Messages),
		zap.Int("threads", stats.Threads),
		zap.Int("groups", stats.Groups),
		zap.Duration("elapsed", time.Since(start)))
}

func (m *Manager) run(ctx context.Context, job *model.Job) (model.JobStats, error) {
	stats := job.Stats
	// Parse and classify workers report progress concurrently.
	var mu sync.Mutex
	set := func(status model.JobStatus, progress int) error {
		mu.Lock()
		defer mu.Unlock()
		if status == job.Status && progress <= job.Progress {
			return nil
		}
		if err := m.db.UpdateJobProgress(ctx, job.ID, status, progress); err != nil {
			return err
		}
		job.Status, job.Progress = status, progress
		m.events.publish(Event{Type: EventProgress, Job: *job})
		return nil
	}
	step := func(status model.JobStatus, from, to int) func(done, total int) {
		return func(done, total int) {
			if total == 0 {
				return
			}
			// Progress updates are advisory; a lost one is not an error.
			_ = set(status, from+(to-from)*done/total)
		}
	}

	if err := set(model.JobParsing, progressParsingStart); err != nil {
		return stats, err
	}
	parsed, err := m.pipeline.ParseDir(ctx, m.inputDir(job.ID),
		step(model.JobParsing, progressParsingStart, progressParsingEnd))
	if err != nil {
		return stats, err
	}
	stats.FailedFiles = len(parsed.FailedFiles) + (stats.Files - parsed.Files)
	stats.Messages = len(parsed.Messages)
	if err := m.db.SaveMessages(ctx, job.ID, parsed.Messages); err != nil {
		return stats, err
	}

	if err := set(model.JobGrouping, progressGrouping); err != nil {
		return stats, err
	}
	threads := m.pipeline.Group(parsed.Messages)
	stats.Threads = len(threads)
	if err := m.db.SaveThreads(ctx, job.ID, threads); err != nil {
		return stats, err
	}

	if err := set(model.JobClassifying, progressClassifyingStart); err != nil {
		return stats, err
	}
	err = m.pipeline.Classify(ctx, threads,
		step(model.JobClassifying, progressClassifyingStart, progressClassifyingEnd))
	if err != nil {
		return stats, err
	}
	for _, t := range threads {
		if t.Category == "" {
			continue
		}
		if err := m.db.SetThreadCategory(ctx, job.ID, t.ID, t.Category); err != nil {
			return stats, err
		}
	}

	if err := set(model.JobAssembling, progressAssembling); err != nil {
		return stats, err
	}
	groups, err := category.Merge(threads)
	if err != nil {
		return stats, err
	}
	stats.Groups = len(groups)
	for _, g := range groups {
		stats.Attachments += len(g.Attachments)
	}
	if err := m.writeReport(ctx, job, stats, groups); err != nil {
		return stats, err
	}
	return stats, nil
}

func (m *Manager) writeReport(ctx context.Context, job *model.Job, stats model.JobStats, groups []*model.ThreadGroup) error {
	f, err := os.Create(m.ReportPath(job.ID))
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	a := &export.ManifestAssembler{
		Format:      export.FormatJSON,
		ReportMonth: job.ReportMonth,
		Stats:       stats,
	}
	err = a.Assemble(ctx, f, groups)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func (m *Manager) fail(ctx context.Context, job *model.Job, cause error) {
	if err := m.db.FinishJob(ctx, job.ID, model.JobFailed, job.Stats, cause.Error()); err != nil {
		m.logger.Error("failed to record job failure",
			zap.String("job_id", job.ID),
			zap.Error(err))
	}
	job.Status, job.Error = model.JobFailed, cause.Error()
	m.publishCurrent(job.ID, EventError, job)
}

// publishCurrent sends the stored state of a job, falling back to the
// in-memory copy.
func (m *Manager) publishCurrent(id, eventType string, fallback *model.Job) {
	if stored, err := m.db.GetJob(context.Background(), id); err == nil {
		m.events.publish(Event{Type: eventType, Job: *stored})
		return
	}
	m.events.publish(Event{Type: eventType, Job: *fallback})
}
