package jobs

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/felo/reportmaster/internal/category"
	"github.com/felo/reportmaster/internal/classify"
	"github.com/felo/reportmaster/internal/model"
	"github.com/felo/reportmaster/internal/parser"
	"github.com/felo/reportmaster/internal/scanner"
	"github.com/felo/reportmaster/internal/threading"
)

// Pipeline runs the stages of a report build without persistence. The job
// manager and the offline build command share it.
type Pipeline struct {
	Builder             *threading.Builder
	Classifier          classify.Classifier
	ParseWorkers        int
	ClassifyConcurrency int
	Logger              *zap.Logger
}

// ParseResult holds the messages parsed from a batch of files.
type ParseResult struct {
	Messages    []model.Message
	Files       int
	FailedFiles []string
	Duplicates  int
}

// Result is the outcome of a full pipeline run.
type Result struct {
	ParseResult
	Threads []*model.Thread
	Groups  []*model.ThreadGroup
}

// Stats summarizes r.
func (r *Result) Stats() model.JobStats {
	stats := model.JobStats{
		Files:       r.Files,
		FailedFiles: len(r.FailedFiles),
		Messages:    len(r.Messages),
		Threads:     len(r.Threads),
		Groups:      len(r.Groups),
	}
	for _, g := range r.Groups {
		stats.Attachments += len(g.Attachments)
	}
	return stats
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// ParseDir scans dir for message files and parses them.
func (p *Pipeline) ParseDir(ctx context.Context, dir string, progress func(done, total int)) (*ParseResult, error) {
	s := scanner.NewScanner(dir)
	files, err := s.Scan()
	if err != nil {
		return nil, fmt.Errorf("failed to scan for files: %w", err)
	}
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = s.Resolve(f)
	}
	return p.Parse(ctx, paths, progress)
}

// Parse parses files concurrently. Results keep the order of paths. A file
// that fails to parse is logged and listed in FailedFiles; a message whose
// ID was already seen is dropped.
func (p *Pipeline) Parse(ctx context.Context, paths []string, progress func(done, total int)) (*ParseResult, error) {
	workers := p.ParseWorkers
	if workers < 1 {
		workers = runtime.NumCPU() * 2
	}
	logger := p.logger()

	parsed := make([]*model.Message, len(paths))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pe, err := parser.ParseEMLFile(path)
			if err != nil {
				logger.Warn("failed to parse message file",
					zap.String("file", filepath.Base(path)),
					zap.Error(err))
			} else {
				parsed[i] = &pe.Message
			}
			if progress != nil {
				progress(int(done.Add(1)), len(paths))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("parsing interrupted: %w", err)
	}

	result := &ParseResult{
		Files:       len(paths),
		Messages:    make([]model.Message, 0, len(paths)),
		FailedFiles: []string{},
	}
	seen := make(map[string]struct{}, len(paths))
	for i, m := range parsed {
		if m == nil {
			result.FailedFiles = append(result.FailedFiles, paths[i])
			continue
		}
		if _, dup := seen[m.ID]; dup {
			logger.Warn("duplicate message id dropped",
				zap.String("message_id", m.ID),
				zap.String("file", filepath.Base(paths[i])))
			result.Duplicates++
			continue
		}
		seen[m.ID] = struct{}{}
		result.Messages = append(result.Messages, *m)
	}
	return result, nil
}

// Group partitions messages into threads.
func (p *Pipeline) Group(messages []model.Message) []*model.Thread {
	return p.Builder.Build(messages)
}

// Classify labels threads in place.
func (p *Pipeline) Classify(ctx context.Context, threads []*model.Thread, progress func(done, total int)) error {
	r := &classify.Runner{
		Classifier:  p.Classifier,
		Concurrency: p.ClassifyConcurrency,
		Logger:      p.logger(),
		Progress:    progress,
	}
	return r.Apply(ctx, threads)
}

// Run executes every stage over the files in dir.
func (p *Pipeline) Run(ctx context.Context, dir string) (*Result, error) {
	parsed, err := p.ParseDir(ctx, dir, nil)
	if err != nil {
		return nil, err
	}
	res := &Result{ParseResult: *parsed}
	res.Threads = p.Group(parsed.Messages)
	if err := p.Classify(ctx, res.Threads, nil); err != nil {
		return nil, err
	}
	if res.Groups, err = category.Merge(res.Threads); err != nil {
		return nil, fmt.Errorf("failed to merge categories: %w", err)
	}
	return res, nil
}
