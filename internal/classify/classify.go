// Package classify assigns a category label to each thread. A Classifier is
// the seam to whatever decides the label; Runner applies one to a batch of
// threads concurrently.
package classify

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/felo/reportmaster/internal/model"
)

// Classifier labels a thread. An empty label leaves the thread
// uncategorized.
type Classifier interface {
	Classify(ctx context.Context, t *model.Thread) (string, error)
}

// Func adapts a function to the Classifier interface.
type Func func(ctx context.Context, t *model.Thread) (string, error)

// Classify calls f.
func (f Func) Classify(ctx context.Context, t *model.Thread) (string, error) {
	return f(ctx, t)
}

// Runner applies a Classifier to many threads.
type Runner struct {
	Classifier  Classifier
	Concurrency int
	Logger      *zap.Logger
	// Progress, when set, is called after each thread with the number done.
	Progress func(done, total int)
}

// Apply sets Category on every thread. A thread whose classification fails is
// logged and left uncategorized; only cancellation of ctx is returned as an
// error, in which case no thread is modified.
func (r *Runner) Apply(ctx context.Context, threads []*model.Thread) error {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := r.Concurrency
	if limit < 1 {
		limit = 1
	}

	labels := make([]string, len(threads))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, t := range threads {
		if t == nil {
			continue
		}
		i, t := i, t
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			label, err := r.Classifier.Classify(gctx, t)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				logger.Warn("classification failed, thread left uncategorized",
					zap.String("thread_id", t.ID),
					zap.Error(err))
				label = ""
			}
			labels[i] = label
			if r.Progress != nil {
				r.Progress(int(done.Add(1)), len(threads))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("classification interrupted: %w", err)
	}

	for i, t := range threads {
		if t != nil {
			t.Category = labels[i]
		}
	}
	return nil
}
