package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/repocrawl/internal/model"
)

// BatchProcessor runs a pipeline over many retrievals concurrently.
type BatchProcessor struct {
	// pipelineFactory creates a new pipeline for each retrieval.
	pipelineFactory func() *Pipeline

	concurrency int

	logger *slog.Logger
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets a custom logger for batch processing.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets the maximum number of concurrent retrievals.
// Default is 4 if not specified.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBatchProcessor creates a new BatchProcessor.
func NewBatchProcessor(pipelineFactory func() *Pipeline, opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		pipelineFactory: pipelineFactory,
		concurrency:     4,
	}

	for _, opt := range opts {
		opt(bp)
	}

	if bp.logger == nil {
		bp.logger = slog.Default()
	}

	return bp
}

// ProcessBatch executes the pipeline for every retrieval and calls
// callback with each result as it completes. A failed retrieval does not
// stop the others. The callback is called from worker goroutines and must
// be safe for concurrent use.
func (bp *BatchProcessor) ProcessBatch(
	ctx context.Context,
	items []*model.Retrieval,
	callback func(r *model.Retrieval, err error, index int),
) error {
	bp.logger.Info("starting batch processing",
		"total", len(items),
		"concurrency", bp.concurrency,
	)
	startTime := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.concurrency)

	for i, item := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			err := bp.pipelineFactory().Execute(ctx, item)
			if err != nil {
				bp.logger.Warn("batch item failed",
					"repo", item.Repository.FullName,
					"error", err,
				)
			}
			callback(item, err, i)
			return nil
		})
	}

	err := g.Wait()

	bp.logger.Info("batch processing complete",
		"total", len(items),
		"elapsed", time.Since(startTime).Round(time.Millisecond),
	)
	return err
}
