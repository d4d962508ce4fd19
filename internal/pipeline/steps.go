package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nao1215/repocrawl/internal/filter"
	"github.com/nao1215/repocrawl/internal/measure"
	"github.com/nao1215/repocrawl/internal/model"
)

// ErrNoLocalPath is returned by steps that need a checkout when none was made.
var ErrNoLocalPath = errors.New("retrieval has no local path")

// Cloner makes a local copy of a repository. *retrieve.Cloner implements it.
type Cloner interface {
	Clone(ctx context.Context, repo model.Repository) (string, error)
}

// Purger deletes unwanted files from a checkout. *filter.Purger implements it.
type Purger interface {
	Purge(ctx context.Context, root string) (filter.Stats, error)
}

// Counter measures the tokens of a checkout. *measure.Counter implements it.
type Counter interface {
	Count(ctx context.Context, root string) (measure.Result, error)
}

// RetrieveStep clones the repository.
type RetrieveStep struct {
	cloner Cloner
}

// NewRetrieveStep creates a RetrieveStep.
func NewRetrieveStep(cloner Cloner) *RetrieveStep {
	return &RetrieveStep{cloner: cloner}
}

// Name returns the step name.
func (s *RetrieveStep) Name() string {
	return "retrieve"
}

// Do executes the clone.
func (s *RetrieveStep) Do(ctx context.Context, r *model.Retrieval) error {
	path, err := s.cloner.Clone(ctx, r.Repository)
	if err != nil {
		return err
	}
	r.LocalPath = path
	return nil
}

// FilterStep purges non-code files from the checkout. Its failures are
// logged and never fail the retrieval.
type FilterStep struct {
	purger Purger
	logger *slog.Logger
}

// FilterStepOption configures a FilterStep.
type FilterStepOption func(*FilterStep)

// WithFilterLogger sets a custom logger for the filter step.
func WithFilterLogger(logger *slog.Logger) FilterStepOption {
	return func(s *FilterStep) {
		s.logger = logger
	}
}

// NewFilterStep creates a FilterStep.
func NewFilterStep(purger Purger, opts ...FilterStepOption) *FilterStep {
	s := &FilterStep{
		purger: purger,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *FilterStep) Name() string {
	return "filter"
}

// Do executes the purge.
func (s *FilterStep) Do(ctx context.Context, r *model.Retrieval) error {
	if r.LocalPath == "" {
		s.logger.Warn("skipping filter, no checkout", "repo", r.Repository.FullName)
		return nil
	}

	stats, err := s.purger.Purge(ctx, r.LocalPath)
	r.FilesDeleted = stats.FilesDeleted
	r.BytesFreed = stats.BytesFreed
	if err != nil {
		s.logger.Warn("filter completed with error",
			"repo", r.Repository.FullName,
			"error", err,
		)
	}
	return nil
}

// MeasureStep counts the tokens of the checkout.
type MeasureStep struct {
	counter Counter
}

// NewMeasureStep creates a MeasureStep.
func NewMeasureStep(counter Counter) *MeasureStep {
	return &MeasureStep{counter: counter}
}

// Name returns the step name.
func (s *MeasureStep) Name() string {
	return "measure"
}

// Do executes the count.
func (s *MeasureStep) Do(ctx context.Context, r *model.Retrieval) error {
	if r.LocalPath == "" {
		return ErrNoLocalPath
	}

	res, err := s.counter.Count(ctx, r.LocalPath)
	if err != nil {
		return err
	}
	r.Tokens = res.Tokens
	r.FilesMeasured = res.FilesMeasured
	r.FilesSkipped = res.FilesSkipped
	return nil
}

// DefaultPipeline creates the retrieve, filter and measure pipeline.
func DefaultPipeline(cloner Cloner, purger Purger, counter Counter, opts ...Option) *Pipeline {
	p := New(opts...)
	p.AddSteps(
		NewRetrieveStep(cloner),
		NewFilterStep(purger, WithFilterLogger(p.logger)),
		NewMeasureStep(counter),
	)
	return p
}
