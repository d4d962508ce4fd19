package pipeline

import (
	"context"
	"log/slog"

	"github.com/nao1215/repocrawl/internal/crawl"
	"github.com/nao1215/repocrawl/internal/model"
)

// Step defines the interface that all pipeline steps must implement.
// Steps are executed in sequence, with each step receiving the retrieval
// as left by the previous steps.
type Step interface {
	// Do executes the step. A returned error fails the retrieval;
	// problems that should not fail it are logged and nil is returned.
	Do(ctx context.Context, r *model.Retrieval) error

	// Name returns the step's name for logging and failure records.
	Name() string
}

// Pipeline orchestrates the execution of multiple steps.
type Pipeline struct {
	steps []Step

	logger *slog.Logger

	// cleanup runs after a failed retrieval, typically to remove a
	// partial checkout.
	cleanup func(model.Repository) error
}

// Option is a function that configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger for the pipeline.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithCleanup sets a function run for the repository of every failed
// retrieval.
func WithCleanup(fn func(model.Repository) error) Option {
	return func(p *Pipeline) {
		p.cleanup = fn
	}
}

// New creates a new Pipeline with the given options.
// Steps should be added using AddStep after creation.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		steps: make([]Step, 0),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}

	return p
}

// AddStep appends a step to the pipeline.
// Steps are executed in the order they are added.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends multiple steps to the pipeline.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Execute runs all steps in sequence and stops at the first failure.
// Cancellation is checked between steps; a running step handles its own
// deadline. The returned error is a *crawl.RetrievalError naming the step.
func (p *Pipeline) Execute(ctx context.Context, r *model.Retrieval) error {
	repo := r.Repository.FullName

	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("pipeline cancelled",
				"step", step.Name(),
				"repo", repo,
				"reason", err,
			)
			return &crawl.RetrievalError{FullName: repo, Step: step.Name(), Err: err}
		}

		p.logger.Debug("executing step",
			"step", step.Name(),
			"repo", repo,
		)

		if err := step.Do(ctx, r); err != nil {
			p.logger.Warn("step failed",
				"step", step.Name(),
				"repo", repo,
				"error", err,
			)
			return &crawl.RetrievalError{FullName: repo, Step: step.Name(), Err: err}
		}

		r.PerformedSteps = append(r.PerformedSteps, step.Name())
	}

	return nil
}

// Process runs the pipeline for one repository. It satisfies
// crawl.Processor.
func (p *Pipeline) Process(ctx context.Context, repo model.Repository) (*model.Retrieval, error) {
	r := model.NewRetrieval(repo)
	if err := p.Execute(ctx, r); err != nil {
		if p.cleanup != nil {
			if cerr := p.cleanup(repo); cerr != nil {
				p.logger.Warn("failed to clean up after retrieval failure",
					"repo", repo.FullName,
					"error", cerr,
				)
			}
		}
		return nil, err
	}

	p.logger.Info("retrieved repository",
		"repo", repo.FullName,
		"tokens", r.Tokens,
		"files", r.FilesMeasured,
		"deleted", r.FilesDeleted,
	)
	return r, nil
}

// StepCount returns the number of steps in the pipeline.
func (p *Pipeline) StepCount() int {
	return len(p.steps)
}

// StepNames returns the names of all steps in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
