package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/repocrawl/internal/model"
	"github.com/nao1215/repocrawl/internal/query"
)

// StopReason is why Run returned.
type StopReason int

const (
	// StopBudgetReached means the token target was reached.
	StopBudgetReached StopReason = iota
	// StopExhausted means every tier was exhausted.
	StopExhausted
	// StopInterrupted means the context was cancelled.
	StopInterrupted
	// StopFailed means an unrecoverable error occurred.
	StopFailed
)

// String returns the stop reason name.
func (r StopReason) String() string {
	switch r {
	case StopBudgetReached:
		return "budget_reached"
	case StopExhausted:
		return "exhausted"
	case StopInterrupted:
		return "interrupted"
	case StopFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Settings holds the controller's tunables.
type Settings struct {
	// TargetTokens is the token budget.
	TargetTokens int64

	// Workers bounds concurrent retrievals.
	Workers int

	// Tiers is the configured popularity threshold list.
	Tiers []int

	// Table is the static query table.
	Table query.Table

	// CycleLimit is the number of consecutive empty passes before the
	// tier is expanded.
	CycleLimit int

	// MaxPages is the per-query page-depth cap. Zero disables it.
	MaxPages int

	// MaxRetries is the number of retries for transient search errors.
	MaxRetries int

	// MaxQueryFailures completes a query after that many consecutive
	// passes in which its search failed. Zero disables it.
	MaxQueryFailures int

	// InitialBackoff and MaxBackoff bound the transient retry backoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// IdleDelay is slept after a pass in which every search failed.
	IdleDelay time.Duration
}

// Collaborators bundles the controller's external dependencies.
type Collaborators struct {
	Searcher  Searcher
	Ledger    Ledger
	Records   RecordStore
	Snapshots SnapshotStore
	Processor Processor
}

// Result describes how a run ended.
type Result struct {
	Reason   StopReason
	Snapshot *model.ProgressSnapshot
}

// Controller drives a crawl from a progress snapshot.
type Controller struct {
	settings Settings
	collab   Collaborators
	expander Expander

	logger   *slog.Logger
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
	runID    string

	// mu guards snap, budget, fatal and inflight. Workers apply their
	// outcomes under it and signal settled.
	mu       sync.Mutex
	settled  *sync.Cond
	snap     *model.ProgressSnapshot
	budget   *Budget
	fatal    error
	inflight int

	pool *workerPool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithSleep replaces the function used to wait for rate limits and
// idle delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) {
		c.sleep = fn
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithRunID sets the run identifier stamped on every record.
func WithRunID(id string) Option {
	return func(c *Controller) {
		c.runID = id
	}
}

// New creates a controller that owns snap. The snapshot is reconciled
// with the configured tiers and query table before New returns.
func New(settings Settings, snap *model.ProgressSnapshot, collab Collaborators, opts ...Option) (*Controller, error) {
	if collab.Searcher == nil || collab.Ledger == nil || collab.Records == nil ||
		collab.Snapshots == nil || collab.Processor == nil {
		return nil, ErrMissingCollaborator
	}
	if settings.Workers <= 0 {
		settings.Workers = 1
	}

	c := &Controller{
		settings: settings,
		collab:   collab,
		expander: Expander{Table: settings.Table, Limit: settings.CycleLimit},
		observer: nopObserver{},
		sleep:    sleepContext,
		now:      time.Now,
		snap:     snap,
	}
	c.settled = sync.NewCond(&c.mu)
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.snap == nil {
		c.snap = model.NewProgressSnapshot(c.now())
	}

	before := c.snap.Tier.Current
	transition, err := c.expander.Restore(c.snap, settings.Tiers)
	if err != nil {
		return nil, err
	}
	if transition == TransitionExpanded {
		c.logger.Warn("exhausted crawl resumed on a new tier",
			"previous_tier", before,
			"tier", c.snap.Tier.Current,
		)
	}

	c.budget = NewBudget(settings.TargetTokens, c.snap.TotalTokens)
	c.pool = newWorkerPool(settings.Workers)
	return c, nil
}

// Snapshot returns a copy of the current snapshot.
func (c *Controller) Snapshot() *model.ProgressSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Clone()
}

// Run crawls until the budget is reached, every tier is exhausted, the
// context is cancelled or an unrecoverable error occurs. In-flight
// retrievals are always drained and the snapshot is flushed one final
// time before Run returns. Cancellation is not an error.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	c.mu.Lock()
	c.logger.Info("crawl started",
		"tier", c.snap.Tier.Current,
		"queries", len(c.snap.Queries),
		"total_tokens", c.budget.Total(),
		"target_tokens", c.budget.Target(),
		"workers", c.settings.Workers,
	)
	c.observer.TierChanged(c.snap.Tier)
	err := c.saveLocked()
	c.mu.Unlock()
	if err != nil {
		return Result{Reason: StopFailed, Snapshot: c.Snapshot()}, err
	}

	reason, err := c.loop(ctx)

	c.pool.wait()

	c.mu.Lock()
	if err == nil && c.fatal != nil {
		err = c.fatal
		reason = StopFailed
	}
	c.snap.UpdatedAt = c.now().UTC()
	if flushErr := c.saveLocked(); flushErr != nil && err == nil {
		err = flushErr
		reason = StopFailed
	}
	c.logger.Info("crawl stopped",
		"reason", reason.String(),
		"total_tokens", c.snap.TotalTokens,
		"succeeded", c.snap.Succeeded,
		"failed", c.snap.Failed,
		"skipped", c.snap.Skipped,
		"tier", c.snap.Tier.Current,
	)
	snap := c.snap.Clone()
	c.mu.Unlock()

	return Result{Reason: reason, Snapshot: snap}, err
}

// loop runs passes until a stop condition holds.
func (c *Controller) loop(ctx context.Context) (StopReason, error) {
	for {
		if reason, stop := c.stopReason(ctx); stop {
			return reason, nil
		}

		res, err := c.pass(ctx)
		if err != nil {
			return StopFailed, err
		}
		if res.interrupted {
			continue
		}

		c.mu.Lock()
		transition := c.expander.Observe(c.snap, res.fresh)
		c.observer.PassCompleted(res.fresh, c.snap.CycleCount)
		switch transition {
		case TransitionExpanded:
			c.logger.Info("tier expanded",
				"tier", c.snap.Tier.Current,
				"ceiling", c.snap.Tier.Ceiling,
				"expansions", c.snap.Tier.Expansions,
				"queries", len(c.snap.Queries),
			)
			c.observer.TierChanged(c.snap.Tier)
		case TransitionExhausted:
			c.logger.Info("all tiers exhausted", "tier", c.snap.Tier.Current)
			c.observer.TierChanged(c.snap.Tier)
		case TransitionNone:
			c.logger.Debug("pass completed",
				"fresh", res.fresh,
				"cycle_count", c.snap.CycleCount,
				"completed_queries", c.snap.CompletedQueries(),
			)
		}
		c.snap.UpdatedAt = c.now().UTC()
		err = c.saveLocked()
		c.mu.Unlock()
		if err != nil {
			return StopFailed, err
		}

		if res.attempted > 0 && res.fetched == 0 {
			c.logger.Warn("every search in the pass failed, idling", "delay", c.settings.IdleDelay)
			if err := c.sleep(ctx, c.settings.IdleDelay); err != nil {
				return StopInterrupted, nil
			}
		}
	}
}

// stopReason reports whether the run must stop and why.
func (c *Controller) stopReason(ctx context.Context) (StopReason, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.fatal != nil:
		return StopFailed, true
	case c.budget.Reached():
		return StopBudgetReached, true
	case ctx.Err() != nil:
		return StopInterrupted, true
	case c.snap.Tier.Exhausted:
		return StopExhausted, true
	default:
		return 0, false
	}
}

// shouldStop is stopReason without the reason.
func (c *Controller) shouldStop(ctx context.Context) bool {
	_, stop := c.stopReason(ctx)
	return stop
}

// saveLocked persists the snapshot. c.mu must be held.
func (c *Controller) saveLocked() error {
	if err := c.collab.Snapshots.Save(c.snap); err != nil {
		return fmt.Errorf("failed to save progress snapshot: %w", err)
	}
	return nil
}

// setFatalLocked records the first unrecoverable error. c.mu must be held.
func (c *Controller) setFatalLocked(err error) {
	if c.fatal == nil {
		c.fatal = err
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
