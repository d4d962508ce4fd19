package crawl

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nao1215/repocrawl/internal/model"
)

// workerPool runs retrievals on at most size goroutines.
//
// Slots are acquired by the dispatch goroutine before a candidate is
// accepted, so stop conditions can be re-checked once a slot is free.
// The errgroup is only used to wait for the in-flight work: workers
// never return an error, a failed retrieval is an outcome.
type workerPool struct {
	slots *semaphore.Weighted
	group errgroup.Group
}

func newWorkerPool(size int) *workerPool {
	return &workerPool{slots: semaphore.NewWeighted(int64(size))}
}

// acquire blocks until a slot is free or ctx is done.
func (p *workerPool) acquire(ctx context.Context) error {
	return p.slots.Acquire(ctx, 1)
}

// release frees a slot acquired but not handed to go.
func (p *workerPool) release() {
	p.slots.Release(1)
}

// goSlot runs fn on the slot acquired beforehand and frees it when fn returns.
func (p *workerPool) goSlot(fn func()) {
	p.group.Go(func() error {
		defer p.slots.Release(1)
		fn()
		return nil
	})
}

// wait blocks until every worker has returned.
func (p *workerPool) wait() {
	_ = p.group.Wait() //nolint:errcheck // workers always return nil
}

// dispatchPage runs the dedup decision for every candidate of one page
// and hands the ledger-new ones to the pool. It returns the number of
// ledger-new candidates and whether a stop condition interrupted the page.
func (c *Controller) dispatchPage(ctx context.Context, repos []model.Repository, queryID string) (int, bool, error) {
	fresh := 0
	for _, repo := range repos {
		if c.collab.Ledger.Contains(repo.ID) {
			continue
		}

		if err := c.pool.acquire(ctx); err != nil {
			return fresh, true, nil
		}
		if c.shouldStop(ctx) || !c.admit() {
			c.pool.release()
			return fresh, true, nil
		}

		if err := c.collab.Ledger.Add(repo.ID); err != nil {
			c.pool.release()
			return fresh, false, fmt.Errorf("failed to add %d to ledger: %w", repo.ID, err)
		}
		fresh++
		repo.QueryID = queryID

		// Store calls must not fail because an operator stop arrived.
		storeCtx := context.WithoutCancel(ctx)
		exists, err := c.collab.Records.HasRecord(storeCtx, repo.ID)
		if err != nil {
			c.pool.release()
			return fresh, false, fmt.Errorf("failed to look up record %d: %w", repo.ID, err)
		}
		if exists {
			c.pool.release()
			c.logger.Debug("record already present, skipping", "repository", repo.FullName, "id", repo.ID)
			if err := c.skip(); err != nil {
				return fresh, false, err
			}
			continue
		}

		c.logger.Debug("dispatching retrieval", "repository", repo.FullName, "id", repo.ID)
		c.mu.Lock()
		c.inflight++
		c.mu.Unlock()
		c.pool.goSlot(func() {
			// A retrieval is never interrupted once started.
			r, err := c.collab.Processor.Process(storeCtx, repo)
			c.complete(storeCtx, repo, r, err)
		})
	}
	return fresh, false, nil
}

// admit waits while the in-flight retrievals are projected to reach the
// target, then reports whether the budget still has room. The projection
// uses the mean tokens per success; before any success is known,
// retrievals run one at a time. Retrievals are never cancelled, so the
// wait always ends.
func (c *Controller) admit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.inflight > 0 && c.fatal == nil && c.projectedLocked() >= c.budget.Target() {
		c.settled.Wait()
	}
	return c.fatal == nil && !c.budget.Reached()
}

// projectedLocked estimates the total once in-flight work completes.
// c.mu must be held.
func (c *Controller) projectedLocked() int64 {
	if c.snap.Succeeded == 0 || c.budget.Total() == 0 {
		return c.budget.Target()
	}
	avg := c.budget.Total() / int64(c.snap.Succeeded)
	return c.budget.Total() + int64(c.inflight)*avg
}

// skip counts a candidate that already has a record.
func (c *Controller) skip() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.Skipped++
	c.snap.UpdatedAt = c.now().UTC()
	c.observer.OutcomeRecorded(model.OutcomeSkipped, 0)
	return c.saveLocked()
}

// complete applies the outcome of one retrieval. It runs on the worker.
func (c *Controller) complete(ctx context.Context, repo model.Repository, r *model.Retrieval, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.settled.Broadcast()
	c.inflight--

	if cause == nil && r == nil {
		cause = &RetrievalError{FullName: repo.FullName, Err: errors.New("no result")}
	}

	if cause != nil {
		c.snap.Failed++
		c.logger.Warn("retrieval failed",
			"repository", repo.FullName,
			"id", repo.ID,
			"error", cause,
		)
		if err := c.collab.Records.RecordFailure(ctx, repo, cause); err != nil {
			c.logger.Error("failed to record retrieval failure", "id", repo.ID, "error", err)
		}
		c.observer.OutcomeRecorded(model.OutcomeFailed, 0)
	} else {
		record := model.NewEntityRecord(r, c.runID, c.now())
		if err := c.collab.Records.PutRecord(ctx, record); err != nil {
			c.setFatalLocked(fmt.Errorf("failed to write record %d: %w", repo.ID, err))
			return
		}
		c.budget.Add(r.Tokens)
		c.snap.TotalTokens = c.budget.Total()
		c.snap.Succeeded++
		c.logger.Info("retrieval succeeded",
			"repository", repo.FullName,
			"tokens", r.Tokens,
			"total_tokens", c.budget.Total(),
			"remaining_tokens", c.budget.Remaining(),
		)
		c.observer.OutcomeRecorded(model.OutcomeSucceeded, r.Tokens)
	}

	c.snap.UpdatedAt = c.now().UTC()
	if err := c.saveLocked(); err != nil {
		c.setFatalLocked(err)
	}
}
