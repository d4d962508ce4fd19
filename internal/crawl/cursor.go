package crawl

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v5"

	"github.com/nao1215/repocrawl/internal/model"
)

// passResult summarizes one pass over the query list.
type passResult struct {
	// fresh is the number of ledger-new candidates in the pass.
	fresh int
	// attempted is the number of queries a page was requested for.
	attempted int
	// fetched is the number of pages actually retrieved.
	fetched int
	// interrupted is set when a stop condition cut the pass short.
	interrupted bool
}

// pass visits every non-completed query in list order and processes
// exactly one page for each. Retrievals of one page overlap with the
// fetch of the next; the pass ends once all of them have completed.
func (c *Controller) pass(ctx context.Context) (passResult, error) {
	var res passResult

	c.mu.Lock()
	n := len(c.snap.Queries)
	c.mu.Unlock()

	for i := range n {
		if c.shouldStop(ctx) {
			res.interrupted = true
			return res, nil
		}

		c.mu.Lock()
		q := c.snap.Queries[i]
		c.mu.Unlock()
		if q.Completed {
			continue
		}

		page := q.NextPage()
		res.attempted++
		result, err := c.fetch(ctx, q, page)
		if err != nil {
			if ctx.Err() != nil {
				res.interrupted = true
				return res, nil
			}
			if err := c.abandon(i, page, err); err != nil {
				return res, err
			}
			continue
		}
		res.fetched++

		fresh, interrupted, err := c.dispatchPage(ctx, result.Repositories, q.ID)
		res.fresh += fresh
		if err != nil {
			return res, err
		}
		if interrupted {
			// The page is fetched again on resume; the ledger filters
			// what was already dispatched.
			res.interrupted = true
			return res, nil
		}

		if err := c.advance(i, page, fresh, result); err != nil {
			return res, err
		}
	}

	// Every outcome of the pass is applied before the expansion state
	// machine and the budget check look at the snapshot.
	c.pool.wait()
	return res, nil
}

// advance moves the cursor of query i past page and persists it.
func (c *Controller) advance(i, page, fresh int, result model.SearchPage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := &c.snap.Queries[i]
	q.LastPage = page
	q.UniqueHits += fresh
	q.Failures = 0
	switch {
	case fresh == 0 && !result.HasMore:
		q.Completed = true
	case c.settings.MaxPages > 0 && page >= c.settings.MaxPages:
		q.Completed = true
	}
	c.observer.PageFetched(*q, page, len(result.Repositories))

	c.logger.Debug("page processed",
		"query", q.ID,
		"page", page,
		"candidates", len(result.Repositories),
		"fresh", fresh,
		"has_more", result.HasMore,
		"completed", q.Completed,
	)

	c.snap.UpdatedAt = c.now().UTC()
	return c.saveLocked()
}

// abandon skips query i for this pass after its search failed. A query
// that keeps failing is completed so the tier can still be expanded.
func (c *Controller) abandon(i, page int, cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := &c.snap.Queries[i]
	q.Failures++
	if limit := c.settings.MaxQueryFailures; limit > 0 && q.Failures >= limit {
		q.Completed = true
		c.logger.Warn("search keeps failing, query given up",
			"query", q.ID,
			"page", page,
			"failures", q.Failures,
			"error", cause,
		)
	} else {
		c.logger.Warn("search failed, query abandoned for this pass",
			"query", q.ID,
			"page", page,
			"failures", q.Failures,
			"error", cause,
		)
	}

	c.snap.UpdatedAt = c.now().UTC()
	return c.saveLocked()
}

// fetch retrieves one search page. Rate limits are waited out without
// limit and without touching any state; transient errors are retried
// with exponential backoff up to MaxRetries.
func (c *Controller) fetch(ctx context.Context, q model.QueryState, page int) (model.SearchPage, error) {
	for {
		result, err := backoff.Retry(ctx, func() (model.SearchPage, error) {
			result, err := c.collab.Searcher.Search(ctx, q.Query, q.Sort, page)
			if err == nil {
				return result, nil
			}
			if IsTransient(err) {
				c.logger.Debug("transient search error", "query", q.ID, "page", page, "error", err)
				return model.SearchPage{}, err
			}
			return model.SearchPage{}, backoff.Permanent(err)
		},
			backoff.WithBackOff(c.newBackOff()),
			backoff.WithMaxTries(uint(max(c.settings.MaxRetries, 0))+1), //nolint:gosec // non-negative
		)
		if err == nil {
			return result, nil
		}

		rl, ok := IsRateLimited(err)
		if !ok {
			var perm *backoff.PermanentError
			if errors.As(err, &perm) {
				err = perm.Unwrap()
			}
			return model.SearchPage{}, err
		}

		c.logger.Info("search rate limited, waiting",
			"query", q.ID,
			"retry_after", rl.RetryAfter,
		)
		if err := c.sleep(ctx, rl.RetryAfter); err != nil {
			return model.SearchPage{}, err
		}
	}
}

func (c *Controller) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if c.settings.InitialBackoff > 0 {
		b.InitialInterval = c.settings.InitialBackoff
	}
	if c.settings.MaxBackoff > 0 {
		b.MaxInterval = c.settings.MaxBackoff
	}
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	return b
}
