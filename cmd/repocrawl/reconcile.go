package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nao1215/repocrawl/internal/model"
	"github.com/nao1215/repocrawl/internal/pipeline"
	"github.com/nao1215/repocrawl/internal/retrieve"
)

// reconcileResult counts what reconcileCheckouts did.
type reconcileResult struct {
	Recovered int
	Removed   int
	Failed    int
	Tokens    int64
}

// reconcileCheckouts brings the clone root in line with the record store.
// A checkout without a record is left behind by a crash between clone and
// record write. When it carries its origin it is filtered, measured and
// recorded as a success; otherwise it is an incomplete or foreign
// directory and is removed. Recovered ids are added to the ledger and
// their tokens to the snapshot, which is saved before returning.
func reconcileCheckouts(
	ctx context.Context,
	root string,
	st *state,
	factory func() *pipeline.Pipeline,
	workers int,
	runID string,
	now time.Time,
	logger *slog.Logger,
) (reconcileResult, error) {
	var res reconcileResult

	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("failed to read clone root: %w", err)
	}

	paths, err := st.records.LocalPaths(ctx)
	if err != nil {
		return res, err
	}
	known := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		known[filepath.Clean(p)] = struct{}{}
	}

	var items []*model.Retrieval
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, ok := known[filepath.Clean(dir)]; ok {
			continue
		}

		repo, err := retrieve.ReadOrigin(dir)
		if errors.Is(err, retrieve.ErrNoOrigin) {
			if err := os.RemoveAll(dir); err != nil {
				return res, fmt.Errorf("failed to remove %s: %w", dir, err)
			}
			logger.Warn("removed checkout without origin", "path", dir)
			res.Removed++
			continue
		}
		if err != nil {
			logger.Warn("skipping unreadable checkout", "path", dir, "error", err)
			continue
		}

		exists, err := st.records.HasRecord(ctx, repo.ID)
		if err != nil {
			return res, err
		}
		if exists {
			continue
		}

		r := model.NewRetrieval(repo)
		r.LocalPath = dir
		items = append(items, r)
	}
	if len(items) == 0 && res.Removed == 0 {
		return res, nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	bp := pipeline.NewBatchProcessor(factory,
		pipeline.WithConcurrency(workers),
		pipeline.WithBatchLogger(logger),
	)
	err = bp.ProcessBatch(ctx, items, func(r *model.Retrieval, cause error, _ int) {
		mu.Lock()
		defer mu.Unlock()

		repo := r.Repository
		if err := st.ledger.Add(repo.ID); err != nil {
			errs = append(errs, err)
			return
		}

		if cause != nil {
			res.Failed++
			st.snapshot.Failed++
			if err := st.records.RecordFailure(ctx, repo, cause); err != nil {
				errs = append(errs, err)
			}
			if err := os.RemoveAll(r.LocalPath); err != nil {
				logger.Warn("failed to remove checkout", "path", r.LocalPath, "error", err)
			}
			return
		}

		if err := st.records.PutRecord(ctx, model.NewEntityRecord(r, runID, now)); err != nil {
			errs = append(errs, err)
			return
		}
		res.Recovered++
		res.Tokens += r.Tokens
		st.snapshot.Succeeded++
		st.snapshot.TotalTokens += r.Tokens
		logger.Info("recovered checkout",
			"repository", repo.FullName,
			"tokens", r.Tokens,
		)
	})
	if err != nil {
		errs = append(errs, err)
	}

	if res.Recovered > 0 || res.Failed > 0 {
		st.snapshot.UpdatedAt = now.UTC()
		if err := st.store.Save(st.snapshot); err != nil {
			errs = append(errs, err)
		}
	}
	logger.Info("clone root reconciled",
		"recovered", res.Recovered,
		"removed", res.Removed,
		"failed", res.Failed,
		"tokens", res.Tokens,
	)
	return res, errors.Join(errs...)
}
