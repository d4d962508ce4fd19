package crawl

import (
	"context"

	"github.com/nao1215/repocrawl/internal/model"
)

// Searcher fetches one page of repository search results.
// Errors should be *RateLimitedError or *TransientError where applicable.
type Searcher interface {
	Search(ctx context.Context, query, sort string, page int) (model.SearchPage, error)
}

// Ledger is the set of repository ids ever accepted for dispatch.
type Ledger interface {
	Contains(id int64) bool
	Add(id int64) error
}

// RecordStore is the append-only store of successful retrievals and
// the failure log.
type RecordStore interface {
	HasRecord(ctx context.Context, id int64) (bool, error)
	PutRecord(ctx context.Context, record *model.EntityRecord) error
	RecordFailure(ctx context.Context, repo model.Repository, cause error) error
}

// SnapshotStore persists the progress snapshot atomically.
type SnapshotStore interface {
	Save(snapshot *model.ProgressSnapshot) error
}

// Processor runs the retrieve, filter and measure pipeline for one
// repository.
type Processor interface {
	Process(ctx context.Context, repo model.Repository) (*model.Retrieval, error)
}

// Observer receives crawl events, e.g. for metrics.
// Calls are made with the controller lock held and must not block.
type Observer interface {
	OutcomeRecorded(outcome model.Outcome, tokens int64)
	PassCompleted(fresh int, cycleCount int)
	TierChanged(tier model.TierState)
	PageFetched(q model.QueryState, page int, candidates int)
}

type nopObserver struct{}

func (nopObserver) OutcomeRecorded(model.Outcome, int64) {}
func (nopObserver) PassCompleted(int, int) {}
func (nopObserver) TierChanged(model.TierState) {}
func (nopObserver) PageFetched(model.QueryState, int, int) {}
