package model

import (
	"slices"
	"time"
)

// SnapshotVersion is the current on-disk format version of ProgressSnapshot.
const SnapshotVersion = 1

// ProgressSnapshot is the durable aggregate of crawl progress.
// It is owned by a single controller, written after every processed
// candidate and every tier transition, and read once at startup.
type ProgressSnapshot struct {
	// Version is the snapshot format version.
	Version int `json:"version"`

	// TotalTokens is the cumulative budget metric.
	TotalTokens int64 `json:"total_tokens"`

	// Succeeded counts retrieved and measured repositories.
	Succeeded int `json:"succeeded"`

	// Failed counts retrieval failures.
	Failed int `json:"failed"`

	// Skipped counts candidates that already had an EntityRecord.
	Skipped int `json:"skipped"`

	// CycleCount is the number of consecutive empty passes in the
	// current tier.
	CycleCount int `json:"cycle_count"`

	// Tier is the threshold walk state.
	Tier TierState `json:"tier"`

	// Queries is the full query list of the current tier, in order.
	Queries []QueryState `json:"queries"`

	// StartedAt is when the first run started.
	StartedAt time.Time `json:"started_at"`

	// UpdatedAt is when the snapshot content last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewProgressSnapshot returns an empty snapshot for a first run.
func NewProgressSnapshot(now time.Time) *ProgressSnapshot {
	return &ProgressSnapshot{
		Version:   SnapshotVersion,
		Queries:   []QueryState{},
		Tier:      TierState{Remaining: []int{}},
		StartedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

// Processed returns the number of candidates that reached an outcome.
func (s *ProgressSnapshot) Processed() int {
	return s.Succeeded + s.Failed + s.Skipped
}

// Clone returns a deep copy of the snapshot.
func (s *ProgressSnapshot) Clone() *ProgressSnapshot {
	c := *s
	c.Queries = slices.Clone(s.Queries)
	c.Tier.Remaining = slices.Clone(s.Tier.Remaining)
	return &c
}

// CompletedQueries returns how many queries of the current tier are done.
func (s *ProgressSnapshot) CompletedQueries() int {
	n := 0
	for _, q := range s.Queries {
		if q.Completed {
			n++
		}
	}
	return n
}
