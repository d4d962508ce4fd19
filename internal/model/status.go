package model

import "time"

// Status is a read-only view of crawl progress used by the status report.
type Status struct {
	// Snapshot is the loaded progress snapshot.
	Snapshot *ProgressSnapshot

	// TargetTokens is the configured budget.
	TargetTokens int64

	// RecordCount and RecordTokens are totals from the EntityRecord store.
	RecordCount  int
	RecordTokens int64

	// BytesFreed is the total freed by the filter step across records.
	BytesFreed int64

	// FailedRepositories counts repositories with a recorded failure and
	// no record.
	FailedRepositories int

	// LedgerSize is the number of ids ever observed.
	LedgerSize int

	// Recent holds the most recently retrieved records, newest first.
	Recent []EntityRecord

	// GeneratedAt is when the status was assembled.
	GeneratedAt time.Time
}

// Progress returns the completed fraction of the budget in [0, 1].
func (s *Status) Progress() float64 {
	if s.TargetTokens <= 0 || s.Snapshot == nil {
		return 0
	}
	p := float64(s.Snapshot.TotalTokens) / float64(s.TargetTokens)
	if p > 1 {
		return 1
	}
	return p
}

// State names the tier expansion state: "active" or "exhausted".
func (s *Status) State() string {
	if s.Snapshot != nil && s.Snapshot.Tier.Exhausted {
		return "exhausted"
	}
	return "active"
}
