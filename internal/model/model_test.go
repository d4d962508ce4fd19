package model

import (
	"testing"
	"time"
)

// TestRepositoryDirName tests the directory name derived from a full name.
func TestRepositoryDirName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		fullName string
		want     string
	}{
		{name: "owner and name", fullName: "nao1215/gup", want: "nao1215_gup"},
		{name: "empty name", fullName: "", want: "unnamed"},
		{name: "parent directory", fullName: "..", want: "unnamed"},
		{name: "extra separators", fullName: "a/b/c", want: "a_b-c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Repository{FullName: tt.fullName}.DirName()
			if got != tt.want {
				t.Errorf("DirName() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestAllCompleted tests the completion check over a query list.
func TestAllCompleted(t *testing.T) {
	t.Parallel()

	t.Run("empty list is completed", func(t *testing.T) {
		t.Parallel()
		if !AllCompleted(nil) {
			t.Error("expected nil list to be completed")
		}
	})

	t.Run("one open query", func(t *testing.T) {
		t.Parallel()
		queries := []QueryState{{ID: "a", Completed: true}, {ID: "b"}}
		if AllCompleted(queries) {
			t.Error("expected list with open query to be incomplete")
		}
	})

	t.Run("all done", func(t *testing.T) {
		t.Parallel()
		queries := []QueryState{{ID: "a", Completed: true}, {ID: "b", Completed: true}}
		if !AllCompleted(queries) {
			t.Error("expected list to be completed")
		}
	})
}

// TestOutcomeString tests the outcome names.
func TestOutcomeString(t *testing.T) {
	t.Parallel()

	tests := map[Outcome]string{
		OutcomeSucceeded: "succeeded",
		OutcomeFailed:    "failed",
		OutcomeSkipped:   "skipped",
		Outcome(42):      "unknown",
	}
	for outcome, want := range tests {
		if got := outcome.String(); got != want {
			t.Errorf("Outcome(%d).String() = %q, want %q", int(outcome), got, want)
		}
	}
}

// TestProgressSnapshotClone verifies that Clone does not share slices.
func TestProgressSnapshotClone(t *testing.T) {
	t.Parallel()

	s := NewProgressSnapshot(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	s.Queries = []QueryState{{ID: "q1"}}
	s.Tier.Remaining = []int{100, 10}

	c := s.Clone()
	c.Queries[0].LastPage = 7
	c.Tier.Remaining[0] = 1

	if s.Queries[0].LastPage != 0 {
		t.Error("clone shares the query slice")
	}
	if s.Tier.Remaining[0] != 100 {
		t.Error("clone shares the remaining tier slice")
	}
}

// TestStatusProgress tests the budget fraction.
func TestStatusProgress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target int64
		total  int64
		want   float64
	}{
		{name: "quarter", target: 1000, total: 250, want: 0.25},
		{name: "zero target", target: 0, total: 250, want: 0},
		{name: "overshoot is capped", target: 100, total: 250, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st := &Status{Snapshot: &ProgressSnapshot{TotalTokens: tt.total}, TargetTokens: tt.target}
			if got := st.Progress(); got != tt.want {
				t.Errorf("Progress() = %v, want %v", got, tt.want)
			}
		})
	}
}
