package crawl

import "testing"

// TestBudget tests the budget tracker arithmetic.
func TestBudget(t *testing.T) {
	t.Parallel()

	b := NewBudget(1000, 200)
	if b.Reached() {
		t.Error("budget should not be reached at 200/1000")
	}
	if b.Remaining() != 800 {
		t.Errorf("expected 800 remaining, got %d", b.Remaining())
	}

	b.Add(-50)
	if b.Total() != 200 {
		t.Errorf("negative tokens must be ignored, got total %d", b.Total())
	}

	b.Add(800)
	if !b.Reached() {
		t.Error("budget should be reached at 1000/1000")
	}
	if b.Remaining() != 0 {
		t.Errorf("expected 0 remaining, got %d", b.Remaining())
	}

	b.Add(400)
	if b.Total() != 1400 || b.Remaining() != 0 {
		t.Errorf("unexpected total %d remaining %d", b.Total(), b.Remaining())
	}
}
