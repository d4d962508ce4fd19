package crawl

// Budget tracks the accumulated token count against the target.
// Reaching the target is the only successful termination condition.
// Budget is not safe for concurrent use; the controller guards it.
type Budget struct {
	target int64
	total  int64
}

// NewBudget creates a budget with an initial total, usually restored
// from a snapshot.
func NewBudget(target, total int64) *Budget {
	return &Budget{target: target, total: total}
}

// Add accumulates tokens. Negative values are ignored.
func (b *Budget) Add(tokens int64) {
	if tokens > 0 {
		b.total += tokens
	}
}

// Total returns the accumulated token count.
func (b *Budget) Total() int64 {
	return b.total
}

// Target returns the token target.
func (b *Budget) Target() int64 {
	return b.target
}

// Reached reports whether the total has reached the target.
func (b *Budget) Reached() bool {
	return b.total >= b.target
}

// Remaining returns the tokens left until the target, never negative.
func (b *Budget) Remaining() int64 {
	if b.Reached() {
		return 0
	}
	return b.target - b.total
}
