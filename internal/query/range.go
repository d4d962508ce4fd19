package query

import (
	"slices"
	"strconv"
)

// Range is a half-open popularity range [Min, Ceiling).
// A zero Ceiling means the range has no upper bound.
type Range struct {
	Min     int
	Ceiling int
}

// Unbounded reports whether the range has no upper bound.
func (r Range) Unbounded() bool {
	return r.Ceiling == 0
}

// Contains reports whether the score falls into the range.
func (r Range) Contains(score int) bool {
	if score < r.Min {
		return false
	}
	return r.Unbounded() || score < r.Ceiling
}

// Qualifier renders the range as a search qualifier value,
// e.g. ">=1000" or "500..999".
func (r Range) Qualifier() string {
	if r.Unbounded() {
		return ">=" + strconv.Itoa(r.Min)
	}
	return strconv.Itoa(r.Min) + ".." + strconv.Itoa(r.Ceiling-1)
}

// String implements fmt.Stringer.
func (r Range) String() string {
	return "stars:" + r.Qualifier()
}

// NormalizeTiers returns the thresholds sorted in strictly descending
// order with duplicates and negative values removed.
func NormalizeTiers(tiers []int) []int {
	out := make([]int, 0, len(tiers))
	for _, t := range tiers {
		if t >= 0 {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)
	slices.Reverse(out)
	return out
}

// RangeFor returns the range of the i-th tier of a normalized,
// descending threshold list. The ceiling is the previous (higher) tier.
func RangeFor(tiers []int, i int) Range {
	if i <= 0 {
		return Range{Min: tiers[0]}
	}
	return Range{Min: tiers[i], Ceiling: tiers[i-1]}
}

// Ranges returns the range of every tier in a normalized threshold list.
func Ranges(tiers []int) []Range {
	out := make([]Range, len(tiers))
	for i := range tiers {
		out[i] = RangeFor(tiers, i)
	}
	return out
}
