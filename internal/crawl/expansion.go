package crawl

import (
	"slices"

	"github.com/nao1215/repocrawl/internal/model"
	"github.com/nao1215/repocrawl/internal/query"
)

// Transition is the result of consulting the expansion state machine.
type Transition int

const (
	// TransitionNone keeps the current tier.
	TransitionNone Transition = iota
	// TransitionExpanded moved to the next lower tier.
	TransitionExpanded
	// TransitionExhausted means no lower tier is left. Terminal.
	TransitionExhausted
)

// String returns the transition name.
func (t Transition) String() string {
	switch t {
	case TransitionNone:
		return "none"
	case TransitionExpanded:
		return "expanded"
	case TransitionExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Expander is the threshold expansion state machine. It has two states,
// ACTIVE(tier) and EXHAUSTED, and mutates the snapshot it is given.
type Expander struct {
	// Table generates the queries of a new tier.
	Table query.Table

	// Limit is the number of consecutive empty passes that triggers
	// an expansion.
	Limit int
}

// Observe applies the outcome of one full pass.
//
// A pass with at least one ledger-new candidate resets the cycle counter.
// A pass with none in which every query is completed increments it, and
// reaching the limit expands the tier. Otherwise the counter is unchanged.
func (e Expander) Observe(s *model.ProgressSnapshot, fresh int) Transition {
	if s.Tier.Exhausted {
		return TransitionExhausted
	}
	if fresh > 0 {
		s.CycleCount = 0
		return TransitionNone
	}
	if !model.AllCompleted(s.Queries) {
		return TransitionNone
	}
	s.CycleCount++
	if s.CycleCount < e.limit() {
		return TransitionNone
	}
	return e.Expand(s)
}

// Expand pops the next threshold and regenerates the queries, or marks
// the snapshot exhausted when no threshold remains. The ledger is not
// involved: ids seen in earlier tiers stay filtered.
func (e Expander) Expand(s *model.ProgressSnapshot) Transition {
	s.CycleCount = 0
	if len(s.Tier.Remaining) == 0 {
		s.Tier.Exhausted = true
		return TransitionExhausted
	}
	s.Tier.Ceiling = s.Tier.Current
	s.Tier.Current = s.Tier.Remaining[0]
	s.Tier.Remaining = slices.Clone(s.Tier.Remaining[1:])
	s.Tier.Expansions++
	s.Queries = query.Generate(e.Table, e.rangeOf(s.Tier))
	return TransitionExpanded
}

// Restore reconciles a loaded snapshot with the configured thresholds.
//
// A snapshot without queries is fresh and starts at the highest tier.
// Otherwise the remaining list is rebuilt from the configured thresholds
// below the current one, and the current tier's queries are regenerated
// and merged with the persisted cursors. An exhausted snapshot re-enters
// ACTIVE on the next tier when new lower thresholds were configured.
func (e Expander) Restore(s *model.ProgressSnapshot, tiers []int) (Transition, error) {
	tiers = query.NormalizeTiers(tiers)
	if len(tiers) == 0 {
		return TransitionNone, ErrNoTiers
	}
	if e.Table.Size() == 0 {
		return TransitionNone, ErrNoQueries
	}

	if len(s.Queries) == 0 {
		s.Tier = model.TierState{
			Current:   tiers[0],
			Remaining: slices.Clone(tiers[1:]),
		}
		s.CycleCount = 0
		s.Queries = query.Generate(e.Table, e.rangeOf(s.Tier))
		return TransitionNone, nil
	}

	remaining := make([]int, 0, len(tiers))
	for _, t := range tiers {
		if t < s.Tier.Current {
			remaining = append(remaining, t)
		}
	}
	s.Tier.Remaining = remaining
	s.Queries = query.Merge(query.Generate(e.Table, e.rangeOf(s.Tier)), s.Queries)

	if s.Tier.Exhausted && len(remaining) > 0 {
		s.Tier.Exhausted = false
		return e.Expand(s), nil
	}
	if s.Tier.Exhausted {
		return TransitionExhausted, nil
	}
	return TransitionNone, nil
}

func (e Expander) rangeOf(t model.TierState) query.Range {
	return query.Range{Min: t.Current, Ceiling: t.Ceiling}
}

func (e Expander) limit() int {
	if e.Limit <= 0 {
		return 1
	}
	return e.Limit
}
