package query

import (
	"strings"

	"github.com/nao1215/repocrawl/internal/model"
)

// Sort orders accepted by the repository search API.
const (
	SortStars   = "stars"
	SortForks   = "forks"
	SortUpdated = "updated"
	SortHelp    = "help-wanted-issues"
)

// DefaultSorts diversifies which candidates surface first within the
// per-query result-depth cap: by popularity, by recency and by the
// secondary popularity signal.
var DefaultSorts = []string{SortStars, SortUpdated, SortForks}

// ValidSort reports whether the sort order is accepted by the search API.
func ValidSort(sort string) bool {
	switch sort {
	case SortStars, SortForks, SortUpdated, SortHelp:
		return true
	default:
		return false
	}
}

// Topic maps one topic to the sort orders it is queried with.
// An empty Sorts list uses the table's default sorts.
type Topic struct {
	Name  string
	Sorts []string
}

// Table is the static topic and sort table queries are generated from.
type Table struct {
	// Language restricts every query to one primary language.
	// Empty means no language qualifier.
	Language string

	// Topics is the ordered topic vocabulary.
	Topics []Topic

	// Sorts is the default sort list for topics without their own.
	Sorts []string

	// Untopiced adds one query per sort order without a topic qualifier,
	// after all topic queries.
	Untopiced bool
}

// Size returns the number of queries Generate produces for the table.
func (t Table) Size() int {
	n := 0
	for _, topic := range t.Topics {
		n += len(t.sortsFor(topic))
	}
	if t.Untopiced {
		n += len(t.defaultSorts())
	}
	return n
}

// Generate produces the ordered query list for one tier range.
// It is deterministic: topics in table order, and for each topic its
// sorts in order, followed by the topic-less queries.
func Generate(t Table, r Range) []model.QueryState {
	queries := make([]model.QueryState, 0, t.Size())
	for _, topic := range t.Topics {
		predicate := t.predicate(topic.Name, r)
		for _, sort := range t.sortsFor(topic) {
			queries = append(queries, newQueryState(predicate, sort))
		}
	}
	if t.Untopiced {
		predicate := t.predicate("", r)
		for _, sort := range t.defaultSorts() {
			queries = append(queries, newQueryState(predicate, sort))
		}
	}
	return queries
}

// Merge copies cursor state from a persisted list into a freshly generated
// one, matching by query ID. Queries that no longer exist are dropped and
// new ones start from page one.
func Merge(generated, persisted []model.QueryState) []model.QueryState {
	byID := make(map[string]model.QueryState, len(persisted))
	for _, q := range persisted {
		byID[q.ID] = q
	}
	out := make([]model.QueryState, len(generated))
	for i, q := range generated {
		if prev, ok := byID[q.ID]; ok {
			q.LastPage = prev.LastPage
			q.UniqueHits = prev.UniqueHits
			q.Failures = prev.Failures
			q.Completed = prev.Completed
		}
		out[i] = q
	}
	return out
}

// ID returns the stable identifier of a predicate and sort pair.
func ID(predicate, sort string) string {
	return predicate + " #" + sort
}

func newQueryState(predicate, sort string) model.QueryState {
	return model.QueryState{
		ID:    ID(predicate, sort),
		Query: predicate,
		Sort:  sort,
	}
}

func (t Table) predicate(topic string, r Range) string {
	parts := make([]string, 0, 3)
	if t.Language != "" {
		parts = append(parts, "language:"+t.Language)
	}
	if topic != "" {
		parts = append(parts, "topic:"+topic)
	}
	parts = append(parts, r.String())
	return strings.Join(parts, " ")
}

func (t Table) sortsFor(topic Topic) []string {
	if len(topic.Sorts) > 0 {
		return topic.Sorts
	}
	return t.defaultSorts()
}

func (t Table) defaultSorts() []string {
	if len(t.Sorts) > 0 {
		return t.Sorts
	}
	return DefaultSorts
}
