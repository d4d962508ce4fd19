package model

// QueryState is one search query definition plus its pagination cursor.
//
// QueryStates are created fresh whenever the threshold expansion generates
// the query set for a new tier, and are discarded (not merged) when the
// next tier is generated.
type QueryState struct {
	// ID is stable for a given predicate and sort order, so that a
	// regenerated query list can be merged with a persisted one.
	ID string `json:"id"`

	// Query is the search predicate, e.g. "language:go topic:cli stars:>=500".
	Query string `json:"query"`

	// Sort is the sort order passed to the search API.
	Sort string `json:"sort"`

	// LastPage is the last page that was fetched and fully dispatched.
	// Zero means no page has been fetched yet.
	LastPage int `json:"last_page"`

	// UniqueHits counts ledger-new candidates this query contributed.
	UniqueHits int `json:"unique_hits"`

	// Failures counts consecutive passes in which the search for this
	// query failed. A fetched page resets it.
	Failures int `json:"failures,omitempty"`

	// Completed is set when a page yields no ledger-new candidate and the
	// API reports no further pages, when the page-depth cap is hit, or when
	// the query failed too many passes in a row.
	Completed bool `json:"completed"`
}

// NextPage returns the page the cursor fetches next.
func (q QueryState) NextPage() int {
	return q.LastPage + 1
}

// AllCompleted reports whether every query in the list is completed.
// An empty list counts as completed.
func AllCompleted(queries []QueryState) bool {
	for _, q := range queries {
		if !q.Completed {
			return false
		}
	}
	return true
}
