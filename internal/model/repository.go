package model

import "strings"

// Repository is a repository candidate returned by a search page.
// It is created from the search response and never mutated afterwards.
// Only its ID outlives the dispatch decision (in the ledger).
type Repository struct {
	// ID is the identifier assigned by the remote host. It is immutable
	// and is the only key used for deduplication.
	ID int64 `json:"id"`

	// FullName is the human-readable "owner/name" of the repository.
	FullName string `json:"full_name"`

	// CloneURL is the locator handed to the retrieval collaborator.
	CloneURL string `json:"clone_url"`

	// Stars is the popularity score the tier ranges are built on.
	Stars int `json:"stars"`

	// Forks is the secondary popularity signal.
	Forks int `json:"forks"`

	// SizeKB is the size hint reported by the search API, in kilobytes.
	SizeKB int `json:"size_kb"`

	// QueryID identifies the QueryState that surfaced this candidate.
	QueryID string `json:"query_id"`
}

// DirName returns a filesystem-safe directory name for the repository.
// "owner/name" becomes "owner_name".
func (r Repository) DirName() string {
	name := strings.Replace(r.FullName, "/", "_", 1)
	name = strings.ReplaceAll(name, "/", "-")
	if name == "" || name == "." || name == ".." {
		return "unnamed"
	}
	return name
}

// SearchPage is one page of search results.
type SearchPage struct {
	// Repositories holds the candidates in the order the API returned them.
	Repositories []Repository

	// HasMore reports whether the API advertised a further page.
	HasMore bool

	// TotalCount is the API's total match count for the query.
	// It is informational only; the API caps reachable results.
	TotalCount int
}
