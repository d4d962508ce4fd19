package model

import "time"

// EntityRecord is written once per successfully retrieved repository.
// Its presence alone means the repository must never be retrieved again,
// independent of the ledger.
type EntityRecord struct {
	ID            int64     `json:"id"`
	FullName      string    `json:"full_name"`
	CloneURL      string    `json:"clone_url"`
	LocalPath     string    `json:"local_path"`
	Stars         int       `json:"stars"`
	Forks         int       `json:"forks"`
	SizeKB        int       `json:"size_kb"`
	Tokens        int64     `json:"tokens"`
	FilesMeasured int       `json:"files_measured"`
	FilesDeleted  int       `json:"files_deleted"`
	BytesFreed    int64     `json:"bytes_freed"`
	RunID         string    `json:"run_id"`
	RetrievedAt   time.Time `json:"retrieved_at"`
}

// NewEntityRecord builds the record for a finished retrieval.
func NewEntityRecord(r *Retrieval, runID string, at time.Time) *EntityRecord {
	return &EntityRecord{
		ID:            r.Repository.ID,
		FullName:      r.Repository.FullName,
		CloneURL:      r.Repository.CloneURL,
		LocalPath:     r.LocalPath,
		Stars:         r.Repository.Stars,
		Forks:         r.Repository.Forks,
		SizeKB:        r.Repository.SizeKB,
		Tokens:        r.Tokens,
		FilesMeasured: r.FilesMeasured,
		FilesDeleted:  r.FilesDeleted,
		BytesFreed:    r.BytesFreed,
		RunID:         runID,
		RetrievedAt:   at.UTC(),
	}
}
