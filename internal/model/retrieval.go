package model

import "time"

// Retrieval is the unit of work passed through the retrieval pipeline.
// Each step fills in its part; the controller turns the finished value
// into an EntityRecord.
type Retrieval struct {
	// Repository is the candidate being retrieved.
	Repository Repository

	// LocalPath is where the repository was cloned. Set by the retrieve step.
	LocalPath string

	// FilesDeleted and BytesFreed are set by the filter step.
	FilesDeleted int
	BytesFreed   int64

	// Tokens, FilesMeasured and FilesSkipped are set by the measure step.
	// FilesSkipped counts files left out because they exceeded a size cap.
	Tokens        int64
	FilesMeasured int
	FilesSkipped  int

	// PerformedSteps lists the pipeline steps that ran, in order.
	PerformedSteps []string

	// StartedAt is when the retrieval was handed to a worker.
	StartedAt time.Time
}

// NewRetrieval creates a Retrieval for the given repository.
func NewRetrieval(repo Repository) *Retrieval {
	return &Retrieval{
		Repository:     repo,
		PerformedSteps: make([]string, 0, 3),
		StartedAt:      time.Now(),
	}
}
