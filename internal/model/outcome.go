package model

// Outcome is the result of dispatching one ledger-new candidate.
type Outcome int

const (
	// OutcomeSucceeded means the repository was retrieved and measured.
	OutcomeSucceeded Outcome = iota

	// OutcomeFailed means retrieval failed. The id stays in the ledger.
	OutcomeFailed

	// OutcomeSkipped means an EntityRecord already existed, so no
	// retrieval was attempted.
	OutcomeSkipped
)

// String returns a human-readable representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}
