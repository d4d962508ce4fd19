package crawl

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoQueries is returned when the query table generates no queries.
	ErrNoQueries = errors.New("query table produces no queries")

	// ErrNoTiers is returned when no popularity thresholds are configured.
	ErrNoTiers = errors.New("no popularity tiers configured")

	// ErrMissingCollaborator is returned when a required collaborator is nil.
	ErrMissingCollaborator = errors.New("missing crawl collaborator")
)

// RateLimitedError reports that the search API refused the request until
// RetryAfter has elapsed. The controller sleeps and retries without
// touching any state.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rate limited for %s: %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited for %s", e.RetryAfter)
}

// Unwrap returns the underlying error.
func (e *RateLimitedError) Unwrap() error {
	return e.Err
}

// TransientError marks a failure worth retrying with backoff,
// typically a network error or a 5xx response.
type TransientError struct {
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// RetrievalError is a failed retrieval of one repository. It is counted
// and the id stays in the ledger.
type RetrievalError struct {
	FullName string
	Step     string
	Err      error
}

// Error implements the error interface.
func (e *RetrievalError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("retrieval of %s failed at %s: %v", e.FullName, e.Step, e.Err)
	}
	return fmt.Sprintf("retrieval of %s failed: %v", e.FullName, e.Err)
}

// Unwrap returns the underlying error.
func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// CorruptStateError reports a persisted file that could not be parsed.
// On the ledger or the record store it halts startup.
type CorruptStateError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt state in %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *CorruptStateError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err is a RateLimitedError and returns it.
func IsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
