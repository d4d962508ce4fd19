package config

import "errors"

// Configuration validation errors returned by Config.Validate.
var (
	// ErrNoDataDir is returned when no data directory is configured.
	ErrNoDataDir = errors.New("no data directory configured")

	// ErrInvalidTargetTokens is returned when the token budget is not positive.
	ErrInvalidTargetTokens = errors.New("invalid target tokens: must be positive")

	// ErrInvalidWorkers is returned when the worker count is not positive.
	ErrInvalidWorkers = errors.New("invalid workers: must be positive")

	// ErrInvalidRequestRate is returned for a negative search request rate.
	ErrInvalidRequestRate = errors.New("invalid requests per minute: must be non-negative")

	// ErrInvalidPerPage is returned when the page size is outside 1..100.
	ErrInvalidPerPage = errors.New("invalid per page: must be between 1 and 100")

	// ErrInvalidMaxPages is returned when the page cap is not positive.
	ErrInvalidMaxPages = errors.New("invalid max pages: must be positive")

	// ErrSearchDepthTooLarge is returned when per_page * max_pages exceeds
	// the 1000 results the search API serves per query.
	ErrSearchDepthTooLarge = errors.New("per page times max pages exceeds the 1000 result search limit")

	// ErrInvalidCycleLimit is returned when the cycle limit is below 1.
	ErrInvalidCycleLimit = errors.New("invalid cycle limit: must be at least 1")

	// ErrInvalidMaxRetries is returned for a negative retry count.
	ErrInvalidMaxRetries = errors.New("invalid max retries: must be non-negative")

	// ErrInvalidMaxQueryFailures is returned for a negative failure bound.
	ErrInvalidMaxQueryFailures = errors.New("invalid max query failures: must be non-negative")

	// ErrInvalidBackoff is returned when the backoff bounds are inconsistent.
	ErrInvalidBackoff = errors.New("invalid backoff: initial must be positive and not above max")

	// ErrInvalidIdleDelay is returned for a negative idle delay.
	ErrInvalidIdleDelay = errors.New("invalid idle delay: must be non-negative")

	// ErrInvalidMaxAttempts is returned when failed retrieval retries are
	// enabled with fewer than one attempt.
	ErrInvalidMaxAttempts = errors.New("invalid max attempts: must be at least 1")

	// ErrNoTiers is returned when no star threshold is configured.
	ErrNoTiers = errors.New("no star tiers configured")

	// ErrInvalidTier is returned for a negative star threshold.
	ErrInvalidTier = errors.New("invalid tier: star thresholds must be non-negative")

	// ErrEmptyQueryTable is returned when the table would generate no query.
	ErrEmptyQueryTable = errors.New("empty query table: configure topics or include untopiced queries")

	// ErrInvalidSort is returned for a sort order the search API rejects.
	ErrInvalidSort = errors.New("invalid sort: must be stars, forks, updated or help-wanted-issues")

	// ErrTorWithProxy is returned when the embedded Tor daemon and an
	// external proxy are both configured.
	ErrTorWithProxy = errors.New("tor and proxy are mutually exclusive")

	// ErrInvalidTimeout is returned when a timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidCloneDepth is returned for a negative clone depth.
	ErrInvalidCloneDepth = errors.New("invalid clone depth: must be non-negative")

	// ErrInvalidSizeLimit is returned when a file size limit is not positive.
	ErrInvalidSizeLimit = errors.New("invalid size limit: must be positive")

	// ErrNoEncoding is returned when no tokenizer encoding is configured.
	ErrNoEncoding = errors.New("no tokenizer encoding configured")
)
