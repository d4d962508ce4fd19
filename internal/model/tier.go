package model

// TierState tracks the descending walk over popularity thresholds.
type TierState struct {
	// Current is the threshold governing the active query set.
	Current int `json:"current"`

	// Ceiling is the exclusive upper bound of the current range.
	// Zero means the range is unbounded above (the first tier).
	Ceiling int `json:"ceiling"`

	// Remaining holds the lower thresholds still to visit, in strictly
	// descending order.
	Remaining []int `json:"remaining"`

	// Expansions counts how many times the threshold was lowered.
	Expansions int `json:"expansions"`

	// Exhausted is set once the remaining list ran out. It is terminal
	// until an operator appends lower thresholds and restarts.
	Exhausted bool `json:"exhausted"`
}
