// Package crawl implements the resumable crawl controller.
//
// A Controller owns one ProgressSnapshot and drives it forward pass by pass:
// every non-completed query fetches its next search page, ledger-new
// candidates are dispatched to a bounded worker pool that runs the
// retrieval pipeline, and each outcome is applied to the snapshot and
// persisted before the next one. When a tier stops producing new
// candidates, the expansion state machine lowers the popularity threshold
// and regenerates the queries.
//
// The dedup decision (ledger check and insert) always happens on the
// dispatch goroutine. Only the retrieval work runs in parallel.
package crawl
