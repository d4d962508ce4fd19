// Package pipeline runs the per-repository retrieval work: clone, filter
// and measure.
//
// Each stage is a Step that receives the Retrieval accumulated by the
// previous stages. The Pipeline stops at the first failing step and
// reports which step failed, so the crawl controller can record the
// failure and move on. The filter step is advisory and never fails a
// retrieval.
//
// BatchProcessor runs a pipeline over many retrievals at once with a
// bounded number of goroutines, which the recount command uses to
// re-measure existing checkouts.
package pipeline
