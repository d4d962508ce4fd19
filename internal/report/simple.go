package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/nao1215/repocrawl/internal/model"
)

// SimpleWriter outputs a human-readable text summary for the terminal.
type SimpleWriter struct {
	baseWriter

	// verbose lists every query instead of only the pending ones.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose lists completed queries too.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the status in human-readable format.
func (w *SimpleWriter) Write(status *model.Status) (int, error) {
	var sb strings.Builder
	snap := snapshotOf(status)

	w.writeHeader(&sb, status, snap)
	w.writeCounters(&sb, status, snap)
	w.writeQueries(&sb, snap)
	w.writeRecent(&sb, status)

	return io.WriteString(w.output, sb.String())
}

func section(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")
}

// writeHeader writes the budget and tier overview.
func (w *SimpleWriter) writeHeader(sb *strings.Builder, status *model.Status, snap *model.ProgressSnapshot) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                          REPOCRAWL STATUS\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "State:        %s\n", strings.ToUpper(status.State()))
	fmt.Fprintf(sb, "Tokens:       %s / %s (%s)\n",
		w.number(snap.TotalTokens), w.number(status.TargetTokens), w.percent(status.Progress()))
	fmt.Fprintf(sb, "Tier:         stars %s (expansions: %d, idle cycles: %d)\n",
		tierRange(snap.Tier), snap.Tier.Expansions, snap.CycleCount)
	if len(snap.Tier.Remaining) > 0 {
		remaining := make([]string, len(snap.Tier.Remaining))
		for i, t := range snap.Tier.Remaining {
			remaining[i] = humanize.Comma(int64(t))
		}
		fmt.Fprintf(sb, "Next tiers:   %s\n", strings.Join(remaining, ", "))
	}
	fmt.Fprintf(sb, "Started:      %s\n", since(snap.StartedAt, status.GeneratedAt))
	fmt.Fprintf(sb, "Last update:  %s\n", since(snap.UpdatedAt, status.GeneratedAt))
	sb.WriteString("\n")
}

// writeCounters writes outcome and store totals.
func (w *SimpleWriter) writeCounters(sb *strings.Builder, status *model.Status, snap *model.ProgressSnapshot) {
	section(sb, "COUNTERS")

	fmt.Fprintf(sb, "  Succeeded:          %s\n", w.number(int64(snap.Succeeded)))
	fmt.Fprintf(sb, "  Failed:             %s\n", w.number(int64(snap.Failed)))
	fmt.Fprintf(sb, "  Skipped:            %s\n", w.number(int64(snap.Skipped)))
	fmt.Fprintf(sb, "  Records:            %s (%s tokens)\n",
		w.number(int64(status.RecordCount)), w.number(status.RecordTokens))
	fmt.Fprintf(sb, "  Failed repos:       %s\n", w.number(int64(status.FailedRepositories)))
	fmt.Fprintf(sb, "  Ledger size:        %s\n", w.number(int64(status.LedgerSize)))
	fmt.Fprintf(sb, "  Bytes freed:        %s\n", humanize.Bytes(uint64(max(status.BytesFreed, 0))))
	sb.WriteString("\n")
}

// writeQueries writes the query cursors.
func (w *SimpleWriter) writeQueries(sb *strings.Builder, snap *model.ProgressSnapshot) {
	section(sb, fmt.Sprintf("QUERIES (%d/%d completed)", snap.CompletedQueries(), len(snap.Queries)))

	shown := 0
	for _, q := range snap.Queries {
		if q.Completed && !w.verbose {
			continue
		}
		mark := " "
		if q.Completed {
			mark = "x"
		}
		fmt.Fprintf(sb, "  [%s] %-50s %-8s page %-3d new %d\n", mark, q.Query, q.Sort, q.LastPage, q.UniqueHits)
		shown++
	}
	if shown == 0 {
		sb.WriteString("  No pending queries\n")
	}
	sb.WriteString("\n")
}

// writeRecent writes the most recent records.
func (w *SimpleWriter) writeRecent(sb *strings.Builder, status *model.Status) {
	if len(status.Recent) == 0 {
		return
	}

	section(sb, "RECENT RETRIEVALS")
	for _, r := range status.Recent {
		fmt.Fprintf(sb, "  %-45s %12s tokens  %s\n",
			r.FullName, w.number(r.Tokens), since(r.RetrievedAt, status.GeneratedAt))
	}
	sb.WriteString("\n")
}
