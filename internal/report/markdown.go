package report

import (
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nao1215/repocrawl/internal/model"
)

// MarkdownWriter outputs status in Markdown format for sharing.
type MarkdownWriter struct {
	baseWriter

	// maxQueries bounds the query table; zero shows every query.
	maxQueries int
}

// MarkdownWriterOption configures a MarkdownWriter.
type MarkdownWriterOption func(*MarkdownWriter)

// WithMaxQueries limits the number of queries listed.
func WithMaxQueries(n int) MarkdownWriterOption {
	return func(w *MarkdownWriter) {
		if n >= 0 {
			w.maxQueries = n
		}
	}
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer, opts ...MarkdownWriterOption) *MarkdownWriter {
	w := &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the status in Markdown format.
func (w *MarkdownWriter) Write(status *model.Status) (int, error) {
	md := markdown.NewMarkdown(w.output)
	snap := snapshotOf(status)

	w.writeHeader(md, status, snap)
	w.writeOutcomes(md, snap)
	w.writeQueries(md, snap)
	w.writeRecent(md, status)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writeHeader writes the overview table and the state alert.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, status *model.Status, snap *model.ProgressSnapshot) {
	md.H1("Crawl Status")
	md.PlainText("")

	state := cases.Title(language.English).String(status.State())
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"State", state},
			{"Tokens", w.number(snap.TotalTokens) + " / " + w.number(status.TargetTokens)},
			{"Progress", w.percent(status.Progress())},
			{"Tier", "`stars:" + tierRange(snap.Tier) + "`"},
			{"Expansions", strconv.Itoa(snap.Tier.Expansions)},
			{"Idle Cycles", strconv.Itoa(snap.CycleCount)},
			{"Ledger Size", w.number(int64(status.LedgerSize))},
			{"Records", w.number(int64(status.RecordCount))},
			{"Bytes Freed", humanize.Bytes(uint64(max(status.BytesFreed, 0)))},
			{"Started", since(snap.StartedAt, status.GeneratedAt)},
			{"Last Update", since(snap.UpdatedAt, status.GeneratedAt)},
		},
	})
	md.PlainText("")

	switch {
	case snap.Tier.Exhausted:
		md.Note("Every configured star threshold is exhausted. Append a lower tier to continue.")
	case status.TargetTokens > 0 && snap.TotalTokens >= status.TargetTokens:
		md.Tip("The token budget has been reached.")
	case snap.Failed > 0 && snap.Failed >= snap.Succeeded:
		md.Warningf("%d retrieval(s) failed, as many as succeeded.", snap.Failed)
	}
	md.PlainText("")
}

// writeOutcomes writes the outcome counters and their distribution.
func (w *MarkdownWriter) writeOutcomes(md *markdown.Markdown, snap *model.ProgressSnapshot) {
	md.H2("Outcomes")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Outcome", "Count"},
		Rows: [][]string{
			{model.OutcomeSucceeded.String(), w.number(int64(snap.Succeeded))},
			{model.OutcomeFailed.String(), w.number(int64(snap.Failed))},
			{model.OutcomeSkipped.String(), w.number(int64(snap.Skipped))},
			{"**total**", "**" + w.number(int64(snap.Processed())) + "**"},
		},
	})
	md.PlainText("")

	if snap.Processed() == 0 {
		return
	}

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Retrieval Outcomes"),
		piechart.WithShowData(true),
	)
	counts := []struct {
		outcome model.Outcome
		n       int
	}{
		{model.OutcomeSucceeded, snap.Succeeded},
		{model.OutcomeFailed, snap.Failed},
		{model.OutcomeSkipped, snap.Skipped},
	}
	for _, c := range counts {
		if c.n > 0 {
			chart.LabelAndIntValue(c.outcome.String(), uint64(c.n))
		}
	}

	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeQueries writes the per-query cursor table.
func (w *MarkdownWriter) writeQueries(md *markdown.Markdown, snap *model.ProgressSnapshot) {
	md.H2("Queries")
	md.PlainText("")

	if len(snap.Queries) == 0 {
		md.PlainText("No queries generated yet.")
		md.PlainText("")
		return
	}

	md.PlainTextf("%d of %d queries completed.", snap.CompletedQueries(), len(snap.Queries))
	md.PlainText("")

	queries := snap.Queries
	if w.maxQueries > 0 && len(queries) > w.maxQueries {
		queries = queries[:w.maxQueries]
	}

	rows := make([][]string, len(queries))
	for i, q := range queries {
		done := "no"
		if q.Completed {
			done = "yes"
		}
		rows[i] = []string{
			"`" + q.Query + "`",
			q.Sort,
			strconv.Itoa(q.LastPage),
			w.number(int64(q.UniqueHits)),
			done,
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Query", "Sort", "Last Page", "New Hits", "Completed"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeRecent writes the most recently retrieved repositories.
func (w *MarkdownWriter) writeRecent(md *markdown.Markdown, status *model.Status) {
	md.H2("Recent Retrievals")
	md.PlainText("")

	if len(status.Recent) == 0 {
		md.PlainText("No repositories retrieved yet.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(status.Recent))
	for i, r := range status.Recent {
		rows[i] = []string{
			r.FullName,
			humanize.Comma(int64(r.Stars)),
			w.number(r.Tokens),
			since(r.RetrievedAt, status.GeneratedAt),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Repository", "Stars", "Tokens", "Retrieved"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [repocrawl](https://github.com/nao1215/repocrawl)*")
}
