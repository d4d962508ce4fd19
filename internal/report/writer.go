package report

import (
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/nao1215/repocrawl/internal/model"
)

// Writer defines the interface for status output.
type Writer interface {
	// Write outputs the status to the configured destination.
	// Returns the number of bytes written and any error encountered.
	Write(status *model.Status) (int, error)
}

// MultiWriter writes to multiple Writers in order.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the status to all configured Writers.
// Stops on first error encountered.
func (m *MultiWriter) Write(status *model.Status) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(status)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output  io.Writer
	printer *message.Printer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{
		output:  output,
		printer: message.NewPrinter(language.English),
	}
}

// number formats n with thousands separators.
func (b baseWriter) number(n int64) string {
	return b.printer.Sprintf("%d", n)
}

// percent formats a fraction in [0, 1].
func (b baseWriter) percent(f float64) string {
	return b.printer.Sprintf("%.2f%%", f*100)
}

// since renders t relative to the status time, e.g. "3 minutes ago".
func since(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// tierRange renders the star range of the current tier.
func tierRange(t model.TierState) string {
	if t.Current == 0 && t.Ceiling == 0 {
		return "-"
	}
	if t.Ceiling == 0 {
		return ">= " + humanize.Comma(int64(t.Current))
	}
	return humanize.Comma(int64(t.Current)) + " .. " + humanize.Comma(int64(t.Ceiling-1))
}

// snapshotOf returns the status snapshot or an empty one.
func snapshotOf(status *model.Status) *model.ProgressSnapshot {
	if status.Snapshot != nil {
		return status.Snapshot
	}
	return model.NewProgressSnapshot(time.Time{})
}
