package log

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// RunLogPrefix is the file name prefix of per-run log files.
const RunLogPrefix = "repocrawl_"

// OpenRunLog creates a new log file for a run under dir.
// The file is named after the start time, e.g. repocrawl_20250102_150405.log.
func OpenRunLog(dir string, start time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	name := filepath.Join(dir, RunLogPrefix+start.Format("20060102_150405")+".log")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) //nolint:gosec // path built from the data dir
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}
	return f, nil
}

// NewRunLogger creates a logger writing text to console at the verbose
// level and, when file is not nil, every record at Info or above to file.
// Both outputs are sanitized.
func NewRunLogger(console, file io.Writer, verbose bool) *slog.Logger {
	consoleHandler := slog.NewTextHandler(console, &slog.HandlerOptions{Level: consoleLevel(verbose)})
	if file == nil {
		return slog.New(NewSecureHandler(consoleHandler))
	}

	fileLevel := slog.LevelInfo
	if verbose {
		fileLevel = slog.LevelDebug
	}
	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: fileLevel})

	return slog.New(NewSecureHandler(fanout{consoleHandler, fileHandler}))
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
