package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/repocrawl/internal/config"
	"github.com/nao1215/repocrawl/internal/database"
	"github.com/nao1215/repocrawl/internal/ledger"
	rlog "github.com/nao1215/repocrawl/internal/log"
	"github.com/nao1215/repocrawl/internal/model"
	"github.com/nao1215/repocrawl/internal/progress"
	"github.com/nao1215/repocrawl/internal/report"
)

// defaultRecent is the number of recent records listed by status.
const defaultRecent = 10

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show crawl progress",
		Long: `Status reads the saved progress, the ledger and the record store and
prints where the crawl stands: tokens collected against the budget, the
current popularity tier, per-query progress and the latest retrievals.

Status never modifies the crawl state and is safe to run while a crawl
is in progress.

Examples:
  # Human readable summary
  repocrawl status

  # Markdown report written to a file
  repocrawl status --markdown -o status.md

  # JSON for scripts
  repocrawl status --json`,
		Args: cobra.NoArgs,
		RunE: runStatusCmd,
	}

	cmd.Flags().BoolP("json", "j", false,
		"Output JSON (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write the status to the specified file path (creates directories if needed)")
	cmd.Flags().IntP("recent", "n", defaultRecent,
		"Number of recent retrievals to list")
	cmd.MarkFlagsMutuallyExclusive("json", "markdown")

	return cmd
}

// runStatusCmd executes the status command.
func runStatusCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	jsonOut, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	markdownOut, err := cmd.Flags().GetBool("markdown")
	if err != nil {
		return err
	}
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	recent, err := cmd.Flags().GetInt("recent")
	if err != nil {
		return err
	}

	logger := rlog.NewSecureLogger(stderr, cfg.Verbose)
	status, err := collectStatus(cmd.Context(), cfg, logger, recent, time.Now())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outputPath != "" {
		if dir := filepath.Dir(outputPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		}
		f, err := os.Create(outputPath) //nolint:gosec // path is given by the user
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if _, err := statusWriter(out, jsonOut, markdownOut, cfg.Verbose).Write(status); err != nil {
		return fmt.Errorf("failed to write status: %w", err)
	}
	if outputPath != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Status written to %s\n", outputPath)
	}
	return nil
}

// statusWriter selects the report format.
func statusWriter(out io.Writer, jsonOut, markdownOut, verbose bool) report.Writer {
	switch {
	case jsonOut:
		return report.NewJSONWriter(out, report.WithPrettyPrint())
	case markdownOut:
		return report.NewMarkdownWriter(out)
	default:
		return report.NewSimpleWriter(out, report.WithVerbose(verbose))
	}
}

// collectStatus assembles the status without modifying any crawl file.
// A data directory without a crawl yields an empty status.
func collectStatus(ctx context.Context, cfg *config.Config, logger *slog.Logger, recent int, now time.Time) (*model.Status, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	store := progress.NewStore(filepath.Join(cfg.DataDir, progress.DefaultFileName),
		progress.WithLogger(logger),
		progress.WithClock(func() time.Time { return now }),
	)
	snap, loadStatus, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}

	ledgerSize, err := ledger.Count(filepath.Join(cfg.DataDir, ledger.DefaultFileName))
	if err != nil {
		return nil, err
	}

	status := &model.Status{
		Snapshot:     snap,
		TargetTokens: cfg.TargetTokens,
		LedgerSize:   ledgerSize,
		GeneratedAt:  now.UTC(),
	}

	opts := database.DefaultOptions()
	opts.CreateIfNotExists = false
	opts.EnableWAL = false
	records, err := database.Open(cfg.DataDir, opts)
	if err != nil {
		if errors.Is(err, database.ErrCorrupt) {
			return nil, err
		}
		if _, statErr := os.Stat(filepath.Join(cfg.DataDir, database.DefaultFileName)); os.IsNotExist(statErr) {
			return status, nil
		}
		return nil, err
	}
	defer records.Close()

	totals, err := records.Totals(ctx)
	if err != nil {
		return nil, err
	}
	status.RecordCount = totals.Records
	status.RecordTokens = totals.Tokens
	status.BytesFreed = totals.BytesFreed
	status.FailedRepositories = totals.Failures

	if loadStatus == progress.LoadCorrupt {
		progress.Rebuild(snap, totals.Records, totals.Tokens)
		snap.Failed = totals.Failures
	}

	if recent > 0 {
		status.Recent, err = records.Recent(ctx, recent)
		if err != nil {
			return nil, err
		}
	}
	return status, nil
}
