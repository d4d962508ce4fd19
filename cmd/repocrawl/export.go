package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nao1215/repocrawl/internal/database"
	"github.com/nao1215/repocrawl/internal/export"
	rlog "github.com/nao1215/repocrawl/internal/log"
)

// NewExportCmd creates the export command.
func NewExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the retrieved repositories out as a dataset",
		Long: `Export walks the checkout of every recorded repository and writes a
dataset into the output directory:

  manifest.jsonl       one line per measured file with its repository,
                       path, size, token count and SHA-256
  shard-NNNNN.tar.zst  the file contents, split at --shard-size
                       uncompressed bytes
  summary.json         totals, missing checkouts and repositories whose
                       token sum differs from the recorded count

The same checkouts always produce byte-identical output. An earlier
export in the output directory is replaced.

Examples:
  # Export into the data directory
  repocrawl export

  # Manifest only, no shards
  repocrawl export -o ./dataset --shard-size 0

  # 256 MiB shards
  repocrawl export --shard-size 256MiB`,
		Args: cobra.NoArgs,
		RunE: runExportCmd,
	}

	cmd.Flags().StringP("output", "o", "",
		"Directory to write the dataset to (default: <data-dir>/export)")
	cmd.Flags().String("shard-size", humanize.IBytes(export.DefaultShardBytes),
		"Uncompressed bytes per shard; 0 writes the manifest only")

	return cmd
}

// runExportCmd executes the export command.
func runExportCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	outputDir, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	if outputDir == "" {
		outputDir = filepath.Join(cfg.DataDir, "export")
	}
	shardSize, err := cmd.Flags().GetString("shard-size")
	if err != nil {
		return err
	}
	shardBytes, err := parseShardSize(shardSize)
	if err != nil {
		return err
	}

	logger := rlog.NewSecureLogger(stderr, cfg.Verbose)
	counter, err := newCounter(cfg, logger)
	if err != nil {
		return err
	}

	opts := database.DefaultOptions()
	opts.CreateIfNotExists = false
	records, err := database.Open(cfg.DataDir, opts)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer records.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	exporter := export.New(counter, outputDir,
		export.WithShardBytes(shardBytes),
		export.WithLogger(logger),
	)
	summary, err := exportRecords(ctx, records, exporter)
	if err != nil {
		return err
	}

	printExport(cmd.OutOrStdout(), summary)
	fmt.Fprintf(cmd.OutOrStdout(), "Saved to %s\n", outputDir)
	return nil
}

// parseShardSize accepts a byte count with an optional unit such as 1GiB.
func parseShardSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid shard size %q: %w", s, err)
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("invalid shard size %q: too large", s)
	}
	return int64(n), nil
}

// exportRecords exports the checkout of every record.
func exportRecords(ctx context.Context, records *database.RecordDB, exporter *export.Exporter) (*export.Summary, error) {
	ids, err := records.RecordIDs(ctx)
	if err != nil {
		return nil, err
	}

	repos := make([]export.Repo, 0, len(ids))
	for _, id := range ids {
		rec, err := records.GetRecord(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		repos = append(repos, export.Repo{
			FullName:       rec.FullName,
			Dir:            rec.LocalPath,
			RecordedTokens: rec.Tokens,
		})
	}
	return exporter.Run(ctx, repos)
}

// printExport writes the export summary.
func printExport(out io.Writer, s *export.Summary) {
	fmt.Fprintf(out, "Exported %s repositories (%s checkouts missing)\n",
		humanize.Comma(int64(s.Repositories)),
		humanize.Comma(int64(len(s.Missing))))
	fmt.Fprintf(out, "  files:    %s (%s)\n", humanize.Comma(int64(s.Files)), humanize.IBytes(uint64(s.Bytes))) //nolint:gosec // sizes are non-negative
	fmt.Fprintf(out, "  tokens:   %s\n", humanize.Comma(s.Tokens))
	fmt.Fprintf(out, "  recorded: %s\n", humanize.Comma(s.RecordedTokens))
	if len(s.Shards) > 0 {
		fmt.Fprintf(out, "  shards:   %d\n", len(s.Shards))
	}

	if len(s.Mismatched) == 0 {
		return
	}
	fmt.Fprintln(out, "\nToken counts differing from the record:")
	for i, m := range s.Mismatched {
		if i == 10 {
			fmt.Fprintf(out, "  ... and %d more\n", len(s.Mismatched)-i)
			break
		}
		fmt.Fprintf(out, "  %-40s %15s -> %s\n", m.FullName,
			humanize.Comma(m.RecordedTokens), humanize.Comma(m.Tokens))
	}
}
