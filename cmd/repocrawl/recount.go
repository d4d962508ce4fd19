package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nao1215/repocrawl/internal/config"
	"github.com/nao1215/repocrawl/internal/database"
	rlog "github.com/nao1215/repocrawl/internal/log"
	"github.com/nao1215/repocrawl/internal/model"
	"github.com/nao1215/repocrawl/internal/pipeline"
)

// NewRecountCmd creates the recount command.
func NewRecountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recount",
		Short: "Re-measure the tokens of every retrieved repository",
		Long: `Recount walks the local checkout of every recorded repository again and
counts its tokens with the current measure settings. The recorded counts
are not changed; the result is printed and can be saved as JSON to
compare tokenizer or size-cap settings.

Examples:
  # Recount with 8 workers
  repocrawl recount --workers 8

  # Save per-repository counts
  repocrawl recount -o token_counts.json`,
		Args: cobra.NoArgs,
		RunE: runRecountCmd,
	}

	cmd.Flags().IntP("workers", "w", config.DefaultWorkers,
		"Number of repositories measured concurrently")
	cmd.Flags().StringP("output", "o", "",
		"Write per-repository counts as JSON to the specified file")

	return cmd
}

// RecountEntry is the recount result of one repository.
type RecountEntry struct {
	FullName       string `json:"full_name"`
	RecordedTokens int64  `json:"recorded_tokens"`
	Tokens         int64  `json:"tokens"`
	FilesMeasured  int    `json:"files_measured"`
	FilesSkipped   int    `json:"files_skipped"`
	Error          string `json:"error,omitempty"`
}

// RecountResult is the document written by recount --output.
type RecountResult struct {
	TotalTokens    int64                   `json:"total_tokens"`
	RecordedTokens int64                   `json:"recorded_tokens"`
	Repositories   int                     `json:"repositories"`
	Missing        int                     `json:"missing"`
	Failed         int                     `json:"failed"`
	CountedAt      time.Time               `json:"counted_at"`
	Repos          map[string]RecountEntry `json:"repos"`
}

// runRecountCmd executes the recount command.
func runRecountCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("workers") {
		if cfg.Workers, err = cmd.Flags().GetInt("workers"); err != nil {
			return err
		}
	}
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
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

	result, err := recount(ctx, records, func() *pipeline.Pipeline {
		p := pipeline.New(pipeline.WithLogger(logger))
		p.AddStep(pipeline.NewMeasureStep(counter))
		return p
	}, cfg.Workers, logger)
	if err != nil {
		return err
	}

	printRecount(cmd.OutOrStdout(), result)

	if outputPath != "" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode recount: %w", err)
		}
		if err := os.WriteFile(outputPath, data, 0600); err != nil {
			return fmt.Errorf("failed to write recount: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved to %s\n", outputPath)
	}
	return nil
}

// recount re-measures every record whose checkout still exists.
func recount(ctx context.Context, records *database.RecordDB, factory func() *pipeline.Pipeline, workers int, logger *slog.Logger) (*RecountResult, error) {
	ids, err := records.RecordIDs(ctx)
	if err != nil {
		return nil, err
	}

	result := &RecountResult{
		Repos: make(map[string]RecountEntry, len(ids)),
	}

	items := make([]*model.Retrieval, 0, len(ids))
	recorded := make([]int64, 0, len(ids))
	for _, id := range ids {
		rec, err := records.GetRecord(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		result.RecordedTokens += rec.Tokens
		if _, err := os.Stat(rec.LocalPath); err != nil {
			logger.Debug("checkout missing", "repo", rec.FullName, "path", rec.LocalPath)
			result.Missing++
			continue
		}

		r := model.NewRetrieval(model.Repository{
			ID:       rec.ID,
			FullName: rec.FullName,
			CloneURL: rec.CloneURL,
			Stars:    rec.Stars,
			Forks:    rec.Forks,
			SizeKB:   rec.SizeKB,
		})
		r.LocalPath = rec.LocalPath
		items = append(items, r)
		recorded = append(recorded, rec.Tokens)
	}

	var mu sync.Mutex
	bp := pipeline.NewBatchProcessor(factory,
		pipeline.WithConcurrency(workers),
		pipeline.WithBatchLogger(logger),
	)
	err = bp.ProcessBatch(ctx, items, func(r *model.Retrieval, err error, index int) {
		mu.Lock()
		defer mu.Unlock()

		entry := RecountEntry{
			FullName:       r.Repository.FullName,
			RecordedTokens: recorded[index],
			Tokens:         r.Tokens,
			FilesMeasured:  r.FilesMeasured,
			FilesSkipped:   r.FilesSkipped,
		}
		if err != nil {
			entry.Error = err.Error()
			result.Failed++
		}
		result.Repos[r.Repository.FullName] = entry
		result.TotalTokens += r.Tokens
		result.Repositories++
	})
	if err != nil {
		return nil, err
	}

	result.CountedAt = time.Now().UTC()
	return result, nil
}

// printRecount writes the recount summary, largest differences first.
func printRecount(out io.Writer, result *RecountResult) {
	names := make([]string, 0, len(result.Repos))
	for name := range result.Repos {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		di := abs(result.Repos[names[i]].Tokens - result.Repos[names[i]].RecordedTokens)
		dj := abs(result.Repos[names[j]].Tokens - result.Repos[names[j]].RecordedTokens)
		if di != dj {
			return di > dj
		}
		return names[i] < names[j]
	})

	fmt.Fprintf(out, "Recounted %s repositories (%s checkouts missing, %s failed)\n",
		humanize.Comma(int64(result.Repositories)),
		humanize.Comma(int64(result.Missing)),
		humanize.Comma(int64(result.Failed)))
	fmt.Fprintf(out, "  tokens:   %s\n", humanize.Comma(result.TotalTokens))
	fmt.Fprintf(out, "  recorded: %s\n", humanize.Comma(result.RecordedTokens))

	shown := 0
	for _, name := range names {
		e := result.Repos[name]
		if e.Tokens == e.RecordedTokens || shown == 10 {
			continue
		}
		if shown == 0 {
			fmt.Fprintln(out, "\nLargest differences:")
		}
		fmt.Fprintf(out, "  %-40s %15s -> %s\n", name,
			humanize.Comma(e.RecordedTokens), humanize.Comma(e.Tokens))
		shown++
	}
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
