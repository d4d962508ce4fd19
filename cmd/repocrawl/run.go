package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nao1215/repocrawl/internal/config"
	"github.com/nao1215/repocrawl/internal/crawl"
	"github.com/nao1215/repocrawl/internal/database"
	"github.com/nao1215/repocrawl/internal/filter"
	"github.com/nao1215/repocrawl/internal/github"
	"github.com/nao1215/repocrawl/internal/ledger"
	"github.com/nao1215/repocrawl/internal/measure"
	"github.com/nao1215/repocrawl/internal/metrics"
	"github.com/nao1215/repocrawl/internal/model"
	"github.com/nao1215/repocrawl/internal/pipeline"
	"github.com/nao1215/repocrawl/internal/progress"
	"github.com/nao1215/repocrawl/internal/retrieve"
	"github.com/nao1215/repocrawl/internal/tor"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Crawl repositories until the token budget is reached",
		Long: `Run searches GitHub tier by tier, clones every repository it has not
seen before, removes files that are not code and counts the tokens left.

The crawl stops when the token budget is reached, when every popularity
tier is exhausted, or on Ctrl+C. All three are clean stops: progress is
saved and the next run resumes where this one stopped.

Examples:
  # Crawl with defaults (GITHUB_TOKEN is read from the environment)
  repocrawl run

  # Crawl a smaller corpus with more workers
  repocrawl run --target-tokens 1000000000 --workers 8

  # Search through a local SOCKS5 proxy and expose Prometheus metrics
  repocrawl run --proxy 127.0.0.1:9050 --metrics-addr :9090

  # Start an embedded Tor daemon and route search and clone traffic through it
  repocrawl run --tor`,
		Args: cobra.NoArgs,
		RunE: runRunCmd,
	}

	cmd.Flags().Int64P("target-tokens", "t", config.DefaultTargetTokens,
		"Token budget; the crawl stops once it is reached")
	cmd.Flags().IntP("workers", "w", config.DefaultWorkers,
		"Number of concurrent retrievals")
	cmd.Flags().StringP("language", "l", config.DefaultLanguage,
		"Primary language qualifier for every search")
	cmd.Flags().StringP("proxy", "p", "",
		"SOCKS5 proxy address for search and clone traffic (e.g., 127.0.0.1:9050)")
	cmd.Flags().Bool("tor", false,
		"Start an embedded Tor daemon and use it as the proxy (requires the tor executable)")
	cmd.Flags().Duration("tor-startup-timeout", config.DefaultTorStartupTimeout,
		"Timeout for the embedded Tor daemon to bootstrap")
	cmd.MarkFlagsMutuallyExclusive("proxy", "tor")
	cmd.Flags().Duration("timeout", config.DefaultTimeout,
		"Timeout for each search request")
	cmd.Flags().Bool("retry-failed", false,
		"Retry repositories whose retrieval failed in an earlier run")
	cmd.Flags().String("metrics-addr", "",
		"Serve Prometheus metrics on this address (e.g., :9090)")
	cmd.Flags().Bool("no-log-file", false,
		"Do not write a per-run log file under the data directory")

	return cmd
}

// runRunCmd executes the run command.
func runRunCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	start := time.Now()
	logger, closer, err := setupLogger(cfg, stderr, start)
	if err != nil {
		return fmt.Errorf("failed to open run log: %w", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	// Set up context with signal handling for graceful shutdown. In-flight
	// retrievals are drained before the process exits.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runCrawl(ctx, cfg, logger, cmd.OutOrStdout(), start)
}

// applyRunFlags copies the run flags the user set onto cfg. Flags left at
// their defaults do not override the configuration file.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var err error

	if flags.Changed("target-tokens") {
		if cfg.TargetTokens, err = flags.GetInt64("target-tokens"); err != nil {
			return err
		}
	}
	if flags.Changed("workers") {
		if cfg.Workers, err = flags.GetInt("workers"); err != nil {
			return err
		}
	}
	if flags.Changed("language") {
		if cfg.Language, err = flags.GetString("language"); err != nil {
			return err
		}
	}
	if flags.Changed("proxy") {
		if cfg.ProxyAddress, err = flags.GetString("proxy"); err != nil {
			return err
		}
	}
	if flags.Changed("tor") {
		if cfg.Tor, err = flags.GetBool("tor"); err != nil {
			return err
		}
	}
	if flags.Changed("tor-startup-timeout") {
		if cfg.TorStartupTimeout, err = flags.GetDuration("tor-startup-timeout"); err != nil {
			return err
		}
	}
	if flags.Changed("timeout") {
		if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
			return err
		}
	}
	if flags.Changed("retry-failed") {
		if cfg.RetryFailed, err = flags.GetBool("retry-failed"); err != nil {
			return err
		}
	}
	if flags.Changed("metrics-addr") {
		if cfg.MetricsAddr, err = flags.GetString("metrics-addr"); err != nil {
			return err
		}
	}
	noLogFile, err := flags.GetBool("no-log-file")
	if err != nil {
		return err
	}
	if noLogFile {
		cfg.LogToFile = false
	}
	return nil
}

// state is the durable crawl state opened at startup.
type state struct {
	records  *database.RecordDB
	ledger   *ledger.Ledger
	store    *progress.Store
	snapshot *model.ProgressSnapshot
}

// Close releases the ledger and the record database.
func (s *state) Close() error {
	return errors.Join(s.ledger.Close(), s.records.Close())
}

// openState opens the record store, the ledger and the progress snapshot.
// A corrupt record store or ledger halts startup. A corrupt snapshot with
// an unusable backup is rebuilt from the record store.
func openState(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*state, error) {
	records, err := database.Open(cfg.DataDir, database.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	ledgerOpts := []ledger.Option{ledger.WithLogger(logger)}
	if cfg.RetryFailed {
		attempts, err := records.FailureAttempts(ctx)
		if err != nil {
			_ = records.Close()
			return nil, err
		}
		maxAttempts := cfg.MaxAttempts
		ledgerOpts = append(ledgerOpts, ledger.WithExclude(func(id int64) bool {
			n, failed := attempts[id]
			return failed && n < maxAttempts
		}))
	}

	l, err := ledger.Open(filepath.Join(cfg.DataDir, ledger.DefaultFileName), ledgerOpts...)
	if err != nil {
		_ = records.Close()
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	st := &state{records: records, ledger: l}

	// Records back-fill the ledger, covering a ledger append lost to a crash
	// after the record was written.
	ids, err := records.RecordIDs(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	backfilled := 0
	for _, id := range ids {
		if l.Contains(id) {
			continue
		}
		if err := l.Add(id); err != nil {
			_ = st.Close()
			return nil, err
		}
		backfilled++
	}
	if backfilled > 0 {
		logger.Warn("ledger back-filled from records", "ids", backfilled)
	}

	st.store = progress.NewStore(filepath.Join(cfg.DataDir, progress.DefaultFileName),
		progress.WithLogger(logger))
	snap, status, err := st.store.Load()
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}
	if status == progress.LoadCorrupt {
		totals, err := records.Totals(ctx)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		progress.Rebuild(snap, totals.Records, totals.Tokens)
		snap.Failed = totals.Failures
		logger.Error("progress rebuilt from the record store",
			"succeeded", snap.Succeeded,
			"failed", snap.Failed,
			"total_tokens", snap.TotalTokens,
		)
	}
	logger.Info("progress loaded",
		"source", status.String(),
		"ledger", l.Len(),
		"total_tokens", snap.TotalTokens,
	)
	st.snapshot = snap
	return st, nil
}

// newSearcher creates the GitHub searcher, optionally through a SOCKS5
// proxy that is checked before the crawl starts.
func newSearcher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*github.Searcher, error) {
	if cfg.ProxyAddress != "" {
		if status := github.CheckProxy(ctx, cfg.ProxyAddress); status != github.ProxyStatusOK {
			return nil, fmt.Errorf("proxy check failed: %s (make sure a SOCKS5 proxy is running at %s): %w",
				status, cfg.ProxyAddress, status.Err())
		}
		logger.Info("proxy connection verified", "address", cfg.ProxyAddress)
	}

	httpClient, err := github.NewHTTPClient(cfg.ProxyAddress, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	if cfg.GitHubToken == "" {
		logger.Warn("GITHUB_TOKEN is not set, searching unauthenticated with a lower rate limit")
	}

	client, err := github.NewClient(ctx, github.ClientConfig{
		Token:      cfg.GitHubToken,
		BaseURL:    cfg.APIURL,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, err
	}

	return github.NewSearcher(client,
		github.WithPerPage(cfg.PerPage),
		github.WithRequestsPerMinute(cfg.RequestsPerMinute),
		github.WithLogger(logger),
	), nil
}

// newCounter creates the token counter shared by run and recount.
func newCounter(cfg *config.Config, logger *slog.Logger) (*measure.Counter, error) {
	encoder, err := measure.NewEncoder(cfg.Encoding, cfg.TokenizerCacheDir())
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer %s: %w", cfg.Encoding, err)
	}
	return measure.NewCounter(encoder,
		measure.WithMaxFileBytes(cfg.MaxFileBytes),
		measure.WithMaxTextBytes(cfg.MaxTextBytes),
		measure.WithMaxChars(cfg.MaxChars),
		measure.WithLogger(logger),
	), nil
}

// newPurger creates the non-code file filter.
func newPurger(cfg *config.Config, logger *slog.Logger) *filter.Purger {
	return filter.New(
		filter.WithMaxTextBytes(cfg.MaxTextBytes),
		filter.WithMaxJSONBytes(cfg.MaxJSONBytes),
		filter.WithLogger(logger),
	)
}

// newProcessor creates the retrieve, filter and measure pipeline. Clones
// of failed retrievals are removed.
func newProcessor(cfg *config.Config, purger *filter.Purger, counter *measure.Counter, logger *slog.Logger) (*pipeline.Pipeline, error) {
	cloner, err := retrieve.NewCloner(cfg.ReposDir(),
		retrieve.WithTimeout(cfg.CloneTimeout),
		retrieve.WithProxy(cfg.ProxyAddress),
		retrieve.WithDepth(cfg.CloneDepth),
		retrieve.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	return pipeline.DefaultPipeline(cloner, purger, counter,
		pipeline.WithLogger(logger),
		pipeline.WithCleanup(cloner.Remove),
	), nil
}

// checkoutPipeline filters and measures a checkout that is already on disk.
func checkoutPipeline(purger pipeline.Purger, counter pipeline.Counter, logger *slog.Logger) func() *pipeline.Pipeline {
	return func() *pipeline.Pipeline {
		p := pipeline.New(pipeline.WithLogger(logger))
		p.AddSteps(
			pipeline.NewFilterStep(purger, pipeline.WithFilterLogger(logger)),
			pipeline.NewMeasureStep(counter),
		)
		return p
	}
}

// runCrawl opens the crawl state, wires the collaborators and runs the
// controller to a stop.
func runCrawl(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer, start time.Time) error {
	st, err := openState(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if cfg.Tor {
		daemon := tor.NewDaemon(tor.WithStartupTimeout(cfg.TorStartupTimeout))
		if err := useTor(ctx, cfg, daemon, logger, out); err != nil {
			return err
		}
		defer func() {
			logger.Info("stopping embedded Tor daemon")
			if err := daemon.Stop(); err != nil {
				logger.Error("failed to stop embedded Tor daemon", "error", err)
			}
		}()
	}

	searcher, err := newSearcher(ctx, cfg, logger)
	if err != nil {
		return err
	}

	purger := newPurger(cfg, logger)
	counter, err := newCounter(cfg, logger)
	if err != nil {
		return err
	}
	processor, err := newProcessor(cfg, purger, counter, logger)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	if _, err := reconcileCheckouts(ctx, cfg.ReposDir(), st,
		checkoutPipeline(purger, counter, logger),
		cfg.Workers, runID, time.Now(), logger); err != nil {
		return fmt.Errorf("failed to reconcile checkouts: %w", err)
	}

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("metrics server failed", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
	}

	controller, err := crawl.New(crawl.Settings{
		TargetTokens:     cfg.TargetTokens,
		Workers:          cfg.Workers,
		Tiers:            cfg.Tiers,
		Table:            cfg.Table(),
		CycleLimit:       cfg.CycleLimit,
		MaxPages:         cfg.MaxPages,
		MaxRetries:       cfg.MaxRetries,
		MaxQueryFailures: cfg.MaxQueryFailures,
		InitialBackoff:   cfg.InitialBackoff,
		MaxBackoff:       cfg.MaxBackoff,
		IdleDelay:        cfg.IdleDelay,
	}, st.snapshot, crawl.Collaborators{
		Searcher:  searcher,
		Ledger:    st.ledger,
		Records:   st.records,
		Snapshots: st.store,
		Processor: processor,
	},
		crawl.WithLogger(logger.With("run_id", runID)),
		crawl.WithObserver(m),
		crawl.WithRunID(runID),
	)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Crawling until %s tokens (run %s)...\n",
		humanize.Comma(cfg.TargetTokens), runID)

	result, err := controller.Run(ctx)
	printSummary(out, result, time.Since(start))
	if err != nil {
		return fmt.Errorf("crawl stopped: %w", err)
	}
	return nil
}

// torDaemon is the embedded daemon as seen by run.
type torDaemon interface {
	Start(ctx context.Context) error
	ProxyAddress() (string, error)
}

// useTor starts the daemon and routes search and clone traffic through
// its SOCKS5 listener.
func useTor(ctx context.Context, cfg *config.Config, daemon torDaemon, logger *slog.Logger, out io.Writer) error {
	fmt.Fprintln(out, "Starting embedded Tor daemon (this can take a few minutes)...")
	if err := daemon.Start(ctx); err != nil {
		return err
	}
	addr, err := daemon.ProxyAddress()
	if err != nil {
		return err
	}
	cfg.ProxyAddress = addr
	logger.Info("embedded Tor daemon started", "socks_addr", addr)
	return nil
}

// printSummary writes the end-of-run summary.
func printSummary(out io.Writer, result crawl.Result, elapsed time.Duration) {
	snap := result.Snapshot
	if snap == nil {
		return
	}
	fmt.Fprintf(out, "\nCrawl stopped: %s after %s\n", result.Reason, elapsed.Round(time.Second))
	fmt.Fprintf(out, "  tokens:    %s\n", humanize.Comma(snap.TotalTokens))
	fmt.Fprintf(out, "  succeeded: %s\n", humanize.Comma(int64(snap.Succeeded)))
	fmt.Fprintf(out, "  failed:    %s\n", humanize.Comma(int64(snap.Failed)))
	fmt.Fprintf(out, "  skipped:   %s\n", humanize.Comma(int64(snap.Skipped)))
	fmt.Fprintf(out, "  tier:      >= %s stars (%d expansions)\n",
		humanize.Comma(int64(snap.Tier.Current)), snap.Tier.Expansions)
}
