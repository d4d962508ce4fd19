package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/repocrawl/internal/config"
	rlog "github.com/nao1215/repocrawl/internal/log"
)

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// buildConfig layers defaults, the configuration file, the environment and
// the global flags, in that order. Command-specific flags are applied by
// the caller afterwards.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	cfg.Verbose = getVerboseFlag(cmd)

	var err error
	cfg.ConfigFilePath, err = cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	// An explicitly named file must exist; the default locations are optional.
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	switch {
	case configPath != "":
		file, err := config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		file.Apply(cfg)
	case cfg.ConfigFilePath != "":
		return nil, fmt.Errorf("configuration file not found: %s", cfg.ConfigFilePath)
	}

	cfg.LoadEnv()

	dataDir, err := cmd.Flags().GetString("data-dir")
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	return cfg, nil
}

// setupLogger creates the secure logger. With LogToFile set, every record
// at Info and above is also appended to a per-run file under the logs
// directory. The returned closer releases that file.
func setupLogger(cfg *config.Config, console io.Writer, start time.Time) (*slog.Logger, io.Closer, error) {
	if !cfg.LogToFile {
		return rlog.NewSecureLogger(console, cfg.Verbose), nopCloser{}, nil
	}

	f, err := rlog.OpenRunLog(cfg.LogsDir(), start)
	if err != nil {
		return nil, nil, err
	}
	return rlog.NewRunLogger(console, f, cfg.Verbose), f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// stderr is the console log destination. Tests replace it.
var stderr io.Writer = os.Stderr
