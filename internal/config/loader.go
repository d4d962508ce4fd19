package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the default configuration file name.
const DefaultConfigFile = ".repocrawl.yaml"

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// File represents the structure of the .repocrawl.yaml configuration file.
// Zero values leave the corresponding Config field unchanged.
type File struct {
	DataDir  string       `yaml:"data_dir,omitempty"`
	Budget   BudgetFile   `yaml:"budget,omitempty"`
	Search   SearchFile   `yaml:"search,omitempty"`
	Crawl    CrawlFile    `yaml:"crawl,omitempty"`
	Retry    RetryFile    `yaml:"retry,omitempty"`
	Retrieve RetrieveFile `yaml:"retrieve,omitempty"`
	Filter   FilterFile   `yaml:"filter,omitempty"`
	Measure  MeasureFile  `yaml:"measure,omitempty"`
	Metrics  MetricsFile  `yaml:"metrics,omitempty"`
	Log      LogFile      `yaml:"log,omitempty"`
}

// BudgetFile is the budget section.
type BudgetFile struct {
	TargetTokens int64 `yaml:"target_tokens,omitempty"`
}

// SearchFile is the search section: API access, pacing and the query table.
type SearchFile struct {
	APIURL            string        `yaml:"api_url,omitempty"`
	Proxy             string        `yaml:"proxy,omitempty"`
	Tor               *bool         `yaml:"tor,omitempty"`
	TorStartupTimeout time.Duration `yaml:"tor_startup_timeout,omitempty"`
	Timeout           time.Duration `yaml:"timeout,omitempty"`
	RequestsPerMinute *int          `yaml:"requests_per_minute,omitempty"`
	PerPage           int           `yaml:"per_page,omitempty"`
	MaxPages          int           `yaml:"max_pages,omitempty"`
	Language          *string       `yaml:"language,omitempty"`
	Topics            []string      `yaml:"topics,omitempty"`
	Sorts             []string      `yaml:"sorts,omitempty"`
	IncludeUntopiced  *bool         `yaml:"include_untopiced,omitempty"`
	Tiers             []int         `yaml:"tiers,omitempty"`
}

// CrawlFile is the crawl section.
type CrawlFile struct {
	Workers          int            `yaml:"workers,omitempty"`
	CycleLimit       int            `yaml:"cycle_limit,omitempty"`
	MaxRetries       *int           `yaml:"max_retries,omitempty"`
	MaxQueryFailures *int           `yaml:"max_query_failures,omitempty"`
	InitialBackoff   time.Duration  `yaml:"initial_backoff,omitempty"`
	MaxBackoff       time.Duration  `yaml:"max_backoff,omitempty"`
	IdleDelay        *time.Duration `yaml:"idle_delay,omitempty"`
}

// RetryFile is the failed retrieval retry section.
type RetryFile struct {
	RetryFailed *bool `yaml:"retry_failed,omitempty"`
	MaxAttempts int   `yaml:"max_attempts,omitempty"`
}

// RetrieveFile is the clone section.
type RetrieveFile struct {
	Timeout time.Duration `yaml:"timeout,omitempty"`
	Depth   *int          `yaml:"depth,omitempty"`
}

// FilterFile is the filter section.
type FilterFile struct {
	MaxTextBytes int64 `yaml:"max_text_bytes,omitempty"`
	MaxJSONBytes int64 `yaml:"max_json_bytes,omitempty"`
}

// MeasureFile is the measure section.
type MeasureFile struct {
	Encoding     string `yaml:"encoding,omitempty"`
	MaxFileBytes int64  `yaml:"max_file_bytes,omitempty"`
	MaxChars     int    `yaml:"max_chars,omitempty"`
}

// MetricsFile is the metrics section.
type MetricsFile struct {
	Addr string `yaml:"addr,omitempty"`
}

// LogFile is the log section.
type LogFile struct {
	File *bool `yaml:"file,omitempty"`
}

// LoadConfigFile loads the configuration file at path.
// If the file does not exist, it returns ErrConfigNotFound.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var cf File
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, err
	}
	return &cf, nil
}

// FindConfigFile searches for the configuration file in the following order:
// 1. If configPath is specified, use it directly
// 2. Look for .repocrawl.yaml in the current directory
// 3. Look for .repocrawl.yaml in the user's home directory
//
// Returns the path to the configuration file if found, or empty string if not found.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	if cwd, err := os.Getwd(); err == nil {
		cwdConfig := filepath.Join(cwd, DefaultConfigFile)
		if _, err := os.Stat(cwdConfig); err == nil {
			return cwdConfig
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		homeConfig := filepath.Join(home, DefaultConfigFile)
		if _, err := os.Stat(homeConfig); err == nil {
			return homeConfig
		}
	}

	return ""
}

// Apply copies every value set in the file onto c.
func (f *File) Apply(c *Config) {
	setString(&c.DataDir, f.DataDir)
	setInt64(&c.TargetTokens, f.Budget.TargetTokens)

	s := f.Search
	setString(&c.APIURL, s.APIURL)
	setString(&c.ProxyAddress, s.Proxy)
	setPtr(&c.Tor, s.Tor)
	setDuration(&c.TorStartupTimeout, s.TorStartupTimeout)
	setDuration(&c.Timeout, s.Timeout)
	setPtr(&c.RequestsPerMinute, s.RequestsPerMinute)
	setInt(&c.PerPage, s.PerPage)
	setInt(&c.MaxPages, s.MaxPages)
	setPtr(&c.Language, s.Language)
	if len(s.Topics) > 0 {
		c.Topics = s.Topics
	}
	if len(s.Sorts) > 0 {
		c.Sorts = s.Sorts
	}
	setPtr(&c.IncludeUntopiced, s.IncludeUntopiced)
	if len(s.Tiers) > 0 {
		c.Tiers = s.Tiers
	}

	cr := f.Crawl
	setInt(&c.Workers, cr.Workers)
	setInt(&c.CycleLimit, cr.CycleLimit)
	setPtr(&c.MaxRetries, cr.MaxRetries)
	setPtr(&c.MaxQueryFailures, cr.MaxQueryFailures)
	setDuration(&c.InitialBackoff, cr.InitialBackoff)
	setDuration(&c.MaxBackoff, cr.MaxBackoff)
	setPtr(&c.IdleDelay, cr.IdleDelay)

	setPtr(&c.RetryFailed, f.Retry.RetryFailed)
	setInt(&c.MaxAttempts, f.Retry.MaxAttempts)

	setDuration(&c.CloneTimeout, f.Retrieve.Timeout)
	setPtr(&c.CloneDepth, f.Retrieve.Depth)

	setInt64(&c.MaxTextBytes, f.Filter.MaxTextBytes)
	setInt64(&c.MaxJSONBytes, f.Filter.MaxJSONBytes)

	setString(&c.Encoding, f.Measure.Encoding)
	setInt64(&c.MaxFileBytes, f.Measure.MaxFileBytes)
	setInt(&c.MaxChars, f.Measure.MaxChars)

	setString(&c.MetricsAddr, f.Metrics.Addr)
	setPtr(&c.LogToFile, f.Log.File)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setInt64(dst *int64, v int64) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func setPtr[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
