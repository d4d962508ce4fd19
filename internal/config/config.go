package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"github.com/nao1215/repocrawl/internal/query"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "repocrawl"

	// DefaultTargetTokens is the token budget of a crawl.
	DefaultTargetTokens int64 = 100_000_000_000

	// DefaultWorkers is the number of concurrent retrievals.
	DefaultWorkers = 4

	// DefaultRequestsPerMinute paces search requests. Authenticated search
	// allows 30 requests per minute.
	DefaultRequestsPerMinute = 30

	// DefaultPerPage is the search page size. 100 is the API maximum.
	DefaultPerPage = 100

	// DefaultMaxPages caps the pages fetched per query. The search API
	// returns at most 1000 results per query.
	DefaultMaxPages = 10

	// DefaultCycleLimit is the number of consecutive passes without new
	// candidates before the star threshold is lowered.
	DefaultCycleLimit = 2

	// DefaultMaxRetries bounds retries of transient search errors.
	DefaultMaxRetries = 3

	// DefaultMaxQueryFailures is the number of consecutive passes a query
	// may fail before it is given up for the tier.
	DefaultMaxQueryFailures = 5

	// DefaultInitialBackoff and DefaultMaxBackoff shape the retry delays.
	DefaultInitialBackoff = 2 * time.Second
	DefaultMaxBackoff     = time.Minute

	// DefaultIdleDelay is the pause after a pass in which every fetch failed.
	DefaultIdleDelay = 30 * time.Second

	// DefaultMaxAttempts bounds retrieval attempts when failed
	// repositories are retried.
	DefaultMaxAttempts = 3

	// DefaultTimeout is the HTTP timeout of a search request.
	DefaultTimeout = 30 * time.Second

	// DefaultTorStartupTimeout bounds the bootstrap of the embedded Tor daemon.
	DefaultTorStartupTimeout = 3 * time.Minute

	// DefaultCloneTimeout bounds a single clone.
	DefaultCloneTimeout = 10 * time.Minute

	// DefaultCloneDepth makes shallow clones.
	DefaultCloneDepth = 1

	// DefaultLanguage restricts the search to one language.
	DefaultLanguage = "python"

	// DefaultEncoding is the tokenizer encoding.
	DefaultEncoding = "cl100k_base"

	// DefaultMaxTextBytes drops .txt files above 1 MiB, in both the filter
	// and the measure step.
	DefaultMaxTextBytes int64 = 1 << 20

	// DefaultMaxJSONBytes drops .json files above 5 MiB in the filter step.
	DefaultMaxJSONBytes int64 = 5 << 20

	// DefaultMaxFileBytes skips files above 5 MiB in the measure step.
	DefaultMaxFileBytes int64 = 5 << 20

	// DefaultMaxChars skips files above 5 million characters.
	DefaultMaxChars = 5_000_000
)

// DefaultTiers are the star thresholds, highest first.
var DefaultTiers = []int{10000, 5000, 2000, 1000, 500, 200, 100, 50, 20, 10, 5, 1}

// DefaultTopics is the topic vocabulary queries are generated from.
var DefaultTopics = []string{
	"machine-learning", "deep-learning", "data-science", "nlp", "computer-vision",
	"django", "flask", "fastapi", "pytorch", "tensorflow",
	"pandas", "numpy", "scikit-learn", "jupyter", "visualization",
	"web-scraping", "crawler", "automation", "bot", "cli",
	"api", "rest-api", "graphql", "asyncio", "websocket",
	"devops", "docker", "kubernetes", "aws", "serverless",
	"database", "orm", "postgresql", "redis", "celery",
	"testing", "security", "cryptography", "blockchain", "finance",
	"trading", "game", "gui", "networking", "algorithms",
}

// Config holds all configuration options for repocrawl.
// It is populated from defaults, the configuration file and CLI flags,
// and passed through the application rather than kept in global state.
type Config struct {
	// DataDir holds the ledger, snapshot, record store, clones and logs.
	DataDir string

	// ConfigFilePath is the path to the configuration file.
	ConfigFilePath string

	// Verbose enables debug output on the console.
	Verbose bool

	// LogToFile writes a per-run log under DataDir/logs.
	LogToFile bool

	// GitHubToken authenticates search requests. Read from GITHUB_TOKEN.
	GitHubToken string

	// APIURL overrides the GitHub API base URL, e.g. for GitHub Enterprise.
	APIURL string

	// ProxyAddress routes search and clone traffic through a SOCKS5 proxy
	// in "host:port" format. Empty means a direct connection.
	ProxyAddress string

	// Tor starts an embedded Tor daemon and uses its SOCKS5 listener as
	// the proxy. It cannot be combined with ProxyAddress.
	Tor bool

	// TorStartupTimeout bounds the embedded daemon's bootstrap.
	TorStartupTimeout time.Duration

	// Timeout is the HTTP timeout of one search request.
	Timeout time.Duration

	// TargetTokens is the token budget; the crawl stops once reached.
	TargetTokens int64

	// Workers is the number of concurrent retrievals.
	Workers int

	// RequestsPerMinute paces search requests. Zero disables pacing.
	RequestsPerMinute int

	// PerPage is the search page size.
	PerPage int

	// MaxPages caps the pages fetched per query.
	MaxPages int

	// CycleLimit is the number of idle passes before expanding the tier.
	CycleLimit int

	// MaxRetries bounds retries of transient search errors.
	MaxRetries int

	// MaxQueryFailures completes a query after that many consecutive
	// failed passes. Zero never gives up.
	MaxQueryFailures int

	// InitialBackoff and MaxBackoff shape the transient retry delays.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// IdleDelay is the pause after a pass in which every fetch failed.
	IdleDelay time.Duration

	// RetryFailed lets a new process retrieve repositories that failed
	// fewer than MaxAttempts times.
	RetryFailed bool

	// MaxAttempts bounds retrieval attempts when RetryFailed is set.
	MaxAttempts int

	// Language, Topics, Sorts and IncludeUntopiced form the query table.
	Language         string
	Topics           []string
	Sorts            []string
	IncludeUntopiced bool

	// Tiers are the star thresholds, expanded highest first.
	Tiers []int

	// CloneTimeout bounds a single clone.
	CloneTimeout time.Duration

	// CloneDepth is the history depth of clones. Zero clones everything.
	CloneDepth int

	// MaxTextBytes and MaxJSONBytes are the filter step size limits.
	MaxTextBytes int64
	MaxJSONBytes int64

	// Encoding, MaxFileBytes and MaxChars configure the measure step.
	Encoding     string
	MaxFileBytes int64
	MaxChars     int

	// MetricsAddr serves Prometheus metrics when not empty.
	MetricsAddr string
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		DataDir:           XDGDataDir(),
		LogToFile:         true,
		Timeout:           DefaultTimeout,
		TorStartupTimeout: DefaultTorStartupTimeout,
		TargetTokens:      DefaultTargetTokens,
		Workers:           DefaultWorkers,
		RequestsPerMinute: DefaultRequestsPerMinute,
		PerPage:           DefaultPerPage,
		MaxPages:          DefaultMaxPages,
		CycleLimit:        DefaultCycleLimit,
		MaxRetries:        DefaultMaxRetries,
		MaxQueryFailures:  DefaultMaxQueryFailures,
		InitialBackoff:    DefaultInitialBackoff,
		MaxBackoff:        DefaultMaxBackoff,
		IdleDelay:         DefaultIdleDelay,
		MaxAttempts:       DefaultMaxAttempts,
		Language:          DefaultLanguage,
		Topics:            append([]string(nil), DefaultTopics...),
		Sorts:             append([]string(nil), query.DefaultSorts...),
		IncludeUntopiced:  true,
		Tiers:             append([]int(nil), DefaultTiers...),
		CloneTimeout:      DefaultCloneTimeout,
		CloneDepth:        DefaultCloneDepth,
		MaxTextBytes:      DefaultMaxTextBytes,
		MaxJSONBytes:      DefaultMaxJSONBytes,
		Encoding:          DefaultEncoding,
		MaxFileBytes:      DefaultMaxFileBytes,
		MaxChars:          DefaultMaxChars,
	}
}

// LoadEnv reads settings provided through the environment.
// GITHUB_TOKEN takes precedence over GH_TOKEN.
func (c *Config) LoadEnv() {
	for _, key := range []string{"GITHUB_TOKEN", "GH_TOKEN"} {
		if v := os.Getenv(key); v != "" {
			c.GitHubToken = v
			return
		}
	}
}

// XDGDataDir returns the XDG data directory for repocrawl.
// On Linux: ~/.local/share/repocrawl
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// ReposDir is where repositories are cloned.
func (c *Config) ReposDir() string {
	return filepath.Join(c.DataDir, "repos")
}

// LogsDir is where per-run logs are written.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// TokenizerCacheDir caches the tokenizer vocabulary.
func (c *Config) TokenizerCacheDir() string {
	return filepath.Join(c.DataDir, "tiktoken")
}

// Table builds the query table from the configuration.
func (c *Config) Table() query.Table {
	topics := make([]query.Topic, len(c.Topics))
	for i, name := range c.Topics {
		topics[i] = query.Topic{Name: name}
	}
	return query.Table{
		Language:  c.Language,
		Topics:    topics,
		Sorts:     c.Sorts,
		Untopiced: c.IncludeUntopiced,
	}
}

// Validate checks if the configuration is valid and returns the first
// problem found.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return ErrNoDataDir
	}
	if c.TargetTokens <= 0 {
		return ErrInvalidTargetTokens
	}
	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if c.RequestsPerMinute < 0 {
		return ErrInvalidRequestRate
	}
	if c.PerPage < 1 || c.PerPage > 100 {
		return ErrInvalidPerPage
	}
	if c.MaxPages < 1 {
		return ErrInvalidMaxPages
	}
	if c.PerPage*c.MaxPages > 1000 {
		return ErrSearchDepthTooLarge
	}
	if c.CycleLimit < 1 {
		return ErrInvalidCycleLimit
	}
	if c.MaxRetries < 0 {
		return ErrInvalidMaxRetries
	}
	if c.MaxQueryFailures < 0 {
		return ErrInvalidMaxQueryFailures
	}
	if c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff {
		return ErrInvalidBackoff
	}
	if c.IdleDelay < 0 {
		return ErrInvalidIdleDelay
	}
	if c.RetryFailed && c.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}
	if len(query.NormalizeTiers(c.Tiers)) == 0 {
		return ErrNoTiers
	}
	for _, t := range c.Tiers {
		if t < 0 {
			return ErrInvalidTier
		}
	}
	if len(c.Topics) == 0 && !c.IncludeUntopiced {
		return ErrEmptyQueryTable
	}
	for _, s := range c.Sorts {
		if !query.ValidSort(s) {
			return ErrInvalidSort
		}
	}
	if c.Timeout <= 0 || c.CloneTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Tor {
		if c.ProxyAddress != "" {
			return ErrTorWithProxy
		}
		if c.TorStartupTimeout <= 0 {
			return ErrInvalidTimeout
		}
	}
	if c.CloneDepth < 0 {
		return ErrInvalidCloneDepth
	}
	if c.MaxTextBytes <= 0 || c.MaxJSONBytes <= 0 || c.MaxFileBytes <= 0 || c.MaxChars <= 0 {
		return ErrInvalidSizeLimit
	}
	if c.Encoding == "" {
		return ErrNoEncoding
	}
	return nil
}
