package export

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/nao1215/repocrawl/internal/measure"
)

const (
	// ManifestFile holds one Entry per line.
	ManifestFile = "manifest.jsonl"
	// SummaryFile holds the Summary of the export.
	SummaryFile = "summary.json"
	// DefaultShardBytes is the uncompressed size at which a shard is closed.
	DefaultShardBytes = 1 << 30
)

// FileWalker visits the measured files of a checkout. *measure.Counter
// implements it.
type FileWalker interface {
	Files(ctx context.Context, root string, fn func(measure.File) error) (measure.Result, error)
}

// Repo is one recorded checkout to export.
type Repo struct {
	FullName       string
	Dir            string
	RecordedTokens int64
}

// Entry is one manifest line.
type Entry struct {
	Repository string `json:"repository"`
	Path       string `json:"path"`
	Bytes      int64  `json:"bytes"`
	Tokens     int    `json:"tokens"`
	SHA256     string `json:"sha256"`
	Shard      string `json:"shard,omitempty"`
}

// RepoSummary is the per-repository outcome of an export.
type RepoSummary struct {
	FullName       string `json:"full_name"`
	Files          int    `json:"files"`
	Tokens         int64  `json:"tokens"`
	RecordedTokens int64  `json:"recorded_tokens"`
}

// Summary describes a finished export.
type Summary struct {
	Repositories   int           `json:"repositories"`
	Files          int           `json:"files"`
	Bytes          int64         `json:"bytes"`
	Tokens         int64         `json:"tokens"`
	RecordedTokens int64         `json:"recorded_tokens"`
	Shards         []string      `json:"shards,omitempty"`
	Missing        []string      `json:"missing,omitempty"`
	Mismatched     []RepoSummary `json:"mismatched,omitempty"`
	ExportedAt     time.Time     `json:"exported_at"`
}

// Exporter writes a dataset into a directory.
type Exporter struct {
	walker     FileWalker
	dir        string
	shardBytes int64
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithShardBytes sets the shard size. Zero writes the manifest only.
func WithShardBytes(n int64) Option {
	return func(e *Exporter) {
		if n >= 0 {
			e.shardBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) {
		e.logger = logger
	}
}

// WithClock sets the time source for Summary.ExportedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		e.now = now
	}
}

// New creates an Exporter that writes into dir.
func New(walker FileWalker, dir string, opts ...Option) *Exporter {
	e := &Exporter{
		walker:     walker,
		dir:        dir,
		shardBytes: DefaultShardBytes,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Run exports repos and returns the summary, which is also written to
// SummaryFile. Output from an earlier export in the same directory is
// replaced. A checkout that no longer exists is listed in Missing.
func (e *Exporter) Run(ctx context.Context, repos []Repo) (*Summary, error) {
	if err := e.prepare(); err != nil {
		return nil, err
	}

	f, err := os.Create(filepath.Join(e.dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest: %w", err)
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)

	var shards *shardWriter
	if e.shardBytes > 0 {
		shards = newShardWriter(e.dir, e.shardBytes)
	}

	sorted := make([]Repo, len(repos))
	copy(sorted, repos)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FullName < sorted[j].FullName })

	summary := &Summary{}
	for _, repo := range sorted {
		summary.RecordedTokens += repo.RecordedTokens
		if _, err := os.Stat(repo.Dir); err != nil {
			e.logger.Warn("checkout missing", "repository", repo.FullName, "path", repo.Dir)
			summary.Missing = append(summary.Missing, repo.FullName)
			continue
		}

		res, err := e.walker.Files(ctx, repo.Dir, func(file measure.File) error {
			sum := sha256.Sum256(file.Data)
			entry := Entry{
				Repository: repo.FullName,
				Path:       file.Rel,
				Bytes:      int64(len(file.Data)),
				Tokens:     file.Tokens,
				SHA256:     hex.EncodeToString(sum[:]),
			}
			if shards != nil {
				shard, err := shards.add(path.Join(repo.FullName, file.Rel), file.Data)
				if err != nil {
					return err
				}
				entry.Shard = shard
			}
			summary.Bytes += entry.Bytes
			return enc.Encode(entry)
		})
		if err != nil {
			if shards != nil {
				_ = shards.close()
			}
			return nil, fmt.Errorf("failed to export %s: %w", repo.FullName, err)
		}

		summary.Repositories++
		summary.Files += res.FilesMeasured
		summary.Tokens += res.Tokens
		if res.Tokens != repo.RecordedTokens {
			e.logger.Warn("token count differs from record",
				"repository", repo.FullName,
				"tokens", res.Tokens,
				"recorded", repo.RecordedTokens,
			)
			summary.Mismatched = append(summary.Mismatched, RepoSummary{
				FullName:       repo.FullName,
				Files:          res.FilesMeasured,
				Tokens:         res.Tokens,
				RecordedTokens: repo.RecordedTokens,
			})
		}
	}

	if shards != nil {
		if err := shards.close(); err != nil {
			return nil, err
		}
		summary.Shards = shards.names
	}
	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync manifest: %w", err)
	}

	summary.ExportedAt = e.now().UTC()
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(e.dir, SummaryFile), data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write summary: %w", err)
	}

	e.logger.Info("export finished",
		"repositories", summary.Repositories,
		"files", summary.Files,
		"tokens", summary.Tokens,
		"shards", len(summary.Shards),
	)
	return summary, nil
}

// prepare creates the output directory and removes an earlier export.
func (e *Exporter) prepare() error {
	if err := os.MkdirAll(e.dir, 0750); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	old, err := filepath.Glob(filepath.Join(e.dir, "shard-*.tar.zst"))
	if err != nil {
		return err
	}
	old = append(old, filepath.Join(e.dir, ManifestFile), filepath.Join(e.dir, SummaryFile))
	for _, p := range old {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}
