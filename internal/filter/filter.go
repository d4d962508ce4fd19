package filter

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/karrick/godirwalk"
)

const (
	// DefaultMaxTextBytes is the size above which .txt files are deleted.
	DefaultMaxTextBytes = 1 << 20
	// DefaultMaxJSONBytes is the size above which .json files are deleted.
	DefaultMaxJSONBytes = 5 << 20
)

// Stats summarizes one purge.
type Stats struct {
	FilesKept    int
	FilesDeleted int
	BytesFreed   int64
}

// Purger deletes disallowed files from a repository checkout.
type Purger struct {
	maxTextBytes int64
	maxJSONBytes int64
	logger       *slog.Logger
}

// Option configures a Purger.
type Option func(*Purger)

// WithMaxTextBytes sets the .txt size limit.
func WithMaxTextBytes(n int64) Option {
	return func(p *Purger) {
		if n > 0 {
			p.maxTextBytes = n
		}
	}
}

// WithMaxJSONBytes sets the .json size limit.
func WithMaxJSONBytes(n int64) Option {
	return func(p *Purger) {
		if n > 0 {
			p.maxJSONBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Purger) {
		p.logger = logger
	}
}

// New creates a Purger.
func New(opts ...Option) *Purger {
	p := &Purger{
		maxTextBytes: DefaultMaxTextBytes,
		maxJSONBytes: DefaultMaxJSONBytes,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Keep decides whether a file of the given name and size survives.
func (p *Purger) Keep(name string, size int64) bool {
	if IsProtected(name) {
		return true
	}
	ext := Ext(name)
	switch {
	case ext == ".txt" && size > p.maxTextBytes:
		return false
	case ext == ".json" && size > p.maxJSONBytes:
		return false
	}
	return ext == "" || IsCode(ext) || IsText(ext)
}

// Purge walks root and deletes every file Keep rejects. Files that cannot
// be deleted are logged and skipped; the returned stats cover what was
// actually removed. The walk stops early if ctx is done.
func (p *Purger) Purge(ctx context.Context, root string) (Stats, error) {
	var stats Stats

	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if de.IsDir() {
				if de.Name() == ".git" {
					return godirwalk.SkipThis
				}
				return nil
			}
			if !de.IsRegular() {
				return nil
			}

			info, err := os.Lstat(path)
			if err != nil {
				p.logger.Debug("failed to stat file", "path", path, "error", err)
				return nil
			}
			if p.Keep(de.Name(), info.Size()) {
				stats.FilesKept++
				return nil
			}

			if err := os.Remove(path); err != nil {
				p.logger.Debug("failed to delete file", "path", path, "error", err)
				return nil
			}
			stats.FilesDeleted++
			stats.BytesFreed += info.Size()
			return nil
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
				p.logger.Debug("skipping unreadable path", "path", path, "error", err)
				return godirwalk.SkipNode
			}
			return godirwalk.Halt
		},
	})
	if err != nil {
		return stats, err
	}

	p.logger.Debug("purge completed",
		"root", filepath.Base(root),
		"kept", stats.FilesKept,
		"deleted", stats.FilesDeleted,
		"bytes_freed", stats.BytesFreed,
	)
	return stats, nil
}
