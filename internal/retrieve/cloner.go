package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/nao1215/repocrawl/internal/model"
)

// DefaultTimeout bounds a single clone.
const DefaultTimeout = 10 * time.Minute

var (
	// ErrEmptyCloneURL is returned when a repository has no clone URL.
	ErrEmptyCloneURL = errors.New("repository has no clone URL")
	// ErrEmptyRoot is returned when the cloner has no target directory.
	ErrEmptyRoot = errors.New("clone root directory is empty")
)

// Cloner clones repositories into per-repository directories under a root.
type Cloner struct {
	root    string
	timeout time.Duration
	proxy   string
	depth   int
	logger  *slog.Logger
}

// Option configures a Cloner.
type Option func(*Cloner)

// WithTimeout bounds each clone. Zero or less keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Cloner) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithProxy routes clone traffic through a SOCKS5 proxy at host:port.
func WithProxy(address string) Option {
	return func(c *Cloner) {
		c.proxy = address
	}
}

// WithDepth sets the history depth. Zero clones the full history.
func WithDepth(depth int) Option {
	return func(c *Cloner) {
		if depth >= 0 {
			c.depth = depth
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cloner) {
		c.logger = logger
	}
}

// NewCloner creates a Cloner writing under root.
func NewCloner(root string, opts ...Option) (*Cloner, error) {
	if root == "" {
		return nil, ErrEmptyRoot
	}
	c := &Cloner{
		root:    root,
		timeout: DefaultTimeout,
		depth:   1,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("failed to create clone root: %w", err)
	}
	return c, nil
}

// Path returns the directory a repository is cloned into.
func (c *Cloner) Path(repo model.Repository) string {
	return filepath.Join(c.root, repo.DirName())
}

// Clone makes a fresh shallow copy of repo and returns its path.
// Any previous directory for the repository is removed first, and a
// failed clone leaves nothing behind. A finished clone carries its origin
// (see ReadOrigin).
func (c *Cloner) Clone(ctx context.Context, repo model.Repository) (string, error) {
	if repo.CloneURL == "" {
		return "", ErrEmptyCloneURL
	}

	dest := c.Path(repo)
	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("failed to clear %s: %w", dest, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	opts := &git.CloneOptions{
		URL:          repo.CloneURL,
		Depth:        c.depth,
		SingleBranch: true,
		Tags:         git.NoTags,
	}
	if c.proxy != "" {
		opts.ProxyOptions = transport.ProxyOptions{URL: "socks5://" + c.proxy}
	}

	start := time.Now()
	if _, err := git.PlainCloneContext(ctx, dest, false, opts); err != nil {
		if rmErr := os.RemoveAll(dest); rmErr != nil {
			c.logger.Warn("failed to remove partial clone", "path", dest, "error", rmErr)
		}
		return "", fmt.Errorf("failed to clone %s: %w", repo.FullName, err)
	}
	if err := WriteOrigin(dest, repo); err != nil {
		if rmErr := os.RemoveAll(dest); rmErr != nil {
			c.logger.Warn("failed to remove clone", "path", dest, "error", rmErr)
		}
		return "", err
	}

	c.logger.Debug("cloned repository",
		"repo", repo.FullName,
		"path", dest,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return dest, nil
}

// Remove deletes the local copy of repo.
func (c *Cloner) Remove(repo model.Repository) error {
	return os.RemoveAll(c.Path(repo))
}
