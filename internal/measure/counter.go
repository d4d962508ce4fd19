package measure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/karrick/godirwalk"
	"github.com/pkoukk/tiktoken-go"

	"github.com/nao1215/repocrawl/internal/filter"
)

const (
	// DefaultEncoding is the tokenizer encoding.
	DefaultEncoding = "cl100k_base"
	// DefaultMaxFileBytes skips any file larger than this.
	DefaultMaxFileBytes = 5 << 20
	// DefaultMaxTextBytes skips .txt files larger than this.
	DefaultMaxTextBytes = 1 << 20
	// DefaultMaxChars skips files with more characters than this.
	DefaultMaxChars = 5_000_000
)

// Encoder turns text into tokens. *tiktoken.Tiktoken implements it.
type Encoder interface {
	Encode(text string, allowedSpecial, disallowedSpecial []string) []int
}

// NewEncoder loads a tiktoken encoding. The BPE ranks are downloaded on
// first use and cached in cacheDir when it is not empty.
func NewEncoder(encoding, cacheDir string) (Encoder, error) {
	if cacheDir != "" && os.Getenv("TIKTOKEN_CACHE_DIR") == "" {
		if err := os.MkdirAll(cacheDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create tokenizer cache: %w", err)
		}
		if err := os.Setenv("TIKTOKEN_CACHE_DIR", cacheDir); err != nil {
			return nil, fmt.Errorf("failed to set tokenizer cache: %w", err)
		}
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %s: %w", encoding, err)
	}
	return enc, nil
}

// Result is the outcome of measuring one checkout.
type Result struct {
	Tokens        int64
	FilesMeasured int
	FilesSkipped  int
}

// Counter counts tokens under a directory.
type Counter struct {
	encoder      Encoder
	maxFileBytes int64
	maxTextBytes int64
	maxChars     int
	logger       *slog.Logger
}

// Option configures a Counter.
type Option func(*Counter)

// WithMaxFileBytes sets the per-file size cap.
func WithMaxFileBytes(n int64) Option {
	return func(c *Counter) {
		if n > 0 {
			c.maxFileBytes = n
		}
	}
}

// WithMaxTextBytes sets the .txt size cap.
func WithMaxTextBytes(n int64) Option {
	return func(c *Counter) {
		if n > 0 {
			c.maxTextBytes = n
		}
	}
}

// WithMaxChars sets the per-file character cap.
func WithMaxChars(n int) Option {
	return func(c *Counter) {
		if n > 0 {
			c.maxChars = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Counter) {
		c.logger = logger
	}
}

// NewCounter creates a Counter over the encoder.
func NewCounter(encoder Encoder, opts ...Option) *Counter {
	c := &Counter{
		encoder:      encoder,
		maxFileBytes: DefaultMaxFileBytes,
		maxTextBytes: DefaultMaxTextBytes,
		maxChars:     DefaultMaxChars,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// File is one measured file handed to the Files callback.
type File struct {
	// Path is the path on disk.
	Path string
	// Rel is the slash separated path relative to the walked root.
	Rel string
	// Tokens is the token count of Data.
	Tokens int
	// Data is the file content as read.
	Data []byte
}

// Count walks root and sums the tokens of every measurable file.
// Unreadable or oversized files are skipped and counted in FilesSkipped.
// A cancelled context returns the partial result with the context error.
func (c *Counter) Count(ctx context.Context, root string) (Result, error) {
	return c.walk(ctx, root, true, nil)
}

// Files walks root in lexical order and calls fn for every file that
// contributes tokens, so the sum of File.Tokens equals Count's total.
// An error from fn stops the walk and is returned.
func (c *Counter) Files(ctx context.Context, root string, fn func(File) error) (Result, error) {
	return c.walk(ctx, root, false, fn)
}

func (c *Counter) walk(ctx context.Context, root string, unsorted bool, fn func(File) error) (Result, error) {
	var res Result

	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: unsorted,
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

			ext := filter.Ext(de.Name())
			if !filter.IsCode(ext) && !filter.IsText(ext) {
				return nil
			}

			tokens, data, ok := c.countFile(path, ext)
			if !ok {
				res.FilesSkipped++
				return nil
			}
			if tokens == 0 {
				return nil
			}
			res.Tokens += int64(tokens)
			res.FilesMeasured++
			if fn == nil {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			return fn(File{Path: path, Rel: filepath.ToSlash(rel), Tokens: tokens, Data: data})
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
				c.logger.Debug("skipping unreadable path", "path", path, "error", err)
				return godirwalk.SkipNode
			}
			return godirwalk.Halt
		},
	})
	return res, err
}

// countFile returns the token count and content of one file, or false
// when the file is skipped by a cap or cannot be read.
func (c *Counter) countFile(path, ext string) (int, []byte, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, nil, false
	}
	size := info.Size()
	if size > c.maxFileBytes || (ext == ".txt" && size > c.maxTextBytes) {
		c.logger.Debug("skipping oversized file", "path", path, "bytes", size)
		return 0, nil, false
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from the walk
	if err != nil {
		return 0, nil, false
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return 0, nil, false
	}

	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	if utf8.RuneCountInString(text) > c.maxChars {
		c.logger.Debug("skipping file with too many characters", "path", path)
		return 0, nil, false
	}

	// Special token markers found in source are counted as plain text.
	return len(c.encoder.Encode(text, nil, nil)), data, true
}
