// Package ledger implements the identity ledger: the set of every
// repository id ever accepted for dispatch.
//
// The ledger is an in-memory set backed by an append-only text file with
// one decimal id per line. Membership is monotonic within a process: ids
// are never removed once added, even when the retrieval later fails.
package ledger

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// DefaultFileName is the ledger file name inside the data directory.
const DefaultFileName = "ledger.txt"

// ErrCorrupt is returned when the ledger file contains a malformed line.
// Guessing past a corrupt ledger risks unbounded duplicate retrieval, so
// callers should halt instead of starting with an empty set.
var ErrCorrupt = errors.New("ledger file is corrupt")

// Ledger is the persistent set of observed repository ids.
// It is safe for concurrent use.
type Ledger struct {
	mu   sync.RWMutex
	ids  map[int64]struct{}
	file ledgerFile
	path string

	// size is the length of the file's complete lines.
	size int64

	// sync controls whether every append is fsynced.
	sync bool

	logger *slog.Logger

	// exclude drops ids from the in-memory set at load time.
	exclude func(id int64) bool
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger used for load warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithSync enables or disables fsync after every append. Enabled by default.
func WithSync(enabled bool) Option {
	return func(l *Ledger) {
		l.sync = enabled
	}
}

// WithExclude drops ids for which fn returns true from the in-memory set
// while loading. The file itself is left untouched. This is how failed ids
// become eligible for retrieval again on a later process start.
func WithExclude(fn func(id int64) bool) Option {
	return func(l *Ledger) {
		l.exclude = fn
	}
}

// Open loads the ledger file at path, creating it if it does not exist,
// and keeps it open for appending.
//
// A trailing line without a newline is treated as a torn write: it is
// discarded and the file is truncated to the last complete line. Any other
// malformed line yields an error wrapping ErrCorrupt.
func Open(path string, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		ids:  make(map[int64]struct{}),
		path: path,
		sync: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	if err := l.load(f); err != nil {
		_ = f.Close()
		return nil, err
	}

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to seek ledger: %w", err)
	}
	l.file = f
	l.size = size

	return l, nil
}

// load reads every id from f into the set.
func (l *Ledger) load(f *os.File) error {
	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	complete := data
	if n := len(data); n > 0 && data[n-1] != '\n' {
		cut := bytes.LastIndexByte(data, '\n') + 1
		complete = data[:cut]
		l.logger.Warn("discarding torn ledger line",
			"path", l.path,
			"bytes", n-cut,
		)
		if err := f.Truncate(int64(cut)); err != nil {
			return fmt.Errorf("failed to truncate torn ledger line: %w", err)
		}
	}

	excluded := 0
	err = scanIDs(complete, l.path, func(id int64) {
		if l.exclude != nil && l.exclude(id) {
			excluded++
			return
		}
		l.ids[id] = struct{}{}
	})
	if err != nil {
		return err
	}

	if excluded > 0 {
		l.logger.Info("ledger ids released for retry", "count", excluded)
	}
	return nil
}

// scanIDs calls visit for every id in complete, which must end at a line
// boundary. Blank lines are ignored.
func scanIDs(complete []byte, path string, visit func(id int64)) error {
	scanner := bufio.NewScanner(bytes.NewReader(complete))
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		id, err := strconv.ParseInt(string(text), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s line %d: %q", ErrCorrupt, path, line, text)
		}
		visit(id)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan ledger: %w", err)
	}
	return nil
}

// Count returns the number of distinct ids in the ledger file at path
// without opening it for writing. A torn trailing line is ignored and a
// missing file counts as empty.
func Count(path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read ledger: %w", err)
	}
	data = data[:bytes.LastIndexByte(data, '\n')+1]

	ids := make(map[int64]struct{})
	if err := scanIDs(data, path, func(id int64) { ids[id] = struct{}{} }); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Contains reports whether the id has been observed.
func (l *Ledger) Contains(id int64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ids[id]
	return ok
}

// Add records the id. Adding an id already present is a no-op.
// The id is in the in-memory set only once it is durable on disk.
func (l *Ledger) Add(id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.ids[id]; ok {
		return nil
	}

	line := strconv.AppendInt(nil, id, 10)
	line = append(line, '\n')
	if _, err := l.file.Write(line); err != nil {
		err = fmt.Errorf("failed to append to ledger: %w", err)
		return errors.Join(err, l.rewind())
	}
	if l.sync {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync ledger: %w", err)
		}
	}

	l.size += int64(len(line))
	l.ids[id] = struct{}{}
	return nil
}

// rewind drops the bytes of a failed append so the next line starts on a
// line boundary. l.mu must be held.
func (l *Ledger) rewind() error {
	if err := l.file.Truncate(l.size); err != nil {
		return fmt.Errorf("failed to truncate ledger after a failed append: %w", err)
	}
	if _, err := l.file.Seek(l.size, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek ledger after a failed append: %w", err)
	}
	return nil
}

// ledgerFile is the part of *os.File the ledger appends through.
type ledgerFile interface {
	io.WriteCloser
	io.Seeker
	Sync() error
	Truncate(size int64) error
}

// Len returns the number of ids in the set.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ids)
}

// Path returns the ledger file path.
func (l *Ledger) Path() string {
	return l.path
}

// Close closes the underlying file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
