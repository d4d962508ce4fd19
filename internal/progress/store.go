package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nao1215/repocrawl/internal/model"
)

// DefaultFileName is the snapshot file name inside the data directory.
const DefaultFileName = "progress.json"

// BackupSuffix is appended to the snapshot path for the backup file.
const BackupSuffix = ".bak"

// ErrUnsupportedVersion is returned for snapshots written by a newer format.
var ErrUnsupportedVersion = errors.New("unsupported snapshot version")

// LoadStatus tells where a loaded snapshot came from.
type LoadStatus int

const (
	// LoadFresh means neither the snapshot nor the backup existed.
	LoadFresh LoadStatus = iota
	// LoadPrimary means the snapshot file was loaded.
	LoadPrimary
	// LoadBackup means the snapshot was unusable and the backup was loaded.
	LoadBackup
	// LoadCorrupt means both files were unusable. The returned snapshot is
	// fresh and its counters must be rebuilt from the record store.
	LoadCorrupt
)

// String returns the status name.
func (s LoadStatus) String() string {
	switch s {
	case LoadFresh:
		return "fresh"
	case LoadPrimary:
		return "primary"
	case LoadBackup:
		return "backup"
	case LoadCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// Store reads and writes the snapshot file.
type Store struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for recovery warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock sets the time source for fresh snapshots.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a store for the snapshot at path.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{path: path, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Path returns the snapshot path.
func (s *Store) Path() string {
	return s.path
}

// BackupPath returns the backup snapshot path.
func (s *Store) BackupPath() string {
	return s.path + BackupSuffix
}

// Save writes the snapshot atomically: the data goes to a temp file in the
// same directory, which is fsynced, the current snapshot becomes the
// backup, and the temp file is renamed into place. Save never modifies
// the snapshot, so saving an unmodified loaded snapshot reproduces the
// file byte for byte.
func (s *Store) Save(snap *model.ProgressSnapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}

	if err := os.Rename(s.path, s.BackupPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to back up snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}

	return syncDir(dir)
}

// Load reads the snapshot. A missing snapshot and backup yields a fresh
// snapshot. An unreadable snapshot falls back to the backup, and when the
// backup is unusable too a fresh snapshot is returned with LoadCorrupt.
// Only I/O errors other than a missing file are returned as errors.
func (s *Store) Load() (*model.ProgressSnapshot, LoadStatus, error) {
	snap, primaryErr := s.read(s.path)
	if primaryErr == nil {
		return snap, LoadPrimary, nil
	}
	primaryMissing := errors.Is(primaryErr, os.ErrNotExist)
	if !primaryMissing && !isDecodeError(primaryErr) {
		return nil, LoadFresh, primaryErr
	}

	backup, backupErr := s.read(s.BackupPath())
	if backupErr == nil {
		if primaryMissing {
			s.logger.Warn("snapshot missing, resuming from backup", "path", s.BackupPath())
		} else {
			s.logger.Warn("snapshot unreadable, resuming from backup",
				"path", s.path,
				"error", primaryErr,
			)
		}
		return backup, LoadBackup, nil
	}
	backupMissing := errors.Is(backupErr, os.ErrNotExist)
	if !backupMissing && !isDecodeError(backupErr) {
		return nil, LoadFresh, backupErr
	}

	if primaryMissing && backupMissing {
		return model.NewProgressSnapshot(s.now()), LoadFresh, nil
	}

	s.logger.Error("snapshot and backup are both unusable, starting from an empty snapshot",
		"path", s.path,
		"error", primaryErr,
		"backup_error", backupErr,
	)
	return model.NewProgressSnapshot(s.now()), LoadCorrupt, nil
}

func (s *Store) read(path string) (*model.ProgressSnapshot, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// decodeError marks a snapshot that exists but cannot be used.
type decodeError struct {
	err error
}

func (e *decodeError) Error() string { return "invalid snapshot: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func isDecodeError(err error) bool {
	var de *decodeError
	return errors.As(err, &de)
}

// Encode renders the snapshot as indented JSON with a trailing newline.
func Encode(snap *model.ProgressSnapshot) ([]byte, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses a snapshot and checks its version.
func Decode(data []byte) (*model.ProgressSnapshot, error) {
	var snap model.ProgressSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &decodeError{err: err}
	}
	if snap.Version < 1 || snap.Version > model.SnapshotVersion {
		return nil, &decodeError{err: fmt.Errorf("%w: %d", ErrUnsupportedVersion, snap.Version)}
	}
	if snap.Queries == nil {
		snap.Queries = []model.QueryState{}
	}
	if snap.Tier.Remaining == nil {
		snap.Tier.Remaining = []int{}
	}
	return &snap, nil
}

// Rebuild restores the success counters of a fresh snapshot from the
// record store, which survives snapshot corruption.
func Rebuild(snap *model.ProgressSnapshot, records int, tokens int64) {
	snap.Succeeded = records
	snap.TotalTokens = tokens
}

func syncDir(dir string) error {
	d, err := os.Open(dir) //nolint:gosec // directory of the snapshot
	if err != nil {
		return fmt.Errorf("failed to open snapshot directory: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync snapshot directory: %w", err)
	}
	return nil
}
