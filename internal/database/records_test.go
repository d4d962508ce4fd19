package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nao1215/repocrawl/internal/model"
)

// setupTestDB creates a temporary database for testing.
func setupTestDB(t *testing.T) *RecordDB {
	t.Helper()

	db, err := Open(t.TempDir(), DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleRecord(id int64, tokens int64, at time.Time) *model.EntityRecord {
	return &model.EntityRecord{
		ID:            id,
		FullName:      "owner/repo",
		CloneURL:      "https://github.com/owner/repo.git",
		LocalPath:     "/data/repos/owner_repo",
		Stars:         1200,
		Forks:         30,
		SizeKB:        2048,
		Tokens:        tokens,
		FilesMeasured: 12,
		FilesDeleted:  3,
		BytesFreed:    4096,
		RunID:         "run-1",
		RetrievedAt:   at,
	}
}

// TestOpen tests database opening and creation.
func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("creates database in new directory", func(t *testing.T) {
		t.Parallel()

		dbDir := filepath.Join(t.TempDir(), "newdir", "subdir")
		db, err := Open(dbDir, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()

		if _, err := os.Stat(filepath.Join(dbDir, DefaultFileName)); os.IsNotExist(err) {
			t.Error("database file was not created")
		}
	})

	t.Run("CreateIfNotExists=false returns error when database does not exist", func(t *testing.T) {
		t.Parallel()

		_, err := Open(filepath.Join(t.TempDir(), "missing"), Options{})
		if err == nil {
			t.Error("expected error for missing database")
		}
	})

	t.Run("garbage file is corrupt", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		garbage := make([]byte, 4096)
		copy(garbage, "this is not a sqlite database")
		if err := os.WriteFile(filepath.Join(dir, DefaultFileName), garbage, 0600); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}

		_, err := Open(dir, DefaultOptions())
		if !errors.Is(err, ErrCorrupt) {
			t.Errorf("expected ErrCorrupt, got %v", err)
		}
	})
}

// TestRecords tests record insertion and lookup.
func TestRecords(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC)

	has, err := db.HasRecord(ctx, 1)
	if err != nil {
		t.Fatalf("HasRecord failed: %v", err)
	}
	if has {
		t.Error("empty database must not have records")
	}

	want := sampleRecord(1, 500, at)
	if err := db.PutRecord(ctx, want); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}

	// Records are append-only: a second write for the same id is ignored.
	if err := db.PutRecord(ctx, sampleRecord(1, 999, at)); err != nil {
		t.Fatalf("second PutRecord failed: %v", err)
	}

	got, err := db.GetRecord(ctx, 1)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got == nil {
		t.Fatal("record not found")
	}
	if got.Tokens != 500 {
		t.Errorf("record was overwritten, tokens = %d", got.Tokens)
	}
	if !got.RetrievedAt.Equal(at) {
		t.Errorf("RetrievedAt = %v, want %v", got.RetrievedAt, at)
	}
	if got.FullName != want.FullName || got.BytesFreed != want.BytesFreed || got.RunID != want.RunID {
		t.Errorf("unexpected record %+v", got)
	}

	missing, err := db.GetRecord(ctx, 2)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for a missing record")
	}
}

// TestRecentAndIDs tests listing queries.
func TestRecentAndIDs(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)

	for i := int64(1); i <= 5; i++ {
		if err := db.PutRecord(ctx, sampleRecord(i*10, i, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("PutRecord failed: %v", err)
		}
	}

	recent, err := db.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != 50 || recent[1].ID != 40 {
		t.Errorf("unexpected recent records %+v", recent)
	}

	ids, err := db.RecordIDs(ctx)
	if err != nil {
		t.Fatalf("RecordIDs failed: %v", err)
	}
	if len(ids) != 5 || ids[0] != 10 || ids[4] != 50 {
		t.Errorf("unexpected ids %v", ids)
	}

	paths, err := db.LocalPaths(ctx)
	if err != nil {
		t.Fatalf("LocalPaths failed: %v", err)
	}
	if len(paths) != 5 || paths[0] != "/data/repos/owner_repo" {
		t.Errorf("unexpected paths %v", paths)
	}
}

// TestFailuresAndTotals tests the failure log and aggregates.
func TestFailuresAndTotals(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	ctx := context.Background()

	repo := model.Repository{ID: 7, FullName: "owner/broken"}
	for range 3 {
		if err := db.RecordFailure(ctx, repo, errors.New("clone failed")); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
	}
	if err := db.RecordFailure(ctx, model.Repository{ID: 8, FullName: "owner/flaky"}, nil); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	// Repository 8 later succeeded.
	if err := db.PutRecord(ctx, sampleRecord(8, 100, time.Now())); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}
	if err := db.PutRecord(ctx, sampleRecord(9, 250, time.Now())); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}

	attempts, err := db.FailureAttempts(ctx)
	if err != nil {
		t.Fatalf("FailureAttempts failed: %v", err)
	}
	if len(attempts) != 1 || attempts[7] != 3 {
		t.Errorf("unexpected attempts %v", attempts)
	}

	totals, err := db.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	want := Totals{Records: 2, Tokens: 350, BytesFreed: 8192, Failures: 1}
	if totals != want {
		t.Errorf("Totals = %+v, want %+v", totals, want)
	}
}
