package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nao1215/repocrawl/internal/config"
	"github.com/nao1215/repocrawl/internal/database"
	"github.com/nao1215/repocrawl/internal/ledger"
	"github.com/nao1215/repocrawl/internal/model"
	"github.com/nao1215/repocrawl/internal/progress"
	"github.com/nao1215/repocrawl/internal/report"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedDataDir writes a small crawl state: a snapshot, three ledger ids,
// two records and one failure.
func seedDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	snap := model.NewProgressSnapshot(testNow.Add(-time.Hour))
	snap.TotalTokens = 300
	snap.Succeeded = 2
	snap.Failed = 1
	snap.Tier = model.TierState{Current: 2000, Ceiling: 5000, Remaining: []int{1000}, Expansions: 2}
	snap.Queries = []model.QueryState{
		{ID: "q1", Query: "language:python stars:2000..4999", Sort: "stars", LastPage: 1, Completed: true},
		{ID: "q2", Query: "language:python stars:2000..4999", Sort: "forks", LastPage: 0},
	}
	if err := progress.NewStore(filepath.Join(dir, progress.DefaultFileName),
		progress.WithLogger(discardLogger())).Save(snap); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, ledger.DefaultFileName), []byte("1\n2\n3\n"), 0600); err != nil {
		t.Fatal(err)
	}

	db, err := database.Open(dir, database.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ctx := context.Background()
	for i, tokens := range []int64{100, 200} {
		rec := &model.EntityRecord{
			ID:          int64(i + 1),
			FullName:    "octo/repo" + string(rune('a'+i)),
			LocalPath:   filepath.Join(dir, "repos", "octo_repo"+string(rune('a'+i))),
			Tokens:      tokens,
			BytesFreed:  1024,
			RunID:       "run-1",
			RetrievedAt: testNow.Add(time.Duration(i) * time.Minute),
		}
		if err := db.PutRecord(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.RecordFailure(ctx, model.Repository{ID: 3, FullName: "octo/broken"}, io.ErrUnexpectedEOF); err != nil {
		t.Fatal(err)
	}
	return dir
}

// TestCollectStatus tests assembling the status from the data directory.
func TestCollectStatus(t *testing.T) {
	t.Parallel()

	t.Run("seeded crawl", func(t *testing.T) {
		t.Parallel()

		cfg := config.NewConfig()
		cfg.DataDir = seedDataDir(t)
		cfg.TargetTokens = 1000

		status, err := collectStatus(context.Background(), cfg, discardLogger(), 1, testNow)
		if err != nil {
			t.Fatalf("collectStatus failed: %v", err)
		}

		got := struct {
			Records, Failures, Ledger, Recent int
			RecordTokens, BytesFreed         int64
			Tier                             int
			Progress                         float64
		}{
			Records:      status.RecordCount,
			Failures:     status.FailedRepositories,
			Ledger:       status.LedgerSize,
			Recent:       len(status.Recent),
			RecordTokens: status.RecordTokens,
			BytesFreed:   status.BytesFreed,
			Tier:         status.Snapshot.Tier.Current,
			Progress:     status.Progress(),
		}
		want := got
		want.Records, want.Failures, want.Ledger, want.Recent = 2, 1, 3, 1
		want.RecordTokens, want.BytesFreed = 300, 2048
		want.Tier, want.Progress = 2000, 0.3
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("status mismatch (-want +got):\n%s", diff)
		}
		if status.Recent[0].ID != 2 {
			t.Errorf("expected the newest record first, got id %d", status.Recent[0].ID)
		}
	})

	t.Run("empty data directory", func(t *testing.T) {
		t.Parallel()

		cfg := config.NewConfig()
		cfg.DataDir = t.TempDir()

		status, err := collectStatus(context.Background(), cfg, discardLogger(), 10, testNow)
		if err != nil {
			t.Fatalf("collectStatus failed: %v", err)
		}
		if status.RecordCount != 0 || status.LedgerSize != 0 || status.Snapshot.TotalTokens != 0 {
			t.Errorf("expected an empty status, got %+v", status)
		}
		if _, err := os.Stat(filepath.Join(cfg.DataDir, database.DefaultFileName)); !os.IsNotExist(err) {
			t.Error("expected status not to create the record store")
		}
	})

	t.Run("corrupt snapshot is rebuilt in memory", func(t *testing.T) {
		t.Parallel()

		dir := seedDataDir(t)
		snapPath := filepath.Join(dir, progress.DefaultFileName)
		for _, p := range []string{snapPath, snapPath + progress.BackupSuffix} {
			if err := os.WriteFile(p, []byte("{not json"), 0600); err != nil {
				t.Fatal(err)
			}
		}

		cfg := config.NewConfig()
		cfg.DataDir = dir

		status, err := collectStatus(context.Background(), cfg, discardLogger(), 0, testNow)
		if err != nil {
			t.Fatalf("collectStatus failed: %v", err)
		}
		if status.Snapshot.TotalTokens != 300 || status.Snapshot.Succeeded != 2 || status.Snapshot.Failed != 1 {
			t.Errorf("expected counters rebuilt from records, got %+v", status.Snapshot)
		}

		data, err := os.ReadFile(snapPath)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "{not json" {
			t.Error("expected status not to rewrite the snapshot")
		}
	})
}

// TestStatusCmd tests the status command output formats.
func TestStatusCmd(t *testing.T) {
	t.Parallel()

	dir := seedDataDir(t)

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		var out bytes.Buffer
		cmd := NewRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"status", "--data-dir", dir, "--json"})
		if err := cmd.Execute(); err != nil {
			t.Fatalf("status failed: %v", err)
		}

		var doc report.JSONStatus
		if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
			t.Fatalf("expected JSON output: %v\n%s", err, out.String())
		}
		if doc.Records != 2 || doc.TotalTokens != 300 || doc.QueriesCompleted != 1 {
			t.Errorf("unexpected JSON status %+v", doc)
		}
	})

	t.Run("markdown to file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "out", "status.md")
		var out bytes.Buffer
		cmd := NewRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"status", "--data-dir", dir, "--markdown", "-o", path})
		if err := cmd.Execute(); err != nil {
			t.Fatalf("status failed: %v", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("expected status file: %v", err)
		}
		if !strings.HasPrefix(string(data), "# Crawl Status") {
			t.Errorf("expected markdown heading, got %q", string(data)[:min(len(data), 40)])
		}
		if !strings.Contains(out.String(), path) {
			t.Errorf("expected the output path to be reported, got %q", out.String())
		}
	})

	t.Run("json and markdown are exclusive", func(t *testing.T) {
		t.Parallel()

		cmd := NewRootCmd()
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		cmd.SetArgs([]string{"status", "--data-dir", dir, "--json", "--markdown"})
		if err := cmd.Execute(); err == nil {
			t.Error("expected an error for --json with --markdown")
		}
	})
}
