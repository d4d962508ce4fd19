package export

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zstd"

	"github.com/nao1215/repocrawl/internal/measure"
)

// wordEncoder counts whitespace separated words as tokens.
type wordEncoder struct{}

func (wordEncoder) Encode(text string, _, _ []string) []int {
	return make([]int, len(strings.Fields(text)))
}

var fixedTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExporter(dir string, opts ...Option) *Exporter {
	counter := measure.NewCounter(wordEncoder{}, measure.WithLogger(discardLogger()))
	opts = append([]Option{WithLogger(discardLogger()), WithClock(func() time.Time { return fixedTime })}, opts...)
	return New(counter, dir, opts...)
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0750); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
}

// seedCheckouts creates two checkouts and returns them as export input.
func seedCheckouts(t *testing.T) []Repo {
	t.Helper()
	root := t.TempDir()

	alpha := filepath.Join(root, "1")
	writeFile(t, alpha, "main.go", "package main func main")   // 4
	writeFile(t, alpha, "README.md", "alpha repo")             // 2
	writeFile(t, alpha, ".git/HEAD.md", "ref refs heads main") // never walked

	beta := filepath.Join(root, "2")
	writeFile(t, beta, "src/lib.rs", "fn lib") // 2
	writeFile(t, beta, "logo.png", "binary")   // not measured

	return []Repo{
		{FullName: "octo/beta", Dir: beta, RecordedTokens: 2},
		{FullName: "octo/alpha", Dir: alpha, RecordedTokens: 6},
	}
}

func readManifest(t *testing.T, dir string) []Entry {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, ManifestFile))
	if err != nil {
		t.Fatalf("failed to open manifest: %v", err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("failed to decode manifest line %q: %v", sc.Text(), err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("failed to read manifest: %v", err)
	}
	return entries
}

// readShard returns the archived file contents by name.
func readShard(t *testing.T, p string) map[string]string {
	t.Helper()
	f, err := os.Open(p) //nolint:gosec // test path
	if err != nil {
		t.Fatalf("failed to open shard: %v", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("failed to create zstd reader: %v", err)
	}
	defer zr.Close()

	files := make(map[string]string)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("failed to read tar entry: %v", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("failed to read %s: %v", hdr.Name, err)
		}
		if !hdr.ModTime.Equal(epoch) {
			t.Errorf("expected epoch mtime for %s, got %v", hdr.Name, hdr.ModTime)
		}
		files[hdr.Name] = string(data)
	}
	return files
}

// TestExporterRun tests the manifest, shards and summary of an export.
func TestExporterRun(t *testing.T) {
	t.Parallel()

	repos := seedCheckouts(t)
	dir := t.TempDir()

	summary, err := newTestExporter(dir).Run(context.Background(), repos)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := &Summary{
		Repositories:   2,
		Files:          3,
		Bytes:          int64(len("package main func main") + len("alpha repo") + len("fn lib")),
		Tokens:         8,
		RecordedTokens: 8,
		Shards:         []string{"shard-00001.tar.zst"},
		ExportedAt:     fixedTime,
	}
	if diff := cmp.Diff(want, summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}

	entries := readManifest(t, dir)
	var got []string
	for _, e := range entries {
		got = append(got, e.Repository+" "+e.Path)
		if len(e.SHA256) != 64 {
			t.Errorf("expected a sha256 digest for %s, got %q", e.Path, e.SHA256)
		}
		if e.Shard != "shard-00001.tar.zst" {
			t.Errorf("expected shard for %s, got %q", e.Path, e.Shard)
		}
	}
	wantPaths := []string{"octo/alpha README.md", "octo/alpha main.go", "octo/beta src/lib.rs"}
	if diff := cmp.Diff(wantPaths, got); diff != "" {
		t.Errorf("manifest mismatch (-want +got):\n%s", diff)
	}

	files := readShard(t, filepath.Join(dir, "shard-00001.tar.zst"))
	wantFiles := map[string]string{
		"octo/alpha/README.md": "alpha repo",
		"octo/alpha/main.go":   "package main func main",
		"octo/beta/src/lib.rs": "fn lib",
	}
	if diff := cmp.Diff(wantFiles, files); diff != "" {
		t.Errorf("shard contents mismatch (-want +got):\n%s", diff)
	}

	data, err := os.ReadFile(filepath.Join(dir, SummaryFile))
	if err != nil {
		t.Fatalf("failed to read summary: %v", err)
	}
	var saved Summary
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	if saved.Tokens != 8 || saved.Files != 3 {
		t.Errorf("expected saved summary with 8 tokens in 3 files, got %+v", saved)
	}
}

// TestExporterDeterministic tests that the same checkouts produce identical output.
func TestExporterDeterministic(t *testing.T) {
	t.Parallel()

	repos := seedCheckouts(t)
	first, second := t.TempDir(), t.TempDir()

	if _, err := newTestExporter(first).Run(context.Background(), repos); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	reversed := []Repo{repos[1], repos[0]}
	if _, err := newTestExporter(second).Run(context.Background(), reversed); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}

	for _, name := range []string{ManifestFile, SummaryFile, "shard-00001.tar.zst"} {
		a, err := os.ReadFile(filepath.Join(first, name))
		if err != nil {
			t.Fatalf("failed to read %s: %v", name, err)
		}
		b, err := os.ReadFile(filepath.Join(second, name))
		if err != nil {
			t.Fatalf("failed to read %s: %v", name, err)
		}
		if !bytes.Equal(a, b) {
			t.Errorf("%s differs between exports", name)
		}
	}
}

// TestExporterShardRotation tests that shards are closed at the size limit.
func TestExporterShardRotation(t *testing.T) {
	t.Parallel()

	repos := seedCheckouts(t)
	dir := t.TempDir()

	// No two neighbouring files fit in 12 bytes, so each gets its own shard.
	summary, err := newTestExporter(dir, WithShardBytes(12)).Run(context.Background(), repos)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{"shard-00001.tar.zst", "shard-00002.tar.zst", "shard-00003.tar.zst"}
	if diff := cmp.Diff(want, summary.Shards); diff != "" {
		t.Errorf("shards mismatch (-want +got):\n%s", diff)
	}
	for i, e := range readManifest(t, dir) {
		if e.Shard != want[i] {
			t.Errorf("expected %s in %s, got %s", e.Path, want[i], e.Shard)
		}
	}
	if files := readShard(t, filepath.Join(dir, "shard-00003.tar.zst")); files["octo/beta/src/lib.rs"] != "fn lib" {
		t.Errorf("expected lib.rs in the last shard, got %v", files)
	}
}

// TestExporterVerification tests missing checkouts and token mismatches.
func TestExporterVerification(t *testing.T) {
	t.Parallel()

	repos := seedCheckouts(t)
	repos[0].RecordedTokens = 5
	repos = append(repos, Repo{FullName: "octo/gone", Dir: filepath.Join(t.TempDir(), "gone"), RecordedTokens: 9})
	dir := t.TempDir()

	summary, err := newTestExporter(dir, WithShardBytes(0)).Run(context.Background(), repos)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if diff := cmp.Diff([]string{"octo/gone"}, summary.Missing); diff != "" {
		t.Errorf("missing mismatch (-want +got):\n%s", diff)
	}
	wantMismatch := []RepoSummary{{FullName: "octo/beta", Files: 1, Tokens: 2, RecordedTokens: 5}}
	if diff := cmp.Diff(wantMismatch, summary.Mismatched); diff != "" {
		t.Errorf("mismatched repositories (-want +got):\n%s", diff)
	}
	if summary.RecordedTokens != 20 {
		t.Errorf("expected 20 recorded tokens, got %d", summary.RecordedTokens)
	}

	if len(summary.Shards) != 0 {
		t.Errorf("expected no shards, got %v", summary.Shards)
	}
	if matches, _ := filepath.Glob(filepath.Join(dir, "shard-*")); len(matches) != 0 {
		t.Errorf("expected no shard files, got %v", matches)
	}
	for _, e := range readManifest(t, dir) {
		if e.Shard != "" {
			t.Errorf("expected no shard for %s, got %s", e.Path, e.Shard)
		}
	}
}

// TestExporterReplacesEarlierExport tests that stale shards are removed.
func TestExporterReplacesEarlierExport(t *testing.T) {
	t.Parallel()

	repos := seedCheckouts(t)
	dir := t.TempDir()

	if _, err := newTestExporter(dir, WithShardBytes(12)).Run(context.Background(), repos); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if _, err := newTestExporter(dir).Run(context.Background(), repos); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "shard-*.tar.zst"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	if len(matches) != 1 {
		t.Errorf("expected a single shard after re-export, got %v", matches)
	}
}

// TestExporterCancelled tests that a cancelled export reports the context error.
func TestExporterCancelled(t *testing.T) {
	t.Parallel()

	repos := seedCheckouts(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newTestExporter(t.TempDir()).Run(ctx, repos); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
