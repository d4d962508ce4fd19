package retrieve

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/nao1215/repocrawl/internal/model"
)

func newTestCloner(t *testing.T) *Cloner {
	t.Helper()
	c, err := NewCloner(filepath.Join(t.TempDir(), "repos"),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("NewCloner failed: %v", err)
	}
	return c
}

// TestNewCloner tests construction.
func TestNewCloner(t *testing.T) {
	t.Parallel()

	if _, err := NewCloner(""); !errors.Is(err, ErrEmptyRoot) {
		t.Errorf("expected ErrEmptyRoot, got %v", err)
	}

	root := filepath.Join(t.TempDir(), "nested", "repos")
	c, err := NewCloner(root, WithTimeout(-1), WithDepth(-1))
	if err != nil {
		t.Fatalf("NewCloner failed: %v", err)
	}
	if c.timeout != DefaultTimeout {
		t.Errorf("expected default timeout, got %v", c.timeout)
	}
	if c.depth != 1 {
		t.Errorf("expected depth 1, got %d", c.depth)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		t.Errorf("expected root directory to exist: %v", err)
	}
}

// TestClonerPath tests directory naming.
func TestClonerPath(t *testing.T) {
	t.Parallel()

	c := newTestCloner(t)
	got := c.Path(model.Repository{FullName: "octo/hello"})
	if filepath.Base(got) != "octo_hello" {
		t.Errorf("expected octo_hello, got %s", got)
	}
	if filepath.Dir(got) != c.root {
		t.Errorf("expected path under %s, got %s", c.root, got)
	}
}

// TestClonerCloneFailure tests that a failed clone leaves no directory behind.
func TestClonerCloneFailure(t *testing.T) {
	t.Parallel()

	c := newTestCloner(t)
	repo := model.Repository{
		ID:       1,
		FullName: "octo/missing",
		CloneURL: filepath.Join(t.TempDir(), "does-not-exist"),
	}

	stale := filepath.Join(c.Path(repo), "stale.txt")
	if err := os.MkdirAll(filepath.Dir(stale), 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stale, []byte("old"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Clone(context.Background(), repo); err == nil {
		t.Fatal("expected clone of a missing repository to fail")
	}
	if _, err := os.Stat(c.Path(repo)); !os.IsNotExist(err) {
		t.Errorf("expected clone directory to be removed, got %v", err)
	}
}

// TestClonerEmptyURL tests the missing URL error.
func TestClonerEmptyURL(t *testing.T) {
	t.Parallel()

	c := newTestCloner(t)
	_, err := c.Clone(context.Background(), model.Repository{FullName: "octo/none"})
	if !errors.Is(err, ErrEmptyCloneURL) {
		t.Errorf("expected ErrEmptyCloneURL, got %v", err)
	}
}

// TestOrigin tests the origin marker of a checkout.
func TestOrigin(t *testing.T) {
	t.Parallel()

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		if err := os.Mkdir(filepath.Join(dir, ".git"), 0750); err != nil {
			t.Fatal(err)
		}
		repo := model.Repository{ID: 42, FullName: "octo/hello", CloneURL: "https://github.com/octo/hello.git", Stars: 1200}
		if err := WriteOrigin(dir, repo); err != nil {
			t.Fatalf("WriteOrigin failed: %v", err)
		}

		got, err := ReadOrigin(dir)
		if err != nil {
			t.Fatalf("ReadOrigin failed: %v", err)
		}
		if got != repo {
			t.Errorf("expected %+v, got %+v", repo, got)
		}
	})

	t.Run("missing marker", func(t *testing.T) {
		t.Parallel()

		if _, err := ReadOrigin(t.TempDir()); !errors.Is(err, ErrNoOrigin) {
			t.Errorf("expected ErrNoOrigin, got %v", err)
		}
	})

	t.Run("marker without id", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		if err := os.Mkdir(filepath.Join(dir, ".git"), 0750); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, ".git", OriginFile), []byte(`{"full_name":"octo/x"}`), 0600); err != nil {
			t.Fatal(err)
		}
		if _, err := ReadOrigin(dir); !errors.Is(err, ErrNoOrigin) {
			t.Errorf("expected ErrNoOrigin, got %v", err)
		}
	})
}
