package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/nao1215/repocrawl/internal/crawl"
	"github.com/nao1215/repocrawl/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockStep is a test helper that implements the Step interface.
type mockStep struct {
	name      string
	doFunc    func(ctx context.Context, r *model.Retrieval) error
	callCount int
}

// Do implements Step.Do.
func (m *mockStep) Do(ctx context.Context, r *model.Retrieval) error {
	m.callCount++
	if m.doFunc != nil {
		return m.doFunc(ctx, r)
	}
	return nil
}

// Name implements Step.Name.
func (m *mockStep) Name() string {
	return m.name
}

// TestPipelineAddStep tests adding steps to the pipeline.
func TestPipelineAddStep(t *testing.T) {
	t.Parallel()

	p := New(WithLogger(discardLogger()))
	if p.StepCount() != 0 {
		t.Errorf("expected 0 steps, got %d", p.StepCount())
	}

	p.AddStep(&mockStep{name: "first"})
	p.AddSteps(&mockStep{name: "second"}, &mockStep{name: "third"})

	names := p.StepNames()
	expected := []string{"first", "second", "third"}
	if len(names) != len(expected) {
		t.Fatalf("expected %d steps, got %d", len(expected), len(names))
	}
	for i, name := range names {
		if name != expected[i] {
			t.Errorf("step %d: got %q, expected %q", i, name, expected[i])
		}
	}
}

// TestPipelineExecute tests pipeline execution.
func TestPipelineExecute(t *testing.T) {
	t.Parallel()

	t.Run("executes all steps in order", func(t *testing.T) {
		t.Parallel()

		var order []string
		record := func(name string) *mockStep {
			return &mockStep{name: name, doFunc: func(context.Context, *model.Retrieval) error {
				order = append(order, name)
				return nil
			}}
		}

		p := New(WithLogger(discardLogger()))
		p.AddSteps(record("a"), record("b"), record("c"))

		r := model.NewRetrieval(model.Repository{ID: 1, FullName: "octo/a"})
		if err := p.Execute(context.Background(), r); err != nil {
			t.Fatalf("Execute failed: %v", err)
		}

		if len(order) != 3 || order[0] != "a" || order[2] != "c" {
			t.Errorf("unexpected execution order %v", order)
		}
		if len(r.PerformedSteps) != 3 {
			t.Errorf("expected 3 performed steps, got %v", r.PerformedSteps)
		}
	})

	t.Run("stops at the first failing step", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		failing := &mockStep{name: "failing", doFunc: func(context.Context, *model.Retrieval) error {
			return boom
		}}
		after := &mockStep{name: "after"}

		p := New(WithLogger(discardLogger()))
		p.AddSteps(&mockStep{name: "before"}, failing, after)

		r := model.NewRetrieval(model.Repository{ID: 1, FullName: "octo/a"})
		err := p.Execute(context.Background(), r)

		var re *crawl.RetrievalError
		if !errors.As(err, &re) {
			t.Fatalf("expected RetrievalError, got %v", err)
		}
		if re.Step != "failing" || re.FullName != "octo/a" {
			t.Errorf("unexpected error fields %+v", re)
		}
		if !errors.Is(err, boom) {
			t.Error("expected the step error to be wrapped")
		}
		if after.callCount != 0 {
			t.Error("expected later steps not to run")
		}
		if len(r.PerformedSteps) != 1 || r.PerformedSteps[0] != "before" {
			t.Errorf("unexpected performed steps %v", r.PerformedSteps)
		}
	})

	t.Run("respects a cancelled context", func(t *testing.T) {
		t.Parallel()

		step := &mockStep{name: "never"}
		p := New(WithLogger(discardLogger()))
		p.AddStep(step)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := p.Execute(ctx, model.NewRetrieval(model.Repository{ID: 1}))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if step.callCount != 0 {
			t.Error("expected step not to run")
		}
	})
}

// TestPipelineProcess tests the crawl.Processor entry point.
func TestPipelineProcess(t *testing.T) {
	t.Parallel()

	t.Run("returns the retrieval on success", func(t *testing.T) {
		t.Parallel()

		p := New(WithLogger(discardLogger()))
		p.AddStep(&mockStep{name: "measure", doFunc: func(_ context.Context, r *model.Retrieval) error {
			r.Tokens = 42
			return nil
		}})

		r, err := p.Process(context.Background(), model.Repository{ID: 7, FullName: "octo/b"})
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if r.Tokens != 42 || r.Repository.ID != 7 {
			t.Errorf("unexpected retrieval %+v", r)
		}
	})

	t.Run("cleans up after a failure", func(t *testing.T) {
		t.Parallel()

		var cleaned []int64
		p := New(
			WithLogger(discardLogger()),
			WithCleanup(func(repo model.Repository) error {
				cleaned = append(cleaned, repo.ID)
				return errors.New("cleanup also failed")
			}),
		)
		p.AddStep(&mockStep{name: "retrieve", doFunc: func(context.Context, *model.Retrieval) error {
			return errors.New("network down")
		}})

		r, err := p.Process(context.Background(), model.Repository{ID: 9, FullName: "octo/c"})
		if err == nil {
			t.Fatal("expected an error")
		}
		if r != nil {
			t.Error("expected no retrieval on failure")
		}
		if len(cleaned) != 1 || cleaned[0] != 9 {
			t.Errorf("expected cleanup for id 9, got %v", cleaned)
		}
	})
}
