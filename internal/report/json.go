package report

import (
	"encoding/json"
	"io"
	"time"

	"github.com/nao1215/repocrawl/internal/model"
)

// JSONWriter outputs status in JSON format for scripts.
type JSONWriter struct {
	baseWriter

	indent       bool
	indentPrefix string
	indentString string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint enables pretty-printed JSON with two-space indentation.
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// JSONStatus is the JSON document written by JSONWriter.
type JSONStatus struct {
	State              string               `json:"state"`
	TargetTokens       int64                `json:"target_tokens"`
	TotalTokens        int64                `json:"total_tokens"`
	Progress           float64              `json:"progress"`
	Succeeded          int                  `json:"succeeded"`
	Failed             int                  `json:"failed"`
	Skipped            int                  `json:"skipped"`
	CycleCount         int                  `json:"cycle_count"`
	Tier               model.TierState      `json:"tier"`
	QueriesCompleted   int                  `json:"queries_completed"`
	Queries            []model.QueryState   `json:"queries"`
	Records            int                  `json:"records"`
	RecordTokens       int64                `json:"record_tokens"`
	BytesFreed         int64                `json:"bytes_freed"`
	FailedRepositories int                  `json:"failed_repositories"`
	LedgerSize         int                  `json:"ledger_size"`
	Recent             []model.EntityRecord `json:"recent"`
	StartedAt          time.Time            `json:"started_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
	GeneratedAt        time.Time            `json:"generated_at"`
}

// NewJSONStatus flattens a Status into its JSON document.
func NewJSONStatus(status *model.Status) *JSONStatus {
	snap := snapshotOf(status)
	recent := status.Recent
	if recent == nil {
		recent = []model.EntityRecord{}
	}
	return &JSONStatus{
		State:              status.State(),
		TargetTokens:       status.TargetTokens,
		TotalTokens:        snap.TotalTokens,
		Progress:           status.Progress(),
		Succeeded:          snap.Succeeded,
		Failed:             snap.Failed,
		Skipped:            snap.Skipped,
		CycleCount:         snap.CycleCount,
		Tier:               snap.Tier,
		QueriesCompleted:   snap.CompletedQueries(),
		Queries:            snap.Queries,
		Records:            status.RecordCount,
		RecordTokens:       status.RecordTokens,
		BytesFreed:         status.BytesFreed,
		FailedRepositories: status.FailedRepositories,
		LedgerSize:         status.LedgerSize,
		Recent:             recent,
		StartedAt:          snap.StartedAt,
		UpdatedAt:          snap.UpdatedAt,
		GeneratedAt:        status.GeneratedAt,
	}
}

// Write outputs the status in JSON format.
func (w *JSONWriter) Write(status *model.Status) (int, error) {
	var (
		data []byte
		err  error
	)
	doc := NewJSONStatus(status)
	if w.indent {
		data, err = json.MarshalIndent(doc, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(doc)
	}
	if err != nil {
		return 0, err
	}

	data = append(data, '\n')
	return w.output.Write(data)
}
