// Package report renders crawl status for the status command.
//
// Three formats are provided: a plain text summary for the terminal,
// JSON for scripts, and Markdown for sharing (with a mermaid chart of
// retrieval outcomes).
package report
