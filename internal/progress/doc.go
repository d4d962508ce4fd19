// Package progress persists the crawl's ProgressSnapshot.
//
// Snapshots are written with the temp-file-and-rename pattern so that a
// crash mid-write never leaves a torn file behind. The previous snapshot
// is kept as a backup and is used when the primary file cannot be parsed.
package progress
