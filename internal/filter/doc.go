// Package filter purges non-code content from a cloned repository.
//
// Files are kept when their extension is in the code or text tables, when
// they have no extension, or when they are license-like files. Oversized
// .txt and .json files are treated as datasets and deleted. The .git
// directory is never touched. Filtering is advisory: it only feeds
// statistics and never decides whether a retrieval succeeded.
package filter
