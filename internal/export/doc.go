// Package export turns recorded checkouts into a dataset: a JSON Lines
// manifest with one entry per measured file, optional .tar.zst shards
// holding the file contents, and a summary that checks each repository's
// per-file token sum against the count recorded during the crawl.
//
// Repositories are exported in name order and files in path order, so the
// same checkouts always produce byte-identical output.
package export
