// Package model defines the core data structures used throughout repocrawl.
//
// This package contains the following main types:
//   - Repository: A repository candidate surfaced by a search page
//   - QueryState: One search query and its pagination cursor
//   - TierState: The popularity threshold walk
//   - ProgressSnapshot: The durable aggregate of crawl progress
//   - EntityRecord: The per-repository record of a successful retrieval
//   - Retrieval: The unit of work flowing through the retrieval pipeline
//
// Models live in their own package so that the crawl controller, the
// storage layers and the report writers can share them without import
// cycles. All persisted types are JSON serializable.
package model
