// Package config provides the crawl configuration: budget, search pacing,
// the query table, retry policy and per-file limits of the retrieval
// pipeline. Values come from defaults, then the YAML configuration file,
// then the environment and command line flags.
package config
