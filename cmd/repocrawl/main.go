// Package main provides the entry point for the repocrawl CLI.
//
// repocrawl searches GitHub for repositories, clones each one at most once,
// strips files that are not source code and counts the remaining tokens
// until a token budget is reached. Progress survives interruption: a
// stopped crawl resumes where it left off.
//
// Usage:
//
//	repocrawl run
//	repocrawl status --markdown
//
// See --help for all available options.
package main

// main is the entry point for repocrawl.
func main() {
	Execute()
}
