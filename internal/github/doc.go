// Package github implements repository search against the GitHub REST API.
//
// The Searcher paces requests with a token-bucket limiter, maps search
// results to model.Repository and classifies failures into the crawl
// error taxonomy: primary and secondary rate limits become
// *crawl.RateLimitedError, network errors and 5xx responses become
// *crawl.TransientError.
//
// Requests can optionally be routed through a SOCKS5 proxy such as a
// local Tor daemon.
package github
