// Package tor runs an embedded Tor daemon whose SOCKS5 listener carries
// search and clone traffic.
//
// The daemon is started with tornago on OS-assigned ports. Callers pass
// SocksAddr to the same proxy settings an external proxy would use, so
// nothing downstream knows whether the proxy is embedded or not.
package tor
