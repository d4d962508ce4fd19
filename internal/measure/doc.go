// Package measure counts the tokens of a repository checkout.
//
// Only code and text files are measured. Every input is size capped so a
// single pathological file is skipped instead of stalling the whole
// repository, and the result is always a best-effort partial count.
package measure
