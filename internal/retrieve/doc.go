// Package retrieve makes shallow local copies of remote repositories.
package retrieve
