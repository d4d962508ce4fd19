package filter

import (
	"path/filepath"
	"strings"
)

// codeExtensions lists source code extensions.
var codeExtensions = map[string]struct{}{
	".py": {}, ".pyx": {}, ".pyi": {}, ".pyw": {}, ".ipynb": {},
	".js": {}, ".ts": {}, ".jsx": {}, ".tsx": {}, ".java": {}, ".cpp": {}, ".c": {}, ".h": {}, ".hpp": {}, ".cs": {},
	".go": {}, ".rs": {}, ".rb": {}, ".php": {}, ".swift": {}, ".kt": {}, ".scala": {}, ".r": {}, ".jl": {},
	".sh": {}, ".bash": {}, ".zsh": {}, ".fish": {},
}

// textExtensions lists documentation, configuration and markup extensions.
var textExtensions = map[string]struct{}{
	".md": {}, ".rst": {}, ".txt": {},
	".json": {}, ".yaml": {}, ".yml": {}, ".toml": {}, ".xml": {}, ".cfg": {}, ".ini": {}, ".conf": {},
	".csv": {}, ".tsv": {},
	".html": {}, ".css": {}, ".scss": {}, ".sass": {}, ".less": {},
	".lock": {}, ".requirements": {},
	".gitignore": {}, ".gitattributes": {}, ".editorconfig": {}, ".env": {},
}

// protectedNames are never deleted regardless of extension.
var protectedNames = map[string]struct{}{
	"LICENSE": {}, "NOTICE": {}, "COPYING": {}, "AUTHORS": {},
}

// Ext returns the lower-cased extension of a file name. A dot file such as
// ".eslintrc" has no extension.
func Ext(name string) string {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	if ext == base {
		return ""
	}
	return strings.ToLower(ext)
}

// IsCode reports whether ext is a source code extension.
func IsCode(ext string) bool {
	_, ok := codeExtensions[ext]
	return ok
}

// IsText reports whether ext is a text extension.
func IsText(ext string) bool {
	_, ok := textExtensions[ext]
	return ok
}

// IsProtected reports whether the file name is license-like.
func IsProtected(name string) bool {
	_, ok := protectedNames[strings.ToUpper(name)]
	return ok
}
