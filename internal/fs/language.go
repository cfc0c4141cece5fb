package fs

import (
	"path/filepath"
	"strings"
)

// LangText is the fallback language tag for unrecognized files.
const LangText = "text"

// extLang maps file extensions and well-known manifest filenames to language
// tags. Full filenames take precedence over extensions so that manifests like
// requirements.txt resolve to their dependency tag rather than plain text.
var extLang = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".java": "java",
	".go":   "go",
	".rs":   "rust",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".hpp":  "cpp",
	".cs":   "csharp",
	".rb":   "ruby",
	".php":  "php",
	".html": "html",
	".css":  "css",
	".sql":  "sql",
	".sh":   "shell",
	".yaml": "yaml",
	".yml":  "yaml",
	".json": "json",
	".md":   "markdown",
	".txt":  "text",

	"requirements.txt": "python-deps",
	"pyproject.toml":   "python-deps",
	"package.json":     "javascript-deps",
	"Cargo.toml":       "rust-deps",
	"Cargo.lock":       "rust-deps",
	"go.mod":           "go-deps",
	"go.sum":           "go-deps",
	"pom.xml":          "java-deps",
	"build.gradle":     "java-deps",
}

// DetectLanguage returns the language tag for a path. The base filename is
// checked before the extension, and unknown files fall back to "text".
func DetectLanguage(path string) string {
	if lang, ok := extLang[filepath.Base(path)]; ok {
		return lang
	}
	if lang, ok := extLang[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return LangText
}

// Indexable reports whether a path matches the filename/extension allowlist.
func Indexable(path string) bool {
	if _, ok := extLang[filepath.Base(path)]; ok {
		return true
	}
	_, ok := extLang[strings.ToLower(filepath.Ext(path))]
	return ok
}
