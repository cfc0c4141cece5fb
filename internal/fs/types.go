// Package fs provides file system traversal, hashing, and chunking for
// indexing.
package fs

import "time"

// FileInfo represents metadata about a file found during a walk.
type FileInfo struct {
	Path       string    // Absolute path to the file
	RelPath    string    // Path relative to the root
	Size       int64     // File size in bytes
	ModTime    time.Time // Last modification time
	Hash       string    // xxhash of file contents
	Language   string    // Detected language tag
	Dependency bool      // True for files under a dependency directory
}

// WalkOptions configures the file walker.
type WalkOptions struct {
	// Root is the directory to start walking from.
	Root string

	// MaxFileSize is the maximum file size to process (in bytes).
	MaxFileSize int64

	// IgnorePatterns are additional patterns to ignore (gitignore syntax).
	IgnorePatterns []string

	// UseGitignore respects the root .gitignore file.
	UseGitignore bool
}

// WalkStats summarizes a completed walk.
type WalkStats struct {
	FilesFound   int
	FilesSkipped int
	DirsSkipped  int
	TotalBytes   int64
}

// excludeDirs are directory names never traversed during a project walk.
var excludeDirs = map[string]bool{
	".git":          true,
	"__pycache__":   true,
	".mypy_cache":   true,
	".pytest_cache": true,
	".tox":          true,
	"dist":          true,
	"build":         true,
	".idea":         true,
	".vscode":       true,
}

// dependencyDirs hold third-party packages and are walked in a separate
// pass so project files index first.
var dependencyDirs = []string{"node_modules", ".venv", "venv", "vendor"}

// dependencySkipDirs are pruned inside dependency trees.
var dependencySkipDirs = map[string]bool{
	".git":        true,
	"__pycache__": true,
	"test":        true,
	"tests":       true,
	"docs":        true,
	"examples":    true,
}

// SkipDir reports whether a directory name is excluded from project
// traversal, including dependency trees and hidden directories.
func SkipDir(name string) bool {
	if excludeDirs[name] {
		return true
	}
	for _, dep := range dependencyDirs {
		if name == dep {
			return true
		}
	}
	return len(name) > 1 && name[0] == '.'
}
