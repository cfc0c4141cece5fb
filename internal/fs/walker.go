package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	gitignore "github.com/sabhiram/go-gitignore"
)

// Ignorer defines the interface for ignore pattern matching.
type Ignorer interface {
	MatchesPath(path string) bool
}

// combinedIgnorer wraps the root .gitignore and the configured patterns.
type combinedIgnorer struct {
	file     *gitignore.GitIgnore
	patterns *gitignore.GitIgnore
}

func (c *combinedIgnorer) MatchesPath(path string) bool {
	return c.file.MatchesPath(path) || c.patterns.MatchesPath(path)
}

// Walker traverses a project tree and collects indexable files. Project
// sources and dependency trees are walked in separate passes so callers can
// index project files first.
type Walker struct {
	opts    WalkOptions
	ignorer Ignorer
	stats   WalkStats
}

// NewWalker creates a walker rooted at opts.Root.
func NewWalker(opts WalkOptions) (*Walker, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}
	opts.Root = root

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root path does not exist: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", root)
	}

	w := &Walker{opts: opts}
	w.initIgnorer()
	return w, nil
}

// initIgnorer compiles the configured ignore patterns, combining them with
// the root .gitignore when enabled.
func (w *Walker) initIgnorer() {
	patterns := gitignore.CompileIgnoreLines(w.opts.IgnorePatterns...)

	if w.opts.UseGitignore {
		gitignorePath := filepath.Join(w.opts.Root, ".gitignore")
		if _, err := os.Stat(gitignorePath); err == nil {
			gi, err := gitignore.CompileIgnoreFile(gitignorePath)
			if err != nil {
				log.Warn("Failed to parse .gitignore", "path", gitignorePath, "error", err)
			} else {
				w.ignorer = &combinedIgnorer{file: gi, patterns: patterns}
				return
			}
		}
	}
	w.ignorer = patterns
}

// Root returns the absolute root of the walk.
func (w *Walker) Root() string { return w.opts.Root }

// Stats returns counters from the most recent walk.
func (w *Walker) Stats() WalkStats { return w.stats }

// WalkProject returns the indexable project files under the root, sorted by
// relative path. Dependency directories are pruned; collect those through
// WalkDependencies.
func (w *Walker) WalkProject() ([]FileInfo, error) {
	w.stats = WalkStats{}

	var files []FileInfo
	err := filepath.WalkDir(w.opts.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			log.Debug("Error accessing path", "path", path, "error", err)
			return nil
		}

		relPath, relErr := filepath.Rel(w.opts.Root, path)
		if relErr != nil {
			relPath = path
		}

		if d.IsDir() {
			if path != w.opts.Root && w.shouldSkipDir(d.Name(), relPath) {
				w.stats.DirsSkipped++
				return filepath.SkipDir
			}
			return nil
		}

		fi, ok := w.collect(path, relPath, d, false)
		if !ok {
			return nil
		}
		files = append(files, fi)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

// WalkDependencies returns indexable files under the root's dependency
// directories (node_modules, virtualenvs, vendor), sorted by relative path.
func (w *Walker) WalkDependencies() ([]FileInfo, error) {
	var files []FileInfo
	for _, dir := range dependencyDirs {
		depRoot := filepath.Join(w.opts.Root, dir)
		info, err := os.Stat(depRoot)
		if err != nil || !info.IsDir() {
			continue
		}

		err = filepath.WalkDir(depRoot, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				log.Debug("Error accessing path", "path", path, "error", err)
				return nil
			}

			relPath, relErr := filepath.Rel(w.opts.Root, path)
			if relErr != nil {
				relPath = path
			}

			if d.IsDir() {
				if path != depRoot && dependencySkipDirs[d.Name()] {
					w.stats.DirsSkipped++
					return filepath.SkipDir
				}
				return nil
			}

			fi, ok := w.collect(path, relPath, d, true)
			if !ok {
				return nil
			}
			files = append(files, fi)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

// collect builds a FileInfo for a regular file, or reports false when the
// file is filtered out.
func (w *Walker) collect(path, relPath string, d os.DirEntry, dependency bool) (FileInfo, bool) {
	if !dependency && w.shouldSkipFile(relPath) {
		w.stats.FilesSkipped++
		return FileInfo{}, false
	}

	if !Indexable(path) {
		w.stats.FilesSkipped++
		return FileInfo{}, false
	}

	info, err := d.Info()
	if err != nil {
		log.Debug("Failed to get file info", "path", path, "error", err)
		return FileInfo{}, false
	}

	if w.opts.MaxFileSize > 0 && info.Size() > w.opts.MaxFileSize {
		w.stats.FilesSkipped++
		return FileInfo{}, false
	}

	hash, err := HashFile(path)
	if err != nil {
		log.Debug("Failed to hash file", "path", path, "error", err)
		return FileInfo{}, false
	}

	w.stats.FilesFound++
	w.stats.TotalBytes += info.Size()

	return FileInfo{
		Path:       path,
		RelPath:    relPath,
		Size:       info.Size(),
		ModTime:    info.ModTime(),
		Hash:       hash,
		Language:   DetectLanguage(path),
		Dependency: dependency,
	}, true
}

// shouldSkipDir checks whether a directory is pruned from the project walk.
func (w *Walker) shouldSkipDir(name, relPath string) bool {
	if excludeDirs[name] {
		return true
	}
	for _, dep := range dependencyDirs {
		if name == dep {
			return true
		}
	}
	if strings.HasPrefix(name, ".") && name != "." {
		return true
	}
	if w.ignorer != nil && w.ignorer.MatchesPath(relPath+"/") {
		return true
	}
	return false
}

// shouldSkipFile checks whether a project file matches an ignore pattern.
func (w *Walker) shouldSkipFile(relPath string) bool {
	return w.ignorer != nil && w.ignorer.MatchesPath(relPath)
}
