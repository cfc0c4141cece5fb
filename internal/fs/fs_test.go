package fs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDetectLanguage tests language detection from file paths.
func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"main.go", "go"},
		{"app.ts", "typescript"},
		{"component.tsx", "typescript"},
		{"script.js", "javascript"},
		{"utils.py", "python"},
		{"lib.rs", "rust"},
		{"Main.java", "java"},
		{"main.c", "c"},
		{"main.cpp", "cpp"},
		{"Program.cs", "csharp"},
		{"app.rb", "ruby"},
		{"index.php", "php"},
		{"query.sql", "sql"},
		{"index.html", "html"},
		{"style.css", "css"},
		{"data.json", "json"},
		{"config.yaml", "yaml"},
		{"README.md", "markdown"},
		{"notes.txt", "text"},
		{"unknown.xyz", "text"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetectLanguage(tt.path))
		})
	}
}

// TestDetectLanguageManifests tests that manifest filenames win over their
// extensions.
func TestDetectLanguageManifests(t *testing.T) {
	assert.Equal(t, "python-deps", DetectLanguage("requirements.txt"))
	assert.Equal(t, "python-deps", DetectLanguage("pyproject.toml"))
	assert.Equal(t, "javascript-deps", DetectLanguage("src/package.json"))
	assert.Equal(t, "rust-deps", DetectLanguage("Cargo.toml"))
	assert.Equal(t, "go-deps", DetectLanguage("go.mod"))
	assert.Equal(t, "java-deps", DetectLanguage("pom.xml"))
}

// TestIndexable tests the allowlist check.
func TestIndexable(t *testing.T) {
	assert.True(t, Indexable("main.go"))
	assert.True(t, Indexable("notes.txt"))
	assert.True(t, Indexable("go.sum"))
	assert.False(t, Indexable("photo.png"))
	assert.False(t, Indexable("binary.exe"))
	assert.False(t, Indexable("Makefile"))
}

// TestHashContent tests content hashing.
func TestHashContent(t *testing.T) {
	content := []byte("hello world")
	hash1 := HashContent(content)
	hash2 := HashContent(content)
	assert.Equal(t, hash1, hash2)

	hash3 := HashContent([]byte("hello world!"))
	assert.NotEqual(t, hash1, hash3)

	// 64-bit digest rendered as 16 hex characters
	assert.Len(t, hash1, 16)
}

// TestHashFile tests that file hashing matches content hashing.
func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	content := []byte("some file content\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	hash, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, HashContent(content), hash)

	_, err = HashFile(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}

// TestChunkerSplit tests window boundaries and counts.
func TestChunkerSplit(t *testing.T) {
	c := NewChunker(800, 100)

	assert.Nil(t, c.Split(""))

	// Content smaller than a window is a single chunk.
	small := "short content"
	chunks := c.Split(small)
	require.Len(t, chunks, 1)
	assert.Equal(t, small, chunks[0])

	// 5000 bytes with 800/100 windows: starts every 700 bytes.
	content := strings.Repeat("a", 5000)
	chunks = c.Split(content)
	require.Len(t, chunks, 8)
	assert.Len(t, chunks[0], 800)
	assert.Len(t, chunks[7], 100)

	// Content exactly one window long is a single chunk.
	chunks = c.Split(strings.Repeat("b", 800))
	require.Len(t, chunks, 1)
}

// TestChunkerDeterministic tests that splitting is a pure function of the
// content.
func TestChunkerDeterministic(t *testing.T) {
	c := NewChunker(800, 100)
	content := strings.Repeat("package main\nfunc main() {}\n", 100)

	first := c.Split(content)
	second := c.Split(content)
	assert.Equal(t, first, second)
}

// TestChunkerRoundTrip tests that At reconstructs exactly what Split
// produced for every index.
func TestChunkerRoundTrip(t *testing.T) {
	c := NewChunker(800, 100)
	var b strings.Builder
	for i := 0; b.Len() < 3000; i++ {
		b.WriteString("line of source text number ")
		b.WriteByte(byte('0' + i%10))
		b.WriteByte('\n')
	}
	content := b.String()

	chunks := c.Split(content)
	require.NotEmpty(t, chunks)
	for i, want := range chunks {
		assert.Equal(t, want, c.At(content, i), "chunk %d", i)
	}

	// Out of range indexes reconstruct to empty.
	assert.Equal(t, "", c.At(content, len(chunks)+5))
	assert.Equal(t, "", c.At(content, -1))
}

// TestChunkerBounds tests the boundary formula directly.
func TestChunkerBounds(t *testing.T) {
	c := NewChunker(800, 100)

	start, end, ok := c.Bounds(5000, 0)
	require.True(t, ok)
	assert.Equal(t, 0, start)
	assert.Equal(t, 800, end)

	start, end, ok = c.Bounds(5000, 7)
	require.True(t, ok)
	assert.Equal(t, 4900, start)
	assert.Equal(t, 5000, end)

	_, _, ok = c.Bounds(5000, 8)
	assert.False(t, ok)

	_, _, ok = c.Bounds(0, 0)
	assert.False(t, ok)
}

// TestChunkerDefaults tests fallback to default sizing on bad parameters.
func TestChunkerDefaults(t *testing.T) {
	c := NewChunker(0, 0)
	assert.Equal(t, 800, c.Size())
	assert.Equal(t, 100, c.Overlap())

	c = NewChunker(100, 200)
	assert.Equal(t, 800, c.Size())
}

// TestWalkProject tests project traversal with pruning.
func TestWalkProject(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	write("main.go", "package main\n")
	write("lib/util.py", "def f():\n    pass\n")
	write("README.md", "# readme\n")
	write("image.png", "\x89PNG")
	write(".git/config", "[core]\n")
	write("node_modules/pkg/index.js", "module.exports = 1\n")
	write("__pycache__/mod.pyc", "cache")

	w, err := NewWalker(WalkOptions{Root: root})
	require.NoError(t, err)

	files, err := w.WalkProject()
	require.NoError(t, err)

	var rels []string
	for _, f := range files {
		rels = append(rels, f.RelPath)
		assert.False(t, f.Dependency)
		assert.NotEmpty(t, f.Hash)
	}
	assert.Equal(t, []string{"README.md", "lib/util.py", "main.go"}, rels)
}

// TestWalkProjectIgnorePatterns tests custom ignore patterns.
func TestWalkProjectIgnorePatterns(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.go"), []byte("package a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "skip.go"), []byte("package a\n"), 0o644))

	w, err := NewWalker(WalkOptions{Root: root, IgnorePatterns: []string{"skip.go"}})
	require.NoError(t, err)

	files, err := w.WalkProject()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "keep.go", files[0].RelPath)
}

// TestWalkProjectGitignore tests that the root .gitignore is honored.
func TestWalkProjectGitignore(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("generated.go\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "generated.go"), []byte("package a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package a\n"), 0o644))

	w, err := NewWalker(WalkOptions{Root: root, UseGitignore: true})
	require.NoError(t, err)

	files, err := w.WalkProject()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "main.go", files[0].RelPath)
}

// TestWalkProjectMaxFileSize tests the size cutoff.
func TestWalkProjectMaxFileSize(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "small.go"), []byte("package a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.go"), []byte(strings.Repeat("x", 500)), 0o644))

	w, err := NewWalker(WalkOptions{Root: root, MaxFileSize: 100})
	require.NoError(t, err)

	files, err := w.WalkProject()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "small.go", files[0].RelPath)
	assert.Equal(t, 1, w.Stats().FilesSkipped)
}

// TestWalkDependencies tests the dependency pass.
func TestWalkDependencies(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	write("main.go", "package main\n")
	write("node_modules/left-pad/index.js", "module.exports = pad\n")
	write("node_modules/left-pad/test/index.js", "test\n")
	write(".venv/lib/site.py", "import sys\n")

	w, err := NewWalker(WalkOptions{Root: root})
	require.NoError(t, err)

	files, err := w.WalkDependencies()
	require.NoError(t, err)

	var rels []string
	for _, f := range files {
		rels = append(rels, f.RelPath)
		assert.True(t, f.Dependency)
	}
	assert.Equal(t, []string{
		".venv/lib/site.py",
		"node_modules/left-pad/index.js",
	}, rels)
}

// TestWalkerBadRoot tests constructor validation.
func TestWalkerBadRoot(t *testing.T) {
	_, err := NewWalker(WalkOptions{Root: filepath.Join(t.TempDir(), "nope")})
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = NewWalker(WalkOptions{Root: file})
	assert.Error(t, err)
}
