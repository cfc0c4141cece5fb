package store

import (
	"context"
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanishqjotwani/picocode/internal/writer"
)

// newTestStore opens a store backed by a fresh writer queue.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	reg := writer.NewRegistry(writer.Options{})
	t.Cleanup(reg.StopAll)

	s, err := Open(path, reg.Get(path))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testFile(path string) FileRecord {
	return FileRecord{
		Path:     path,
		Language: "go",
		Hash:     "abc123",
		Size:     100,
		ModTime:  time.Now(),
	}
}

// TestUpsertFile tests that re-upserting a path keeps its id.
func TestUpsertFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.UpsertFile(ctx, testFile("main.go"))
	require.NoError(t, err)
	require.Greater(t, id1, int64(0))

	f := testFile("main.go")
	f.Hash = "def456"
	f.ChunkCount = 3
	id2, err := s.UpsertFile(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	got, err := s.GetFileByPath("main.go")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "def456", got.Hash)
	assert.Equal(t, 3, got.ChunkCount)

	missing, err := s.GetFileByPath("nope.go")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// TestInsertChunkAndSearch tests vector round-trip and result ordering.
func TestInsertChunkAndSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fileID, err := s.UpsertFile(ctx, testFile("main.go"))
	require.NoError(t, err)

	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.9, 0.1, 0, 0},
	}
	for i, vec := range vectors {
		require.NoError(t, s.InsertChunk(ctx, fileID, i, vec))
	}

	hits, err := s.Search([]float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	// Closest match first, scores descending.
	assert.Equal(t, 0, hits[0].ChunkIndex)
	assert.Equal(t, 2, hits[1].ChunkIndex)
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
	assert.Equal(t, "main.go", hits[0].Path)
}

// TestSearchEmptyStore tests that a store with no vectors returns no hits.
func TestSearchEmptyStore(t *testing.T) {
	s := newTestStore(t)

	hits, err := s.Search([]float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Nil(t, hits)
}

// TestDimensionMismatch tests that a wrong-width vector is rejected without
// mutating the store.
func TestDimensionMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fileID, err := s.UpsertFile(ctx, testFile("main.go"))
	require.NoError(t, err)

	require.NoError(t, s.InsertChunk(ctx, fileID, 0, []float32{1, 0, 0, 0}))

	err = s.InsertChunk(ctx, fileID, 1, []float32{1, 0, 0})
	require.ErrorIs(t, err, ErrDimensionMismatch)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Chunks)

	// A mismatched query is rejected too.
	_, err = s.Search([]float32{1, 0}, 5)
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

// TestClearResetsDimensions tests that Clear lets the store accept a new
// embedding width.
func TestClearResetsDimensions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fileID, err := s.UpsertFile(ctx, testFile("main.go"))
	require.NoError(t, err)
	require.NoError(t, s.InsertChunk(ctx, fileID, 0, []float32{1, 0, 0, 0}))

	dim, err := s.Dimensions()
	require.NoError(t, err)
	assert.Equal(t, 4, dim)

	require.NoError(t, s.Clear(ctx))

	dim, err = s.Dimensions()
	require.NoError(t, err)
	assert.Equal(t, 0, dim)

	// A different width is accepted after a clear.
	fileID, err = s.UpsertFile(ctx, testFile("main.go"))
	require.NoError(t, err)
	require.NoError(t, s.InsertChunk(ctx, fileID, 0, []float32{1, 0, 0, 0, 0, 0, 0, 0}))

	dim, err = s.Dimensions()
	require.NoError(t, err)
	assert.Equal(t, 8, dim)
}

// TestDeleteFileChunks tests re-chunk preparation.
func TestDeleteFileChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fileID, err := s.UpsertFile(ctx, testFile("main.go"))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.InsertChunk(ctx, fileID, i, []float32{float32(i), 0, 0, 0}))
	}

	require.NoError(t, s.DeleteFileChunks(ctx, fileID))

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, st.Chunks)
	assert.Equal(t, 1, st.Files)

	hits, err := s.Search([]float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

// TestDeleteFile tests full file removal.
func TestDeleteFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fileID, err := s.UpsertFile(ctx, testFile("gone.go"))
	require.NoError(t, err)
	require.NoError(t, s.InsertChunk(ctx, fileID, 0, []float32{1, 0, 0, 0}))

	require.NoError(t, s.DeleteFile(ctx, fileID))

	got, err := s.GetFileByPath("gone.go")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// TestReplaceDependencies tests wholesale swap per transitivity class.
func TestReplaceDependencies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	direct := []Dependency{
		{Name: "requests", Version: "2.31.0", Language: "python"},
		{Name: "flask", Version: "3.0.0", Language: "python"},
	}
	require.NoError(t, s.ReplaceDependencies(ctx, direct, false))

	transitive := []Dependency{
		{Name: "urllib3", Version: "2.1.0", Language: "python"},
	}
	require.NoError(t, s.ReplaceDependencies(ctx, transitive, true))

	all, err := s.ListDependencies(nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// Replacing direct deps does not touch transitive ones.
	require.NoError(t, s.ReplaceDependencies(ctx, []Dependency{
		{Name: "httpx", Version: "0.27.0", Language: "python"},
	}, false))

	f := false
	directOnly, err := s.ListDependencies(&f)
	require.NoError(t, err)
	require.Len(t, directOnly, 1)
	assert.Equal(t, "httpx", directOnly[0].Name)

	tr := true
	transitiveOnly, err := s.ListDependencies(&tr)
	require.NoError(t, err)
	require.Len(t, transitiveOnly, 1)
	assert.Equal(t, "urllib3", transitiveOnly[0].Name)
}

// TestStats tests store summaries.
func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f1 := testFile("main.go")
	f1.Size = 100
	f2 := testFile("util.py")
	f2.Language = "python"
	f2.Size = 200

	id1, err := s.UpsertFile(ctx, f1)
	require.NoError(t, err)
	_, err = s.UpsertFile(ctx, f2)
	require.NoError(t, err)
	require.NoError(t, s.InsertChunk(ctx, id1, 0, []float32{1, 0, 0, 0}))

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, st.Files)
	assert.Equal(t, 1, st.Chunks)
	assert.Equal(t, int64(300), st.TotalBytes)
	assert.Equal(t, map[string]int{"go": 1, "python": 1}, st.Languages)
	assert.Equal(t, 4, st.Dimensions)
}

// TestMetaBatch tests multi-key metadata writes.
func TestMetaBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetMetaBatch(ctx, map[string]string{
		"embedding_model": "text-embedding-3-small",
		"indexed_by":      "picocode",
	}))

	model, err := s.GetMeta("embedding_model")
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-small", model)

	missing, err := s.GetMeta("absent")
	require.NoError(t, err)
	assert.Equal(t, "", missing)
}

// deserializeEmbedding reverses the sqlite-vec blob encoding.
func deserializeEmbedding(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

// TestSerializeRoundTrip tests the sqlite-vec blob format.
func TestSerializeRoundTrip(t *testing.T) {
	vec := []float32{0.1, -2.5, 3.75, 0}
	blob := serializeEmbedding(vec)
	assert.Len(t, blob, 16)
	assert.Equal(t, vec, deserializeEmbedding(blob))
}
