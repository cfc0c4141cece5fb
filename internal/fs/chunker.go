package fs

import "github.com/tanishqjotwani/picocode/internal/config"

// Chunker splits file content into fixed-size overlapping byte windows.
// Boundaries are a pure function of content length, chunk size, and overlap,
// so a chunk can be reconstructed later from the file on disk given only its
// index.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker builds a Chunker. Non-positive size or a negative overlap, or an
// overlap at or above the size, falls back to the defaults.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 || overlap < 0 || overlap >= size {
		size = config.DefaultChunkSize
		overlap = config.DefaultChunkOverlap
	}
	return &Chunker{size: size, overlap: overlap}
}

// Size returns the window size in bytes.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the window overlap in bytes.
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the chunk windows for content in order. Empty content yields
// no chunks.
func (c *Chunker) Split(content string) []string {
	if len(content) == 0 {
		return nil
	}
	step := c.size - c.overlap
	var chunks []string
	for start := 0; start < len(content); start += step {
		end := start + c.size
		if end > len(content) {
			end = len(content)
		}
		chunks = append(chunks, content[start:end])
		if end == len(content) {
			break
		}
	}
	if len(chunks) == 0 {
		chunks = []string{content}
	}
	return chunks
}

// Bounds returns the byte range [start, end) of chunk index for a file of
// contentLen bytes. ok is false when the index falls outside the content.
func (c *Chunker) Bounds(contentLen, index int) (start, end int, ok bool) {
	if index < 0 || contentLen == 0 {
		return 0, 0, false
	}
	start = index * (c.size - c.overlap)
	if start >= contentLen {
		return 0, 0, false
	}
	end = start + c.size
	if end > contentLen {
		end = contentLen
	}
	return start, end, true
}

// At reconstructs the chunk at index from content, or "" when the index is
// out of range.
func (c *Chunker) At(content string, index int) string {
	start, end, ok := c.Bounds(len(content), index)
	if !ok {
		return ""
	}
	return content[start:end]
}
