// Package knowledge stores embedded content chunks and retrieves the ones
// nearest to a query.
package knowledge

import (
	"context"
	"sort"
	"time"
)

const (
	DefaultTopK    = 5
	DefaultTimeout = 10 * time.Second
)

// Metadata describes where a chunk came from.
type Metadata struct {
	Title       string   `json:"title,omitempty"`
	URL         string   `json:"url,omitempty"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	ChunkIndex  int      `json:"chunk_index"`
	TotalChunks int      `json:"total_chunks"`
}

// Chunk is one embedded unit of indexed content.
type Chunk struct {
	ID         string
	SourceID   string
	TenantID   string
	SourceType string
	Text       string
	Embedding  []float32
	Metadata   Metadata
	CreatedAt  time.Time
}

// Result is a retrieved chunk. Score is a similarity: higher is closer.
type Result struct {
	ChunkID string  `json:"chunk_id,omitempty"`
	Text    string  `json:"text"`
	Source  string  `json:"source,omitempty"`
	Title   string  `json:"title,omitempty"`
	Score   float64 `json:"score"`
}

// Filter narrows a search. Empty fields match everything.
type Filter struct {
	TenantID string
	SourceID string
	Category string
}

// VectorStore persists chunks and answers nearest-neighbor queries.
type VectorStore interface {
	// ReplaceSource atomically swaps all chunks of sourceID for chunks.
	ReplaceSource(ctx context.Context, sourceID string, chunks []Chunk) error
	DeleteSource(ctx context.Context, sourceID string) error
	Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]Result, error)
}

// Retriever returns the chunks most relevant to a query. Implementations
// never fail the caller: an unavailable backend yields an empty slice.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, filter Filter) []Result
}

// rank orders results by descending score, drops those without text and
// keeps at most topK.
func rank(results []Result, topK int) []Result {
	out := results[:0]
	for _, r := range results {
		if r.Text != "" {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// sourceOf picks the display source for a chunk.
func sourceOf(m Metadata) string {
	if m.URL != "" {
		return m.URL
	}
	return m.Title
}
