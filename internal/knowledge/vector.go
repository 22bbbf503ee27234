package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
)

// VectorBackendOpts configures a VectorBackend.
type VectorBackendOpts struct {
	Embedder embeddings.Embedder
	Store    VectorStore
	Timeout  time.Duration
}

// VectorBackend embeds the query and searches a VectorStore.
type VectorBackend struct {
	embedder embeddings.Embedder
	store    VectorStore
	timeout  time.Duration
}

// NewVectorBackend creates a VectorBackend.
func NewVectorBackend(opts VectorBackendOpts) (*VectorBackend, error) {
	if opts.Embedder == nil {
		return nil, fmt.Errorf("knowledge: vector backend: embedder is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("knowledge: vector backend: store is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &VectorBackend{embedder: opts.Embedder, store: opts.Store, timeout: opts.Timeout}, nil
}

// Retrieve implements Retriever.
func (b *VectorBackend) Retrieve(ctx context.Context, query string, topK int, filter Filter) []Result {
	if query == "" {
		return []Result{}
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	vec, err := b.embedder.EmbedQuery(ctx, query)
	if err != nil {
		log.Warn().Err(err).Msg("knowledge: embed query failed, continuing without context")
		return []Result{}
	}
	results, err := b.store.Search(ctx, vec, topK, filter)
	if err != nil {
		log.Warn().Err(err).Msg("knowledge: search failed, continuing without context")
		return []Result{}
	}
	return rank(results, topK)
}
