package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"ragqa/internal/domain"
)

// DefaultSnippetLength is the number of characters of chunk text kept in a snippet.
const DefaultSnippetLength = 200

// QueryEmbedder produces query embeddings, normally through a cache.
type QueryEmbedder interface {
	EmbedCached(ctx context.Context, query string) ([]float64, error)
}

// Retriever turns a query into the top matching chunks, ready for citation.
type Retriever struct {
	embedder      QueryEmbedder
	store         domain.VectorStore
	snippetLength int
	logger        *slog.Logger
}

// New creates a Retriever. A non-positive snippetLength selects DefaultSnippetLength.
func New(embedder QueryEmbedder, store domain.VectorStore, snippetLength int, logger *slog.Logger) *Retriever {
	if snippetLength <= 0 {
		snippetLength = DefaultSnippetLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, store: store, snippetLength: snippetLength, logger: logger}
}

// Retrieve returns up to k chunks ordered by ascending distance. An empty
// index yields an empty result without contacting the embedding provider.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]domain.RetrievedChunk, error) {
	if r.store.Len() == 0 {
		r.logger.Warn("no documents indexed yet")
		return []domain.RetrievedChunk{}, nil
	}
	vec, err := r.embedder.EmbedCached(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := r.store.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	out := make([]domain.RetrievedChunk, len(hits))
	for i, h := range hits {
		out[i] = domain.RetrievedChunk{
			Chunk:    h.Entry.Chunk,
			Distance: h.Distance,
			Snippet:  Snippet(h.Entry.Chunk.Text, r.snippetLength),
		}
	}
	r.logger.Info("retrieved chunks for query", "count", len(out))
	return out, nil
}

// Snippet returns the first n characters of text, followed by "..." when text was cut.
func Snippet(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	i := 0
	for pos := range text {
		if i == n {
			return text[:pos] + "..."
		}
		i++
	}
	return text
}
