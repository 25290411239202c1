package domain

import "context"

// DocumentInput is a single extracted document handed to the upload path.
type DocumentInput struct {
	Filename string
	Text     string
}

// Document represents a single uploaded document after it has been assigned an ID.
type Document struct {
	ID       int
	Filename string
	Content  string
}

// Chunk is a bounded word-span excerpt of a document, the unit of retrieval.
type Chunk struct {
	Text           string
	DocID          int
	SourceFilename string
	Index          int
}

// VectorEntry pairs a chunk with its embedding. Entries are never mutated once stored.
type VectorEntry struct {
	Chunk  Chunk
	Vector []float64
}

// SearchResult is a stored entry together with its squared L2 distance to the query.
type SearchResult struct {
	Entry    VectorEntry
	Distance float64
}

// RetrievedChunk is a search hit prepared for citation.
type RetrievedChunk struct {
	Chunk    Chunk
	Distance float64
	Snippet  string
}

// Embedder converts free text into a numeric vector representation.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// VectorStore holds embeddings and supports nearest-neighbour search.
// Stores are append-only: there is no update or delete.
type VectorStore interface {
	Add(ctx context.Context, chunks []Chunk, vectors [][]float64) error
	Search(ctx context.Context, vector []float64, topK int) ([]SearchResult, error)
	Len() int
}

// Generator composes an answer from a query and its retrieved context.
type Generator interface {
	Name() string
	Generate(ctx context.Context, query string, chunks []RetrievedChunk) (string, error)
}
