package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"ragqa/internal/domain"
	"ragqa/internal/metrics"
)

// Retriever finds the chunks most relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]domain.RetrievedChunk, error)
}

// Components are the collaborators a RAGService orchestrates.
type Components struct {
	Chunker   domain.Chunker
	Embedder  domain.Embedder
	Store     domain.VectorStore
	Retriever Retriever
	Generator domain.Generator
	Metrics   *metrics.Tracker
	Logger    *slog.Logger
}

// RAGServiceImpl runs the upload and question-answering pipelines.
type RAGServiceImpl struct {
	chunker   domain.Chunker
	embedder  domain.Embedder
	store     domain.VectorStore
	retriever Retriever
	generator domain.Generator
	metrics   *metrics.Tracker
	logger    *slog.Logger
	topK      int
	nextDocID atomic.Int64
}

// docIDSeeder is implemented by stores that outlive the process and already
// hold documents, so new documents continue after the stored IDs.
type docIDSeeder interface {
	NextDocID() int
}

// NewRAGService assembles the service. topK is used when Ask is called with k <= 0.
func NewRAGService(c Components, topK int) *RAGServiceImpl {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewTracker(c.Store)
	}
	if topK <= 0 {
		topK = 5
	}
	s := &RAGServiceImpl{
		chunker:   c.Chunker,
		embedder:  c.Embedder,
		store:     c.Store,
		retriever: c.Retriever,
		generator: c.Generator,
		metrics:   c.Metrics,
		logger:    c.Logger,
		topK:      topK,
	}
	if seeder, ok := c.Store.(docIDSeeder); ok {
		s.nextDocID.Store(int64(seeder.NextDocID()))
	}
	return s
}

// Upload chunks, embeds and indexes each document independently. A failed
// document is reported with StatusFailed and leaves nothing in the index;
// documents before and after it are still processed. The returned error is
// non-nil only when no document succeeded.
func (s *RAGServiceImpl) Upload(ctx context.Context, docs []domain.DocumentInput) (domain.UploadResult, error) {
	if len(docs) == 0 {
		return domain.UploadResult{}, errors.New("no documents provided")
	}
	result := domain.UploadResult{Documents: make([]domain.UploadedDocument, 0, len(docs))}
	var errs []error
	for _, in := range docs {
		doc := domain.Document{
			ID:       int(s.nextDocID.Add(1) - 1),
			Filename: in.Filename,
			Content:  in.Text,
		}
		n, err := s.ingest(ctx, doc)
		entry := domain.UploadedDocument{Filename: doc.Filename, DocID: doc.ID, Status: domain.StatusProcessed, Chunks: n}
		if err != nil {
			s.logger.Error("document ingestion failed", "source", doc.Filename, "doc_id", doc.ID, "error", err)
			entry.Status = domain.StatusFailed
			entry.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", doc.Filename, err))
		} else {
			s.metrics.RecordUpload()
			s.logger.Info("document added", "source", doc.Filename, "doc_id", doc.ID, "chunks", n)
		}
		result.Documents = append(result.Documents, entry)
	}
	if len(errs) == len(docs) {
		return result, errors.Join(errs...)
	}
	return result, nil
}

func (s *RAGServiceImpl) ingest(ctx context.Context, doc domain.Document) (int, error) {
	if strings.TrimSpace(doc.Content) == "" {
		return 0, domain.ErrNoReadableText
	}
	chunks, err := s.chunker.Chunk(doc)
	if err != nil {
		return 0, fmt.Errorf("chunk: %w", err)
	}
	s.logger.Info("created chunks from document", "source", doc.Filename, "count", len(chunks))
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	// Provider calls happen before the index lock is taken.
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, domain.NewProviderError(s.embedder.Name(), "embeddings",
			fmt.Errorf("got %d embeddings for %d chunks", len(vectors), len(chunks)))
	}
	if err := s.store.Add(ctx, chunks, vectors); err != nil {
		return 0, fmt.Errorf("index chunks: %w", err)
	}
	return len(chunks), nil
}

// Ask answers query from the indexed documents using the k nearest chunks.
// Only completed queries are counted in the metrics.
func (s *RAGServiceImpl) Ask(ctx context.Context, query string, k int) (domain.Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.Answer{}, domain.ErrEmptyQuery
	}
	if k <= 0 {
		k = s.topK
	}
	start := time.Now()

	retrieved, err := s.retriever.Retrieve(ctx, query, k)
	if err != nil {
		return domain.Answer{}, err
	}
	answer, err := s.generator.Generate(ctx, query, retrieved)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("generate answer: %w", err)
	}

	latency := time.Since(start)
	s.metrics.RecordQuery(latency)
	snap := s.metrics.Snapshot()

	sources := make([]domain.Source, len(retrieved))
	for i, r := range retrieved {
		sources[i] = domain.Source{
			Source:     r.Chunk.SourceFilename,
			ChunkIndex: r.Chunk.Index,
			Snippet:    r.Snippet,
			Distance:   r.Distance,
		}
	}
	return domain.Answer{
		Answer:  answer,
		Sources: sources,
		Metrics: domain.QueryMetrics{
			LatencySeconds:    round3(latency.Seconds()),
			AvgLatencySeconds: round3(snap.AvgLatencySeconds),
			TotalQueries:      snap.TotalQueries,
		},
	}, nil
}

// Metrics returns the current process-wide metrics.
func (s *RAGServiceImpl) Metrics() domain.Metrics {
	m := s.metrics.Snapshot()
	m.AvgLatencySeconds = round3(m.AvgLatencySeconds)
	return m
}

// IndexedChunks returns the number of chunks in the vector index.
func (s *RAGServiceImpl) IndexedChunks() int { return s.store.Len() }

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
