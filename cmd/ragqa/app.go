package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ragqa/internal/chunker"
	"ragqa/internal/config"
	"ragqa/internal/domain"
	"ragqa/internal/embedding"
	"ragqa/internal/embedding/hashing"
	embopenai "ragqa/internal/embedding/openai"
	"ragqa/internal/extract"
	"ragqa/internal/generator"
	genopenai "ragqa/internal/generator/openai"
	"ragqa/internal/metrics"
	"ragqa/internal/retriever"
	"ragqa/internal/service"
	"ragqa/internal/vectorstore/memory"
	"ragqa/internal/vectorstore/qdrant"
)

// app is the assembled pipeline plus anything that must be released on exit.
type app struct {
	cfg     *config.AppConfig
	logger  *slog.Logger
	service *service.RAGServiceImpl
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func loadConfig(path string) (*config.AppConfig, string, error) {
	if path == "" {
		return config.LoadDefault()
	}
	cfg, err := config.Load(path)
	return cfg, path, err
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// newApp loads and validates configuration, then wires every component.
func newApp(ctx context.Context, configPath string, logOut io.Writer) (*app, error) {
	cfg, path, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Log, logOut)
	logger.Debug("configuration loaded", "path", path)
	if err := extract.CheckAvailable(); err != nil {
		logger.Warn("PDF uploads will fail", "error", err, "hint", extract.InstallInstructions())
	}

	a := &app{cfg: cfg, logger: logger}

	ch, err := buildChunker(cfg.Chunker)
	if err != nil {
		return nil, err
	}
	emb, err := buildEmbedder(cfg.Embedder, logger)
	if err != nil {
		return nil, err
	}
	cached, err := embedding.NewCachedEmbedder(emb, cfg.Embedder.CacheCapacity, logger)
	if err != nil {
		return nil, err
	}
	store, err := buildStore(ctx, cfg.VectorStore, emb.Dimension(), a)
	if err != nil {
		return nil, err
	}
	gen, err := buildGenerator(cfg.Generator, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.service = service.NewRAGService(service.Components{
		Chunker:   ch,
		Embedder:  cached,
		Store:     store,
		Retriever: retriever.New(cached, store, cfg.Retrieval.SnippetLength, logger),
		Generator: gen,
		Metrics:   metrics.NewTracker(store),
		Logger:    logger,
	}, cfg.Retrieval.TopK)

	logger.Info("pipeline ready",
		"chunker", cfg.Chunker.Type,
		"embedder", emb.Name(),
		"dimension", emb.Dimension(),
		"generator", gen.Name(),
		"vector_store", cfg.VectorStore.Type,
	)
	return a, nil
}

func buildChunker(cfg config.ChunkerConfig) (domain.Chunker, error) {
	switch cfg.Type {
	case "sentence":
		return chunker.NewSentenceChunker(cfg.ChunkSize, cfg.Overlap)
	default:
		return chunker.NewWordChunker(cfg.ChunkSize, cfg.Overlap)
	}
}

// buildEmbedder falls back to the offline hashing embedder when the OpenAI
// key is missing, so the pipeline still answers from local documents.
func buildEmbedder(cfg config.EmbedderConfig, logger *slog.Logger) (domain.Embedder, error) {
	if cfg.Type == "hashing" {
		return hashing.NewEmbedder(cfg.Dimension), nil
	}
	client, err := embopenai.NewClient(embopenai.Config{
		BaseURL:           cfg.OpenAI.BaseURL,
		APIKeyEnv:         cfg.OpenAI.APIKeyEnv,
		Model:             cfg.OpenAI.Model,
		Dimension:         cfg.Dimension,
		Timeout:           time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
		BatchSize:         cfg.OpenAI.BatchSize,
		Concurrency:       cfg.OpenAI.Concurrency,
		RequestsPerSecond: cfg.OpenAI.RequestsPerSecond,
	})
	if errors.Is(err, domain.ErrConfiguration) {
		logger.Warn("no embedding API key, using offline hashing embedder", "env", cfg.OpenAI.APIKeyEnv)
		return hashing.NewEmbedder(cfg.Dimension), nil
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}

func buildGenerator(cfg config.GeneratorConfig, logger *slog.Logger) (domain.Generator, error) {
	if cfg.Type == "extractive" {
		return generator.NewExtractive(cfg.MaxSentences), nil
	}
	client, err := genopenai.NewClient(genopenai.Config{
		BaseURL:           cfg.OpenAI.BaseURL,
		APIKeyEnv:         cfg.OpenAI.APIKeyEnv,
		Model:             cfg.OpenAI.Model,
		Temperature:       cfg.OpenAI.Temperature,
		MaxTokens:         cfg.OpenAI.MaxTokens,
		Timeout:           time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
		RequestsPerSecond: cfg.OpenAI.RequestsPerSecond,
	})
	if errors.Is(err, domain.ErrConfiguration) {
		logger.Warn("no LLM API key, using extractive generator", "env", cfg.OpenAI.APIKeyEnv)
		return generator.NewExtractive(cfg.MaxSentences), nil
	}
	if err != nil {
		return nil, err
	}
	return generator.NewAdapter(client, logger), nil
}

func buildStore(ctx context.Context, cfg config.VectorStoreConfig, dimension int, a *app) (domain.VectorStore, error) {
	switch cfg.Type {
	case "qdrant":
		s, err := qdrant.NewStorage(ctx, qdrant.Config{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Qdrant.Collection,
			Dimension:  dimension,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return memory.NewStorage(dimension), nil
	}
}

// readDocuments loads files from disk the same way the HTTP upload does.
func readDocuments(ctx context.Context, paths []string) ([]domain.DocumentInput, error) {
	docs := make([]domain.DocumentInput, 0, len(paths))
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		name := filepath.Base(p)
		text, err := extract.Text(ctx, name, content)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: %s", domain.ErrNoReadableText, p)
		}
		docs = append(docs, domain.DocumentInput{Filename: name, Text: text})
	}
	return docs, nil
}

// ingest uploads files and returns a one-line summary for display.
func (a *app) ingest(ctx context.Context, paths []string) (string, error) {
	docs, err := readDocuments(ctx, paths)
	if err != nil {
		return "", err
	}
	res, err := a.service.Upload(ctx, docs)
	if err != nil {
		return "", err
	}
	processed := 0
	for _, d := range res.Documents {
		if d.Status == domain.StatusProcessed {
			processed++
		} else {
			a.logger.Warn("document skipped", "source", d.Filename, "error", d.Error)
		}
	}
	return fmt.Sprintf("Indexed %d chunks from %d/%d files", a.service.IndexedChunks(), processed, len(docs)), nil
}
